package security

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() string {
	return base64.StdEncoding.EncodeToString(make([]byte, 32))
}

func TestBox_EncryptDecrypt_RoundTrip(t *testing.T) {
	box, err := NewBox(testKey())
	require.NoError(t, err)

	nonce, ciphertext, err := box.Encrypt("super-secret-password")
	require.NoError(t, err)
	assert.NotEmpty(t, nonce)
	assert.NotEmpty(t, ciphertext)

	plaintext, err := box.Decrypt(nonce, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "super-secret-password", plaintext)
}

func TestBox_Decrypt_WrongNonceFails(t *testing.T) {
	box, err := NewBox(testKey())
	require.NoError(t, err)

	_, ciphertext, err := box.Encrypt("super-secret-password")
	require.NoError(t, err)

	otherNonce, _, err := box.Encrypt("unrelated")
	require.NoError(t, err)

	_, err = box.Decrypt(otherNonce, ciphertext)
	assert.Error(t, err)
}

func TestNewBox_InvalidKeyLength(t *testing.T) {
	_, err := NewBox(base64.StdEncoding.EncodeToString([]byte("too-short")))
	assert.Error(t, err)
}
