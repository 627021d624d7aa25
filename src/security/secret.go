package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Box wraps an AES-GCM cipher for at-rest encryption of the broker API
// password (spec.md §9: "the API password should be stored encrypted at
// rest; decryption happens once at Supervisor init").
type Box struct {
	gcm cipher.AEAD
}

// minKeyMaterialLen is the minimum decoded length BROKER_CREDENTIALS_KEY
// must meet before it's trusted as key material at all.
const minKeyMaterialLen = 16

// hkdfInfo domain-separates the derived AES key from any other secret
// this key material might ever be reused to derive.
const hkdfInfo = "strategyexecutor-broker-credentials-aes256"

// NewBox builds a Box from base64-encoded key material sourced from
// Config. Rather than requiring exactly 32 raw bytes the way the
// teacher's ExchangeCRKey did, the material is run through
// golang.org/x/crypto/hkdf (SHA-256) to derive the actual AES-256 key —
// the standard way to turn arbitrary-length secret material into a
// correctly-sized, uniformly-distributed cipher key.
func NewBox(keyB64 string) (*Box, error) {
	secret, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		return nil, fmt.Errorf("decoding credentials key: %w", err)
	}
	if len(secret) < minKeyMaterialLen {
		return nil, fmt.Errorf("credentials key material too short: need at least %d bytes, got %d", minKeyMaterialLen, len(secret))
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("deriving AES key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("building AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("building GCM: %w", err)
	}
	return &Box{gcm: gcm}, nil
}

// Encrypt returns the nonce and ciphertext, base64-encoded, suitable for
// BrokerAccount.PasswordEncNonce / PasswordEnc.
func (b *Box) Encrypt(plaintext string) (nonceB64, ciphertextB64 string, err error) {
	nonce := make([]byte, b.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", "", fmt.Errorf("generating nonce: %w", err)
	}
	ciphertext := b.gcm.Seal(nil, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(nonce), base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt reverses Encrypt.
func (b *Box) Decrypt(nonceB64, ciphertextB64 string) (string, error) {
	nonce, err := base64.StdEncoding.DecodeString(nonceB64)
	if err != nil {
		return "", fmt.Errorf("decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return "", fmt.Errorf("decoding ciphertext: %w", err)
	}
	plaintext, err := b.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypting: %w", err)
	}
	return string(plaintext), nil
}
