package security

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Config has no default for the key: a deployment without
// BROKER_CREDENTIALS_KEY set must fail fast rather than encrypt secrets
// under a value checked into this source tree.
type Config struct {
	CredentialsKeyB64 string `envconfig:"BROKER_CREDENTIALS_KEY" required:"true"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
