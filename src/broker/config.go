package broker

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config is the Broker Adapter's own tuning surface, shaped like every
// other package's envconfig.Config in this module.
type Config struct {
	BaseURL        string        `envconfig:"BROKER_BASE_URL" default:"http://localhost:18080"`
	RequestTimeout time.Duration `envconfig:"BROKER_REQUEST_TIMEOUT" default:"5s"`
	RetryAttempts  int           `envconfig:"BROKER_RETRY_ATTEMPTS" default:"3"`
	RetryBaseDelay time.Duration `envconfig:"BROKER_RETRY_BASE_DELAY" default:"500ms"`
	RetryMaxDelay  time.Duration `envconfig:"BROKER_RETRY_MAX_DELAY" default:"2s"`
}

func GetConfig() Config {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return cfg
}
