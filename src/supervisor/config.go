package supervisor

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config tunes how long the Supervisor waits for the long-running loops
// (Scheduler, Execution Engine, Watcher, OCO Manager, EOD Closer) to
// notice ctx cancellation during Run's shutdown.
type Config struct {
	ShutdownTimeout        time.Duration `envconfig:"SUPERVISOR_SHUTDOWN_TIMEOUT" default:"10s"`
	MetricsRefreshInterval time.Duration `envconfig:"SUPERVISOR_METRICS_REFRESH_INTERVAL" default:"15s"`
}

func GetConfig() Config {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return cfg
}
