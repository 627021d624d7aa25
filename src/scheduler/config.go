package scheduler

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	TickPeriod  time.Duration `envconfig:"SCHEDULER_TICK_PERIOD" default:"5s"`
	GraceWindow time.Duration `envconfig:"SCHEDULER_GRACE_WINDOW" default:"5m"`
}

func GetConfig() Config {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return cfg
}
