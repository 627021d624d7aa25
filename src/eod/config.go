package eod

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// TriggerTime is the default wall-clock "HH:MM" close time that
	// create-batch gives a batch whose plan leaves eod_close_time empty. The
	// EOD Closer compares the clock against each batch's own EodCloseTime
	// and force-closes RUNNING or PAUSED batches with eod_force_close set.
	TriggerTime string `envconfig:"EOD_TRIGGER_TIME" default:"14:30"`
	// CancelWaitMs bounds how long CancelBrackets waits for a bracket
	// leg's cancel to confirm terminal before closing the OCO group
	// regardless (spec.md §4.6 cancel.wait_ms).
	CancelWaitMs time.Duration `envconfig:"EOD_CANCEL_WAIT_MS" default:"3000ms"`
}

func GetConfig() Config {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return cfg
}
