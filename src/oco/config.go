package oco

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Mode selects when the OCO Manager opens a bracket against a newly
// observed fill (spec.md §6 oco.mode).
type Mode string

const (
	// ModePerPartial brackets every fill-qty delta as soon as it is
	// observed, even while the entry is still ENTRY_PARTIAL, opening one
	// OCO group per delta (spec.md §4.5's default mode).
	ModePerPartial Mode = "per_partial"
	// ModePostComplete waits for the entry to reach ENTRY_FILLED (or
	// ENTRY_FILLED_WAIT_PRICE) and opens exactly one group for the whole
	// filled quantity, reproducing a single-bracket-per-item behavior.
	ModePostComplete Mode = "post_complete"
)

type Config struct {
	TickPeriod time.Duration `envconfig:"OCO_TICK_PERIOD" default:"3s"`
	Mode       Mode          `envconfig:"OCO_MODE" default:"per_partial"`
}

func GetConfig() Config {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return cfg
}
