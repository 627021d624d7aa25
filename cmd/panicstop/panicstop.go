// Package panicstop is the `panic-stop` command: an operator's kill
// switch, force-flattening every open item across every running batch
// (spec.md §4.6 step 4's manual override, exposed at the process level
// rather than buried behind a REST admin surface per SPEC_FULL.md's
// explicit exclusion of a UI layer).
package panicstop

import (
	"context"
	"fmt"

	logger "github.com/sirupsen/logrus"

	"strategyexecutor/cmd/executor"
)

// Run force-closes every open item in every running batch, tagging the
// audit trail with reason.
func Run(reason string) error {
	log := logger.NewEntry(logger.StandardLogger())

	sv, err := executor.Build(log)
	if err != nil {
		return err
	}
	defer func() {
		if err := sv.Close(); err != nil {
			log.WithError(err).Warn("closing supervisor")
		}
	}()

	if reason == "" {
		reason = "operator panic-stop"
	}
	if err := sv.PanicStopAll(context.Background(), "cli-operator", reason); err != nil {
		return fmt.Errorf("panic stop: %w", err)
	}
	log.Warn("panic stop issued to every open item")
	return nil
}
