// Package migrate is the `migrate` command: it opens the Store, which
// runs GORM's AutoMigrate over every model on connect, and exits. Kept
// as its own command rather than folded into `serve` so an operator can
// run schema migrations ahead of a deploy without starting the
// Supervisor's component set.
package migrate

import (
	"fmt"

	logger "github.com/sirupsen/logrus"

	"strategyexecutor/src/store"
)

func Run() error {
	log := logger.NewEntry(logger.StandardLogger())

	s, err := store.Open(store.GetConfig())
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() {
		sqlDB, err := s.DB().DB()
		if err != nil {
			log.WithError(err).Warn("resolving underlying db handle")
			return
		}
		if err := sqlDB.Close(); err != nil {
			log.WithError(err).Warn("closing store")
		}
	}()

	log.Info("schema migrated")
	return nil
}
