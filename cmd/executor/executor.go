package executor

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	logger "github.com/sirupsen/logrus"

	"strategyexecutor/src/archive"
	"strategyexecutor/src/broker"
	"strategyexecutor/src/bus"
	"strategyexecutor/src/eod"
	"strategyexecutor/src/execution"
	"strategyexecutor/src/metrics"
	"strategyexecutor/src/oco"
	"strategyexecutor/src/ratelimit"
	"strategyexecutor/src/scheduler"
	"strategyexecutor/src/security"
	"strategyexecutor/src/server"
	"strategyexecutor/src/store"
	"strategyexecutor/src/supervisor"
	"strategyexecutor/src/watcher"
)

// Executor is the `serve` command: it resolves the active broker
// account, wires every component into one Supervisor, and blocks until
// SIGINT/SIGTERM.
type Executor struct{}

func (t *Executor) Start() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.NewEntry(logger.StandardLogger())

	sv, err := Build(log)
	if err != nil {
		return err
	}
	defer func() {
		if err := sv.Close(); err != nil {
			log.WithError(err).Warn("closing supervisor")
		}
	}()

	log.Info("starting strategy executor")
	return sv.Run(ctx)
}

// Build resolves the active broker account and wires every component
// into one Supervisor from env config — the shared construction path
// every cmd/ subcommand that touches the Supervisor (serve,
// create-batch, panic-stop) goes through, so they always see the same
// wiring.
func Build(log *logger.Entry) (*supervisor.Supervisor, error) {
	s, err := store.Open(store.GetConfig())
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	account, err := s.GetActiveAccount()
	if err != nil {
		return nil, fmt.Errorf("resolving active broker account: %w", err)
	}
	if account == nil {
		return nil, fmt.Errorf("no active broker account configured; seed one in broker_accounts first")
	}

	box, err := security.NewBox(security.GetConfig().CredentialsKeyB64)
	if err != nil {
		return nil, fmt.Errorf("building credentials box: %w", err)
	}

	sv, err := supervisor.New(
		s, account, box,
		broker.GetConfig(),
		ratelimit.GetConfig(),
		scheduler.GetConfig(),
		execution.GetConfig(),
		watcher.GetConfig(),
		oco.GetConfig(),
		eod.GetConfig(),
		bus.GetConfig(),
		archive.GetConfig(),
		server.GetConfig(),
		supervisor.GetConfig(),
		metrics.New(),
		log,
	)
	if err != nil {
		return nil, fmt.Errorf("building supervisor: %w", err)
	}
	return sv, nil
}
