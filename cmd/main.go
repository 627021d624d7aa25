package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"strategyexecutor/cmd/createbatch"
	"strategyexecutor/cmd/executor"
	"strategyexecutor/cmd/migrate"
	"strategyexecutor/cmd/panicstop"
)

var Version string

func main() {
	app := cli.NewApp()
	app.Name = "strategyexecutor"
	app.Usage = "Intraday execution controller"
	app.Version = Version

	app.Commands = []cli.Command{
		serveCMD,
		createBatchCMD,
		panicStopCMD,
		migrateCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	serveCMD = cli.Command{
		Name:        "serve",
		Usage:       "run the execution controller (scheduler, execution engine, watcher, OCO manager, EOD closer, archiver, HTTP surface)",
		Action:      serveAction,
		Description: `Wires every component from env config and blocks until SIGINT/SIGTERM.`,
	}
	createBatchCMD = cli.Command{
		Name:      "create-batch",
		Usage:     "create a batch job and its items from a JSON plan",
		Action:    createBatchAction,
		ArgsUsage: "<plan.json>",
		Description: `Reads a JSON file describing a batch job plus its items and
creates it via the same entry point the Scheduler watches.`,
	}
	panicStopCMD = cli.Command{
		Name:   "panic-stop",
		Usage:  "force-close every open item in every running batch",
		Action: panicStopAction,
		Flags: []cli.Flag{
			cli.StringFlag{Name: "reason", Usage: "audit trail reason"},
		},
	}
	migrateCMD = cli.Command{
		Name:        "migrate",
		Usage:       "apply schema migrations and exit",
		Action:      migrateAction,
		Description: `Opens the store, which runs AutoMigrate on connect, then exits.`,
	}
)

func serveAction(_ *cli.Context) error {
	logrus.WithField("cmd", "serve").Info("starting")
	if err := (&executor.Executor{}).Start(); err != nil {
		logrus.WithError(err).Error("serve")
		return err
	}
	return nil
}

func createBatchAction(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return fmt.Errorf("usage: create-batch <plan.json>")
	}
	logrus.WithField("cmd", "create-batch").WithField("path", path).Info("starting")
	if err := createbatch.Run(path); err != nil {
		logrus.WithError(err).Error("create-batch")
		return err
	}
	return nil
}

func panicStopAction(c *cli.Context) error {
	logrus.WithField("cmd", "panic-stop").Warn("starting")
	if err := panicstop.Run(c.String("reason")); err != nil {
		logrus.WithError(err).Error("panic-stop")
		return err
	}
	return nil
}

func migrateAction(_ *cli.Context) error {
	logrus.WithField("cmd", "migrate").Info("starting")
	if err := migrate.Run(); err != nil {
		logrus.WithError(err).Error("migrate")
		return err
	}
	return nil
}
