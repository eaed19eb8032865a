// Command burst-rminer is a pool-based proof-of-capacity Burst miner: it
// loads a JSON configuration, discovers plot files, and runs one mining
// worker per plot folder against a single pool.
//
// Grounded on stratum/client.go's Serve (blocking forever after wiring
// goroutines) and miner/btcMiner.go's top-level main loop, restructured
// around urfave/cli/v2 for flag parsing the way cmd/geth does in the
// go-ethereum example.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/Polyomino/burst-rminer/internal/config"
	"github.com/Polyomino/burst-rminer/internal/plots"
	"github.com/Polyomino/burst-rminer/internal/pool"
	"github.com/Polyomino/burst-rminer/internal/worker"
)

const defaultConfigPath = "./config.json"

func main() {
	app := newApp()

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "rust-miner [-config={ path_to_config }")
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "burst-rminer",
		Usage: "rust-miner [-config={ path_to_config }",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Value: defaultConfigPath,
				Usage: "path to the JSON configuration file",
			},
		},
		Action: run,
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if level, lerr := logrus.ParseLevel(cfg.LogLevel); lerr == nil {
		logrus.SetLevel(level)
	}

	folders, err := plots.Discover(cfg.PlotFolders)
	if err != nil {
		return fmt.Errorf("discovering plot folders: %w", err)
	}

	totalPlots := 0
	for _, f := range folders {
		totalPlots += len(f.Plots)
	}
	logrus.WithFields(logrus.Fields{
		"folders": len(folders),
		"plots":   totalPlots,
	}).Info("discovered plot catalog")

	client := pool.NewClient(cfg.PoolURL)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	for _, folder := range folders {
		w := worker.NewFolder(folder, client, cfg)
		go w.Run(ctx)
	}

	go client.Run(ctx)

	logrus.WithField("pool_url", cfg.PoolURL).Info("miner started")

	<-ctx.Done()
	logrus.Info("shutdown signal received, stopping")

	return nil
}
