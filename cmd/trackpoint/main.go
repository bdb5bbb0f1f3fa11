package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/phuslu/log"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"nuha.dev/trackpoint/internal/config"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "trackpoint",
		Short: "Checkpointed position reporting",
		Long: `trackpoint runs tracking devices and the collector that rebuilds their
trajectories from lossy, acknowledged batches.

Commands:
  collector  ingest batches over UDP and TCP, serve the query API
  device     run one device against a collector
  simulate   run devices and a collector on a virtual clock
  initdb     create database tables`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ./trackpoint.yaml)")

	rootCmd.AddCommand(collectorCmd())
	rootCmd.AddCommand(deviceCmd())
	rootCmd.AddCommand(simulateCmd())
	rootCmd.AddCommand(initdbCmd())

	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}

func setLogLevel(level string) {
	if level == "" {
		return
	}
	log.DefaultLogger.Level = log.ParseLevel(level)
	if zl, err := zerolog.ParseLevel(level); err == nil {
		zerolog.SetGlobalLevel(zl)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
