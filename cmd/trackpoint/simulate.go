package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"nuha.dev/trackpoint/internal/metrics"
	"nuha.dev/trackpoint/internal/sim"
	"nuha.dev/trackpoint/internal/util"
)

func simulateCmd() *cobra.Command {
	var devices int
	var seed int64
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run devices and a collector on a virtual clock and report reconstruction error",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("devices") {
				cfg.Sim.Devices = devices
			}
			if cmd.Flags().Changed("seed") {
				cfg.Sim.Seed = seed
			}
			setLogLevel(cfg.Collector.LogLevel)
			runID := util.GenUUID()

			ctx, cancel := signalContext()
			defer cancel()
			st, err := openStores(ctx, cfg.Store, runID)
			if err != nil {
				return err
			}
			m := metrics.New()
			s, err := sim.New(sim.Param{
				Devices:           cfg.Sim.Devices,
				Duration:          cfg.Sim.Duration,
				Seed:              cfg.Sim.Seed,
				Latency:           cfg.Sim.Latency,
				Speed:             cfg.Sim.Speed,
				Client:            cfg.Client,
				Collector:         cfg.Collector,
				Store:             st.put,
				Events:            st.events,
				ClientObserver:    m,
				CollectorObserver: m,
			})
			if err != nil {
				return err
			}
			report := s.Run()
			cancel()
			st.drain()

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
	cmd.Flags().IntVar(&devices, "devices", 0, "number of devices")
	cmd.Flags().Int64Var(&seed, "seed", 0, "random seed")
	return cmd
}
