package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/phuslu/log"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/spatial/r3"
	"nuha.dev/trackpoint/internal/client"
	"nuha.dev/trackpoint/internal/metrics"
	"nuha.dev/trackpoint/internal/mobility"
	"nuha.dev/trackpoint/internal/transport/stream"
	"nuha.dev/trackpoint/internal/transport/udp"
	"nuha.dev/trackpoint/internal/vclock"
)

type link interface {
	Send(p []byte) error
	LocalAddr() string
	ReadAcks(ctx context.Context, fn func([]byte)) error
	Close() error
}

func deviceCmd() *cobra.Command {
	var target, via, static string
	var speed float64
	cmd := &cobra.Command{
		Use:   "device",
		Short: "Run one tracking device against a collector",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			setLogLevel(cfg.Client.LogLevel)

			var l link
			switch via {
			case "udp":
				l, err = udp.Dial(target)
			case "stream":
				l, err = stream.Dial(target)
			default:
				return fmt.Errorf("unknown transport %q", via)
			}
			if err != nil {
				return err
			}
			defer l.Close()

			rt := vclock.NewRealtime(256)
			var src mobility.Source
			if static != "" {
				v, err := parseVec(static)
				if err != nil {
					return err
				}
				src = mobility.Static{Pos: v}
			} else {
				src = mobility.NewRandomWaypoint(cfg.Collector.Area, speed, cfg.Client.Seed, rt.Now)
			}

			ctx, cancel := signalContext()
			defer cancel()

			host := client.NewHost(rt)
			h, err := host.Start(l.LocalAddr(), cfg.Client, client.DeviceParam{
				Source:   src,
				Link:     l,
				Observer: metrics.New(),
			})
			if err != nil {
				return err
			}
			dev, _ := host.Device(h)
			go l.ReadAcks(ctx, func(b []byte) {
				if !rt.Submit(func() { dev.HandleAck(b) }) {
					log.Warn().Str("device", dev.Name()).Msg("ack dropped, scheduler queue full")
				}
			})

			rt.Run(ctx)
			st := dev.Stats()
			log.Info().Str("device", dev.Name()).Uint64("samples", st.Samples).Uint64("sent", st.Sent).Uint64("lost", st.Lost).Uint64("acked", st.Acked).Int("buffered", dev.Buffer().Len()).Msg("device stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "collector", "127.0.0.1:7700", "collector address")
	cmd.Flags().StringVar(&via, "transport", "udp", "udp or stream")
	cmd.Flags().StringVar(&static, "static", "", "fixed position x,y,z instead of random waypoints")
	cmd.Flags().Float64Var(&speed, "speed", 5, "random waypoint speed in m/s")
	return cmd
}

func parseVec(s string) (r3.Vec, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return r3.Vec{}, fmt.Errorf("position %q: want x,y,z", s)
	}
	var f [3]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return r3.Vec{}, fmt.Errorf("position %q: %w", s, err)
		}
		f[i] = v
	}
	return r3.Vec{X: f[0], Y: f[1], Z: f[2]}, nil
}
