package main

import (
	"context"
	"sync"

	"github.com/phuslu/log"
	"github.com/spf13/cobra"
	"nuha.dev/trackpoint/internal/metrics"
	"nuha.dev/trackpoint/internal/server"
	"nuha.dev/trackpoint/internal/sublist"
	"nuha.dev/trackpoint/internal/transport"
	"nuha.dev/trackpoint/internal/transport/stream"
	"nuha.dev/trackpoint/internal/transport/udp"
	"nuha.dev/trackpoint/internal/util"
	"nuha.dev/trackpoint/internal/web"
	"nuha.dev/trackpoint/internal/webstream"
)

// replier routes an ack back over the transport the batch came in on.
type replier struct {
	udp    *udp.Server
	stream *stream.Server
}

func (r *replier) Reply(dst string, p []byte) error {
	if r.stream != nil {
		if err := r.stream.Reply(dst, p); err == nil {
			return nil
		}
	}
	return r.udp.Reply(dst, p)
}

func collectorCmd() *cobra.Command {
	var listen, streamAddr, apiAddr string
	cmd := &cobra.Command{
		Use:   "collector",
		Short: "Ingest batches and serve reconstructed trajectories",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("listen") {
				cfg.Collector.ListenAddr = listen
			}
			if cmd.Flags().Changed("stream") {
				cfg.Collector.StreamAddr = streamAddr
			}
			if cmd.Flags().Changed("api") {
				cfg.Api.ListenAddr = apiAddr
			}
			setLogLevel(cfg.Collector.LogLevel)
			runID := util.GenUUID()
			logger := log.DefaultLogger
			logger.Context = log.NewContext(nil).Str("module", "main").Str("run_id", runID).Value()

			ctx, cancel := signalContext()
			defer cancel()

			st, err := openStores(ctx, cfg.Store, runID)
			if err != nil {
				return err
			}
			m := metrics.New()
			subs := sublist.NewSublistMap()

			usrv, err := udp.Listen(cfg.Collector.ListenAddr, cfg.Collector.InboxSize)
			if err != nil {
				return err
			}
			rep := &replier{udp: usrv}
			coll := server.NewCollector(cfg.Collector, &server.CollectorParam{
				Replier:  rep,
				Store:    st.put,
				Events:   st.events,
				Sublist:  subs,
				Observer: m,
			})
			usrv.OnDrop(coll.DroppedDatagram)

			// stream lines share the udp inbox so the collector keeps a single consumer
			inbox := make(chan transport.Datagram, cfg.Collector.InboxSize)
			if cfg.Collector.StreamAddr != "" {
				rep.stream = stream.NewServer(cfg.Collector.StreamAddr, inbox, coll.DroppedDatagram)
				if err := rep.stream.TrustProxies(cfg.Collector.TrustedProxies); err != nil {
					return err
				}
				if err := rep.stream.Listen(); err != nil {
					return err
				}
			}

			api := web.NewApi(&web.ApiParam{
				Collector: coll,
				Reader:    st.reader,
				Metrics:   m.Handler(),
				Stream:    webstream.NewWebstream(subs),
			}, &cfg.Api)

			wg := sync.WaitGroup{}
			run := func(name string, fn func(context.Context) error) {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if err := fn(ctx); err != nil {
						logger.Error().Err(err).Str("component", name).Msg("stopped with error")
						cancel()
					}
				}()
			}
			run("udp", usrv.Serve)
			if rep.stream != nil {
				run("stream", rep.stream.Serve)
			}
			run("api", api.Run)
			wg.Add(1)
			go func() {
				defer wg.Done()
				coll.Run(ctx, merge(ctx, usrv.Inbox(), inbox))
			}()

			logger.Info().Str("udp", cfg.Collector.ListenAddr).Str("stream", cfg.Collector.StreamAddr).Str("api", cfg.Api.ListenAddr).Strs("stores", cfg.Store.Backends).Msg("collector started")
			<-ctx.Done()
			wg.Wait()
			st.drain()
			logger.Info().Msg("collector stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "udp listen address")
	cmd.Flags().StringVar(&streamAddr, "stream", "", "tcp listen address for line framed devices")
	cmd.Flags().StringVar(&apiAddr, "api", "", "http api listen address")
	return cmd
}

// merge forwards both channels into one until ctx is done.
func merge(ctx context.Context, a, b <-chan transport.Datagram) <-chan transport.Datagram {
	out := make(chan transport.Datagram)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case d := <-a:
				forward(ctx, out, d)
			case d := <-b:
				forward(ctx, out, d)
			}
		}
	}()
	return out
}

func forward(ctx context.Context, out chan<- transport.Datagram, d transport.Datagram) {
	select {
	case out <- d:
	case <-ctx.Done():
	}
}
