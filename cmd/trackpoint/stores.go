package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
	"nuha.dev/trackpoint/internal/config"
	"nuha.dev/trackpoint/internal/store"
	"nuha.dev/trackpoint/internal/store/impl/logstore"
	"nuha.dev/trackpoint/internal/store/impl/natsstore"
	"nuha.dev/trackpoint/internal/store/impl/pgstore"
	"nuha.dev/trackpoint/internal/store/impl/sqlitestore"
)

// stores is the set of opened backends. wait blocks until the background
// writers have drained after ctx is cancelled.
type stores struct {
	put    store.Multi
	reader store.Reader
	events store.EventStore
	wait   []func()
}

func (s *stores) drain() {
	for _, w := range s.wait {
		w()
	}
}

func openStores(ctx context.Context, conf config.StoreConfig, runID string) (*stores, error) {
	s := &stores{events: store.NopEvents{}}
	for _, kind := range conf.Backends {
		switch kind {
		case config.StoreLog:
			ls := logstore.NewStore(runID)
			s.put = append(s.put, ls)
			if _, ok := s.events.(store.NopEvents); ok {
				s.events = ls
			}
		case config.StorePg:
			pool, err := pgxpool.Connect(ctx, conf.PgDSN)
			if err != nil {
				return nil, fmt.Errorf("pg: %w", err)
			}
			ps := pgstore.NewStore(pool, conf.PgTable, runID, &pgstore.StoreConfig{
				BufSize:     conf.BufSize,
				TickerDur:   conf.MaxAgeFlush / 2,
				MaxAgeFlush: conf.MaxAgeFlush,
			})
			if err := ps.EnsureSchema(ctx); err != nil {
				return nil, fmt.Errorf("pg schema: %w", err)
			}
			misc := pgstore.NewMiscStore(pool, runID)
			if err := misc.EnsureSchema(ctx); err != nil {
				return nil, fmt.Errorf("pg schema: %w", err)
			}
			ps.Run(ctx)
			s.put = append(s.put, ps)
			s.events = misc
			if s.reader == nil {
				s.reader = ps
			}
			s.wait = append(s.wait, func() { <-ps.Done(); pool.Close() })
		case config.StoreSqlite:
			ss, err := sqlitestore.Open(conf.SqlitePath, runID, sqlitestore.StoreConfig{
				QueueSize: conf.BufSize * 8,
				BatchSize: conf.BufSize,
				FlushDur:  conf.MaxAgeFlush,
			})
			if err != nil {
				return nil, fmt.Errorf("sqlite: %w", err)
			}
			go ss.Run(ctx)
			s.put = append(s.put, ss)
			if s.reader == nil {
				s.reader = ss
			}
			s.wait = append(s.wait, func() { <-ss.Done(); ss.Close() })
		case config.StoreNats:
			nc, err := natsstore.Connect(conf.NatsURL, "trackpoint-"+runID)
			if err != nil {
				return nil, fmt.Errorf("nats: %w", err)
			}
			s.put = append(s.put, natsstore.NewStore(nc, conf.NatsPrefix, runID))
			s.wait = append(s.wait, func() { nc.Drain() })
		}
	}
	return s, nil
}
