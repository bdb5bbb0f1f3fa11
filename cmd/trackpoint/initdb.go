package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/phuslu/log"
	"github.com/spf13/cobra"
	"nuha.dev/trackpoint/internal/config"
	"nuha.dev/trackpoint/internal/store/impl/pgstore"
	"nuha.dev/trackpoint/internal/store/impl/sqlitestore"
)

func initdbCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "initdb",
		Short: "Create the point and event tables of the configured databases",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := context.Background()
			done := 0
			if cfg.Store.Has(config.StorePg) {
				pool, err := pgxpool.Connect(ctx, cfg.Store.PgDSN)
				if err != nil {
					return fmt.Errorf("pg: %w", err)
				}
				defer pool.Close()
				def := pgstore.DefaultStoreConfig()
				if err := pgstore.NewStore(pool, cfg.Store.PgTable, "", &def).EnsureSchema(ctx); err != nil {
					return fmt.Errorf("pg points: %w", err)
				}
				if err := pgstore.NewMiscStore(pool, "").EnsureSchema(ctx); err != nil {
					return fmt.Errorf("pg events: %w", err)
				}
				log.Info().Str("table", cfg.Store.PgTable).Msg("postgres schema ready")
				done++
			}
			if cfg.Store.Has(config.StoreSqlite) {
				// Open creates the schema
				st, err := sqlitestore.Open(cfg.Store.SqlitePath, "", sqlitestore.DefaultStoreConfig())
				if err != nil {
					return fmt.Errorf("sqlite: %w", err)
				}
				st.Close()
				log.Info().Str("path", cfg.Store.SqlitePath).Msg("sqlite schema ready")
				done++
			}
			if done == 0 {
				return fmt.Errorf("no database backend configured (store.backends has neither pg nor sqlite)")
			}
			return nil
		},
	}
}
