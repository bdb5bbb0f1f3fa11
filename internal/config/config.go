// Package config loads the trackpoint configuration from defaults, an
// optional YAML file and TRACKPOINT_* environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"nuha.dev/trackpoint/internal/client"
	"nuha.dev/trackpoint/internal/server"
	"nuha.dev/trackpoint/internal/web"
)

const (
	StoreLog    = "log"
	StorePg     = "pg"
	StoreSqlite = "sqlite"
	StoreNats   = "nats"
)

type Config struct {
	Client    client.ClientConfig    `mapstructure:"client"`
	Collector server.CollectorConfig `mapstructure:"collector"`
	Store     StoreConfig            `mapstructure:"store"`
	Api       web.ApiConfig          `mapstructure:"api"`
	Sim       SimConfig              `mapstructure:"sim"`
}

// StoreConfig selects where reconstructed points go. Every listed backend
// receives every point; the first one that can answer queries serves
// /records/latest.
type StoreConfig struct {
	Backends    []string      `mapstructure:"backends" validate:"dive,oneof=log pg sqlite nats"`
	PgDSN       string        `mapstructure:"pg_dsn"`
	PgTable     string        `mapstructure:"pg_table" validate:"required"`
	SqlitePath  string        `mapstructure:"sqlite_path"`
	NatsURL     string        `mapstructure:"nats_url"`
	NatsPrefix  string        `mapstructure:"nats_prefix"`
	BufSize     int           `mapstructure:"buf_size" validate:"gt=0"`
	MaxAgeFlush time.Duration `mapstructure:"max_age_flush" validate:"gt=0"`
}

func (s StoreConfig) Has(kind string) bool {
	for _, b := range s.Backends {
		if b == kind {
			return true
		}
	}
	return false
}

type SimConfig struct {
	Devices  int           `mapstructure:"devices" validate:"gte=1"`
	Duration time.Duration `mapstructure:"duration" validate:"gt=0"`
	Seed     int64         `mapstructure:"seed"`
	Latency  time.Duration `mapstructure:"latency" validate:"gte=0"`
	Speed    float64       `mapstructure:"speed" validate:"gte=0"`
}

var validate = validator.New()

func (c *Config) Validate() error {
	if err := c.Client.Validate(); err != nil {
		return fmt.Errorf("client: %w", err)
	}
	if err := c.Collector.Validate(); err != nil {
		return fmt.Errorf("collector: %w", err)
	}
	if err := validate.Struct(c.Store); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if c.Store.Has(StorePg) && c.Store.PgDSN == "" {
		return fmt.Errorf("store: pg backend needs pg_dsn")
	}
	if c.Store.Has(StoreSqlite) && c.Store.SqlitePath == "" {
		return fmt.Errorf("store: sqlite backend needs sqlite_path")
	}
	if c.Store.Has(StoreNats) && c.Store.NatsURL == "" {
		return fmt.Errorf("store: nats backend needs nats_url")
	}
	if err := validate.Struct(c.Sim); err != nil {
		return fmt.Errorf("sim: %w", err)
	}
	return nil
}
