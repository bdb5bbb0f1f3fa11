package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"nuha.dev/trackpoint/internal/client"
	"nuha.dev/trackpoint/internal/server"
)

const (
	configName = "trackpoint"
	configType = "yaml"
	envPrefix  = "TRACKPOINT"
)

// Load reads configPath, or trackpoint.yaml from the working directory or
// $HOME when configPath is empty. A missing file is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	applyDefaults(v)

	v.SetConfigType(configType)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func applyDefaults(v *viper.Viper) {
	cl := client.DefaultClientConfig()
	v.SetDefault("client.sample_interval", cl.SampleInterval)
	v.SetDefault("client.batch_interval", cl.BatchInterval)
	v.SetDefault("client.amount_to_send", cl.AmountToSend)
	v.SetDefault("client.max_batch", cl.MaxBatch)
	v.SetDefault("client.loss_threshold", cl.LossThreshold)
	v.SetDefault("client.range", cl.Range)
	v.SetDefault("client.anchor.x", cl.Anchor.X)
	v.SetDefault("client.anchor.y", cl.Anchor.Y)
	v.SetDefault("client.anchor.z", cl.Anchor.Z)
	v.SetDefault("client.padding_bytes", cl.PaddingBytes)
	v.SetDefault("client.ack_mode", cl.AckMode)
	v.SetDefault("client.framing", cl.Framing)
	v.SetDefault("client.send_kinematics", cl.SendKinematics)
	v.SetDefault("client.seed", cl.Seed)
	v.SetDefault("client.log_level", cl.LogLevel)

	co := server.DefaultCollectorConfig()
	v.SetDefault("collector.estimate_interval", co.EstimateInterval)
	v.SetDefault("collector.area.min_x", co.Area.MinX)
	v.SetDefault("collector.area.max_x", co.Area.MaxX)
	v.SetDefault("collector.area.min_y", co.Area.MinY)
	v.SetDefault("collector.area.max_y", co.Area.MaxY)
	v.SetDefault("collector.interpolation", co.Interpolation)
	v.SetDefault("collector.sample_interval", co.SampleInterval)
	v.SetDefault("collector.max_gap_fill", co.MaxGapFill)
	v.SetDefault("collector.inbox_size", co.InboxSize)
	v.SetDefault("collector.listen_addr", co.ListenAddr)
	v.SetDefault("collector.stream_addr", co.StreamAddr)
	v.SetDefault("collector.log_level", co.LogLevel)

	v.SetDefault("store.backends", []string{StoreLog})
	v.SetDefault("store.pg_dsn", "")
	v.SetDefault("store.pg_table", "trackpoint")
	v.SetDefault("store.sqlite_path", "")
	v.SetDefault("store.nats_url", "")
	v.SetDefault("store.nats_prefix", "trackpoint")
	v.SetDefault("store.buf_size", 500)
	v.SetDefault("store.max_age_flush", "2s")

	v.SetDefault("api.listen_addr", ":8080")
	v.SetDefault("api.cors_origins", []string{})

	v.SetDefault("sim.devices", 4)
	v.SetDefault("sim.duration", "10m")
	v.SetDefault("sim.seed", 1)
	v.SetDefault("sim.latency", "50ms")
	v.SetDefault("sim.speed", 5.0)
}
