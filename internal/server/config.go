package server

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"nuha.dev/trackpoint/internal/position"
)

var validate = validator.New()

// Interpolation selects how gap ids between two confirmed samples are filled.
type Interpolation uint8

const (
	// Linear places gap ids proportionally to their distance in id space.
	Linear Interpolation = iota
	// Midpoint gives every gap id the per-axis mean of the two neighbours.
	Midpoint
)

func (m Interpolation) String() string {
	if m == Midpoint {
		return "midpoint"
	}
	return "linear"
}

func ParseInterpolation(s string) (Interpolation, error) {
	switch s {
	case "", "linear":
		return Linear, nil
	case "midpoint":
		return Midpoint, nil
	}
	return Linear, fmt.Errorf("unknown interpolation %q", s)
}

type CollectorConfig struct {
	EstimateInterval time.Duration `mapstructure:"estimate_interval" validate:"gt=0"`
	Area             position.Area `mapstructure:"area"`
	Interpolation    string        `mapstructure:"interpolation" validate:"oneof=linear midpoint"`
	// SampleInterval is the devices' sampling cadence, used to derive speed
	// from consecutive samples that carry none.
	SampleInterval time.Duration `mapstructure:"sample_interval" validate:"gte=0"`
	// MaxGapFill bounds how many synthesized ids one gap may store. Larger
	// gaps are resolved on lookup.
	MaxGapFill int    `mapstructure:"max_gap_fill" validate:"gte=0"`
	InboxSize  int    `mapstructure:"inbox_size" validate:"gt=0"`
	ListenAddr string `mapstructure:"listen_addr"`
	StreamAddr string `mapstructure:"stream_addr"`
	// TrustedProxies lists the upstream addresses or CIDRs whose PROXY
	// headers the stream listener honours. Headers from any other peer are
	// ignored.
	TrustedProxies []string `mapstructure:"trusted_proxies" validate:"dive,ip|cidr"`
	LogLevel       string   `mapstructure:"log_level"`
}

func DefaultCollectorConfig() CollectorConfig {
	return CollectorConfig{
		EstimateInterval: time.Second,
		Area:             position.DefaultArea(),
		Interpolation:    Linear.String(),
		SampleInterval:   time.Second,
		MaxGapFill:       10000,
		InboxSize:        1024,
		ListenAddr:       ":7700",
		LogLevel:         "info",
	}
}

func (c *CollectorConfig) Validate() error {
	return validate.Struct(c)
}
