package client

import (
	"time"

	"github.com/go-playground/validator/v10"
	"gonum.org/v1/gonum/spatial/r3"
	"nuha.dev/trackpoint/internal/protocol"
)

const (
	AckModeAck  = "ack"
	AckModeNone = "none"
)

var validate = validator.New()

type ClientConfig struct {
	SampleInterval time.Duration `mapstructure:"sample_interval" validate:"gt=0"`
	BatchInterval  time.Duration `mapstructure:"batch_interval" validate:"gt=0"`
	AmountToSend   int           `mapstructure:"amount_to_send" validate:"gte=1"`
	// MaxBatch caps the entries per batch, newest first. 0 sends everything.
	MaxBatch      int     `mapstructure:"max_batch" validate:"gte=0"`
	LossThreshold float64 `mapstructure:"loss_threshold" validate:"gte=0,lte=1"`
	// Range disables sending while the device is farther than Range from
	// Anchor. 0 turns the check off.
	Range          float64 `mapstructure:"range" validate:"gte=0"`
	Anchor         r3.Vec  `mapstructure:"anchor"`
	PaddingBytes   int     `mapstructure:"padding_bytes" validate:"gte=0"`
	AckMode        string  `mapstructure:"ack_mode" validate:"oneof=ack none"`
	Framing        string  `mapstructure:"framing" validate:"oneof=lines batch"`
	SendKinematics bool    `mapstructure:"send_kinematics"`
	Seed           int64   `mapstructure:"seed"`
	LogLevel       string  `mapstructure:"log_level"`
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		SampleInterval: time.Second,
		BatchInterval:  time.Second,
		AmountToSend:   10,
		LossThreshold:  0.5,
		AckMode:        AckModeAck,
		Framing:        protocol.FramingLines.String(),
		LogLevel:       "info",
	}
}

func (c *ClientConfig) Validate() error {
	return validate.Struct(c)
}

func (c *ClientConfig) framing() protocol.Framing {
	f, err := protocol.ParseFraming(c.Framing)
	if err != nil {
		return protocol.FramingLines
	}
	return f
}
