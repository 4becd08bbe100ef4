// Package debug provides a loader that logs every record it receives.
// Useful for inspecting a pipeline without wiring a real destination.
package debug

import (
	"context"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"github.com/meltworks/melt/pkg/singer"
)

type Config struct {
	// Development switches to the human-readable console encoder.
	Development bool `mapstructure:"development"`
}

type Target struct {
	logger *zap.Logger
}

// New returns a debug loader.
func New() *Target {
	return &Target{}
}

func (t *Target) Connect(config map[string]any) error {
	var cfg Config
	if err := mapstructure.Decode(config, &cfg); err != nil {
		return err
	}

	var err error
	if cfg.Development {
		t.logger, err = zap.NewDevelopment()
	} else {
		t.logger, err = zap.NewProduction()
	}
	return err
}

func (t *Target) Load(_ context.Context, messages <-chan singer.Message) error {
	for msg := range messages {
		switch msg.Type {
		case singer.TypeRecord:
			t.logger.Info("record",
				zap.String("stream", msg.Record.Stream),
				zap.Any("data", msg.Record.Data))
		case singer.TypeSchema:
			t.logger.Info("schema",
				zap.String("stream", msg.Schema.Stream),
				zap.Strings("key_properties", msg.Schema.KeyProperties))
		case singer.TypeState:
			t.logger.Debug("state checkpoint")
		}
	}
	return nil
}

func (t *Target) Disconnect() error {
	if t.logger != nil {
		return t.logger.Sync()
	}
	return nil
}
