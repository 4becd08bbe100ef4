// Package nats provides a loader that publishes each stream's records
// to a JetStream subject.
package nats

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/nats-io/nats.go"

	"github.com/meltworks/melt/pkg/singer"
)

var errConnNotInitialized = errors.New("NATS connection not initialized")

type Config struct {
	Servers       []string `mapstructure:"servers"`
	Stream        string   `mapstructure:"stream"`
	SubjectPrefix string   `mapstructure:"subject_prefix"`
	Username      string   `mapstructure:"username"`
	Password      string   `mapstructure:"password"`
}

type Target struct {
	cfg Config
	nc  *nats.Conn
	js  nats.JetStreamContext
}

// New returns a NATS JetStream loader.
func New() *Target {
	return &Target{}
}

func (t *Target) Connect(config map[string]any) error {
	if err := mapstructure.Decode(config, &t.cfg); err != nil {
		return fmt.Errorf("nats config: %w", err)
	}

	if len(t.cfg.Servers) == 0 {
		t.cfg.Servers = []string{nats.DefaultURL}
	}
	t.cfg.SubjectPrefix = cmp.Or(t.cfg.SubjectPrefix, "melt")
	t.cfg.Stream = cmp.Or(t.cfg.Stream, fmt.Sprintf("%s-stream", t.cfg.SubjectPrefix))

	opts := []nats.Option{
		nats.Timeout(5 * time.Second),
		nats.PingInterval(10 * time.Second),
		nats.MaxPingsOutstanding(3),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	}
	if t.cfg.Username != "" && t.cfg.Password != "" {
		opts = append(opts, nats.UserInfo(t.cfg.Username, t.cfg.Password))
	}

	// Connect to first available server
	var err error
	for _, server := range t.cfg.Servers {
		t.nc, err = nats.Connect(server, opts...)
		if err == nil {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("connect to NATS server: %w", err)
	}

	if t.js, err = t.nc.JetStream(); err != nil {
		t.nc.Close()
		return fmt.Errorf("create JetStream context: %w", err)
	}

	if err := t.ensureStream(); err != nil {
		t.nc.Close()
		return fmt.Errorf("ensure stream: %w", err)
	}
	return nil
}

func (t *Target) Load(_ context.Context, messages <-chan singer.Message) error {
	if t.js == nil {
		return errConnNotInitialized
	}

	for msg := range messages {
		if msg.Type != singer.TypeRecord {
			continue
		}
		subject := fmt.Sprintf("%s.%s", t.cfg.SubjectPrefix, msg.Record.Stream)
		data, err := json.Marshal(msg.Record.Data)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		if _, err := t.js.Publish(subject, data); err != nil {
			return fmt.Errorf("publish to %s: %w", subject, err)
		}
	}
	return nil
}

// ensureStream creates the stream if it does not exist yet.
func (t *Target) ensureStream() error {
	config := &nats.StreamConfig{
		Name:     t.cfg.Stream,
		Subjects: []string{fmt.Sprintf("%s.>", t.cfg.SubjectPrefix)},
		Storage:  nats.FileStorage,
		Replicas: 1,
	}

	_, err := t.js.StreamInfo(t.cfg.Stream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("get stream info: %w", err)
	}

	if _, err := t.js.AddStream(config); err != nil {
		return fmt.Errorf("create stream: %w", err)
	}
	return nil
}

func (t *Target) Disconnect() error {
	if t.nc != nil {
		t.nc.Close()
	}
	return nil
}
