// Package jsonl provides a loader that writes one JSON-lines file per
// stream under a destination directory.
package jsonl

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/meltworks/melt/pkg/singer"
)

type Config struct {
	// DestinationPath is the directory the stream files are written to.
	DestinationPath string `mapstructure:"destination_path"`

	// DoTimestampFile appends a run timestamp to each file name, so
	// repeated runs never overwrite earlier output.
	DoTimestampFile bool `mapstructure:"do_timestamp_file"`
}

type Target struct {
	cfg     Config
	stamp   string
	files   map[string]*os.File
	writers map[string]*bufio.Writer
}

// New returns a JSONL loader.
func New() *Target {
	return &Target{}
}

func (t *Target) Connect(config map[string]any) error {
	if err := mapstructure.Decode(config, &t.cfg); err != nil {
		return fmt.Errorf("jsonl config: %w", err)
	}
	if t.cfg.DestinationPath == "" {
		t.cfg.DestinationPath = "output"
	}
	if err := os.MkdirAll(t.cfg.DestinationPath, 0o755); err != nil {
		return err
	}

	t.stamp = time.Now().UTC().Format("20060102T150405")
	t.files = map[string]*os.File{}
	t.writers = map[string]*bufio.Writer{}
	return nil
}

func (t *Target) Load(_ context.Context, messages <-chan singer.Message) error {
	for msg := range messages {
		if msg.Type != singer.TypeRecord {
			continue
		}
		w, err := t.writer(msg.Record.Stream)
		if err != nil {
			return err
		}
		line, err := json.Marshal(msg.Record.Data)
		if err != nil {
			return fmt.Errorf("stream %s: %w", msg.Record.Stream, err)
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("stream %s: %w", msg.Record.Stream, err)
		}
	}
	return t.flush()
}

func (t *Target) writer(stream string) (*bufio.Writer, error) {
	if w, ok := t.writers[stream]; ok {
		return w, nil
	}

	name := stream + ".jsonl"
	if t.cfg.DoTimestampFile {
		name = fmt.Sprintf("%s-%s.jsonl", stream, t.stamp)
	}
	f, err := os.OpenFile(filepath.Join(t.cfg.DestinationPath, name),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}

	w := bufio.NewWriter(f)
	t.files[stream] = f
	t.writers[stream] = w
	return w, nil
}

func (t *Target) flush() error {
	for stream, w := range t.writers {
		if err := w.Flush(); err != nil {
			return fmt.Errorf("stream %s: %w", stream, err)
		}
	}
	return nil
}

func (t *Target) Disconnect() error {
	var firstErr error
	if err := t.flush(); err != nil {
		firstErr = err
	}
	for _, f := range t.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	t.files = nil
	t.writers = nil
	return firstErr
}
