// Package clickhouse provides a loader that batch-inserts each stream's
// records into a ClickHouse table.
package clickhouse

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/mitchellh/mapstructure"

	"github.com/meltworks/melt/pkg/singer"
	"github.com/meltworks/melt/pkg/util"
)

type Config struct {
	Addr      []string `mapstructure:"addr"`
	Database  string   `mapstructure:"database"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	BatchSize int      `mapstructure:"batch_size"`
}

type Target struct {
	cfg    Config
	conn   driver.Conn
	tables map[string]bool
}

// New returns a ClickHouse loader.
func New() *Target {
	return &Target{}
}

func (t *Target) Connect(config map[string]any) error {
	if err := mapstructure.Decode(config, &t.cfg); err != nil {
		return fmt.Errorf("clickhouse config: %w", err)
	}

	if len(t.cfg.Addr) == 0 {
		t.cfg.Addr = []string{util.GetEnvOrDefault("MELT_CLICKHOUSE_ADDR", "localhost:9000")}
	}
	if t.cfg.Database == "" {
		t.cfg.Database = util.GetEnvOrDefault("MELT_CLICKHOUSE_DATABASE", "default")
	}
	if t.cfg.Username == "" {
		t.cfg.Username = util.GetEnvOrDefault("MELT_CLICKHOUSE_USERNAME", "default")
	}
	if t.cfg.Password == "" {
		t.cfg.Password = util.GetEnvOrDefault("MELT_CLICKHOUSE_PASSWORD", "")
	}
	if t.cfg.BatchSize <= 0 {
		t.cfg.BatchSize = 1000
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: t.cfg.Addr,
		Auth: clickhouse.Auth{
			Database: t.cfg.Database,
			Username: t.cfg.Username,
			Password: t.cfg.Password,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		return fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	t.conn = conn
	t.tables = map[string]bool{}
	return nil
}

func (t *Target) Load(ctx context.Context, messages <-chan singer.Message) error {
	var (
		batch  driver.Batch
		stream string
		queued int
	)

	flush := func() error {
		if batch == nil || queued == 0 {
			return nil
		}
		if err := batch.Send(); err != nil {
			return fmt.Errorf("send batch for %s: %w", stream, err)
		}
		batch, queued = nil, 0
		return nil
	}

	for msg := range messages {
		if msg.Type != singer.TypeRecord {
			continue
		}

		// One batch targets one table; a stream switch flushes.
		if batch == nil || stream != msg.Record.Stream {
			if err := flush(); err != nil {
				return err
			}
			stream = msg.Record.Stream
			if err := t.ensureTable(ctx, stream); err != nil {
				return err
			}
			var err error
			batch, err = t.conn.PrepareBatch(ctx,
				fmt.Sprintf("INSERT INTO %s (record, time_extracted)", t.qualified(stream)))
			if err != nil {
				return fmt.Errorf("prepare batch for %s: %w", stream, err)
			}
		}

		data, err := json.Marshal(msg.Record.Data)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		if err := batch.Append(string(data), msg.Record.TimeExtracted); err != nil {
			return fmt.Errorf("append to batch for %s: %w", stream, err)
		}

		if queued++; queued >= t.cfg.BatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

func (t *Target) qualified(stream string) string {
	return fmt.Sprintf("%s.%s", quoteIdent(t.cfg.Database), quoteIdent(stream))
}

func (t *Target) ensureTable(ctx context.Context, stream string) error {
	table := t.qualified(stream)
	if t.tables[table] {
		return nil
	}
	err := t.conn.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			record String,
			time_extracted DateTime64(3, 'UTC')
		) ENGINE = MergeTree() ORDER BY time_extracted`, table))
	if err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	t.tables[table] = true
	return nil
}

func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "\\`") + "`"
}

func (t *Target) Disconnect() error {
	if t.conn != nil {
		return t.conn.Close()
	}
	return nil
}
