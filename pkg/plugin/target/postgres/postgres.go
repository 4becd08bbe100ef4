// Package postgres provides a loader that writes each stream into a
// JSONB-typed table of a PostgreSQL database.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mitchellh/mapstructure"

	"github.com/meltworks/melt/pkg/singer"
	"github.com/meltworks/melt/pkg/util"
)

type Config struct {
	// ConnString is a pgx connection string or URL.
	ConnString string `mapstructure:"connstring"`

	// Schema is the target schema, created if absent.
	Schema string `mapstructure:"schema"`

	// BatchSize is the number of inserts sent per pgx batch.
	BatchSize int `mapstructure:"batch_size"`
}

type Target struct {
	cfg    Config
	pool   *pgxpool.Pool
	tables map[string]bool
}

// New returns a PostgreSQL loader.
func New() *Target {
	return &Target{}
}

func (t *Target) Connect(config map[string]any) error {
	if err := mapstructure.Decode(config, &t.cfg); err != nil {
		return fmt.Errorf("postgres config: %w", err)
	}
	if t.cfg.ConnString == "" {
		t.cfg.ConnString = util.GetEnvOrDefault("MELT_POSTGRES_CONNSTRING", "")
	}
	if t.cfg.ConnString == "" {
		return fmt.Errorf("postgres config: connstring is required")
	}
	if t.cfg.Schema == "" {
		t.cfg.Schema = "melt"
	}
	if t.cfg.BatchSize <= 0 {
		t.cfg.BatchSize = 100
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, t.cfg.ConnString)
	if err != nil {
		return err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("error connecting to database: %w", err)
	}

	if _, err := pool.Exec(ctx,
		fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, quoteIdent(t.cfg.Schema))); err != nil {
		pool.Close()
		return fmt.Errorf("create schema %s: %w", t.cfg.Schema, err)
	}

	t.pool = pool
	t.tables = map[string]bool{}
	return nil
}

func (t *Target) Load(ctx context.Context, messages <-chan singer.Message) error {
	batch := &pgx.Batch{}

	for msg := range messages {
		if msg.Type != singer.TypeRecord {
			continue
		}
		table := t.qualified(msg.Record.Stream)
		if err := t.ensureTable(ctx, table); err != nil {
			return err
		}

		batch.Queue(
			fmt.Sprintf(`INSERT INTO %s (data, time_extracted) VALUES ($1, $2)`, table),
			msg.Record.Data, msg.Record.TimeExtracted)

		if batch.Len() >= t.cfg.BatchSize {
			if err := t.pool.SendBatch(ctx, batch).Close(); err != nil {
				return fmt.Errorf("insert batch: %w", err)
			}
			batch = &pgx.Batch{}
		}
	}

	if batch.Len() > 0 {
		if err := t.pool.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert batch: %w", err)
		}
	}
	return nil
}

func (t *Target) qualified(stream string) string {
	return quoteIdent(t.cfg.Schema) + "." + quoteIdent(stream)
}

func (t *Target) ensureTable(ctx context.Context, table string) error {
	if t.tables[table] {
		return nil
	}
	_, err := t.pool.Exec(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (data JSONB NOT NULL, time_extracted TIMESTAMPTZ NOT NULL)`, table))
	if err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	t.tables[table] = true
	return nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (t *Target) Disconnect() error {
	if t.pool != nil {
		t.pool.Close()
	}
	return nil
}
