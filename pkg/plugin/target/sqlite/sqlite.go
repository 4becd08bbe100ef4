// Package sqlite provides a loader that writes each stream into its own
// table of a SQLite database file. Records are stored as JSON alongside
// their extraction timestamp; downstream tooling can unpack them with
// SQLite's json functions.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/mitchellh/mapstructure"

	"github.com/meltworks/melt/pkg/singer"
)

type Config struct {
	// Database is the path of the SQLite file, created on first use.
	Database string `mapstructure:"database"`

	// BatchSize is the number of inserts per transaction.
	BatchSize int `mapstructure:"batch_size"`
}

type Target struct {
	cfg    Config
	db     *sql.DB
	tables map[string]bool
}

// New returns a SQLite loader.
func New() *Target {
	return &Target{}
}

func (t *Target) Connect(config map[string]any) error {
	if err := mapstructure.Decode(config, &t.cfg); err != nil {
		return fmt.Errorf("sqlite config: %w", err)
	}
	if t.cfg.Database == "" {
		t.cfg.Database = "output.db"
	}
	if t.cfg.BatchSize <= 0 {
		t.cfg.BatchSize = 100
	}

	db, err := sql.Open("sqlite3", t.cfg.Database)
	if err != nil {
		return fmt.Errorf("open %s: %w", t.cfg.Database, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return fmt.Errorf("open %s: %w", t.cfg.Database, err)
	}

	t.db = db
	t.tables = map[string]bool{}
	return nil
}

func (t *Target) Load(ctx context.Context, messages <-chan singer.Message) error {
	var (
		tx    *sql.Tx
		inTx  int
		begin = func() (err error) {
			tx, err = t.db.BeginTx(ctx, nil)
			return err
		}
	)

	for msg := range messages {
		if msg.Type != singer.TypeRecord {
			continue
		}
		table := tableName(msg.Record.Stream)
		if err := t.ensureTable(ctx, table); err != nil {
			return err
		}

		if tx == nil {
			if err := begin(); err != nil {
				return err
			}
		}
		data, err := json.Marshal(msg.Record.Data)
		if err != nil {
			return fmt.Errorf("stream %s: %w", msg.Record.Stream, err)
		}
		_, err = tx.ExecContext(ctx,
			fmt.Sprintf(`INSERT INTO %q (record, time_extracted) VALUES (?, ?)`, table),
			string(data), msg.Record.TimeExtracted.Format(time.RFC3339Nano))
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("insert into %s: %w", table, err)
		}

		if inTx++; inTx >= t.cfg.BatchSize {
			if err := tx.Commit(); err != nil {
				return err
			}
			tx, inTx = nil, 0
		}
	}

	if tx != nil {
		return tx.Commit()
	}
	return nil
}

func (t *Target) ensureTable(ctx context.Context, table string) error {
	if t.tables[table] {
		return nil
	}
	_, err := t.db.ExecContext(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %q (record TEXT NOT NULL, time_extracted TEXT NOT NULL)`, table))
	if err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	t.tables[table] = true
	return nil
}

// tableName maps a stream name to a safe SQL identifier.
func tableName(stream string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, stream)
}

func (t *Target) Disconnect() error {
	if t.db != nil {
		return t.db.Close()
	}
	return nil
}
