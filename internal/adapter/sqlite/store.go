// Package sqlite persists the tracking table in a local SQLite database so
// reconciliation state survives restarts.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/couchcryptid/cad-incident-notifier/internal/track"
)

const schema = `
CREATE TABLE IF NOT EXISTS tracking_records (
	identity  TEXT PRIMARY KEY,
	record    TEXT NOT NULL,
	last_seen TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS tracking_aliases (
	identity TEXT PRIMARY KEY,
	target   TEXT NOT NULL
);`

// Store reads and writes the tracking table. Records are stored as JSON
// documents keyed by identity; last_seen is duplicated into its own column
// for ad hoc inspection.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore opens (or creates) the database at path and ensures the schema.
func NewStore(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// The engine is the sole writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ensure schema: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Load reads the full tracking table. An empty database yields an empty table.
func (s *Store) Load(ctx context.Context) (*track.Table, error) {
	tbl := track.NewTable()

	rows, err := s.db.QueryContext(ctx, `SELECT identity, record FROM tracking_records`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: load records: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var identity, doc string
		if err := rows.Scan(&identity, &doc); err != nil {
			return nil, fmt.Errorf("sqlite: scan record: %w", err)
		}
		var rec track.Record
		if err := json.Unmarshal([]byte(doc), &rec); err != nil {
			s.logger.Warn("dropping undecodable tracking record", "identity", identity, "error", err)
			continue
		}
		tbl.Records[identity] = &rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: load records: %w", err)
	}

	aliases, err := s.db.QueryContext(ctx, `SELECT identity, target FROM tracking_aliases`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: load aliases: %w", err)
	}
	defer aliases.Close()
	for aliases.Next() {
		var identity, target string
		if err := aliases.Scan(&identity, &target); err != nil {
			return nil, fmt.Errorf("sqlite: scan alias: %w", err)
		}
		tbl.Aliases[identity] = target
	}
	if err := aliases.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: load aliases: %w", err)
	}
	return tbl, nil
}

// Save replaces the persisted table with t in one transaction.
func (s *Store) Save(ctx context.Context, t *track.Table) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin save: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM tracking_records`); err != nil {
		return fmt.Errorf("sqlite: clear records: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM tracking_aliases`); err != nil {
		return fmt.Errorf("sqlite: clear aliases: %w", err)
	}

	for identity, rec := range t.Records {
		doc, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("sqlite: encode record %s: %w", identity, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tracking_records (identity, record, last_seen) VALUES (?, ?, ?)`,
			identity, string(doc), rec.LastSeen.UTC().Format(time.RFC3339),
		); err != nil {
			return fmt.Errorf("sqlite: insert record %s: %w", identity, err)
		}
	}
	for identity, target := range t.Aliases {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tracking_aliases (identity, target) VALUES (?, ?)`,
			identity, target,
		); err != nil {
			return fmt.Errorf("sqlite: insert alias %s: %w", identity, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit save: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
