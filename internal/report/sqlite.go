package report

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE runs (
	run_id      TEXT PRIMARY KEY,
	source      TEXT NOT NULL,
	started_at  TEXT NOT NULL,
	finished_at TEXT NOT NULL,
	devices     INTEGER NOT NULL,
	failures    INTEGER NOT NULL
);

CREATE TABLE ap_ports (
	run_id TEXT NOT NULL REFERENCES runs(run_id),
	seq    INTEGER NOT NULL,
	wlc    TEXT NOT NULL,
	ap     TEXT NOT NULL,
	port   TEXT NOT NULL,
	speed  TEXT NOT NULL,
	duplex TEXT NOT NULL,
	PRIMARY KEY (run_id, seq)
);
`

// writeSQLite writes the report as a fresh SQLite database. Any existing
// file at path is replaced so the database holds exactly one run.
func writeSQLite(path string, t Table, meta Meta) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("replace report database: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create report directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if _, err := db.Exec(sqliteSchema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	_, err = tx.Exec(
		`INSERT INTO runs (run_id, source, started_at, finished_at, devices, failures)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		meta.RunID, meta.Source,
		meta.Started.UTC().Format(time.RFC3339), meta.Finished.UTC().Format(time.RFC3339),
		meta.Devices, meta.Failures,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", meta.RunID, err)
	}

	stmt, err := tx.Prepare(
		`INSERT INTO ap_ports (run_id, seq, wlc, ap, port, speed, duplex)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range t.records {
		if _, err := stmt.Exec(meta.RunID, i, r.Controller, r.AP, r.Port, r.Speed, r.Duplex); err != nil {
			return fmt.Errorf("insert %s/%s: %w", r.Controller, r.AP, err)
		}
	}

	return tx.Commit()
}
