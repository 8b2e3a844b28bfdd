// Package db opens the hub's SQLite store and keeps its schema current.
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const busyTimeoutMS = 5000

// DBPair splits access into a single-connection writer pool and a small
// read-only pool. SQLite serializes writes regardless of how many connections
// hold the file; WAL mode keeps the readers from blocking on the writer.
type DBPair struct {
	reader *sql.DB
	writer *sql.DB
}

// Reader returns the read-only pool.
func (p *DBPair) Reader() *sql.DB { return p.reader }

// Writer returns the single-connection write pool.
func (p *DBPair) Writer() *sql.DB { return p.writer }

// Close closes both pools and reports the first failure.
func (p *DBPair) Close() error {
	readerErr := p.reader.Close()
	writerErr := p.writer.Close()
	if readerErr != nil {
		return fmt.Errorf("close reader: %w", readerErr)
	}
	if writerErr != nil {
		return fmt.Errorf("close writer: %w", writerErr)
	}
	return nil
}

// Init opens the database at dbPath, creating it and its directory as needed,
// applies the schema and migrations, and returns the reader/writer pair. The
// schema runs on the writer before the reader pool opens so the file exists
// by the time the first read-only connection touches it.
func Init(dbPath string) (*DBPair, error) {
	if dbPath == "" {
		return nil, errors.New("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	writer, err := openWriter(dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := writer.Exec(schemaSQL); err != nil {
		writer.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if err := migrate(writer); err != nil {
		writer.Close()
		return nil, err
	}

	reader, err := openReader(dbPath)
	if err != nil {
		writer.Close()
		return nil, err
	}

	return &DBPair{reader: reader, writer: writer}, nil
}

func connString(dbPath, mode string) string {
	return fmt.Sprintf("%s?_journal=WAL&_busy_timeout=%d&cache=shared&mode=%s", dbPath, busyTimeoutMS, mode)
}

func openWriter(dbPath string) (*sql.DB, error) {
	writer, err := sql.Open("sqlite3", connString(dbPath, "rwc"))
	if err != nil {
		return nil, fmt.Errorf("open writer: %w", err)
	}
	writer.SetMaxOpenConns(1)
	writer.SetMaxIdleConns(1)
	writer.SetConnMaxLifetime(time.Hour)

	if _, err := writer.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		writer.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := writer.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		writer.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return writer, nil
}

func openReader(dbPath string) (*sql.DB, error) {
	reader, err := sql.Open("sqlite3", connString(dbPath, "ro"))
	if err != nil {
		return nil, fmt.Errorf("open reader: %w", err)
	}
	reader.SetMaxOpenConns(4)
	reader.SetMaxIdleConns(2)
	reader.SetConnMaxLifetime(time.Hour)
	return reader, nil
}

// migrate applies additive changes the baseline schema predates. Each step is
// guarded by a column probe so existing databases converge without version
// bookkeeping.
func migrate(db *sql.DB) error {
	steps := []struct {
		table  string
		column string
		ddl    string
	}{
		{"device_profiles", "max_wake_wait_s", "ALTER TABLE device_profiles ADD COLUMN max_wake_wait_s INTEGER"},
		{"alarms", "cron_expr", "ALTER TABLE alarms ADD COLUMN cron_expr TEXT"},
	}
	for _, step := range steps {
		if err := addColumnIfMissing(db, step.table, step.column, step.ddl); err != nil {
			return err
		}
	}
	return nil
}

func addColumnIfMissing(db *sql.DB, table, column, ddl string) error {
	exists, err := columnExists(db, table, column)
	if err != nil {
		return fmt.Errorf("inspect %s.%s: %w", table, column, err)
	}
	if exists {
		return nil
	}
	if _, err := db.Exec(ddl); err != nil {
		return fmt.Errorf("add %s.%s: %w", table, column, err)
	}
	return nil
}

func columnExists(db *sql.DB, table, column string) (bool, error) {
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?", table, column).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
