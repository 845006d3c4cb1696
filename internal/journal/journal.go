// Package journal keeps a small SQLite history of launcher lifecycle events.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "github.com/glebarez/go-sqlite" // SQLite 驱动
)

// Entry is one recorded transition.
type Entry struct {
	ID      int64     `json:"id"`
	At      time.Time `json:"at"`
	From    string    `json:"from"`
	To      string    `json:"to"`
	Status  string    `json:"status"`
	WebPort int       `json:"web_port,omitempty"`
	DBPort  int       `json:"db_port,omitempty"`
}

// Journal is safe for concurrent use.
type Journal struct {
	db *sql.DB
}

// Open creates or opens the journal file.
func Open(path string) (*Journal, error) {
	// 确保目录存在
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	// SQLite 单连接
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	j := &Journal{db: db}
	if err := j.initTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init tables: %w", err)
	}

	log.Printf("Journal initialized: %s", path)
	return j, nil
}

func (j *Journal) initTables() error {
	schemas := []string{
		`CREATE TABLE IF NOT EXISTS transition (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			at          DATETIME NOT NULL,
			from_state  TEXT NOT NULL,
			to_state    TEXT NOT NULL,
			status      TEXT DEFAULT '',
			web_port    INTEGER DEFAULT 0,
			db_port     INTEGER DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transition_at ON transition(at)`,
	}

	for _, schema := range schemas {
		if _, err := j.db.Exec(schema); err != nil {
			return fmt.Errorf("failed to exec schema: %s, error: %w", schema, err)
		}
	}
	return nil
}

// Record appends an entry; At defaults to now.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO transition (at, from_state, to_state, status, web_port, db_port) VALUES (?, ?, ?, ?, ?, ?)`,
		e.At.UTC(), e.From, e.To, e.Status, e.WebPort, e.DBPort,
	)
	return err
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, at, from_state, to_state, status, web_port, db_port FROM transition ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.At, &e.From, &e.To, &e.Status, &e.WebPort, &e.DBPort); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close 关闭数据库连接
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}
