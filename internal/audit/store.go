// Package audit keeps a local SQLite history of publish attempts. The bot
// only writes to it; the history CLI command reads it.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"pressbot/internal/bus"

	_ "modernc.org/sqlite"
)

// Entry is one row of publish_log.
type Entry struct {
	ID        int64
	RequestID string
	ChatID    int64
	UserID    int64
	Site      string
	Mode      string
	Title     string
	PostID    string
	Outcome   string
	Error     string
	Duration  time.Duration
	CreatedAt time.Time
}

type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

// Record inserts one entry. A zero CreatedAt is set to now.
func (s *SQLiteStore) Record(ctx context.Context, e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO publish_log
		 (request_id, chat_id, user_id, site, mode, title, post_id, outcome, error, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RequestID, e.ChatID, e.UserID, e.Site, e.Mode, e.Title, e.PostID, e.Outcome, e.Error,
		e.Duration.Milliseconds(), e.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert publish_log: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, request_id, chat_id, user_id, site, mode, COALESCE(title, ''), COALESCE(post_id, ''),
		        outcome, COALESCE(error, ''), duration_ms, created_at
		 FROM publish_log ORDER BY created_at DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query publish_log: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var durationMS int64
		if err := rows.Scan(&e.ID, &e.RequestID, &e.ChatID, &e.UserID, &e.Site, &e.Mode, &e.Title,
			&e.PostID, &e.Outcome, &e.Error, &durationMS, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan publish_log: %w", err)
		}
		e.Duration = time.Duration(durationMS) * time.Millisecond
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Attach records every publish.completed event. Write failures are logged
// and never reach the user.
func (s *SQLiteStore) Attach(eb *bus.EventBus) {
	eb.On(bus.EventPublishCompleted, func(ev bus.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Record(ctx, EntryFromEvent(ev)); err != nil {
			s.logger.Error("audit record failed", "request_id", ev.RequestID, "err", err)
		}
	})
}

// EntryFromEvent maps a publish.completed event to a row.
func EntryFromEvent(ev bus.Event) Entry {
	return Entry{
		RequestID: ev.RequestID,
		ChatID:    ev.ChatID,
		UserID:    ev.UserID,
		Site:      ev.Site,
		Mode:      ev.Mode,
		Title:     ev.Title,
		PostID:    ev.PostID,
		Outcome:   ev.Outcome,
		Error:     ev.Error,
		Duration:  ev.Duration,
		CreatedAt: ev.Timestamp,
	}
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
