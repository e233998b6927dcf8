package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/quirelabs/quire/internal/domain"
	"github.com/quirelabs/quire/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db        *sql.DB
	meetingMu sync.Mutex // Mutex for meeting writes to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS bindings (
		doc_id TEXT PRIMARY KEY,
		container_id INTEGER NOT NULL,
		bound_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS meetings (
		meeting_id TEXT PRIMARY KEY,
		doc_id TEXT NOT NULL,
		audio_ref TEXT,
		transcript TEXT NOT NULL,
		summary TEXT NOT NULL,
		notes TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		ended_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_meetings_doc ON meetings(doc_id, ended_at);
	CREATE INDEX IF NOT EXISTS idx_meetings_ended ON meetings(ended_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetBinding retrieves the container binding for a document.
func (s *SQLiteStore) GetBinding(ctx context.Context, docID string) (*domain.ContainerBinding, error) {
	query := `SELECT doc_id, container_id, bound_at FROM bindings WHERE doc_id = ?`

	row := s.db.QueryRowContext(ctx, query, docID)

	var binding domain.ContainerBinding
	var boundAt int64

	err := row.Scan(&binding.DocID, &binding.ContainerID, &boundAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan binding row: %w", err)
	}

	binding.BoundAt = time.Unix(boundAt, 0)
	return &binding, nil
}

// PutBinding creates or replaces the binding for a document.
func (s *SQLiteStore) PutBinding(ctx context.Context, binding *domain.ContainerBinding) error {
	query := `
	INSERT INTO bindings (doc_id, container_id, bound_at)
	VALUES (?, ?, ?)
	ON CONFLICT(doc_id) DO UPDATE SET
		container_id = excluded.container_id,
		bound_at = excluded.bound_at`

	_, err := s.db.ExecContext(ctx, query,
		binding.DocID, binding.ContainerID, binding.BoundAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert binding: %w", err)
	}
	return nil
}

// DeleteBinding removes a stale binding. Retries on SQLite concurrency
// errors since binding pruning races with capture start.
func (s *SQLiteStore) DeleteBinding(ctx context.Context, docID string) error {
	err := shared.RetrySQLite(3, 100*time.Millisecond, func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM bindings WHERE doc_id = ?`, docID)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete binding for %s: %w", docID, err)
	}
	return nil
}

// SaveMeeting archives a finalized meeting.
func (s *SQLiteStore) SaveMeeting(ctx context.Context, artifact *domain.FinalArtifact) error {
	s.meetingMu.Lock()
	defer s.meetingMu.Unlock()

	query := `
	INSERT INTO meetings (
		meeting_id, doc_id, audio_ref, transcript, summary, notes, started_at, ended_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(meeting_id) DO UPDATE SET
		audio_ref = excluded.audio_ref,
		transcript = excluded.transcript,
		summary = excluded.summary,
		notes = excluded.notes,
		ended_at = excluded.ended_at`

	var audioRef interface{}
	if artifact.AudioRef != "" {
		audioRef = artifact.AudioRef
	}

	err := shared.RetrySQLite(3, 100*time.Millisecond, func() error {
		_, err := s.db.ExecContext(ctx, query,
			artifact.MeetingID, artifact.DocID, audioRef,
			artifact.Transcript, artifact.Summary, artifact.Notes,
			artifact.StartedAt.Unix(), artifact.EndedAt.Unix(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("save meeting %s: %w", artifact.MeetingID, err)
	}
	return nil
}

// GetMeeting retrieves one archived meeting.
func (s *SQLiteStore) GetMeeting(ctx context.Context, meetingID string) (*domain.FinalArtifact, error) {
	query := `
		SELECT meeting_id, doc_id, audio_ref, transcript, summary, notes, started_at, ended_at
		FROM meetings WHERE meeting_id = ?`

	row := s.db.QueryRowContext(ctx, query, meetingID)

	artifact, err := scanMeeting(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan meeting row: %w", err)
	}
	return artifact, nil
}

// ListMeetings returns archived meetings newest first.
func (s *SQLiteStore) ListMeetings(ctx context.Context, docID string, limit int) ([]*domain.FinalArtifact, error) {
	query := `
		SELECT meeting_id, doc_id, audio_ref, transcript, summary, notes, started_at, ended_at
		FROM meetings`
	args := []interface{}{}

	if docID != "" {
		query += ` WHERE doc_id = ?`
		args = append(args, docID)
	}
	query += ` ORDER BY ended_at DESC, meeting_id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query meetings: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close meetings rows", "error", closeErr)
		}
	}()

	var meetings []*domain.FinalArtifact
	for rows.Next() {
		artifact, err := scanMeeting(rows)
		if err != nil {
			return nil, fmt.Errorf("scan meeting row: %w", err)
		}
		meetings = append(meetings, artifact)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate meetings: %w", err)
	}

	return meetings, nil
}

// PurgeMeetings removes meetings older than the retention window.
func (s *SQLiteStore) PurgeMeetings(ctx context.Context, retention time.Duration) (int64, error) {
	threshold := time.Now().Add(-retention).Unix()
	query := `DELETE FROM meetings WHERE ended_at < ?`
	result, err := s.db.ExecContext(ctx, query, threshold)
	if err != nil {
		return 0, fmt.Errorf("purge meetings: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMeeting(row rowScanner) (*domain.FinalArtifact, error) {
	var artifact domain.FinalArtifact
	var audioRef sql.NullString
	var startedAt, endedAt int64

	err := row.Scan(
		&artifact.MeetingID, &artifact.DocID, &audioRef,
		&artifact.Transcript, &artifact.Summary, &artifact.Notes,
		&startedAt, &endedAt,
	)
	if err != nil {
		return nil, err
	}

	artifact.AudioRef = audioRef.String
	artifact.StartedAt = time.Unix(startedAt, 0)
	artifact.EndedAt = time.Unix(endedAt, 0)
	return &artifact, nil
}
