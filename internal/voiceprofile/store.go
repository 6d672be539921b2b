package voiceprofile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/livebabel/babel-core/internal/config"
	_ "modernc.org/sqlite"
)

// Status of a voice profile build. Transitions are forward-only:
// pending -> ready | failed, and both ready and failed are terminal.
type Status string

const (
	StatusPending Status = "pending"
	StatusReady   Status = "ready"
	StatusFailed  Status = "failed"
)

var (
	ErrNotFound = errors.New("voice profile not found")
	// ErrTerminal is returned when an update targets a profile that has
	// already reached ready or failed.
	ErrTerminal = errors.New("voice profile already in a terminal state")
)

// Profile is one recorded voice sample and its build state.
type Profile struct {
	SpeakerID     string
	Status        Status
	SampleRef     string
	ArtifactRef   string
	FailureReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Store persists voice profiles in SQLite.
type Store struct {
	db    *sql.DB
	log   *slog.Logger
	clock func() time.Time
}

func Open(ctx context.Context, cfg config.ProfilesConfig, log *slog.Logger) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, log: log, clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS voice_profiles (
    speaker_id TEXT PRIMARY KEY,
    status TEXT NOT NULL,
    sample_ref TEXT NOT NULL,
    artifact_ref TEXT,
    failure_reason TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_profiles_status ON voice_profiles(status);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Insert records a new pending profile.
func (s *Store) Insert(ctx context.Context, speakerID, sampleRef string) error {
	now := s.clock().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO voice_profiles (speaker_id, status, sample_ref, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		speakerID, StatusPending, sampleRef, now, now)
	if err != nil {
		return fmt.Errorf("insert voice profile: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, speakerID string) (Profile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT speaker_id, status, sample_ref, COALESCE(artifact_ref, ''), COALESCE(failure_reason, ''), created_at, updated_at
		 FROM voice_profiles WHERE speaker_id = ?`, speakerID)

	var p Profile
	if err := row.Scan(&p.SpeakerID, &p.Status, &p.SampleRef, &p.ArtifactRef, &p.FailureReason, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, fmt.Errorf("query voice profile: %w", err)
	}
	return p, nil
}

// MarkReady moves a pending profile to ready. Terminal profiles are never
// rewritten.
func (s *Store) MarkReady(ctx context.Context, speakerID, artifactRef string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE voice_profiles SET status = ?, artifact_ref = ?, updated_at = ?
		 WHERE speaker_id = ? AND status = ?`,
		StatusReady, artifactRef, s.clock().UTC(), speakerID, StatusPending)
	if err != nil {
		return fmt.Errorf("mark profile ready: %w", err)
	}
	return s.checkUpdated(ctx, res, speakerID)
}

// MarkFailed moves a pending profile to failed with a human-readable reason.
func (s *Store) MarkFailed(ctx context.Context, speakerID, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE voice_profiles SET status = ?, failure_reason = ?, updated_at = ?
		 WHERE speaker_id = ? AND status = ?`,
		StatusFailed, reason, s.clock().UTC(), speakerID, StatusPending)
	if err != nil {
		return fmt.Errorf("mark profile failed: %w", err)
	}
	return s.checkUpdated(ctx, res, speakerID)
}

func (s *Store) checkUpdated(ctx context.Context, res sql.Result, speakerID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, getErr := s.Get(ctx, speakerID); errors.Is(getErr, ErrNotFound) {
			return ErrNotFound
		}
		return ErrTerminal
	}
	return nil
}

// Pending lists profiles still waiting on a build, oldest first. Used to
// resume interrupted builds on startup.
func (s *Store) Pending(ctx context.Context) ([]Profile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT speaker_id, status, sample_ref, COALESCE(artifact_ref, ''), COALESCE(failure_reason, ''), created_at, updated_at
		 FROM voice_profiles WHERE status = ? ORDER BY created_at ASC`, StatusPending)
	if err != nil {
		return nil, fmt.Errorf("query pending profiles: %w", err)
	}
	defer rows.Close()

	var out []Profile
	for rows.Next() {
		var p Profile
		if err := rows.Scan(&p.SpeakerID, &p.Status, &p.SampleRef, &p.ArtifactRef, &p.FailureReason, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
