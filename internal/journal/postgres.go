package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlTranscripts = `
CREATE TABLE IF NOT EXISTS transcripts (
    id          BIGSERIAL    PRIMARY KEY,
    segment_id  TEXT         NOT NULL,
    text        TEXT         NOT NULL,
    language    TEXT         NOT NULL DEFAULT '',
    task        TEXT         NOT NULL DEFAULT '',
    audio_ms    BIGINT       NOT NULL DEFAULT 0,
    rule        TEXT         NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_transcripts_created_at
    ON transcripts (created_at);
`

var _ Journal = (*Store)(nil)

// Store is a PostgreSQL-backed [Journal]. All methods are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn, verifies the connection and creates the
// transcripts table if needed.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("journal: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("journal: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Migrate creates the transcripts table and its index. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlTranscripts); err != nil {
		return fmt.Errorf("journal: migrate: %w", err)
	}
	return nil
}

// Write implements [Journal].
func (s *Store) Write(ctx context.Context, e Entry) error {
	const q = `
		INSERT INTO transcripts
		    (segment_id, text, language, task, audio_ms, rule, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.pool.Exec(ctx, q,
		e.SegmentID,
		e.Text,
		e.Language,
		e.Task,
		e.Audio.Milliseconds(),
		e.Rule,
		created,
	)
	if err != nil {
		return fmt.Errorf("journal: write: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	const q = `
		SELECT segment_id, text, language, task, audio_ms, rule, created_at
		FROM   transcripts
		ORDER  BY created_at DESC, id DESC
		LIMIT  $1`

	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: recent: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var (
			e       Entry
			audioMS int64
		)
		if err := row.Scan(&e.SegmentID, &e.Text, &e.Language, &e.Task, &audioMS, &e.Rule, &e.CreatedAt); err != nil {
			return Entry{}, err
		}
		e.Audio = time.Duration(audioMS) * time.Millisecond
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("journal: scan rows: %w", err)
	}
	return entries, nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close implements [Journal].
func (s *Store) Close() {
	s.pool.Close()
}
