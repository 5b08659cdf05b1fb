// Package store archives finished voice sessions in Postgres: transcript,
// notes, appointments, summary, and the mixed recording.
package store

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/calliope-voice/calliope/pkg/voice"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is a Postgres-backed session archive.
type Store struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, dsn string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool, log: log}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Migrate applies the embedded schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// SessionRecord is the archived header row for one session.
type SessionRecord struct {
	ID        string
	AgentName string
	Model     string
	StartedAt time.Time
	EndedAt   time.Time
	Summary   string
}

func (r SessionRecord) validate() error {
	if r.ID == "" {
		return fmt.Errorf("session record missing id")
	}
	if r.StartedAt.IsZero() {
		return fmt.Errorf("session record missing start time")
	}
	return nil
}

// SaveSession archives one finished session atomically. A nil or empty
// recording archives no audio row.
func (s *Store) SaveSession(ctx context.Context, rec SessionRecord, transcript []voice.TranscriptSegment, notes []string, events []voice.CalendarEvent, recording *voice.RecordingArtifact) error {
	if err := rec.validate(); err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO sessions (id, agent_name, model, started_at, ended_at, summary)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.AgentName, rec.Model, rec.StartedAt, rec.EndedAt, rec.Summary,
	); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	for i, seg := range transcript {
		if _, err := tx.Exec(ctx,
			`INSERT INTO transcript_segments (session_id, ord, speaker, content, final)
			 VALUES ($1, $2, $3, $4, $5)`,
			rec.ID, i, string(seg.Speaker), seg.Text, seg.Final,
		); err != nil {
			return fmt.Errorf("insert transcript segment %d: %w", i, err)
		}
	}

	for i, note := range notes {
		if _, err := tx.Exec(ctx,
			`INSERT INTO notes (session_id, ord, content) VALUES ($1, $2, $3)`,
			rec.ID, i, note,
		); err != nil {
			return fmt.Errorf("insert note %d: %w", i, err)
		}
	}

	for i, ev := range events {
		if _, err := tx.Exec(ctx,
			`INSERT INTO calendar_events (session_id, ord, title, start_time, end_time, description)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			rec.ID, i, ev.Title, ev.StartTime, ev.EndTime, ev.Description,
		); err != nil {
			return fmt.Errorf("insert calendar event %d: %w", i, err)
		}
	}

	if !recording.Empty() {
		if _, err := tx.Exec(ctx,
			`INSERT INTO recordings (session_id, audio, duration_ms) VALUES ($1, $2, $3)`,
			rec.ID, recording.Bytes(), recording.Duration().Milliseconds(),
		); err != nil {
			return fmt.Errorf("insert recording: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.log.Info("session archived", "session_id", rec.ID,
		"segments", len(transcript), "notes", len(notes), "events", len(events))
	return nil
}

// RecentSessions lists the newest session headers, most recent first.
func (s *Store) RecentSessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, agent_name, model, started_at, ended_at, summary
		 FROM sessions ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		if err := rows.Scan(&rec.ID, &rec.AgentName, &rec.Model, &rec.StartedAt, &rec.EndedAt, &rec.Summary); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Transcript loads the ordered transcript of an archived session.
func (s *Store) Transcript(ctx context.Context, sessionID string) ([]voice.TranscriptSegment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT speaker, content, final FROM transcript_segments
		 WHERE session_id = $1 ORDER BY ord`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query transcript: %w", err)
	}
	defer rows.Close()

	var out []voice.TranscriptSegment
	for rows.Next() {
		var speaker string
		var seg voice.TranscriptSegment
		if err := rows.Scan(&speaker, &seg.Text, &seg.Final); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		seg.Speaker = voice.Speaker(speaker)
		out = append(out, seg)
	}
	return out, rows.Err()
}
