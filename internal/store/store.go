package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/andresmejia3/turnstile/internal/types"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// Store manages the PostgreSQL pool: reference embeddings and the attendance log.
// It is safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// IdentitySummary is one enrolled person.
type IdentitySummary struct {
	Label        string
	Count        int
	LastEnrolled time.Time
}

// EventFilter narrows ListEvents. Zero values mean "no bound".
type EventFilter struct {
	Identity string
	Since    time.Time
	Until    time.Time
	Limit    int
}

// New opens a pool and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

// initSchema creates the tables and vector extension if they don't exist (Auto-Migration).
// The embedding column is left without a dimension so any face model can be enrolled.
func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	query := `
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS known_identities (
			id BIGSERIAL PRIMARY KEY,
			label TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			embedding VECTOR NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			UNIQUE (label, source)
		);
		CREATE TABLE IF NOT EXISTS attendance_events (
			id BIGSERIAL PRIMARY KEY,
			identity_label TEXT NOT NULL,
			status TEXT NOT NULL CHECK (status IN ('IN', 'OUT')),
			recorded_at TIMESTAMPTZ NOT NULL,
			session_id TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS attendance_events_recorded_at_idx ON attendance_events (recorded_at);
		CREATE INDEX IF NOT EXISTS attendance_events_label_idx ON attendance_events (identity_label);
	`
	_, err := pool.Exec(ctx, query)
	return err
}

// Close releases every pooled connection.
func (s *Store) Close() {
	s.pool.Close()
}

// AddIdentity stores one reference embedding. Re-enrolling the same label and
// source replaces the embedding.
func (s *Store) AddIdentity(ctx context.Context, label, source string, embedding []float64) (int64, error) {
	if label == "" {
		return 0, fmt.Errorf("identity label is empty")
	}
	if len(embedding) == 0 {
		return 0, fmt.Errorf("identity %q has an empty embedding", label)
	}

	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO known_identities (label, source, embedding)
		VALUES ($1, $2, $3::vector)
		ON CONFLICT (label, source) DO UPDATE SET embedding = EXCLUDED.embedding, created_at = NOW()
		RETURNING id
	`, label, source, pgvector.NewVector(toFloat32(embedding))).Scan(&id)
	return id, err
}

// DeleteIdentity removes every embedding of label and reports how many were removed.
func (s *Store) DeleteIdentity(ctx context.Context, label string) (int64, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM known_identities WHERE label = $1", label)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// RenameIdentity moves every embedding of oldLabel to newLabel.
func (s *Store) RenameIdentity(ctx context.Context, oldLabel, newLabel string) (int64, error) {
	if newLabel == "" {
		return 0, fmt.Errorf("identity label is empty")
	}
	tag, err := s.pool.Exec(ctx, "UPDATE known_identities SET label = $2 WHERE label = $1", oldLabel, newLabel)
	if err != nil {
		return 0, fmt.Errorf("failed to rename identity %q: %w", oldLabel, err)
	}
	return tag.RowsAffected(), nil
}

// LoadKnownIdentities returns every reference embedding in insertion order.
// The order is stable so nearest-neighbour ties resolve the same way every session.
func (s *Store) LoadKnownIdentities(ctx context.Context) ([]types.KnownIdentity, error) {
	rows, err := s.pool.Query(ctx, "SELECT label, embedding FROM known_identities ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query known identities: %w", err)
	}
	defer rows.Close()

	var known []types.KnownIdentity
	for rows.Next() {
		var label string
		var vec pgvector.Vector
		if err := rows.Scan(&label, &vec); err != nil {
			return nil, fmt.Errorf("scan known identity: %w", err)
		}
		known = append(known, types.KnownIdentity{ID: label, Embedding: toFloat64(vec.Slice())})
	}
	return known, rows.Err()
}

// ListIdentities groups reference embeddings by label.
func (s *Store) ListIdentities(ctx context.Context) ([]IdentitySummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT label, COUNT(*), MAX(created_at)
		FROM known_identities
		GROUP BY label
		ORDER BY label
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []IdentitySummary
	for rows.Next() {
		var i IdentitySummary
		if err := rows.Scan(&i.Label, &i.Count, &i.LastEnrolled); err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

// Append writes one attendance event. It makes the store usable as an engine sink.
func (s *Store) Append(ctx context.Context, ev types.AttendanceEvent) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO attendance_events (identity_label, status, recorded_at, session_id)
		VALUES ($1, $2, $3, $4)
	`, ev.IdentityID, string(ev.Status), ev.Time, ev.SessionID)
	if err != nil {
		return fmt.Errorf("insert attendance event: %w", err)
	}
	return nil
}

// ListEvents returns events oldest first.
func (s *Store) ListEvents(ctx context.Context, f EventFilter) ([]types.AttendanceEvent, error) {
	query, args := eventQuery(f)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query attendance events: %w", err)
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.AttendanceEvent, error) {
		var ev types.AttendanceEvent
		var status string
		if err := row.Scan(&ev.IdentityID, &status, &ev.Time, &ev.SessionID); err != nil {
			return ev, err
		}
		ev.Status = types.Status(status)
		return ev, nil
	})
}

func eventQuery(f EventFilter) (string, []any) {
	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if f.Identity != "" {
		add("identity_label = $%d", f.Identity)
	}
	if !f.Since.IsZero() {
		add("recorded_at >= $%d", f.Since)
	}
	if !f.Until.IsZero() {
		add("recorded_at < $%d", f.Until)
	}

	var b strings.Builder
	b.WriteString("SELECT identity_label, status, recorded_at, session_id FROM attendance_events")
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY recorded_at, id")
	if f.Limit > 0 {
		args = append(args, f.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	return b.String(), args
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		DROP TABLE IF EXISTS attendance_events CASCADE;
		DROP TABLE IF EXISTS known_identities CASCADE;
	`)
	return err
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
