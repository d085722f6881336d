package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voxdesk/voxdesk/internal/tenant"
)

// Compile-time interface assertion.
var _ tenant.Store = (*Store)(nil)

// Store is the PostgreSQL-backed tenant.Store. All operations are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore establishes a connection pool to the database at dsn, verifies it
// with a ping, and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("tenant store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("tenant store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies database connectivity. Used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const profileColumns = `id, user_id, name, services, hours, tone, greeting,
	phone_number, plan, minutes_limit, minutes_used, created_at, updated_at`

func scanProfile(row pgx.Row) (*tenant.BusinessProfile, error) {
	var p tenant.BusinessProfile
	err := row.Scan(
		&p.ID, &p.UserID, &p.Name, &p.Services, &p.Hours, &p.Tone, &p.Greeting,
		&p.PhoneNumber, &p.Plan, &p.MinutesLimit, &p.MinutesUsed,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, tenant.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("tenant store: scan profile: %w", err)
	}
	return &p, nil
}

// GetProfile implements tenant.Store.
func (s *Store) GetProfile(ctx context.Context, id string) (*tenant.BusinessProfile, error) {
	q := "SELECT " + profileColumns + " FROM business_profiles WHERE id = $1"
	return scanProfile(s.pool.QueryRow(ctx, q, id))
}

// GetProfileByPhone implements tenant.Store.
func (s *Store) GetProfileByPhone(ctx context.Context, number string) (*tenant.BusinessProfile, error) {
	q := "SELECT " + profileColumns + " FROM business_profiles WHERE phone_number = $1"
	return scanProfile(s.pool.QueryRow(ctx, q, number))
}

// SaveProfile implements tenant.Store. Inserts a new row or updates the
// existing one by ID.
func (s *Store) SaveProfile(ctx context.Context, p *tenant.BusinessProfile) error {
	const q = `
		INSERT INTO business_profiles
		    (id, user_id, name, services, hours, tone, greeting,
		     phone_number, plan, minutes_limit, minutes_used)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
		    user_id       = EXCLUDED.user_id,
		    name          = EXCLUDED.name,
		    services      = EXCLUDED.services,
		    hours         = EXCLUDED.hours,
		    tone          = EXCLUDED.tone,
		    greeting      = EXCLUDED.greeting,
		    phone_number  = EXCLUDED.phone_number,
		    plan          = EXCLUDED.plan,
		    minutes_limit = EXCLUDED.minutes_limit,
		    minutes_used  = EXCLUDED.minutes_used,
		    updated_at    = now()`

	_, err := s.pool.Exec(ctx, q,
		p.ID, p.UserID, p.Name, p.Services, p.Hours, p.Tone, p.Greeting,
		p.PhoneNumber, p.Plan, p.MinutesLimit, p.MinutesUsed,
	)
	if err != nil {
		return fmt.Errorf("tenant store: save profile: %w", err)
	}
	return nil
}

// AddMinutes implements tenant.Store. The increment happens inside the
// database so concurrent calls for the same profile all apply.
func (s *Store) AddMinutes(ctx context.Context, profileID string, minutes int) (int, error) {
	const q = `
		UPDATE business_profiles
		SET    minutes_used = minutes_used + $2,
		       updated_at   = now()
		WHERE  id = $1
		RETURNING minutes_used`

	var used int
	err := s.pool.QueryRow(ctx, q, profileID, minutes).Scan(&used)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, tenant.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("tenant store: add minutes: %w", err)
	}
	return used, nil
}

// StartCall implements tenant.Store. A missing ID is filled with a fresh UUID.
func (s *Store) StartCall(ctx context.Context, c *tenant.CallLog) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.StartedAt.IsZero() {
		c.StartedAt = time.Now()
	}
	status := c.Status
	if status == "" {
		status = "in-progress"
	}

	const q = `
		INSERT INTO call_logs (id, profile_id, call_sid, from_number, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.pool.Exec(ctx, q, c.ID, c.ProfileID, c.CallSID, c.From, status, c.StartedAt)
	if err != nil {
		return fmt.Errorf("tenant store: start call: %w", err)
	}
	return nil
}

// AppendTurn implements tenant.Store. The turn is appended to the JSONB
// transcript array in the database, so earlier turns are never lost.
func (s *Store) AppendTurn(ctx context.Context, callSID string, t tenant.Turn) error {
	if t.At.IsZero() {
		t.At = time.Now()
	}
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("tenant store: marshal turn: %w", err)
	}

	const q = `
		UPDATE call_logs
		SET    transcript = transcript || $2::jsonb
		WHERE  call_sid = $1`

	tag, err := s.pool.Exec(ctx, q, callSID, payload)
	if err != nil {
		return fmt.Errorf("tenant store: append turn: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return tenant.ErrNotFound
	}
	return nil
}

// CompleteCall implements tenant.Store.
func (s *Store) CompleteCall(ctx context.Context, callSID, status string, durationSeconds int) error {
	const q = `
		UPDATE call_logs
		SET    status = $2, duration_seconds = $3, ended_at = now()
		WHERE  call_sid = $1`

	tag, err := s.pool.Exec(ctx, q, callSID, status, durationSeconds)
	if err != nil {
		return fmt.Errorf("tenant store: complete call: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return tenant.ErrNotFound
	}
	return nil
}

// GetCallBySID implements tenant.Store.
func (s *Store) GetCallBySID(ctx context.Context, callSID string) (*tenant.CallLog, error) {
	const q = `
		SELECT id, profile_id, call_sid, from_number, status, transcript,
		       duration_seconds, started_at, COALESCE(ended_at, 'epoch'::timestamptz)
		FROM   call_logs
		WHERE  call_sid = $1`

	var (
		c          tenant.CallLog
		transcript []byte
	)
	err := s.pool.QueryRow(ctx, q, callSID).Scan(
		&c.ID, &c.ProfileID, &c.CallSID, &c.From, &c.Status, &transcript,
		&c.DurationSeconds, &c.StartedAt, &c.EndedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, tenant.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("tenant store: get call: %w", err)
	}
	if err := json.Unmarshal(transcript, &c.Transcript); err != nil {
		return nil, fmt.Errorf("tenant store: decode transcript: %w", err)
	}
	if c.EndedAt.Unix() == 0 {
		c.EndedAt = time.Time{}
	}
	return &c, nil
}
