// Package pg persists the audit chain in Postgres. Appends run inside a
// transaction that locks the current tail row, so concurrent writers are
// serialized and prev_hash always links against the true tail.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"vaultkit.org/internal/audit"
	"vaultkit.org/internal/ids"
	"vaultkit.org/internal/vault"
)

type Store struct {
	db   *sql.DB
	hash audit.HashFn
	now  func() time.Time
}

var _ audit.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithHashFn replaces the default sha256 digest.
func WithHashFn(fn audit.HashFn) Option {
	return func(s *Store) {
		if fn != nil {
			s.hash = fn
		}
	}
}

// WithClock overrides the timestamp source (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Open connects to Postgres via the pgx stdlib driver.
func Open(dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return NewStore(db, opts...), nil
}

// NewStore wraps an existing handle (tests inject a mock here).
func NewStore(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, hash: audit.DefaultHash, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Append links a new event against the persisted tail and inserts it.
func (s *Store) Append(ctx context.Context, e audit.Entry) (vault.AuditEvent, error) {
	if e.ActorID == "" {
		return vault.AuditEvent{}, audit.ErrMissingActor
	}
	if e.Action == "" {
		return vault.AuditEvent{}, audit.ErrMissingAction
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return vault.AuditEvent{}, err
	}
	defer func() { _ = tx.Rollback() }()

	// Locking the tail row serializes concurrent appenders.
	var prevHash string
	err = tx.QueryRowContext(ctx,
		`select hash from audit_events order by seq desc limit 1 for update`,
	).Scan(&prevHash)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return vault.AuditEvent{}, err
	}

	event := vault.AuditEvent{
		ID: ids.Prefixed("evt"),
		// timestamptz keeps microseconds; hash what the column will
		// return, or read-back verification breaks the chain.
		Timestamp:   s.now().UTC().Truncate(time.Microsecond),
		ActorID:     e.ActorID,
		ActorType:   e.ActorType,
		Action:      e.Action,
		ResourceID:  e.ResourceID,
		Plane:       e.Plane,
		Metadata:    e.Metadata,
		PrevHash:    prevHash,
		PrincipalID: e.PrincipalID,
		AgentModel:  e.AgentModel,
		Intent:      e.Intent,
	}
	event.Hash = s.hash(event)

	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return vault.AuditEvent{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		insert into audit_events
			(id, ts, actor_id, actor_type, action, resource_id, plane, metadata, prev_hash, hash, principal_id, agent_model, intent)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`,
		event.ID, event.Timestamp, event.ActorID, string(event.ActorType), string(event.Action),
		nullable(event.ResourceID), string(event.Plane), metadata, event.PrevHash, event.Hash,
		nullable(event.PrincipalID), nullable(event.AgentModel), nullable(event.Intent),
	); err != nil {
		return vault.AuditEvent{}, err
	}

	if err := tx.Commit(); err != nil {
		return vault.AuditEvent{}, err
	}
	return event, nil
}

// Events returns the full chain in append order.
func (s *Store) Events(ctx context.Context) ([]vault.AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, ts, actor_id, actor_type, action, resource_id, plane, metadata, prev_hash, hash, principal_id, agent_model, intent
		from audit_events order by seq asc
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []vault.AuditEvent
	for rows.Next() {
		var (
			e          vault.AuditEvent
			actorType  string
			action     string
			plane      string
			resourceID sql.NullString
			metadata   []byte
			principal  sql.NullString
			agentModel sql.NullString
			intent     sql.NullString
		)
		if err := rows.Scan(
			&e.ID, &e.Timestamp, &e.ActorID, &actorType, &action,
			&resourceID, &plane, &metadata, &e.PrevHash, &e.Hash,
			&principal, &agentModel, &intent,
		); err != nil {
			return nil, err
		}
		// The driver may hand back a session-local zone; the hash
		// committed to UTC.
		e.Timestamp = e.Timestamp.UTC()
		e.ActorType = vault.ActorType(actorType)
		e.Action = vault.AuditAction(action)
		e.Plane = vault.Plane(plane)
		e.ResourceID = resourceID.String
		e.PrincipalID = principal.String
		e.AgentModel = agentModel.String
		e.Intent = intent.String
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, err
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Len returns the number of persisted events.
func (s *Store) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `select count(*) from audit_events`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
