// Package postgres is a store.Store backed by PostgreSQL through pgx. It
// suits deployments that run more than one service instance against a
// shared database.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/couchcryptid/hazard-alert-service/internal/domain"
	"github.com/couchcryptid/hazard-alert-service/internal/severity"
	"github.com/couchcryptid/hazard-alert-service/internal/store"
)

//go:embed schema.sql
var schema string

// DB is the subset of pgxpool.Pool the store uses. pgxmock satisfies it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
	Close()
}

// Store implements store.Store on PostgreSQL.
type Store struct {
	db DB
}

var _ store.Store = (*Store)(nil)

// Open connects to databaseURL, verifies the connection and applies the schema.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, errors.New("database url is required")
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := NewWithDB(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB wraps an existing connection, typically a mock in tests.
func NewWithDB(db DB) *Store {
	return &Store{db: db}
}

// Migrate applies the embedded schema. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply postgres schema: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return s.db.Ping(ctx) }

func (s *Store) Close() error {
	s.db.Close()
	return nil
}

// --- hazard events ---

func (s *Store) UpsertEvent(ctx context.Context, e domain.HazardEvent) (bool, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return false, fmt.Errorf("marshal event: %w", err)
	}

	// xmax is zero only for a row version created by INSERT.
	query := `
		INSERT INTO hazard_events (identity_key, kind, observed_at, synthetic, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (identity_key) DO UPDATE
		SET kind = EXCLUDED.kind,
		    observed_at = EXCLUDED.observed_at,
		    synthetic = EXCLUDED.synthetic,
		    payload = EXCLUDED.payload
		RETURNING (xmax = 0) AS inserted
	`
	var inserted bool
	if err := s.db.QueryRow(ctx, query,
		e.IdentityKey, string(e.Kind), e.ObservedAt, e.IsSynthetic, payload,
	).Scan(&inserted); err != nil {
		return false, fmt.Errorf("upsert event: %w", err)
	}
	return inserted, nil
}

func (s *Store) GetEvent(ctx context.Context, identityKey string) (domain.HazardEvent, error) {
	var payload []byte
	err := s.db.QueryRow(ctx,
		`SELECT payload FROM hazard_events WHERE identity_key = $1`, identityKey,
	).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.HazardEvent{}, store.ErrNotFound
	}
	if err != nil {
		return domain.HazardEvent{}, fmt.Errorf("get event: %w", err)
	}
	var e domain.HazardEvent
	if err := json.Unmarshal(payload, &e); err != nil {
		return domain.HazardEvent{}, fmt.Errorf("decode event %s: %w", identityKey, err)
	}
	return e, nil
}

func (s *Store) ListEvents(ctx context.Context, q store.EventQuery) ([]domain.HazardEvent, error) {
	var (
		where []string
		args  []any
	)
	if q.Kind != "" {
		args = append(args, string(q.Kind))
		where = append(where, fmt.Sprintf("kind = $%d", len(args)))
	}
	if !q.Since.IsZero() {
		args = append(args, q.Since)
		where = append(where, fmt.Sprintf("observed_at >= $%d", len(args)))
	}
	query := `SELECT payload FROM hazard_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY observed_at DESC, identity_key"
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []domain.HazardEvent
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var e domain.HazardEvent
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) DeleteSyntheticEvents(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM hazard_events WHERE synthetic`)
	if err != nil {
		return 0, fmt.Errorf("delete synthetic events: %w", err)
	}
	return tag.RowsAffected(), nil
}

// --- subscribers ---

func (s *Store) PutSubscriber(ctx context.Context, sub domain.Subscriber) error {
	payload, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("marshal subscriber: %w", err)
	}
	query := `
		INSERT INTO subscribers (id, updated_at, payload)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET updated_at = EXCLUDED.updated_at,
		    payload = EXCLUDED.payload
	`
	if _, err := s.db.Exec(ctx, query, sub.ID, sub.UpdatedAt, payload); err != nil {
		return fmt.Errorf("put subscriber: %w", err)
	}
	return nil
}

func (s *Store) GetSubscriber(ctx context.Context, id string) (domain.Subscriber, error) {
	var payload []byte
	err := s.db.QueryRow(ctx, `SELECT payload FROM subscribers WHERE id = $1`, id).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Subscriber{}, store.ErrNotFound
	}
	if err != nil {
		return domain.Subscriber{}, fmt.Errorf("get subscriber: %w", err)
	}
	var sub domain.Subscriber
	if err := json.Unmarshal(payload, &sub); err != nil {
		return domain.Subscriber{}, fmt.Errorf("decode subscriber %s: %w", id, err)
	}
	return sub, nil
}

func (s *Store) ListSubscribers(ctx context.Context) ([]domain.Subscriber, error) {
	rows, err := s.db.Query(ctx, `SELECT payload FROM subscribers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	defer rows.Close()

	var out []domain.Subscriber
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		var sub domain.Subscriber
		if err := json.Unmarshal(payload, &sub); err != nil {
			return nil, fmt.Errorf("decode subscriber: %w", err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// --- notifications ---

const notificationColumns = `id, subscriber_id, identity_key, kind, severity, message,
	distance_km, signal_number, is_read, synthetic, created_at`

func (s *Store) InsertNotificationIfAbsent(ctx context.Context, n domain.Notification) (bool, error) {
	query := `
		INSERT INTO notifications (` + notificationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (subscriber_id, identity_key) DO NOTHING
	`
	tag, err := s.db.Exec(ctx, query,
		n.ID, n.SubscriberID, n.IdentityKey, string(n.Kind), n.Severity.String(), n.Message,
		n.DistanceKm, n.Signal, n.Read, n.Synthetic, n.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert notification: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) ListNotifications(ctx context.Context, subscriberID string, limit int) ([]domain.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications
		WHERE subscriber_id = $1 ORDER BY created_at DESC, id`
	args := []any{subscriberID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []domain.Notification
	for rows.Next() {
		var (
			n         domain.Notification
			kind, sev string
		)
		if err := rows.Scan(&n.ID, &n.SubscriberID, &n.IdentityKey, &kind, &sev, &n.Message,
			&n.DistanceKm, &n.Signal, &n.Read, &n.Synthetic, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		tier, err := severity.ParseTier(sev)
		if err != nil {
			return nil, fmt.Errorf("notification %s: %w", n.ID, err)
		}
		n.Kind = domain.Kind(kind)
		n.Severity = tier
		n.CreatedAt = n.CreatedAt.UTC()
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) CountUnread(ctx context.Context, subscriberID string) (int, error) {
	var count int
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications WHERE subscriber_id = $1 AND NOT is_read`, subscriberID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return count, nil
}

func (s *Store) MarkRead(ctx context.Context, subscriberID, notificationID string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE notifications SET is_read = TRUE WHERE id = $1 AND subscriber_id = $2`,
		notificationID, subscriberID,
	)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) MarkAllRead(ctx context.Context, subscriberID string) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE notifications SET is_read = TRUE WHERE subscriber_id = $1 AND NOT is_read`, subscriberID,
	)
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) DeleteNotification(ctx context.Context, subscriberID, notificationID string) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM notifications WHERE id = $1 AND subscriber_id = $2`, notificationID, subscriberID,
	)
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteSyntheticNotifications(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM notifications WHERE synthetic`)
	if err != nil {
		return 0, fmt.Errorf("delete synthetic notifications: %w", err)
	}
	return tag.RowsAffected(), nil
}
