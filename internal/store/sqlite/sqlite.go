// Package sqlite is a single-file durable store.Store backed by the pure-Go
// modernc SQLite driver. Notification dedup is enforced by a UNIQUE
// constraint on (subscriber_id, identity_key).
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/couchcryptid/hazard-alert-service/internal/domain"
	"github.com/couchcryptid/hazard-alert-service/internal/severity"
	"github.com/couchcryptid/hazard-alert-service/internal/store"
)

//go:embed schema.sql
var schema string

// Store implements store.Store on SQLite.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serializes writers and keeps the check-then-write
	// in UpsertEvent atomic.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() error { return s.db.Close() }

// --- hazard events ---

func (s *Store) UpsertEvent(ctx context.Context, e domain.HazardEvent) (bool, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return false, fmt.Errorf("marshal event: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var exists bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM hazard_events WHERE identity_key = ?)`, e.IdentityKey,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("check event: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO hazard_events(identity_key, kind, observed_at, synthetic, payload)
		 VALUES(?, ?, ?, ?, ?)
		 ON CONFLICT(identity_key) DO UPDATE SET
		   kind = excluded.kind,
		   observed_at = excluded.observed_at,
		   synthetic = excluded.synthetic,
		   payload = excluded.payload`,
		e.IdentityKey, string(e.Kind), e.ObservedAt.UnixMilli(), e.IsSynthetic, string(payload),
	); err != nil {
		return false, fmt.Errorf("upsert event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit upsert: %w", err)
	}
	return !exists, nil
}

func (s *Store) GetEvent(ctx context.Context, identityKey string) (domain.HazardEvent, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM hazard_events WHERE identity_key = ?`, identityKey,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.HazardEvent{}, store.ErrNotFound
	}
	if err != nil {
		return domain.HazardEvent{}, fmt.Errorf("get event: %w", err)
	}
	var e domain.HazardEvent
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
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
		where = append(where, "kind = ?")
		args = append(args, string(q.Kind))
	}
	if !q.Since.IsZero() {
		where = append(where, "observed_at >= ?")
		args = append(args, q.Since.UnixMilli())
	}
	query := `SELECT payload FROM hazard_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY observed_at DESC, identity_key"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []domain.HazardEvent
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var e domain.HazardEvent
		if err := json.Unmarshal([]byte(payload), &e); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) DeleteSyntheticEvents(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM hazard_events WHERE synthetic = 1`)
	if err != nil {
		return 0, fmt.Errorf("delete synthetic events: %w", err)
	}
	return res.RowsAffected()
}

// --- subscribers ---

func (s *Store) PutSubscriber(ctx context.Context, sub domain.Subscriber) error {
	payload, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("marshal subscriber: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO subscribers(id, updated_at, payload) VALUES(?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at, payload = excluded.payload`,
		sub.ID, sub.UpdatedAt.UnixMilli(), string(payload),
	)
	if err != nil {
		return fmt.Errorf("put subscriber: %w", err)
	}
	return nil
}

func (s *Store) GetSubscriber(ctx context.Context, id string) (domain.Subscriber, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM subscribers WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Subscriber{}, store.ErrNotFound
	}
	if err != nil {
		return domain.Subscriber{}, fmt.Errorf("get subscriber: %w", err)
	}
	var sub domain.Subscriber
	if err := json.Unmarshal([]byte(payload), &sub); err != nil {
		return domain.Subscriber{}, fmt.Errorf("decode subscriber %s: %w", id, err)
	}
	return sub, nil
}

func (s *Store) ListSubscribers(ctx context.Context) ([]domain.Subscriber, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM subscribers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	defer rows.Close()

	var out []domain.Subscriber
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		var sub domain.Subscriber
		if err := json.Unmarshal([]byte(payload), &sub); err != nil {
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
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications(`+notificationColumns+`)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(subscriber_id, identity_key) DO NOTHING`,
		n.ID, n.SubscriberID, n.IdentityKey, string(n.Kind), n.Severity.String(), n.Message,
		n.DistanceKm, n.Signal, n.Read, n.Synthetic, n.CreatedAt.UnixNano(),
	)
	if err != nil {
		return false, fmt.Errorf("insert notification: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert notification: %w", err)
	}
	return affected == 1, nil
}

func (s *Store) ListNotifications(ctx context.Context, subscriberID string, limit int) ([]domain.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications
		WHERE subscriber_id = ? ORDER BY created_at DESC, id`
	args := []any{subscriberID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func scanNotification(rows *sql.Rows) (domain.Notification, error) {
	var (
		n         domain.Notification
		kind, sev string
		distance  sql.NullFloat64
		signal    sql.NullInt64
		created   int64
	)
	if err := rows.Scan(&n.ID, &n.SubscriberID, &n.IdentityKey, &kind, &sev, &n.Message,
		&distance, &signal, &n.Read, &n.Synthetic, &created); err != nil {
		return domain.Notification{}, fmt.Errorf("scan notification: %w", err)
	}
	tier, err := severity.ParseTier(sev)
	if err != nil {
		return domain.Notification{}, fmt.Errorf("notification %s: %w", n.ID, err)
	}
	n.Kind = domain.Kind(kind)
	n.Severity = tier
	n.CreatedAt = time.Unix(0, created).UTC()
	if distance.Valid {
		n.DistanceKm = &distance.Float64
	}
	if signal.Valid {
		v := int(signal.Int64)
		n.Signal = &v
	}
	return n, nil
}

func (s *Store) CountUnread(ctx context.Context, subscriberID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE subscriber_id = ? AND is_read = 0`, subscriberID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return count, nil
}

func (s *Store) MarkRead(ctx context.Context, subscriberID, notificationID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = 1 WHERE id = ? AND subscriber_id = ?`,
		notificationID, subscriberID,
	)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return requireOne(res)
}

func (s *Store) MarkAllRead(ctx context.Context, subscriberID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = 1 WHERE subscriber_id = ? AND is_read = 0`, subscriberID,
	)
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) DeleteNotification(ctx context.Context, subscriberID, notificationID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM notifications WHERE id = ? AND subscriber_id = ?`, notificationID, subscriberID,
	)
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	return requireOne(res)
}

func (s *Store) DeleteSyntheticNotifications(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notifications WHERE synthetic = 1`)
	if err != nil {
		return 0, fmt.Errorf("delete synthetic notifications: %w", err)
	}
	return res.RowsAffected()
}

func requireOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
