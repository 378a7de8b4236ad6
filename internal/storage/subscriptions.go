package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"subtracker/internal/models"

	"github.com/google/uuid"
)

// Subscriptions is the per-user subscription document collection. Every
// committed write wakes the watchers registered for the affected user.
type Subscriptions struct {
	db *DB
}

// Subscriptions returns the subscription collection backed by db.
func (db *DB) Subscriptions() *Subscriptions {
	return &Subscriptions{db: db}
}

// Add stores rec as a new document and returns its assigned ID. The ID and
// timestamps in rec are overwritten.
func (s *Subscriptions) Add(ctx context.Context, userID string, rec models.Record) (string, error) {
	now := s.db.now().UTC()
	rec.ID = uuid.NewString()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	data, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}
	_, err = s.db.conn.ExecContext(ctx,
		"INSERT INTO subscriptions (id, user_id, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		rec.ID, userID, string(data), now.UnixNano(), now.UnixNano(),
	)
	if err != nil {
		return "", err
	}

	s.db.notify(userID)
	return rec.ID, nil
}

// Update loads the document id, passes it to mutate and stores the result,
// all in one transaction. An error from mutate aborts the write and is
// returned unchanged. The ID and creation time are kept from the stored row,
// and UpdatedAt is always later than the stored one.
func (s *Subscriptions) Update(ctx context.Context, userID, id string, mutate func(models.Record) (models.Record, error)) error {
	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var (
		data      string
		createdAt int64
	)
	err = tx.QueryRowContext(ctx,
		"SELECT data, created_at FROM subscriptions WHERE id = ? AND user_id = ?",
		id, userID,
	).Scan(&data, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}

	var stored models.Record
	if err := json.Unmarshal([]byte(data), &stored); err != nil {
		return err
	}
	rec, err := mutate(stored)
	if err != nil {
		return err
	}

	// UpdatedAt strictly increases with every write, even when the clock
	// has not moved since the previous one.
	now := s.db.now().UTC()
	if !now.After(stored.UpdatedAt) {
		now = stored.UpdatedAt.UTC().Add(time.Nanosecond)
	}
	rec.ID = id
	rec.CreatedAt = time.Unix(0, createdAt).UTC()
	rec.UpdatedAt = now

	out, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE subscriptions SET data = ?, updated_at = ? WHERE id = ? AND user_id = ?",
		string(out), now.UnixNano(), id, userID,
	); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	s.db.notify(userID)
	return nil
}

// Delete removes the document id.
func (s *Subscriptions) Delete(ctx context.Context, userID, id string) error {
	result, err := s.db.conn.ExecContext(ctx,
		"DELETE FROM subscriptions WHERE id = ? AND user_id = ?",
		id, userID,
	)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}

	s.db.notify(userID)
	return nil
}

// List returns the user's documents, newest first.
func (s *Subscriptions) List(ctx context.Context, userID string) ([]models.Record, error) {
	rows, err := s.db.conn.QueryContext(ctx,
		"SELECT data FROM subscriptions WHERE user_id = ? ORDER BY created_at DESC, id",
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []models.Record{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var rec models.Record
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ListSubscriptions is List converted to subscriptions.
func (s *Subscriptions) ListSubscriptions(ctx context.Context, userID string) ([]models.Subscription, error) {
	records, err := s.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	subs := make([]models.Subscription, len(records))
	for i, rec := range records {
		subs[i] = models.FromRecord(rec)
	}
	return subs, nil
}

// UserIDs returns every user that owns at least one document.
func (s *Subscriptions) UserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.conn.QueryContext(ctx, "SELECT DISTINCT user_id FROM subscriptions ORDER BY user_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Watch delivers the user's full document list to onSnapshot once
// immediately and again after every committed write. Deliveries for one
// watch are sequential; writes that land while a delivery is pending are
// coalesced into a single snapshot. Query failures go to onError, which
// may be nil. The returned function cancels the watch.
func (s *Subscriptions) Watch(userID string, onSnapshot func([]models.Record), onError func(error)) (cancel func()) {
	w := &watcher{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	db := s.db
	db.mu.Lock()
	db.nextID++
	id := db.nextID
	if db.watchers[userID] == nil {
		db.watchers[userID] = make(map[uint64]*watcher)
	}
	db.watchers[userID][id] = w
	db.mu.Unlock()

	w.poke()
	go s.deliver(w, userID, onSnapshot, onError)

	return func() {
		w.stop()
		db.mu.Lock()
		delete(db.watchers[userID], id)
		if len(db.watchers[userID]) == 0 {
			delete(db.watchers, userID)
		}
		db.mu.Unlock()
	}
}

func (s *Subscriptions) deliver(w *watcher, userID string, onSnapshot func([]models.Record), onError func(error)) {
	for {
		select {
		case <-w.done:
			return
		case <-w.notify:
		}

		records, err := s.List(context.Background(), userID)
		if w.stopped() {
			return
		}
		if err != nil {
			if onError != nil {
				onError(err)
			}
			continue
		}
		onSnapshot(records)
	}
}

func (db *DB) notify(userID string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, w := range db.watchers[userID] {
		w.poke()
	}
}

type watcher struct {
	notify chan struct{}
	done   chan struct{}
	once   sync.Once
}

func (w *watcher) poke() {
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

func (w *watcher) stop() {
	w.once.Do(func() { close(w.done) })
}

func (w *watcher) stopped() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}
