package handlers

import (
	"context"
	"errors"
	"subtracker/internal/models"
	"subtracker/internal/store"
	"sync"
	"time"
)

var errSyncTimeout = errors.New("timed out waiting for subscriptions")

// registry keeps one running store per user.
type registry struct {
	newStore func(userID string) *store.Store

	mu     sync.Mutex
	stores map[string]*store.Store
}

func newRegistry(newStore func(userID string) *store.Store) *registry {
	return &registry{newStore: newStore, stores: make(map[string]*store.Store)}
}

// get returns the store of userID, starting it on first use and waiting for
// its first snapshot.
func (r *registry) get(ctx context.Context, userID string, timeout time.Duration) (*store.Store, error) {
	r.mu.Lock()
	st, ok := r.stores[userID]
	if !ok {
		st = r.newStore(userID)
		if err := st.Start(); err != nil {
			r.mu.Unlock()
			return nil, err
		}
		r.stores[userID] = st
	}
	r.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-st.Synced():
		return st, nil
	case <-timer.C:
		return nil, errSyncTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *registry) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, st := range r.stores {
		st.Stop()
		delete(r.stores, id)
	}
}

// waitFor blocks until cond holds for the store's snapshot. Writes only show
// up once the collection echoes them, so handlers use this to answer with
// the stored state.
func waitFor(ctx context.Context, st *store.Store, timeout time.Duration, cond func([]models.Subscription) bool) error {
	ready := make(chan struct{})
	var once sync.Once
	off := st.OnChange(func(subs []models.Subscription) {
		if cond(subs) {
			once.Do(func() { close(ready) })
		}
	})
	defer off()

	if cond(st.GetAll()) {
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ready:
		return nil
	case <-timer.C:
		return errSyncTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func hasID(id string) func([]models.Subscription) bool {
	return func(subs []models.Subscription) bool {
		for _, s := range subs {
			if s.ID == id {
				return true
			}
		}
		return false
	}
}

func lacksID(id string) func([]models.Subscription) bool {
	has := hasID(id)
	return func(subs []models.Subscription) bool { return !has(subs) }
}

// updatedSince holds once the subscription id carries a newer UpdatedAt
// than before. Storage moves UpdatedAt forward on every write, also when two
// writes land within one clock tick.
func updatedSince(id string, before time.Time) func([]models.Subscription) bool {
	return func(subs []models.Subscription) bool {
		for _, s := range subs {
			if s.ID == id {
				return s.UpdatedAt.After(before)
			}
		}
		return false
	}
}
