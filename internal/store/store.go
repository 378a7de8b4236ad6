// Package store keeps the live subscription snapshot of the signed-in user.
//
// The Store is the only writer of subscription data. Mutations are sent to
// the persistence Collection and return once the collection acknowledges
// them; the in-memory snapshot changes only when the collection echoes the
// write back through its watch. Callers must not expect GetAll to reflect
// their own write as soon as Add, Update or Remove returns. Use OnChange to
// learn when a new snapshot is visible.
package store

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"subtracker/internal/billing"
	"subtracker/internal/models"
)

// Defaults applied to new subscriptions.
const (
	DefaultCurrency         = "SAR"
	DefaultIcon             = "📦"
	DefaultColor            = "#3498DB"
	DefaultNotifyDaysBefore = 3
)

// Collection is the persistence collaborator: an observable per-user
// document collection.
//
// Update must call mutate with the document as currently stored and write
// its result atomically, so concurrent updates never revert each other.
type Collection interface {
	Add(ctx context.Context, userID string, rec models.Record) (string, error)
	Update(ctx context.Context, userID, id string, mutate func(models.Record) (models.Record, error)) error
	Delete(ctx context.Context, userID, id string) error
	Watch(userID string, onSnapshot func([]models.Record), onError func(error)) (cancel func())
}

// IdentityProvider supplies the signed-in user's ID, or "" when nobody is
// signed in.
type IdentityProvider interface {
	CurrentUserID() string
}

// StaticIdentity is an IdentityProvider for a fixed user.
type StaticIdentity string

func (s StaticIdentity) CurrentUserID() string { return string(s) }

// Option configures a Store.
type Option func(*Store)

// WithClock sets the source of the current time.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger used for watch failures and listener panics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithDefaultCurrency sets the currency given to subscriptions added
// without one.
func WithDefaultCurrency(code string) Option {
	return func(s *Store) { s.defaultCurrency = code }
}

// Store owns the canonical subscription list of one user.
type Store struct {
	coll            Collection
	identity        IdentityProvider
	now             func() time.Time
	logger          *slog.Logger
	defaultCurrency string

	snapshot atomic.Pointer[[]models.Subscription]
	changes  *Emitter[[]models.Subscription]

	mu      sync.Mutex
	gen     uint64
	cancel  func()
	synced  chan struct{}
	didSync bool
}

// New creates a Store. Call Start to begin observing the collection.
func New(coll Collection, identity IdentityProvider, opts ...Option) *Store {
	s := &Store{
		coll:            coll,
		identity:        identity,
		now:             time.Now,
		defaultCurrency: DefaultCurrency,
		synced:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.changes = NewEmitter(s.logger, cloneAll)
	empty := []models.Subscription{}
	s.snapshot.Store(&empty)
	return s
}

// Start begins observing the signed-in user's collection, stopping any
// earlier observation first.
func (s *Store) Start() error {
	userID := s.userID()
	if userID == "" {
		return ErrNotAuthenticated
	}

	s.mu.Lock()
	s.stopLocked()
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	cancel := s.coll.Watch(userID,
		func(records []models.Record) { s.handleSnapshot(gen, records) },
		func(err error) { s.handleWatchError(gen, userID, err) },
	)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		// Stopped or restarted while Watch was being set up.
		cancel()
		return nil
	}
	s.cancel = cancel
	return nil
}

// Stop ends the observation and clears the snapshot. It is safe to call
// when the store was never started.
func (s *Store) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	s.gen++
}

func (s *Store) stopLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	empty := []models.Subscription{}
	s.snapshot.Store(&empty)
	if s.didSync {
		s.synced = make(chan struct{})
		s.didSync = false
	}
}

// Synced returns a channel that is closed once the first snapshot of the
// current observation has been received.
func (s *Store) Synced() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.synced
}

func (s *Store) handleSnapshot(gen uint64, records []models.Record) {
	subs := make([]models.Subscription, len(records))
	for i, rec := range records {
		subs[i] = models.FromRecord(rec)
	}

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.snapshot.Store(&subs)
	if !s.didSync {
		close(s.synced)
		s.didSync = true
	}
	s.mu.Unlock()

	s.changes.Emit(subs)
}

func (s *Store) handleWatchError(gen uint64, userID string, err error) {
	s.mu.Lock()
	current := gen == s.gen
	s.mu.Unlock()
	if !current {
		return
	}
	s.logger.Error("subscription watch failed, keeping last snapshot",
		"user_id", userID, "error", err)
}

// OnChange registers fn to receive every new snapshot. Each listener gets
// its own copy, so it may modify what it receives. The returned function
// unregisters it.
func (s *Store) OnChange(fn func([]models.Subscription)) (unsubscribe func()) {
	return s.changes.On(fn)
}

// Add validates in, fills defaults and persists it as a new subscription.
// It returns the ID assigned by the collection.
func (s *Store) Add(ctx context.Context, in models.Input) (string, error) {
	userID := s.userID()
	if userID == "" {
		return "", ErrNotAuthenticated
	}

	sub, err := s.prepare(in)
	if err != nil {
		return "", err
	}

	id, err := s.coll.Add(ctx, userID, sub.Record())
	if err != nil {
		return "", &RemoteError{Op: "add", Err: err}
	}
	return id, nil
}

func (s *Store) prepare(in models.Input) (models.Subscription, error) {
	now := s.now()

	name := strings.TrimSpace(in.Name)
	if name == "" {
		return models.Subscription{}, &ValidationError{Field: "name", Reason: "must not be empty"}
	}

	cycle := in.BillingCycle
	if cycle == "" {
		cycle = models.CycleMonthly
	}
	category := in.Category
	if category == "" {
		category = models.CategoryOther
	}
	subType := in.SubscriptionType
	if subType == "" {
		subType = models.TypeIndividual
	}
	if err := validateEnums(&cycle, &category, &subType); err != nil {
		return models.Subscription{}, err
	}

	amount := sanitizeAmount(in.Amount)
	share := amount
	if in.YourShare != nil && sanitizeAmount(*in.YourShare) > 0 {
		share = sanitizeAmount(*in.YourShare)
	}

	start := billing.Midnight(now)
	if in.StartDate != nil {
		start = *in.StartDate
	}
	next, err := billing.NextRenewal(&start, cycle, now)
	if err != nil {
		return models.Subscription{}, &ValidationError{Field: "startDate", Reason: err.Error()}
	}

	state := models.ActiveState()
	if in.IsTrial {
		state = models.TrialState(in.TrialEndDate)
	}

	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = s.defaultCurrency
	}

	return models.Subscription{
		Name:                 name,
		URL:                  in.URL,
		Amount:               amount,
		YourShare:            &share,
		Currency:             currency,
		BillingCycle:         cycle,
		Category:             category,
		State:                state,
		StartDate:            &start,
		NextRenewalDate:      next,
		SubscriptionType:     subType,
		NotifyDaysBefore:     orDefault(in.NotifyDaysBefore, DefaultNotifyDaysBefore),
		Credentials:          in.Credentials,
		CredentialsEncrypted: in.CredentialsEncrypted,
		Notes:                in.Notes,
		Icon:                 orDefault(in.Icon, DefaultIcon),
		Color:                orDefault(in.Color, DefaultColor),
		SharedWith:           in.SharedWith,
	}, nil
}

// Update merges patch into the subscription id. The merge runs against the
// stored document, not the local snapshot, so writes that have not been
// echoed yet are kept. When the patch changes the start date or billing
// cycle, the renewal date is recomputed from the merged values.
func (s *Store) Update(ctx context.Context, id string, patch models.Patch) error {
	userID, existing, err := s.lookup(id)
	if err != nil {
		return err
	}
	if err := validatePatch(&patch); err != nil {
		return err
	}
	if patch.TouchesSchedule() {
		merged := patch.Apply(*existing)
		if _, err := billing.NextRenewal(merged.StartDate, merged.BillingCycle, s.now()); err != nil {
			return &ValidationError{Field: "startDate", Reason: err.Error()}
		}
	}
	return s.modify(ctx, userID, id, func(models.Subscription) models.Patch { return patch })
}

// Remove deletes the subscription id. The snapshot drops it when the
// collection reports the deletion.
func (s *Store) Remove(ctx context.Context, id string) error {
	userID := s.userID()
	if userID == "" {
		return ErrNotAuthenticated
	}
	if err := s.coll.Delete(ctx, userID, id); err != nil {
		return &RemoteError{Op: "delete", Err: err}
	}
	return nil
}

// Pause stops counting the subscription in spending totals.
func (s *Store) Pause(ctx context.Context, id string) error {
	userID, _, err := s.lookup(id)
	if err != nil {
		return err
	}
	now := s.now()
	return s.modify(ctx, userID, id, func(current models.Subscription) models.Patch {
		state := current.State.Pause()
		return models.Patch{State: &state, PausedAt: &now}
	})
}

// Reactivate resumes a paused subscription in the state it was paused from.
func (s *Store) Reactivate(ctx context.Context, id string) error {
	userID, _, err := s.lookup(id)
	if err != nil {
		return err
	}
	return s.modify(ctx, userID, id, func(current models.Subscription) models.Patch {
		state := current.State.Resume()
		return models.Patch{State: &state, ClearPausedAt: true}
	})
}

// ConvertTrial turns a trial into a paying subscription.
func (s *Store) ConvertTrial(ctx context.Context, id string) error {
	state := models.ActiveState()
	return s.Update(ctx, id, models.Patch{State: &state})
}

// lookup checks the caller is signed in and that id is in the snapshot.
func (s *Store) lookup(id string) (string, *models.Subscription, error) {
	userID := s.userID()
	if userID == "" {
		return "", nil, ErrNotAuthenticated
	}
	existing := s.GetByID(id)
	if existing == nil {
		return "", nil, ErrNotFound
	}
	return userID, existing, nil
}

// modify has the collection apply the patch built by patchFor to the stored
// version of id.
func (s *Store) modify(ctx context.Context, userID, id string, patchFor func(models.Subscription) models.Patch) error {
	now := s.now()
	err := s.coll.Update(ctx, userID, id, func(rec models.Record) (models.Record, error) {
		current := models.FromRecord(rec)
		patch := patchFor(current)
		merged := patch.Apply(current)
		if patch.TouchesSchedule() {
			next, err := billing.NextRenewal(merged.StartDate, merged.BillingCycle, now)
			if err != nil {
				return models.Record{}, &ValidationError{Field: "startDate", Reason: err.Error()}
			}
			merged.NextRenewalDate = next
		}
		return merged.Record(), nil
	})

	var verr *ValidationError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &verr):
		return err
	default:
		return &RemoteError{Op: "update", Err: err}
	}
}

// GetAll returns the last received snapshot.
func (s *Store) GetAll() []models.Subscription {
	return cloneAll(*s.snapshot.Load())
}

// GetActive returns active subscriptions.
func (s *Store) GetActive() []models.Subscription {
	return s.filter(models.Subscription.IsActive)
}

// GetPaused returns paused subscriptions.
func (s *Store) GetPaused() []models.Subscription {
	return s.filter(models.Subscription.IsPaused)
}

// GetTrials returns subscriptions currently in a trial.
func (s *Store) GetTrials() []models.Subscription {
	return s.filter(models.Subscription.IsTrial)
}

// GetByID returns a copy of the subscription id, or nil.
func (s *Store) GetByID(id string) *models.Subscription {
	for _, sub := range *s.snapshot.Load() {
		if sub.ID == id {
			c := sub.Clone()
			return &c
		}
	}
	return nil
}

func (s *Store) filter(keep func(models.Subscription) bool) []models.Subscription {
	out := []models.Subscription{}
	for _, sub := range *s.snapshot.Load() {
		if keep(sub) {
			out = append(out, sub.Clone())
		}
	}
	return out
}

func cloneAll(subs []models.Subscription) []models.Subscription {
	out := make([]models.Subscription, len(subs))
	for i, sub := range subs {
		out[i] = sub.Clone()
	}
	return out
}

func (s *Store) userID() string {
	if s.identity == nil {
		return ""
	}
	return s.identity.CurrentUserID()
}

func validatePatch(p *models.Patch) error {
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == "" {
			return &ValidationError{Field: "name", Reason: "must not be empty"}
		}
		p.Name = &name
	}
	if p.Amount != nil {
		amount := sanitizeAmount(*p.Amount)
		p.Amount = &amount
	}
	if p.YourShare != nil {
		share := sanitizeAmount(*p.YourShare)
		p.YourShare = &share
	}
	var cycle models.BillingCycle = models.CycleMonthly
	var category models.Category = models.CategoryOther
	var subType models.SubscriptionType = models.TypeIndividual
	if p.BillingCycle != nil {
		cycle = *p.BillingCycle
	}
	if p.Category != nil {
		category = *p.Category
	}
	if p.SubscriptionType != nil {
		subType = *p.SubscriptionType
	}
	return validateEnums(&cycle, &category, &subType)
}

func validateEnums(cycle *models.BillingCycle, category *models.Category, subType *models.SubscriptionType) error {
	if !cycle.Valid() {
		return &ValidationError{Field: "billingCycle", Reason: "unknown cycle " + string(*cycle)}
	}
	if !category.Valid() {
		return &ValidationError{Field: "category", Reason: "unknown category " + string(*category)}
	}
	if !subType.Valid() {
		return &ValidationError{Field: "subscriptionType", Reason: "unknown type " + string(*subType)}
	}
	return nil
}

// sanitizeAmount coerces negative and non-finite amounts to zero.
func sanitizeAmount(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

func orDefault[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
