package models

import (
	"encoding/json"
	"slices"
	"time"
)

// Credentials holds the login stored alongside a subscription. Password is
// ciphertext when the owning subscription has CredentialsEncrypted set.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Trial carries trial-period data. It survives a pause so that reactivating
// a paused trial resumes the trial.
type Trial struct {
	EndDate *time.Time
}

// State is the lifecycle state of a subscription. Trial is non-nil exactly
// when Kind is StatusTrial or the subscription is a paused trial.
type State struct {
	Kind  StatusKind
	Trial *Trial
}

// ActiveState returns the state of a paying subscription.
func ActiveState() State {
	return State{Kind: StatusActive}
}

// TrialState returns the state of a trial ending at end (which may be nil).
func TrialState(end *time.Time) State {
	return State{Kind: StatusTrial, Trial: &Trial{EndDate: end}}
}

// Pause returns the paused form of s.
func (s State) Pause() State {
	return State{Kind: StatusPaused, Trial: s.Trial}
}

// Resume returns the state s had before it was paused.
func (s State) Resume() State {
	if s.Trial != nil {
		return State{Kind: StatusTrial, Trial: s.Trial}
	}
	return ActiveState()
}

// TrialEnd returns the trial end date, or nil.
func (s State) TrialEnd() *time.Time {
	if s.Trial == nil {
		return nil
	}
	return s.Trial.EndDate
}

// Flatten converts s to the status/isTrial/trialEndDate triple stored in records.
func (s State) Flatten() (status StatusKind, isTrial bool, trialEnd *time.Time) {
	return s.Kind, s.Trial != nil, s.TrialEnd()
}

// StateFromRecord rebuilds a State from the flat record fields. Paused wins
// over trial, and either trial flag marks a trial.
func StateFromRecord(status StatusKind, isTrial bool, trialEnd *time.Time) State {
	trial := isTrial || status == StatusTrial
	switch {
	case status == StatusPaused && trial:
		return State{Kind: StatusPaused, Trial: &Trial{EndDate: trialEnd}}
	case status == StatusPaused:
		return State{Kind: StatusPaused}
	case trial:
		return TrialState(trialEnd)
	}
	return ActiveState()
}

// Subscription is a recurring charge tracked for one user.
type Subscription struct {
	ID                   string
	Name                 string
	URL                  string
	Amount               float64
	YourShare            *float64
	Currency             string
	BillingCycle         BillingCycle
	Category             Category
	State                State
	StartDate            *time.Time
	NextRenewalDate      *time.Time
	SubscriptionType     SubscriptionType
	NotifyDaysBefore     int
	Credentials          *Credentials
	CredentialsEncrypted bool
	Notes                string
	Icon                 string
	Color                string
	SharedWith           []string
	PausedAt             *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Share returns the amount the owner pays per cycle. Individual
// subscriptions always count the full amount; shared plans count YourShare
// when it is set and positive.
func (s Subscription) Share() float64 {
	if s.SubscriptionType == TypeIndividual || s.SubscriptionType == "" {
		return s.Amount
	}
	if s.YourShare != nil && *s.YourShare > 0 {
		return *s.YourShare
	}
	return s.Amount
}

func (s Subscription) IsActive() bool { return s.State.Kind == StatusActive }
func (s Subscription) IsTrial() bool  { return s.State.Kind == StatusTrial }
func (s Subscription) IsPaused() bool { return s.State.Kind == StatusPaused }

// Clone returns a copy of s that shares no memory with it.
func (s Subscription) Clone() Subscription {
	s.YourShare = clonePtr(s.YourShare)
	s.StartDate = clonePtr(s.StartDate)
	s.NextRenewalDate = clonePtr(s.NextRenewalDate)
	s.PausedAt = clonePtr(s.PausedAt)
	s.Credentials = clonePtr(s.Credentials)
	s.SharedWith = slices.Clone(s.SharedWith)
	if s.State.Trial != nil {
		s.State.Trial = &Trial{EndDate: clonePtr(s.State.Trial.EndDate)}
	}
	return s
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Record is the flat document shape persisted and exchanged over the API.
type Record struct {
	ID                   string           `json:"id"`
	Name                 string           `json:"name"`
	URL                  string           `json:"url"`
	Amount               float64          `json:"amount"`
	YourShare            *float64         `json:"yourShare,omitempty"`
	Currency             string           `json:"currency"`
	BillingCycle         BillingCycle     `json:"billingCycle"`
	Category             Category         `json:"category"`
	Status               StatusKind       `json:"status"`
	IsTrial              bool             `json:"isTrial"`
	TrialEndDate         *time.Time       `json:"trialEndDate"`
	StartDate            *time.Time       `json:"startDate"`
	NextRenewalDate      *time.Time       `json:"nextRenewalDate"`
	SubscriptionType     SubscriptionType `json:"subscriptionType"`
	NotifyDaysBefore     int              `json:"notifyDaysBefore"`
	Credentials          *Credentials     `json:"credentials,omitempty"`
	CredentialsEncrypted bool             `json:"credentialsEncrypted"`
	Notes                string           `json:"notes"`
	Icon                 string           `json:"icon"`
	Color                string           `json:"color"`
	SharedWith           []string         `json:"sharedWith,omitempty"`
	PausedAt             *time.Time       `json:"pausedAt"`
	CreatedAt            time.Time        `json:"createdAt"`
	UpdatedAt            time.Time        `json:"updatedAt"`
}

// Record flattens s into its persisted shape.
func (s Subscription) Record() Record {
	status, isTrial, trialEnd := s.State.Flatten()
	return Record{
		ID:                   s.ID,
		Name:                 s.Name,
		URL:                  s.URL,
		Amount:               s.Amount,
		YourShare:            s.YourShare,
		Currency:             s.Currency,
		BillingCycle:         s.BillingCycle,
		Category:             s.Category,
		Status:               status,
		IsTrial:              isTrial,
		TrialEndDate:         trialEnd,
		StartDate:            s.StartDate,
		NextRenewalDate:      s.NextRenewalDate,
		SubscriptionType:     s.SubscriptionType,
		NotifyDaysBefore:     s.NotifyDaysBefore,
		Credentials:          s.Credentials,
		CredentialsEncrypted: s.CredentialsEncrypted,
		Notes:                s.Notes,
		Icon:                 s.Icon,
		Color:                s.Color,
		SharedWith:           s.SharedWith,
		PausedAt:             s.PausedAt,
		CreatedAt:            s.CreatedAt,
		UpdatedAt:            s.UpdatedAt,
	}
}

// FromRecord builds a Subscription from its persisted shape. Free-form cycle
// and category values are parsed; an unknown type becomes individual.
func FromRecord(r Record) Subscription {
	cycle := r.BillingCycle
	if !cycle.Valid() {
		cycle = ParseBillingCycle(string(cycle))
	}
	category := r.Category
	if !category.Valid() {
		category = ParseCategory(string(category))
	}
	subType := r.SubscriptionType
	if !subType.Valid() {
		subType = TypeIndividual
	}
	return Subscription{
		ID:                   r.ID,
		Name:                 r.Name,
		URL:                  r.URL,
		Amount:               r.Amount,
		YourShare:            r.YourShare,
		Currency:             r.Currency,
		BillingCycle:         cycle,
		Category:             category,
		State:                StateFromRecord(r.Status, r.IsTrial, r.TrialEndDate),
		StartDate:            r.StartDate,
		NextRenewalDate:      r.NextRenewalDate,
		SubscriptionType:     subType,
		NotifyDaysBefore:     r.NotifyDaysBefore,
		Credentials:          r.Credentials,
		CredentialsEncrypted: r.CredentialsEncrypted,
		Notes:                r.Notes,
		Icon:                 r.Icon,
		Color:                r.Color,
		SharedWith:           r.SharedWith,
		PausedAt:             r.PausedAt,
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
	}
}

// MarshalJSON encodes the subscription as its flat Record.
func (s Subscription) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Record())
}

// UnmarshalJSON decodes a flat Record.
func (s *Subscription) UnmarshalJSON(data []byte) error {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	*s = FromRecord(r)
	return nil
}

// Input is the payload for creating a subscription. Zero values are
// replaced by defaults when the subscription is added.
type Input struct {
	Name                 string           `json:"name"`
	URL                  string           `json:"url"`
	Amount               float64          `json:"amount"`
	YourShare            *float64         `json:"yourShare,omitempty"`
	Currency             string           `json:"currency"`
	BillingCycle         BillingCycle     `json:"billingCycle"`
	Category             Category         `json:"category"`
	StartDate            *time.Time       `json:"startDate"`
	IsTrial              bool             `json:"isTrial"`
	TrialEndDate         *time.Time       `json:"trialEndDate"`
	SubscriptionType     SubscriptionType `json:"subscriptionType"`
	NotifyDaysBefore     int              `json:"notifyDaysBefore"`
	Credentials          *Credentials     `json:"credentials,omitempty"`
	CredentialsEncrypted bool             `json:"credentialsEncrypted"`
	Notes                string           `json:"notes"`
	Icon                 string           `json:"icon"`
	Color                string           `json:"color"`
	SharedWith           []string         `json:"sharedWith,omitempty"`
}

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	Name                 *string           `json:"name,omitempty"`
	URL                  *string           `json:"url,omitempty"`
	Amount               *float64          `json:"amount,omitempty"`
	YourShare            *float64          `json:"yourShare,omitempty"`
	Currency             *string           `json:"currency,omitempty"`
	BillingCycle         *BillingCycle     `json:"billingCycle,omitempty"`
	Category             *Category         `json:"category,omitempty"`
	StartDate            *time.Time        `json:"startDate,omitempty"`
	TrialEndDate         *time.Time        `json:"trialEndDate,omitempty"`
	SubscriptionType     *SubscriptionType `json:"subscriptionType,omitempty"`
	NotifyDaysBefore     *int              `json:"notifyDaysBefore,omitempty"`
	Credentials          *Credentials      `json:"credentials,omitempty"`
	CredentialsEncrypted *bool             `json:"credentialsEncrypted,omitempty"`
	Notes                *string           `json:"notes,omitempty"`
	Icon                 *string           `json:"icon,omitempty"`
	Color                *string           `json:"color,omitempty"`
	SharedWith           []string          `json:"sharedWith,omitempty"`

	// State transitions are driven by the store, not by API clients.
	State         *State     `json:"-"`
	PausedAt      *time.Time `json:"-"`
	ClearPausedAt bool       `json:"-"`
}

// TouchesSchedule reports whether applying p can move the renewal date.
func (p Patch) TouchesSchedule() bool {
	return p.StartDate != nil || p.BillingCycle != nil
}

// Apply returns s with p merged in. s itself is not modified.
func (p Patch) Apply(s Subscription) Subscription {
	if p.Name != nil {
		s.Name = *p.Name
	}
	if p.URL != nil {
		s.URL = *p.URL
	}
	if p.Amount != nil {
		s.Amount = *p.Amount
	}
	if p.YourShare != nil {
		share := *p.YourShare
		s.YourShare = &share
	}
	if p.Currency != nil {
		s.Currency = *p.Currency
	}
	if p.BillingCycle != nil {
		s.BillingCycle = *p.BillingCycle
	}
	if p.Category != nil {
		s.Category = *p.Category
	}
	if p.StartDate != nil {
		start := *p.StartDate
		s.StartDate = &start
	}
	if p.SubscriptionType != nil {
		s.SubscriptionType = *p.SubscriptionType
	}
	if p.NotifyDaysBefore != nil {
		s.NotifyDaysBefore = *p.NotifyDaysBefore
	}
	if p.Credentials != nil {
		creds := *p.Credentials
		s.Credentials = &creds
	}
	if p.CredentialsEncrypted != nil {
		s.CredentialsEncrypted = *p.CredentialsEncrypted
	}
	if p.Notes != nil {
		s.Notes = *p.Notes
	}
	if p.Icon != nil {
		s.Icon = *p.Icon
	}
	if p.Color != nil {
		s.Color = *p.Color
	}
	if p.SharedWith != nil {
		s.SharedWith = append([]string(nil), p.SharedWith...)
	}
	if p.State != nil {
		s.State = *p.State
	}
	if p.TrialEndDate != nil && s.State.Trial != nil {
		end := *p.TrialEndDate
		s.State.Trial = &Trial{EndDate: &end}
	}
	switch {
	case p.ClearPausedAt:
		s.PausedAt = nil
	case p.PausedAt != nil:
		at := *p.PausedAt
		s.PausedAt = &at
	}
	return s
}
