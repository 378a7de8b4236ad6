// Package reminders finds renewals and trial ends that are close enough to
// warn about, and delivers each warning once.
package reminders

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"subtracker/internal/billing"
	"subtracker/internal/models"
)

// DefaultNotifyDaysBefore applies to subscriptions without their own
// notification window.
const DefaultNotifyDaysBefore = 3

// BadgeWindowDays is the look-ahead of BadgeCount.
const BadgeWindowDays = 3

// Kind tells a renewal reminder from a trial reminder.
type Kind string

const (
	KindRenewal Kind = "renewal"
	KindTrial   Kind = "trial"
)

// Reminder is a single pending notification.
type Reminder struct {
	Key            string    `json:"key"`
	Kind           Kind      `json:"kind"`
	SubscriptionID string    `json:"subscriptionId"`
	Name           string    `json:"name"`
	Date           time.Time `json:"date"`
	DaysRemaining  int       `json:"daysRemaining"`
	Amount         float64   `json:"amount"`
	Currency       string    `json:"currency"`
}

// Message renders the reminder as a short sentence.
func (r Reminder) Message() string {
	if r.Kind == KindTrial {
		return fmt.Sprintf("The %s trial ends in %d days", r.Name, r.DaysRemaining)
	}
	return fmt.Sprintf("%s renews in %d days for %.2f %s", r.Name, r.DaysRemaining, r.Amount, r.Currency)
}

// Due returns the reminders that fall inside each subscription's
// notification window as of now. Paused subscriptions are skipped.
func Due(subs []models.Subscription, now time.Time) []Reminder {
	var out []Reminder
	for _, sub := range subs {
		if sub.IsPaused() {
			continue
		}

		kind := KindRenewal
		target := billing.EffectiveRenewal(sub, now)
		if sub.IsTrial() {
			kind = KindTrial
			target = sub.State.TrialEnd()
		}
		if target == nil {
			continue
		}

		window := sub.NotifyDaysBefore
		if window <= 0 {
			window = DefaultNotifyDaysBefore
		}
		days := billing.DaysRemaining(target, now)
		if days < 0 || days > window {
			continue
		}

		out = append(out, Reminder{
			Key:            sub.ID + "-" + target.Format(time.DateOnly),
			Kind:           kind,
			SubscriptionID: sub.ID,
			Name:           sub.Name,
			Date:           *target,
			DaysRemaining:  days,
			Amount:         sub.Share(),
			Currency:       sub.Currency,
		})
	}
	return out
}

// BadgeCount counts non-paused subscriptions renewing or ending within
// BadgeWindowDays.
func BadgeCount(subs []models.Subscription, now time.Time) int {
	n := 0
	for _, sub := range subs {
		if sub.IsPaused() {
			continue
		}
		target := sub.NextRenewalDate
		if target == nil {
			target = sub.State.TrialEnd()
		}
		if days := billing.DaysRemaining(target, now); days >= 0 && days <= BadgeWindowDays {
			n++
		}
	}
	return n
}

// Notifier delivers a reminder to a user.
type Notifier interface {
	Notify(ctx context.Context, userID string, r Reminder) error
}

// LogNotifier writes reminders to a logger.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(_ context.Context, userID string, r Reminder) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info(r.Message(),
		"user_id", userID,
		"subscription_id", r.SubscriptionID,
		"kind", string(r.Kind),
		"days_remaining", r.DaysRemaining,
	)
	return nil
}

// Log remembers which reminders were already delivered.
type Log interface {
	ReminderSent(ctx context.Context, userID, key string) (bool, error)
	MarkReminderSent(ctx context.Context, userID, key string, at time.Time) error
}

// Source lists the users and subscriptions to scan.
type Source interface {
	UserIDs(ctx context.Context) ([]string, error)
	ListSubscriptions(ctx context.Context, userID string) ([]models.Subscription, error)
}

// Service scans every user and delivers due reminders.
type Service struct {
	source   Source
	log      Log
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a Service. A nil now uses time.Now.
func NewService(source Source, log Log, notifier Notifier, logger *slog.Logger, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{source: source, log: log, notifier: notifier, logger: logger, now: now}
}

// Run performs one scan and returns the number of reminders delivered.
// A failure for one user is logged and does not stop the scan.
func (s *Service) Run(ctx context.Context) (int, error) {
	users, err := s.source.UserIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list users: %w", err)
	}

	sent := 0
	for _, userID := range users {
		n, err := s.runUser(ctx, userID)
		sent += n
		if err != nil {
			s.logger.Error("reminder scan failed", "user_id", userID, "error", err)
		}
	}
	return sent, nil
}

func (s *Service) runUser(ctx context.Context, userID string) (int, error) {
	subs, err := s.source.ListSubscriptions(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to list subscriptions: %w", err)
	}

	now := s.now()
	sent := 0
	for _, r := range Due(subs, now) {
		done, err := s.log.ReminderSent(ctx, userID, r.Key)
		if err != nil {
			return sent, fmt.Errorf("failed to check reminder log: %w", err)
		}
		if done {
			continue
		}
		if err := s.notifier.Notify(ctx, userID, r); err != nil {
			return sent, fmt.Errorf("failed to notify: %w", err)
		}
		if err := s.log.MarkReminderSent(ctx, userID, r.Key, now); err != nil {
			return sent, fmt.Errorf("failed to record reminder: %w", err)
		}
		sent++
	}
	return sent, nil
}
