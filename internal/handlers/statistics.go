package handlers

import (
	"net/http"
	"subtracker/internal/gamification"
	"subtracker/internal/insights"
	"subtracker/internal/models"
	"subtracker/internal/reminders"
	"subtracker/internal/stats"

	"github.com/go-chi/chi/v5"
)

// snapshot returns the request user's subscriptions, converted when the
// currency query parameter is set.
func (h *Handlers) snapshot(w http.ResponseWriter, r *http.Request) ([]models.Subscription, *models.User, bool) {
	st, user, err := h.storeFor(r)
	if err != nil {
		h.fail(w, r, err)
		return nil, nil, false
	}
	subs, err := h.convert(r, st.GetAll())
	if err != nil {
		h.fail(w, r, err)
		return nil, nil, false
	}
	return subs, user, true
}

// GetStatistics returns the headline numbers for the dashboard.
func (h *Handlers) GetStatistics(w http.ResponseWriter, r *http.Request) {
	subs, _, ok := h.snapshot(w, r)
	if !ok {
		return
	}
	respondWithJSON(w, http.StatusOK, stats.Compute(subs, h.now()))
}

// GetInsights returns the spending analysis.
func (h *Handlers) GetInsights(w http.ResponseWriter, r *http.Request) {
	subs, _, ok := h.snapshot(w, r)
	if !ok {
		return
	}
	respondWithJSON(w, http.StatusOK, insights.Analyze(subs, h.now()))
}

// GetAlerts returns the alerts the user has not dismissed.
func (h *Handlers) GetAlerts(w http.ResponseWriter, r *http.Request) {
	subs, user, ok := h.snapshot(w, r)
	if !ok {
		return
	}
	dismissed, err := h.db.DismissedAlerts(r.Context(), user.Key())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, h.alerts.Scan(subs, h.now(), dismissed))
}

// DismissAlert hides an alert from later scans.
func (h *Handlers) DismissAlert(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r)
	if user == nil {
		h.unauthorized(w)
		return
	}
	if err := h.db.DismissAlert(r.Context(), user.Key(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type gamificationResponse struct {
	Profile      models.Profile             `json:"profile"`
	Level        gamification.LevelInfo     `json:"level"`
	Achievements []gamification.Achievement `json:"achievements"`
	Score        gamification.Score         `json:"score"`
}

// GetGamification records the day's login and returns the user's progress.
func (h *Handlers) GetGamification(w http.ResponseWriter, r *http.Request) {
	subs, user, ok := h.snapshot(w, r)
	if !ok {
		return
	}
	profile, err := h.tracker.CheckDailyLogin(r.Context(), user.Key())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, gamificationResponse{
		Profile:      profile,
		Level:        gamification.LevelFor(profile.XP),
		Achievements: gamification.Achievements(subs),
		Score:        gamification.ScoreOf(subs),
	})
}

type remindersResponse struct {
	Badge     int                  `json:"badge"`
	Reminders []reminders.Reminder `json:"reminders"`
}

// GetReminders returns the reminders currently due and the badge count.
func (h *Handlers) GetReminders(w http.ResponseWriter, r *http.Request) {
	subs, _, ok := h.snapshot(w, r)
	if !ok {
		return
	}
	now := h.now()
	due := reminders.Due(subs, now)
	if due == nil {
		due = []reminders.Reminder{}
	}
	respondWithJSON(w, http.StatusOK, remindersResponse{
		Badge:     reminders.BadgeCount(subs, now),
		Reminders: due,
	})
}
