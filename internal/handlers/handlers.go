package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"subtracker/internal/alerts"
	"subtracker/internal/auth"
	"subtracker/internal/billing"
	"subtracker/internal/gamification"
	"subtracker/internal/models"
	"subtracker/internal/storage"
	"subtracker/internal/store"
	"time"
)

// Context key type to avoid collisions.
type contextKey string

const (
	// UserContextKey is the context key for the authenticated user.
	UserContextKey contextKey = "user"
	// MasterPasswordHeader carries the vault master password for requests
	// that store or reveal credentials.
	MasterPasswordHeader = "X-Master-Password"
	// DefaultSyncTimeout bounds how long a request waits for a user's
	// subscriptions to load or for a write to become visible.
	DefaultSyncTimeout = 5 * time.Second
)

var errWrongMaster = errors.New("wrong master password")

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	db              *storage.DB
	stores          *registry
	alerts          *alerts.Engine
	converter       *billing.Converter
	tracker         *gamification.Tracker
	logger          *slog.Logger
	now             func() time.Time
	syncTimeout     time.Duration
	defaultCurrency string
}

// Option configures Handlers.
type Option func(*Handlers)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handlers) { h.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(h *Handlers) { h.now = now }
}

func WithAlertConfig(cfg alerts.Config) Option {
	return func(h *Handlers) { h.alerts = alerts.New(cfg) }
}

// WithConverter enables the currency query parameter on read endpoints.
func WithConverter(c *billing.Converter) Option {
	return func(h *Handlers) { h.converter = c }
}

func WithDefaultCurrency(code string) Option {
	return func(h *Handlers) { h.defaultCurrency = code }
}

func WithSyncTimeout(d time.Duration) Option {
	return func(h *Handlers) { h.syncTimeout = d }
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(db *storage.DB, opts ...Option) *Handlers {
	h := &Handlers{
		db:              db,
		alerts:          alerts.New(alerts.DefaultConfig()),
		logger:          slog.Default(),
		now:             time.Now,
		syncTimeout:     DefaultSyncTimeout,
		defaultCurrency: store.DefaultCurrency,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.tracker = gamification.NewTracker(db, h.now)
	h.stores = newRegistry(func(userID string) *store.Store {
		return store.New(db.Subscriptions(), store.StaticIdentity(userID),
			store.WithClock(h.now),
			store.WithLogger(h.logger.With("user_id", userID)),
			store.WithDefaultCurrency(h.defaultCurrency),
		)
	})
	return h
}

// Close stops every per-user store.
func (h *Handlers) Close() {
	h.stores.closeAll()
}

// GetUserFromContext retrieves the authenticated user from request context.
func GetUserFromContext(r *http.Request) *models.User {
	if user, ok := r.Context().Value(UserContextKey).(*models.User); ok {
		return user
	}
	return nil
}

// AuthMiddleware wraps handlers to require HTTP Basic credentials of a
// registered user.
func (h *Handlers) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok || username == "" || password == "" {
			h.unauthorized(w)
			return
		}

		user, err := h.db.GetUserByUsername(username)
		if err != nil || !auth.CheckPassword(password, user.PasswordHash) {
			if err != nil && !errors.Is(err, storage.ErrNotFound) {
				h.logger.Error("user lookup failed", "error", err)
			}
			h.unauthorized(w)
			return
		}

		// Add user to context
		ctx := context.WithValue(r.Context(), UserContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handlers) unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="subtracker"`)
	respondWithError(w, http.StatusUnauthorized, "authentication required")
}

// Health reports that the server is up.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// storeFor returns the live store of the request's user.
func (h *Handlers) storeFor(r *http.Request) (*store.Store, *models.User, error) {
	user := GetUserFromContext(r)
	if user == nil {
		return nil, nil, store.ErrNotAuthenticated
	}
	st, err := h.stores.get(r.Context(), user.Key(), h.syncTimeout)
	if err != nil {
		return nil, nil, err
	}
	return st, user, nil
}

// fail maps err onto an HTTP status and writes it.
func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	var verr *store.ValidationError
	switch {
	case errors.As(err, &verr):
		respondWithError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, store.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		respondWithError(w, http.StatusNotFound, "subscription not found")
	case errors.Is(err, store.ErrNotAuthenticated):
		h.unauthorized(w)
	case errors.Is(err, errWrongMaster):
		respondWithError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, errSyncTimeout), errors.Is(err, context.DeadlineExceeded):
		h.logger.Warn("request timed out waiting for data", "path", r.URL.Path, "error", err)
		respondWithError(w, http.StatusServiceUnavailable, "subscriptions are still loading")
	default:
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		respondWithError(w, http.StatusInternalServerError, "internal server error")
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &store.ValidationError{Field: "body", Reason: err.Error()}
	}
	return nil
}

// respondWithJSON is a helper function to write JSON responses.
func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}
