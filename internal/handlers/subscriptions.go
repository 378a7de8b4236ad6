package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"subtracker/internal/billing"
	"subtracker/internal/gamification"
	"subtracker/internal/models"
	"subtracker/internal/store"
	"subtracker/internal/vault"
	"time"

	"github.com/go-chi/chi/v5"
)

// ListSubscriptions returns the user's subscriptions. The status query
// parameter narrows the list to active, trial or paused subscriptions, and
// currency converts amounts when exchange rates are configured.
func (h *Handlers) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	st, _, err := h.storeFor(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var subs []models.Subscription
	switch status := r.URL.Query().Get("status"); status {
	case "":
		subs = st.GetAll()
	case string(models.StatusActive):
		subs = st.GetActive()
	case string(models.StatusTrial):
		subs = st.GetTrials()
	case string(models.StatusPaused):
		subs = st.GetPaused()
	default:
		h.fail(w, r, &store.ValidationError{Field: "status", Reason: "unknown status " + status})
		return
	}

	subs, err = h.convert(r, subs)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, subs)
}

// CreateSubscription adds a subscription and responds with the stored copy.
func (h *Handlers) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	st, user, err := h.storeFor(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var in models.Input
	if err := decodeJSON(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	if in.Credentials != nil {
		encrypted, err := h.sealCredentials(r, user, in.Credentials)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		in.CredentialsEncrypted = encrypted
	}

	id, err := st.Add(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := waitFor(r.Context(), st, h.syncTimeout, hasID(id)); err != nil {
		h.fail(w, r, err)
		return
	}
	h.award(r, user, gamification.ActionAddSub)

	respondWithJSON(w, http.StatusCreated, st.GetByID(id))
}

// GetSubscription returns one subscription.
func (h *Handlers) GetSubscription(w http.ResponseWriter, r *http.Request) {
	st, _, err := h.storeFor(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sub := st.GetByID(chi.URLParam(r, "id"))
	if sub == nil {
		h.fail(w, r, store.ErrNotFound)
		return
	}
	respondWithJSON(w, http.StatusOK, sub)
}

// UpdateSubscription applies a partial update.
func (h *Handlers) UpdateSubscription(w http.ResponseWriter, r *http.Request) {
	st, user, err := h.storeFor(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var patch models.Patch
	if err := decodeJSON(r, &patch); err != nil {
		h.fail(w, r, err)
		return
	}
	if patch.Credentials != nil {
		encrypted, err := h.sealCredentials(r, user, patch.Credentials)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		patch.CredentialsEncrypted = &encrypted
	}

	h.mutate(w, r, st, func(id string) error {
		return st.Update(r.Context(), id, patch)
	})
}

// DeleteSubscription removes a subscription.
func (h *Handlers) DeleteSubscription(w http.ResponseWriter, r *http.Request) {
	st, user, err := h.storeFor(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	id := chi.URLParam(r, "id")
	if err := st.Remove(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := waitFor(r.Context(), st, h.syncTimeout, lacksID(id)); err != nil {
		h.fail(w, r, err)
		return
	}
	h.award(r, user, gamification.ActionCancelSub)

	w.WriteHeader(http.StatusNoContent)
}

// PauseSubscription pauses a subscription.
func (h *Handlers) PauseSubscription(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, (*store.Store).Pause)
}

// ReactivateSubscription resumes a paused subscription.
func (h *Handlers) ReactivateSubscription(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, (*store.Store).Reactivate)
}

// ConvertTrial turns a trial into a paid subscription.
func (h *Handlers) ConvertTrial(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, (*store.Store).ConvertTrial)
}

// RevealCredentials returns the stored login of a subscription, decrypting
// the password with the master password header when it is encrypted.
func (h *Handlers) RevealCredentials(w http.ResponseWriter, r *http.Request) {
	st, user, err := h.storeFor(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sub := st.GetByID(chi.URLParam(r, "id"))
	if sub == nil {
		h.fail(w, r, store.ErrNotFound)
		return
	}
	if sub.Credentials == nil {
		respondWithError(w, http.StatusNotFound, "no credentials stored")
		return
	}

	creds := *sub.Credentials
	if sub.CredentialsEncrypted && creds.Password != "" {
		master := r.Header.Get(MasterPasswordHeader)
		if master == "" {
			h.fail(w, r, &store.ValidationError{Field: MasterPasswordHeader, Reason: "required to reveal encrypted credentials"})
			return
		}
		if err := h.unlockVault(r.Context(), user, master); err != nil {
			h.fail(w, r, err)
			return
		}
		plain, err := vault.Decrypt(creds.Password, master)
		if err != nil {
			if errors.Is(err, vault.ErrDecrypt) {
				err = errWrongMaster
			}
			h.fail(w, r, err)
			return
		}
		creds.Password = plain
	}
	respondWithJSON(w, http.StatusOK, creds)
}

type countdown struct {
	Target        *time.Time `json:"target"`
	DaysRemaining int        `json:"daysRemaining"`
	Progress      int        `json:"progress"`
	Color         string     `json:"color"`
}

// GetCountdown reports how far a subscription is through its current cycle,
// or through its trial.
func (h *Handlers) GetCountdown(w http.ResponseWriter, r *http.Request) {
	st, _, err := h.storeFor(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sub := st.GetByID(chi.URLParam(r, "id"))
	if sub == nil {
		h.fail(w, r, store.ErrNotFound)
		return
	}

	now := h.now()
	target := billing.CountdownTarget(*sub)
	days := billing.DaysRemaining(target, now)
	respondWithJSON(w, http.StatusOK, countdown{
		Target:        target,
		DaysRemaining: days,
		Progress:      billing.ProgressPercent(*sub, now),
		Color:         billing.ProgressColor(days),
	})
}

func (h *Handlers) transition(w http.ResponseWriter, r *http.Request, op func(*store.Store, context.Context, string) error) {
	st, _, err := h.storeFor(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.mutate(w, r, st, func(id string) error {
		return op(st, r.Context(), id)
	})
}

// mutate runs write against the subscription named in the URL and responds
// with the subscription once the write is visible.
func (h *Handlers) mutate(w http.ResponseWriter, r *http.Request, st *store.Store, write func(id string) error) {
	id := chi.URLParam(r, "id")
	before := st.GetByID(id)
	if before == nil {
		h.fail(w, r, store.ErrNotFound)
		return
	}

	if err := write(id); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := waitFor(r.Context(), st, h.syncTimeout, updatedSince(id, before.UpdatedAt)); err != nil {
		h.fail(w, r, err)
		return
	}

	sub := st.GetByID(id)
	if sub == nil {
		h.fail(w, r, store.ErrNotFound)
		return
	}
	respondWithJSON(w, http.StatusOK, sub)
}

// award grants XP for action. Failures are logged and never fail the
// request.
func (h *Handlers) award(r *http.Request, user *models.User, action gamification.Action) {
	if _, err := h.tracker.AddXP(r.Context(), user.Key(), action); err != nil {
		h.logger.Warn("failed to award xp", "user_id", user.ID, "action", action, "error", err)
	}
}

// convert applies the currency query parameter.
func (h *Handlers) convert(r *http.Request, subs []models.Subscription) ([]models.Subscription, error) {
	currency := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("currency")))
	if currency == "" {
		return subs, nil
	}
	if !h.converter.Supports(currency) {
		return nil, &store.ValidationError{Field: "currency", Reason: "no exchange rate for " + currency}
	}
	return h.converter.ConvertAll(subs, currency), nil
}

// sealCredentials encrypts creds.Password in place when the request carries
// a master password, and reports whether it did.
func (h *Handlers) sealCredentials(r *http.Request, user *models.User, creds *models.Credentials) (bool, error) {
	master := r.Header.Get(MasterPasswordHeader)
	if master == "" || creds.Password == "" {
		return false, nil
	}
	if err := h.unlockVault(r.Context(), user, master); err != nil {
		return false, err
	}
	sealed, err := vault.Encrypt(creds.Password, master)
	if err != nil {
		return false, err
	}
	creds.Password = sealed
	return true, nil
}

// unlockVault checks master against the user's registered master password.
// The first master password a user sends is registered.
func (h *Handlers) unlockVault(ctx context.Context, user *models.User, master string) error {
	hash, salt, ok, err := h.db.VaultMaster(ctx, user.Key())
	if err != nil {
		return err
	}
	if ok {
		if !vault.VerifyMaster(master, hash, salt) {
			return errWrongMaster
		}
		return nil
	}

	hash, salt, err = vault.HashMaster(master)
	if err != nil {
		return err
	}
	if err := h.db.SetVaultMaster(ctx, user.Key(), hash, salt); err != nil {
		return err
	}
	h.logger.Info("registered vault master password", "user_id", user.ID)
	return nil
}
