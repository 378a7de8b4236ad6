package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"subtracker/internal/models"
)

// DismissAlert records that the user dismissed alertID.
func (db *DB) DismissAlert(ctx context.Context, userID, alertID string) error {
	_, err := db.conn.ExecContext(ctx,
		"INSERT OR IGNORE INTO dismissed_alerts (user_id, alert_id, dismissed_at) VALUES (?, ?, ?)",
		userID, alertID, time.Now().UTC(),
	)
	return err
}

// DismissedAlerts returns the set of alert IDs the user has dismissed.
func (db *DB) DismissedAlerts(ctx context.Context, userID string) (map[string]bool, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT alert_id FROM dismissed_alerts WHERE user_id = ?",
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	dismissed := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		dismissed[id] = true
	}
	return dismissed, rows.Err()
}

// ReminderSent reports whether the reminder identified by key was already
// sent to the user.
func (db *DB) ReminderSent(ctx context.Context, userID, key string) (bool, error) {
	var n int
	err := db.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM reminder_log WHERE user_id = ? AND reminder_key = ?",
		userID, key,
	).Scan(&n)
	return n > 0, err
}

// MarkReminderSent records that the reminder identified by key was sent.
func (db *DB) MarkReminderSent(ctx context.Context, userID, key string, at time.Time) error {
	_, err := db.conn.ExecContext(ctx,
		"INSERT OR IGNORE INTO reminder_log (user_id, reminder_key, sent_at) VALUES (?, ?, ?)",
		userID, key, at.UTC(),
	)
	return err
}

// LoadProfile returns the user's engagement profile, or a fresh level 1
// profile when none is stored.
func (db *DB) LoadProfile(ctx context.Context, userID string) (models.Profile, error) {
	return loadProfile(ctx, db.conn, userID)
}

// UpdateProfile loads the user's profile, passes it to mutate and stores the
// result in one transaction, so concurrent updates are applied one after the
// other. An error from mutate aborts the write.
func (db *DB) UpdateProfile(ctx context.Context, userID string, mutate func(models.Profile) (models.Profile, error)) (models.Profile, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return models.Profile{}, err
	}
	defer tx.Rollback()

	p, err := loadProfile(ctx, tx, userID)
	if err != nil {
		return models.Profile{}, err
	}
	p, err = mutate(p)
	if err != nil {
		return models.Profile{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO gamification_profiles (user_id, xp, level, streak, last_login)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			xp = excluded.xp,
			level = excluded.level,
			streak = excluded.streak,
			last_login = excluded.last_login
	`, userID, p.XP, p.Level, p.Streak, p.LastLogin); err != nil {
		return models.Profile{}, err
	}
	if err := tx.Commit(); err != nil {
		return models.Profile{}, err
	}
	return p, nil
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func loadProfile(ctx context.Context, q rowQuerier, userID string) (models.Profile, error) {
	p := models.Profile{Level: 1}
	err := q.QueryRowContext(ctx,
		"SELECT xp, level, streak, last_login FROM gamification_profiles WHERE user_id = ?",
		userID,
	).Scan(&p.XP, &p.Level, &p.Streak, &p.LastLogin)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Profile{Level: 1}, nil
	}
	return p, err
}

// VaultMaster returns the stored master password hash and salt of the user.
// ok is false when the user has not set a master password.
func (db *DB) VaultMaster(ctx context.Context, userID string) (hash, salt string, ok bool, err error) {
	err = db.conn.QueryRowContext(ctx,
		"SELECT hash, salt FROM vault_masters WHERE user_id = ?",
		userID,
	).Scan(&hash, &salt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", false, nil
	}
	if err != nil {
		return "", "", false, err
	}
	return hash, salt, true, nil
}

// SetVaultMaster stores the master password hash of the user, replacing any
// earlier one.
func (db *DB) SetVaultMaster(ctx context.Context, userID, hash, salt string) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO vault_masters (user_id, hash, salt) VALUES (?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET hash = excluded.hash, salt = excluded.salt
	`, userID, hash, salt)
	return err
}
