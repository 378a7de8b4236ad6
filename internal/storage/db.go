package storage

import (
	"database/sql"
	"errors"
	"sync"
	"time"

	"subtracker/internal/models"

	// Import sqlite driver
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a row addressed by id does not exist.
var ErrNotFound = errors.New("not found")

// DB wraps a sql.DB connection.
type DB struct {
	conn *sql.DB
	now  func() time.Time

	mu       sync.Mutex
	nextID   uint64
	watchers map[string]map[uint64]*watcher
}

// NewDB opens a database connection and runs migrations.
func NewDB(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// sqlite serialises writers anyway, and every new connection to
	// ":memory:" would open a separate empty database.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, err
	}

	db := &DB{conn: conn, now: time.Now, watchers: make(map[string]map[uint64]*watcher)}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}

	return db, nil
}

func (db *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS subscriptions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			data TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_subscriptions_user_created
			ON subscriptions (user_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS dismissed_alerts (
			user_id TEXT NOT NULL,
			alert_id TEXT NOT NULL,
			dismissed_at DATETIME NOT NULL,
			PRIMARY KEY (user_id, alert_id)
		)`,
		`CREATE TABLE IF NOT EXISTS reminder_log (
			user_id TEXT NOT NULL,
			reminder_key TEXT NOT NULL,
			sent_at DATETIME NOT NULL,
			PRIMARY KEY (user_id, reminder_key)
		)`,
		`CREATE TABLE IF NOT EXISTS gamification_profiles (
			user_id TEXT PRIMARY KEY,
			xp INTEGER NOT NULL DEFAULT 0,
			level INTEGER NOT NULL DEFAULT 1,
			streak INTEGER NOT NULL DEFAULT 0,
			last_login TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS vault_masters (
			user_id TEXT PRIMARY KEY,
			hash TEXT NOT NULL,
			salt TEXT NOT NULL
		)`,
	}

	for _, m := range migrations {
		if _, err := db.conn.Exec(m); err != nil {
			return err
		}
	}

	return nil
}

// Close stops all watchers and closes the database connection.
func (db *DB) Close() error {
	db.mu.Lock()
	for _, byID := range db.watchers {
		for _, w := range byID {
			w.stop()
		}
	}
	db.watchers = make(map[string]map[uint64]*watcher)
	db.mu.Unlock()
	return db.conn.Close()
}

// CreateUser creates a new user with the given username and password hash.
func (db *DB) CreateUser(username, passwordHash string) (*models.User, error) {
	result, err := db.conn.Exec(
		"INSERT INTO users (username, password_hash) VALUES (?, ?)",
		username, passwordHash,
	)
	if err != nil {
		return nil, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}

	return db.GetUserByID(id)
}

// GetUserByID retrieves a user by ID.
func (db *DB) GetUserByID(id int64) (*models.User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, password_hash, created_at FROM users WHERE id = ?",
		id,
	)
	return scanUser(row)
}

// GetUserByUsername retrieves a user by username.
func (db *DB) GetUserByUsername(username string) (*models.User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, password_hash, created_at FROM users WHERE username = ?",
		username,
	)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*models.User, error) {
	var u models.User
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// ListUsers returns every user ordered by ID.
func (db *DB) ListUsers() ([]models.User, error) {
	rows, err := db.conn.Query("SELECT id, username, password_hash, created_at FROM users ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UserCount returns the number of users in the database.
func (db *DB) UserCount() (int, error) {
	var count int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM users").Scan(&count)
	return count, err
}
