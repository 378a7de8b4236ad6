package models

import (
	"strconv"
	"time"
)

// User represents a user account.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Key returns the identifier used to scope documents owned by the user.
func (u User) Key() string {
	return strconv.FormatInt(u.ID, 10)
}
