package models

// Profile is a user's engagement progress.
type Profile struct {
	XP        int    `json:"xp"`
	Level     int    `json:"level"`
	Streak    int    `json:"streak"`
	LastLogin string `json:"lastLogin"` // YYYY-MM-DD
}
