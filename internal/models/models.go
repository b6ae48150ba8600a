// Package models defines the core data structures shared by the session,
// habit and realtime components: identities, habits and change events.
package models

import (
	"fmt"
	"time"
)

// Identity is the read-only cached copy of the authenticated gateway user.
type Identity struct {
	// ID is the opaque gateway user identifier.
	ID string `json:"$id"`
	// Email is the address the account was registered with.
	Email string `json:"email"`
	// Name is the optional display name.
	Name string `json:"name,omitempty"`
	// Prefs is the arbitrary preferences bag stored with the account.
	Prefs map[string]any `json:"prefs,omitempty"`
}

// IsZero reports whether the identity carries no user id.
func (i Identity) IsZero() bool {
	return i.ID == ""
}

// Frequency is the recurrence cadence of a habit.
type Frequency string

const (
	// Daily habits are expected once per calendar day.
	Daily Frequency = "daily"
	// Weekly habits are expected once per ISO week.
	Weekly Frequency = "weekly"
	// Monthly habits are expected once per calendar month.
	Monthly Frequency = "monthly"
)

// Frequencies lists the accepted cadences in display order.
var Frequencies = []Frequency{Daily, Weekly, Monthly}

// Valid reports whether f is one of the accepted cadences.
func (f Frequency) Valid() bool {
	switch f {
	case Daily, Weekly, Monthly:
		return true
	}
	return false
}

// ParseFrequency converts user input into a Frequency.
func ParseFrequency(s string) (Frequency, error) {
	f := Frequency(s)
	if !f.Valid() {
		return "", fmt.Errorf("unknown frequency %q", s)
	}
	return f, nil
}

// Habit is one user-owned habit-tracking row as stored by the gateway.
type Habit struct {
	// ID is assigned by the gateway and never changes.
	ID string `json:"$id"`
	// OwnerID is the id of the identity that owns the row.
	OwnerID string `json:"user_id"`
	// Title is the non-empty habit name.
	Title string `json:"title"`
	// Description is free text shown under the title.
	Description string `json:"description"`
	// Frequency is the recurrence cadence.
	Frequency Frequency `json:"frequency"`
	// StreakCount is the number of consecutive completions.
	StreakCount int `json:"streak_count"`
	// LastCompleted is when the habit was last marked complete.
	LastCompleted time.Time `json:"last_completed"`
	// CreatedAt is set by the gateway.
	CreatedAt time.Time `json:"$createdAt"`
	// UpdatedAt is set by the gateway.
	UpdatedAt time.Time `json:"$updatedAt"`
}

// HabitUpdate is a partial row update. Nil fields are left untouched.
type HabitUpdate struct {
	StreakCount   *int       `json:"streak_count,omitempty"`
	LastCompleted *time.Time `json:"last_completed,omitempty"`
}
