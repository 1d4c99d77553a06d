package store

import (
	"time"
)

// WorkoutType classifies a logged session.
type WorkoutType string

const (
	WorkoutTypeStrength WorkoutType = "strength"
	WorkoutTypeCardio   WorkoutType = "cardio"
	WorkoutTypeMixed    WorkoutType = "mixed"
	WorkoutTypeOther    WorkoutType = "other"
)

// IsValid reports whether t is one of the known workout types.
func (t WorkoutType) IsValid() bool {
	switch t {
	case WorkoutTypeStrength, WorkoutTypeCardio, WorkoutTypeMixed, WorkoutTypeOther:
		return true
	}
	return false
}

// WorkoutSet is a single performed set. Immutable once created.
// Weight is free text on purpose: "225", "100kg", "bodyweight" are all valid.
type WorkoutSet struct {
	SetNumber     int     `json:"set_number"`
	Reps          int     `json:"reps"`
	Weight        *string `json:"weight,omitempty"`
	RepsInReserve *int    `json:"reps_in_reserve,omitempty"`
	Notes         *string `json:"notes,omitempty"`
}

// Exercise groups the sets of one movement, in performance order.
type Exercise struct {
	Name string       `json:"name"`
	Sets []WorkoutSet `json:"sets"`
}

// WorkoutLog is one day's accumulated workout entry.
// The store holds at most one WorkoutLog per calendar date.
type WorkoutLog struct {
	ID          string      `json:"id"`
	Exercises   []Exercise  `json:"exercises"`
	WorkoutType WorkoutType `json:"workout_type"`
	Duration    *string     `json:"duration,omitempty"`
	Date        *string     `json:"date,omitempty"` // ISO calendar date, YYYY-MM-DD
	Notes       *string     `json:"notes,omitempty"`
	Timestamp   time.Time   `json:"timestamp"` // creation or last-merge instant
}
