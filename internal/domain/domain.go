// Package domain defines the fitness records persisted by fitsync and the errors shared across layers.
package domain

import "errors"

var (
	// ErrNotFound is returned when a document does not exist in the remote store.
	ErrNotFound = errors.New("record not found")
	// ErrUnauthenticated is returned when a write is attempted without an authenticated owner.
	ErrUnauthenticated = errors.New("no authenticated owner")
	// ErrOwnerMismatch is returned when a write would change the owner of an existing record.
	ErrOwnerMismatch = errors.New("record belongs to another owner")
)

// Remote collection names, one per entity type.
const (
	CollectionProgress  = "progress"
	CollectionWorkouts  = "workouts"
	CollectionExercises = "exercises"
	CollectionProfiles  = "users"
	CollectionNutrition = "nutrition"
	CollectionRecovery  = "recovery"
)

// Collections lists every remote collection in migration order.
var Collections = []string{
	CollectionProgress,
	CollectionWorkouts,
	CollectionExercises,
	CollectionProfiles,
	CollectionNutrition,
	CollectionRecovery,
}

// DateLayout is the calendar-day format used by every dated record.
const DateLayout = "2006-01-02"
