package repository

import (
	"time"

	"example.com/fitsync/internal/docstore"
	"example.com/fitsync/internal/domain"
	"example.com/fitsync/internal/platform/logger"
)

// Repositories holds one repository per remote collection. Build it once in the composition
// root and pass it to consumers.
type Repositories struct {
	Progress  *Repository[domain.ProgressRecord]
	Workouts  *Repository[domain.WorkoutSession]
	Exercises *Repository[domain.ExerciseLogEntry]
	Profiles  *Repository[domain.UserProfile]
	Nutrition *Repository[domain.NutritionMealLog]
	Recovery  *Repository[domain.RecoverySessionLog]
}

// NewRepositories builds the full set over one store.
func NewRepositories(store docstore.Store, owner OwnerFunc, freshness time.Duration, log *logger.Logger) *Repositories {
	cfg := func(collection string) Config {
		return Config{Collection: collection, Owner: owner, Freshness: freshness, Logger: log}
	}
	return &Repositories{
		Progress:  New[domain.ProgressRecord](store, cfg(domain.CollectionProgress)),
		Workouts:  New[domain.WorkoutSession](store, cfg(domain.CollectionWorkouts)),
		Exercises: New[domain.ExerciseLogEntry](store, cfg(domain.CollectionExercises)),
		Profiles:  New[domain.UserProfile](store, cfg(domain.CollectionProfiles)),
		Nutrition: New[domain.NutritionMealLog](store, cfg(domain.CollectionNutrition)),
		Recovery:  New[domain.RecoverySessionLog](store, cfg(domain.CollectionRecovery)),
	}
}

// InvalidateAll drops every repository cache.
func (r *Repositories) InvalidateAll() {
	r.Progress.InvalidateCache()
	r.Workouts.InvalidateCache()
	r.Exercises.InvalidateCache()
	r.Profiles.InvalidateCache()
	r.Nutrition.InvalidateCache()
	r.Recovery.InvalidateCache()
}

// Evict drops the cached entry for id from the repository serving collection. Unknown
// collections are ignored.
func (r *Repositories) Evict(collection, id string) {
	switch collection {
	case r.Progress.Collection():
		r.Progress.Evict(id)
	case r.Workouts.Collection():
		r.Workouts.Evict(id)
	case r.Exercises.Collection():
		r.Exercises.Evict(id)
	case r.Profiles.Collection():
		r.Profiles.Evict(id)
	case r.Nutrition.Collection():
		r.Nutrition.Evict(id)
	case r.Recovery.Collection():
		r.Recovery.Evict(id)
	}
}
