package migration

import (
	"cmp"
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"example.com/fitsync/internal/cleaner"
	"example.com/fitsync/internal/docstore"
	"example.com/fitsync/internal/domain"
	"example.com/fitsync/internal/localstore"
	"example.com/fitsync/internal/repository"
)

// stepResult is the outcome of migrating one entity type. fatal aborts the run.
type stepResult struct {
	TypeReport
	cleaned int
	errors  []string
	fatal   error
}

// entityStep migrates, counts and reads back one entity type.
type entityStep struct {
	name    string
	migrate func(ctx context.Context, owner string) stepResult
	count   func(ctx context.Context) (int, error)
	exists  func(ctx context.Context, owner string) (bool, error)
}

// entitySteps lists the entity types in migration order.
func (o *Orchestrator) entitySteps() []entityStep {
	return []entityStep{
		listStep(o, TypeProgress, localstore.KeyProgress, o.repos.Progress, func(it item) (domain.ProgressRecord, error) {
			return cleaner.Progress(it.Value)
		}),
		listStep(o, TypeWorkouts, localstore.KeyWorkoutSessions, o.repos.Workouts, func(it item) (domain.WorkoutSession, error) {
			return cleaner.Workout(it.Value)
		}),
		listStep(o, TypeExercises, localstore.KeyExerciseLogs, o.repos.Exercises, func(it item) (domain.ExerciseLogEntry, error) {
			return cleaner.Exercise(it.Value, it.Key)
		}),
		o.profileStep(),
		listStep(o, TypeNutrition, localstore.KeyNutritionLogs, o.repos.Nutrition, func(it item) (domain.NutritionMealLog, error) {
			return cleaner.Nutrition(it.Value)
		}),
		listStep(o, TypeRecovery, localstore.KeyRecoveryLogs, o.repos.Recovery, func(it item) (domain.RecoverySessionLog, error) {
			return cleaner.Recovery(it.Value)
		}),
	}
}

func listStep[T any](o *Orchestrator, name, key string, repo *repository.Repository[T], clean func(item) (T, error)) entityStep {
	return entityStep{
		name: name,
		migrate: func(ctx context.Context, _ string) stepResult {
			ctx, span := tracer.Start(ctx, "Orchestrator.migrate", trace.WithAttributes(attribute.String("type", name)))
			defer span.End()

			res := stepResult{TypeReport: TypeReport{Type: name}}
			items, err := readItems(ctx, o.local, key)
			if err != nil {
				res.errors = append(res.errors, fmt.Sprintf("%s: %v", name, err))
				o.logger.Warn("local data unreadable", "type", name, "error", err)
				return res
			}
			for i, it := range items {
				res.Total++
				label := itemLabel(name, i, it)
				rec, err := clean(it)
				if err != nil {
					res.errors = append(res.errors, fmt.Sprintf("%s: %v", label, err))
					o.logger.Warn("record rejected", "record", label, "error", err)
					continue
				}
				res.cleaned++
				if err := o.write(ctx, func(ctx context.Context) error {
					_, err := repo.Create(ctx, rec, "")
					return err
				}); err != nil {
					if isFatal(err) {
						res.fatal = err
						return res
					}
					res.errors = append(res.errors, fmt.Sprintf("%s: %v", label, err))
					o.logger.Warn("record write failed", "record", label, "error", err)
					continue
				}
				res.Migrated++
			}
			span.SetAttributes(attribute.Int("total", res.Total), attribute.Int("migrated", res.Migrated))
			return res
		},
		count: func(ctx context.Context) (int, error) {
			items, err := readItems(ctx, o.local, key)
			if err != nil {
				return 0, err
			}
			n := 0
			for _, it := range items {
				if _, err := clean(it); err == nil {
					n++
				}
			}
			return n, nil
		},
		exists: func(ctx context.Context, _ string) (bool, error) {
			recs, err := repo.QueryWithConstraints(ctx, docstore.Query{Limit: 1})
			if err != nil {
				return false, err
			}
			return len(recs) > 0, nil
		},
	}
}

// profileStep merges settings, profile attributes and scalar keys into the owner's singleton
// profile document. Fields already set remotely are kept.
func (o *Orchestrator) profileStep() entityStep {
	return entityStep{
		name: TypeUsers,
		migrate: func(ctx context.Context, owner string) stepResult {
			ctx, span := tracer.Start(ctx, "Orchestrator.migrate", trace.WithAttributes(attribute.String("type", TypeUsers)))
			defer span.End()

			res := stepResult{TypeReport: TypeReport{Type: TypeUsers}}
			profile, present, err := o.readProfile(ctx)
			if !present && err == nil {
				return res
			}
			res.Total = 1
			if err != nil {
				res.errors = append(res.errors, fmt.Sprintf("%s: %v", TypeUsers, err))
				o.logger.Warn("user profile rejected", "error", err)
				return res
			}
			res.cleaned = 1
			if err := o.write(ctx, func(ctx context.Context) error {
				return o.repos.Profiles.Upsert(ctx, owner, func(current *domain.UserProfile) (domain.UserProfile, error) {
					if current == nil {
						return profile, nil
					}
					return fillProfile(*current, profile), nil
				})
			}); err != nil {
				if isFatal(err) {
					res.fatal = err
					return res
				}
				res.errors = append(res.errors, fmt.Sprintf("%s: %v", TypeUsers, err))
				o.logger.Warn("user profile write failed", "error", err)
				return res
			}
			res.Migrated = 1
			return res
		},
		count: func(ctx context.Context) (int, error) {
			_, present, err := o.readProfile(ctx)
			if !present || err != nil {
				return 0, err
			}
			return 1, nil
		},
		exists: func(ctx context.Context, owner string) (bool, error) {
			_, err := o.repos.Profiles.GetByID(ctx, owner, false)
			if errors.Is(err, domain.ErrNotFound) {
				return false, nil
			}
			return err == nil, err
		},
	}
}

// readProfile reports present=false when none of the profile keys exist locally.
func (o *Orchestrator) readProfile(ctx context.Context) (domain.UserProfile, bool, error) {
	settings, hasSettings, err := readValue(ctx, o.local, localstore.KeyUserSettings)
	if err != nil {
		return domain.UserProfile{}, true, err
	}
	attrs, hasProfile, err := readValue(ctx, o.local, localstore.KeyUserProfile)
	if err != nil {
		return domain.UserProfile{}, true, err
	}
	scalars := make(map[string]any)
	for _, key := range []string{localstore.KeyWorkoutStreak, localstore.KeyLastWorkoutDate} {
		v, ok, err := readValue(ctx, o.local, key)
		if err != nil {
			return domain.UserProfile{}, true, err
		}
		if ok {
			scalars[key] = v
		}
	}
	if !hasSettings && !hasProfile && len(scalars) == 0 {
		return domain.UserProfile{}, false, nil
	}
	profile, err := cleaner.Profile(settings, attrs, scalars)
	return profile, true, err
}

// write waits for the rate limiter and runs fn.
func (o *Orchestrator) write(ctx context.Context, fn func(context.Context) error) error {
	if err := o.limiter.Wait(ctx); err != nil {
		return err
	}
	return fn(ctx)
}

// isFatal reports whether a write error must abort the whole run.
func isFatal(err error) bool {
	return errors.Is(err, domain.ErrUnauthenticated) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func itemLabel(name string, index int, it item) string {
	if it.Key != "" {
		return fmt.Sprintf("%s[%s]", name, it.Key)
	}
	return fmt.Sprintf("%s[%d]", name, index)
}

// fillProfile returns remote with every unset field taken from local.
func fillProfile(remote, local domain.UserProfile) domain.UserProfile {
	out := remote
	switch {
	case out.Settings == nil:
		out.Settings = local.Settings
	case local.Settings != nil:
		settings := *out.Settings
		settings.Units = cmp.Or(settings.Units, local.Settings.Units)
		settings.Language = cmp.Or(settings.Language, local.Settings.Language)
		if settings.Notifications == nil {
			settings.Notifications = local.Settings.Notifications
		}
		out.Settings = &settings
	}

	switch {
	case out.Profile == nil:
		out.Profile = local.Profile
	case local.Profile != nil:
		attrs := *out.Profile
		if attrs.Age == nil {
			attrs.Age = local.Profile.Age
		}
		if attrs.Height == nil {
			attrs.Height = local.Profile.Height
		}
		attrs.ActivityLevel = cmp.Or(attrs.ActivityLevel, local.Profile.ActivityLevel)
		attrs.Experience = cmp.Or(attrs.Experience, local.Profile.Experience)
		if len(attrs.Goals) == 0 {
			attrs.Goals = local.Profile.Goals
		}
		out.Profile = &attrs
	}

	if len(local.MigratedData) > 0 {
		merged := make(map[string]any, len(remote.MigratedData)+len(local.MigratedData))
		for k, v := range local.MigratedData {
			merged[k] = v
		}
		for k, v := range remote.MigratedData {
			merged[k] = v
		}
		out.MigratedData = merged
	}
	return out
}
