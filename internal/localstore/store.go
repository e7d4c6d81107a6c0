// Package localstore reads and writes JSON blobs under string keys in on-device storage.
//
// The store is a flat key/value map with no schema: feature code owns the shape of each key and
// the migration layer treats the set of known keys as fixed.
package localstore

import (
	"context"
	"encoding/json"
	"fmt"
)

// Keys written by feature code.
const (
	KeyProgress        = "progressData"
	KeyWorkoutSessions = "workoutSessions"
	KeyExerciseLogs    = "exerciseLogs" // object keyed "<exerciseName>_<date>"
	KeyUserSettings    = "userSettings"
	KeyUserProfile     = "userProfile"
	KeyNutritionLogs   = "nutritionLogs"
	KeyRecoveryLogs    = "recoveryLogs"
	KeyWorkoutStreak   = "workoutStreak"
	KeyLastWorkoutDate = "lastWorkoutDate"
)

// Keys owned by the migration layer.
const (
	KeyMigrationStatus  = "migrationStatus"
	KeyMigrationDetails = "migrationDetails"
	KeyMigrationBackup  = "migrationBackup"
)

// DataKeys lists every feature key captured in a backup.
var DataKeys = []string{
	KeyProgress,
	KeyWorkoutSessions,
	KeyExerciseLogs,
	KeyUserSettings,
	KeyUserProfile,
	KeyNutritionLogs,
	KeyRecoveryLogs,
	KeyWorkoutStreak,
	KeyLastWorkoutDate,
}

// Store is the raw key/value accessor. Get reports ok=false for absent keys.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
	Close() error
}

// GetJSON decodes the value under key into dst. It reports ok=false when the key is absent.
func GetJSON(ctx context.Context, s Store, key string, dst any) (bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return true, fmt.Errorf("localstore: decode %s: %w", key, err)
	}
	return true, nil
}

// SetJSON encodes value and stores it under key.
func SetJSON(ctx context.Context, s Store, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("localstore: encode %s: %w", key, err)
	}
	return s.Set(ctx, key, raw)
}
