package cleaner

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProgressRejectsUnparsableWeightWithoutDate(t *testing.T) {
	_, err := Progress(map[string]any{"weight": "abc"})
	require.ErrorIs(t, err, ErrRejected)
}

func TestProgressKeepsValidRecord(t *testing.T) {
	rec, err := Progress(map[string]any{"weight": 80.0, "date": "2024-01-01"})
	require.NoError(t, err)
	require.Equal(t, "2024-01-01", rec.Date)
	require.NotNil(t, rec.Weight)
	require.Equal(t, 80.0, *rec.Weight)
}

func TestProgressDropsOutOfRangeFields(t *testing.T) {
	rec, err := Progress(map[string]any{
		"weight":  "80",
		"bodyFat": 75.0,
		"arms":    35.0,
		"date":    "2024-03-05T10:15:00Z",
	})
	require.NoError(t, err)
	require.Equal(t, 80.0, *rec.Weight)
	require.Nil(t, rec.BodyFat)
	require.Equal(t, 35.0, *rec.Arms)
	require.Equal(t, "2024-03-05", rec.Date)
}

func TestProgressKeepsDateWhenWeightOutOfRange(t *testing.T) {
	rec, err := Progress(map[string]any{"weight": 500.0, "date": "2024-01-02"})
	require.NoError(t, err)
	require.Nil(t, rec.Weight)
	require.Equal(t, "2024-01-02", rec.Date)
}

func TestProgressRejectsNonObject(t *testing.T) {
	_, err := Progress([]any{1.0})
	require.ErrorIs(t, err, ErrRejected)
}

func TestExerciseFallsBackToKey(t *testing.T) {
	entry, err := Exercise(map[string]any{"sets": 3.0, "reps": "10", "weight": 100.0}, "Bench_Press_2024-02-01")
	require.NoError(t, err)
	require.Equal(t, "Bench_Press", entry.ExerciseName)
	require.Equal(t, "2024-02-01", entry.Date)
	require.Equal(t, 3000.0, *entry.Volume)
	require.Equal(t, 133.0, *entry.OneRepMax)
}

func TestExerciseDropsInvalidCounters(t *testing.T) {
	entry, err := Exercise(map[string]any{"exerciseName": "Squat", "sets": 0.0, "reps": 2.5, "rir": 11.0}, "")
	require.NoError(t, err)
	require.Nil(t, entry.Sets)
	require.Nil(t, entry.Reps)
	require.Nil(t, entry.RIR)
	require.Nil(t, entry.Volume)
}

func TestExerciseRejectedWithoutName(t *testing.T) {
	_, err := Exercise(map[string]any{"sets": 3.0}, "")
	require.ErrorIs(t, err, ErrRejected)
}

func TestWorkoutCleansNestedExercises(t *testing.T) {
	session, err := Workout(map[string]any{
		"name":          "  Push day  ",
		"date":          "2024-04-01",
		"status":        "Completed",
		"totalDuration": 900.0,
		"exercises": []any{
			map[string]any{"exerciseName": "Bench", "reps": 5.0, "weight": 80.0},
			map[string]any{"sets": 3.0},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "Push day", session.Name)
	require.Equal(t, "completed", string(session.Status))
	require.Nil(t, session.TotalDuration)
	require.Len(t, session.Exercises, 1)
	require.Equal(t, "2024-04-01", session.Exercises[0].Date)
}

func TestWorkoutDropsUnknownStatus(t *testing.T) {
	session, err := Workout(map[string]any{"name": "Legs", "status": "paused"})
	require.NoError(t, err)
	require.Empty(t, session.Status)

	_, err = Workout(map[string]any{"status": "planned"})
	require.ErrorIs(t, err, ErrRejected)
}

func TestNotesAreTruncated(t *testing.T) {
	rec, err := Progress(map[string]any{"date": "2024-01-01", "notes": strings.Repeat("x", 600)})
	require.NoError(t, err)
	require.Len(t, rec.Notes, maxNotesLength)
}

func TestProfileMergesSettingsAndAttributes(t *testing.T) {
	goals := make([]any, 0, 12)
	for i := 0; i < 12; i++ {
		goals = append(goals, "goal")
	}
	profile, err := Profile(
		map[string]any{"units": "METRIC", "notifications": true},
		map[string]any{"age": 8.0, "height": 180.0, "activityLevel": "very_active", "goals": goals},
		map[string]any{"workoutStreak": 4.0, "lastWorkoutDate": nil},
	)
	require.NoError(t, err)
	require.Equal(t, "metric", profile.Settings.Units)
	require.True(t, *profile.Settings.Notifications)
	require.Nil(t, profile.Profile.Age)
	require.Equal(t, 180.0, *profile.Profile.Height)
	require.Len(t, profile.Profile.Goals, maxGoals)
	require.Equal(t, map[string]any{"workoutStreak": 4.0}, profile.MigratedData)
}

func TestProfileRejectedWhenEmpty(t *testing.T) {
	_, err := Profile(map[string]any{"units": "furlongs"}, nil, nil)
	require.ErrorIs(t, err, ErrRejected)
}

func TestNutritionAndRecovery(t *testing.T) {
	meal, err := Nutrition(map[string]any{"mealType": "lunch", "calories": 20000.0, "proteins": 45.0})
	require.NoError(t, err)
	require.Nil(t, meal.Calories)
	require.Equal(t, 45.0, *meal.Proteins)

	_, err = Nutrition(map[string]any{"calories": 500.0})
	require.ErrorIs(t, err, ErrRejected)

	session, err := Recovery(map[string]any{"type": "sauna", "temperature": 90.0, "intensity": 0.0})
	require.NoError(t, err)
	require.Equal(t, 90.0, *session.Temperature)
	require.Nil(t, session.Intensity)

	_, err = Recovery(map[string]any{"duration": 20.0})
	require.ErrorIs(t, err, ErrRejected)
}
