package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComputeOneRepMax(t *testing.T) {
	tests := []struct {
		name   string
		weight float64
		reps   int
		want   float64
	}{
		{"single rep", 100, 1, 100},
		{"ten reps", 100, 10, 133},
		{"five reps", 80, 5, 93},
		{"zero reps", 60, 0, 60},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, ComputeOneRepMax(tc.weight, tc.reps))
		})
	}
}

func TestWithDerived(t *testing.T) {
	sets, reps, weight := 3, 10, 100.0
	entry := ExerciseLogEntry{ExerciseName: "Squat", Sets: &sets, Reps: &reps, Weight: &weight}.WithDerived()

	require.NotNil(t, entry.Volume)
	require.Equal(t, 3000.0, *entry.Volume)
	require.NotNil(t, entry.OneRepMax)
	require.Equal(t, 133.0, *entry.OneRepMax)

	partial := ExerciseLogEntry{ExerciseName: "Plank", Reps: &reps}.WithDerived()
	require.Nil(t, partial.Volume)
	require.Nil(t, partial.OneRepMax)
}

func TestWorkoutStatusValid(t *testing.T) {
	require.True(t, WorkoutInProgress.Valid())
	require.False(t, WorkoutStatus("paused").Valid())
}
