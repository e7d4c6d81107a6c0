package cleaner

import (
	"strings"

	"example.com/fitsync/internal/domain"
)

// Exercise field ranges.
var (
	ExerciseSets   = Range{1, 20}
	ExerciseReps   = Range{1, 100}
	ExerciseWeight = Range{0, 1000}
	ExerciseRIR    = Range{0, 10}
)

// Exercise cleans an exercise log entry. key is the local map key ("<exerciseName>_<date>") and may
// be empty; it supplies the name and date when the record itself lacks them. The entry is rejected
// without an exercise name.
func Exercise(raw any, key string) (domain.ExerciseLogEntry, error) {
	m, ok := object(raw)
	if !ok {
		return domain.ExerciseLogEntry{}, reject("exercise entry is not an object")
	}

	keyName, keyDate := splitExerciseKey(key)

	entry := domain.ExerciseLogEntry{
		ExerciseName: text(m, maxNameLength, "exerciseName", "name"),
		Date:         calendarDate(m, "date"),
		Sets:         integer(m, ExerciseSets, "sets"),
		Reps:         integer(m, ExerciseReps, "reps"),
		Weight:       number(m, ExerciseWeight, "weight"),
		RIR:          integer(m, ExerciseRIR, "rir", "RIR"),
		Notes:        text(m, maxNotesLength, "notes"),
	}
	if entry.ExerciseName == "" {
		entry.ExerciseName = truncate(keyName, maxNameLength)
	}
	if entry.Date == "" && keyDate != "" {
		entry.Date = calendarDate(map[string]any{"date": keyDate}, "date")
	}
	if entry.ExerciseName == "" {
		return domain.ExerciseLogEntry{}, reject("exercise entry has no exercise name")
	}
	return entry.WithDerived(), nil
}

// splitExerciseKey splits "<exerciseName>_<date>" on the last underscore.
func splitExerciseKey(key string) (name, date string) {
	key = strings.TrimSpace(key)
	idx := strings.LastIndex(key, "_")
	if idx < 0 {
		return key, ""
	}
	return strings.TrimSpace(key[:idx]), strings.TrimSpace(key[idx+1:])
}
