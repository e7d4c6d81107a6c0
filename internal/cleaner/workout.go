package cleaner

import "example.com/fitsync/internal/domain"

// WorkoutDuration bounds a session's total duration in minutes.
var WorkoutDuration = Range{0, 480}

var workoutStatuses = []string{
	string(domain.WorkoutPlanned),
	string(domain.WorkoutInProgress),
	string(domain.WorkoutCompleted),
}

// Workout cleans a workout session. Nested exercise entries are cleaned one by one and rejected
// entries are dropped from the list. The session is rejected when it has neither name nor date.
func Workout(raw any) (domain.WorkoutSession, error) {
	m, ok := object(raw)
	if !ok {
		return domain.WorkoutSession{}, reject("workout session is not an object")
	}

	session := domain.WorkoutSession{
		Date:          calendarDate(m, "date"),
		Name:          text(m, maxNameLength, "name", "workoutName"),
		Status:        domain.WorkoutStatus(enum(m, workoutStatuses, "status")),
		TotalDuration: integer(m, WorkoutDuration, "totalDuration", "duration"),
		Notes:         text(m, maxNotesLength, "notes"),
	}

	if list, ok := m["exercises"].([]any); ok {
		for _, item := range list {
			entry, err := Exercise(item, "")
			if err != nil {
				continue
			}
			if entry.Date == "" {
				entry.Date = session.Date
			}
			session.Exercises = append(session.Exercises, entry)
		}
	}

	if session.Name == "" && session.Date == "" {
		return domain.WorkoutSession{}, reject("workout session has neither a name nor a date")
	}
	return session, nil
}
