package domain

// WorkoutStatus tracks where a session is in its lifecycle.
type WorkoutStatus string

const (
	WorkoutPlanned    WorkoutStatus = "planned"
	WorkoutInProgress WorkoutStatus = "in_progress"
	WorkoutCompleted  WorkoutStatus = "completed"
)

// Valid reports whether s is a known status.
func (s WorkoutStatus) Valid() bool {
	switch s {
	case WorkoutPlanned, WorkoutInProgress, WorkoutCompleted:
		return true
	}
	return false
}

// WorkoutSession is a training session with its ordered exercise performances.
type WorkoutSession struct {
	Date          string             `json:"date,omitempty"`
	Name          string             `json:"name,omitempty"`
	Status        WorkoutStatus      `json:"status,omitempty"`
	TotalDuration *int               `json:"totalDuration,omitempty"` // minutes
	Exercises     []ExerciseLogEntry `json:"exercises,omitempty"`
	Notes         string             `json:"notes,omitempty"`
}
