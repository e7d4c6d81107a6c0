package migration

import (
	"errors"
	"time"
)

var (
	// ErrBackupFailed is returned when local data cannot be snapshotted; migration does not start.
	ErrBackupFailed = errors.New("migration backup failed")
	// ErrNoBackup is returned by rollback when no backup exists.
	ErrNoBackup = errors.New("no migration backup")
	// ErrInProgress is returned when a migration or rollback is already running.
	ErrInProgress = errors.New("migration already in progress")
)

// State is the orchestrator's position in the migration lifecycle. A rollback returns the
// orchestrator to StateNotStarted.
type State string

const (
	StateNotStarted          State = "not_started"
	StateBackupCreated       State = "backup_created"
	StateMigrating           State = "migrating"
	StateVerifying           State = "verifying"
	StateCompleted           State = "completed"
	StateCompletedWithErrors State = "completed_with_errors"
)

// Outcome classifies a finished run for the caller.
type Outcome string

const (
	OutcomeClean    Outcome = "clean"
	OutcomeWarnings Outcome = "warnings"
	OutcomeNotRun   Outcome = "not_run"
)

// completedFlag is the value stored under the status key once migration completes.
const completedFlag = "completed"

// Entity type names used in reports.
const (
	TypeProgress  = "progress"
	TypeWorkouts  = "workouts"
	TypeExercises = "exercises"
	TypeUsers     = "userSettings"
	TypeNutrition = "nutrition"
	TypeRecovery  = "recovery"
)

// Backup is the snapshot of every known local key taken before a migration attempt. Data holds
// the raw stored value per present key.
type Backup struct {
	Timestamp time.Time         `json:"timestamp"`
	Data      map[string]string `json:"data"`
}

// Details is the persisted description of the last migration run.
type Details struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

// Status is the read-only view returned by GetMigrationStatus.
type Status struct {
	IsCompleted bool     `json:"isCompleted"`
	Details     *Details `json:"details,omitempty"`
	HasBackup   bool     `json:"hasBackup"`
	State       State    `json:"state"`
}

// TypeReport tallies one entity type.
type TypeReport struct {
	Type     string `json:"type"`
	Total    int    `json:"total"`
	Migrated int    `json:"migrated"`
}

// Check is the read-back result for one entity type.
type Check struct {
	Type     string `json:"type"`
	Expected bool   `json:"expected"`
	Found    bool   `json:"found"`
	Passed   bool   `json:"passed"`
	Error    string `json:"error,omitempty"`
}

// Verification is the result of a post-migration read-back.
type Verification struct {
	Passed bool    `json:"passed"`
	Checks []Check `json:"checks"`
}

// Report is returned by MigrateAllData.
type Report struct {
	StartTime          time.Time     `json:"startTime"`
	EndTime            time.Time     `json:"endTime"`
	Steps              []string      `json:"steps"`
	Errors             []string      `json:"errors"`
	TotalItems         int           `json:"totalItems"`
	MigratedItems      int           `json:"migratedItems"`
	VerificationPassed bool          `json:"verificationPassed"`
	Success            bool          `json:"success"`
	Outcome            Outcome       `json:"outcome"`
	Types              []TypeReport  `json:"types,omitempty"`
	Verification       *Verification `json:"verification,omitempty"`
}

func (r *Report) step(msg string) {
	r.Steps = append(r.Steps, msg)
}
