// Package migration moves on-device records into the remote document store once, with a
// backup taken beforehand, per-record failure tolerance, read-back verification and rollback.
package migration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"example.com/fitsync/internal/localstore"
	"example.com/fitsync/internal/observability"
	"example.com/fitsync/internal/platform/logger"
	"example.com/fitsync/internal/repository"
)

var tracer = otel.Tracer("fitsync/migration")

// Config tunes the orchestrator.
type Config struct {
	// Version is persisted in the migration details.
	Version string
	// WritesPerSecond bounds remote writes during migration.
	WritesPerSecond float64
	// Owner resolves the authenticated owner. A failure is fatal for the run.
	Owner repository.OwnerFunc
	Clock func() time.Time
}

// Orchestrator sequences backup, per-type migration, verification and rollback. Only one
// migration or rollback runs at a time.
type Orchestrator struct {
	local   localstore.Store
	repos   *repository.Repositories
	owner   repository.OwnerFunc
	limiter *rate.Limiter
	version string
	clock   func() time.Time
	logger  *logger.Logger
	steps   []entityStep

	running sync.Mutex

	mu    sync.RWMutex
	state State
}

// New builds an Orchestrator.
func New(local localstore.Store, repos *repository.Repositories, cfg Config, log *logger.Logger) *Orchestrator {
	if cfg.WritesPerSecond <= 0 {
		cfg.WritesPerSecond = 10
	}
	if cfg.Version == "" {
		cfg.Version = "1.0"
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if log == nil {
		log = logger.NewNop()
	}
	o := &Orchestrator{
		local:   local,
		repos:   repos,
		owner:   cfg.Owner,
		limiter: rate.NewLimiter(rate.Limit(cfg.WritesPerSecond), 1),
		version: cfg.Version,
		clock:   cfg.Clock,
		logger:  log.With("component", "migration"),
		state:   StateNotStarted,
	}
	o.steps = o.entitySteps()
	return o
}

// State reports the in-process lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = s
}

// IsMigrationCompleted reads the persisted completed flag.
func (o *Orchestrator) IsMigrationCompleted(ctx context.Context) (bool, error) {
	raw, ok, err := o.local.Get(ctx, localstore.KeyMigrationStatus)
	if err != nil {
		return false, fmt.Errorf("read migration status: %w", err)
	}
	return ok && string(raw) == completedFlag, nil
}

// GetMigrationStatus returns the persisted flag, details and whether a backup exists.
func (o *Orchestrator) GetMigrationStatus(ctx context.Context) (Status, error) {
	completed, err := o.IsMigrationCompleted(ctx)
	if err != nil {
		return Status{}, err
	}
	status := Status{IsCompleted: completed, State: o.State()}

	var details Details
	ok, err := localstore.GetJSON(ctx, o.local, localstore.KeyMigrationDetails, &details)
	if err != nil {
		return Status{}, err
	}
	if ok {
		status.Details = &details
	}

	_, status.HasBackup, err = o.local.Get(ctx, localstore.KeyMigrationBackup)
	if err != nil {
		return Status{}, fmt.Errorf("read migration backup: %w", err)
	}
	return status, nil
}

// MigrateAllData runs the migration unless it already completed. Per-record failures end up in
// the report's Errors and never abort the run. Authentication and backup failures are fatal:
// the report's Outcome is OutcomeNotRun and the error is returned.
func (o *Orchestrator) MigrateAllData(ctx context.Context) (Report, error) {
	report := Report{StartTime: o.clock().UTC(), Steps: []string{}, Errors: []string{}}
	if !o.running.TryLock() {
		return o.notRun(report, ErrInProgress), ErrInProgress
	}
	defer o.running.Unlock()

	ctx, span := tracer.Start(ctx, "Orchestrator.MigrateAllData")
	defer span.End()

	completed, err := o.IsMigrationCompleted(ctx)
	if err != nil {
		return o.notRun(report, err), fail(span, err)
	}
	if completed {
		o.setState(StateCompleted)
		report.step("migration already completed")
		report.Success = true
		report.VerificationPassed = true
		report.Outcome = OutcomeClean
		report.EndTime = o.clock().UTC()
		return report, nil
	}

	owner, err := o.owner(ctx)
	if err != nil {
		o.logger.Error("migration requires an authenticated owner", "error", err)
		return o.notRun(report, err), fail(span, err)
	}
	log := o.logger.With("owner_id", owner)

	backup, err := o.captureBackup(ctx)
	if err != nil {
		log.Error("backup failed, migration not started", "error", err)
		return o.notRun(report, err), fail(span, err)
	}
	o.setState(StateBackupCreated)
	report.step(fmt.Sprintf("backup created (%d keys)", len(backup.Data)))

	o.setState(StateMigrating)
	expected := make(map[string]bool, len(o.steps))
	for _, step := range o.steps {
		res := step.migrate(ctx, owner)
		expected[step.name] = res.cleaned > 0
		report.TotalItems += res.Total
		report.MigratedItems += res.Migrated
		report.Errors = append(report.Errors, res.errors...)
		report.Types = append(report.Types, res.TypeReport)
		observability.RecordMigrationRecords(step.name, res.Migrated, res.Total-res.Migrated)
		if res.fatal != nil {
			o.setState(StateBackupCreated)
			log.Error("migration aborted", "type", step.name, "error", res.fatal)
			return o.notRun(report, res.fatal), fail(span, res.fatal)
		}
		report.step(fmt.Sprintf("%s: migrated %d of %d", step.name, res.Migrated, res.Total))
	}

	o.setState(StateVerifying)
	verification := o.verify(ctx, owner, expected)
	report.Verification = &verification
	report.VerificationPassed = verification.Passed
	if verification.Passed {
		report.step("verification passed")
	} else {
		report.step("verification failed")
	}

	status := string(StateCompleted)
	if len(report.Errors) == 0 && verification.Passed {
		if err := o.local.Set(ctx, localstore.KeyMigrationStatus, []byte(completedFlag)); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("persist completed flag: %v", err))
		}
	}
	if len(report.Errors) > 0 || !verification.Passed {
		status = string(StateCompletedWithErrors)
	}
	report.EndTime = o.clock().UTC()
	if err := localstore.SetJSON(ctx, o.local, localstore.KeyMigrationDetails, Details{
		Status:    status,
		Timestamp: report.EndTime,
		Version:   o.version,
	}); err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("persist migration details: %v", err))
		if status == string(StateCompleted) {
			status = string(StateCompletedWithErrors)
			if err := o.local.Remove(ctx, localstore.KeyMigrationStatus); err != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("clear completed flag: %v", err))
			}
		}
	}

	report.Success = true
	if status == string(StateCompleted) {
		report.Outcome = OutcomeClean
		report.step("migration completed")
		observability.RecordMigrationCompleted(report.EndTime)
	} else {
		report.Outcome = OutcomeWarnings
		report.step(fmt.Sprintf("migration completed with %d errors", len(report.Errors)))
	}
	o.setState(State(status))
	observability.RecordMigrationRun(string(report.Outcome))
	span.SetAttributes(
		attribute.Int("total_items", report.TotalItems),
		attribute.Int("migrated_items", report.MigratedItems),
		attribute.String("outcome", string(report.Outcome)),
	)
	log.Info("migration finished",
		"outcome", report.Outcome,
		"total_items", report.TotalItems,
		"migrated_items", report.MigratedItems,
		"errors", len(report.Errors),
		"verification_passed", report.VerificationPassed,
	)
	return report, nil
}

// VerifyMigration reads back each collection whose local data yields at least one valid record.
func (o *Orchestrator) VerifyMigration(ctx context.Context) (Verification, error) {
	ctx, span := tracer.Start(ctx, "Orchestrator.VerifyMigration")
	defer span.End()

	owner, err := o.owner(ctx)
	if err != nil {
		return Verification{}, fail(span, err)
	}
	expected := make(map[string]bool, len(o.steps))
	for _, step := range o.steps {
		n, err := step.count(ctx)
		if err != nil {
			o.logger.Warn("local data unreadable during verification", "type", step.name, "error", err)
		}
		expected[step.name] = n > 0
	}
	return o.verify(ctx, owner, expected), nil
}

func (o *Orchestrator) verify(ctx context.Context, owner string, expected map[string]bool) Verification {
	ctx, span := tracer.Start(ctx, "Orchestrator.verify")
	defer span.End()

	out := Verification{Passed: true, Checks: make([]Check, 0, len(o.steps))}
	for _, step := range o.steps {
		check := Check{Type: step.name, Expected: expected[step.name]}
		if !check.Expected {
			check.Passed = true
			out.Checks = append(out.Checks, check)
			continue
		}
		found, err := step.exists(ctx, owner)
		check.Found = found
		check.Passed = found && err == nil
		if err != nil {
			check.Error = err.Error()
		}
		if !check.Passed {
			out.Passed = false
		}
		out.Checks = append(out.Checks, check)
	}
	span.SetAttributes(attribute.Bool("passed", out.Passed))
	return out
}

func (o *Orchestrator) notRun(report Report, err error) Report {
	report.Outcome = OutcomeNotRun
	report.Success = false
	report.Errors = append(report.Errors, err.Error())
	report.EndTime = o.clock().UTC()
	if !errors.Is(err, ErrInProgress) {
		observability.RecordMigrationRun(string(OutcomeNotRun))
	}
	return report
}

// BackupSnapshot returns the stored backup, or ErrNoBackup.
func (o *Orchestrator) BackupSnapshot(ctx context.Context) (Backup, error) {
	backup, ok, err := o.loadBackup(ctx)
	if err != nil {
		return Backup{}, err
	}
	if !ok {
		return Backup{}, ErrNoBackup
	}
	return backup, nil
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
