package migration

import (
	"context"
	"encoding/json"
	"fmt"

	"example.com/fitsync/internal/localstore"
)

func (o *Orchestrator) captureBackup(ctx context.Context) (Backup, error) {
	backup := Backup{Timestamp: o.clock().UTC(), Data: make(map[string]string)}
	for _, key := range localstore.DataKeys {
		raw, ok, err := o.local.Get(ctx, key)
		if err != nil {
			return Backup{}, fmt.Errorf("%w: read %s: %v", ErrBackupFailed, key, err)
		}
		if ok {
			backup.Data[key] = string(raw)
		}
	}
	raw, err := json.Marshal(backup)
	if err != nil {
		return Backup{}, fmt.Errorf("%w: encode: %v", ErrBackupFailed, err)
	}
	if err := o.local.Set(ctx, localstore.KeyMigrationBackup, raw); err != nil {
		return Backup{}, fmt.Errorf("%w: write: %v", ErrBackupFailed, err)
	}
	return backup, nil
}

func (o *Orchestrator) loadBackup(ctx context.Context) (Backup, bool, error) {
	var backup Backup
	ok, err := localstore.GetJSON(ctx, o.local, localstore.KeyMigrationBackup, &backup)
	if err != nil || !ok {
		return Backup{}, false, err
	}
	return backup, true, nil
}

// RollbackMigration restores every known local key to its backed-up value, removing keys that
// did not exist when the backup was taken, then clears the completed flag and its details and
// returns the orchestrator to StateNotStarted. Remote documents are left in place.
func (o *Orchestrator) RollbackMigration(ctx context.Context) error {
	if !o.running.TryLock() {
		return ErrInProgress
	}
	defer o.running.Unlock()

	ctx, span := tracer.Start(ctx, "Orchestrator.RollbackMigration")
	defer span.End()

	backup, ok, err := o.loadBackup(ctx)
	if err != nil {
		return fail(span, fmt.Errorf("load backup: %w", err))
	}
	if !ok {
		o.logger.Error("rollback refused", "error", ErrNoBackup)
		return fail(span, ErrNoBackup)
	}

	for _, key := range localstore.DataKeys {
		raw, present := backup.Data[key]
		if present {
			err = o.local.Set(ctx, key, []byte(raw))
		} else {
			err = o.local.Remove(ctx, key)
		}
		if err != nil {
			return fail(span, fmt.Errorf("restore %s: %w", key, err))
		}
	}
	for _, key := range []string{localstore.KeyMigrationStatus, localstore.KeyMigrationDetails} {
		if err := o.local.Remove(ctx, key); err != nil {
			return fail(span, fmt.Errorf("clear %s: %w", key, err))
		}
	}

	o.setState(StateNotStarted)
	o.logger.Info("migration rolled back", "backup_timestamp", backup.Timestamp, "keys", len(backup.Data))
	return nil
}
