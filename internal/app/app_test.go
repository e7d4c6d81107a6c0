package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"example.com/fitsync/internal/auth"
	"example.com/fitsync/internal/config"
	"example.com/fitsync/internal/domain"
	"example.com/fitsync/internal/localstore"
	"example.com/fitsync/internal/platform/logger"
)

func TestOpenMemoryWithSQLite(t *testing.T) {
	ctx := context.Background()
	cfg := config.Config{
		RemoteStore:      "memory",
		LocalStore:       "sqlite",
		LocalStorePath:   t.TempDir(),
		TxMaxAttempts:    3,
		MigrationRate:    1000,
		MigrationVersion: "1.0",
	}
	a, err := Open(ctx, cfg, auth.OwnerFromContext, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close()) })
	require.Nil(t, a.Pool)

	require.NoError(t, a.Local.Set(ctx, localstore.KeyProgress, []byte(`[{"weight": 72, "date": "2024-03-01"}]`)))

	owned := auth.WithClaims(ctx, &auth.Claims{Subject: "user-1"})
	report, err := a.Migrator.MigrateAllData(owned)
	require.NoError(t, err)
	require.Equal(t, 1, report.MigratedItems)

	completed, err := a.Migrator.IsMigrationCompleted(ctx)
	require.NoError(t, err)
	require.True(t, completed)

	_, err = a.Repos.Progress.Create(ctx, domain.ProgressRecord{Date: "2024-03-02"}, "")
	require.ErrorIs(t, err, domain.ErrUnauthenticated)
}
