package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecordRemoteWrite(t *testing.T) {
	before := testutil.ToFloat64(remoteWrites.WithLabelValues("progress", "create", "error"))
	RecordRemoteWrite("progress", "create", errors.New("boom"))
	require.Equal(t, before+1, testutil.ToFloat64(remoteWrites.WithLabelValues("progress", "create", "error")))
}

func TestRecordMigrationRecordsSkipsZero(t *testing.T) {
	before := testutil.ToFloat64(migrationRecords.WithLabelValues("workouts", "failed"))
	RecordMigrationRecords("workouts", 3, 0)
	require.Equal(t, before, testutil.ToFloat64(migrationRecords.WithLabelValues("workouts", "failed")))
}

func TestRecordMigrationCompleted(t *testing.T) {
	ts := time.Unix(1_700_000_000, 0)
	RecordMigrationCompleted(ts)
	require.Equal(t, float64(ts.Unix()), testutil.ToFloat64(migrationCompleted))

	RecordMigrationCompleted(time.Time{})
	require.Equal(t, float64(ts.Unix()), testutil.ToFloat64(migrationCompleted))
}
