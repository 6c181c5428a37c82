package monitor

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewindlabs/rewind/internal/rollback"
)

var testEpoch = time.Date(2025, 11, 20, 14, 0, 0, 0, time.UTC)

func sample(checkID, service string, status rollback.HealthStatus, at time.Time) rollback.CheckResult {
	return rollback.CheckResult{
		CheckID:   checkID,
		Service:   service,
		Status:    status,
		Timestamp: at,
	}
}

func TestMetricStoreLatestResults(t *testing.T) {
	s := NewMetricStore(time.Hour)
	s.Append(sample("api-http", "api", rollback.StatusHealthy, testEpoch))
	s.Append(sample("api-http", "api", rollback.StatusCritical, testEpoch.Add(30*time.Second)))
	s.Append(sample("db-conn", "maindb", rollback.StatusHealthy, testEpoch.Add(time.Minute)))

	latest := s.LatestResults()
	require.Len(t, latest, 2)
	assert.Equal(t, rollback.StatusCritical, latest["api-http"].Status)
	assert.Equal(t, rollback.StatusHealthy, latest["db-conn"].Status)
}

func TestMetricStoreEvictDropsExpiredSamples(t *testing.T) {
	s := NewMetricStore(time.Hour)
	s.Append(sample("api-http", "api", rollback.StatusCritical, testEpoch))
	s.Append(sample("api-http", "api", rollback.StatusHealthy, testEpoch.Add(30*time.Minute)))

	s.Evict(testEpoch.Add(70 * time.Minute))
	snap, err := s.Snapshot()
	require.NoError(t, err)
	window := snap.Results("api-http")
	require.Len(t, window, 1)
	assert.Equal(t, rollback.StatusHealthy, window[0].Status)

	// Once every sample has expired the check disappears entirely.
	s.Evict(testEpoch.Add(3 * time.Hour))
	snap, err = s.Snapshot()
	require.NoError(t, err)
	assert.Empty(t, snap.Results("api-http"))
	assert.Empty(t, snap.Services())
}

func TestMetricStoreCapsWindowSize(t *testing.T) {
	s := NewMetricStore(24 * time.Hour)
	for i := 0; i < maxSamplesPerCheck+5; i++ {
		result := sample("api-http", "api", rollback.StatusHealthy, testEpoch.Add(time.Duration(i)*time.Second))
		result.Value = float64(i)
		s.Append(result)
	}

	snap, err := s.Snapshot()
	require.NoError(t, err)
	window := snap.Results("api-http")
	require.Len(t, window, maxSamplesPerCheck)
	assert.Equal(t, float64(5), window[0].Value)
}

func TestSnapshotFailureCountPoolsAcrossChecks(t *testing.T) {
	s := NewMetricStore(time.Hour)
	s.Append(sample("api-http", "api", rollback.StatusCritical, testEpoch))
	s.Append(sample("api-latency", "api", rollback.StatusHealthy, testEpoch.Add(10*time.Second)))
	s.Append(sample("api-http", "api", rollback.StatusCritical, testEpoch.Add(20*time.Second)))
	s.Append(sample("api-latency", "api", rollback.StatusWarning, testEpoch.Add(30*time.Second)))
	s.Append(sample("api-http", "api", rollback.StatusHealthy, testEpoch.Add(40*time.Second)))
	// Another service's failures never leak into api's count.
	s.Append(sample("db-conn", "maindb", rollback.StatusCritical, testEpoch.Add(40*time.Second)))

	snap, err := s.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 3, snap.FailureCount("api", 5))
	assert.Equal(t, 1, snap.FailureCount("api", 2))
	assert.Equal(t, 3, snap.FailureCount("api", 50))
	assert.Equal(t, 0, snap.FailureCount("unknown-service", 5))
}

func TestSnapshotServiceStatusIsWorstLatest(t *testing.T) {
	s := NewMetricStore(time.Hour)
	s.Append(sample("api-http", "api", rollback.StatusCritical, testEpoch))
	s.Append(sample("api-http", "api", rollback.StatusHealthy, testEpoch.Add(30*time.Second)))
	s.Append(sample("api-latency", "api", rollback.StatusWarning, testEpoch.Add(30*time.Second)))

	snap, err := s.Snapshot()
	require.NoError(t, err)
	// api-http recovered; api-latency's warning wins over it.
	assert.Equal(t, rollback.StatusWarning, snap.ServiceStatus("api"))
	assert.Equal(t, rollback.StatusUnknown, snap.ServiceStatus("maindb"))
}

func TestSnapshotIsIsolatedFromLaterAppends(t *testing.T) {
	s := NewMetricStore(time.Hour)
	s.Append(sample("api-http", "api", rollback.StatusHealthy, testEpoch))

	snap, err := s.Snapshot()
	require.NoError(t, err)
	s.Append(sample("api-http", "api", rollback.StatusCritical, testEpoch.Add(30*time.Second)))

	require.Len(t, snap.Results("api-http"), 1)
	assert.Equal(t, 0, snap.FailureCount("api", 5))
}

func TestMetricStoreLatestByService(t *testing.T) {
	s := NewMetricStore(time.Hour)
	for i := 0; i < 3; i++ {
		s.Append(sample(fmt.Sprintf("api-%d", i), "api", rollback.StatusHealthy, testEpoch.Add(time.Duration(i)*time.Second)))
	}
	s.Append(sample("api-1", "api", rollback.StatusCritical, testEpoch.Add(time.Minute)))
	s.Append(sample("db-conn", "maindb", rollback.StatusHealthy, testEpoch.Add(time.Minute)))

	statuses := s.LatestByService()
	require.Len(t, statuses, 2)
	assert.Equal(t, rollback.StatusCritical, statuses["api"])
	assert.Equal(t, rollback.StatusHealthy, statuses["maindb"])
}
