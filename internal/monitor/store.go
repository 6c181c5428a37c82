package monitor

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/jinzhu/copier"
	"github.com/rewindlabs/rewind/internal/rollback"
)

// maxSamplesPerCheck caps one check's window regardless of retention, so a
// one-second check interval cannot grow the store without bound between
// evictions.
const maxSamplesPerCheck = 1000

// MetricStore is the rolling window of check results. The monitor tick owns
// appends and evictions; rule evaluation reads through an immutable Snapshot.
type MetricStore struct {
	mu        sync.Mutex
	results   map[string][]rollback.CheckResult
	retention time.Duration
}

func NewMetricStore(retention time.Duration) *MetricStore {
	return &MetricStore{
		results:   make(map[string][]rollback.CheckResult),
		retention: retention,
	}
}

// Append records one result at the end of its check's window.
func (s *MetricStore) Append(result rollback.CheckResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	window := append(s.results[result.CheckID], result)
	if len(window) > maxSamplesPerCheck {
		window = window[len(window)-maxSamplesPerCheck:]
	}
	s.results[result.CheckID] = window
}

// Evict drops results older than the retention window.
func (s *MetricStore) Evict(now time.Time) {
	cutoff := now.Add(-s.retention)
	s.mu.Lock()
	defer s.mu.Unlock()
	for checkID, window := range s.results {
		keep := window
		for len(keep) > 0 && keep[0].Timestamp.Before(cutoff) {
			keep = keep[1:]
		}
		if len(keep) == 0 {
			delete(s.results, checkID)
			continue
		}
		s.results[checkID] = slices.Clone(keep)
	}
}

// Snapshot deep-copies the current window so every rule evaluated in one tick
// sees the same data.
func (s *MetricStore) Snapshot() (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := make(map[string][]rollback.CheckResult, len(s.results))
	if err := copier.CopyWithOption(&copied, s.results, copier.Option{DeepCopy: true}); err != nil {
		return nil, fmt.Errorf("failed to copy metric window: %w", err)
	}
	return &Snapshot{results: copied}, nil
}

// FailureCount reports non-healthy results among the service's most recent
// window samples, pooled across all of the service's checks.
func (s *MetricStore) FailureCount(service string, window int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&Snapshot{results: s.results}).FailureCount(service, window)
}

// LatestByService aggregates the worst latest status per service.
func (s *MetricStore) LatestByService() map[string]rollback.HealthStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	view := &Snapshot{results: s.results}
	statuses := make(map[string]rollback.HealthStatus)
	for _, service := range view.Services() {
		statuses[service] = view.ServiceStatus(service)
	}
	return statuses
}

// LatestResults returns each check's most recent result, keyed by check ID.
func (s *MetricStore) LatestResults() map[string]rollback.CheckResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	latest := make(map[string]rollback.CheckResult, len(s.results))
	for checkID, window := range s.results {
		latest[checkID] = window[len(window)-1]
	}
	return latest
}

// Snapshot is an immutable view of the metric window at one instant.
type Snapshot struct {
	results map[string][]rollback.CheckResult
}

// Results returns a check's window, oldest first.
func (s *Snapshot) Results(checkID string) []rollback.CheckResult {
	return s.results[checkID]
}

// Latest returns a check's most recent result.
func (s *Snapshot) Latest(checkID string) (rollback.CheckResult, bool) {
	window := s.results[checkID]
	if len(window) == 0 {
		return rollback.CheckResult{}, false
	}
	return window[len(window)-1], true
}

// FailureCount counts non-healthy results among the service's most recent
// window samples.
func (s *Snapshot) FailureCount(service string, window int) int {
	pooled := s.serviceResults(service)
	if window < len(pooled) {
		pooled = pooled[len(pooled)-window:]
	}
	count := 0
	for _, result := range pooled {
		if !result.Healthy() {
			count++
		}
	}
	return count
}

// ServiceStatus is the worst latest status across the service's checks, or
// unknown when the service has no results.
func (s *Snapshot) ServiceStatus(service string) rollback.HealthStatus {
	status := rollback.StatusUnknown
	seen := false
	for _, window := range s.results {
		latest := window[len(window)-1]
		if latest.Service != service {
			continue
		}
		if !seen {
			status, seen = latest.Status, true
			continue
		}
		status = rollback.Worse(status, latest.Status)
	}
	return status
}

// Services lists every service present in the snapshot, sorted.
func (s *Snapshot) Services() []string {
	seen := make(map[string]bool)
	var services []string
	for _, window := range s.results {
		for _, result := range window {
			if !seen[result.Service] {
				seen[result.Service] = true
				services = append(services, result.Service)
			}
		}
	}
	slices.Sort(services)
	return services
}

// serviceResults pools the service's samples across checks, oldest first.
func (s *Snapshot) serviceResults(service string) []rollback.CheckResult {
	var pooled []rollback.CheckResult
	for _, window := range s.results {
		for _, result := range window {
			if result.Service == service {
				pooled = append(pooled, result)
			}
		}
	}
	slices.SortStableFunc(pooled, func(a, b rollback.CheckResult) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	return pooled
}
