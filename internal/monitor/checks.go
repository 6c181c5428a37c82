package monitor

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rewindlabs/rewind/internal/config"
	"github.com/rewindlabs/rewind/internal/helpers"
	"github.com/rewindlabs/rewind/internal/rollback"
)

// DatabaseProber is the probe surface of the migration tool.
type DatabaseProber interface {
	Ping(ctx context.Context) error
	Query(ctx context.Context, query string) error
}

// runCheck executes one probe and always returns a result: a failed probe is
// health data, never an engine error.
func (m *Monitor) runCheck(ctx context.Context, check config.CheckConfig) rollback.CheckResult {
	result := rollback.CheckResult{
		CheckID:   check.ID,
		Service:   check.Service,
		Timestamp: m.now(),
	}

	switch check.Type {
	case config.CheckTypeHTTPResponse:
		m.checkHTTP(ctx, check, &result)
	case config.CheckTypeDatabaseConnection:
		m.checkDatabase(ctx, check, &result)
	case config.CheckTypeSystemResource:
		m.checkSystemResource(check, &result)
	case config.CheckTypeCustom:
		m.checkCustom(ctx, check, &result)
	default:
		result.Status = rollback.StatusUnknown
		result.Message = fmt.Sprintf("unknown check type %q", check.Type)
	}
	return result
}

// checkHTTP probes a URL. A wrong status code or transport error is critical;
// a valid response is classified by its latency in milliseconds.
func (m *Monitor) checkHTTP(ctx context.Context, check config.CheckConfig, result *rollback.CheckResult) {
	expected := check.ExpectedStatus
	if expected == 0 {
		expected = http.StatusOK
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, check.URL, nil)
	if err != nil {
		result.Status = rollback.StatusCritical
		result.Message = err.Error()
		return
	}

	started := time.Now()
	resp, err := m.httpClient.Do(req)
	latency := float64(time.Since(started).Milliseconds())
	result.Value = latency
	if err != nil {
		result.Status = rollback.StatusCritical
		result.Message = err.Error()
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != expected {
		result.Status = rollback.StatusCritical
		result.Message = fmt.Sprintf("status %d, expected %d", resp.StatusCode, expected)
		return
	}
	result.Status = classify(latency, check.WarnAbove, check.CritAbove)
	if result.Status != rollback.StatusHealthy {
		result.Message = fmt.Sprintf("latency %.0fms", latency)
	}
}

func (m *Monitor) checkDatabase(ctx context.Context, check config.CheckConfig, result *rollback.CheckResult) {
	if m.db == nil {
		result.Status = rollback.StatusUnknown
		result.Message = "no database is configured"
		return
	}

	started := time.Now()
	var err error
	if check.Query != "" {
		err = m.db.Query(ctx, check.Query)
	} else {
		err = m.db.Ping(ctx)
	}
	latency := float64(time.Since(started).Milliseconds())
	result.Value = latency
	if err != nil {
		result.Status = rollback.StatusCritical
		result.Message = err.Error()
		return
	}
	result.Status = classify(latency, check.WarnAbove, check.CritAbove)
	if result.Status != rollback.StatusHealthy {
		result.Message = fmt.Sprintf("ping latency %.0fms", latency)
	}
}

func (m *Monitor) checkSystemResource(check config.CheckConfig, result *rollback.CheckResult) {
	var value float64
	var err error
	switch check.Resource {
	case "cpu":
		value, err = cpuPercent(m.procRoot)
	case "memory":
		value, err = memoryPercent(m.procRoot)
	case "disk":
		value, err = diskPercent(m.diskPath)
	default:
		err = fmt.Errorf("unknown resource %q", check.Resource)
	}
	if err != nil {
		result.Status = rollback.StatusCritical
		result.Message = err.Error()
		return
	}
	result.Value = value
	result.Status = classify(value, check.WarnAbove, check.CritAbove)
	if result.Status != rollback.StatusHealthy {
		result.Message = fmt.Sprintf("%s at %.1f%%", check.Resource, value)
	}
}

// checkCustom runs a command and interprets its output as a numeric sample.
func (m *Monitor) checkCustom(ctx context.Context, check config.CheckConfig, result *rollback.CheckResult) {
	cmd := exec.CommandContext(ctx, "sh", "-c", check.Command)
	output, err := cmd.CombinedOutput()
	trimmed := strings.TrimSpace(string(output))
	if err != nil {
		result.Status = rollback.StatusCritical
		result.Message = fmt.Sprintf("command failed: %v", err)
		if trimmed != "" {
			result.Message += ": " + helpers.TruncateString(trimmed, 200)
		}
		return
	}

	value, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		result.Status = rollback.StatusCritical
		result.Message = fmt.Sprintf("command output %q is not numeric", helpers.TruncateString(trimmed, 100))
		return
	}
	result.Value = value
	result.Status = classify(value, check.WarnAbove, check.CritAbove)
	if result.Status != rollback.StatusHealthy {
		result.Message = fmt.Sprintf("value %.2f", value)
	}
}

// classify turns a measured value into a status. Missing thresholds never
// fire.
func classify(value float64, warnAbove, critAbove *float64) rollback.HealthStatus {
	if critAbove != nil && value >= *critAbove {
		return rollback.StatusCritical
	}
	if warnAbove != nil && value >= *warnAbove {
		return rollback.StatusWarning
	}
	return rollback.StatusHealthy
}

// cpuPercent approximates utilization as the one-minute load average over the
// core count.
func cpuPercent(procRoot string) (float64, error) {
	data, err := os.ReadFile(filepath.Join(procRoot, "loadavg"))
	if err != nil {
		return 0, fmt.Errorf("failed to read loadavg: %w", err)
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0, fmt.Errorf("loadavg is empty")
	}
	load, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, fmt.Errorf("malformed loadavg %q", fields[0])
	}
	return load / float64(runtime.NumCPU()) * 100, nil
}

func memoryPercent(procRoot string) (float64, error) {
	data, err := os.ReadFile(filepath.Join(procRoot, "meminfo"))
	if err != nil {
		return 0, fmt.Errorf("failed to read meminfo: %w", err)
	}
	var total, available float64
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		value, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			total = value
		case "MemAvailable:":
			available = value
		}
	}
	if total == 0 {
		return 0, fmt.Errorf("meminfo is missing MemTotal")
	}
	return (total - available) / total * 100, nil
}

func diskPercent(path string) (float64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, fmt.Errorf("failed to statfs %s: %w", path, err)
	}
	if stat.Blocks == 0 {
		return 0, nil
	}
	return float64(stat.Blocks-stat.Bavail) / float64(stat.Blocks) * 100, nil
}
