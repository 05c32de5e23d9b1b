package monitoring

import (
	"sort"
	"sync"
	"time"

	"github.com/zeh237/taskly/pkg/metrics"
)

// Maintenance job results.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// JobSummary reports the recent history of one maintenance job.
type JobSummary struct {
	Job                 string        `json:"job"`
	TotalRuns           uint64        `json:"total_runs"`
	Failures            uint64        `json:"failures"`
	ConsecutiveFailures uint64        `json:"consecutive_failures"`
	LastResult          string        `json:"last_result"`
	LastError           string        `json:"last_error,omitempty"`
	LastRunAt           time.Time     `json:"last_run_at"`
	LastDuration        time.Duration `json:"last_duration"`
}

// JobTracker remembers maintenance outcomes for the readiness probe and exports them as
// Prometheus counters.
type JobTracker struct {
	mu   sync.Mutex
	jobs map[string]*JobSummary
	now  func() time.Time
}

// NewJobTracker constructs an empty tracker.
func NewJobTracker() *JobTracker {
	return &JobTracker{jobs: make(map[string]*JobSummary), now: time.Now}
}

// Record stores the outcome of one run of job.
func (t *JobTracker) Record(job string, err error, duration time.Duration) {
	result := ResultSuccess
	if err != nil {
		result = ResultFailure
	}
	metrics.MaintenanceRuns.WithLabelValues(job, result).Inc()

	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.jobs[job]
	if !ok {
		entry = &JobSummary{Job: job}
		t.jobs[job] = entry
	}
	entry.TotalRuns++
	entry.LastResult = result
	entry.LastRunAt = t.now()
	entry.LastDuration = duration
	entry.LastError = ""
	if err != nil {
		entry.Failures++
		entry.ConsecutiveFailures++
		entry.LastError = err.Error()
	} else {
		entry.ConsecutiveFailures = 0
	}
}

// Snapshot returns the job summaries sorted by name.
func (t *JobTracker) Snapshot() []JobSummary {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]JobSummary, 0, len(t.jobs))
	for _, entry := range t.jobs {
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Job < out[j].Job })
	return out
}
