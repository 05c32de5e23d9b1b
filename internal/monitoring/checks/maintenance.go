package checks

import (
	"context"
	"strings"
	"time"

	"github.com/zeh237/taskly/internal/monitoring"
)

const defaultMaintenanceMaxAge = 26 * time.Hour

// Maintenance verifies that background jobs succeed and keep running. maxAge defaults to
// slightly more than a day so daily jobs are not flagged.
func Maintenance(tracker *monitoring.JobTracker, maxAge time.Duration) monitoring.Check {
	if maxAge <= 0 {
		maxAge = defaultMaintenanceMaxAge
	}

	return monitoring.NewCheck("maintenance", func(ctx context.Context) monitoring.ProbeResult {
		if tracker == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusUp, Details: "maintenance not scheduled"}
		}

		jobs := tracker.Snapshot()
		if len(jobs) == 0 {
			return monitoring.ProbeResult{Status: monitoring.StatusUp, Details: "no maintenance runs yet"}
		}

		now := time.Now()
		status := monitoring.StatusUp
		var problems []string
		for _, job := range jobs {
			if job.ConsecutiveFailures > 0 {
				status = monitoring.StatusDegraded
				problems = append(problems, job.Job+": "+job.LastError)
				continue
			}
			if now.Sub(job.LastRunAt) > maxAge {
				status = monitoring.StatusDegraded
				problems = append(problems, job.Job+": stale since "+job.LastRunAt.UTC().Format(time.RFC3339))
			}
		}

		return monitoring.ProbeResult{Status: status, Details: strings.Join(problems, "; ")}
	})
}
