package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	iauth "github.com/zeh237/taskly/internal/auth"
	"github.com/zeh237/taskly/internal/monitoring"
	"github.com/zeh237/taskly/internal/services"
	"github.com/zeh237/taskly/pkg/logger"
)

// Job names double as metric labels.
const (
	JobSessions    = "session_cleanup"
	JobAudit       = "audit_retention"
	JobInvitations = "invitation_sweep"
	JobOTPs        = "otp_sweep"
	JobCache       = "cache_purge"
)

const (
	defaultAuditRetentionDays = 90
	defaultSessionSpec        = "@hourly"
	defaultAuditSpec          = "@daily"
	defaultInvitationSpec     = "@hourly"
	defaultOTPSpec            = "@hourly"
	defaultCacheSpec          = "@every 15m"
	jobTimeout                = 5 * time.Minute
)

// CachePurger drops expired cache entries. Only the database-backed store needs it;
// Redis expires keys by itself.
type CachePurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Dependencies lists the services the housekeeping jobs act on. A nil dependency skips
// the corresponding job.
type Dependencies struct {
	Sessions    *iauth.SessionService
	Audit       *services.AuditService
	Invitations *services.InvitationService
	Accounts    *services.AccountService
	Cache       CachePurger
}

// Schedules holds cron specifications per job; empty fields keep the defaults.
type Schedules struct {
	Sessions    string
	Audit       string
	Invitations string
	OTPs        string
	Cache       string
}

type job struct {
	name     string
	schedule string
	run      func(ctx context.Context) (int64, error)
}

// Cleaner coordinates background maintenance: purging expired sessions, pruning stale
// audit logs, expiring lapsed invitations, clearing stale one-time codes and purging the
// database cache.
type Cleaner struct {
	deps      Dependencies
	cron      *cron.Cron
	tracker   *monitoring.JobTracker
	log       *zap.Logger
	retention int
	schedules Schedules
	jobs      []job
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithAuditRetentionDays adjusts how long audit logs are retained before cleanup.
func WithAuditRetentionDays(days int) Option {
	return func(cleaner *Cleaner) {
		if days > 0 {
			cleaner.retention = days
		}
	}
}

// WithSchedules overrides the cron specifications.
func WithSchedules(s Schedules) Option {
	return func(cleaner *Cleaner) {
		pick := func(target *string, spec string) {
			if spec != "" {
				*target = spec
			}
		}
		pick(&cleaner.schedules.Sessions, s.Sessions)
		pick(&cleaner.schedules.Audit, s.Audit)
		pick(&cleaner.schedules.Invitations, s.Invitations)
		pick(&cleaner.schedules.OTPs, s.OTPs)
		pick(&cleaner.schedules.Cache, s.Cache)
	}
}

// WithTracker records job outcomes for the readiness probe.
func WithTracker(tracker *monitoring.JobTracker) Option {
	return func(cleaner *Cleaner) {
		if tracker != nil {
			cleaner.tracker = tracker
		}
	}
}

// NewCleaner constructs a Cleaner with sensible defaults.
func NewCleaner(deps Dependencies, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		deps:      deps,
		retention: defaultAuditRetentionDays,
		schedules: Schedules{
			Sessions:    defaultSessionSpec,
			Audit:       defaultAuditSpec,
			Invitations: defaultInvitationSpec,
			OTPs:        defaultOTPSpec,
			Cache:       defaultCacheSpec,
		},
		log: logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}
	if cleaner.tracker == nil {
		cleaner.tracker = monitoring.NewJobTracker()
	}
	cleaner.jobs = cleaner.buildJobs()

	return cleaner
}

func (c *Cleaner) buildJobs() []job {
	var jobs []job
	if c.deps.Sessions != nil {
		jobs = append(jobs, job{JobSessions, c.schedules.Sessions, c.deps.Sessions.CleanupExpired})
	}
	if c.deps.Audit != nil && c.retention > 0 {
		jobs = append(jobs, job{JobAudit, c.schedules.Audit, func(ctx context.Context) (int64, error) {
			return c.deps.Audit.CleanupOlderThan(ctx, c.retention)
		}})
	}
	if c.deps.Invitations != nil {
		jobs = append(jobs, job{JobInvitations, c.schedules.Invitations, c.deps.Invitations.SweepExpired})
	}
	if c.deps.Accounts != nil {
		jobs = append(jobs, job{JobOTPs, c.schedules.OTPs, c.deps.Accounts.SweepStaleOTPs})
	}
	if c.deps.Cache != nil {
		jobs = append(jobs, job{JobCache, c.schedules.Cache, c.deps.Cache.PurgeExpired})
	}
	return jobs
}

// Jobs lists the names of the enabled jobs.
func (c *Cleaner) Jobs() []string {
	names := make([]string, 0, len(c.jobs))
	for _, j := range c.jobs {
		names = append(names, j.name)
	}
	return names
}

// Tracker exposes the job history.
func (c *Cleaner) Tracker() *monitoring.JobTracker {
	return c.tracker
}

// Start registers cleanup jobs with the cron scheduler and launches it if at least one job is enabled.
func (c *Cleaner) Start() error {
	if len(c.jobs) == 0 {
		return nil
	}

	for _, j := range c.jobs {
		if _, err := c.cron.AddFunc(j.schedule, func() {
			ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
			defer cancel()
			_ = c.execute(ctx, j)
		}); err != nil {
			return fmt.Errorf("maintenance: schedule %s: %w", j.name, err)
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes every enabled job sequentially and joins their errors.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error
	for _, j := range c.jobs {
		errs = multierr.Append(errs, c.execute(ctx, j))
	}
	return errs
}

func (c *Cleaner) execute(ctx context.Context, j job) error {
	start := time.Now()
	affected, err := j.run(ctx)
	c.tracker.Record(j.name, err, time.Since(start))

	if err != nil {
		c.log.Warn("maintenance job failed", zap.String("job", j.name), zap.Error(err))
		return fmt.Errorf("%s: %w", j.name, err)
	}
	if affected > 0 {
		c.log.Info("maintenance job completed", zap.String("job", j.name), zap.Int64("affected", affected))
	}
	return nil
}
