package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/zeh237/taskly/internal/api"
	"github.com/zeh237/taskly/internal/app"
	"github.com/zeh237/taskly/internal/app/maintenance"
	iauth "github.com/zeh237/taskly/internal/auth"
	"github.com/zeh237/taskly/internal/cache"
	"github.com/zeh237/taskly/internal/database"
	"github.com/zeh237/taskly/internal/middleware"
	"github.com/zeh237/taskly/internal/monitoring"
	"github.com/zeh237/taskly/internal/monitoring/checks"
	"github.com/zeh237/taskly/internal/notifications"
	"github.com/zeh237/taskly/internal/services"
	"github.com/zeh237/taskly/pkg/logger"
	"github.com/zeh237/taskly/pkg/mail"
)

const (
	probeTimeout      = 2 * time.Second
	maintenanceMaxAge = 26 * time.Hour
)

// runtimeStack bundles long-lived services shared by the server and the CLI commands.
type runtimeStack struct {
	Config *app.Config

	DB    *gorm.DB
	Store cache.Store
	Redis *cache.RedisStore
	Queue *asynq.Client

	Notifier    notifications.Notifier
	JWT         *iauth.JWTService
	Sessions    *iauth.SessionService
	Audit       *services.AuditService
	Accounts    *services.AccountService
	Projects    *services.ProjectService
	Invitations *services.InvitationService
	Tasks       *services.TaskService

	Cleaner   *maintenance.Cleaner
	Health    *monitoring.HealthManager
	RateStore middleware.RateStore
}

// bootstrapRuntime opens the database and cache, then builds every domain service.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{Config: cfg}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	generated, err := app.ApplyRuntimeDefaults(ctx, cfg, stack.DB)
	if err != nil {
		return nil, err
	}
	for key := range generated {
		log.Info("runtime secret loaded from system settings", zap.String("key", key))
	}

	dbStore := cache.NewDatabaseStore(stack.DB)
	stack.Store = dbStore
	if cfg.Cache.Backend() == "redis" {
		if stack.Redis, err = cache.NewRedisStore(ctx, cfg.Cache.RedisClientConfig()); err != nil {
			log.Warn("redis unavailable; falling back to database-backed cache", zap.Error(err))
			stack.Redis = nil
		} else {
			stack.Store = stack.Redis
			log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
		}
	}

	stack.Notifier, stack.Queue, err = buildNotifier(cfg, log)
	if err != nil {
		return nil, err
	}

	stack.JWT, err = iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	sessionCfg := cfg.Auth.SessionServiceConfig()
	sessionCfg.Cache = iauth.NewSessionCache(stack.Store)
	stack.Sessions, err = iauth.NewSessionService(stack.DB, stack.JWT, sessionCfg)
	if err != nil {
		return nil, fmt.Errorf("initialise session service: %w", err)
	}

	stack.Audit, err = services.NewAuditService(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise audit service: %w", err)
	}

	accountOpts := append(cfg.Identity.AccountOptions(), services.WithAccountLogger(logger.WithModule("identity")))
	stack.Accounts, err = services.NewAccountService(stack.DB, stack.Notifier, stack.Audit, accountOpts...)
	if err != nil {
		return nil, fmt.Errorf("initialise account service: %w", err)
	}

	stack.Projects, err = services.NewProjectService(stack.DB, stack.Audit)
	if err != nil {
		return nil, fmt.Errorf("initialise project service: %w", err)
	}

	invitationOpts := append(cfg.Invitations.InvitationOptions(), services.WithInvitationLogger(logger.WithModule("invitations")))
	stack.Invitations, err = services.NewInvitationService(stack.DB, stack.Notifier, stack.Audit, invitationOpts...)
	if err != nil {
		return nil, fmt.Errorf("initialise invitation service: %w", err)
	}

	stack.Tasks, err = services.NewTaskService(stack.DB, stack.Audit)
	if err != nil {
		return nil, fmt.Errorf("initialise task service: %w", err)
	}

	deps := maintenance.Dependencies{
		Sessions:    stack.Sessions,
		Audit:       stack.Audit,
		Invitations: stack.Invitations,
		Accounts:    stack.Accounts,
	}
	if stack.Redis == nil {
		deps.Cache = dbStore
	}
	mc := cfg.Maintenance
	stack.Cleaner = maintenance.NewCleaner(deps,
		maintenance.WithAuditRetentionDays(mc.AuditRetentionDays),
		maintenance.WithSchedules(maintenance.Schedules{
			Sessions:    mc.SessionSchedule,
			Audit:       mc.AuditSchedule,
			Invitations: mc.InvitationSchedule,
			OTPs:        mc.OTPSchedule,
			Cache:       mc.CacheSchedule,
		}),
	)

	stack.Health = monitoring.NewHealthManager(
		checks.Database(stack.DB, probeTimeout),
		checks.Maintenance(stack.Cleaner.Tracker(), maintenanceMaxAge),
	)
	if stack.Redis != nil {
		stack.Health.Register(checks.Cache("redis", stack.Redis, probeTimeout))
	}

	stack.RateStore = middleware.NewCacheRateStore(stack.Store)

	success = true
	return stack, nil
}

// Router builds the HTTP handler over the stack's services.
func (s *runtimeStack) Router() (*gin.Engine, error) {
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	return api.NewRouter(s.Config, api.Dependencies{
		JWT:         s.JWT,
		Sessions:    s.Sessions,
		Accounts:    s.Accounts,
		Projects:    s.Projects,
		Invitations: s.Invitations,
		Tasks:       s.Tasks,
		Audit:       s.Audit,
		Health:      s.Health,
		RateStore:   s.RateStore,
	})
}

// Shutdown releases the queue client, cache and database.
func (s *runtimeStack) Shutdown(_ context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Queue != nil {
		if err := s.Queue.Close(); err != nil {
			log.Warn("queue client shutdown", zap.Error(err))
		}
	}

	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			log.Warn("redis shutdown", zap.Error(err))
		}
	}

	if s.DB != nil {
		if err := database.Close(s.DB); err != nil {
			log.Warn("failed to close database", zap.Error(err))
		}
	}
}

// buildNotifier picks the delivery path: queued through asynq, direct SMTP, or the log when
// SMTP is disabled. The returned client is non-nil only for queued delivery.
func buildNotifier(cfg *app.Config, log *zap.Logger) (notifications.Notifier, *asynq.Client, error) {
	if cfg.Email.Queued() {
		client := notifications.NewClient(cfg.Cache.RedisClientConfig())
		queued, err := notifications.NewQueueNotifier(client, notifications.QueueOptions{
			MaxRetry: cfg.Queue.MaxRetry,
			Timeout:  cfg.Queue.Timeout,
		})
		if err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("initialise queue notifier: %w", err)
		}
		log.Info("email delivery queued through redis")
		return notifications.Instrumented(queued), client, nil
	}

	if !cfg.Email.SMTP.Enabled {
		log.Warn("smtp disabled; notifications are written to the log")
		return notifications.Instrumented(notifications.NewLogNotifier(logger.WithModule("notifier"))), nil, nil
	}

	mailer, err := mail.NewSMTPMailer(cfg.Email.SMTPSettings())
	if err != nil {
		return nil, nil, fmt.Errorf("initialise smtp mailer: %w", err)
	}
	direct, err := notifications.NewMailNotifier(mailer, cfg.Email.SMTP.From)
	if err != nil {
		return nil, nil, fmt.Errorf("initialise mail notifier: %w", err)
	}
	return notifications.Instrumented(direct), nil, nil
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.Database.DatabaseSettings()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrateAndSeed(db); err != nil {
		_ = database.Close(db)
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}
