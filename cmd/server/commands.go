package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zeh237/taskly/internal/app"
	"github.com/zeh237/taskly/internal/models"
	"github.com/zeh237/taskly/internal/notifications"
	"github.com/zeh237/taskly/internal/services"
	"github.com/zeh237/taskly/pkg/logger"
	"github.com/zeh237/taskly/pkg/mail"
)

const defaultShutdownTimeout = 15 * time.Second

// prepare loads configuration and configures the global logger.
func prepare(opts *rootOptions) (*app.Config, *zap.Logger, error) {
	cfg, err := loadApplicationConfig(opts.configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := app.ConfigureLogging(cfg.Server); err != nil {
		return nil, nil, fmt.Errorf("configure logging: %w", err)
	}
	return cfg, logger.WithModule("bootstrap"), nil
}

// withStack runs fn against a fully bootstrapped runtime and releases it afterwards.
func withStack(ctx context.Context, opts *rootOptions, fn func(ctx context.Context, stack *runtimeStack, log *zap.Logger) error) error {
	cfg, log, err := prepare(opts)
	if err != nil {
		return err
	}
	defer logger.Sync() // best effort

	stack, err := bootstrapRuntime(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer stack.Shutdown(context.Background(), log)

	return fn(ctx, stack, log)
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with scheduled maintenance",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd.Context(), opts, serve)
		},
	}
}

func serve(ctx context.Context, stack *runtimeStack, log *zap.Logger) error {
	router, err := stack.Router()
	if err != nil {
		return fmt.Errorf("build api router: %w", err)
	}

	if err := stack.Cleaner.Start(); err != nil {
		return fmt.Errorf("start maintenance jobs: %w", err)
	}
	defer func() {
		stopCtx := stack.Cleaner.Stop()
		if err := stack.Cleaner.RunOnce(stopCtx); err != nil {
			log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
		}
	}()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", stack.Config.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	timeout := stack.Config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	if err, ok := <-serverErr; ok && err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("server stopped gracefully")
	return nil
}

func newWorkerCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Deliver queued email notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := prepare(opts)
			if err != nil {
				return err
			}
			defer logger.Sync() // best effort
			return runWorker(cmd.Context(), cfg, logger.WithModule("worker"))
		},
	}
}

func runWorker(ctx context.Context, cfg *app.Config, log *zap.Logger) error {
	if !cfg.Cache.Redis.Enabled {
		return errors.New("worker: cache.redis.enabled is required")
	}

	mailer, err := mail.NewSMTPMailer(cfg.Email.SMTPSettings())
	if err != nil {
		return fmt.Errorf("initialise smtp mailer: %w", err)
	}

	srv := notifications.NewServer(cfg.Cache.RedisClientConfig(), cfg.Queue.Concurrency, notifications.NewZapAdapter(log))
	handler := notifications.NewHandler(mailer, cfg.Email.SMTP.From, log)

	mux := asynq.NewServeMux()
	handler.RegisterHandlers(mux)

	if err := srv.Start(mux); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	log.Info("worker started, waiting for tasks", zap.Int("concurrency", cfg.Queue.Concurrency))

	<-ctx.Done()
	log.Info("shutting down worker")
	srv.Shutdown()
	log.Info("worker stopped")
	return nil
}

func newInvitationsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invitations",
		Short: "Manage project invitations",
	}

	var (
		adminEmail string
		projectID  uint
		ids        []uint
	)
	expire := &cobra.Command{
		Use:   "expire",
		Short: "Expire pending invitations, optionally limited to a project or ids",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd.Context(), opts, func(ctx context.Context, stack *runtimeStack, log *zap.Logger) error {
				count, err := expireInvitations(ctx, stack, adminEmail, projectID, ids)
				if err != nil {
					return err
				}
				log.Info("invitations expired", zap.Int64("count", count))
				fmt.Fprintf(cmd.OutOrStdout(), "expired %d invitation(s)\n", count)
				return nil
			})
		},
	}
	expire.Flags().StringVar(&adminEmail, "admin", "", "Email of the administrator performing the expiry")
	expire.Flags().UintVar(&projectID, "project", 0, "Only expire invitations of this project")
	expire.Flags().UintSliceVar(&ids, "id", nil, "Only expire these invitation ids")
	_ = expire.MarkFlagRequired("admin")

	cmd.AddCommand(expire)
	return cmd
}

func expireInvitations(ctx context.Context, stack *runtimeStack, adminEmail string, projectID uint, ids []uint) (int64, error) {
	admin, err := stack.Accounts.GetByEmail(ctx, adminEmail)
	if err != nil {
		return 0, fmt.Errorf("load administrator: %w", err)
	}

	filter := services.ExpireFilter{IDs: ids}
	if projectID != 0 {
		filter.ProjectID = &projectID
	}
	return stack.Invitations.ExpirePending(ctx, admin, filter)
}

func newMaintenanceCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "maintenance",
		Short: "Housekeeping jobs",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run every maintenance job once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd.Context(), opts, func(ctx context.Context, stack *runtimeStack, log *zap.Logger) error {
				err := stack.Cleaner.RunOnce(ctx)
				for _, summary := range stack.Cleaner.Tracker().Snapshot() {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", summary.Job, summary.LastResult)
				}
				return err
			})
		},
	})
	return cmd
}

func newAdminCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage administrator accounts",
	}

	var input services.AdminInput
	create := &cobra.Command{
		Use:   "create",
		Short: "Create or promote an active administrator account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStack(cmd.Context(), opts, func(ctx context.Context, stack *runtimeStack, log *zap.Logger) error {
				account, err := createAdmin(ctx, stack, input)
				if err != nil {
					return err
				}
				log.Info("administrator ensured", zap.Uint("account_id", account.ID))
				fmt.Fprintf(cmd.OutOrStdout(), "administrator %s ready (id %d)\n", account.Email, account.ID)
				return nil
			})
		},
	}
	create.Flags().StringVar(&input.Email, "email", "", "Administrator email")
	create.Flags().StringVar(&input.Password, "password", "", "Administrator password")
	create.Flags().StringVar(&input.FirstName, "first-name", "Admin", "First name")
	create.Flags().StringVar(&input.LastName, "last-name", "User", "Last name")
	_ = create.MarkFlagRequired("email")
	_ = create.MarkFlagRequired("password")

	cmd.AddCommand(create)
	return cmd
}

func createAdmin(ctx context.Context, stack *runtimeStack, input services.AdminInput) (*models.Account, error) {
	account, err := stack.Accounts.EnsureAdmin(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("create administrator: %w", err)
	}
	return account, nil
}
