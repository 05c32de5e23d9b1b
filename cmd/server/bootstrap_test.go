package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zeh237/taskly/internal/app"
	"github.com/zeh237/taskly/internal/database"
	"github.com/zeh237/taskly/internal/models"
	"github.com/zeh237/taskly/internal/services"
)

func testConfig() *app.Config {
	cfg := &app.Config{}
	cfg.Database.Driver = "sqlite"
	cfg.Database.Path = "memory:" + strings.ReplaceAll(uuid.NewString(), "-", "")
	cfg.Database.MaxOpenConns = 1
	cfg.Email.Delivery = app.DeliveryDirect
	return cfg
}

func newTestStack(t *testing.T) *runtimeStack {
	t.Helper()

	stack, err := bootstrapRuntime(context.Background(), testConfig(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { stack.Shutdown(context.Background(), zap.NewNop()) })
	return stack
}

func TestBootstrapRuntimePersistsGeneratedSecret(t *testing.T) {
	stack := newTestStack(t)

	require.NotEmpty(t, stack.Config.Auth.JWT.Secret)
	stored, err := database.GetSystemSetting(context.Background(), stack.DB, app.JWTSecretSettingKey)
	require.NoError(t, err)
	require.Equal(t, stack.Config.Auth.JWT.Secret, stored)

	// Without redis the database store backs the cache.
	require.Nil(t, stack.Redis)
	require.Nil(t, stack.Queue)
	require.NotNil(t, stack.Store)
}

func TestRuntimeRouterServesHealth(t *testing.T) {
	stack := newTestStack(t)

	router, err := stack.Router()
	require.NoError(t, err)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Contains(t, w.Body.String(), `"database"`)
}

func TestCreateAdminAndExpireInvitations(t *testing.T) {
	stack := newTestStack(t)
	ctx := context.Background()

	admin, err := createAdmin(ctx, stack, services.AdminInput{
		Email:     "root@example.com",
		Password:  "correct-horse-battery",
		FirstName: "Root",
		LastName:  "Admin",
	})
	require.NoError(t, err)
	require.True(t, admin.IsAdmin)
	require.True(t, admin.IsActive)

	project, err := stack.Projects.Create(ctx, admin.ID, services.CreateProjectInput{Name: "Ops"})
	require.NoError(t, err)
	_, err = stack.Invitations.Invite(ctx, admin.ID, project.ID, services.InviteInput{Email: "guest@example.com"})
	require.NoError(t, err)

	count, err := expireInvitations(ctx, stack, "root@example.com", project.ID, nil)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	var inv models.Invitation
	require.NoError(t, stack.DB.Where("project_id = ?", project.ID).Take(&inv).Error)
	require.Equal(t, models.InvitationExpired, inv.Status)

	_, err = expireInvitations(ctx, stack, "nobody@example.com", 0, nil)
	require.Error(t, err)
}

func TestExpireInvitationsRequiresAdministrator(t *testing.T) {
	stack := newTestStack(t)
	ctx := context.Background()

	_, err := stack.Accounts.EnsureAdmin(ctx, services.AdminInput{
		Email:     "root@example.com",
		Password:  "correct-horse-battery",
		FirstName: "Root",
		LastName:  "Admin",
	})
	require.NoError(t, err)
	require.NoError(t, stack.DB.Model(&models.Account{}).Where("email = ?", "root@example.com").Update("is_admin", false).Error)

	_, err = expireInvitations(ctx, stack, "root@example.com", 0, nil)
	require.Error(t, err)
}

func TestMaintenanceRunOnceRecordsEveryJob(t *testing.T) {
	stack := newTestStack(t)

	require.NoError(t, stack.Cleaner.RunOnce(context.Background()))
	snapshot := stack.Cleaner.Tracker().Snapshot()
	require.Len(t, snapshot, len(stack.Cleaner.Jobs()))
	for _, summary := range snapshot {
		require.Equal(t, "success", summary.LastResult, summary.Job)
	}
}

func TestBuildNotifierSelection(t *testing.T) {
	cfg := testConfig()

	notifier, client, err := buildNotifier(cfg, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, notifier)
	require.Nil(t, client)

	cfg.Email.SMTP.Enabled = true
	_, _, err = buildNotifier(cfg, zap.NewNop())
	require.ErrorContains(t, err, "smtp")

	cfg.Email.SMTP.Host = "smtp.example.com"
	cfg.Email.SMTP.Port = 587
	notifier, client, err = buildNotifier(cfg, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, notifier)
	require.Nil(t, client)

	cfg.Cache.Redis.Enabled = true
	cfg.Cache.Redis.Address = "127.0.0.1:6390"
	cfg.Email.Delivery = app.DeliveryQueue
	notifier, client, err = buildNotifier(cfg, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, notifier)
	require.NotNil(t, client)
	require.NoError(t, client.Close())
}

func TestLoadApplicationConfigMissingPath(t *testing.T) {
	_, err := loadApplicationConfig("/definitely/not/here")
	require.ErrorContains(t, err, "does not exist")
}

func TestRootCommandWiring(t *testing.T) {
	root := newRootCmd()

	names := make([]string, 0, len(root.Commands()))
	for _, cmd := range root.Commands() {
		names = append(names, cmd.Name())
	}
	require.ElementsMatch(t, []string{"serve", "worker", "invitations", "maintenance", "admin", "version"}, names)

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	require.Contains(t, out.String(), `"go_version"`)
}
