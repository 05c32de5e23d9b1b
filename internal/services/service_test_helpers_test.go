package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/zeh237/taskly/internal/database/testutil"
	"github.com/zeh237/taskly/internal/models"
	"github.com/zeh237/taskly/internal/notifications"
	"github.com/zeh237/taskly/pkg/crypto"
)

const testPassword = "correct-horse-battery"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type serviceEnv struct {
	db          *gorm.DB
	clock       *testClock
	notifier    *notifications.Recorder
	audit       *AuditService
	accounts    *AccountService
	projects    *ProjectService
	invitations *InvitationService
	tasks       *TaskService
}

func newServiceEnv(t *testing.T, accountOpts ...AccountOption) *serviceEnv {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	clock := newTestClock()
	recorder := &notifications.Recorder{}

	audit, err := NewAuditService(db, WithAuditClock(clock.Now))
	require.NoError(t, err)

	accountOpts = append([]AccountOption{WithAccountClock(clock.Now)}, accountOpts...)
	accounts, err := NewAccountService(db, recorder, audit, accountOpts...)
	require.NoError(t, err)

	projects, err := NewProjectService(db, audit)
	require.NoError(t, err)

	invitations, err := NewInvitationService(db, recorder, audit,
		WithInvitationClock(clock.Now),
		WithAcceptURL("https://taskly.test/invitations"),
	)
	require.NoError(t, err)

	tasks, err := NewTaskService(db, audit)
	require.NoError(t, err)

	return &serviceEnv{
		db:          db,
		clock:       clock,
		notifier:    recorder,
		audit:       audit,
		accounts:    accounts,
		projects:    projects,
		invitations: invitations,
		tasks:       tasks,
	}
}

// createAccount inserts an active account directly, bypassing registration.
func (e *serviceEnv) createAccount(t *testing.T, email string) *models.Account {
	t.Helper()

	hashed, err := crypto.HashPassword(testPassword)
	require.NoError(t, err)

	account := &models.Account{
		Email:        models.NormalizeEmail(email),
		PasswordHash: hashed,
		FirstName:    "Test",
		LastName:     email,
		IsActive:     true,
	}
	require.NoError(t, e.db.Create(account).Error)
	return account
}

func (e *serviceEnv) createProject(t *testing.T, creator *models.Account, name string) *models.Project {
	t.Helper()

	project, err := e.projects.Create(context.Background(), creator.ID, CreateProjectInput{Name: name, Description: name + " description"})
	require.NoError(t, err)
	return project
}

func (e *serviceEnv) addMember(t *testing.T, project *models.Project, account *models.Account) *models.Membership {
	t.Helper()

	membership := &models.Membership{ProjectID: project.ID, AccountID: account.ID, Role: models.RoleContributor}
	require.NoError(t, e.db.Create(membership).Error)
	return membership
}

func (e *serviceEnv) countMemberships(t *testing.T, projectID, accountID uint) int64 {
	t.Helper()

	var count int64
	require.NoError(t, e.db.Model(&models.Membership{}).
		Where("project_id = ? AND account_id = ?", projectID, accountID).
		Count(&count).Error)
	return count
}

func (e *serviceEnv) reloadInvitation(t *testing.T, id uint) models.Invitation {
	t.Helper()

	var inv models.Invitation
	require.NoError(t, e.db.Take(&inv, id).Error)
	return inv
}

func (e *serviceEnv) countAudit(t *testing.T, action string) int64 {
	t.Helper()

	var count int64
	require.NoError(t, e.db.Model(&models.AuditLog{}).Where("action = ?", action).Count(&count).Error)
	return count
}
