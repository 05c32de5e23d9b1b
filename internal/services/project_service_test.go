package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zeh237/taskly/internal/models"
	apperrors "github.com/zeh237/taskly/pkg/errors"
)

func TestCreateProjectAddsCreatorMembership(t *testing.T) {
	env := newServiceEnv(t)
	alice := env.createAccount(t, "alice@example.com")

	project := env.createProject(t, alice, "Apollo")
	require.Equal(t, alice.ID, project.CreatorID)

	var membership models.Membership
	require.NoError(t, env.db.Where("project_id = ? AND account_id = ?", project.ID, alice.ID).Take(&membership).Error)
	require.Equal(t, models.RoleCreator, membership.Role)

	var invitations int64
	require.NoError(t, env.db.Model(&models.Invitation{}).Count(&invitations).Error)
	require.Zero(t, invitations)
	require.Equal(t, int64(1), env.countAudit(t, AuditProjectCreate))
}

func TestCreateProjectValidation(t *testing.T) {
	env := newServiceEnv(t)
	alice := env.createAccount(t, "alice@example.com")

	_, err := env.projects.Create(context.Background(), alice.ID, CreateProjectInput{Name: "   "})
	require.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = env.projects.Create(context.Background(), 0, CreateProjectInput{Name: "x"})
	require.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestCreateProjectIsAtomic(t *testing.T) {
	env := newServiceEnv(t)

	// No such account: the insert fails and nothing may survive.
	_, err := env.projects.Create(context.Background(), 999, CreateProjectInput{Name: "Orphan"})
	require.Error(t, err)

	var projects int64
	require.NoError(t, env.db.Model(&models.Project{}).Count(&projects).Error)
	require.Zero(t, projects)
}

func TestListForUserNewestFirstWithoutDuplicates(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()
	alice := env.createAccount(t, "alice@example.com")
	bob := env.createAccount(t, "bob@example.com")

	first := env.createProject(t, alice, "First")
	env.clock.Advance(time.Minute)
	second := env.createProject(t, bob, "Second")
	env.addMember(t, second, alice)
	third := env.createProject(t, bob, "Third")

	projects, err := env.projects.ListForUser(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, projects, 2)

	ids := []uint{projects[0].ID, projects[1].ID}
	require.ElementsMatch(t, []uint{first.ID, second.ID}, ids)
	require.NotContains(t, ids, third.ID)
	require.Equal(t, second.ID, projects[0].ID, "newest project comes first")

	bobs, err := env.projects.ListForUser(ctx, bob.ID)
	require.NoError(t, err)
	require.Len(t, bobs, 2)
}

func TestGetAndUpdateProjectPolicy(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()
	alice := env.createAccount(t, "alice@example.com")
	bob := env.createAccount(t, "bob@example.com")
	eve := env.createAccount(t, "eve@example.com")

	project := env.createProject(t, alice, "Apollo")
	env.addMember(t, project, bob)

	_, err := env.projects.Get(ctx, bob.ID, project.ID)
	require.NoError(t, err)

	_, err = env.projects.Get(ctx, eve.ID, project.ID)
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	_, err = env.projects.Get(ctx, alice.ID, 4242)
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	name := "Renamed"
	_, err = env.projects.Update(ctx, bob.ID, project.ID, UpdateProjectInput{Name: &name})
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	updated, err := env.projects.Update(ctx, alice.ID, project.ID, UpdateProjectInput{Name: &name})
	require.NoError(t, err)
	require.Equal(t, "Renamed", updated.Name)

	empty := " "
	_, err = env.projects.Update(ctx, alice.ID, project.ID, UpdateProjectInput{Name: &empty})
	require.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestAddMember(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()
	alice := env.createAccount(t, "alice@example.com")
	bob := env.createAccount(t, "bob@example.com")
	carol := env.createAccount(t, "carol@example.com")
	eve := env.createAccount(t, "eve@example.com")

	project := env.createProject(t, alice, "Apollo")

	membership, err := env.projects.AddMember(ctx, alice.ID, project.ID, bob.ID, "")
	require.NoError(t, err)
	require.Equal(t, models.RoleContributor, membership.Role)

	// Any member may add others directly.
	_, err = env.projects.AddMemberByEmail(ctx, bob.ID, project.ID, "Carol@Example.com", models.RoleContributor)
	require.NoError(t, err)
	require.Equal(t, int64(1), env.countMemberships(t, project.ID, carol.ID))

	_, err = env.projects.AddMember(ctx, alice.ID, project.ID, bob.ID, models.RoleContributor)
	require.ErrorIs(t, err, apperrors.ErrConflict)

	_, err = env.projects.AddMember(ctx, eve.ID, project.ID, eve.ID, "")
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	_, err = env.projects.AddMember(ctx, alice.ID, project.ID, eve.ID, models.RoleCreator)
	require.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = env.projects.AddMemberByEmail(ctx, alice.ID, project.ID, "nobody@example.com", "")
	require.ErrorIs(t, err, apperrors.ErrValidation)
	require.Contains(t, err.Error(), "No user found with this email address")

	members, err := env.projects.ListMembers(ctx, bob.ID, project.ID)
	require.NoError(t, err)
	require.Len(t, members, 3)
	require.NotNil(t, members[0].Account)

	_, err = env.projects.ListMembers(ctx, eve.ID, project.ID)
	require.ErrorIs(t, err, apperrors.ErrForbidden)
}

func TestRemoveMemberRules(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()
	alice := env.createAccount(t, "alice@example.com")
	bob := env.createAccount(t, "bob@example.com")
	carol := env.createAccount(t, "carol@example.com")

	project := env.createProject(t, alice, "Apollo")
	bobMembership := env.addMember(t, project, bob)
	carolMembership := env.addMember(t, project, carol)

	var aliceMembership models.Membership
	require.NoError(t, env.db.Where("project_id = ? AND account_id = ?", project.ID, alice.ID).Take(&aliceMembership).Error)

	// A non-creator cannot remove anyone, not even themselves.
	err := env.projects.RemoveMember(ctx, bob.ID, project.ID, carolMembership.ID)
	require.ErrorIs(t, err, apperrors.ErrForbidden)
	err = env.projects.RemoveMember(ctx, bob.ID, project.ID, bobMembership.ID)
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	// The creator cannot remove themselves.
	err = env.projects.RemoveMember(ctx, alice.ID, project.ID, aliceMembership.ID)
	require.ErrorIs(t, err, apperrors.ErrForbidden)
	require.Contains(t, err.Error(), "cannot remove yourself")

	require.NoError(t, env.projects.RemoveMember(ctx, alice.ID, project.ID, bobMembership.ID))
	require.Zero(t, env.countMemberships(t, project.ID, bob.ID))

	err = env.projects.RemoveMember(ctx, alice.ID, project.ID, bobMembership.ID)
	require.ErrorIs(t, err, apperrors.ErrNotFound)
	require.Equal(t, int64(1), env.countAudit(t, AuditMembershipRemove))
}

func TestRemoveMemberUnassignsTasks(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()
	alice := env.createAccount(t, "alice@example.com")
	bob := env.createAccount(t, "bob@example.com")

	project := env.createProject(t, alice, "Apollo")
	bobMembership := env.addMember(t, project, bob)

	task, err := env.tasks.Create(ctx, alice.ID, project.ID, CreateTaskInput{Title: "Launch", AssigneeIDs: []uint{bob.ID}})
	require.NoError(t, err)
	require.Len(t, task.Assignees, 1)

	require.NoError(t, env.projects.RemoveMember(ctx, alice.ID, project.ID, bobMembership.ID))

	reloaded, err := env.tasks.Get(ctx, alice.ID, project.ID, task.ID)
	require.NoError(t, err)
	require.Empty(t, reloaded.Assignees)
}
