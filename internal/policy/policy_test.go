package policy

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zeh237/taskly/internal/models"
	apperrors "github.com/zeh237/taskly/pkg/errors"
)

const (
	creatorID     uint = 1
	contributorID uint = 2
	outsiderID    uint = 3
)

func fixture() (*models.Project, map[uint]*models.Membership) {
	project := &models.Project{BaseModel: models.BaseModel{ID: 10}, CreatorID: creatorID}
	members := map[uint]*models.Membership{
		creatorID:     {ID: 100, ProjectID: 10, AccountID: creatorID, Role: models.RoleCreator},
		contributorID: {ID: 101, ProjectID: 10, AccountID: contributorID, Role: models.RoleContributor},
	}
	return project, members
}

func ctxFor(actor uint) Context {
	project, members := fixture()
	return Context{ActorID: actor, Project: project, Membership: members[actor]}
}

func TestViewRequiresMembership(t *testing.T) {
	require.True(t, CanViewProject(ctxFor(creatorID)))
	require.True(t, CanViewProject(ctxFor(contributorID)))
	require.False(t, CanViewProject(ctxFor(outsiderID)))
}

func TestMembershipMustMatchActorAndProject(t *testing.T) {
	project, members := fixture()
	borrowed := Context{ActorID: outsiderID, Project: project, Membership: members[contributorID]}
	require.False(t, borrowed.IsMember())

	other := *members[contributorID]
	other.ProjectID = 99
	require.False(t, Context{ActorID: contributorID, Project: project, Membership: &other}.IsMember())
}

func TestUpdateAndInviteAreCreatorOnly(t *testing.T) {
	require.True(t, CanUpdateProject(ctxFor(creatorID)))
	require.False(t, CanUpdateProject(ctxFor(contributorID)))

	require.True(t, CanInvite(ctxFor(creatorID)))
	require.False(t, CanInvite(ctxFor(contributorID)))
	require.False(t, CanInvite(ctxFor(outsiderID)))

	// A creator whose membership row is missing cannot invite.
	project, _ := fixture()
	require.False(t, CanInvite(Context{ActorID: creatorID, Project: project}))
}

func TestAddMemberOpenToMembers(t *testing.T) {
	require.True(t, CanAddMember(ctxFor(creatorID)))
	require.True(t, CanAddMember(ctxFor(contributorID)))
	require.False(t, CanAddMember(ctxFor(outsiderID)))
}

func TestRemoveMemberRules(t *testing.T) {
	_, members := fixture()

	require.True(t, CanRemoveMember(ctxFor(creatorID), members[contributorID]))
	require.False(t, CanRemoveMember(ctxFor(creatorID), members[creatorID]), "creator cannot remove themselves")
	require.False(t, CanRemoveMember(ctxFor(contributorID), members[creatorID]))
	require.False(t, CanRemoveMember(ctxFor(contributorID), members[contributorID]))
	require.False(t, CanRemoveMember(ctxFor(creatorID), nil))
}

func TestTaskPredicates(t *testing.T) {
	require.True(t, CanCreateTask(ctxFor(creatorID)))
	require.False(t, CanCreateTask(ctxFor(contributorID)))
	require.True(t, CanDeleteTask(ctxFor(creatorID)))
	require.False(t, CanDeleteTask(ctxFor(contributorID)))

	task := &models.Task{Assignees: []models.Account{{BaseModel: models.BaseModel{ID: contributorID}}}}
	require.Equal(t, TaskEditAll, TaskEditScope(ctxFor(creatorID), task))
	require.Equal(t, TaskEditStatus, TaskEditScope(ctxFor(contributorID), task))
	require.Equal(t, TaskEditNone, TaskEditScope(ctxFor(contributorID), &models.Task{}))
	require.Equal(t, TaskEditNone, TaskEditScope(ctxFor(outsiderID), task))
}

func TestNonMembers(t *testing.T) {
	members := map[uint]struct{}{1: {}, 2: {}}
	require.Empty(t, NonMembers(members, []uint{1, 2}))
	require.Equal(t, []uint{5, 7}, NonMembers(members, []uint{5, 1, 7}))
}

func TestAuthorizeReturnsForbidden(t *testing.T) {
	_, members := fixture()

	require.NoError(t, Authorize(ViewProject, ctxFor(contributorID), nil))
	require.NoError(t, Authorize(RemoveMember, ctxFor(creatorID), members[contributorID]))

	err := Authorize(Invite, ctxFor(contributorID), nil)
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	err = Authorize(RemoveMember, ctxFor(creatorID), members[creatorID])
	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	require.Contains(t, appErr.Message, "cannot remove yourself")

	require.Error(t, Authorize(Action("bogus"), ctxFor(creatorID), nil))
}
