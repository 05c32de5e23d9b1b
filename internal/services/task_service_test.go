package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zeh237/taskly/internal/models"
	apperrors "github.com/zeh237/taskly/pkg/errors"
)

type taskFixture struct {
	env     *serviceEnv
	creator *models.Account
	member  *models.Account
	other   *models.Account
	project *models.Project
}

func newTaskFixture(t *testing.T) *taskFixture {
	t.Helper()

	env := newServiceEnv(t)
	f := &taskFixture{
		env:     env,
		creator: env.createAccount(t, "alice@example.com"),
		member:  env.createAccount(t, "bob@example.com"),
		other:   env.createAccount(t, "eve@example.com"),
	}
	f.project = env.createProject(t, f.creator, "Apollo")
	env.addMember(t, f.project, f.member)
	return f
}

func (f *taskFixture) countTasks(t *testing.T) int64 {
	t.Helper()

	var count int64
	require.NoError(t, f.env.db.Model(&models.Task{}).Where("project_id = ?", f.project.ID).Count(&count).Error)
	return count
}

func TestCreateTaskByCreator(t *testing.T) {
	f := newTaskFixture(t)

	task, err := f.env.tasks.Create(context.Background(), f.creator.ID, f.project.ID, CreateTaskInput{
		Title:       "  Write launch plan ",
		Description: "Draft",
		AssigneeIDs: []uint{f.member.ID, f.member.ID, f.creator.ID},
	})
	require.NoError(t, err)
	require.Equal(t, "Write launch plan", task.Title)
	require.Equal(t, models.TaskTodo, task.Status)
	require.ElementsMatch(t, []uint{f.creator.ID, f.member.ID}, task.AssigneeIDs())
	require.NotNil(t, task.CreatedByID)
	require.Equal(t, f.creator.ID, *task.CreatedByID)
	require.Equal(t, int64(1), f.env.countAudit(t, AuditTaskCreate))
}

func TestCreateTaskRequiresCreator(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()

	_, err := f.env.tasks.Create(ctx, f.member.ID, f.project.ID, CreateTaskInput{Title: "Sneaky"})
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	_, err = f.env.tasks.Create(ctx, f.other.ID, f.project.ID, CreateTaskInput{Title: "Sneaky"})
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	_, err = f.env.tasks.Create(ctx, f.creator.ID, 9999, CreateTaskInput{Title: "Nowhere"})
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	require.Zero(t, f.countTasks(t))
}

func TestCreateTaskValidation(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()

	_, err := f.env.tasks.Create(ctx, f.creator.ID, f.project.ID, CreateTaskInput{Title: "   "})
	require.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = f.env.tasks.Create(ctx, f.creator.ID, f.project.ID, CreateTaskInput{Title: "Ok", Status: "blocked"})
	require.ErrorIs(t, err, apperrors.ErrValidation)

	require.Zero(t, f.countTasks(t))
}

func TestCreateTaskRejectsNonMemberAssignee(t *testing.T) {
	f := newTaskFixture(t)

	_, err := f.env.tasks.Create(context.Background(), f.creator.ID, f.project.ID, CreateTaskInput{
		Title:       "Review",
		AssigneeIDs: []uint{f.member.ID, f.other.ID},
	})
	require.ErrorIs(t, err, apperrors.ErrValidation)

	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, []uint{f.other.ID}, appErr.Details["non_members"])

	require.Zero(t, f.countTasks(t))

	var assignments int64
	require.NoError(t, f.env.db.Table("task_assignees").Count(&assignments).Error)
	require.Zero(t, assignments)
}

func TestAssigneeMayOnlyChangeStatus(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()

	task, err := f.env.tasks.Create(ctx, f.creator.ID, f.project.ID, CreateTaskInput{
		Title:       "Ship it",
		AssigneeIDs: []uint{f.member.ID},
	})
	require.NoError(t, err)

	status := models.TaskInProgress
	updated, err := f.env.tasks.Update(ctx, f.member.ID, f.project.ID, task.ID, UpdateTaskInput{Status: &status})
	require.NoError(t, err)
	require.Equal(t, models.TaskInProgress, updated.Status)

	title := "Renamed"
	_, err = f.env.tasks.Update(ctx, f.member.ID, f.project.ID, task.ID, UpdateTaskInput{Title: &title, Status: &status})
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	reloaded, err := f.env.tasks.Get(ctx, f.creator.ID, f.project.ID, task.ID)
	require.NoError(t, err)
	require.Equal(t, "Ship it", reloaded.Title)

	bad := models.TaskStatus("blocked")
	_, err = f.env.tasks.Update(ctx, f.member.ID, f.project.ID, task.ID, UpdateTaskInput{Status: &bad})
	require.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestUnassignedMemberCannotEditTask(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()

	task, err := f.env.tasks.Create(ctx, f.creator.ID, f.project.ID, CreateTaskInput{Title: "Solo"})
	require.NoError(t, err)

	status := models.TaskDone
	_, err = f.env.tasks.Update(ctx, f.member.ID, f.project.ID, task.ID, UpdateTaskInput{Status: &status})
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	_, err = f.env.tasks.Update(ctx, f.other.ID, f.project.ID, task.ID, UpdateTaskInput{Status: &status})
	require.ErrorIs(t, err, apperrors.ErrForbidden)
}

func TestCreatorEditsEverything(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()

	task, err := f.env.tasks.Create(ctx, f.creator.ID, f.project.ID, CreateTaskInput{
		Title:       "Draft",
		AssigneeIDs: []uint{f.member.ID},
	})
	require.NoError(t, err)

	title := "Final"
	desc := "Polished"
	status := models.TaskDone
	assignees := []uint{f.creator.ID}
	updated, err := f.env.tasks.Update(ctx, f.creator.ID, f.project.ID, task.ID, UpdateTaskInput{
		Title:       &title,
		Description: &desc,
		Status:      &status,
		AssigneeIDs: &assignees,
	})
	require.NoError(t, err)
	require.Equal(t, "Final", updated.Title)
	require.Equal(t, "Polished", updated.Description)
	require.Equal(t, models.TaskDone, updated.Status)
	require.Equal(t, []uint{f.creator.ID}, updated.AssigneeIDs())

	empty := []uint{}
	updated, err = f.env.tasks.Update(ctx, f.creator.ID, f.project.ID, task.ID, UpdateTaskInput{AssigneeIDs: &empty})
	require.NoError(t, err)
	require.Empty(t, updated.Assignees)

	outsiders := []uint{f.other.ID}
	_, err = f.env.tasks.Update(ctx, f.creator.ID, f.project.ID, task.ID, UpdateTaskInput{AssigneeIDs: &outsiders})
	require.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestListAndGetTasks(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()

	first, err := f.env.tasks.Create(ctx, f.creator.ID, f.project.ID, CreateTaskInput{Title: "First"})
	require.NoError(t, err)
	second, err := f.env.tasks.Create(ctx, f.creator.ID, f.project.ID, CreateTaskInput{Title: "Second", AssigneeIDs: []uint{f.member.ID}})
	require.NoError(t, err)

	tasks, err := f.env.tasks.List(ctx, f.member.ID, f.project.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	require.Equal(t, second.ID, tasks[0].ID)
	require.Equal(t, first.ID, tasks[1].ID)
	require.Len(t, tasks[0].Assignees, 1)

	_, err = f.env.tasks.List(ctx, f.other.ID, f.project.ID)
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	_, err = f.env.tasks.Get(ctx, f.member.ID, f.project.ID, 9999)
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	other := f.env.createProject(t, f.creator, "Gemini")
	_, err = f.env.tasks.Get(ctx, f.creator.ID, other.ID, first.ID)
	require.ErrorIs(t, err, apperrors.ErrNotFound, "tasks are scoped to their project")
}

func TestDeleteTask(t *testing.T) {
	f := newTaskFixture(t)
	ctx := context.Background()

	task, err := f.env.tasks.Create(ctx, f.creator.ID, f.project.ID, CreateTaskInput{Title: "Temp", AssigneeIDs: []uint{f.member.ID}})
	require.NoError(t, err)

	err = f.env.tasks.Delete(ctx, f.member.ID, f.project.ID, task.ID)
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	require.NoError(t, f.env.tasks.Delete(ctx, f.creator.ID, f.project.ID, task.ID))
	require.Zero(t, f.countTasks(t))

	var assignments int64
	require.NoError(t, f.env.db.Table("task_assignees").Where("task_id = ?", task.ID).Count(&assignments).Error)
	require.Zero(t, assignments)

	err = f.env.tasks.Delete(ctx, f.creator.ID, f.project.ID, task.ID)
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}
