package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"gorm.io/gorm"

	"github.com/zeh237/taskly/internal/models"
	"github.com/zeh237/taskly/internal/policy"
	apperrors "github.com/zeh237/taskly/pkg/errors"
	"github.com/zeh237/taskly/pkg/validator"
)

const taskAssigneesTable = "task_assignees"

// CreateTaskInput carries the fields for a new task.
type CreateTaskInput struct {
	Title       string `validate:"required,max=200"`
	Description string
	Status      models.TaskStatus
	AssigneeIDs []uint
}

// UpdateTaskInput holds optional task changes. A nil AssigneeIDs leaves assignments
// untouched; a non-nil empty slice clears them.
type UpdateTaskInput struct {
	Title       *string
	Description *string
	Status      *models.TaskStatus
	AssigneeIDs *[]uint
}

func (in UpdateTaskInput) onlyStatus() bool {
	return in.Title == nil && in.Description == nil && in.AssigneeIDs == nil
}

// TaskService manages project tasks and their assignees.
type TaskService struct {
	db    *gorm.DB
	audit *AuditService
}

// NewTaskService constructs a TaskService.
func NewTaskService(db *gorm.DB, audit *AuditService) (*TaskService, error) {
	if db == nil {
		return nil, errors.New("task service: db is required")
	}
	return &TaskService{db: db, audit: audit}, nil
}

// Create adds a task to the project. Every assignee must already be a member.
func (s *TaskService) Create(ctx context.Context, actorID, projectID uint, input CreateTaskInput) (*models.Task, error) {
	ctx = ensureContext(ctx)

	input.Title = strings.TrimSpace(input.Title)
	input.Description = strings.TrimSpace(input.Description)
	if err := validator.ValidateStruct(input); err != nil {
		return nil, apperrors.NewValidation("Task title is required and must be at most 200 characters")
	}
	if input.Status == "" {
		input.Status = models.TaskTodo
	}
	if !input.Status.Valid() {
		return nil, apperrors.NewValidation(fmt.Sprintf("Unknown task status %q", input.Status))
	}

	var task *models.Task
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pc, err := loadPolicyContext(ctx, tx, actorID, projectID)
		if err != nil {
			return err
		}
		if err := policy.Authorize(policy.CreateTask, pc, nil); err != nil {
			return err
		}

		assignees, err := validateAssignees(ctx, tx, projectID, input.AssigneeIDs)
		if err != nil {
			return err
		}

		creator := actorID
		task = &models.Task{
			ProjectID:   projectID,
			Title:       input.Title,
			Description: input.Description,
			Status:      input.Status,
			CreatedByID: &creator,
		}
		if err := tx.Omit("Assignees").Create(task).Error; err != nil {
			return fmt.Errorf("task service: create task: %w", err)
		}
		if err := replaceAssignees(tx, task.ID, assignees); err != nil {
			return err
		}

		task, err = loadTask(ctx, tx, projectID, task.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	recordAudit(s.audit, ctx, AuditEntry{
		AccountID: accountRef(actorID),
		Action:    AuditTaskCreate,
		Resource:  taskResource(task.ID),
		Metadata:  map[string]any{"project_id": projectID, "assignees": task.AssigneeIDs()},
	})
	return task, nil
}

// List returns the project's tasks, newest first. Members only.
func (s *TaskService) List(ctx context.Context, actorID, projectID uint) ([]models.Task, error) {
	ctx = ensureContext(ctx)

	pc, err := loadPolicyContext(ctx, s.db, actorID, projectID)
	if err != nil {
		return nil, err
	}
	if err := policy.Authorize(policy.ViewTask, pc, nil); err != nil {
		return nil, err
	}

	var tasks []models.Task
	if err := s.db.WithContext(ctx).
		Preload("Assignees").
		Where("project_id = ?", projectID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("task service: list tasks: %w", err)
	}
	return tasks, nil
}

// Get returns one task of the project. Members only.
func (s *TaskService) Get(ctx context.Context, actorID, projectID, taskID uint) (*models.Task, error) {
	ctx = ensureContext(ctx)

	pc, err := loadPolicyContext(ctx, s.db, actorID, projectID)
	if err != nil {
		return nil, err
	}
	if err := policy.Authorize(policy.ViewTask, pc, nil); err != nil {
		return nil, err
	}
	return loadTask(ctx, s.db, projectID, taskID)
}

// Update edits a task. The creator may change every field; an assignee may only move the
// task between statuses.
func (s *TaskService) Update(ctx context.Context, actorID, projectID, taskID uint, input UpdateTaskInput) (*models.Task, error) {
	ctx = ensureContext(ctx)

	var task *models.Task
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pc, err := loadPolicyContext(ctx, tx, actorID, projectID)
		if err != nil {
			return err
		}
		if err := policy.Authorize(policy.ViewTask, pc, nil); err != nil {
			return err
		}

		task, err = loadTask(ctx, tx, projectID, taskID)
		if err != nil {
			return err
		}

		switch policy.TaskEditScope(pc, task) {
		case policy.TaskEditNone:
			return apperrors.NewForbidden("Only the project creator or an assignee can edit this task")
		case policy.TaskEditStatus:
			if !input.onlyStatus() {
				return apperrors.NewForbidden("Assignees can only change the task status")
			}
		}

		updates := map[string]any{}
		if title := trimmedPtr(input.Title); title != nil {
			if *title == "" || len(*title) > 200 {
				return apperrors.NewValidation("Task title is required and must be at most 200 characters")
			}
			updates["title"] = *title
		}
		if desc := trimmedPtr(input.Description); desc != nil {
			updates["description"] = *desc
		}
		if input.Status != nil {
			if !input.Status.Valid() {
				return apperrors.NewValidation(fmt.Sprintf("Unknown task status %q", *input.Status))
			}
			updates["status"] = *input.Status
		}

		if input.AssigneeIDs != nil {
			assignees, err := validateAssignees(ctx, tx, projectID, *input.AssigneeIDs)
			if err != nil {
				return err
			}
			if err := replaceAssignees(tx, task.ID, assignees); err != nil {
				return err
			}
		}

		if len(updates) > 0 {
			if err := tx.Model(&models.Task{}).Where("id = ?", task.ID).Updates(updates).Error; err != nil {
				return fmt.Errorf("task service: update task: %w", err)
			}
		}

		task, err = loadTask(ctx, tx, projectID, taskID)
		return err
	})
	if err != nil {
		return nil, err
	}

	recordAudit(s.audit, ctx, AuditEntry{
		AccountID: accountRef(actorID),
		Action:    AuditTaskUpdate,
		Resource:  taskResource(task.ID),
		Metadata:  map[string]any{"project_id": projectID, "status": string(task.Status)},
	})
	return task, nil
}

// Delete removes a task. Only the creator may delete tasks.
func (s *TaskService) Delete(ctx context.Context, actorID, projectID, taskID uint) error {
	ctx = ensureContext(ctx)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pc, err := loadPolicyContext(ctx, tx, actorID, projectID)
		if err != nil {
			return err
		}
		if err := policy.Authorize(policy.DeleteTask, pc, nil); err != nil {
			return err
		}

		task, err := loadTask(ctx, tx, projectID, taskID)
		if err != nil {
			return err
		}
		if err := replaceAssignees(tx, task.ID, nil); err != nil {
			return err
		}
		if err := tx.Delete(&models.Task{}, task.ID).Error; err != nil {
			return fmt.Errorf("task service: delete task: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	recordAudit(s.audit, ctx, AuditEntry{
		AccountID: accountRef(actorID),
		Action:    AuditTaskDelete,
		Resource:  taskResource(taskID),
		Metadata:  map[string]any{"project_id": projectID},
	})
	return nil
}

// validateAssignees fails when any id is not a member of the project. Nothing is
// silently dropped.
func validateAssignees(ctx context.Context, tx *gorm.DB, projectID uint, ids []uint) ([]uint, error) {
	ids = normaliseIDs(ids)
	if len(ids) == 0 {
		return nil, nil
	}

	members, err := memberIDSet(ctx, tx, projectID)
	if err != nil {
		return nil, fmt.Errorf("task service: load members: %w", err)
	}
	if outsiders := policy.NonMembers(members, ids); len(outsiders) > 0 {
		sort.Slice(outsiders, func(i, j int) bool { return outsiders[i] < outsiders[j] })
		return nil, apperrors.NewValidation("Assignees must be members of the project").
			WithDetails(map[string]any{"non_members": outsiders})
	}
	return ids, nil
}

func replaceAssignees(tx *gorm.DB, taskID uint, accountIDs []uint) error {
	if err := tx.Exec("DELETE FROM "+taskAssigneesTable+" WHERE task_id = ?", taskID).Error; err != nil {
		return fmt.Errorf("task service: clear assignees: %w", err)
	}
	if len(accountIDs) == 0 {
		return nil
	}

	rows := make([]map[string]any, 0, len(accountIDs))
	for _, id := range accountIDs {
		rows = append(rows, map[string]any{"task_id": taskID, "account_id": id})
	}
	if err := tx.Table(taskAssigneesTable).Create(&rows).Error; err != nil {
		return fmt.Errorf("task service: assign: %w", err)
	}
	return nil
}

func loadTask(ctx context.Context, db *gorm.DB, projectID, taskID uint) (*models.Task, error) {
	var task models.Task
	if err := db.WithContext(ctx).
		Preload("Assignees").
		Where("project_id = ?", projectID).
		Take(&task, taskID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewNotFound("Task not found")
		}
		return nil, fmt.Errorf("task service: load task: %w", err)
	}
	return &task, nil
}

func taskResource(id uint) string {
	return fmt.Sprintf("task:%d", id)
}
