package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/zeh237/taskly/internal/models"
	"github.com/zeh237/taskly/internal/services"
	"github.com/zeh237/taskly/pkg/response"
)

// TaskHandler exposes project tasks.
type TaskHandler struct {
	tasks *services.TaskService
}

func NewTaskHandler(tasks *services.TaskService) *TaskHandler {
	return &TaskHandler{tasks: tasks}
}

type createTaskRequest struct {
	Title       string `json:"title" validate:"required,max=200"`
	Description string `json:"description"`
	Status      string `json:"status" validate:"omitempty,oneof=todo in_progress done"`
	AssigneeIDs []uint `json:"assignee_ids"`
}

// updateTaskRequest distinguishes an absent assignee list from an empty one.
type updateTaskRequest struct {
	Title       *string `json:"title" validate:"omitempty,max=200"`
	Description *string `json:"description"`
	Status      *string `json:"status" validate:"omitempty,oneof=todo in_progress done"`
	AssigneeIDs *[]uint `json:"assignee_ids"`
}

// GET /api/projects/:id/tasks
func (h *TaskHandler) List(c *gin.Context) {
	accountID, ok := requireAccountID(c)
	if !ok {
		return
	}
	projectID, ok := uintParam(c, "id")
	if !ok {
		return
	}

	tasks, err := h.tasks.List(requestContext(c), accountID, projectID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, tasks)
}

// POST /api/projects/:id/tasks
func (h *TaskHandler) Create(c *gin.Context) {
	accountID, ok := requireAccountID(c)
	if !ok {
		return
	}
	projectID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	var req createTaskRequest
	if !bindAndValidate(c, &req) {
		return
	}

	task, err := h.tasks.Create(requestContext(c), accountID, projectID, services.CreateTaskInput{
		Title:       req.Title,
		Description: req.Description,
		Status:      models.TaskStatus(req.Status),
		AssigneeIDs: req.AssigneeIDs,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, task)
}

// GET /api/projects/:id/tasks/:taskID
func (h *TaskHandler) Get(c *gin.Context) {
	accountID, projectID, taskID, ok := taskParams(c)
	if !ok {
		return
	}

	task, err := h.tasks.Get(requestContext(c), accountID, projectID, taskID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, task)
}

// PATCH /api/projects/:id/tasks/:taskID
func (h *TaskHandler) Update(c *gin.Context) {
	accountID, projectID, taskID, ok := taskParams(c)
	if !ok {
		return
	}
	var req updateTaskRequest
	if !bindAndValidate(c, &req) {
		return
	}

	input := services.UpdateTaskInput{
		Title:       req.Title,
		Description: req.Description,
		AssigneeIDs: req.AssigneeIDs,
	}
	if req.Status != nil {
		status := models.TaskStatus(*req.Status)
		input.Status = &status
	}

	task, err := h.tasks.Update(requestContext(c), accountID, projectID, taskID, input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, task)
}

// DELETE /api/projects/:id/tasks/:taskID
func (h *TaskHandler) Delete(c *gin.Context) {
	accountID, projectID, taskID, ok := taskParams(c)
	if !ok {
		return
	}

	if err := h.tasks.Delete(requestContext(c), accountID, projectID, taskID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

func taskParams(c *gin.Context) (accountID, projectID, taskID uint, ok bool) {
	if accountID, ok = requireAccountID(c); !ok {
		return
	}
	if projectID, ok = uintParam(c, "id"); !ok {
		return
	}
	taskID, ok = uintParam(c, "taskID")
	return
}
