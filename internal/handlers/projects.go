package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/zeh237/taskly/internal/models"
	"github.com/zeh237/taskly/internal/services"
	"github.com/zeh237/taskly/pkg/errors"
	"github.com/zeh237/taskly/pkg/response"
)

// ProjectHandler exposes projects and their memberships.
type ProjectHandler struct {
	projects *services.ProjectService
}

func NewProjectHandler(projects *services.ProjectService) *ProjectHandler {
	return &ProjectHandler{projects: projects}
}

type createProjectRequest struct {
	Name        string `json:"name" validate:"required,max=255"`
	Description string `json:"description"`
}

type updateProjectRequest struct {
	Name        *string `json:"name" validate:"omitempty,max=255"`
	Description *string `json:"description"`
}

type addMemberRequest struct {
	AccountID uint   `json:"account_id"`
	Email     string `json:"email" validate:"omitempty,email"`
	Role      string `json:"role" validate:"omitempty,oneof=contributor creator"`
}

func (r *addMemberRequest) normalize() {
	r.Email = strings.TrimSpace(r.Email)
	r.Role = strings.TrimSpace(r.Role)
}

// GET /api/projects
func (h *ProjectHandler) List(c *gin.Context) {
	accountID, ok := requireAccountID(c)
	if !ok {
		return
	}

	projects, err := h.projects.ListForUser(requestContext(c), accountID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, projects)
}

// POST /api/projects
func (h *ProjectHandler) Create(c *gin.Context) {
	accountID, ok := requireAccountID(c)
	if !ok {
		return
	}
	var req createProjectRequest
	if !bindAndValidate(c, &req) {
		return
	}

	project, err := h.projects.Create(requestContext(c), accountID, services.CreateProjectInput{
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, project)
}

// GET /api/projects/:id
func (h *ProjectHandler) Get(c *gin.Context) {
	accountID, ok := requireAccountID(c)
	if !ok {
		return
	}
	projectID, ok := uintParam(c, "id")
	if !ok {
		return
	}

	project, err := h.projects.Get(requestContext(c), accountID, projectID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, project)
}

// PATCH /api/projects/:id
func (h *ProjectHandler) Update(c *gin.Context) {
	accountID, ok := requireAccountID(c)
	if !ok {
		return
	}
	projectID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	var req updateProjectRequest
	if !bindAndValidate(c, &req) {
		return
	}

	project, err := h.projects.Update(requestContext(c), accountID, projectID, services.UpdateProjectInput{
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, project)
}

// GET /api/projects/:id/members
func (h *ProjectHandler) ListMembers(c *gin.Context) {
	accountID, ok := requireAccountID(c)
	if !ok {
		return
	}
	projectID, ok := uintParam(c, "id")
	if !ok {
		return
	}

	members, err := h.projects.ListMembers(requestContext(c), accountID, projectID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, members)
}

// POST /api/projects/:id/members
func (h *ProjectHandler) AddMember(c *gin.Context) {
	accountID, ok := requireAccountID(c)
	if !ok {
		return
	}
	projectID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	var req addMemberRequest
	if !bindAndValidate(c, &req) {
		return
	}

	email := strings.TrimSpace(req.Email)
	if (req.AccountID == 0) == (email == "") {
		response.Error(c, errors.NewValidation("exactly one of account_id or email is required"))
		return
	}

	var (
		membership *models.Membership
		err        error
	)
	role := models.MembershipRole(req.Role)
	if email != "" {
		membership, err = h.projects.AddMemberByEmail(requestContext(c), accountID, projectID, email, role)
	} else {
		membership, err = h.projects.AddMember(requestContext(c), accountID, projectID, req.AccountID, role)
	}
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, membership)
}

// DELETE /api/projects/:id/members/:memberID
func (h *ProjectHandler) RemoveMember(c *gin.Context) {
	accountID, ok := requireAccountID(c)
	if !ok {
		return
	}
	projectID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	membershipID, ok := uintParam(c, "memberID")
	if !ok {
		return
	}

	if err := h.projects.RemoveMember(requestContext(c), accountID, projectID, membershipID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
