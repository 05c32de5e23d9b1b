package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/zeh237/taskly/internal/middleware"
	"github.com/zeh237/taskly/internal/models"
	"github.com/zeh237/taskly/internal/services"
	"github.com/zeh237/taskly/pkg/response"
)

// InvitationHandler exposes invitation issue, preview, accept and reject.
type InvitationHandler struct {
	invitations *services.InvitationService
	accounts    *services.AccountService
}

func NewInvitationHandler(invitations *services.InvitationService, accounts *services.AccountService) *InvitationHandler {
	return &InvitationHandler{invitations: invitations, accounts: accounts}
}

type createInvitationRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
	Role  string `json:"role" validate:"omitempty,oneof=contributor creator"`
}

func (r *createInvitationRequest) normalize() {
	r.Email = strings.TrimSpace(r.Email)
	r.Role = strings.TrimSpace(r.Role)
}

// GET /api/projects/:id/invitations
func (h *InvitationHandler) List(c *gin.Context) {
	accountID, ok := requireAccountID(c)
	if !ok {
		return
	}
	projectID, ok := uintParam(c, "id")
	if !ok {
		return
	}

	status := models.InvitationStatus(strings.ToLower(strings.TrimSpace(c.Query("status"))))
	invitations, err := h.invitations.List(requestContext(c), accountID, projectID, status)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, newInvitationResponses(invitations, h.invitations.Expiry()))
}

// POST /api/projects/:id/invitations
func (h *InvitationHandler) Create(c *gin.Context) {
	accountID, ok := requireAccountID(c)
	if !ok {
		return
	}
	projectID, ok := uintParam(c, "id")
	if !ok {
		return
	}
	var req createInvitationRequest
	if !bindAndValidate(c, &req) {
		return
	}

	inv, err := h.invitations.Invite(requestContext(c), accountID, projectID, services.InviteInput{
		Email: req.Email,
		Role:  models.MembershipRole(req.Role),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, newInvitationResponse(inv, h.invitations.Expiry()))
}

// GET /api/invitations/:token
func (h *InvitationHandler) Preview(c *gin.Context) {
	preview, err := h.invitations.Preview(requestContext(c), c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, newInvitationPreviewResponse(preview))
}

// POST /api/invitations/:token/accept
//
// Anonymous callers receive AUTHENTICATION_REQUIRED carrying the token to replay at login.
func (h *InvitationHandler) Accept(c *gin.Context) {
	actor, ok := h.optionalActor(c)
	if !ok {
		return
	}

	result, err := h.invitations.Accept(requestContext(c), c.Param("token"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, newAcceptResponse(result))
}

// POST /api/invitations/:token/reject
func (h *InvitationHandler) Reject(c *gin.Context) {
	actor, ok := h.optionalActor(c)
	if !ok {
		return
	}

	inv, err := h.invitations.Reject(requestContext(c), c.Param("token"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, newInvitationResponse(inv, h.invitations.Expiry()))
}

// optionalActor loads the signed-in account, returning nil for anonymous requests.
func (h *InvitationHandler) optionalActor(c *gin.Context) (*models.Account, bool) {
	accountID, ok := middleware.AccountID(c)
	if !ok || accountID == 0 {
		return nil, true
	}

	account, err := h.accounts.GetByID(requestContext(c), accountID)
	if err != nil {
		response.Error(c, err)
		return nil, false
	}
	return account, true
}
