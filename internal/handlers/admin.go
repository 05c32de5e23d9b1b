package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/zeh237/taskly/internal/services"
	"github.com/zeh237/taskly/pkg/errors"
	"github.com/zeh237/taskly/pkg/response"
)

const (
	defaultAuditPageSize = 50
	maxAuditPageSize     = 200
)

// AdminHandler exposes administrator-only operations.
type AdminHandler struct {
	accounts    *services.AccountService
	invitations *services.InvitationService
	audit       *services.AuditService
}

func NewAdminHandler(accounts *services.AccountService, invitations *services.InvitationService, audit *services.AuditService) *AdminHandler {
	return &AdminHandler{accounts: accounts, invitations: invitations, audit: audit}
}

type expireInvitationsRequest struct {
	ProjectID *uint  `json:"project_id"`
	IDs       []uint `json:"ids"`
}

// POST /api/admin/invitations/expire
func (h *AdminHandler) ExpireInvitations(c *gin.Context) {
	accountID, ok := requireAccountID(c)
	if !ok {
		return
	}
	var req expireInvitationsRequest
	if !bindAndValidate(c, &req) {
		return
	}

	ctx := requestContext(c)
	admin, err := h.accounts.GetByID(ctx, accountID)
	if err != nil {
		response.Error(c, err)
		return
	}

	count, err := h.invitations.ExpirePending(ctx, admin, services.ExpireFilter{ProjectID: req.ProjectID, IDs: req.IDs})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"expired": count})
}

// GET /api/admin/audit
func (h *AdminHandler) ListAudit(c *gin.Context) {
	page := parseIntQuery(c, "page", 1)
	if page < 1 {
		page = 1
	}
	perPage := parseIntQuery(c, "per_page", defaultAuditPageSize)
	if perPage < 1 || perPage > maxAuditPageSize {
		perPage = defaultAuditPageSize
	}

	filters := services.AuditFilters{
		Action:   strings.TrimSpace(c.Query("action")),
		Result:   strings.TrimSpace(c.Query("result")),
		Resource: strings.TrimSpace(c.Query("resource")),
	}
	if raw := strings.TrimSpace(c.Query("account_id")); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			response.Error(c, errors.NewBadRequest("account_id must be numeric"))
			return
		}
		accountID := uint(id)
		filters.AccountID = &accountID
	}
	for key, target := range map[string]**time.Time{"since": &filters.Since, "until": &filters.Until} {
		raw := strings.TrimSpace(c.Query(key))
		if raw == "" {
			continue
		}
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			response.Error(c, errors.NewBadRequest(key+" must be an RFC3339 timestamp"))
			return
		}
		*target = &parsed
	}

	logs, total, err := h.audit.List(requestContext(c), services.AuditListOptions{
		Page:     page,
		PageSize: perPage,
		Filters:  filters,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, logs, response.NewMeta(page, perPage, total))
}
