package handlers

import (
	"time"

	iauth "github.com/zeh237/taskly/internal/auth"
	"github.com/zeh237/taskly/internal/models"
	"github.com/zeh237/taskly/internal/services"
)

type sessionResponse struct {
	Tokens  iauth.TokenPair `json:"tokens"`
	Account *models.Account `json:"account"`
}

type invitationResponse struct {
	ID          uint                    `json:"id"`
	ProjectID   uint                    `json:"project_id"`
	TargetKind  models.TargetKind       `json:"target_kind"`
	AccountID   *uint                   `json:"account_id,omitempty"`
	Email       *string                 `json:"email,omitempty"`
	Status      models.InvitationStatus `json:"status"`
	Role        models.MembershipRole   `json:"role"`
	InvitedByID *uint                   `json:"invited_by_id,omitempty"`
	SentAt      time.Time               `json:"sent_at"`
	ExpiresAt   time.Time               `json:"expires_at"`
	AcceptedAt  *time.Time              `json:"accepted_at,omitempty"`
}

func newInvitationResponse(inv *models.Invitation, window time.Duration) invitationResponse {
	out := invitationResponse{
		ID:          inv.ID,
		ProjectID:   inv.ProjectID,
		AccountID:   inv.AccountID,
		Email:       inv.Email,
		Status:      inv.Status,
		Role:        inv.Role,
		InvitedByID: inv.InvitedByID,
		SentAt:      inv.SentAt,
		ExpiresAt:   inv.ExpiresAt(window),
		AcceptedAt:  inv.AcceptedAt,
	}
	if target, err := inv.Target(); err == nil {
		out.TargetKind = target.Kind()
	}
	return out
}

func newInvitationResponses(invitations []models.Invitation, window time.Duration) []invitationResponse {
	out := make([]invitationResponse, 0, len(invitations))
	for i := range invitations {
		out = append(out, newInvitationResponse(&invitations[i], window))
	}
	return out
}

type invitationPreviewResponse struct {
	ProjectID   uint                    `json:"project_id"`
	ProjectName string                  `json:"project_name"`
	Status      models.InvitationStatus `json:"status"`
	TargetKind  models.TargetKind       `json:"target_kind"`
	InviterName string                  `json:"inviter_name,omitempty"`
	SentAt      time.Time               `json:"sent_at"`
	ExpiresAt   time.Time               `json:"expires_at"`
	Expired     bool                    `json:"expired"`
}

func newInvitationPreviewResponse(p *services.InvitationPreview) invitationPreviewResponse {
	return invitationPreviewResponse{
		ProjectID:   p.ProjectID,
		ProjectName: p.ProjectName,
		Status:      p.Status,
		TargetKind:  p.TargetKind,
		InviterName: p.InviterName,
		SentAt:      p.SentAt,
		ExpiresAt:   p.ExpiresAt,
		Expired:     p.Expired,
	}
}

type acceptResponse struct {
	Outcome           services.AcceptOutcome `json:"outcome"`
	ProjectID         uint                   `json:"project_id"`
	MembershipCreated bool                   `json:"membership_created"`
	Membership        *models.Membership     `json:"membership,omitempty"`
}

func newAcceptResponse(result *services.AcceptResult) acceptResponse {
	out := acceptResponse{
		Outcome:           result.Outcome,
		MembershipCreated: result.MembershipCreated,
		Membership:        result.Membership,
	}
	if result.Invitation != nil {
		out.ProjectID = result.Invitation.ProjectID
	}
	return out
}

// invitationReplay reports the outcome of an invitation token presented at sign-in. Sign-in
// itself succeeds even when the replay does not.
type invitationReplay struct {
	Outcome services.AcceptOutcome `json:"outcome"`
	Result  *acceptResponse        `json:"result,omitempty"`
	Error   *replayError           `json:"error,omitempty"`
}

type replayError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type loginResponse struct {
	sessionResponse
	Invitation *invitationReplay `json:"invitation,omitempty"`
}
