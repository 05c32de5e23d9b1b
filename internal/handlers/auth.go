package handlers

import (
	stdErrors "errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	iauth "github.com/zeh237/taskly/internal/auth"
	"github.com/zeh237/taskly/internal/middleware"
	"github.com/zeh237/taskly/internal/models"
	"github.com/zeh237/taskly/internal/services"
	"github.com/zeh237/taskly/pkg/errors"
	"github.com/zeh237/taskly/pkg/logger"
	"github.com/zeh237/taskly/pkg/response"
)

// AuthHandler manages registration, verification, sign-in and password reset.
type AuthHandler struct {
	accounts    *services.AccountService
	invitations *services.InvitationService
	sessions    *iauth.SessionService
	log         *zap.Logger
}

func NewAuthHandler(accounts *services.AccountService, invitations *services.InvitationService, sessions *iauth.SessionService) *AuthHandler {
	return &AuthHandler{
		accounts:    accounts,
		invitations: invitations,
		sessions:    sessions,
		log:         logger.WithModule("http"),
	}
}

type registerRequest struct {
	Email     string `json:"email" validate:"required,email,max=254"`
	Password  string `json:"password" validate:"required,password"`
	FirstName string `json:"first_name" validate:"required,max=150"`
	LastName  string `json:"last_name" validate:"required,max=150"`
}

type emailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type otpRequest struct {
	Email string `json:"email" validate:"required,email"`
	OTP   string `json:"otp" validate:"required,otp"`
}

type loginRequest struct {
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required"`
	InvitationToken string `json:"invitation_token" validate:"omitempty,max=64"`
}

func (r *registerRequest) normalize() {
	r.Email = strings.TrimSpace(r.Email)
	r.FirstName = strings.TrimSpace(r.FirstName)
	r.LastName = strings.TrimSpace(r.LastName)
}

func (r *emailRequest) normalize() { r.Email = strings.TrimSpace(r.Email) }

func (r *otpRequest) normalize() {
	r.Email = strings.TrimSpace(r.Email)
	r.OTP = strings.TrimSpace(r.OTP)
}

func (r *loginRequest) normalize() {
	r.Email = strings.TrimSpace(r.Email)
	r.InvitationToken = strings.TrimSpace(r.InvitationToken)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type resetPasswordRequest struct {
	Email       string `json:"email" validate:"required,email"`
	OTP         string `json:"otp" validate:"omitempty,otp"`
	ResetToken  string `json:"reset_token" validate:"omitempty,max=128"`
	NewPassword string `json:"new_password" validate:"required,password"`
}

func (r *resetPasswordRequest) normalize() {
	r.Email = strings.TrimSpace(r.Email)
	r.OTP = strings.TrimSpace(r.OTP)
	r.ResetToken = strings.TrimSpace(r.ResetToken)
}

// POST /api/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if !bindAndValidate(c, &req) {
		return
	}

	account, err := h.accounts.Register(requestContext(c), services.RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{
		"account":         account,
		"otp_ttl_seconds": int(h.accounts.OTPTTL().Seconds()),
	})
}

// POST /api/auth/verify
func (h *AuthHandler) Verify(c *gin.Context) {
	var req otpRequest
	if !bindAndValidate(c, &req) {
		return
	}

	account, err := h.accounts.Verify(requestContext(c), req.Email, req.OTP)
	if err != nil {
		response.Error(c, err)
		return
	}

	session, err := h.openSession(c, account)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, session)
}

// POST /api/auth/otp/resend
func (h *AuthHandler) ResendOTP(c *gin.Context) {
	var req emailRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.accounts.ResendOTP(requestContext(c), req.Email); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"sent": true})
}

// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindAndValidate(c, &req) {
		return
	}

	ctx := requestContext(c)
	account, err := h.accounts.Authenticate(ctx, req.Email, req.Password)
	if err != nil {
		response.Error(c, err)
		return
	}

	session, err := h.openSession(c, account)
	if err != nil {
		response.Error(c, err)
		return
	}

	payload := loginResponse{sessionResponse: session}
	if token := strings.TrimSpace(req.InvitationToken); token != "" && h.invitations != nil {
		payload.Invitation = h.replayInvitation(c, token, account)
	}
	response.Success(c, http.StatusOK, payload)
}

func (h *AuthHandler) replayInvitation(c *gin.Context, token string, account *models.Account) *invitationReplay {
	result, err := h.invitations.Accept(requestContext(c), token, account)
	if err == nil {
		accepted := newAcceptResponse(result)
		return &invitationReplay{Outcome: result.Outcome, Result: &accepted}
	}

	replay := &invitationReplay{}
	if result != nil {
		replay.Outcome = result.Outcome
	}
	appErr := errors.FromError(err)
	replay.Error = &replayError{Code: appErr.Code, Message: appErr.Message}
	if appErr.StatusCode >= http.StatusInternalServerError {
		h.log.Warn("invitation replay failed", zap.Error(err))
	}
	return replay
}

// POST /api/auth/refresh
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if !bindAndValidate(c, &req) {
		return
	}

	pair, _, err := h.sessions.RefreshSession(requestContext(c), strings.TrimSpace(req.RefreshToken))
	if err != nil {
		switch {
		case stdErrors.Is(err, iauth.ErrSessionNotFound),
			stdErrors.Is(err, iauth.ErrSessionRevoked),
			stdErrors.Is(err, iauth.ErrSessionExpired),
			stdErrors.Is(err, iauth.ErrSessionInvalidToken):
			response.Error(c, errors.ErrUnauthorized.WithMessage("Refresh token is invalid or expired"))
		default:
			response.Error(c, err)
		}
		return
	}

	response.Success(c, http.StatusOK, pair)
}

// POST /api/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	sid := c.GetString(middleware.CtxSessionIDKey)
	if sid == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	if err := h.sessions.RevokeSession(requestContext(c), sid); err != nil && !stdErrors.Is(err, iauth.ErrSessionNotFound) {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"revoked": true})
}

// GET /api/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	accountID, ok := requireAccountID(c)
	if !ok {
		return
	}

	account, err := h.accounts.GetByID(requestContext(c), accountID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, account)
}

// POST /api/auth/password/forgot
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req emailRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.accounts.RequestPasswordReset(requestContext(c), req.Email); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusAccepted, gin.H{
		"message": "If the address belongs to an account, a reset code has been sent",
	})
}

// POST /api/auth/password/verify
func (h *AuthHandler) VerifyResetOTP(c *gin.Context) {
	var req otpRequest
	if !bindAndValidate(c, &req) {
		return
	}

	grant, err := h.accounts.VerifyResetOTP(requestContext(c), req.Email, req.OTP)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"reset_token": grant})
}

// POST /api/auth/password/reset
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if !bindAndValidate(c, &req) {
		return
	}
	if req.OTP == "" && strings.TrimSpace(req.ResetToken) == "" {
		response.Error(c, errors.NewValidation("otp or reset_token is required"))
		return
	}

	account, err := h.accounts.ResetPassword(requestContext(c), services.ResetPasswordInput{
		Email:       req.Email,
		OTP:         req.OTP,
		Grant:       req.ResetToken,
		NewPassword: req.NewPassword,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	session, err := h.openSession(c, account)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, session)
}

func (h *AuthHandler) openSession(c *gin.Context, account *models.Account) (sessionResponse, error) {
	pair, _, err := h.sessions.CreateSession(requestContext(c), iauth.SubjectFor(account), sessionMetadata(c))
	if err != nil {
		return sessionResponse{}, err
	}
	return sessionResponse{Tokens: pair, Account: account}, nil
}
