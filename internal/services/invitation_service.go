package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/zeh237/taskly/internal/models"
	"github.com/zeh237/taskly/internal/notifications"
	"github.com/zeh237/taskly/internal/policy"
	apperrors "github.com/zeh237/taskly/pkg/errors"
	"github.com/zeh237/taskly/pkg/metrics"
	"github.com/zeh237/taskly/pkg/validator"
)

// AcceptOutcome is the result of presenting an invitation token.
type AcceptOutcome string

const (
	// AcceptAccepted means the invitation is now accepted and the actor is a member.
	AcceptAccepted AcceptOutcome = "accepted"
	// AcceptExpired means the invitation lapsed and has been marked expired.
	AcceptExpired AcceptOutcome = "expired"
	// AcceptNeedsAuthentication asks the caller to sign in and replay the token.
	AcceptNeedsAuthentication AcceptOutcome = "authentication_required"
	// AcceptWrongAccount means the signed-in account is not the invitee. The invitation
	// stays pending so the right account can still accept it.
	AcceptWrongAccount AcceptOutcome = "wrong_account"
)

// AcceptResult describes what Accept did.
type AcceptResult struct {
	Outcome    AcceptOutcome
	Invitation *models.Invitation
	Membership *models.Membership
	// MembershipCreated is false when the actor was already a member.
	MembershipCreated bool
	// Token is the continuation to replay after signing in.
	Token string
}

// InviteInput carries the invitee address and granted role.
type InviteInput struct {
	Email string
	Role  models.MembershipRole
}

// ExpireFilter narrows a bulk expiry. An empty filter matches every pending invitation.
type ExpireFilter struct {
	ProjectID *uint
	IDs       []uint
}

// InvitationPreview is the public view of an invitation shown before accepting.
type InvitationPreview struct {
	ProjectID   uint
	ProjectName string
	Status      models.InvitationStatus
	TargetKind  models.TargetKind
	InviterName string
	SentAt      time.Time
	ExpiresAt   time.Time
	Expired     bool
}

// InvitationOption customises InvitationService behaviour.
type InvitationOption func(*InvitationService)

// WithInvitationClock injects a custom clock primarily for testing.
func WithInvitationClock(clock func() time.Time) InvitationOption {
	return func(s *InvitationService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithInvitationExpiry overrides how long a pending invitation can be accepted.
func WithInvitationExpiry(d time.Duration) InvitationOption {
	return func(s *InvitationService) {
		if d > 0 {
			s.expiry = d
		}
	}
}

// WithAcceptURL sets the base of the acceptance link; the token is appended as a path
// segment.
func WithAcceptURL(url string) InvitationOption {
	return func(s *InvitationService) {
		if url = strings.TrimSpace(url); url != "" {
			s.acceptURL = url
		}
	}
}

// WithInvitationLogger sets the service logger.
func WithInvitationLogger(log *zap.Logger) InvitationOption {
	return func(s *InvitationService) {
		if log != nil {
			s.log = log
		}
	}
}

// InvitationService drives the invitation lifecycle:
// pending -> accepted | rejected | expired.
type InvitationService struct {
	db        *gorm.DB
	notifier  notifications.Notifier
	audit     *AuditService
	now       func() time.Time
	expiry    time.Duration
	acceptURL string
	log       *zap.Logger
}

// NewInvitationService constructs an InvitationService.
func NewInvitationService(db *gorm.DB, notifier notifications.Notifier, audit *AuditService, opts ...InvitationOption) (*InvitationService, error) {
	if db == nil {
		return nil, errors.New("invitation service: db is required")
	}
	if notifier == nil {
		return nil, errors.New("invitation service: notifier is required")
	}

	svc := &InvitationService{
		db:        db,
		notifier:  notifier,
		audit:     audit,
		now:       time.Now,
		expiry:    models.DefaultInvitationExpiry,
		acceptURL: "http://localhost:8000/invitations",
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Expiry reports the acceptance window.
func (s *InvitationService) Expiry() time.Duration {
	return s.expiry
}

// Invite creates a pending invitation and emails its acceptance link. When the address
// belongs to an account the invitation is bound to that account, otherwise to the bare
// address. Nothing is persisted unless the notification is handed off.
func (s *InvitationService) Invite(ctx context.Context, actorID, projectID uint, input InviteInput) (*models.Invitation, error) {
	ctx = ensureContext(ctx)

	email := models.NormalizeEmail(input.Email)
	if err := validator.ValidateVar(email, "required,email,max=254"); err != nil {
		return nil, apperrors.NewValidation("A valid email address is required")
	}
	role, err := grantableRole(input.Role)
	if err != nil {
		return nil, err
	}

	var invitation *models.Invitation
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pc, err := loadPolicyContext(ctx, tx, actorID, projectID)
		if err != nil {
			return err
		}
		if err := policy.Authorize(policy.Invite, pc, nil); err != nil {
			return err
		}

		target, err := s.resolveTarget(tx, projectID, email)
		if err != nil {
			return err
		}
		if err := s.ensureNoPending(tx, projectID, target, email); err != nil {
			return err
		}

		inviter := actorID
		invitation, err = models.NewInvitation(projectID, target, &inviter, role, s.now())
		if err != nil {
			return apperrors.NewValidation(err.Error())
		}
		if err := tx.Create(invitation).Error; err != nil {
			if isUniqueConstraintError(err) {
				return apperrors.NewConflict("A pending invitation already exists for this user")
			}
			return fmt.Errorf("invitation service: create invitation: %w", err)
		}

		var inviterAccount models.Account
		if err := tx.Take(&inviterAccount, actorID).Error; err != nil {
			return fmt.Errorf("invitation service: load inviter: %w", err)
		}

		msg := notifications.InvitationMessage(notifications.InvitationDetails{
			Recipient:          email,
			ProjectName:        pc.Project.Name,
			ProjectDescription: pc.Project.Description,
			InviterName:        inviterAccount.FullName(),
			AcceptURL:          s.acceptURL,
			Token:              invitation.Token,
			Expiry:             s.expiry,
		})
		if err := s.notifier.Send(ctx, msg); err != nil {
			return apperrors.NewExternal("Could not send the invitation email", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.InvitationTransitions.WithLabelValues(string(models.InvitationPending)).Inc()
	recordAudit(s.audit, ctx, AuditEntry{
		AccountID: accountRef(actorID),
		Action:    AuditInvitationCreate,
		Resource:  invitationResource(invitation.ID),
		Metadata: map[string]any{
			"project_id":  projectID,
			"target_kind": string(targetKind(invitation)),
		},
	})
	return invitation, nil
}

// Accept consumes token on behalf of actor. A nil actor yields the
// AcceptNeedsAuthentication continuation. Accepting is idempotent with respect to
// membership: an actor who is already a member still gets the invitation marked accepted.
func (s *InvitationService) Accept(ctx context.Context, token string, actor *models.Account) (*AcceptResult, error) {
	ctx = ensureContext(ctx)

	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvitationNotFound
	}

	result := &AcceptResult{Token: token}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inv, err := s.lockPending(tx, token)
		if err != nil {
			return err
		}
		result.Invitation = inv

		now := s.now()
		if inv.IsExpired(now, s.expiry) {
			if _, err := s.transition(tx, inv, models.InvitationExpired, nil); err != nil {
				return err
			}
			result.Outcome = AcceptExpired
			return nil
		}

		if actor == nil || actor.ID == 0 {
			result.Outcome = AcceptNeedsAuthentication
			return nil
		}
		if !invitationMatches(inv, actor) {
			result.Outcome = AcceptWrongAccount
			return nil
		}

		membership, created, err := ensureMembership(tx, inv.ProjectID, actor.ID, inv.Role)
		if err != nil {
			return fmt.Errorf("invitation service: %w", err)
		}
		result.Membership = membership
		result.MembershipCreated = created

		acceptedAt := now.UTC()
		inv.SetTarget(models.TargetAccount(actor.ID))
		ok, err := s.transition(tx, inv, models.InvitationAccepted, map[string]any{
			"accepted_at": acceptedAt,
			"account_id":  actor.ID,
			"email":       nil,
		})
		if err != nil {
			return err
		}
		if !ok {
			return ErrInvitationNotFound
		}
		inv.AcceptedAt = &acceptedAt
		result.Outcome = AcceptAccepted
		return nil
	})
	if err != nil {
		return nil, err
	}

	switch result.Outcome {
	case AcceptExpired:
		s.auditTransition(ctx, AuditInvitationExpire, result.Invitation, nil)
		return result, ErrInvitationExpired
	case AcceptNeedsAuthentication:
		return result, ErrAuthenticationRequired.WithDetails(map[string]any{"invitation_token": token})
	case AcceptWrongAccount:
		return result, ErrInvitationWrongAccount
	}

	s.auditTransition(ctx, AuditInvitationAccept, result.Invitation, map[string]any{
		"membership_created": result.MembershipCreated,
	})
	return result, nil
}

// Reject declines a pending invitation addressed to actor.
func (s *InvitationService) Reject(ctx context.Context, token string, actor *models.Account) (*models.Invitation, error) {
	ctx = ensureContext(ctx)

	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvitationNotFound
	}
	if actor == nil || actor.ID == 0 {
		return nil, ErrAuthenticationRequired.WithDetails(map[string]any{"invitation_token": token})
	}

	var (
		inv     *models.Invitation
		expired bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		inv, err = s.lockPending(tx, token)
		if err != nil {
			return err
		}

		if inv.IsExpired(s.now(), s.expiry) {
			_, err := s.transition(tx, inv, models.InvitationExpired, nil)
			expired = err == nil
			return err
		}
		if !invitationMatches(inv, actor) {
			return ErrInvitationWrongAccount
		}

		ok, err := s.transition(tx, inv, models.InvitationRejected, nil)
		if err != nil {
			return err
		}
		if !ok {
			return ErrInvitationNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expired {
		s.auditTransition(ctx, AuditInvitationExpire, inv, nil)
		return inv, ErrInvitationExpired
	}

	s.auditTransition(ctx, AuditInvitationReject, inv, nil)
	return inv, nil
}

// Preview describes an invitation without changing it.
func (s *InvitationService) Preview(ctx context.Context, token string) (*InvitationPreview, error) {
	ctx = ensureContext(ctx)

	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apperrors.NewNotFound("Invitation not found")
	}

	var inv models.Invitation
	if err := s.db.WithContext(ctx).
		Preload("Project").
		Preload("InvitedBy").
		Where(&models.Invitation{Token: token}).
		Take(&inv).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewNotFound("Invitation not found")
		}
		return nil, fmt.Errorf("invitation service: preview: %w", err)
	}

	preview := &InvitationPreview{
		ProjectID:  inv.ProjectID,
		Status:     inv.Status,
		TargetKind: targetKind(&inv),
		SentAt:     inv.SentAt,
		ExpiresAt:  inv.ExpiresAt(s.expiry),
		Expired:    inv.Status == models.InvitationExpired || inv.IsExpired(s.now(), s.expiry),
	}
	if inv.Project != nil {
		preview.ProjectName = inv.Project.Name
	}
	if inv.InvitedBy != nil {
		preview.InviterName = inv.InvitedBy.FullName()
	}
	return preview, nil
}

// List returns the project's invitations, newest first. Members only.
func (s *InvitationService) List(ctx context.Context, actorID, projectID uint, status models.InvitationStatus) ([]models.Invitation, error) {
	ctx = ensureContext(ctx)

	if status != "" && !status.Valid() {
		return nil, apperrors.NewValidation(fmt.Sprintf("Unknown invitation status %q", status))
	}

	pc, err := loadPolicyContext(ctx, s.db, actorID, projectID)
	if err != nil {
		return nil, err
	}
	if err := policy.Authorize(policy.ListInvitations, pc, nil); err != nil {
		return nil, err
	}

	query := s.db.WithContext(ctx).
		Preload("Account").
		Preload("InvitedBy").
		Where("project_id = ?", projectID)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var invitations []models.Invitation
	if err := query.Order("sent_at DESC").Order("id DESC").Find(&invitations).Error; err != nil {
		return nil, fmt.Errorf("invitation service: list invitations: %w", err)
	}
	return invitations, nil
}

// ExpirePending force-expires pending invitations matching filter regardless of age.
// Only administrators may call it.
func (s *InvitationService) ExpirePending(ctx context.Context, admin *models.Account, filter ExpireFilter) (int64, error) {
	ctx = ensureContext(ctx)

	if admin == nil || !admin.IsAdmin {
		return 0, apperrors.NewForbidden("Administrator privileges are required")
	}

	count, err := s.expireWhere(ctx, func(q *gorm.DB) *gorm.DB {
		if filter.ProjectID != nil {
			q = q.Where("project_id = ?", *filter.ProjectID)
		}
		if ids := normaliseIDs(filter.IDs); len(ids) > 0 {
			q = q.Where(clause.IN{Column: clause.Column{Name: "id"}, Values: uintsToAny(ids)})
		}
		return q
	})
	if err != nil {
		return 0, err
	}

	recordAudit(s.audit, ctx, AuditEntry{
		AccountID: accountRef(admin.ID),
		Actor:     admin.Email,
		Action:    AuditInvitationExpire,
		Resource:  "invitations",
		Metadata:  map[string]any{"count": count, "project_id": filter.ProjectID, "ids": filter.IDs},
	})
	return count, nil
}

// SweepExpired marks pending invitations older than the acceptance window as expired.
// Acceptance already applies the same rule lazily, so this only keeps listings tidy.
func (s *InvitationService) SweepExpired(ctx context.Context) (int64, error) {
	ctx = ensureContext(ctx)

	cutoff := s.now().UTC().Add(-s.expiry)
	return s.expireWhere(ctx, func(q *gorm.DB) *gorm.DB {
		return q.Where("sent_at < ?", cutoff)
	})
}

func (s *InvitationService) expireWhere(ctx context.Context, scope func(*gorm.DB) *gorm.DB) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var pending []models.Invitation
		query := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("status = ?", models.InvitationPending)
		if err := scope(query).Order("id ASC").Find(&pending).Error; err != nil {
			return fmt.Errorf("invitation service: load pending: %w", err)
		}

		for i := range pending {
			ok, err := s.transition(tx, &pending[i], models.InvitationExpired, nil)
			if err != nil {
				return err
			}
			if ok {
				count++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// transition moves a pending invitation to a terminal status. Any older record holding
// the same (project, identity, status) is removed first so the per-status uniqueness
// rule keeps holding across repeated invite cycles. It reports false when the invitation
// was no longer pending.
func (s *InvitationService) transition(tx *gorm.DB, inv *models.Invitation, to models.InvitationStatus, extra map[string]any) (bool, error) {
	target, err := inv.Target()
	if err != nil {
		return false, err
	}

	superseded := tx.Where("project_id = ? AND status = ? AND id <> ?", inv.ProjectID, to, inv.ID)
	if id, ok := target.AccountID(); ok {
		superseded = superseded.Where("account_id = ?", id)
	} else if email, ok := target.Email(); ok {
		superseded = superseded.Where("email = ?", email)
	}
	if err := superseded.Delete(&models.Invitation{}).Error; err != nil {
		return false, fmt.Errorf("invitation service: supersede %s: %w", to, err)
	}

	updates := map[string]any{"status": to}
	for k, v := range extra {
		updates[k] = v
	}

	result := tx.Session(&gorm.Session{SkipHooks: true}).
		Model(&models.Invitation{}).
		Where("id = ? AND status = ?", inv.ID, models.InvitationPending).
		Updates(updates)
	if result.Error != nil {
		return false, fmt.Errorf("invitation service: mark %s: %w", to, result.Error)
	}
	if result.RowsAffected == 0 {
		return false, nil
	}

	inv.Status = to
	metrics.InvitationTransitions.WithLabelValues(string(to)).Inc()
	return true, nil
}

// lockPending loads the pending invitation for token with a row lock held until the
// transaction ends.
func (s *InvitationService) lockPending(tx *gorm.DB, token string) (*models.Invitation, error) {
	var inv models.Invitation
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where(&models.Invitation{Token: token, Status: models.InvitationPending}).
		Take(&inv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvitationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("invitation service: load invitation: %w", err)
	}
	return &inv, nil
}

// resolveTarget binds the invitation to an existing account when email belongs to one,
// refusing addresses that are already members.
func (s *InvitationService) resolveTarget(tx *gorm.DB, projectID uint, email string) (models.InvitationTarget, error) {
	var account models.Account
	err := tx.Where(&models.Account{Email: email}).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.TargetEmail(email), nil
	}
	if err != nil {
		return models.InvitationTarget{}, fmt.Errorf("invitation service: resolve email: %w", err)
	}

	var members int64
	if err := tx.Model(&models.Membership{}).
		Where(&models.Membership{ProjectID: projectID, AccountID: account.ID}).
		Count(&members).Error; err != nil {
		return models.InvitationTarget{}, fmt.Errorf("invitation service: check membership: %w", err)
	}
	if members > 0 {
		return models.InvitationTarget{}, apperrors.NewConflict("This user is already a member of the project")
	}
	return models.TargetAccount(account.ID), nil
}

// ensureNoPending rejects a second pending invitation for the same person. An account
// target also matches invitations sent to its address before it registered. Pending
// invitations that have already lapsed are expired instead so a fresh one can be sent.
func (s *InvitationService) ensureNoPending(tx *gorm.DB, projectID uint, target models.InvitationTarget, email string) error {
	query := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("project_id = ? AND status = ?", projectID, models.InvitationPending)
	if id, ok := target.AccountID(); ok {
		query = query.Where("(account_id = ? OR email = ?)", id, email)
	} else if addr, ok := target.Email(); ok {
		query = query.Where("email = ?", addr)
	}

	var existing []models.Invitation
	if err := query.Order("id").Find(&existing).Error; err != nil {
		return fmt.Errorf("invitation service: check pending: %w", err)
	}

	for i := range existing {
		if !existing[i].IsExpired(s.now(), s.expiry) {
			return apperrors.NewConflict("A pending invitation already exists for this user")
		}
	}
	for i := range existing {
		if _, err := s.transition(tx, &existing[i], models.InvitationExpired, nil); err != nil {
			return err
		}
	}
	return nil
}

func (s *InvitationService) auditTransition(ctx context.Context, action string, inv *models.Invitation, meta map[string]any) {
	if inv == nil {
		return
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["project_id"] = inv.ProjectID
	recordAudit(s.audit, ctx, AuditEntry{
		Action:   action,
		Resource: invitationResource(inv.ID),
		Metadata: meta,
	})
}

// invitationMatches reports whether actor is the invitee: the bound account, or an
// account registered with the invited address.
func invitationMatches(inv *models.Invitation, actor *models.Account) bool {
	target, err := inv.Target()
	if err != nil {
		return false
	}
	if id, ok := target.AccountID(); ok {
		return id == actor.ID
	}
	if email, ok := target.Email(); ok {
		return email == models.NormalizeEmail(actor.Email)
	}
	return false
}

func targetKind(inv *models.Invitation) models.TargetKind {
	target, err := inv.Target()
	if err != nil {
		return ""
	}
	return target.Kind()
}

func uintsToAny(ids []uint) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

func invitationResource(id uint) string {
	return fmt.Sprintf("invitation:%d", id)
}
