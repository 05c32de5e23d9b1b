package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/zeh237/taskly/internal/models"
	"github.com/zeh237/taskly/internal/policy"
	apperrors "github.com/zeh237/taskly/pkg/errors"
	"github.com/zeh237/taskly/pkg/validator"
)

// CreateProjectInput carries the fields for a new project.
type CreateProjectInput struct {
	Name        string `validate:"required,max=255"`
	Description string
}

// UpdateProjectInput holds optional project changes.
type UpdateProjectInput struct {
	Name        *string
	Description *string
}

// ProjectService manages projects and their memberships.
type ProjectService struct {
	db    *gorm.DB
	audit *AuditService
}

// NewProjectService constructs a ProjectService.
func NewProjectService(db *gorm.DB, audit *AuditService) (*ProjectService, error) {
	if db == nil {
		return nil, errors.New("project service: db is required")
	}
	return &ProjectService{db: db, audit: audit}, nil
}

// Create stores a project together with the creator's membership in one transaction.
func (s *ProjectService) Create(ctx context.Context, creatorID uint, input CreateProjectInput) (*models.Project, error) {
	ctx = ensureContext(ctx)
	if creatorID == 0 {
		return nil, apperrors.ErrUnauthorized
	}

	input.Name = strings.TrimSpace(input.Name)
	input.Description = strings.TrimSpace(input.Description)
	if err := validator.ValidateStruct(input); err != nil {
		return nil, apperrors.NewValidation("Project name is required and must be at most 255 characters")
	}

	project := &models.Project{
		Name:        input.Name,
		Description: input.Description,
		CreatorID:   creatorID,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(project).Error; err != nil {
			return fmt.Errorf("project service: create project: %w", err)
		}
		membership := &models.Membership{
			ProjectID: project.ID,
			AccountID: creatorID,
			Role:      models.RoleCreator,
		}
		if err := tx.Create(membership).Error; err != nil {
			return fmt.Errorf("project service: create creator membership: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	recordAudit(s.audit, ctx, AuditEntry{
		AccountID: accountRef(creatorID),
		Action:    AuditProjectCreate,
		Resource:  projectResource(project.ID),
		Metadata:  map[string]any{"name": project.Name},
	})
	return project, nil
}

// ListForUser returns the projects accountID created or belongs to, newest first.
func (s *ProjectService) ListForUser(ctx context.Context, accountID uint) ([]models.Project, error) {
	ctx = ensureContext(ctx)

	memberOf := s.db.Model(&models.Membership{}).
		Select("project_id").
		Where("account_id = ?", accountID)

	var projects []models.Project
	if err := s.db.WithContext(ctx).
		Where("creator_id = ? OR id IN (?)", accountID, memberOf).
		Order("created_at DESC").
		Order("id DESC").
		Find(&projects).Error; err != nil {
		return nil, fmt.Errorf("project service: list projects: %w", err)
	}
	return projects, nil
}

// Get returns a project the actor belongs to.
func (s *ProjectService) Get(ctx context.Context, actorID, projectID uint) (*models.Project, error) {
	ctx = ensureContext(ctx)

	pc, err := loadPolicyContext(ctx, s.db, actorID, projectID)
	if err != nil {
		return nil, err
	}
	if err := policy.Authorize(policy.ViewProject, pc, nil); err != nil {
		return nil, err
	}
	return pc.Project, nil
}

// Update changes the name or description. Only the creator may do so.
func (s *ProjectService) Update(ctx context.Context, actorID, projectID uint, input UpdateProjectInput) (*models.Project, error) {
	ctx = ensureContext(ctx)

	pc, err := loadPolicyContext(ctx, s.db, actorID, projectID)
	if err != nil {
		return nil, err
	}
	if err := policy.Authorize(policy.UpdateProject, pc, nil); err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if name := trimmedPtr(input.Name); name != nil {
		if *name == "" || len(*name) > 255 {
			return nil, apperrors.NewValidation("Project name is required and must be at most 255 characters")
		}
		updates["name"] = *name
	}
	if desc := trimmedPtr(input.Description); desc != nil {
		updates["description"] = *desc
	}
	if len(updates) == 0 {
		return pc.Project, nil
	}

	project := pc.Project
	if err := s.db.WithContext(ctx).Model(project).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("project service: update project: %w", err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		AccountID: accountRef(actorID),
		Action:    AuditProjectUpdate,
		Resource:  projectResource(project.ID),
		Metadata:  updates,
	})
	return project, nil
}

// ListMembers returns the project's memberships with their accounts.
func (s *ProjectService) ListMembers(ctx context.Context, actorID, projectID uint) ([]models.Membership, error) {
	ctx = ensureContext(ctx)

	pc, err := loadPolicyContext(ctx, s.db, actorID, projectID)
	if err != nil {
		return nil, err
	}
	if err := policy.Authorize(policy.ListMembers, pc, nil); err != nil {
		return nil, err
	}

	var members []models.Membership
	if err := s.db.WithContext(ctx).
		Preload("Account").
		Where("project_id = ?", projectID).
		Order("added_at ASC").
		Order("id ASC").
		Find(&members).Error; err != nil {
		return nil, fmt.Errorf("project service: list members: %w", err)
	}
	return members, nil
}

// AddMember grants accountID a membership. Any current member may add others; the
// creator role is never granted this way.
func (s *ProjectService) AddMember(ctx context.Context, actorID, projectID, accountID uint, role models.MembershipRole) (*models.Membership, error) {
	ctx = ensureContext(ctx)

	role, err := grantableRole(role)
	if err != nil {
		return nil, err
	}

	var membership *models.Membership
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pc, err := loadPolicyContext(ctx, tx, actorID, projectID)
		if err != nil {
			return err
		}
		if err := policy.Authorize(policy.AddMember, pc, nil); err != nil {
			return err
		}

		var account models.Account
		if err := tx.Take(&account, accountID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.NewValidation("No user found with this account")
			}
			return fmt.Errorf("project service: load account: %w", err)
		}

		membership, err = addMembership(tx, projectID, &account, role)
		return err
	})
	if err != nil {
		return nil, err
	}

	recordAudit(s.audit, ctx, AuditEntry{
		AccountID: accountRef(actorID),
		Action:    AuditMembershipAdd,
		Resource:  projectResource(projectID),
		Metadata:  map[string]any{"member_account_id": membership.AccountID, "role": string(membership.Role)},
	})
	return membership, nil
}

// AddMemberByEmail resolves email to an account and adds it.
func (s *ProjectService) AddMemberByEmail(ctx context.Context, actorID, projectID uint, email string, role models.MembershipRole) (*models.Membership, error) {
	ctx = ensureContext(ctx)

	email = models.NormalizeEmail(email)
	if err := validator.ValidateVar(email, "required,email"); err != nil {
		return nil, apperrors.NewValidation("A valid email address is required")
	}

	var account models.Account
	if err := s.db.WithContext(ctx).Where(&models.Account{Email: email}).Take(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewValidation("No user found with this email address")
		}
		return nil, fmt.Errorf("project service: find account: %w", err)
	}
	return s.AddMember(ctx, actorID, projectID, account.ID, role)
}

// RemoveMember deletes a membership. Only the creator may remove members and never their
// own membership. The removed account is also unassigned from the project's tasks.
func (s *ProjectService) RemoveMember(ctx context.Context, actorID, projectID, membershipID uint) error {
	ctx = ensureContext(ctx)

	var removed models.Membership
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pc, err := loadPolicyContext(ctx, tx, actorID, projectID)
		if err != nil {
			return err
		}

		if err := tx.Where(&models.Membership{ID: membershipID, ProjectID: projectID}).Take(&removed).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.NewNotFound("Member not found")
			}
			return fmt.Errorf("project service: load membership: %w", err)
		}

		if err := policy.Authorize(policy.RemoveMember, pc, &removed); err != nil {
			return err
		}

		if err := tx.Exec(
			"DELETE FROM task_assignees WHERE account_id = ? AND task_id IN (SELECT id FROM tasks WHERE project_id = ?)",
			removed.AccountID, projectID,
		).Error; err != nil {
			return fmt.Errorf("project service: unassign tasks: %w", err)
		}

		if err := tx.Delete(&removed).Error; err != nil {
			return fmt.Errorf("project service: delete membership: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	recordAudit(s.audit, ctx, AuditEntry{
		AccountID: accountRef(actorID),
		Action:    AuditMembershipRemove,
		Resource:  projectResource(projectID),
		Metadata:  map[string]any{"member_account_id": removed.AccountID},
	})
	return nil
}

// addMembership inserts a membership, reporting Conflict when the pair already exists.
func addMembership(tx *gorm.DB, projectID uint, account *models.Account, role models.MembershipRole) (*models.Membership, error) {
	membership := &models.Membership{
		ProjectID: projectID,
		AccountID: account.ID,
		Role:      role,
	}
	result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(membership)
	if result.Error != nil {
		if isUniqueConstraintError(result.Error) {
			return nil, apperrors.NewConflict("This user is already a member of the project")
		}
		return nil, fmt.Errorf("project service: create membership: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, apperrors.NewConflict("This user is already a member of the project")
	}
	membership.Account = account
	return membership, nil
}

// ensureMembership returns the existing membership for the pair or creates one.
func ensureMembership(tx *gorm.DB, projectID, accountID uint, role models.MembershipRole) (*models.Membership, bool, error) {
	membership := &models.Membership{
		ProjectID: projectID,
		AccountID: accountID,
		Role:      role,
	}
	result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(membership)
	if result.Error != nil {
		return nil, false, fmt.Errorf("create membership: %w", result.Error)
	}
	if result.RowsAffected == 1 {
		return membership, true, nil
	}

	var existing models.Membership
	if err := tx.Where(&models.Membership{ProjectID: projectID, AccountID: accountID}).Take(&existing).Error; err != nil {
		return nil, false, fmt.Errorf("load membership: %w", err)
	}
	return &existing, false, nil
}

func grantableRole(role models.MembershipRole) (models.MembershipRole, error) {
	if role == "" {
		return models.RoleContributor, nil
	}
	if role != models.RoleContributor {
		return "", apperrors.NewValidation("Only the contributor role can be granted")
	}
	return role, nil
}

func projectResource(id uint) string {
	return fmt.Sprintf("project:%d", id)
}
