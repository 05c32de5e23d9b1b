package services

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/zeh237/taskly/internal/models"
	"github.com/zeh237/taskly/internal/policy"
	apperrors "github.com/zeh237/taskly/pkg/errors"
)

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func normaliseIDs(values []uint) []uint {
	if len(values) == 0 {
		return nil
	}

	seen := make(map[uint]struct{}, len(values))
	out := make([]uint, 0, len(values))
	for _, value := range values {
		if value == 0 {
			continue
		}
		if _, exists := seen[value]; exists {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}

func trimmedPtr(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	return &trimmed
}

// loadPolicyContext fetches the project and the actor's membership in one place so every
// service evaluates policy against the same view of the data.
func loadPolicyContext(ctx context.Context, db *gorm.DB, actorID, projectID uint) (policy.Context, error) {
	var project models.Project
	if err := db.WithContext(ctx).Take(&project, projectID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return policy.Context{}, apperrors.NewNotFound("Project not found")
		}
		return policy.Context{}, err
	}

	pc := policy.Context{ActorID: actorID, Project: &project}
	if actorID == 0 {
		return pc, nil
	}

	var membership models.Membership
	err := db.WithContext(ctx).
		Where(&models.Membership{ProjectID: projectID, AccountID: actorID}).
		Take(&membership).Error
	switch {
	case err == nil:
		pc.Membership = &membership
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		return policy.Context{}, err
	}
	return pc, nil
}

// memberIDSet returns the account ids holding a membership on projectID.
func memberIDSet(ctx context.Context, db *gorm.DB, projectID uint) (map[uint]struct{}, error) {
	var ids []uint
	if err := db.WithContext(ctx).
		Model(&models.Membership{}).
		Where("project_id = ?", projectID).
		Pluck("account_id", &ids).Error; err != nil {
		return nil, err
	}
	set := make(map[uint]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}
