package models

import "time"

// MembershipRole enumerates the roles a member can hold within a project.
type MembershipRole string

const (
	RoleCreator     MembershipRole = "creator"
	RoleContributor MembershipRole = "contributor"
)

// Valid reports whether the role is one of the known roles.
func (r MembershipRole) Valid() bool {
	switch r {
	case RoleCreator, RoleContributor:
		return true
	default:
		return false
	}
}

// Membership grants an account access to a project. At most one row exists per
// (project, account) pair.
type Membership struct {
	ID        uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	ProjectID uint           `gorm:"not null;uniqueIndex:uk_membership_project_account" json:"project_id"`
	AccountID uint           `gorm:"not null;uniqueIndex:uk_membership_project_account;index" json:"account_id"`
	Role      MembershipRole `gorm:"size:20;not null;default:contributor" json:"role"`
	AddedAt   time.Time      `gorm:"autoCreateTime" json:"added_at"`

	Project *Project `gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE" json:"-"`
	Account *Account `gorm:"foreignKey:AccountID;constraint:OnDelete:CASCADE" json:"account,omitempty"`
}
