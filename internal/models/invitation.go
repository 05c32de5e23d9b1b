package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// InvitationStatus describes where an invitation sits in its lifecycle.
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationRejected InvitationStatus = "rejected"
	InvitationExpired  InvitationStatus = "expired"
)

// DefaultInvitationExpiry is how long a pending invitation may be accepted.
const DefaultInvitationExpiry = 7 * 24 * time.Hour

// Terminal reports whether no further transitions are possible.
func (s InvitationStatus) Terminal() bool {
	return s == InvitationAccepted || s == InvitationRejected || s == InvitationExpired
}

// Valid reports whether s is a known status.
func (s InvitationStatus) Valid() bool {
	return s == InvitationPending || s.Terminal()
}

// TargetKind names which identity an invitation is addressed to.
type TargetKind string

const (
	TargetKindAccount TargetKind = "account"
	TargetKindEmail   TargetKind = "email"
)

// ErrInvalidInvitationTarget is returned when an invitation does not name exactly one of
// an account or an email address.
var ErrInvalidInvitationTarget = errors.New("invitation target must be exactly one of account or email")

// InvitationTarget is either a registered account or a bare email address. The zero value
// is invalid; build one with TargetAccount or TargetEmail.
type InvitationTarget struct {
	kind      TargetKind
	accountID uint
	email     string
}

// TargetAccount addresses an invitation to an existing account.
func TargetAccount(id uint) InvitationTarget {
	return InvitationTarget{kind: TargetKindAccount, accountID: id}
}

// TargetEmail addresses an invitation to an email address with no account yet.
func TargetEmail(email string) InvitationTarget {
	return InvitationTarget{kind: TargetKindEmail, email: NormalizeEmail(email)}
}

func (t InvitationTarget) Kind() TargetKind { return t.kind }

// AccountID returns the account reference when the target is an account.
func (t InvitationTarget) AccountID() (uint, bool) {
	return t.accountID, t.kind == TargetKindAccount
}

// Email returns the address when the target is a bare email.
func (t InvitationTarget) Email() (string, bool) {
	return t.email, t.kind == TargetKindEmail
}

// Validate checks that the target carries a usable identity.
func (t InvitationTarget) Validate() error {
	switch t.kind {
	case TargetKindAccount:
		if t.accountID == 0 {
			return ErrInvalidInvitationTarget
		}
	case TargetKindEmail:
		if t.email == "" || !strings.Contains(t.email, "@") {
			return ErrInvalidInvitationTarget
		}
	default:
		return ErrInvalidInvitationTarget
	}
	return nil
}

func (t InvitationTarget) String() string {
	switch t.kind {
	case TargetKindAccount:
		return fmt.Sprintf("account:%d", t.accountID)
	case TargetKindEmail:
		return "email:" + t.email
	default:
		return "invalid"
	}
}

// Invitation is a pending grant of membership consumed through its token. The AccountID
// and Email columns are the storage form of InvitationTarget; exactly one is set.
type Invitation struct {
	BaseModel

	ProjectID uint             `gorm:"not null;index;uniqueIndex:uk_invitation_project_account_status,priority:1;uniqueIndex:uk_invitation_project_email_status,priority:1" json:"project_id"`
	AccountID *uint            `gorm:"uniqueIndex:uk_invitation_project_account_status,priority:2;check:chk_invitation_target,(account_id IS NOT NULL AND email IS NULL) OR (account_id IS NULL AND email IS NOT NULL)" json:"account_id,omitempty"`
	Email     *string          `gorm:"size:254;uniqueIndex:uk_invitation_project_email_status,priority:2" json:"email,omitempty"`
	Status    InvitationStatus `gorm:"size:20;not null;default:pending;index;uniqueIndex:uk_invitation_project_account_status,priority:3;uniqueIndex:uk_invitation_project_email_status,priority:3" json:"status"`

	Token      string         `gorm:"size:36;not null;uniqueIndex" json:"-"`
	Role       MembershipRole `gorm:"size:20;not null;default:contributor" json:"role"`
	SentAt     time.Time      `gorm:"not null;index" json:"sent_at"`
	AcceptedAt *time.Time     `json:"accepted_at,omitempty"`

	InvitedByID *uint `gorm:"index" json:"invited_by_id,omitempty"`

	Project   *Project `gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE" json:"project,omitempty"`
	Account   *Account `gorm:"foreignKey:AccountID;constraint:OnDelete:CASCADE" json:"account,omitempty"`
	InvitedBy *Account `gorm:"foreignKey:InvitedByID;constraint:OnDelete:SET NULL" json:"invited_by,omitempty"`
}

// NewInvitation builds a pending invitation with a fresh token.
func NewInvitation(projectID uint, target InvitationTarget, invitedBy *uint, role MembershipRole, now time.Time) (*Invitation, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	if role == "" {
		role = RoleContributor
	}

	inv := &Invitation{
		ProjectID:   projectID,
		Status:      InvitationPending,
		Token:       uuid.NewString(),
		Role:        role,
		SentAt:      now.UTC(),
		InvitedByID: invitedBy,
	}
	inv.SetTarget(target)
	return inv, nil
}

// Target decodes the stored identity columns.
func (i *Invitation) Target() (InvitationTarget, error) {
	switch {
	case i.AccountID != nil && i.Email == nil:
		t := TargetAccount(*i.AccountID)
		return t, t.Validate()
	case i.AccountID == nil && i.Email != nil:
		t := TargetEmail(*i.Email)
		return t, t.Validate()
	default:
		return InvitationTarget{}, ErrInvalidInvitationTarget
	}
}

// SetTarget writes target into the storage columns, clearing the other one.
func (i *Invitation) SetTarget(target InvitationTarget) {
	i.AccountID = nil
	i.Email = nil
	if id, ok := target.AccountID(); ok {
		i.AccountID = &id
	}
	if email, ok := target.Email(); ok {
		i.Email = &email
	}
}

// ExpiresAt is the instant after which a pending invitation can no longer be accepted.
func (i *Invitation) ExpiresAt(window time.Duration) time.Time {
	return i.SentAt.Add(window)
}

// IsExpired reports whether a pending invitation has outlived window at now.
func (i *Invitation) IsExpired(now time.Time, window time.Duration) bool {
	return PendingInvitationLapsed(i.Status, i.SentAt, now, window)
}

// PendingInvitationLapsed is the lazy expiry rule: only pending invitations expire, and only
// once more than window has elapsed since they were sent.
func PendingInvitationLapsed(status InvitationStatus, sentAt, now time.Time, window time.Duration) bool {
	if status != InvitationPending {
		return false
	}
	return now.Sub(sentAt) > window
}

// BeforeSave rejects rows that would violate the account-xor-email rule.
func (i *Invitation) BeforeSave(tx *gorm.DB) error {
	if i.Email != nil {
		normalized := NormalizeEmail(*i.Email)
		i.Email = &normalized
	}
	if _, err := i.Target(); err != nil {
		return err
	}
	if i.Status != "" && !i.Status.Valid() {
		return fmt.Errorf("invitation status %q is not valid", i.Status)
	}
	return nil
}
