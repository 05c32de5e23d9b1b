package models

import (
	"strings"
	"time"
)

// Account is a registered user. Accounts start inactive and are activated once the
// emailed one-time code is confirmed.
type Account struct {
	BaseModel

	Email        string `gorm:"uniqueIndex;size:254;not null" json:"email"`
	PasswordHash string `gorm:"not null" json:"-"`
	FirstName    string `gorm:"size:150;not null" json:"first_name"`
	LastName     string `gorm:"size:150;not null" json:"last_name"`

	IsActive bool `gorm:"not null;default:false" json:"is_active"`
	IsAdmin  bool `gorm:"not null;default:false" json:"is_admin"`

	OTP          string     `gorm:"size:6" json:"-"`
	OTPPurpose   string     `gorm:"size:32;not null;default:''" json:"-"`
	OTPCreatedAt *time.Time `json:"-"`

	// ResetGrant is issued by a confirmed password-reset code and consumed by the reset.
	ResetGrant          string     `gorm:"size:64;index" json:"-"`
	ResetGrantExpiresAt *time.Time `json:"-"`

	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

// OTP purposes. Reset codes follow their own expiry rule.
const (
	OTPPurposeVerification = "verification"
	OTPPurposeReset        = "password_reset"
)

// NormalizeEmail returns the canonical form used for storage and comparisons.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// FullName joins first and last names.
func (a *Account) FullName() string {
	return strings.TrimSpace(a.FirstName + " " + a.LastName)
}

// IssueOTP stores a new code together with its purpose and issue time.
func (a *Account) IssueOTP(code, purpose string, now time.Time) {
	issued := now.UTC()
	a.OTP = code
	a.OTPPurpose = purpose
	a.OTPCreatedAt = &issued
}

// ClearOTP drops any outstanding code.
func (a *Account) ClearOTP() {
	a.OTP = ""
	a.OTPPurpose = ""
	a.OTPCreatedAt = nil
}

// IsOTPExpired reports whether the outstanding code is older than ttl. An account
// without OTP state is treated as expired.
func (a *Account) IsOTPExpired(now time.Time, ttl time.Duration) bool {
	if a.OTP == "" || a.OTPCreatedAt == nil {
		return true
	}
	return now.Sub(*a.OTPCreatedAt) > ttl
}
