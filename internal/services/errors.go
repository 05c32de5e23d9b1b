package services

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	apperrors "github.com/zeh237/taskly/pkg/errors"
)

// Domain failures that do not map onto a generic sentinel.
var (
	ErrAccountInactive      = apperrors.New("ACCOUNT_INACTIVE", "Account has not been verified", http.StatusForbidden)
	ErrAccountAlreadyActive = apperrors.New("ACCOUNT_ALREADY_ACTIVE", "Account is already verified", http.StatusConflict)
	ErrOTPMismatch          = apperrors.New("OTP_MISMATCH", "The code you entered is incorrect", http.StatusBadRequest)
	ErrOTPExpired           = apperrors.ErrExpired.WithMessage("The code has expired, request a new one")

	ErrAuthenticationRequired = apperrors.New("AUTHENTICATION_REQUIRED", "Sign in to accept this invitation", http.StatusUnauthorized)
	ErrInvitationWrongAccount = apperrors.New("INVITATION_WRONG_ACCOUNT", "This invitation was sent to a different account", http.StatusForbidden)
	ErrInvitationExpired      = apperrors.ErrExpired.WithMessage("This invitation has expired")
	ErrInvitationNotFound     = apperrors.NewNotFound("Invitation not found or no longer pending")
)

// isUniqueConstraintError detects database uniqueness constraint violations across vendors.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr != nil && pgErr.Code == "23505" {
		return true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr != nil && myErr.Number == 1062 {
		return true
	}

	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "unique constraint") ||
		strings.Contains(lower, "duplicate")
}
