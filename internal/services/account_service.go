package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/zeh237/taskly/internal/models"
	"github.com/zeh237/taskly/internal/notifications"
	"github.com/zeh237/taskly/pkg/crypto"
	apperrors "github.com/zeh237/taskly/pkg/errors"
	"github.com/zeh237/taskly/pkg/metrics"
	"github.com/zeh237/taskly/pkg/validator"
)

const (
	// DefaultOTPTTL is how long a verification code stays valid.
	DefaultOTPTTL = time.Hour
	// DefaultResetGrantTTL bounds the window between confirming a reset code and choosing
	// the new password.
	DefaultResetGrantTTL = 15 * time.Minute
)

// RegisterInput carries the fields required to create an account.
type RegisterInput struct {
	Email     string `validate:"required,email,max=254"`
	Password  string `validate:"required,password"`
	FirstName string `validate:"required,max=150"`
	LastName  string `validate:"required,max=150"`
}

// ResetPasswordInput resets a password with either the emailed code or the grant issued by
// VerifyResetOTP.
type ResetPasswordInput struct {
	Email       string
	OTP         string
	Grant       string
	NewPassword string
}

// AdminInput describes an administrator created from the command line.
type AdminInput struct {
	Email     string `validate:"required,email,max=254"`
	Password  string `validate:"required,password"`
	FirstName string `validate:"required,max=150"`
	LastName  string `validate:"required,max=150"`
}

// AccountOption customises AccountService behaviour.
type AccountOption func(*AccountService)

// WithAccountClock injects a custom time source.
func WithAccountClock(clock func() time.Time) AccountOption {
	return func(s *AccountService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithOTPTTL overrides how long verification codes stay valid.
func WithOTPTTL(ttl time.Duration) AccountOption {
	return func(s *AccountService) {
		if ttl > 0 {
			s.otpTTL = ttl
		}
	}
}

// WithResetOTPExpiry makes the password reset path apply the same expiry window as
// verification codes.
func WithResetOTPExpiry(enforce bool) AccountOption {
	return func(s *AccountService) {
		s.enforceResetExpiry = enforce
	}
}

// WithResetGrantTTL overrides the reset grant lifetime.
func WithResetGrantTTL(ttl time.Duration) AccountOption {
	return func(s *AccountService) {
		if ttl > 0 {
			s.grantTTL = ttl
		}
	}
}

// WithAccountLogger sets the logger used for non-fatal failures.
func WithAccountLogger(log *zap.Logger) AccountOption {
	return func(s *AccountService) {
		if log != nil {
			s.log = log
		}
	}
}

// AccountService owns account registration, verification and credentials.
type AccountService struct {
	db                 *gorm.DB
	notifier           notifications.Notifier
	audit              *AuditService
	now                func() time.Time
	otpTTL             time.Duration
	grantTTL           time.Duration
	enforceResetExpiry bool
	log                *zap.Logger
}

// NewAccountService constructs an AccountService.
func NewAccountService(db *gorm.DB, notifier notifications.Notifier, audit *AuditService, opts ...AccountOption) (*AccountService, error) {
	if db == nil {
		return nil, errors.New("account service: db is required")
	}
	if notifier == nil {
		return nil, errors.New("account service: notifier is required")
	}

	svc := &AccountService{
		db:       db,
		notifier: notifier,
		audit:    audit,
		now:      time.Now,
		otpTTL:   DefaultOTPTTL,
		grantTTL: DefaultResetGrantTTL,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// OTPTTL reports the verification code lifetime.
func (s *AccountService) OTPTTL() time.Duration {
	return s.otpTTL
}

// Register creates an inactive account and emails its verification code. The account is
// only committed once the notification has been handed off.
func (s *AccountService) Register(ctx context.Context, input RegisterInput) (*models.Account, error) {
	ctx = ensureContext(ctx)

	input.Email = models.NormalizeEmail(input.Email)
	input.FirstName = strings.TrimSpace(input.FirstName)
	input.LastName = strings.TrimSpace(input.LastName)

	if err := validator.ValidateStruct(input); err != nil {
		return nil, apperrors.NewValidation(err.Error())
	}

	hashed, err := crypto.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("account service: hash password: %w", err)
	}

	code, err := crypto.GenerateNumericCode(validator.OTPLength)
	if err != nil {
		return nil, fmt.Errorf("account service: generate otp: %w", err)
	}

	account := &models.Account{
		Email:        input.Email,
		PasswordHash: hashed,
		FirstName:    input.FirstName,
		LastName:     input.LastName,
		IsActive:     false,
	}
	account.IssueOTP(code, models.OTPPurposeVerification, s.now())

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(account).Error; err != nil {
			if isUniqueConstraintError(err) {
				return apperrors.NewValidation("An account with this email already exists")
			}
			return fmt.Errorf("account service: create account: %w", err)
		}

		msg := notifications.VerificationMessage(account.Email, account.FirstName, code, s.otpTTL)
		if err := s.notifier.Send(ctx, msg); err != nil {
			return apperrors.NewExternal("Could not send the verification email", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	recordAudit(s.audit, ctx, AuditEntry{
		AccountID: accountRef(account.ID),
		Actor:     account.Email,
		Action:    AuditAccountRegister,
		Resource:  accountResource(account.ID),
	})
	return account, nil
}

// Verify activates an account when code matches its outstanding OTP.
func (s *AccountService) Verify(ctx context.Context, email, code string) (*models.Account, error) {
	ctx = ensureContext(ctx)

	account, err := s.findByEmail(ctx, s.db, email)
	if err != nil {
		return nil, err
	}
	if account.IsActive {
		return nil, ErrAccountAlreadyActive
	}

	if account.IsOTPExpired(s.now(), s.otpTTL) {
		if err := s.clearOTP(ctx, s.db, account); err != nil {
			return nil, err
		}
		metrics.OTPVerifications.WithLabelValues(models.OTPPurposeVerification, "expired").Inc()
		return nil, ErrOTPExpired
	}
	if !crypto.EqualCodes(account.OTP, strings.TrimSpace(code)) {
		metrics.OTPVerifications.WithLabelValues(models.OTPPurposeVerification, "mismatch").Inc()
		return nil, ErrOTPMismatch
	}

	if err := s.db.WithContext(ctx).Model(account).Updates(map[string]any{
		"is_active":      true,
		"otp":            "",
		"otp_purpose":    "",
		"otp_created_at": nil,
	}).Error; err != nil {
		return nil, fmt.Errorf("account service: activate account: %w", err)
	}
	account.IsActive = true
	account.ClearOTP()

	metrics.OTPVerifications.WithLabelValues(models.OTPPurposeVerification, "success").Inc()
	recordAudit(s.audit, ctx, AuditEntry{
		AccountID: accountRef(account.ID),
		Actor:     account.Email,
		Action:    AuditAccountVerify,
		Resource:  accountResource(account.ID),
	})
	return account, nil
}

// ResendOTP issues a fresh verification code to an inactive account. The previous code
// stays in place when the notification cannot be sent.
func (s *AccountService) ResendOTP(ctx context.Context, email string) error {
	ctx = ensureContext(ctx)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.findByEmail(ctx, tx, email)
		if err != nil {
			return err
		}
		if account.IsActive {
			return ErrAccountAlreadyActive
		}

		code, err := s.issueOTP(ctx, tx, account, models.OTPPurposeVerification)
		if err != nil {
			return err
		}

		msg := notifications.VerificationMessage(account.Email, account.FirstName, code, s.otpTTL)
		if err := s.notifier.Send(ctx, msg); err != nil {
			return apperrors.NewExternal("Could not send the verification email", err)
		}
		return nil
	})
}

// Authenticate checks credentials and rejects accounts that have not been verified.
func (s *AccountService) Authenticate(ctx context.Context, email, password string) (*models.Account, error) {
	ctx = ensureContext(ctx)

	account, err := s.findByEmail(ctx, s.db, email)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			metrics.AuthAttempts.WithLabelValues("invalid_credentials").Inc()
			return nil, apperrors.ErrInvalidCredentials
		}
		return nil, err
	}

	if !crypto.VerifyPassword(account.PasswordHash, password) {
		metrics.AuthAttempts.WithLabelValues("invalid_credentials").Inc()
		recordAudit(s.audit, ctx, AuditEntry{
			AccountID: accountRef(account.ID),
			Actor:     account.Email,
			Action:    AuditAccountLogin,
			Resource:  accountResource(account.ID),
			Result:    auditFailure,
		})
		return nil, apperrors.ErrInvalidCredentials
	}
	if !account.IsActive {
		metrics.AuthAttempts.WithLabelValues("inactive").Inc()
		return nil, ErrAccountInactive
	}

	now := s.now().UTC()
	if err := s.db.WithContext(ctx).Model(account).Update("last_login_at", now).Error; err != nil {
		return nil, fmt.Errorf("account service: record login: %w", err)
	}
	account.LastLoginAt = &now

	metrics.AuthAttempts.WithLabelValues("success").Inc()
	recordAudit(s.audit, ctx, AuditEntry{
		AccountID: accountRef(account.ID),
		Actor:     account.Email,
		Action:    AuditAccountLogin,
		Resource:  accountResource(account.ID),
	})
	return account, nil
}

// RequestPasswordReset emails a reset code when the address belongs to an account. The
// result is the same whether or not it does, so callers cannot probe for accounts.
func (s *AccountService) RequestPasswordReset(ctx context.Context, email string) error {
	ctx = ensureContext(ctx)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.findByEmail(ctx, tx, email)
		if err != nil {
			return err
		}

		code, err := s.issueOTP(ctx, tx, account, models.OTPPurposeReset)
		if err != nil {
			return err
		}

		var ttl time.Duration
		if s.enforceResetExpiry {
			ttl = s.otpTTL
		}
		msg := notifications.PasswordResetMessage(account.Email, account.FirstName, code, ttl)
		return s.notifier.Send(ctx, msg)
	})

	switch {
	case err == nil, errors.Is(err, apperrors.ErrNotFound):
		return nil
	default:
		s.log.Warn("password reset request not delivered", zap.Error(err))
		return nil
	}
}

// VerifyResetOTP confirms a reset code and exchanges it for a short-lived grant that
// ResetPassword accepts in its place.
func (s *AccountService) VerifyResetOTP(ctx context.Context, email, code string) (string, error) {
	ctx = ensureContext(ctx)

	var (
		grant   string
		expired *models.Account
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.findByEmail(ctx, tx, email)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				return ErrOTPMismatch
			}
			return err
		}
		if err := s.checkResetOTP(account, code); err != nil {
			if errors.Is(err, ErrOTPExpired) {
				expired = account
			}
			return err
		}

		grant, err = crypto.GenerateToken(32)
		if err != nil {
			return fmt.Errorf("account service: generate reset grant: %w", err)
		}
		expires := s.now().UTC().Add(s.grantTTL)
		return tx.Model(account).Updates(map[string]any{
			"otp":                    "",
			"otp_purpose":            "",
			"otp_created_at":         nil,
			"reset_grant":            grant,
			"reset_grant_expires_at": expires,
		}).Error
	})
	if expired != nil {
		return "", s.discardExpiredOTP(ctx, expired, err)
	}
	if err != nil {
		return "", err
	}

	metrics.OTPVerifications.WithLabelValues(models.OTPPurposeReset, "success").Inc()
	return grant, nil
}

// ResetPassword sets a new password once the caller proves control of the mailbox with
// the reset code or a grant. Confirming the mailbox also activates the account.
func (s *AccountService) ResetPassword(ctx context.Context, input ResetPasswordInput) (*models.Account, error) {
	ctx = ensureContext(ctx)

	if err := validator.ValidateVar(input.NewPassword, "required,password"); err != nil {
		return nil, apperrors.NewValidation(fmt.Sprintf("password must be at least %d characters", validator.MinPasswordLength))
	}

	hashed, err := crypto.HashPassword(input.NewPassword)
	if err != nil {
		return nil, fmt.Errorf("account service: hash password: %w", err)
	}

	var account, expired *models.Account
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		acct, err := s.findByEmail(ctx, tx, input.Email)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				return ErrOTPMismatch
			}
			return err
		}

		grant := strings.TrimSpace(input.Grant)
		if grant != "" {
			if !s.grantValid(acct, grant) {
				return apperrors.ErrExpired.WithMessage("The reset session has expired, request a new code")
			}
		} else if err := s.checkResetOTP(acct, input.OTP); err != nil {
			if errors.Is(err, ErrOTPExpired) {
				expired = acct
			}
			return err
		}

		if err := tx.Model(acct).Updates(map[string]any{
			"password_hash":          hashed,
			"is_active":              true,
			"otp":                    "",
			"otp_purpose":            "",
			"otp_created_at":         nil,
			"reset_grant":            "",
			"reset_grant_expires_at": nil,
		}).Error; err != nil {
			return fmt.Errorf("account service: update password: %w", err)
		}

		acct.PasswordHash = hashed
		acct.IsActive = true
		acct.ClearOTP()
		acct.ResetGrant = ""
		acct.ResetGrantExpiresAt = nil
		account = acct
		return nil
	})
	if expired != nil {
		return nil, s.discardExpiredOTP(ctx, expired, err)
	}
	if err != nil {
		return nil, err
	}

	metrics.OTPVerifications.WithLabelValues(models.OTPPurposeReset, "success").Inc()
	recordAudit(s.audit, ctx, AuditEntry{
		AccountID: accountRef(account.ID),
		Actor:     account.Email,
		Action:    AuditPasswordReset,
		Resource:  accountResource(account.ID),
	})
	return account, nil
}

// GetByID loads an account.
func (s *AccountService) GetByID(ctx context.Context, id uint) (*models.Account, error) {
	ctx = ensureContext(ctx)

	var account models.Account
	if err := s.db.WithContext(ctx).Take(&account, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewNotFound("Account not found")
		}
		return nil, fmt.Errorf("account service: get account: %w", err)
	}
	return &account, nil
}

// GetByEmail loads an account by its normalised email.
func (s *AccountService) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	return s.findByEmail(ensureContext(ctx), s.db, email)
}

// EnsureAdmin creates an active administrator, or promotes and re-keys an existing
// account with the same email.
func (s *AccountService) EnsureAdmin(ctx context.Context, input AdminInput) (*models.Account, error) {
	ctx = ensureContext(ctx)

	input.Email = models.NormalizeEmail(input.Email)
	input.FirstName = strings.TrimSpace(input.FirstName)
	input.LastName = strings.TrimSpace(input.LastName)
	if err := validator.ValidateStruct(input); err != nil {
		return nil, apperrors.NewValidation(err.Error())
	}

	hashed, err := crypto.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("account service: hash password: %w", err)
	}

	var account models.Account
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where(&models.Account{Email: input.Email}).Take(&account).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			account = models.Account{
				Email:        input.Email,
				PasswordHash: hashed,
				FirstName:    input.FirstName,
				LastName:     input.LastName,
				IsActive:     true,
				IsAdmin:      true,
			}
			return tx.Create(&account).Error
		}
		if err != nil {
			return err
		}

		account.PasswordHash = hashed
		account.IsActive = true
		account.IsAdmin = true
		account.ClearOTP()
		return tx.Model(&account).Updates(map[string]any{
			"password_hash":  hashed,
			"is_active":      true,
			"is_admin":       true,
			"otp":            "",
			"otp_purpose":    "",
			"otp_created_at": nil,
		}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("account service: ensure admin: %w", err)
	}
	return &account, nil
}

// SweepStaleOTPs clears codes issued longer ago than the OTP lifetime. An absent code is
// already treated as expired, so this only tidies the table. Reset codes are left alone
// unless the reset path enforces the same expiry.
func (s *AccountService) SweepStaleOTPs(ctx context.Context) (int64, error) {
	ctx = ensureContext(ctx)

	cutoff := s.now().UTC().Add(-s.otpTTL)
	query := s.db.WithContext(ctx).Model(&models.Account{}).
		Where("otp_created_at IS NOT NULL AND otp_created_at < ?", cutoff)
	if !s.enforceResetExpiry {
		query = query.Where("otp_purpose <> ?", models.OTPPurposeReset)
	}
	result := query.Updates(map[string]any{"otp": "", "otp_created_at": nil})
	if result.Error != nil {
		return 0, fmt.Errorf("account service: sweep otps: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *AccountService) findByEmail(ctx context.Context, db *gorm.DB, email string) (*models.Account, error) {
	email = models.NormalizeEmail(email)
	if email == "" {
		return nil, apperrors.NewNotFound("Account not found")
	}

	var account models.Account
	if err := db.WithContext(ctx).Where(&models.Account{Email: email}).Take(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewNotFound("Account not found")
		}
		return nil, fmt.Errorf("account service: find account: %w", err)
	}
	return &account, nil
}

func (s *AccountService) issueOTP(ctx context.Context, db *gorm.DB, account *models.Account, purpose string) (string, error) {
	code, err := crypto.GenerateNumericCode(validator.OTPLength)
	if err != nil {
		return "", fmt.Errorf("account service: generate otp: %w", err)
	}
	account.IssueOTP(code, purpose, s.now())

	if err := db.WithContext(ctx).Model(account).Updates(map[string]any{
		"otp":            account.OTP,
		"otp_purpose":    account.OTPPurpose,
		"otp_created_at": account.OTPCreatedAt,
	}).Error; err != nil {
		return "", fmt.Errorf("account service: store otp: %w", err)
	}
	return code, nil
}

func (s *AccountService) clearOTP(ctx context.Context, db *gorm.DB, account *models.Account) error {
	if err := db.WithContext(ctx).Model(account).Updates(map[string]any{
		"otp":            "",
		"otp_purpose":    "",
		"otp_created_at": nil,
	}).Error; err != nil {
		return fmt.Errorf("account service: clear otp: %w", err)
	}
	account.ClearOTP()
	return nil
}

// checkResetOTP validates a reset code. Expiry applies only when enforceResetExpiry is
// set; the caller clears an expired code once its transaction has rolled back.
func (s *AccountService) checkResetOTP(account *models.Account, code string) error {
	if account.OTP == "" {
		metrics.OTPVerifications.WithLabelValues(models.OTPPurposeReset, "mismatch").Inc()
		return ErrOTPMismatch
	}
	if s.enforceResetExpiry && account.IsOTPExpired(s.now(), s.otpTTL) {
		metrics.OTPVerifications.WithLabelValues(models.OTPPurposeReset, "expired").Inc()
		return ErrOTPExpired
	}
	if !crypto.EqualCodes(account.OTP, strings.TrimSpace(code)) {
		metrics.OTPVerifications.WithLabelValues(models.OTPPurposeReset, "mismatch").Inc()
		return ErrOTPMismatch
	}
	return nil
}

// discardExpiredOTP clears an expired reset code outside the failed transaction and
// returns cause unless the clear itself fails.
func (s *AccountService) discardExpiredOTP(ctx context.Context, account *models.Account, cause error) error {
	if err := s.clearOTP(ctx, s.db, account); err != nil {
		return err
	}
	return cause
}

func (s *AccountService) grantValid(account *models.Account, grant string) bool {
	if account.ResetGrant == "" || account.ResetGrantExpiresAt == nil {
		return false
	}
	if !s.now().Before(*account.ResetGrantExpiresAt) {
		return false
	}
	return crypto.EqualCodes(account.ResetGrant, grant)
}

func accountResource(id uint) string {
	return fmt.Sprintf("account:%d", id)
}
