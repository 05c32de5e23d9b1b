package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/zeh237/taskly/internal/api"
	"github.com/zeh237/taskly/internal/app"
	iauth "github.com/zeh237/taskly/internal/auth"
	dbtestutil "github.com/zeh237/taskly/internal/database/testutil"
	"github.com/zeh237/taskly/internal/models"
	"github.com/zeh237/taskly/internal/notifications"
	"github.com/zeh237/taskly/internal/services"
	"github.com/zeh237/taskly/pkg/crypto"
	"github.com/zeh237/taskly/pkg/response"
)

// DefaultPassword is the password of every account created through the Env helpers.
const DefaultPassword = "correct-horse-battery"

// Clock is a settable time source shared by the services under test.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Env wires a full HTTP stack over an in-memory database.
type Env struct {
	T        *testing.T
	DB       *gorm.DB
	Router   *gin.Engine
	Config   *app.Config
	Clock    *Clock
	Notifier *notifications.Recorder

	JWT         *iauth.JWTService
	Sessions    *iauth.SessionService
	Audit       *services.AuditService
	Accounts    *services.AccountService
	Projects    *services.ProjectService
	Invitations *services.InvitationService
	Tasks       *services.TaskService
}

// EnvOption adjusts the configuration before the router is built.
type EnvOption func(*app.Config)

// WithAuthWindow enables the credential endpoint limiter.
func WithAuthWindow(max int, window time.Duration) EnvOption {
	return func(cfg *app.Config) {
		cfg.Server.RateLimit.AuthRequests = max
		cfg.Server.RateLimit.AuthWindow = window
	}
}

// NewEnv constructs the router and services. Rate limiting is off unless an option enables it.
func NewEnv(t *testing.T, opts ...EnvOption) *Env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := dbtestutil.MustOpenTestDB(t, dbtestutil.WithAutoMigrate())
	clock := &Clock{now: time.Now().UTC().Truncate(time.Second)}
	recorder := &notifications.Recorder{}

	cfg := &app.Config{}
	cfg.Auth.JWT.Secret = "handler-test-secret"
	cfg.Auth.JWT.Issuer = "taskly-test"
	cfg.Auth.JWT.TTL = 15 * time.Minute
	cfg.Invitations.Expiry = 7 * 24 * time.Hour
	cfg.Invitations.AcceptURL = "https://taskly.test/invitations"
	cfg.Identity.OTPTTL = time.Hour
	for _, opt := range opts {
		opt(cfg)
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	require.NoError(t, err)

	sessions, err := iauth.NewSessionService(db, jwtSvc, cfg.Auth.SessionServiceConfig())
	require.NoError(t, err)

	audit, err := services.NewAuditService(db, services.WithAuditClock(clock.Now))
	require.NoError(t, err)

	accountOpts := append(cfg.Identity.AccountOptions(), services.WithAccountClock(clock.Now))
	accounts, err := services.NewAccountService(db, recorder, audit, accountOpts...)
	require.NoError(t, err)

	projects, err := services.NewProjectService(db, audit)
	require.NoError(t, err)

	invitationOpts := append(cfg.Invitations.InvitationOptions(), services.WithInvitationClock(clock.Now))
	invitations, err := services.NewInvitationService(db, recorder, audit, invitationOpts...)
	require.NoError(t, err)

	tasks, err := services.NewTaskService(db, audit)
	require.NoError(t, err)

	router, err := api.NewRouter(cfg, api.Dependencies{
		JWT:         jwtSvc,
		Sessions:    sessions,
		Accounts:    accounts,
		Projects:    projects,
		Invitations: invitations,
		Tasks:       tasks,
		Audit:       audit,
	})
	require.NoError(t, err)

	return &Env{
		T:           t,
		DB:          db,
		Router:      router,
		Config:      cfg,
		Clock:       clock,
		Notifier:    recorder,
		JWT:         jwtSvc,
		Sessions:    sessions,
		Audit:       audit,
		Accounts:    accounts,
		Projects:    projects,
		Invitations: invitations,
		Tasks:       tasks,
	}
}

// CreateAccount inserts an active account that can sign in with DefaultPassword.
func (e *Env) CreateAccount(email string) *models.Account {
	e.T.Helper()
	return e.createAccount(email, false)
}

// CreateAdmin inserts an active administrator.
func (e *Env) CreateAdmin(email string) *models.Account {
	e.T.Helper()
	return e.createAccount(email, true)
}

func (e *Env) createAccount(email string, admin bool) *models.Account {
	hashed, err := crypto.HashPassword(DefaultPassword)
	require.NoError(e.T, err)

	account := &models.Account{
		Email:        models.NormalizeEmail(email),
		PasswordHash: hashed,
		FirstName:    "Test",
		LastName:     "User",
		IsActive:     true,
		IsAdmin:      admin,
	}
	require.NoError(e.T, e.DB.Create(account).Error)
	return account
}

// LoginResult is the data payload of a successful sign-in.
type LoginResult struct {
	Tokens     iauth.TokenPair `json:"tokens"`
	Account    models.Account  `json:"account"`
	Invitation json.RawMessage `json:"invitation"`
}

// Login signs in with DefaultPassword and returns the issued session.
func (e *Env) Login(email string) LoginResult {
	e.T.Helper()

	w := e.Request(http.MethodPost, "/api/auth/login", map[string]string{
		"email":    email,
		"password": DefaultPassword,
	}, "")
	require.Equal(e.T, http.StatusOK, w.Code, w.Body.String())

	var result LoginResult
	DecodeInto(e.T, DecodeResponse(e.T, w).Data, &result)
	require.NotEmpty(e.T, result.Tokens.AccessToken)
	require.NotEmpty(e.T, result.Tokens.RefreshToken)
	return result
}

// Token signs in and returns only the access token.
func (e *Env) Token(email string) string {
	e.T.Helper()
	return e.Login(email).Tokens.AccessToken
}

// LastOTP extracts the six digit code from the most recent notification.
func (e *Env) LastOTP() string {
	e.T.Helper()

	n, ok := e.Notifier.Last()
	require.True(e.T, ok, "no notification recorded")
	for i := 0; i+6 <= len(n.Body); i++ {
		candidate := n.Body[i : i+6]
		digits := true
		for _, r := range candidate {
			if r < '0' || r > '9' {
				digits = false
				break
			}
		}
		if digits {
			return candidate
		}
	}
	e.T.Fatalf("no code in notification body %q", n.Body)
	return ""
}

// InvitationToken loads the secret token of an invitation.
func (e *Env) InvitationToken(id uint) string {
	e.T.Helper()

	var inv models.Invitation
	require.NoError(e.T, e.DB.Take(&inv, id).Error)
	return inv.Token
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
	Meta    *response.Meta      `json:"meta"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// RequireError asserts the status code and error code of a failed response.
func RequireError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) APIResponse {
	t.Helper()
	require.Equal(t, status, w.Code, w.Body.String())
	resp := DecodeResponse(t, w)
	require.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	require.Equal(t, code, resp.Error.Code, w.Body.String())
	return resp
}

// Request executes an HTTP request against the test router, applying JSON encoding and auth headers automatically.
func (e *Env) Request(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.T.Helper()

	buf := bytes.NewBuffer(nil)
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf = bytes.NewBuffer(data)
	}

	req, err := http.NewRequest(method, path, buf)
	require.NoError(e.T, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.RemoteAddr = "192.0.2.10:4000"

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}
