package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/zeh237/taskly/internal/cache"
	"github.com/zeh237/taskly/internal/database/testutil"
	"github.com/zeh237/taskly/internal/models"
	"github.com/zeh237/taskly/pkg/crypto"
)

func TestCreateSessionGeneratesTokens(t *testing.T) {
	db, svc, clock := setupSessionService(t, false)
	account := createTestAccount(t, db, "create")

	tokens, session, err := svc.CreateSession(context.Background(), SubjectFor(account), SessionMetadata{
		IPAddress: "10.0.0.1 ",
		UserAgent: "unit-test",
	})
	require.NoError(t, err)

	require.NotEmpty(t, tokens.AccessToken)
	require.NotEmpty(t, tokens.RefreshToken)
	require.NotNil(t, session)
	require.Equal(t, account.ID, session.AccountID)
	require.Equal(t, "10.0.0.1", session.IPAddress)
	require.Equal(t, "unit-test", session.UserAgent)

	var reloaded models.Session
	require.NoError(t, db.Take(&reloaded, "id = ?", session.ID).Error)
	require.Equal(t, tokens.RefreshToken, reloaded.RefreshToken)
	require.True(t, reloaded.ExpiresAt.After(clock.Now()))

	claims, err := svc.jwt.ValidateAccessToken(tokens.AccessToken)
	require.NoError(t, err)
	require.Equal(t, account.ID, claims.AccountID)
	require.Equal(t, session.ID, claims.SessionID)
	require.Equal(t, account.Email, claims.Email)
}

func TestCreateSessionRequiresAccount(t *testing.T) {
	_, svc, _ := setupSessionService(t, false)
	_, _, err := svc.CreateSession(context.Background(), Subject{}, SessionMetadata{})
	require.Error(t, err)
}

func TestRefreshSessionRotatesToken(t *testing.T) {
	for _, cached := range []bool{false, true} {
		db, svc, clock := setupSessionService(t, cached)
		account := createTestAccount(t, db, "refresh")

		tokens, session, err := svc.CreateSession(context.Background(), SubjectFor(account), SessionMetadata{})
		require.NoError(t, err)

		clock.Advance(5 * time.Minute)

		newTokens, updated, err := svc.RefreshSession(context.Background(), tokens.RefreshToken)
		require.NoError(t, err)
		require.NotEqual(t, tokens.RefreshToken, newTokens.RefreshToken)
		require.NotEqual(t, tokens.AccessToken, newTokens.AccessToken)

		require.Equal(t, session.ID, updated.ID)
		require.Equal(t, newTokens.RefreshToken, updated.RefreshToken)
		require.True(t, updated.LastUsedAt.Equal(clock.Now()))

		_, _, err = svc.RefreshSession(context.Background(), tokens.RefreshToken)
		require.ErrorIs(t, err, ErrSessionNotFound, "cached=%v", cached)
	}
}

func TestRefreshSessionExpired(t *testing.T) {
	db, svc, clock := setupSessionService(t, false)
	account := createTestAccount(t, db, "expired")

	tokens, session, err := svc.CreateSession(context.Background(), SubjectFor(account), SessionMetadata{})
	require.NoError(t, err)

	require.NoError(t, db.Model(&models.Session{}).
		Where("id = ?", session.ID).
		Update("expires_at", clock.Now().Add(-time.Minute)).Error)

	_, _, err = svc.RefreshSession(context.Background(), tokens.RefreshToken)
	require.ErrorIs(t, err, ErrSessionExpired)

	_, _, err = svc.RefreshSession(context.Background(), "  ")
	require.ErrorIs(t, err, ErrSessionInvalidToken)
}

func TestRevokeSessionPreventsRefresh(t *testing.T) {
	db, svc, clock := setupSessionService(t, true)
	account := createTestAccount(t, db, "revoke")

	tokens, session, err := svc.CreateSession(context.Background(), SubjectFor(account), SessionMetadata{})
	require.NoError(t, err)

	require.NoError(t, svc.RevokeSession(context.Background(), session.ID))
	require.ErrorIs(t, svc.RevokeSession(context.Background(), "non-existent"), ErrSessionNotFound)

	_, _, err = svc.RefreshSession(context.Background(), tokens.RefreshToken)
	require.ErrorIs(t, err, ErrSessionRevoked)

	var stored models.Session
	require.NoError(t, db.Take(&stored, "id = ?", session.ID).Error)
	require.NotNil(t, stored.RevokedAt)
	require.True(t, stored.RevokedAt.After(clock.Now().Add(-time.Nanosecond)))
}

func TestRevokeAccountSessions(t *testing.T) {
	db, svc, _ := setupSessionService(t, false)
	account := createTestAccount(t, db, "all")

	first, _, err := svc.CreateSession(context.Background(), SubjectFor(account), SessionMetadata{})
	require.NoError(t, err)
	second, _, err := svc.CreateSession(context.Background(), SubjectFor(account), SessionMetadata{})
	require.NoError(t, err)

	require.NoError(t, svc.RevokeAccountSessions(context.Background(), account.ID))

	for _, token := range []string{first.RefreshToken, second.RefreshToken} {
		_, _, err := svc.RefreshSession(context.Background(), token)
		require.ErrorIs(t, err, ErrSessionRevoked)
	}
}

func TestCleanupExpiredRemovesStaleSessions(t *testing.T) {
	db, svc, clock := setupSessionService(t, true)
	account := createTestAccount(t, db, "cleanup")

	_, live, err := svc.CreateSession(context.Background(), SubjectFor(account), SessionMetadata{})
	require.NoError(t, err)
	_, revoked, err := svc.CreateSession(context.Background(), SubjectFor(account), SessionMetadata{})
	require.NoError(t, err)
	require.NoError(t, svc.RevokeSession(context.Background(), revoked.ID))

	clock.Advance(time.Hour)
	_, fresh, err := svc.CreateSession(context.Background(), SubjectFor(account), SessionMetadata{})
	require.NoError(t, err)

	// The first session's refresh window (2h) has passed; the third is still valid.
	clock.Advance(90 * time.Minute)

	removed, err := svc.CleanupExpired(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 2, removed)

	var remaining []models.Session
	require.NoError(t, db.Find(&remaining).Error)
	require.Len(t, remaining, 1)
	require.Equal(t, fresh.ID, remaining[0].ID)
	require.NotEqual(t, live.ID, remaining[0].ID)
}

func setupSessionService(t *testing.T, withCache bool) (*gorm.DB, *SessionService, *testClock) {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	clock := &testClock{current: time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC)}

	jwtService, err := NewJWTService(JWTConfig{
		Secret:         "session-secret",
		AccessTokenTTL: time.Hour,
		Clock:          clock.Now,
	})
	require.NoError(t, err)

	cfg := SessionConfig{
		RefreshTokenTTL: 2 * time.Hour,
		RefreshLength:   24,
		Clock:           clock.Now,
	}
	if withCache {
		cfg.Cache = NewSessionCache(cache.NewDatabaseStore(db))
	}

	sessionService, err := NewSessionService(db, jwtService, cfg)
	require.NoError(t, err)

	return db, sessionService, clock
}

func createTestAccount(t *testing.T, db *gorm.DB, name string) *models.Account {
	t.Helper()

	hashed, err := crypto.HashPassword("password")
	require.NoError(t, err)

	account := &models.Account{
		Email:        name + "@example.com",
		PasswordHash: hashed,
		FirstName:    name,
		LastName:     "Tester",
		IsActive:     true,
	}
	require.NoError(t, db.Create(account).Error)
	return account
}

type testClock struct {
	current time.Time
}

func (c *testClock) Now() time.Time {
	return c.current
}

func (c *testClock) Advance(d time.Duration) {
	c.current = c.current.Add(d)
}
