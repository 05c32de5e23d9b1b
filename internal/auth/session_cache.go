package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zeh237/taskly/internal/cache"
	"github.com/zeh237/taskly/internal/models"
)

const sessionCacheKeyPrefix = "taskly:session:"

// cachedSession is the subset of a session needed to decide whether a refresh may
// proceed. The refresh token itself is only ever present as the key digest.
type cachedSession struct {
	ID        string     `json:"id"`
	AccountID uint       `json:"account_id"`
	ExpiresAt time.Time  `json:"expires_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// NewSessionCache stores sessions in the shared cache (Redis or the SQL fallback).
// Keys are SHA-256 digests of the refresh token so a cache dump never reveals usable tokens.
func NewSessionCache(store cache.Store) SessionCache {
	if store == nil {
		return nil
	}
	return &storeSessionCache{store: store}
}

type storeSessionCache struct {
	store cache.Store
}

func (c *storeSessionCache) Get(ctx context.Context, refreshToken string) (*models.Session, error) {
	key, ok := sessionKey(refreshToken)
	if !ok {
		return nil, errSessionCacheMiss
	}

	data, found, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errSessionCacheMiss
	}

	var entry cachedSession
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("session cache: decode: %w", err)
	}
	return &models.Session{
		ID:           entry.ID,
		AccountID:    entry.AccountID,
		RefreshToken: strings.TrimSpace(refreshToken),
		ExpiresAt:    entry.ExpiresAt,
		RevokedAt:    entry.RevokedAt,
	}, nil
}

func (c *storeSessionCache) Set(ctx context.Context, session *models.Session, ttl time.Duration) error {
	if session == nil {
		return errors.New("session cache: session is nil")
	}
	key, ok := sessionKey(session.RefreshToken)
	if !ok {
		return errors.New("session cache: refresh token missing")
	}

	payload, err := json.Marshal(cachedSession{
		ID:        session.ID,
		AccountID: session.AccountID,
		ExpiresAt: session.ExpiresAt,
		RevokedAt: session.RevokedAt,
	})
	if err != nil {
		return fmt.Errorf("session cache: marshal: %w", err)
	}
	if ttl <= 0 {
		ttl = time.Second
	}
	return c.store.Set(ctx, key, payload, ttl)
}

func (c *storeSessionCache) Delete(ctx context.Context, refreshToken string) error {
	key, ok := sessionKey(refreshToken)
	if !ok {
		return nil
	}
	return c.store.Delete(ctx, key)
}

func sessionKey(refreshToken string) (string, bool) {
	token := strings.TrimSpace(refreshToken)
	if token == "" {
		return "", false
	}
	sum := sha256.Sum256([]byte(token))
	return sessionCacheKeyPrefix + hex.EncodeToString(sum[:]), true
}
