package app

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zeh237/taskly/internal/database"
	"github.com/zeh237/taskly/internal/database/testutil"
)

func TestApplyRuntimeDefaultsGeneratesMissingSecret(t *testing.T) {
	cfg := &Config{}

	generated, err := ApplyRuntimeDefaults(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.NotEmpty(t, cfg.Auth.JWT.Secret)
	require.True(t, generated[JWTSecretSettingKey])
}

func TestApplyRuntimeDefaultsPreservesExistingSecret(t *testing.T) {
	cfg := &Config{}
	cfg.Auth.JWT.Secret = strings.Repeat("a", 10)

	generated, err := ApplyRuntimeDefaults(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.Empty(t, generated)
	require.Equal(t, strings.Repeat("a", 10), cfg.Auth.JWT.Secret)
}

func TestApplyRuntimeDefaultsReusesPersistedSecret(t *testing.T) {
	ctx := context.Background()
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	first := &Config{}
	_, err := ApplyRuntimeDefaults(ctx, first, db)
	require.NoError(t, err)

	stored, err := database.GetSystemSetting(ctx, db, JWTSecretSettingKey)
	require.NoError(t, err)
	require.Equal(t, first.Auth.JWT.Secret, stored)

	second := &Config{}
	_, err = ApplyRuntimeDefaults(ctx, second, db)
	require.NoError(t, err)
	require.Equal(t, first.Auth.JWT.Secret, second.Auth.JWT.Secret)
}

func TestApplyRuntimeDefaultsNilConfig(t *testing.T) {
	_, err := ApplyRuntimeDefaults(context.Background(), nil, nil)
	require.ErrorContains(t, err, "config is nil")
}
