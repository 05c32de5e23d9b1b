package app

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/zeh237/taskly/internal/database"
	"github.com/zeh237/taskly/pkg/crypto"
)

const (
	jwtSecretBytes = 48

	// JWTSecretSettingKey stores the generated signing secret so tokens survive restarts.
	JWTSecretSettingKey = "auth.jwt.secret"
)

// ApplyRuntimeDefaults ensures critical secrets are populated even when no configuration file is supplied.
// A generated JWT secret is persisted in system settings; an existing stored value wins over a
// freshly generated one. The returned map lists keys that were generated or loaded so callers can
// log the event without exposing values.
func ApplyRuntimeDefaults(ctx context.Context, cfg *Config, db *gorm.DB) (map[string]bool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	generated := make(map[string]bool)

	if strings.TrimSpace(cfg.Auth.JWT.Secret) == "" {
		secret, err := crypto.GenerateToken(jwtSecretBytes)
		if err != nil {
			return nil, fmt.Errorf("generate jwt secret: %w", err)
		}
		if db != nil {
			secret, err = database.EnsureSystemSetting(ctx, db, JWTSecretSettingKey, secret)
			if err != nil {
				return nil, fmt.Errorf("persist jwt secret: %w", err)
			}
		}
		cfg.Auth.JWT.Secret = secret
		generated[JWTSecretSettingKey] = true
	}

	return generated, nil
}
