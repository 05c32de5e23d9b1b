package app

import (
	"github.com/zeh237/taskly/internal/auth"
	"github.com/zeh237/taskly/internal/services"
)

// JWTServiceConfig converts AuthConfig into the parameters expected by the JWT service.
func (c AuthConfig) JWTServiceConfig() auth.JWTConfig {
	ttl := c.JWT.TTL
	if ttl <= 0 {
		ttl = auth.DefaultAccessTokenTTL
	}

	return auth.JWTConfig{
		Secret:         c.JWT.Secret,
		Issuer:         c.JWT.Issuer,
		AccessTokenTTL: ttl,
	}
}

// SessionServiceConfig converts AuthConfig into SessionService parameters.
func (c AuthConfig) SessionServiceConfig() auth.SessionConfig {
	ttl := c.Session.RefreshTTL
	if ttl <= 0 {
		ttl = auth.DefaultRefreshTokenTTL
	}

	length := c.Session.RefreshLength
	if length <= 0 {
		length = 48
	}

	return auth.SessionConfig{
		RefreshTokenTTL: ttl,
		RefreshLength:   length,
	}
}

// AccountOptions converts IdentityConfig into AccountService options.
func (c IdentityConfig) AccountOptions() []services.AccountOption {
	opts := []services.AccountOption{services.WithResetOTPExpiry(c.EnforceResetOTPExpiry)}
	if c.OTPTTL > 0 {
		opts = append(opts, services.WithOTPTTL(c.OTPTTL))
	}
	if c.ResetGrantTTL > 0 {
		opts = append(opts, services.WithResetGrantTTL(c.ResetGrantTTL))
	}
	return opts
}

// InvitationOptions converts InvitationConfig into InvitationService options.
func (c InvitationConfig) InvitationOptions() []services.InvitationOption {
	var opts []services.InvitationOption
	if c.Expiry > 0 {
		opts = append(opts, services.WithInvitationExpiry(c.Expiry))
	}
	if c.AcceptURL != "" {
		opts = append(opts, services.WithAcceptURL(c.AcceptURL))
	}
	return opts
}
