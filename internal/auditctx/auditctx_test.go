package auditctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestActorRoundTrip(t *testing.T) {
	_, ok := FromContext(context.Background())
	require.False(t, ok)

	ctx := WithActor(context.Background(), Actor{IPAddress: "10.0.0.1", UserAgent: "curl"})
	ctx = WithAccount(ctx, 42, "amy@example.com")

	actor, ok := FromContext(ctx)
	require.True(t, ok)
	require.Equal(t, uint(42), actor.AccountID)
	require.Equal(t, "amy@example.com", actor.Email)
	require.Equal(t, "10.0.0.1", actor.IPAddress)
	require.Equal(t, "curl", actor.UserAgent)
}

func TestNilContext(t *testing.T) {
	//nolint:staticcheck // exercising nil handling
	ctx := WithActor(nil, Actor{AccountID: 1})
	actor, ok := FromContext(ctx)
	require.True(t, ok)
	require.Equal(t, uint(1), actor.AccountID)
}
