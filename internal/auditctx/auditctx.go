// Package auditctx carries request metadata from the HTTP layer down to the services that
// write audit records.
package auditctx

import "context"

// Actor describes who issued the request and from where. AccountID is zero for
// unauthenticated requests.
type Actor struct {
	AccountID uint
	Email     string
	IPAddress string
	UserAgent string
}

type actorContextKey struct{}

// WithActor returns a derived context carrying actor.
func WithActor(ctx context.Context, actor Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// FromContext extracts the actor stored by WithActor.
func FromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}

// WithAccount fills in the authenticated account on an existing actor, keeping the
// request address and agent already recorded.
func WithAccount(ctx context.Context, accountID uint, email string) context.Context {
	actor, _ := FromContext(ctx)
	actor.AccountID = accountID
	actor.Email = email
	return WithActor(ctx, actor)
}
