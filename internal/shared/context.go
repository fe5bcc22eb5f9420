package shared

import "context"

// Actor identifies the tenant and user an operation runs on behalf of.
type Actor struct {
	TenantID int64
	UserID   int64
}

// Valid reports whether both identifiers are set.
func (a Actor) Valid() bool {
	return a.TenantID > 0 && a.UserID > 0
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok && actor.Valid()
}
