package service

import (
	"context"

	"github.com/martijn/vaultkeep/internal/core/domain"
	"github.com/martijn/vaultkeep/internal/core/port"
)

// Actor is the principal a request runs as.
type Actor struct {
	ID     string
	Scopes []string
}

// LocalOperator is the actor CLI commands run as.
var LocalOperator = Actor{ID: "local-operator", Scopes: []string{domain.ScopeAll}}

type actorKey struct{}

func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func ActorFrom(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(Actor)
	return actor, ok && actor.ID != ""
}

// ScopeAuth answers AuthContext questions from the actor stored in the
// request context. A capability is granted when the actor holds the "all"
// scope or a scope named after the capability.
type ScopeAuth struct{}

var _ port.AuthContext = ScopeAuth{}

func (ScopeAuth) CurrentActorID(ctx context.Context) (string, bool) {
	actor, ok := ActorFrom(ctx)
	if !ok {
		return "", false
	}
	return actor.ID, true
}

func (ScopeAuth) HasCapability(ctx context.Context, actorID string, capability domain.Capability) bool {
	actor, ok := ActorFrom(ctx)
	if !ok || actor.ID != actorID {
		return false
	}
	return domain.ScopesGrant(actor.Scopes, capability)
}
