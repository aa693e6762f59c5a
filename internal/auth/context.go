// ABOUTME: Authentication context for tracking identity through request handlers
// ABOUTME: Provides WithEntity/FromContext for propagating auth info via context

package auth

import (
	"context"
)

// entityContextKey is the key type for storing an Entity in context.Context.
type entityContextKey struct{}

// WithEntity returns a new context with the authenticated entity attached.
func WithEntity(ctx context.Context, entity *Entity) context.Context {
	return context.WithValue(ctx, entityContextKey{}, entity)
}

// FromContext retrieves the authenticated entity from the context,
// returning nil if not present.
func FromContext(ctx context.Context) *Entity {
	val := ctx.Value(entityContextKey{})
	if val == nil {
		return nil
	}
	entity, ok := val.(*Entity)
	if !ok {
		return nil
	}
	return entity
}

// MustFromContext retrieves the authenticated entity, panicking if not present.
// Handlers behind the auth middleware may rely on it being set.
func MustFromContext(ctx context.Context) *Entity {
	entity := FromContext(ctx)
	if entity == nil {
		panic("auth: entity not found in context")
	}
	return entity
}
