// Package actor carries the identity of whoever is performing the current
// operation. The value is bound once per request and read by the audit core.
package actor

import (
	"context"
	"strings"
)

type ctxKey struct{}

// WithID binds an actor id to ctx. An empty id leaves ctx unchanged.
func WithID(ctx context.Context, id string) context.Context {
	id = strings.TrimSpace(id)
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the bound actor id, or false when none is bound.
func FromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// ContextProvider reads the actor bound with WithID.
type ContextProvider struct{}

func (ContextProvider) Actor(ctx context.Context) (string, bool) {
	return FromContext(ctx)
}
