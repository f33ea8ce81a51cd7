// Package identity answers "who is calling" for the services. The HTTP layer
// puts the authenticated user id into the request context; the CLI and tests
// use a fixed id.
package identity

import "context"

type Provider interface {
	CurrentUserID(ctx context.Context) (string, bool)
}

type ctxKey struct{}

// WithUserID returns a context carrying userID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

// FromContext returns the user id stored by WithUserID. Empty ids count as
// absent.
func FromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok && id != ""
}

// ContextProvider reads the user id from the context.
type ContextProvider struct{}

func (ContextProvider) CurrentUserID(ctx context.Context) (string, bool) {
	return FromContext(ctx)
}

// Static always answers with the same id. An empty Static is
// unauthenticated.
type Static string

func (s Static) CurrentUserID(context.Context) (string, bool) {
	return string(s), s != ""
}
