package auth

import "context"

// Identity is the validated caller of a request.
type Identity struct {
	UserID  string
	IsAdmin bool
}

type contextKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok && id.UserID != ""
}

func (c *Claims) Identity() Identity {
	return Identity{UserID: c.ID, IsAdmin: c.IsAdmin}
}
