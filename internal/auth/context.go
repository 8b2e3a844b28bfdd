package auth

import "context"

// User is the authenticated caller on a request: the subject minted at pairing
// time, the device name it paired under, and which token kind let it in.
type User struct {
	Sub        string
	DeviceName string
	Type       TokenType
}

type userContextKey struct{}

// WithUser attaches the authenticated user to the context.
func WithUser(ctx context.Context, user User) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}

// UserFromContext returns the authenticated user, if any.
func UserFromContext(ctx context.Context) (User, bool) {
	if ctx == nil {
		return User{}, false
	}
	user, ok := ctx.Value(userContextKey{}).(User)
	return user, ok
}
