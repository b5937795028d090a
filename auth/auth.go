package auth

import (
	"context"
	"net/http"

	"github.com/mqy/pawchat/chatstore"
)

// User is the local user of a widget.
type User struct {
	ID   string
	Name string
}

// Identity supplies the local user. It fails with chatstore.ErrNotAuthenticated
// when nobody is signed in.
type Identity interface {
	LocalUser(ctx context.Context) (User, error)
}

type Client interface {
	// Auth authenticates the user behind a widget connection request.
	Auth(r *http.Request) (User, error)
}

// Static is the identity of an embedded widget with a fixed user.
// A zero Static is signed out.
type Static struct {
	User User
}

func (s Static) LocalUser(context.Context) (User, error) {
	if s.User.ID == "" {
		return User{}, chatstore.ErrNotAuthenticated
	}
	return s.User, nil
}

type ctxKey struct{}

// WithUser returns a context carrying u.
func WithUser(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

// ContextIdentity reads the user stored by WithUser, falling back to Fallback.
type ContextIdentity struct {
	Fallback Identity
}

func (c ContextIdentity) LocalUser(ctx context.Context) (User, error) {
	if u, ok := ctx.Value(ctxKey{}).(User); ok && u.ID != "" {
		return u, nil
	}
	if c.Fallback != nil {
		return c.Fallback.LocalUser(ctx)
	}
	return User{}, chatstore.ErrNotAuthenticated
}
