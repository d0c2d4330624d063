package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/mahaj/guildchat/pkg/httpx"
	"github.com/mahaj/guildchat/pkg/model"
)

type contextKey string

const profileKey contextKey = "profile"

// Resolver maps a request onto the caller's profile.
type Resolver interface {
	Resolve(r *http.Request) (model.Profile, error)
}

// Resolve reads a bearer token from the Authorization header, falling back
// to the token query parameter used by websocket clients.
func (i *Issuer) Resolve(r *http.Request) (model.Profile, error) {
	tokenString := r.Header.Get("Authorization")
	if tokenString == "" {
		tokenString = r.URL.Query().Get("token")
	}
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")
	if tokenString == "" {
		return model.Profile{}, model.ErrUnauthorized
	}
	return i.ValidateToken(tokenString)
}

// Require rejects requests without a resolvable profile and stores the
// profile in the request context.
func Require(res Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			profile, err := res.Resolve(r)
			if err != nil {
				httpx.Error(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithProfile(r.Context(), profile)))
		})
	}
}

func WithProfile(ctx context.Context, p model.Profile) context.Context {
	return context.WithValue(ctx, profileKey, p)
}

// ProfileFrom returns the profile stored by Require.
func ProfileFrom(ctx context.Context) (model.Profile, bool) {
	p, ok := ctx.Value(profileKey).(model.Profile)
	return p, ok
}
