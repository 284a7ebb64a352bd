package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/devrev/storesync/internal/errors"
	"github.com/devrev/storesync/internal/model"
)

// SessionResolver turns a request into a pre-validated session. Credential
// checks belong to whatever sits in front of the sync server.
type SessionResolver interface {
	Resolve(r *http.Request) (model.Session, error)
}

// HeaderSessionResolver trusts identity headers set by an authenticating proxy.
type HeaderSessionResolver struct {
	UserHeader  string
	SpaceHeader string
}

// NewHeaderSessionResolver reads X-User-ID and X-Space-ID.
func NewHeaderSessionResolver() *HeaderSessionResolver {
	return &HeaderSessionResolver{UserHeader: "X-User-ID", SpaceHeader: "X-Space-ID"}
}

// Resolve implements SessionResolver.
func (h *HeaderSessionResolver) Resolve(r *http.Request) (model.Session, error) {
	s := model.Session{
		UserID:  strings.TrimSpace(r.Header.Get(h.UserHeader)),
		SpaceID: strings.TrimSpace(r.Header.Get(h.SpaceHeader)),
	}
	if s.UserID == "" || s.SpaceID == "" {
		return model.Session{}, errors.Unauthenticated("missing session headers")
	}
	return s, nil
}

// Session resolves the caller's session and stores it on the request
// context. Requests without one are refused.
func Session(resolver SessionResolver, errorHandler *errors.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s, err := resolver.Resolve(r)
			if err != nil {
				errorHandler.HandleError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), s)))
		})
	}
}

// WithSession returns ctx carrying s.
func WithSession(ctx context.Context, s model.Session) context.Context {
	return context.WithValue(ctx, SessionKey, s)
}

// SessionFromContext returns the session stored by Session.
func SessionFromContext(ctx context.Context) (model.Session, bool) {
	s, ok := ctx.Value(SessionKey).(model.Session)
	return s, ok
}
