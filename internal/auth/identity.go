package auth

import (
	"context"
	"net/http"

	"go.uber.org/zap"
)

// Identity is the opaque caller identity forwarded by the edge proxy after
// session validation. This service never issues or verifies sessions itself;
// it trusts the X-User-* headers set upstream.
type Identity struct {
	ID    string
	Email string
	Role  string
}

// MayManagePayments is the single capability this service checks. The full
// role-to-capability mapping lives in the admin service.
func (i Identity) MayManagePayments() bool {
	return i.Role == "admin" || i.Role == "manager"
}

type contextKey struct{}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}

func FromHeaders(r *http.Request) (Identity, bool) {
	id := Identity{
		ID:    r.Header.Get("X-User-Id"),
		Email: r.Header.Get("X-User-Email"),
		Role:  r.Header.Get("X-User-Role"),
	}
	return id, id.ID != ""
}

// RequireIdentity rejects requests without a caller identity (401).
func RequireIdentity(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := FromHeaders(r)
			if !ok {
				logger.Warn("Request without caller identity", zap.String("path", r.URL.Path))
				http.Error(w, "Authentication required", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKey{}, id)))
		})
	}
}

// RequireManagePayments rejects callers lacking the manage-payments
// capability (403). Must be nested inside RequireIdentity.
func RequireManagePayments(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFromContext(r.Context())
			if !ok {
				http.Error(w, "Authentication required", http.StatusUnauthorized)
				return
			}
			if !id.MayManagePayments() {
				logger.Warn("Caller lacks manage-payments capability",
					zap.String("user_id", id.ID),
					zap.String("role", id.Role),
					zap.String("path", r.URL.Path),
				)
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
