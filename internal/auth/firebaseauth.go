// Package auth verifies Firebase ID tokens on inbound requests and exposes the
// caller's uid through the go-microservice-base user context.
package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	fbauth "firebase.google.com/go/v4/auth"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"
)

// AdminClaim is the custom claim that marks content administrators.
const AdminClaim = "admin"

// TokenVerifier is the subset of the Firebase Auth client we use.
// *auth.Client satisfies it.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*fbauth.Token, error)
}

// Middleware builds request guards around a TokenVerifier.
type Middleware struct {
	verifier TokenVerifier
	logger   *slog.Logger
}

func NewMiddleware(verifier TokenVerifier, logger *slog.Logger) *Middleware {
	return &Middleware{
		verifier: verifier,
		logger:   logger.With("component", "FirebaseAuth"),
	}
}

// RequireUser admits any request with a valid ID token.
func (m *Middleware) RequireUser(next http.Handler) http.Handler {
	return m.guard(next, false)
}

// RequireAdmin admits only tokens carrying admin: true.
func (m *Middleware) RequireAdmin(next http.Handler) http.Handler {
	return m.guard(next, true)
}

func (m *Middleware) guard(next http.Handler, adminOnly bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idToken, ok := bearerToken(r)
		if !ok {
			response.WriteJSONError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		token, err := m.verifier.VerifyIDToken(r.Context(), idToken)
		if err != nil {
			m.logger.Debug("ID token rejected", "err", err)
			response.WriteJSONError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		if adminOnly && !isAdmin(token) {
			m.logger.Warn("Non-admin caller refused", "uid", token.UID, "path", r.URL.Path)
			response.WriteJSONError(w, http.StatusForbidden, "admin privileges required")
			return
		}

		ctx := middleware.ContextWithUserID(r.Context(), token.UID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Passthrough stamps every request with a fixed user. Local development only.
func Passthrough(userID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(middleware.ContextWithUserID(r.Context(), userID)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func isAdmin(token *fbauth.Token) bool {
	admin, _ := token.Claims[AdminClaim].(bool)
	return admin
}
