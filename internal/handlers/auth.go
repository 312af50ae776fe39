package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"firebase.google.com/go/v4/auth"
)

// DebugUserHeader names the caller when authentication is disabled for local runs.
const DebugUserHeader = "X-Debug-User"

type contextKey struct{}

// TokenVerifier is satisfied by *auth.Client.
type TokenVerifier interface {
	VerifyIDTokenAndCheckRevoked(ctx context.Context, idToken string) (*auth.Token, error)
}

// User is the verified caller of a request.
type User struct {
	UID    string         `json:"uid"`
	Email  string         `json:"email,omitempty"`
	Name   string         `json:"name,omitempty"`
	Claims map[string]any `json:"claims,omitempty"`
}

// UserFromContext returns the caller stored by the auth middleware.
func UserFromContext(ctx context.Context) (*User, bool) {
	u, ok := ctx.Value(contextKey{}).(*User)
	return u, ok
}

func withUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, contextKey{}, u)
}

// Authenticator verifies the bearer ID token of every request. With verifier nil the caller
// is taken from the X-Debug-User header instead.
func Authenticator(verifier TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if verifier == nil {
				uid := strings.TrimSpace(r.Header.Get(DebugUserHeader))
				if uid == "" {
					writeMessage(w, http.StatusUnauthorized, "Authorization header is missing or invalid", "")
					return
				}
				next.ServeHTTP(w, r.WithContext(withUser(r.Context(), &User{UID: uid})))
				return
			}

			header := r.Header.Get("Authorization")
			idToken, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || strings.TrimSpace(idToken) == "" {
				writeMessage(w, http.StatusUnauthorized, "Authorization header is missing or invalid", "")
				return
			}
			token, err := verifier.VerifyIDTokenAndCheckRevoked(r.Context(), strings.TrimSpace(idToken))
			if err != nil {
				logger.Warn("Token verification failed.", "error", err)
				writeMessage(w, http.StatusUnauthorized, "Token verification failed", err.Error())
				return
			}
			next.ServeHTTP(w, r.WithContext(withUser(r.Context(), userFromToken(token))))
		})
	}
}

func userFromToken(token *auth.Token) *User {
	u := &User{UID: token.UID, Claims: token.Claims}
	if email, ok := token.Claims["email"].(string); ok {
		u.Email = email
	}
	if name, ok := token.Claims["name"].(string); ok {
		u.Name = name
	}
	return u
}
