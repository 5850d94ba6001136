package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sakif/repo-analyser/internal/model"
)

// CookieName is the session cookie set after sign-in.
const CookieName = "token"

// UserLookup is the slice of the user store the middleware needs.
type UserLookup interface {
	GetUserByID(ctx context.Context, id string) (*model.User, error)
}

// RequireAuth resolves the session token (Authorization: Bearer, or the token
// cookie), loads the user and unseals their source-host token. Requests without
// a valid session, or whose user no longer exists, get 401.
func RequireAuth(tokens *TokenService, users UserLookup, sealer *Sealer, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, err := extractToken(r)
			if err != nil {
				unauthorized(w)
				return
			}
			userID, err := tokens.Validate(raw)
			if err != nil {
				unauthorized(w)
				return
			}

			user, err := users.GetUserByID(r.Context(), userID)
			if err != nil {
				logger.Warn("auth: session for unknown user", slog.String("userID", userID), slog.String("error", err.Error()))
				unauthorized(w)
				return
			}

			caller := CallerContext{UserID: user.ID}
			if user.SealedToken != "" {
				token, err := sealer.Open(user.SealedToken)
				if err != nil {
					// The sealing key changed; the user must sign in again.
					logger.Warn("auth: cannot open stored token", slog.String("userID", userID), slog.String("error", err.Error()))
					unauthorized(w)
					return
				}
				caller.OAuthToken = token
			}

			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}

func extractToken(r *http.Request) (string, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			return "", errors.New("auth: malformed authorization header")
		}
		return strings.TrimSpace(token), nil
	}
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return "", err
	}
	return cookie.Value, nil
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"unauthorized"}` + "\n"))
}
