package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/geoclip/geoclip/internal/auth"
	"github.com/geoclip/geoclip/internal/logging"
)

type claimsKey struct{}

// RequireBearer rejects requests without a valid bearer token and stores the
// token's claims on the request context.
func RequireBearer(tokens TokenManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			claims, err := tokens.Validate(ctx, bearerToken(r))
			if err != nil {
				logging.FromContext(ctx).Info("bearer token rejected", "error", err)
				unauthorized(ctx, w)
				return
			}

			ctx = context.WithValue(ctx, claimsKey{}, claims)
			ctx = logging.WithUserID(ctx, claims.UserID)
			ctx = logging.WithLogger(ctx, logging.FromContext(ctx).With("user_id", claims.UserID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func claimsFromContext(ctx context.Context) auth.Claims {
	claims, _ := ctx.Value(claimsKey{}).(auth.Claims)
	return claims
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func unauthorized(ctx context.Context, w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	respondError(ctx, w, http.StatusUnauthorized, detailInvalidCredentials)
}
