package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/nash333/saskay-snacks-manager-sub002/internal/auth"
	"github.com/nash333/saskay-snacks-manager-sub002/internal/models"
	"github.com/nash333/saskay-snacks-manager-sub002/pkg/jwt"
	"github.com/nash333/saskay-snacks-manager-sub002/pkg/logger"
)

// TokenValidator проверяет bearer токен
type TokenValidator interface {
	ValidateToken(ctx context.Context, tokenString string) (*jwt.CustomClaims, error)
}

func Auth(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, models.ErrorCodeMissingToken, "Missing authorization header")
				return
			}

			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				writeError(w, http.StatusUnauthorized, models.ErrorCodeInvalidToken, "Invalid authorization header format")
				return
			}

			claims, err := validator.ValidateToken(r.Context(), tokenString)
			if err != nil {
				logger.Debug("Token validation failed",
					zap.String("error", err.Error()),
					zap.String("path", r.URL.Path),
				)
				writeError(w, http.StatusUnauthorized, models.ErrorCodeInvalidToken, "Invalid token")
				return
			}

			userCtx := &auth.UserContext{
				UserID:     claims.Subject,
				ShopDomain: claims.ShopDomain,
				TokenID:    claims.ID,
			}

			ctx := auth.WithUser(r.Context(), userCtx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(models.ErrorResponse{Error: code, Message: message})
}
