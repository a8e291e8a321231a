package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/baharkarakas/bank-ledger/internal/api/httpx"
	"github.com/baharkarakas/bank-ledger/internal/auth"
)

type subjectKey struct{}

// Subject returns the authenticated caller, if any.
func Subject(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(subjectKey{}).(string)
	return v, ok
}

type AuthMiddleware struct {
	TM *auth.TokenManager
	// AllowDevTokens accepts unsigned "Bearer dev-<subject>" tokens.
	AllowDevTokens bool
}

func NewAuthMiddleware(tm *auth.TokenManager, allowDevTokens bool) *AuthMiddleware {
	return &AuthMiddleware{TM: tm, AllowDevTokens: allowDevTokens}
}

// Auth requires "Authorization: Bearer <jwt>".
func (m *AuthMiddleware) Auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ah := r.Header.Get("Authorization")
		if len(ah) < len("bearer ") || !strings.EqualFold(ah[:len("bearer ")], "bearer ") {
			httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token", nil)
			return
		}
		token := strings.TrimSpace(ah[len("bearer "):])

		if m.AllowDevTokens && strings.HasPrefix(token, "dev-") {
			ctx := context.WithValue(r.Context(), subjectKey{}, strings.TrimPrefix(token, "dev-"))
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		claims, err := m.TM.Parse(token)
		if err != nil {
			httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid access token", nil)
			return
		}
		ctx := context.WithValue(r.Context(), subjectKey{}, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
