package middleware

import (
	"net/http"
	"strings"

	"github.com/gridwatch/vms/internal/auth"
	"github.com/gridwatch/vms/internal/tokens"
)

type TokenValidator interface {
	Validate(tokenString string) (*tokens.Claims, error)
}

type JWTAuth struct {
	tokens    TokenValidator
	blacklist auth.TokenBlacklist
}

func NewJWTAuth(t TokenValidator, b auth.TokenBlacklist) *JWTAuth {
	if b == nil {
		b = auth.NopBlacklist{}
	}
	return &JWTAuth{tokens: t, blacklist: b}
}

// Middleware verifies the bearer token and injects the AuthContext.
// Blacklist lookup errors fail closed.
func (m *JWTAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := bearerToken(r)
		if tokenString == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		claims, err := m.tokens.Validate(tokenString)
		if err != nil || claims.TokenType != tokens.Access {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		blacklisted, err := m.blacklist.IsBlacklisted(r.Context(), claims.ID)
		if err != nil || blacklisted {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		ctx := WithAuthContext(r.Context(), &AuthContext{
			UserID:  claims.UserID,
			Role:    claims.Role,
			TokenID: claims.ID,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// bearerToken also accepts ?token= for endpoints that cannot set headers,
// such as browser WebSocket upgrades and HLS players.
func bearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
		return ""
	}
	return r.URL.Query().Get("token")
}
