package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const widgetClaimsKey contextKey = "widgetClaims"

// WidgetClaims identify the site embedding the widget. Subject carries the
// site id; Origin is the page origin the token was minted for.
type WidgetClaims struct {
	Origin string `json:"origin,omitempty"`
	jwt.RegisteredClaims
}

// WidgetJWT enforces an HMAC-signed JWT on widget API endpoints. A token is
// accepted from the Authorization header or, for WebSocket upgrades where
// custom headers are awkward, a "token" query parameter.
func WidgetJWT(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				http.Error(w, "widget auth disabled", http.StatusUnauthorized)
				return
			}
			tokenString := bearerToken(r)
			if tokenString == "" {
				http.Error(w, "missing widget token", http.StatusUnauthorized)
				return
			}
			claims := WidgetClaims{}
			token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), widgetClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// WidgetClaimsFromContext returns the widget claims if present.
func WidgetClaimsFromContext(ctx context.Context) (WidgetClaims, bool) {
	claims, ok := ctx.Value(widgetClaimsKey).(WidgetClaims)
	return claims, ok
}
