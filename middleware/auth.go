package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"agendahub/internal/visibility"
	"agendahub/pkg/logger"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const (
	UserIDKey contextKey = "userID"
	ActorKey  contextKey = "actor"
)

// RoleSource resolves the role of an actor whose token carries none.
type RoleSource interface {
	Role(ctx context.Context, id string) string
}

// Auth validates an HMAC-signed JWT and stores the calling actor in the
// request context. The role comes from app_metadata.role, then from roles,
// then from a plain role claim.
func Auth(secret string, roles RoleSource) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Browsers cannot set headers on a WebSocket handshake, so the
			// token may arrive in the query string.
			tokenString := r.URL.Query().Get("token")
			if tokenString == "" {
				tokenString = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			}
			if tokenString == "" {
				http.Error(w, "Unauthorized: No token provided", http.StatusUnauthorized)
				return
			}

			claims, err := ParseToken(tokenString, secret)
			if err != nil {
				logger.Sugar.Warnf("Invalid token: %v", err)
				http.Error(w, "Unauthorized: Invalid or expired token", http.StatusUnauthorized)
				return
			}

			userID, ok := claims["sub"].(string)
			if !ok || userID == "" {
				http.Error(w, "Unauthorized: User ID (sub) claim is missing or invalid", http.StatusUnauthorized)
				return
			}

			actor := visibility.Actor{ID: userID, Role: roleFromClaims(claims)}
			if actor.Role == "" && roles != nil {
				actor.Role = roles.Role(r.Context(), userID)
			}
			if actor.Role == "" {
				actor.Role = plainRole(claims)
			}

			ctx := context.WithValue(r.Context(), UserIDKey, userID)
			ctx = context.WithValue(ctx, ActorKey, actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ParseToken verifies signature and expiry and returns the claims.
func ParseToken(tokenString, secret string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		if secret == "" {
			return nil, fmt.Errorf("server is not configured to validate JWTs")
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("could not parse token claims")
	}
	return claims, nil
}

func roleFromClaims(claims jwt.MapClaims) string {
	meta, ok := claims["app_metadata"].(map[string]interface{})
	if !ok {
		return ""
	}
	role, _ := meta["role"].(string)
	return role
}

// plainRole ignores the generic roles issued to every session.
func plainRole(claims jwt.MapClaims) string {
	role, _ := claims["role"].(string)
	switch role {
	case "authenticated", "anon", "service_role":
		return ""
	}
	return role
}

// ActorFromContext returns the actor stored by Auth.
func ActorFromContext(ctx context.Context) (visibility.Actor, bool) {
	actor, ok := ctx.Value(ActorKey).(visibility.Actor)
	return actor, ok
}

// WithActor stores actor the way Auth does.
func WithActor(ctx context.Context, actor visibility.Actor) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, actor.ID)
	return context.WithValue(ctx, ActorKey, actor)
}

func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
