package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nicodishanthj/fieldq/internal/query"
)

type identityKey struct{}

// IdentityFromContext returns the caller attached by the auth middleware.
func IdentityFromContext(ctx context.Context) (query.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(query.Identity)
	return id, ok
}

// authenticator resolves the caller from a bearer token signed with the shared
// secret, or from X-User-Id/X-User-Role when the server sits behind a trusted
// gateway and no secret is configured.
type authenticator struct {
	secret       []byte
	trustHeaders bool
}

func newAuthenticator(secret string, trustHeaders bool) *authenticator {
	a := &authenticator{trustHeaders: trustHeaders}
	if secret != "" {
		a.secret = []byte(secret)
	}
	return a
}

func (a *authenticator) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := a.identify(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		ctx := context.WithValue(r.Context(), identityKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *authenticator) identify(r *http.Request) (query.Identity, error) {
	if len(a.secret) > 0 {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			return query.Identity{}, errors.New("bearer token required")
		}
		return a.validateToken(strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")))
	}
	if !a.trustHeaders {
		return query.Identity{}, errors.New("authentication not configured")
	}
	userID := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if userID == "" {
		return query.Identity{}, errors.New("X-User-Id header required")
	}
	roles := strings.Split(r.Header.Get("X-User-Role"), ",")
	return query.Identity{ID: userID, Role: query.RoleFromClaims(roles...)}, nil
}

func (a *authenticator) validateToken(tokenString string) (query.Identity, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return query.Identity{}, fmt.Errorf("token validation failed: %w", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return query.Identity{}, errors.New("invalid claims type")
	}
	subject, _ := claims["sub"].(string)
	if strings.TrimSpace(subject) == "" {
		return query.Identity{}, errors.New("token has no subject")
	}
	return query.Identity{ID: subject, Role: query.RoleFromClaims(roleClaims(claims)...)}, nil
}

func roleClaims(claims jwt.MapClaims) []string {
	var roles []string
	if list, ok := claims["roles"].([]interface{}); ok {
		for _, item := range list {
			if s, ok := item.(string); ok {
				roles = append(roles, s)
			}
		}
	}
	if role, ok := claims["role"].(string); ok {
		roles = append(roles, role)
	}
	return roles
}

func requirePrivileged(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFromContext(r.Context())
		if !ok || !id.Role.Privileged() {
			writeError(w, http.StatusForbidden, errors.New("privileged role required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
