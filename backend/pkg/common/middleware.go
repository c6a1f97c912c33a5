package common

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/rfidpay/cardcore/backend/pkg/common/api"
)

const (
	RoleAdmin    = "ADMIN"
	RoleOperator = "OPERATOR"
	RoleClient   = "CLIENT"
)

// Claims carried by access tokens. CardIDs lists the cards a CLIENT may act
// on; staff roles are not restricted.
type Claims struct {
	UserID  string   `json:"user_id"`
	Role    string   `json:"role"`
	CardIDs []string `json:"card_ids,omitempty"`
	jwt.RegisteredClaims
}

// CanAccessCard reports whether the holder may read or act on cardID.
func (c *Claims) CanAccessCard(cardID string) bool {
	if c.Role == RoleAdmin || c.Role == RoleOperator {
		return true
	}
	return slices.Contains(c.CardIDs, cardID)
}

type contextKey int

const (
	claimsKey contextKey = iota
	requestIDKey
)

func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*Claims)
	return c, ok
}

func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// IssueToken signs an HS256 access token.
func IssueToken(secret []byte, issuer, userID, role string, cardIDs []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:  userID,
		Role:    role,
		CardIDs: cardIDs,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// AuthMiddleware verifies the bearer token and stores its claims in the
// request context.
func AuthMiddleware(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				api.WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authorization header required", RequestID(r.Context()))
				return
			}
			tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
			if !found {
				api.WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Bearer token required", RequestID(r.Context()))
				return
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
				return secret, nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
			if err != nil || !token.Valid {
				msg := "Invalid token"
				if errors.Is(err, jwt.ErrTokenExpired) {
					msg = "Token expired"
				}
				api.WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", msg, RequestID(r.Context()))
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
		})
	}
}

// RequireRole enforces RBAC on a handler wrapped by AuthMiddleware.
func RequireRole(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if !ok {
			api.WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing credentials", RequestID(r.Context()))
			return
		}
		if !slices.Contains(roles, claims.Role) {
			api.WriteError(w, http.StatusForbidden, "FORBIDDEN", "Role "+claims.Role+" may not perform this action", RequestID(r.Context()))
			return
		}
		next(w, r)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// RequestLogger assigns a request id and logs each request when it ends.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", id)
			ctx := context.WithValue(r.Context(), requestIDKey, id)

			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(ctx))

			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", id)
		})
	}
}

// Recoverer turns a handler panic into a 500 response.
func Recoverer(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic in handler", "panic", rec, "path", r.URL.Path)
					api.WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error", RequestID(r.Context()))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
