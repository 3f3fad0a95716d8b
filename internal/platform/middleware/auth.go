package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	dErrors "gridgrant/pkg/domain-errors"
	"gridgrant/pkg/requestcontext"
	"gridgrant/pkg/secrets"
)

// JWTClaims carries the identity of the calling party.
type JWTClaims struct {
	PartyID  string
	ClientID string
}

// JWTValidator validates bearer tokens.
type JWTValidator interface {
	ValidateToken(tokenString string) (*JWTClaims, error)
}

// HMACValidator validates HS256-signed tokens with a shared key.
type HMACValidator struct {
	key []byte
}

func NewHMACValidator(key []byte) *HMACValidator {
	return &HMACValidator{key: key}
}

func (v *HMACValidator) ValidateToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, dErrors.Newf(dErrors.CodeBadRequest, "unexpected signing method %v", t.Header["alg"])
		}
		return v.key, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeBadRequest, "invalid token", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, dErrors.New(dErrors.CodeBadRequest, "unexpected token claims")
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "token has no subject")
	}
	clientID, _ := claims["client_id"].(string)
	return &JWTClaims{PartyID: sub, ClientID: clientID}, nil
}

type contextKeyPartyID struct{}
type contextKeyClientID struct{}

// GetPartyID retrieves the authenticated party from the context.
func GetPartyID(ctx context.Context) string {
	if partyID, ok := ctx.Value(contextKeyPartyID{}).(string); ok {
		return partyID
	}
	return ""
}

// WithPartyID injects a party identifier into a context. For service unit
// tests that skip the HTTP middleware chain.
func WithPartyID(ctx context.Context, partyID string) context.Context {
	return context.WithValue(ctx, contextKeyPartyID{}, partyID)
}

// GetClientID retrieves the calling client from the context.
func GetClientID(ctx context.Context) string {
	if clientID, ok := ctx.Value(contextKeyClientID{}).(string); ok {
		return clientID
	}
	return ""
}

// AdminKey authenticates the permission administrator's callback clients
// with a pre-shared key, of which the server holds only a bcrypt hash. A
// request without the header falls through to bearer-token auth.
func AdminKey(keyHash string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			key := r.Header.Get("X-Admin-Key")
			if keyHash == "" || key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if err := secrets.Verify(key, keyHash); err != nil {
				logger.WarnContext(ctx, "unauthorized access - bad admin key",
					"request_id", GetRequestID(ctx),
				)
				writeUnauthorized(w, "Invalid admin key")
				return
			}
			ctx = context.WithValue(ctx, contextKeyPartyID{}, "permission-administrator")
			ctx = requestcontext.WithPartyID(ctx, "permission-administrator")
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuth rejects requests without a valid bearer token and puts the
// caller's identity in the request context. Requests already authenticated
// upstream, via AdminKey, pass through.
func RequireAuth(validator JWTValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if GetPartyID(ctx) != "" {
				next.ServeHTTP(w, r)
				return
			}
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", GetRequestID(ctx),
				)
				writeUnauthorized(w, "Missing or invalid Authorization header")
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"request_id", GetRequestID(ctx),
					"error", err,
				)
				writeUnauthorized(w, "Invalid or expired token")
				return
			}

			ctx = context.WithValue(ctx, contextKeyPartyID{}, claims.PartyID)
			ctx = context.WithValue(ctx, contextKeyClientID{}, claims.ClientID)
			ctx = requestcontext.WithPartyID(ctx, claims.PartyID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"` + description + `"}`))
}
