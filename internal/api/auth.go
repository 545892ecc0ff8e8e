package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

// Actor is the authenticated caller, threaded explicitly instead of a
// request-global user object. PatientID is set only for callers with a
// patient profile and gates the "my appointments" listing.
type Actor struct {
	UserID    uuid.UUID
	PatientID *uuid.UUID
}

const actorKey contextKey = "actor"

type accessClaims struct {
	PatientID string `json:"patient_id,omitempty"`
	jwt.RegisteredClaims
}

// AuthMiddleware verifies the bearer token (HS256, issued by the identity
// service) and stores the Actor in the request context. Token issuance and
// refresh live outside this service; we only verify.
func AuthMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				writeError(w, http.StatusUnauthorized, "unauthenticated", "missing bearer token")
				return
			}
			raw := strings.TrimPrefix(header, "Bearer ")

			var claims accessClaims
			token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				writeError(w, http.StatusUnauthorized, "unauthenticated", "invalid or expired token")
				return
			}

			userID, err := uuid.Parse(claims.Subject)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthenticated", "invalid subject claim")
				return
			}

			actor := Actor{UserID: userID}
			if claims.PatientID != "" {
				if pid, err := uuid.Parse(claims.PatientID); err == nil {
					actor.PatientID = &pid
				}
			}

			ctx := context.WithValue(r.Context(), actorKey, actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ActorFrom retrieves the authenticated actor from context.
func ActorFrom(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey).(Actor)
	return a, ok
}
