package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// jwtVerifier validates bearer tokens for non-local bindings, scoped to
// verification only. This engine forwards a credential to the configured
// LLM provider rather than issuing its own user accounts, so token minting
// lives with whatever front-end authenticates the operator.
type jwtVerifier struct {
	secret []byte
}

func newJWTVerifier(secret string) *jwtVerifier {
	return &jwtVerifier{secret: []byte(secret)}
}

type apiClaims struct {
	Subject string `json:"sub,omitempty"`
	jwt.RegisteredClaims
}

func (v *jwtVerifier) verify(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &apiClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errUnauthorized
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", errUnauthorized
	}
	claims, ok := parsed.Claims.(*apiClaims)
	if !ok || strings.TrimSpace(claims.Subject) == "" {
		return "", errUnauthorized
	}
	return claims.Subject, nil
}

type contextKey string

const subjectContextKey contextKey = "httpapi.subject"

// authMiddleware requires a valid bearer token when Dependencies.AuthSecret
// is set; otherwise it is a no-op (the default local-loopback binding).
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	if s.jwt == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			writeError(w, errUnauthorized)
			return
		}
		subject, err := s.jwt.verify(token)
		if err != nil {
			writeError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), subjectContextKey, subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// tokenExpiry is the default lifetime new tokens issued by an operator's
// front-end should carry; this package only verifies, but front-ends that
// borrow jwtVerifier's secret for minting should use this constant so
// clocks stay aligned with the auth.Config default.
const tokenExpiry = 24 * time.Hour
