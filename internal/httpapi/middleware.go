package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/ignite/relay/internal/admission"
	"github.com/ignite/relay/internal/apperror"
)

type ctxKey int

const authCtxKey ctxKey = iota

// withAuth authenticates the bearer credential and stashes the result in
// the request context for handlers to read via authFromContext. Grounded
// on the teacher's org_context.go request-scoped tenant resolution.
func (s *Server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		ip := clientIP(r)
		auth, err := s.admission.Authenticate(r.Context(), token, ip)
		if err != nil {
			writeError(w, s.log, err)
			return
		}
		ctx := context.WithValue(r.Context(), authCtxKey, auth)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func authFromContext(r *http.Request) (*admission.AuthResult, error) {
	auth, ok := r.Context().Value(authCtxKey).(*admission.AuthResult)
	if !ok || auth == nil {
		return nil, apperror.New(apperror.KindAuthentication, "no authenticated caller in context")
	}
	return auth, nil
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if strings.HasPrefix(header, prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return strings.TrimSpace(header)
}

// clientIP extracts the caller's address without port, preferring
// X-Forwarded-For the way the teacher's middleware.RealIP does, falling
// back to RemoteAddr.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx >= 0 {
		return host[:idx]
	}
	return host
}
