package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"campus-courier/models"
	"campus-courier/utilities"
)

// LoggingMiddleware logs every request with its status and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(rw, r)

		utilities.LogRequest(r.Method, r.URL.Path, r.RemoteAddr, rw.statusCode, time.Since(start))
	})
}

// responseWriter captures the status code written by the handler.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

type contextKey int

const userContextKey contextKey = iota

// UserFromContext returns the local user AuthMiddleware attached to the request.
func UserFromContext(ctx context.Context) (*models.User, bool) {
	u, ok := ctx.Value(userContextKey).(*models.User)
	return u, ok
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
}

// AuthMiddleware verifies the bearer token and resolves it to a local user.
func (a *App) AuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			utilities.LogDebug("missing bearer token on %s %s", r.Method, r.URL.Path)
			writeMessage(w, http.StatusUnauthorized, "Authorization header missing")
			return
		}

		identity, err := a.Verifier.VerifyToken(r.Context(), token)
		if err != nil {
			utilities.LogError(err, "Token verification failed")
			writeMessage(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		user, err := a.Tasks.EnsureUser(r.Context(), *identity)
		if err != nil {
			writeError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}
