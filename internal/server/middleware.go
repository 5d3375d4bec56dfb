package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"

	"secuflow/internal/logger"
)

// RequestIDHeader carries the per-request identifier.
const RequestIDHeader = "X-Request-ID"

type ctxKey int

const requestIDKey ctxKey = iota

// RequestID returns the identifier assigned to the request, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrumentMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		s.metrics.ObserveRequest(route, rec.status, elapsed)

		logger.WithFields(logger.Fields{
			"request_id":  RequestID(r.Context()),
			"method":      r.Method,
			"route":       route,
			"status":      rec.status,
			"duration_ms": elapsed.Milliseconds(),
		}).Debug("request handled")
	})
}

// tokenAuth accepts bearer tokens matching any configured bcrypt hash.
type tokenAuth struct {
	hashes [][]byte
}

func newTokenAuth(hashes []string) *tokenAuth {
	a := &tokenAuth{}
	for _, h := range hashes {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		if _, err := bcrypt.Cost([]byte(h)); err != nil {
			logger.Warnf("Ignoring invalid bcrypt token hash: %v", err)
			continue
		}
		a.hashes = append(a.hashes, []byte(h))
	}
	return a
}

func (a *tokenAuth) enabled() bool {
	return len(a.hashes) > 0
}

func (a *tokenAuth) valid(token string) bool {
	for _, h := range a.hashes {
		if bcrypt.CompareHashAndPassword(h, []byte(token)) == nil {
			return true
		}
	}
	return false
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.auth.enabled() || s.isPublic(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		if !strings.HasPrefix(authHeader, "Bearer ") || token == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="SecuFlow"`)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized: missing token"})
			return
		}
		if !s.auth.valid(token) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="SecuFlow"`)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized: invalid token"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) isPublic(path string) bool {
	return path == "/health" || (s.cfg.MetricsPath != "" && path == s.cfg.MetricsPath)
}
