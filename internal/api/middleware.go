package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/codewatch/codewatch-go/internal/logging"
	"github.com/codewatch/codewatch-go/internal/models"
)

type contextKey int

const viewerKey contextKey = iota

// viewerCacheTTL bounds how long a resolved GitHub identity is trusted
// before the token is re-checked.
const viewerCacheTTL = 5 * time.Minute

// ViewerFrom returns the authenticated viewer, or nil for anonymous requests.
func ViewerFrom(ctx context.Context) *models.Viewer {
	v, _ := ctx.Value(viewerKey).(*models.Viewer)
	return v
}

// resolveViewer turns "Authorization: Bearer <github-token>" into a Viewer.
// Requests without the header stay anonymous; a header with a token GitHub
// rejects is a 401. Identities are cached briefly, keyed by token hash so
// raw tokens never sit in cache keys.
func (s *Server) resolveViewer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		key := tokenKey(token)
		if cached, ok := s.viewers.Get(key); ok {
			r = r.WithContext(context.WithValue(r.Context(), viewerKey, cached.(*models.Viewer)))
			next.ServeHTTP(w, r)
			return
		}

		viewer, err := s.github.GetViewer(r.Context(), token)
		if err != nil {
			logging.Debug("viewer resolution failed", "error", err.Error())
			respondError(w, http.StatusUnauthorized, "invalid GitHub token")
			return
		}
		s.viewers.SetDefault(key, viewer)

		r = r.WithContext(context.WithValue(r.Context(), viewerKey, viewer))
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func tokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// requireViewer rejects anonymous requests.
func requireViewer(w http.ResponseWriter, r *http.Request) *models.Viewer {
	viewer := ViewerFrom(r.Context())
	if viewer == nil {
		respondError(w, http.StatusUnauthorized, "authentication required")
	}
	return viewer
}

// logRequests writes one structured line per request.
func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logging.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds())
	})
}
