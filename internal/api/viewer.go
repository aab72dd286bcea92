package api

import (
	"net/http"

	"github.com/codewatch/codewatch-go/internal/logging"
)

// handleViewerRefresh drops the caller's cached ownership rows. Clients call
// it after re-authenticating with broader token scopes so the next access
// check reflects the new grants instead of waiting out the cache TTL.
func (s *Server) handleViewerRefresh(w http.ResponseWriter, r *http.Request) {
	viewer := requireViewer(w, r)
	if viewer == nil {
		return
	}
	if err := s.owners.Invalidate(r.Context(), viewer.ID); err != nil {
		respondStoreError(w, err)
		return
	}
	logging.Info("ownership cache invalidated", "user", viewer.Login)
	respondJSON(w, http.StatusOK, map[string]bool{"refreshed": true})
}
