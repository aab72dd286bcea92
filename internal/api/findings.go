package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/codewatch/codewatch-go/internal/models"
)

type findingStatusRequest struct {
	Status string `json:"status"`
}

// handleFindingStatus updates a finding's triage status. Only org owners may
// triage; requester and public tiers are read-only, and a published report
// does not grant write access.
func (s *Server) handleFindingStatus(w http.ResponseWriter, r *http.Request) {
	viewer := requireViewer(w, r)
	if viewer == nil {
		return
	}
	var req findingStatusRequest
	if !decodeBody(w, r, &req) {
		return
	}
	status := models.FindingStatus(req.Status)
	if !status.Valid() {
		respondError(w, http.StatusBadRequest, "status must be open, fixed, false_positive, accepted, or wont_fix")
		return
	}

	finding, err := s.store.GetFinding(r.Context(), chi.URLParam(r, "findingID"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	audit, err := s.store.GetAudit(r.Context(), finding.AuditID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	project, err := s.store.GetProject(r.Context(), audit.ProjectID)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	res, err := s.owners.Resolve(r.Context(), viewer, project.GithubOrg, false)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if !res.IsOwner {
		respondError(w, http.StatusForbidden, "only organization owners may triage findings")
		return
	}

	if err := s.store.UpdateFindingStatus(r.Context(), finding.ID, status); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"id": finding.ID, "status": string(status)})
}
