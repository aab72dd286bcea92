package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/codewatch/codewatch-go/internal/access"
	"github.com/codewatch/codewatch-go/internal/logging"
	"github.com/codewatch/codewatch-go/internal/models"
	"github.com/codewatch/codewatch-go/internal/progress"
)

type startAuditRequest struct {
	ProjectID    string   `json:"projectId"`
	Level        string   `json:"level"`
	APIKey       string   `json:"apiKey"`
	BaseAuditID  string   `json:"baseAuditId"`
	ComponentIDs []string `json:"componentIds"`
}

// handleStartAudit validates the request, creates the audit row, and hands
// it to the runner. The API key is passed through to the task and never
// stored or logged.
func (s *Server) handleStartAudit(w http.ResponseWriter, r *http.Request) {
	viewer := requireViewer(w, r)
	if viewer == nil {
		return
	}
	var req startAuditRequest
	if !decodeBody(w, r, &req) {
		return
	}

	level := models.AuditLevel(strings.ToLower(req.Level))
	if !level.Valid() {
		respondError(w, http.StatusBadRequest, "level must be full, thorough, or opportunistic")
		return
	}
	if strings.TrimSpace(req.APIKey) == "" {
		respondError(w, http.StatusBadRequest, "apiKey is required")
		return
	}
	project, err := s.store.GetProject(r.Context(), req.ProjectID)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	audit := &models.Audit{
		ID:          uuid.NewString(),
		ProjectID:   project.ID,
		RequesterID: viewer.ID,
		Level:       level,
		Status:      models.AuditPending,
	}

	if req.BaseAuditID != "" {
		base, err := s.store.GetAudit(r.Context(), req.BaseAuditID)
		if err != nil {
			respondStoreError(w, err)
			return
		}
		if base.ProjectID != project.ID {
			respondError(w, http.StatusBadRequest, "base audit belongs to a different project")
			return
		}
		if base.Status != models.AuditCompleted && base.Status != models.AuditCompletedWithWarnings {
			respondError(w, http.StatusConflict, "base audit has not completed")
			return
		}
		audit.BaseAuditID = &base.ID
		audit.IsIncremental = true
	}

	if len(req.ComponentIDs) > 0 {
		components, err := s.store.GetComponentsByIDs(r.Context(), req.ComponentIDs)
		if err != nil {
			respondStoreError(w, err)
			return
		}
		if len(components) != len(req.ComponentIDs) {
			respondError(w, http.StatusBadRequest, "unknown component id")
			return
		}
		for _, c := range components {
			if c.ProjectID != project.ID {
				respondError(w, http.StatusBadRequest, "component does not belong to this project")
				return
			}
		}
		audit.ComponentIDs = req.ComponentIDs
	}

	if err := s.store.CreateAudit(r.Context(), audit); err != nil {
		respondStoreError(w, err)
		return
	}
	if err := s.runner.Start(audit.ID, req.APIKey); err != nil {
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	logging.Info("audit requested",
		"audit_id", audit.ID,
		"project_id", project.ID,
		"level", string(level),
		"incremental", audit.IsIncremental,
		"scoped", len(audit.ComponentIDs) > 0)
	respondJSON(w, http.StatusAccepted, map[string]string{"auditId": audit.ID})
}

// auditStatusResponse is the poller view: status, totals, the tagged
// progress record, and aggregate rollups once the audit is done. Severity
// counts carry no finding details, so they are safe at every access tier.
type auditStatusResponse struct {
	*models.Audit
	Progress       *progress.Detail         `json:"progress,omitempty"`
	Components     []*models.AuditComponent `json:"components,omitempty"`
	SeverityCounts map[models.Severity]int  `json:"severityCounts,omitempty"`
}

func (s *Server) handleGetAudit(w http.ResponseWriter, r *http.Request) {
	audit, err := s.store.GetAudit(r.Context(), chi.URLParam(r, "auditID"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	resp := auditStatusResponse{Audit: audit}
	if len(audit.ProgressDetail) > 0 {
		if detail, err := progress.Unmarshal(audit.ProgressDetail); err == nil {
			resp.Progress = &detail
		}
	}
	if len(audit.ComponentIDs) > 0 {
		if rollups, err := s.store.GetAuditComponents(r.Context(), audit.ID); err == nil {
			resp.Components = rollups
		}
	}
	if audit.Status.Terminal() {
		if counts, err := s.store.CountFindingsBySeverity(r.Context(), audit.ID); err == nil && len(counts) > 0 {
			resp.SeverityCounts = counts
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCancelAudit(w http.ResponseWriter, r *http.Request) {
	viewer := requireViewer(w, r)
	if viewer == nil {
		return
	}
	audit, err := s.store.GetAudit(r.Context(), chi.URLParam(r, "auditID"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if audit.RequesterID != viewer.ID {
		respondError(w, http.StatusForbidden, "forbidden")
		return
	}
	cancelled := s.runner.Cancel(audit.ID)
	respondJSON(w, http.StatusAccepted, map[string]bool{"cancelled": cancelled})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	audit, err := s.store.GetAudit(r.Context(), chi.URLParam(r, "auditID"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	project, err := s.store.GetProject(r.Context(), audit.ProjectID)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	decision, err := s.gate.ResolveTier(r.Context(), audit, project, ViewerFrom(r.Context()), false)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	findings, err := s.store.GetFindings(r.Context(), audit.ID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, access.BuildReport(audit, findings, decision))
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	s.disclosureAction(w, r, func(audit *models.Audit, viewer *models.Viewer) (any, error) {
		if err := s.disclosure.Publish(r.Context(), audit, viewer); err != nil {
			return nil, err
		}
		return map[string]bool{"isPublic": true}, nil
	})
}

func (s *Server) handleUnpublish(w http.ResponseWriter, r *http.Request) {
	s.disclosureAction(w, r, func(audit *models.Audit, viewer *models.Viewer) (any, error) {
		if err := s.disclosure.Unpublish(r.Context(), audit, viewer); err != nil {
			return nil, err
		}
		return map[string]bool{"isPublic": false}, nil
	})
}

func (s *Server) handleNotifyOwner(w http.ResponseWriter, r *http.Request) {
	s.disclosureAction(w, r, func(audit *models.Audit, viewer *models.Viewer) (any, error) {
		project, err := s.store.GetProject(r.Context(), audit.ProjectID)
		if err != nil {
			return nil, err
		}
		return s.disclosure.NotifyOwner(r.Context(), audit, project, viewer)
	})
}

func (s *Server) disclosureAction(w http.ResponseWriter, r *http.Request, fn func(*models.Audit, *models.Viewer) (any, error)) {
	viewer := requireViewer(w, r)
	if viewer == nil {
		return
	}
	audit, err := s.store.GetAudit(r.Context(), chi.URLParam(r, "auditID"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	result, err := fn(audit, viewer)
	if err != nil {
		respondAccessError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}
