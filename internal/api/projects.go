package api

import (
	"context"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/codewatch/codewatch-go/internal/gitrepo"
	"github.com/codewatch/codewatch-go/internal/logging"
	"github.com/codewatch/codewatch-go/internal/models"
	"github.com/codewatch/codewatch-go/internal/store"
	"github.com/codewatch/codewatch-go/internal/tokens"
)

type createProjectRequest struct {
	GithubOrg string            `json:"githubOrg"`
	RepoURLs  []string          `json:"repoUrls"`
	Branches  map[string]string `json:"branches"`
	Name      string            `json:"name"`
}

type projectResponse struct {
	Project    *models.Project           `json:"project"`
	Repos      []store.ProjectRepoDetail `json:"repos"`
	Components []*models.Component       `json:"components"`
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	viewer := requireViewer(w, r)
	if viewer == nil {
		return
	}
	var req createProjectRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.GithubOrg = strings.TrimSpace(req.GithubOrg)
	if req.GithubOrg == "" {
		respondError(w, http.StatusBadRequest, "githubOrg is required")
		return
	}
	if len(req.RepoURLs) == 0 {
		respondError(w, http.StatusBadRequest, "at least one repository URL is required")
		return
	}

	repos := make([]store.NewProjectRepo, 0, len(req.RepoURLs))
	for _, url := range req.RepoURLs {
		_, owner, name, err := gitrepo.ParseRepoURL(url)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		localPath, err := s.repos.LocalPathFor(url)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		repo := &models.Repository{
			ID:        uuid.NewString(),
			RepoURL:   strings.TrimSpace(url),
			RepoName:  owner + "/" + name,
			LocalPath: localPath,
		}
		npr := store.NewProjectRepo{Repo: repo}
		if branch, ok := req.Branches[url]; ok && branch != "" {
			b := branch
			npr.Branch = &b
		}
		repos = append(repos, npr)
	}

	entityType := "organization"
	if et, err := s.github.EntityType(r.Context(), req.GithubOrg); err == nil && et != "" {
		entityType = et
	} else if err != nil {
		logging.Debug("entity type lookup failed", "org", req.GithubOrg, "error", err.Error())
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = req.GithubOrg
	}
	project := &models.Project{
		ID:               uuid.NewString(),
		GithubOrg:        req.GithubOrg,
		GithubEntityType: entityType,
		CreatedBy:        viewer.ID,
		Name:             name,
	}
	if err := s.store.CreateProject(r.Context(), project, repos); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"projectId": project.ID})
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	project, err := s.store.GetProject(r.Context(), projectID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	repos, err := s.store.GetProjectRepos(r.Context(), projectID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	components, err := s.store.GetComponents(r.Context(), projectID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if components == nil {
		components = []*models.Component{}
	}
	respondJSON(w, http.StatusOK, projectResponse{Project: project, Repos: repos, Components: components})
}

func (s *Server) handleListProjectAudits(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if _, err := s.store.GetProject(r.Context(), projectID); err != nil {
		respondStoreError(w, err)
		return
	}
	audits, err := s.store.ListProjectAudits(r.Context(), projectID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if audits == nil {
		audits = []*models.Audit{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"audits": audits})
}

// handleEstimate projects per-level costs for a project. Totals come from,
// in order of preference: the scoped components' cached estimates, a fresh
// scan of the local checkouts, or the latest audit's recorded totals.
// `?precise=true` re-counts checkout contents through the provider's
// count-tokens endpoint when a service key is configured.
func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if _, err := s.store.GetProject(r.Context(), projectID); err != nil {
		respondStoreError(w, err)
		return
	}

	if ids := r.URL.Query().Get("componentIds"); ids != "" {
		s.estimateComponents(w, r, projectID, strings.Split(ids, ","))
		return
	}

	files, scanned := s.scanCheckouts(r.Context(), projectID)
	if scanned {
		if r.URL.Query().Get("precise") == "true" && s.counter != nil && s.serviceKey != "" {
			totalFiles, totalTokens, err := tokens.PreciseTotals(r.Context(), s.counter, s.serviceKey, s.model, files)
			if err == nil {
				respondJSON(w, http.StatusOK, s.accountant.EstimateCosts(r.Context(), s.model, totalFiles, totalTokens, true))
				return
			}
			logging.Warn("precise count failed, using rough totals", "project_id", projectID, "error", err.Error())
		}
		totalTokens := 0
		for _, f := range files {
			totalTokens += f.Tokens
		}
		respondJSON(w, http.StatusOK, s.accountant.EstimateCosts(r.Context(), s.model, len(files), totalTokens, false))
		return
	}

	// No checkouts yet; fall back to the last audit that recorded totals.
	audits, err := s.store.ListProjectAudits(r.Context(), projectID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	for _, a := range audits {
		if a.TotalFiles > 0 {
			respondJSON(w, http.StatusOK, s.accountant.EstimateCosts(r.Context(), s.model, a.TotalFiles, a.TotalTokens, false))
			return
		}
	}
	respondError(w, http.StatusConflict, "no totals available yet; run an audit first")
}

func (s *Server) estimateComponents(w http.ResponseWriter, r *http.Request, projectID string, ids []string) {
	components, err := s.store.GetComponentsByIDs(r.Context(), ids)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	for _, c := range components {
		if c.ProjectID != projectID {
			respondError(w, http.StatusBadRequest, "component does not belong to this project")
			return
		}
	}
	if len(components) == 0 {
		respondError(w, http.StatusNotFound, "no matching components")
		return
	}
	totalFiles, totalTokens := tokens.TotalsFromComponents(components)
	respondJSON(w, http.StatusOK, s.accountant.EstimateCosts(r.Context(), s.model, totalFiles, totalTokens, false))
}

// scanCheckouts scans whatever local checkouts already exist for the
// project. Reports false when none are materialized yet.
func (s *Server) scanCheckouts(ctx context.Context, projectID string) ([]gitrepo.RepoFile, bool) {
	repos, err := s.store.GetProjectRepos(ctx, projectID)
	if err != nil || len(repos) == 0 {
		return nil, false
	}
	var all []gitrepo.RepoFile
	found := false
	for _, repo := range repos {
		scanned, err := gitrepo.ScanCodeFiles(repo.LocalPath)
		if err != nil {
			continue
		}
		found = true
		all = append(all, gitrepo.NamespaceFiles(repo.RepoName, repo.LocalPath, scanned)...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Path < all[j].Path })
	return all, found
}
