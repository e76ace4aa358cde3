package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"prebuildd/appctx"
	"prebuildd/integrations"
	"prebuildd/models"
	"prebuildd/services"
	"prebuildd/usecases/prebuilds"
)

// PrebuildRetriggerer is the slice of the prebuild manager the dashboard
// drives.
type PrebuildRetriggerer interface {
	RetriggerPrebuild(ctx context.Context, prebuildID string) (*models.StartPrebuildResult, error)
	HasAutomatedPrebuilds(ctx context.Context, cloneURL string) (bool, error)
}

// DashboardHandler serves the bearer-token-authenticated configuration
// API: projects, their prebuilds, retriggering, and webhook installation.
type DashboardHandler struct {
	projectsService  services.ProjectsService
	prebuildsService services.PrebuildsService
	manager          PrebuildRetriggerer
	integrations     *integrations.Registry
}

func NewDashboardHandler(
	projectsService services.ProjectsService,
	prebuildsService services.PrebuildsService,
	manager PrebuildRetriggerer,
	registry *integrations.Registry,
) *DashboardHandler {
	return &DashboardHandler{
		projectsService:  projectsService,
		prebuildsService: prebuildsService,
		manager:          manager,
		integrations:     registry,
	}
}

type CreateProjectRequest struct {
	Name     string `json:"name"`
	CloneURL string `json:"clone_url"`
}

type ProjectSettingsRequest struct {
	KeepOutdatedPrebuildsRunning bool `json:"keep_outdated_prebuilds_running"`
	UseIncrementalPrebuilds      bool `json:"use_incremental_prebuilds"`
}

type AutomatedPrebuildsStatusResponse struct {
	CanInstall   bool `json:"can_install"`
	HasAutomated bool `json:"has_automated_prebuilds"`
}

func (h *DashboardHandler) HandleListProjects(w http.ResponseWriter, r *http.Request) {
	log.Printf("📋 List projects request received from %s", r.RemoteAddr)

	user, ok := appctx.GetUser(r.Context())
	if !ok {
		writeErrorResponse(w, "authentication required", http.StatusUnauthorized)
		return
	}

	projects, err := h.projectsService.GetProjectsForUser(r.Context(), user.ID)
	if err != nil {
		log.Printf("❌ Failed to list projects for user %s: %v", user.ID, err)
		writeErrorResponse(w, "failed to list projects", http.StatusInternalServerError)
		return
	}
	writeJSONResponse(w, http.StatusOK, projects)
}

func (h *DashboardHandler) HandleCreateProject(w http.ResponseWriter, r *http.Request) {
	log.Printf("📋 Create project request received from %s", r.RemoteAddr)

	user, ok := appctx.GetUser(r.Context())
	if !ok {
		writeErrorResponse(w, "authentication required", http.StatusUnauthorized)
		return
	}

	var req CreateProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" || req.CloneURL == "" {
		writeErrorResponse(w, "name and clone_url are required", http.StatusBadRequest)
		return
	}

	project, err := h.projectsService.CreateProject(r.Context(), req.Name, req.CloneURL, &user.ID, nil)
	if err != nil {
		log.Printf("❌ Failed to create project: %v", err)
		writeErrorResponse(w, "failed to create project", http.StatusInternalServerError)
		return
	}
	writeJSONResponse(w, http.StatusCreated, project)
}

func (h *DashboardHandler) HandleUpdateProjectSettings(w http.ResponseWriter, r *http.Request) {
	log.Printf("📋 Update project settings request received from %s", r.RemoteAddr)

	project, ok := h.ownedProject(w, r)
	if !ok {
		return
	}

	var req ProjectSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, "invalid request body", http.StatusBadRequest)
		return
	}

	settings := models.ProjectSettings{
		KeepOutdatedPrebuildsRunning: req.KeepOutdatedPrebuildsRunning,
		UseIncrementalPrebuilds:      req.UseIncrementalPrebuilds,
	}
	if err := h.projectsService.UpdateSettings(r.Context(), project.ID, settings); err != nil {
		log.Printf("❌ Failed to update settings for project %s: %v", project.ID, err)
		writeErrorResponse(w, "failed to update settings", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *DashboardHandler) HandleListPrebuilds(w http.ResponseWriter, r *http.Request) {
	log.Printf("📋 List prebuilds request received from %s", r.RemoteAddr)

	project, ok := h.ownedProject(w, r)
	if !ok {
		return
	}

	prebuildRows, err := h.prebuildsService.GetRecentPrebuildsForProject(r.Context(), project.ID, 50)
	if err != nil {
		log.Printf("❌ Failed to list prebuilds for project %s: %v", project.ID, err)
		writeErrorResponse(w, "failed to list prebuilds", http.StatusInternalServerError)
		return
	}
	writeJSONResponse(w, http.StatusOK, prebuildRows)
}

func (h *DashboardHandler) HandleRetriggerPrebuild(w http.ResponseWriter, r *http.Request) {
	log.Printf("🚀 Retrigger prebuild request received from %s", r.RemoteAddr)

	if _, ok := appctx.GetUser(r.Context()); !ok {
		writeErrorResponse(w, "authentication required", http.StatusUnauthorized)
		return
	}

	prebuildID := mux.Vars(r)["prebuildId"]
	result, err := h.manager.RetriggerPrebuild(r.Context(), prebuildID)
	if err != nil {
		if prebuilds.IsWorkspaceRunningError(err) {
			writeErrorResponse(w, "build workspace is still running", http.StatusConflict)
			return
		}
		log.Printf("❌ Failed to retrigger prebuild %s: %v", prebuildID, err)
		writeErrorResponse(w, "failed to retrigger prebuild", http.StatusInternalServerError)
		return
	}
	writeJSONResponse(w, http.StatusOK, result)
}

func (h *DashboardHandler) HandleAutomatedPrebuildsStatus(w http.ResponseWriter, r *http.Request) {
	log.Printf("📋 Automated prebuilds status request received from %s", r.RemoteAddr)

	user, ok := appctx.GetUser(r.Context())
	if !ok {
		writeErrorResponse(w, "authentication required", http.StatusUnauthorized)
		return
	}
	cloneURL := r.URL.Query().Get("clone_url")
	if cloneURL == "" {
		writeErrorResponse(w, "clone_url is required", http.StatusBadRequest)
		return
	}

	integration, err := h.integrations.ResolveForCloneURL(cloneURL)
	if err != nil {
		writeErrorResponse(w, "unsupported repository host", http.StatusBadRequest)
		return
	}

	canInstall, err := integration.CanInstallAutomatedPrebuilds(r.Context(), user, cloneURL)
	if err != nil {
		log.Printf("❌ Failed to check install permission for %s: %v", cloneURL, err)
		writeErrorResponse(w, "failed to check permissions", http.StatusInternalServerError)
		return
	}
	hasAutomated, err := h.manager.HasAutomatedPrebuilds(r.Context(), cloneURL)
	if err != nil {
		log.Printf("❌ Failed to check automated prebuilds for %s: %v", cloneURL, err)
		writeErrorResponse(w, "failed to check prebuild status", http.StatusInternalServerError)
		return
	}

	writeJSONResponse(w, http.StatusOK, AutomatedPrebuildsStatusResponse{
		CanInstall:   canInstall,
		HasAutomated: hasAutomated,
	})
}

func (h *DashboardHandler) HandleInstallAutomatedPrebuilds(w http.ResponseWriter, r *http.Request) {
	log.Printf("🔐 Install automated prebuilds request received from %s", r.RemoteAddr)

	user, ok := appctx.GetUser(r.Context())
	if !ok {
		writeErrorResponse(w, "authentication required", http.StatusUnauthorized)
		return
	}

	project, ok := h.ownedProject(w, r)
	if !ok {
		return
	}

	integration, err := h.integrations.ResolveForCloneURL(project.CloneURL)
	if err != nil {
		writeErrorResponse(w, "unsupported repository host", http.StatusBadRequest)
		return
	}

	canInstall, err := integration.CanInstallAutomatedPrebuilds(r.Context(), user, project.CloneURL)
	if err != nil {
		log.Printf("❌ Failed to check install permission for %s: %v", project.CloneURL, err)
		writeErrorResponse(w, "failed to check permissions", http.StatusInternalServerError)
		return
	}
	if !canInstall {
		writeErrorResponse(w, "insufficient repository permissions", http.StatusForbidden)
		return
	}

	result, err := integration.InstallAutomatedPrebuilds(r.Context(), user, project.CloneURL)
	if err != nil {
		log.Printf("❌ Failed to install automated prebuilds for %s: %v", project.CloneURL, err)
		writeErrorResponse(w, "failed to install webhook", http.StatusInternalServerError)
		return
	}

	log.Printf("✅ Automated prebuilds installed for %s (hook: %s)", project.CloneURL, result.HookID)
	writeJSONResponse(w, http.StatusOK, result)
}

func (h *DashboardHandler) HandleUninstallAutomatedPrebuilds(w http.ResponseWriter, r *http.Request) {
	log.Printf("🛑 Uninstall automated prebuilds request received from %s", r.RemoteAddr)

	user, ok := appctx.GetUser(r.Context())
	if !ok {
		writeErrorResponse(w, "authentication required", http.StatusUnauthorized)
		return
	}

	project, ok := h.ownedProject(w, r)
	if !ok {
		return
	}

	integration, err := h.integrations.ResolveForCloneURL(project.CloneURL)
	if err != nil {
		writeErrorResponse(w, "unsupported repository host", http.StatusBadRequest)
		return
	}

	if err := integration.UninstallAutomatedPrebuilds(r.Context(), user, project.CloneURL); err != nil {
		log.Printf("❌ Failed to uninstall automated prebuilds for %s: %v", project.CloneURL, err)
		writeErrorResponse(w, "failed to uninstall webhook", http.StatusInternalServerError)
		return
	}

	log.Printf("✅ Automated prebuilds uninstalled for %s", project.CloneURL)
	w.WriteHeader(http.StatusNoContent)
}

// ownedProject loads the project in the route and checks the caller owns
// it. On failure the response is already written.
func (h *DashboardHandler) ownedProject(w http.ResponseWriter, r *http.Request) (*models.Project, bool) {
	user, ok := appctx.GetUser(r.Context())
	if !ok {
		writeErrorResponse(w, "authentication required", http.StatusUnauthorized)
		return nil, false
	}

	projectID := mux.Vars(r)["projectId"]
	projectOpt, err := h.projectsService.GetProjectByID(r.Context(), projectID)
	if err != nil {
		log.Printf("❌ Failed to load project %s: %v", projectID, err)
		writeErrorResponse(w, "failed to load project", http.StatusInternalServerError)
		return nil, false
	}
	project, found := projectOpt.Get()
	if !found {
		writeErrorResponse(w, "project not found", http.StatusNotFound)
		return nil, false
	}

	ownerID, err := h.projectsService.GetProjectOwnerUserID(r.Context(), project)
	if err != nil {
		log.Printf("❌ Failed to resolve owner of project %s: %v", projectID, err)
		writeErrorResponse(w, "failed to load project", http.StatusInternalServerError)
		return nil, false
	}
	if ownerID != user.ID {
		writeErrorResponse(w, "project not found", http.StatusNotFound)
		return nil, false
	}
	return project, true
}
