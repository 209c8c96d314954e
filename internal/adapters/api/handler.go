// Package api exposes the scantrack service over HTTP JSON endpoints.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"scantrack/internal/core"
	"scantrack/pkg/domain"
)

// Handler provides HTTP access to the scantrack service.
type Handler struct {
	svc *core.Service
	log *slog.Logger
	mux *http.ServeMux
}

// NewHandler constructs the API handler and registers its routes.
func NewHandler(svc *core.Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	h := &Handler{svc: svc, log: log, mux: http.NewServeMux()}
	h.routes()
	return h
}

func (h *Handler) routes() {
	h.mux.HandleFunc("POST /api/v1/scan/{beamline}", h.handleScan)
	h.mux.HandleFunc("GET /api/v1/visit/{beamline}", h.handleVisit)
	h.mux.HandleFunc("POST /api/v1/beamlines", h.handleRegisterBeamline)
	h.mux.HandleFunc("GET /api/v1/beamlines", h.handleListBeamlines)
	h.mux.HandleFunc("GET /api/v1/beamlines/{name}", h.handleGetBeamline)
	h.mux.HandleFunc("PUT /api/v1/beamlines/{name}/templates", h.handleUpdateTemplates)
	h.mux.HandleFunc("PUT /api/v1/beamlines/{name}/directory", h.handleSetDirectory)
	h.mux.HandleFunc("POST /api/v1/templates", h.handleCreateTemplate)
	h.mux.HandleFunc("GET /api/v1/templates", h.handleListTemplates)
	h.mux.HandleFunc("GET /healthz", h.handleHealth)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

type scanRequest struct {
	Visit        string   `json:"visit"`
	Subdirectory string   `json:"subdirectory,omitempty"`
	Detectors    []string `json:"detectors,omitempty"`
}

func (h *Handler) handleScan(w http.ResponseWriter, r *http.Request) {
	beamline := r.PathValue("beamline")
	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Visit == "" {
		writeError(w, http.StatusBadRequest, "visit required")
		return
	}
	res, err := h.svc.ResolvePaths(r.Context(), beamline, req.Visit, core.ResolveOptions{
		Subdirectory: req.Subdirectory,
		Detectors:    req.Detectors,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleVisit(w http.ResponseWriter, r *http.Request) {
	beamline := r.PathValue("beamline")
	visit := r.URL.Query().Get("visit")
	if visit == "" {
		writeError(w, http.StatusBadRequest, "visit query parameter required")
		return
	}
	dir, err := h.svc.VisitDirectory(r.Context(), beamline, visit)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"beamline":  beamline,
		"visit":     visit,
		"directory": dir,
	})
}

type registerBeamlineRequest struct {
	Name      string              `json:"name"`
	Templates domain.TemplateRefs `json:"templates"`
}

func (h *Handler) handleRegisterBeamline(w http.ResponseWriter, r *http.Request) {
	var req registerBeamlineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name required")
		return
	}
	beamline, err := h.svc.RegisterBeamline(r.Context(), req.Name, req.Templates)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, beamline)
}

func (h *Handler) handleListBeamlines(w http.ResponseWriter, r *http.Request) {
	beamlines, err := h.svc.ListBeamlines(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"beamlines": beamlines})
}

func (h *Handler) handleGetBeamline(w http.ResponseWriter, r *http.Request) {
	beamline, err := h.svc.GetBeamline(r.Context(), r.PathValue("name"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, beamline)
}

func (h *Handler) handleUpdateTemplates(w http.ResponseWriter, r *http.Request) {
	var refs domain.TemplateRefs
	if err := json.NewDecoder(r.Body).Decode(&refs); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	beamline, err := h.svc.UpdateTemplates(r.Context(), r.PathValue("name"), refs)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, beamline)
}

type directoryRequest struct {
	Directory string `json:"directory"`
	Extension string `json:"extension"`
}

func (h *Handler) handleSetDirectory(w http.ResponseWriter, r *http.Request) {
	var req directoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Directory == "" || req.Extension == "" {
		writeError(w, http.StatusBadRequest, "directory and extension required")
		return
	}
	entry, err := h.svc.SetDirectory(r.Context(), r.PathValue("name"), req.Directory, req.Extension)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

type templateRequest struct {
	Kind    domain.TemplateKind `json:"kind"`
	Content string              `json:"content"`
}

func (h *Handler) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req templateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	tpl, err := h.svc.CreateTemplate(r.Context(), req.Kind, req.Content)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tpl)
}

func (h *Handler) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	kind := domain.TemplateKind(r.URL.Query().Get("kind"))
	kinds := domain.Kinds()
	if kind != "" {
		if !kind.Valid() {
			writeError(w, http.StatusBadRequest, "unknown template kind")
			return
		}
		kinds = []domain.TemplateKind{kind}
	}
	out := make(map[string][]domain.Template, len(kinds))
	for _, k := range kinds {
		templates, err := h.svc.ListTemplates(r.Context(), k)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		out[string(k)] = templates
	}
	writeJSON(w, http.StatusOK, map[string]any{"templates": out})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeServiceError maps the typed error taxonomy onto HTTP statuses.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", "error", err)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.As(err, &domain.ErrNotFound{}):
		return http.StatusNotFound
	case errors.As(err, &domain.ErrDuplicateBeamline{}),
		errors.As(err, &domain.ErrDuplicateDirectory{}),
		errors.As(err, &domain.ErrConflict{}):
		return http.StatusConflict
	case errors.As(err, &domain.ErrMissingTemplate{}),
		errors.As(err, &domain.ErrUnresolvedPlaceholder{}),
		errors.As(err, &domain.ErrInvalidTemplate{}),
		errors.As(err, &domain.ErrInvalidSubdirectory{}),
		errors.As(err, &domain.ErrInvalidReference{}):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
