// Package httpapi exposes the cycle service and data exports over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"

	"github.com/go-chi/chi/v5"

	"cyclekeeper/internal/core"
	"cyclekeeper/internal/export"
	"cyclekeeper/internal/platform/auth"
	"cyclekeeper/pkg/domain"
)

const maxBodyBytes = 1 << 20

// CycleService is the cycle surface the handlers call. *core.Service
// satisfies it.
type CycleService interface {
	CreateCycle(ctx context.Context, owner string, in core.CycleInput) (domain.CycleAggregate, domain.Result, error)
	GetCycle(ctx context.Context, owner, cycleID string) (domain.CycleAggregate, error)
	ListCycles(ctx context.Context, owner string) ([]domain.CycleAggregate, error)
	UpdateCycleMeta(ctx context.Context, owner, cycleID string, patch core.CycleMetaPatch) (domain.CycleAggregate, domain.Result, error)
	DeleteCycle(ctx context.Context, owner, cycleID string) (domain.Result, error)
	AddInjection(ctx context.Context, owner, cycleID string, in core.InjectionInput) (domain.Injection, domain.Result, error)
	UpdateInjection(ctx context.Context, owner, cycleID, injectionID string, patch core.InjectionPatch) (domain.Injection, domain.Result, error)
	DeleteInjection(ctx context.Context, owner, cycleID, injectionID string) (domain.Result, error)
	UpsertRetrieval(ctx context.Context, owner, cycleID string, r domain.Retrieval) (domain.CycleAggregate, domain.Result, error)
	UpsertFertilization(ctx context.Context, owner, cycleID string, f domain.Fertilization) (domain.CycleAggregate, domain.Result, error)
	UpsertCulture(ctx context.Context, owner, cycleID string, c domain.Culture) (domain.CycleAggregate, domain.Result, error)
	UpsertTransfer(ctx context.Context, owner, cycleID string, t domain.Transfer) (domain.CycleAggregate, domain.Result, error)
	UpsertFreeze(ctx context.Context, owner, cycleID string, f domain.Freeze) (domain.CycleAggregate, domain.Result, error)
	UpsertPGT(ctx context.Context, owner, cycleID string, p domain.PGT) (domain.CycleAggregate, domain.Result, error)
}

// ExportService produces and serves export artifacts. *export.Service
// satisfies it.
type ExportService interface {
	Export(ctx context.Context, owner string, formats []export.Format) ([]export.Artifact, error)
	ListExports(ctx context.Context, owner string) ([]export.Artifact, error)
	Download(ctx context.Context, owner, key string) (export.Artifact, io.ReadCloser, error)
	Link(ctx context.Context, owner, key string) (string, error)
}

var (
	_ CycleService  = (*core.Service)(nil)
	_ ExportService = (*export.Service)(nil)
)

// Handler implements the API endpoints.
type Handler struct {
	cycles  CycleService
	exports ExportService
	logger  *slog.Logger
}

// NewHandler builds a handler. exports may be nil, which disables the export
// endpoints.
func NewHandler(cycles CycleService, exports ExportService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{cycles: cycles, exports: exports, logger: logger}
}

// owner reads the authenticated owner placed by auth.RequireAuth.
func owner(r *http.Request) string {
	o, _ := auth.OwnerFromContext(r.Context())
	return o
}

// decode reads a JSON body into dst and checks its struct tags.
func decode(w http.ResponseWriter, r *http.Request, entity domain.EntityType, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return domain.InvalidInput(entity, "body", fmt.Sprintf("malformed JSON: %v", err))
	}
	return domain.Validate(entity, dst)
}

func (h *Handler) listCycles(w http.ResponseWriter, r *http.Request) {
	aggs, err := h.cycles.ListCycles(r.Context(), owner(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]cycleResponse, 0, len(aggs))
	for _, agg := range aggs {
		out = append(out, newCycleResponse(agg, domain.Result{}))
	}
	writeJSON(w, http.StatusOK, map[string]any{"cycles": out})
}

func (h *Handler) createCycle(w http.ResponseWriter, r *http.Request) {
	var req createCycleRequest
	if err := decode(w, r, domain.EntityCycle, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	agg, res, err := h.cycles.CreateCycle(r.Context(), owner(r), req.input())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newCycleResponse(agg, res))
}

func (h *Handler) getCycle(w http.ResponseWriter, r *http.Request) {
	agg, err := h.cycles.GetCycle(r.Context(), owner(r), chi.URLParam(r, "cycleID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCycleResponse(agg, domain.Result{}))
}

func (h *Handler) patchCycle(w http.ResponseWriter, r *http.Request) {
	var req patchCycleRequest
	if err := decode(w, r, domain.EntityCycle, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	agg, res, err := h.cycles.UpdateCycleMeta(r.Context(), owner(r), chi.URLParam(r, "cycleID"), req.patch())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCycleResponse(agg, res))
}

func (h *Handler) deleteCycle(w http.ResponseWriter, r *http.Request) {
	if _, err := h.cycles.DeleteCycle(r.Context(), owner(r), chi.URLParam(r, "cycleID")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) addInjection(w http.ResponseWriter, r *http.Request) {
	var req injectionRequest
	if err := decode(w, r, domain.EntityInjection, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	inj, _, err := h.cycles.AddInjection(r.Context(), owner(r), chi.URLParam(r, "cycleID"), core.InjectionInput(req))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, inj)
}

func (h *Handler) patchInjection(w http.ResponseWriter, r *http.Request) {
	var req injectionPatchRequest
	if err := decode(w, r, domain.EntityInjection, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	inj, _, err := h.cycles.UpdateInjection(r.Context(), owner(r),
		chi.URLParam(r, "cycleID"), chi.URLParam(r, "injectionID"), core.InjectionPatch(req))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inj)
}

func (h *Handler) deleteInjection(w http.ResponseWriter, r *http.Request) {
	if _, err := h.cycles.DeleteInjection(r.Context(), owner(r), chi.URLParam(r, "cycleID"), chi.URLParam(r, "injectionID")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// upsert decodes a stage request of type Req and hands the record to write.
func upsert[Req any, Rec any](h *Handler, entity domain.EntityType, toRecord func(Req) Rec,
	write func(ctx context.Context, owner, cycleID string, rec Rec) (domain.CycleAggregate, domain.Result, error),
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req Req
		if err := decode(w, r, entity, &req); err != nil {
			h.writeError(w, r, err)
			return
		}
		agg, res, err := write(r.Context(), owner(r), chi.URLParam(r, "cycleID"), toRecord(req))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, newCycleResponse(agg, res))
	}
}

func (h *Handler) createExport(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if err := decode(w, r, "export", &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	formats := make([]export.Format, 0, len(req.Formats))
	for _, f := range req.Formats {
		formats = append(formats, export.Format(f))
	}
	artifacts, err := h.exports.Export(r.Context(), owner(r), formats)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"artifacts": artifacts})
}

func (h *Handler) listExports(w http.ResponseWriter, r *http.Request) {
	artifacts, err := h.exports.ListExports(r.Context(), owner(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"artifacts": artifacts})
}

func (h *Handler) downloadExport(w http.ResponseWriter, r *http.Request) {
	artifact, rc, err := h.exports.Download(r.Context(), owner(r), r.URL.Query().Get("key"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", artifact.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", path.Base(artifact.Key)))
	if artifact.Size > 0 {
		w.Header().Set("Content-Length", fmt.Sprint(artifact.Size))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil && !errors.Is(err, context.Canceled) {
		h.logger.WarnContext(r.Context(), "export download interrupted", "key", artifact.Key, "error", err)
	}
}

func (h *Handler) linkExport(w http.ResponseWriter, r *http.Request) {
	url, err := h.exports.Link(r.Context(), owner(r), r.URL.Query().Get("key"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}
