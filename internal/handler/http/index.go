package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/catalogsearch/internal/service"
	apperrors "github.com/utafrali/catalogsearch/pkg/errors"
	"github.com/utafrali/catalogsearch/pkg/httputil"
	"github.com/utafrali/catalogsearch/pkg/validator"
)

// IndexManager runs full and single-product index operations.
type IndexManager interface {
	Rebuild(ctx context.Context) (*service.IndexReport, error)
	Update(ctx context.Context) (*service.IndexReport, error)
	IndexProduct(ctx context.Context, id int64) error
	DeleteProduct(ctx context.Context, id int64) error
}

// ReindexRequest is the optional JSON body of a reindex request.
type ReindexRequest struct {
	Mode string `json:"mode" validate:"omitempty,oneof=rebuild update"`
}

// IndexHandler handles the index management endpoints.
type IndexHandler struct {
	indexer IndexManager
	logger  *slog.Logger
	running atomic.Bool
	wg      sync.WaitGroup
}

// NewIndexHandler creates a new index management handler.
func NewIndexHandler(indexer IndexManager, logger *slog.Logger) *IndexHandler {
	return &IndexHandler{
		indexer: indexer,
		logger:  logger,
	}
}

// Reindex handles POST /api/v1/search/reindex
//
// The pass runs in the background; a second request while one is running is
// rejected with 409.
func (h *IndexHandler) Reindex(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req ReindexRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}
	if req.Mode == "" {
		req.Mode = service.ModeRebuild
	}

	if !h.running.CompareAndSwap(false, true) {
		httputil.WriteError(w, r, apperrors.Conflict(service.ErrIndexingInProgress.Error()), h.logger)
		return
	}

	ctx := context.WithoutCancel(r.Context())
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer h.running.Store(false)
		h.run(ctx, req.Mode)
	}()

	httputil.WriteJSON(w, http.StatusAccepted, httputil.Response{Data: map[string]string{
		"status": "reindex started",
		"mode":   req.Mode,
	}})
}

func (h *IndexHandler) run(ctx context.Context, mode string) {
	var (
		report *service.IndexReport
		err    error
	)
	if mode == service.ModeUpdate {
		report, err = h.indexer.Update(ctx)
	} else {
		report, err = h.indexer.Rebuild(ctx)
	}

	if err != nil {
		h.logger.ErrorContext(ctx, "background reindex failed",
			slog.String("mode", mode),
			slog.String("error", err.Error()),
		)
		return
	}
	h.logger.InfoContext(ctx, "background reindex finished",
		slog.String("mode", report.Mode),
		slog.Int("indexed", report.Indexed),
		slog.Int("failed", report.Failed),
		slog.Duration("duration", report.Duration),
	)
}

// Wait blocks until background reindex passes have finished.
func (h *IndexHandler) Wait() {
	h.wg.Wait()
}

// IndexProduct handles POST /api/v1/search/products/{id}
func (h *IndexHandler) IndexProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	if err := h.indexer.IndexProduct(r.Context(), id); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]any{"id": id, "status": "indexed"}})
}

// DeleteProduct handles DELETE /api/v1/search/products/{id}
func (h *IndexHandler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	if err := h.indexer.DeleteProduct(r.Context(), id); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]any{"id": id, "status": "deleted"}})
}
