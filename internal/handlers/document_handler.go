package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mhismail3/pdfcombiner/internal/domain"
	"github.com/mhismail3/pdfcombiner/internal/middleware"
	"github.com/mhismail3/pdfcombiner/internal/pipeline"
	"github.com/mhismail3/pdfcombiner/internal/prefs"
)

const (
	// Upload cap keeps a single malformed request from exhausting memory.
	maxUploadBytes = 256 << 20
)

// DocumentHandler handles HTTP requests for document thumbnails
type DocumentHandler struct {
	pipeline *pipeline.ThumbnailPipeline
	prefs    *prefs.Store
	logger   *zap.Logger
}

// NewDocumentHandler creates a new document handler
func NewDocumentHandler(p *pipeline.ThumbnailPipeline, store *prefs.Store, logger *zap.Logger) *DocumentHandler {
	return &DocumentHandler{
		pipeline: p,
		prefs:    store,
		logger:   logger,
	}
}

// OpenDocument handles POST /documents. The body is the raw document bytes,
// the name comes from the X-Document-Name header (optional).
func (h *DocumentHandler) OpenDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	data, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes+1))
	if err != nil {
		h.logger.Error("failed to read request body",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		h.respondError(w, http.StatusBadRequest, "failed to read body", requestID)
		return
	}
	if len(data) == 0 {
		h.respondError(w, http.StatusBadRequest, "empty body", requestID)
		return
	}
	if len(data) > maxUploadBytes {
		h.respondError(w, http.StatusRequestEntityTooLarge, "document too large", requestID)
		return
	}

	name := r.Header.Get("X-Document-Name")
	if name == "" {
		name = "document.pdf"
	}

	info, err := h.pipeline.OpenDocument(ctx, name, data)
	if err != nil {
		h.logger.Error("failed to open document",
			zap.String("request_id", requestID),
			zap.String("name", name),
			zap.Error(err),
		)
		h.respondDomainError(w, err, requestID)
		return
	}

	h.respondJSON(w, http.StatusCreated, info, requestID)
}

// GetDocument handles GET /documents/{fingerprint}
func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	fingerprint := chi.URLParam(r, "fingerprint")
	if fingerprint == "" {
		h.respondError(w, http.StatusBadRequest, "fingerprint parameter is required", requestID)
		return
	}

	info, err := h.pipeline.Document(fingerprint)
	if err != nil {
		h.respondError(w, http.StatusNotFound, "document not open", requestID)
		return
	}

	h.respondJSON(w, http.StatusOK, info, requestID)
}

// CloseDocument handles DELETE /documents/{fingerprint}
func (h *DocumentHandler) CloseDocument(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	fingerprint := chi.URLParam(r, "fingerprint")
	if fingerprint == "" {
		h.respondError(w, http.StatusBadRequest, "fingerprint parameter is required", requestID)
		return
	}

	if err := h.pipeline.CloseDocument(fingerprint); err != nil {
		h.respondError(w, http.StatusNotFound, "document not open", requestID)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]string{"message": "document closed"}, requestID)
}

// GetThumbnail handles GET /documents/{fingerprint}/pages/{page}/thumbnail.
// Query parameters: width (required), height (optional, 0 keeps aspect ratio).
// Responds with JPEG bytes.
func (h *DocumentHandler) GetThumbnail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	fingerprint := chi.URLParam(r, "fingerprint")
	pageNumber, err := strconv.Atoi(chi.URLParam(r, "page"))
	if err != nil || pageNumber < 1 {
		h.respondError(w, http.StatusBadRequest, "page must be a positive integer", requestID)
		return
	}

	width, err := positiveQueryInt(r, "width", 153)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error(), requestID)
		return
	}
	height, err := nonNegativeQueryInt(r, "height", 0)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error(), requestID)
		return
	}

	bitmap, err := h.pipeline.FetchThumbnail(ctx, fingerprint, pageNumber, width, height)
	if err != nil {
		h.logger.Warn("thumbnail fetch failed",
			zap.String("request_id", requestID),
			zap.String("fingerprint", fingerprint),
			zap.Int("page", pageNumber),
			zap.Error(err),
		)
		h.respondDomainError(w, err, requestID)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("X-Request-ID", requestID)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	w.Write(bitmap)
}

// viewportRequest mirrors the scroll state the UI reports.
type viewportRequest struct {
	ScrollTop      float64 `json:"scroll_top"`
	ViewportHeight float64 `json:"viewport_height"`
	ContainerWidth float64 `json:"container_width"`
	ZoomLevel      float64 `json:"zoom_level"`
}

// HandleViewport handles POST /documents/{fingerprint}/viewport
func (h *DocumentHandler) HandleViewport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	fingerprint := chi.URLParam(r, "fingerprint")

	var req viewportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body", requestID)
		return
	}
	if req.ZoomLevel <= 0 {
		req.ZoomLevel = 1.0
	}

	plan, err := h.pipeline.HandleViewport(ctx, fingerprint, domain.ScrollState{
		ScrollTop:      req.ScrollTop,
		ViewportHeight: req.ViewportHeight,
		ContainerWidth: req.ContainerWidth,
		ZoomLevel:      req.ZoomLevel,
	})
	if err != nil {
		h.respondDomainError(w, err, requestID)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"no_op":      plan.NoOp,
		"pages":      plan.Pages,
		"dispatched": plan.Dispatched,
		"viewport":   plan.State,
	}, requestID)
}

// GetCachedPages handles GET /documents/{fingerprint}/cached-pages
func (h *DocumentHandler) GetCachedPages(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	fingerprint := chi.URLParam(r, "fingerprint")
	pages := h.pipeline.CachedPages(fingerprint)

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"fingerprint": fingerprint,
		"pages":       pages,
	}, requestID)
}

// mergeRequest lists the already-open documents to merge, in order.
type mergeRequest struct {
	Fingerprints []string `json:"fingerprints"`
}

// MergeDocuments handles POST /documents/merge. Responds with the merged
// document bytes.
func (h *DocumentHandler) MergeDocuments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	var req mergeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body", requestID)
		return
	}
	if len(req.Fingerprints) < 2 {
		h.respondError(w, http.StatusBadRequest, "at least two fingerprints are required", requestID)
		return
	}

	payloads := make([]*domain.DocumentPayload, 0, len(req.Fingerprints))
	for _, fp := range req.Fingerprints {
		p, err := h.pipeline.Payload(fp)
		if err != nil {
			h.respondError(w, http.StatusNotFound, fmt.Sprintf("document %s is not open", fp), requestID)
			return
		}
		payloads = append(payloads, p)
	}

	sub, err := h.pipeline.SubmitOperation(ctx, domain.Operation{
		Kind:     domain.OpMergeDocuments,
		Payloads: payloads,
	}, nil)
	if err != nil {
		h.respondDomainError(w, err, requestID)
		return
	}

	terminal, err := awaitTerminal(ctx, sub)
	if err != nil {
		h.respondDomainError(w, err, requestID)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("X-Request-ID", requestID)
	w.WriteHeader(http.StatusOK)
	w.Write(terminal.Output.Data)
}

// extractRequest lists the 1-based pages to pull into a new document.
type extractRequest struct {
	Pages []int `json:"pages"`
}

// ExtractPages handles POST /documents/{fingerprint}/extract. Responds with
// the extracted document bytes.
func (h *DocumentHandler) ExtractPages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	fingerprint := chi.URLParam(r, "fingerprint")

	var req extractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body", requestID)
		return
	}
	if len(req.Pages) == 0 {
		h.respondError(w, http.StatusBadRequest, "pages list is empty", requestID)
		return
	}

	p, err := h.pipeline.Payload(fingerprint)
	if err != nil {
		h.respondError(w, http.StatusNotFound, "document not open", requestID)
		return
	}

	sub, err := h.pipeline.SubmitOperation(ctx, domain.Operation{
		Kind:        domain.OpExtractPages,
		Payload:     p,
		PageIndices: req.Pages,
	}, nil)
	if err != nil {
		h.respondDomainError(w, err, requestID)
		return
	}

	terminal, err := awaitTerminal(ctx, sub)
	if err != nil {
		h.respondDomainError(w, err, requestID)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("X-Request-ID", requestID)
	w.WriteHeader(http.StatusOK)
	w.Write(terminal.Output.Data)
}

// GetZoom handles GET /prefs/zoom
func (h *DocumentHandler) GetZoom(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	h.respondJSON(w, http.StatusOK, map[string]float64{"zoom_level": h.prefs.ZoomLevel()}, requestID)
}

// zoomRequest carries the zoom level to persist.
type zoomRequest struct {
	ZoomLevel float64 `json:"zoom_level"`
}

// SetZoom handles PUT /prefs/zoom
func (h *DocumentHandler) SetZoom(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	var req zoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body", requestID)
		return
	}

	if err := h.prefs.SetZoomLevel(req.ZoomLevel); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error(), requestID)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]float64{"zoom_level": req.ZoomLevel}, requestID)
}

// awaitTerminal blocks until the submission delivers its terminal result.
func awaitTerminal(ctx context.Context, sub domain.Submission) (domain.OperationResult, error) {
	select {
	case <-ctx.Done():
		sub.Cancel()
		return domain.OperationResult{}, ctx.Err()
	case terminal, ok := <-sub.Result():
		if !ok {
			return domain.OperationResult{}, domain.ErrDispatchUnavailable
		}
		if terminal.Kind == domain.ResultFailed {
			return domain.OperationResult{}, terminal.Err
		}
		if terminal.Output == nil {
			terminal.Output = &domain.DocumentPayload{}
		}
		return terminal, nil
	}
}

func positiveQueryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return 0, fmt.Errorf("invalid %s parameter: must be a positive integer", name)
	}
	return v, nil
}

func nonNegativeQueryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid %s parameter: must be non-negative", name)
	}
	return v, nil
}

// respondDomainError maps domain errors to HTTP status codes
func (h *DocumentHandler) respondDomainError(w http.ResponseWriter, err error, requestID string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrPageOutOfRange):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrPasswordProtected):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrUnreadableDocument), errors.Is(err, domain.ErrEmptyDocument):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrDispatchUnavailable):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrRenderFailure):
		status = http.StatusInternalServerError
	}

	h.respondJSON(w, status, map[string]string{
		"error":      err.Error(),
		"kind":       domain.ErrorKind(err),
		"request_id": requestID,
	}, requestID)
}

// respondJSON sends a JSON response
func (h *DocumentHandler) respondJSON(w http.ResponseWriter, status int, data interface{}, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", requestID)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
	}
}

// respondError sends an error response
func (h *DocumentHandler) respondError(w http.ResponseWriter, status int, message, requestID string) {
	h.respondJSON(w, status, map[string]string{
		"error":      message,
		"request_id": requestID,
	}, requestID)
}
