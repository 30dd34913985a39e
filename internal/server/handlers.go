package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"

	"github.com/maauso/filteredvideo/internal/events"
	"github.com/maauso/filteredvideo/internal/export"
	"github.com/maauso/filteredvideo/internal/export/id"
	"github.com/maauso/filteredvideo/internal/library"
	"github.com/maauso/filteredvideo/internal/media"
	"github.com/maauso/filteredvideo/internal/session"
	"github.com/maauso/filteredvideo/internal/storage"
)

// DefaultMaxUploadBytes limits POST /source/upload bodies.
const DefaultMaxUploadBytes int64 = 2 << 30

// SessionService is the part of the session the handlers drive.
type SessionService interface {
	SetSource(ctx context.Context, ref media.Reference) error
	StartExport(ctx context.Context, destination string) (*export.Job, error)
	Snapshot(ctx context.Context) (session.State, error)
	Job(ctx context.Context, id string) (*export.Job, error)
	Jobs(ctx context.Context) ([]*export.Job, error)
	DeleteJob(ctx context.Context, id string) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
}

// LibraryCatalog lists saved library assets.
type LibraryCatalog interface {
	List(ctx context.Context) ([]library.Asset, error)
	Get(ctx context.Context, id string) (library.Asset, error)
}

// FrameFeed delivers JPEG preview frames.
type FrameFeed interface {
	Subscribe() (<-chan []byte, func())
}

// EventFeed delivers session events.
type EventFeed interface {
	Subscribe() (<-chan events.Event, func())
}

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	session   SessionService
	store     storage.Storage
	library   LibraryCatalog
	frames    FrameFeed
	events    EventFeed
	validator *validator.Validate
	upgrader  websocket.Upgrader
	logger    *slog.Logger
	maxUpload int64

	// sourceMu serialises source changes so uploaded tracks the session.
	sourceMu sync.Mutex
	// uploaded is the cache file backing the current source, if it was uploaded.
	uploaded string
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithStorage enables POST /source/upload and GET /exports/{id}/video.
// Replaced uploads are deleted from store.
func WithStorage(store storage.Storage) HandlerOption {
	return func(h *Handlers) {
		h.store = store
	}
}

// WithLibrary enables the /library/assets routes.
func WithLibrary(catalog LibraryCatalog) HandlerOption {
	return func(h *Handlers) {
		h.library = catalog
	}
}

// WithMaxUploadBytes overrides DefaultMaxUploadBytes.
func WithMaxUploadBytes(n int64) HandlerOption {
	return func(h *Handlers) {
		if n > 0 {
			h.maxUpload = n
		}
	}
}

// WithPreview enables GET /preview.
func WithPreview(feed FrameFeed) HandlerOption {
	return func(h *Handlers) {
		h.frames = feed
	}
}

// WithEvents enables GET /events.
func WithEvents(feed EventFeed) HandlerOption {
	return func(h *Handlers) {
		h.events = feed
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(svc SessionService, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		session:   svc,
		validator: validator.New(),
		logger:    logger,
		maxUpload: DefaultMaxUploadBytes,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Origins are enforced by CORSMiddleware.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// GetSession handles GET /session requests.
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	st, err := h.session.Snapshot(r.Context())
	if err != nil {
		h.sessionError(w, "failed to read session", err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(st))
}

// SetSource handles POST /source requests.
func (h *Handlers) SetSource(w http.ResponseWriter, r *http.Request) {
	var req SetSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	ref, err := media.NewReference(req.Path, req.Name)
	if err != nil {
		if errors.Is(err, media.ErrNotMovie) {
			writeError(w, http.StatusUnsupportedMediaType, "only movies can be selected", "NOT_A_MOVIE")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}
	if info, err := os.Stat(ref.Path); err != nil || !info.Mode().IsRegular() {
		writeError(w, http.StatusBadRequest, "source file not found", "SOURCE_NOT_FOUND")
		return
	}

	h.selectSource(w, r, ref, false)
}

// UploadSource handles POST /source/upload requests with a multipart "video" field.
func (h *Handlers) UploadSource(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusNotFound, "uploads are disabled", "UPLOADS_DISABLED")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	file, header, err := r.FormFile("video")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large", "UPLOAD_TOO_LARGE")
			return
		}
		writeError(w, http.StatusBadRequest, "multipart field \"video\" is required", "MISSING_VIDEO")
		return
	}
	defer func() { _ = file.Close() }()

	if !media.IsMovie(header.Filename) {
		writeError(w, http.StatusUnsupportedMediaType, "only movies can be selected", "NOT_A_MOVIE")
		return
	}

	path, err := h.store.SaveTemp(r.Context(), header.Filename, file)
	if err != nil {
		h.logger.Error("failed to store upload",
			slog.String("filename", header.Filename),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to store upload", "UPLOAD_FAILED")
		return
	}

	ref, err := media.NewReference(path, header.Filename)
	if err != nil {
		h.discardUpload(path)
		writeError(w, http.StatusUnsupportedMediaType, "only movies can be selected", "NOT_A_MOVIE")
		return
	}

	h.logger.Info("video uploaded",
		slog.String("filename", header.Filename),
		slog.String("path", path),
		slog.Int64("size", header.Size),
	)
	h.selectSource(w, r, ref, true)
}

// selectSource makes ref the session source. When the source changes, the
// upload backing the previous one is deleted. An upload that is not selected
// is deleted too.
func (h *Handlers) selectSource(w http.ResponseWriter, r *http.Request, ref media.Reference, upload bool) {
	h.sourceMu.Lock()
	err := h.session.SetSource(r.Context(), ref)
	if err != nil {
		h.sourceMu.Unlock()
		if upload {
			h.discardUpload(ref.Path)
		}
		h.sessionError(w, "failed to set source", err)
		return
	}
	previous := h.uploaded
	switch {
	case upload:
		h.uploaded = ref.Path
	case ref.Path != previous:
		h.uploaded = ""
	}
	h.sourceMu.Unlock()
	if previous != "" && previous != ref.Path {
		h.discardUpload(previous)
	}

	st, err := h.session.Snapshot(r.Context())
	if err != nil {
		h.sessionError(w, "failed to read session", err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(st))
}

// CreateExport handles POST /exports requests.
func (h *Handlers) CreateExport(w http.ResponseWriter, r *http.Request) {
	job, err := h.session.StartExport(r.Context(), "")
	switch {
	case errors.Is(err, session.ErrNoSource):
		writeError(w, http.StatusConflict, "select a video first", "NO_SOURCE")
		return
	case errors.Is(err, session.ErrExportRunning):
		writeError(w, http.StatusConflict, "an export is already running", "EXPORT_RUNNING")
		return
	case err != nil:
		h.sessionError(w, "failed to start export", err)
		return
	}

	h.logger.Info("export requested", slog.String("job_id", job.ID))
	writeJSON(w, http.StatusAccepted, newExportResponse(job))
}

// GetExport handles GET /exports/{id} requests.
func (h *Handlers) GetExport(w http.ResponseWriter, r *http.Request) {
	jobID, ok := exportID(w, r)
	if !ok {
		return
	}

	job, err := h.session.Job(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, export.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "export not found", "EXPORT_NOT_FOUND")
			return
		}
		h.logger.Error("failed to get export",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get export", "EXPORT_FETCH_FAILED")
		return
	}

	writeJSON(w, http.StatusOK, newExportResponse(job))
}

// ListExports handles GET /exports requests.
func (h *Handlers) ListExports(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.session.Jobs(r.Context())
	if err != nil {
		h.logger.Error("failed to list exports", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list exports", "EXPORT_LIST_FAILED")
		return
	}
	resp := ListExportsResponse{Exports: make([]ExportResponse, 0, len(jobs))}
	for _, j := range jobs {
		resp.Exports = append(resp.Exports, newExportResponse(j))
	}
	writeJSON(w, http.StatusOK, resp)
}

// DeleteExport handles DELETE /exports/{id} requests.
func (h *Handlers) DeleteExport(w http.ResponseWriter, r *http.Request) {
	jobID, ok := exportID(w, r)
	if !ok {
		return
	}

	err := h.session.DeleteJob(r.Context(), jobID)
	switch {
	case errors.Is(err, export.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "export not found", "EXPORT_NOT_FOUND")
	case errors.Is(err, session.ErrJobActive):
		writeError(w, http.StatusConflict, "export is still running", "EXPORT_RUNNING")
	case err != nil:
		h.sessionError(w, "failed to delete export", err)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// DownloadExport handles GET /exports/{id}/video requests. Only the most recent
// export has a file, and only once it has completed.
func (h *Handlers) DownloadExport(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusNotFound, "downloads are disabled", "DOWNLOADS_DISABLED")
		return
	}
	jobID, ok := exportID(w, r)
	if !ok {
		return
	}

	job, err := h.session.Job(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, export.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "export not found", "EXPORT_NOT_FOUND")
			return
		}
		h.sessionError(w, "failed to get export", err)
		return
	}
	if job.Status != export.StatusCompleted {
		writeError(w, http.StatusConflict, "export has not completed", "EXPORT_NOT_READY")
		return
	}

	// Open before checking the session: a later export replaces the file,
	// and it can only do so after it becomes the last export.
	rc, err := h.store.LoadTemp(r.Context(), job.Destination)
	if err != nil {
		h.logger.Warn("export file unavailable",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusGone, "export file is no longer available", "EXPORT_GONE")
		return
	}
	defer func() { _ = rc.Close() }()

	st, err := h.session.Snapshot(r.Context())
	if err != nil {
		h.sessionError(w, "failed to read session", err)
		return
	}
	if st.LastJob != jobID {
		writeError(w, http.StatusGone, "export was replaced by a newer one", "EXPORT_GONE")
		return
	}

	w.Header().Set("Content-Type", "video/mp4")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("export download interrupted",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
}

// PausePreview handles POST /preview/pause requests.
func (h *Handlers) PausePreview(w http.ResponseWriter, r *http.Request) {
	h.setPlayback(w, r, h.session.Pause)
}

// ResumePreview handles POST /preview/play requests.
func (h *Handlers) ResumePreview(w http.ResponseWriter, r *http.Request) {
	h.setPlayback(w, r, h.session.Resume)
}

func (h *Handlers) setPlayback(w http.ResponseWriter, r *http.Request, fn func(context.Context) error) {
	if err := fn(r.Context()); err != nil {
		if errors.Is(err, session.ErrNoSource) {
			writeError(w, http.StatusConflict, "select a video first", "NO_SOURCE")
			return
		}
		h.sessionError(w, "failed to change playback", err)
		return
	}
	st, err := h.session.Snapshot(r.Context())
	if err != nil {
		h.sessionError(w, "failed to read session", err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(st))
}

// ListAssets handles GET /library/assets requests.
func (h *Handlers) ListAssets(w http.ResponseWriter, r *http.Request) {
	if h.library == nil {
		writeError(w, http.StatusNotFound, "library is disabled", "LIBRARY_DISABLED")
		return
	}
	assets, err := h.library.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list assets", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list assets", "ASSET_LIST_FAILED")
		return
	}
	resp := ListAssetsResponse{Assets: make([]AssetResponse, 0, len(assets))}
	for _, a := range assets {
		resp.Assets = append(resp.Assets, newAssetResponse(a))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetAsset handles GET /library/assets/{id} requests.
func (h *Handlers) GetAsset(w http.ResponseWriter, r *http.Request) {
	if h.library == nil {
		writeError(w, http.StatusNotFound, "library is disabled", "LIBRARY_DISABLED")
		return
	}
	assetID := r.PathValue("id")
	if assetID == "" {
		writeError(w, http.StatusBadRequest, "asset ID is required", "MISSING_ASSET_ID")
		return
	}

	a, err := h.library.Get(r.Context(), assetID)
	if err != nil {
		if errors.Is(err, library.ErrAssetNotFound) {
			writeError(w, http.StatusNotFound, "asset not found", "ASSET_NOT_FOUND")
			return
		}
		h.logger.Error("failed to get asset",
			slog.String("asset_id", assetID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get asset", "ASSET_FETCH_FAILED")
		return
	}
	writeJSON(w, http.StatusOK, newAssetResponse(a))
}

// exportID reads and validates the {id} path value, writing the error response
// when it is unusable.
func exportID(w http.ResponseWriter, r *http.Request) (string, bool) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "export ID is required", "MISSING_EXPORT_ID")
		return "", false
	}
	if !id.Valid(jobID) {
		writeError(w, http.StatusBadRequest, "malformed export ID", "INVALID_EXPORT_ID")
		return "", false
	}
	return jobID, true
}

// discardUpload deletes an upload that no longer backs the source.
func (h *Handlers) discardUpload(path string) {
	// Not tied to the request: the file goes even if the client has left.
	if err := h.store.CleanupTemp(context.Background(), []string{path}); err != nil {
		h.logger.Warn("failed to remove upload",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}

func (h *Handlers) sessionError(w http.ResponseWriter, msg string, err error) {
	if errors.Is(err, session.ErrClosed) {
		writeError(w, http.StatusServiceUnavailable, "session is shutting down", "SESSION_CLOSED")
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		writeError(w, http.StatusServiceUnavailable, "request cancelled", "REQUEST_CANCELLED")
		return
	}
	h.logger.Error(msg, slog.String("error", err.Error()))
	writeError(w, http.StatusInternalServerError, msg, "INTERNAL_ERROR")
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
