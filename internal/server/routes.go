package server

import (
	"log/slog"
	"net/http"
)

// Config contains server configuration options.
type Config struct {
	// AllowedOrigins is the list of allowed CORS origins.
	AllowedOrigins []string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins: []string{"*"},
	}
}

// NewRouter creates a new HTTP router with all routes configured.
// It uses Go 1.22+ ServeMux with method-based routing.
func NewRouter(h *Handlers, logger *slog.Logger, cfg Config) http.Handler {
	mux := http.NewServeMux()

	// Register routes with method-based patterns (Go 1.22+)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /session", h.GetSession)
	mux.HandleFunc("POST /source", h.SetSource)
	mux.HandleFunc("POST /source/upload", h.UploadSource)
	mux.HandleFunc("POST /exports", h.CreateExport)
	mux.HandleFunc("GET /exports", h.ListExports)
	mux.HandleFunc("GET /exports/{id}", h.GetExport)
	mux.HandleFunc("DELETE /exports/{id}", h.DeleteExport)
	mux.HandleFunc("GET /exports/{id}/video", h.DownloadExport)
	mux.HandleFunc("GET /preview", h.Preview)
	mux.HandleFunc("POST /preview/pause", h.PausePreview)
	mux.HandleFunc("POST /preview/play", h.ResumePreview)
	mux.HandleFunc("GET /library/assets", h.ListAssets)
	mux.HandleFunc("GET /library/assets/{id}", h.GetAsset)
	mux.HandleFunc("GET /events", h.Events)

	// Apply middleware chain
	chain := ChainMiddleware(
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
		CORSMiddleware(cfg.AllowedOrigins),
	)

	return chain(mux)
}
