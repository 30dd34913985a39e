// Package server provides the HTTP surface of the filtered video session.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import (
	"time"

	"github.com/maauso/filteredvideo/internal/export"
	"github.com/maauso/filteredvideo/internal/library"
	"github.com/maauso/filteredvideo/internal/session"
)

// SetSourceRequest is the HTTP request body for selecting a video already on disk.
type SetSourceRequest struct {
	// Path is the location of the video on the server.
	Path string `json:"path" validate:"required,max=4096"`
	// Name is an optional display name. Defaults to the file name.
	Name string `json:"name" validate:"omitempty,max=255"`
}

// SourceResponse describes the selected video.
type SourceResponse struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

// SessionResponse is the HTTP response describing the session state.
type SessionResponse struct {
	// Source is the selected video, absent until one is set.
	Source *SourceResponse `json:"source,omitempty"`
	// Filter names the effect applied to the preview and the export.
	Filter string `json:"filter"`
	// ExportEnabled reports whether POST /exports would be accepted.
	ExportEnabled bool `json:"export_enabled"`
	// RunningExport is the ID of the export in progress.
	RunningExport string `json:"running_export,omitempty"`
	// LastExport is the ID of the most recently started export.
	LastExport string `json:"last_export,omitempty"`
	// Playing reports whether the preview is running.
	Playing bool `json:"playing"`
	// PositionMs is the preview position in milliseconds.
	PositionMs int64 `json:"position_ms"`
	// Loops counts how often the preview has restarted from the beginning.
	Loops int `json:"loops"`
	// Frames counts preview frames rendered from the current source.
	Frames int `json:"frames"`
}

// ExportResponse is the HTTP response for an export job.
type ExportResponse struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	Source      string     `json:"source"`
	Filter      string     `json:"filter"`
	Destination string     `json:"destination"`
	Progress    int        `json:"progress"`
	Error       string     `json:"error,omitempty"`
	AssetID     string     `json:"asset_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ListExportsResponse is the HTTP response for GET /exports.
type ListExportsResponse struct {
	Exports []ExportResponse `json:"exports"`
}

// AssetResponse describes a video saved to the library.
type AssetResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Backend   string    `json:"backend"`
	Location  string    `json:"location"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// ListAssetsResponse is the HTTP response for GET /library/assets.
type ListAssetsResponse struct {
	Assets []AssetResponse `json:"assets"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}

func newSessionResponse(st session.State) SessionResponse {
	resp := SessionResponse{
		Filter:        string(st.Filter),
		ExportEnabled: st.ExportEnabled,
		RunningExport: st.RunningJob,
		LastExport:    st.LastJob,
		Playing:       st.Playing,
		PositionMs:    st.Position.Milliseconds(),
		Loops:         st.Loops,
		Frames:        st.Frames,
	}
	if st.Source != nil {
		resp.Source = &SourceResponse{Path: st.Source.Path, Name: st.Source.Name}
	}
	return resp
}

func newExportResponse(j *export.Job) ExportResponse {
	resp := ExportResponse{
		ID:          j.ID,
		Status:      string(j.Status),
		Source:      j.SourcePath,
		Filter:      j.Filter,
		Destination: j.Destination,
		Progress:    j.Progress,
		Error:       j.Error,
		AssetID:     j.AssetID,
		CreatedAt:   j.CreatedAt,
	}
	if !j.StartedAt.IsZero() {
		t := j.StartedAt
		resp.StartedAt = &t
	}
	if !j.CompletedAt.IsZero() {
		t := j.CompletedAt
		resp.CompletedAt = &t
	}
	return resp
}

func newAssetResponse(a library.Asset) AssetResponse {
	return AssetResponse{
		ID:        a.ID,
		Name:      a.Name,
		Backend:   string(a.Backend),
		Location:  a.Location,
		SizeBytes: a.Size,
		CreatedAt: a.CreatedAt,
	}
}
