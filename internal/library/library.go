// Package library writes finished exports into the user's media library.
//
// Writes are gated by an Authorizer. A denied or restricted decision aborts the
// save without an error; only a successful save is reported back to the user.
package library

import (
	"errors"
	"time"
)

// Static errors for library operations.
var (
	// ErrInvalidAuthorization is returned when an authorization status cannot be parsed.
	ErrInvalidAuthorization = errors.New("invalid authorization status")
	// ErrAssetNotFound is returned when the index has no asset with the requested ID.
	ErrAssetNotFound = errors.New("asset not found")
	// ErrNotAuthorized is returned by Saver.Save when the authorizer reports an unknown status.
	ErrNotAuthorized = errors.New("library access not authorized")
)

// Backend names where an asset is stored.
type Backend string

const (
	// BackendDir stores assets in a local directory.
	BackendDir Backend = "dir"
	// BackendS3 stores assets in an S3 bucket.
	BackendS3 Backend = "s3"
)

// Asset is one video stored in the library.
type Asset struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Backend   Backend   `json:"backend"`
	Location  string    `json:"location"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// Alert text shown after a successful save.
const (
	SavedTitle   = "Video Saved"
	SavedMessage = "Video saved to your library"
	SavedButton  = "Got it"
)
