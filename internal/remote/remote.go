// Package remote provides the tabular stores the canonical dataset lives in.
package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dbsmedya/goharvest/internal/config"
	"github.com/dbsmedya/goharvest/internal/logger"
)

// ErrNotFound is returned when a resource does not exist.
var ErrNotFound = errors.New("remote resource not found")

// Store is a whole-resource tabular store. Resources are addressed by a
// stable identifier that Update never changes.
type Store interface {
	// Exists reports whether the resource exists and is accessible.
	Exists(ctx context.Context, id string) (bool, error)

	// Fetch returns the resource content. Empty content is returned as nil.
	Fetch(ctx context.Context, id string) ([]byte, error)

	// Update replaces the content of an existing resource and returns its id.
	Update(ctx context.Context, id string, data []byte) (string, error)

	// Find looks up a resource by name under parentID. It reports false
	// when no such resource exists.
	Find(ctx context.Context, parentID, name string) (string, bool, error)

	// Create allocates a new resource under parentID and returns its id.
	Create(ctx context.Context, parentID, name string, data []byte) (string, error)
}

// New builds the store selected by cfg.Backend.
func New(cfg config.RemoteConfig, log *logger.Logger) (Store, error) {
	switch cfg.Backend {
	case "drive", "":
		return NewDriveStore(DriveOptions{
			BaseURL:     cfg.Drive.BaseURL,
			AccessToken: cfg.Drive.AccessToken,
			MimeType:    cfg.Drive.MimeType,
			Retries:     cfg.Drive.Retries,
			Timeout:     time.Duration(cfg.Drive.TimeoutSeconds * float64(time.Second)),
		}, log), nil
	case "file":
		if cfg.File.Root == "" {
			return nil, fmt.Errorf("remote.file.root is required for the file backend")
		}
		return NewFileStore(cfg.File.Root), nil
	default:
		return nil, fmt.Errorf("unknown remote backend %q", cfg.Backend)
	}
}
