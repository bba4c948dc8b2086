// Package syncer merges freshly harvested rows into the canonical dataset kept
// in a remote store and writes the result back to the same resource.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dbsmedya/goharvest/internal/dataset"
	"github.com/dbsmedya/goharvest/internal/logger"
	"github.com/dbsmedya/goharvest/internal/remote"
	"github.com/dbsmedya/goharvest/internal/verifier"
)

// Sync actions reported in Result.Action.
const (
	ActionUpdate    = "update"
	ActionCreate    = "create"
	ActionUnchanged = "unchanged"
)

const defaultResourceName = "harvest.csv"

// Options controls one sync.
type Options struct {
	ResourceID string
	DedupKeys  []string
	Keep       dataset.Keep
	// SortBy names a time column to order the merged rows by. Empty keeps
	// merge order.
	SortBy string
	// Rename maps legacy column names to current ones. Applied in place to
	// both the remote and the new dataset before merging.
	Rename map[string]string
	// LocalCopy, when set, receives the merged CSV before the remote write.
	LocalCopy       string
	CreateOnMissing bool
	ParentID        string
	ResourceName    string
	SkipUnchanged   bool
}

// Result describes a completed sync.
type Result struct {
	Action       string
	ResourceID   string
	TotalRows    int
	OldRows      int
	NewRows      int
	Dropped      int
	MissingKeys  []string
	LocalCopy    string
	Verification *verifier.VerifyResult
}

// Engine performs merge-and-update syncs against one store.
type Engine struct {
	store    remote.Store
	verifier *verifier.Verifier
	logger   *logger.Logger
}

// NewEngine creates an Engine. v may be nil to skip post-upload verification.
func NewEngine(store remote.Store, v *verifier.Verifier, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.NewNop()
	}
	return &Engine{store: store, verifier: v, logger: log}
}

// Sync merges fresh into the dataset stored under opts.ResourceID and
// replaces the resource content with the result.
func (e *Engine) Sync(ctx context.Context, fresh *dataset.Dataset, opts Options) (*Result, error) {
	if opts.ResourceID == "" {
		return nil, &ConfigError{Field: "resource_id", Message: "is required when sync is enabled"}
	}
	if opts.Keep == "" {
		opts.Keep = dataset.KeepLast
	}
	if fresh == nil {
		fresh = dataset.New()
	}

	log := e.logger.WithFields(map[string]interface{}{"resource": opts.ResourceID})

	exists, err := e.store.Exists(ctx, opts.ResourceID)
	if err != nil {
		return nil, &SyncError{ResourceID: opts.ResourceID, Op: "lookup", Err: err}
	}
	target := opts.ResourceID
	creating := false
	if !exists {
		if !opts.CreateOnMissing {
			return nil, &SyncError{ResourceID: opts.ResourceID, Op: "lookup", Err: remote.ErrNotFound}
		}
		if opts.ParentID == "" {
			return nil, &ConfigError{Field: "parent_id", Message: "is required to create a missing resource"}
		}
		if opts.ResourceName == "" {
			opts.ResourceName = defaultResourceName
		}
		// a resource created by an earlier run is reused instead of duplicated
		id, found, err := e.store.Find(ctx, opts.ParentID, opts.ResourceName)
		if err != nil {
			return nil, &SyncError{ResourceID: opts.ResourceID, Op: "find", Err: err}
		}
		if found {
			log.Warnf("Remote resource %q not found, updating %q found under %q instead", opts.ResourceID, id, opts.ParentID)
			target = id
		} else {
			log.Warnf("Remote resource %q not found, a new one will be created under %q", opts.ResourceID, opts.ParentID)
			creating = true
		}
	}

	var raw []byte
	old := dataset.New()
	if !creating {
		raw, old = e.load(ctx, target)
	}

	old.Rename(opts.Rename)
	fresh.Rename(opts.Rename)

	merged := dataset.Merge(old, fresh, opts.DedupKeys, opts.Keep)
	if len(merged.MissingKeys) > 0 {
		if len(merged.KeyColumns) == 0 {
			log.Warnf("No dedup key column present %v, deduplicating on full rows", merged.MissingKeys)
		} else {
			log.Warnf("Dedup key columns %v missing, using %v", merged.MissingKeys, merged.KeyColumns)
		}
	}
	dataset.SortByTime(merged.Dataset, opts.SortBy)

	payload, err := dataset.Encode(merged.Dataset)
	if err != nil {
		return nil, fmt.Errorf("failed to encode merged dataset: %w", err)
	}

	result := &Result{
		ResourceID:  target,
		TotalRows:   merged.Dataset.Len(),
		OldRows:     merged.OldRows,
		NewRows:     merged.NewRows,
		Dropped:     merged.Dropped,
		MissingKeys: merged.MissingKeys,
	}
	log.Infof("Merged %d old + %d new rows into %d (dropped %d duplicates)",
		result.OldRows, result.NewRows, result.TotalRows, result.Dropped)

	if opts.LocalCopy != "" {
		if err := WriteLocal(opts.LocalCopy, payload); err != nil {
			return nil, fmt.Errorf("failed to write local copy: %w", err)
		}
		result.LocalCopy = opts.LocalCopy
		log.Infof("Local copy written to %s", opts.LocalCopy)
	}

	if opts.SkipUnchanged && !creating && raw != nil && verifier.HashBytes(raw) == verifier.HashBytes(payload) {
		result.Action = ActionUnchanged
		log.Info("Remote content unchanged, skipping upload")
		return result, nil
	}

	if creating {
		id, err := e.store.Create(ctx, opts.ParentID, opts.ResourceName, payload)
		if err != nil {
			return nil, &SyncError{ResourceID: opts.ResourceID, Op: "create", Err: err}
		}
		result.Action = ActionCreate
		result.ResourceID = id
		log.Warnf("Created new remote resource %q; set resource_id to it for the next run", id)
	} else {
		id, err := e.store.Update(ctx, target, payload)
		if err != nil {
			return nil, &SyncError{ResourceID: target, Op: "update", Err: err}
		}
		if id != "" && id != target {
			log.Warnf("Store reported id %q after update of %q", id, target)
		}
		result.Action = ActionUpdate
	}

	if e.verifier != nil {
		vr, err := e.verifier.Verify(ctx, result.ResourceID, payload, result.TotalRows)
		result.Verification = vr
		if err != nil {
			return result, &SyncError{ResourceID: result.ResourceID, Op: "verify", Err: err}
		}
	}

	log.Infow("Sync complete", "action", result.Action, "rows", result.TotalRows)
	return result, nil
}

// load fetches and decodes the current content. Empty or unreadable content
// is treated as an empty dataset.
func (e *Engine) load(ctx context.Context, id string) ([]byte, *dataset.Dataset) {
	raw, err := e.store.Fetch(ctx, id)
	if err != nil {
		if !errors.Is(err, remote.ErrNotFound) {
			e.logger.Warnf("Could not read remote dataset %q, starting empty: %v", id, err)
		}
		return nil, dataset.New()
	}
	if len(raw) == 0 {
		return nil, dataset.New()
	}
	d, err := dataset.Decode(raw)
	if err != nil {
		e.logger.Warnf("Remote dataset %q is not valid CSV, starting empty: %v", id, err)
		return raw, dataset.New()
	}
	return raw, d
}

// WriteLocal writes data to path, creating parent directories.
func WriteLocal(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}
