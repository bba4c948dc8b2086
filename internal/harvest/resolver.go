package harvest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dbsmedya/goharvest/internal/logger"
	"github.com/dbsmedya/goharvest/internal/page"
	"github.com/dbsmedya/goharvest/internal/types"
)

// ResolverConfig configures catalog discovery.
type ResolverConfig struct {
	Selector            string
	PlaceholderPrefixes []string
	MaxTries            int
	MinCatalogSize      int
	DiagnosticsDir      string
}

// Resolver discovers the entities offered by the view's enumeration control.
type Resolver struct {
	driver page.Driver
	cfg    ResolverConfig
	logger *logger.Logger
	now    func() time.Time
}

// NewResolver creates a Resolver. Non-positive limits fall back to one try and
// a catalog of at least one entity.
func NewResolver(driver page.Driver, cfg ResolverConfig, log *logger.Logger) *Resolver {
	if cfg.MaxTries < 1 {
		cfg.MaxTries = 1
	}
	if cfg.MinCatalogSize < 1 {
		cfg.MinCatalogSize = 1
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Resolver{driver: driver, cfg: cfg, logger: log, now: time.Now}
}

// Resolve locates the enumeration control and reads its options into a
// catalog. A catalog smaller than MinCatalogSize is not trusted: the view is
// reloaded and discovery retried up to MaxTries times.
func (r *Resolver) Resolve(ctx context.Context) (*types.EntityCatalog, error) {
	var (
		lastErr error
		found   int
	)

	for try := 1; try <= r.cfg.MaxTries; try++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		handles, err := r.readCatalog(ctx)
		// repeated labels collapse, so the threshold applies to distinct entities
		catalog := types.NewEntityCatalog(handles)
		found = catalog.Len()
		switch {
		case err != nil:
			lastErr = err
			r.logger.Warnw("Entity control not available", "try", try, "error", err)
		case found >= r.cfg.MinCatalogSize:
			r.logger.Infow("Entity catalog resolved", "try", try, "entities", found, "options", len(handles))
			return catalog, nil
		default:
			lastErr = nil
			r.logger.Warnw("Entity catalog incomplete", "try", try, "found", found, "required", r.cfg.MinCatalogSize)
		}

		if try < r.cfg.MaxTries {
			if err := r.driver.Reload(ctx); err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				lastErr = err
				r.logger.Warnw("Reload failed during discovery", "try", try, "error", err)
			}
		}
	}

	derr := &DiscoveryError{
		Selector: r.cfg.Selector,
		Tries:    r.cfg.MaxTries,
		Found:    found,
		Required: r.cfg.MinCatalogSize,
		Err:      lastErr,
	}
	if path, err := r.writeSnapshot(); err != nil {
		r.logger.Warnw("Failed to write diagnostic snapshot", "error", err)
	} else {
		derr.Snapshot = path
	}
	return nil, derr
}

func (r *Resolver) readCatalog(ctx context.Context) ([]types.EntityHandle, error) {
	h, err := r.driver.Locate(ctx, r.cfg.Selector)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, fmt.Errorf("selector %q matched nothing", r.cfg.Selector)
	}

	var handles []types.EntityHandle
	for _, opt := range h.Options() {
		if opt.Label == "" || opt.Value == "" || r.isPlaceholder(opt.Label) {
			continue
		}
		handles = append(handles, types.EntityHandle{Name: opt.Label, SelectionValue: opt.Value})
	}
	return handles, nil
}

func (r *Resolver) isPlaceholder(label string) bool {
	lower := strings.ToLower(label)
	for _, prefix := range r.cfg.PlaceholderPrefixes {
		if prefix != "" && strings.HasPrefix(lower, strings.ToLower(prefix)) {
			return true
		}
	}
	return false
}

// writeSnapshot dumps the current view when the driver supports it and a
// diagnostics directory is configured. It returns "" when nothing was written.
func (r *Resolver) writeSnapshot() (string, error) {
	snap, ok := r.driver.(page.Snapshotter)
	if !ok || r.cfg.DiagnosticsDir == "" {
		return "", nil
	}
	data, err := snap.Snapshot()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(r.cfg.DiagnosticsDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(r.cfg.DiagnosticsDir,
		fmt.Sprintf("discovery_%s.html", r.now().Format("20060102_150405")))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
