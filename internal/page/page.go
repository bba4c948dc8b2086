// Package page drives the rendered front-end that entities are harvested from.
//
// A view is a tree of Contexts: the top-level document plus any nested
// frames. Elements are addressed through Handles which are only valid for
// the view generation they were located in; any navigation (selection,
// reload, readiness poll) starts a new generation.
package page

import (
	"context"
	"errors"
	"time"

	"github.com/PuerkitoBio/goquery"
)

var (
	// ErrStaleHandle is returned when a Handle from an earlier view generation is used.
	ErrStaleHandle = errors.New("stale element handle")

	// ErrNotOpen is returned when the driver is used before Open.
	ErrNotOpen = errors.New("page driver not opened")
)

// Predicate reports whether a view satisfies a readiness condition.
type Predicate func(view *goquery.Document) bool

// Context is one rendering context of the view, either the top-level
// document or a nested frame.
type Context interface {
	// Name identifies the context in logs (URL or frame source).
	Name() string

	// Locate returns the first element matching selector, or nil.
	Locate(selector string) *Handle

	// Children returns the nested contexts directly embedded in this one.
	Children(ctx context.Context) ([]Context, error)
}

// Handle references an element located in a specific view generation.
type Handle struct {
	Selection  *goquery.Selection
	Context    Context
	generation uint64
}

// NewHandle creates a handle bound to a view generation.
func NewHandle(sel *goquery.Selection, c Context, generation uint64) *Handle {
	return &Handle{Selection: sel, Context: c, generation: generation}
}

// Generation returns the view generation the handle was located in.
func (h *Handle) Generation() uint64 {
	return h.generation
}

// Option is one entry of an enumeration control.
type Option struct {
	Label string
	Value string
}

// Options lists the option elements of a located enumeration control in
// document order, with labels whitespace-trimmed.
func (h *Handle) Options() []Option {
	if h == nil || h.Selection == nil {
		return nil
	}
	var opts []Option
	h.Selection.Find("option").Each(func(_ int, s *goquery.Selection) {
		value, ok := s.Attr("value")
		if !ok {
			value = s.Text()
		}
		opts = append(opts, Option{
			Label: normalizeSpace(s.Text()),
			Value: normalizeSpace(value),
		})
	})
	return opts
}

// Driver is the capability set the harvester depends on.
type Driver interface {
	// Locate searches the default context and then nested contexts up to
	// the driver's frame depth. It returns nil when nothing matches.
	Locate(ctx context.Context, selector string) (*Handle, error)

	// ApplySelection selects value on the control referenced by h. It returns
	// false when the selection could not be applied and ErrStaleHandle when h
	// belongs to an earlier view generation.
	ApplySelection(ctx context.Context, h *Handle, value string) (bool, error)

	// WaitFor blocks until predicate holds for the current view or timeout
	// elapses. It returns false on timeout.
	WaitFor(ctx context.Context, predicate Predicate, timeout time.Duration) (bool, error)

	// Reload discards the current view and loads the entry page again.
	Reload(ctx context.Context) error

	// CurrentView returns the view extraction should read from.
	CurrentView() *goquery.Document
}

// Snapshotter is implemented by drivers that can dump the current view for
// postmortem diagnostics.
type Snapshotter interface {
	Snapshot() ([]byte, error)
}

// Search performs a depth-bounded breadth-first search for selector starting
// at root. Depth 0 searches only root.
func Search(ctx context.Context, root Context, selector string, maxDepth int) (*Handle, error) {
	if root == nil {
		return nil, nil
	}

	level := []Context{root}
	for depth := 0; depth <= maxDepth && len(level) > 0; depth++ {
		for _, c := range level {
			if h := c.Locate(selector); h != nil {
				return h, nil
			}
		}
		if depth == maxDepth {
			break
		}

		var next []Context
		for _, c := range level {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			children, err := c.Children(ctx)
			if err != nil {
				// An unreachable frame does not hide its siblings.
				continue
			}
			next = append(next, children...)
		}
		level = next
	}
	return nil, nil
}
