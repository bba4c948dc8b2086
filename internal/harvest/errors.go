// Package harvest discovers the entity catalog and drives record extraction
// across bounded, converging passes.
package harvest

import "fmt"

// FailureKind classifies the outcome of a single harvest attempt.
type FailureKind int

const (
	// FailureNone means the attempt produced a record.
	FailureNone FailureKind = iota
	// FailureSelection means the entity could not be selected in the view.
	FailureSelection
	// FailureNotReady means the view did not present the entity's data in time.
	FailureNotReady
	// FailureStaleHandle means an element handle outlived its view.
	FailureStaleHandle
	// FailureNoRecord means the expected structure was absent from the view.
	FailureNoRecord
	// FailureExtraction means the extractor failed for any other reason.
	FailureExtraction
)

func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailureSelection:
		return "selection"
	case FailureNotReady:
		return "not_ready"
	case FailureStaleHandle:
		return "stale_handle"
	case FailureNoRecord:
		return "no_record"
	case FailureExtraction:
		return "extraction"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Transient reports whether the failure is expected to clear on a fresh view.
func (k FailureKind) Transient() bool {
	switch k {
	case FailureSelection, FailureNotReady, FailureStaleHandle:
		return true
	default:
		return false
	}
}

// DiscoveryError is returned when no acceptable entity catalog was produced.
type DiscoveryError struct {
	Selector string
	Tries    int
	Found    int
	Required int
	Snapshot string // path of the diagnostic snapshot, if one was written
	Err      error  // last underlying error, if any
}

func (e *DiscoveryError) Error() string {
	msg := fmt.Sprintf("entity catalog for %q incomplete after %d tries: found %d, need %d",
		e.Selector, e.Tries, e.Found, e.Required)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Snapshot != "" {
		msg += " (snapshot: " + e.Snapshot + ")"
	}
	return msg
}

func (e *DiscoveryError) Unwrap() error {
	return e.Err
}
