// Package verifier checks that an uploaded dataset reached the remote store intact.
package verifier

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/dbsmedya/goharvest/internal/dataset"
	"github.com/dbsmedya/goharvest/internal/logger"
)

// VerificationMethod defines how to verify data integrity.
type VerificationMethod string

const (
	// MethodCount compares the row count of the remote copy (fast)
	MethodCount VerificationMethod = "count"
	// MethodSHA256 compares the SHA256 of the remote bytes with the upload
	MethodSHA256 VerificationMethod = "sha256"
	// MethodSkip skips verification entirely
	MethodSkip VerificationMethod = "skip"
)

// Fetcher reads a remote resource back.
type Fetcher interface {
	Fetch(ctx context.Context, id string) ([]byte, error)
}

// VerifyResult holds the outcome of verifying one resource.
type VerifyResult struct {
	ResourceID   string
	Method       VerificationMethod
	ExpectedRows int
	RemoteRows   int
	ExpectedHash string
	RemoteHash   string
	Match        bool
	ErrorMessage string
}

// Verifier re-reads uploaded resources and compares them with what was sent.
type Verifier struct {
	store  Fetcher
	method VerificationMethod
	logger *logger.Logger
}

// NewVerifier creates a verifier. An empty method defaults to MethodCount.
func NewVerifier(store Fetcher, method VerificationMethod, log *logger.Logger) (*Verifier, error) {
	if store == nil {
		return nil, fmt.Errorf("store is nil")
	}
	if log == nil {
		log = logger.NewNop()
	}

	if method == "" {
		method = MethodCount
	}
	switch method {
	case MethodCount, MethodSHA256, MethodSkip:
	default:
		return nil, fmt.Errorf("unsupported verification method: %s", method)
	}

	return &Verifier{store: store, method: method, logger: log}, nil
}

// Verify fetches resource id and compares it with uploaded, which was
// expected to hold expectedRows data rows. A mismatch is returned as an error
// together with the populated result.
func (v *Verifier) Verify(ctx context.Context, id string, uploaded []byte, expectedRows int) (*VerifyResult, error) {
	result := &VerifyResult{ResourceID: id, Method: v.method, ExpectedRows: expectedRows}

	if v.method == MethodSkip {
		v.logger.Info("Verification SKIPPED (method=skip)")
		result.Match = true
		return result, nil
	}

	remote, err := v.store.Fetch(ctx, id)
	if err != nil {
		return result, fmt.Errorf("verification fetch of %s failed: %w", id, err)
	}

	switch v.method {
	case MethodCount:
		d, err := dataset.Decode(remote)
		if err != nil {
			return result, fmt.Errorf("verification decode of %s failed: %w", id, err)
		}
		result.RemoteRows = d.Len()
		result.Match = result.RemoteRows == expectedRows
		if !result.Match {
			result.ErrorMessage = fmt.Sprintf("row count mismatch: expected=%d, remote=%d", expectedRows, result.RemoteRows)
		}
	case MethodSHA256:
		result.ExpectedHash = HashBytes(uploaded)
		result.RemoteHash = HashBytes(remote)
		result.Match = result.ExpectedHash == result.RemoteHash
		if !result.Match {
			result.ErrorMessage = fmt.Sprintf("hash mismatch: expected=%s, remote=%s", result.ExpectedHash, result.RemoteHash)
		}
	}

	if !result.Match {
		v.logger.Errorf("Verification FAILED for %q: %s", id, result.ErrorMessage)
		return result, fmt.Errorf("verification mismatch for %s: %s", id, result.ErrorMessage)
	}

	v.logger.Debugf("Verification PASSED for %q (method=%s)", id, v.method)
	return result, nil
}

// GetMethod returns the configured verification method.
func (v *Verifier) GetMethod() VerificationMethod {
	return v.method
}

// HashBytes returns the hex SHA256 of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
