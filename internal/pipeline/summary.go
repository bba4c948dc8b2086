package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/dbsmedya/goharvest/internal/syncer"
)

// WriteSummary writes the report as indented JSON to path.
func WriteSummary(path string, report *Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}
	if err := syncer.WriteLocal(path, append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write summary %s: %w", path, err)
	}
	return nil
}
