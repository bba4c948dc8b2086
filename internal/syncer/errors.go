package syncer

import "fmt"

// SyncError reports that the remote resource could not be accessed or
// written. Nothing is written remotely when the error comes from the
// existence check.
type SyncError struct {
	ResourceID string
	Op         string
	Err        error
}

func (e *SyncError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("sync %s %s failed", e.Op, e.ResourceID)
	}
	return fmt.Sprintf("sync %s %s failed: %v", e.Op, e.ResourceID, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// ConfigError reports sync options that cannot work.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("sync config %s: %s", e.Field, e.Message)
}
