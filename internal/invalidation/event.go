// Package invalidation defines the dataset change events that invalidate
// cached responses.
package invalidation

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Event announces that documents of a dataset changed.
type Event struct {
	Version int       `json:"version"`
	Op      string    `json:"op"`
	Backend string    `json:"backend"`
	Dataset string    `json:"dataset"`
	TS      time.Time `json:"ts"`
	Source  string    `json:"source,omitempty"`
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return fmt.Errorf("unsupported version %d", e.Version)
	}
	switch e.Op {
	case "insert", "update", "delete", "reindex":
	default:
		return fmt.Errorf("op must be insert|update|delete|reindex, got %q", e.Op)
	}
	if strings.TrimSpace(e.Backend) == "" || strings.TrimSpace(e.Dataset) == "" {
		return errors.New("backend and dataset are required")
	}
	if e.TS.IsZero() {
		return errors.New("ts is required")
	}
	return nil
}

// Scope identifies the cached responses an event applies to.
func (e Event) Scope() string { return e.Backend + "/" + e.Dataset }
