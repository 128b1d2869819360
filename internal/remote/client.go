// Package remote talks to the persistence API that owns the schedule.
//
// Writes return errors classified for the task engine: permanent rejections
// are wrapped with engine.NoRetry, throttling with engine.RetryAfter.
package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"planboard/internal/model"
)

var ErrNotFound = errors.New("remote: item not found")

// Patch is the partial update sent for move/resize/reassign writes.
type Patch struct {
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	ResourceIDs []string  `json:"resource_ids,omitempty"`
}

// PatchOf extracts the schedule fields of a record.
func PatchOf(r model.Record) Patch {
	return Patch{Start: r.Start, End: r.End, ResourceIDs: append([]string(nil), r.ResourceIDs...)}
}

type Client interface {
	List(ctx context.Context) ([]model.Record, error)
	Patch(ctx context.Context, id string, p Patch) error
	// Create stores rec and returns the id the remote assigned.
	Create(ctx context.Context, rec model.Record) (string, error)
	Delete(ctx context.Context, id string) error
}

// StatusError is a non-2xx response.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("remote %s: status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("remote %s: status %d: %s", e.Op, e.Status, e.Body)
}
