package optimistic

import (
	"context"
	"fmt"
	"time"

	"planboard/internal/remote"
	"planboard/internal/task/engine"
)

// Enqueuer is the part of the task engine the dispatcher needs.
type Enqueuer interface {
	Enqueue(t engine.Task) error
}

// EngineDispatcher runs writes against a remote client on the task engine,
// which adds retry with backoff and one circuit breaker for all remote
// writes. Creates are not idempotent and are never retried.
type EngineDispatcher struct {
	Engine  Enqueuer
	Remote  remote.Client
	Timeout time.Duration
}

func (d EngineDispatcher) Dispatch(w Write, done func(newID string, err error)) error {
	var newID string
	task := engine.Task{
		Name:    "remote." + w.Kind.String(),
		Key:     "remote",
		Timeout: d.Timeout,
		Run: func(ctx context.Context) error {
			switch w.Kind {
			case WriteCreate:
				id, err := d.Remote.Create(ctx, w.Record)
				if err != nil {
					return err
				}
				newID = id
				return nil
			case WriteDelete:
				return d.Remote.Delete(ctx, w.SourceItemID)
			default:
				return d.Remote.Patch(ctx, w.SourceItemID, remote.PatchOf(w.Record))
			}
		},
		// Done runs on the worker after Run returned, so newID is settled.
		Done: func(err error, _ int) { done(newID, err) },
	}
	if w.Kind == WriteCreate {
		// A create that failed after the remote stored it would duplicate
		// the item on retry. It runs once; failure rolls it back.
		task.Opt.RetryMax = -1
	}
	if err := d.Engine.Enqueue(task); err != nil {
		return fmt.Errorf("dispatch %s %s: %w", w.Kind, w.SourceItemID, err)
	}
	return nil
}
