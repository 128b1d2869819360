package storage

import (
	"context"
	"errors"
	"time"

	"planboard/internal/model"
)

var (
	ErrNotFound = errors.New("storage: record not found")
	ErrClosed   = errors.New("storage: store closed")
)

// Config configures storage. An empty Driver selects "memory".
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the record cache keyed by source item id.
type Store interface {
	Get(ctx context.Context, id string) (model.Record, bool, error)
	// Update inserts or replaces the record stored under id. rec.ID is
	// forced to id.
	Update(ctx context.Context, id string, rec model.Record) error
	// Delete returns ErrNotFound when nothing is stored under id.
	Delete(ctx context.Context, id string) error
	// List returns every record ordered by Start, then ID.
	List(ctx context.Context) ([]model.Record, error)
	Close() error
}
