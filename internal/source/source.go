// Package source turns source records into the read-only snapshot the
// timeline lays out, and fetches those records from a feed.
package source

import (
	"context"
	"errors"
	"time"

	"planboard/internal/model"
)

var ErrEmptyFeed = errors.New("source: feed returned no resources")

// Data is what a feed delivers: the lanes and the items placed on them.
type Data struct {
	Resources []model.Resource `json:"resources"`
	Records   []model.Record   `json:"records"`
}

type Feed interface {
	Name() string
	Fetch(ctx context.Context) (Data, error)
}

// Build fans every record out into one event per assigned resource. Records
// referencing unknown resources are kept; layout reports them as orphans.
func Build(resources []model.Resource, records []model.Record) model.Snapshot {
	colors := make(map[string]string, len(resources))
	for _, r := range resources {
		colors[r.ID] = r.Color
	}

	events := make([]model.ScheduledEvent, 0, len(records))
	for _, rec := range records {
		if rec.ID == "" {
			continue
		}
		seen := make(map[string]bool, len(rec.ResourceIDs))
		for _, res := range rec.ResourceIDs {
			if res == "" || seen[res] {
				continue
			}
			seen[res] = true
			color := rec.Color
			if color == "" {
				color = colors[res]
			}
			events = append(events, model.ScheduledEvent{
				ID:           model.EventID(rec.ID, res),
				ResourceID:   res,
				SourceItemID: rec.ID,
				Start:        rec.Start,
				End:          rec.End,
				Color:        color,
				Meta: model.Meta{
					Title:     rec.Title,
					Status:    rec.Status,
					Priority:  rec.Priority,
					Category:  rec.Category,
					Location:  rec.Location,
					Recurring: rec.Recurring,
				},
			})
		}
	}

	return model.Snapshot{
		Resources: append([]model.Resource(nil), resources...),
		Events:    events,
		BuiltAt:   time.Now(),
	}
}
