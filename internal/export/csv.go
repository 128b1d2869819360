package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"planboard/internal/model"
)

var csvHeader = []string{
	"event_id", "source_item_id", "resource_id", "resource",
	"title", "start", "end", "minutes",
	"status", "priority", "category", "location", "recurring",
}

// CSV writes one row per event of snap, in snapshot order. Instants are
// RFC 3339 in their own location.
func CSV(w io.Writer, snap model.Snapshot) error {
	names := make(map[string]string, len(snap.Resources))
	for _, r := range snap.Resources {
		names[r.ID] = r.Name
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, ev := range snap.Events {
		row := []string{
			ev.ID,
			ev.SourceItemID,
			ev.ResourceID,
			names[ev.ResourceID],
			ev.Meta.Title,
			ev.Start.Format(time.RFC3339),
			ev.End.Format(time.RFC3339),
			strconv.FormatInt(int64(ev.Duration()/time.Minute), 10),
			ev.Meta.Status,
			ev.Meta.Priority,
			ev.Meta.Category,
			ev.Meta.Location,
			strconv.FormatBool(ev.Meta.Recurring),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row %s: %w", ev.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
