package source

import (
	"context"
	"fmt"
	"os"
	"strings"

	"planboard/internal/config"
)

// FileFeed reads a YAML or JSON document:
//
//	resources:
//	  - {id: r1, name: Alice}
//	records:
//	  - {id: t1, title: Survey, start: 2024-03-04T09:00:00Z, end: 2024-03-04T10:00:00Z, resource_ids: [r1]}
//
// Unknown keys are rejected.
type FileFeed struct {
	Path string
}

func (f FileFeed) Name() string { return "file:" + f.Path }

func (f FileFeed) Fetch(ctx context.Context) (Data, error) {
	if err := ctx.Err(); err != nil {
		return Data{}, err
	}
	b, err := os.ReadFile(f.Path)
	if err != nil {
		return Data{}, err
	}
	var d Data
	if err := config.DecodeInto(f.Path, b, &d); err != nil {
		return Data{}, fmt.Errorf("decode %s: %w", f.Path, err)
	}
	if err := checkData(d); err != nil {
		return Data{}, fmt.Errorf("%s: %w", f.Path, err)
	}
	return d, nil
}

func checkData(d Data) error {
	seen := map[string]bool{}
	for i, r := range d.Resources {
		id := strings.TrimSpace(r.ID)
		if id == "" {
			return fmt.Errorf("resources[%d]: id is required", i)
		}
		// Event ids are "<record>@<resource>" split at the last '@'.
		if strings.Contains(id, "@") {
			return fmt.Errorf("resources[%d]: id %q must not contain '@'", i, id)
		}
		if seen[id] {
			return fmt.Errorf("resources[%d]: duplicate id %q", i, id)
		}
		seen[id] = true
	}
	clear(seen)
	for i, r := range d.Records {
		if strings.TrimSpace(r.ID) == "" {
			return fmt.Errorf("records[%d]: id is required", i)
		}
		if seen[r.ID] {
			return fmt.Errorf("records[%d]: duplicate id %q", i, r.ID)
		}
		seen[r.ID] = true
	}
	return nil
}
