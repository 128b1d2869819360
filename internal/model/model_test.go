package model

import (
	"slices"
	"testing"
	"time"
)

func TestRecordApplyResources(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, time.March, 4, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		have []string
		from string
		to   string
		want []string
	}{
		{name: "same lane", have: []string{"r1"}, from: "r1", to: "r1", want: []string{"r1"}},
		{name: "no lane", have: []string{"r1"}, from: "r1", to: "", want: []string{"r1"}},
		{name: "replace", have: []string{"r1", "r3"}, from: "r1", to: "r2", want: []string{"r2", "r3"}},
		{name: "onto assigned lane", have: []string{"r1", "r2"}, from: "r1", to: "r2", want: []string{"r2"}},
		{name: "unknown source lane", have: []string{"r1"}, from: "rx", to: "r2", want: []string{"r1", "r2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := Record{ID: "t1", ResourceIDs: tt.have}
			got := r.Apply(State{Start: start, End: start.Add(time.Hour), ResourceID: tt.to}, tt.from)
			if !slices.Equal(got.ResourceIDs, tt.want) {
				t.Fatalf("ResourceIDs = %v, want %v", got.ResourceIDs, tt.want)
			}
			if !got.Start.Equal(start) {
				t.Fatalf("Start = %v, want %v", got.Start, start)
			}
		})
	}

	orig := []string{"r1", "r2"}
	r := Record{ID: "t1", ResourceIDs: orig}
	_ = r.Apply(State{Start: start, End: start.Add(time.Hour), ResourceID: "r2"}, "r1")
	if !slices.Equal(orig, []string{"r1", "r2"}) {
		t.Fatalf("input mutated: %v", orig)
	}
}
