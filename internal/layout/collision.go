package layout

import (
	"sort"

	"planboard/internal/model"
)

// Group is a maximal set of same-lane events whose intervals transitively
// intersect. Members are in input order; a member's index is its stack index.
type Group struct {
	Lane    int      `json:"lane"`
	Members []string `json:"members"`
}

// Overlaps reports whether two half-open intervals intersect. Intervals
// that only touch (a.End == b.Start) do not.
func Overlaps(a, b model.ScheduledEvent) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

// Resolve stacks overlapping events of each lane side by side, rewriting
// positions in place. Only groups of two or more are returned; events
// without a position are ignored.
//
// Members of a group share the group's horizontal envelope [minX, maxRight)
// in equal columns, each narrowed by margin. Column spans are disjoint, so
// no two overlapping events share a pixel.
func Resolve(events []model.ScheduledEvent, positions map[string]Position, margin float64) []Group {
	byLane := map[int][]int{}
	for i, ev := range events {
		p, ok := positions[ev.ID]
		if !ok {
			continue
		}
		byLane[p.Lane] = append(byLane[p.Lane], i)
	}

	lanes := make([]int, 0, len(byLane))
	for l := range byLane {
		lanes = append(lanes, l)
	}
	sort.Ints(lanes)

	var groups []Group
	for _, lane := range lanes {
		idx := byLane[lane]
		uf := newUnionFind(len(idx))
		for a := 0; a < len(idx); a++ {
			for b := a + 1; b < len(idx); b++ {
				if Overlaps(events[idx[a]], events[idx[b]]) {
					uf.union(a, b)
				}
			}
		}

		// Roots in order of their first member keep group order stable.
		members := map[int][]int{}
		var roots []int
		for k := range idx {
			r := uf.find(k)
			if _, seen := members[r]; !seen {
				roots = append(roots, r)
			}
			members[r] = append(members[r], idx[k])
		}

		for _, r := range roots {
			m := members[r]
			if len(m) < 2 {
				continue
			}
			g := Group{Lane: lane, Members: make([]string, len(m))}
			for i, ei := range m {
				g.Members[i] = events[ei].ID
			}
			stack(g.Members, positions, margin)
			groups = append(groups, g)
		}
	}
	return groups
}

func stack(ids []string, positions map[string]Position, margin float64) {
	left, right := positions[ids[0]].X, positions[ids[0]].Right()
	for _, id := range ids[1:] {
		p := positions[id]
		if p.X < left {
			left = p.X
		}
		if p.Right() > right {
			right = p.Right()
		}
	}

	size := len(ids)
	column := (right - left) / float64(size)
	if column <= margin {
		margin = 0
	}
	for i, id := range ids {
		p := positions[id]
		p.X = left + column*float64(i) + margin/2
		p.Width = column - margin
		p.StackIndex = i
		p.GroupSize = size
		positions[id] = p
	}
}

type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	u := &unionFind{parent: make([]int, n), rank: make([]int, n)}
	for i := range u.parent {
		u.parent[i] = i
	}
	return u
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	switch {
	case u.rank[ra] < u.rank[rb]:
		u.parent[ra] = rb
	case u.rank[ra] > u.rank[rb]:
		u.parent[rb] = ra
	default:
		u.parent[rb] = ra
		u.rank[ra]++
	}
}
