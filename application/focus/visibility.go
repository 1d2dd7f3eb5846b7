package focus

import (
	"sort"

	"graphsync/domain/core/aggregates"
)

// Visibility returns the sorted set of entities within hops relations of any
// focus id, ignoring direction, plus every entity matching search and the
// entities within hops of those matches.
func Visibility(s *aggregates.Snapshot, focusIDs []string, hops int, search string) []string {
	if s == nil {
		return []string{}
	}
	seeds := make([]string, 0, len(focusIDs))
	for _, id := range focusIDs {
		if s.HasEntity(id) {
			seeds = append(seeds, id)
		}
	}
	seeds = append(seeds, SearchMatches(s, search)...)

	seen := make(map[string]bool, len(seeds))
	frontier := make([]string, 0, len(seeds))
	for _, id := range seeds {
		if !seen[id] {
			seen[id] = true
			frontier = append(frontier, id)
		}
	}
	for depth := 0; depth < hops && len(frontier) > 0; depth++ {
		var next []string
		for _, id := range frontier {
			for _, n := range s.Neighbors(id) {
				if !seen[n] {
					seen[n] = true
					next = append(next, n)
				}
			}
		}
		frontier = next
	}

	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// SearchMatches returns entities whose name, location, role or contact
// contains text, case-insensitively.
func SearchMatches(s *aggregates.Snapshot, text string) []string {
	if s == nil || text == "" {
		return nil
	}
	var out []string
	for _, e := range s.Entities() {
		if e.Matches(text) {
			out = append(out, e.Name)
		}
	}
	return out
}
