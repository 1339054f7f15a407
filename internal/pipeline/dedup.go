package pipeline

import (
	"slices"
	"strings"

	"jobmate/pipeline-service/internal/model"
)

// Key is the normalised merge key of a posting: company, title, location and
// application URL, lower-cased with whitespace collapsed. A missing location
// normalises to "".
func Key(p model.ScrapedPosting) string {
	return strings.Join([]string{
		normalize(p.Company),
		normalize(p.Title),
		normalize(p.LocationText()),
		normalize(p.ApplicationURL),
	}, "|")
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Dedup merges postings sharing a Key. On a collision the posting with salary
// information wins; between two salaried postings the longer description
// wins; otherwise the first seen stays. Output keeps first-seen key order.
func Dedup(postings []model.ScrapedPosting) []model.ScrapedPosting {
	index := make(map[string]int, len(postings))
	out := make([]model.ScrapedPosting, 0, len(postings))
	for _, p := range postings {
		k := Key(p)
		i, seen := index[k]
		if !seen {
			index[k] = len(out)
			out = append(out, p)
			continue
		}
		if prefer(p, out[i]) {
			out[i] = p
		}
	}
	return out
}

// prefer reports whether candidate should replace current.
func prefer(candidate, current model.ScrapedPosting) bool {
	cs, ks := candidate.Salary.Present(), current.Salary.Present()
	switch {
	case cs && !ks:
		return true
	case cs && ks:
		return len(candidate.Description) > len(current.Description)
	}
	return false
}

// GroupBySource splits postings per lower-cased source, sorted by source
// name, so callers can persist one board at a time in a stable order.
func GroupBySource(postings []model.ScrapedPosting) ([]string, map[string][]model.ScrapedPosting) {
	groups := make(map[string][]model.ScrapedPosting)
	for _, p := range postings {
		src := strings.ToLower(strings.TrimSpace(p.Source))
		groups[src] = append(groups[src], p)
	}
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys, groups
}
