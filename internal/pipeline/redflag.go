package pipeline

import (
	"strings"

	"jobmate/pipeline-service/internal/model"
)

// ContainsRedFlag returns true if any red flag term appears (case-insensitive)
// anywhere in the combined title + company + description text.
func ContainsRedFlag(p model.ScrapedPosting, redFlags []string) bool {
	if len(redFlags) == 0 {
		return false
	}
	combined := strings.ToLower(p.Title + " " + p.Company + " " + p.Description)
	for _, flag := range redFlags {
		flag = strings.TrimSpace(flag)
		if flag == "" {
			continue
		}
		if strings.Contains(combined, strings.ToLower(flag)) {
			return true
		}
	}
	return false
}

// FilterRedFlags drops postings matching a saved search's red flags before
// they are persisted. It returns the kept postings and the number dropped.
func FilterRedFlags(postings []model.ScrapedPosting, redFlags []string) ([]model.ScrapedPosting, int) {
	if len(redFlags) == 0 {
		return postings, 0
	}
	kept := make([]model.ScrapedPosting, 0, len(postings))
	for _, p := range postings {
		if ContainsRedFlag(p, redFlags) {
			continue
		}
		kept = append(kept, p)
	}
	return kept, len(postings) - len(kept)
}
