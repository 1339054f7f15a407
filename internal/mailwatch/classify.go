package mailwatch

import (
	"regexp"
	"strings"

	"jobmate/pipeline-service/internal/applications"
)

// Classification is the reading of one employer reply.
type Classification struct {
	Label  string
	Status applications.Status
}

// Classification labels.
const (
	LabelInterview = "interview"
	LabelOffer     = "offer"
	LabelRejected  = "rejected"
	LabelFollowUp  = "follow_up"
	LabelGeneral   = "general"
)

// rules are checked in order; the first match wins.
var rules = []struct {
	re  *regexp.Regexp
	cls Classification
}{
	{regexp.MustCompile(`interview|schedule|meeting|availability`), Classification{LabelInterview, applications.StatusConfirmed}},
	{regexp.MustCompile(`offer|congratulations|compensation`), Classification{LabelOffer, applications.StatusConfirmed}},
	{regexp.MustCompile(`rejection|regret|unfortunately|not selected`), Classification{LabelRejected, applications.StatusResponded}},
	{regexp.MustCompile(`follow up|status|update`), Classification{LabelFollowUp, applications.StatusResponded}},
}

// Classify labels a reply from its subject and plain-text body. Interviews
// and offers confirm the application; everything else is a response.
func Classify(subject, body string) Classification {
	content := strings.ToLower(subject + " " + body)
	for _, r := range rules {
		if r.re.MatchString(content) {
			return r.cls
		}
	}
	return Classification{LabelGeneral, applications.StatusResponded}
}
