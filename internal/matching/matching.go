// Package matching scores a job posting against a candidate profile with a
// fixed weighted rubric. Scoring is pure: the same inputs and clock always
// give the same result.
package matching

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"jobmate/pipeline-service/internal/model"
)

// DefaultThreshold is the pass mark callers use when the user supplies none.
const DefaultThreshold = 0.7

// DefaultProficiency is assumed for a profile skill without a level.
const DefaultProficiency = 3

// Skill is one entry of a candidate's skill list.
type Skill struct {
	Name        string  `json:"name"`
	Proficiency int     `json:"proficiency,omitempty"` // 1-5, 0 = unknown
	Years       float64 `json:"yearsExperience,omitempty"`
}

// Profile is the read-only candidate snapshot a match runs against.
type Profile struct {
	UserID             string   `json:"userId"`
	Skills             []Skill  `json:"skills"`
	TotalYears         float64  `json:"totalYearsExperience,omitempty"`
	PreferredLocations []string `json:"preferredLocations"`
	MinimumSalary      float64  `json:"minimumSalary,omitempty"`
	MaximumSalary      float64  `json:"maximumSalary,omitempty"`
	RemotePreferred    bool     `json:"remotePreferred"`
	ExcludedCompanies  []string `json:"excludedCompanies"`
	ExcludedKeywords   []string `json:"excludedKeywords"`
}

// Posting is the subset of a job posting the rubric looks at.
type Posting struct {
	Title        string
	Company      string
	Location     string
	SalaryMin    float64 // 0 = undisclosed
	SalaryMax    float64
	Requirements []string
	Tags         []string
	Remote       bool
	PostedAt     *time.Time
}

// PostingFromJob adapts a stored posting.
func PostingFromJob(j model.JobPosting) Posting {
	p := Posting{
		Title:        j.Title,
		Company:      j.Company,
		Requirements: j.Requirements,
		Tags:         j.Tags,
		Remote:       j.Remote(),
		PostedAt:     j.PostedAt,
	}
	if j.Location != nil {
		p.Location = *j.Location
	}
	if j.SalaryMin != nil {
		p.SalaryMin = *j.SalaryMin
	}
	if j.SalaryMax != nil {
		p.SalaryMax = *j.SalaryMax
	}
	return p
}

// Breakdown holds the per-dimension sub-scores, each in [0,1].
type Breakdown struct {
	Skills     float64 `json:"skills"`
	Experience float64 `json:"experience"`
	Location   float64 `json:"location"`
	Salary     float64 `json:"salary"`
}

// Result is the outcome of one match.
type Result struct {
	Score           float64   `json:"score"`
	PassesThreshold bool      `json:"passesThreshold"`
	Breakdown       Breakdown `json:"breakdown"`
	Reasons         []string  `json:"reasons"`
}

// Weights of the four dimensions. They are normalised by their sum.
type Weights struct {
	Skills, Experience, Location, Salary float64
}

// DefaultWeights is the production rubric.
var DefaultWeights = Weights{Skills: 0.40, Experience: 0.25, Location: 0.20, Salary: 0.15}

func (w Weights) sum() float64 { return w.Skills + w.Experience + w.Location + w.Salary }

// Matcher scores postings. The zero value is not usable; see New.
type Matcher struct {
	weights Weights
	now     func() time.Time
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithClock fixes the time used to age postings.
func WithClock(now func() time.Time) Option { return func(m *Matcher) { m.now = now } }

// WithWeights overrides DefaultWeights.
func WithWeights(w Weights) Option { return func(m *Matcher) { m.weights = w } }

// New returns a Matcher using DefaultWeights and the wall clock.
func New(opts ...Option) *Matcher {
	m := &Matcher{weights: DefaultWeights, now: time.Now}
	for _, o := range opts {
		o(m)
	}
	return m
}

var defaultMatcher = New()

// CalculateMatch scores posting against profile with the default Matcher.
func CalculateMatch(profile Profile, posting Posting, threshold float64) Result {
	return defaultMatcher.Match(profile, posting, threshold)
}

// Match scores posting against profile and compares the score with
// threshold as given, so 0 passes every non-excluded posting. Exclusion
// rules run first and short-circuit to a zero score.
func (m *Matcher) Match(profile Profile, posting Posting, threshold float64) Result {
	if reason, excluded := Excluded(profile, posting); excluded {
		return Result{Score: 0, PassesThreshold: false, Reasons: []string{reason}}
	}

	b := Breakdown{
		Skills:     skillScore(posting.Requirements, profile.Skills),
		Experience: experienceScore(profile.TotalYears, posting.PostedAt, m.now()),
		Location:   locationScore(profile.PreferredLocations, posting.Location, profile.RemotePreferred, posting.Remote),
		Salary:     salaryScore(profile.MinimumSalary, profile.MaximumSalary, posting.SalaryMin, posting.SalaryMax),
	}

	w := m.weights
	score := (b.Skills*w.Skills + b.Experience*w.Experience + b.Location*w.Location + b.Salary*w.Salary) / w.sum()

	return Result{
		Score:           score,
		PassesThreshold: score >= threshold,
		Breakdown:       b,
		Reasons: []string{
			fmt.Sprintf("Skill match %s", percent(b.Skills)),
			fmt.Sprintf("Experience %s", percent(b.Experience)),
			fmt.Sprintf("Location %s", percent(b.Location)),
			fmt.Sprintf("Salary %s", percent(b.Salary)),
		},
	}
}

func percent(v float64) string {
	return fmt.Sprintf("%.0f%%", math.Round(v*100))
}

// Ranked pairs a stored posting with its match.
type Ranked struct {
	Posting model.JobPosting `json:"posting"`
	Match   Result           `json:"match"`
}

// Rank scores every posting, best first. Postings below threshold are kept
// with PassesThreshold unset so callers can show near misses.
func (m *Matcher) Rank(profile Profile, postings []model.JobPosting, threshold float64) []Ranked {
	out := make([]Ranked, 0, len(postings))
	for _, j := range postings {
		out = append(out, Ranked{Posting: j, Match: m.Match(profile, PostingFromJob(j), threshold)})
	}
	sort.SliceStable(out, func(i, k int) bool { return out[i].Match.Score > out[k].Match.Score })
	return out
}

// Passing keeps the ranked entries that pass their threshold, order intact.
func Passing(ranked []Ranked) []Ranked {
	out := make([]Ranked, 0, len(ranked))
	for _, r := range ranked {
		if r.Match.PassesThreshold {
			out = append(out, r)
		}
	}
	return out
}

func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
