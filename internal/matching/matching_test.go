package matching

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobmate/pipeline-service/internal/model"
)

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func fixed() *Matcher { return New(WithClock(func() time.Time { return fixedNow })) }

// ── Scenario ──

func TestMatch_ReactScenario(t *testing.T) {
	profile := Profile{
		Skills: []Skill{{Name: "React", Proficiency: 5}, {Name: "TypeScript", Proficiency: 4}},
	}
	posting := Posting{
		Title:        "Frontend Engineer",
		Company:      "Acme",
		Location:     "Berlin",
		Requirements: []string{"React", "GraphQL"},
	}

	r := fixed().Match(profile, posting, 0.5)

	assert.InDelta(t, 0.65, r.Breakdown.Skills, 1e-9)
	assert.InDelta(t, 0.5, r.Breakdown.Experience, 1e-9)
	assert.InDelta(t, 0.8, r.Breakdown.Location, 1e-9)
	assert.InDelta(t, 0.8, r.Breakdown.Salary, 1e-9)
	assert.InDelta(t, 0.665, r.Score, 1e-9)
	assert.True(t, r.PassesThreshold)
	assert.Equal(t, []string{"Skill match 65%", "Experience 50%", "Location 80%", "Salary 80%"}, r.Reasons)
}

func TestCalculateMatch_DefaultThreshold(t *testing.T) {
	r := CalculateMatch(Profile{}, Posting{Title: "x", Company: "y", Location: "Berlin"}, DefaultThreshold)
	// 1*.4 + .5*.25 + .8*.2 + .8*.15
	assert.InDelta(t, 0.805, r.Score, 1e-9)
	assert.True(t, r.PassesThreshold)
}

func TestMatch_ZeroThresholdPassesEverything(t *testing.T) {
	profile := Profile{Skills: []Skill{{Name: "Go", Proficiency: 1}}, ExcludedCompanies: []string{"Initech"}}

	weak := fixed().Match(profile, Posting{Title: "Systems Dev", Company: "Acme", Requirements: []string{"Rust", "C"}}, 0)
	assert.Less(t, weak.Score, DefaultThreshold)
	assert.True(t, weak.PassesThreshold)

	excluded := fixed().Match(profile, Posting{Title: "Go Dev", Company: "initech", Requirements: []string{"Go"}}, 0)
	assert.False(t, excluded.PassesThreshold)
}

// ── Exclusions ──

func TestMatch_ExcludedCompanyShortCircuits(t *testing.T) {
	perfect := Profile{
		Skills:             []Skill{{Name: "Go", Proficiency: 5}},
		TotalYears:         12,
		PreferredLocations: []string{"Remote"},
		RemotePreferred:    true,
		ExcludedCompanies:  []string{"  ACME corp "},
	}
	posting := Posting{Title: "Go Engineer", Company: "Acme Corp", Remote: true, Location: "Remote", Requirements: []string{"Go"}}

	for _, threshold := range []float64{0.01, 0.5, 0.99} {
		r := fixed().Match(perfect, posting, threshold)
		assert.Zero(t, r.Score)
		assert.False(t, r.PassesThreshold)
		assert.Equal(t, []string{"Company is part of the exclusion list"}, r.Reasons)
	}
}

func TestExcluded_Keywords(t *testing.T) {
	cases := []struct {
		name     string
		keywords []string
		posting  Posting
		want     bool
	}{
		{"title word", []string{"Senior"}, Posting{Title: "Senior Go Engineer"}, true},
		{"title phrase", []string{"go engineer"}, Posting{Title: "Senior Go Engineer"}, true},
		{"title partial word ignored", []string{"eng"}, Posting{Title: "Go Engineer"}, false},
		{"requirement", []string{"php"}, Posting{Title: "Engineer", Requirements: []string{"PHP"}}, true},
		{"tag", []string{"contract"}, Posting{Title: "Engineer", Tags: []string{"Contract"}}, true},
		{"no hit", []string{"java"}, Posting{Title: "Engineer", Requirements: []string{"Go"}}, false},
		{"blank keyword", []string{"  "}, Posting{Title: "Engineer"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reason, got := Excluded(Profile{ExcludedKeywords: tc.keywords}, tc.posting)
			assert.Equal(t, tc.want, got)
			if got {
				assert.Equal(t, "Job contains excluded keywords", reason)
			}
		})
	}
}

// ── Sub-scores ──

func TestSkillScore(t *testing.T) {
	assert.Equal(t, 1.0, skillScore(nil, nil), "no requirements")
	assert.Equal(t, 0.0, skillScore([]string{"Go"}, []Skill{{Name: "Rust"}}), "no overlap")
	// default proficiency 3: .7 + .3*.6
	assert.InDelta(t, 0.88, skillScore([]string{"go"}, []Skill{{Name: "Go"}}), 1e-9)
	assert.InDelta(t, 1.0, skillScore([]string{"Go"}, []Skill{{Name: "Go", Proficiency: 9}}), 1e-9)
}

func TestSkillScore_MonotonicInMatchedSkills(t *testing.T) {
	required := []string{"Go", "SQL", "Kubernetes", "Terraform"}
	pool := []Skill{
		{Name: "Go", Proficiency: 2},
		{Name: "SQL", Proficiency: 1},
		{Name: "Kubernetes", Proficiency: 5},
		{Name: "Terraform", Proficiency: 1},
	}

	prev := skillScore(required, nil)
	for i := 1; i <= len(pool); i++ {
		got := skillScore(required, pool[:i])
		assert.GreaterOrEqual(t, got, prev, "with %d skills", i)
		prev = got
	}
}

func TestExperienceScore(t *testing.T) {
	assert.Equal(t, 0.5, experienceScore(0, nil, fixedNow))
	assert.InDelta(t, 0.3, experienceScore(3, nil, fixedNow), 1e-9)

	fresh := fixedNow.AddDate(0, -1, 0)
	assert.InDelta(t, 0.3*0.8+0.2, experienceScore(3, &fresh, fixedNow), 1e-9)

	twoYears := fixedNow.AddDate(-2, 0, -1)
	assert.InDelta(t, 0.8+0.9*0.2, experienceScore(15, &twoYears, fixedNow), 1e-9)

	ancient := fixedNow.AddDate(-20, 0, 0)
	assert.InDelta(t, 0.8+0.7*0.2, experienceScore(15, &ancient, fixedNow), 1e-9, "recency floors at 0.7")
}

func TestLocationScore(t *testing.T) {
	cases := []struct {
		name        string
		prefs       []string
		location    string
		wantsRemote bool
		remote      bool
		want        float64
	}{
		{"both remote", nil, "", true, true, 1},
		{"no location, wants remote", []string{"Berlin"}, "", true, false, 0.6},
		{"no location", []string{"Berlin"}, "", false, false, 0.4},
		{"no preference", nil, "Paris", false, false, 0.8},
		{"contained", []string{"new york"}, "New York, NY", false, false, 1},
		{"mismatch", []string{"Berlin"}, "Paris", false, false, 0.1},
		{"remote job, onsite profile", []string{"Berlin"}, "Remote", false, true, 0.1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, locationScore(tc.prefs, tc.location, tc.wantsRemote, tc.remote))
		})
	}
}

func TestSalaryScore(t *testing.T) {
	cases := []struct {
		name                           string
		floor, ceiling, jobMin, jobMax float64
		want                           float64
	}{
		{"no preference", 0, 0, 100, 200, 0.8},
		{"undisclosed", 100, 0, 0, 0, 0.4},
		{"within", 90, 150, 100, 140, 1},
		{"only floor met", 90, 120, 130, 160, 0.75},
		{"only ceiling met", 150, 200, 80, 100, 0.5},
		{"only max disclosed", 100, 0, 0, 120, 1},
		{"floor missed, no ceiling", 200, 0, 100, 150, 0.5},
		{"both violated", 200, 50, 100, 150, 0.1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, salaryScore(tc.floor, tc.ceiling, tc.jobMin, tc.jobMax))
		})
	}
}

// ── Ranking ──

func TestRank_SortsAndFlags(t *testing.T) {
	profile := Profile{Skills: []Skill{{Name: "Go", Proficiency: 5}}, ExcludedCompanies: []string{"Initech"}}
	jobs := []model.JobPosting{
		{ID: "weak", Title: "Java Dev", Company: "A", Location: model.Ptr("Berlin"), Requirements: []string{"Java"}},
		{ID: "strong", Title: "Go Dev", Company: "B", Location: model.Ptr("Berlin"), Requirements: []string{"Go"}},
		{ID: "excluded", Title: "Go Dev", Company: "initech", Location: model.Ptr("Berlin"), Requirements: []string{"Go"}},
		{ID: "ok", Title: "Go/Java Dev", Company: "C", Location: model.Ptr("Berlin"), Requirements: []string{"Go", "Java"}},
	}

	ranked := fixed().Rank(profile, jobs, 0.5)

	require.Len(t, ranked, 4)
	ids := make([]string, len(ranked))
	for i, r := range ranked {
		ids[i] = r.Posting.ID
	}
	assert.Equal(t, []string{"strong", "ok", "weak", "excluded"}, ids)
	assert.False(t, ranked[3].Match.PassesThreshold)

	passing := Passing(ranked)
	require.Len(t, passing, 2)
	assert.Equal(t, "strong", passing[0].Posting.ID)
	assert.Equal(t, "ok", passing[1].Posting.ID)
}

func TestPostingFromJob(t *testing.T) {
	j := model.JobPosting{
		Title:           "Engineer",
		Company:         "Acme",
		Location:        model.Ptr("Remote"),
		WorkArrangement: model.ArrangementRemote,
		SalaryMin:       model.Ptr(100.0),
	}
	p := PostingFromJob(j)
	assert.True(t, p.Remote)
	assert.Equal(t, "Remote", p.Location)
	assert.Equal(t, 100.0, p.SalaryMin)
	assert.Zero(t, p.SalaryMax)
}
