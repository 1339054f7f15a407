package matching

import (
	"math"
	"strings"
	"time"
)

// Excluded applies the hard exclusion rules. A company matches the excluded
// set case-insensitively. A keyword matches when it equals a requirement or
// tag, or appears as a word sequence inside the title.
func Excluded(profile Profile, posting Posting) (string, bool) {
	company := norm(posting.Company)
	for _, c := range profile.ExcludedCompanies {
		if c = norm(c); c != "" && c == company {
			return "Company is part of the exclusion list", true
		}
	}

	title := " " + strings.Join(strings.FieldsFunc(norm(posting.Title), isSeparator), " ") + " "
	terms := make(map[string]struct{}, len(posting.Requirements)+len(posting.Tags))
	for _, t := range posting.Requirements {
		terms[norm(t)] = struct{}{}
	}
	for _, t := range posting.Tags {
		terms[norm(t)] = struct{}{}
	}
	for _, k := range profile.ExcludedKeywords {
		k = norm(k)
		if k == "" {
			continue
		}
		if _, ok := terms[k]; ok {
			return "Job contains excluded keywords", true
		}
		if strings.Contains(title, " "+k+" ") {
			return "Job contains excluded keywords", true
		}
	}
	return "", false
}

func isSeparator(r rune) bool {
	switch r {
	case ' ', '\t', ',', '/', '(', ')', '|', '-', ':':
		return true
	}
	return false
}

// skillScore is 1 without requirements, 0 without any overlap, otherwise
// 0.7 x match ratio + 0.3 x mean normalised proficiency of the matches.
func skillScore(required []string, skills []Skill) float64 {
	if len(required) == 0 {
		return 1
	}
	levels := make(map[string]int, len(skills))
	for _, s := range skills {
		p := s.Proficiency
		if p <= 0 {
			p = DefaultProficiency
		}
		levels[norm(s.Name)] = min(p, 5)
	}

	matches, total := 0, 0
	for _, r := range required {
		if p, ok := levels[norm(r)]; ok {
			matches++
			total += p
		}
	}
	if matches == 0 {
		return 0
	}
	ratio := float64(matches) / float64(len(required))
	proficiency := float64(total) / float64(matches*5)
	return math.Min(1, ratio*0.7+proficiency*0.3)
}

// experienceScore is 0.5 without declared years; otherwise years/10 (capped)
// blended 0.8/0.2 with a recency boost that loses 0.05 per full year of
// posting age and floors at 0.7.
func experienceScore(years float64, postedAt *time.Time, now time.Time) float64 {
	if years <= 0 {
		return 0.5
	}
	ratio := math.Min(1, years/10)
	if postedAt == nil {
		return ratio
	}

	age := fullYears(*postedAt, now)
	recency := 1.0
	if age > 0 {
		recency = math.Max(0.7, 1-float64(age)*0.05)
	}
	return math.Min(1, ratio*0.8+recency*0.2)
}

func fullYears(from, to time.Time) int {
	if to.Before(from) {
		return 0
	}
	y := to.Year() - from.Year()
	if to.Month() < from.Month() || (to.Month() == from.Month() && to.Day() < from.Day()) {
		y--
	}
	return max(0, y)
}

func locationScore(preferred []string, location string, wantsRemote, remote bool) float64 {
	if remote && wantsRemote {
		return 1
	}
	loc := norm(location)
	if loc == "" {
		if wantsRemote {
			return 0.6
		}
		return 0.4
	}
	prefs := 0
	for _, p := range preferred {
		p = norm(p)
		if p == "" {
			continue
		}
		prefs++
		if strings.Contains(loc, p) || strings.Contains(p, loc) {
			return 1
		}
	}
	if prefs == 0 {
		return 0.8
	}
	return 0.1
}

func salaryScore(floor, ceiling, jobMin, jobMax float64) float64 {
	if floor <= 0 && ceiling <= 0 {
		return 0.8
	}
	if jobMin <= 0 && jobMax <= 0 {
		return 0.4
	}

	upper, lower := jobMax, jobMin
	if upper <= 0 {
		upper = jobMin
	}
	if lower <= 0 {
		lower = jobMax
	}
	meetsFloor := floor <= 0 || upper >= floor
	withinCeiling := ceiling <= 0 || lower <= ceiling

	switch {
	case meetsFloor && withinCeiling:
		return 1
	case meetsFloor:
		return 0.75
	case withinCeiling:
		return 0.5
	}
	return 0.1
}
