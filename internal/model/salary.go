package model

import (
	"regexp"
	"strconv"
	"strings"
)

var salaryNumber = regexp.MustCompile(`(\d[\d,]*(?:\.\d+)?)\s*([kK])?`)

// ParseSalary turns a scraped salary label into a Salary. Amounts under a
// thousand are read as thousands ("$110k", "90 - 120"). Hourly and daily
// rates keep their text but no range.
func ParseSalary(text string) Salary {
	s := Salary{Text: strings.TrimSpace(text)}
	if s.Text == "" {
		return s
	}

	lower := strings.ToLower(s.Text)
	switch {
	case strings.Contains(lower, "$"), strings.Contains(lower, "usd"):
		s.Currency = "USD"
	case strings.Contains(lower, "£"), strings.Contains(lower, "gbp"):
		s.Currency = "GBP"
	case strings.Contains(lower, "€"), strings.Contains(lower, "eur"):
		s.Currency = "EUR"
	}
	if strings.Contains(lower, "hour") || strings.Contains(lower, "/hr") || strings.Contains(lower, "day") {
		return s
	}

	var vals []float64
	for _, m := range salaryNumber.FindAllStringSubmatch(s.Text, -1) {
		v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
		if err != nil || v == 0 {
			continue
		}
		if m[2] != "" || v < 1000 {
			v *= 1000
		}
		vals = append(vals, v)
		if len(vals) == 2 {
			break
		}
	}

	switch len(vals) {
	case 1:
		s.Min = Ptr(vals[0])
	case 2:
		lo, hi := vals[0], vals[1]
		if lo > hi {
			lo, hi = hi, lo
		}
		s.Min, s.Max = Ptr(lo), Ptr(hi)
	}
	return s
}

// SalaryRange builds a Salary from structured bounds; zero means unknown.
func SalaryRange(min, max float64, currency string) Salary {
	s := Salary{Currency: currency}
	if min > 0 {
		s.Min = Ptr(min)
	}
	if max > 0 {
		s.Max = Ptr(max)
	}
	return s
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slug lower-cases s and replaces every run of characters outside [a-z0-9]
// with a single dash.
func Slug(s string) string {
	return strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(s), "-"), "-")
}
