package nutrition

import (
	"math"
	"net/url"
	"strconv"
	"strings"
)

// Sex selects the BMR constant.
type Sex string

const (
	Male   Sex = "male"
	Female Sex = "female"
)

// Goal selects the calorie delta and macro ratios.
type Goal string

const (
	Cut      Goal = "cut"
	Maintain Goal = "maintain"
	Bulk     Goal = "bulk"
)

// Activity selects the TDEE multiplier.
type Activity string

const (
	Low      Activity = "low"
	Moderate Activity = "moderate"
	High     Activity = "high"
)

// Input is a sanitized calculator request.
type Input struct {
	Sex      Sex      `json:"sex"`
	Goal     Goal     `json:"goal"`
	Activity Activity `json:"activity"`
	Age      float64  `json:"age"`    // years
	Height   float64  `json:"height"` // cm
	Weight   float64  `json:"weight"` // kg
	// Target is the desired weight in kg; nil when not given.
	Target *float64 `json:"targetWeight,omitempty"`
}

// Input bounds and defaults.
const (
	minAge, maxAge, defaultAge          = 12, 90, 28
	minHeight, maxHeight, defaultHeight = 120, 230, 175
	minWeight, maxWeight, defaultWeight = 30, 250, 75
)

// DefaultInput is what an empty query resolves to.
func DefaultInput() Input {
	return Input{
		Sex:      Male,
		Goal:     Cut,
		Activity: Moderate,
		Age:      defaultAge,
		Height:   defaultHeight,
		Weight:   defaultWeight,
	}
}

// ParseInput reads calculator parameters from a query string.
// It never fails: unknown enum values and unparsable numbers fall back to defaults,
// and body metrics are clamped to plausible ranges.
func ParseInput(q url.Values) Input {
	in := DefaultInput()

	switch Sex(q.Get("sex")) {
	case Female:
		in.Sex = Female
	}
	switch g := Goal(q.Get("goal")); g {
	case Cut, Maintain, Bulk:
		in.Goal = g
	}
	switch a := Activity(q.Get("activity")); a {
	case Low, Moderate, High:
		in.Activity = a
	}

	in.Age = clamp(number(q.Get("age"), defaultAge), minAge, maxAge)
	in.Height = clamp(number(q.Get("height"), defaultHeight), minHeight, maxHeight)
	in.Weight = clamp(number(q.Get("weight"), defaultWeight), minWeight, maxWeight)

	if raw := q.Get("targetWeight"); raw != "" {
		if t := number(raw, math.NaN()); !math.IsNaN(t) {
			in.Target = &t
		}
	}
	return in
}

// number parses s accepting a comma as decimal separator.
func number(s string, fallback float64) float64 {
	s = strings.TrimSpace(strings.Replace(s, ",", ".", 1))
	if s == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return fallback
	}
	return f
}

func clamp(n, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, n))
}
