// Package nutrition computes calorie and macro targets from body metrics.
// All formulas are closed-form and deterministic.
package nutrition

import "math"

// Macros is a daily macro split in grams with its energy in kcal.
type Macros struct {
	Protein int `json:"protein_g"`
	Carbs   int `json:"carbs_g"`
	Fat     int `json:"fat_g"`
	Kcal    int `json:"kcal"`
}

// Meal is one slot of the premium meal split.
type Meal struct {
	Label string  `json:"label"`
	Share float64 `json:"share"`
	Kcal  int     `json:"kcal"`
}

// Timeline estimates how long reaching the target weight takes.
type Timeline struct {
	Weeks  int     `json:"weeks"`
	Months float64 `json:"months"`
}

// Plan is the calculator output. Meals and Timeline are premium-only and nil otherwise.
type Plan struct {
	BMR         float64   `json:"bmr"`
	TDEE        float64   `json:"tdee"`
	Calories    int       `json:"calories"`
	Daily       Macros    `json:"daily"`
	TrainingDay Macros    `json:"training_day"`
	RestDay     Macros    `json:"rest_day"`
	Meals       []Meal    `json:"meals,omitempty"`
	Timeline    *Timeline `json:"timeline,omitempty"`
}

// MinCalories is the floor applied to any recommendation.
const MinCalories = 1200

var meals = []Meal{
	{Label: "breakfast", Share: 0.25},
	{Label: "lunch", Share: 0.30},
	{Label: "snack", Share: 0.25},
	{Label: "dinner", Share: 0.20},
}

// Compute derives the plan for in. premium unlocks the meal split and the target timeline.
func Compute(in Input, premium bool) Plan {
	bmr := BMR(in.Sex, in.Weight, in.Height, in.Age)
	tdee := bmr * activityFactor(in.Activity)
	calories := max(MinCalories, round(tdee+goalDelta(in.Goal)))

	proteinPerKg, fatPerKg := 1.8, 0.9
	if in.Goal == Cut {
		proteinPerKg, fatPerKg = 2.0, 0.8
	}
	protein := round(in.Weight * proteinPerKg)
	fat := round(in.Weight * fatPerKg)
	carbs := max(0, round(float64(calories-protein*4-fat*9)/4))

	p := Plan{
		BMR:         bmr,
		TDEE:        tdee,
		Calories:    calories,
		Daily:       Macros{Protein: protein, Carbs: carbs, Fat: fat, Kcal: calories},
		TrainingDay: split(protein, float64(carbs)*1.15, float64(fat)*0.85),
		RestDay:     split(protein, float64(carbs)*0.85, float64(fat)*1.15),
	}
	if !premium {
		return p
	}

	p.Meals = make([]Meal, len(meals))
	for i, m := range meals {
		m.Kcal = round(float64(calories) * m.Share)
		p.Meals[i] = m
	}
	if in.Target != nil {
		p.Timeline = timeline(in.Goal, in.Weight, *in.Target)
	}
	return p
}

// BMR is the Mifflin-St Jeor resting energy expenditure in kcal/day.
func BMR(sex Sex, weight, height, age float64) float64 {
	base := 10*weight + 6.25*height - 5*age
	if sex == Female {
		return base - 161
	}
	return base + 5
}

func activityFactor(a Activity) float64 {
	switch a {
	case Low:
		return 1.35
	case High:
		return 1.7
	default:
		return 1.55
	}
}

func goalDelta(g Goal) float64 {
	switch g {
	case Cut:
		return -450
	case Bulk:
		return 250
	default:
		return 0
	}
}

func split(protein int, carbs, fat float64) Macros {
	m := Macros{Protein: protein, Carbs: round(carbs), Fat: round(fat)}
	m.Kcal = m.Protein*4 + m.Carbs*4 + m.Fat*9
	return m
}

// timeline returns nil when the target does not match the goal direction.
func timeline(goal Goal, weight, target float64) *Timeline {
	var weeks int
	switch {
	case goal == Cut && target < weight:
		perWeek := clamp(weight*0.0075, 0.4, 1.0)
		weeks = int(math.Ceil((weight - target) / perWeek))
	case goal == Bulk && target > weight:
		perWeek := clamp(weight*0.0035, 0.2, 0.6)
		weeks = int(math.Ceil((target - weight) / perWeek))
	case goal == Maintain:
		weeks = 0
	default:
		return nil
	}
	return &Timeline{
		Weeks:  weeks,
		Months: float64(round(float64(weeks)/4.345*10)) / 10,
	}
}

// round rounds half up.
func round(x float64) int {
	return int(math.Floor(x + 0.5))
}
