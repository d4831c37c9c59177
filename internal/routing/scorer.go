package routing

import (
	"math"
	"strings"
)

var (
	highwayTerms = []string{"highway", "expressway", "freeway", "motorway"}
	uturnTerms   = []string{"u-turn", "turn around"}
	complexTerms = []string{"sharp", "merge", "ramp", "against"}
)

// StepCounts tallies the instruction vocabulary the scorer cares about.
type StepCounts struct {
	Total   int
	Highway int
	UTurn   int
	Complex int
}

// Ratios returns each count as a fraction of Total, or zeros when there are no steps.
func (c StepCounts) Ratios() (highway, uturn, complex float64) {
	if c.Total == 0 {
		return 0, 0, 0
	}
	total := float64(c.Total)
	return float64(c.Highway) / total, float64(c.UTurn) / total, float64(c.Complex) / total
}

// CountSteps scans every step's raw instruction text, case-insensitively.
func CountSteps(route Route) StepCounts {
	var c StepCounts
	for i := range route.Legs {
		for j := range route.Legs[i].Steps {
			text := strings.ToLower(route.Legs[i].Steps[j].Instruction)
			c.Total++
			if containsAny(text, highwayTerms) {
				c.Highway++
			}
			if containsAny(text, uturnTerms) {
				c.UTurn++
			}
			if containsAny(text, complexTerms) {
				c.Complex++
			}
		}
	}
	return c
}

func containsAny(s string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}

// Score rates how well a route fits the rider's preferences. Higher is better
// and the result is never negative.
//
// Strict mode treats U-turns and complex maneuvers as liabilities; flexible
// mode treats them as shortcuts. Flexible mode also stacks a second speed
// bonus on top of the base one, so it strongly favors short, fast routes.
func Score(route Route, prefs Preferences) float64 {
	score := 100.0
	distanceKm := route.DistanceMeters() / 1000
	durationMin := route.DurationSeconds() / 60

	if prefs.PreferBikeLanes {
		score += math.Max(0, 50-distanceKm)
	} else {
		score += math.Max(0, 100-durationMin)
	}

	counts := CountSteps(route)
	highwayRatio, uturnRatio, complexRatio := counts.Ratios()

	if prefs.AvoidHighways && highwayRatio > 0.1 {
		score -= highwayRatio * 50
	}
	if prefs.AvoidExpressways && highwayRatio > 0.05 {
		score -= highwayRatio * 30
	}

	if prefs.FollowTrafficLaws {
		if uturnRatio > 0.1 {
			score -= uturnRatio * 40
		}
		if complexRatio > 0.2 {
			score -= complexRatio * 25
		}
		score += math.Max(0, 20-float64(counts.Complex)*2)
	} else {
		// Stacks with the base speed bonus above.
		score += math.Max(0, 50-durationMin)
		score += math.Max(0, 30-distanceKm)
		score += uturnRatio * 15
		score += complexRatio * 10
		if distanceKm > 50 {
			score -= distanceKm * 2
		}
	}

	return math.Max(0, score)
}
