package engine

import (
	"fmt"
	"time"

	"chaseline/internal/config"
	"chaseline/internal/domain"
)

// RiskBand buckets a risk score for display and filtering.
type RiskBand string

const (
	RiskLow    RiskBand = "low"
	RiskMedium RiskBand = "medium"
	RiskHigh   RiskBand = "high"
)

const (
	bandMediumMin = 0.33
	bandHighMin   = 0.66
)

func bandFor(score float64) RiskBand {
	switch {
	case score >= bandHighMin:
		return RiskHigh
	case score >= bandMediumMin:
		return RiskMedium
	default:
		return RiskLow
	}
}

// Assessment is the predictor's judgment of how likely a chase is to stall.
type Assessment struct {
	Score          float64  `json:"score"`
	Band           RiskBand `json:"band" enum:"low,medium,high"`
	ExpectedDays   float64  `json:"expected_days"`
	ElapsedDays    float64  `json:"elapsed_days"`
	Factors        []string `json:"factors,omitempty"`
	Recommendation string   `json:"recommendation"`
}

// Predictor scores chase items with additive rules over elapsed time, attempt
// count, priority, seasonality and provider track record. Scores clamp to
// [0,1]; identical inputs always produce identical scores.
type Predictor struct {
	ClientResponseDays   float64
	ProviderResponseDays float64
}

func NewPredictor(cfg *config.Config) Predictor {
	return Predictor{
		ClientResponseDays:   cfg.Defaults.ClientResponseDays,
		ProviderResponseDays: cfg.Defaults.ProviderResponseDays,
	}
}

// peakSeason covers tax year end and the new year backlog, when providers and
// clients are slowest to respond.
func peakSeason(m time.Month) bool {
	switch m {
	case time.December, time.January, time.March, time.April:
		return true
	}
	return false
}

// Assess scores one item. profile may be nil for client-target chases.
func (p Predictor) Assess(it domain.ChaseItem, profile *domain.ProviderProfile, now time.Time) Assessment {
	var score float64
	var factors []string

	expected := p.ClientResponseDays
	if it.TargetKind == domain.TargetProvider {
		score += 0.40
		factors = append(factors, "provider-held request")
		expected = p.ProviderResponseDays
		if profile != nil {
			if profile.SampleCount >= 5 {
				expected = profile.P90Days
			} else if profile.MeanDays > 0 {
				expected = profile.MeanDays
			}
		}
	} else {
		score += 0.20
		factors = append(factors, "client-held request")
	}

	elapsed := now.Sub(it.CreatedAt).Hours() / 24
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > expected {
		score += 0.20
		factors = append(factors, fmt.Sprintf("past expected response time (%.0f of %.0f days)", elapsed, expected))
	} else if elapsed > expected/2 {
		score += 0.10
		factors = append(factors, "approaching expected response time")
	}

	if it.Attempts > 0 {
		score += 0.10 * float64(it.Attempts)
		factors = append(factors, fmt.Sprintf("%d chase attempts so far", it.Attempts))
	}

	switch it.Priority {
	case domain.PriorityHigh:
		score += 0.10
		factors = append(factors, "high priority")
	case domain.PriorityMedium:
		score += 0.05
	}

	if peakSeason(now.Month()) {
		score += 0.10
		factors = append(factors, "peak season")
	}
	if wd := now.Weekday(); wd == time.Saturday || wd == time.Sunday {
		score += 0.05
		factors = append(factors, "weekend")
	}

	if profile != nil && profile.SampleCount > 0 {
		rate := profile.OverdueRate()
		score += 0.15 * rate
		if rate >= 0.5 {
			factors = append(factors, "provider frequently overdue")
		}
	}

	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	band := bandFor(score)
	return Assessment{
		Score:          score,
		Band:           band,
		ExpectedDays:   expected,
		ElapsedDays:    elapsed,
		Factors:        factors,
		Recommendation: recommendationFor(band),
	}
}

func recommendationFor(band RiskBand) string {
	switch band {
	case RiskHigh:
		return "escalate to phone contact and flag for advisor review"
	case RiskMedium:
		return "send a firmer follow-up and monitor closely"
	default:
		return "continue the standard chase cadence"
	}
}
