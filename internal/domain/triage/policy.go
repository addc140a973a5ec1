package triage

import (
	"bytes"
	"strings"
	"time"
)

// Severity bounds accepted at intake.
const (
	MinSeverity = 1
	MaxSeverity = 10
)

// DefaultAgingPerMinute is the rate at which a waiting patient's display
// score grows. The exact curve is a policy knob, not a clinical constant.
const DefaultAgingPerMinute = 0.05

var veryUrgentSymptoms = map[string]bool{
	"chest_pain":           true,
	"shortness_of_breath":  true,
	"unconscious":          true,
	"difficulty_breathing": true,
}

var mediumUrgentSymptoms = map[string]bool{
	"fever":    true,
	"vomiting": true,
	"diarrhea": true,
}

// DefaultSeverity maps a symptom code to its baseline severity, used when an
// intake omits explicit scores.
func DefaultSeverity(code string) int {
	switch c := strings.ToLower(code); {
	case veryUrgentSymptoms[c]:
		return 5
	case mediumUrgentSymptoms[c]:
		return 3
	default:
		return 1
	}
}

// SeverityOf aggregates a patient's symptom severities into the single
// severity that drives queue ordering: the dominant complaint wins.
func SeverityOf(symptoms []Symptom) int {
	max := MinSeverity
	for _, s := range symptoms {
		if s.Severity > max {
			max = s.Severity
		}
	}
	if max > MaxSeverity {
		max = MaxSeverity
	}
	return max
}

// Policy is the pure priority policy. It owns no state; the engine applies
// it under its own synchronization.
type Policy struct {
	// AgingPerMinute is added to the display score per minute waited, so
	// long-waiting patients surface on dashboards without reordering.
	AgingPerMinute float64
}

func DefaultPolicy() Policy {
	return Policy{AgingPerMinute: DefaultAgingPerMinute}
}

// Score is the dashboard-facing numeric priority: severity plus elapsed-wait
// aging, clamped to the [MinSeverity, MaxSeverity] band. It is strictly
// non-decreasing in elapsed wait.
func (p Policy) Score(severity int, arrival, now time.Time) float64 {
	waited := now.Sub(arrival).Minutes()
	if waited < 0 {
		waited = 0
	}
	score := float64(severity) + p.AgingPerMinute*waited
	if score < MinSeverity {
		return MinSeverity
	}
	if score > MaxSeverity {
		return MaxSeverity
	}
	return score
}

// rankLess is the total order over claimable patients: higher severity
// first, then earlier arrival. Because every waiting patient ages at the
// same rate, arrival order within a severity is exactly the monotone-aging
// order, so the comparator never needs the clock and heap entries stay
// stable. A known ETA breaks ties only between identical arrival instants,
// and the id makes the order total.
func rankLess(a, b *Record) bool {
	if a.Severity != b.Severity {
		return a.Severity > b.Severity
	}
	if !a.ArrivalTime.Equal(b.ArrivalTime) {
		return a.ArrivalTime.Before(b.ArrivalTime)
	}
	switch {
	case a.EtaMinutes != nil && b.EtaMinutes == nil:
		return true
	case a.EtaMinutes == nil && b.EtaMinutes != nil:
		return false
	case a.EtaMinutes != nil && b.EtaMinutes != nil && *a.EtaMinutes != *b.EtaMinutes:
		return *a.EtaMinutes < *b.EtaMinutes
	}
	return bytes.Compare(a.ID[:], b.ID[:]) < 0
}

// MinutesPerPatient derives the per-slot service pace from a whole-queue
// wait prediction. Falls back to a ten-minute slot when the prediction is
// unusable.
func MinutesPerPatient(predictedTotal float64, queueSize int) float64 {
	ahead := queueSize - 1
	if ahead < 1 {
		ahead = 1
	}
	if predictedTotal > 0 {
		return predictedTotal / float64(ahead)
	}
	return 10.0
}

// severityFactor shortens the expected wait for urgent patients.
func severityFactor(score float64) float64 {
	switch {
	case score >= 8.0:
		return 0.5
	case score >= 5.0:
		return 0.75
	default:
		return 1.0
	}
}

// EstimateWait projects a patient's wait from the service pace, the number
// of patients ahead, and their current score.
func EstimateWait(minutesPerPatient float64, peopleAhead int, score float64) float64 {
	if peopleAhead < 0 {
		peopleAhead = 0
	}
	return minutesPerPatient * float64(peopleAhead) * severityFactor(score)
}
