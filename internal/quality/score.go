// Package quality computes the confidence, completeness and freshness
// scores attached to every context payload, plus the tri-band
// classification and human-readable warnings.
//
// The factor weights are fixed constants, matching the behavior this
// engine was modeled on. Making them deployment-configurable was
// considered and rejected: a payload's band must mean the same thing to
// every consumer, or cross-agent coordination on quality breaks down.
package quality

import (
	"fmt"
	"math"
	"time"

	"contexthub/internal/entity"
	"contexthub/internal/payload"
	"contexthub/internal/sixw"
	"contexthub/internal/stage"
)

// timeNow is a package-level variable for testability.
var timeNow = time.Now

// Confidence factor weights. Must sum to 1.
const (
	weightEvidenceCoverage  = 0.40
	weightValidationRecency = 0.30
	weightStakeholder       = 0.20
	weightVerifiedFacts     = 0.10
)

// Freshness factor weights. Must sum to 1.
const (
	weightTimeDecay    = 0.70
	weightStatusWeight = 0.30
)

const (
	// validationWindow is how long an explicit validation counts for;
	// recency decays linearly to zero across it.
	validationWindow = 30 * 24 * time.Hour
	// freshnessHalfLife halves the time-decay factor every 7 days.
	freshnessHalfLife = 7 * 24 * time.Hour
	// stalenessThreshold triggers a staleness warning.
	stalenessThreshold = 30 * 24 * time.Hour
	// warnBelow triggers a low-score warning for any of the three scores.
	warnBelow = 0.6
)

// statusWeights maps entity status to its freshness contribution.
// Active-like statuses score near 1.0; archived scores 0.
var statusWeights = map[entity.Status]float64{
	entity.StatusActive:    1.0,
	entity.StatusPlanned:   0.7,
	entity.StatusBlocked:   0.5,
	entity.StatusCompleted: 0.35,
	entity.StatusArchived:  0.0,
}

// Input is the partial payload the scorer reads. Everything is plain data;
// Score performs no I/O.
type Input struct {
	Merged               sixw.SixW
	Status               entity.Status
	UpdatedAt            time.Time
	LastValidatedAt      *time.Time
	StakeholderConfirmed bool
	Facts                *payload.Facts
	Stage                stage.Stage
}

// BandFor classifies a confidence score. Pure and deterministic: the band
// is never stored apart from the score that produced it.
func BandFor(confidence float64) payload.Band {
	switch {
	case confidence < 0.5:
		return payload.BandRed
	case confidence < 0.8:
		return payload.BandYellow
	default:
		return payload.BandGreen
	}
}

// Score computes the quality block for a partially assembled payload.
// All three scores are clamped to [0,1].
func Score(in Input) payload.QualityBlock {
	now := timeNow()

	b := payload.Breakdown{
		EvidenceCoverage:     sixw.DimensionCoverage(in.Merged),
		ValidationRecency:    validationRecency(in.LastValidatedAt, now),
		StakeholderConfirmed: boolFactor(in.StakeholderConfirmed),
		VerifiedFacts:        factsFactor(in.Facts),
		TimeDecay:            timeDecay(in.UpdatedAt, now),
		StatusWeight:         statusWeights[in.Status],
	}

	confidence := clamp(weightEvidenceCoverage*b.EvidenceCoverage +
		weightValidationRecency*b.ValidationRecency +
		weightStakeholder*b.StakeholderConfirmed +
		weightVerifiedFacts*b.VerifiedFacts)

	completeness := clamp(completenessScore(in.Merged, in.Stage))

	freshness := clamp(weightTimeDecay*b.TimeDecay + weightStatusWeight*b.StatusWeight)

	q := payload.QualityBlock{
		Confidence:   confidence,
		Completeness: completeness,
		Freshness:    freshness,
		Band:         BandFor(confidence),
		Breakdown:    b,
	}
	q.Warnings = warnings(q, in.UpdatedAt, now)
	return q
}

// completenessScore returns the fraction of stage-required fields
// populated in the merged attributes. Unknown stages fall back to the
// stage-agnostic minimal set inside stage.RequiredFields.
func completenessScore(merged sixw.SixW, s stage.Stage) float64 {
	required := stage.RequiredFields(s)
	if len(required) == 0 {
		return 0
	}
	populated := 0
	for _, name := range required {
		v, err := sixw.FieldValue(merged, name)
		if err != nil {
			continue
		}
		if !v.IsEmpty() {
			populated++
		}
	}
	return float64(populated) / float64(len(required))
}

// validationRecency decays linearly from 1 to 0 across the validation
// window. Never-validated entities score 0.
func validationRecency(validatedAt *time.Time, now time.Time) float64 {
	if validatedAt == nil {
		return 0
	}
	age := now.Sub(*validatedAt)
	if age < 0 {
		age = 0
	}
	if age >= validationWindow {
		return 0
	}
	return 1 - float64(age)/float64(validationWindow)
}

// timeDecay halves every freshnessHalfLife since the last update,
// flooring at 0 for the zero time.
func timeDecay(updatedAt time.Time, now time.Time) float64 {
	if updatedAt.IsZero() {
		return 0
	}
	age := now.Sub(updatedAt)
	if age <= 0 {
		return 1
	}
	return math.Pow(0.5, float64(age)/float64(freshnessHalfLife))
}

// factsFactor scores code-intelligence presence: verified facts count in
// full, unverified detection counts half, absence counts zero.
func factsFactor(f *payload.Facts) float64 {
	switch {
	case f == nil:
		return 0
	case f.Verified:
		return 1
	default:
		return 0.5
	}
}

func boolFactor(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// warnings explains low scores and staleness in caller-readable text.
// Order is fixed so identical inputs produce identical payloads.
func warnings(q payload.QualityBlock, updatedAt, now time.Time) []string {
	var w []string
	if q.Confidence < warnBelow {
		w = append(w, fmt.Sprintf("confidence %.2f is below %.1f: add evidence across the 6W dimensions or re-validate", q.Confidence, warnBelow))
	}
	if q.Completeness < warnBelow {
		w = append(w, fmt.Sprintf("completeness %.2f is below %.1f: stage-required fields are missing", q.Completeness, warnBelow))
	}
	if q.Freshness < warnBelow {
		w = append(w, fmt.Sprintf("freshness %.2f is below %.1f: context may be out of date", q.Freshness, warnBelow))
	}
	if !updatedAt.IsZero() {
		if age := now.Sub(updatedAt); age > stalenessThreshold {
			w = append(w, fmt.Sprintf("stale: last updated %d days ago", int(age.Hours()/24)))
		}
	}
	return w
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
