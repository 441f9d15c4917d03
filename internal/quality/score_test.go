package quality

import (
	"strings"
	"testing"
	"time"

	"contexthub/internal/entity"
	"contexthub/internal/payload"
	"contexthub/internal/sixw"
	"contexthub/internal/stage"
)

// fixedNow pins the clock for deterministic scoring.
func fixedNow(t *testing.T, now time.Time) {
	t.Helper()
	orig := timeNow
	timeNow = func() time.Time { return now }
	t.Cleanup(func() { timeNow = orig })
}

// fullCoverage returns attributes populating at least one field in every
// 6W dimension.
func fullCoverage() sixw.SixW {
	return sixw.SixW{
		EndUsers:               []string{"support agents"},
		FunctionalRequirements: []string{"export tickets as CSV"},
		Repositories:           []string{"ticketing"},
		Deadline:               "2026-10-01",
		BusinessValue:          "reduce churn",
		SuggestedApproach:      "extend the report builder",
	}
}

// ─── Bands ───────────────────────────────────────────────────────────────────

func TestBandFor_Thresholds(t *testing.T) {
	cases := []struct {
		confidence float64
		want       payload.Band
	}{
		{0.0, payload.BandRed},
		{0.49, payload.BandRed},
		{0.5, payload.BandYellow},
		{0.79, payload.BandYellow},
		{0.8, payload.BandGreen},
		{1.0, payload.BandGreen},
	}
	for _, tc := range cases {
		if got := BandFor(tc.confidence); got != tc.want {
			t.Errorf("BandFor(%v) = %s, want %s", tc.confidence, got, tc.want)
		}
	}
}

// ─── Confidence ──────────────────────────────────────────────────────────────

func TestScore_FullyEvidencedEntityIsGreen(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	fixedNow(t, now)

	validated := now.Add(-time.Hour)
	q := Score(Input{
		Merged:               fullCoverage(),
		Status:               entity.StatusActive,
		UpdatedAt:            now.Add(-time.Hour),
		LastValidatedAt:      &validated,
		StakeholderConfirmed: true,
		Facts:                &payload.Facts{Languages: []string{"Go"}, Verified: true},
	})

	if q.Confidence < 0.95 {
		t.Errorf("confidence = %v, want near 1.0", q.Confidence)
	}
	if q.Band != payload.BandGreen {
		t.Errorf("band = %s, want GREEN", q.Band)
	}
	if len(q.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", q.Warnings)
	}
}

func TestScore_ConfidenceWeights(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	fixedNow(t, now)

	// Only coverage contributes: 3 of 6 dimensions populated.
	q := Score(Input{
		Merged: sixw.SixW{
			EndUsers:               []string{"ops"},
			FunctionalRequirements: []string{"alerting"},
			BusinessValue:          "fewer outages",
		},
		Status:    entity.StatusActive,
		UpdatedAt: now,
	})

	want := 0.40 * 0.5 // half the dimensions, no other factors
	if diff := q.Confidence - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("confidence = %v, want %v", q.Confidence, want)
	}
	if q.Band != payload.BandRed {
		t.Errorf("band = %s, want RED", q.Band)
	}
}

func TestScore_ValidationRecencyDecaysLinearly(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	fixedNow(t, now)

	cases := []struct {
		age  time.Duration
		want float64
	}{
		{0, 1.0},
		{15 * 24 * time.Hour, 0.5},
		{30 * 24 * time.Hour, 0.0},
		{60 * 24 * time.Hour, 0.0},
	}
	for _, tc := range cases {
		validated := now.Add(-tc.age)
		q := Score(Input{Status: entity.StatusActive, UpdatedAt: now, LastValidatedAt: &validated})
		got := q.Breakdown.ValidationRecency
		if diff := got - tc.want; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("recency at age %v = %v, want %v", tc.age, got, tc.want)
		}
	}
}

func TestScore_NeverValidatedScoresZeroRecency(t *testing.T) {
	fixedNow(t, time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	q := Score(Input{Status: entity.StatusActive, UpdatedAt: timeNow()})
	if q.Breakdown.ValidationRecency != 0 {
		t.Errorf("recency = %v, want 0", q.Breakdown.ValidationRecency)
	}
}

func TestScore_FactsFactor(t *testing.T) {
	fixedNow(t, time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))

	cases := []struct {
		name  string
		facts *payload.Facts
		want  float64
	}{
		{"absent", nil, 0},
		{"unverified", &payload.Facts{Languages: []string{"Go"}}, 0.5},
		{"verified", &payload.Facts{Languages: []string{"Go"}, Verified: true}, 1},
	}
	for _, tc := range cases {
		q := Score(Input{Status: entity.StatusActive, UpdatedAt: timeNow(), Facts: tc.facts})
		if q.Breakdown.VerifiedFacts != tc.want {
			t.Errorf("%s: facts factor = %v, want %v", tc.name, q.Breakdown.VerifiedFacts, tc.want)
		}
	}
}

// ─── Completeness ────────────────────────────────────────────────────────────

func TestScore_CompletenessAgainstStageRequirements(t *testing.T) {
	fixedNow(t, time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))

	// Discovery requires end_users, functional_requirements, business_value.
	q := Score(Input{
		Merged: sixw.SixW{
			EndUsers:               []string{"ops"},
			FunctionalRequirements: []string{"alerting"},
		},
		Status:    entity.StatusActive,
		UpdatedAt: timeNow(),
		Stage:     stage.StageDiscovery,
	})

	want := 2.0 / 3.0
	if diff := q.Completeness - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("completeness = %v, want %v", q.Completeness, want)
	}
}

func TestScore_UnknownStageUsesMinimalRequirements(t *testing.T) {
	fixedNow(t, time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))

	q := Score(Input{
		Merged: sixw.SixW{
			EndUsers:               []string{"ops"},
			FunctionalRequirements: []string{"alerting"},
			BusinessValue:          "fewer outages",
		},
		Status:    entity.StatusActive,
		UpdatedAt: timeNow(),
		Stage:     stage.Stage("made-up"),
	})
	if q.Completeness != 1.0 {
		t.Errorf("completeness = %v, want 1.0 for the minimal required set", q.Completeness)
	}
}

// ─── Freshness ───────────────────────────────────────────────────────────────

func TestScore_ArchivedEntityNotTouchedFor45Days(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	fixedNow(t, now)

	q := Score(Input{
		Merged:    fullCoverage(),
		Status:    entity.StatusArchived,
		UpdatedAt: now.Add(-45 * 24 * time.Hour),
	})

	if q.Freshness > 0.3 {
		t.Errorf("freshness = %v, want <= 0.3 for a 45-day-old archived entity", q.Freshness)
	}

	found := false
	for _, w := range q.Warnings {
		if strings.Contains(w, "stale: last updated 45 days ago") {
			found = true
		}
	}
	if !found {
		t.Errorf("want staleness warning, got %v", q.Warnings)
	}
}

func TestScore_TimeDecayHalfLife(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	fixedNow(t, now)

	q := Score(Input{Status: entity.StatusActive, UpdatedAt: now.Add(-7 * 24 * time.Hour)})
	if diff := q.Breakdown.TimeDecay - 0.5; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("decay after one half-life = %v, want 0.5", q.Breakdown.TimeDecay)
	}
}

func TestScore_StatusWeights(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	fixedNow(t, now)

	cases := []struct {
		status entity.Status
		want   float64
	}{
		{entity.StatusActive, 1.0},
		{entity.StatusPlanned, 0.7},
		{entity.StatusBlocked, 0.5},
		{entity.StatusCompleted, 0.35},
		{entity.StatusArchived, 0.0},
	}
	for _, tc := range cases {
		q := Score(Input{Status: tc.status, UpdatedAt: now})
		if q.Breakdown.StatusWeight != tc.want {
			t.Errorf("%s: status weight = %v, want %v", tc.status, q.Breakdown.StatusWeight, tc.want)
		}
	}
}

// ─── Bounds and determinism ──────────────────────────────────────────────────

func TestScore_AllScoresWithinBounds(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	fixedNow(t, now)

	future := now.Add(24 * time.Hour)
	inputs := []Input{
		{},
		{Status: entity.StatusActive, UpdatedAt: future, LastValidatedAt: &future, StakeholderConfirmed: true},
		{Merged: fullCoverage(), Status: entity.StatusArchived, UpdatedAt: now.Add(-1000 * 24 * time.Hour)},
	}
	for i, in := range inputs {
		q := Score(in)
		for name, v := range map[string]float64{
			"confidence": q.Confidence, "completeness": q.Completeness, "freshness": q.Freshness,
		} {
			if v < 0 || v > 1 {
				t.Errorf("input %d: %s = %v out of [0,1]", i, name, v)
			}
		}
	}
}

func TestScore_Deterministic(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	fixedNow(t, now)

	in := Input{
		Merged:    fullCoverage(),
		Status:    entity.StatusBlocked,
		UpdatedAt: now.Add(-40 * 24 * time.Hour),
		Stage:     stage.StagePlanning,
	}
	a, b := Score(in), Score(in)
	if a.Confidence != b.Confidence || a.Band != b.Band || len(a.Warnings) != len(b.Warnings) {
		t.Errorf("identical inputs scored differently: %+v vs %+v", a, b)
	}
	for i := range a.Warnings {
		if a.Warnings[i] != b.Warnings[i] {
			t.Errorf("warning order differs at %d: %q vs %q", i, a.Warnings[i], b.Warnings[i])
		}
	}
}
