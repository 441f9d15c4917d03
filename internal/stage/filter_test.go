package stage_test

import (
	"encoding/json"
	"testing"

	"contexthub/internal/payload"
	"contexthub/internal/sixw"
	"contexthub/internal/stage"
)

// fullPayload builds a payload with every section present and every
// filterable 6W field populated.
func fullPayload() *payload.ContextPayload {
	attrs := sixw.SixW{}
	for _, name := range sixw.FieldNames() {
		var v sixw.Value
		if _, scalar := map[string]bool{
			sixw.FieldDeadline: true, sixw.FieldBusinessValue: true,
			sixw.FieldRiskIfDelayed: true, sixw.FieldSuggestedApproach: true,
		}[name]; scalar {
			v = sixw.Value{Scalar: "value of " + name}
		} else {
			v = sixw.Value{List: []string{"value of " + name}}
		}
		_ = sixw.SetField(&attrs, name, v)
	}
	return &payload.ContextPayload{
		Entity: payload.Descriptor{Type: "task", ID: "t-1", Status: "active"},
		SixW:   attrs,
		Supporting: payload.SupportingData{
			Documents: []payload.Record{{ID: "d1", Kind: "document", Title: "design"}},
			Evidence:  []payload.Record{{ID: "e1", Kind: "evidence", Title: "benchmark"}},
			Events:    []payload.Record{{ID: "v1", Kind: "event", Title: "deploy"}},
			Summaries: []payload.Record{{ID: "s1", Kind: "summary", Title: "recap"}},
		},
		Facts:       &payload.Facts{Languages: []string{"Go"}, Verified: true},
		Inheritance: &payload.Inheritance{Chain: []sixw.Level{{Name: "task", ID: "t-1"}}},
		Children:    []payload.Descriptor{{Type: "task", ID: "t-2"}},
	}
}

// populatedFields lists which 6W fields survived filtering.
func populatedFields(t *testing.T, p *payload.ContextPayload) map[string]bool {
	t.Helper()
	out := map[string]bool{}
	for _, name := range sixw.FieldNames() {
		v, err := sixw.FieldValue(p.SixW, name)
		if err != nil {
			t.Fatalf("FieldValue(%s): %v", name, err)
		}
		if !v.IsEmpty() {
			out[name] = true
		}
	}
	return out
}

func TestFilter_UnknownStageAndRolePassesThrough(t *testing.T) {
	p := fullPayload()
	got := stage.Filter(p, stage.Stage("made-up"), stage.Role(""))
	if got != p {
		t.Error("unknown stage and role should return the payload unchanged")
	}
}

func TestFilter_StageTrimsFieldsAndSections(t *testing.T) {
	p := fullPayload()
	got := stage.Filter(p, stage.StageImplementation, stage.Role(""))

	fields := populatedFields(t, got)
	if !fields[sixw.FieldTechnicalConstraints] {
		t.Error("implementation stage should keep technical_constraints")
	}
	if fields[sixw.FieldEndUsers] {
		t.Error("implementation stage should drop end_users")
	}
	if fields[sixw.FieldBusinessValue] {
		t.Error("implementation stage should drop business_value")
	}

	if got.Facts == nil {
		t.Error("implementation stage should keep facts")
	}
	if got.Supporting.Events != nil {
		t.Error("implementation stage should drop events")
	}
	if got.Children != nil {
		t.Error("implementation stage should drop children")
	}
}

func TestFilter_RoleComposesWithStageByIntersection(t *testing.T) {
	p := fullPayload()
	got := stage.Filter(p, stage.StagePlanning, stage.RoleTester)

	fields := populatedFields(t, got)
	// Only fields on BOTH allow-lists survive.
	for _, want := range []string{sixw.FieldFunctionalRequirements, sixw.FieldAcceptanceCriteria} {
		if !fields[want] {
			t.Errorf("planning+tester should keep %s", want)
		}
	}
	if fields[sixw.FieldDeadline] {
		t.Error("deadline is planning-only, tester must not see it")
	}
	if fields[sixw.FieldAffectedServices] {
		t.Error("affected_services is tester-only, planning must not restore it")
	}

	// Sections: planning ∩ tester = documents, evidence.
	if got.Supporting.Documents == nil || got.Supporting.Evidence == nil {
		t.Error("planning+tester should keep documents and evidence")
	}
	if got.Supporting.Summaries != nil || got.Inheritance != nil || got.Children != nil {
		t.Error("sections outside the intersection must be dropped")
	}
}

func TestFilter_RoleNeverWidensStage(t *testing.T) {
	p := fullPayload()
	stageOnly := populatedFields(t, stage.Filter(p, stage.StageReview, stage.Role("")))
	both := populatedFields(t, stage.Filter(p, stage.StageReview, stage.RoleCoordinator))

	for f := range both {
		if !stageOnly[f] {
			t.Errorf("role re-added %s that the stage had removed", f)
		}
	}
}

func TestFilter_DoesNotMutateInput(t *testing.T) {
	p := fullPayload()
	_ = stage.Filter(p, stage.StageOperations, stage.RoleReviewer)

	if p.Supporting.Documents == nil || p.Facts == nil || p.Inheritance == nil {
		t.Error("input payload was mutated")
	}
	fields := populatedFields(t, p)
	if len(fields) != len(sixw.FieldNames()) {
		t.Errorf("input 6W block was trimmed: %d of %d fields remain", len(fields), len(sixw.FieldNames()))
	}
}

func TestFilter_NeverGrowsSerializedPayload(t *testing.T) {
	p := fullPayload()
	base, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	stages := []stage.Stage{
		"", stage.StageDiscovery, stage.StagePlanning, stage.StageImplementation,
		stage.StageReview, stage.StageOperations, stage.StageEvolution,
	}
	roles := []stage.Role{
		"", stage.RoleArchitect, stage.RoleImplementer, stage.RoleReviewer,
		stage.RoleTester, stage.RoleCoordinator,
	}
	for _, s := range stages {
		for _, r := range roles {
			got, err := json.Marshal(stage.Filter(p, s, r))
			if err != nil {
				t.Fatalf("marshal filtered (%s, %s): %v", s, r, err)
			}
			if len(got) > len(base) {
				t.Errorf("Filter(%q, %q) grew the payload: %d > %d bytes", s, r, len(got), len(base))
			}
		}
	}
}

func TestFilter_NilPayload(t *testing.T) {
	if got := stage.Filter(nil, stage.StagePlanning, stage.RoleTester); got != nil {
		t.Errorf("Filter(nil) = %v, want nil", got)
	}
}

func TestRequiredFields_UnknownStageFallsBack(t *testing.T) {
	got := stage.RequiredFields(stage.Stage("made-up"))
	want := []string{sixw.FieldEndUsers, sixw.FieldFunctionalRequirements, sixw.FieldBusinessValue}
	if len(got) != len(want) {
		t.Fatalf("RequiredFields = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("RequiredFields[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestRequiredFields_ReturnsCopy(t *testing.T) {
	a := stage.RequiredFields(stage.StageDiscovery)
	a[0] = "tampered"
	b := stage.RequiredFields(stage.StageDiscovery)
	if b[0] == "tampered" {
		t.Error("RequiredFields exposes the internal registry slice")
	}
}
