package stage

import (
	"contexthub/internal/payload"
	"contexthub/internal/sixw"
)

// Section names a droppable top-level payload section. The entity
// descriptor, merged 6W block, quality block and meta envelope are always
// retained; only the sections below are subject to allow-list projection.
type Section string

const (
	SectionDocuments   Section = "documents"
	SectionEvidence    Section = "evidence"
	SectionEvents      Section = "events"
	SectionSummaries   Section = "summaries"
	SectionFacts       Section = "facts"
	SectionInheritance Section = "inheritance"
	SectionChildren    Section = "children"
)

// profile is an allow-list: the 6W fields and payload sections a stage or
// role retains. Everything else is physically removed from the payload so
// downstream token accounting stays accurate.
type profile struct {
	fields   []string
	sections []Section
}

// stageProfiles declares what each workflow stage needs to see.
var stageProfiles = map[Stage]profile{
	StageDiscovery: {
		fields: []string{
			sixw.FieldEndUsers, sixw.FieldFunctionalRequirements,
			sixw.FieldBusinessValue, sixw.FieldRiskIfDelayed,
			sixw.FieldExistingPatterns,
		},
		sections: []Section{SectionDocuments, SectionSummaries, SectionInheritance},
	},
	StagePlanning: {
		fields: []string{
			sixw.FieldEndUsers, sixw.FieldImplementers, sixw.FieldReviewers,
			sixw.FieldFunctionalRequirements, sixw.FieldTechnicalConstraints,
			sixw.FieldAcceptanceCriteria, sixw.FieldDeadline,
			sixw.FieldDependenciesTimeline, sixw.FieldBusinessValue,
			sixw.FieldRiskIfDelayed,
		},
		sections: []Section{
			SectionDocuments, SectionEvidence, SectionSummaries,
			SectionInheritance, SectionChildren,
		},
	},
	StageImplementation: {
		fields: []string{
			sixw.FieldImplementers, sixw.FieldFunctionalRequirements,
			sixw.FieldTechnicalConstraints, sixw.FieldAcceptanceCriteria,
			sixw.FieldAffectedServices, sixw.FieldRepositories,
			sixw.FieldDeploymentTargets, sixw.FieldSuggestedApproach,
			sixw.FieldExistingPatterns,
		},
		sections: []Section{SectionDocuments, SectionEvidence, SectionFacts, SectionInheritance},
	},
	StageReview: {
		fields: []string{
			sixw.FieldReviewers, sixw.FieldFunctionalRequirements,
			sixw.FieldTechnicalConstraints, sixw.FieldAcceptanceCriteria,
			sixw.FieldRiskIfDelayed,
		},
		sections: []Section{SectionEvidence, SectionEvents, SectionFacts, SectionSummaries},
	},
	StageOperations: {
		fields: []string{
			sixw.FieldAffectedServices, sixw.FieldDeploymentTargets,
			sixw.FieldTechnicalConstraints, sixw.FieldRiskIfDelayed,
		},
		sections: []Section{SectionEvents, SectionSummaries, SectionFacts},
	},
	StageEvolution: {
		fields: []string{
			sixw.FieldFunctionalRequirements, sixw.FieldBusinessValue,
			sixw.FieldRiskIfDelayed, sixw.FieldSuggestedApproach,
			sixw.FieldExistingPatterns,
		},
		sections: []Section{SectionDocuments, SectionEvents, SectionSummaries, SectionInheritance},
	},
}

// roleProfiles declares what each agent role needs to see. Role filters
// compose with stage filters by intersection — a role can never re-add a
// field the stage removed.
var roleProfiles = map[Role]profile{
	RoleArchitect: {
		fields: []string{
			sixw.FieldFunctionalRequirements, sixw.FieldTechnicalConstraints,
			sixw.FieldAffectedServices, sixw.FieldRepositories,
			sixw.FieldDeploymentTargets, sixw.FieldSuggestedApproach,
			sixw.FieldExistingPatterns, sixw.FieldBusinessValue,
		},
		sections: []Section{SectionDocuments, SectionFacts, SectionInheritance, SectionSummaries},
	},
	RoleImplementer: {
		fields: []string{
			sixw.FieldImplementers, sixw.FieldFunctionalRequirements,
			sixw.FieldTechnicalConstraints, sixw.FieldAcceptanceCriteria,
			sixw.FieldAffectedServices, sixw.FieldRepositories,
			sixw.FieldDeploymentTargets, sixw.FieldSuggestedApproach,
			sixw.FieldExistingPatterns,
		},
		sections: []Section{SectionDocuments, SectionEvidence, SectionFacts, SectionInheritance},
	},
	RoleReviewer: {
		fields: []string{
			sixw.FieldReviewers, sixw.FieldFunctionalRequirements,
			sixw.FieldTechnicalConstraints, sixw.FieldAcceptanceCriteria,
			sixw.FieldRiskIfDelayed,
		},
		sections: []Section{SectionEvidence, SectionEvents, SectionFacts},
	},
	RoleTester: {
		fields: []string{
			sixw.FieldFunctionalRequirements, sixw.FieldAcceptanceCriteria,
			sixw.FieldAffectedServices,
		},
		sections: []Section{SectionDocuments, SectionEvidence},
	},
	RoleCoordinator: {
		fields: []string{
			sixw.FieldEndUsers, sixw.FieldImplementers, sixw.FieldReviewers,
			sixw.FieldDeadline, sixw.FieldDependenciesTimeline,
			sixw.FieldBusinessValue, sixw.FieldRiskIfDelayed,
		},
		sections: []Section{SectionEvents, SectionSummaries, SectionChildren, SectionInheritance},
	},
}

// Filter projects a payload down to the intersection of the stage's and
// role's allow-lists. Unknown stage or role contributes no narrowing
// (pass-through); when both are unknown the payload is returned unchanged.
// The input payload is never mutated.
func Filter(p *payload.ContextPayload, s Stage, r Role) *payload.ContextPayload {
	if p == nil {
		return nil
	}

	stageP, haveStage := stageProfiles[s]
	roleP, haveRole := roleProfiles[r]
	if !haveStage && !haveRole {
		return p
	}

	fields := allFieldsSet()
	sections := allSectionsSet()
	if haveStage {
		intersectStrings(fields, stageP.fields)
		intersectSections(sections, stageP.sections)
	}
	if haveRole {
		intersectStrings(fields, roleP.fields)
		intersectSections(sections, roleP.sections)
	}

	out := p.Clone()

	// Project the merged 6W block: disallowed fields are zeroed, which
	// with omitempty JSON tags means physically absent when serialized.
	var trimmed sixw.SixW
	for _, name := range sixw.FieldNames() {
		if !fields[name] {
			continue
		}
		v, err := sixw.FieldValue(p.SixW, name)
		if err != nil {
			continue
		}
		_ = sixw.SetField(&trimmed, name, v)
	}
	out.SixW = trimmed

	if !sections[SectionDocuments] {
		out.Supporting.Documents = nil
	}
	if !sections[SectionEvidence] {
		out.Supporting.Evidence = nil
	}
	if !sections[SectionEvents] {
		out.Supporting.Events = nil
	}
	if !sections[SectionSummaries] {
		out.Supporting.Summaries = nil
	}
	if !sections[SectionFacts] {
		out.Facts = nil
	}
	if !sections[SectionInheritance] {
		out.Inheritance = nil
	}
	if !sections[SectionChildren] {
		out.Children = nil
	}

	return out
}

func allFieldsSet() map[string]bool {
	set := map[string]bool{}
	for _, name := range sixw.FieldNames() {
		set[name] = true
	}
	return set
}

func allSectionsSet() map[Section]bool {
	return map[Section]bool{
		SectionDocuments: true, SectionEvidence: true, SectionEvents: true,
		SectionSummaries: true, SectionFacts: true, SectionInheritance: true,
		SectionChildren: true,
	}
}

func intersectStrings(set map[string]bool, allowed []string) {
	keep := map[string]bool{}
	for _, f := range allowed {
		keep[f] = true
	}
	for f := range set {
		if !keep[f] {
			delete(set, f)
		}
	}
}

func intersectSections(set map[Section]bool, allowed []Section) {
	keep := map[Section]bool{}
	for _, s := range allowed {
		keep[s] = true
	}
	for s := range set {
		if !keep[s] {
			delete(set, s)
		}
	}
}
