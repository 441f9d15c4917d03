// Package stage defines the six workflow stages and the agent roles, the
// per-stage required-field profiles the quality scorer reads, and the
// allow-list projection that trims a context payload down to what a stage
// or role actually needs.
//
// Profiles are closed registries keyed by enum, not stringly-typed lookup
// tables: a typo'd stage never silently half-filters, it falls through to
// the documented pass-through behavior for unknown values.
package stage

import "contexthub/internal/sixw"

// --- Stage enum ---

// Stage is one of the six workflow phases an entity moves through.
type Stage string

const (
	StageDiscovery      Stage = "discovery"
	StagePlanning       Stage = "planning"
	StageImplementation Stage = "implementation"
	StageReview         Stage = "review"
	StageOperations     Stage = "operations"
	StageEvolution      Stage = "evolution"
)

// Stages returns the six stages in workflow order.
func Stages() []Stage {
	return []Stage{
		StageDiscovery, StagePlanning, StageImplementation,
		StageReview, StageOperations, StageEvolution,
	}
}

// Known reports whether s names a recognized stage. Unknown stages are not
// errors anywhere in the engine — filtering is an optimization, not a
// security boundary.
func (s Stage) Known() bool {
	switch s {
	case StageDiscovery, StagePlanning, StageImplementation,
		StageReview, StageOperations, StageEvolution:
		return true
	}
	return false
}

// --- Agent role enum ---

// Role identifies the kind of agent consuming the context.
type Role string

const (
	RoleArchitect   Role = "architect"
	RoleImplementer Role = "implementer"
	RoleReviewer    Role = "reviewer"
	RoleTester      Role = "tester"
	RoleCoordinator Role = "coordinator"
)

// Roles returns the known agent roles.
func Roles() []Role {
	return []Role{RoleArchitect, RoleImplementer, RoleReviewer, RoleTester, RoleCoordinator}
}

// Known reports whether r names a recognized role.
func (r Role) Known() bool {
	switch r {
	case RoleArchitect, RoleImplementer, RoleReviewer, RoleTester, RoleCoordinator:
		return true
	}
	return false
}

// --- Required-field profiles (completeness scoring) ---

// requiredFields maps each stage to the 6W fields that must be populated
// for the entity to count as complete at that stage.
var requiredFields = map[Stage][]string{
	StageDiscovery: {
		sixw.FieldEndUsers,
		sixw.FieldFunctionalRequirements,
		sixw.FieldBusinessValue,
	},
	StagePlanning: {
		sixw.FieldEndUsers,
		sixw.FieldImplementers,
		sixw.FieldFunctionalRequirements,
		sixw.FieldAcceptanceCriteria,
		sixw.FieldBusinessValue,
		sixw.FieldDeadline,
	},
	StageImplementation: {
		sixw.FieldImplementers,
		sixw.FieldFunctionalRequirements,
		sixw.FieldTechnicalConstraints,
		sixw.FieldAcceptanceCriteria,
		sixw.FieldRepositories,
		sixw.FieldSuggestedApproach,
	},
	StageReview: {
		sixw.FieldReviewers,
		sixw.FieldFunctionalRequirements,
		sixw.FieldAcceptanceCriteria,
	},
	StageOperations: {
		sixw.FieldAffectedServices,
		sixw.FieldDeploymentTargets,
		sixw.FieldTechnicalConstraints,
	},
	StageEvolution: {
		sixw.FieldBusinessValue,
		sixw.FieldRiskIfDelayed,
		sixw.FieldExistingPatterns,
	},
}

// minimalRequired is the stage-agnostic fallback for unknown stages.
var minimalRequired = []string{
	sixw.FieldEndUsers,
	sixw.FieldFunctionalRequirements,
	sixw.FieldBusinessValue,
}

// RequiredFields returns the field names an entity must populate at the
// given stage. Unknown stages get the minimal stage-agnostic set.
func RequiredFields(s Stage) []string {
	fields, ok := requiredFields[s]
	if !ok {
		fields = minimalRequired
	}
	// Return a copy to prevent mutation of the registry.
	out := make([]string, len(fields))
	copy(out, fields)
	return out
}
