// Package sixw models the 6W attribute set (who/what/where/when/why/how)
// that describes every entity in the hierarchy, and implements the
// hierarchical merge that resolves a leaf entity's effective attributes
// from its ancestor chain.
//
// The field set is identical at every hierarchy level — a project, a work
// item and a task all carry the same 15 fields; only the granularity of the
// values differs. Merging walks leaf to root and takes the first non-empty
// value ("child overrides parent"), recording actual overrides in a side
// ledger for auditability.
package sixw

import "fmt"

// Dimension groups the 15 fields into the six W's.
type Dimension string

const (
	DimWho   Dimension = "who"
	DimWhat  Dimension = "what"
	DimWhere Dimension = "where"
	DimWhen  Dimension = "when"
	DimWhy   Dimension = "why"
	DimHow   Dimension = "how"
)

// Dimensions returns the six dimensions in canonical order.
func Dimensions() []Dimension {
	return []Dimension{DimWho, DimWhat, DimWhere, DimWhen, DimWhy, DimHow}
}

// Field name constants. These are the canonical snake_case names used in
// cache keys, ledger entries, stage profiles and update maps.
const (
	FieldEndUsers               = "end_users"
	FieldImplementers           = "implementers"
	FieldReviewers              = "reviewers"
	FieldFunctionalRequirements = "functional_requirements"
	FieldTechnicalConstraints   = "technical_constraints"
	FieldAcceptanceCriteria     = "acceptance_criteria"
	FieldAffectedServices       = "affected_services"
	FieldRepositories           = "repositories"
	FieldDeploymentTargets      = "deployment_targets"
	FieldDeadline               = "deadline"
	FieldDependenciesTimeline   = "dependencies_timeline"
	FieldBusinessValue          = "business_value"
	FieldRiskIfDelayed          = "risk_if_delayed"
	FieldSuggestedApproach      = "suggested_approach"
	FieldExistingPatterns       = "existing_patterns"
)

// SixW is the full 6W attribute set for one hierarchy level.
// Scalar fields hold a single string; sequence fields hold an ordered list.
type SixW struct {
	// WHO
	EndUsers     []string `json:"end_users,omitempty"`
	Implementers []string `json:"implementers,omitempty"`
	Reviewers    []string `json:"reviewers,omitempty"`

	// WHAT
	FunctionalRequirements []string `json:"functional_requirements,omitempty"`
	TechnicalConstraints   []string `json:"technical_constraints,omitempty"`
	AcceptanceCriteria     []string `json:"acceptance_criteria,omitempty"`

	// WHERE
	AffectedServices  []string `json:"affected_services,omitempty"`
	Repositories      []string `json:"repositories,omitempty"`
	DeploymentTargets []string `json:"deployment_targets,omitempty"`

	// WHEN
	Deadline             string   `json:"deadline,omitempty"`
	DependenciesTimeline []string `json:"dependencies_timeline,omitempty"`

	// WHY
	BusinessValue string `json:"business_value,omitempty"`
	RiskIfDelayed string `json:"risk_if_delayed,omitempty"`

	// HOW
	SuggestedApproach string   `json:"suggested_approach,omitempty"`
	ExistingPatterns  []string `json:"existing_patterns,omitempty"`
}

// Value is the resolved value of a single field: either a scalar or a list,
// never both.
type Value struct {
	Scalar string   `json:"scalar,omitempty"`
	List   []string `json:"list,omitempty"`
}

// IsEmpty reports whether the value carries no content.
func (v Value) IsEmpty() bool {
	return v.Scalar == "" && len(v.List) == 0
}

// Equal reports whether two values carry identical content.
// Lists compare element-wise in order.
func (v Value) Equal(o Value) bool {
	if v.Scalar != o.Scalar || len(v.List) != len(o.List) {
		return false
	}
	for i := range v.List {
		if v.List[i] != o.List[i] {
			return false
		}
	}
	return true
}

// clone returns a copy that shares no backing array with v.
func (v Value) clone() Value {
	if v.List == nil {
		return Value{Scalar: v.Scalar}
	}
	list := make([]string, len(v.List))
	copy(list, v.List)
	return Value{List: list}
}

// fieldSpec describes one of the 15 fields: its name, dimension, and
// accessors. The table drives merge, projection and update logic so the
// field set is declared exactly once.
type fieldSpec struct {
	name   string
	dim    Dimension
	scalar bool
	get    func(*SixW) Value
	set    func(*SixW, Value)
}

var fieldTable = []fieldSpec{
	{FieldEndUsers, DimWho, false,
		func(s *SixW) Value { return Value{List: s.EndUsers} },
		func(s *SixW, v Value) { s.EndUsers = v.List }},
	{FieldImplementers, DimWho, false,
		func(s *SixW) Value { return Value{List: s.Implementers} },
		func(s *SixW, v Value) { s.Implementers = v.List }},
	{FieldReviewers, DimWho, false,
		func(s *SixW) Value { return Value{List: s.Reviewers} },
		func(s *SixW, v Value) { s.Reviewers = v.List }},
	{FieldFunctionalRequirements, DimWhat, false,
		func(s *SixW) Value { return Value{List: s.FunctionalRequirements} },
		func(s *SixW, v Value) { s.FunctionalRequirements = v.List }},
	{FieldTechnicalConstraints, DimWhat, false,
		func(s *SixW) Value { return Value{List: s.TechnicalConstraints} },
		func(s *SixW, v Value) { s.TechnicalConstraints = v.List }},
	{FieldAcceptanceCriteria, DimWhat, false,
		func(s *SixW) Value { return Value{List: s.AcceptanceCriteria} },
		func(s *SixW, v Value) { s.AcceptanceCriteria = v.List }},
	{FieldAffectedServices, DimWhere, false,
		func(s *SixW) Value { return Value{List: s.AffectedServices} },
		func(s *SixW, v Value) { s.AffectedServices = v.List }},
	{FieldRepositories, DimWhere, false,
		func(s *SixW) Value { return Value{List: s.Repositories} },
		func(s *SixW, v Value) { s.Repositories = v.List }},
	{FieldDeploymentTargets, DimWhere, false,
		func(s *SixW) Value { return Value{List: s.DeploymentTargets} },
		func(s *SixW, v Value) { s.DeploymentTargets = v.List }},
	{FieldDeadline, DimWhen, true,
		func(s *SixW) Value { return Value{Scalar: s.Deadline} },
		func(s *SixW, v Value) { s.Deadline = v.Scalar }},
	{FieldDependenciesTimeline, DimWhen, false,
		func(s *SixW) Value { return Value{List: s.DependenciesTimeline} },
		func(s *SixW, v Value) { s.DependenciesTimeline = v.List }},
	{FieldBusinessValue, DimWhy, true,
		func(s *SixW) Value { return Value{Scalar: s.BusinessValue} },
		func(s *SixW, v Value) { s.BusinessValue = v.Scalar }},
	{FieldRiskIfDelayed, DimWhy, true,
		func(s *SixW) Value { return Value{Scalar: s.RiskIfDelayed} },
		func(s *SixW, v Value) { s.RiskIfDelayed = v.Scalar }},
	{FieldSuggestedApproach, DimHow, true,
		func(s *SixW) Value { return Value{Scalar: s.SuggestedApproach} },
		func(s *SixW, v Value) { s.SuggestedApproach = v.Scalar }},
	{FieldExistingPatterns, DimHow, false,
		func(s *SixW) Value { return Value{List: s.ExistingPatterns} },
		func(s *SixW, v Value) { s.ExistingPatterns = v.List }},
}

// FieldNames returns the 15 canonical field names in declaration order.
func FieldNames() []string {
	names := make([]string, len(fieldTable))
	for i, f := range fieldTable {
		names[i] = f.name
	}
	return names
}

// DimensionOf returns the dimension a field belongs to, or an error for an
// unknown field name.
func DimensionOf(field string) (Dimension, error) {
	for _, f := range fieldTable {
		if f.name == field {
			return f.dim, nil
		}
	}
	return "", fmt.Errorf("sixw: unknown field %q", field)
}

// FieldValue returns the value of the named field, or an error for an
// unknown field name.
func FieldValue(s SixW, field string) (Value, error) {
	for _, f := range fieldTable {
		if f.name == field {
			return f.get(&s).clone(), nil
		}
	}
	return Value{}, fmt.Errorf("sixw: unknown field %q", field)
}

// SetField sets the named field on s. Scalar fields reject list values and
// vice versa.
func SetField(s *SixW, field string, v Value) error {
	for _, f := range fieldTable {
		if f.name != field {
			continue
		}
		if f.scalar && len(v.List) > 0 {
			return fmt.Errorf("sixw: field %q is scalar, got a list", field)
		}
		if !f.scalar && v.Scalar != "" {
			return fmt.Errorf("sixw: field %q is a sequence, got a scalar", field)
		}
		f.set(s, v.clone())
		return nil
	}
	return fmt.Errorf("sixw: unknown field %q", field)
}

// ValueFromAny converts a JSON-decoded value (string, []string or []any of
// strings) into a Value. Used when applying update maps from callers.
func ValueFromAny(raw any) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Value{}, nil
	case string:
		return Value{Scalar: t}, nil
	case []string:
		list := make([]string, len(t))
		copy(list, t)
		return Value{List: list}, nil
	case []any:
		list := make([]string, 0, len(t))
		for _, e := range t {
			s, ok := e.(string)
			if !ok {
				return Value{}, fmt.Errorf("sixw: list element %v is not a string", e)
			}
			list = append(list, s)
		}
		return Value{List: list}, nil
	default:
		return Value{}, fmt.Errorf("sixw: unsupported value type %T", raw)
	}
}

// PopulatedFields returns the names of fields carrying a non-empty value.
func PopulatedFields(s SixW) []string {
	var names []string
	for _, f := range fieldTable {
		if !f.get(&s).IsEmpty() {
			names = append(names, f.name)
		}
	}
	return names
}

// DimensionCoverage returns the fraction (0–1) of the six dimensions that
// have at least one populated field.
func DimensionCoverage(s SixW) float64 {
	covered := map[Dimension]bool{}
	for _, f := range fieldTable {
		if !f.get(&s).IsEmpty() {
			covered[f.dim] = true
		}
	}
	return float64(len(covered)) / float64(len(Dimensions()))
}
