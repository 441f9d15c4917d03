package sixw

import "fmt"

// Level is one link in the ancestor chain: the raw attributes declared at
// one hierarchy level, ordered root first, leaf last.
type Level struct {
	Name  string `json:"level"` // e.g. "project", "work_item", "task"
	ID    string `json:"id"`
	Attrs SixW   `json:"attrs"`
}

// Override records one field whose effective value differs from what an
// ancestor resolved to. Populated only for actual overrides — never for
// plain inheritance or fields only the leaf defines.
type Override struct {
	Field    string `json:"field"`
	Original Value  `json:"original"` // nearest ancestor's resolved value
	Override Value  `json:"override"` // this level's value (the effective one)
	Level    string `json:"level"`    // name of the level that overrode
}

// Ledger maps field name to its override record. It is an audit side
// channel computed alongside the merge, never an input to merge logic.
type Ledger map[string]Override

// Merge resolves the effective 6W attributes for the leaf of the chain.
//
// For each of the 15 fields it walks from leaf to root and takes the first
// non-empty value. Sequence fields are overridden wholesale: a child's
// non-empty list fully replaces the parent's, with no element merging.
// When the winning level is not the root and some ancestor above it resolves
// to a different non-empty value, a ledger entry records the override.
//
// The chain must be ordered root → leaf and contain at least one level.
// Merge is deterministic, side-effect-free and performs no I/O.
func Merge(chain []Level) (SixW, Ledger, error) {
	if len(chain) == 0 {
		return SixW{}, nil, fmt.Errorf("sixw: merge requires at least one level")
	}

	var merged SixW
	ledger := Ledger{}

	for _, f := range fieldTable {
		// Leaf-to-root: first non-empty wins.
		winner := -1
		for i := len(chain) - 1; i >= 0; i-- {
			if !f.get(&chain[i].Attrs).IsEmpty() {
				winner = i
				break
			}
		}
		if winner < 0 {
			continue // field empty at every level, absent from output
		}

		effective := f.get(&chain[winner].Attrs).clone()
		f.set(&merged, effective)

		if winner == 0 {
			continue // root value, nothing to override
		}

		// Nearest ancestor's resolved value for this field.
		for i := winner - 1; i >= 0; i-- {
			ancestor := f.get(&chain[i].Attrs)
			if ancestor.IsEmpty() {
				continue
			}
			if !ancestor.Equal(effective) {
				ledger[f.name] = Override{
					Field:    f.name,
					Original: ancestor.clone(),
					Override: effective.clone(),
					Level:    chain[winner].Name,
				}
			}
			break
		}
	}

	return merged, ledger, nil
}
