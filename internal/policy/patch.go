package policy

import (
	"encoding/json"
	"sort"
	"strings"
)

// Conflict is a diagnostic recorded when the composer drops a later
// fragment's operation because an earlier policy already claimed the
// same path with a different value (§4.4 rule 3). It is never surfaced
// to the API server, only logged.
type Conflict struct {
	Path          string
	WinningPolicy PolicyName
	DroppedPolicy PolicyName
}

// fragment pairs a patch operation with the enumeration index of the
// policy that emitted it, so the composer can break ties deterministically
// and attribute conflicts.
type fragment struct {
	op          PatchOp
	policyIndex int
	policyName  PolicyName
}

// Compose merges the ordered per-policy patch fragments into a single
// JSON Patch (§4.4). original is the admitted object, used to elide
// no-op adds whose target already holds an equal value.
func Compose(original map[string]interface{}, fragmentsByPolicy [][]PatchOp) ([]PatchOp, []Conflict) {
	flat := make([]fragment, 0)
	for idx, ops := range fragmentsByPolicy {
		name := PolicySystem
		if idx < len(EnumerationOrder) {
			name = EnumerationOrder[idx]
		}
		for _, op := range ops {
			flat = append(flat, fragment{op: op, policyIndex: idx, policyName: name})
		}
	}

	// Rule 1 + rule 3: first "add" at a given path wins; a later one with
	// an equal value is a harmless duplicate (idempotent parent creation),
	// a later one with a different value is a conflict. This path-keyed
	// dedup only makes sense for a path that addresses a single value;
	// the RFC 6902 "-" append token is the same literal path for every
	// element appended to an array, so two "add .../-" operations are
	// never duplicates or conflicts of each other, however many policies
	// or evaluator calls produced them.
	kept := make([]fragment, 0, len(flat))
	firstByPath := make(map[string]int) // path -> index into kept
	var conflicts []Conflict

	for _, f := range flat {
		if f.op.Op != OpAdd || strings.HasSuffix(f.op.Path, "/-") {
			kept = append(kept, f)
			continue
		}
		if i, seen := firstByPath[f.op.Path]; seen {
			if !valuesEqual(kept[i].op.Value, f.op.Value) {
				conflicts = append(conflicts, Conflict{
					Path:          f.op.Path,
					WinningPolicy: kept[i].policyName,
					DroppedPolicy: f.policyName,
				})
			}
			continue
		}
		firstByPath[f.op.Path] = len(kept)
		kept = append(kept, f)
	}

	// Rule 4: no-op elision against the original document.
	final := kept[:0:0]
	for _, f := range kept {
		if f.op.Op == OpAdd {
			if existing, ok := lookupPointer(original, f.op.Path); ok && valuesEqual(existing, f.op.Value) {
				continue
			}
		}
		final = append(final, f)
	}

	// Rule 2: deterministic ordering by (depth asc, path lex, policy
	// enumeration order).
	sort.SliceStable(final, func(i, j int) bool {
		di, dj := PointerDepth(final[i].op.Path), PointerDepth(final[j].op.Path)
		if di != dj {
			return di < dj
		}
		if final[i].op.Path != final[j].op.Path {
			return final[i].op.Path < final[j].op.Path
		}
		return final[i].policyIndex < final[j].policyIndex
	})

	out := make([]PatchOp, len(final))
	for i, f := range final {
		out[i] = f.op
	}
	return out, conflicts
}

// valuesEqual compares two patch values for equality the way two JSON
// values would compare: by canonical marshaled form, so a Go
// map[string]string and an unmarshaled map[string]interface{} holding
// the same entries compare equal.
func valuesEqual(a, b interface{}) bool {
	ab, aerr := json.Marshal(a)
	bb, berr := json.Marshal(b)
	if aerr != nil || berr != nil {
		return false
	}
	return string(normalizeJSON(ab)) == string(normalizeJSON(bb))
}

// normalizeJSON round-trips through a generic interface{} so that
// semantically-equal-but-differently-typed numeric/map encodings compare
// equal after re-marshaling (encoding/json already sorts object keys).
func normalizeJSON(raw []byte) []byte {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return raw
	}
	out, err := json.Marshal(v)
	if err != nil {
		return raw
	}
	return out
}
