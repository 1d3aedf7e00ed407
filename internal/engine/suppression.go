package engine

import (
	"strings"

	"github.com/aslitaser/k8s-sentinel/internal/policy"
)

// Suppress implements C6: on the mutate path, a violation marked
// fixable_by_mutation is dropped from the response entirely, from both
// warnings and enforce-mode denial, once the composed patch actually
// contains an operation addressing its fix path. Non-fixable violations
// pass through untouched.
func Suppress(violations []policy.Violation, patch []policy.PatchOp) []policy.Violation {
	out := make([]policy.Violation, 0, len(violations))
	for _, v := range violations {
		if v.FixableByMutation && fixedBy(v.FixPath, patch) {
			continue
		}
		out = append(out, v)
	}
	return out
}

// fixedBy reports whether patch contains an op at fixPath itself, or at
// a path nested under it. The nested case covers a violation whose fix
// path names a parent object (e.g. ".../resources/limits") that gets
// resolved by one or more leaf adds underneath it.
func fixedBy(fixPath string, patch []policy.PatchOp) bool {
	for _, op := range patch {
		if op.Path == fixPath || strings.HasPrefix(op.Path, fixPath+"/") {
			return true
		}
	}
	return false
}
