package evaluators

import (
	"fmt"

	"github.com/aslitaser/k8s-sentinel/internal/policy"
)

// Labels implements the labels policy (§4.3.3): every configured key must
// be present on the admitted object's metadata and, if a pattern is
// configured, the value must match it in full. Label policies never emit
// patches: a missing or wrong label carries no safe default to inject.
func Labels(view policy.ResourceView, cfg policy.LabelsConfig) ([]policy.Violation, []policy.PatchOp) {
	var violations []policy.Violation
	for _, req := range cfg.Required {
		val, present := view.Metadata.Labels[req.Key]
		if !present {
			violations = append(violations, policy.Violation{
				Policy:  policy.PolicyLabels,
				Code:    "labels.missing",
				Message: fmt.Sprintf("required label %q is missing", req.Key),
			})
			continue
		}
		if req.Pattern != nil && req.Pattern.FindString(val) != val {
			violations = append(violations, policy.Violation{
				Policy:  policy.PolicyLabels,
				Code:    "labels.pattern_mismatch",
				Message: fmt.Sprintf("label %q value %q does not match the required pattern", req.Key, val),
			})
		}
	}
	return violations, nil
}
