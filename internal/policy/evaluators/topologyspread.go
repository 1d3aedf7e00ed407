package evaluators

import (
	"fmt"

	"github.com/aslitaser/k8s-sentinel/internal/policy"
)

// TopologySpread implements the topology_spread policy (§4.3.4): every
// configured topology key must already be covered by a
// topologySpreadConstraints entry, or, when injection is enabled, gets
// one appended using the configured skew, unsatisfiable behavior, and
// the object's own labels as the match selector.
func TopologySpread(view policy.ResourceView, cfg policy.TopologySpreadConfig) ([]policy.Violation, []policy.PatchOp) {
	if !view.HasPodSpec {
		return nil, nil
	}

	existing := make(map[string]bool, len(view.TopologyConstraints))
	for _, tc := range view.TopologyConstraints {
		existing[tc.TopologyKey] = true
	}

	var violations []policy.Violation
	var ops []policy.PatchOp
	arrayCreated := false
	fixPath := policy.JoinPointer(view.PodSpecPointer, "topologySpreadConstraints")

	for _, key := range cfg.RequiredTopologyKeys {
		if existing[key] {
			continue
		}

		violations = append(violations, policy.Violation{
			Policy:            policy.PolicyTopologySpread,
			Code:              "topology_spread.missing_constraint",
			Message:           fmt.Sprintf("required topology spread constraint on %q is missing", key),
			FixableByMutation: cfg.InjectIfMissing,
			FixPath:           fixPath,
		})

		if !cfg.InjectIfMissing {
			continue
		}
		if !view.HasTopologyConstraintsPath && !arrayCreated {
			ops = append(ops, policy.PatchOp{Op: policy.OpAdd, Path: fixPath, Value: []interface{}{}})
			arrayCreated = true
		}

		matchLabels := make(map[string]interface{}, len(view.Metadata.Labels))
		for k, v := range view.Metadata.Labels {
			matchLabels[k] = v
		}
		ops = append(ops, policy.PatchOp{
			Op:   policy.OpAdd,
			Path: policy.JoinPointer(fixPath, "-"),
			Value: map[string]interface{}{
				"maxSkew":           cfg.MaxSkew,
				"topologyKey":       key,
				"whenUnsatisfiable": cfg.WhenUnsatisfiable,
				"labelSelector": map[string]interface{}{
					"matchLabels": matchLabels,
				},
			},
		})
	}

	return violations, ops
}
