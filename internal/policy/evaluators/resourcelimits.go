package evaluators

import (
	"fmt"

	"github.com/aslitaser/k8s-sentinel/internal/policy"
)

// ResourceLimits implements the resource_limits policy (§4.3.1): it caps
// per-container CPU and memory limits, optionally requires every
// container to declare both, and optionally injects configured defaults
// for whichever of the four request/limit slots is missing.
func ResourceLimits(view policy.ResourceView, cfg policy.ResourceLimitsConfig) ([]policy.Violation, []policy.PatchOp) {
	if !view.HasPodSpec {
		return nil, nil
	}

	var violations []policy.Violation
	var ops []policy.PatchOp

	for _, c := range view.Containers {
		cpuLimit, hasCPULimit := c.Resources.Quantity(policy.Limits, "cpu")
		memLimit, hasMemLimit := c.Resources.Quantity(policy.Limits, "memory")

		if cfg.MaxCPUMillicores != nil && hasCPULimit && cpuLimit.MilliCPU() > *cfg.MaxCPUMillicores {
			violations = append(violations, policy.Violation{
				Policy:         policy.PolicyResourceLimits,
				Code:           "resource_limits.exceeds_cap",
				ContainerIndex: intp(c.Index),
				Message:        fmt.Sprintf("container %q cpu limit %s exceeds the configured cap", c.Name, cpuLimit.String()),
			})
		}
		if cfg.MaxMemoryBytes != nil && hasMemLimit && memLimit.Bytes() > *cfg.MaxMemoryBytes {
			violations = append(violations, policy.Violation{
				Policy:         policy.PolicyResourceLimits,
				Code:           "resource_limits.exceeds_cap",
				ContainerIndex: intp(c.Index),
				Message:        fmt.Sprintf("container %q memory limit %s exceeds the configured cap", c.Name, memLimit.String()),
			})
		}

		if cfg.RequireLimits && (!hasCPULimit || !hasMemLimit) {
			violations = append(violations, policy.Violation{
				Policy:            policy.PolicyResourceLimits,
				Code:              "resource_limits.missing_limit",
				ContainerIndex:    intp(c.Index),
				Message:           fmt.Sprintf("container %q is missing a required resource limit", c.Name),
				FixableByMutation: cfg.InjectDefaults,
				FixPath:           policy.JoinPointer(c.Pointer, "resources", "limits"),
			})
		}

		if cfg.InjectDefaults {
			ops = append(ops, injectDefaults(c, cfg)...)
		}
	}

	return violations, ops
}

// injectDefaults builds the add operations filling in any of the four
// request/limit slots that are missing and have a configured default,
// materializing the "resources", "resources/requests" and
// "resources/limits" parent objects at most once each per container.
func injectDefaults(c policy.ContainerView, cfg policy.ResourceLimitsConfig) []policy.PatchOp {
	var ops []policy.PatchOp
	resourcesAdded := false
	fieldAdded := map[string]bool{}

	ensureResources := func() {
		if !c.Resources.HasResourcesObject && !resourcesAdded {
			ops = append(ops, policy.PatchOp{Op: policy.OpAdd, Path: policy.JoinPointer(c.Pointer, "resources"), Value: map[string]interface{}{}})
			resourcesAdded = true
		}
	}

	addLeaf := func(field policy.ResourceField, fieldName, resourceName, defaultValue string) {
		if defaultValue == "" {
			return
		}
		if _, present := c.Resources.Quantity(field, resourceName); present {
			return
		}
		hasFieldObject := c.Resources.HasRequestsObject
		if field == policy.Limits {
			hasFieldObject = c.Resources.HasLimitsObject
		}
		ensureResources()
		if !hasFieldObject && !fieldAdded[fieldName] {
			ops = append(ops, policy.PatchOp{Op: policy.OpAdd, Path: policy.JoinPointer(c.Pointer, "resources", fieldName), Value: map[string]interface{}{}})
			fieldAdded[fieldName] = true
		}
		ops = append(ops, policy.PatchOp{
			Op:    policy.OpAdd,
			Path:  policy.JoinPointer(c.Pointer, "resources", fieldName, policy.EscapeToken(resourceName)),
			Value: defaultValue,
		})
	}

	addLeaf(policy.Requests, "requests", "cpu", cfg.DefaultRequests["cpu"])
	addLeaf(policy.Requests, "requests", "memory", cfg.DefaultRequests["memory"])
	addLeaf(policy.Limits, "limits", "cpu", cfg.DefaultLimits["cpu"])
	addLeaf(policy.Limits, "limits", "memory", cfg.DefaultLimits["memory"])

	return ops
}
