// Package engine assembles the policy registry, the evaluators, the
// patch composer, and warning suppression into the two admission
// entrypoints the HTTPS handler calls: validate and mutate (C5).
package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/go-logr/logr"

	"github.com/aslitaser/k8s-sentinel/internal/policy"
	"github.com/aslitaser/k8s-sentinel/internal/policy/evaluators"
)

// EndpointMode selects which admission endpoint Evaluate answers for.
type EndpointMode string

const (
	ValidateEndpoint EndpointMode = "validate"
	MutateEndpoint   EndpointMode = "mutate"
)

// Response is the engine's output, independent of how it is later
// encoded onto the AdmissionReview wire envelope.
type Response struct {
	UID       string
	Allowed   bool
	Message   string
	Warnings  []string
	Patch     []policy.PatchOp
	PatchType string

	// Violations is the final, post-suppression violation set the
	// response was built from. It carries no wire representation of its
	// own; callers use it for metrics and logging.
	Violations []policy.Violation
}

// InvariantError marks a break in an internal invariant the core itself
// is responsible for upholding, such as a composed patch op whose path
// is not a valid JSON Pointer. The core never returns silently on one of
// these; the handler converts it to an "internal error" denial and logs
// it with the request UID (§7).
type InvariantError struct {
	UID     string
	Message string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant violation for request %s: %s", e.UID, e.Message)
}

// Evaluate runs the policy engine for one admission request. ctx carries
// the request deadline; it is checked between evaluators only, never
// mid-evaluator, since a single evaluator is expected to complete in
// well under a millisecond.
func Evaluate(ctx context.Context, log logr.Logger, mode EndpointMode, req policy.AdmissionRequest, config policy.Config) (Response, error) {
	resp := Response{UID: req.UID}

	if req.Operation == policy.OperationDelete || req.Operation == policy.OperationConnect {
		resp.Allowed = true
		return resp, nil
	}

	view, structural := policy.BuildResourceView(req.Object)
	if structural != nil {
		return deny(resp, structural), nil
	}

	fragments := make([][]policy.PatchOp, len(policy.EnumerationOrder))
	var violations []policy.Violation

	for _, name := range config.Enabled() {
		select {
		case <-ctx.Done():
			resp.Allowed = false
			resp.Message = "evaluation deadline exceeded"
			return resp, nil
		default:
		}

		vs, ops := runEvaluator(name, view, config)
		violations = append(violations, vs...)
		if idx := indexOf(name); idx >= 0 {
			fragments[idx] = ops
		}
	}

	var patch []policy.PatchOp
	if mode == MutateEndpoint {
		composed, conflicts := policy.Compose(req.Object, fragments)
		for _, op := range composed {
			if !strings.HasPrefix(op.Path, "/") {
				return Response{}, &InvariantError{UID: req.UID, Message: fmt.Sprintf("composed patch op has non-pointer path %q", op.Path)}
			}
		}
		for _, c := range conflicts {
			log.V(1).Info("patch conflict resolved", "path", c.Path, "winningPolicy", c.WinningPolicy, "droppedPolicy", c.DroppedPolicy)
		}
		patch = composed
		violations = Suppress(violations, patch)
	}

	sortViolations(violations)
	resp.Violations = violations

	var enforceMsgs []string
	for _, v := range violations {
		if config.ModeFor(v.Policy) == policy.ModeEnforce {
			enforceMsgs = append(enforceMsgs, formatViolation(v))
		} else {
			resp.Warnings = append(resp.Warnings, formatViolation(v))
		}
	}

	if len(enforceMsgs) > 0 {
		resp.Allowed = false
		resp.Message = strings.Join(enforceMsgs, "; ")
		return resp, nil
	}

	resp.Allowed = true
	if mode == MutateEndpoint && len(patch) > 0 {
		resp.Patch = patch
		resp.PatchType = "JSONPatch"
	}
	return resp, nil
}

func deny(resp Response, violations []policy.Violation) Response {
	sortViolations(violations)
	msgs := make([]string, len(violations))
	for i, v := range violations {
		msgs[i] = formatViolation(v)
	}
	resp.Allowed = false
	resp.Message = strings.Join(msgs, "; ")
	resp.Violations = violations
	return resp
}

// Indirected through package-level variables, rather than called
// directly, so a white-box test can substitute a panicking stand-in for
// one evaluator to exercise runEvaluator's recover path without relying
// on any evaluator's production logic being able to panic on its own.
var (
	resourceLimitsEvaluator = evaluators.ResourceLimits
	imageRegistryEvaluator  = evaluators.ImageRegistry
	labelsEvaluator         = evaluators.Labels
	topologySpreadEvaluator = evaluators.TopologySpread
)

// runEvaluator dispatches to the one evaluator for name, containing any
// panic into a policy_internal_error violation scoped to that policy
// alone so a bug in one evaluator cannot take down admission for every
// other policy (§7). The violation is attributed to policy.PolicySystem
// rather than name: a crashing evaluator is never safe to admit, and
// config.ModeFor falls through to ModeEnforce for any name it has no
// explicit case for, so attributing it to the failing policy's own name
// would let that policy's configured warn mode downgrade a crash into a
// warning. The failing policy's name is preserved in the message.
func runEvaluator(name policy.PolicyName, view policy.ResourceView, config policy.Config) (violations []policy.Violation, ops []policy.PatchOp) {
	defer func() {
		if r := recover(); r != nil {
			violations = []policy.Violation{{
				Policy:  policy.PolicySystem,
				Code:    "policy_internal_error",
				Message: fmt.Sprintf("policy %s: %v", name, r),
			}}
			ops = nil
		}
	}()

	switch name {
	case policy.PolicyResourceLimits:
		return resourceLimitsEvaluator(view, config.ResourceLimits)
	case policy.PolicyImageRegistry:
		return imageRegistryEvaluator(view, config.ImageRegistry)
	case policy.PolicyLabels:
		return labelsEvaluator(view, config.Labels)
	case policy.PolicyTopologySpread:
		return topologySpreadEvaluator(view, config.TopologySpread)
	default:
		return nil, nil
	}
}

func indexOf(name policy.PolicyName) int {
	for i, n := range policy.EnumerationOrder {
		if n == name {
			return i
		}
	}
	return -1
}

// sortViolations orders violations by policy enumeration order, then
// container index, matching §4.5's stable ordering for the joined
// message.
func sortViolations(vs []policy.Violation) {
	sort.SliceStable(vs, func(i, j int) bool {
		oi, oj := indexOf(vs[i].Policy), indexOf(vs[j].Policy)
		if oi != oj {
			return oi < oj
		}
		ci, cj := -1, -1
		if vs[i].ContainerIndex != nil {
			ci = *vs[i].ContainerIndex
		}
		if vs[j].ContainerIndex != nil {
			cj = *vs[j].ContainerIndex
		}
		return ci < cj
	})
}

func formatViolation(v policy.Violation) string {
	if v.ContainerIndex != nil {
		return fmt.Sprintf("%s: %s (container %d)", v.Code, v.Message, *v.ContainerIndex)
	}
	return fmt.Sprintf("%s: %s", v.Code, v.Message)
}
