// Package webhook adapts the policy engine to controller-runtime's
// generic admission.Handler interface, the layer the (out of scope)
// HTTPS listener dispatches into.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-logr/logr"
	jsonpatch "gomodules.xyz/jsonpatch/v2"
	admissionv1 "k8s.io/api/admission/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	auditv1 "k8s.io/apiserver/pkg/apis/audit/v1"
	"sigs.k8s.io/controller-runtime/pkg/webhook/admission"

	"github.com/aslitaser/k8s-sentinel/internal/audit"
	"github.com/aslitaser/k8s-sentinel/internal/engine"
	"github.com/aslitaser/k8s-sentinel/internal/metrics"
	"github.com/aslitaser/k8s-sentinel/internal/policy"
)

// Handler answers one of the two admission entrypoints against a single
// policy.Config. The same engine backs both; Mode picks validate vs
// mutate. Metrics is optional; when nil no counters are recorded.
type Handler struct {
	Config  policy.Config
	Mode    engine.EndpointMode
	Log     logr.Logger
	Metrics *metrics.Recorder
}

var _ admission.Handler = &Handler{}

func (h *Handler) Handle(ctx context.Context, req admission.Request) admission.Response {
	admReq := policy.AdmissionRequest{
		UID: string(req.UID),
		Kind: policy.GroupVersionKind{
			Group:   req.Kind.Group,
			Version: req.Kind.Version,
			Kind:    req.Kind.Kind,
		},
		Operation: policy.Operation(req.Operation),
	}

	if len(req.Object.Raw) > 0 {
		var obj map[string]interface{}
		if err := json.Unmarshal(req.Object.Raw, &obj); err != nil {
			return admission.Errored(http.StatusBadRequest, fmt.Errorf("decoding admitted object: %w", err))
		}
		admReq.Object = obj
	}

	resp, err := engine.Evaluate(ctx, h.Log, h.Mode, admReq, h.Config)
	if err != nil {
		h.Log.Error(err, "engine invariant violation", "uid", admReq.UID)
		return admission.Response{
			AdmissionResponse: admissionv1.AdmissionResponse{
				UID:     req.UID,
				Allowed: false,
				Result:  &metav1.Status{Message: "internal error"},
			},
		}
	}

	if h.Metrics != nil {
		h.Metrics.RecordDecision(ctx, h.Mode, resp.Allowed)
		for _, v := range resp.Violations {
			h.Metrics.RecordViolation(ctx, v.Policy, v.Code)
		}
	}

	if event := audit.Record(admReq, resp, auditv1.StageResponseComplete); event != nil {
		h.Log.Info("admission denied",
			"auditID", event.AuditID,
			"verb", event.Verb,
			"namespace", event.ObjectRef.Namespace,
			"name", event.ObjectRef.Name,
			"decision", resp.Message,
		)
	}

	return toAdmissionResponse(req.UID, resp)
}

func toAdmissionResponse(uid types.UID, resp engine.Response) admission.Response {
	out := admission.Response{
		AdmissionResponse: admissionv1.AdmissionResponse{
			UID:      uid,
			Allowed:  resp.Allowed,
			Warnings: resp.Warnings,
		},
	}
	if resp.Message != "" {
		out.Result = &metav1.Status{Message: resp.Message}
	}
	if len(resp.Patch) == 0 {
		return out
	}

	patches := make([]jsonpatch.Operation, len(resp.Patch))
	for i, op := range resp.Patch {
		patches[i] = jsonpatch.Operation{Operation: op.Op, Path: op.Path, Value: op.Value}
	}
	out.Patches = patches
	patchType := admissionv1.PatchTypeJSONPatch
	out.PatchType = &patchType
	return out
}
