// Package wire translates between the admission.k8s.io/v1 AdmissionReview
// wire envelope and the engine's own request/response types, keeping
// every Kubernetes API type out of internal/engine and internal/policy.
package wire

import (
	"encoding/json"
	"fmt"

	jsonpatch "gomodules.xyz/jsonpatch/v2"
	admissionv1 "k8s.io/api/admission/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"

	"github.com/aslitaser/k8s-sentinel/internal/engine"
	"github.com/aslitaser/k8s-sentinel/internal/policy"
)

// DecodeRequest parses a raw AdmissionReview request body into the
// engine's AdmissionRequest.
func DecodeRequest(raw []byte) (policy.AdmissionRequest, error) {
	var review admissionv1.AdmissionReview
	if err := json.Unmarshal(raw, &review); err != nil {
		return policy.AdmissionRequest{}, fmt.Errorf("decoding admission review: %w", err)
	}
	if review.Request == nil {
		return policy.AdmissionRequest{}, fmt.Errorf("admission review carries no request")
	}
	r := review.Request

	var obj map[string]interface{}
	if len(r.Object.Raw) > 0 {
		if err := json.Unmarshal(r.Object.Raw, &obj); err != nil {
			return policy.AdmissionRequest{}, fmt.Errorf("decoding admitted object: %w", err)
		}
	}

	return policy.AdmissionRequest{
		UID: string(r.UID),
		Kind: policy.GroupVersionKind{
			Group:   r.Kind.Group,
			Version: r.Kind.Version,
			Kind:    r.Kind.Kind,
		},
		Operation: policy.Operation(r.Operation),
		Object:    obj,
	}, nil
}

// EncodeResponse lowers the engine's Response onto the AdmissionReview
// response envelope admission.k8s.io/v1 expects, base64-encoding the
// patch implicitly through encoding/json's []byte handling.
func EncodeResponse(resp engine.Response) (*admissionv1.AdmissionReview, error) {
	out := &admissionv1.AdmissionReview{
		TypeMeta: metav1.TypeMeta{APIVersion: "admission.k8s.io/v1", Kind: "AdmissionReview"},
		Response: &admissionv1.AdmissionResponse{
			UID:      types.UID(resp.UID),
			Allowed:  resp.Allowed,
			Warnings: resp.Warnings,
		},
	}
	if resp.Message != "" {
		out.Response.Result = &metav1.Status{Message: resp.Message}
	}
	if len(resp.Patch) == 0 {
		return out, nil
	}

	ops := make([]jsonpatch.Operation, len(resp.Patch))
	for i, op := range resp.Patch {
		ops[i] = jsonpatch.Operation{Operation: op.Op, Path: op.Path, Value: op.Value}
	}
	raw, err := json.Marshal(ops)
	if err != nil {
		return nil, fmt.Errorf("marshaling patch: %w", err)
	}
	out.Response.Patch = raw
	patchType := admissionv1.PatchTypeJSONPatch
	out.Response.PatchType = &patchType
	return out, nil
}

// DenyInternalError builds the response a handler sends when the engine
// reports an internal invariant break (§7): allowed=false, message
// "internal error", uid echoed, no patch.
func DenyInternalError(uid string) *admissionv1.AdmissionReview {
	return &admissionv1.AdmissionReview{
		TypeMeta: metav1.TypeMeta{APIVersion: "admission.k8s.io/v1", Kind: "AdmissionReview"},
		Response: &admissionv1.AdmissionResponse{
			UID:     types.UID(uid),
			Allowed: false,
			Result:  &metav1.Status{Message: "internal error"},
		},
	}
}
