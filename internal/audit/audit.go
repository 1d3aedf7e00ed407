// Package audit builds a structured audit record for a denied admission
// decision, reusing the Kubernetes apiserver audit event schema rather
// than inventing a parallel one.
package audit

import (
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	auditv1 "k8s.io/apiserver/pkg/apis/audit/v1"

	"github.com/aslitaser/k8s-sentinel/internal/engine"
	"github.com/aslitaser/k8s-sentinel/internal/policy"
)

// Record builds an audit.Event for a denied admission decision. It
// returns nil for an allowed response: only denials are worth a
// standalone audit trail entry beyond whatever the API server's own
// audit log already captures.
func Record(req policy.AdmissionRequest, resp engine.Response, stage auditv1.Stage) *auditv1.Event {
	if resp.Allowed {
		return nil
	}
	return &auditv1.Event{
		TypeMeta: metav1.TypeMeta{APIVersion: auditv1.SchemeGroupVersion.String(), Kind: "Event"},
		Level:    auditv1.LevelMetadata,
		Stage:    stage,
		AuditID:  types.UID(req.UID),
		Verb:     verbFor(req.Operation),
		ObjectRef: &auditv1.ObjectReference{
			Namespace:  objectNamespace(req),
			Name:       objectName(req),
			Resource:   req.Kind.Kind,
			APIGroup:   req.Kind.Group,
			APIVersion: req.Kind.Version,
		},
		Annotations: map[string]string{
			"k8s-sentinel.io/decision": resp.Message,
		},
		StageTimestamp: metav1.NewMicroTime(time.Now()),
	}
}

func objectNamespace(req policy.AdmissionRequest) string {
	meta, _ := req.Object["metadata"].(map[string]interface{})
	ns, _ := meta["namespace"].(string)
	return ns
}

func objectName(req policy.AdmissionRequest) string {
	meta, _ := req.Object["metadata"].(map[string]interface{})
	name, _ := meta["name"].(string)
	return name
}

func verbFor(op policy.Operation) string {
	switch op {
	case policy.OperationCreate:
		return "create"
	case policy.OperationUpdate:
		return "update"
	case policy.OperationDelete:
		return "delete"
	case policy.OperationConnect:
		return "connect"
	default:
		return "unknown"
	}
}
