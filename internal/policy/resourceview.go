package policy

import (
	"strconv"

	"k8s.io/apimachinery/pkg/util/validation/field"
)

// podSpecPointers maps a recognized kind to the JSON Pointer prefix of
// its pod template spec (§4.1). CronJob nests one level deeper than the
// other batch/apps kinds because its pod template sits under a Job
// template.
var podSpecPointers = map[Kind]string{
	KindPod:         "/spec",
	KindDeployment:  "/spec/template/spec",
	KindStatefulSet: "/spec/template/spec",
	KindDaemonSet:   "/spec/template/spec",
	KindReplicaSet:  "/spec/template/spec",
	KindJob:         "/spec/template/spec",
	KindCronJob:     "/spec/jobTemplate/spec/template/spec",
}

// BuildResourceView projects a generic admitted-object document into a
// ResourceView. A malformed containers field yields a single non-fixable
// malformed_object violation (§4.1) and a view with no pod spec, so the
// caller can skip the remaining evaluators.
func BuildResourceView(obj map[string]interface{}) (ResourceView, []Violation) {
	view := ResourceView{Kind: KindOther}

	kindStr, _ := obj["kind"].(string)
	kind := Kind(kindStr)
	if _, known := podSpecPointers[kind]; known {
		view.Kind = kind
	}

	view.Metadata = extractMetadata(obj)

	podSpecPointer, known := podSpecPointers[view.Kind]
	if !known {
		return view, nil
	}

	podSpecNode, ok := lookupPointer(obj, podSpecPointer)
	if !ok {
		// No pod template present at all (e.g. a CronJob stub); this is
		// not malformed, simply absent.
		return view, nil
	}
	podSpec, ok := podSpecNode.(map[string]interface{})
	if !ok {
		return view, []Violation{malformed(podSpecPointer, podSpecNode, "must be an object")}
	}

	view.HasPodSpec = true
	view.PodSpecPointer = podSpecPointer

	containers, violations := collectContainers(podSpec, podSpecPointer, "containers", ContainerRegular, 0)
	if violations != nil {
		return view, violations
	}
	initContainers, violations := collectContainers(podSpec, podSpecPointer, "initContainers", ContainerInit, len(containers))
	if violations != nil {
		return view, violations
	}
	view.Containers = append(initContainers, containers...)

	constraints, hasPath, violations := collectTopologyConstraints(podSpec, podSpecPointer)
	if violations != nil {
		return view, violations
	}
	view.TopologyConstraints = constraints
	view.HasTopologyConstraintsPath = hasPath

	return view, nil
}

func extractMetadata(obj map[string]interface{}) Metadata {
	md := Metadata{
		Labels:      map[string]string{},
		Annotations: map[string]string{},
	}
	metaNode, ok := obj["metadata"].(map[string]interface{})
	if !ok {
		return md
	}
	md.Name, _ = metaNode["name"].(string)
	md.Namespace, _ = metaNode["namespace"].(string)
	if labels, ok := metaNode["labels"].(map[string]interface{}); ok {
		for k, v := range labels {
			if s, ok := v.(string); ok {
				md.Labels[k] = s
			}
		}
	}
	if annotations, ok := metaNode["annotations"].(map[string]interface{}); ok {
		for k, v := range annotations {
			if s, ok := v.(string); ok {
				md.Annotations[k] = s
			}
		}
	}
	return md
}

// collectContainers reads one of "containers" or "initContainers" from a
// pod spec node. indexOffset lets init containers keep distinct,
// monotonically increasing Index values from regular containers so that
// messages referencing "container_index" stay unambiguous; each
// container's own JSON Pointer still addresses its true position in the
// correct array.
func collectContainers(podSpec map[string]interface{}, podSpecPointer, field string, category ContainerCategory, indexOffset int) ([]ContainerView, []Violation) {
	raw, present := podSpec[field]
	if !present {
		return nil, nil
	}
	arr, ok := raw.([]interface{})
	if !ok {
		return nil, []Violation{malformed(JoinPointer(podSpecPointer, field), raw, "must be an array")}
	}

	views := make([]ContainerView, 0, len(arr))
	for i, item := range arr {
		c, ok := item.(map[string]interface{})
		if !ok {
			return nil, []Violation{malformed(JoinPointer(podSpecPointer, field, strconv.Itoa(i)), item, "must be an object")}
		}
		name, _ := c["name"].(string)
		image, _ := c["image"].(string)
		resources, violation := extractResourceAmount(c, podSpecPointer, field, i)
		if violation != nil {
			return nil, []Violation{*violation}
		}
		views = append(views, ContainerView{
			Index:     indexOffset + i,
			Category:  category,
			Name:      name,
			Image:     image,
			Resources: resources,
			Pointer:   JoinPointer(podSpecPointer, field, strconv.Itoa(i)),
		})
	}
	return views, nil
}

func extractResourceAmount(container map[string]interface{}, podSpecPointer, field string, index int) (ResourceAmount, *Violation) {
	amount := ResourceAmount{}
	resourcesNode, present := container["resources"]
	if !present {
		return amount, nil
	}
	resourcesObj, ok := resourcesNode.(map[string]interface{})
	if !ok {
		v := malformed(JoinPointer(podSpecPointer, field, strconv.Itoa(index), "resources"), resourcesNode, "must be an object")
		return amount, &v
	}
	amount.HasResourcesObject = true

	if requests, ok := resourcesObj["requests"]; ok {
		table, ok := requests.(map[string]interface{})
		if !ok {
			v := malformed(JoinPointer(podSpecPointer, field, strconv.Itoa(index), "resources", "requests"), requests, "must be an object")
			return amount, &v
		}
		amount.HasRequestsObject = true
		amount.Requests = stringMap(table)
	}
	if limits, ok := resourcesObj["limits"]; ok {
		table, ok := limits.(map[string]interface{})
		if !ok {
			v := malformed(JoinPointer(podSpecPointer, field, strconv.Itoa(index), "resources", "limits"), limits, "must be an object")
			return amount, &v
		}
		amount.HasLimitsObject = true
		amount.Limits = stringMap(table)
	}
	return amount, nil
}

func stringMap(m map[string]interface{}) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case string:
			out[k] = val
		case float64:
			out[k] = formatFloat(val)
		}
	}
	return out
}

func collectTopologyConstraints(podSpec map[string]interface{}, podSpecPointer string) ([]TopologyConstraint, bool, []Violation) {
	raw, present := podSpec["topologySpreadConstraints"]
	if !present {
		return nil, false, nil
	}
	arr, ok := raw.([]interface{})
	if !ok {
		return nil, true, []Violation{malformed(JoinPointer(podSpecPointer, "topologySpreadConstraints"), raw, "must be an array")}
	}
	out := make([]TopologyConstraint, 0, len(arr))
	for _, item := range arr {
		entry, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		tc := TopologyConstraint{}
		tc.TopologyKey, _ = entry["topologyKey"].(string)
		if skew, ok := entry["maxSkew"].(float64); ok {
			tc.MaxSkew = int32(skew)
		}
		tc.WhenUnsatisfiable, _ = entry["whenUnsatisfiable"].(string)
		out = append(out, tc)
	}
	return out, true, nil
}

// malformed builds a single-field, non-fixable malformed_object violation
// through field.ErrorList the way the teacher's webhook validators
// aggregate structural errors, rather than a bare formatted string.
func malformed(path string, value interface{}, detail string) Violation {
	errs := field.ErrorList{field.Invalid(field.NewPath(path), value, detail)}
	return Violation{
		Policy:  PolicySystem,
		Code:    "malformed_object",
		Message: errs.ToAggregate().Error(),
	}
}

func formatFloat(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
