package engine_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/go-logr/logr"

	"github.com/aslitaser/k8s-sentinel/internal/engine"
	"github.com/aslitaser/k8s-sentinel/internal/policy"
)

func simplePod(name, image string, labels map[string]string) map[string]interface{} {
	md := map[string]interface{}{"name": name, "namespace": "default"}
	if labels != nil {
		lbls := map[string]interface{}{}
		for k, v := range labels {
			lbls[k] = v
		}
		md["labels"] = lbls
	}
	return map[string]interface{}{
		"kind":     "Pod",
		"metadata": md,
		"spec": map[string]interface{}{
			"containers": []interface{}{
				map[string]interface{}{"name": "c", "image": image},
			},
		},
	}
}

func threeContainerDeployment(images []string) map[string]interface{} {
	containers := make([]interface{}, len(images))
	for i, img := range images {
		containers[i] = map[string]interface{}{"name": "c", "image": img}
	}
	return map[string]interface{}{
		"kind": "Deployment",
		"spec": map[string]interface{}{
			"template": map[string]interface{}{
				"spec": map[string]interface{}{
					"containers": containers,
				},
			},
		},
	}
}

var _ = Describe("Evaluate", func() {
	var ctx context.Context
	var log logr.Logger

	BeforeEach(func() {
		ctx = context.Background()
		log = logr.Discard()
	})

	It("S1: mutate injects defaults and allows", func() {
		req := policy.AdmissionRequest{UID: "req-1", Operation: policy.OperationCreate, Object: simplePod("web", "nginx:1.25", nil)}
		cfg := policy.Config{
			ResourceLimits: policy.ResourceLimitsConfig{
				Enabled:         true,
				Mode:            policy.ModeEnforce,
				InjectDefaults:  true,
				RequireLimits:   true,
				DefaultRequests: map[string]string{"cpu": "100m", "memory": "128Mi"},
				DefaultLimits:   map[string]string{"cpu": "100m", "memory": "128Mi"},
			},
		}
		resp, err := engine.Evaluate(ctx, log, engine.MutateEndpoint, req, cfg)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Allowed).To(BeTrue())
		Expect(resp.Warnings).To(BeEmpty())
		Expect(resp.Patch).NotTo(BeEmpty())

		paths := map[string]interface{}{}
		for _, op := range resp.Patch {
			paths[op.Path] = op.Value
		}
		Expect(paths).To(HaveKeyWithValue("/spec/containers/0/resources/requests/cpu", "100m"))
		Expect(paths).To(HaveKeyWithValue("/spec/containers/0/resources/requests/memory", "128Mi"))
		Expect(paths).To(HaveKeyWithValue("/spec/containers/0/resources/limits/cpu", "100m"))
		Expect(paths).To(HaveKeyWithValue("/spec/containers/0/resources/limits/memory", "128Mi"))
	})

	It("S2: validate denies the same object for the missing limit", func() {
		req := policy.AdmissionRequest{UID: "req-2", Operation: policy.OperationCreate, Object: simplePod("web", "nginx:1.25", nil)}
		cfg := policy.Config{
			ResourceLimits: policy.ResourceLimitsConfig{
				Enabled:         true,
				Mode:            policy.ModeEnforce,
				InjectDefaults:  true,
				RequireLimits:   true,
				DefaultRequests: map[string]string{"cpu": "100m", "memory": "128Mi"},
				DefaultLimits:   map[string]string{"cpu": "100m", "memory": "128Mi"},
			},
		}
		resp, err := engine.Evaluate(ctx, log, engine.ValidateEndpoint, req, cfg)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Allowed).To(BeFalse())
		Expect(resp.Message).To(ContainSubstring("resource_limits.missing_limit"))
		Expect(resp.Patch).To(BeEmpty())
	})

	It("S3: validate reports both disallowed registry and latest tag", func() {
		req := policy.AdmissionRequest{UID: "req-3", Operation: policy.OperationCreate, Object: simplePod("web", "evil.io/foo:latest", nil)}
		cfg := policy.Config{
			ImageRegistry: policy.ImageRegistryConfig{
				Enabled:           true,
				Mode:              policy.ModeEnforce,
				AllowedRegistries: []string{"gcr.io/"},
				BlockLatest:       true,
			},
		}
		resp, err := engine.Evaluate(ctx, log, engine.ValidateEndpoint, req, cfg)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Allowed).To(BeFalse())
		Expect(resp.Message).To(ContainSubstring("image_registry.disallowed_registry"))
		Expect(resp.Message).To(ContainSubstring("image_registry.latest_tag"))
	})

	It("S4: mutate denies without emitting a patch", func() {
		req := policy.AdmissionRequest{
			UID:       "req-4",
			Operation: policy.OperationCreate,
			Object:    threeContainerDeployment([]string{"gcr.io/a:v1", "badreg/x:v1", "gcr.io/c:v1"}),
		}
		cfg := policy.Config{
			ImageRegistry: policy.ImageRegistryConfig{
				Enabled:           true,
				Mode:              policy.ModeEnforce,
				AllowedRegistries: []string{"gcr.io/"},
			},
		}
		resp, err := engine.Evaluate(ctx, log, engine.MutateEndpoint, req, cfg)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Allowed).To(BeFalse())
		Expect(resp.Patch).To(BeEmpty())
	})

	It("S5: validate denies a missing required label", func() {
		req := policy.AdmissionRequest{UID: "req-5", Operation: policy.OperationCreate, Object: simplePod("web", "nginx", nil)}
		cfg := policy.Config{
			Labels: policy.LabelsConfig{
				Enabled:  true,
				Mode:     policy.ModeEnforce,
				Required: []policy.LabelRequirement{{Key: "team"}},
			},
		}
		resp, err := engine.Evaluate(ctx, log, engine.ValidateEndpoint, req, cfg)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Allowed).To(BeFalse())
		Expect(resp.Message).To(ContainSubstring("labels.missing"))
		Expect(resp.Message).To(ContainSubstring("team"))
	})

	It("S6: mutate injects a topology spread constraint using the object's labels", func() {
		req := policy.AdmissionRequest{UID: "req-6", Operation: policy.OperationCreate, Object: simplePod("web", "nginx", map[string]string{"app": "web"})}
		cfg := policy.Config{
			TopologySpread: policy.TopologySpreadConfig{
				Enabled:              true,
				Mode:                 policy.ModeEnforce,
				RequiredTopologyKeys: []string{"topology.kubernetes.io/zone"},
				MaxSkew:              1,
				WhenUnsatisfiable:    "DoNotSchedule",
				InjectIfMissing:      true,
			},
		}
		resp, err := engine.Evaluate(ctx, log, engine.MutateEndpoint, req, cfg)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Allowed).To(BeTrue())
		Expect(resp.Patch).To(HaveLen(2))
		Expect(resp.Patch[0].Path).To(Equal("/spec/topologySpreadConstraints"))
		Expect(resp.Patch[0].Value).To(Equal([]interface{}{}))
		Expect(resp.Patch[1].Path).To(Equal("/spec/topologySpreadConstraints/-"))

		constraint, ok := resp.Patch[1].Value.(map[string]interface{})
		Expect(ok).To(BeTrue())
		selector, ok := constraint["labelSelector"].(map[string]interface{})
		Expect(ok).To(BeTrue())
		Expect(selector["matchLabels"]).To(Equal(map[string]interface{}{"app": "web"}))
	})

	It("S7: mutate injects every simultaneously-missing topology constraint and suppresses all their violations", func() {
		req := policy.AdmissionRequest{UID: "req-7", Operation: policy.OperationCreate, Object: simplePod("web", "nginx", map[string]string{"app": "web"})}
		cfg := policy.Config{
			TopologySpread: policy.TopologySpreadConfig{
				Enabled:              true,
				Mode:                 policy.ModeEnforce,
				RequiredTopologyKeys: []string{"topology.kubernetes.io/zone", "topology.kubernetes.io/region"},
				MaxSkew:              1,
				WhenUnsatisfiable:    "DoNotSchedule",
				InjectIfMissing:      true,
			},
		}
		resp, err := engine.Evaluate(ctx, log, engine.MutateEndpoint, req, cfg)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Allowed).To(BeTrue())
		Expect(resp.Warnings).To(BeEmpty())

		var appends []policy.PatchOp
		for _, op := range resp.Patch {
			if op.Path == "/spec/topologySpreadConstraints/-" {
				appends = append(appends, op)
			}
		}
		Expect(appends).To(HaveLen(2), "both missing constraints must be injected, not deduplicated away")

		keys := map[string]bool{}
		for _, op := range appends {
			constraint := op.Value.(map[string]interface{})
			keys[constraint["topologyKey"].(string)] = true
		}
		Expect(keys).To(HaveKey("topology.kubernetes.io/zone"))
		Expect(keys).To(HaveKey("topology.kubernetes.io/region"))
	})

	It("passes Delete and Connect operations through unconditionally", func() {
		cfg := policy.Config{Labels: policy.LabelsConfig{Enabled: true, Mode: policy.ModeEnforce, Required: []policy.LabelRequirement{{Key: "team"}}}}
		for _, op := range []policy.Operation{policy.OperationDelete, policy.OperationConnect} {
			req := policy.AdmissionRequest{UID: "req-passthrough", Operation: op, Object: simplePod("web", "nginx", nil)}
			resp, err := engine.Evaluate(ctx, log, engine.ValidateEndpoint, req, cfg)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Allowed).To(BeTrue())
			Expect(resp.Warnings).To(BeEmpty())
			Expect(resp.Patch).To(BeEmpty())
		}
	})

	It("denies malformed objects without running evaluators", func() {
		obj := simplePod("web", "nginx", nil)
		obj["spec"].(map[string]interface{})["containers"] = "not-an-array"
		req := policy.AdmissionRequest{UID: "req-malformed", Operation: policy.OperationCreate, Object: obj}
		resp, err := engine.Evaluate(ctx, log, engine.ValidateEndpoint, req, policy.Config{})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Allowed).To(BeFalse())
		Expect(resp.Message).To(ContainSubstring("malformed_object"))
	})

	It("echoes the request UID on every response", func() {
		req := policy.AdmissionRequest{UID: "echo-me", Operation: policy.OperationCreate, Object: simplePod("web", "nginx", nil)}
		resp, err := engine.Evaluate(ctx, log, engine.ValidateEndpoint, req, policy.Config{})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.UID).To(Equal("echo-me"))
	})

	It("warn-mode violations become warnings, not denials", func() {
		req := policy.AdmissionRequest{UID: "req-warn", Operation: policy.OperationCreate, Object: simplePod("web", "nginx", nil)}
		cfg := policy.Config{Labels: policy.LabelsConfig{Enabled: true, Mode: policy.ModeWarn, Required: []policy.LabelRequirement{{Key: "team"}}}}
		resp, err := engine.Evaluate(ctx, log, engine.ValidateEndpoint, req, cfg)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Allowed).To(BeTrue())
		Expect(resp.Warnings).To(HaveLen(1))
		Expect(resp.Warnings[0]).To(ContainSubstring("labels.missing"))
	})
})
