// Package config loads the policy registry configuration from YAML,
// rejecting unknown fields and precompiling every label pattern once at
// load time rather than per request.
package config

import (
	"errors"
	"regexp"

	"k8s.io/apimachinery/pkg/util/validation/field"
	"sigs.k8s.io/yaml"

	"github.com/aslitaser/k8s-sentinel/internal/policy"
)

type fileConfig struct {
	ResourceLimits resourceLimitsFile `json:"resourceLimits"`
	ImageRegistry  imageRegistryFile  `json:"imageRegistry"`
	Labels         labelsFile         `json:"labels"`
	TopologySpread topologySpreadFile `json:"topologySpread"`
}

type resourceLimitsFile struct {
	Enabled          bool              `json:"enabled"`
	Mode             string            `json:"mode"`
	MaxCPUMillicores *int64            `json:"maxCPUMillicores,omitempty"`
	MaxMemoryBytes   *uint64           `json:"maxMemoryBytes,omitempty"`
	InjectDefaults   bool              `json:"injectDefaults"`
	RequireLimits    bool              `json:"requireLimits"`
	DefaultRequests  map[string]string `json:"defaultRequests,omitempty"`
	DefaultLimits    map[string]string `json:"defaultLimits,omitempty"`
}

type imageRegistryFile struct {
	Enabled           bool     `json:"enabled"`
	Mode              string   `json:"mode"`
	AllowedRegistries []string `json:"allowedRegistries,omitempty"`
	BlockLatest       bool     `json:"blockLatest"`
}

type labelRequirementFile struct {
	Key     string `json:"key"`
	Pattern string `json:"pattern,omitempty"`
}

type labelsFile struct {
	Enabled  bool                   `json:"enabled"`
	Mode     string                 `json:"mode"`
	Required []labelRequirementFile `json:"required,omitempty"`
}

type topologySpreadFile struct {
	Enabled              bool     `json:"enabled"`
	Mode                 string   `json:"mode"`
	RequiredTopologyKeys []string `json:"requiredTopologyKeys,omitempty"`
	MaxSkew              int32    `json:"maxSkew"`
	WhenUnsatisfiable    string   `json:"whenUnsatisfiable"`
	InjectIfMissing      bool     `json:"injectIfMissing"`
}

// Load parses raw YAML bytes into a validated policy.Config. Unknown
// fields are rejected at load time, per the configuration schema
// contract: a typo in a policy block must fail loudly rather than be
// silently ignored.
func Load(raw []byte) (policy.Config, error) {
	var fc fileConfig
	if err := yaml.UnmarshalStrict(raw, &fc); err != nil {
		return policy.Config{}, errors.Join(errors.New("parsing policy configuration"), err)
	}
	return build(fc)
}

func build(fc fileConfig) (policy.Config, error) {
	cfg := policy.Config{
		ResourceLimits: policy.ResourceLimitsConfig{
			Enabled:          fc.ResourceLimits.Enabled,
			Mode:             mode(fc.ResourceLimits.Mode),
			MaxCPUMillicores: fc.ResourceLimits.MaxCPUMillicores,
			MaxMemoryBytes:   fc.ResourceLimits.MaxMemoryBytes,
			InjectDefaults:   fc.ResourceLimits.InjectDefaults,
			RequireLimits:    fc.ResourceLimits.RequireLimits,
			DefaultRequests:  fc.ResourceLimits.DefaultRequests,
			DefaultLimits:    fc.ResourceLimits.DefaultLimits,
		},
		ImageRegistry: policy.ImageRegistryConfig{
			Enabled:           fc.ImageRegistry.Enabled,
			Mode:              mode(fc.ImageRegistry.Mode),
			AllowedRegistries: fc.ImageRegistry.AllowedRegistries,
			BlockLatest:       fc.ImageRegistry.BlockLatest,
		},
		TopologySpread: policy.TopologySpreadConfig{
			Enabled:              fc.TopologySpread.Enabled,
			Mode:                 mode(fc.TopologySpread.Mode),
			RequiredTopologyKeys: fc.TopologySpread.RequiredTopologyKeys,
			MaxSkew:              fc.TopologySpread.MaxSkew,
			WhenUnsatisfiable:    fc.TopologySpread.WhenUnsatisfiable,
			InjectIfMissing:      fc.TopologySpread.InjectIfMissing,
		},
	}

	labelsPath := field.NewPath("labels").Child("required")
	var allErrs field.ErrorList
	required := make([]policy.LabelRequirement, 0, len(fc.Labels.Required))
	for i, r := range fc.Labels.Required {
		req := policy.LabelRequirement{Key: r.Key}
		if r.Pattern != "" {
			// Anchor the pattern so MatchString-style partial matches
			// cannot masquerade as a "fully match" per §4.3.3.
			compiled, err := regexp.Compile("^(?:" + r.Pattern + ")$")
			if err != nil {
				allErrs = append(allErrs, field.Invalid(labelsPath.Index(i).Child("pattern"), r.Pattern, err.Error()+" (label "+r.Key+")"))
				continue
			}
			req.Pattern = compiled
		}
		required = append(required, req)
	}
	if len(allErrs) > 0 {
		return policy.Config{}, allErrs.ToAggregate()
	}
	cfg.Labels = policy.LabelsConfig{
		Enabled:  fc.Labels.Enabled,
		Mode:     mode(fc.Labels.Mode),
		Required: required,
	}

	return cfg, nil
}

func mode(raw string) policy.Mode {
	if policy.Mode(raw) == policy.ModeWarn {
		return policy.ModeWarn
	}
	return policy.ModeEnforce
}
