package policy

import "regexp"

// Mode is whether a policy's violations deny the request or merely warn.
type Mode string

const (
	ModeEnforce Mode = "enforce"
	ModeWarn    Mode = "warn"
)

// ResourceLimitsConfig is the resource_limits policy configuration
// (§4.3.1).
type ResourceLimitsConfig struct {
	Enabled bool
	Mode    Mode

	MaxCPUMillicores *int64
	MaxMemoryBytes   *uint64

	InjectDefaults bool
	RequireLimits  bool

	DefaultRequests map[string]string
	DefaultLimits   map[string]string
}

// ImageRegistryConfig is the image_registry policy configuration
// (§4.3.2).
type ImageRegistryConfig struct {
	Enabled bool
	Mode    Mode

	AllowedRegistries []string
	BlockLatest       bool
}

// LabelRequirement is one required label entry, with its pattern already
// compiled (§5: "precompiled regular expressions... live inside the
// PolicyConfig and are immutable after construction").
type LabelRequirement struct {
	Key     string
	Pattern *regexp.Regexp
}

// LabelsConfig is the labels policy configuration (§4.3.3).
type LabelsConfig struct {
	Enabled bool
	Mode    Mode

	Required []LabelRequirement
}

// TopologySpreadConfig is the topology_spread policy configuration
// (§4.3.4).
type TopologySpreadConfig struct {
	Enabled bool
	Mode    Mode

	RequiredTopologyKeys []string
	MaxSkew              int32
	WhenUnsatisfiable    string
	InjectIfMissing      bool
}

// Config is the policy registry (C2): the four typed policy blocks,
// enumerated in the fixed order the spec requires.
type Config struct {
	ResourceLimits ResourceLimitsConfig
	ImageRegistry  ImageRegistryConfig
	Labels         LabelsConfig
	TopologySpread TopologySpreadConfig
}

// Enabled returns the configured policies that are enabled, preserving
// EnumerationOrder.
func (c Config) Enabled() []PolicyName {
	out := make([]PolicyName, 0, len(EnumerationOrder))
	for _, name := range EnumerationOrder {
		if c.enabledFor(name) {
			out = append(out, name)
		}
	}
	return out
}

func (c Config) enabledFor(name PolicyName) bool {
	switch name {
	case PolicyResourceLimits:
		return c.ResourceLimits.Enabled
	case PolicyImageRegistry:
		return c.ImageRegistry.Enabled
	case PolicyLabels:
		return c.Labels.Enabled
	case PolicyTopologySpread:
		return c.TopologySpread.Enabled
	default:
		return false
	}
}

// ModeFor reports the configured mode for name. The system pseudo-policy
// has no configured mode: callers treat its violations as always
// enforce (§7).
func (c Config) ModeFor(name PolicyName) Mode {
	switch name {
	case PolicyResourceLimits:
		return c.ResourceLimits.Mode
	case PolicyImageRegistry:
		return c.ImageRegistry.Mode
	case PolicyLabels:
		return c.Labels.Mode
	case PolicyTopologySpread:
		return c.TopologySpread.Mode
	default:
		return ModeEnforce
	}
}
