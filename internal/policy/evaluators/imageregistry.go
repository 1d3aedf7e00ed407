package evaluators

import (
	"fmt"
	"strings"

	"github.com/distribution/reference"

	"github.com/aslitaser/k8s-sentinel/internal/policy"
)

// ImageRegistry implements the image_registry policy (§4.3.2): every
// container image must resolve to one of the allowed registry prefixes,
// and the "latest" tag (explicit or implied by omission) can be blocked
// outright. Neither finding is fixable by mutation; an operator who wants
// a different image has to say so themselves.
func ImageRegistry(view policy.ResourceView, cfg policy.ImageRegistryConfig) ([]policy.Violation, []policy.PatchOp) {
	if !view.HasPodSpec {
		return nil, nil
	}

	var violations []policy.Violation
	for _, c := range view.Containers {
		if c.Image == "" {
			continue
		}
		registry, tag, hasDigest := resolveImage(c.Image)

		if len(cfg.AllowedRegistries) > 0 && !allowedRegistry(registry, cfg.AllowedRegistries) {
			violations = append(violations, policy.Violation{
				Policy:         policy.PolicyImageRegistry,
				Code:           "image_registry.disallowed_registry",
				ContainerIndex: intp(c.Index),
				Message:        fmt.Sprintf("container %q image %q resolves to registry %q, which is not allowed", c.Name, c.Image, registry),
			})
		}

		if cfg.BlockLatest && !hasDigest && (tag == "" || tag == "latest") {
			violations = append(violations, policy.Violation{
				Policy:         policy.PolicyImageRegistry,
				Code:           "image_registry.latest_tag",
				ContainerIndex: intp(c.Index),
				Message:        fmt.Sprintf("container %q image %q resolves to the latest tag", c.Name, c.Image),
			})
		}
	}
	return violations, nil
}

// resolveImage splits an image reference into its resolved registry
// (always ending in "/"), its tag (empty if untagged), and whether it
// carries a digest. An image with no explicit registry host resolves to
// "docker.io/library/" when it names no repository namespace, or
// "docker.io/" when it does, matching how an unqualified pull resolves
// against Docker Hub.
func resolveImage(image string) (registry, tag string, hasDigest bool) {
	parts := strings.Split(image, "/")
	first := parts[0]
	explicit := len(parts) > 1 && (strings.ContainsAny(first, ".:") || first == "localhost")

	if explicit {
		registry = first + "/"
	} else if len(parts) == 1 {
		registry = "docker.io/library/"
	} else {
		registry = "docker.io/"
	}

	named, err := reference.ParseNormalizedNamed(image)
	if err != nil {
		// Unparsable reference: no tag/digest information available, but
		// the registry resolution above still stands.
		return registry, "", false
	}
	if tagged, ok := named.(reference.Tagged); ok {
		tag = tagged.Tag()
	}
	if _, ok := named.(reference.Digested); ok {
		hasDigest = true
	}
	return registry, tag, hasDigest
}

func allowedRegistry(registry string, allowed []string) bool {
	for _, a := range allowed {
		if !strings.HasSuffix(a, "/") {
			a += "/"
		}
		if strings.HasPrefix(registry, a) {
			return true
		}
	}
	return false
}
