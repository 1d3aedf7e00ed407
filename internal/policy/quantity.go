package policy

import (
	"fmt"

	"k8s.io/apimachinery/pkg/api/resource"
)

// Quantity is a canonical numeric-with-unit resource amount. CPU is
// exposed in milli-cores, memory in bytes, matching §3 of the spec. The
// zero Quantity is not a valid parsed value; use Present to tell a
// missing entry apart from an explicit "0".
type Quantity struct {
	value resource.Quantity
	ok    bool
}

// ParseQuantity parses the Kubernetes quantity grammar: a decimal with an
// optional SI suffix (k, M, G, T, P, E), a binary suffix (Ki, Mi, Gi, Ti,
// Pi, Ei), or the CPU "m" suffix. This is the exact grammar
// k8s.io/apimachinery/pkg/api/resource already implements, so it is
// reused rather than re-derived.
func ParseQuantity(raw string) (Quantity, error) {
	q, err := resource.ParseQuantity(raw)
	if err != nil {
		return Quantity{}, fmt.Errorf("parsing quantity %q: %w", raw, err)
	}
	return Quantity{value: q, ok: true}, nil
}

// MustParseQuantity parses raw and panics on error, for callers holding a
// quantity string already known to be valid.
func MustParseQuantity(raw string) Quantity {
	q, err := ParseQuantity(raw)
	if err != nil {
		panic(err)
	}
	return q
}

// Present reports whether this Quantity was actually parsed from an
// input, as opposed to the zero value.
func (q Quantity) Present() bool { return q.ok }

// MilliCPU returns the canonical milli-core value for a CPU quantity.
func (q Quantity) MilliCPU() int64 { return q.value.MilliValue() }

// Bytes returns the canonical byte value for a memory quantity. Negative
// quantities (which make no sense for a resource amount) clamp to zero
// rather than wrapping under the unsigned conversion.
func (q Quantity) Bytes() uint64 {
	v := q.value.Value()
	if v < 0 {
		return 0
	}
	return uint64(v)
}

// String renders the canonical Kubernetes quantity string, or a
// placeholder when the value is absent.
func (q Quantity) String() string {
	if !q.ok {
		return "<absent>"
	}
	return q.value.String()
}

// Cmp compares two quantities using their canonical resource.Quantity
// representation, so "1000m" and "1" compare equal.
func (q Quantity) Cmp(other Quantity) int {
	return q.value.Cmp(other.value)
}
