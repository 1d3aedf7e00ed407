// Package evaluators implements the four policy evaluators (C3): pure
// functions from a ResourceView and that policy's configuration to a set
// of violations and patch operations.
package evaluators

func intp(i int) *int {
	return &i
}
