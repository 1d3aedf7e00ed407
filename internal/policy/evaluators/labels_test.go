package evaluators

import (
	"regexp"
	"testing"

	"github.com/aslitaser/k8s-sentinel/internal/policy"
)

func TestLabelsMissing(t *testing.T) {
	view := policy.ResourceView{Metadata: policy.Metadata{Labels: map[string]string{}}}
	cfg := policy.LabelsConfig{Required: []policy.LabelRequirement{{Key: "team"}}}
	violations, ops := Labels(view, cfg)
	if ops != nil {
		t.Errorf("labels evaluator must never emit patches, got %+v", ops)
	}
	if len(violations) != 1 || violations[0].Code != "labels.missing" {
		t.Fatalf("violations = %+v", violations)
	}
}

func TestLabelsPatternMismatch(t *testing.T) {
	view := policy.ResourceView{Metadata: policy.Metadata{Labels: map[string]string{"team": "Team1"}}}
	cfg := policy.LabelsConfig{Required: []policy.LabelRequirement{{Key: "team", Pattern: regexp.MustCompile("^(?:[a-z]+)$")}}}
	violations, _ := Labels(view, cfg)
	if len(violations) != 1 || violations[0].Code != "labels.pattern_mismatch" {
		t.Fatalf("violations = %+v", violations)
	}
}

func TestLabelsPatternMatchFully(t *testing.T) {
	view := policy.ResourceView{Metadata: policy.Metadata{Labels: map[string]string{"team": "platform"}}}
	cfg := policy.LabelsConfig{Required: []policy.LabelRequirement{{Key: "team", Pattern: regexp.MustCompile("^(?:[a-z]+)$")}}}
	violations, _ := Labels(view, cfg)
	if len(violations) != 0 {
		t.Fatalf("unexpected violations: %+v", violations)
	}
}

func TestLabelsPatternRejectsPartialMatch(t *testing.T) {
	// An unanchored pattern like "[a-z]+" would partially match
	// "platform9"; the evaluator must require a full match regardless.
	view := policy.ResourceView{Metadata: policy.Metadata{Labels: map[string]string{"team": "platform9"}}}
	cfg := policy.LabelsConfig{Required: []policy.LabelRequirement{{Key: "team", Pattern: regexp.MustCompile("[a-z]+")}}}
	violations, _ := Labels(view, cfg)
	if len(violations) != 1 || violations[0].Code != "labels.pattern_mismatch" {
		t.Fatalf("violations = %+v, want a full-match failure", violations)
	}
}
