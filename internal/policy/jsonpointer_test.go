package policy

import "testing"

func TestEscapeToken(t *testing.T) {
	cases := map[string]string{
		"plain":       "plain",
		"a/b":         "a~1b",
		"a~b":         "a~0b",
		"a~1b-mixed":  "a~01b-mixed",
	}
	for in, want := range cases {
		if got := EscapeToken(in); got != want {
			t.Errorf("EscapeToken(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestJoinPointer(t *testing.T) {
	got := JoinPointer("/spec/containers/0", "resources", "limits", EscapeToken("example.com/gpu"))
	want := "/spec/containers/0/resources/limits/example.com~1gpu"
	if got != want {
		t.Errorf("JoinPointer() = %q, want %q", got, want)
	}
}

func TestPointerDepth(t *testing.T) {
	cases := map[string]int{
		"":                     0,
		"/":                    0,
		"/spec":                1,
		"/spec/containers/0":   3,
		"/spec/containers/0/resources/limits": 5,
	}
	for p, want := range cases {
		if got := PointerDepth(p); got != want {
			t.Errorf("PointerDepth(%q) = %d, want %d", p, got, want)
		}
	}
}

func TestLookupPointer(t *testing.T) {
	doc := map[string]interface{}{
		"spec": map[string]interface{}{
			"containers": []interface{}{
				map[string]interface{}{"name": "a"},
			},
		},
	}
	if v, ok := lookupPointer(doc, "/spec/containers/0/name"); !ok || v != "a" {
		t.Errorf("lookup = %v, %v, want \"a\", true", v, ok)
	}
	if _, ok := lookupPointer(doc, "/spec/containers/1/name"); ok {
		t.Error("expected missing index to be not ok")
	}
	if _, ok := lookupPointer(doc, "/spec/containers/-"); ok {
		t.Error("expected \"-\" token to never resolve")
	}
	if _, ok := lookupPointer(doc, "/missing"); ok {
		t.Error("expected missing key to be not ok")
	}
}
