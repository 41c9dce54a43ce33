package expressions

import "testing"

func TestInterpolate_Basic(t *testing.T) {
	got := Interpolate("Hello {{name}}, welcome to {{place}}.",
		map[string]any{"name": "Ada", "place": "Looms"})
	want := "Hello Ada, welcome to Looms."
	if got != want {
		t.Errorf("want %q, got %q", want, got)
	}
}

func TestInterpolate_UnboundTokenVerbatim(t *testing.T) {
	got := Interpolate("Hello {{name}} and {{ghost}}", map[string]any{"name": "Ada"})
	want := "Hello Ada and {{ghost}}"
	if got != want {
		t.Errorf("want %q, got %q", want, got)
	}
}

func TestInterpolate_NoTokensIdempotent(t *testing.T) {
	template := "Plain text with } braces { but no tokens"
	if got := Interpolate(template, map[string]any{"x": 1}); got != template {
		t.Errorf("template without tokens changed: %q", got)
	}
}

func TestInterpolate_WhitespaceInsideToken(t *testing.T) {
	got := Interpolate("{{ name }}", map[string]any{"name": "Ada"})
	if got != "Ada" {
		t.Errorf("want Ada, got %q", got)
	}
}

func TestInterpolate_RepeatedToken(t *testing.T) {
	got := Interpolate("{{x}} and {{x}}", map[string]any{"x": "a"})
	if got != "a and a" {
		t.Errorf("got %q", got)
	}
}

func TestInterpolate_ValueTypes(t *testing.T) {
	cases := []struct {
		value any
		want  string
	}{
		{"text", "text"},
		{42, "42"},
		{3.5, "3.5"},
		{true, "true"},
		{nil, ""},
		{[]any{"a", "b"}, `["a","b"]`},
		{map[string]any{"k": 1}, `{"k":1}`},
	}
	for _, c := range cases {
		got := Interpolate("{{v}}", map[string]any{"v": c.value})
		if got != c.want {
			t.Errorf("value %v: want %q, got %q", c.value, c.want, got)
		}
	}
}

func TestUnboundTokens(t *testing.T) {
	unbound := UnboundTokens("{{a}} {{b}} {{a}} {{c}}", map[string]any{"b": 1})
	if len(unbound) != 2 || unbound[0] != "a" || unbound[1] != "c" {
		t.Errorf("want [a c], got %v", unbound)
	}
}

func TestUnboundTokens_AllBound(t *testing.T) {
	if unbound := UnboundTokens("{{a}}", map[string]any{"a": 1}); len(unbound) != 0 {
		t.Errorf("expected none, got %v", unbound)
	}
}
