package worker

import "testing"

func TestPersonalizeSubstitutesSimplePath(t *testing.T) {
	out := Personalize("Hi {{ name }}!", map[string]any{"name": "Ada"})
	if out != "Hi Ada!" {
		t.Fatalf("got %q", out)
	}
}

func TestPersonalizeSubstitutesNestedPath(t *testing.T) {
	out := Personalize("{{ user.first }}", map[string]any{
		"user": map[string]any{"first": "Grace"},
	})
	if out != "Grace" {
		t.Fatalf("got %q", out)
	}
}

func TestPersonalizeUsesDefaultOnMissingKey(t *testing.T) {
	out := Personalize("Hi {{ name | friend }}!", map[string]any{})
	if out != "Hi friend!" {
		t.Fatalf("got %q", out)
	}
}

func TestPersonalizeLeavesTokenUntouchedWhenNoDefault(t *testing.T) {
	out := Personalize("Hi {{ name }}!", map[string]any{})
	if out != "Hi {{ name }}!" {
		t.Fatalf("got %q", out)
	}
}

func TestPersonalizeLeavesNonTemplateTextAlone(t *testing.T) {
	out := Personalize("no tokens here", map[string]any{"x": 1})
	if out != "no tokens here" {
		t.Fatalf("got %q", out)
	}
}

func TestPersonalizeStringifiesNonStringValues(t *testing.T) {
	out := Personalize("count={{ n }}", map[string]any{"n": 42})
	if out != "count=42" {
		t.Fatalf("got %q", out)
	}
}

func TestPersonalizeHandlesMultipleTokens(t *testing.T) {
	out := Personalize("{{ a }}-{{ b }}", map[string]any{"a": "x", "b": "y"})
	if out != "x-y" {
		t.Fatalf("got %q", out)
	}
}

func TestPersonalizeMissingNestedPathFallsBackToDefault(t *testing.T) {
	out := Personalize("{{ user.missing | n/a }}", map[string]any{
		"user": map[string]any{"first": "Grace"},
	})
	if out != "n/a" {
		t.Fatalf("got %q", out)
	}
}
