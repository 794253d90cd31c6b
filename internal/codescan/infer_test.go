package codescan

import (
	"testing"

	"schema-doctor/config"
)

func defaultHeuristics() config.HeuristicsConfig {
	return config.HeuristicsConfig{
		SuffixTypes: map[string]string{
			"_id":   "integer",
			"_at":   "timestamptz",
			"_date": "timestamptz",
		},
		PrefixTypes: map[string]string{
			"is_":  "boolean",
			"has_": "boolean",
		},
		KeywordTypes: map[string]string{
			"price":    "numeric(10,2)",
			"notes":    "text",
			"metadata": "jsonb",
		},
		DefaultType:    "text",
		UniqueSuffixes: []string{"_id", "_key", "_code", "_hash", "_token"},
		UniqueNames:    []string{"email", "username"},
	}
}

func TestInferColumnTypeHintWins(t *testing.T) {
	inf := NewInferrer(defaultHeuristics())
	if got := inf.InferColumnType("user_id", "uuid"); got != "uuid" {
		t.Errorf("contextual hint should win, got %q", got)
	}
}

func TestInferColumnTypeConventions(t *testing.T) {
	inf := NewInferrer(defaultHeuristics())

	cases := map[string]string{
		"user_id":    "integer",
		"created_at": "timestamptz",
		"birth_date": "timestamptz",
		"is_active":  "boolean",
		"has_paid":   "boolean",
		"unit_price": "numeric(10,2)",
		"notes":      "text",
		"metadata":   "jsonb",
		"nickname":   "text", // default
	}

	for name, want := range cases {
		if got := inf.InferColumnType(name, ""); got != want {
			t.Errorf("InferColumnType(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestInferColumnTypeDeterministic(t *testing.T) {
	h := defaultHeuristics()
	h.KeywordTypes = map[string]string{
		"cost":        "numeric(10,2)",
		"description": "text",
	}
	inf := NewInferrer(h)

	// "cost_description" matches both keywords; the inferred type feeds
	// issue ids, so every call must resolve the tie the same way.
	first := inf.InferColumnType("cost_description", "")
	if first != "numeric(10,2)" {
		t.Errorf("tie should resolve to the first key in sorted order, got %q", first)
	}
	for i := 0; i < 200; i++ {
		if got := inf.InferColumnType("cost_description", ""); got != first {
			t.Fatalf("inference flapped on call %d: %q then %q", i, first, got)
		}
	}
}

func TestShouldBeUnique(t *testing.T) {
	inf := NewInferrer(defaultHeuristics())

	unique := []string{"email", "username", "api_key", "referral_code", "password_hash", "session_token", "external_id"}
	for _, name := range unique {
		if !inf.ShouldBeUnique(name) {
			t.Errorf("ShouldBeUnique(%q) = false, want true", name)
		}
	}

	notUnique := []string{"description", "created_at", "price"}
	for _, name := range notUnique {
		if inf.ShouldBeUnique(name) {
			t.Errorf("ShouldBeUnique(%q) = true, want false", name)
		}
	}
}
