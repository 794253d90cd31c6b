package codescan

import (
	"sort"
	"strings"

	"schema-doctor/config"
)

// Inferrer resolves the type a column is expected to have. Contextual hints
// from query text win; otherwise the configurable naming-convention tables
// decide.
type Inferrer struct {
	heuristics config.HeuristicsConfig

	// Key order is fixed up front. Issue ids hash the inferred type, so a
	// name matching two convention keys must resolve the same way on every
	// scan.
	suffixes []string
	prefixes []string
	keywords []string
}

// NewInferrer creates an inferrer from the configured heuristics.
func NewInferrer(h config.HeuristicsConfig) *Inferrer {
	return &Inferrer{
		heuristics: h,
		suffixes:   sortedKeys(h.SuffixTypes),
		prefixes:   sortedKeys(h.PrefixTypes),
		keywords:   sortedKeys(h.KeywordTypes),
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// InferColumnType returns the expected type for a column. hint is the
// contextual type extracted from query text and takes precedence when set.
func (inf *Inferrer) InferColumnType(name, hint string) string {
	if hint != "" {
		return hint
	}

	lower := strings.ToLower(name)

	for _, suffix := range inf.suffixes {
		if strings.HasSuffix(lower, suffix) {
			return inf.heuristics.SuffixTypes[suffix]
		}
	}
	for _, prefix := range inf.prefixes {
		if strings.HasPrefix(lower, prefix) {
			return inf.heuristics.PrefixTypes[prefix]
		}
	}
	for _, keyword := range inf.keywords {
		if strings.Contains(lower, keyword) {
			return inf.heuristics.KeywordTypes[keyword]
		}
	}

	return inf.heuristics.DefaultType
}

// ShouldBeUnique reports whether a column's name suggests its values should
// be unique even without a declared constraint.
func (inf *Inferrer) ShouldBeUnique(name string) bool {
	lower := strings.ToLower(name)

	for _, exact := range inf.heuristics.UniqueNames {
		if lower == exact {
			return true
		}
	}
	for _, suffix := range inf.heuristics.UniqueSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}
