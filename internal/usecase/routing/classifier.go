package routing

import (
	"strings"
	"unicode/utf8"
)

// Classifier tells simple queries, answerable by the local backend with context, from complex ones.
type Classifier interface {
	IsSimple(query string) bool
}

// ClassifierFunc adapts a function into a Classifier.
type ClassifierFunc func(query string) bool

// IsSimple implements Classifier.
func (f ClassifierFunc) IsSimple(query string) bool { return f(query) }

// HeuristicClassifier treats short, single-question, non-multi-step queries as simple.
type HeuristicClassifier struct {
	MaxChars int
	MaxWords int
	// Markers are lowercase phrases that signal chained reasoning.
	Markers []string
}

// IsSimple implements Classifier.
func (c HeuristicClassifier) IsSimple(query string) bool {
	q := strings.TrimSpace(query)
	if c.MaxChars > 0 && utf8.RuneCountInString(q) > c.MaxChars {
		return false
	}
	if c.MaxWords > 0 && len(strings.Fields(q)) > c.MaxWords {
		return false
	}
	if strings.Count(q, "?") > 1 {
		return false
	}

	lower := strings.ToLower(q)
	for _, m := range c.Markers {
		if m != "" && strings.Contains(lower, m) {
			return false
		}
	}
	return true
}
