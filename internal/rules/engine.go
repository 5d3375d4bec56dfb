package rules

import "secuflow/pkg/models"

// Matcher counts rule hits over a window of records.
type Matcher interface {
	Match(records []models.LogRecord) []models.RuleMatch
}

// NoopMatcher matches nothing.
type NoopMatcher struct{}

// Match returns no matches.
func (NoopMatcher) Match([]models.LogRecord) []models.RuleMatch {
	return nil
}
