package models

// RuleMatch counts the window records matched by one Sigma rule.
type RuleMatch struct {
	RuleID   string   `json:"rule_id"`
	Title    string   `json:"title"`
	Level    string   `json:"level,omitempty"`
	Count    int      `json:"count"`
	EventIDs []string `json:"event_ids"`
}

// Report is the result of one analysis request.
type Report struct {
	Summary       Summary     `json:"summary"`
	Incidents     []Incident  `json:"incidents"`
	AIExplanation string      `json:"ai_explanation"`
	RuleMatches   []RuleMatch `json:"rule_matches,omitempty"`
}
