package models

// Severity is the incident level.
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// Incident is a heuristic flag derived from frequency thresholds.
type Incident struct {
	ID              int      `json:"id"`
	Severity        Severity `json:"severity"`
	Reason          string   `json:"reason"`
	RelatedEventIDs []string `json:"related_event_ids"`
}
