package models

// EventCount is one row of the top event identifier list.
type EventCount struct {
	EventID string `json:"event_id"`
	Count   int    `json:"count"`
}

// SourceCount is one row of the top source list.
type SourceCount struct {
	Source string `json:"source"`
	Count  int    `json:"count"`
}

// Summary aggregates the recent window of log records.
type Summary struct {
	TotalEventsAnalyzed int           `json:"total_events_analyzed"`
	TopEventIDs         []EventCount  `json:"top_event_ids"`
	TopSources          []SourceCount `json:"top_sources"`
	Notes               []string      `json:"notes"`
}
