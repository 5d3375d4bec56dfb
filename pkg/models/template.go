package models

// TemplateMatch lists the distinct templates known for an event identifier.
type TemplateMatch struct {
	EventID        string   `json:"event_id"`
	TemplatesFound int      `json:"templates_found"`
	Templates      []string `json:"templates"`
}
