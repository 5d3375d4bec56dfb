package models

// Unknown is substituted for a missing event_id or source.
const Unknown = "unknown"

// Well-known LogRecord fields.
const (
	FieldEventID    = "event_id"
	FieldSource     = "source"
	FieldTimestamp  = "timestamp"
	FieldMessage    = "message"
	FieldTemplateID = "template_id"
)

// LogRecord is one normalized Windows event-log entry. All values are strings.
type LogRecord map[string]string

// EventID returns the event identifier or Unknown when the field is absent.
func (r LogRecord) EventID() string {
	return r.fieldOr(FieldEventID, Unknown)
}

// Source returns the event source or Unknown when the field is absent.
func (r LogRecord) Source() string {
	return r.fieldOr(FieldSource, Unknown)
}

func (r LogRecord) fieldOr(name, fallback string) string {
	if v, ok := r[name]; ok {
		return v
	}
	return fallback
}
