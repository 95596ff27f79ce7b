package types

// Event is a typed notification emitted by an engine during a state
// transition. Attributes carry string-encoded fields so payloads stay
// stable across the websocket feed and the journal.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Attribute returns the named attribute, or "" when unset.
func (e *Event) Attribute(key string) string {
	if e == nil || e.Attributes == nil {
		return ""
	}
	return e.Attributes[key]
}
