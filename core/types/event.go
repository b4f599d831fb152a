package types

// Event is the flattened form of a state-change event: a type tag plus string
// attributes. It is what subscribers and logs see.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Clone returns a deep copy.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	attrs := make(map[string]string, len(e.Attributes))
	for k, v := range e.Attributes {
		attrs[k] = v
	}
	return &Event{Type: e.Type, Attributes: attrs}
}

// LogArgs flattens the attributes into slog-style key/value pairs.
func (e *Event) LogArgs() []any {
	if e == nil {
		return nil
	}
	args := make([]any, 0, 2+2*len(e.Attributes))
	args = append(args, "event", e.Type)
	for k, v := range e.Attributes {
		args = append(args, k, v)
	}
	return args
}
