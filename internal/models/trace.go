package models

import (
	"fmt"
	"time"
)

// TraceEvent is a timed activity record reported by clients or emitted by
// the server itself (login events). Begin and End are milliseconds since the
// Unix epoch.
type TraceEvent struct {
	ServerID string `json:"_serverid"`
	Type     string `json:"@type"`
	Begin    int64  `json:"begin"`
	End      int64  `json:"end"`
	Subject  string `json:"subject"`
}

// NewLoginEvent builds the trace record written when a session holder
// identifies themselves.
func NewLoginEvent(userID string, at time.Time) TraceEvent {
	ms := at.UnixMilli()
	return TraceEvent{
		ServerID: userID,
		Type:     "Login",
		Begin:    ms,
		End:      ms,
		Subject:  userID,
	}
}

// Validate checks the structural rules for a trace event before it is
// persisted.
func (e TraceEvent) Validate() error {
	if e.Type == "" {
		return fmt.Errorf("trace event: @type is required")
	}
	if e.Begin < 0 || e.End < 0 {
		return fmt.Errorf("trace event %q: timestamps must not be negative", e.Type)
	}
	if e.End < e.Begin {
		return fmt.Errorf("trace event %q: end precedes begin", e.Type)
	}
	return nil
}

// ToObject converts the event into its stored representation.
func (e TraceEvent) ToObject() Object {
	return Object{
		"_serverid": e.ServerID,
		"@type":     e.Type,
		"begin":     e.Begin,
		"end":       e.End,
		"subject":   e.Subject,
	}
}
