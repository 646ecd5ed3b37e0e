// Package evidence reconciles the diagnostic evidence attached to a
// diagnosis record into one canonical representation.
package evidence

import (
	"encoding/json"
	"sort"
)

// Category names of the canonical evidence map.
const (
	CategoryLogs    = "logs"
	CategoryMetrics = "metrics"
	CategoryEvents  = "events"
	CategoryConfig  = "config"
)

// Evidence is the canonical evidence map. It is never persisted and is always
// rebuilt from a record. A category absent from every source is left nil and
// omitted from the JSON form.
type Evidence struct {
	Logs    []LogEntry     `json:"logs,omitempty"`
	Metrics map[string]any `json:"metrics,omitempty"`
	Events  []Event        `json:"events,omitempty"`
	Config  map[string]any `json:"config,omitempty"`
}

// Categories returns the names of the populated categories in display order.
func (e Evidence) Categories() []string {
	var out []string
	if len(e.Logs) > 0 {
		out = append(out, CategoryLogs)
	}
	if len(e.Metrics) > 0 {
		out = append(out, CategoryMetrics)
	}
	if len(e.Events) > 0 {
		out = append(out, CategoryEvents)
	}
	if len(e.Config) > 0 {
		out = append(out, CategoryConfig)
	}
	return out
}

// IsEmpty reports whether no category was populated.
func (e Evidence) IsEmpty() bool {
	return len(e.Categories()) == 0
}

// MetricNames returns the metric names in sorted order.
func (e Evidence) MetricNames() []string {
	return sortedKeys(e.Metrics)
}

// ConfigKeys returns the config keys in sorted order.
func (e Evidence) ConfigKeys() []string {
	return sortedKeys(e.Config)
}

// LogEntry is a single log line. Entries that arrived as plain strings only
// carry a message; structured entries keep their remaining fields.
type LogEntry struct {
	Message string
	Fields  map[string]any
}

// MarshalJSON renders plain entries as strings and structured entries as
// objects with a "message" key.
func (l LogEntry) MarshalJSON() ([]byte, error) {
	if len(l.Fields) == 0 {
		return json.Marshal(l.Message)
	}
	obj := make(map[string]any, len(l.Fields)+1)
	for k, v := range l.Fields {
		obj[k] = v
	}
	if l.Message != "" {
		obj["message"] = l.Message
	}
	return json.Marshal(obj)
}

// String returns the display text of the entry.
func (l LogEntry) String() string {
	if l.Message != "" {
		return l.Message
	}
	return text(l.Fields)
}

// Event is a normalized cluster event.
type Event struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp,omitempty"`
	Status    string `json:"status,omitempty"`
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
