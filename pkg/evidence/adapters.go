package evidence

import (
	"sort"
	"strings"
)

// adapter tries to normalize one raw shape. It reports false instead of
// failing when the input does not have the shape it understands.
type adapter[T any] func(v any) (T, bool)

var (
	logWrapperKeys   = []string{"logs", "entries", "content", "results"}
	logMessageKeys   = []string{"message", "msg", "log", "line", "content"}
	eventWrapperKeys = []string{"events", "list"}
	eventMessageKeys = []string{"message", "reason", "msg", "description", "note"}
	eventTimeKeys    = []string{"timestamp", "time", "last_timestamp", "lastTimestamp", "first_timestamp", "firstTimestamp", "event_time", "created_at"}
	eventStatusKeys  = []string{"status", "type", "level"}
)

// Shape adapters for a record's own "logs" field, tried in order.
var recordLogAdapters = []adapter[[]LogEntry]{
	logsFromJSONString,
	logsFromPlainString,
	logsFromArray,
	logsFromWrapper,
	logsFromValues,
}

// logsFromJSONString handles a string that carries an encoded array or object.
func logsFromJSONString(v any) ([]LogEntry, bool) {
	if _, ok := v.(string); !ok {
		return nil, false
	}
	inner := unwrap(v)
	if _, still := inner.(string); still {
		return nil, false
	}
	for _, a := range []adapter[[]LogEntry]{logsFromArray, logsFromWrapper, logsFromValues} {
		if logs, ok := a(inner); ok {
			return logs, true
		}
	}
	return nil, false
}

// logsFromPlainString splits a free-text blob into lines.
func logsFromPlainString(v any) ([]LogEntry, bool) {
	s, ok := v.(string)
	if !ok {
		return nil, false
	}
	var logs []LogEntry
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		logs = append(logs, LogEntry{Message: line})
	}
	return logs, len(logs) > 0
}

// logsFromArray converts an array of strings or objects. Null entries are dropped.
func logsFromArray(v any) ([]LogEntry, bool) {
	arr, ok := v.([]any)
	if !ok {
		return nil, false
	}
	var logs []LogEntry
	for _, item := range arr {
		if entry, ok := logEntry(item); ok {
			logs = append(logs, entry)
		}
	}
	return logs, len(logs) > 0
}

// logsFromWrapper looks for the log list under one of the well-known keys.
func logsFromWrapper(v any) ([]LogEntry, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	for _, key := range logWrapperKeys {
		inner, ok := present(m, key)
		if !ok {
			continue
		}
		inner = unwrap(inner)
		for _, a := range []adapter[[]LogEntry]{logsFromArray, logsFromPlainString, logsFromWrapper} {
			if logs, ok := a(inner); ok {
				return logs, true
			}
		}
	}
	return nil, false
}

// logsFromValues flattens an object whose values all look like log lines,
// e.g. {"pod-a": ["..."], "pod-b": "..."}.
func logsFromValues(v any) ([]LogEntry, bool) {
	m, ok := v.(map[string]any)
	if !ok || len(m) == 0 {
		return nil, false
	}
	for _, val := range m {
		if !looksLikeLogLines(val) {
			return nil, false
		}
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var logs []LogEntry
	for _, k := range keys {
		switch val := m[k].(type) {
		case string:
			if strings.TrimSpace(val) != "" {
				logs = append(logs, LogEntry{Message: val})
			}
		case []any:
			for _, item := range val {
				if item == nil {
					continue
				}
				if s := text(item); s != "" {
					logs = append(logs, LogEntry{Message: s})
				}
			}
		}
	}
	return logs, len(logs) > 0
}

func looksLikeLogLines(v any) bool {
	switch x := v.(type) {
	case nil, string:
		return true
	case []any:
		for _, item := range x {
			switch item.(type) {
			case nil, string, map[string]any:
			default:
				return false
			}
		}
		return true
	}
	return false
}

func logEntry(item any) (LogEntry, bool) {
	switch x := item.(type) {
	case nil:
		return LogEntry{}, false
	case string:
		if strings.TrimSpace(x) == "" {
			return LogEntry{}, false
		}
		return LogEntry{Message: x}, true
	case map[string]any:
		if len(x) == 0 {
			return LogEntry{}, false
		}
		key, msg := firstString(x, logMessageKeys...)
		fields := make(map[string]any, len(x))
		for k, v := range x {
			if k == key || v == nil {
				continue
			}
			fields[k] = v
		}
		if msg == "" && len(fields) == 0 {
			return LogEntry{}, false
		}
		if len(fields) == 0 {
			fields = nil
		}
		return LogEntry{Message: msg, Fields: fields}, true
	default:
		return LogEntry{Message: text(x)}, true
	}
}

// metricsFromObject keeps only metrics with a non-empty value.
func metricsFromObject(v any) (map[string]any, bool) {
	m, ok := object(v)
	if !ok {
		return nil, false
	}
	out := make(map[string]any, len(m))
	for k, val := range m {
		if empty(val) {
			continue
		}
		out[k] = val
	}
	return out, len(out) > 0
}

// Shape adapters for a record's own "events" field, tried in order.
var recordEventAdapters = []adapter[[]Event]{
	eventsFromJSONString,
	eventsFromString,
	eventsFromArray,
	eventsFromWrapper,
	eventsFromValues,
}

func eventsFromJSONString(v any) ([]Event, bool) {
	if _, ok := v.(string); !ok {
		return nil, false
	}
	inner := unwrap(v)
	if _, still := inner.(string); still {
		return nil, false
	}
	for _, a := range []adapter[[]Event]{eventsFromArray, eventsFromWrapper, eventsFromValues} {
		if events, ok := a(inner); ok {
			return events, true
		}
	}
	return nil, false
}

// eventsFromString turns a plain string into a single event.
func eventsFromString(v any) ([]Event, bool) {
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return nil, false
	}
	return []Event{{Message: s}}, true
}

func eventsFromArray(v any) ([]Event, bool) {
	arr, ok := v.([]any)
	if !ok {
		return nil, false
	}
	var events []Event
	for _, item := range arr {
		if ev, ok := coerceEvent(item); ok {
			events = append(events, ev)
		}
	}
	return events, len(events) > 0
}

func eventsFromWrapper(v any) ([]Event, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	for _, key := range eventWrapperKeys {
		inner, ok := present(m, key)
		if !ok {
			continue
		}
		inner = unwrap(inner)
		for _, a := range []adapter[[]Event]{eventsFromArray, eventsFromString} {
			if events, ok := a(inner); ok {
				return events, true
			}
		}
	}
	return nil, false
}

// eventsFromValues coerces every value of an object to an event.
func eventsFromValues(v any) ([]Event, bool) {
	m, ok := v.(map[string]any)
	if !ok || len(m) == 0 {
		return nil, false
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var events []Event
	for _, k := range keys {
		if arr, ok := m[k].([]any); ok {
			for _, item := range arr {
				if ev, ok := coerceEvent(item); ok {
					events = append(events, ev)
				}
			}
			continue
		}
		if ev, ok := coerceEvent(m[k]); ok {
			events = append(events, ev)
		}
	}
	return events, len(events) > 0
}

func coerceEvent(item any) (Event, bool) {
	switch x := item.(type) {
	case nil:
		return Event{}, false
	case string:
		if strings.TrimSpace(x) == "" {
			return Event{}, false
		}
		return Event{Message: x}, true
	case map[string]any:
		if len(x) == 0 {
			return Event{}, false
		}
		_, msg := firstString(x, eventMessageKeys...)
		if msg == "" {
			msg = text(x)
		}
		_, ts := firstString(x, eventTimeKeys...)
		_, status := firstString(x, eventStatusKeys...)
		return Event{Message: msg, Timestamp: ts, Status: status}, true
	case []any:
		return Event{}, false
	default:
		return Event{Message: text(x)}, true
	}
}

// configFromObject accepts any non-empty object, string-encoded or not.
func configFromObject(v any) (map[string]any, bool) {
	m, ok := object(v)
	if !ok || len(m) == 0 {
		return nil, false
	}
	return m, true
}
