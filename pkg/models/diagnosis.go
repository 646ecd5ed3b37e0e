package models

import (
	"encoding/json"
	"sort"
)

// Status is the lifecycle state of a diagnosis record
type Status string

const (
	StatusPending      Status = "pending"
	StatusRunning      Status = "running"
	StatusPendingNext  Status = "pending_next"
	StatusPendingHuman Status = "pending_human"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

// IsActive reports whether the backend is still working on the record.
// Active records keep the status poller running.
func (s Status) IsActive() bool {
	switch s {
	case StatusPending, StatusRunning, StatusPendingNext:
		return true
	}
	return false
}

// IsTerminal reports whether the record reached a final state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// AwaitingHuman reports whether the backend is waiting for feedback.
func (s Status) AwaitingHuman() bool {
	return s == StatusPendingHuman
}

// DiagnosisRecord represents one root-cause investigation attempt.
//
// The evidence source fields are kept as raw JSON: upstream producers send
// strings, arrays or objects under varying keys, and only the evidence
// reconciler and the root-cause extractor interpret them.
type DiagnosisRecord struct {
	ID           int64    `json:"id"`
	ResourceType string   `json:"resource_type"`
	Namespace    string   `json:"namespace,omitempty"`
	ResourceName string   `json:"resource_name"`
	ClusterID    int64    `json:"cluster_id"`
	Status       Status   `json:"status"`
	Confidence   *float64 `json:"confidence,omitempty"`
	StartedAt    string   `json:"started_at,omitempty"`
	CompletedAt  string   `json:"completed_at,omitempty"`
	CreatedAt    string   `json:"created_at,omitempty"`
	UpdatedAt    string   `json:"updated_at,omitempty"`

	Symptoms        json.RawMessage `json:"symptoms,omitempty"`
	Recommendations json.RawMessage `json:"recommendations,omitempty"`
	Logs            json.RawMessage `json:"logs,omitempty"`
	Metrics         json.RawMessage `json:"metrics,omitempty"`
	Events          json.RawMessage `json:"events,omitempty"`
	Config          json.RawMessage `json:"config,omitempty"`
	EvidenceChain   json.RawMessage `json:"evidence_chain,omitempty"`

	Feedback   *RecordFeedback      `json:"feedback,omitempty"`
	Iterations []DiagnosisIteration `json:"iterations,omitempty"`
}

// RecordFeedback is the feedback summary embedded in a record.
type RecordFeedback struct {
	State  *FeedbackState `json:"state,omitempty"`
	Latest *FeedbackEntry `json:"latest,omitempty"`
}

// LatestIteration returns the iteration with the highest number, or nil.
func (r *DiagnosisRecord) LatestIteration() *DiagnosisIteration {
	return LatestIteration(r.Iterations)
}

// FeedbackState returns the server-derived gating state, or nil.
func (r *DiagnosisRecord) FeedbackState() *FeedbackState {
	if r.Feedback == nil {
		return nil
	}
	return r.Feedback.State
}

// Target returns a short human-readable identifier of the diagnosed resource.
func (r *DiagnosisRecord) Target() string {
	name := r.ResourceType + "/" + r.ResourceName
	if r.Namespace != "" {
		name = r.Namespace + "/" + name
	}
	return name
}

// DiagnosisIteration is one automated investigation round.
type DiagnosisIteration struct {
	IterationNo      int             `json:"iteration_no"`
	Stage            string          `json:"stage,omitempty"`
	ReasoningSummary string          `json:"reasoning_summary,omitempty"`
	ActionResult     Actions         `json:"action_result,omitempty"`
	ModelResult      json.RawMessage `json:"model_result,omitempty"`
	CreatedAt        string          `json:"created_at,omitempty"`
}

// Action is a named step executed during an iteration.
type Action struct {
	Name    string                     `json:"name"`
	Status  string                     `json:"status,omitempty"`
	Details map[string]json.RawMessage `json:"details,omitempty"`
}

// Actions is the ordered action list of an iteration.
type Actions []Action

// UnmarshalJSON accepts the canonical array form as well as an object keyed
// by action name. Any other shape decodes to an empty list.
func (a *Actions) UnmarshalJSON(data []byte) error {
	var list []Action
	if err := json.Unmarshal(data, &list); err == nil {
		*a = list
		return nil
	}

	var byName map[string]json.RawMessage
	if err := json.Unmarshal(data, &byName); err != nil {
		*a = nil
		return nil
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(Actions, 0, len(names))
	for _, name := range names {
		var details map[string]json.RawMessage
		if err := json.Unmarshal(byName[name], &details); err != nil {
			details = nil
		}
		out = append(out, Action{Name: name, Details: details})
	}
	*a = out
	return nil
}

// LatestIteration returns the iteration with the highest iteration number.
func LatestIteration(iterations []DiagnosisIteration) *DiagnosisIteration {
	var latest *DiagnosisIteration
	for i := range iterations {
		if latest == nil || iterations[i].IterationNo > latest.IterationNo {
			latest = &iterations[i]
		}
	}
	return latest
}

// SortIterations returns a copy ordered by iteration number, newest first.
func SortIterations(iterations []DiagnosisIteration) []DiagnosisIteration {
	out := make([]DiagnosisIteration, len(iterations))
	copy(out, iterations)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].IterationNo > out[j].IterationNo
	})
	return out
}

// IterationTimeline returns a copy ordered by iteration number, oldest first.
func IterationTimeline(iterations []DiagnosisIteration) []DiagnosisIteration {
	out := make([]DiagnosisIteration, len(iterations))
	copy(out, iterations)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].IterationNo < out[j].IterationNo
	})
	return out
}

// HasIteration reports whether an iteration with the given number exists.
func HasIteration(iterations []DiagnosisIteration, no int) bool {
	for _, it := range iterations {
		if it.IterationNo == no {
			return true
		}
	}
	return false
}

// DiagnosisMemory is a contextual note kept by the backend for later rounds.
type DiagnosisMemory struct {
	MemoryType  string          `json:"memory_type"`
	IterationNo *int            `json:"iteration_no,omitempty"`
	Summary     string          `json:"summary,omitempty"`
	Content     json.RawMessage `json:"content,omitempty"`
	CreatedAt   string          `json:"created_at,omitempty"`
}

// ContentText renders the memory content as display text.
func (m *DiagnosisMemory) ContentText() string {
	if len(m.Content) == 0 || string(m.Content) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(m.Content, &s); err == nil {
		return s
	}
	return string(m.Content)
}

// RunRequest triggers a new diagnosis.
type RunRequest struct {
	ClusterID      int64  `json:"cluster_id"`
	Namespace      string `json:"namespace,omitempty"`
	ResourceType   string `json:"resource_type"`
	ResourceName   string `json:"resource_name"`
	TimeRangeHours int    `json:"time_range_hours"`
}
