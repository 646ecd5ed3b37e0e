package models

// FeedbackType is the kind of human feedback submitted for an iteration
type FeedbackType string

const (
	FeedbackConfirmed             FeedbackType = "confirmed"
	FeedbackContinueInvestigation FeedbackType = "continue_investigation"
	FeedbackCustom                FeedbackType = "custom"
)

// Valid reports whether t is one of the known feedback types.
func (t FeedbackType) Valid() bool {
	switch t {
	case FeedbackConfirmed, FeedbackContinueInvestigation, FeedbackCustom:
		return true
	}
	return false
}

// RequiresNotes reports whether notes must accompany the feedback.
func (t FeedbackType) RequiresNotes() bool {
	return t == FeedbackContinueInvestigation || t == FeedbackCustom
}

// FeedbackState is the server-derived gating state of a record.
// The console reads it only to explain why the current round must run
// to a minimum depth; the backend enforces it.
type FeedbackState struct {
	LastFeedbackType      FeedbackType `json:"last_feedback_type,omitempty"`
	LastFeedbackIteration int          `json:"last_feedback_iteration,omitempty"`
	ContinueFromStep      int          `json:"continue_from_step,omitempty"`
	MinStepsBeforeExit    int          `json:"min_steps_before_exit,omitempty"`
}

// FeedbackEntry is one submitted feedback record
type FeedbackEntry struct {
	FeedbackType  FeedbackType `json:"feedback_type"`
	FeedbackNotes string       `json:"feedback_notes,omitempty"`
	ActionTaken   string       `json:"action_taken,omitempty"`
	IterationNo   int          `json:"iteration_no,omitempty"`
	SubmittedAt   string       `json:"submitted_at,omitempty"`
}

// FeedbackRequest is the body of a feedback submission.
type FeedbackRequest struct {
	FeedbackType  FeedbackType `json:"feedback_type"`
	FeedbackNotes string       `json:"feedback_notes,omitempty"`
	ActionTaken   string       `json:"action_taken,omitempty"`
	IterationNo   int          `json:"iteration_no,omitempty"`
}
