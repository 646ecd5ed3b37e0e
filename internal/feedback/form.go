// Package feedback validates and submits human feedback on diagnosis
// iterations.
package feedback

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kamilpajak/opsdiag/pkg/models"
)

// ValidationError is a client-side failure detected before submission.
// No request is sent when it is returned.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid feedback: %s: %s", e.Field, e.Message)
}

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// Form is the feedback being edited for the open record.
type Form struct {
	FeedbackType  models.FeedbackType `json:"feedback_type"`
	FeedbackNotes string              `json:"feedback_notes"`
	ActionTaken   string              `json:"action_taken"`
	IterationNo   int                 `json:"iteration_no"`
}

// DefaultForm returns an empty form addressing the latest iteration.
func DefaultForm(iterations []models.DiagnosisIteration) Form {
	f := Form{}
	if latest := models.LatestIteration(iterations); latest != nil {
		f.IterationNo = latest.IterationNo
	}
	return f
}

// ReconcileIteration points the form at the latest iteration when its
// selection is unset or no longer exists in iterations. It reports whether
// the selection changed.
func (f *Form) ReconcileIteration(iterations []models.DiagnosisIteration) bool {
	if f.IterationNo != 0 && models.HasIteration(iterations, f.IterationNo) {
		return false
	}
	latest := models.LatestIteration(iterations)
	if latest == nil {
		return false
	}
	if f.IterationNo == latest.IterationNo {
		return false
	}
	f.IterationNo = latest.IterationNo
	return true
}

// Validate checks the form. rec may be nil when the record is not known;
// the status check is skipped then.
func (f Form) Validate(rec *models.DiagnosisRecord) error {
	if f.FeedbackType == "" {
		return &ValidationError{Field: "feedback_type", Message: "select a feedback type"}
	}
	if !f.FeedbackType.Valid() {
		return &ValidationError{Field: "feedback_type", Message: fmt.Sprintf("unknown feedback type %q", f.FeedbackType)}
	}
	if f.FeedbackType.RequiresNotes() && strings.TrimSpace(f.FeedbackNotes) == "" {
		return &ValidationError{Field: "feedback_notes", Message: fmt.Sprintf("notes are required for %s feedback", f.FeedbackType)}
	}
	if f.IterationNo < 0 {
		return &ValidationError{Field: "iteration_no", Message: "iteration number must be positive"}
	}
	if rec != nil && f.FeedbackType == models.FeedbackContinueInvestigation && !rec.Status.AwaitingHuman() {
		return &ValidationError{
			Field:   "feedback_type",
			Message: fmt.Sprintf("continue_investigation is only accepted while the diagnosis awaits a human decision (status is %s)", rec.Status),
		}
	}
	return nil
}

// Request converts the form into the submission body.
func (f Form) Request() models.FeedbackRequest {
	return models.FeedbackRequest{
		FeedbackType:  f.FeedbackType,
		FeedbackNotes: strings.TrimSpace(f.FeedbackNotes),
		ActionTaken:   strings.TrimSpace(f.ActionTaken),
		IterationNo:   f.IterationNo,
	}
}
