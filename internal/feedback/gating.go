package feedback

import (
	"fmt"

	"github.com/kamilpajak/opsdiag/pkg/models"
)

// Gating explains the minimum investigation depth the backend applies after
// a continue_investigation feedback. It is descriptive only.
type Gating struct {
	Active             bool   `json:"active"`
	LastFeedbackRound  int    `json:"last_feedback_iteration,omitempty"`
	ContinueFromStep   int    `json:"continue_from_step,omitempty"`
	MinStepsBeforeExit int    `json:"min_steps_before_exit,omitempty"`
	Explanation        string `json:"explanation,omitempty"`
}

// Explain returns the gating explanation for state. A nil state or any
// feedback other than continue_investigation yields an inactive Gating.
func Explain(state *models.FeedbackState) Gating {
	if state == nil || state.LastFeedbackType != models.FeedbackContinueInvestigation {
		return Gating{}
	}

	g := Gating{
		Active:             true,
		LastFeedbackRound:  state.LastFeedbackIteration,
		ContinueFromStep:   state.ContinueFromStep,
		MinStepsBeforeExit: state.MinStepsBeforeExit,
	}

	msg := "Investigation was re-opened by feedback"
	if state.LastFeedbackIteration > 0 {
		msg += fmt.Sprintf(" on iteration %d", state.LastFeedbackIteration)
	}
	if state.ContinueFromStep > 0 {
		msg += fmt.Sprintf(" and resumes from step %d", state.ContinueFromStep)
	}
	msg += "."
	if state.MinStepsBeforeExit > 0 {
		msg += fmt.Sprintf(" The next iteration runs at least %d %s before it can ask for a human decision again.",
			state.MinStepsBeforeExit, plural(state.MinStepsBeforeExit, "step", "steps"))
	}
	g.Explanation = msg
	return g
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
