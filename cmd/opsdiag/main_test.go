package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamilpajak/opsdiag/internal/cache"
	"github.com/kamilpajak/opsdiag/internal/database"
	"github.com/kamilpajak/opsdiag/internal/feedback"
	"github.com/kamilpajak/opsdiag/internal/tracker"
	"github.com/kamilpajak/opsdiag/pkg/evidence"
	"github.com/kamilpajak/opsdiag/pkg/models"
	"github.com/kamilpajak/opsdiag/pkg/rca"
)

func init() {
	color.NoColor = true
}

func confidence(v float64) *float64 { return &v }

func TestPrintConfidenceBar(t *testing.T) {
	tests := []struct {
		name       string
		confidence *float64
		want       []string
	}{
		{"high", confidence(0.85), []string{"Confidence: 85%", "(success)", "████████████████████"}},
		{"boundary is warning", confidence(0.7), []string{"Confidence: 70%", "(warning)"}},
		{"low", confidence(0.2), []string{"Confidence: 20%", "(danger)"}},
		{"missing", nil, []string{"Confidence: not reported"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			printConfidenceBar(&buf, tt.confidence)
			for _, s := range tt.want {
				assert.Contains(t, buf.String(), s)
			}
		})
	}
}

func TestPrintDetail_AwaitingFeedback(t *testing.T) {
	var stderr, stdout bytes.Buffer
	d := &tracker.Detail{
		Record: &models.DiagnosisRecord{
			ID:           12,
			ResourceType: "deployment",
			Namespace:    "shop",
			ResourceName: "checkout",
			Status:       models.StatusPendingHuman,
			Confidence:   confidence(0.82),
		},
		Iterations: []models.DiagnosisIteration{
			{IterationNo: 1, ReasoningSummary: "collected logs"},
			{IterationNo: 2, ReasoningSummary: "memory limit is below the working set"},
		},
		Evidence: evidence.Evidence{
			Logs:   []evidence.LogEntry{{Message: "OOMKilled"}},
			Events: []evidence.Event{{Message: "Back-off restarting", Status: "Warning"}},
		},
		RootCause: &rca.Finding{RootCause: "memory limit too low"},
		Gating:    feedback.Gating{Active: true, Explanation: "Investigation was re-opened by feedback."},
	}

	printDetail(&stderr, &stdout, d)

	assert.Contains(t, stderr.String(), "#12 shop/deployment/checkout")
	assert.Contains(t, stderr.String(), "pending_human")
	assert.Contains(t, stderr.String(), "━")
	assert.Contains(t, stderr.String(), "Confidence: 82%")
	assert.Contains(t, stderr.String(), "re-opened by feedback")
	assert.Contains(t, stderr.String(), "opsdiag feedback 12")

	assert.Contains(t, stdout.String(), "ROOT CAUSE\nmemory limit too low")
	assert.Contains(t, stdout.String(), "[Log] OOMKilled")
	assert.Contains(t, stdout.String(), "[Event] Warning: Back-off restarting")
	assert.Contains(t, stdout.String(), "LATEST ITERATION (2 of 2)")
	assert.Contains(t, stdout.String(), "memory limit is below the working set")
}

func TestPrintDetail_NoFinding(t *testing.T) {
	var stderr, stdout bytes.Buffer
	d := &tracker.Detail{
		Record: &models.DiagnosisRecord{ID: 3, ResourceType: "node", ResourceName: "worker-2", Status: models.StatusRunning},
	}

	printDetail(&stderr, &stdout, d)

	assert.Contains(t, stderr.String(), "not reported")
	assert.NotContains(t, stderr.String(), "Awaiting feedback")
	assert.Equal(t, "No root cause identified yet.\n", stdout.String())
}

func TestPrintRecords(t *testing.T) {
	var buf bytes.Buffer
	printRecords(&buf, []models.DiagnosisRecord{
		{ID: 2, ResourceType: "node", ResourceName: "worker-2", Status: models.StatusRunning, CreatedAt: "2026-10-01T10:00:00Z"},
		{ID: 1, ResourceType: "deployment", ResourceName: "api", Status: models.StatusCompleted, Confidence: confidence(0.9)},
	}, 7)

	out := buf.String()
	assert.Contains(t, out, "node/worker-2")
	assert.Contains(t, out, "running")
	assert.Contains(t, out, "90%")
	assert.Contains(t, out, "2026-10-01T10:00:00Z")
	assert.Contains(t, out, "2 of 7")
	assert.NotContains(t, out, "2 OF 7")

	buf.Reset()
	printRecords(&buf, nil, 0)
	assert.Equal(t, "No diagnoses found.\n", buf.String())
}

func TestPrintHistory(t *testing.T) {
	var buf bytes.Buffer
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	printHistory(&buf, journalHistory{
		Transitions: []database.StatusTransition{{RecordID: 4, From: models.StatusRunning, To: models.StatusPendingHuman, ObservedAt: now}},
		Feedback: []database.FeedbackSubmission{{
			RecordID: 4, FeedbackType: models.FeedbackConfirmed, IterationNo: 2,
			ResultingStatus: models.StatusCompleted, CreatedAt: now,
		}},
	})

	out := buf.String()
	assert.Contains(t, out, "Status changes")
	assert.Contains(t, out, "pending_human")
	assert.Contains(t, out, "Feedback")
	assert.Contains(t, out, "confirmed")
	assert.Contains(t, out, "completed")
}

func TestWriteStructured(t *testing.T) {
	page := &models.Page{Items: []models.DiagnosisRecord{{ID: 5, Status: models.StatusFailed}}, Total: 1}

	var buf bytes.Buffer
	ok, err := writeStructured(&buf, formatText, page)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, buf.String())

	ok, err = writeStructured(&buf, formatJSON, page)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, buf.String(), `"status": "failed"`)

	buf.Reset()
	ok, err = writeStructured(&buf, formatYAML, page)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, buf.String(), "status: failed")
	assert.Contains(t, buf.String(), "total: 1")
}

func TestValidateFormat(t *testing.T) {
	for _, f := range []string{"text", "json", "yaml"} {
		assert.NoError(t, validateFormat(f))
	}
	assert.Error(t, validateFormat("xml"))
}

func TestParseID(t *testing.T) {
	id, err := parseID("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, arg := range []string{"0", "-1", "abc", ""} {
		_, err := parseID(arg)
		assert.Error(t, err, arg)
	}
}

func TestWarnExpiredToken(t *testing.T) {
	now := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	sign := func(exp time.Time) string {
		tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
		}).SignedString([]byte("secret"))
		require.NoError(t, err)
		return tok
	}

	var buf bytes.Buffer
	warnExpiredToken(&buf, sign(now.Add(-time.Hour)), now)
	assert.Contains(t, buf.String(), "Warning: the API token expired")

	buf.Reset()
	warnExpiredToken(&buf, sign(now.Add(time.Hour)), now)
	assert.Empty(t, buf.String())

	warnExpiredToken(&buf, "opaque-token", now)
	warnExpiredToken(&buf, "", now)
	assert.Empty(t, buf.String())
}

func TestWatcher_ClosesDoneWhenIdleOnceArmed(t *testing.T) {
	var buf bytes.Buffer
	w := newWatcher(&buf, false)

	w.Emit(tracker.Event{Type: tracker.EventSnapshot, Total: 1})
	select {
	case <-w.done:
		t.Fatal("done closed before arming")
	default:
	}

	w.arm()
	w.Emit(tracker.Event{Type: tracker.EventStatus, Transition: &cache.Transition{RecordID: 1, From: models.StatusRunning, To: models.StatusCompleted}})
	w.Emit(tracker.Event{Type: tracker.EventSnapshot, Total: 1, Polling: true,
		Records: []models.DiagnosisRecord{{ID: 1, Status: models.StatusRunning}}})
	select {
	case <-w.done:
		t.Fatal("done closed while polling")
	default:
	}

	w.Emit(tracker.Event{Type: tracker.EventSnapshot, Total: 1,
		Records: []models.DiagnosisRecord{{ID: 1, Status: models.StatusCompleted}}})
	w.Emit(tracker.Event{Type: tracker.EventSnapshot, Total: 1})

	select {
	case <-w.done:
	default:
		t.Fatal("done not closed after idle snapshot")
	}
	assert.Contains(t, buf.String(), "[#1] running -> completed")
	assert.Contains(t, buf.String(), "[list] 1 diagnoses, 0 active")
}

func TestWatcher_SkipsErrorsUntilArmed(t *testing.T) {
	var buf bytes.Buffer
	w := newWatcher(&buf, false)

	w.Emit(tracker.Event{Type: tracker.EventError, Message: "run failed: boom"})
	assert.Empty(t, buf.String())

	w.arm()
	w.Emit(tracker.Event{Type: tracker.EventError, Message: "refresh failed: boom"})
	assert.Equal(t, "Error: refresh failed: boom\n", buf.String())
}

func TestActiveSummary(t *testing.T) {
	one := tracker.Event{Records: []models.DiagnosisRecord{{Status: models.StatusPending}, {Status: models.StatusFailed}}}
	assert.Equal(t, "1 diagnosis running", activeSummary(one))

	none := tracker.Event{}
	assert.Equal(t, "0 diagnoses running", activeSummary(none))
}

func TestNeedsBackend(t *testing.T) {
	assert.True(t, needsBackend(listCmd))
	assert.True(t, needsBackend(historyCmd))
	assert.False(t, needsBackend(versionCmd))
}
