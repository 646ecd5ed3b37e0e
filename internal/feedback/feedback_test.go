package feedback

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamilpajak/opsdiag/internal/cache"
	"github.com/kamilpajak/opsdiag/internal/diagnosis"
	"github.com/kamilpajak/opsdiag/pkg/models"
)

type fakeBackend struct {
	mu sync.Mutex

	submitted []models.FeedbackRequest
	updated   *models.DiagnosisRecord
	submitErr error

	iterations     []models.DiagnosisIteration
	iterationsErr  error
	iterationCalls int
	memoryCalls    int
	reportCalls    int
}

func (b *fakeBackend) SubmitFeedback(_ context.Context, id int64, req models.FeedbackRequest) (*models.DiagnosisRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.submitted = append(b.submitted, req)
	if b.submitErr != nil {
		return nil, b.submitErr
	}
	rec := *b.updated
	return &rec, nil
}

func (b *fakeBackend) ListIterations(context.Context, int64) ([]models.DiagnosisIteration, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.iterationCalls++
	return b.iterations, b.iterationsErr
}

func (b *fakeBackend) ListMemories(context.Context, int64, string) ([]models.DiagnosisMemory, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.memoryCalls++
	return []models.DiagnosisMemory{{MemoryType: "feedback", Summary: "operator note"}}, nil
}

func (b *fakeBackend) GetReport(context.Context, int64) (*models.ReportResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reportCalls++
	return &models.ReportResponse{HasReport: true}, nil
}

type fakeRecorder struct {
	statuses []models.Status
	err      error
}

func (r *fakeRecorder) RecordFeedback(_ context.Context, _ int64, _ models.FeedbackRequest, status models.Status) error {
	r.statuses = append(r.statuses, status)
	return r.err
}

func iterations(nos ...int) []models.DiagnosisIteration {
	out := make([]models.DiagnosisIteration, len(nos))
	for i, n := range nos {
		out[i] = models.DiagnosisIteration{IterationNo: n}
	}
	return out
}

func openRecord(status models.Status, its ...int) *cache.RecordCache {
	c := cache.NewRecordCache()
	c.SetCurrent(&models.DiagnosisRecord{ID: 7, Status: status})
	c.SetIterations(7, iterations(its...))
	return c
}

func TestValidate(t *testing.T) {
	human := &models.DiagnosisRecord{Status: models.StatusPendingHuman}
	done := &models.DiagnosisRecord{Status: models.StatusCompleted}

	tests := []struct {
		name  string
		form  Form
		rec   *models.DiagnosisRecord
		field string
	}{
		{"missing type", Form{}, nil, "feedback_type"},
		{"unknown type", Form{FeedbackType: "maybe"}, nil, "feedback_type"},
		{"continue without notes", Form{FeedbackType: models.FeedbackContinueInvestigation}, human, "feedback_notes"},
		{"custom with blank notes", Form{FeedbackType: models.FeedbackCustom, FeedbackNotes: "   "}, nil, "feedback_notes"},
		{"continue on completed record", Form{FeedbackType: models.FeedbackContinueInvestigation, FeedbackNotes: "more"}, done, "feedback_type"},
		{"negative iteration", Form{FeedbackType: models.FeedbackConfirmed, IterationNo: -1}, nil, "iteration_no"},
		{"confirmed without notes", Form{FeedbackType: models.FeedbackConfirmed}, done, ""},
		{"continue with notes", Form{FeedbackType: models.FeedbackContinueInvestigation, FeedbackNotes: "check sidecar"}, human, ""},
		{"continue with unknown record", Form{FeedbackType: models.FeedbackContinueInvestigation, FeedbackNotes: "x"}, nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.form.Validate(tt.rec)
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, IsValidation(err))
			var v *ValidationError
			require.ErrorAs(t, err, &v)
			assert.Equal(t, tt.field, v.Field)
		})
	}
}

func TestReconcileIteration(t *testing.T) {
	f := Form{}
	assert.True(t, f.ReconcileIteration(iterations(1, 3, 2)))
	assert.Equal(t, 3, f.IterationNo)

	f.IterationNo = 2
	assert.False(t, f.ReconcileIteration(iterations(1, 2, 3)), "existing selection is kept")
	assert.Equal(t, 2, f.IterationNo)

	f.IterationNo = 9
	assert.True(t, f.ReconcileIteration(iterations(1, 4)))
	assert.Equal(t, 4, f.IterationNo)

	f.IterationNo = 5
	assert.False(t, f.ReconcileIteration(nil))
	assert.Equal(t, 5, f.IterationNo)
}

func TestDefaultForm(t *testing.T) {
	assert.Equal(t, Form{IterationNo: 3}, DefaultForm(iterations(2, 3, 1)))
	assert.Equal(t, Form{}, DefaultForm(nil))
}

func TestSubmit_ValidationBeforeNetwork(t *testing.T) {
	backend := &fakeBackend{updated: &models.DiagnosisRecord{ID: 7}}
	c := NewCoordinator(backend, openRecord(models.StatusPendingHuman, 1, 2))

	_, err := c.Submit(context.Background(), 7, Form{FeedbackType: models.FeedbackContinueInvestigation})

	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.Empty(t, backend.submitted)
	assert.Zero(t, backend.iterationCalls)
}

func TestSubmit_SuccessRefetchesTimelines(t *testing.T) {
	backend := &fakeBackend{
		updated:    &models.DiagnosisRecord{ID: 7, Status: models.StatusPendingNext},
		iterations: iterations(1, 2, 3),
	}
	records := openRecord(models.StatusPendingHuman, 1, 2)
	recorder := &fakeRecorder{}
	c := NewCoordinator(backend, records, WithRecorder(recorder))
	c.SetForm(Form{FeedbackType: models.FeedbackConfirmed})

	res, err := c.Submit(context.Background(), 7, Form{
		FeedbackType:  models.FeedbackContinueInvestigation,
		FeedbackNotes: "  look at the sidecar  ",
	})
	require.NoError(t, err)

	require.Len(t, backend.submitted, 1)
	assert.Equal(t, 2, backend.submitted[0].IterationNo, "defaults to latest known iteration")
	assert.Equal(t, "look at the sidecar", backend.submitted[0].FeedbackNotes)

	assert.Equal(t, 1, backend.iterationCalls)
	assert.Equal(t, 1, backend.memoryCalls)
	assert.Equal(t, 0, backend.reportCalls, "report only fetched for pending_human")

	assert.Equal(t, models.StatusPendingNext, res.Record.Status)
	assert.Len(t, res.Record.Iterations, 3)
	assert.Len(t, res.Memories, 1)
	assert.Equal(t, Form{IterationNo: 3}, res.Form)
	assert.Equal(t, Form{IterationNo: 3}, c.Form())

	assert.Equal(t, models.StatusPendingNext, records.Current().Status)
	assert.Len(t, records.Memories(), 1)
	assert.Equal(t, []models.Status{models.StatusPendingNext}, recorder.statuses)
}

func TestSubmit_PendingHumanFetchesReport(t *testing.T) {
	backend := &fakeBackend{
		updated:    &models.DiagnosisRecord{ID: 7, Status: models.StatusPendingHuman},
		iterations: iterations(1),
	}
	records := openRecord(models.StatusPendingHuman, 1)
	c := NewCoordinator(backend, records)

	res, err := c.Submit(context.Background(), 7, Form{FeedbackType: models.FeedbackCustom, FeedbackNotes: "rollback done", IterationNo: 1})
	require.NoError(t, err)

	assert.Equal(t, 1, backend.reportCalls)
	require.NotNil(t, res.Report)
	assert.True(t, records.Report().HasReport)
}

func TestSubmit_BackendError(t *testing.T) {
	boom := errors.New("backend down")
	backend := &fakeBackend{submitErr: boom}
	records := openRecord(models.StatusPendingHuman, 1)
	c := NewCoordinator(backend, records)

	_, err := c.Submit(context.Background(), 7, Form{FeedbackType: models.FeedbackConfirmed})

	assert.ErrorIs(t, err, boom)
	assert.False(t, IsValidation(err))
	assert.Equal(t, models.StatusPendingHuman, records.Current().Status)
}

func TestSubmit_RefetchFailureKeepsAcceptedRecord(t *testing.T) {
	backend := &fakeBackend{
		updated:       &models.DiagnosisRecord{ID: 7, Status: models.StatusCompleted},
		iterationsErr: errors.New("timeout"),
	}
	records := openRecord(models.StatusPendingHuman, 1)
	recorder := &fakeRecorder{err: errors.New("db down")}
	c := NewCoordinator(backend, records, WithRecorder(recorder))

	res, err := c.Submit(context.Background(), 7, Form{FeedbackType: models.FeedbackConfirmed})

	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, models.StatusCompleted, res.Record.Status)
	assert.Equal(t, models.StatusCompleted, records.Current().Status)
}

func TestSubmit_MissingReportIsNotARefreshFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/diagnosis/7/feedback":
			fmt.Fprint(w, `{"code":0,"data":{"id":7,"status":"pending_human"}}`)
		case "/diagnosis/7/iterations":
			fmt.Fprint(w, `{"code":0,"data":[{"iteration_no":1},{"iteration_no":2}]}`)
		case "/diagnosis/7/memories":
			fmt.Fprint(w, `{"code":0,"data":[]}`)
		case "/diagnosis/7/report":
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"code":404,"message":"no report yet"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)

	client, err := diagnosis.New(server.URL, diagnosis.WithHTTPClient(server.Client()))
	require.NoError(t, err)

	records := openRecord(models.StatusPendingHuman, 1)
	c := NewCoordinator(client, records)

	res, err := c.Submit(context.Background(), 7, Form{FeedbackType: models.FeedbackCustom, FeedbackNotes: "restarted the pod", IterationNo: 1})
	require.NoError(t, err)

	assert.Equal(t, models.StatusPendingHuman, res.Record.Status)
	assert.Nil(t, res.Report)
	assert.Nil(t, records.Report())
	assert.Len(t, res.Iterations, 2)
}

func TestSyncIterations(t *testing.T) {
	records := openRecord(models.StatusPendingHuman, 1, 2)
	c := NewCoordinator(&fakeBackend{}, records)
	c.SetForm(Form{IterationNo: 2})

	assert.False(t, c.SyncIterations())

	records.SetIterations(7, iterations(3))
	assert.True(t, c.SyncIterations())
	assert.Equal(t, 3, c.Form().IterationNo)
}

func TestExplain(t *testing.T) {
	assert.False(t, Explain(nil).Active)
	assert.False(t, Explain(&models.FeedbackState{LastFeedbackType: models.FeedbackConfirmed, MinStepsBeforeExit: 3}).Active)

	g := Explain(&models.FeedbackState{
		LastFeedbackType:      models.FeedbackContinueInvestigation,
		LastFeedbackIteration: 2,
		ContinueFromStep:      4,
		MinStepsBeforeExit:    3,
	})
	assert.True(t, g.Active)
	assert.Equal(t, 3, g.MinStepsBeforeExit)
	assert.Equal(t, "Investigation was re-opened by feedback on iteration 2 and resumes from step 4. "+
		"The next iteration runs at least 3 steps before it can ask for a human decision again.", g.Explanation)

	one := Explain(&models.FeedbackState{LastFeedbackType: models.FeedbackContinueInvestigation, MinStepsBeforeExit: 1})
	assert.Equal(t, "Investigation was re-opened by feedback. The next iteration runs at least 1 step before it can ask for a human decision again.", one.Explanation)
}
