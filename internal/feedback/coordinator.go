package feedback

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kamilpajak/opsdiag/internal/cache"
	"github.com/kamilpajak/opsdiag/internal/diagnosis"
	"github.com/kamilpajak/opsdiag/internal/metrics"
	"github.com/kamilpajak/opsdiag/pkg/logger"
	"github.com/kamilpajak/opsdiag/pkg/models"
)

// Backend is the part of the diagnosis API the coordinator needs.
type Backend interface {
	SubmitFeedback(ctx context.Context, id int64, req models.FeedbackRequest) (*models.DiagnosisRecord, error)
	ListIterations(ctx context.Context, id int64) ([]models.DiagnosisIteration, error)
	ListMemories(ctx context.Context, id int64, memoryType string) ([]models.DiagnosisMemory, error)
	GetReport(ctx context.Context, id int64) (*models.ReportResponse, error)
}

// Recorder persists accepted submissions. Failures are logged, never returned.
type Recorder interface {
	RecordFeedback(ctx context.Context, recordID int64, req models.FeedbackRequest, status models.Status) error
}

// Coordinator submits feedback and keeps the record cache and the form
// consistent with the result.
type Coordinator struct {
	backend  Backend
	cache    *cache.RecordCache
	recorder Recorder
	logger   logger.Logger

	mu   sync.Mutex
	form Form
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithRecorder journals accepted submissions.
func WithRecorder(r Recorder) Option {
	return func(c *Coordinator) { c.recorder = r }
}

// WithLogger configures structured logging.
func WithLogger(l logger.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

func NewCoordinator(backend Backend, records *cache.RecordCache, opts ...Option) *Coordinator {
	c := &Coordinator{
		backend: backend,
		cache:   records,
		logger:  logger.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Form returns the current form.
func (c *Coordinator) Form() Form {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.form
}

// SetForm replaces the form being edited.
func (c *Coordinator) SetForm(f Form) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.form = f
}

// ResetForm resets the form to the defaults of the open record.
func (c *Coordinator) ResetForm() Form {
	f := DefaultForm(c.cache.Iterations())
	c.SetForm(f)
	return f
}

// SyncIterations re-points the form at the latest iteration when the
// selected one disappeared from the cached timeline.
func (c *Coordinator) SyncIterations() bool {
	iterations := c.cache.Iterations()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.form.ReconcileIteration(iterations)
}

// Result is the outcome of a successful submission.
type Result struct {
	Record     *models.DiagnosisRecord
	Iterations []models.DiagnosisIteration
	Memories   []models.DiagnosisMemory
	Report     *models.ReportResponse
	Form       Form
}

// Submit validates form and sends it for recordID. An unset iteration
// defaults to the latest known one. On success the cached record is replaced,
// the iteration and memory timelines are re-fetched (and the report when the
// record awaits a human again) and the form is reset.
//
// A failing re-fetch after an accepted submission returns the Result together
// with the error.
func (c *Coordinator) Submit(ctx context.Context, recordID int64, form Form) (*Result, error) {
	var known *models.DiagnosisRecord
	if cur := c.cache.Current(); cur != nil && cur.ID == recordID {
		known = cur
		if form.IterationNo == 0 {
			form.ReconcileIteration(cur.Iterations)
		}
	}

	if err := form.Validate(known); err != nil {
		metrics.FeedbackSubmissionsTotal.WithLabelValues(string(form.FeedbackType), "invalid").Inc()
		return nil, err
	}

	req := form.Request()
	updated, err := c.backend.SubmitFeedback(ctx, recordID, req)
	if err != nil {
		metrics.FeedbackSubmissionsTotal.WithLabelValues(string(form.FeedbackType), "error").Inc()
		return nil, err
	}
	metrics.FeedbackSubmissionsTotal.WithLabelValues(string(form.FeedbackType), "ok").Inc()
	c.logger.Info("feedback submitted", "record_id", recordID, "feedback_type", req.FeedbackType,
		"iteration_no", req.IterationNo, "status", updated.Status)

	if updated.ID == 0 {
		updated.ID = recordID
	}
	c.cache.SetCurrent(updated)

	if c.recorder != nil {
		if err := c.recorder.RecordFeedback(ctx, recordID, req, updated.Status); err != nil {
			c.logger.Warn("failed to journal feedback", "record_id", recordID, "error", err)
		}
	}

	res := &Result{Record: updated}
	refetchErr := c.refetch(ctx, recordID, updated.Status, res)

	res.Form = c.ResetForm()
	if cur := c.cache.Current(); cur != nil && cur.ID == recordID {
		res.Record = cur
	}
	if refetchErr != nil {
		return res, fmt.Errorf("feedback accepted but refresh failed: %w", refetchErr)
	}
	return res, nil
}

func (c *Coordinator) refetch(ctx context.Context, id int64, status models.Status, res *Result) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		iterations, err := c.backend.ListIterations(gctx, id)
		if err != nil {
			return err
		}
		res.Iterations = iterations
		c.cache.SetIterations(id, iterations)
		return nil
	})
	g.Go(func() error {
		memories, err := c.backend.ListMemories(gctx, id, "")
		if err != nil {
			return err
		}
		res.Memories = memories
		c.cache.SetMemories(id, memories)
		return nil
	})
	if status.AwaitingHuman() {
		g.Go(func() error {
			report, err := c.backend.GetReport(gctx, id)
			if diagnosis.IsNotFound(err) {
				// No report produced yet.
				return nil
			}
			if err != nil {
				return err
			}
			res.Report = report
			c.cache.SetReport(id, report)
			return nil
		})
	}

	return g.Wait()
}
