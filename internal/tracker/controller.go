// Package tracker ties the diagnosis list, the open record, the status
// poller and the feedback coordinator together behind the actions a
// diagnosis view offers.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kamilpajak/opsdiag/internal/auth"
	"github.com/kamilpajak/opsdiag/internal/cache"
	"github.com/kamilpajak/opsdiag/internal/diagnosis"
	"github.com/kamilpajak/opsdiag/internal/feedback"
	"github.com/kamilpajak/opsdiag/internal/poller"
	"github.com/kamilpajak/opsdiag/pkg/evidence"
	"github.com/kamilpajak/opsdiag/pkg/logger"
	"github.com/kamilpajak/opsdiag/pkg/models"
	"github.com/kamilpajak/opsdiag/pkg/rca"
)

// Backend is the diagnosis API used by the controller.
type Backend interface {
	feedback.Backend
	ListDiagnoses(ctx context.Context, page, size int) (*models.Page, error)
	GetDiagnosis(ctx context.Context, id int64) (*models.DiagnosisRecord, error)
	RunDiagnosis(ctx context.Context, req models.RunRequest) (*models.DiagnosisRecord, error)
	DeleteDiagnosis(ctx context.Context, id int64) error
}

// Journal persists submissions and observed status changes.
type Journal interface {
	feedback.Recorder
	RecordTransition(ctx context.Context, recordID int64, from, to models.Status) error
}

// DefaultPageSize is the number of records fetched per list refresh.
const DefaultPageSize = 20

// Controller is the diagnosis view controller.
type Controller struct {
	backend   Backend
	records   *cache.RecordCache
	coord     *feedback.Coordinator
	poller    *poller.Poller
	emitter   Emitter
	journal   Journal
	store     cache.SnapshotStore
	refresher auth.SessionRefresher
	logger    logger.Logger

	pageSize int
	interval time.Duration
	clock    poller.Clock

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	focused bool

	// total of the most recent list fetch, read by the poller apply step
	total atomic.Int64
}

// Option configures a Controller.
type Option func(*Controller)

// WithPageSize sets the number of records fetched per refresh.
func WithPageSize(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) Option {
	return func(c *Controller) { c.interval = d }
}

// WithClock replaces the poller clock. Used by tests.
func WithClock(clock poller.Clock) Option {
	return func(c *Controller) { c.clock = clock }
}

// WithEmitter sets the event sink.
func WithEmitter(e Emitter) Option {
	return func(c *Controller) { c.emitter = e }
}

// WithJournal persists feedback and status transitions.
func WithJournal(j Journal) Option {
	return func(c *Controller) { c.journal = j }
}

// WithSnapshotStore keeps the last list snapshot across restarts.
func WithSnapshotStore(s cache.SnapshotStore) Option {
	return func(c *Controller) { c.store = s }
}

// WithSessionRefresher is called when the backend rejects the session.
func WithSessionRefresher(r auth.SessionRefresher) Option {
	return func(c *Controller) { c.refresher = r }
}

// WithLogger configures structured logging.
func WithLogger(l logger.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// New creates a controller with an idle poller and an empty cache.
func New(backend Backend, opts ...Option) *Controller {
	c := &Controller{
		backend:  backend,
		records:  cache.NewRecordCache(),
		emitter:  nopEmitter{},
		logger:   logger.NewNop(),
		pageSize: DefaultPageSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	coordOpts := []feedback.Option{feedback.WithLogger(c.logger)}
	if c.journal != nil {
		coordOpts = append(coordOpts, feedback.WithRecorder(c.journal))
	}
	c.coord = feedback.NewCoordinator(backend, c.records, coordOpts...)

	pollOpts := []poller.Option{
		poller.WithLogger(c.logger),
		poller.WithErrorHandler(c.onPollError),
		poller.WithIdleHandler(func() {
			c.emitter.Emit(Event{Type: EventInfo, Message: "no active diagnosis, polling stopped"})
		}),
	}
	if c.interval > 0 {
		pollOpts = append(pollOpts, poller.WithInterval(c.interval))
	}
	if c.clock != nil {
		pollOpts = append(pollOpts, poller.WithClock(c.clock))
	}
	c.poller = poller.New(c.fetchList, func(records []models.DiagnosisRecord) {
		c.apply(c.ctx, records, int(c.total.Load()))
	}, pollOpts...)
	return c
}

// Focus marks the view as visible and starts polling when a listed or open
// record is still active.
func (c *Controller) Focus() {
	c.mu.Lock()
	c.focused = true
	c.mu.Unlock()

	if c.records.AnyActive() {
		c.startPolling("view focused")
	}
}

// Blur marks the view as hidden and stops polling.
func (c *Controller) Blur() {
	c.mu.Lock()
	c.focused = false
	c.mu.Unlock()

	if c.poller.Polling() {
		c.poller.Stop()
		c.emitter.Emit(Event{Type: EventInfo, Message: "view left, polling stopped"})
	}
}

// Focused reports whether the view is visible.
func (c *Controller) Focused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.focused
}

// Polling reports whether the status poller is running.
func (c *Controller) Polling() bool {
	return c.poller.Polling()
}

// Restore loads the last saved list snapshot, if any.
func (c *Controller) Restore(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	page, err := c.store.Load(ctx)
	if errors.Is(err, cache.ErrNoSnapshot) {
		return nil
	}
	if err != nil {
		return err
	}
	c.records.SetList(page.Items, page.Total)
	c.emitSnapshot()
	return nil
}

// Refresh re-fetches the record list and starts polling when the view is
// focused and an active record is listed.
func (c *Controller) Refresh(ctx context.Context) error {
	records, err := c.fetchList(ctx)
	if err != nil {
		return c.fail(ctx, "refresh", err)
	}
	c.apply(ctx, records, int(c.total.Load()))

	if c.Focused() && c.records.AnyActive() {
		c.startPolling("active diagnosis listed")
	}
	return nil
}

// Open loads a record with its iteration and memory timelines, and its report
// once the backend has produced one. The feedback form is reset for it.
func (c *Controller) Open(ctx context.Context, id int64) (*Detail, error) {
	rec, err := c.backend.GetDiagnosis(ctx, id)
	if err != nil {
		return nil, c.fail(ctx, "open", err)
	}
	if rec.ID == 0 {
		rec.ID = id
	}
	c.records.SetCurrent(rec)

	err = c.loadTimelines(ctx, id, rec.Status)
	c.coord.ResetForm()
	c.emitRecord()
	if err != nil {
		return c.detail(), c.fail(ctx, "open", err)
	}
	return c.detail(), nil
}

func (c *Controller) loadTimelines(ctx context.Context, id int64, status models.Status) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		iterations, err := c.backend.ListIterations(gctx, id)
		if err != nil {
			return err
		}
		c.records.SetIterations(id, iterations)
		return nil
	})
	g.Go(func() error {
		memories, err := c.backend.ListMemories(gctx, id, "")
		if err != nil {
			return err
		}
		c.records.SetMemories(id, memories)
		return nil
	})
	if status.AwaitingHuman() || status.IsTerminal() {
		g.Go(func() error {
			report, err := c.backend.GetReport(gctx, id)
			if diagnosis.IsNotFound(err) {
				return nil
			}
			if err != nil {
				return err
			}
			c.records.SetReport(id, report)
			return nil
		})
	}
	return g.Wait()
}

// CloseRecord closes the open record.
func (c *Controller) CloseRecord() {
	c.records.Close()
	c.coord.SetForm(feedback.Form{})
}

// Run triggers a new diagnosis. Polling starts right away when the new record
// is active, whether or not the view is focused.
func (c *Controller) Run(ctx context.Context, req models.RunRequest) (*models.DiagnosisRecord, error) {
	if strings.TrimSpace(req.ResourceType) == "" || strings.TrimSpace(req.ResourceName) == "" {
		return nil, c.fail(ctx, "run", ErrMissingTarget)
	}

	rec, err := c.backend.RunDiagnosis(ctx, req)
	if err != nil {
		return nil, c.fail(ctx, "run", err)
	}
	c.logger.Info("diagnosis started", "record_id", rec.ID, "target", rec.Target(), "status", rec.Status)
	c.emitter.Emit(Event{Type: EventInfo, Message: fmt.Sprintf("diagnosis #%d started for %s", rec.ID, rec.Target())})

	if records, err := c.fetchList(ctx); err != nil {
		c.logger.Warn("list refresh after run failed", "error", err)
	} else {
		c.apply(ctx, records, int(c.total.Load()))
	}

	if rec.Status == "" || rec.Status.IsActive() {
		c.startPolling("diagnosis started")
	}
	return rec, nil
}

// SubmitFeedback submits the form for id. Polling starts when the backend
// re-opened the investigation. A refresh failure after an accepted
// submission returns the result together with the error.
func (c *Controller) SubmitFeedback(ctx context.Context, id int64, form feedback.Form) (*feedback.Result, error) {
	res, err := c.coord.Submit(ctx, id, form)
	if res != nil {
		c.emitRecord()
		if res.Record.Status.IsActive() {
			c.startPolling("investigation continues")
		}
	}
	if err != nil {
		return res, c.fail(ctx, "submit feedback", err)
	}
	return res, nil
}

// Delete removes a record on the backend and from the cache.
func (c *Controller) Delete(ctx context.Context, id int64) error {
	if err := c.backend.DeleteDiagnosis(ctx, id); err != nil {
		return c.fail(ctx, "delete", err)
	}
	if cur, ok := c.records.CurrentID(); ok && cur == id {
		c.coord.SetForm(feedback.Form{})
	}
	c.records.Remove(id)
	c.logger.Info("diagnosis deleted", "record_id", id)
	c.emitSnapshot()
	return nil
}

// Evidence returns the reconciled evidence of the open record.
func (c *Controller) Evidence() (evidence.Evidence, bool) {
	return c.records.Evidence()
}

// RootCause returns the root cause of the open record, or nil.
func (c *Controller) RootCause() *rca.Finding {
	return rca.Extract(c.records.Current(), c.report())
}

func (c *Controller) report() *models.DiagnosisReport {
	if r := c.records.Report(); r != nil && r.HasReport {
		return r.Report
	}
	return nil
}

// Records returns the last list snapshot.
func (c *Controller) Records() ([]models.DiagnosisRecord, int) {
	return c.records.List()
}

// Current returns the open record, or nil.
func (c *Controller) Current() *models.DiagnosisRecord {
	return c.records.Current()
}

// Form returns the feedback form of the open record.
func (c *Controller) Form() feedback.Form {
	return c.coord.Form()
}

// SetForm replaces the feedback form being edited.
func (c *Controller) SetForm(f feedback.Form) {
	c.coord.SetForm(f)
}

// Shutdown stops polling and cancels background refreshes.
func (c *Controller) Shutdown() {
	c.poller.Stop()
	c.cancel()
}

// Detail is everything a view shows about the open record.
type Detail struct {
	Record     *models.DiagnosisRecord     `json:"record"`
	Iterations []models.DiagnosisIteration `json:"iterations"` // oldest first
	Memories   []models.DiagnosisMemory    `json:"memories"`
	Report     *models.ReportResponse      `json:"report,omitempty"`
	Evidence   evidence.Evidence           `json:"evidence"`
	RootCause  *rca.Finding                `json:"root_cause,omitempty"`
	WhySteps   []string                    `json:"why_steps,omitempty"`
	Confidence models.Level                `json:"confidence_level,omitempty"`
	Form       feedback.Form               `json:"form"`
	Gating     feedback.Gating             `json:"gating"`
}

// Detail returns the open record with its derived views, or nil.
func (c *Controller) Detail() *Detail {
	return c.detail()
}

func (c *Controller) detail() *Detail {
	rec := c.records.Current()
	if rec == nil {
		return nil
	}
	ev, _ := c.records.Evidence()
	finding := c.RootCause()

	d := &Detail{
		Record:     rec,
		Iterations: models.IterationTimeline(c.records.Iterations()),
		Memories:   c.records.Memories(),
		Report:     c.records.Report(),
		Evidence:   ev,
		RootCause:  finding,
		Confidence: rec.ConfidenceLevel(),
		Form:       c.coord.Form(),
		Gating:     feedback.Explain(rec.FeedbackState()),
	}
	if finding != nil {
		d.WhySteps = finding.Analysis.WhySteps()
	}
	return d
}

func (c *Controller) fetchList(ctx context.Context) ([]models.DiagnosisRecord, error) {
	page, err := c.backend.ListDiagnoses(ctx, 1, c.pageSize)
	if err != nil {
		return nil, err
	}
	c.total.Store(int64(page.Total))
	return page.Items, nil
}

func (c *Controller) apply(ctx context.Context, records []models.DiagnosisRecord, total int) {
	transitions := c.records.SetList(records, total)

	openID, open := c.records.CurrentID()
	refetchOpen := false
	for i := range transitions {
		t := transitions[i]
		c.logger.Debug("status changed", "record_id", t.RecordID, "from", t.From, "to", t.To)
		c.emitter.Emit(Event{Type: EventStatus, Transition: &t})
		if c.journal != nil {
			if err := c.journal.RecordTransition(ctx, t.RecordID, t.From, t.To); err != nil {
				c.logger.Warn("failed to journal status change", "record_id", t.RecordID, "error", err)
			}
		}
		if open && t.RecordID == openID {
			refetchOpen = true
		}
	}

	if refetchOpen {
		c.refreshOpen(ctx, openID)
	}

	if c.store != nil {
		if err := c.store.Save(ctx, &models.Page{Items: records, Total: total}); err != nil {
			c.logger.Warn("failed to save list snapshot", "error", err)
		}
	}
	c.emitSnapshot()
}

// refreshOpen re-fetches the iteration timeline of the open record after its
// status changed, keeping the feedback form pointed at an existing iteration.
func (c *Controller) refreshOpen(ctx context.Context, id int64) {
	iterations, err := c.backend.ListIterations(ctx, id)
	if err != nil {
		c.logger.Debug("iteration refresh failed", "record_id", id, "error", err)
		return
	}
	if c.records.SetIterations(id, iterations) {
		c.coord.SyncIterations()
		c.emitRecord()
	}
}

func (c *Controller) onPollError(err *poller.TransientFetchError) {
	if diagnosis.IsUnauthorized(err) {
		c.refreshSession(c.ctx)
	}
}

func (c *Controller) startPolling(reason string) {
	c.poller.Start(c.ctx)
	c.logger.Debug("polling started", "reason", reason)
}

// fail turns the failure of an explicit action into a *UserFacingError and
// publishes it. Rejected sessions are handed to the session refresher
// instead and the *diagnosis.AuthError is returned as is, without an error
// event.
func (c *Controller) fail(ctx context.Context, action string, err error) error {
	if diagnosis.IsUnauthorized(err) {
		c.logger.Warn("session rejected", "action", action)
		c.refreshSession(ctx)
		return err
	}
	ufe := &UserFacingError{Action: action, Err: err}
	if feedback.IsValidation(err) {
		c.logger.Debug("action rejected", "action", action, "error", err)
	} else {
		c.logger.Error("action failed", "action", action, "error", err)
	}
	c.emitter.Emit(Event{Type: EventError, Message: ufe.Error()})
	return ufe
}

func (c *Controller) refreshSession(ctx context.Context) {
	if c.refresher == nil {
		c.logger.Warn("session rejected and no refresher configured")
		return
	}
	if err := c.refresher.Refresh(ctx); err != nil {
		c.logger.Error("session refresh failed", "error", err)
	}
}

func (c *Controller) emitSnapshot() {
	records, total := c.records.List()
	c.emitter.Emit(Event{Type: EventSnapshot, Records: records, Total: total, Polling: c.poller.Polling()})
}

func (c *Controller) emitRecord() {
	if rec := c.records.Current(); rec != nil {
		c.emitter.Emit(Event{Type: EventRecord, Record: rec, Polling: c.poller.Polling()})
	}
}
