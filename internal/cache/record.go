// Package cache holds the diagnosis records the console is looking at: the
// latest list snapshot and the currently open record with its timelines.
package cache

import (
	"sync"

	"github.com/kamilpajak/opsdiag/pkg/evidence"
	"github.com/kamilpajak/opsdiag/pkg/models"
)

// Transition is a status change observed between two list snapshots.
type Transition struct {
	RecordID int64         `json:"record_id"`
	From     models.Status `json:"from"`
	To       models.Status `json:"to"`
}

// RecordCache is the diagnosis record cache. Writers are the poller refresh
// handler, the feedback success handler and the controller's manual actions.
type RecordCache struct {
	mu sync.RWMutex

	list  []models.DiagnosisRecord
	total int

	current      *models.DiagnosisRecord
	iterations   []models.DiagnosisIteration
	itersLoaded  bool
	memories     []models.DiagnosisMemory
	report       *models.ReportResponse
	evidence     evidence.Evidence
	evidenceDone bool
}

func NewRecordCache() *RecordCache {
	return &RecordCache{}
}

// SetList stores a list snapshot and returns the status changes it carries
// relative to the previous snapshot. Lifecycle fields of a listed record are
// merged into the open record.
func (c *RecordCache) SetList(records []models.DiagnosisRecord, total int) []Transition {
	c.mu.Lock()
	defer c.mu.Unlock()

	previous := make(map[int64]models.Status, len(c.list))
	for _, r := range c.list {
		previous[r.ID] = r.Status
	}

	var transitions []Transition
	for _, r := range records {
		if from, ok := previous[r.ID]; ok && from != r.Status {
			transitions = append(transitions, Transition{RecordID: r.ID, From: from, To: r.Status})
		}
		if c.current != nil && c.current.ID == r.ID {
			if c.current.Status != r.Status {
				if _, seen := previous[r.ID]; !seen {
					transitions = append(transitions, Transition{RecordID: r.ID, From: c.current.Status, To: r.Status})
				}
			}
			mergeLifecycle(c.current, r)
		}
	}

	c.list = append([]models.DiagnosisRecord(nil), records...)
	c.total = total
	return transitions
}

func mergeLifecycle(dst *models.DiagnosisRecord, src models.DiagnosisRecord) {
	dst.Status = src.Status
	if src.Confidence != nil {
		c := *src.Confidence
		dst.Confidence = &c
	}
	if src.StartedAt != "" {
		dst.StartedAt = src.StartedAt
	}
	if src.CompletedAt != "" {
		dst.CompletedAt = src.CompletedAt
	}
	if src.UpdatedAt != "" {
		dst.UpdatedAt = src.UpdatedAt
	}
}

// List returns a copy of the latest list snapshot and its total.
func (c *RecordCache) List() ([]models.DiagnosisRecord, int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]models.DiagnosisRecord(nil), c.list...), c.total
}

// AnyActive reports whether the list snapshot or the open record is active.
func (c *RecordCache) AnyActive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current != nil && c.current.Status.IsActive() {
		return true
	}
	return models.AnyActive(c.list)
}

// SetCurrent replaces the open record. Opening a different record drops the
// timelines of the previous one; replacing the same record keeps separately
// fetched iterations, which stay authoritative.
func (c *RecordCache) SetCurrent(rec *models.DiagnosisRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if rec == nil {
		c.clearLocked()
		return
	}
	cp := *rec
	if c.current == nil || c.current.ID != rec.ID {
		c.iterations = nil
		c.itersLoaded = false
		c.memories = nil
		c.report = nil
	}
	c.current = &cp
	c.evidenceDone = false

	for i := range c.list {
		if c.list[i].ID == rec.ID {
			c.list[i].Status = rec.Status
		}
	}
}

// SetIterations stores the separately fetched iteration timeline of id.
// Results for a record that is no longer open are ignored.
func (c *RecordCache) SetIterations(id int64, iterations []models.DiagnosisIteration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil || c.current.ID != id {
		return false
	}
	c.iterations = append([]models.DiagnosisIteration(nil), iterations...)
	c.itersLoaded = true
	c.evidenceDone = false
	return true
}

// SetMemories stores the memory timeline of id.
func (c *RecordCache) SetMemories(id int64, memories []models.DiagnosisMemory) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil || c.current.ID != id {
		return false
	}
	c.memories = append([]models.DiagnosisMemory(nil), memories...)
	return true
}

// SetReport stores the diagnosis report of id.
func (c *RecordCache) SetReport(id int64, report *models.ReportResponse) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil || c.current.ID != id {
		return false
	}
	c.report = report
	return true
}

// Current returns a copy of the open record with the authoritative
// iteration timeline applied, or nil.
func (c *RecordCache) Current() *models.DiagnosisRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentLocked()
}

func (c *RecordCache) currentLocked() *models.DiagnosisRecord {
	if c.current == nil {
		return nil
	}
	cp := *c.current
	if c.itersLoaded {
		cp.Iterations = append([]models.DiagnosisIteration(nil), c.iterations...)
	}
	return &cp
}

// CurrentID returns the id of the open record.
func (c *RecordCache) CurrentID() (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return 0, false
	}
	return c.current.ID, true
}

// Iterations returns the iteration timeline of the open record.
func (c *RecordCache) Iterations() []models.DiagnosisIteration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return nil
	}
	if c.itersLoaded {
		return append([]models.DiagnosisIteration(nil), c.iterations...)
	}
	return append([]models.DiagnosisIteration(nil), c.current.Iterations...)
}

// Memories returns the memory timeline of the open record.
func (c *RecordCache) Memories() []models.DiagnosisMemory {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]models.DiagnosisMemory(nil), c.memories...)
}

// Report returns the report of the open record, or nil.
func (c *RecordCache) Report() *models.ReportResponse {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.report
}

// Evidence returns the reconciled evidence of the open record, rebuilding it
// only after the record or its iterations changed.
func (c *RecordCache) Evidence() (evidence.Evidence, bool) {
	c.mu.RLock()
	if c.current == nil {
		c.mu.RUnlock()
		return evidence.Evidence{}, false
	}
	if c.evidenceDone {
		ev := c.evidence
		c.mu.RUnlock()
		return ev, true
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return evidence.Evidence{}, false
	}
	if !c.evidenceDone {
		c.evidence = evidence.Reconcile(c.currentLocked())
		c.evidenceDone = true
	}
	return c.evidence, true
}

// Remove drops a deleted record from the snapshot and closes it if open.
func (c *RecordCache) Remove(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := c.list[:0]
	for _, r := range c.list {
		if r.ID != id {
			out = append(out, r)
		}
	}
	if len(out) < len(c.list) && c.total > 0 {
		c.total--
	}
	c.list = out

	if c.current != nil && c.current.ID == id {
		c.clearLocked()
	}
}

// Close forgets the open record and its timelines.
func (c *RecordCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLocked()
}

func (c *RecordCache) clearLocked() {
	c.current = nil
	c.iterations = nil
	c.itersLoaded = false
	c.memories = nil
	c.report = nil
	c.evidence = evidence.Evidence{}
	c.evidenceDone = false
}
