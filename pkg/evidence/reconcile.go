package evidence

import (
	"encoding/json"

	"github.com/kamilpajak/opsdiag/pkg/models"
)

// collectDataAction is the iteration action that carries raw collected evidence.
const collectDataAction = "collect_data"

// step is one candidate source for a category together with the shape
// adapters that may interpret it.
type step[T any] struct {
	value    any
	ok       bool
	adapters []adapter[T]
}

// resolve returns the output of the first adapter that matches the first
// usable source. Later sources are never consulted once one matched.
func resolve[T any](steps ...step[T]) (T, bool) {
	var zero T
	for _, s := range steps {
		if !s.ok {
			continue
		}
		for _, a := range s.adapters {
			if out, ok := a(s.value); ok {
				return out, true
			}
		}
	}
	return zero, false
}

// sources holds the decoded candidate locations of a record.
type sources struct {
	rec      *models.DiagnosisRecord
	chain    map[string]any
	symptoms map[string]any
	collect  map[string]json.RawMessage
}

func newSources(rec *models.DiagnosisRecord) *sources {
	return &sources{
		rec:      rec,
		chain:    objectOf(rec.EvidenceChain),
		symptoms: objectOf(rec.Symptoms),
		collect:  latestCollect(rec.Iterations),
	}
}

// latestCollect returns the details of the most recent collect_data action:
// the last one of the newest iteration that ran it.
func latestCollect(iterations []models.DiagnosisIteration) map[string]json.RawMessage {
	for _, it := range models.SortIterations(iterations) {
		for i := len(it.ActionResult) - 1; i >= 0; i-- {
			a := it.ActionResult[i]
			if a.Name == collectDataAction && a.Details != nil {
				return a.Details
			}
		}
	}
	return nil
}

func (s *sources) chainStep(key string) (any, bool) {
	v, ok := present(s.chain, key)
	if !ok {
		return nil, false
	}
	return unwrap(v), true
}

func (s *sources) own(raw json.RawMessage) (any, bool) {
	return decode(raw)
}

// collected returns the latest collect_data details for key. Older actions
// are never consulted.
func collected[T any](s *sources, key string, adapters []adapter[T]) step[T] {
	v, ok := decode(s.collect[key])
	return step[T]{value: v, ok: ok, adapters: adapters}
}

func stepOf[T any](v any, ok bool, adapters ...adapter[T]) step[T] {
	return step[T]{value: v, ok: ok, adapters: adapters}
}

// Reconcile builds the canonical evidence of a record. Candidate sources are
// consulted per category in strict priority order:
//
//	logs:    evidence_chain.logs, record.logs, latest collect_data details.logs
//	metrics: evidence_chain.metrics, record.metrics, latest collect_data details.metrics
//	events:  evidence_chain.events, record.events, latest collect_data details.events
//	config:  evidence_chain.config, symptoms.config|configuration, record.config,
//	         latest collect_data details.config
//
// Malformed sources are skipped. Reconcile never fails; a category that no
// source could populate is left out.
func Reconcile(rec *models.DiagnosisRecord) Evidence {
	var ev Evidence
	if rec == nil {
		return ev
	}
	s := newSources(rec)

	if logs, ok := s.logs(); ok {
		ev.Logs = logs
	}
	if metrics, ok := s.metrics(); ok {
		ev.Metrics = metrics
	}
	if events, ok := s.events(); ok {
		ev.Events = events
	}
	if config, ok := s.config(); ok {
		ev.Config = config
	}
	return ev
}

func (s *sources) logs() ([]LogEntry, bool) {
	chainValue, chainOK := s.chainStep(CategoryLogs)
	ownValue, ownOK := s.own(s.rec.Logs)

	steps := []step[[]LogEntry]{
		stepOf[[]LogEntry](chainValue, chainOK, logsFromArray),
		stepOf[[]LogEntry](ownValue, ownOK, recordLogAdapters...),
	}
	steps = append(steps, collected(s, CategoryLogs, recordLogAdapters))
	return resolve(steps...)
}

func (s *sources) metrics() (map[string]any, bool) {
	chainValue, chainOK := s.chainStep(CategoryMetrics)
	ownValue, ownOK := s.own(s.rec.Metrics)

	steps := []step[map[string]any]{
		stepOf[map[string]any](chainValue, chainOK, metricsFromObject),
		stepOf[map[string]any](ownValue, ownOK, metricsFromObject),
	}
	steps = append(steps, collected(s, CategoryMetrics, []adapter[map[string]any]{metricsFromObject}))
	return resolve(steps...)
}

func (s *sources) events() ([]Event, bool) {
	chainValue, chainOK := s.chainStep(CategoryEvents)
	ownValue, ownOK := s.own(s.rec.Events)

	steps := []step[[]Event]{
		stepOf[[]Event](chainValue, chainOK, eventsFromArray),
		stepOf[[]Event](ownValue, ownOK, recordEventAdapters...),
	}
	steps = append(steps, collected(s, CategoryEvents, recordEventAdapters))
	return resolve(steps...)
}

func (s *sources) config() (map[string]any, bool) {
	chainValue, chainOK := s.chainStep(CategoryConfig)
	symptomsValue, symptomsOK := s.symptomsConfig()
	ownValue, ownOK := s.own(s.rec.Config)

	steps := []step[map[string]any]{
		stepOf[map[string]any](chainValue, chainOK, configFromObject),
		stepOf[map[string]any](symptomsValue, symptomsOK, configFromObject),
		stepOf[map[string]any](ownValue, ownOK, configFromObject),
	}
	steps = append(steps, collected(s, CategoryConfig, []adapter[map[string]any]{configFromObject}))
	config, ok := resolve(steps...)

	// Empty objects from earlier steps are the usual misclassification, so
	// a populated symptoms config always wins over them.
	if symptomsOK && len(config) == 0 {
		if override, matched := configFromObject(symptomsValue); matched {
			return override, true
		}
	}
	return config, ok
}

// symptomsConfig returns symptoms.config, falling back to symptoms.configuration.
func (s *sources) symptomsConfig() (any, bool) {
	for _, key := range []string{"config", "configuration"} {
		v, ok := present(s.symptoms, key)
		if !ok {
			continue
		}
		if m, ok := object(v); ok && len(m) > 0 {
			return m, true
		}
	}
	return nil, false
}
