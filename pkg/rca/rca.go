// Package rca extracts the root-cause narrative of a diagnosis record.
package rca

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/kamilpajak/opsdiag/pkg/evidence"
	"github.com/kamilpajak/opsdiag/pkg/models"
)

// MaxWhySteps is the depth of a "5 whys" chain.
const MaxWhySteps = 5

// Field names looked up in every candidate source.
const (
	fieldRootCause         = "root_cause"
	fieldRootCauseAnalysis = "root_cause_analysis"
)

// Finding is the root cause of a record together with its analysis.
// Either field may be empty; the two are resolved independently.
type Finding struct {
	RootCause string    `json:"root_cause,omitempty"`
	Analysis  *Analysis `json:"root_cause_analysis,omitempty"`
}

// Analysis is the structured root-cause analysis. Producers send either free
// text (kept in Summary) or an object (kept in Fields).
type Analysis struct {
	Summary string
	Fields  map[string]any
}

// MarshalJSON renders text analyses as strings and structured ones as objects.
func (a *Analysis) MarshalJSON() ([]byte, error) {
	if a.Fields == nil {
		return json.Marshal(a.Summary)
	}
	return json.Marshal(a.Fields)
}

// Extract resolves the root cause of rec. Candidate sources in priority order:
// the fetched report (may be nil), the latest iteration's model result, and
// the record's symptoms. Each field takes the first non-empty value.
//
// Extract returns nil when no field was found and the record carries no
// evidence, and an empty Finding when only evidence exists.
func Extract(rec *models.DiagnosisRecord, report *models.DiagnosisReport) *Finding {
	if rec == nil && report == nil {
		return nil
	}

	candidates := candidateSources(rec, report)
	f := &Finding{}
	for _, c := range candidates {
		if f.RootCause == "" {
			f.RootCause = c.rootCause()
		}
		if f.Analysis == nil {
			f.Analysis = c.analysisOf()
		}
	}

	if f.RootCause == "" && f.Analysis == nil {
		if rec == nil || evidence.Reconcile(rec).IsEmpty() {
			return nil
		}
	}
	return f
}

// source holds the two raw fields of one candidate.
type source struct {
	cause    any
	analysis any
}

func candidateSources(rec *models.DiagnosisRecord, report *models.DiagnosisReport) []source {
	var out []source
	if report != nil {
		out = append(out, source{
			cause:    decode(report.RootCause),
			analysis: decode(report.RootCauseAnalysis),
		})
	}
	if rec == nil {
		return out
	}
	if it := rec.LatestIteration(); it != nil {
		if m := object(decode(it.ModelResult)); m != nil {
			out = append(out, source{cause: m[fieldRootCause], analysis: m[fieldRootCauseAnalysis]})
		}
	}
	if m := object(decode(rec.Symptoms)); m != nil {
		out = append(out, source{cause: m[fieldRootCause], analysis: m[fieldRootCauseAnalysis]})
	}
	return out
}

func (s source) rootCause() string {
	switch v := unwrap(s.cause).(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case map[string]any:
		if len(v) == 0 {
			return ""
		}
		for _, key := range []string{"description", "summary", "cause", "root_cause"} {
			if text := stringArg(v, key); text != "" {
				return text
			}
		}
		return compact(v)
	default:
		return compact(v)
	}
}

func (s source) analysisOf() *Analysis {
	switch v := unwrap(s.analysis).(type) {
	case string:
		if t := strings.TrimSpace(v); t != "" {
			return &Analysis{Summary: t}
		}
	case map[string]any:
		if len(v) == 0 {
			return nil
		}
		a := &Analysis{Fields: v}
		for _, key := range []string{"summary", "conclusion", "description"} {
			if text := stringArg(v, key); text != "" {
				a.Summary = text
				break
			}
		}
		return a
	}
	return nil
}

// WhySteps returns the "5 whys" chain: the values of why1..why5 (or
// why_1..why_5) up to the first missing step.
func (a *Analysis) WhySteps() []string {
	if a == nil || a.Fields == nil {
		return nil
	}
	var steps []string
	for i := 1; i <= MaxWhySteps; i++ {
		step := whyStep(a.Fields, i)
		if step == "" {
			break
		}
		steps = append(steps, step)
	}
	return steps
}

func whyStep(fields map[string]any, n int) string {
	for _, key := range []string{fmt.Sprintf("why%d", n), fmt.Sprintf("why_%d", n)} {
		if s := stringArg(fields, key); s != "" {
			return s
		}
	}
	return ""
}

// Details returns the analysis fields that are not why steps or the summary,
// in key order, rendered as text.
func (a *Analysis) Details() [][2]string {
	if a == nil {
		return nil
	}
	keys := make([]string, 0, len(a.Fields))
	for k := range a.Fields {
		if isWhyKey(k) || (a.Summary != "" && stringArg(a.Fields, k) == a.Summary) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([][2]string, 0, len(keys))
	for _, k := range keys {
		text := stringArg(a.Fields, k)
		if text == "" {
			text = compact(a.Fields[k])
		}
		if text == "" || text == "null" {
			continue
		}
		out = append(out, [2]string{k, text})
	}
	return out
}

func isWhyKey(k string) bool {
	for i := 1; i <= MaxWhySteps; i++ {
		if k == fmt.Sprintf("why%d", i) || k == fmt.Sprintf("why_%d", i) {
			return true
		}
	}
	return false
}

// IsEmpty reports whether neither field was resolved.
func (f *Finding) IsEmpty() bool {
	return f == nil || (f.RootCause == "" && f.Analysis == nil)
}

// FormatForCLI returns a formatted string for CLI output.
func (f *Finding) FormatForCLI() string {
	if f.IsEmpty() {
		return "No root cause identified yet."
	}

	var b strings.Builder
	if f.RootCause != "" {
		b.WriteString("ROOT CAUSE\n")
		b.WriteString(f.RootCause)
		b.WriteString("\n")
	}

	if a := f.Analysis; a != nil {
		if a.Summary != "" {
			b.WriteString("\nANALYSIS\n")
			b.WriteString(a.Summary)
			b.WriteString("\n")
		}
		if steps := a.WhySteps(); len(steps) > 0 {
			b.WriteString("\n5 WHYS\n")
			for i, s := range steps {
				b.WriteString(fmt.Sprintf("%d. %s\n", i+1, s))
			}
		}
		for _, d := range a.Details() {
			b.WriteString(fmt.Sprintf("\n%s\n%s\n", strings.ToUpper(strings.ReplaceAll(d[0], "_", " ")), d[1]))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func decode(raw json.RawMessage) any {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}

// unwrap parses strings carrying an encoded JSON object.
func unwrap(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "{") {
		return v
	}
	var inner map[string]any
	if err := json.Unmarshal([]byte(t), &inner); err != nil {
		return v
	}
	return inner
}

func object(v any) map[string]any {
	m, _ := unwrap(v).(map[string]any)
	return m
}

// stringArg extracts a trimmed string from m, returning empty string if not found.
func stringArg(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func compact(v any) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
