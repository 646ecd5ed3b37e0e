package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"gopkg.in/yaml.v3"

	"github.com/kamilpajak/opsdiag/internal/tracker"
	"github.com/kamilpajak/opsdiag/pkg/evidence"
	"github.com/kamilpajak/opsdiag/pkg/models"
)

const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

func validateFormat(f string) error {
	switch f {
	case formatText, formatJSON, formatYAML:
		return nil
	}
	return fmt.Errorf("unknown output format %q, use text, json or yaml", f)
}

// writeStructured writes v in the selected machine format. It reports false
// for text output, which each command renders itself.
func writeStructured(w io.Writer, format string, v any) (bool, error) {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case formatYAML:
		return true, writeYAML(w, v)
	}
	return false, nil
}

// writeYAML goes through JSON so raw evidence payloads and json tags are
// rendered the same way in both formats.
func writeYAML(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return err
	}
	return enc.Close()
}

func newTable(w io.Writer, header ...any) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.Style().Format.Footer = text.FormatDefault
	t.AppendHeader(table.Row(header))
	return t
}

func statusColor(s models.Status) *color.Color {
	switch {
	case s.IsActive():
		return color.New(color.FgCyan)
	case s.AwaitingHuman():
		return color.New(color.FgYellow, color.Bold)
	case s == models.StatusCompleted:
		return color.New(color.FgGreen)
	case s == models.StatusFailed:
		return color.New(color.FgRed)
	default:
		return color.New(color.Reset)
	}
}

func levelColor(l models.Level) *color.Color {
	switch l {
	case models.LevelSuccess:
		return color.New(color.FgGreen)
	case models.LevelWarning:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed)
	}
}

func formatConfidence(c *float64) string {
	if c == nil {
		return "-"
	}
	return fmt.Sprintf("%d%%", percent(*c))
}

func percent(c float64) int {
	return int(math.Round(c * 100))
}

func printRecords(w io.Writer, records []models.DiagnosisRecord, total int) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No diagnoses found.")
		return
	}
	t := newTable(w, "ID", "TARGET", "CLUSTER", "STATUS", "CONFIDENCE", "UPDATED")
	for _, r := range records {
		t.AppendRow(table.Row{
			r.ID,
			r.Target(),
			r.ClusterID,
			statusColor(r.Status).Sprint(r.Status),
			formatConfidence(r.Confidence),
			firstNonEmpty(r.UpdatedAt, r.CreatedAt),
		})
	}
	t.AppendFooter(table.Row{"", fmt.Sprintf("%d of %d", len(records), total)})
	t.Render()
}

func printIterations(w io.Writer, iterations []models.DiagnosisIteration) {
	if len(iterations) == 0 {
		fmt.Fprintln(w, "No iterations yet.")
		return
	}
	t := newTable(w, "NO", "STAGE", "ACTIONS", "SUMMARY")
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 4, WidthMax: 72},
	})
	for _, it := range models.SortIterations(iterations) {
		names := make([]string, 0, len(it.ActionResult))
		for _, a := range it.ActionResult {
			name := a.Name
			if a.Status != "" {
				name += " (" + a.Status + ")"
			}
			names = append(names, name)
		}
		t.AppendRow(table.Row{it.IterationNo, it.Stage, strings.Join(names, "\n"), it.ReasoningSummary})
	}
	t.Render()
}

func printMemories(w io.Writer, memories []models.DiagnosisMemory) {
	if len(memories) == 0 {
		fmt.Fprintln(w, "No memories recorded.")
		return
	}
	t := newTable(w, "TYPE", "ITERATION", "SUMMARY", "CONTENT")
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, WidthMax: 48},
		{Number: 4, WidthMax: 60},
	})
	for _, m := range memories {
		iteration := "-"
		if m.IterationNo != nil {
			iteration = fmt.Sprint(*m.IterationNo)
		}
		t.AppendRow(table.Row{m.MemoryType, iteration, m.Summary, m.ContentText()})
	}
	t.Render()
}

// printDetail renders the open record. Status and confidence go to stderr,
// the root cause and evidence to stdout.
func printDetail(stderr, stdout io.Writer, d *tracker.Detail) {
	rec := d.Record
	bold := color.New(color.Bold)
	dim := color.New(color.FgHiBlack)

	_, _ = bold.Fprintf(stderr, "#%d %s", rec.ID, rec.Target())
	fmt.Fprint(stderr, "  ")
	_, _ = statusColor(rec.Status).Fprintln(stderr, rec.Status)
	_, _ = dim.Fprintln(stderr, "  "+strings.Repeat("━", 50))
	printConfidenceBar(stderr, rec.Confidence)
	if d.Gating.Active {
		_, _ = color.New(color.FgYellow).Fprintf(stderr, "  %s\n", d.Gating.Explanation)
	}
	fmt.Fprintln(stderr)

	fmt.Fprintln(stdout, d.RootCause.FormatForCLI())
	printEvidence(stdout, d.Evidence)

	if latest := models.LatestIteration(d.Iterations); latest != nil {
		fmt.Fprintln(stdout)
		_, _ = bold.Fprintf(stdout, "LATEST ITERATION (%d of %d)\n", latest.IterationNo, len(d.Iterations))
		if latest.ReasoningSummary != "" {
			fmt.Fprintln(stdout, latest.ReasoningSummary)
		}
	}

	if rec.Status.AwaitingHuman() {
		fmt.Fprintln(stderr)
		_, _ = color.New(color.FgYellow).Fprintf(stderr,
			"  Awaiting feedback: opsdiag feedback %d --type confirmed|continue_investigation|custom\n", rec.ID)
	}
}

func printEvidence(w io.Writer, ev evidence.Evidence) {
	if ev.IsEmpty() {
		return
	}
	bold := color.New(color.Bold)
	dim := color.New(color.FgHiBlack)

	fmt.Fprintln(w)
	_, _ = bold.Fprintln(w, "EVIDENCE")
	for _, l := range ev.Logs {
		_, _ = dim.Fprint(w, "[Log] ")
		if len(l.Fields) > 0 {
			fmt.Fprintf(w, "%s %s\n", l.Message, compactJSON(l.Fields))
		} else {
			fmt.Fprintln(w, l.Message)
		}
	}
	for _, name := range ev.MetricNames() {
		_, _ = dim.Fprint(w, "[Metric] ")
		fmt.Fprintf(w, "%s = %s\n", name, compactJSON(ev.Metrics[name]))
	}
	for _, e := range ev.Events {
		_, _ = dim.Fprint(w, "[Event] ")
		line := e.Message
		if e.Status != "" {
			line = e.Status + ": " + line
		}
		if e.Timestamp != "" {
			line = e.Timestamp + " " + line
		}
		fmt.Fprintln(w, line)
	}
	for _, key := range ev.ConfigKeys() {
		_, _ = dim.Fprint(w, "[Config] ")
		fmt.Fprintf(w, "%s = %s\n", key, compactJSON(ev.Config[key]))
	}
}

func printConfidenceBar(w io.Writer, confidence *float64) {
	if confidence == nil {
		_, _ = color.New(color.FgHiBlack).Fprintln(w, "  Confidence: not reported")
		return
	}

	const barWidth = 24
	pct := percent(*confidence)
	filled := pct * barWidth / 100
	if filled > barWidth {
		filled = barWidth
	}
	if filled < 0 {
		filled = 0
	}

	level := models.ClassifyConfidence(*confidence)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	fmt.Fprintf(w, "  Confidence: %d%% ", pct)
	_, _ = levelColor(level).Fprint(w, bar)
	_, _ = color.New(color.FgHiBlack).Fprintf(w, " (%s)\n", level)
}

func compactJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return "-"
}
