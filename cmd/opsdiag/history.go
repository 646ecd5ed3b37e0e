package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kamilpajak/opsdiag/internal/database"
	"github.com/kamilpajak/opsdiag/pkg/models"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history <id>",
	Short: "Show journaled feedback and status changes of a diagnosis",
	Long: `History reads the PostgreSQL journal kept by the dashboard server
(database.url / OPSDIAG_DATABASE_URL).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		if cfg.Database.URL == "" {
			return errors.New("no journal configured, set database.url or OPSDIAG_DATABASE_URL")
		}

		db, err := database.New(cmd.Context(), cfg.Database.URL)
		if err != nil {
			return err
		}
		defer db.Close()

		var h journalHistory
		g, ctx := errgroup.WithContext(cmd.Context())
		g.Go(func() (err error) {
			h.Feedback, err = db.ListFeedback(ctx, id, historyLimit)
			return err
		})
		g.Go(func() (err error) {
			h.Transitions, err = db.ListTransitions(ctx, id, historyLimit)
			return err
		})
		if err := g.Wait(); err != nil {
			return fmt.Errorf("failed to read history: %w", err)
		}

		if ok, err := writeStructured(cmd.OutOrStdout(), outputFormat, h); ok {
			return err
		}
		printHistory(cmd.OutOrStdout(), h)
		return nil
	},
}

type journalHistory struct {
	Feedback    []database.FeedbackSubmission `json:"feedback"`
	Transitions []database.StatusTransition   `json:"transitions"`
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 50, "Maximum entries per section")
}

func printHistory(w io.Writer, h journalHistory) {
	if len(h.Feedback) == 0 && len(h.Transitions) == 0 {
		fmt.Fprintln(w, "No journal entries.")
		return
	}

	if len(h.Transitions) > 0 {
		t := newTable(w, "OBSERVED", "FROM", "TO")
		t.SetTitle("Status changes")
		for _, tr := range h.Transitions {
			t.AppendRow(table.Row{
				tr.ObservedAt.Local().Format(time.DateTime),
				statusLabel(tr.From),
				statusColor(tr.To).Sprint(tr.To),
			})
		}
		t.Render()
	}

	if len(h.Feedback) > 0 {
		if len(h.Transitions) > 0 {
			fmt.Fprintln(w)
		}
		t := newTable(w, "SUBMITTED", "ITERATION", "TYPE", "NOTES", "RESULT")
		t.SetTitle("Feedback")
		t.SetColumnConfigs([]table.ColumnConfig{{Number: 4, WidthMax: 60}})
		for _, f := range h.Feedback {
			t.AppendRow(table.Row{
				f.CreatedAt.Local().Format(time.DateTime),
				f.IterationNo,
				f.FeedbackType,
				f.FeedbackNotes,
				statusColor(f.ResultingStatus).Sprint(f.ResultingStatus),
			})
		}
		t.Render()
	}
}

func statusLabel(s models.Status) string {
	if s == "" {
		return "-"
	}
	return string(s)
}
