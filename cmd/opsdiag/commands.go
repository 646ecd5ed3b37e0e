package main

import (
	"fmt"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kamilpajak/opsdiag/internal/feedback"
	"github.com/kamilpajak/opsdiag/internal/tracker"
	"github.com/kamilpajak/opsdiag/pkg/models"
)

var (
	listPage int
	listSize int

	runReq models.RunRequest

	feedbackForm feedback.Form
	feedbackType string

	memoryType string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List diagnoses, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		size := listSize
		if size <= 0 {
			size = cfg.Poll.PageSize
		}
		page, err := client.ListDiagnoses(cmd.Context(), listPage, size)
		if err != nil {
			return fmt.Errorf("failed to list diagnoses: %w", err)
		}
		if ok, err := writeStructured(cmd.OutOrStdout(), outputFormat, page); ok {
			return err
		}
		printRecords(cmd.OutOrStdout(), page.Items, page.Total)
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a diagnosis with its evidence and root cause",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		ctrl := newController()
		defer ctrl.Shutdown()

		detail, err := ctrl.Open(cmd.Context(), id)
		if err != nil {
			return err
		}
		if ok, err := writeStructured(cmd.OutOrStdout(), outputFormat, detail); ok {
			return err
		}
		printDetail(cmd.ErrOrStderr(), cmd.OutOrStdout(), detail)
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a diagnosis of a cluster resource",
	Example: `  opsdiag run --cluster 3 --namespace shop --type deployment --name checkout
  opsdiag run --cluster 3 --type node --name worker-2 --hours 6 --watch`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		w := newWatcher(cmd.ErrOrStderr(), stderrIsTerminal())
		ctrl := newController(tracker.WithEmitter(w))
		defer ctrl.Shutdown()

		rec, err := ctrl.Run(cmd.Context(), runReq)
		if err != nil {
			return err
		}
		if ok, err := writeStructured(cmd.OutOrStdout(), outputFormat, rec); ok {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Started diagnosis #%d of %s (%s)\n", rec.ID, rec.Target(), rec.Status)

		if wait, _ := cmd.Flags().GetBool("watch"); wait {
			return follow(cmd, ctrl, w)
		}
		return nil
	},
}

var feedbackCmd = &cobra.Command{
	Use:   "feedback <id>",
	Short: "Submit feedback on an iteration of a diagnosis",
	Long: `Submit human feedback on a diagnosis iteration.

  confirmed               accept the current conclusion
  continue_investigation  re-open the investigation (record must await feedback, notes required)
  custom                  free-form feedback (notes required)

The iteration defaults to the latest one.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		w := newWatcher(cmd.ErrOrStderr(), stderrIsTerminal())
		ctrl := newController(tracker.WithEmitter(w))
		defer ctrl.Shutdown()

		// Opening loads the iterations the form defaults to and the status
		// continue_investigation is checked against.
		if _, err := ctrl.Open(cmd.Context(), id); err != nil {
			return err
		}

		form := feedbackForm
		form.FeedbackType = models.FeedbackType(feedbackType)
		res, err := ctrl.SubmitFeedback(cmd.Context(), id, form)
		if res == nil {
			return err
		}
		if err != nil {
			_, _ = color.New(color.FgYellow).Fprintf(cmd.ErrOrStderr(), "Warning: %v\n", err)
		}

		if ok, err := writeStructured(cmd.OutOrStdout(), outputFormat, res.Record); ok {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Feedback recorded for #%d, status is now ", id)
		_, _ = statusColor(res.Record.Status).Fprintln(cmd.OutOrStdout(), res.Record.Status)
		if g := feedback.Explain(res.Record.FeedbackState()); g.Active {
			fmt.Fprintln(cmd.ErrOrStderr(), g.Explanation)
		}

		if wait, _ := cmd.Flags().GetBool("watch"); wait && res.Record.Status.IsActive() {
			return follow(cmd, ctrl, w)
		}
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a diagnosis",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		ctrl := newController()
		defer ctrl.Shutdown()

		if err := ctrl.Delete(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted diagnosis #%d\n", id)
		return nil
	},
}

var iterationsCmd = &cobra.Command{
	Use:   "iterations <id>",
	Short: "List the investigation rounds of a diagnosis",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		iterations, err := client.ListIterations(cmd.Context(), id)
		if err != nil {
			return fmt.Errorf("failed to list iterations: %w", err)
		}
		iterations = models.SortIterations(iterations)
		if ok, err := writeStructured(cmd.OutOrStdout(), outputFormat, iterations); ok {
			return err
		}
		printIterations(cmd.OutOrStdout(), iterations)
		return nil
	},
}

var memoriesCmd = &cobra.Command{
	Use:   "memories <id>",
	Short: "List the memories kept for a diagnosis",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		memories, err := client.ListMemories(cmd.Context(), id, memoryType)
		if err != nil {
			return fmt.Errorf("failed to list memories: %w", err)
		}
		if ok, err := writeStructured(cmd.OutOrStdout(), outputFormat, memories); ok {
			return err
		}
		printMemories(cmd.OutOrStdout(), memories)
		return nil
	},
}

func init() {
	listCmd.Flags().IntVar(&listPage, "page", 1, "Page number")
	listCmd.Flags().IntVar(&listSize, "size", 0, "Page size (default: poll.page_size)")

	runCmd.Flags().Int64Var(&runReq.ClusterID, "cluster", 0, "Cluster ID")
	runCmd.Flags().StringVarP(&runReq.Namespace, "namespace", "n", "", "Namespace of the resource")
	runCmd.Flags().StringVar(&runReq.ResourceType, "type", "", "Resource type, e.g. deployment or node")
	runCmd.Flags().StringVar(&runReq.ResourceName, "name", "", "Resource name")
	runCmd.Flags().IntVar(&runReq.TimeRangeHours, "hours", 24, "Hours of history to investigate")
	runCmd.Flags().Bool("watch", false, "Follow the diagnosis until it stops running")

	feedbackCmd.Flags().StringVarP(&feedbackType, "type", "t", "", "Feedback type: confirmed, continue_investigation or custom")
	feedbackCmd.Flags().StringVarP(&feedbackForm.FeedbackNotes, "notes", "m", "", "Feedback notes")
	feedbackCmd.Flags().StringVar(&feedbackForm.ActionTaken, "action", "", "Action taken by the operator")
	feedbackCmd.Flags().IntVarP(&feedbackForm.IterationNo, "iteration", "i", 0, "Iteration number (default: latest)")
	feedbackCmd.Flags().Bool("watch", false, "Follow the diagnosis while it continues")

	memoriesCmd.Flags().StringVar(&memoryType, "type", "", "Only show memories of this type")
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid diagnosis id %q", arg)
	}
	return id, nil
}
