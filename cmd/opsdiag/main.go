package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/kamilpajak/opsdiag/internal/auth"
	"github.com/kamilpajak/opsdiag/internal/config"
	"github.com/kamilpajak/opsdiag/internal/diagnosis"
	"github.com/kamilpajak/opsdiag/internal/tracker"
	"github.com/kamilpajak/opsdiag/pkg/logger"
)

// Version info set by goreleaser
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	configPath   string
	serverURL    string
	token        string
	outputFormat string
	logLevel     string
)

// Set by setup before any command runs.
var (
	cfg    *config.Config
	log    logger.Logger
	client *diagnosis.Client
)

var rootCmd = &cobra.Command{
	Use:   "opsdiag",
	Short: "Follow and steer operations diagnoses",
	Long: `opsdiag lists root-cause diagnoses of cluster resources, follows them
while the backend investigates and submits human feedback on their iterations.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("opsdiag %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&configPath, "config", "", "Config file (default: opsdiag.yaml in ., ~/.config/opsdiag, /etc/opsdiag)")
	f.StringVar(&serverURL, "server", "", "Diagnosis API base URL")
	f.StringVar(&token, "token", "", "Bearer token for the diagnosis API")
	f.StringVarP(&outputFormat, "format", "o", formatText, "Output format: text, json or yaml")
	f.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(feedbackCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(iterationsCmd)
	rootCmd.AddCommand(memoriesCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setup(cmd *cobra.Command, _ []string) error {
	if !needsBackend(cmd) {
		return nil
	}
	if err := validateFormat(outputFormat); err != nil {
		return err
	}

	loaded, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if serverURL != "" {
		loaded.API.BaseURL = serverURL
	}
	if token != "" {
		loaded.API.Token = token
	}
	if logLevel != "" {
		loaded.Log.Level = logLevel
	}
	if err := loaded.Validate(); err != nil {
		return err
	}
	cfg = loaded

	if !stderrIsTerminal() {
		color.NoColor = true
	}
	log = logger.NewConsole(cfg.Log.Level)
	warnExpiredToken(cmd.ErrOrStderr(), cfg.API.Token, time.Now())

	client, err = diagnosis.New(cfg.API.BaseURL,
		diagnosis.WithToken(cfg.API.Token),
		diagnosis.WithRateLimit(cfg.API.RateLimit, cfg.API.Burst),
		diagnosis.WithTimeout(30*time.Second),
		diagnosis.WithLogger(log),
	)
	return err
}

// needsBackend reports whether cmd talks to the diagnosis API. Version,
// help and shell completion work without configuration.
func needsBackend(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		switch c.Name() {
		case "version", "help", "completion", cobra.ShellCompRequestCmd:
			return false
		}
	}
	return true
}

// newController builds a tracker over the shared client. Callers must
// Shutdown it.
func newController(opts ...tracker.Option) *tracker.Controller {
	base := []tracker.Option{
		tracker.WithInterval(cfg.Poll.Interval),
		tracker.WithPageSize(cfg.Poll.PageSize),
		tracker.WithLogger(log),
	}
	return tracker.New(client, append(base, opts...)...)
}

func stderrIsTerminal() bool {
	fd := os.Stderr.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func warnExpiredToken(w io.Writer, tok string, now time.Time) {
	if tok == "" || !auth.Expired(tok, now) {
		return
	}
	exp, _ := auth.ExpiresAt(tok)
	yellow := color.New(color.FgYellow)
	_, _ = yellow.Fprintf(w, "Warning: the API token expired at %s; requests will likely be rejected.\n",
		exp.Local().Format(time.RFC1123))
}
