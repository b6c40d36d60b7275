package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/kiranshivaraju/repoanalyst/internal/analyzer"
	"github.com/kiranshivaraju/repoanalyst/internal/config"
	"github.com/kiranshivaraju/repoanalyst/internal/poller"
	"github.com/kiranshivaraju/repoanalyst/internal/render"
	"github.com/kiranshivaraju/repoanalyst/pkg/models"
	"github.com/spf13/cobra"
)

var errAnalysisFailed = errors.New("analysis failed")

const (
	formatHTML     = "html"
	formatMarkdown = "markdown"
)

type globalFlags struct {
	backendURL string
	verbose    bool
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var gf globalFlags

	root := &cobra.Command{
		Use:           "analyst",
		Short:         "Submit GitHub repositories for analysis and fetch the reports",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			level := slog.LevelWarn
			if gf.verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})))
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVar(&gf.backendURL, "backend", "", "analysis backend base URL (overrides ANALYST_BACKEND_URL)")
	root.PersistentFlags().BoolVarP(&gf.verbose, "verbose", "v", false, "log polling details")

	root.AddCommand(newAnalyzeCmd(&gf), newStatusCmd(&gf))
	return root
}

func loadConfig(gf *globalFlags) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if gf.backendURL != "" {
		cfg.Backend.BaseURL = strings.TrimRight(gf.backendURL, "/")
	}
	return cfg, nil
}

type analyzeFlags struct {
	out         string
	format      string
	interval    time.Duration
	maxDuration time.Duration
	sanitize    bool
}

func newAnalyzeCmd(gf *globalFlags) *cobra.Command {
	var f analyzeFlags

	cmd := &cobra.Command{
		Use:   "analyze <github-url>",
		Short: "Analyze a repository and write its report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.format != formatHTML && f.format != formatMarkdown {
				return fmt.Errorf("--format must be %q or %q, got %q", formatHTML, formatMarkdown, f.format)
			}
			cfg, err := loadConfig(gf)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("interval") {
				cfg.Poll.Interval = f.interval
			}
			if cmd.Flags().Changed("max-duration") {
				cfg.Poll.MaxDuration = f.maxDuration
			}
			if cmd.Flags().Changed("sanitize") {
				cfg.Render.SanitizeHTML = f.sanitize
			}
			return runAnalyze(cmd, cfg, args[0], f)
		},
	}

	cmd.Flags().StringVarP(&f.out, "out", "o", "", "write the report to this file instead of stdout")
	cmd.Flags().StringVar(&f.format, "format", formatHTML, "report format: html or markdown")
	cmd.Flags().DurationVar(&f.interval, "interval", poller.DefaultInterval, "time between status checks")
	cmd.Flags().DurationVar(&f.maxDuration, "max-duration", 0, "give up polling after this long (0 waits forever)")
	cmd.Flags().BoolVar(&f.sanitize, "sanitize", true, "sanitize rendered HTML")
	return cmd
}

func runAnalyze(cmd *cobra.Command, cfg *config.Config, githubURL string, f analyzeFlags) error {
	ctx := cmd.Context()
	stderr := cmd.ErrOrStderr()

	client := analyzer.NewHTTPClient(cfg.Backend.BaseURL, cfg.Backend.Timeout)

	var opts []render.Option
	if cfg.Render.SanitizeHTML {
		opts = append(opts, render.WithSanitizer())
	}
	p := poller.New(client, render.NewMarkdown(opts...), cfg.Poll.Interval,
		poller.WithMaxDuration(cfg.Poll.MaxDuration))

	fmt.Fprintln(stderr, "Submitting job...")
	job, err := client.Submit(ctx, githubURL)
	if err != nil {
		return fmt.Errorf("failed to start analysis job: %w", err)
	}
	fmt.Fprintf(stderr, "Job %s submitted. Waiting for worker to start...\n", job.ID)

	outcome := p.Start(ctx, job, &progress{w: stderr}).Wait()

	switch outcome.State {
	case poller.StateComplete:
		fmt.Fprintln(stderr, "Analysis complete!")
		report := outcome.HTML
		if f.format == formatMarkdown {
			report = render.StripFence(outcome.Job.Report())
		}
		return writeReport(cmd.OutOrStdout(), f.out, report)
	case poller.StateFailed:
		fmt.Fprintf(stderr, "Analysis Failed:\n%s\n", outcome.Job.Report())
		return fmt.Errorf("%w: job %s", errAnalysisFailed, outcome.Job.ID)
	case poller.StateCancelled:
		return fmt.Errorf("polling job %s: %w", job.ID, outcome.Err)
	default:
		return fmt.Errorf("polling error: %w", outcome.Err)
	}
}

func writeReport(stdout io.Writer, path, report string) error {
	if !strings.HasSuffix(report, "\n") {
		report += "\n"
	}
	if path == "" {
		_, err := io.WriteString(stdout, report)
		return err
	}
	if err := os.WriteFile(path, []byte(report), 0o644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	slog.Info("report written", "path", path)
	return nil
}

// progress prints status changes as they are observed.
type progress struct {
	w    io.Writer
	last models.Status
}

func (p *progress) OnStatus(job *models.Job) {
	if job.Status == p.last {
		return
	}
	p.last = job.Status
	fmt.Fprintf(p.w, "Current status: %s\n", job.Status)
}

func (p *progress) OnComplete(*models.Job, string) {}
func (p *progress) OnFailed(*models.Job, string)   {}
func (p *progress) OnError(error)                  {}

func newStatusCmd(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Print the current state of a job as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(gf)
			if err != nil {
				return err
			}
			client := analyzer.NewHTTPClient(cfg.Backend.BaseURL, cfg.Backend.Timeout)
			job, err := client.GetJob(cmd.Context(), models.JobID(args[0]))
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(job)
		},
	}
}

var _ poller.Listener = (*progress)(nil)
