// Command secscan runs the scanners against a local directory, or rebuilds a report
// from saved scanner output, and prints the scored report as JSON.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yourorg/scan-aggregator/internal/config"
	"github.com/yourorg/scan-aggregator/internal/extract"
	"github.com/yourorg/scan-aggregator/internal/logging"
	"github.com/yourorg/scan-aggregator/internal/model"
	"github.com/yourorg/scan-aggregator/internal/pipeline"
	"github.com/yourorg/scan-aggregator/internal/scanners"
	"github.com/yourorg/scan-aggregator/internal/score"
	"github.com/yourorg/scan-aggregator/internal/staging"
)

func main() {
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		cancel()
		os.Exit(1)
	}
}

type options struct {
	logLevel  string
	logFormat string
	profile   string
	budget    int
	out       string
}

func newRootCommand() *cobra.Command {
	cfg := config.Load()
	opts := &options{}
	root := &cobra.Command{
		Use:          "secscan",
		Short:        "Aggregate and score security scanner results",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", cfg.LogLevel, "log level")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "console", "log format: json or console")
	root.PersistentFlags().StringVar(&opts.profile, "profile", cfg.ScoringProfile, "scoring profile YAML")
	root.PersistentFlags().IntVar(&opts.budget, "budget", cfg.DisplayBudget, "vulnerabilities listed per tool")
	root.PersistentFlags().StringVarP(&opts.out, "out", "o", "", "write the report here instead of stdout")

	root.AddCommand(newScanCommand(cfg, opts), newReportCommand(opts), newInspectCommand())
	return root
}

func (o *options) logger() *zap.SugaredLogger {
	l, err := logging.New(o.logLevel, o.logFormat)
	if err != nil {
		return logging.Nop()
	}
	return l
}

func (o *options) loadProfile() (score.Profile, error) {
	if o.profile == "" {
		return score.Default(), nil
	}
	return score.Load(o.profile)
}

func (o *options) writeReport(w io.Writer, r model.AggregateReport) error {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	if o.out != "" {
		return os.WriteFile(o.out, b, 0o644)
	}
	_, err = w.Write(b)
	return err
}

func newScanCommand(cfg config.Config, opts *options) *cobra.Command {
	var projectKey, logOut string
	cmd := &cobra.Command{
		Use:   "scan <dir>",
		Short: "Run every configured scanner against a source directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := os.Stat(args[0])
			if err != nil {
				return err
			}
			if !st.IsDir() {
				return fmt.Errorf("%s is not a directory", args[0])
			}
			prof, err := opts.loadProfile()
			if err != nil {
				return err
			}
			log := opts.logger()
			defer func() { _ = log.Sync() }()

			work, err := staging.New(os.TempDir(), "")
			if err != nil {
				return err
			}
			defer work.Close()

			p := pipeline.New(scanners.FromConfig(cfg.Tools, log), log)
			run, err := p.Scan(cmd.Context(), scanners.Target{Dir: args[0], WorkDir: work.Path(), ProjectKey: projectKey}, opts.budget, prof)
			if run != nil && logOut != "" && len(run.CombinedLog) > 0 {
				if werr := os.WriteFile(logOut, run.CombinedLog, 0o644); werr != nil {
					log.Warnf("write combined log: %v", werr)
				}
			}
			if err != nil {
				return err
			}
			for tool, ferr := range run.Failures {
				log.Warnf("%s: %v", tool, ferr)
			}
			return opts.writeReport(cmd.OutOrStdout(), run.Report)
		},
	}
	cmd.Flags().StringVar(&projectKey, "project-key", "", "SonarCloud project key")
	cmd.Flags().StringVar(&logOut, "save-log", "", "also write the combined scanner log to this file")
	return cmd
}

func newReportCommand(opts *options) *cobra.Command {
	var logPath string
	paths := map[model.ToolID]*string{}
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Build a report from a combined log and/or per-tool JSON files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var combined []byte
			if logPath != "" {
				b, err := os.ReadFile(logPath)
				if err != nil {
					return err
				}
				combined = b
			}
			prof, err := opts.loadProfile()
			if err != nil {
				return err
			}
			artifacts := pipeline.LogArtifacts()
			for id, p := range paths {
				a := artifacts[id]
				a.Path = *p
				artifacts[id] = a
			}
			res, err := pipeline.Process(combined, artifacts, opts.budget, prof)
			if err != nil && !errors.Is(err, pipeline.ErrNoResults) {
				return err
			}
			if werr := opts.writeReport(cmd.OutOrStdout(), res.Report); werr != nil {
				return werr
			}
			return err
		},
	}
	cmd.Flags().StringVar(&logPath, "log", "", "combined log with === marker === sections")
	for _, id := range model.Tools {
		paths[id] = cmd.Flags().String(string(id), "", fmt.Sprintf("%s JSON output file", id))
	}
	return cmd
}

func newInspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <log>",
		Short: "List the sections of a combined log and whether each holds JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, name := range extract.Sections(b) {
				status := "no json"
				if raw := extract.FromLog(b, name); raw != nil {
					status = fmt.Sprintf("json, %d bytes", len(raw))
				}
				fmt.Fprintf(w, "%s\t%s\n", name, status)
			}
			return nil
		},
	}
}
