// Command rescore recomputes the reports of finished jobs from their stored combined
// logs using the current scoring profile.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yourorg/scan-aggregator/internal/config"
	"github.com/yourorg/scan-aggregator/internal/db"
	"github.com/yourorg/scan-aggregator/internal/logging"
	"github.com/yourorg/scan-aggregator/internal/model"
	"github.com/yourorg/scan-aggregator/internal/pipeline"
	s3c "github.com/yourorg/scan-aggregator/internal/s3"
	"github.com/yourorg/scan-aggregator/internal/score"
)

func main() {
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := newCommand().ExecuteContext(ctx); err != nil {
		cancel()
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	var (
		batchSize   int
		maxJobs     int
		profilePath string
		dryRun      bool
	)
	cmd := &cobra.Command{
		Use:   "rescore",
		Short: "Recompute scores of finished scan jobs with the current scoring profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			if profilePath != "" {
				cfg.ScoringProfile = profilePath
			}
			logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				log.Fatalf("logger: %v", err)
			}
			defer func() { _ = logger.Sync() }()
			return run(cmd.Context(), cfg, logger, batchSize, maxJobs, dryRun)
		},
	}
	cmd.Flags().IntVar(&batchSize, "batch-size", 25, "number of jobs to rescore per batch")
	cmd.Flags().IntVar(&maxJobs, "max-jobs", 0, "maximum jobs to rescore (0 = unlimited)")
	cmd.Flags().StringVar(&profilePath, "profile", "", "scoring profile YAML (defaults to SCORING_PROFILE)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "compute and log new scores without writing them")
	return cmd
}

func run(ctx context.Context, cfg config.Config, logger *zap.SugaredLogger, batchSize, maxJobs int, dryRun bool) error {
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	prof := score.Default()
	if cfg.ScoringProfile != "" {
		p, err := score.Load(cfg.ScoringProfile)
		if err != nil {
			return err
		}
		prof = p
	}

	store, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("db open: %w", err)
	}
	defer store.Pool.Close()
	if err := store.EnsureSchema(ctx); err != nil {
		if !isInsufficientPrivilege(err) {
			return fmt.Errorf("ensure schema: %w", err)
		}
		logger.Warnf("ensure schema skipped due insufficient privilege: %v", err)
	}

	objects, err := s3c.New(cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Region, cfg.S3UseSSL)
	if err != nil {
		return fmt.Errorf("s3 client: %w", err)
	}

	rs := &rescorer{store: store, objects: objects, prof: prof, budget: cfg.DisplayBudget, dryRun: dryRun, log: logger}
	if batchSize <= 0 {
		batchSize = 25
	}

	var total, okCount, failCount int
	seen := map[string]bool{}
	for maxJobs <= 0 || total < maxJobs {
		limit := batchSize
		if maxJobs > 0 && total+limit > maxJobs {
			limit = maxJobs - total
		}
		listCtx, listCancel := context.WithTimeout(ctx, 20*time.Second)
		// failed jobs keep their old version and come back; over-fetch to skip them
		candidates, err := store.ListRescoreCandidates(listCtx, prof.Version, limit+len(seen))
		listCancel()
		if err != nil {
			return fmt.Errorf("list candidates: %w", err)
		}

		progressed := false
		for _, c := range candidates {
			if seen[c.ID] {
				continue
			}
			if maxJobs > 0 && total >= maxJobs {
				break
			}
			seen[c.ID] = true
			progressed = true
			total++
			if _, err := rs.one(ctx, c); err != nil {
				failCount++
				logger.Warnf("rescore job %s failed: %v", c.ID, err)
				continue
			}
			okCount++
		}
		if !progressed {
			break
		}
	}

	logger.Infof("rescore complete: profile=%s processed=%d ok=%d failed=%d", prof.Version, total, okCount, failCount)
	return nil
}

type rescoreStore interface {
	ReplaceFindings(ctx context.Context, jobID string, vulns []model.Vulnerability) error
	UpdateScore(ctx context.Context, id string, c db.Completion) error
}

type objectStore interface {
	Download(ctx context.Context, bucket, key string) ([]byte, error)
	UploadBytes(ctx context.Context, bucket, key string, b []byte, contentType string) error
}

type rescorer struct {
	store   rescoreStore
	objects objectStore
	prof    score.Profile
	budget  int
	dryRun  bool
	log     *zap.SugaredLogger
}

func (r *rescorer) one(ctx context.Context, c db.RescoreJob) (model.AggregateReport, error) {
	settings, err := c.Settings()
	if err != nil {
		return model.AggregateReport{}, err
	}
	dlCtx, dlCancel := context.WithTimeout(ctx, 2*time.Minute)
	combined, err := r.objects.Download(dlCtx, c.ReportBucket, s3c.JobKey(c.ID, s3c.CombinedLogObject))
	dlCancel()
	if err != nil {
		return model.AggregateReport{}, fmt.Errorf("download combined log: %w", err)
	}

	res, err := pipeline.Process(combined, pipeline.LogArtifacts(), settings.Budget(r.budget), r.prof)
	if err != nil {
		return model.AggregateReport{}, err
	}
	old := "none"
	if c.ScoringVersion != nil {
		old = *c.ScoringVersion
	}
	if r.dryRun {
		r.log.Infof("rescore job %s: %s -> %s score=%.0f posture=%s (dry run)", c.ID, old, r.prof.Version, res.Report.OverallScore, res.Report.Posture)
		return res.Report, nil
	}

	report, err := json.MarshalIndent(res.Report, "", "  ")
	if err != nil {
		return model.AggregateReport{}, err
	}
	upCtx, upCancel := context.WithTimeout(ctx, 2*time.Minute)
	err = r.objects.UploadBytes(upCtx, c.ReportBucket, c.ReportKey, report, "application/json")
	upCancel()
	if err != nil {
		return model.AggregateReport{}, fmt.Errorf("upload report: %w", err)
	}

	if err := r.store.ReplaceFindings(ctx, c.ID, res.All()); err != nil {
		return model.AggregateReport{}, fmt.Errorf("store findings: %w", err)
	}
	summary, _ := json.Marshal(model.Summarize(res.Report))
	err = r.store.UpdateScore(ctx, c.ID, db.Completion{
		ReportBucket:   c.ReportBucket,
		ReportKey:      c.ReportKey,
		SummaryJSON:    summary,
		OverallScore:   res.Report.OverallScore,
		ScoringVersion: res.Report.ScoringVersion,
		Posture:        res.Report.Posture,
	})
	if err != nil {
		return model.AggregateReport{}, err
	}
	r.log.Infof("rescore job %s: %s -> %s score=%.0f posture=%s", c.ID, old, r.prof.Version, res.Report.OverallScore, res.Report.Posture)
	return res.Report, nil
}

func isInsufficientPrivilege(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42501"
}
