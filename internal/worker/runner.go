package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yourorg/scan-aggregator/internal/config"
	"github.com/yourorg/scan-aggregator/internal/db"
	"github.com/yourorg/scan-aggregator/internal/model"
	"github.com/yourorg/scan-aggregator/internal/pipeline"
	s3c "github.com/yourorg/scan-aggregator/internal/s3"
	"github.com/yourorg/scan-aggregator/internal/scanners"
	"github.com/yourorg/scan-aggregator/internal/score"
	"github.com/yourorg/scan-aggregator/internal/staging"
)

type jobStore interface {
	progressStore
	AcquireNextQueued(ctx context.Context, workerID string) (*db.Job, error)
	MarkDone(ctx context.Context, id string, c db.Completion) error
	MarkFailed(ctx context.Context, id, errMsg string) error
	ReplaceFindings(ctx context.Context, jobID string, vulns []model.Vulnerability) error
	RequeueStaleRunning(ctx context.Context, idleFor time.Duration) ([]string, error)
}

type objectStore interface {
	DownloadToFile(ctx context.Context, bucket, key, filePath string) error
	UploadFile(ctx context.Context, bucket, key, filePath string, contentType string) error
	UploadBytes(ctx context.Context, bucket, key string, b []byte, contentType string) error
}

type Runner struct {
	cfg     config.Config
	db      jobStore
	s3      objectStore
	entries []scanners.Entry
	profile score.Profile
	log     *zap.SugaredLogger
	id      string
}

func NewRunner(cfg config.Config, store jobStore, objects objectStore, entries []scanners.Entry, prof score.Profile, log *zap.SugaredLogger) *Runner {
	host, _ := os.Hostname()
	if host == "" {
		host = "worker"
	}
	return &Runner{
		cfg:     cfg,
		db:      store,
		s3:      objects,
		entries: entries,
		profile: prof,
		log:     log,
		id:      host + "-" + uuid.NewString()[:8],
	}
}

func (r *Runner) WorkerID() string { return r.id }

// RecoverStaleJobs re-queues jobs left running by a worker that died.
func (r *Runner) RecoverStaleJobs(ctx context.Context) {
	ids, err := r.db.RequeueStaleRunning(ctx, r.cfg.StaleAfter)
	if err != nil {
		r.log.Warnf("recover stale jobs: %v", err)
		return
	}
	for _, id := range ids {
		r.log.Infof("job %s: re-queued after worker loss", id)
	}
}

func (r *Runner) processJob(ctx context.Context, j *db.Job) error {
	r.log.Infof("job %s: starting (bucket=%s key=%s)", j.ID, j.Bucket, j.ObjectKey)
	settings, err := j.Settings()
	if err != nil {
		return err
	}
	budget := settings.Budget(r.cfg.DisplayBudget)

	dir, err := staging.New(r.cfg.ScratchDir, j.ID)
	if err != nil {
		return fmt.Errorf("scratch dir: %w", err)
	}
	defer dir.Close()

	progress := TrackProgress(ctx, r.db, j.ID, r.log)
	defer progress.Stop()
	progress.Emit(stageStart, j.ObjectKey)

	// keep the original name so the archive format can be told from its extension
	baseName := filepath.Base(j.ObjectKey)
	if baseName == "." || baseName == "/" || baseName == "" {
		baseName = "input"
	}
	inputPath := dir.Join(baseName)
	progress.Emit(stageDownload, j.ObjectKey)
	if err := retry(ctx, 3, 200*time.Millisecond, func() error {
		return r.s3.DownloadToFile(ctx, j.Bucket, j.ObjectKey, inputPath)
	}); err != nil {
		return fmt.Errorf("download from s3: %w", err)
	}

	src, err := dir.Mkdir("src")
	if err != nil {
		return err
	}
	work, err := dir.Mkdir("work")
	if err != nil {
		return err
	}
	n, err := staging.Unpack(ctx, inputPath, src)
	if err != nil {
		return fmt.Errorf("unpack source: %w", err)
	}
	progress.Emit(stageUnpack, fmt.Sprintf("%d files", n))
	r.log.Infof("job %s: unpacked %d files", j.ID, n)

	entries := r.entriesFor(settings)
	p := pipeline.New(entries, r.log.With("job", j.ID))
	p.OnTool = func(ev pipeline.ToolEvent) {
		detail := "ok"
		if ev.Err != nil {
			detail = "absent: " + ev.Err.Error()
		}
		progress.Emit("scan."+string(ev.Tool), detail)
	}
	progress.Emit(stageScan, fmt.Sprintf("%d scanners", len(entries)))
	target := scanners.Target{Dir: src, WorkDir: work}
	if j.ProjectKey != nil {
		target.ProjectKey = *j.ProjectKey
	}
	run, scanErr := p.Scan(ctx, target, budget, r.profile)
	if run == nil {
		return fmt.Errorf("scan: %w", scanErr)
	}

	progress.Emit(stageUpload, r.cfg.ReportsBucket)
	if len(run.CombinedLog) > 0 {
		key := s3c.JobKey(j.ID, s3c.CombinedLogObject)
		if err := r.upload(ctx, key, run.CombinedLog, "text/plain; charset=utf-8"); err != nil {
			return fmt.Errorf("upload combined log: %w", err)
		}
	}
	if scanErr != nil {
		return fmt.Errorf("scan: %w", scanErr)
	}
	for _, a := range run.Artifacts {
		if a.Path == "" {
			continue
		}
		key := s3c.JobKey(j.ID, a.Path)
		if err := retry(ctx, 3, 200*time.Millisecond, func() error {
			return r.s3.UploadFile(ctx, r.cfg.ReportsBucket, key, a.Path, "application/json")
		}); err != nil {
			r.log.Warnf("job %s: upload %s artifact: %v", j.ID, a.Tool, err)
		}
	}

	report, err := json.MarshalIndent(run.Report, "", "  ")
	if err != nil {
		return err
	}
	reportKey := s3c.JobKey(j.ID, s3c.ReportObject)
	if err := r.upload(ctx, reportKey, report, "application/json"); err != nil {
		return fmt.Errorf("upload report: %w", err)
	}

	progress.Emit(stagePersist, fmt.Sprintf("%d findings", run.Report.TotalVulnerabilities))
	if err := retry(ctx, 3, 200*time.Millisecond, func() error {
		return r.db.ReplaceFindings(ctx, j.ID, run.All())
	}); err != nil {
		return fmt.Errorf("store findings: %w", err)
	}

	summary, _ := json.Marshal(model.Summarize(run.Report))
	done := db.Completion{
		ReportBucket:   r.cfg.ReportsBucket,
		ReportKey:      reportKey,
		SummaryJSON:    summary,
		OverallScore:   run.Report.OverallScore,
		ScoringVersion: run.Report.ScoringVersion,
		Posture:        run.Report.Posture,
	}
	progress.Emit(stageDone, run.Report.Posture)
	progress.Stop()

	dbctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := retry(dbctx, 3, 200*time.Millisecond, func() error {
		return r.db.MarkDone(dbctx, j.ID, done)
	}); err != nil {
		return fmt.Errorf("mark done: %w", err)
	}
	r.log.Infof("job %s: completed (score=%.0f posture=%s report=%s)", j.ID, run.Report.OverallScore, run.Report.Posture, reportKey)
	return nil
}

func (r *Runner) upload(ctx context.Context, key string, b []byte, contentType string) error {
	return retry(ctx, 3, 200*time.Millisecond, func() error {
		return r.s3.UploadBytes(ctx, r.cfg.ReportsBucket, key, b, contentType)
	})
}

func (r *Runner) entriesFor(s db.JobSettings) []scanners.Entry {
	if len(s.SkipTools) == 0 {
		return r.entries
	}
	out := make([]scanners.Entry, 0, len(r.entries))
	for _, e := range r.entries {
		if !slices.Contains(s.SkipTools, e.Scanner.Tool()) {
			out = append(out, e)
		}
	}
	return out
}

// RunForever polls the queue until ctx is cancelled, running up to
// WorkerConcurrency jobs at a time. It waits for in-flight jobs before returning.
func (r *Runner) RunForever(ctx context.Context) error {
	sem := make(chan struct{}, max(r.cfg.WorkerConcurrency, 1))
	var wg sync.WaitGroup
	defer wg.Wait()

	backoff := 500 * time.Millisecond
	for {
		select {
		case <-ctx.Done():
			return nil
		case sem <- struct{}{}:
		}

		j, err := r.db.AcquireNextQueued(ctx, r.id)
		if err != nil {
			<-sem
			if !db.IsNoRows(err) && ctx.Err() == nil {
				r.log.Warnf("acquire job: %v", err)
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, 5*time.Second)
			continue
		}
		backoff = 500 * time.Millisecond

		wg.Add(1)
		go func(job *db.Job) {
			defer wg.Done()
			defer func() { <-sem }()
			r.runJob(ctx, job)
		}(j)
	}
}

func (r *Runner) runJob(ctx context.Context, j *db.Job) {
	err := r.processJob(ctx, j)
	if err == nil {
		return
	}
	if ctx.Err() != nil {
		// left running; RecoverStaleJobs picks it up on the next start
		r.log.Warnf("job %s: interrupted: %v", j.ID, err)
		return
	}
	r.log.Errorf("job %s: failed: %v", j.ID, err)
	if merr := r.db.MarkFailed(ctx, j.ID, err.Error()); merr != nil {
		r.log.Errorf("job %s: mark failed: %v", j.ID, merr)
	}
}
