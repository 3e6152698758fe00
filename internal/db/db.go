package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yourorg/scan-aggregator/internal/model"
)

const batchSize = 100

type Store struct{ Pool *pgxpool.Pool }

func Open(ctx context.Context, url string) (*Store, error) {
	p, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, err
	}
	return &Store{Pool: p}, nil
}

type Job struct {
	ID           string
	Status       string
	Bucket       string
	ObjectKey    string
	ProjectKey   *string
	SettingsJSON []byte
	ProgressPct  int
	ProgressMsg  *string
	ReportBucket *string
	ReportKey    *string
	ErrorMsg     *string
	WorkerID     *string
}

// JobSettings are per-job overrides captured when the job was queued.
type JobSettings struct {
	DisplayBudget int            `json:"display_budget"`
	SkipTools     []model.ToolID `json:"skip_tools"`
}

// Settings decodes the settings snapshot. A missing snapshot yields zero settings.
func (j *Job) Settings() (JobSettings, error) {
	return parseSettings(j.ID, j.SettingsJSON)
}

// Budget returns the job's display budget, or def when the job does not set one.
func (s JobSettings) Budget(def int) int {
	if s.DisplayBudget > 0 {
		return s.DisplayBudget
	}
	return def
}

func parseSettings(id string, raw []byte) (JobSettings, error) {
	var s JobSettings
	if len(raw) == 0 || string(raw) == "null" {
		return s, nil
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return JobSettings{}, fmt.Errorf("job %s settings: %w", id, err)
	}
	return s, nil
}

// Completion is what a finished scan writes back to its job row.
type Completion struct {
	ReportBucket   string
	ReportKey      string
	SummaryJSON    []byte
	OverallScore   float64
	ScoringVersion string
	Posture        string
}

type RescoreJob struct {
	ID             string
	ReportBucket   string
	ReportKey      string
	ScoringVersion *string
	SettingsJSON   []byte
}

// Settings decodes the settings snapshot the job was originally run with.
func (j *RescoreJob) Settings() (JobSettings, error) {
	return parseSettings(j.ID, j.SettingsJSON)
}

func (s *Store) notifyJobChanged(ctx context.Context, id string) {
	_, _ = s.Pool.Exec(ctx, `SELECT pg_notify('job_events', $1)`, id)
}

func (s *Store) InsertEvent(ctx context.Context, jobID string, ts time.Time, stage, detail string, pct *int) error {
	_, err := s.Pool.Exec(ctx, `
        INSERT INTO scan_events (job_id, ts, stage, detail, pct)
        VALUES ($1, $2, $3, $4, $5)
    `, jobID, ts, stage, detail, pct)
	return err
}

// AcquireNextQueued claims the oldest queued job for workerID. It returns
// pgx.ErrNoRows when the queue is empty.
func (s *Store) AcquireNextQueued(ctx context.Context, workerID string) (*Job, error) {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		SELECT id::text, bucket, object_key, sonar_project_key, settings_snapshot
		FROM scan_jobs
		WHERE status='queued'
		ORDER BY created_at
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`)
	var j Job
	if err := row.Scan(&j.ID, &j.Bucket, &j.ObjectKey, &j.ProjectKey, &j.SettingsJSON); err != nil {
		return nil, err
	}
	_, err = tx.Exec(ctx, `
		UPDATE scan_jobs
		SET status='running', started_at=now(), progress_pct=0, progress_msg='starting',
		    worker_id=$2
		WHERE id=$1
	`, j.ID, workerID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	j.Status = "running"
	j.WorkerID = &workerID
	s.notifyJobChanged(ctx, j.ID)
	return &j, nil
}

func (s *Store) UpdateProgress(ctx context.Context, id string, pct int, msg string) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE scan_jobs
		SET progress_pct=GREATEST(progress_pct, $2),
		    progress_msg=CASE WHEN $2 >= progress_pct THEN $3 ELSE progress_msg END
		WHERE id=$1
		  AND status='running'
	`, id, pct, msg)
	return err
}

func (s *Store) MarkFailed(ctx context.Context, id, errMsg string) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE scan_jobs
		SET status='failed',
		    finished_at=now(),
		    error_msg=$2,
		    progress_msg=COALESCE(progress_msg, $2)
		WHERE id=$1
		  AND status IN ('queued','running')
	`, id, errMsg)
	if err == nil {
		s.notifyJobChanged(ctx, id)
	}
	return err
}

func (s *Store) MarkDone(ctx context.Context, id string, c Completion) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE scan_jobs
		SET status='done', finished_at=now(),
		    progress_pct=100, progress_msg='completed',
		    report_bucket=$2, report_key=$3, summary_json=$4::jsonb,
		    overall_score=$5, scoring_version=$6, posture=$7
		WHERE id=$1
	`, id, c.ReportBucket, c.ReportKey, string(c.SummaryJSON), c.OverallScore, c.ScoringVersion, c.Posture)
	if err == nil {
		s.notifyJobChanged(ctx, id)
	}
	return err
}

// UpdateScore rewrites the score columns of a finished job without touching its
// status or timestamps.
func (s *Store) UpdateScore(ctx context.Context, id string, c Completion) error {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE scan_jobs
		SET report_key=$2, summary_json=$3::jsonb,
		    overall_score=$4, scoring_version=$5, posture=$6, rescored_at=now()
		WHERE id=$1
		  AND status='done'
	`, id, c.ReportKey, string(c.SummaryJSON), c.OverallScore, c.ScoringVersion, c.Posture)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", id, pgx.ErrNoRows)
	}
	s.notifyJobChanged(ctx, id)
	return nil
}

// ReplaceFindings deletes a job's stored findings and batch-inserts vulns in their
// place. vulns is the full normalized list, not the truncated display list.
func (s *Store) ReplaceFindings(ctx context.Context, jobID string, vulns []model.Vulnerability) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM scan_findings WHERE job_id=$1::uuid`, jobID); err != nil {
		return err
	}
	if err := batchInsertFindings(ctx, tx, jobID, vulns); err != nil {
		return fmt.Errorf("batch insert findings: %w", err)
	}
	return tx.Commit(ctx)
}

const insertFinding = `
INSERT INTO scan_findings (
  job_id, tool, ordinal, finding_id, title, severity, component, description,
  fixed_version, raw
)
VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb)
ON CONFLICT (job_id, tool, ordinal)
DO UPDATE SET
  finding_id = EXCLUDED.finding_id,
  title = EXCLUDED.title,
  severity = EXCLUDED.severity,
  component = EXCLUDED.component,
  description = EXCLUDED.description,
  fixed_version = EXCLUDED.fixed_version,
  raw = EXCLUDED.raw`

// batchInsertFindings pipelines inserts in groups of batchSize. ordinal is the
// finding's position within its tool's list, so duplicate ids across or within tools
// are all kept.
func batchInsertFindings(ctx context.Context, tx pgx.Tx, jobID string, vulns []model.Vulnerability) error {
	ordinals := map[model.ToolID]int{}
	for start := 0; start < len(vulns); start += batchSize {
		end := min(start+batchSize, len(vulns))
		batch := &pgx.Batch{}
		for _, v := range vulns[start:end] {
			ord := ordinals[v.SourceTool]
			ordinals[v.SourceTool] = ord + 1
			batch.Queue(insertFinding, findingArgs(jobID, ord, v)...)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return err
		}
	}
	return nil
}

func findingArgs(jobID string, ordinal int, v model.Vulnerability) []any {
	raw, _ := json.Marshal(v)
	return []any{
		jobID,
		string(v.SourceTool),
		ordinal,
		v.ID,
		v.Title,
		string(v.Severity),
		nullableString(v.Component),
		nullableString(v.Description),
		v.FixedVersion,
		string(raw),
	}
}

func nullableString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func (s *Store) Ping(ctx context.Context) error {
	return s.Pool.Ping(ctx)
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.Pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS scan_jobs (
  id UUID PRIMARY KEY,
  status TEXT NOT NULL CHECK (status IN ('queued','running','done','failed')),
  bucket TEXT NOT NULL,
  object_key TEXT NOT NULL,
  sonar_project_key TEXT,
  settings_snapshot JSONB,
  worker_id TEXT,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  started_at TIMESTAMPTZ,
  finished_at TIMESTAMPTZ,
  rescored_at TIMESTAMPTZ,
  progress_pct INTEGER NOT NULL DEFAULT 0 CHECK (progress_pct BETWEEN 0 AND 100),
  progress_msg TEXT,
  report_bucket TEXT,
  report_key TEXT,
  error_msg TEXT,
  summary_json JSONB,
  overall_score DOUBLE PRECISION,
  scoring_version TEXT,
  posture TEXT
);

ALTER TABLE scan_jobs ADD COLUMN IF NOT EXISTS sonar_project_key TEXT;
ALTER TABLE scan_jobs ADD COLUMN IF NOT EXISTS rescored_at TIMESTAMPTZ;
ALTER TABLE scan_jobs ADD COLUMN IF NOT EXISTS overall_score DOUBLE PRECISION;
ALTER TABLE scan_jobs ADD COLUMN IF NOT EXISTS scoring_version TEXT;
ALTER TABLE scan_jobs ADD COLUMN IF NOT EXISTS posture TEXT;

CREATE INDEX IF NOT EXISTS idx_scan_jobs_status_created ON scan_jobs (status, created_at);

CREATE TABLE IF NOT EXISTS scan_events (
  id BIGSERIAL PRIMARY KEY,
  job_id UUID NOT NULL REFERENCES scan_jobs(id) ON DELETE CASCADE,
  ts TIMESTAMPTZ NOT NULL DEFAULT now(),
  stage TEXT NOT NULL,
  detail TEXT NOT NULL,
  pct SMALLINT
);

CREATE INDEX IF NOT EXISTS idx_scan_events_job_ts ON scan_events (job_id, ts);

CREATE OR REPLACE FUNCTION notify_job_event() RETURNS trigger AS $$
BEGIN
  PERFORM pg_notify('job_events', NEW.id::text);
  RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DO $$
BEGIN
  IF NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'scan_jobs_notify') THEN
    CREATE TRIGGER scan_jobs_notify
    AFTER INSERT OR UPDATE ON scan_jobs
    FOR EACH ROW EXECUTE FUNCTION notify_job_event();
  END IF;
END$$;

CREATE TABLE IF NOT EXISTS scan_findings (
  id BIGSERIAL PRIMARY KEY,
  job_id UUID NOT NULL REFERENCES scan_jobs(id) ON DELETE CASCADE,
  tool TEXT NOT NULL CHECK (tool IN ('sonar','snyk','trivy','owasp')),
  ordinal INTEGER NOT NULL,
  finding_id TEXT NOT NULL,
  title TEXT NOT NULL,
  severity TEXT NOT NULL CHECK (severity IN ('CRITICAL','HIGH','MEDIUM','LOW','UNKNOWN')),
  component TEXT,
  description TEXT,
  fixed_version TEXT,
  raw JSONB NOT NULL DEFAULT '{}'::jsonb,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  UNIQUE(job_id, tool, ordinal)
);

CREATE INDEX IF NOT EXISTS idx_scan_findings_job_sev ON scan_findings(job_id, severity);
CREATE INDEX IF NOT EXISTS idx_scan_findings_job_tool ON scan_findings(job_id, tool);
`)
	return err
}

// RequeueStaleRunning finds jobs stuck in 'running' with no recent heartbeat
// and re-queues them. Used at startup to recover jobs orphaned by crashed workers.
func (s *Store) RequeueStaleRunning(ctx context.Context, idleFor time.Duration) ([]string, error) {
	seconds := int64(idleFor.Seconds())
	if seconds <= 0 {
		return nil, nil
	}
	rows, err := s.Pool.Query(ctx, `
		WITH stale AS (
			SELECT j.id
			FROM scan_jobs j
			LEFT JOIN LATERAL (
				SELECT MAX(ts) AS last_event_ts
				FROM scan_events e
				WHERE e.job_id = j.id
			) ev ON true
			WHERE j.status='running'
			  AND COALESCE(ev.last_event_ts, j.started_at, j.created_at)
			      < now() - ($1::bigint * interval '1 second')
		)
		UPDATE scan_jobs j
		SET status='queued',
		    started_at=NULL,
		    worker_id=NULL,
		    progress_pct=0,
		    progress_msg='re-queued: previous worker lost'
		FROM stale
		WHERE j.id = stale.id
		RETURNING j.id::text
	`, seconds)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		s.notifyJobChanged(ctx, id)
	}
	return ids, nil
}

// ListRescoreCandidates returns finished jobs whose stored score was computed by a
// profile other than version, oldest first.
func (s *Store) ListRescoreCandidates(ctx context.Context, version string, limit int) ([]RescoreJob, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.Pool.Query(ctx, `
SELECT j.id::text, j.report_bucket, j.report_key, j.scoring_version, j.settings_snapshot
FROM scan_jobs j
WHERE j.status='done'
  AND j.report_bucket IS NOT NULL
  AND j.report_key IS NOT NULL
  AND j.scoring_version IS DISTINCT FROM $1
ORDER BY COALESCE(j.finished_at, j.created_at), j.id
LIMIT $2
	`, version, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]RescoreJob, 0, limit)
	for rows.Next() {
		var j RescoreJob
		if err := rows.Scan(&j.ID, &j.ReportBucket, &j.ReportKey, &j.ScoringVersion, &j.SettingsJSON); err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// IsNoRows reports whether err means an empty result.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
