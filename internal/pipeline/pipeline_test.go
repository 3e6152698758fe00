package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/scan-aggregator/internal/model"
	"github.com/yourorg/scan-aggregator/internal/scanners"
	"github.com/yourorg/scan-aggregator/internal/score"
)

type fakeScanner struct {
	tool   model.ToolID
	output string
	path   string
	err    error
	block  bool
}

func (f *fakeScanner) Tool() model.ToolID { return f.tool }

func (f *fakeScanner) Scan(ctx context.Context, _ scanners.Target) (scanners.Result, error) {
	if f.block {
		<-ctx.Done()
		return scanners.Result{}, ctx.Err()
	}
	if f.err != nil {
		return scanners.Result{}, f.err
	}
	return scanners.Result{Tool: f.tool, Output: []byte(f.output), Path: f.path}, nil
}

const (
	sonarOut = `{"component":{"key":"demo","measures":[
		{"metric":"bugs","value":"2"},{"metric":"code_smells","value":"10"},{"metric":"coverage","value":"70"}]}}`
	snykOut = `{"vulnerabilities":[
		{"id":"SNYK-1","severity":"critical"},{"id":"SNYK-2","severity":"high"},{"id":"SNYK-3","severity":"high"}]}`
	trivyOut = `{"Results":[]}`
)

func entries(owasp *fakeScanner) []scanners.Entry {
	return []scanners.Entry{
		{Scanner: &fakeScanner{tool: model.ToolSonar, output: sonarOut}},
		{Scanner: &fakeScanner{tool: model.ToolSnyk, output: snykOut}},
		{Scanner: &fakeScanner{tool: model.ToolTrivy, output: trivyOut}},
		{Scanner: owasp, Timeout: 50 * time.Millisecond},
	}
}

func TestScan_FailedToolIsAbsent(t *testing.T) {
	p := New(entries(&fakeScanner{tool: model.ToolOWASP, err: errors.New("exit status 13")}), nil)
	var finished int32
	p.OnTool = func(ToolEvent) { atomic.AddInt32(&finished, 1) }

	run, err := p.Scan(context.Background(), scanners.Target{Dir: t.TempDir()}, 3, score.Default())
	require.NoError(t, err)
	assert.Equal(t, int32(4), atomic.LoadInt32(&finished))

	r := run.Report
	assert.Equal(t, 66.0, r.OverallScore)
	assert.Equal(t, 3, r.TotalVulnerabilities)
	assert.Equal(t, 1, r.CriticalVulnerabilities)
	assert.Equal(t, model.StatusAbsent, r.PerTool[model.ToolOWASP].Status)
	assert.Contains(t, run.Failures, model.ToolOWASP)
	assert.NotContains(t, run.Artifacts, model.ToolOWASP)

	log := string(run.CombinedLog)
	assert.Contains(t, log, "=== Résultat Snyk ===")
	assert.Contains(t, log, "=== Résultat SonarCloud ===")
	assert.NotContains(t, log, model.Markers[model.ToolOWASP])
	assert.Len(t, run.All(), 3)
}

func TestScan_TimeoutIsAbsent(t *testing.T) {
	p := New(entries(&fakeScanner{tool: model.ToolOWASP, block: true}), nil)
	start := time.Now()
	run, err := p.Scan(context.Background(), scanners.Target{}, 3, score.Default())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.ErrorIs(t, run.Failures[model.ToolOWASP], context.DeadlineExceeded)
	assert.Equal(t, model.StatusAbsent, run.Report.PerTool[model.ToolOWASP].Status)
}

func TestScan_SidecarFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dc-report.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"dependencies":[{"fileName":"a.jar","vulnerabilities":[{"name":"CVE-1","severity":"LOW"}]}]}`), 0o644))

	run, err := New(entries(&fakeScanner{tool: model.ToolOWASP, path: path}), nil).
		Scan(context.Background(), scanners.Target{}, 3, score.Default())
	require.NoError(t, err)
	assert.Equal(t, path, run.Artifacts[model.ToolOWASP].Path)
	assert.Contains(t, string(run.CombinedLog), "CVE-1", "sidecar content is kept in the combined log")
	assert.Equal(t, 1, run.Report.PerTool[model.ToolOWASP].Counts[model.SeverityLow])

	// the stored log alone reproduces the report
	again, err := Process(run.CombinedLog, LogArtifacts(), 3, score.Default())
	require.NoError(t, err)
	assert.Equal(t, run.Report, again.Report)
}

func TestScan_AllAbsent(t *testing.T) {
	var es []scanners.Entry
	for _, id := range model.Tools {
		es = append(es, scanners.Entry{Scanner: &fakeScanner{tool: id, err: scanners.ErrNotConfigured}})
	}
	run, err := New(es, nil).Scan(context.Background(), scanners.Target{}, 3, score.Default())
	assert.ErrorIs(t, err, ErrNoResults)
	require.NotNil(t, run)
	assert.Len(t, run.Failures, 4)
	assert.Zero(t, run.Report.OverallScore)
}

func TestScan_EmptyOutputIsAbsent(t *testing.T) {
	run, err := New(entries(&fakeScanner{tool: model.ToolOWASP}), nil).
		Scan(context.Background(), scanners.Target{}, 3, score.Default())
	require.NoError(t, err)
	assert.Contains(t, run.Failures, model.ToolOWASP)
}

func TestScan_ParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	es := []scanners.Entry{{Scanner: &fakeScanner{tool: model.ToolTrivy, block: true}}}
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	run, err := New(es, nil).Scan(ctx, scanners.Target{}, 3, score.Default())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, run)
}

func TestProcess_UnparseableSectionIsAbsent(t *testing.T) {
	log := []byte("=== Résultat Trivy ===\nnot json at all\n\n=== Résultat Snyk ===\n" + snykOut + "\n")
	res, err := Process(log, LogArtifacts(), 3, score.Default())
	require.NoError(t, err)
	assert.Equal(t, model.StatusAbsent, res.Report.PerTool[model.ToolTrivy].Status)
	assert.Equal(t, model.StatusOK, res.Report.PerTool[model.ToolSnyk].Status)
	assert.Len(t, res.Findings[model.ToolSnyk], 3)
	assert.Equal(t, "v1", res.Report.ScoringVersion)
}

func TestProcess_NoArtifacts(t *testing.T) {
	_, err := Process(nil, nil, 3, score.Default())
	assert.ErrorIs(t, err, ErrNoResults)
}
