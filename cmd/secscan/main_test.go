package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/scan-aggregator/internal/model"
	"github.com/yourorg/scan-aggregator/internal/pipeline"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestReport_FromFilesAndLog(t *testing.T) {
	dir := t.TempDir()
	trivy := filepath.Join(dir, "trivy.json")
	require.NoError(t, os.WriteFile(trivy, []byte(`{"Results":[{"Vulnerabilities":[
		{"VulnerabilityID":"CVE-1","Severity":"HIGH"},{"VulnerabilityID":"CVE-2","Severity":"LOW"},{"VulnerabilityID":"CVE-3","Severity":"LOW"}]}]}`), 0o644))

	var combined bytes.Buffer
	pipeline.WriteSection(&combined, model.Markers[model.ToolSnyk], []byte(`Testing /repo...
{"vulnerabilities":[{"id":"SNYK-1","severity":"critical"}]}
Tested 1 dependencies`))
	logPath := filepath.Join(dir, "combined.log")
	require.NoError(t, os.WriteFile(logPath, combined.Bytes(), 0o644))

	out, err := execute(t, "report", "--log", logPath, "--trivy", trivy, "--budget", "2")
	require.NoError(t, err)

	var r model.AggregateReport
	require.NoError(t, json.Unmarshal([]byte(out), &r))
	assert.Equal(t, 4, r.TotalVulnerabilities)
	assert.Len(t, r.PerTool[model.ToolTrivy].Vulnerabilities, 2)
	assert.Equal(t, 3, r.PerTool[model.ToolTrivy].Counts.Total())
	assert.Equal(t, model.StatusAbsent, r.PerTool[model.ToolSonar].Status)
	// trivy 93*0.3 + snyk 90*0.2
	assert.Equal(t, 46.0, r.OverallScore)
}

func TestReport_NothingUsable(t *testing.T) {
	out, err := execute(t, "report")
	assert.ErrorIs(t, err, pipeline.ErrNoResults)
	assert.Contains(t, out, `"overallScore": 0`)
}

func TestReport_OutFile(t *testing.T) {
	dir := t.TempDir()
	trivy := filepath.Join(dir, "trivy.json")
	require.NoError(t, os.WriteFile(trivy, []byte(`{"Results":[]}`), 0o644))
	dest := filepath.Join(dir, "report.json")

	out, err := execute(t, "report", "--trivy", trivy, "-o", dest)
	require.NoError(t, err)
	assert.Empty(t, out)
	b, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"perTool"`)
}

func TestInspect(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "run.log")
	require.NoError(t, os.WriteFile(logPath, []byte(`=== Résultat Trivy ===
{"Results":[]}
=== Résultat Snyk ===
snyk failed: no token
`), 0o644))

	out, err := execute(t, "inspect", logPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Résultat Trivy\tjson, 14 bytes")
	assert.Contains(t, out, "Résultat Snyk\tno json")
}

func TestScan_RejectsFile(t *testing.T) {
	f := filepath.Join(t.TempDir(), "f.txt")
	require.NoError(t, os.WriteFile(f, []byte("x"), 0o644))
	_, err := execute(t, "scan", f)
	assert.ErrorContains(t, err, "not a directory")
}
