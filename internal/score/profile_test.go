package score

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/scan-aggregator/internal/model"
)

func TestParse_OverlaysDefaults(t *testing.T) {
	p, err := Parse([]byte(`
version: v1-coverage-heavy
weights:
  sonar: 0.5
quality:
  coverageWeight: 0.4
`))
	require.NoError(t, err)
	assert.Equal(t, "v1-coverage-heavy", p.Version)
	assert.Equal(t, 0.5, p.Weights[model.ToolSonar])
	assert.Equal(t, 0.2, p.Weights[model.ToolSnyk], "unlisted weights keep their default")
	assert.Equal(t, 0.4, p.Quality.CoverageWeight)
	assert.Equal(t, 0.4, p.Quality.BugWeight)
	assert.Equal(t, 10.0, p.SeverityPenalty.Critical)
	assert.Equal(t, DependencySeverity, p.DependencyMode)
}

func TestParse_Invalid(t *testing.T) {
	tests := map[string]string{
		"unknown tool":     "weights:\n  nessus: 0.1\n",
		"negative weight":  "weights:\n  trivy: -1\n",
		"bad mode":         "dependencyMode: vibes\n",
		"empty version":    "version: \"\"\n",
		"zero weights":     "weights: {sonar: 0, snyk: 0, trivy: 0, owasp: 0}\n",
		"negative penalty": "severityPenalty:\n  high: -5\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.ErrorIs(t, err, ErrInvalidProfile)
		})
	}

	_, err := Parse([]byte("weights: [1, 2"))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scoring.yaml")
	require.NoError(t, os.WriteFile(path, []byte("dependencyMode: presence\n"), 0o644))

	p, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DependencyPresence, p.DependencyMode)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}
