package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSeverity(t *testing.T) {
	cases := map[string]Severity{
		"BLOCKER":    SeverityCritical,
		"critical":   SeverityCritical,
		"Major":      SeverityHigh,
		"high":       SeverityHigh,
		"minor":      SeverityMedium,
		" medium ":   SeverityMedium,
		"low":        SeverityLow,
		"INFO":       SeverityLow,
		"":           SeverityUnknown,
		"negligible": SeverityUnknown,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseSeverity(in), in)
	}
}

func TestSeverityRank(t *testing.T) {
	for i := 1; i < len(Severities); i++ {
		assert.Greater(t, Severities[i-1].Rank(), Severities[i].Rank())
	}
}

func TestSeverityCounts(t *testing.T) {
	c := NewSeverityCounts()
	require.Len(t, c, len(Severities))
	assert.Zero(t, c.Total())
	c[SeverityHigh] += 2
	c[SeverityUnknown]++
	assert.Equal(t, 3, c.Total())
}

func TestClone_IsDeep(t *testing.T) {
	bugs := 3.0
	r := AggregateReport{PerTool: map[ToolID]ToolReport{
		ToolSonar: {
			Vulnerabilities: []Vulnerability{{ID: "a"}},
			Counts:          SeverityCounts{SeverityLow: 1},
			Quality:         &QualityMetrics{Bugs: &bugs},
		},
	}}
	c := r.Clone()
	tr := c.PerTool[ToolSonar]
	tr.Vulnerabilities[0].ID = "b"
	tr.Counts[SeverityLow] = 9
	tr.Quality.Ncloc = &bugs
	c.PerTool[ToolTrivy] = ToolReport{}

	orig := r.PerTool[ToolSonar]
	assert.Equal(t, "a", orig.Vulnerabilities[0].ID)
	assert.Equal(t, 1, orig.Counts[SeverityLow])
	assert.Nil(t, orig.Quality.Ncloc)
	assert.NotContains(t, r.PerTool, ToolTrivy)
}

func TestSummarize(t *testing.T) {
	r := AggregateReport{
		TotalVulnerabilities:    6,
		CriticalVulnerabilities: 1,
		OverallScore:            58,
		ScoringVersion:          "v1",
		PerTool: map[ToolID]ToolReport{
			ToolSonar: {Status: StatusAbsent, Counts: NewSeverityCounts()},
			ToolSnyk:  {Status: StatusOK, Counts: SeverityCounts{SeverityCritical: 1, SeverityHigh: 2}},
			ToolTrivy: {Status: StatusOK, Counts: SeverityCounts{SeverityLow: 2, SeverityUnknown: 1}},
		},
	}
	s := Summarize(r)
	assert.Equal(t, 6, s.Total)
	assert.Equal(t, 1, s.Critical)
	assert.Equal(t, 2, s.High)
	assert.Equal(t, 2, s.Low)
	assert.Equal(t, 1, s.Unknown)
	assert.Equal(t, []ToolID{ToolSonar, ToolOWASP}, s.ToolsAbsent)
	assert.Equal(t, "v1", s.ScoringVersion)
}
