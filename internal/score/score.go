// Package score turns an aggregated report into per-tool sub-scores and one weighted
// overall score. Every score is on a 0-100 scale where higher is better.
package score

import (
	"math"

	"github.com/yourorg/scan-aggregator/internal/model"
)

// Kind is the scoring family a tool belongs to.
type Kind int

const (
	KindQuality Kind = iota
	KindDependency
	KindFilesystem
)

var kinds = map[model.ToolID]Kind{
	model.ToolSonar: KindQuality,
	model.ToolSnyk:  KindDependency,
	model.ToolOWASP: KindDependency,
	model.ToolTrivy: KindFilesystem,
}

// Score returns a scored copy of r. The input report is not modified.
func Score(r model.AggregateReport, p Profile) model.AggregateReport {
	out := r.Clone()
	overall := 0.0
	for _, id := range model.Tools {
		tr, ok := out.PerTool[id]
		if !ok {
			continue
		}
		tr.SubScore = round2(ToolScore(id, tr, p))
		out.PerTool[id] = tr
		overall += p.Weights[id] * tr.SubScore
	}
	out.OverallScore = math.Round(clamp(overall))
	out.ScoringVersion = p.Version
	out.Posture = Posture(out.OverallScore)
	return out
}

// ToolScore computes one tool's sub-score. A tool without a result scores 0.
func ToolScore(id model.ToolID, tr model.ToolReport, p Profile) float64 {
	if tr.Status == model.StatusAbsent {
		return 0
	}
	switch kinds[id] {
	case KindQuality:
		return QualityScore(tr.Quality, p.Quality)
	case KindDependency:
		if p.DependencyMode == DependencyPresence {
			return 100
		}
		return SeverityScore(tr.Counts, p.SeverityPenalty)
	default:
		return SeverityScore(tr.Counts, p.SeverityPenalty)
	}
}

// SeverityScore deducts a fixed penalty per finding from 100, floored at 0.
func SeverityScore(c model.SeverityCounts, sp SeverityPenalty) float64 {
	deduct := sp.Critical*float64(c[model.SeverityCritical]) +
		sp.High*float64(c[model.SeverityHigh]) +
		sp.Medium*float64(c[model.SeverityMedium]) +
		sp.Low*float64(c[model.SeverityLow]) +
		sp.Unknown*float64(c[model.SeverityUnknown])
	return clamp(100 - deduct)
}

// QualityScore scores the quality scanner's project metrics. Missing metrics count
// as 0.
func QualityScore(m *model.QualityMetrics, f QualityFormula) float64 {
	if m == nil {
		m = &model.QualityMetrics{}
	}
	bugs := value(m.Bugs)
	smells := value(m.CodeSmells)
	coverage := clamp(value(m.Coverage))
	dup := clamp(value(m.Duplication))

	s := math.Max(0, 100-f.BugPenalty*bugs)*f.BugWeight +
		math.Max(0, 100-f.SmellPenalty*smells)*f.SmellWeight +
		coverage*f.CoverageWeight -
		dup*f.DuplicationWeight
	return clamp(s)
}

// Posture bands an overall score.
func Posture(overall float64) string {
	switch {
	case overall >= 90:
		return "LOW"
	case overall >= 70:
		return "MODERATE"
	case overall >= 50:
		return "HIGH"
	default:
		return "CRITICAL"
	}
}

func value(p *float64) float64 {
	if p == nil || math.IsNaN(*p) {
		return 0
	}
	return *p
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
