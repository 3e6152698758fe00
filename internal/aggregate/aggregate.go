// Package aggregate groups normalized findings per tool, counts them per severity and
// assembles the unscored report.
package aggregate

import "github.com/yourorg/scan-aggregator/internal/model"

// DefaultDisplayBudget is how many findings per tool are kept in the outward report
// when no budget is configured.
const DefaultDisplayBudget = 3

// Input is one tool's normalized result. Present is false when the tool produced no
// usable output at all.
type Input struct {
	Present         bool
	Vulnerabilities []model.Vulnerability
	Quality         *model.QualityMetrics
}

// Absent is the explicit "no result" marker for a tool.
var Absent = Input{}

// Count buckets vulns by severity. Every bucket is present in the result.
func Count(vulns []model.Vulnerability) model.SeverityCounts {
	c := model.NewSeverityCounts()
	for _, v := range vulns {
		s := v.Severity
		if _, ok := c[s]; !ok {
			s = model.SeverityUnknown
		}
		c[s]++
	}
	return c
}

// Truncate keeps the first n findings in encounter order.
func Truncate(vulns []model.Vulnerability, n int) []model.Vulnerability {
	if n < 0 {
		n = 0
	}
	if len(vulns) < n {
		n = len(vulns)
	}
	out := make([]model.Vulnerability, n)
	copy(out, vulns[:n])
	return out
}

// Aggregate builds the unscored report. Tools missing from inputs are reported as
// absent. Counts are taken before truncation, so per-tool counts describe every
// finding while the vulnerability lists hold at most budget entries. No findings are
// deduplicated across tools.
func Aggregate(inputs map[model.ToolID]Input, budget int) model.AggregateReport {
	if budget < 1 {
		budget = DefaultDisplayBudget
	}
	r := model.AggregateReport{PerTool: make(map[model.ToolID]model.ToolReport, len(model.Tools))}
	for _, id := range model.Tools {
		in, ok := inputs[id]
		if !ok || !in.Present {
			r.PerTool[id] = model.ToolReport{
				Vulnerabilities: []model.Vulnerability{},
				Counts:          model.NewSeverityCounts(),
				Status:          model.StatusAbsent,
			}
			continue
		}
		counts := Count(in.Vulnerabilities)
		tr := model.ToolReport{
			Vulnerabilities: Truncate(in.Vulnerabilities, budget),
			Counts:          counts,
			Status:          model.StatusOK,
		}
		if in.Quality != nil {
			q := *in.Quality
			tr.Quality = &q
		}
		r.PerTool[id] = tr
		r.TotalVulnerabilities += len(in.Vulnerabilities)
		r.CriticalVulnerabilities += counts[model.SeverityCritical]
	}
	return r
}
