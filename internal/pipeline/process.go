package pipeline

import (
	"github.com/yourorg/scan-aggregator/internal/aggregate"
	"github.com/yourorg/scan-aggregator/internal/extract"
	"github.com/yourorg/scan-aggregator/internal/model"
	"github.com/yourorg/scan-aggregator/internal/normalize"
	"github.com/yourorg/scan-aggregator/internal/score"
)

// Result is a scored report plus the full, untruncated findings behind it.
type Result struct {
	Report   model.AggregateReport
	Findings map[model.ToolID][]model.Vulnerability
}

// All returns every finding in tool order.
func (r Result) All() []model.Vulnerability {
	var out []model.Vulnerability
	for _, id := range model.Tools {
		out = append(out, r.Findings[id]...)
	}
	return out
}

// Process extracts, normalizes, aggregates and scores. Tools missing from artifacts
// or whose payload cannot be located are absent. If every tool is absent the
// (all-absent, zero-score) report is returned together with ErrNoResults.
func Process(log []byte, artifacts map[model.ToolID]model.Artifact, budget int, prof score.Profile) (Result, error) {
	inputs := make(map[model.ToolID]aggregate.Input, len(model.Tools))
	findings := make(map[model.ToolID][]model.Vulnerability, len(model.Tools))
	present := 0
	for _, id := range model.Tools {
		a, ok := artifacts[id]
		if !ok {
			inputs[id] = aggregate.Absent
			continue
		}
		raw := extract.Extract(log, a)
		if raw == nil {
			inputs[id] = aggregate.Absent
			continue
		}
		in := aggregate.Input{Present: true}
		if id == model.ToolSonar {
			in.Vulnerabilities, in.Quality = normalize.Quality(raw)
		} else {
			in.Vulnerabilities = normalize.ByTool(id, raw)
		}
		inputs[id] = in
		findings[id] = in.Vulnerabilities
		present++
	}

	report := score.Score(aggregate.Aggregate(inputs, budget), prof)
	res := Result{Report: report, Findings: findings}
	if present == 0 {
		return res, ErrNoResults
	}
	return res, nil
}
