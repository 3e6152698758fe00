package normalize

import (
	"bytes"
	"encoding/json"

	"github.com/yourorg/scan-aggregator/internal/model"
)

// sonarDoc covers the shapes the quality scanner is seen to emit: an issues/measures
// document, a measures API response nested under component, a bare measure, or a bare
// issue.
type sonarDoc struct {
	Issues    list           `json:"issues"`
	Measures  list           `json:"measures"`
	Component sonarComponent `json:"component"`

	Metric text `json:"metric"`
	Value  text `json:"value"`

	Key      text `json:"key"`
	Rule     text `json:"rule"`
	Message  text `json:"message"`
	Severity text `json:"severity"`
}

// sonarComponent is either a component key (on issues) or the measures API's component
// object.
type sonarComponent struct {
	Name     text
	Measures list
}

func (c *sonarComponent) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '{' {
		var v struct {
			Key      text `json:"key"`
			Measures list `json:"measures"`
		}
		_ = json.Unmarshal(b, &v)
		c.Name, c.Measures = v.Key, v.Measures
		return nil
	}
	return c.Name.UnmarshalJSON(b)
}

type sonarIssue struct {
	Key       text `json:"key"`
	Rule      text `json:"rule"`
	Message   text `json:"message"`
	Severity  text `json:"severity"`
	Component text `json:"component"`
}

type sonarMeasure struct {
	Metric text `json:"metric"`
	Value  text `json:"value"`
}

// Quality normalizes quality-scanner output. Metrics is nil when the payload carried
// no measures at all.
func Quality(raw json.RawMessage) ([]model.Vulnerability, *model.QualityMetrics) {
	vulns := []model.Vulnerability{}
	var metrics *model.QualityMetrics

	addIssue := func(is sonarIssue) {
		vulns = append(vulns, model.Vulnerability{
			ID:          first(is.Key),
			Title:       first(is.Rule, is.Message),
			Severity:    model.ParseSeverity(string(is.Severity)),
			SourceTool:  model.ToolSonar,
			Component:   first(is.Component),
			Description: first(is.Message),
		})
	}
	addMeasure := func(m sonarMeasure) {
		v, ok := m.Value.number()
		if !ok {
			return
		}
		if metrics == nil {
			metrics = &model.QualityMetrics{}
		}
		switch first(m.Metric) {
		case "bugs":
			metrics.Bugs = &v
		case "code_smells":
			metrics.CodeSmells = &v
		case "coverage":
			metrics.Coverage = &v
		case "duplicated_lines_density":
			metrics.Duplication = &v
		case "vulnerabilities":
			metrics.Vulnerabilities = &v
		case "ncloc":
			metrics.Ncloc = &v
		case "complexity":
			metrics.Complexity = &v
		}
	}

	eachObject(raw, func(d sonarDoc, obj json.RawMessage) {
		if first(d.Metric) != "" {
			addMeasure(sonarMeasure{Metric: d.Metric, Value: d.Value})
			return
		}
		for _, m := range d.Measures {
			each(m, addMeasure)
		}
		for _, m := range d.Component.Measures {
			each(m, addMeasure)
		}
		for _, is := range d.Issues {
			each(is, addIssue)
		}
		if !hasKey(obj, "issues", "measures") && first(d.Key, d.Rule, d.Message) != "" {
			addIssue(sonarIssue{
				Key:       d.Key,
				Rule:      d.Rule,
				Message:   d.Message,
				Severity:  d.Severity,
				Component: d.Component.Name,
			})
		}
	})
	return vulns, metrics
}
