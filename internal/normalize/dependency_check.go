package normalize

import (
	"encoding/json"

	"github.com/yourorg/scan-aggregator/internal/model"
)

// dcReport is the full report. Elements without a dependencies key are read as a
// single dependency or a bare vulnerability.
type dcReport struct {
	Dependencies list `json:"dependencies"`
	dcDependency
	dcVuln
}

type dcDependency struct {
	FileName        text `json:"fileName"`
	FilePath        text `json:"filePath"`
	Vulnerabilities list `json:"vulnerabilities"`
}

type dcVuln struct {
	Name        text `json:"name"`
	Key         text `json:"key"`
	Severity    text `json:"severity"`
	Description text `json:"description"`
	Component   text `json:"component"`
}

// DependencyCheck normalizes dependency-scanner-B (OWASP Dependency-Check) output.
// The finding title is the vulnerable file, as the tool reports per dependency.
func DependencyCheck(raw json.RawMessage) []model.Vulnerability {
	out := []model.Vulnerability{}
	vuln := func(d dcDependency, v dcVuln) {
		out = append(out, model.Vulnerability{
			ID:          first(v.Name, v.Key),
			Title:       first(d.FileName, v.Component),
			Severity:    model.ParseSeverity(string(v.Severity)),
			SourceTool:  model.ToolOWASP,
			Component:   first(d.FileName, d.FilePath, v.Component),
			Description: first(v.Description),
		})
	}
	dependency := func(d dcDependency) {
		for _, v := range d.Vulnerabilities {
			each(v, func(v dcVuln) { vuln(d, v) })
		}
	}
	eachObject(raw, func(r dcReport, obj json.RawMessage) {
		switch {
		case hasKey(obj, "dependencies"):
			for _, d := range r.Dependencies {
				each(d, dependency)
			}
		case hasKey(obj, "vulnerabilities"):
			dependency(r.dcDependency)
		case first(r.Name, r.Key, r.FileName) != "":
			vuln(r.dcDependency, r.dcVuln)
		}
	})
	return out
}
