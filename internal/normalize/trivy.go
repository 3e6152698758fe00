package normalize

import (
	"encoding/json"

	"github.com/yourorg/scan-aggregator/internal/model"
)

// trivyReport is a full report; legacy versions print a bare array of results, which
// decode into the embedded trivyResult instead. An element with neither is a bare
// vulnerability.
type trivyReport struct {
	Results list `json:"Results"`
	trivyResult
	trivyVuln
}

type trivyResult struct {
	Target          text `json:"Target"`
	Vulnerabilities list `json:"Vulnerabilities"`
	Secrets         list `json:"Secrets"`
}

type trivyVuln struct {
	VulnerabilityID  text `json:"VulnerabilityID"`
	ID               text `json:"id"`
	Title            text `json:"Title"`
	TitleAlt         text `json:"title"`
	Severity         text `json:"Severity"`
	SeverityAlt      text `json:"severity"`
	Description      text `json:"Description"`
	DescriptionAlt   text `json:"description"`
	PkgName          text `json:"PkgName"`
	InstalledVersion text `json:"InstalledVersion"`
	FixedVersion     text `json:"FixedVersion"`
}

type trivySecret struct {
	RuleID   text `json:"RuleID"`
	Category text `json:"Category"`
	Title    text `json:"Title"`
	Severity text `json:"Severity"`
	Match    text `json:"Match"`
}

// Trivy normalizes filesystem-scanner output, including secret findings.
func Trivy(raw json.RawMessage) []model.Vulnerability {
	out := []model.Vulnerability{}
	vuln := func(v trivyVuln, target text) {
		comp := component(v.PkgName, v.InstalledVersion)
		if comp == "" {
			comp = first(target)
		}
		out = append(out, model.Vulnerability{
			ID:           first(v.VulnerabilityID, v.ID),
			Title:        first(v.Title, v.TitleAlt),
			Severity:     model.ParseSeverity(first(v.Severity, v.SeverityAlt)),
			SourceTool:   model.ToolTrivy,
			Component:    comp,
			Description:  first(v.Description, v.DescriptionAlt),
			FixedVersion: optional(first(v.FixedVersion)),
		})
	}
	result := func(res trivyResult) {
		for _, v := range res.Vulnerabilities {
			each(v, func(v trivyVuln) { vuln(v, res.Target) })
		}
		for _, s := range res.Secrets {
			each(s, func(s trivySecret) {
				out = append(out, model.Vulnerability{
					ID:          first(s.RuleID),
					Title:       first(s.Title, s.Category),
					Severity:    model.ParseSeverity(string(s.Severity)),
					SourceTool:  model.ToolTrivy,
					Component:   first(res.Target),
					Description: first(s.Match),
				})
			})
		}
	}
	eachObject(raw, func(r trivyReport, obj json.RawMessage) {
		switch {
		case hasKey(obj, "Results"):
			for _, res := range r.Results {
				each(res, result)
			}
		case hasKey(obj, "Vulnerabilities", "Secrets"):
			result(r.trivyResult)
		case first(r.VulnerabilityID, r.trivyVuln.ID, r.Title, r.TitleAlt) != "":
			vuln(r.trivyVuln, r.Target)
		}
	})
	return out
}
