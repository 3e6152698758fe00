package normalize

import (
	"encoding/json"

	"github.com/yourorg/scan-aggregator/internal/model"
)

// snykDoc is one project result; `snyk test --all-projects --json` emits an array of
// them.
type snykDoc struct {
	Vulnerabilities list `json:"vulnerabilities"`
	snykVuln
}

type snykVuln struct {
	ID           text `json:"id"`
	Name         text `json:"name"`
	Title        text `json:"title"`
	Severity     text `json:"severity"`
	SeverityAlt  text `json:"Severity"`
	Description  text `json:"description"`
	Message      text `json:"message"`
	PackageName  text `json:"packageName"`
	Version      text `json:"version"`
	FixedIn      list `json:"fixedIn"`
	DisplayTitle text `json:"displayTitle"`
}

// Snyk normalizes dependency-scanner-A output.
func Snyk(raw json.RawMessage) []model.Vulnerability {
	out := []model.Vulnerability{}
	add := func(v snykVuln) {
		out = append(out, model.Vulnerability{
			ID:           first(v.ID, v.Name),
			Title:        first(v.Title, v.DisplayTitle),
			Severity:     model.ParseSeverity(first(v.Severity, v.SeverityAlt)),
			SourceTool:   model.ToolSnyk,
			Component:    component(v.PackageName, v.Version),
			Description:  first(v.Description, v.Message),
			FixedVersion: optional(firstText(v.FixedIn)),
		})
	}
	eachObject(raw, func(d snykDoc, obj json.RawMessage) {
		if hasKey(obj, "vulnerabilities") {
			for _, v := range d.Vulnerabilities {
				each(v, add)
			}
			return
		}
		// A bare vulnerability rather than a project document.
		if first(d.ID, d.Name, d.Title, d.DisplayTitle) != "" {
			add(d.snykVuln)
		}
	})
	return out
}

// firstText returns the first scalar in l as a string.
func firstText(l list) string {
	for _, item := range l {
		var t text
		_ = t.UnmarshalJSON(item)
		if s := first(t); s != "" {
			return s
		}
	}
	return ""
}
