package model

type ProgressEvent struct {
	Stage  string `json:"stage"`
	Detail string `json:"detail"`
	TS     string `json:"ts"`
}

// Summary is the small per-job digest stored next to the report pointer.
type Summary struct {
	Total          int      `json:"total_findings"`
	Critical       int      `json:"critical"`
	High           int      `json:"high"`
	Medium         int      `json:"medium"`
	Low            int      `json:"low"`
	Unknown        int      `json:"unknown"`
	OverallScore   float64  `json:"overall_score"`
	ScoringVersion string   `json:"scoring_version"`
	ToolsAbsent    []ToolID `json:"tools_absent"`
}

// Summarize digests a scored report. Severity totals come from the full counts, not
// the truncated display lists.
func Summarize(r AggregateReport) Summary {
	s := Summary{
		Total:          r.TotalVulnerabilities,
		Critical:       r.CriticalVulnerabilities,
		OverallScore:   r.OverallScore,
		ScoringVersion: r.ScoringVersion,
		ToolsAbsent:    []ToolID{},
	}
	for _, id := range Tools {
		tr, ok := r.PerTool[id]
		if !ok || tr.Status == StatusAbsent {
			s.ToolsAbsent = append(s.ToolsAbsent, id)
			continue
		}
		s.High += tr.Counts[SeverityHigh]
		s.Medium += tr.Counts[SeverityMedium]
		s.Low += tr.Counts[SeverityLow]
		s.Unknown += tr.Counts[SeverityUnknown]
	}
	return s
}
