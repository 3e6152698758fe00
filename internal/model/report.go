package model

// ToolStatus tells consumers whether a tool produced a result at all.
type ToolStatus string

const (
	StatusOK     ToolStatus = "ok"
	StatusAbsent ToolStatus = "absent"
)

// SeverityCounts holds one count per severity bucket.
type SeverityCounts map[Severity]int

// NewSeverityCounts returns counts with every bucket present and zero.
func NewSeverityCounts() SeverityCounts {
	c := make(SeverityCounts, len(Severities))
	for _, s := range Severities {
		c[s] = 0
	}
	return c
}

// Total sums every bucket.
func (c SeverityCounts) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}

// QualityMetrics are the project-level measures reported by the quality scanner.
// A nil field means the scanner did not report that measure.
type QualityMetrics struct {
	Bugs            *float64 `json:"bugs,omitempty"`
	CodeSmells      *float64 `json:"codeSmells,omitempty"`
	Coverage        *float64 `json:"coverage,omitempty"`
	Duplication     *float64 `json:"duplication,omitempty"`
	Vulnerabilities *float64 `json:"vulnerabilities,omitempty"`
	Ncloc           *float64 `json:"ncloc,omitempty"`
	Complexity      *float64 `json:"complexity,omitempty"`
}

// ToolReport is one tool's slice of the aggregate report.
//
// Counts are computed over every finding the tool reported, while Vulnerabilities is
// truncated to the display budget. The two can therefore disagree; consumers must read
// totals from Counts.
type ToolReport struct {
	Vulnerabilities []Vulnerability `json:"vulnerabilities"`
	Counts          SeverityCounts  `json:"counts"`
	SubScore        float64         `json:"subScore"`
	Status          ToolStatus      `json:"status,omitempty"`
	Quality         *QualityMetrics `json:"quality,omitempty"`
}

// AggregateReport is the unified, scored result of one scan.
type AggregateReport struct {
	PerTool                 map[ToolID]ToolReport `json:"perTool"`
	OverallScore            float64               `json:"overallScore"`
	TotalVulnerabilities    int                   `json:"totalVulnerabilities"`
	CriticalVulnerabilities int                   `json:"criticalVulnerabilities"`
	ScoringVersion          string                `json:"scoringVersion,omitempty"`
	Posture                 string                `json:"posture,omitempty"`
}

// Clone returns a deep copy so scoring never mutates a report it was handed.
func (r AggregateReport) Clone() AggregateReport {
	out := r
	out.PerTool = make(map[ToolID]ToolReport, len(r.PerTool))
	for id, tr := range r.PerTool {
		c := tr
		c.Vulnerabilities = append([]Vulnerability(nil), tr.Vulnerabilities...)
		c.Counts = make(SeverityCounts, len(tr.Counts))
		for s, n := range tr.Counts {
			c.Counts[s] = n
		}
		if tr.Quality != nil {
			q := *tr.Quality
			c.Quality = &q
		}
		out.PerTool[id] = c
	}
	return out
}
