package model

// ToolID identifies one scanner family. The string values are the keys used in the
// outward report.
type ToolID string

const (
	ToolSonar ToolID = "sonar" // quality scanner
	ToolSnyk  ToolID = "snyk"  // dependency scanner A
	ToolTrivy ToolID = "trivy" // filesystem scanner
	ToolOWASP ToolID = "owasp" // dependency scanner B
)

// Tools is the fixed set of scanners, in report order.
var Tools = []ToolID{ToolSonar, ToolSnyk, ToolTrivy, ToolOWASP}

// Markers are the combined-log section headers each tool's output is written under.
var Markers = map[ToolID]string{
	ToolSonar: "Résultat SonarCloud",
	ToolSnyk:  "Résultat Snyk",
	ToolTrivy: "Résultat Trivy",
	ToolOWASP: "Résultat OWASP Dependency Check",
}

// CombinedMarker heads the section holding every tool's merged output.
const CombinedMarker = "Résultat combiné de tous les outils"

// Vulnerability is one finding after normalization. ID and Title are always present,
// possibly empty.
type Vulnerability struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Severity     Severity `json:"severity"`
	SourceTool   ToolID   `json:"sourceTool"`
	Component    string   `json:"component"`
	Description  string   `json:"description"`
	FixedVersion *string  `json:"fixedVersion,omitempty"`
}

// Artifact locates one tool's raw output: a sidecar file at Path, or the section
// named Marker inside the combined log. Path wins when the file exists.
type Artifact struct {
	Tool   ToolID `json:"tool"`
	Path   string `json:"path,omitempty"`
	Marker string `json:"marker,omitempty"`
}
