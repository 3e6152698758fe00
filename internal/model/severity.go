package model

import "strings"

// Severity is the normalized severity bucket shared by every tool.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
	SeverityUnknown  Severity = "UNKNOWN"
)

// Severities lists every bucket, most severe first.
var Severities = []Severity{
	SeverityCritical,
	SeverityHigh,
	SeverityMedium,
	SeverityLow,
	SeverityUnknown,
}

var severityTable = map[string]Severity{
	"BLOCKER":  SeverityCritical,
	"CRITICAL": SeverityCritical,
	"MAJOR":    SeverityHigh,
	"HIGH":     SeverityHigh,
	"MINOR":    SeverityMedium,
	"MEDIUM":   SeverityMedium,
	"LOW":      SeverityLow,
	"INFO":     SeverityLow,
}

// ParseSeverity maps a tool-native severity string onto a bucket.
// Anything it does not recognise is UNKNOWN.
func ParseSeverity(raw string) Severity {
	if s, ok := severityTable[strings.ToUpper(strings.TrimSpace(raw))]; ok {
		return s
	}
	return SeverityUnknown
}

// Rank orders severities for comparisons (higher = more severe).
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}
