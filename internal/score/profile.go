package score

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/yourorg/scan-aggregator/internal/model"
)

// Dependency scanner scoring modes.
const (
	DependencySeverity = "severity"
	DependencyPresence = "presence"
)

// SeverityPenalty is the number of points each finding of a severity removes from 100.
type SeverityPenalty struct {
	Critical float64 `yaml:"critical" json:"critical"`
	High     float64 `yaml:"high" json:"high"`
	Medium   float64 `yaml:"medium" json:"medium"`
	Low      float64 `yaml:"low" json:"low"`
	Unknown  float64 `yaml:"unknown" json:"unknown"`
}

// QualityFormula parameterizes
//
//	max(0,100-BugPenalty*bugs)*BugWeight + max(0,100-SmellPenalty*smells)*SmellWeight
//	  + coverage*CoverageWeight - duplication*DuplicationWeight
type QualityFormula struct {
	BugPenalty        float64 `yaml:"bugPenalty" json:"bugPenalty"`
	SmellPenalty      float64 `yaml:"smellPenalty" json:"smellPenalty"`
	BugWeight         float64 `yaml:"bugWeight" json:"bugWeight"`
	SmellWeight       float64 `yaml:"smellWeight" json:"smellWeight"`
	CoverageWeight    float64 `yaml:"coverageWeight" json:"coverageWeight"`
	DuplicationWeight float64 `yaml:"duplicationWeight" json:"duplicationWeight"`
}

// Profile is a versioned scoring configuration. Weights are not renormalized: a tool
// with no result scores 0 and still carries its weight.
type Profile struct {
	Version         string                   `yaml:"version" json:"version"`
	Weights         map[model.ToolID]float64 `yaml:"weights" json:"weights"`
	SeverityPenalty SeverityPenalty          `yaml:"severityPenalty" json:"severityPenalty"`
	Quality         QualityFormula           `yaml:"quality" json:"quality"`
	DependencyMode  string                   `yaml:"dependencyMode" json:"dependencyMode"`
}

// Default is the v1 profile: dependency scanners 0.4 (split evenly between the two),
// quality scanner 0.3, filesystem scanner 0.3.
func Default() Profile {
	return Profile{
		Version: "v1",
		Weights: map[model.ToolID]float64{
			model.ToolSnyk:  0.2,
			model.ToolOWASP: 0.2,
			model.ToolSonar: 0.3,
			model.ToolTrivy: 0.3,
		},
		SeverityPenalty: SeverityPenalty{Critical: 10, High: 5, Medium: 2, Low: 1},
		Quality: QualityFormula{
			BugPenalty:     10,
			SmellPenalty:   5,
			BugWeight:      0.4,
			SmellWeight:    0.4,
			CoverageWeight: 0.2,
		},
		DependencyMode: DependencySeverity,
	}
}

var ErrInvalidProfile = errors.New("invalid scoring profile")

// Load reads a YAML profile. Keys the file leaves out keep their Default values;
// listed weights override the default weight of that tool only.
func Load(path string) (Profile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("read scoring profile %s: %w", path, err)
	}
	return Parse(b)
}

// Parse decodes and validates a YAML profile.
func Parse(b []byte) (Profile, error) {
	p := Default()
	weights := p.Weights
	p.Weights = nil
	if err := yaml.Unmarshal(b, &p); err != nil {
		return Profile{}, fmt.Errorf("decode scoring profile: %w", err)
	}
	for id, w := range p.Weights {
		weights[id] = w
	}
	p.Weights = weights
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// Validate rejects profiles that cannot produce a meaningful score.
func (p Profile) Validate() error {
	if p.Version == "" {
		return fmt.Errorf("%w: version is required", ErrInvalidProfile)
	}
	known := map[model.ToolID]bool{}
	for _, id := range model.Tools {
		known[id] = true
	}
	sum := 0.0
	for id, w := range p.Weights {
		if !known[id] {
			return fmt.Errorf("%w: unknown tool %q", ErrInvalidProfile, id)
		}
		if w < 0 {
			return fmt.Errorf("%w: negative weight for %s", ErrInvalidProfile, id)
		}
		sum += w
	}
	if sum <= 0 {
		return fmt.Errorf("%w: weights sum to zero", ErrInvalidProfile)
	}
	sp := p.SeverityPenalty
	for _, v := range []float64{sp.Critical, sp.High, sp.Medium, sp.Low, sp.Unknown} {
		if v < 0 {
			return fmt.Errorf("%w: negative severity penalty", ErrInvalidProfile)
		}
	}
	q := p.Quality
	for _, v := range []float64{q.BugPenalty, q.SmellPenalty, q.BugWeight, q.SmellWeight, q.CoverageWeight, q.DuplicationWeight} {
		if v < 0 {
			return fmt.Errorf("%w: negative quality parameter", ErrInvalidProfile)
		}
	}
	switch p.DependencyMode {
	case DependencySeverity, DependencyPresence:
	default:
		return fmt.Errorf("%w: dependencyMode %q", ErrInvalidProfile, p.DependencyMode)
	}
	return nil
}
