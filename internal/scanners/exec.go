package scanners

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/yourorg/scan-aggregator/internal/model"
)

// Trivy scans the source tree for vulnerable packages and leaked secrets.
type Trivy struct {
	Bin      string
	CacheDir string
	Timeout  time.Duration
}

func (s *Trivy) Tool() model.ToolID { return model.ToolTrivy }

func (s *Trivy) command(t Target) command {
	args := []string{
		"fs", t.Dir,
		"--scanners", "vuln,secret",
		"--include-dev-deps",
		"--severity", "LOW,MEDIUM,HIGH,CRITICAL",
		"--format", "json",
		"--quiet",
	}
	if s.CacheDir != "" {
		args = append(args, "--cache-dir", s.CacheDir)
	}
	if s.Timeout > 0 {
		args = append(args, "--timeout", s.Timeout.String())
	}
	return command{bin: s.Bin, args: args}
}

func (s *Trivy) Scan(ctx context.Context, t Target) (Result, error) {
	out, err := s.command(t).run(ctx)
	if err != nil {
		return Result{}, err
	}
	return Result{Tool: model.ToolTrivy, Output: out}, nil
}

// Snyk tests the declared dependencies of the tree. It exits 1 when it finds
// vulnerabilities, which is still a successful run.
type Snyk struct {
	Bin   string
	Token string
	OrgID string
}

func (s *Snyk) Tool() model.ToolID { return model.ToolSnyk }

func (s *Snyk) command(t Target) command {
	args := []string{"test", "--json"}
	if s.OrgID != "" {
		args = append(args, "--org="+s.OrgID)
	}
	return command{
		bin:    s.Bin,
		args:   args,
		dir:    t.Dir,
		env:    []string{"SNYK_TOKEN=" + s.Token},
		okExit: []int{1},
	}
}

func (s *Snyk) Scan(ctx context.Context, t Target) (Result, error) {
	if s.Token == "" {
		return Result{}, fmt.Errorf("snyk: %w: SNYK_TOKEN is empty", ErrNotConfigured)
	}
	out, err := s.command(t).run(ctx)
	if err != nil {
		return Result{}, err
	}
	return Result{Tool: model.ToolSnyk, Output: out}, nil
}

// DependencyCheck runs OWASP Dependency-Check. Its report goes to a file in the work
// dir rather than stdout.
type DependencyCheck struct {
	Bin          string
	Project      string
	Suppressions string
}

const dependencyCheckReport = "dc-report.json"

func (s *DependencyCheck) Tool() model.ToolID { return model.ToolOWASP }

func (s *DependencyCheck) command(t Target) (command, string) {
	project := s.Project
	if project == "" {
		project = "ScanProject"
	}
	out := filepath.Join(t.WorkDir, dependencyCheckReport)
	args := []string{
		"--project", project,
		"--scan", t.Dir,
		"--format", "JSON",
		"--out", out,
	}
	if s.Suppressions != "" {
		args = append(args, "--suppression", s.Suppressions)
	}
	return command{bin: s.Bin, args: args}, out
}

func (s *DependencyCheck) Scan(ctx context.Context, t Target) (Result, error) {
	cmd, out := s.command(t)
	if _, err := cmd.run(ctx); err != nil {
		return Result{}, err
	}
	if _, err := os.Stat(out); err != nil {
		return Result{}, fmt.Errorf("dependency-check report: %w", err)
	}
	return Result{Tool: model.ToolOWASP, Path: out}, nil
}
