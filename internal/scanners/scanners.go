// Package scanners runs the external tools that produce raw scanner output. Nothing
// here interprets that output; it only captures stdout or points at the file the tool
// wrote.
package scanners

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/yourorg/scan-aggregator/internal/config"
	"github.com/yourorg/scan-aggregator/internal/model"
	"go.uber.org/zap"
)

// Target is what a scan runs against.
type Target struct {
	Dir        string // unpacked source tree
	WorkDir    string // scratch space for tool output files
	ProjectKey string // quality-scanner project; empty disables it
}

// Result is one tool's raw output. Either Output or Path (or both) is set.
type Result struct {
	Tool   model.ToolID
	Output []byte
	Path   string
}

type Scanner interface {
	Tool() model.ToolID
	Scan(ctx context.Context, t Target) (Result, error)
}

// Entry pairs a scanner with its deadline. A zero Timeout means no deadline beyond the
// caller's context.
type Entry struct {
	Scanner Scanner
	Timeout time.Duration
}

var ErrNotConfigured = errors.New("scanner not configured")

// FromConfig builds the four standard scanners.
func FromConfig(t config.Tools, log *zap.SugaredLogger) []Entry {
	return []Entry{
		{Scanner: NewSonar(t.SonarHost, t.SonarToken, t.SonarOrg, t.SonarTimeout, log), Timeout: t.SonarTimeout},
		{Scanner: &Snyk{Bin: t.SnykPath, Token: t.SnykToken, OrgID: t.SnykOrgID}, Timeout: t.SnykTimeout},
		{Scanner: &Trivy{Bin: t.TrivyPath, Timeout: t.TrivyTimeout}, Timeout: t.TrivyTimeout},
		{Scanner: &DependencyCheck{Bin: t.DependencyCheckPath, Suppressions: t.OWASPSuppressions}, Timeout: t.OWASPTimeout},
	}
}

const stderrTail = 2048

type command struct {
	bin  string
	args []string
	dir  string
	env  []string
	// exit codes other than 0 that still mean the tool ran and reported
	okExit []int
}

func (c command) String() string {
	return c.bin + " " + strings.Join(c.args, " ")
}

func (c command) run(ctx context.Context) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.bin, c.args...)
	cmd.Dir = c.dir
	if len(c.env) > 0 {
		cmd.Env = append(os.Environ(), c.env...)
	}
	cmd.WaitDelay = 5 * time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() != nil {
		return nil, fmt.Errorf("%s: %w", c.bin, ctx.Err())
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && c.accepts(exitErr.ExitCode()) {
		err = nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", c.bin, err, tail(stderr.Bytes()))
	}
	return stdout.Bytes(), nil
}

func (c command) accepts(code int) bool {
	for _, ok := range c.okExit {
		if code == ok {
			return true
		}
	}
	return false
}

func tail(b []byte) string {
	b = bytes.TrimSpace(b)
	if len(b) > stderrTail {
		b = b[len(b)-stderrTail:]
	}
	return string(b)
}
