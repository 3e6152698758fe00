// Package pipeline runs the scanners for one target and turns their raw output into a
// scored report.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yourorg/scan-aggregator/internal/model"
	"github.com/yourorg/scan-aggregator/internal/scanners"
	"github.com/yourorg/scan-aggregator/internal/score"
)

// ErrNoResults means no scanner produced a usable payload.
var ErrNoResults = errors.New("no scanner produced results")

// ToolEvent reports the end of one scanner run.
type ToolEvent struct {
	Tool     model.ToolID
	Err      error
	Duration time.Duration
}

type Pipeline struct {
	entries []scanners.Entry
	log     *zap.SugaredLogger

	// OnTool, if set, is called from the scanner goroutines as each tool finishes.
	OnTool func(ToolEvent)
}

func New(entries []scanners.Entry, log *zap.SugaredLogger) *Pipeline {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Pipeline{entries: entries, log: log}
}

// Run is the outcome of one scan.
type Run struct {
	// CombinedLog holds every successful tool's output under its marker header.
	CombinedLog []byte
	Artifacts   map[model.ToolID]model.Artifact
	Failures    map[model.ToolID]error
	Result
}

// Scan runs every scanner concurrently, each under its own timeout, then processes
// what came back. A failing scanner is logged and treated as absent. Scan only
// returns an error when ctx is cancelled or no scanner produced anything usable; in
// the latter case the returned Run is still populated.
func (p *Pipeline) Scan(ctx context.Context, t scanners.Target, budget int, prof score.Profile) (*Run, error) {
	results := make([]scanners.Result, len(p.entries))
	errs := make([]error, len(p.entries))

	g, gctx := errgroup.WithContext(ctx)
	for i, e := range p.entries {
		g.Go(func() error {
			tool := e.Scanner.Tool()
			start := time.Now()
			tctx, cancel := withTimeout(gctx, e.Timeout)
			defer cancel()

			res, err := e.Scanner.Scan(tctx, t)
			if err == nil && len(res.Output) == 0 && res.Path == "" {
				err = errors.New("empty output")
			}
			d := time.Since(start)
			if err != nil {
				p.log.Warnf("scan %s: %s absent after %s: %v", t.Dir, tool, d.Round(time.Millisecond), err)
			} else {
				p.log.Infof("scan %s: %s finished in %s", t.Dir, tool, d.Round(time.Millisecond))
			}
			res.Tool = tool
			results[i], errs[i] = res, err
			if p.OnTool != nil {
				p.OnTool(ToolEvent{Tool: tool, Err: err, Duration: d})
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	run := &Run{
		Artifacts: make(map[model.ToolID]model.Artifact, len(results)),
		Failures:  map[model.ToolID]error{},
	}
	var buf bytes.Buffer
	for i, res := range results {
		if errs[i] != nil {
			run.Failures[res.Tool] = errs[i]
			continue
		}
		body := res.Output
		if len(body) == 0 && res.Path != "" {
			b, err := os.ReadFile(res.Path)
			if err != nil {
				run.Failures[res.Tool] = fmt.Errorf("read %s: %w", res.Path, err)
				continue
			}
			body = b
		}
		WriteSection(&buf, model.Markers[res.Tool], body)
		run.Artifacts[res.Tool] = model.Artifact{Tool: res.Tool, Path: res.Path, Marker: model.Markers[res.Tool]}
	}
	run.CombinedLog = buf.Bytes()

	r, err := Process(run.CombinedLog, run.Artifacts, budget, prof)
	run.Result = r
	return run, err
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// WriteSection appends one "=== marker ===" block to a combined log.
func WriteSection(buf *bytes.Buffer, marker string, body []byte) {
	fmt.Fprintf(buf, "=== %s ===\n", marker)
	buf.Write(bytes.TrimSpace(body))
	buf.WriteString("\n\n")
}

// LogArtifacts locates every tool by marker only, for reprocessing a stored combined
// log.
func LogArtifacts() map[model.ToolID]model.Artifact {
	out := make(map[model.ToolID]model.Artifact, len(model.Tools))
	for _, id := range model.Tools {
		out[id] = model.Artifact{Tool: id, Marker: model.Markers[id]}
	}
	return out
}
