package worker

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yourorg/scan-aggregator/internal/model"
)

const (
	stageStart    = "job.start"
	stageDownload = "download"
	stageUnpack   = "unpack"
	stageScan     = "scan.start"
	stageUpload   = "upload"
	stagePersist  = "persist"
	stageDone     = "done"

	scanPctFrom = 25
	scanPctTo   = 85
)

func derivePct(stage string) int {
	switch {
	case stage == stageStart:
		return 5
	case stage == stageDownload:
		return 10
	case stage == stageUnpack:
		return 20
	case stage == stageScan:
		return scanPctFrom
	case stage == stageUpload:
		return 90
	case stage == stagePersist:
		return 95
	case stage == stageDone:
		return 100
	default:
		return 50
	}
}

// scanPct spreads the scanner stage over its band as tools finish.
func scanPct(done, total int) int {
	if total <= 0 || done >= total {
		return scanPctTo
	}
	return scanPctFrom + (scanPctTo-scanPctFrom)*done/total
}

type progressStore interface {
	UpdateProgress(ctx context.Context, id string, pct int, msg string) error
	InsertEvent(ctx context.Context, jobID string, ts time.Time, stage, detail string, pct *int) error
}

// Tracker records a job's progress events from any goroutine. Writes happen on a
// single background goroutine in emit order.
type Tracker struct {
	mu     sync.Mutex
	closed bool
	events chan model.ProgressEvent
	done   chan struct{}
}

func TrackProgress(ctx context.Context, st progressStore, jobID string, log *zap.SugaredLogger) *Tracker {
	t := &Tracker{
		events: make(chan model.ProgressEvent, 32),
		done:   make(chan struct{}),
	}
	go func() {
		defer close(t.done)
		scanned := 0
		for evt := range t.events {
			p := derivePct(evt.Stage)
			if tool, ok := strings.CutPrefix(evt.Stage, "scan."); ok && evt.Stage != stageScan {
				scanned++
				p = scanPct(scanned, len(model.Tools))
				log.Debugf("job %s: %s %s", jobID, tool, evt.Detail)
			}
			ts, err := time.Parse(time.RFC3339Nano, evt.TS)
			if err != nil {
				ts = time.Now()
			}
			if ctx.Err() != nil {
				continue
			}
			if err := st.InsertEvent(ctx, jobID, ts, evt.Stage, evt.Detail, &p); err != nil {
				log.Debugf("job %s: insert event %s: %v", jobID, evt.Stage, err)
			}
			if err := st.UpdateProgress(ctx, jobID, p, evt.Stage+": "+evt.Detail); err != nil {
				log.Debugf("job %s: update progress: %v", jobID, err)
			}
		}
	}()
	return t
}

// Emit queues an event. Events emitted after Stop are dropped.
func (t *Tracker) Emit(stage, detail string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.events <- model.ProgressEvent{Stage: stage, Detail: detail, TS: time.Now().UTC().Format(time.RFC3339Nano)}
}

// Stop flushes pending events and waits for the writer to finish.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if !t.closed {
		t.closed = true
		close(t.events)
	}
	t.mu.Unlock()
	<-t.done
}
