// Package dispatch implements the reply Dispatcher: per-destination
// ordered delivery across three priority lanes (tool < block < final),
// where a run's final payload is only ever emitted after every
// tool/block payload queued for that same run has gone out.
//
// This generalizes internal/channels/manager.go's dispatchOutbound
// goroutine-per-stream idiom: instead of one shared outbound consumer
// per channel, each destination gets its own single-worker queue, which
// gives strict per-destination ordering (the teacher's "promise chain"
// behavior) while leaving unrelated destinations fully concurrent.
package dispatch

import (
	"log/slog"
	"sync"

	"github.com/nextlevelbuilder/openclaw/internal/core"
)

// queueCapacity bounds how many payloads can be outstanding for one
// destination before Enqueue blocks the caller; this is a backpressure
// valve, not an expected steady-state depth.
const queueCapacity = 256

type lane struct {
	mu           sync.Mutex
	queue        []core.ReplyPayload
	pendingByRun map[string]int
	heldFinals   map[string][]core.ReplyPayload
	running      bool
	cond         *sync.Cond
}

func newLane() *lane {
	l := &lane{pendingByRun: map[string]int{}, heldFinals: map[string][]core.ReplyPayload{}}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Dispatcher owns one lane per destination and a ChannelSender used to
// actually deliver payloads.
type Dispatcher struct {
	sender core.ChannelSender

	mu    sync.Mutex
	lanes map[string]*lane
}

// New creates a Dispatcher delivering through sender.
func New(sender core.ChannelSender) *Dispatcher {
	return &Dispatcher{sender: sender, lanes: map[string]*lane{}}
}

func (d *Dispatcher) laneFor(destination string) *lane {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.lanes[destination]
	if !ok {
		l = newLane()
		d.lanes[destination] = l
		go d.run(destination, l)
	}
	return l
}

// Enqueue admits payload into its destination's lane. Reasoning payloads
// are always suppressed — they're never a candidate for delivery to any
// destination, per the dispatch engine's reply semantics.
func (d *Dispatcher) Enqueue(payload core.ReplyPayload) {
	if payload.IsReasoning {
		return
	}
	l := d.laneFor(payload.Destination)

	l.mu.Lock()
	defer l.mu.Unlock()

	if payload.Lane == core.LaneFinal && l.pendingByRun[payload.RunID] > 0 {
		l.heldFinals[payload.RunID] = append(l.heldFinals[payload.RunID], payload)
		return
	}
	if payload.Lane != core.LaneFinal {
		l.pendingByRun[payload.RunID]++
	}
	for len(l.queue) >= queueCapacity {
		l.cond.Wait()
	}
	l.queue = append(l.queue, payload)
	l.cond.Signal()
}

// run is the single worker for one destination's lane; it processes
// payloads strictly in arrival order, releasing held finals once their
// run's outstanding tool/block count reaches zero.
func (d *Dispatcher) run(destination string, l *lane) {
	for {
		l.mu.Lock()
		for len(l.queue) == 0 {
			l.cond.Wait()
		}
		payload := l.queue[0]
		l.queue = l.queue[1:]
		l.cond.Signal() // wake any Enqueue blocked on backpressure
		l.mu.Unlock()

		if err := d.sender.Send(destination, payload); err != nil {
			slog.Warn("dispatch.send_failed", "destination", destination, "run_id", payload.RunID, "lane", payload.Lane.String(), "error", err)
		}

		if payload.Lane == core.LaneFinal {
			continue
		}

		l.mu.Lock()
		l.pendingByRun[payload.RunID]--
		if l.pendingByRun[payload.RunID] <= 0 {
			delete(l.pendingByRun, payload.RunID)
			if held := l.heldFinals[payload.RunID]; len(held) > 0 {
				l.queue = append(l.queue, held...)
				delete(l.heldFinals, payload.RunID)
				l.cond.Signal()
			}
		}
		l.mu.Unlock()
	}
}

// ClearRun discards any queued-but-undelivered tool/block/held-final
// payloads for runID on destination. Used when a run is aborted so
// payloads it queued before the abort don't keep trickling out after
// the agent has already stopped.
func (d *Dispatcher) ClearRun(destination, runID string) {
	d.mu.Lock()
	l, ok := d.lanes[destination]
	d.mu.Unlock()
	if !ok {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	filtered := l.queue[:0]
	for _, p := range l.queue {
		if p.RunID != runID {
			filtered = append(filtered, p)
		}
	}
	l.queue = filtered
	delete(l.pendingByRun, runID)
	delete(l.heldFinals, runID)
}

// PendingCount returns how many tool/block payloads are outstanding for
// runID on destination (test/diagnostic use).
func (d *Dispatcher) PendingCount(destination, runID string) int {
	d.mu.Lock()
	l, ok := d.lanes[destination]
	d.mu.Unlock()
	if !ok {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pendingByRun[runID]
}
