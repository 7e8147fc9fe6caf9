// Package followup implements the follow-up queue: messages that arrive
// while a session already has an agent run in flight are queued rather
// than dropped or run concurrently, then drained according to the
// session's configured mode once the in-flight run completes (or is
// interrupted).
package followup

import (
	"sync"
	"time"

	"github.com/nextlevelbuilder/openclaw/internal/core"
)

// Mode controls how queued follow-ups are drained.
type Mode string

const (
	// ModeCollect concatenates every queued message into one follow-up
	// turn once the current run finishes.
	ModeCollect Mode = "collect"
	// ModeLatest discards all but the newest queued message.
	ModeLatest Mode = "latest"
	// ModeInterrupt requests the in-flight run abort immediately so the
	// newest message can start right away.
	ModeInterrupt Mode = "interrupt"
)

// DefaultDebounce is how long the queue waits after the last enqueued
// message before it's considered ready to flush, so a burst of rapid
// messages collapses into one follow-up turn instead of one per message.
const DefaultDebounce = 1200 * time.Millisecond

// DefaultCap bounds how many messages can queue per session; beyond the
// cap, ModeCollect drops the oldest queued entry (the newest messages
// are assumed more relevant than the oldest).
const DefaultCap = 20

type sessionQueue struct {
	mode     Mode
	pending  []core.PendingPrompt
	lastEnq  time.Time
	onReady  func(string, []core.PendingPrompt)
	flushAt  *time.Timer
}

// Queue is the follow-up queue for all sessions. One Queue instance is
// shared across the gateway process.
type Queue struct {
	mu       sync.Mutex
	sessions map[string]*sessionQueue
	debounce time.Duration
	cap      int

	// Interrupt is called (if set) when a ModeInterrupt enqueue needs the
	// in-flight run stopped early.
	Interrupt func(sessionKey string)
}

// New creates a Queue. A zero debounce/cap falls back to the package
// defaults.
func New(debounce time.Duration, cap int) *Queue {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if cap <= 0 {
		cap = DefaultCap
	}
	return &Queue{sessions: map[string]*sessionQueue{}, debounce: debounce, cap: cap}
}

// Enqueue adds text as a follow-up for sessionKey under mode. onReady is
// invoked (once, debounced) with the accumulated pending prompts when the
// queue is ready to drain — for ModeInterrupt this fires immediately
// after requesting the abort.
func (q *Queue) Enqueue(sessionKey, text string, mode Mode, onReady func(string, []core.PendingPrompt)) {
	q.mu.Lock()
	defer q.mu.Unlock()

	sq, ok := q.sessions[sessionKey]
	if !ok {
		sq = &sessionQueue{mode: mode}
		q.sessions[sessionKey] = sq
	}
	sq.mode = mode
	sq.onReady = onReady

	prompt := core.PendingPrompt{SessionKey: sessionKey, Text: text, QueuedAt: time.Now(), Mode: string(mode)}

	switch mode {
	case ModeLatest:
		sq.pending = []core.PendingPrompt{prompt}
	case ModeInterrupt:
		sq.pending = []core.PendingPrompt{prompt}
		if q.Interrupt != nil {
			q.Interrupt(sessionKey)
		}
		q.flushLocked(sessionKey)
		return
	default: // collect
		sq.pending = append(sq.pending, prompt)
		if len(sq.pending) > q.cap {
			sq.pending = sq.pending[len(sq.pending)-q.cap:]
		}
	}

	sq.lastEnq = time.Now()
	if sq.flushAt != nil {
		sq.flushAt.Stop()
	}
	sq.flushAt = time.AfterFunc(q.debounce, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		q.flushLocked(sessionKey)
	})
}

// flushLocked must be called with q.mu held.
func (q *Queue) flushLocked(sessionKey string) {
	sq, ok := q.sessions[sessionKey]
	if !ok || len(sq.pending) == 0 {
		return
	}
	pending := sq.pending
	onReady := sq.onReady
	sq.pending = nil
	if onReady != nil {
		onReady(sessionKey, pending)
	}
}

// Len reports how many prompts are currently queued for sessionKey.
func (q *Queue) Len(sessionKey string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if sq, ok := q.sessions[sessionKey]; ok {
		return len(sq.pending)
	}
	return 0
}

// Drain immediately flushes sessionKey's queue, bypassing the debounce
// timer — called once the in-flight run actually completes so queued
// follow-ups don't wait out a redundant debounce window.
func (q *Queue) Drain(sessionKey string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if sq, ok := q.sessions[sessionKey]; ok && sq.flushAt != nil {
		sq.flushAt.Stop()
	}
	q.flushLocked(sessionKey)
}

// Clear discards sessionKey's queued follow-ups without draining them —
// called when the session is fast-aborted, so messages queued behind
// the aborted run never fire once it stops.
func (q *Queue) Clear(sessionKey string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	sq, ok := q.sessions[sessionKey]
	if !ok {
		return
	}
	if sq.flushAt != nil {
		sq.flushAt.Stop()
	}
	sq.pending = nil
}
