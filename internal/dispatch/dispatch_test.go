package dispatch

import (
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/openclaw/internal/core"
)

type fakeSender struct {
	mu  sync.Mutex
	got []core.ReplyPayload
}

func (f *fakeSender) Send(destination string, payload core.ReplyPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, payload)
	return nil
}

func (f *fakeSender) SetTyping(destination string, on bool) {}

func (f *fakeSender) snapshot() []core.ReplyPayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]core.ReplyPayload, len(f.got))
	copy(out, f.got)
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestFinalWaitsForPendingToolWork(t *testing.T) {
	sender := &blockingSender{release: make(chan struct{})}
	d := New(sender)

	// The sender holds the first delivery, so tool-1 is still outstanding
	// when final arrives and block-1 is queued behind it.
	d.Enqueue(core.ReplyPayload{RunID: "r1", Destination: "telegram:1", Lane: core.LaneTool, Text: "tool-1"})
	d.Enqueue(core.ReplyPayload{RunID: "r1", Destination: "telegram:1", Lane: core.LaneFinal, Text: "final"})
	d.Enqueue(core.ReplyPayload{RunID: "r1", Destination: "telegram:1", Lane: core.LaneBlock, Text: "block-1"})

	time.Sleep(20 * time.Millisecond)
	got := sender.snapshot()
	if len(got) != 0 {
		t.Fatalf("expected nothing delivered while the first send is held, got %+v", got)
	}

	close(sender.release)
	waitFor(t, func() bool { return len(sender.snapshot()) >= 3 })
	got = sender.snapshot()
	if len(got) != 3 {
		t.Fatalf("expected 3 payloads sent, got %+v", got)
	}
	if got[2].Text != "final" || got[2].Lane != core.LaneFinal {
		t.Fatalf("expected final to be sent last, got %+v", got[2])
	}
}

func TestReasoningPayloadsAreSuppressed(t *testing.T) {
	sender := &fakeSender{}
	d := New(sender)
	d.Enqueue(core.ReplyPayload{RunID: "r1", Destination: "telegram:1", Lane: core.LaneBlock, IsReasoning: true, Text: "thinking..."})
	d.Enqueue(core.ReplyPayload{RunID: "r1", Destination: "telegram:1", Lane: core.LaneFinal, Text: "done"})

	waitFor(t, func() bool { return len(sender.snapshot()) >= 1 })
	got := sender.snapshot()
	if len(got) != 1 || got[0].Text != "done" {
		t.Fatalf("expected reasoning payload suppressed, got %+v", got)
	}
}

func TestIndependentDestinationsDoNotBlockEachOther(t *testing.T) {
	sender := &fakeSender{}
	d := New(sender)
	d.Enqueue(core.ReplyPayload{RunID: "r1", Destination: "telegram:1", Lane: core.LaneTool, Text: "a"})
	d.Enqueue(core.ReplyPayload{RunID: "r2", Destination: "discord:2", Lane: core.LaneFinal, Text: "b"})

	waitFor(t, func() bool { return len(sender.snapshot()) >= 2 })
}

// blockingSender holds the first Send until release is closed, so a test
// can enqueue further payloads while one is still "in flight" and assert
// on what ClearRun manages to drop before the worker gets to it. If
// started is non-nil it is closed once the first Send has begun.
type blockingSender struct {
	fakeSender
	release chan struct{}
	started chan struct{}
	first   sync.Once
}

func (f *blockingSender) Send(destination string, payload core.ReplyPayload) error {
	f.first.Do(func() {
		if f.started != nil {
			close(f.started)
		}
		<-f.release
	})
	return f.fakeSender.Send(destination, payload)
}

func TestClearRunDropsQueuedPayloadsForAbortedRun(t *testing.T) {
	sender := &blockingSender{release: make(chan struct{}), started: make(chan struct{})}
	d := New(sender)

	d.Enqueue(core.ReplyPayload{RunID: "r1", Destination: "telegram:1", Lane: core.LaneTool, Text: "first"})
	<-sender.started
	// The worker blocks sending "first"; these queue up behind it.
	d.Enqueue(core.ReplyPayload{RunID: "r1", Destination: "telegram:1", Lane: core.LaneTool, Text: "second"})
	d.Enqueue(core.ReplyPayload{RunID: "r1", Destination: "telegram:1", Lane: core.LaneFinal, Text: "final"})

	d.ClearRun("telegram:1", "r1")
	close(sender.release)

	waitFor(t, func() bool { return len(sender.snapshot()) >= 1 })
	time.Sleep(20 * time.Millisecond)
	got := sender.snapshot()
	if len(got) != 1 || got[0].Text != "first" {
		t.Fatalf("expected only the already-dequeued payload sent, got %+v", got)
	}
	if d.PendingCount("telegram:1", "r1") != 0 {
		t.Fatalf("expected ClearRun to reset pending count for r1")
	}
}
