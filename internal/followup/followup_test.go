package followup

import (
	"testing"
	"time"

	"github.com/nextlevelbuilder/openclaw/internal/core"
)

func TestEnqueueCollectDrainConcatenatesInOrder(t *testing.T) {
	q := New(time.Hour, 10) // long debounce; we Drain explicitly
	var got []core.PendingPrompt
	ready := func(key string, prompts []core.PendingPrompt) { got = prompts }

	q.Enqueue("s1", "first", ModeCollect, ready)
	q.Enqueue("s1", "second", ModeCollect, ready)
	q.Drain("s1")

	if len(got) != 2 || got[0].Text != "first" || got[1].Text != "second" {
		t.Fatalf("unexpected drained prompts: %+v", got)
	}
}

func TestEnqueueLatestKeepsOnlyNewest(t *testing.T) {
	q := New(time.Hour, 10)
	var got []core.PendingPrompt
	ready := func(key string, prompts []core.PendingPrompt) { got = prompts }

	q.Enqueue("s1", "first", ModeLatest, ready)
	q.Enqueue("s1", "second", ModeLatest, ready)
	q.Drain("s1")

	if len(got) != 1 || got[0].Text != "second" {
		t.Fatalf("expected only newest prompt, got %+v", got)
	}
}

func TestEnqueueInterruptFiresImmediatelyAndRequestsAbort(t *testing.T) {
	q := New(time.Hour, 10)
	var interrupted string
	q.Interrupt = func(key string) { interrupted = key }

	var got []core.PendingPrompt
	ready := func(key string, prompts []core.PendingPrompt) { got = prompts }
	q.Enqueue("s1", "stop and do this instead", ModeInterrupt, ready)

	if interrupted != "s1" {
		t.Fatalf("expected Interrupt to be called for s1, got %q", interrupted)
	}
	if len(got) != 1 || got[0].Text != "stop and do this instead" {
		t.Fatalf("expected immediate flush on interrupt, got %+v", got)
	}
}

func TestCollectCapDropsOldest(t *testing.T) {
	q := New(time.Hour, 2)
	var got []core.PendingPrompt
	ready := func(key string, prompts []core.PendingPrompt) { got = prompts }

	q.Enqueue("s1", "a", ModeCollect, ready)
	q.Enqueue("s1", "b", ModeCollect, ready)
	q.Enqueue("s1", "c", ModeCollect, ready)
	q.Drain("s1")

	if len(got) != 2 || got[0].Text != "b" || got[1].Text != "c" {
		t.Fatalf("expected cap to drop oldest, got %+v", got)
	}
}

func TestDebounceFlushesAutomatically(t *testing.T) {
	q := New(20*time.Millisecond, 10)
	done := make(chan []core.PendingPrompt, 1)
	q.Enqueue("s1", "hello", ModeCollect, func(key string, prompts []core.PendingPrompt) {
		done <- prompts
	})

	select {
	case prompts := <-done:
		if len(prompts) != 1 || prompts[0].Text != "hello" {
			t.Fatalf("unexpected prompts: %+v", prompts)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for debounced flush")
	}
}

func TestClearDiscardsQueuedFollowupsWithoutFiringOnReady(t *testing.T) {
	q := New(time.Hour, 10)
	fired := false
	q.Enqueue("s1", "a", ModeCollect, func(string, []core.PendingPrompt) { fired = true })

	q.Clear("s1")

	if q.Len("s1") != 0 {
		t.Fatalf("expected queue cleared, got len %d", q.Len("s1"))
	}
	q.Drain("s1")
	if fired {
		t.Fatalf("expected Clear to discard pending follow-ups, not just delay them")
	}
}
