package orchestrator

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/openclaw/internal/abortmem"
	"github.com/nextlevelbuilder/openclaw/internal/access"
	"github.com/nextlevelbuilder/openclaw/internal/agentevents"
	"github.com/nextlevelbuilder/openclaw/internal/core"
	"github.com/nextlevelbuilder/openclaw/internal/dispatch"
	"github.com/nextlevelbuilder/openclaw/internal/followup"
	"github.com/nextlevelbuilder/openclaw/internal/sessionindex"
	"github.com/nextlevelbuilder/openclaw/internal/subagents"
)

type fakeRunner struct {
	mu      sync.Mutex
	started []core.Ctx
}

func (f *fakeRunner) Run(ctx core.Ctx, onEvent func(core.AgentEvent)) error {
	f.mu.Lock()
	f.started = append(f.started, ctx)
	f.mu.Unlock()
	onEvent(core.AgentEvent{Kind: core.EventFinal, RunID: ctx.RunID, SessionKey: ctx.SessionKey, Text: "reply to: " + ctx.Inbound.Content})
	return nil
}

func (f *fakeRunner) Abort(runID string) bool { return true }

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

func newTestOrchestrator(t *testing.T, runner *fakeRunner, sender *fakeSender) *Orchestrator {
	t.Helper()
	sessions, err := sessionindex.New(filepath.Join(t.TempDir(), "sessions.json"))
	if err != nil {
		t.Fatalf("sessionindex.New: %v", err)
	}
	handler := agentevents.NewHandler()
	d := dispatch.New(sender)
	handler.Emit = d.Enqueue

	o, err := New(Orchestrator{
		Sessions:   sessions,
		Access:     access.NewChecker(nil),
		AbortMem:   abortmem.New(nil),
		Followups:  followup.New(50*time.Millisecond, 10),
		Dispatcher: d,
		Events:     handler,
		SubAgents:  subagents.NewRegistry(),
		Runner:     runner,
		Route: func(msg core.NormalizedInboundMessage) (string, string, string, error) {
			return "agent1", "dm", msg.Channel + ":" + msg.ChatID, nil
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o
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

func TestHandleAdmittedMessageProducesReply(t *testing.T) {
	runner := &fakeRunner{}
	sender := &fakeSender{}
	o := newTestOrchestrator(t, runner, sender)

	msg := core.NormalizedInboundMessage{Channel: "telegram", SenderID: "1", ChatID: "c1", PeerKind: core.PeerDirect, Content: "hi"}
	if err := o.Handle(msg, func(string) access.PolicyConfig { return access.PolicyConfig{DMPolicy: "open"} }); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	waitFor(t, func() bool { return len(sender.snapshot()) > 0 })
	got := sender.snapshot()
	if got[0].Text != "reply to: hi" {
		t.Fatalf("unexpected reply payload: %+v", got[0])
	}
}

func TestHandleRejectsDisabledDM(t *testing.T) {
	runner := &fakeRunner{}
	sender := &fakeSender{}
	o := newTestOrchestrator(t, runner, sender)

	var rejectedReason string
	o.Hooks.OnRejected = func(msg core.NormalizedInboundMessage, reason string) { rejectedReason = reason }

	msg := core.NormalizedInboundMessage{Channel: "telegram", SenderID: "1", ChatID: "c1", PeerKind: core.PeerDirect, Content: "hi"}
	if err := o.Handle(msg, func(string) access.PolicyConfig { return access.PolicyConfig{DMPolicy: "disabled"} }); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if rejectedReason != "dm_policy_disabled" {
		t.Fatalf("expected rejection hook called, got %q", rejectedReason)
	}
	if len(runner.started) != 0 {
		t.Fatalf("expected runner not invoked for rejected message")
	}
}

func TestHandleDeduplicatesByDedupeKey(t *testing.T) {
	runner := &fakeRunner{}
	sender := &fakeSender{}
	o := newTestOrchestrator(t, runner, sender)
	policy := func(string) access.PolicyConfig { return access.PolicyConfig{DMPolicy: "open"} }

	msg := core.NormalizedInboundMessage{Channel: "telegram", SenderID: "1", ChatID: "c1", PeerKind: core.PeerDirect, Content: "hi", DedupeKey: "msg-1"}
	o.Handle(msg, policy)
	waitFor(t, func() bool { return len(sender.snapshot()) > 0 })

	o.Handle(msg, policy) // duplicate, should be dropped before reaching the runner again
	time.Sleep(30 * time.Millisecond)

	runner.mu.Lock()
	count := len(runner.started)
	runner.mu.Unlock()
	if count != 1 {
		t.Fatalf("expected exactly 1 run started, got %d", count)
	}
}

func TestFastAbortStopsActiveRun(t *testing.T) {
	runner := &fakeRunner{}
	sender := &fakeSender{}
	o := newTestOrchestrator(t, runner, sender)
	policy := func(string) access.PolicyConfig { return access.PolicyConfig{DMPolicy: "open"} }

	o.Handle(core.NormalizedInboundMessage{Channel: "telegram", SenderID: "1", ChatID: "c1", PeerKind: core.PeerDirect, Content: "hi"}, policy)
	waitFor(t, func() bool { return len(sender.snapshot()) > 0 })

	if err := o.Handle(core.NormalizedInboundMessage{Channel: "telegram", SenderID: "1", ChatID: "c1", PeerKind: core.PeerDirect, Content: "stop"}, policy); err != nil {
		t.Fatalf("Handle (abort): %v", err)
	}

	key, _ := sessionindex.BuildKey("agent1", "dm", "telegram:c1")
	if !o.AbortMem.IsAborted(key) {
		t.Fatalf("expected session marked aborted after stop phrase")
	}
}

func TestFastAbortSendsAcknowledgementReply(t *testing.T) {
	runner := &fakeRunner{}
	sender := &fakeSender{}
	o := newTestOrchestrator(t, runner, sender)
	policy := func(string) access.PolicyConfig { return access.PolicyConfig{DMPolicy: "open"} }

	if err := o.Handle(core.NormalizedInboundMessage{Channel: "telegram", SenderID: "1", ChatID: "c1", PeerKind: core.PeerDirect, Content: "stop"}, policy); err != nil {
		t.Fatalf("Handle (abort): %v", err)
	}

	waitFor(t, func() bool { return len(sender.snapshot()) > 0 })
	got := sender.snapshot()
	if got[len(got)-1].Text != abortAckBase {
		t.Fatalf("expected plain abort ack with no sub-agents stopped, got %+v", got[len(got)-1])
	}
}

func TestFastAbortAcknowledgementReportsStoppedSubagentCount(t *testing.T) {
	runner := &fakeRunner{}
	sender := &fakeSender{}
	o := newTestOrchestrator(t, runner, sender)
	policy := func(string) access.PolicyConfig { return access.PolicyConfig{DMPolicy: "open"} }

	parentKey, _ := sessionindex.BuildKey("agent1", "dm", "telegram:c1")
	child := o.SubAgents.Spawn("parent-run", parentKey, "worker")
	if _, err := o.Sessions.GetOrCreate(child.SessionKey, "agent1"); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if err := o.Sessions.SetActiveRun(child.SessionKey, "child-run"); err != nil {
		t.Fatalf("SetActiveRun: %v", err)
	}

	if err := o.Handle(core.NormalizedInboundMessage{Channel: "telegram", SenderID: "1", ChatID: "c1", PeerKind: core.PeerDirect, Content: "stop"}, policy); err != nil {
		t.Fatalf("Handle (abort): %v", err)
	}

	waitFor(t, func() bool { return len(sender.snapshot()) > 0 })
	got := sender.snapshot()
	want := abortAckBase + " Stopped 1 sub-agent."
	if got[len(got)-1].Text != want {
		t.Fatalf("expected ack %q, got %+v", want, got[len(got)-1])
	}

	run, ok := o.SubAgents.Get(child.RunID)
	if !ok || !run.Aborted || run.CompletedAt.IsZero() {
		t.Fatalf("expected child run marked aborted and completed, got %+v (ok=%v)", run, ok)
	}
}

func TestFastAbortClearsQueuedFollowups(t *testing.T) {
	runner := &fakeRunner{}
	sender := &fakeSender{}
	o := newTestOrchestrator(t, runner, sender)

	key, _ := sessionindex.BuildKey("agent1", "dm", "telegram:c1")
	fired := false
	o.Followups.Enqueue(key, "queued while running", followup.ModeCollect, func(string, []core.PendingPrompt) { fired = true })

	policy := func(string) access.PolicyConfig { return access.PolicyConfig{DMPolicy: "open"} }
	if err := o.Handle(core.NormalizedInboundMessage{Channel: "telegram", SenderID: "1", ChatID: "c1", PeerKind: core.PeerDirect, Content: "stop"}, policy); err != nil {
		t.Fatalf("Handle (abort): %v", err)
	}

	if o.Followups.Len(key) != 0 {
		t.Fatalf("expected fast-abort to clear queued follow-ups, len=%d", o.Followups.Len(key))
	}
	o.Followups.Drain(key)
	if fired {
		t.Fatalf("expected cleared follow-up to never fire")
	}
}
