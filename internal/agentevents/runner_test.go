package agentevents

import (
	"testing"

	"github.com/nextlevelbuilder/openclaw/internal/agent"
	"github.com/nextlevelbuilder/openclaw/internal/core"
)

func TestLoopRunnerRunWithoutBindErrors(t *testing.T) {
	r := NewLoopRunner()
	err := r.Run(core.Ctx{RunID: "run-1"}, func(core.AgentEvent) {})
	if err == nil {
		t.Fatal("expected error when Run is called before Bind")
	}
}

func TestLoopRunnerAbortUnknownRunReturnsFalse(t *testing.T) {
	r := NewLoopRunner()
	if r.Abort("nonexistent") {
		t.Fatal("expected Abort to return false for an unregistered run")
	}
}

func TestLoopRunnerHandleEventDropsUnknownRun(t *testing.T) {
	r := NewLoopRunner()
	// Must not panic: no onEvent is registered for this run id.
	r.HandleEvent(agent.AgentEvent{Type: "chunk", RunID: "ghost", Payload: map[string]interface{}{"content": "hi"}})
}

func TestLoopRunnerHandleEventDispatchesToRegisteredRun(t *testing.T) {
	r := NewLoopRunner()
	var got []core.AgentEvent
	cancel := func() {}
	r.register("run-2", cancel, func(ev core.AgentEvent) { got = append(got, ev) })
	defer r.unregister("run-2")

	r.HandleEvent(agent.AgentEvent{
		Type:    "chunk",
		RunID:   "run-2",
		Payload: map[string]interface{}{"content": "hello"},
	})

	if len(got) != 1 {
		t.Fatalf("expected 1 forwarded event, got %d", len(got))
	}
	if got[0].Kind != core.EventDelta || got[0].Text != "hello" {
		t.Fatalf("unexpected translated event: %+v", got[0])
	}
}
