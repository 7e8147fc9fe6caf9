package agentevents

import (
	"testing"

	"github.com/nextlevelbuilder/openclaw/internal/agent"
	"github.com/nextlevelbuilder/openclaw/internal/core"
)

func TestTranslateChunkToDelta(t *testing.T) {
	ev := Translate(agent.AgentEvent{Type: "chunk", RunID: "r1", Payload: "hello"})
	if ev.Kind != core.EventDelta || ev.Text != "hello" {
		t.Fatalf("unexpected translation: %+v", ev)
	}
}

func TestTranslateToolCallExtractsIdentity(t *testing.T) {
	ev := Translate(agent.AgentEvent{Type: "tool.call", RunID: "r1", Payload: map[string]interface{}{
		"name": "web_search", "id": "call-1",
	}})
	if ev.Kind != core.EventToolStart || ev.ToolName != "web_search" || ev.ToolCallID != "call-1" {
		t.Fatalf("unexpected translation: %+v", ev)
	}
}

func TestTranslateRunFailedExtractsReason(t *testing.T) {
	ev := Translate(agent.AgentEvent{Type: "run.failed", RunID: "r1", Payload: map[string]interface{}{
		"message": "boom", "reason": "rate_limit",
	}})
	if ev.Kind != core.EventError || ev.Reason != core.FailureRateLimit || ev.Text != "boom" {
		t.Fatalf("unexpected translation: %+v", ev)
	}
}

func TestTranslateRunStartedProducesNoActionableKind(t *testing.T) {
	ev := Translate(agent.AgentEvent{Type: "run.started", RunID: "r1"})
	if ev.Kind != "" {
		t.Fatalf("expected empty kind for run.started, got %q", ev.Kind)
	}
}

func TestHandlerEmitsFinalAndCallsOnComplete(t *testing.T) {
	h := NewHandler()
	var emitted []core.ReplyPayload
	h.Emit = func(p core.ReplyPayload) { emitted = append(emitted, p) }

	var completedRun, completedSession string
	var aborted bool
	h.OnComplete = func(runID, sessionKey string, a bool) {
		completedRun, completedSession, aborted = runID, sessionKey, a
	}

	h.Handle("telegram:1", core.AgentEvent{Kind: core.EventFinal, RunID: "r1", SessionKey: "s1", Text: "done"})

	if len(emitted) != 1 || emitted[0].Lane != core.LaneFinal || !emitted[0].Final {
		t.Fatalf("expected final payload emitted, got %+v", emitted)
	}
	if completedRun != "r1" || completedSession != "s1" || aborted {
		t.Fatalf("unexpected OnComplete args: %q %q %v", completedRun, completedSession, aborted)
	}
}

func TestHandlerFinalFallsBackToDeltaBufferWhenTextEmpty(t *testing.T) {
	h := NewHandler()
	var emitted []core.ReplyPayload
	h.Emit = func(p core.ReplyPayload) { emitted = append(emitted, p) }

	h.Handle("telegram:1", core.AgentEvent{Kind: core.EventDelta, RunID: "r1", Text: "hel"})
	h.Handle("telegram:1", core.AgentEvent{Kind: core.EventDelta, RunID: "r1", Text: "lo"})
	h.Handle("telegram:1", core.AgentEvent{Kind: core.EventFinal, RunID: "r1", SessionKey: "s1", Text: ""})

	final := emitted[len(emitted)-1]
	if final.Lane != core.LaneFinal || final.Text != "hello" {
		t.Fatalf("expected final text to fall back to the accumulated delta buffer, got %+v", final)
	}
}

func TestHandlerDedupesRepeatedToolCallID(t *testing.T) {
	h := NewHandler()
	var emitted []core.ReplyPayload
	h.Emit = func(p core.ReplyPayload) { emitted = append(emitted, p) }

	ev := core.AgentEvent{Kind: core.EventToolStart, RunID: "r1", ToolCallID: "call-1", Text: "running"}
	h.Handle("telegram:1", ev)
	h.Handle("telegram:1", ev)

	if len(emitted) != 1 {
		t.Fatalf("expected duplicate tool_start for the same call id to be suppressed, got %d emits", len(emitted))
	}
}

func TestHandlerPlainDeltaNotMarkedReasoning(t *testing.T) {
	h := NewHandler()
	var emitted []core.ReplyPayload
	h.Emit = func(p core.ReplyPayload) { emitted = append(emitted, p) }
	h.Handle("telegram:1", core.AgentEvent{Kind: core.EventDelta, RunID: "r1", Text: "partial"})
	if len(emitted) != 1 || emitted[0].IsReasoning || emitted[0].Text != "partial" {
		t.Fatalf("expected plain delta to reach the sender unsuppressed, got %+v", emitted)
	}
}

func TestHandlerReasoningDeltaMarkedReasoning(t *testing.T) {
	h := NewHandler()
	var emitted []core.ReplyPayload
	h.Emit = func(p core.ReplyPayload) { emitted = append(emitted, p) }
	h.Handle("telegram:1", core.AgentEvent{Kind: core.EventDelta, RunID: "r1", Text: "thinking...", Reasoning: true})
	if len(emitted) != 1 || !emitted[0].IsReasoning {
		t.Fatalf("expected reasoning delta marked reasoning, got %+v", emitted)
	}
}

func TestTranslateThinkingMarkedReasoning(t *testing.T) {
	ev := Translate(agent.AgentEvent{Type: "thinking", RunID: "r1", Payload: map[string]string{"content": "hmm"}})
	if ev.Kind != core.EventDelta || !ev.Reasoning || ev.Text != "hmm" {
		t.Fatalf("unexpected translation: %+v", ev)
	}
}

func TestTranslateChunkExtractsContentFromStringMap(t *testing.T) {
	ev := Translate(agent.AgentEvent{Type: "chunk", RunID: "r1", Payload: map[string]string{"content": "hel"}})
	if ev.Kind != core.EventDelta || ev.Reasoning || ev.Text != "hel" {
		t.Fatalf("unexpected translation: %+v", ev)
	}
}

func TestHandlerSuppressesDuplicateFinalAfterMessagingToolSend(t *testing.T) {
	h := NewHandler()
	var emitted []core.ReplyPayload
	h.Emit = func(p core.ReplyPayload) { emitted = append(emitted, p) }

	h.Handle("telegram:1", core.AgentEvent{
		Kind: core.EventToolStart, RunID: "r1", SessionKey: "s1",
		ToolName: "sessions_send", ToolCallID: "call-1",
		ToolArgs: map[string]interface{}{"session_key": "s2", "message": "hello there"},
	})
	h.Handle("telegram:1", core.AgentEvent{
		Kind: core.EventToolEnd, RunID: "r1", SessionKey: "s1",
		ToolName: "sessions_send", ToolCallID: "call-1",
	})
	h.Handle("telegram:1", core.AgentEvent{Kind: core.EventFinal, RunID: "r1", SessionKey: "s1", Text: "hello there"})

	for _, p := range emitted {
		if p.Lane == core.LaneFinal {
			t.Fatalf("expected duplicate final reply to be suppressed, got %+v", emitted)
		}
	}
}

func TestHandlerDiscardsPendingSendOnToolFailure(t *testing.T) {
	h := NewHandler()
	h.Emit = func(core.ReplyPayload) {}

	h.Handle("telegram:1", core.AgentEvent{
		Kind: core.EventToolStart, RunID: "r1", SessionKey: "s1",
		ToolName: "sessions_send", ToolCallID: "call-1",
		ToolArgs: map[string]interface{}{"session_key": "s2", "message": "hello there"},
	})
	h.Handle("telegram:1", core.AgentEvent{
		Kind: core.EventToolEnd, RunID: "r1", SessionKey: "s1",
		ToolName: "sessions_send", ToolCallID: "call-1", ToolFailed: true,
	})

	var emitted []core.ReplyPayload
	h.Emit = func(p core.ReplyPayload) { emitted = append(emitted, p) }
	h.Handle("telegram:1", core.AgentEvent{Kind: core.EventFinal, RunID: "r1", SessionKey: "s1", Text: "hello there"})

	if len(emitted) != 1 || emitted[0].Lane != core.LaneFinal {
		t.Fatalf("expected final reply to still be delivered after a failed send, got %+v", emitted)
	}
}
