// Package agentevents is the Agent Event Handler: it translates the
// agent loop's provider-facing event stream (internal/agent.AgentEvent,
// typed by dotted strings like "run.started"/"tool.call") into the
// dispatch engine's core.AgentEvent kinds, tracks tool lifecycle state
// per run, and resolves the PendingPrompt a run was serving once a
// terminal event arrives.
//
// The translation and per-run bookkeeping generalize
// internal/channels/manager.go's HandleAgentEvent, which does the same
// job but only as far as driving each channel's streaming/reaction UI —
// this handler additionally produces core.ReplyPayload-shaped output
// for the dispatcher and resolves pending follow-up state.
package agentevents

import (
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/nextlevelbuilder/openclaw/internal/agent"
	"github.com/nextlevelbuilder/openclaw/internal/core"
	"github.com/nextlevelbuilder/openclaw/pkg/protocol"
)

// maxTrackedSends bounds the per-run "have we already sent this tool's
// output" dedupe cache, evicting the oldest tracked tool-call id once a
// single run has issued an unreasonable number of tool calls.
const maxTrackedSends = 512

// maxTrackedMessagingSends bounds the per-session messaging-tool
// send-tracking caches (see messagingToolNames below).
const maxTrackedMessagingSends = 256

// messagingToolNames are the tools whose calls represent the agent
// itself delivering a message to some destination, as opposed to
// reading/searching/computing. A successful call to one of these is
// tracked so the handler can suppress the agent's streamed final reply
// when it would just duplicate what was already sent.
var messagingToolNames = map[string]bool{
	"sessions_send": true,
}

// Translate maps the agent loop's dotted-string event type to the
// dispatch engine's AgentEventKind, extracting whatever the payload
// shape for that type carries.
func Translate(ev agent.AgentEvent) core.AgentEvent {
	out := core.AgentEvent{RunID: ev.RunID, SessionKey: ev.AgentID}
	switch ev.Type {
	case "run.started":
		// No dispatch-engine event kind corresponds to a run merely
		// starting; the handler just resets its per-run state lazily on
		// the first event that does carry one.
	case protocol.ChatEventChunk:
		out.Kind = core.EventDelta
		out.Text = payloadString(ev.Payload)
	case protocol.ChatEventThinking:
		out.Kind = core.EventDelta
		out.Text = payloadString(ev.Payload)
		out.Reasoning = true
	case "tool.call":
		out.Kind = core.EventToolStart
		out.ToolName, out.ToolCallID = payloadToolIdentity(ev.Payload)
		out.ToolArgs = payloadToolArgs(ev.Payload)
	case "tool.result":
		out.Kind = core.EventToolEnd
		out.ToolName, out.ToolCallID = payloadToolIdentity(ev.Payload)
		out.ToolFailed = payloadToolFailed(ev.Payload)
	case "run.completed":
		out.Kind = core.EventFinal
		out.Text = payloadString(ev.Payload)
	case "run.failed":
		out.Kind = core.EventError
		out.Text = payloadString(ev.Payload)
		out.Reason = payloadFailureReason(ev.Payload)
	default:
		out.Kind = core.EventDelta
		out.Text = payloadString(ev.Payload)
	}
	return out
}

func payloadString(p interface{}) string {
	switch v := p.(type) {
	case string:
		return v
	case map[string]string:
		if s, ok := v["content"]; ok {
			return s
		}
		if s, ok := v["text"]; ok {
			return s
		}
		if s, ok := v["message"]; ok {
			return s
		}
	case map[string]interface{}:
		if s, ok := v["content"].(string); ok {
			return s
		}
		if s, ok := v["text"].(string); ok {
			return s
		}
		if s, ok := v["message"].(string); ok {
			return s
		}
	}
	return ""
}

func payloadToolIdentity(p interface{}) (name, callID string) {
	m, ok := p.(map[string]interface{})
	if !ok {
		return "", ""
	}
	if s, ok := m["name"].(string); ok {
		name = s
	}
	if s, ok := m["id"].(string); ok {
		callID = s
	} else if s, ok := m["toolCallId"].(string); ok {
		callID = s
	}
	return name, callID
}

// payloadToolArgs extracts the raw tool call arguments internal/agent.Loop
// attaches to a tool.call payload under "args".
func payloadToolArgs(p interface{}) map[string]interface{} {
	m, ok := p.(map[string]interface{})
	if !ok {
		return nil
	}
	args, _ := m["args"].(map[string]interface{})
	return args
}

func payloadToolFailed(p interface{}) bool {
	m, ok := p.(map[string]interface{})
	if !ok {
		return false
	}
	failed, _ := m["is_error"].(bool)
	return failed
}

// sendTargetKeys/sendTextKeys are the argument names a messaging tool
// is expected to use for its destination and body, in priority order —
// sessions_send uses session_key/label and message; the others are
// kept for any messaging tool the ecosystem later adds to
// messagingToolNames without needing a handler change.
var sendTargetKeys = []string{"session_key", "label", "to", "target", "chat_id", "channel"}
var sendTextKeys = []string{"message", "text", "content"}

func extractSendTarget(args map[string]interface{}) string {
	for _, key := range sendTargetKeys {
		if s, ok := args[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func extractSendText(args map[string]interface{}) string {
	for _, key := range sendTextKeys {
		if s, ok := args[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func payloadFailureReason(p interface{}) core.FailureReason {
	m, ok := p.(map[string]interface{})
	if !ok {
		return core.FailureUnknown
	}
	reason, _ := m["reason"].(string)
	switch core.FailureReason(reason) {
	case core.FailureAuth, core.FailureBilling, core.FailureFormat,
		core.FailureModelNotFound, core.FailureTimeout, core.FailureRateLimit:
		return core.FailureReason(reason)
	default:
		return core.FailureUnknown
	}
}

// runState is the per-run bookkeeping the handler keeps while a run is
// in flight.
type runState struct {
	sentToolCalls *lru.Cache[string, struct{}]
	deltaBuffer   string
}

// pendingSend is a messaging-tool call's target/text, held from
// tool_start until its matching tool_end resolves it as sent or
// discarded.
type pendingSend struct {
	target string
	text   string
}

// Handler consumes translated core.AgentEvents, turning tool/delta/final
// events into core.ReplyPayloads for the dispatcher and invoking
// OnComplete once a run reaches a terminal state.
type Handler struct {
	mu           sync.Mutex
	runs         map[string]*runState
	pendingSends map[string]pendingSend // toolCallID -> pending send

	// messagingToolSentTargets/Texts record the most recent successful
	// messaging-tool send per session, trimmed via LRU, so a duplicate
	// final reply repeating what the tool already delivered can be
	// suppressed instead of sent twice.
	messagingToolSentTargets *lru.Cache[string, string]
	messagingToolSentTexts   *lru.Cache[string, string]

	Emit func(core.ReplyPayload)
	// OnComplete is called with (runID, sessionKey, aborted) once a run's
	// terminal event (final/aborted/error) has been emitted, so the
	// follow-up queue can drain and sub-agent registry can mark completion.
	OnComplete func(runID, sessionKey string, aborted bool)
}

func NewHandler() *Handler {
	targets, _ := lru.New[string, string](maxTrackedMessagingSends)
	texts, _ := lru.New[string, string](maxTrackedMessagingSends)
	return &Handler{
		runs:                     map[string]*runState{},
		pendingSends:             map[string]pendingSend{},
		messagingToolSentTargets: targets,
		messagingToolSentTexts:   texts,
	}
}

func (h *Handler) stateFor(runID string) *runState {
	h.mu.Lock()
	defer h.mu.Unlock()
	rs, ok := h.runs[runID]
	if !ok {
		cache, _ := lru.New[string, struct{}](maxTrackedSends)
		rs = &runState{sentToolCalls: cache}
		h.runs[runID] = rs
	}
	return rs
}

// Handle processes one core.AgentEvent for destination, emitting a
// ReplyPayload through Emit where appropriate.
func (h *Handler) Handle(destination string, ev core.AgentEvent) {
	rs := h.stateFor(ev.RunID)

	switch ev.Kind {
	case core.EventToolStart:
		if ev.ToolCallID != "" {
			if _, dup := rs.sentToolCalls.Get(ev.ToolCallID); dup {
				return
			}
			rs.sentToolCalls.Add(ev.ToolCallID, struct{}{})
		}
		if messagingToolNames[ev.ToolName] {
			h.trackPendingSend(ev.ToolCallID, ev.ToolArgs)
		}
		h.emit(destination, ev, core.LaneTool, ev.Text, false)
	case core.EventToolUpdate:
		h.emit(destination, ev, core.LaneTool, ev.Text, false)
	case core.EventToolEnd:
		if messagingToolNames[ev.ToolName] {
			h.resolvePendingSend(ev.ToolCallID, ev.SessionKey, !ev.ToolFailed)
		}
		h.emit(destination, ev, core.LaneBlock, ev.Text, false)
	case core.EventDelta:
		if ev.Reasoning {
			// Reasoning/thinking deltas are tracked only so the caller can
			// see them go by (e.g. a "thinking..." indicator); IsReasoning
			// always suppresses delivery at the dispatcher.
			h.emit(destination, ev, core.LaneBlock, ev.Text, true)
			return
		}
		h.mu.Lock()
		rs.deltaBuffer += ev.Text
		h.mu.Unlock()
		h.emit(destination, ev, core.LaneBlock, ev.Text, false)
	case core.EventFinal:
		text := ev.Text
		if text == "" {
			// The agent loop's own "run.completed" event carries no payload;
			// the response text lives only in the accumulated delta buffer.
			h.mu.Lock()
			text = rs.deltaBuffer
			h.mu.Unlock()
		}
		if h.isDuplicateSend(ev.SessionKey, text) {
			h.finish(ev.RunID, ev.SessionKey, false)
			return
		}
		h.emit(destination, ev, core.LaneFinal, text, false)
		h.finish(ev.RunID, ev.SessionKey, false)
	case core.EventAborted:
		h.finish(ev.RunID, ev.SessionKey, true)
	case core.EventError:
		slog.Warn("agentevents.run_failed", "run_id", ev.RunID, "reason", ev.Reason, "error", ev.Text)
		h.emit(destination, ev, core.LaneFinal, ev.Text, false)
		h.finish(ev.RunID, ev.SessionKey, false)
	}
}

// trackPendingSend records a messaging tool's target/text as pending,
// keyed by its tool call id, until the matching tool_end resolves it.
func (h *Handler) trackPendingSend(toolCallID string, args map[string]interface{}) {
	if toolCallID == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pendingSends[toolCallID] = pendingSend{
		target: extractSendTarget(args),
		text:   extractSendText(args),
	}
}

// resolvePendingSend commits a pending messaging-tool send to the
// session's sent-target/text record on success, or discards it on
// failure.
func (h *Handler) resolvePendingSend(toolCallID, sessionKey string, success bool) {
	if toolCallID == "" {
		return
	}
	h.mu.Lock()
	pending, ok := h.pendingSends[toolCallID]
	delete(h.pendingSends, toolCallID)
	h.mu.Unlock()
	if !ok || !success {
		return
	}
	if pending.target != "" {
		h.messagingToolSentTargets.Add(sessionKey, pending.target)
	}
	if pending.text != "" {
		h.messagingToolSentTexts.Add(sessionKey, pending.text)
	}
}

// isDuplicateSend reports whether text is exactly what a messaging tool
// already delivered for sessionKey, so the streamed final reply that
// would otherwise repeat it can be suppressed.
func (h *Handler) isDuplicateSend(sessionKey, text string) bool {
	if sessionKey == "" || text == "" {
		return false
	}
	sent, ok := h.messagingToolSentTexts.Get(sessionKey)
	return ok && sent == text
}

func (h *Handler) emit(destination string, ev core.AgentEvent, lane core.Lane, text string, reasoning bool) {
	if h.Emit == nil {
		return
	}
	h.Emit(core.ReplyPayload{
		RunID:       ev.RunID,
		SessionKey:  ev.SessionKey,
		Destination: destination,
		Lane:        lane,
		Text:        text,
		IsReasoning: reasoning,
		Final:       lane == core.LaneFinal,
	})
}

func (h *Handler) finish(runID, sessionKey string, aborted bool) {
	h.mu.Lock()
	delete(h.runs, runID)
	h.mu.Unlock()
	if h.OnComplete != nil {
		h.OnComplete(runID, sessionKey, aborted)
	}
}
