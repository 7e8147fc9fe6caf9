// Package core holds the shared types the inbound-to-reply dispatch
// engine passes between its components: normalized inbound messages,
// outbound reply payloads, the agent-runner streaming contract, and
// the session/run identifiers threaded through all of them.
package core

import "time"

// PeerKind distinguishes a direct message from a group/channel message,
// mirroring the distinction the channel adapters already make when
// building session keys.
type PeerKind string

const (
	PeerDirect PeerKind = "direct"
	PeerGroup  PeerKind = "group"
)

// NormalizedInboundMessage is the channel-agnostic shape every adapter
// converts its wire message into before it reaches access control.
type NormalizedInboundMessage struct {
	Channel      string
	SenderID     string // compound "id|username" where the channel supports it
	ChatID       string
	PeerKind     PeerKind
	Content      string
	Mentioned    bool // true if the bot was explicitly mentioned/replied-to
	MediaURLs    []string
	ReceivedAt   time.Time
	DedupeKey    string // channel-native message id, for inbound dedupe
	AccountID    string // multi-account channels (e.g. multiple bot tokens)
	Metadata     map[string]string
}

// Ctx is the per-message working context threaded through the
// orchestrator pipeline once access control has admitted the message.
type Ctx struct {
	SessionKey string
	AgentID    string
	RunID      string
	Inbound    NormalizedInboundMessage
}

// ReplyPayload is a single unit of outbound content the dispatcher
// delivers to a destination, tagged with the lane it belongs to.
type ReplyPayload struct {
	RunID       string
	SessionKey  string
	Destination string // usually Channel+":"+ChatID
	Lane        Lane
	Text        string
	MediaURLs   []string
	IsReasoning bool // reasoning/thinking payloads are always suppressed
	Final       bool
}

// Lane is the dispatcher's priority class for a reply payload.
type Lane int

const (
	LaneTool Lane = iota
	LaneBlock
	LaneFinal
)

func (l Lane) String() string {
	switch l {
	case LaneTool:
		return "tool"
	case LaneBlock:
		return "block"
	case LaneFinal:
		return "final"
	default:
		return "unknown"
	}
}

// AgentEventKind enumerates the event stream an AgentRunner emits for a run.
type AgentEventKind string

const (
	EventToolStart  AgentEventKind = "tool_start"
	EventToolUpdate AgentEventKind = "tool_update"
	EventToolEnd    AgentEventKind = "tool_end"
	EventDelta      AgentEventKind = "delta"
	EventFinal      AgentEventKind = "final"
	EventAborted    AgentEventKind = "aborted"
	EventError      AgentEventKind = "error"
)

// AgentEvent is one event in an agent run's stream, as seen by the
// Agent Event Handler.
type AgentEvent struct {
	Kind       AgentEventKind
	RunID      string
	SessionKey string
	Text       string // delta/final text, or error message
	ToolName   string
	ToolCallID string
	ToolArgs   map[string]interface{} // set on EventToolStart, raw tool call arguments
	ToolFailed bool                   // set on EventToolEnd
	Reasoning  bool                   // true for thinking/reasoning deltas; never delivered downstream
	Reason     FailureReason          // set on EventError
}

// FailureReason classifies why an agent turn or provider call failed,
// driving auth-profile cooldown selection.
type FailureReason string

const (
	FailureAuth           FailureReason = "auth"
	FailureBilling        FailureReason = "billing"
	FailureFormat         FailureReason = "format"
	FailureModelNotFound  FailureReason = "model_not_found"
	FailureTimeout        FailureReason = "timeout"
	FailureRateLimit      FailureReason = "rate_limit"
	FailureUnknown        FailureReason = "unknown"
)

// AgentRunner executes one agent turn and streams AgentEvents for it.
// Implementations wrap the provider-facing agent loop.
type AgentRunner interface {
	Run(ctx Ctx, onEvent func(AgentEvent)) error
	Abort(runID string) bool
}

// ChannelSender is the outbound half of a channel adapter, as consumed
// by the dispatcher.
type ChannelSender interface {
	Send(destination string, payload ReplyPayload) error
	SetTyping(destination string, on bool)
}

// SubAgentRun tracks one sub-agent invocation spawned from a parent run.
type SubAgentRun struct {
	RunID        string
	ParentRunID  string
	SessionKey   string
	ParentKey    string
	Label        string
	StartedAt    time.Time
	CompletedAt  time.Time
	Aborted      bool
}

// PendingPrompt is a queued follow-up message waiting for the current
// run on a session to complete.
type PendingPrompt struct {
	SessionKey string
	Text       string
	QueuedAt   time.Time
	Mode       string // "collect" | "latest" | "interrupt"
}
