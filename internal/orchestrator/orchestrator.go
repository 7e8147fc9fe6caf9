// Package orchestrator implements the Inbound Orchestrator: the
// pipeline every admitted inbound message runs through, from dedupe to
// dispatching its reply. It is the top-level wiring point for every
// other core package (access, abortmem, sessionindex, followup,
// dispatch, agentevents, subagents).
package orchestrator

import (
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/nextlevelbuilder/openclaw/internal/abortmem"
	"github.com/nextlevelbuilder/openclaw/internal/access"
	"github.com/nextlevelbuilder/openclaw/internal/agentevents"
	"github.com/nextlevelbuilder/openclaw/internal/core"
	"github.com/nextlevelbuilder/openclaw/internal/dispatch"
	"github.com/nextlevelbuilder/openclaw/internal/followup"
	"github.com/nextlevelbuilder/openclaw/internal/sessionindex"
	"github.com/nextlevelbuilder/openclaw/internal/subagents"
)

// dedupeCacheSize bounds the inbound message-id dedupe cache, per
// destination-agnostic channel-native message id.
const dedupeCacheSize = 4096

// RouteFunc resolves which agent should own an admitted message, and
// under what session scope/origin, letting the caller keep binding
// rules (config.AgentBinding-style routing) outside this package.
type RouteFunc func(msg core.NormalizedInboundMessage) (agentID, scope, origin string, err error)

// Hooks lets a caller observe pipeline outcomes without coupling the
// orchestrator to a concrete event bus.
type Hooks struct {
	OnAdmitted func(ctx core.Ctx)
	OnRejected func(msg core.NormalizedInboundMessage, reason string)
	OnAborted  func(ctx core.Ctx)
	OnComplete func(ctx core.Ctx)
}

// Orchestrator wires every dispatch-engine component into the single
// inbound-to-reply pipeline.
type Orchestrator struct {
	Sessions   *sessionindex.Store
	Access     *access.Checker
	AbortMem   *abortmem.Memory
	Followups  *followup.Queue
	Dispatcher *dispatch.Dispatcher
	Events     *agentevents.Handler
	SubAgents  *subagents.Registry
	Runner     core.AgentRunner
	Route      RouteFunc
	Hooks      Hooks

	dedupe *lru.Cache[string, struct{}]
}

// New builds an Orchestrator from its component dependencies. New itself
// checks only Runner and Route. Handle also uses Access, Sessions,
// Followups and AbortMem without nil checks, and Dispatcher/Events once
// an agent replies; SubAgents and Hooks may be nil.
func New(deps Orchestrator) (*Orchestrator, error) {
	if deps.Runner == nil {
		return nil, fmt.Errorf("orchestrator: Runner is required")
	}
	if deps.Route == nil {
		return nil, fmt.Errorf("orchestrator: Route is required")
	}
	cache, err := lru.New[string, struct{}](dedupeCacheSize)
	if err != nil {
		return nil, err
	}
	deps.dedupe = cache
	return &deps, nil
}

// PolicyLookup resolves the access.PolicyConfig for a channel, injected
// so the orchestrator doesn't need to know about internal/config.
type PolicyLookup func(channel string) access.PolicyConfig

// Handle runs msg through the full pipeline: dedupe, fast-abort, access
// control, route resolution, session resolution, and agent dispatch.
func (o *Orchestrator) Handle(msg core.NormalizedInboundMessage, policyFor PolicyLookup) error {
	if o.isDuplicate(msg) {
		slog.Debug("orchestrator.duplicate_dropped", "channel", msg.Channel, "dedupe_key", msg.DedupeKey)
		return nil
	}

	if o.AbortMem != nil && abortmem.IsStopPhrase(msg.Content) {
		return o.handleFastAbort(msg)
	}

	var cfg access.PolicyConfig
	if policyFor != nil {
		cfg = policyFor(msg.Channel)
	}
	decision := o.Access.Check(msg, cfg)
	if !decision.Allow {
		if o.Hooks.OnRejected != nil {
			o.Hooks.OnRejected(msg, decision.Reason)
		}
		return nil
	}

	agentID, scope, origin, err := o.Route(msg)
	if err != nil {
		return fmt.Errorf("orchestrator: route: %w", err)
	}
	sessionKey, err := sessionindex.BuildKey(agentID, scope, origin)
	if err != nil {
		return fmt.Errorf("orchestrator: build session key: %w", err)
	}
	entry, err := o.Sessions.GetOrCreate(sessionKey, agentID)
	if err != nil {
		return fmt.Errorf("orchestrator: resolve session: %w", err)
	}

	ctx := core.Ctx{SessionKey: sessionKey, AgentID: agentID, Inbound: msg}

	if entry.ActiveRunID != "" {
		o.Followups.Enqueue(sessionKey, msg.Content, followup.ModeCollect, func(key string, pending []core.PendingPrompt) {
			o.runFollowup(ctx, pending)
		})
		return nil
	}

	return o.startRun(ctx)
}

func (o *Orchestrator) isDuplicate(msg core.NormalizedInboundMessage) bool {
	if msg.DedupeKey == "" {
		return false
	}
	key := msg.Channel + "|" + msg.DedupeKey
	if _, seen := o.dedupe.Get(key); seen {
		return true
	}
	o.dedupe.Add(key, struct{}{})
	return false
}

// abortAckBase is the one-line acknowledgement a fast-abort always sends
// back to the destination that triggered it.
const abortAckBase = "⚙️ Agent was aborted."

// handleFastAbort runs the stop-phrase cascade: mark the session (and
// its whole sub-agent subtree) aborted, stop the in-flight run and every
// running sub-agent run under it, clear queued follow-ups so nothing
// queued behind the aborted run still fires, drop anything already
// queued in the dispatcher for the aborted runs, and finally
// acknowledge the abort back to the user.
func (o *Orchestrator) handleFastAbort(msg core.NormalizedInboundMessage) error {
	agentID, scope, origin, err := o.Route(msg)
	if err != nil {
		return nil
	}
	sessionKey, err := sessionindex.BuildKey(agentID, scope, origin)
	if err != nil {
		return nil
	}
	destination := msg.Channel + ":" + msg.ChatID

	o.AbortMem.Abort(sessionKey)
	o.Followups.Clear(sessionKey)

	if entry, ok := o.Sessions.Get(sessionKey); ok && entry.ActiveRunID != "" {
		o.Runner.Abort(entry.ActiveRunID)
		o.Dispatcher.ClearRun(destination, entry.ActiveRunID)
	}

	stopped := o.cascadeStopSubAgents(sessionKey)

	ack := abortAckBase
	if stopped > 0 {
		unit := "sub-agent"
		if stopped != 1 {
			unit = "sub-agents"
		}
		ack += fmt.Sprintf(" Stopped %d %s.", stopped, unit)
	}
	o.Dispatcher.Enqueue(core.ReplyPayload{
		SessionKey:  sessionKey,
		Destination: destination,
		Lane:        core.LaneFinal,
		Text:        ack,
		Final:       true,
	})

	if o.Hooks.OnAborted != nil {
		o.Hooks.OnAborted(core.Ctx{SessionKey: sessionKey, AgentID: agentID, Inbound: msg})
	}
	return nil
}

// cascadeStopSubAgents stops every sub-agent run parented (directly or
// transitively) by sessionKey and returns how many were actually
// running (and so actually stopped). It still recurses into an
// already-completed child's own children, since a completed parent run
// doesn't imply its descendants were ever told to stop.
func (o *Orchestrator) cascadeStopSubAgents(sessionKey string) int {
	if o.SubAgents == nil {
		return 0
	}
	stopped := 0
	for _, child := range o.SubAgents.AllChildrenOf(sessionKey) {
		if child.CompletedAt.IsZero() {
			o.AbortMem.Abort(child.SessionKey)
			o.SubAgents.MarkAborted(child.RunID)
			o.SubAgents.Complete(child.RunID)
			if entry, ok := o.Sessions.Get(child.SessionKey); ok && entry.ActiveRunID != "" {
				o.Runner.Abort(entry.ActiveRunID)
			}
			o.Followups.Clear(child.SessionKey)
			stopped++
		}
		stopped += o.cascadeStopSubAgents(child.SessionKey)
	}
	return stopped
}

func (o *Orchestrator) startRun(ctx core.Ctx) error {
	runID := ctx.RunID
	if runID == "" {
		runID = ctx.SessionKey + ":" + time.Now().Format("20060102T150405.000000000")
		ctx.RunID = runID
	}
	if err := o.Sessions.SetActiveRun(ctx.SessionKey, runID); err != nil {
		return fmt.Errorf("orchestrator: set active run: %w", err)
	}
	o.AbortMem.Clear(ctx.SessionKey)

	if o.Hooks.OnAdmitted != nil {
		o.Hooks.OnAdmitted(ctx)
	}

	destination := ctx.Inbound.Channel + ":" + ctx.Inbound.ChatID
	go func() {
		err := o.Runner.Run(ctx, func(ev core.AgentEvent) {
			if o.AbortMem.IsAborted(ctx.SessionKey) {
				ev.Kind = core.EventAborted
			}
			o.Events.Handle(destination, ev)
		})
		if err != nil {
			slog.Warn("orchestrator.run_failed", "session_key", ctx.SessionKey, "run_id", runID, "error", err)
		}
		o.Sessions.SetActiveRun(ctx.SessionKey, "")
		o.Followups.Drain(ctx.SessionKey)
		if o.Hooks.OnComplete != nil {
			o.Hooks.OnComplete(ctx)
		}
	}()
	return nil
}

func (o *Orchestrator) runFollowup(ctx core.Ctx, pending []core.PendingPrompt) {
	text := ""
	for i, p := range pending {
		if i > 0 {
			text += "\n\n"
		}
		text += p.Text
	}
	ctx.Inbound.Content = text
	ctx.RunID = ""
	if err := o.startRun(ctx); err != nil {
		slog.Warn("orchestrator.followup_run_failed", "session_key", ctx.SessionKey, "error", err)
	}
}
