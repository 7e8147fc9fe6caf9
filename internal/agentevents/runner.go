package agentevents

import (
	"context"
	"fmt"
	"sync"

	"github.com/nextlevelbuilder/openclaw/internal/agent"
	"github.com/nextlevelbuilder/openclaw/internal/core"
)

// LoopRunner adapts an internal/agent.Loop onto the core.AgentRunner
// contract the orchestrator drives runs through. Loop.Run blocks for
// the whole turn and reports progress through a single OnEvent sink
// fixed at construction time (the teacher's one-bus-per-agent model);
// the orchestrator instead expects a fresh onEvent callback per call to
// Run. LoopRunner bridges the two by demultiplexing the loop's shared
// event stream by RunID, the same way internal/channels/manager.go's
// RunContext/HandleAgentEvent demultiplexes by RunID for streaming UI.
//
// Construction is two-phase because of the resulting cycle: the Loop
// needs HandleEvent as its LoopConfig.OnEvent before it exists, and
// LoopRunner needs the constructed *agent.Loop to call Run on.
//
//	runner := agentevents.NewLoopRunner()
//	loop := agent.NewLoop(agent.LoopConfig{..., OnEvent: runner.HandleEvent})
//	runner.Bind(loop)
type LoopRunner struct {
	loop *agent.Loop

	mu      sync.Mutex
	pending map[string]*runHandle
}

type runHandle struct {
	cancel  context.CancelFunc
	onEvent func(core.AgentEvent)
}

// NewLoopRunner builds an unbound LoopRunner. Call Bind with the
// *agent.Loop constructed with HandleEvent as its OnEvent before Run is
// ever called.
func NewLoopRunner() *LoopRunner {
	return &LoopRunner{pending: map[string]*runHandle{}}
}

// Bind attaches the agent.Loop this runner drives. Safe to call once,
// after the Loop has been constructed with HandleEvent wired in.
func (r *LoopRunner) Bind(loop *agent.Loop) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loop = loop
}

// HandleEvent is the agent.Loop OnEvent sink: it looks up the run the
// event belongs to and forwards the translated core.AgentEvent to that
// run's caller. Events for unknown/already-finished runs are dropped.
func (r *LoopRunner) HandleEvent(ev agent.AgentEvent) {
	r.mu.Lock()
	h, ok := r.pending[ev.RunID]
	r.mu.Unlock()
	if !ok {
		return
	}
	h.onEvent(Translate(ev))
}

// Run drives one agent turn to completion, streaming translated events
// to onEvent as the underlying loop reports them. It blocks until the
// turn ends (normally, by error, or by Abort cancelling its context).
func (r *LoopRunner) Run(ctx core.Ctx, onEvent func(core.AgentEvent)) error {
	r.mu.Lock()
	loop := r.loop
	r.mu.Unlock()
	if loop == nil {
		return fmt.Errorf("agentevents: LoopRunner has no bound agent.Loop")
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r.register(ctx.RunID, cancel, onEvent)
	defer r.unregister(ctx.RunID)

	peerKind := "direct"
	if ctx.Inbound.PeerKind == core.PeerGroup {
		peerKind = "group"
	}

	_, err := loop.Run(runCtx, agent.RunRequest{
		SessionKey: ctx.SessionKey,
		Message:    ctx.Inbound.Content,
		Media:      ctx.Inbound.MediaURLs,
		Channel:    ctx.Inbound.Channel,
		ChatID:     ctx.Inbound.ChatID,
		PeerKind:   peerKind,
		RunID:      ctx.RunID,
		SenderID:   ctx.Inbound.SenderID,
		Stream:     true,
	})
	return err
}

// Abort cancels the context backing a live run, if any. Returns false
// if the run is unknown (already finished or never started here).
func (r *LoopRunner) Abort(runID string) bool {
	r.mu.Lock()
	h, ok := r.pending[runID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	h.cancel()
	return true
}

func (r *LoopRunner) register(runID string, cancel context.CancelFunc, onEvent func(core.AgentEvent)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[runID] = &runHandle{cancel: cancel, onEvent: onEvent}
}

func (r *LoopRunner) unregister(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, runID)
}
