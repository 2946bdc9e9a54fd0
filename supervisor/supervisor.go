// Package supervisor implements the Invocation Supervisor: it drives a
// Runnable tree against a Session, opening one invocation per node,
// running the agent step loop, and exposing the call/spawn/dispatch/
// transfer handoff primitives to Step and Tool bodies.
package supervisor

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"goa.design/flow/errs"
	"goa.design/flow/event"
	"goa.design/flow/fingerprint"
	"goa.design/flow/model"
	"goa.design/flow/runnable"
	"goa.design/flow/runresult"
	"goa.design/flow/session"
	"goa.design/flow/tool"
)

// Supervisor drives Runnable trees against Sessions. One Supervisor can
// drive many concurrent sessions; all session-local mutable state lives in
// the Session itself, serialised by its own lock.
type Supervisor struct {
	// Adapters maps a model.Config.Provider to the Adapter that serves it.
	Adapters map[string]model.Adapter
	// ToolFanOut and ToolLimiter configure every tool.Engine this
	// Supervisor builds for an Agent's tool batch resolution.
	ToolFanOut  int
	ToolLimiter *rate.Limiter
	// ToolMiddleware wraps every tool Execute/Finalize call, outermost
	// first, across every Agent this Supervisor runs.
	ToolMiddleware []tool.Middleware
	// ErrorHandlers decides recovery for a tool call's terminal failure
	// once the tool's own retry policy has been exhausted. Skip and
	// fallback decisions are applied; any other decision, retry included,
	// leaves the failure in place. Nil means every failure aborts the call.
	ErrorHandlers errs.Chain

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	parents map[string]string

	// dispatched tracks detached dispatch() invocations so a session
	// teardown can await them instead of leaking goroutines.
	dispatched sync.WaitGroup
}

// New constructs a Supervisor with the given provider adapters.
func New(adapters map[string]model.Adapter) *Supervisor {
	return &Supervisor{
		Adapters: adapters,
		cancels:  make(map[string]context.CancelFunc),
		parents:  make(map[string]string),
	}
}

// Run drives root against sess as a brand new top-level invocation: the
// session has no open invocation yet (or this call starts an independent
// turn alongside completed prior ones). args seeds the root StepContext's
// Args.
func (sv *Supervisor) Run(ctx context.Context, root runnable.Runnable, sess *session.Session, args map[string]any) (*runresult.RunResult, error) {
	sess.SetStatus(session.StatusRunning)
	ctx = withSession(ctx, sess)
	out, err := sv.runInvocation(ctx, sess, root, "", invocationOpts{}, args, nil)
	return sv.toRunResult(sess, out, err)
}

// Resume rebuilds the invocation tree from the session's event log, locates
// the deepest yielded invocation whose pending calls are all now satisfied,
// validates structural compatibility against root, replays state, and
// re-enters the agent step loop.
func (sv *Supervisor) Resume(ctx context.Context, root runnable.Runnable, sess *session.Session) (*runresult.RunResult, error) {
	events := sess.Events()
	roots := BuildTree(events)

	stillPendingNames := make(map[string]string)
	for _, pc := range sess.PendingCalls() {
		stillPendingNames[pc.CallID] = pc.Name
	}
	stillPending := make(map[string]bool, len(stillPendingNames))
	for id := range stillPendingNames {
		stillPending[id] = true
	}

	target := DeepestYielded(roots, stillPending)
	if target == nil {
		return nil, errs.New(errs.UnknownPendingCall, "no yielded invocation is ready to resume")
	}

	agentRunnable, ok := findRunnableByName(root, target.AgentName)
	if !ok {
		return nil, errs.Newf(errs.PipelineStructureChanged, "resumed invocation %q names agent %q not present in the current pipeline", target.InvocationID, target.AgentName)
	}
	a, ok := agentRunnable.(*runnable.Agent)
	if !ok {
		return nil, errs.Newf(errs.PipelineStructureChanged, "resumed invocation %q is not an agent", target.InvocationID)
	}

	// Every still-unanswered call must belong to a tool that opted into
	// partialResume; otherwise the resume waits for all answers.
	toolByName := make(map[string]*tool.Tool, len(a.Tools))
	for _, t := range a.Tools {
		toolByName[t.Name] = t
	}
	for _, id := range target.PendingCallIDs {
		if !stillPending[id] {
			continue
		}
		name := stillPendingNames[id]
		if t, ok := toolByName[name]; !ok || !t.PartialResume {
			return nil, errs.New(errs.UnknownPendingCall, "resume requested with unanswered calls that do not opt into partialResume")
		}
	}

	// Fingerprint validation is only meaningful against the true session
	// root (no parent, no handoff origin): that is the only invocation_start
	// carrying a fingerprint.
	rootNode := findSessionRoot(roots)
	if rootNode != nil && rootNode.Fingerprint != "" {
		current := fingerprint.Compute(root)
		if string(current) != rootNode.Fingerprint {
			return nil, &PipelineStructureChangedError{
				SessionID:          sess.ID(),
				StoredFingerprint:  fingerprint.Hash(rootNode.Fingerprint),
				CurrentFingerprint: current,
			}
		}
	}

	sess.SetStatus(session.StatusRunning)

	engine := sv.buildToolEngine(a)
	for _, id := range target.PendingCallIDs {
		if stillPending[id] {
			continue // unanswered, but tolerated via partialResume
		}
		name := findAnsweredCallName(target.Events, id)
		input := findToolInput(target.Events, id)
		re, err := engine.Finalize(ctx, sess, target.InvocationID, id, name, input)
		if err != nil {
			return nil, err
		}
		if _, err := sess.AppendEvent(*re); err != nil {
			return nil, err
		}
	}

	resumedStepIndex := lastStepIndex(target.StepBlocks) + 1
	if _, err := sess.AppendEvent(event.Event{
		Type:         event.TypeInvocationResume,
		InvocationID: target.InvocationID,
		Payload:      event.InvocationResume{ResumedStepIndex: resumedStepIndex},
	}); err != nil {
		return nil, err
	}

	resumeCtx := withInvocationID(withSession(ctx, sess), target.InvocationID)
	out, err := sv.stepAgentLoop(resumeCtx, sess, a, target.InvocationID, resumedStepIndex)
	out.invocationID = target.InvocationID
	out, err = sv.closeInvocation(ctx, sess, target.InvocationID, nil, out, err)
	return sv.toRunResult(sess, out, err)
}

// findAnsweredCallName locates the tool_call event for callID within
// invocation events and returns its tool name.
func findAnsweredCallName(events []*event.Event, callID string) string {
	for _, e := range events {
		if e.Type == event.TypeToolCall {
			if tc, ok := e.AsToolCall(); ok && tc.CallID == callID {
				return tc.Name
			}
		}
	}
	return ""
}

// findToolInput locates the tool_input event for callID within invocation
// events and returns its Input payload.
func findToolInput(events []*event.Event, callID string) []byte {
	for _, e := range events {
		if e.Type == event.TypeToolInput {
			if ti, ok := e.AsToolInput(); ok && ti.CallID == callID {
				return ti.Input
			}
		}
	}
	return nil
}

func lastStepIndex(blocks []StepBlock) int {
	if len(blocks) == 0 {
		return -1
	}
	last := blocks[len(blocks)-1]
	if last.Start == nil {
		return -1
	}
	if ms, ok := last.Start.AsModelStart(); ok {
		return ms.StepIndex
	}
	return -1
}

func findSessionRoot(roots []*Node) *Node {
	for _, n := range roots {
		if n.ParentInvocationID == "" && (n.HandoffOrigin == nil || n.HandoffOrigin.Type != event.HandoffTransfer) {
			return n
		}
	}
	return nil
}

// findRunnableByName walks a Runnable tree looking for a node with the
// given Name, used to locate the Agent a resumed invocation belongs to
// within the caller-supplied (possibly rebuilt-in-process) pipeline.
func findRunnableByName(r runnable.Runnable, name string) (runnable.Runnable, bool) {
	if r == nil {
		return nil, false
	}
	if r.Name() == name {
		return r, true
	}
	switch v := r.(type) {
	case *runnable.Sequence:
		for _, c := range v.Children {
			if found, ok := findRunnableByName(c, name); ok {
				return found, true
			}
		}
	case *runnable.Parallel:
		for _, c := range v.Children {
			if found, ok := findRunnableByName(c, name); ok {
				return found, true
			}
		}
	case *runnable.Loop:
		return findRunnableByName(v.Inner, name)
	}
	return nil, false
}

// PipelineStructureChangedError is returned when a resume's recomputed
// fingerprint does not match the one stored on the session's root
// invocation_start.
type PipelineStructureChangedError struct {
	SessionID          string
	StoredFingerprint  fingerprint.Hash
	CurrentFingerprint fingerprint.Hash
}

func (e *PipelineStructureChangedError) Error() string {
	return "pipeline structure changed since the session last yielded: session " + e.SessionID +
		" stored fingerprint " + string(e.StoredFingerprint) + " != current " + string(e.CurrentFingerprint)
}

// outcome is the internal result of driving one Runnable within its own
// invocation: either a resolved Signal, a suspension, or a transfer.
type outcome struct {
	signal  runnable.Signal
	yielded bool
	// invocationID is the invocation runInvocation just opened, set
	// regardless of how the invocation ended (useful to callers like
	// handoff.go that need to report which invocation ran).
	invocationID   string
	pendingCallIDs []string
	transferTo     runnable.Runnable
	// endReason overrides runInvocation's default EndCompleted reason for a
	// non-yielded, non-failed outcome (used for EndMaxIterations).
	endReason event.EndReason
}

// invocationOpts carries the optional context a new invocation is opened
// with: its handoff origin (nil for an ordinary parent/child edge) and, for
// one iteration of a Loop, the iteration index and cap.
type invocationOpts struct {
	origin        *event.HandoffOrigin
	loopIteration int
	loopMax       int
	// message and state seed the new invocation before it starts running,
	// used by call/spawn/dispatch's handoff.Options.
	message string
	state   map[string]any
	// presetID, when non-empty, is used as the invocation's ID instead of
	// generating a fresh one (dispatch needs to report the ID back to its
	// caller before the detached goroutine actually starts).
	presetID string
	// detached marks a dispatch()ed invocation: it still nests under
	// parentInvocationID in the tree, but is not registered as a
	// cancellation child, so cancelling the parent never reaches it.
	detached bool
}

// runInvocation opens a new invocation for r (child of parentInvocationID,
// or the session root when empty), dispatches by Kind, and closes it with
// the resulting terminal reason unless the invocation yielded.
func (sv *Supervisor) runInvocation(ctx context.Context, sess *session.Session, r runnable.Runnable, parentInvocationID string, opts invocationOpts, args map[string]any, incomingSignals []runnable.Signal) (outcome, error) {
	invocationID := opts.presetID
	if invocationID == "" {
		invocationID = newInvocationID(r.Name())
	}
	childCtx, cancel := context.WithCancel(ctx)
	childCtx = withInvocationID(childCtx, invocationID)
	registerParent := parentInvocationID
	if opts.detached {
		registerParent = ""
	}
	sv.registerInvocation(invocationID, registerParent, cancel)
	defer sv.unregisterInvocation(invocationID)

	start := event.InvocationStart{
		AgentName:          r.Name(),
		Kind:               string(r.Kind()),
		ParentInvocationID: parentInvocationID,
		HandoffOrigin:      opts.origin,
		LoopIteration:      opts.loopIteration,
		LoopMax:            opts.loopMax,
	}
	if parentInvocationID == "" && (opts.origin == nil || opts.origin.Type != event.HandoffTransfer) {
		start.Fingerprint = string(fingerprint.Compute(r))
	}
	if _, err := sess.AppendEvent(event.Event{Type: event.TypeInvocationStart, InvocationID: invocationID, Payload: start}); err != nil {
		return outcome{}, err
	}
	if opts.message != "" {
		if _, err := sess.AddMessage(opts.message, invocationID); err != nil {
			return outcome{}, err
		}
	}
	for k, v := range opts.state {
		if _, err := sess.WriteState(invocationID, "invocation", k, v, "handoff"); err != nil {
			return outcome{}, err
		}
	}

	out, err := sv.dispatch(childCtx, sess, r, invocationID, args, incomingSignals)
	out.invocationID = invocationID
	return sv.closeInvocation(ctx, sess, invocationID, args, out, err)
}

// closeInvocation appends the terminal event (or none, for a yield) that
// brackets invocationID's invocation_start, given what dispatch() produced.
// Factored out of runInvocation so Resume can close a resumed agent's
// invocation the same way once the step loop it re-enters yields, fails, or
// completes again.
func (sv *Supervisor) closeInvocation(ctx context.Context, sess *session.Session, invocationID string, args map[string]any, out outcome, err error) (outcome, error) {
	switch {
	case out.yielded:
		idx := len(sess.PendingCalls())
		if _, yerr := sess.AppendEvent(event.Event{
			Type:         event.TypeInvocationYield,
			InvocationID: invocationID,
			Payload:      event.InvocationYield{PendingCallIDs: out.pendingCallIDs, YieldIndex: idx},
		}); yerr != nil {
			return out, yerr
		}
		return out, nil
	case out.transferTo != nil:
		target := event.HandoffTarget{AgentName: out.transferTo.Name(), Kind: string(out.transferTo.Kind())}
		if _, eerr := sess.AppendEvent(event.Event{
			Type:         event.TypeInvocationEnd,
			InvocationID: invocationID,
			Payload:      event.InvocationEnd{Reason: event.EndTransferred, HandoffTarget: &target},
		}); eerr != nil {
			return out, eerr
		}
		successorOrigin := &event.HandoffOrigin{Type: event.HandoffTransfer, InvocationID: invocationID}
		return sv.runInvocation(ctx, sess, out.transferTo, "", invocationOpts{origin: successorOrigin}, args, nil)
	case err != nil:
		if _, eerr := sess.AppendEvent(event.Event{
			Type:         event.TypeInvocationEnd,
			InvocationID: invocationID,
			Payload:      event.InvocationEnd{Reason: event.EndError, Error: err.Error()},
		}); eerr != nil {
			return out, eerr
		}
		return out, err
	case out.signal.Kind == runnable.SignalFail:
		ferr := out.signal.Err
		if ferr == nil {
			ferr = errs.New(errs.ToolFatal, "step failed")
		}
		if _, eerr := sess.AppendEvent(event.Event{
			Type:         event.TypeInvocationEnd,
			InvocationID: invocationID,
			Payload:      event.InvocationEnd{Reason: event.EndError, Error: ferr.Error()},
		}); eerr != nil {
			return out, eerr
		}
		return out, nil
	default:
		reason := event.EndCompleted
		if out.endReason != "" {
			reason = out.endReason
		}
		if _, eerr := sess.AppendEvent(event.Event{
			Type:         event.TypeInvocationEnd,
			InvocationID: invocationID,
			Payload:      event.InvocationEnd{Reason: reason},
		}); eerr != nil {
			return out, eerr
		}
		return out, nil
	}
}

// dispatch runs r's body (without opening/closing its own invocation
// bracket, which runInvocation owns) and tail-calls through SignalRoute
// in place: a routed Step's execution is replaced by that Runnable without
// opening a new invocation of its own.
func (sv *Supervisor) dispatch(ctx context.Context, sess *session.Session, r runnable.Runnable, invocationID string, args map[string]any, incomingSignals []runnable.Signal) (outcome, error) {
	for {
		var out outcome
		var err error
		switch v := r.(type) {
		case *runnable.Agent:
			out, err = sv.stepAgentLoop(ctx, sess, v, invocationID, 0)
		case *runnable.Step:
			out, err = sv.runStep(ctx, sess, v, invocationID, args, incomingSignals)
		case *runnable.Sequence:
			out, err = sv.runSequence(ctx, sess, v, invocationID, args)
		case *runnable.Parallel:
			out, err = sv.runParallel(ctx, sess, v, invocationID, args)
		case *runnable.Loop:
			out, err = sv.runLoop(ctx, sess, v, invocationID, args)
		default:
			return outcome{}, errs.Newf(errs.ToolFatal, "unknown runnable kind %T", r)
		}
		if err != nil || out.yielded || out.transferTo != nil || out.signal.Kind != runnable.SignalRoute {
			return out, err
		}
		r = out.signal.Route
	}
}

func (sv *Supervisor) registerInvocation(invocationID, parentInvocationID string, cancel context.CancelFunc) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	sv.cancels[invocationID] = cancel
	sv.parents[invocationID] = parentInvocationID
}

func (sv *Supervisor) unregisterInvocation(invocationID string) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	delete(sv.cancels, invocationID)
	delete(sv.parents, invocationID)
}

// Cancel cancels invocationID and, recursively, every non-dispatched
// descendant registered with this Supervisor.
func (sv *Supervisor) Cancel(invocationID string) {
	sv.mu.Lock()
	cancel, ok := sv.cancels[invocationID]
	var children []string
	for id, parent := range sv.parents {
		if parent == invocationID {
			children = append(children, id)
		}
	}
	sv.mu.Unlock()
	if ok {
		cancel()
	}
	for _, c := range children {
		sv.Cancel(c)
	}
}

// buildToolEngine constructs a tool.Engine from an Agent's tool set, bound
// to sv as the handoff.Interface implementation tools use to transfer or
// spawn nested work.
func (sv *Supervisor) buildToolEngine(a *runnable.Agent) *tool.Engine {
	reg := make(tool.Registry, len(a.Tools))
	for _, t := range a.Tools {
		reg[t.Name] = t
	}
	return &tool.Engine{
		Registry:      reg,
		FanOut:        sv.ToolFanOut,
		Limiter:       sv.ToolLimiter,
		Handoff:       sv,
		Middleware:    sv.ToolMiddleware,
		ErrorHandlers: sv.ErrorHandlers,
	}
}

// toolSchemas projects an Agent's tools into the provider-agnostic shape
// render.Context and model.Adapter consume.
func toolSchemas(tools []*tool.Tool) []model.ToolSchema {
	out := make([]model.ToolSchema, len(tools))
	for i, t := range tools {
		out[i] = model.ToolSchema{Name: t.Name, Description: t.Description, Schema: t.Schema}
	}
	return out
}
