package supervisor

import (
	"context"

	"goa.design/flow/runresult"
)

// phaseKey is the unexported context key carrying the optional reporter a
// Run/Resume caller wants told about in-flight phase transitions. Nil
// (no reporter installed) is the common case and reportPhase is then a
// no-op, so the agent loop never needs to check for a streaming caller.
type phaseKey struct{}

// PhaseReporter receives every in-flight phase transition stepAgentLoop
// passes through for one run: rendering, streaming and resolving tool calls.
// Terminal phases are not reported; they are carried only on the returned
// RunResult.
type PhaseReporter func(runresult.Phase)

// WithPhaseReporter attaches report to ctx so a run started with the
// returned context calls it on every in-flight phase transition, in
// addition to the final Phase already set on the returned RunResult. The
// stream package uses this to give a live caller a phase signal without
// waiting for the run to finish.
func WithPhaseReporter(ctx context.Context, report PhaseReporter) context.Context {
	return context.WithValue(ctx, phaseKey{}, report)
}

func reportPhase(ctx context.Context, phase runresult.Phase) {
	if report, ok := ctx.Value(phaseKey{}).(PhaseReporter); ok && report != nil {
		report(phase)
	}
}
