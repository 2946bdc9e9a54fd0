package fingerprint

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"goa.design/flow/model"
	"goa.design/flow/render"
	"goa.design/flow/runnable"
	"goa.design/flow/tool"
)

func agentWithTools(names ...string) *runnable.Agent {
	a := runnable.NewAgent("assistant", model.Config{Provider: "anthropic", Name: "claude-sonnet-4-5"})
	for _, n := range names {
		a.Tools = append(a.Tools, &tool.Tool{Name: n})
	}
	return a
}

func TestToolReorderingDoesNotChangeFingerprint(t *testing.T) {
	a1 := agentWithTools("search", "calculator", "fetch_url")
	a2 := agentWithTools("fetch_url", "search", "calculator")
	require.Equal(t, Compute(a1), Compute(a2))
}

func TestSequenceChildOrderIsSignificant(t *testing.T) {
	s1 := runnable.NewSequence("seq", runnable.NewStep("a", nil), runnable.NewStep("b", nil))
	s2 := runnable.NewSequence("seq", runnable.NewStep("b", nil), runnable.NewStep("a", nil))
	require.NotEqual(t, Compute(s1), Compute(s2))
}

func TestContextStageReorderingDoesNotChangeFingerprint(t *testing.T) {
	a1 := runnable.NewAgent("assistant", model.Config{Provider: "anthropic", Name: "m"})
	a1.Context = render.Pipeline{
		render.InjectSystemMessage("be helpful", nil),
		render.IncludeHistory(render.ScopeAll),
	}
	a2 := runnable.NewAgent("assistant", model.Config{Provider: "anthropic", Name: "m"})
	a2.Context = render.Pipeline{
		render.IncludeHistory(render.ScopeAll),
		render.InjectSystemMessage("be helpful", nil),
	}
	require.Equal(t, Compute(a1), Compute(a2))
}

func TestDifferentModelChangesFingerprint(t *testing.T) {
	a1 := runnable.NewAgent("assistant", model.Config{Provider: "anthropic", Name: "claude-sonnet-4-5"})
	a2 := runnable.NewAgent("assistant", model.Config{Provider: "anthropic", Name: "claude-opus-4"})
	require.NotEqual(t, Compute(a1), Compute(a2))
}

// TestFingerprintStableUnderToolPermutation checks, for a generated set of
// tool names, that every permutation of declaration order yields the same
// fingerprint.
func TestFingerprintStableUnderToolPermutation(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("permuting tool names does not change the fingerprint", prop.ForAll(
		func(names []string) bool {
			unique := make(map[string]bool)
			var deduped []string
			for _, n := range names {
				if n == "" || unique[n] {
					continue
				}
				unique[n] = true
				deduped = append(deduped, n)
			}
			if len(deduped) < 2 {
				return true
			}
			reversed := make([]string, len(deduped))
			for i, n := range deduped {
				reversed[len(deduped)-1-i] = n
			}
			return Compute(agentWithTools(deduped...)) == Compute(agentWithTools(reversed...))
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}
