// Package fingerprint computes the deterministic pipeline fingerprint used
// to validate that a Runnable tree has not structurally changed between a
// session's last yield and its resume.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"goa.design/flow/runnable"
)

// Hash is the hex-encoded pipeline fingerprint.
type Hash string

// Compute derives the fingerprint of r, canonicalizing child order for
// Sequence/Parallel (order-sensitive, kept as declared) and sorting tool
// names and context stage names alphabetically so reordering either does
// not invalidate a resume.
func Compute(r runnable.Runnable) Hash {
	sum := sha256.Sum256([]byte(canonical(r)))
	return Hash(hex.EncodeToString(sum[:]))
}

// Matches reports whether stored equals the fingerprint of r.
func Matches(stored Hash, r runnable.Runnable) bool {
	return stored == Compute(r)
}

func canonical(r runnable.Runnable) string {
	if r == nil {
		return "(nil)"
	}
	switch v := r.(type) {
	case *runnable.Agent:
		return canonicalAgent(v)
	case *runnable.Step:
		return fmt.Sprintf("(step %s)", v.Name())
	case *runnable.Sequence:
		return fmt.Sprintf("(sequence %s %s)", v.Name(), canonicalChildren(v.Children))
	case *runnable.Parallel:
		return fmt.Sprintf("(parallel %s %s)", v.Name(), canonicalChildren(v.Children))
	case *runnable.Loop:
		return fmt.Sprintf("(loop %s %t %s)", v.Name(), v.Yields, canonical(v.Inner))
	default:
		return fmt.Sprintf("(unknown %s)", r.Name())
	}
}

func canonicalAgent(a *runnable.Agent) string {
	toolNames := a.ToolNames()
	sort.Strings(toolNames)

	stageNames := append([]string(nil), a.Context.StageNames()...)
	sort.Strings(stageNames)

	outputHash := ""
	if a.Output != nil && len(a.Output.Schema) > 0 {
		sum := sha256.Sum256(a.Output.Schema)
		outputHash = hex.EncodeToString(sum[:])
	}

	return fmt.Sprintf("(agent %s %s %s [%s] [%s] %s)",
		a.Name(), a.Model.Provider, a.Model.Name,
		strings.Join(toolNames, ","), strings.Join(stageNames, ","), outputHash)
}

func canonicalChildren(children []runnable.Runnable) string {
	parts := make([]string, len(children))
	for i, c := range children {
		parts[i] = canonical(c)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
