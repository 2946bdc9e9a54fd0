package supervisor

import "goa.design/flow/event"

// NodeState is the lifecycle state of one invocation tree Node.
type NodeState string

const (
	NodeRunning     NodeState = "running"
	NodeYielded     NodeState = "yielded"
	NodeCompleted   NodeState = "completed"
	NodeError       NodeState = "error"
	NodeTransferred NodeState = "transferred"
)

// StepBlock pairs a model_start with its matching model_end, synthesized
// from one invocation's event slice for tree consumers that want to render
// a context-block view without re-scanning the raw log.
type StepBlock struct {
	Start *event.Event
	End   *event.Event
}

// Node is one invocation in the tree derived from a Session's event log. A
// Node carries no information beyond what the log itself records; it exists
// purely to give callers (resume, observability, transcript rendering) a
// structured view instead of a flat event slice.
type Node struct {
	InvocationID       string
	AgentName          string
	Kind               string
	ParentInvocationID string
	State              NodeState
	EndReason          event.EndReason
	PendingCallIDs     []string
	HandoffOrigin      *event.HandoffOrigin
	HandoffTarget      *event.HandoffTarget
	LoopIteration      int
	LoopMax            int
	Fingerprint        string
	SessionVersion     string

	Events     []*event.Event
	StepBlocks []StepBlock
	Children   []*Node
}

// BuildTree reconstructs the invocation tree from a flat, append-ordered
// event slice. It is a pure function of its input: replaying the same
// events always yields the same tree, and the tree carries no information
// beyond what BuildTree derives from the log.
func BuildTree(events []*event.Event) []*Node {
	byID := make(map[string]*Node)
	order := make([]string, 0)

	for _, e := range events {
		if e.InvocationID == "" {
			continue
		}
		n, ok := byID[e.InvocationID]
		if !ok {
			n = &Node{InvocationID: e.InvocationID, State: NodeRunning}
			byID[e.InvocationID] = n
			order = append(order, e.InvocationID)
		}
		n.Events = append(n.Events, e)

		switch e.Type {
		case event.TypeInvocationStart:
			if is, ok := e.AsInvocationStart(); ok {
				n.AgentName = is.AgentName
				n.Kind = is.Kind
				n.ParentInvocationID = is.ParentInvocationID
				n.HandoffOrigin = is.HandoffOrigin
				n.LoopIteration = is.LoopIteration
				n.LoopMax = is.LoopMax
				n.Fingerprint = is.Fingerprint
				n.SessionVersion = is.SessionVersion
			}
		case event.TypeInvocationEnd:
			if ie, ok := e.AsInvocationEnd(); ok {
				n.EndReason = ie.Reason
				n.HandoffTarget = ie.HandoffTarget
				switch ie.Reason {
				case event.EndCompleted:
					n.State = NodeCompleted
				case event.EndTransferred:
					n.State = NodeTransferred
				case event.EndCancelled:
					n.State = NodeError
				default:
					n.State = NodeError
				}
			}
		case event.TypeInvocationYield:
			if iy, ok := e.AsInvocationYield(); ok {
				n.State = NodeYielded
				n.PendingCallIDs = iy.PendingCallIDs
			}
		case event.TypeInvocationResume:
			n.State = NodeRunning
			n.PendingCallIDs = nil
		case event.TypeModelStart:
			n.StepBlocks = append(n.StepBlocks, StepBlock{Start: e})
		case event.TypeModelEnd:
			if len(n.StepBlocks) > 0 && n.StepBlocks[len(n.StepBlocks)-1].End == nil {
				n.StepBlocks[len(n.StepBlocks)-1].End = e
			}
		}
	}

	var roots []*Node
	for _, id := range order {
		n := byID[id]
		if n.HandoffOrigin != nil && n.HandoffOrigin.Type == event.HandoffTransfer {
			// Transfer successors are root-level siblings chained back to
			// their source, not nested children.
			roots = append(roots, n)
			continue
		}
		if n.ParentInvocationID == "" {
			roots = append(roots, n)
			continue
		}
		parent, ok := byID[n.ParentInvocationID]
		if !ok {
			roots = append(roots, n)
			continue
		}
		parent.Children = append(parent.Children, n)
	}
	return roots
}

// Find returns the Node with invocationID within roots, searching the whole
// tree (children and transfer siblings), or nil if absent.
func Find(roots []*Node, invocationID string) *Node {
	var walk func(n *Node) *Node
	walk = func(n *Node) *Node {
		if n.InvocationID == invocationID {
			return n
		}
		for _, c := range n.Children {
			if found := walk(c); found != nil {
				return found
			}
		}
		return nil
	}
	for _, r := range roots {
		if found := walk(r); found != nil {
			return found
		}
	}
	return nil
}

// DeepestYielded returns the deepest NodeYielded node in the tree that has
// at least one PendingCallIDs entry no longer in stillPending (i.e. at
// least one tool_input has arrived since the yield), or nil if none
// qualifies. "Deepest" favors nodes with the most Children-less descent,
// matching the resume procedure's search for the innermost suspension
// point. Callers decide, using tool-level PartialResume opt-in, whether a
// node with some still-unanswered calls is actually ready to resume.
func DeepestYielded(roots []*Node, stillPending map[string]bool) *Node {
	var best *Node
	var bestDepth int
	var walk func(n *Node, depth int)
	walk = func(n *Node, depth int) {
		if n.State == NodeYielded {
			hasAnswer := false
			for _, id := range n.PendingCallIDs {
				if !stillPending[id] {
					hasAnswer = true
					break
				}
			}
			if hasAnswer && (best == nil || depth > bestDepth) {
				best = n
				bestDepth = depth
			}
		}
		for _, c := range n.Children {
			walk(c, depth+1)
		}
	}
	for _, r := range roots {
		walk(r, 0)
	}
	return best
}
