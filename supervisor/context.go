package supervisor

import "context"

// invocationIDKey is the unexported context key carrying the calling
// invocation's ID, so Step/Tool bodies can hand their ctx straight to
// sv.Call/Spawn/Dispatch without threading an explicit parent ID through
// handoff.Interface's signature.
type invocationIDKey struct{}

func withInvocationID(ctx context.Context, invocationID string) context.Context {
	return context.WithValue(ctx, invocationIDKey{}, invocationID)
}

func invocationIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(invocationIDKey{}).(string)
	return id
}
