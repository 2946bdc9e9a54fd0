package supervisor

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// newInvocationID returns a globally unique invocation identifier, prefixed
// with a normalized Runnable name to keep logs and traces readable.
func newInvocationID(name string) string {
	prefix := strings.ReplaceAll(name, ".", "-")
	if prefix == "" {
		prefix = "invocation"
	}
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}

// newCallID returns a globally unique tool call identifier.
func newCallID() string {
	return "call-" + uuid.NewString()
}
