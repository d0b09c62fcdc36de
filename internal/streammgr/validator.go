package streammgr

import "context"

// KeyValidator is the narrow capability the signaling router depends on
// instead of the concrete *Manager, so C6 cannot reach into stream lifecycle
// state it has no business touching.
type KeyValidator interface {
	ValidateStreamKey(ctx context.Context, tenantID, streamID, candidate string) bool
}
