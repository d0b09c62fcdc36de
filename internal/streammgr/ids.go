package streammgr

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// generateStreamID returns a globally unique, opaque stream identifier with
// the "stream_" prefix required by the data model.
func generateStreamID() (string, error) {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate stream id: %w", err)
	}
	return "stream_" + hex.EncodeToString(buf), nil
}

// generateStreamKey returns a 48-hex-char unguessable secret with the "sk_"
// prefix, minted alongside a new stream.
func generateStreamKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate stream key: %w", err)
	}
	return "sk_" + hex.EncodeToString(buf), nil
}
