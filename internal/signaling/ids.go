package signaling

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// generateFD mints the opaque, stable-for-the-lifetime-of-the-connection
// identifier handed back to clients as viewer_fd/from_fd/target_fd.
func generateFD() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate connection id: %w", err)
	}
	return "fd_" + hex.EncodeToString(buf), nil
}
