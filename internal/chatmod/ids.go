package chatmod

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

func generateFD() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate connection id: %w", err)
	}
	return "fd_" + hex.EncodeToString(buf), nil
}
