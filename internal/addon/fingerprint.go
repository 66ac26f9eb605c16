package addon

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/zeebo/blake3"
)

// Fingerprint hashes the manifest and, for process addons, the entrypoint.
// Discovery stores it so an unchanged version with changed files is visible.
func Fingerprint(manifest []byte, entrypoint string) (string, error) {
	h := blake3.New()
	_, _ = h.Write(manifest)
	if entrypoint != "" {
		data, err := os.ReadFile(entrypoint)
		if err != nil {
			return "", fmt.Errorf("read entrypoint: %w", err)
		}
		_, _ = h.Write(data)
	}
	return "blake3:" + hex.EncodeToString(h.Sum(nil)), nil
}
