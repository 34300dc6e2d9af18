package images

import (
	"fmt"
	"io"
	"os"
	"strings"

	godigest "github.com/opencontainers/go-digest"
)

// ComputeSHA256 streams the file through SHA-256 and returns the hex digest.
func ComputeSHA256(path string) (string, error) {
	f, err := os.Open(path) //nolint:gosec // controlled image paths
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	digester := godigest.SHA256.Digester()
	if _, err := io.Copy(digester.Hash(), f); err != nil {
		return "", fmt.Errorf("digest %s: %w", path, err)
	}
	return digester.Digest().Encoded(), nil
}

// VerifyChecksum compares the file's SHA-256 against expectedHex. A mismatch
// is a normal negative result, not an error; the error return carries I/O
// failures only.
func VerifyChecksum(path, expectedHex string) (bool, error) {
	sum, err := ComputeSHA256(path)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(sum, expectedHex), nil
}

// parseChecksums reads a coreutils-format manifest ("<hex>  <name>", with
// binary-mode "*name" markers tolerated) into a name → hex map. Malformed
// lines are skipped.
func parseChecksums(data []byte) map[string]string {
	sums := make(map[string]string)
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		name := strings.TrimPrefix(fields[1], "*")
		sums[name] = fields[0]
	}
	return sums
}
