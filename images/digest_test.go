package images

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTempFile(t *testing.T, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "blob")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestComputeSHA256(t *testing.T) {
	content := []byte("openclaw headless image")
	path := writeTempFile(t, content)

	want := sha256.Sum256(content)
	got, err := ComputeSHA256(path)
	if err != nil {
		t.Fatalf("ComputeSHA256: %v", err)
	}
	if got != hex.EncodeToString(want[:]) {
		t.Fatalf("digest %s, want %s", got, hex.EncodeToString(want[:]))
	}
}

func TestVerifyChecksum(t *testing.T) {
	content := []byte("payload")
	path := writeTempFile(t, content)
	sum := sha256.Sum256(content)
	hexSum := hex.EncodeToString(sum[:])

	match, err := VerifyChecksum(path, strings.ToUpper(hexSum))
	if err != nil {
		t.Fatalf("VerifyChecksum: %v", err)
	}
	if !match {
		t.Fatal("expected case-insensitive match")
	}

	// Mismatch is a negative result, not an error.
	match, err = VerifyChecksum(path, strings.Repeat("0", 64))
	if err != nil {
		t.Fatalf("VerifyChecksum mismatch: %v", err)
	}
	if match {
		t.Fatal("expected mismatch")
	}

	// Unreadable file is an error.
	if _, err = VerifyChecksum(filepath.Join(t.TempDir(), "missing"), hexSum); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestParseChecksums(t *testing.T) {
	manifest := []byte(strings.Join([]string{
		"aaaa  openclaw-headless.tar.gz.aa",
		"bbbb *openclaw-headless.tar.gz.ab",
		"",
		"not a manifest line at all",
		"cccc  openclaw-headless.qcow2",
	}, "\n"))

	sums := parseChecksums(manifest)
	if len(sums) != 3 {
		t.Fatalf("parsed %d entries, want 3", len(sums))
	}
	if sums["openclaw-headless.tar.gz.ab"] != "bbbb" {
		t.Fatalf("binary-mode marker not stripped: %v", sums)
	}
	if sums["openclaw-headless.qcow2"] != "cccc" {
		t.Fatalf("missing qcow2 entry: %v", sums)
	}
}
