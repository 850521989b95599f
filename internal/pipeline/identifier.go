package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/timmy/dmi/internal/domain"
	"golang.org/x/text/encoding/charmap"
)

// HashString returns the short decimal hash used in artifact names: the
// first 6 hex digits of SHA-256(s) read as an integer, zero-padded to 6.
// Values above 999999 keep their natural width.
func HashString(s string) string {
	return hashBytes([]byte(s))
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	v, _ := strconv.ParseUint(hex.EncodeToString(sum[:3]), 16, 32)
	return fmt.Sprintf("%06d", v)
}

// HashContent hashes file bytes after reading them as ISO-8859-1 text, so
// every byte >= 0x80 contributes its two-byte UTF-8 form.
func HashContent(content []byte) string {
	text, err := charmap.ISO8859_1.NewDecoder().Bytes(content)
	if err != nil {
		// latin-1 decoding is total; keep the raw bytes if it ever fails
		text = content
	}
	return hashBytes(text)
}

// HashName hashes the base name of path.
func HashName(path string) string {
	return HashString(filepath.Base(path))
}

// Identify computes the identifier of the file at path.
func Identify(path string) (domain.MediaIdentifier, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return domain.MediaIdentifier{}, fmt.Errorf("read %s: %w", path, err)
	}
	return domain.MediaIdentifier{
		ContentHash: HashContent(content),
		NameHash:    HashName(path),
	}, nil
}
