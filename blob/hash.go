package blob

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"

	"github.com/BaSui01/labnotebook/types"
)

// HashPrefix is the algorithm tag carried by every blob hash.
const HashPrefix = "sha256:"

// ComputeHash returns the content address of data.
func ComputeHash(data []byte) string {
	sum := sha256.Sum256(data)
	return HashPrefix + hex.EncodeToString(sum[:])
}

// NormalizeHash accepts "sha256:<hex>" or bare hex and returns the prefixed,
// lower-case form.
func NormalizeHash(hash string) (string, error) {
	h := strings.ToLower(strings.TrimSpace(hash))
	h = strings.TrimPrefix(h, HashPrefix)
	if len(h) != sha256.Size*2 {
		return "", types.Errorf(types.ErrInvalidRequest, "invalid blob hash: %q", hash)
	}
	if _, err := hex.DecodeString(h); err != nil {
		return "", types.Errorf(types.ErrInvalidRequest, "invalid blob hash: %q", hash)
	}
	return HashPrefix + h, nil
}

// relativePath maps a normalized hash to blobs/<h[0:2]>/<h[2:4]>/<h>.
func relativePath(hash string) string {
	h := strings.TrimPrefix(hash, HashPrefix)
	return filepath.Join("blobs", h[0:2], h[2:4], h)
}
