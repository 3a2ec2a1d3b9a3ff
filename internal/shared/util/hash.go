package util

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// ContentHash fingerprints file content for change detection.
func ContentHash(content []byte) string {
	return strconv.FormatUint(xxhash.Sum64(content), 16)
}

// HashParts hashes an ordered list of strings. Parts are NUL-separated so
// ("ab","c") and ("a","bc") differ.
func HashParts(parts ...string) string {
	d := xxhash.New()
	for i, p := range parts {
		if i > 0 {
			_, _ = d.Write([]byte{0})
		}
		_, _ = d.WriteString(p)
	}
	return strconv.FormatUint(d.Sum64(), 16)
}
