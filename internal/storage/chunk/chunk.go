// Package chunk holds the chunk layout shared by all storage backends.
package chunk

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultSize is used when a backend is configured without an explicit chunk size.
const DefaultSize = 4 << 20

// Split cuts content into pieces of at most size bytes. Empty content yields a
// single empty chunk so that a stored zero-length payload stays readable.
func Split(content []byte, size int) [][]byte {
	if size <= 0 {
		size = DefaultSize
	}
	if len(content) == 0 {
		return [][]byte{{}}
	}
	chunks := make([][]byte, 0, (len(content)+size-1)/size)
	for start := 0; start < len(content); start += size {
		end := min(start+size, len(content))
		chunks = append(chunks, content[start:end])
	}
	return chunks
}

// Name renders a chunk index so that lexical order equals numeric order.
func Name(index int) string {
	return fmt.Sprintf("%08d", index)
}

// ParseName is the inverse of Name; it ignores an optional extension.
func ParseName(name string) (int, bool) {
	if dot := strings.IndexByte(name, '.'); dot >= 0 {
		name = name[:dot]
	}
	idx, err := strconv.Atoi(name)
	if err != nil || idx < 1 {
		return 0, false
	}
	return idx, true
}

// ValidIndex reports whether index is a usable 1-based chunk position.
func ValidIndex(index int) bool {
	return index >= 1
}
