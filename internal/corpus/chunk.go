// Package corpus ingests documentation into a vector store and serves
// similarity search over it for the docs capability.
package corpus

import "strings"

// Chunking defaults, measured in whitespace-separated words.
const (
	DefaultChunkSize    = 512
	DefaultChunkOverlap = 100
)

// chunkParams applies the chunking defaults: a non-positive size and a zero
// overlap take the defaults, a negative overlap means none.
func chunkParams(size, overlap int) (int, int) {
	if size <= 0 {
		size = DefaultChunkSize
	}
	switch {
	case overlap == 0:
		overlap = DefaultChunkOverlap
	case overlap < 0:
		overlap = 0
	}
	if overlap >= size {
		overlap = 0
	}
	return size, overlap
}

// Chunk splits text into windows of size words, consecutive windows sharing
// overlap words. Zero values take the defaults and a negative overlap
// disables it. Text shorter than size yields a single chunk; blank text
// yields none.
func Chunk(text string, size, overlap int) []string {
	size, overlap = chunkParams(size, overlap)

	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	step := size - overlap
	var chunks []string
	for start := 0; start < len(words); start += step {
		end := min(start+size, len(words))
		chunks = append(chunks, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}
	return chunks
}
