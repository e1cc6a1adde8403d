package chatbot

import "strings"

// DefaultChunkSize is the chunk size used for incremental delivery when the
// caller does not configure one.
const DefaultChunkSize = 8

// Tokenize splits text into bounded-size chunks for incremental delivery.
// Words are the minimum granularity: a chunk never spans two
// whitespace-separated words. Words longer than chunkSize are split into
// fixed-size rune chunks, with the last chunk possibly shorter. Consumers
// concatenate chunks verbatim, so each word's final chunk keeps a single
// trailing space as the separator.
//
// Joining the chunks and stripping whitespace reproduces the input with its
// whitespace stripped.
func Tokenize(text string, chunkSize int) []string {
	if chunkSize < 1 {
		chunkSize = DefaultChunkSize
	}

	words := strings.Fields(text)

	var chunks []string
	for i, word := range words {
		runes := []rune(word)
		for len(runes) > chunkSize {
			chunks = append(chunks, string(runes[:chunkSize]))
			runes = runes[chunkSize:]
		}
		last := string(runes)
		if i < len(words)-1 {
			last += " "
		}
		chunks = append(chunks, last)
	}
	return chunks
}
