package llm

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// wordsPerTokenRatio is the coarse fallback when no encoder is available:
// roughly 1.3 tokens per whitespace-separated word.
const wordsPerTokenRatio = 1.3

// EstimateTokens counts tokens for text sent to or received from a model.
// Preference order: the model's own tokenizer, then cl100k_base, then the
// word-count heuristic.
func EstimateTokens(model, text string) int {
	if text == "" {
		return 0
	}

	if enc, err := tiktoken.EncodingForModel(model); err == nil {
		return len(enc.Encode(text, nil, nil))
	}
	if enc, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
		return len(enc.Encode(text, nil, nil))
	}

	words := len(strings.Fields(text))
	return int(float64(words) * wordsPerTokenRatio)
}
