package runner

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

//nolint:gochecknoglobals // Codec construction is expensive, share one instance
var (
	codecOnce sync.Once
	codec     tokenizer.Codec
)

// EstimateTokens returns an approximate token count for prompt text. Claude
// and GPT tokenizations are close enough that GPT-4 encoding serves both;
// if the codec is unavailable the 4-chars-per-token heuristic applies.
func EstimateTokens(text string) int {
	codecOnce.Do(func() {
		c, err := tokenizer.ForModel(tokenizer.GPT4)
		if err == nil {
			codec = c
		}
	})

	if codec == nil {
		return len(text) / 4
	}
	count, err := codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return count
}
