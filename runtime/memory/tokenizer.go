package memory

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// TiktokenCounter implements Tokenizer using a cl100k_base-family BPE
// encoder (§4.4 step 5: "a stable tokenizer... any BPE-like encoder that
// returns length integers"). Anthropic and Bedrock token counts are
// approximated with the same encoder; the budget math only needs a stable,
// monotonic proxy, not provider-exact counts.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenCounter builds a counter for the given model id, falling back
// to cl100k_base when the model is not recognized by tiktoken-go.
func NewTiktokenCounter(model string) (*TiktokenCounter, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("load tokenizer encoding: %w", err)
		}
	}
	return &TiktokenCounter{enc: enc}, nil
}

// Count implements Tokenizer.
func (c *TiktokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(c.enc.Encode(text, nil, nil))
}

var _ Tokenizer = (*TiktokenCounter)(nil)
