package assemble

import (
	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter measures disclosure size in budget units.
type TokenCounter interface {
	Count(text string) int
}

// TiktokenCounter counts BPE tokens with the cl100k_base encoding.
type TiktokenCounter struct {
	encoding *tiktoken.Tiktoken
}

// NewTiktokenCounter loads the cl100k_base encoding.
func NewTiktokenCounter() (*TiktokenCounter, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, err
	}
	return &TiktokenCounter{encoding: enc}, nil
}

// Count returns the number of tokens in text.
func (c *TiktokenCounter) Count(text string) int {
	return len(c.encoding.Encode(text, nil, nil))
}

// ByteCounter approximates tokens as bytes/4, rounding up. Used when the
// BPE encoding cannot be loaded; the budget stays enforceable either way.
type ByteCounter struct{}

// Count returns len(text)/4 rounded up.
func (ByteCounter) Count(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + 3) / 4
}

// NewTokenCounter returns the tiktoken counter, falling back to byte
// approximation if the encoding is unavailable.
func NewTokenCounter() TokenCounter {
	c, err := NewTiktokenCounter()
	if err != nil {
		return ByteCounter{}
	}
	return c
}
