package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClaude(t *testing.T) {
	c := NewCalculator(DefaultRates())

	// 1M input + 1M output on haiku.
	got := c.Claude("claude-haiku-4-5-20251001", 1_000_000, 1_000_000, 0, 0)
	assert.InDelta(t, 0.80+4.00, got, 0.0001)

	// Cache write bills at 1.25x input, cache read at 0.1x.
	got = c.Claude("claude-haiku-4-5-20251001", 0, 0, 1_000_000, 1_000_000)
	assert.InDelta(t, 0.80*1.25+0.80*0.1, got, 0.0001)
}

func TestClaude_UnknownModel(t *testing.T) {
	c := NewCalculator(DefaultRates())
	assert.Zero(t, c.Claude("gpt-4", 1_000_000, 1_000_000, 0, 0))
}

func TestMistralOCR(t *testing.T) {
	c := NewCalculator(DefaultRates())
	assert.InDelta(t, 1.00, c.MistralOCR(1000), 0.0001)
	assert.InDelta(t, 0.012, c.MistralOCR(12), 0.0001)
	assert.Zero(t, c.MistralOCR(0))
}
