package anthropic

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenUsage_EstimateCost(t *testing.T) {
	u := TokenUsage{InputTokens: 1_000_000, OutputTokens: 500_000}
	cost := u.EstimateCost("claude-haiku-4-5-20251001")
	assert.InDelta(t, 0.80+2.00, cost, 0.001)

	assert.Zero(t, u.EstimateCost("unknown-model"))
}

func TestTokenUsage_EstimateCost_Caching(t *testing.T) {
	u := TokenUsage{
		CacheCreationInputTokens: 1_000_000,
		CacheReadInputTokens:     1_000_000,
	}
	cost := u.EstimateCost("claude-haiku-4-5-20251001")
	// Cache writes bill at 1.25x input, reads at 0.1x.
	assert.InDelta(t, 0.80*1.25+0.80*0.1, cost, 0.001)
}

func TestTokenUsage_Add(t *testing.T) {
	u := TokenUsage{InputTokens: 10, OutputTokens: 5}
	u.Add(TokenUsage{InputTokens: 3, OutputTokens: 2, CacheReadInputTokens: 7})
	assert.Equal(t, int64(13), u.InputTokens)
	assert.Equal(t, int64(7), u.OutputTokens)
	assert.Equal(t, int64(7), u.CacheReadInputTokens)
}

func TestMessageResponse_Text(t *testing.T) {
	resp := &MessageResponse{Content: []ContentBlock{
		{Type: "text", Text: "{\"actions\":"},
		{Type: "tool_use", Text: "ignored"},
		{Type: "text", Text: "[]}"},
	}}
	assert.Equal(t, `{"actions":[]}`, resp.Text())
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(errors.New("anthropic: create message: 429 rate_limit_error")))
	assert.True(t, IsRetryable(errors.New("overloaded_error: Overloaded")))
	assert.True(t, IsRetryable(errors.New("Post \"https://api.anthropic.com\": i/o timeout")))
	assert.False(t, IsRetryable(errors.New("401 authentication_error: invalid x-api-key")))
	assert.False(t, IsRetryable(errors.New("400 invalid_request_error: max_tokens required")))
	assert.False(t, IsRetryable(nil))
}

func TestToSDKMessages_Roles(t *testing.T) {
	msgs := toSDKMessages([]Message{
		{Role: "user", Content: "digest text"},
		{Role: "assistant", Content: "{"},
	})
	assert.Len(t, msgs, 2)
	assert.Equal(t, "user", string(msgs[0].Role))
	assert.Equal(t, "assistant", string(msgs[1].Role))
}
