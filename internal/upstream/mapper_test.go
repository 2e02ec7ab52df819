package upstream

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirogate/kirogate/pkg/model"
)

func TestAnthropicToOpenAI_SystemBecomesLeadingMessage(t *testing.T) {
	req := &model.AnthropicMessagesRequest{
		Model:     "claude-sonnet-4-20250514",
		System:    json.RawMessage(`"be terse"`),
		MaxTokens: 256,
		Messages: []model.AnthropicMessage{
			{Role: "user", Content: json.RawMessage(`"hello"`)},
		},
	}

	out := AnthropicToOpenAI(req)
	require.Len(t, out.Messages, 2)
	assert.Equal(t, "system", out.Messages[0].Role)
	assert.Equal(t, "be terse", out.Messages[0].Text())
	assert.Equal(t, "user", out.Messages[1].Role)
	assert.Equal(t, "hello", out.Messages[1].Text())
	assert.Equal(t, 256, out.MaxTokens)
}

func TestAnthropicToOpenAI_ContentBlocksFlattened(t *testing.T) {
	req := &model.AnthropicMessagesRequest{
		Model:     "claude-3-5-haiku-20241022",
		MaxTokens: 10,
		Messages: []model.AnthropicMessage{
			{Role: "user", Content: json.RawMessage(`[{"type":"text","text":"part one "},{"type":"text","text":"part two"}]`)},
		},
	}

	out := AnthropicToOpenAI(req)
	require.Len(t, out.Messages, 1)
	assert.Equal(t, "part one part two", out.Messages[0].Text())
}

func TestAnthropicToOpenAI_CarriesSamplingParams(t *testing.T) {
	temp := 0.3
	req := &model.AnthropicMessagesRequest{
		Model:         "claude-sonnet-4-20250514",
		MaxTokens:     128,
		Temperature:   &temp,
		StopSequences: []string{"END"},
		Stream:        true,
		Messages: []model.AnthropicMessage{
			{Role: "user", Content: json.RawMessage(`"hi"`)},
		},
	}

	out := AnthropicToOpenAI(req)
	require.NotNil(t, out.Temperature)
	assert.Equal(t, 0.3, *out.Temperature)
	assert.Equal(t, []string{"END"}, out.Stop)
	assert.True(t, out.Stream)
}

func TestOpenAIToAnthropic(t *testing.T) {
	resp := &model.ChatCompletionResponse{
		ID:    "chatcmpl-123",
		Model: "claude-sonnet-4-20250514",
		Choices: []model.ChatChoice{
			{
				Message:      model.ChatMessage{Role: "assistant", Content: model.TextContent("answer")},
				FinishReason: "stop",
			},
		},
		Usage: model.Usage{PromptTokens: 12, CompletionTokens: 5},
	}

	out := OpenAIToAnthropic(resp)
	assert.Equal(t, "msg_chatcmpl-123", out.ID)
	assert.Equal(t, "message", out.Type)
	assert.Equal(t, "assistant", out.Role)
	require.Len(t, out.Content, 1)
	assert.Equal(t, "answer", out.Content[0].Text)
	assert.Equal(t, "end_turn", out.StopReason)
	assert.Equal(t, 12, out.Usage.InputTokens)
	assert.Equal(t, 5, out.Usage.OutputTokens)
}

func TestOpenAIToAnthropic_LengthMapsToMaxTokens(t *testing.T) {
	resp := &model.ChatCompletionResponse{
		Choices: []model.ChatChoice{
			{Message: model.ChatMessage{Content: model.TextContent("cut")}, FinishReason: "length"},
		},
	}
	assert.Equal(t, "max_tokens", OpenAIToAnthropic(resp).StopReason)
}
