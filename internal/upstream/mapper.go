package upstream

import (
	"github.com/kirogate/kirogate/pkg/model"
)

// AnthropicToOpenAI converts an Anthropic messages request into the OpenAI
// chat format the upstream speaks. The system prompt becomes a leading
// system message and content blocks are flattened to text.
func AnthropicToOpenAI(req *model.AnthropicMessagesRequest) *model.ChatCompletionRequest {
	out := &model.ChatCompletionRequest{
		Model:       req.Model,
		Stream:      req.Stream,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.StopSequences,
	}

	if sys := req.SystemText(); sys != "" {
		out.Messages = append(out.Messages, model.ChatMessage{
			Role:    "system",
			Content: model.TextContent(sys),
		})
	}
	for _, m := range req.Messages {
		out.Messages = append(out.Messages, model.ChatMessage{
			Role:    m.Role,
			Content: model.TextContent(m.Text()),
		})
	}
	return out
}

// OpenAIToAnthropic converts an upstream chat response back into the
// Anthropic messages shape for /v1/messages clients.
func OpenAIToAnthropic(resp *model.ChatCompletionResponse) *model.AnthropicMessagesResponse {
	out := &model.AnthropicMessagesResponse{
		ID:    anthropicID(resp.ID),
		Type:  "message",
		Role:  "assistant",
		Model: resp.Model,
		Usage: model.AnthropicUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}

	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		out.Content = []model.AnthropicContentBlock{
			{Type: "text", Text: choice.Message.Text()},
		}
		out.StopReason = mapStopReason(choice.FinishReason)
	}
	return out
}

func anthropicID(id string) string {
	if id == "" {
		return "msg_unknown"
	}
	return "msg_" + id
}

func mapStopReason(finish string) string {
	switch finish {
	case "length":
		return "max_tokens"
	case "stop", "":
		return "end_turn"
	default:
		return finish
	}
}
