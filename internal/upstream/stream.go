package upstream

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/kirogate/kirogate/pkg/model"
)

// StreamEvent is one server-sent event ready to write to a client.
type StreamEvent struct {
	Event string // empty for OpenAI-style data-only frames
	Data  string
}

// WriteTo writes the event in SSE wire format.
func (e StreamEvent) WriteTo(w io.Writer) error {
	if e.Event != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", e.Event); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "data: %s\n\n", e.Data)
	return err
}

// ScanSSE reads the next data payload from an upstream SSE stream. Returns
// io.EOF when the stream ends, and the literal "[DONE]" sentinel as-is.
func ScanSSE(r *bufio.Reader) (string, error) {
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return "", err
		}
		line = strings.TrimRight(line, "\r\n")
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			return data, nil
		}
		// comments, event: lines and blank separators are skipped
	}
}

// AnthropicStreamTranslator converts an OpenAI chunk stream into the
// Anthropic messages event sequence: message_start, content_block_start,
// content_block_delta*, content_block_stop, message_delta, message_stop.
type AnthropicStreamTranslator struct {
	model        string
	started      bool
	outputTokens int
	stopReason   string
}

func NewAnthropicStreamTranslator(modelID string) *AnthropicStreamTranslator {
	return &AnthropicStreamTranslator{model: modelID}
}

// Translate maps one OpenAI chunk to zero or more Anthropic events.
func (t *AnthropicStreamTranslator) Translate(chunk *model.ChatCompletionChunk) []StreamEvent {
	var events []StreamEvent

	if !t.started {
		t.started = true
		start := map[string]any{
			"type": "message_start",
			"message": map[string]any{
				"id":    anthropicID(chunk.ID),
				"type":  "message",
				"role":  "assistant",
				"model": t.model,
				"usage": map[string]int{"input_tokens": 0, "output_tokens": 0},
			},
		}
		events = append(events, event("message_start", start))
		events = append(events, event("content_block_start", map[string]any{
			"type":          "content_block_start",
			"index":         0,
			"content_block": map[string]string{"type": "text", "text": ""},
		}))
	}

	for _, choice := range chunk.Choices {
		if choice.Delta.Content != "" {
			t.outputTokens++
			events = append(events, event("content_block_delta", map[string]any{
				"type":  "content_block_delta",
				"index": 0,
				"delta": map[string]string{"type": "text_delta", "text": choice.Delta.Content},
			}))
		}
		if choice.FinishReason != nil && *choice.FinishReason != "" {
			t.stopReason = mapStopReason(*choice.FinishReason)
		}
	}

	if chunk.Usage != nil {
		t.outputTokens = chunk.Usage.CompletionTokens
	}
	return events
}

// Finish emits the closing event sequence after the upstream stream ends.
func (t *AnthropicStreamTranslator) Finish() []StreamEvent {
	if !t.started {
		return nil
	}
	if t.stopReason == "" {
		t.stopReason = "end_turn"
	}
	return []StreamEvent{
		event("content_block_stop", map[string]any{
			"type":  "content_block_stop",
			"index": 0,
		}),
		event("message_delta", map[string]any{
			"type":  "message_delta",
			"delta": map[string]any{"stop_reason": t.stopReason, "stop_sequence": nil},
			"usage": map[string]int{"output_tokens": t.outputTokens},
		}),
		event("message_stop", map[string]any{"type": "message_stop"}),
	}
}

func event(name string, payload any) StreamEvent {
	data, _ := json.Marshal(payload)
	return StreamEvent{Event: name, Data: string(data)}
}
