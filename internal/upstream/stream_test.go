package upstream

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirogate/kirogate/pkg/model"
)

func strPtr(s string) *string { return &s }

func TestScanSSE(t *testing.T) {
	raw := ": keepalive\nevent: ping\ndata: {\"a\":1}\n\ndata: [DONE]\n\n"
	r := bufio.NewReader(strings.NewReader(raw))

	data, err := ScanSSE(r)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, data)

	data, err = ScanSSE(r)
	require.NoError(t, err)
	assert.Equal(t, "[DONE]", data)

	_, err = ScanSSE(r)
	assert.Equal(t, io.EOF, err)
}

func TestAnthropicStreamTranslator_EventSequence(t *testing.T) {
	tr := NewAnthropicStreamTranslator("claude-sonnet-4-20250514")

	first := tr.Translate(&model.ChatCompletionChunk{
		ID: "c1",
		Choices: []model.ChatChunkChoice{
			{Delta: model.ChatDelta{Role: "assistant", Content: "Hel"}},
		},
	})
	require.Len(t, first, 3)
	assert.Equal(t, "message_start", first[0].Event)
	assert.Contains(t, first[0].Data, "msg_c1")
	assert.Equal(t, "content_block_start", first[1].Event)
	assert.Equal(t, "content_block_delta", first[2].Event)
	assert.Contains(t, first[2].Data, "Hel")

	second := tr.Translate(&model.ChatCompletionChunk{
		Choices: []model.ChatChunkChoice{
			{Delta: model.ChatDelta{Content: "lo"}, FinishReason: strPtr("length")},
		},
	})
	require.Len(t, second, 1)
	assert.Contains(t, second[0].Data, "lo")

	final := tr.Finish()
	require.Len(t, final, 3)
	assert.Equal(t, "content_block_stop", final[0].Event)
	assert.Equal(t, "message_delta", final[1].Event)
	assert.Contains(t, final[1].Data, "max_tokens")
	assert.Equal(t, "message_stop", final[2].Event)
}

func TestAnthropicStreamTranslator_FinishWithoutChunks(t *testing.T) {
	tr := NewAnthropicStreamTranslator("claude-3-5-haiku-20241022")
	assert.Nil(t, tr.Finish())
}

func TestAnthropicStreamTranslator_UsageFromFinalChunk(t *testing.T) {
	tr := NewAnthropicStreamTranslator("claude-sonnet-4-20250514")
	tr.Translate(&model.ChatCompletionChunk{
		Choices: []model.ChatChunkChoice{{Delta: model.ChatDelta{Content: "x"}}},
	})
	tr.Translate(&model.ChatCompletionChunk{Usage: &model.Usage{CompletionTokens: 42}})

	final := tr.Finish()
	assert.Contains(t, final[1].Data, `"output_tokens":42`)
}

func TestStreamEventWriteTo(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, StreamEvent{Event: "message_stop", Data: `{"type":"message_stop"}`}.WriteTo(&buf))
	assert.Equal(t, "event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n", buf.String())

	buf.Reset()
	require.NoError(t, StreamEvent{Data: "[DONE]"}.WriteTo(&buf))
	assert.Equal(t, "data: [DONE]\n\n", buf.String())
}
