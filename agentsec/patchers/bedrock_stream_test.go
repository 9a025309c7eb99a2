package patchers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestSynthesizeBedrockStreamEventCountFormula(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		numText := rapid.IntRange(0, 5).Draw(rt, "numText")
		numTool := rapid.IntRange(0, 5).Draw(rt, "numTool")

		var blocks []BedrockContentBlock
		for i := 0; i < numText; i++ {
			text := "t"
			blocks = append(blocks, BedrockContentBlock{Text: &text})
		}
		for i := 0; i < numTool; i++ {
			blocks = append(blocks, BedrockContentBlock{ToolUse: &BedrockToolUseBlock{ToolUseID: "id", Name: "tool"}})
		}

		resp := BedrockConverseResponse{}
		resp.Output.Message.Role = "assistant"
		resp.Output.Message.Content = blocks

		stream := SynthesizeBedrockStream(resp)
		want := 1 + 3*(numText+numTool) + 1 + 1
		assert.Equal(t, want, stream.Len())
	})
}

func TestSynthesizeBedrockStreamEventOrdering(t *testing.T) {
	text := "hello"
	resp := BedrockConverseResponse{StopReason: "end_turn"}
	resp.Output.Message.Role = "assistant"
	resp.Output.Message.Content = []BedrockContentBlock{{Text: &text}}

	stream := SynthesizeBedrockStream(resp)

	ev, ok := stream.Next()
	require.True(t, ok)
	require.NotNil(t, ev.MessageStart)
	assert.Equal(t, "assistant", ev.MessageStart.Role)

	ev, ok = stream.Next()
	require.True(t, ok)
	require.NotNil(t, ev.ContentBlockStart)

	ev, ok = stream.Next()
	require.True(t, ok)
	require.NotNil(t, ev.ContentBlockDelta)
	assert.Equal(t, "hello", ev.ContentBlockDelta.Delta.Text)

	ev, ok = stream.Next()
	require.True(t, ok)
	require.NotNil(t, ev.ContentBlockStop)

	ev, ok = stream.Next()
	require.True(t, ok)
	require.NotNil(t, ev.MessageStop)
	assert.Equal(t, "end_turn", ev.MessageStop.StopReason)

	ev, ok = stream.Next()
	require.True(t, ok)
	require.NotNil(t, ev.Metadata)

	_, ok = stream.Next()
	assert.False(t, ok, "stream must be exhausted after exactly Len() events")
}

func TestBedrockEventStreamCloseStopsIteration(t *testing.T) {
	text := "x"
	resp := BedrockConverseResponse{}
	resp.Output.Message.Content = []BedrockContentBlock{{Text: &text}}
	stream := SynthesizeBedrockStream(resp)
	require.NoError(t, stream.Close())
	_, ok := stream.Next()
	assert.False(t, ok)
}
