package patchers

import "encoding/json"

// BedrockStreamEvent is one event in a Bedrock ConverseStream-shaped
// event sequence, keyed the way the AWS SDK's event union shapes
// itself (exactly one of the fields is non-nil per event).
type BedrockStreamEvent struct {
	MessageStart      *BedrockMessageStart      `json:"messageStart,omitempty"`
	ContentBlockStart *BedrockContentBlockStart `json:"contentBlockStart,omitempty"`
	ContentBlockDelta *BedrockContentBlockDelta `json:"contentBlockDelta,omitempty"`
	ContentBlockStop  *BedrockContentBlockStop  `json:"contentBlockStop,omitempty"`
	MessageStop       *BedrockMessageStop       `json:"messageStop,omitempty"`
	Metadata          *BedrockStreamMetadata    `json:"metadata,omitempty"`
}

type BedrockMessageStart struct {
	Role string `json:"role"`
}

type BedrockContentBlockStart struct {
	ContentBlockIndex int                           `json:"contentBlockIndex"`
	Start             BedrockContentBlockStartUnion `json:"start"`
}

type BedrockContentBlockStartUnion struct {
	Text    *string              `json:"text,omitempty"`
	ToolUse *BedrockToolUseStart `json:"toolUse,omitempty"`
}

type BedrockToolUseStart struct {
	ToolUseID string `json:"toolUseId"`
	Name      string `json:"name"`
}

type BedrockContentBlockDelta struct {
	ContentBlockIndex int                           `json:"contentBlockIndex"`
	Delta             BedrockContentBlockDeltaUnion `json:"delta"`
}

type BedrockContentBlockDeltaUnion struct {
	Text    string               `json:"text,omitempty"`
	ToolUse *BedrockToolUseDelta `json:"toolUse,omitempty"`
}

type BedrockToolUseDelta struct {
	Input string `json:"input"`
}

type BedrockContentBlockStop struct {
	ContentBlockIndex int `json:"contentBlockIndex"`
}

type BedrockMessageStop struct {
	StopReason string `json:"stopReason"`
}

type BedrockStreamMetadata struct {
	Usage   map[string]any `json:"usage"`
	Metrics map[string]any `json:"metrics"`
}

// BedrockContentBlock is one entry of a Converse response's
// output.message.content array, as decoded from the gateway's
// provider-native JSON body.
type BedrockContentBlock struct {
	Text    *string              `json:"text,omitempty"`
	ToolUse *BedrockToolUseBlock `json:"toolUse,omitempty"`
}

type BedrockToolUseBlock struct {
	ToolUseID string         `json:"toolUseId"`
	Name      string         `json:"name"`
	Input     map[string]any `json:"input"`
}

// BedrockConverseResponse is the subset of a Converse response this
// synthesizer reads.
type BedrockConverseResponse struct {
	Output struct {
		Message struct {
			Role    string                `json:"role"`
			Content []BedrockContentBlock `json:"content"`
		} `json:"message"`
	} `json:"output"`
	StopReason string         `json:"stopReason"`
	Usage      map[string]any `json:"usage"`
	Metrics    map[string]any `json:"metrics"`
}

// BedrockEventStream is a fixed, pre-computed sequence of
// BedrockStreamEvent values consumable both as a blocking iterator
// (Next) and a channel-based one (NextAsync). Nothing here performs
// I/O; every event is already materialized at construction.
type BedrockEventStream struct {
	events []BedrockStreamEvent
	pos    int
	closed bool
}

// SynthesizeBedrockStream reconstructs a non-streaming Converse
// response into the event sequence a real ConverseStream would emit:
// messageStart, then per text or tool-use content block a
// start/delta/stop triad (other blocks emit nothing), then messageStop,
// then metadata. Event order is fixed; indices are dense from 0.
func SynthesizeBedrockStream(resp BedrockConverseResponse) *BedrockEventStream {
	role := resp.Output.Message.Role
	if role == "" {
		role = "assistant"
	}
	events := make([]BedrockStreamEvent, 0, 1+3*len(resp.Output.Message.Content)+2)
	events = append(events, BedrockStreamEvent{MessageStart: &BedrockMessageStart{Role: role}})

	idx := 0
	for _, block := range resp.Output.Message.Content {
		switch {
		case block.Text != nil:
			empty := ""
			events = append(events,
				BedrockStreamEvent{ContentBlockStart: &BedrockContentBlockStart{
					ContentBlockIndex: idx,
					Start:             BedrockContentBlockStartUnion{Text: &empty},
				}},
				BedrockStreamEvent{ContentBlockDelta: &BedrockContentBlockDelta{
					ContentBlockIndex: idx,
					Delta:             BedrockContentBlockDeltaUnion{Text: *block.Text},
				}},
				BedrockStreamEvent{ContentBlockStop: &BedrockContentBlockStop{ContentBlockIndex: idx}},
			)
			idx++
		case block.ToolUse != nil:
			input, _ := json.Marshal(block.ToolUse.Input)
			events = append(events,
				BedrockStreamEvent{ContentBlockStart: &BedrockContentBlockStart{
					ContentBlockIndex: idx,
					Start: BedrockContentBlockStartUnion{ToolUse: &BedrockToolUseStart{
						ToolUseID: block.ToolUse.ToolUseID,
						Name:      block.ToolUse.Name,
					}},
				}},
				BedrockStreamEvent{ContentBlockDelta: &BedrockContentBlockDelta{
					ContentBlockIndex: idx,
					Delta:             BedrockContentBlockDeltaUnion{ToolUse: &BedrockToolUseDelta{Input: string(input)}},
				}},
				BedrockStreamEvent{ContentBlockStop: &BedrockContentBlockStop{ContentBlockIndex: idx}},
			)
			idx++
		}
	}

	stopReason := resp.StopReason
	if stopReason == "" {
		stopReason = "end_turn"
	}
	events = append(events, BedrockStreamEvent{MessageStop: &BedrockMessageStop{StopReason: stopReason}})
	events = append(events, BedrockStreamEvent{Metadata: &BedrockStreamMetadata{Usage: resp.Usage, Metrics: resp.Metrics}})

	return &BedrockEventStream{events: events}
}

// Next returns the next event and true, or the zero value and false
// once the stream is exhausted or closed.
func (s *BedrockEventStream) Next() (BedrockStreamEvent, bool) {
	if s.closed || s.pos >= len(s.events) {
		return BedrockStreamEvent{}, false
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, true
}

// NextAsync is the channel-based variant of Next: it delivers
// immediately on a buffered channel since every event is already
// materialized, without introducing a goroutine per event.
func (s *BedrockEventStream) NextAsync() <-chan BedrockStreamEvent {
	out := make(chan BedrockStreamEvent, 1)
	if ev, ok := s.Next(); ok {
		out <- ev
	}
	close(out)
	return out
}

// Close marks the stream exhausted; further Next calls return false.
func (s *BedrockEventStream) Close() error {
	s.closed = true
	return nil
}

// Len reports the total number of events this stream will emit: one
// messageStart, three per text or tool-use content block, one
// messageStop and one metadata event.
func (s *BedrockEventStream) Len() int { return len(s.events) }
