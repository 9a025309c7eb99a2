package agentsec

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallContextIsSharedAcrossNestedCalls(t *testing.T) {
	ctx := WithCallContext(context.Background())
	ctx = WithMetadata(ctx, map[string]any{"user": "alice"})

	assert.False(t, Done(ctx))
	SetDecision(ctx, Allow(nil, nil))
	assert.True(t, Done(ctx))

	// A nested patched call installing WithCallContext again must see
	// the same state, not a fresh empty one.
	nested := WithCallContext(ctx)
	assert.True(t, Done(nested))
	d, ok := LastDecision(nested)
	require.True(t, ok)
	assert.Equal(t, ActionAllow, d.Action())
	assert.Equal(t, "alice", Metadata(nested)["user"])
}

func TestSkipGuardsReleaseOnPanic(t *testing.T) {
	ctx := WithCallContext(context.Background())
	assert.False(t, SkipLLM(ctx))

	func() {
		defer func() { recover() }()
		SkipLLMGuard(ctx, func() {
			assert.True(t, SkipLLM(ctx))
			panic("boom")
		})
	}()

	assert.False(t, SkipLLM(ctx), "skip flag must be released even when fn panics")
}

func TestIndependentContextsDoNotShareState(t *testing.T) {
	ctx1 := WithCallContext(context.Background())
	ctx2 := WithCallContext(context.Background())

	SetDecision(ctx1, Block([]string{"x"}, nil))
	assert.True(t, Done(ctx1))
	assert.False(t, Done(ctx2))
}
