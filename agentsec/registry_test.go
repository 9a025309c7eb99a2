package agentsec

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistryIdempotentMark(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.IsPatched("openai"))

	r.MarkPatched("openai")
	r.MarkPatched("openai")
	r.MarkPatched("bedrock")

	assert.True(t, r.IsPatched("openai"))
	assert.True(t, r.IsPatched("bedrock"))
	assert.ElementsMatch(t, []string{"openai", "bedrock"}, r.PatchedNames())
}

func TestRegistryConcurrentMarkIsPatchedExactlyOnceObservable(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.MarkPatched("openai")
		}()
	}
	wg.Wait()
	assert.Equal(t, []string{"openai"}, r.PatchedNames())
}

func TestRegistryReset(t *testing.T) {
	r := NewRegistry()
	r.MarkPatched("openai")
	r.reset()
	assert.False(t, r.IsPatched("openai"))
}
