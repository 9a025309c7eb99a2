package agentsec

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProtectInstallsProcessDefault(t *testing.T) {
	rt, err := Protect(Options{Overrides: Overrides{LLMMode: ModeOnEnforce}})
	require.NoError(t, err)
	require.NotNil(t, rt)
	assert.Same(t, rt, Default())
	assert.Equal(t, ModeOnEnforce, rt.State.LLMMode())
}

func TestProtectIsIdempotentAcrossCalls(t *testing.T) {
	first, err := Protect(Options{Overrides: Overrides{LLMMode: ModeOnEnforce}})
	require.NoError(t, err)
	first.Registry.MarkPatched("openai")

	second, err := Protect(Options{Overrides: Overrides{LLMMode: ModeOff}})
	require.NoError(t, err)

	assert.Same(t, first.State, second.State, "second Protect call reuses the existing RuntimeState")
	assert.Same(t, first.Registry, second.Registry, "second Protect call reuses the existing Registry")
	assert.Equal(t, ModeOnEnforce, second.State.LLMMode(), "RuntimeState stays frozen from the first Resolve")
	assert.Contains(t, GetPatchedClients(), "openai")
}

func TestProtectSurfacesConfigFileError(t *testing.T) {
	defaultMu.Lock()
	defaultRuntime = nil
	defaultMu.Unlock()

	rt, err := Protect(Options{Overrides: Overrides{ConfigFile: "/nonexistent/agentsec.yaml"}})
	assert.Error(t, err)
	assert.Nil(t, rt)
}

func TestRuntimeCloseWithoutTelemetryIsNoop(t *testing.T) {
	rt, err := Protect(Options{Overrides: Overrides{LLMMode: ModeOnEnforce}})
	require.NoError(t, err)
	assert.NoError(t, rt.Close(context.Background()))
}

func TestGetPatchedClientsNilBeforeProtect(t *testing.T) {
	defaultMu.Lock()
	defaultRuntime = nil
	defaultMu.Unlock()

	assert.Nil(t, GetPatchedClients())
}
