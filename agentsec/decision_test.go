package agentsec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecisionConstructors(t *testing.T) {
	a := Allow([]string{"ok"}, nil)
	assert.Equal(t, ActionAllow, a.Action())
	assert.False(t, a.IsBlocked())

	b := Block([]string{"Prompt Injection: SECURITY_VIOLATION"}, map[string]any{"raw": true})
	require.True(t, b.IsBlocked())
	assert.Equal(t, []string{"Prompt Injection: SECURITY_VIOLATION"}, b.Reasons())
	assert.Equal(t, map[string]any{"raw": true}, b.RawResponse())

	s := Sanitize([]string{"PII: MEDIUM"}, "[redacted]", nil)
	assert.Equal(t, ActionSanitize, s.Action())
	assert.Equal(t, "[redacted]", s.SanitizedContent())

	m := MonitorOnly(nil, nil)
	assert.Equal(t, ActionMonitorOnly, m.Action())
	assert.Empty(t, m.Reasons())
}

func TestDecisionReasonsAreCopies(t *testing.T) {
	reasons := []string{"x"}
	d := Allow(reasons, nil)
	reasons[0] = "mutated"
	assert.Equal(t, []string{"x"}, d.Reasons())

	got := d.Reasons()
	got[0] = "mutated-again"
	assert.Equal(t, []string{"x"}, d.Reasons())
}
