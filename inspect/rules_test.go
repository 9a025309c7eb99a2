package inspect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultEnabledRulesCoversClosedEnumeration(t *testing.T) {
	rules := DefaultEnabledRules()
	require.Len(t, rules, len(AllRuleNames))
	for i, rule := range rules {
		assert.Equal(t, AllRuleNames[i], rule.RuleName)
	}
}

func TestDefaultEnabledRulesOnlyAttachesEntityTypesToPIIPCIPHI(t *testing.T) {
	rules := DefaultEnabledRules()
	for _, rule := range rules {
		switch rule.RuleName {
		case RulePII:
			assert.Equal(t, PIIEntityTypes, rule.EntityTypes)
		case RulePCI:
			assert.Equal(t, PCIEntityTypes, rule.EntityTypes)
		case RulePHI:
			assert.Equal(t, PHIEntityTypes, rule.EntityTypes)
		default:
			assert.Empty(t, rule.EntityTypes, "rule %s must not carry entity types", rule.RuleName)
		}
	}
}
