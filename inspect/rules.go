package inspect

// defaultEntityMap: only PII/PCI/PHI rules carry entity types in the
// default set.
var defaultEntityMap = map[RuleName][]string{
	RulePII: PIIEntityTypes,
	RulePCI: PCIEntityTypes,
	RulePHI: PHIEntityTypes,
}

// DefaultEnabledRules builds one Rule per RuleName in the closed
// enumeration, attaching entity types only for PII/PCI/PHI.
func DefaultEnabledRules() []Rule {
	rules := make([]Rule, 0, len(AllRuleNames))
	for _, name := range AllRuleNames {
		rule := Rule{RuleName: name}
		if entities, ok := defaultEntityMap[name]; ok {
			rule.EntityTypes = append([]string{}, entities...)
		}
		rules = append(rules, rule)
	}
	return rules
}
