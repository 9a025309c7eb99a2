// Package inspect implements the direct-use inspection clients: chat
// and HTTP inspection built on the same httpclient.Client abstraction
// the patchers share, for callers that want to invoke AI Defense
// inspection directly rather than through a wrapped provider client.
package inspect

import "github.com/cisco-ai-defense/agentsec-go/agentsec"

// RuleName is the closed set of rule categories the inspection
// service classifies content against: injection and code detection,
// the standard content-safety axes, and the three data-privacy rules
// that carry entity-type sets.
type RuleName string

const (
	RulePromptInjection  RuleName = "PROMPT_INJECTION"
	RuleCommandInjection RuleName = "COMMAND_INJECTION"
	RuleCodeDetection    RuleName = "CODE_DETECTION"
	RuleHarassment       RuleName = "HARASSMENT"
	RuleHateSpeech       RuleName = "HATE_SPEECH"
	RuleSexualContent    RuleName = "SEXUAL_CONTENT"
	RuleViolence         RuleName = "VIOLENCE"
	RuleSelfHarm         RuleName = "SELF_HARM"
	RuleToxicContent     RuleName = "TOXIC_CONTENT"
	RulePII              RuleName = "PII"
	RulePCI              RuleName = "PCI"
	RulePHI              RuleName = "PHI"
)

// AllRuleNames enumerates the closed set, in the order default rules
// are generated.
var AllRuleNames = []RuleName{
	RulePromptInjection,
	RuleCommandInjection,
	RuleCodeDetection,
	RuleHarassment,
	RuleHateSpeech,
	RuleSexualContent,
	RuleViolence,
	RuleSelfHarm,
	RuleToxicContent,
	RulePII,
	RulePCI,
	RulePHI,
}

// Canonical entity-type sets for the three rules that carry them.
// All other rules leave entity types unset.
var (
	PIIEntityTypes = []string{"EMAIL_ADDRESS", "PHONE_NUMBER", "PERSON_NAME", "PHYSICAL_ADDRESS", "SSN"}
	PCIEntityTypes = []string{"CREDIT_CARD_NUMBER", "CREDIT_CARD_EXPIRATION", "CVV", "BANK_ACCOUNT_NUMBER"}
	PHIEntityTypes = []string{"MEDICAL_RECORD_NUMBER", "DIAGNOSIS", "HEALTH_PLAN_ID", "PRESCRIPTION"}
)

// Rule is one entry of an InspectionConfig's rule list.
type Rule struct {
	RuleName       RuleName `json:"rule_name"`
	EntityTypes    []string `json:"entity_types,omitempty"`
	RuleID         string   `json:"rule_id,omitempty"`
	Classification string   `json:"classification,omitempty"`
}

// InspectionConfig carries a per-call rule override; nil means "use
// the configured default rule list".
type InspectionConfig struct {
	Rules []Rule `json:"rules,omitempty"`
}

// Metadata is a free-form key/value bag describing the caller's
// application/user/transaction context.
type Metadata map[string]any

// Classification is one entry of an InspectResponse's classification
// list.
type Classification struct {
	Category string `json:"category"`
	Severity string `json:"severity,omitempty"`
}

// InspectResponse is the parsed output of the inspection service.
type InspectResponse struct {
	IsSafe              bool             `json:"is_safe"`
	Classifications     []Classification `json:"classifications,omitempty"`
	Severity            string           `json:"severity,omitempty"`
	Rules               []Rule           `json:"rules,omitempty"`
	AttackTechnique     string           `json:"attack_technique,omitempty"`
	Explanation         string           `json:"explanation,omitempty"`
	ClientTransactionID string           `json:"client_transaction_id,omitempty"`
	EventID             string           `json:"event_id,omitempty"`
	SanitizedContent    string           `json:"sanitized_content,omitempty"`

	// Decision is the Decision value derived from the above fields,
	// carried alongside the raw parse for callers that want both.
	Decision agentsec.Decision `json:"-"`
}
