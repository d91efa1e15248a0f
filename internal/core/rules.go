package core

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// Rule dialects. Legacy is the flat keywords/senderPattern/attachmentTypes
// shape; enhanced carries scan locations, keyword rules, and pattern
// detection toggles.
const (
	DialectLegacy   = "legacy"
	DialectEnhanced = "enhanced"
)

// LegacyRules is the flat rule object used by older policies.
type LegacyRules struct {
	Keywords        []string `json:"keywords,omitempty"`
	SenderPattern   string   `json:"senderPattern,omitempty"`
	AttachmentTypes []string `json:"attachmentTypes,omitempty"`
}

// ScanLocations toggles which parts of an email an enhanced rule covers.
type ScanLocations struct {
	Subject     bool `json:"subject"`
	Body        bool `json:"body"`
	Attachments bool `json:"attachments"`
}

// EnhancedRules is the scan-rule shape used by newer policies.
type EnhancedRules struct {
	ScanLocations    ScanLocations  `json:"scanLocations"`
	KeywordRules     []KeywordRule  `json:"keywordRules,omitempty"`
	PatternDetection PatternToggles `json:"patternDetection"`
}

// PolicyRules is the tagged union of the two rule dialects. The dialect is
// resolved once when the payload is parsed, not probed per call.
type PolicyRules struct {
	Dialect  string         `json:"dialect"`
	Legacy   *LegacyRules   `json:"-"`
	Enhanced *EnhancedRules `json:"-"`
}

// rulesPayload mirrors the combined wire shape for unmarshalling. The
// stored payload historically had no discriminant, so absence of a dialect
// tag falls back to shape probing exactly once, here.
type rulesPayload struct {
	Dialect string `json:"dialect,omitempty"`

	Keywords        []string `json:"keywords,omitempty"`
	SenderPattern   string   `json:"senderPattern,omitempty"`
	AttachmentTypes []string `json:"attachmentTypes,omitempty"`

	ScanLocations    *ScanLocations  `json:"scanLocations,omitempty"`
	KeywordRules     []KeywordRule   `json:"keywordRules,omitempty"`
	PatternDetection *PatternToggles `json:"patternDetection,omitempty"`
}

// ParsePolicyRules resolves a raw rules payload into its dialect.
func ParsePolicyRules(raw json.RawMessage) (PolicyRules, error) {
	var p rulesPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return PolicyRules{}, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}

	dialect := p.Dialect
	if dialect == "" {
		if p.ScanLocations != nil || len(p.KeywordRules) > 0 || p.PatternDetection != nil {
			dialect = DialectEnhanced
		} else {
			dialect = DialectLegacy
		}
	}

	switch dialect {
	case DialectLegacy:
		rules := PolicyRules{
			Dialect: DialectLegacy,
			Legacy: &LegacyRules{
				Keywords:        p.Keywords,
				SenderPattern:   p.SenderPattern,
				AttachmentTypes: p.AttachmentTypes,
			},
		}
		return rules, rules.Validate()
	case DialectEnhanced:
		enhanced := &EnhancedRules{KeywordRules: p.KeywordRules}
		if p.ScanLocations != nil {
			enhanced.ScanLocations = *p.ScanLocations
		}
		if p.PatternDetection != nil {
			enhanced.PatternDetection = *p.PatternDetection
		}
		rules := PolicyRules{Dialect: DialectEnhanced, Enhanced: enhanced}
		return rules, rules.Validate()
	default:
		return PolicyRules{}, fmt.Errorf("%w: unknown rule dialect %q", ErrInvalidRule, dialect)
	}
}

// UnmarshalJSON resolves the dialect at load time.
func (r *PolicyRules) UnmarshalJSON(data []byte) error {
	parsed, err := ParsePolicyRules(data)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// MarshalJSON emits the active dialect's payload with an explicit
// discriminant.
func (r PolicyRules) MarshalJSON() ([]byte, error) {
	switch r.Dialect {
	case DialectEnhanced:
		if r.Enhanced == nil {
			return nil, fmt.Errorf("%w: enhanced rules missing payload", ErrInvalidRule)
		}
		return json.Marshal(rulesPayload{
			Dialect:          DialectEnhanced,
			ScanLocations:    &r.Enhanced.ScanLocations,
			KeywordRules:     r.Enhanced.KeywordRules,
			PatternDetection: &r.Enhanced.PatternDetection,
		})
	default:
		legacy := r.Legacy
		if legacy == nil {
			legacy = &LegacyRules{}
		}
		return json.Marshal(rulesPayload{
			Dialect:         DialectLegacy,
			Keywords:        legacy.Keywords,
			SenderPattern:   legacy.SenderPattern,
			AttachmentTypes: legacy.AttachmentTypes,
		})
	}
}

// Validate rejects malformed rule payloads synchronously, before any
// evaluation takes place.
func (r PolicyRules) Validate() error {
	switch r.Dialect {
	case DialectLegacy:
		if r.Legacy == nil {
			return fmt.Errorf("%w: legacy rules missing payload", ErrInvalidRule)
		}
		if r.Legacy.SenderPattern != "" {
			if _, err := regexp.Compile(r.Legacy.SenderPattern); err != nil {
				return fmt.Errorf("%w: bad sender pattern: %v", ErrInvalidRule, err)
			}
		}
		return nil
	case DialectEnhanced:
		if r.Enhanced == nil {
			return fmt.Errorf("%w: enhanced rules missing payload", ErrInvalidRule)
		}
		for _, kr := range r.Enhanced.KeywordRules {
			if err := validateKeywordRule(kr); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown rule dialect %q", ErrInvalidRule, r.Dialect)
	}
}

func validateKeywordRule(rule KeywordRule) error {
	if len(rule.Keywords) == 0 {
		return fmt.Errorf("%w: keyword rule has no keywords", ErrInvalidRule)
	}
	switch rule.MatchType {
	case MatchAny, MatchAll, MatchSequence:
		return nil
	default:
		return fmt.Errorf("%w: unknown match type %q", ErrInvalidRule, rule.MatchType)
	}
}

// ContentScanRule drives one pass of the content scanning pipeline over an
// email: which locations to scan, which keyword rules and pattern
// detectors to run, and how attachments are handled.
type ContentScanRule struct {
	Name             string               `json:"name"`
	Locations        ScanLocations        `json:"scanLocations"`
	KeywordRules     []KeywordRule        `json:"keywordRules,omitempty"`
	PatternDetection PatternToggles       `json:"patternDetection"`
	AttachmentRules  []AttachmentScanRule `json:"attachmentRules,omitempty"`
}

// FinancialDataScanRule is the stock rule for detecting financial data in
// attachments.
func FinancialDataScanRule() AttachmentScanRule {
	return AttachmentScanRule{
		Name:        "Financial Data Detection",
		FileTypes:   []string{"pdf", "doc", "docx", "xls", "xlsx", "txt"},
		MaxFileSize: 50,
		KeywordRules: []KeywordRule{
			{
				Keywords:   []string{"credit card", "social security", "bank account"},
				MatchType:  MatchAny,
				WholeWords: true,
			},
			{
				Keywords:   []string{"ssn", "routing number", "account number"},
				MatchType:  MatchAny,
				WholeWords: true,
			},
		},
		ScanContent:  true,
		ScanFilename: true,
	}
}

// ConfidentialDataScanRule is the stock rule for confidential-information
// markers.
func ConfidentialDataScanRule() AttachmentScanRule {
	return AttachmentScanRule{
		Name:        "Confidential Information",
		MaxFileSize: 100,
		KeywordRules: []KeywordRule{
			{
				Keywords:   []string{"confidential", "proprietary", "internal only"},
				MatchType:  MatchAny,
				WholeWords: true,
			},
			{
				Keywords:   []string{"do not", "distribute", "externally"},
				MatchType:  MatchAll,
				WholeWords: true,
			},
		},
		ScanContent:  true,
		ScanFilename: true,
	}
}

// DefaultContentScanRules are used by the scan-content operation when the
// caller supplies no rules.
func DefaultContentScanRules() []ContentScanRule {
	return []ContentScanRule{
		{
			Name:      "Financial Data Detection",
			Locations: ScanLocations{Subject: true, Body: true, Attachments: true},
			KeywordRules: []KeywordRule{
				{
					Keywords:   []string{"credit card", "social security", "bank account", "ssn"},
					MatchType:  MatchAny,
					WholeWords: true,
				},
			},
			PatternDetection: AllPatternToggles(),
			AttachmentRules:  []AttachmentScanRule{FinancialDataScanRule()},
		},
		{
			Name:      "Confidential Information",
			Locations: ScanLocations{Subject: true, Body: true, Attachments: true},
			KeywordRules: []KeywordRule{
				{
					Keywords:   []string{"confidential", "proprietary", "internal only"},
					MatchType:  MatchAny,
					WholeWords: true,
				},
				{
					Keywords:   []string{"urgent", "immediate", "action required"},
					MatchType:  MatchAll,
					WholeWords: true,
				},
			},
			AttachmentRules: []AttachmentScanRule{ConfidentialDataScanRule()},
		},
	}
}
