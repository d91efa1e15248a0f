package core

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// PolicyEngine applies policies to emails and emits candidate threats. It
// holds no mutable state: evaluating the same (email, policy, rule-set)
// snapshot twice yields identical results.
type PolicyEngine struct {
	orgDomain string
	logger    *zap.Logger
}

// NewPolicyEngine creates a policy engine. orgDomain is the organization's
// own mail domain; senders outside it trigger the always-on external
// sender check.
func NewPolicyEngine(orgDomain string, logger *zap.Logger) *PolicyEngine {
	return &PolicyEngine{
		orgDomain: strings.ToLower(orgDomain),
		logger:    logger,
	}
}

// TestAttachment is sample attachment data supplied to TestPolicy.
type TestAttachment struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// TestEmailData is the sample email supplied to TestPolicy.
type TestEmailData struct {
	Subject     string           `json:"subject"`
	Body        string           `json:"body"`
	Sender      string           `json:"sender"`
	Attachments []TestAttachment `json:"attachments,omitempty"`
}

// ContentScanResult is the outcome of one content scan rule over an email.
type ContentScanResult struct {
	RuleName          string       `json:"ruleName"`
	Matches           []ScanMatch  `json:"matches"`
	AttachmentResults []ScanResult `json:"attachmentResults,omitempty"`
	OverallRiskScore  float64      `json:"overallRiskScore"`
}

// CheckPolicies runs the always-on rule-based checks that fire regardless
// of any configured policy: classifier DLP and phishing verdicts plus the
// external sender check. It may fire alongside per-policy threats for the
// same email.
func (e *PolicyEngine) CheckPolicies(email *Email, analysis *EmailAnalysis) []Threat {
	var threats []Threat

	if analysis != nil {
		if analysis.Classification == ClassificationDLPViolation {
			threats = append(threats, Threat{
				EmailID:         email.ID,
				Type:            ThreatDLP,
				Severity:        SeverityHigh,
				Description:     "DLP violation detected: " + strings.Join(analysis.Reasons, ", "),
				DetectionMethod: DetectionML,
				Metadata: map[string]any{
					"riskScore":  analysis.RiskScore,
					"features":   analysis.Features,
					"mlAnalysis": analysis,
				},
			})
		}

		if analysis.Classification == ClassificationMalicious || analysis.Classification == ClassificationSuspicious {
			severity := SeverityMedium
			if analysis.Classification == ClassificationMalicious {
				severity = SeverityCritical
			}
			threats = append(threats, Threat{
				EmailID:         email.ID,
				Type:            ThreatPhishing,
				Severity:        severity,
				Description:     "Potential phishing email detected: " + strings.Join(analysis.Reasons, ", "),
				DetectionMethod: DetectionML,
				Metadata: map[string]any{
					"riskScore":  analysis.RiskScore,
					"features":   analysis.Features,
					"mlAnalysis": analysis,
				},
			})
		}
	}

	if domain := senderDomain(email.Sender); domain != "" && domain != e.orgDomain {
		threats = append(threats, Threat{
			EmailID:         email.ID,
			Type:            ThreatSuspiciousSender,
			Severity:        SeverityLow,
			Description:     "Email from external sender",
			DetectionMethod: DetectionRuleBased,
			Metadata: map[string]any{
				"sender": email.Sender,
				"domain": domain,
			},
		})
	}

	return threats
}

// TestPolicy evaluates a legacy-dialect policy against a sample email and
// reports which rule components triggered, a capped confidence, and the
// policy's actions when anything matched.
func (e *PolicyEngine) TestPolicy(policy *Policy, sample TestEmailData) (*PolicyTestResult, error) {
	if policy.Rules.Dialect != DialectLegacy || policy.Rules.Legacy == nil {
		return nil, fmt.Errorf("%w: policy %d does not use the legacy rule dialect", ErrInvalidRule, policy.ID)
	}
	rules := policy.Rules.Legacy

	triggered := []string{}
	confidence := 0.0

	if len(rules.Keywords) > 0 {
		text := strings.ToLower(sample.Subject + " " + sample.Body)
		for _, keyword := range rules.Keywords {
			if strings.Contains(text, strings.ToLower(keyword)) {
				triggered = append(triggered, "Keyword: "+keyword)
				confidence += 20
			}
		}
	}

	if rules.SenderPattern != "" {
		re, err := regexp.Compile(rules.SenderPattern)
		if err != nil {
			return nil, fmt.Errorf("%w: bad sender pattern: %v", ErrInvalidRule, err)
		}
		if re.MatchString(sample.Sender) {
			triggered = append(triggered, "Sender pattern: "+rules.SenderPattern)
			confidence += 30
		}
	}

	if len(rules.AttachmentTypes) > 0 {
		for _, att := range sample.Attachments {
			if containsString(rules.AttachmentTypes, att.Type) {
				triggered = append(triggered, "Attachment type: "+att.Type)
				confidence += 25
			}
		}
	}

	if confidence > 100 {
		confidence = 100
	}

	result := &PolicyTestResult{
		Matches:          len(triggered) > 0,
		Confidence:       confidence,
		TriggeredRules:   triggered,
		SuggestedActions: []string{},
	}
	if result.Matches {
		result.SuggestedActions = policy.Actions
	}
	return result, nil
}

// ScanEmailContent runs the content scanning pipeline over one email: for
// each rule, keyword and pattern matches are collected from every enabled
// location and aggregated into an overall risk score. The email and rules
// are read-only snapshots for the duration of the pass.
func (e *PolicyEngine) ScanEmailContent(ctx context.Context, email *Email, rules []ContentScanRule, extract TextExtractor) []ContentScanResult {
	var results []ContentScanResult

	for _, rule := range rules {
		result := ContentScanResult{RuleName: rule.Name, Matches: []ScanMatch{}}

		if rule.Locations.Subject {
			if m, ok := scanLocation(email.Subject, "subject", rule); ok {
				result.Matches = append(result.Matches, m)
			}
		}
		if rule.Locations.Body {
			if m, ok := scanLocation(email.Body, "body", rule); ok {
				result.Matches = append(result.Matches, m)
			}
		}
		if rule.Locations.Attachments && email.HasAttachments {
			attRules := rule.AttachmentRules
			if len(attRules) == 0 && len(rule.KeywordRules) > 0 {
				attRules = []AttachmentScanRule{{
					Name:         rule.Name,
					MaxFileSize:  100,
					KeywordRules: rule.KeywordRules,
					ScanContent:  true,
					ScanFilename: true,
				}}
			}
			result.AttachmentResults = ScanEmailAttachments(ctx, email.Attachments, attRules, extract)
			for _, ar := range result.AttachmentResults {
				result.Matches = append(result.Matches, ar.Matches...)
			}
		}

		result.OverallRiskScore = AggregateRisk(result.Matches)
		results = append(results, result)

		e.logger.Debug("Content scan rule evaluated",
			zap.String("rule", rule.Name),
			zap.Int("matches", len(result.Matches)),
			zap.Float64("risk_score", result.OverallRiskScore))
	}

	return results
}

// EvaluatePolicies applies every active enhanced-dialect policy to the
// email and returns the candidate threats. Policies are evaluated
// independently; threat ordering across policies is not significant.
func (e *PolicyEngine) EvaluatePolicies(ctx context.Context, email *Email, policies []Policy, extract TextExtractor) []Threat {
	var threats []Threat

	for i := range policies {
		policy := &policies[i]
		if !policy.IsActive || policy.Rules.Dialect != DialectEnhanced || policy.Rules.Enhanced == nil {
			continue
		}

		enhanced := policy.Rules.Enhanced
		rule := ContentScanRule{
			Name:             policy.Name,
			Locations:        enhanced.ScanLocations,
			KeywordRules:     enhanced.KeywordRules,
			PatternDetection: enhanced.PatternDetection,
		}

		results := e.ScanEmailContent(ctx, email, []ContentScanRule{rule}, extract)
		if len(results) == 0 || len(results[0].Matches) == 0 {
			continue
		}
		result := results[0]

		policyID := policy.ID
		threats = append(threats, Threat{
			EmailID:         email.ID,
			PolicyID:        &policyID,
			Type:            policy.Type,
			Severity:        escalateSeverity(policy.Severity, result.OverallRiskScore),
			Description:     buildThreatDescription(policy.Name, result.Matches),
			DetectionMethod: DetectionRuleBased,
			Metadata: map[string]any{
				"policyName": policy.Name,
				"riskScore":  result.OverallRiskScore,
				"matches":    result.Matches,
			},
		})
	}

	return threats
}

// scanLocation collects keyword and pattern matches from one location and
// computes the location confidence:
// min(1, min(0.5, keywordCount*0.1) + avgPatternConfidence*0.7).
func scanLocation(text, location string, rule ContentScanRule) (ScanMatch, bool) {
	keywords := MatchKeywordRules(text, rule.KeywordRules)
	patterns := DetectPatterns(text, rule.PatternDetection)

	if len(keywords) == 0 && len(patterns) == 0 {
		return ScanMatch{}, false
	}

	kwScore := float64(len(keywords)) * 0.1
	if kwScore > 0.5 {
		kwScore = 0.5
	}

	patternAvg := 0.0
	if len(patterns) > 0 {
		total := 0.0
		for _, p := range patterns {
			total += p.Confidence
		}
		patternAvg = total / float64(len(patterns))
	}

	confidence := kwScore + patternAvg*0.7
	if confidence > 1 {
		confidence = 1
	}

	return ScanMatch{
		RuleName:        rule.Name,
		MatchedKeywords: keywords,
		Patterns:        patterns,
		Location:        location,
		Confidence:      confidence,
	}, true
}

var severityRank = map[string]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// escalateSeverity raises the policy's nominal severity according to the
// risk score. It is monotonic in the score and never drops below the
// policy's configured severity for low scores.
func escalateSeverity(policySeverity string, riskScore float64) string {
	escalated := policySeverity
	switch {
	case riskScore >= 80:
		escalated = SeverityCritical
	case riskScore >= 60:
		escalated = SeverityHigh
	case riskScore >= 40:
		escalated = SeverityMedium
	}
	if severityRank[escalated] < severityRank[policySeverity] {
		return policySeverity
	}
	return escalated
}

// buildThreatDescription concatenates per-location match clauses. The
// generic fallback should not be reachable for a non-empty match set, but
// the guard stays regardless.
func buildThreatDescription(policyName string, matches []ScanMatch) string {
	var clauses []string
	for _, m := range matches {
		if len(m.MatchedKeywords) > 0 {
			clauses = append(clauses, fmt.Sprintf("Keywords found in %s: %s", m.Location, strings.Join(m.MatchedKeywords, ", ")))
		}
		if len(m.Patterns) > 0 {
			types := make([]string, 0, len(m.Patterns))
			for _, p := range m.Patterns {
				types = append(types, p.Type)
			}
			clauses = append(clauses, fmt.Sprintf("Sensitive patterns detected in %s: %s", m.Location, strings.Join(dedupeKeywords(types), ", ")))
		}
	}
	if len(clauses) == 0 {
		return fmt.Sprintf("Policy %q matched email content", policyName)
	}
	return fmt.Sprintf("Policy %q matched: %s", policyName, strings.Join(clauses, "; "))
}

func senderDomain(sender string) string {
	parts := strings.Split(sender, "@")
	if len(parts) != 2 {
		return ""
	}
	return strings.ToLower(parts[1])
}
