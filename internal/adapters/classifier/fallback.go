package classifier

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/mailsentinel/mailsentinel/internal/core"
)

var suspiciousKeywords = []string{
	"urgent", "immediate", "verify", "suspend", "click here", "wire transfer",
	"lottery", "winner", "congratulations", "prince", "inheritance",
	"bitcoin", "cryptocurrency", "investment opportunity",
}

var dlpKeywords = []string{
	"social security", "ssn", "credit card", "password", "confidential",
	"proprietary", "internal only", "customer data", "financial records",
}

var urlPattern = regexp.MustCompile(`https?://`)

// FallbackClassifier is the rule-based classifier used when the model
// subprocess is unavailable or returns garbage. It never fails.
type FallbackClassifier struct {
	logger *zap.Logger
}

// NewFallbackClassifier creates a rule-based classifier.
func NewFallbackClassifier(logger *zap.Logger) *FallbackClassifier {
	return &FallbackClassifier{logger: logger}
}

// Analyze classifies by keyword ladder: DLP keywords dominate, then two or
// more suspicious keywords, then any suspicious keyword or URL.
func (c *FallbackClassifier) Analyze(ctx context.Context, subject, body string) (*core.EmailAnalysis, error) {
	text := strings.ToLower(subject + " " + body)

	var foundSuspicious, foundDLP []string
	for _, keyword := range suspiciousKeywords {
		if strings.Contains(text, keyword) {
			foundSuspicious = append(foundSuspicious, keyword)
		}
	}
	for _, keyword := range dlpKeywords {
		if strings.Contains(text, keyword) {
			foundDLP = append(foundDLP, keyword)
		}
	}
	hasURLs := urlPattern.MatchString(text)

	classification := core.ClassificationSafe
	riskScore := 10.0
	var reasons []string

	switch {
	case len(foundDLP) > 0:
		classification = core.ClassificationDLPViolation
		riskScore = 75
		reasons = append(reasons, "Detected sensitive data: "+strings.Join(foundDLP, ", "))
	case len(foundSuspicious) >= 2:
		classification = core.ClassificationMalicious
		riskScore = 90
		reasons = append(reasons, "Multiple suspicious keywords: "+strings.Join(foundSuspicious, ", "))
	case len(foundSuspicious) > 0 || hasURLs:
		classification = core.ClassificationSuspicious
		riskScore = 60
		if len(foundSuspicious) > 0 {
			reasons = append(reasons, "Suspicious keywords: "+strings.Join(foundSuspicious, ", "))
		}
		if hasURLs {
			reasons = append(reasons, "Contains external URLs")
		}
	}

	var urgency []string
	for _, k := range foundSuspicious {
		if k == "urgent" || k == "immediate" {
			urgency = append(urgency, k)
		}
	}

	return &core.EmailAnalysis{
		Classification: classification,
		Confidence:     0.7,
		RiskScore:      riskScore,
		Reasons:        reasons,
		Features: core.AnalysisFeatures{
			HasURLs:            hasURLs,
			UrgencyKeywords:    urgency,
			SensitiveDataTypes: foundDLP,
			SuspiciousPatterns: foundSuspicious,
		},
	}, nil
}
