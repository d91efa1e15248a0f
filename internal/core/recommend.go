package core

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Fixed vocabulary scanned during keyword-frequency analysis.
var dlpAnalysisKeywords = []string{
	"confidential", "proprietary", "internal", "password", "ssn", "social security",
	"credit card", "financial", "salary", "customer data", "personal information",
}

// Attachment extensions considered high risk.
var riskyExtensions = []string{".exe", ".zip", ".rar", ".scr", ".bat", ".cmd", ".pif"}

// RecommendationGenerator batch-analyzes historical emails and proposes
// new policies from aggregate statistics.
type RecommendationGenerator struct {
	orgDomain string
	logger    *zap.Logger
}

// NewRecommendationGenerator creates a recommendation generator. Emails
// from orgDomain are excluded from domain risk analysis.
func NewRecommendationGenerator(orgDomain string, logger *zap.Logger) *RecommendationGenerator {
	return &RecommendationGenerator{
		orgDomain: strings.ToLower(orgDomain),
		logger:    logger,
	}
}

// GenerateRecommendations analyzes a window of recent emails and returns
// proposed policies. Each email's contribution is independent, so the
// batch is abortable between emails via the context; no partial state is
// persisted here.
func (g *RecommendationGenerator) GenerateRecommendations(ctx context.Context, emails []Email) ([]PolicyRecommendation, error) {
	domains, err := g.analyzeDomainRisk(ctx, emails)
	if err != nil {
		return nil, err
	}
	keywords, err := g.analyzeKeywordFrequency(ctx, emails)
	if err != nil {
		return nil, err
	}
	extensions, err := g.analyzeAttachmentRisk(ctx, emails)
	if err != nil {
		return nil, err
	}

	var recommendations []PolicyRecommendation

	for _, d := range domains {
		priority := SeverityMedium
		if d.avgRisk > 80 {
			priority = SeverityHigh
		}
		recommendations = append(recommendations, PolicyRecommendation{
			Title:       "Block Suspicious Domain: " + d.name,
			Description: fmt.Sprintf("High volume of suspicious emails detected from %s. Consider blocking or quarantining emails from this domain.", d.name),
			SuggestedPolicy: SuggestedPolicy{
				Name: "Block " + d.name,
				Type: ThreatPhishing,
				Rules: PolicyRules{
					Dialect: DialectLegacy,
					Legacy:  &LegacyRules{SenderPattern: ".*@" + d.name},
				},
				Severity: SeverityHigh,
				Actions:  []string{"block", "alert"},
			},
			Reasoning:      fmt.Sprintf("Detected %d suspicious emails from %s with average risk score of %.1f%%", d.count, d.name, d.avgRisk),
			Priority:       priority,
			Status:         RecommendationPending,
			BasedOnPattern: "suspicious_domain_analysis",
			Confidence:     minFloat(float64(d.count)*10, 95),
		})
	}

	for _, k := range keywords {
		if k.dlpRisk <= 0.7 {
			continue
		}
		recommendations = append(recommendations, PolicyRecommendation{
			Title:       fmt.Sprintf("DLP Policy for %q", k.word),
			Description: fmt.Sprintf("Frequent use of sensitive keyword %q detected in outbound emails.", k.word),
			SuggestedPolicy: SuggestedPolicy{
				Name: "DLP - " + k.word,
				Type: ThreatDLP,
				Rules: PolicyRules{
					Dialect: DialectLegacy,
					Legacy:  &LegacyRules{Keywords: []string{k.word}},
				},
				Severity: SeverityMedium,
				Actions:  []string{"quarantine", "alert"},
			},
			Reasoning:      fmt.Sprintf("Keyword %q appeared in %d emails with potential data sensitivity", k.word, k.count),
			Priority:       SeverityMedium,
			Status:         RecommendationPending,
			BasedOnPattern: "keyword_frequency_analysis",
			Confidence:     minFloat(float64(k.count)*5, 90),
		})
	}

	for _, ext := range extensions {
		if ext.riskScore <= 0.6 {
			continue
		}
		priority := SeverityMedium
		if ext.riskScore > 0.8 {
			priority = SeverityHigh
		}
		recommendations = append(recommendations, PolicyRecommendation{
			Title:       fmt.Sprintf("Restrict %s Attachments", ext.name),
			Description: fmt.Sprintf("High risk associated with %s attachments in recent emails.", ext.name),
			SuggestedPolicy: SuggestedPolicy{
				Name: "Restrict " + ext.name,
				Type: ThreatMalware,
				Rules: PolicyRules{
					Dialect: DialectLegacy,
					Legacy:  &LegacyRules{AttachmentTypes: []string{ext.name}},
				},
				Severity: SeverityHigh,
				Actions:  []string{"quarantine", "scan", "alert"},
			},
			Reasoning:      fmt.Sprintf("%d %s attachments detected with elevated risk indicators", ext.count, ext.name),
			Priority:       priority,
			Status:         RecommendationPending,
			BasedOnPattern: "attachment_risk_analysis",
			Confidence:     minFloat(float64(ext.count)*8, 95),
		})
	}

	g.logger.Info("Generated policy recommendations",
		zap.Int("emails_analyzed", len(emails)),
		zap.Int("recommendations", len(recommendations)))

	return recommendations, nil
}

type domainStat struct {
	name    string
	count   int
	avgRisk float64
}

// analyzeDomainRisk groups emails by external sender domain and keeps
// domains with at least 3 emails averaging a risk score above 60, sorted
// by average risk descending, top 5.
func (g *RecommendationGenerator) analyzeDomainRisk(ctx context.Context, emails []Email) ([]domainStat, error) {
	type acc struct {
		count     int
		totalRisk float64
	}
	stats := make(map[string]*acc)

	for i := range emails {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		email := &emails[i]
		if email.RiskScore <= 50 {
			continue
		}
		domain := senderDomain(email.Sender)
		if domain == "" || domain == g.orgDomain {
			continue
		}
		a := stats[domain]
		if a == nil {
			a = &acc{}
			stats[domain] = a
		}
		a.count++
		a.totalRisk += email.RiskScore
	}

	var result []domainStat
	for domain, a := range stats {
		avg := a.totalRisk / float64(a.count)
		if a.count >= 3 && avg > 60 {
			result = append(result, domainStat{name: domain, count: a.count, avgRisk: avg})
		}
	}

	sort.Slice(result, func(i, j int) bool { return result[i].avgRisk > result[j].avgRisk })
	if len(result) > 5 {
		result = result[:5]
	}
	return result, nil
}

type keywordStat struct {
	word    string
	count   int
	dlpRisk float64
}

// analyzeKeywordFrequency counts occurrences of the fixed DLP vocabulary
// across subject+body, keeps keywords seen at least twice, and computes
// dlpRisk = min(count/10, 1), top 5 by dlpRisk.
func (g *RecommendationGenerator) analyzeKeywordFrequency(ctx context.Context, emails []Email) ([]keywordStat, error) {
	counts := make(map[string]int)

	for i := range emails {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text := strings.ToLower(emails[i].Subject + " " + emails[i].Body)
		for _, keyword := range dlpAnalysisKeywords {
			if strings.Contains(text, keyword) {
				counts[keyword]++
			}
		}
	}

	var result []keywordStat
	for word, count := range counts {
		if count < 2 {
			continue
		}
		result = append(result, keywordStat{
			word:    word,
			count:   count,
			dlpRisk: minFloat(float64(count)/10, 1),
		})
	}

	sort.Slice(result, func(i, j int) bool { return result[i].dlpRisk > result[j].dlpRisk })
	if len(result) > 5 {
		result = result[:5]
	}
	return result, nil
}

type extensionStat struct {
	name      string
	count     int
	riskScore float64
}

// analyzeAttachmentRisk counts attachment file extensions, flags the fixed
// executable/archive set as high risk, and keeps extensions with at least
// 3 occurrences, top 5 by risk score.
func (g *RecommendationGenerator) analyzeAttachmentRisk(ctx context.Context, emails []Email) ([]extensionStat, error) {
	counts := make(map[string]int)

	for i := range emails {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		email := &emails[i]
		if !email.HasAttachments {
			continue
		}
		for _, att := range email.Attachments {
			if ext := fileTypeOf(att.Name); ext != "unknown" {
				counts[ext]++
			}
		}
	}

	var result []extensionStat
	for ext, count := range counts {
		if count < 3 {
			continue
		}
		risk := 0.3
		for _, risky := range riskyExtensions {
			if strings.Contains(risky, ext) {
				risk = 0.9
				break
			}
		}
		result = append(result, extensionStat{name: ext, count: count, riskScore: risk})
	}

	sort.Slice(result, func(i, j int) bool { return result[i].riskScore > result[j].riskScore })
	if len(result) > 5 {
		result = result[:5]
	}
	return result, nil
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
