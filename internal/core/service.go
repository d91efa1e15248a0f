package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// MonitorService orchestrates the monitoring pipeline: ingestion,
// classification, policy matching, threat recording, and recommendation
// generation. All collaborators are injected so tests can substitute
// fakes.
type MonitorService struct {
	repo         Repository
	classifier   Classifier
	provider     MailboxProvider
	engine       *PolicyEngine
	generator    *RecommendationGenerator
	broadcaster  Broadcaster
	cache        AnalysisCache
	logger       *zap.Logger
	cacheEnabled bool
	cacheTTL     time.Duration
	syncCount    int
}

// NewMonitorService creates the monitoring service.
func NewMonitorService(
	repo Repository,
	classifier Classifier,
	provider MailboxProvider,
	engine *PolicyEngine,
	generator *RecommendationGenerator,
	broadcaster Broadcaster,
	cache AnalysisCache,
	logger *zap.Logger,
	cacheEnabled bool,
	cacheTTL time.Duration,
	syncCount int,
) *MonitorService {
	return &MonitorService{
		repo:         repo,
		classifier:   classifier,
		provider:     provider,
		engine:       engine,
		generator:    generator,
		broadcaster:  broadcaster,
		cache:        cache,
		logger:       logger,
		cacheEnabled: cacheEnabled,
		cacheTTL:     cacheTTL,
		syncCount:    syncCount,
	}
}

// SyncEmails fetches recent messages for every active account of the user,
// ingests them idempotently, and runs the analysis pipeline on each new
// message. It returns the number of messages processed.
func (s *MonitorService) SyncEmails(ctx context.Context, userID int64) (int, error) {
	accounts, err := s.repo.GetEmailAccountsByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to load email accounts: %w", err)
	}

	processed := 0
	for _, account := range accounts {
		if !account.IsActive || account.AccessToken == "" {
			continue
		}

		token := account.AccessToken
		messages, err := s.provider.ListRecentMessages(ctx, token, s.syncCount)
		if err != nil && account.RefreshToken != "" {
			// Token likely expired; refresh once and retry.
			refreshed, refreshErr := s.provider.RefreshToken(ctx, account.RefreshToken)
			if refreshErr != nil {
				s.logger.Warn("Token refresh failed",
					zap.Int64("account_id", account.ID),
					zap.Error(refreshErr))
				continue
			}
			token = refreshed
			if err := s.repo.UpdateEmailAccountTokens(ctx, account.UserID, token, account.RefreshToken); err != nil {
				s.logger.Error("Failed to persist refreshed token", zap.Error(err))
			}
			messages, err = s.provider.ListRecentMessages(ctx, token, s.syncCount)
		}
		if err != nil {
			s.logger.Warn("Failed to list messages",
				zap.Int64("account_id", account.ID),
				zap.Error(err))
			continue
		}

		accountID := account.ID
		for i := range messages {
			email := messages[i]
			email.AccountID = &accountID
			if _, err := s.ProcessEmail(ctx, &email, token); err != nil {
				s.logger.Error("Failed to process message",
					zap.String("message_id", email.MessageID),
					zap.Error(err))
				continue
			}
			processed++
		}
	}

	if metrics, err := s.repo.DashboardMetrics(ctx); err == nil {
		s.broadcaster.Broadcast(EventMetricsUpdate, metrics)
	}

	return processed, nil
}

// ProcessEmail ingests one email and runs the full analysis pipeline. The
// provider message ID is the idempotency key: a message that was already
// ingested is returned as-is without re-analysis. accessToken may be empty
// for emails that did not come from the mailbox provider; attachment
// content scanning is then skipped.
func (s *MonitorService) ProcessEmail(ctx context.Context, email *Email, accessToken string) (*Email, error) {
	s.loadAttachments(ctx, email, accessToken)
	return s.processEmail(ctx, email, s.extractorFor(accessToken, email.MessageID))
}

// ImportEmail runs the pipeline for an email that did not come from the
// mailbox provider. The extractor supplies attachment content captured at
// parse time; nil disables content extraction.
func (s *MonitorService) ImportEmail(ctx context.Context, email *Email, extract TextExtractor) (*Email, error) {
	if extract == nil {
		extract = noExtraction
	}
	return s.processEmail(ctx, email, extract)
}

func (s *MonitorService) processEmail(ctx context.Context, email *Email, extract TextExtractor) (*Email, error) {
	if email.MessageID == "" {
		return nil, fmt.Errorf("%w: email has no message id", ErrInvalidRule)
	}

	existing, err := s.repo.GetEmailByMessageID(ctx, email.MessageID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to check for existing email: %w", err)
	}
	if existing != nil {
		s.logger.Debug("Skipping already ingested message",
			zap.String("message_id", email.MessageID))
		return existing, nil
	}

	email.Status = StatusPending
	stored, err := s.repo.CreateEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to store email: %w", err)
	}

	analysis := s.analyzeEmail(ctx, stored)
	if analysis != nil {
		if err := s.repo.UpdateEmailAnalysis(ctx, stored.ID, analysis); err != nil {
			return nil, fmt.Errorf("failed to store analysis: %w", err)
		}
		stored.Analysis = analysis
		stored.Classification = analysis.Classification
		stored.RiskScore = analysis.RiskScore
		stored.Status = StatusAnalyzed
	}

	threats := s.engine.CheckPolicies(stored, analysis)

	policies, err := s.repo.GetActivePolicies(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load active policies: %w", err)
	}
	threats = append(threats, s.engine.EvaluatePolicies(ctx, stored, policies, extract)...)

	for i := range threats {
		created, err := s.repo.CreateThreat(ctx, &threats[i])
		if err != nil {
			return nil, fmt.Errorf("failed to store threat: %w", err)
		}
		s.broadcaster.Broadcast(EventThreatAlert, created)
	}

	s.broadcaster.Broadcast(EventEmailUpdate, stored)

	s.logger.Info("Email processed",
		zap.String("message_id", stored.MessageID),
		zap.String("classification", stored.Classification),
		zap.Float64("risk_score", stored.RiskScore),
		zap.Int("threats", len(threats)))

	return stored, nil
}

// analyzeEmail classifies one email, consulting the analysis cache first.
// Classifier failures degrade to a nil analysis rather than aborting the
// pipeline; the adapter is expected to fall back internally before that.
func (s *MonitorService) analyzeEmail(ctx context.Context, email *Email) *EmailAnalysis {
	if s.cacheEnabled {
		if cached, err := s.cache.Get(ctx, email.MessageID); err == nil && cached != nil {
			s.logger.Debug("Analysis cache hit", zap.String("message_id", email.MessageID))
			return cached
		}
	}

	analysis, err := s.classifier.Analyze(ctx, email.Subject, email.Body)
	if err != nil {
		s.logger.Error("Classifier failed with no fallback result",
			zap.String("message_id", email.MessageID),
			zap.Error(err))
		return nil
	}

	if s.cacheEnabled {
		if err := s.cache.Set(ctx, email.MessageID, analysis, s.cacheTTL); err != nil {
			s.logger.Error("Failed to update analysis cache", zap.Error(err))
		}
	}

	return analysis
}

// ContentScanReport summarizes one scan-content invocation.
type ContentScanReport struct {
	EmailID          int64               `json:"emailId"`
	Results          []ContentScanResult `json:"scanResults"`
	TotalMatches     int                 `json:"totalMatches"`
	HighestRiskScore float64             `json:"highestRiskScore"`
}

// ScanContent runs the content scanning pipeline over a stored email using
// the given rules, or the stock rules when none are supplied. Scan
// operations always produce a report, possibly with zero matches.
func (s *MonitorService) ScanContent(ctx context.Context, emailID int64, userID int64, rules []ContentScanRule) (*ContentScanReport, error) {
	email, err := s.repo.GetEmailByID(ctx, emailID)
	if err != nil {
		return nil, err
	}

	if len(rules) == 0 {
		rules = DefaultContentScanRules()
	}

	accessToken := ""
	if accounts, err := s.repo.GetEmailAccountsByUser(ctx, userID); err == nil && len(accounts) > 0 {
		accessToken = accounts[0].AccessToken
	}
	s.loadAttachments(ctx, email, accessToken)

	results := s.engine.ScanEmailContent(ctx, email, rules, s.extractorFor(accessToken, email.MessageID))

	report := &ContentScanReport{EmailID: email.ID, Results: results}
	for _, r := range results {
		report.TotalMatches += len(r.Matches)
		if r.OverallRiskScore > report.HighestRiskScore {
			report.HighestRiskScore = r.OverallRiskScore
		}
	}
	return report, nil
}

// TestPolicy loads a policy and evaluates its legacy rules against the
// sample email data.
func (s *MonitorService) TestPolicy(ctx context.Context, policyID int64, sample TestEmailData) (*PolicyTestResult, error) {
	policy, err := s.repo.GetPolicyByID(ctx, policyID)
	if err != nil {
		return nil, err
	}
	return s.engine.TestPolicy(policy, sample)
}

// GenerateRecommendations analyzes recent emails, stores the resulting
// recommendations, and returns how many were produced.
func (s *MonitorService) GenerateRecommendations(ctx context.Context, window int) (int, error) {
	emails, err := s.repo.GetRecentEmails(ctx, window)
	if err != nil {
		return 0, fmt.Errorf("failed to load recent emails: %w", err)
	}

	recommendations, err := s.generator.GenerateRecommendations(ctx, emails)
	if err != nil {
		return 0, err
	}

	for i := range recommendations {
		if _, err := s.repo.CreatePolicyRecommendation(ctx, &recommendations[i]); err != nil {
			return 0, fmt.Errorf("failed to store recommendation: %w", err)
		}
	}

	return len(recommendations), nil
}

// ReviewRecommendation transitions a pending recommendation exactly once.
// Accepting materializes the suggested policy; rejecting or ignoring does
// not. The created policy is returned on accept, nil otherwise.
func (s *MonitorService) ReviewRecommendation(ctx context.Context, id int64, status string, reviewedBy int64) (*Policy, error) {
	switch status {
	case RecommendationAccepted, RecommendationRejected, RecommendationIgnored:
	default:
		return nil, fmt.Errorf("%w: invalid review status %q", ErrInvalidRule, status)
	}

	rec, err := s.repo.GetPolicyRecommendationByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != RecommendationPending {
		return nil, ErrAlreadyReviewed
	}

	if err := s.repo.ReviewPolicyRecommendation(ctx, id, status, reviewedBy); err != nil {
		return nil, err
	}

	if status != RecommendationAccepted {
		return nil, nil
	}

	suggested := rec.SuggestedPolicy
	policy := &Policy{
		Name:        suggested.Name,
		Description: rec.Description,
		Type:        suggested.Type,
		Rules:       suggested.Rules,
		IsActive:    true,
		Severity:    suggested.Severity,
		Actions:     suggested.Actions,
		CreatedBy:   &reviewedBy,
	}
	created, err := s.repo.CreatePolicy(ctx, policy)
	if err != nil {
		return nil, fmt.Errorf("failed to materialize accepted policy: %w", err)
	}

	s.broadcaster.Broadcast(EventPolicyUpdate, created)
	return created, nil
}

// ResolveThreat marks a threat resolved exactly once, stamping the
// resolver identity.
func (s *MonitorService) ResolveThreat(ctx context.Context, threatID, resolvedBy int64) error {
	if err := s.repo.ResolveThreat(ctx, threatID, resolvedBy); err != nil {
		return err
	}
	s.broadcaster.Broadcast(EventThreatAlert, map[string]any{
		"threatId": threatID,
		"resolved": true,
	})
	return nil
}

// loadAttachments fetches the attachment list live from the provider for
// messages that report attachments but carry none. Listing failures leave
// the email without attachments rather than aborting the caller.
func (s *MonitorService) loadAttachments(ctx context.Context, email *Email, accessToken string) {
	if !email.HasAttachments || len(email.Attachments) > 0 || accessToken == "" || s.provider == nil {
		return
	}
	attachments, err := s.provider.GetAttachments(ctx, accessToken, email.MessageID)
	if err != nil {
		s.logger.Warn("Failed to list attachments",
			zap.String("message_id", email.MessageID),
			zap.Error(err))
		return
	}
	email.Attachments = attachments
}

// extractorFor builds a text extractor bound to one message's provider
// token. With no token, extraction is unavailable and content scans are
// skipped.
func (s *MonitorService) extractorFor(accessToken, messageID string) TextExtractor {
	if accessToken == "" || s.provider == nil {
		return noExtraction
	}
	return func(ctx context.Context, att AttachmentInfo) (string, bool, error) {
		return s.provider.ExtractText(ctx, accessToken, messageID, att)
	}
}

func noExtraction(ctx context.Context, att AttachmentInfo) (string, bool, error) {
	return "", false, nil
}
