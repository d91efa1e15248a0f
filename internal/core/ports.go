package core

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by the core and its collaborators.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidRule is returned for a malformed rule or policy payload.
	ErrInvalidRule = errors.New("invalid rule")
	// ErrAlreadyReviewed is returned when a recommendation status would
	// transition more than once.
	ErrAlreadyReviewed = errors.New("recommendation already reviewed")
)

// Classifier analyzes an email and returns a classification verdict. A
// failing backend must be converted into a degraded-but-valid result at the
// adapter boundary, never surfaced to the core.
type Classifier interface {
	Analyze(ctx context.Context, subject, body string) (*EmailAnalysis, error)
}

// Repository is the persistence boundary for emails, policies, threats,
// and recommendations.
type Repository interface {
	// Email management
	CreateEmail(ctx context.Context, email *Email) (*Email, error)
	GetEmailByMessageID(ctx context.Context, messageID string) (*Email, error)
	GetEmailByID(ctx context.Context, id int64) (*Email, error)
	GetRecentEmails(ctx context.Context, limit int) ([]Email, error)
	GetEmailsByStatus(ctx context.Context, status string, limit int) ([]Email, error)
	UpdateEmailAnalysis(ctx context.Context, emailID int64, analysis *EmailAnalysis) error

	// Policy management
	GetAllPolicies(ctx context.Context) ([]Policy, error)
	GetActivePolicies(ctx context.Context) ([]Policy, error)
	GetPolicyByID(ctx context.Context, id int64) (*Policy, error)
	CreatePolicy(ctx context.Context, policy *Policy) (*Policy, error)
	UpdatePolicy(ctx context.Context, policy *Policy) (*Policy, error)
	DeletePolicy(ctx context.Context, id int64) error

	// Threat management
	GetActiveThreats(ctx context.Context) ([]Threat, error)
	CreateThreat(ctx context.Context, threat *Threat) (*Threat, error)
	ResolveThreat(ctx context.Context, threatID, resolvedBy int64) error

	// Policy recommendations
	GetPolicyRecommendations(ctx context.Context) ([]PolicyRecommendation, error)
	GetPolicyRecommendationByID(ctx context.Context, id int64) (*PolicyRecommendation, error)
	CreatePolicyRecommendation(ctx context.Context, rec *PolicyRecommendation) (*PolicyRecommendation, error)
	ReviewPolicyRecommendation(ctx context.Context, id int64, status string, reviewedBy int64) error

	// Email accounts
	GetEmailAccountsByUser(ctx context.Context, userID int64) ([]EmailAccount, error)
	CreateEmailAccount(ctx context.Context, account *EmailAccount) (*EmailAccount, error)
	UpdateEmailAccountTokens(ctx context.Context, userID int64, accessToken, refreshToken string) error

	// Dashboard metrics
	DashboardMetrics(ctx context.Context) (*DashboardMetrics, error)
}

// MailboxProvider is the external mail platform: OAuth flows plus message
// and attachment retrieval. A failure fetching or extracting one attachment
// must not abort the others.
type MailboxProvider interface {
	AuthURL() string
	ExchangeCode(ctx context.Context, code string) (accessToken, refreshToken string, err error)
	RefreshToken(ctx context.Context, refreshToken string) (string, error)
	ListRecentMessages(ctx context.Context, accessToken string, count int) ([]Email, error)
	GetAttachments(ctx context.Context, accessToken, messageID string) ([]AttachmentInfo, error)
	// ExtractText returns the textual content of an attachment, or "" with
	// ok=false when the content cannot be extracted.
	ExtractText(ctx context.Context, accessToken, messageID string, att AttachmentInfo) (string, bool, error)
}

// TextExtractor extracts text from one attachment. Used by the attachment
// scan adapter so the scanning core stays independent of the provider.
type TextExtractor func(ctx context.Context, att AttachmentInfo) (string, bool, error)

// Broadcaster pushes events to all connected viewers, fire-and-forget.
// Delivery is best-effort, at most once; a slow viewer never blocks the
// producer.
type Broadcaster interface {
	Broadcast(eventType string, data any)
}

// AnalysisCache stores classifier verdicts keyed by provider message ID so
// a re-sync does not re-classify the same message.
type AnalysisCache interface {
	Get(ctx context.Context, messageID string) (*EmailAnalysis, error)
	Set(ctx context.Context, messageID string, analysis *EmailAnalysis, ttl time.Duration) error
	Delete(ctx context.Context, messageID string) error
	Cleanup(ctx context.Context) error
}
