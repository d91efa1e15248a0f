package core

import (
	"time"
)

// Classification values assigned to an analyzed email.
const (
	ClassificationSafe         = "safe"
	ClassificationSuspicious   = "suspicious"
	ClassificationMalicious    = "malicious"
	ClassificationDLPViolation = "dlp_violation"
)

// Email lifecycle statuses.
const (
	StatusPending   = "pending"
	StatusAnalyzed  = "analyzed"
	StatusBlocked   = "blocked"
	StatusDelivered = "delivered"
)

// Severity levels for policies and threats.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Threat type tags.
const (
	ThreatPhishing         = "phishing"
	ThreatMalware          = "malware"
	ThreatDLP              = "dlp"
	ThreatSuspiciousSender = "suspicious_sender"
)

// Detection methods recorded on a threat.
const (
	DetectionML        = "ml"
	DetectionRuleBased = "rule_based"
	DetectionManual    = "manual"
)

// Recommendation review statuses.
const (
	RecommendationPending  = "pending"
	RecommendationAccepted = "accepted"
	RecommendationRejected = "rejected"
	RecommendationIgnored  = "ignored"
)

// AttachmentInfo is provider-supplied metadata for one attachment.
type AttachmentInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// Email represents one message under analysis. The provider message ID is
// the idempotency key for ingestion: re-ingesting the same message ID must
// not duplicate analysis.
type Email struct {
	ID             int64            `json:"id"`
	MessageID      string           `json:"messageId"`
	AccountID      *int64           `json:"accountId,omitempty"`
	Subject        string           `json:"subject"`
	Sender         string           `json:"sender"`
	Recipients     []string         `json:"recipients"`
	Body           string           `json:"body"`
	BodyPreview    string           `json:"bodyPreview"`
	HasAttachments bool             `json:"hasAttachments"`
	Attachments    []AttachmentInfo `json:"attachmentInfo,omitempty"`
	ReceivedAt     time.Time        `json:"receivedAt"`
	Direction      string           `json:"direction"`
	Status         string           `json:"status"`
	RiskScore      float64          `json:"riskScore"`
	Classification string           `json:"classification,omitempty"`
	Analysis       *EmailAnalysis   `json:"mlAnalysis,omitempty"`
	CreatedAt      time.Time        `json:"createdAt"`
}

// EmailAnalysis is the classifier verdict for one email.
type EmailAnalysis struct {
	Classification string           `json:"classification"`
	Confidence     float64          `json:"confidence"`
	RiskScore      float64          `json:"riskScore"`
	Reasons        []string         `json:"reasons"`
	Features       AnalysisFeatures `json:"features"`
}

// AnalysisFeatures are the raw signals extracted during classification.
type AnalysisFeatures struct {
	HasURLs            bool     `json:"hasUrls"`
	HasAttachments     bool     `json:"hasAttachments"`
	UrgencyKeywords    []string `json:"urgencyKeywords"`
	SensitiveDataTypes []string `json:"sensitiveDataTypes"`
	SuspiciousPatterns []string `json:"suspiciousPatterns"`
}

// Keyword match modes.
const (
	MatchAny      = "any"      // logical OR
	MatchAll      = "all"      // every keyword must appear, order irrelevant
	MatchSequence = "sequence" // keywords must appear in order, non-overlapping
)

// KeywordRule is a single lexical rule. The keyword set must be non-empty
// for the rule to be meaningful.
type KeywordRule struct {
	Keywords      []string `json:"keywords"`
	MatchType     string   `json:"matchType"`
	CaseSensitive bool     `json:"caseSensitive"`
	WholeWords    bool     `json:"wholeWords"`
}

// AttachmentScanRule configures scanning of one attachment. MaxFileSize is
// compared against the actual size in megabytes, not bytes. An empty
// FileTypes list matches all types.
type AttachmentScanRule struct {
	Name         string        `json:"name"`
	FileTypes    []string      `json:"fileTypes"`
	MaxFileSize  float64       `json:"maxFileSize"`
	KeywordRules []KeywordRule `json:"keywordRules"`
	ScanContent  bool          `json:"scanContent"`
	ScanFilename bool          `json:"scanFilename"`
}

// Sensitive-data pattern types.
const (
	PatternCreditCard  = "credit_card"
	PatternSSN         = "ssn"
	PatternPhone       = "phone"
	PatternBankAccount = "bank_account"
	PatternPassport    = "passport"
)

// PatternMatch is one detected sensitive-data instance. It is produced and
// consumed within a single scan call and only persisted as part of threat
// metadata.
type PatternMatch struct {
	Type       string  `json:"type"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
	Position   int     `json:"position"`
	Context    string  `json:"context"`
}

// PatternToggles selects which pattern detectors run.
type PatternToggles struct {
	CreditCards  bool `json:"creditCards"`
	SSN          bool `json:"ssn"`
	PhoneNumbers bool `json:"phoneNumbers"`
	BankAccounts bool `json:"bankAccounts"`
	Passports    bool `json:"passports"`
}

// ScanMatch is one rule firing at one location of an email or attachment.
type ScanMatch struct {
	RuleName        string         `json:"ruleName"`
	MatchedKeywords []string       `json:"matchedKeywords"`
	Patterns        []PatternMatch `json:"patterns,omitempty"`
	Location        string         `json:"location"`
	Confidence      float64        `json:"confidence"`
}

// ScanResult is the outcome of scanning a single attachment.
type ScanResult struct {
	FileID        string      `json:"fileId"`
	FileName      string      `json:"fileName"`
	FileType      string      `json:"fileType"`
	FileSize      int64       `json:"fileSize"`
	Matches       []ScanMatch `json:"matches"`
	RiskScore     float64     `json:"riskScore"`
	ExtractedText string      `json:"extractedText,omitempty"`
}

// Policy is a named rule bundle. It is created or edited by an operator or
// materialized from an accepted recommendation, never mutated by the
// scanning pipeline.
type Policy struct {
	ID          int64       `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Type        string      `json:"type"` // dlp, phishing, malware, custom
	Rules       PolicyRules `json:"rules"`
	IsActive    bool        `json:"isActive"`
	Severity    string      `json:"severity"`
	Actions     []string    `json:"actions"` // block, quarantine, alert, log
	CreatedBy   *int64      `json:"createdBy,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// Threat is one detection event. It is created exactly once per firing and
// resolved exactly once by an operator; never deleted.
type Threat struct {
	ID              int64          `json:"id"`
	EmailID         int64          `json:"emailId"`
	PolicyID        *int64         `json:"policyId,omitempty"`
	Type            string         `json:"type"`
	Severity        string         `json:"severity"`
	Description     string         `json:"description"`
	DetectionMethod string         `json:"detectionMethod"`
	IsResolved      bool           `json:"isResolved"`
	ResolvedBy      *int64         `json:"resolvedBy,omitempty"`
	ResolvedAt      *time.Time     `json:"resolvedAt,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
}

// SuggestedPolicy is the fully-formed policy payload carried by a
// recommendation, ready for direct creation on accept.
type SuggestedPolicy struct {
	Name     string      `json:"name"`
	Type     string      `json:"type"`
	Rules    PolicyRules `json:"rules"`
	Severity string      `json:"severity"`
	Actions  []string    `json:"actions"`
}

// PolicyRecommendation is a proposed policy generated from batch analysis.
// Its status transitions exactly once.
type PolicyRecommendation struct {
	ID              int64           `json:"id"`
	Title           string          `json:"title"`
	Description     string          `json:"description"`
	SuggestedPolicy SuggestedPolicy `json:"suggestedPolicy"`
	Reasoning       string          `json:"reasoning"`
	Priority        string          `json:"priority"`
	Status          string          `json:"status"`
	BasedOnPattern  string          `json:"basedOnPattern"`
	Confidence      float64         `json:"confidence"`
	CreatedAt       time.Time       `json:"createdAt"`
	ReviewedAt      *time.Time      `json:"reviewedAt,omitempty"`
	ReviewedBy      *int64          `json:"reviewedBy,omitempty"`
}

// PolicyTestResult is the outcome of testing a legacy-dialect policy
// against a sample email.
type PolicyTestResult struct {
	Matches          bool     `json:"matches"`
	Confidence       float64  `json:"confidence"`
	TriggeredRules   []string `json:"triggeredRules"`
	SuggestedActions []string `json:"suggestedActions"`
}

// EmailAccount is a monitored mailbox with its provider tokens.
type EmailAccount struct {
	ID           int64      `json:"id"`
	UserID       int64      `json:"userId"`
	Email        string     `json:"email"`
	TenantID     string     `json:"tenantId"`
	AccessToken  string     `json:"-"`
	RefreshToken string     `json:"-"`
	IsActive     bool       `json:"isActive"`
	LastSyncAt   *time.Time `json:"lastSyncAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// MetricTrend is a today/yesterday count pair with a percentage trend.
type MetricTrend struct {
	Today     int     `json:"today"`
	Yesterday int     `json:"yesterday"`
	Trend     float64 `json:"trend"`
}

// DashboardMetrics are the aggregate counters shown on the dashboard.
type DashboardMetrics struct {
	EmailsScanned MetricTrend `json:"emailsScanned"`
	Threats       MetricTrend `json:"threats"`
	DLPViolations MetricTrend `json:"dlpViolations"`
	ActiveThreats int         `json:"activeThreats"`
}

// Push event types broadcast to connected viewers.
const (
	EventEmailUpdate   = "email_update"
	EventThreatAlert   = "threat_alert"
	EventPolicyUpdate  = "policy_update"
	EventMetricsUpdate = "metrics_update"
)
