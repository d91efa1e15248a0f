package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRepo struct {
	mu               sync.Mutex
	nextID           int64
	emails           map[int64]*Email
	policies         map[int64]*Policy
	threats          []*Threat
	recommendations  map[int64]*PolicyRecommendation
	accounts         []EmailAccount
	recentEmails     []Email
	createEmailCalls int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		emails:          make(map[int64]*Email),
		policies:        make(map[int64]*Policy),
		recommendations: make(map[int64]*PolicyRecommendation),
	}
}

func (r *fakeRepo) next() int64 {
	r.nextID++
	return r.nextID
}

func (r *fakeRepo) CreateEmail(ctx context.Context, email *Email) (*Email, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.createEmailCalls++
	stored := *email
	stored.ID = r.next()
	stored.CreatedAt = time.Now()
	r.emails[stored.ID] = &stored
	return &stored, nil
}

func (r *fakeRepo) GetEmailByMessageID(ctx context.Context, messageID string) (*Email, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.emails {
		if e.MessageID == messageID {
			return e, nil
		}
	}
	return nil, ErrNotFound
}

func (r *fakeRepo) GetEmailByID(ctx context.Context, id int64) (*Email, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.emails[id]; ok {
		return e, nil
	}
	return nil, ErrNotFound
}

func (r *fakeRepo) GetRecentEmails(ctx context.Context, limit int) ([]Email, error) {
	return r.recentEmails, nil
}

func (r *fakeRepo) GetEmailsByStatus(ctx context.Context, status string, limit int) ([]Email, error) {
	return nil, nil
}

func (r *fakeRepo) UpdateEmailAnalysis(ctx context.Context, emailID int64, analysis *EmailAnalysis) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.emails[emailID]
	if !ok {
		return ErrNotFound
	}
	e.Analysis = analysis
	e.Classification = analysis.Classification
	e.RiskScore = analysis.RiskScore
	e.Status = StatusAnalyzed
	return nil
}

func (r *fakeRepo) GetAllPolicies(ctx context.Context) ([]Policy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Policy
	for _, p := range r.policies {
		out = append(out, *p)
	}
	return out, nil
}

func (r *fakeRepo) GetActivePolicies(ctx context.Context) ([]Policy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Policy
	for _, p := range r.policies {
		if p.IsActive {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (r *fakeRepo) GetPolicyByID(ctx context.Context, id int64) (*Policy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.policies[id]; ok {
		return p, nil
	}
	return nil, ErrNotFound
}

func (r *fakeRepo) CreatePolicy(ctx context.Context, policy *Policy) (*Policy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *policy
	stored.ID = r.next()
	r.policies[stored.ID] = &stored
	return &stored, nil
}

func (r *fakeRepo) UpdatePolicy(ctx context.Context, policy *Policy) (*Policy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.policies[policy.ID]; !ok {
		return nil, ErrNotFound
	}
	stored := *policy
	r.policies[policy.ID] = &stored
	return &stored, nil
}

func (r *fakeRepo) DeletePolicy(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.policies[id]; !ok {
		return ErrNotFound
	}
	delete(r.policies, id)
	return nil
}

func (r *fakeRepo) GetActiveThreats(ctx context.Context) ([]Threat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Threat
	for _, t := range r.threats {
		if !t.IsResolved {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (r *fakeRepo) CreateThreat(ctx context.Context, threat *Threat) (*Threat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *threat
	stored.ID = r.next()
	r.threats = append(r.threats, &stored)
	return &stored, nil
}

func (r *fakeRepo) ResolveThreat(ctx context.Context, threatID, resolvedBy int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.threats {
		if t.ID == threatID {
			now := time.Now()
			t.IsResolved = true
			t.ResolvedBy = &resolvedBy
			t.ResolvedAt = &now
			return nil
		}
	}
	return ErrNotFound
}

func (r *fakeRepo) GetPolicyRecommendations(ctx context.Context) ([]PolicyRecommendation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []PolicyRecommendation
	for _, rec := range r.recommendations {
		out = append(out, *rec)
	}
	return out, nil
}

func (r *fakeRepo) GetPolicyRecommendationByID(ctx context.Context, id int64) (*PolicyRecommendation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.recommendations[id]; ok {
		return rec, nil
	}
	return nil, ErrNotFound
}

func (r *fakeRepo) CreatePolicyRecommendation(ctx context.Context, rec *PolicyRecommendation) (*PolicyRecommendation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *rec
	stored.ID = r.next()
	r.recommendations[stored.ID] = &stored
	return &stored, nil
}

func (r *fakeRepo) ReviewPolicyRecommendation(ctx context.Context, id int64, status string, reviewedBy int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recommendations[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now()
	rec.Status = status
	rec.ReviewedAt = &now
	rec.ReviewedBy = &reviewedBy
	return nil
}

func (r *fakeRepo) GetEmailAccountsByUser(ctx context.Context, userID int64) ([]EmailAccount, error) {
	return r.accounts, nil
}

func (r *fakeRepo) CreateEmailAccount(ctx context.Context, account *EmailAccount) (*EmailAccount, error) {
	stored := *account
	stored.ID = r.next()
	r.accounts = append(r.accounts, stored)
	return &stored, nil
}

func (r *fakeRepo) UpdateEmailAccountTokens(ctx context.Context, userID int64, accessToken, refreshToken string) error {
	for i := range r.accounts {
		if r.accounts[i].UserID == userID {
			r.accounts[i].AccessToken = accessToken
			r.accounts[i].RefreshToken = refreshToken
		}
	}
	return nil
}

func (r *fakeRepo) DashboardMetrics(ctx context.Context) (*DashboardMetrics, error) {
	return &DashboardMetrics{}, nil
}

type fakeClassifier struct {
	analysis *EmailAnalysis
	err      error
	calls    int
}

func (c *fakeClassifier) Analyze(ctx context.Context, subject, body string) (*EmailAnalysis, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return c.analysis, nil
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	events []string
}

func (b *fakeBroadcaster) Broadcast(eventType string, data any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, eventType)
}

func (b *fakeBroadcaster) count(eventType string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.events {
		if e == eventType {
			n++
		}
	}
	return n
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[string]*EmailAnalysis
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]*EmailAnalysis)}
}

func (c *fakeCache) Get(ctx context.Context, messageID string) (*EmailAnalysis, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[messageID], nil
}

func (c *fakeCache) Set(ctx context.Context, messageID string, analysis *EmailAnalysis, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[messageID] = analysis
	return nil
}

func (c *fakeCache) Delete(ctx context.Context, messageID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, messageID)
	return nil
}

func (c *fakeCache) Cleanup(ctx context.Context) error { return nil }

type fakeProvider struct {
	messages           []Email
	attachments        []AttachmentInfo
	listErr            error
	refreshed          string
	refreshErr         error
	listCalls          int
	getAttachmentCalls int
	extractText        string
}

func (p *fakeProvider) AuthURL() string { return "https://login.example/authorize" }

func (p *fakeProvider) ExchangeCode(ctx context.Context, code string) (string, string, error) {
	return "access", "refresh", nil
}

func (p *fakeProvider) RefreshToken(ctx context.Context, refreshToken string) (string, error) {
	if p.refreshErr != nil {
		return "", p.refreshErr
	}
	return p.refreshed, nil
}

func (p *fakeProvider) ListRecentMessages(ctx context.Context, accessToken string, count int) ([]Email, error) {
	p.listCalls++
	if p.listErr != nil && p.listCalls == 1 {
		return nil, p.listErr
	}
	return p.messages, nil
}

func (p *fakeProvider) GetAttachments(ctx context.Context, accessToken, messageID string) ([]AttachmentInfo, error) {
	p.getAttachmentCalls++
	return p.attachments, nil
}

func (p *fakeProvider) ExtractText(ctx context.Context, accessToken, messageID string, att AttachmentInfo) (string, bool, error) {
	if p.extractText == "" {
		return "", false, nil
	}
	return p.extractText, true, nil
}

type serviceFixture struct {
	service     *MonitorService
	repo        *fakeRepo
	classifier  *fakeClassifier
	provider    *fakeProvider
	broadcaster *fakeBroadcaster
	cache       *fakeCache
}

func newServiceFixture(classifier *fakeClassifier) *serviceFixture {
	repo := newFakeRepo()
	provider := &fakeProvider{}
	broadcaster := &fakeBroadcaster{}
	cache := newFakeCache()
	logger := zap.NewNop()
	service := NewMonitorService(
		repo,
		classifier,
		provider,
		NewPolicyEngine("company.com", logger),
		NewRecommendationGenerator("company.com", logger),
		broadcaster,
		cache,
		logger,
		true,
		time.Hour,
		20,
	)
	return &serviceFixture{
		service:     service,
		repo:        repo,
		classifier:  classifier,
		provider:    provider,
		broadcaster: broadcaster,
		cache:       cache,
	}
}

func dlpAnalysis() *EmailAnalysis {
	return &EmailAnalysis{
		Classification: ClassificationDLPViolation,
		Confidence:     0.7,
		RiskScore:      75,
		Reasons:        []string{"Contains DLP keywords: credit card"},
	}
}

func TestProcessEmailFullPipeline(t *testing.T) {
	f := newServiceFixture(&fakeClassifier{analysis: dlpAnalysis()})

	// Active policy with pattern detection enabled.
	_, err := f.repo.CreatePolicy(context.Background(), &Policy{
		Name:     "Financial DLP",
		Type:     ThreatDLP,
		IsActive: true,
		Severity: SeverityMedium,
		Rules: PolicyRules{
			Dialect: DialectEnhanced,
			Enhanced: &EnhancedRules{
				ScanLocations: ScanLocations{Subject: true, Body: true},
				KeywordRules: []KeywordRule{
					{Keywords: []string{"credit card"}, MatchType: MatchAny, WholeWords: true},
				},
				PatternDetection: PatternToggles{CreditCards: true},
			},
		},
	})
	require.NoError(t, err)

	email := &Email{
		MessageID: "msg-1",
		Subject:   "Payment needed",
		Sender:    "billing@company.com",
		Body:      "Please provide your credit card number 4111111111111111 immediately",
	}

	stored, err := f.service.ProcessEmail(context.Background(), email, "")
	require.NoError(t, err)
	assert.Equal(t, ClassificationDLPViolation, stored.Classification)
	assert.Equal(t, 75.0, stored.RiskScore)
	assert.Equal(t, StatusAnalyzed, stored.Status)

	// One dlp threat from the classifier verdict, one from the policy.
	threats, err := f.repo.GetActiveThreats(context.Background())
	require.NoError(t, err)
	require.Len(t, threats, 2)
	for _, threat := range threats {
		assert.Equal(t, ThreatDLP, threat.Type)
		assert.Equal(t, stored.ID, threat.EmailID)
	}

	assert.Equal(t, 2, f.broadcaster.count(EventThreatAlert))
	assert.Equal(t, 1, f.broadcaster.count(EventEmailUpdate))
}

func TestProcessEmailIdempotent(t *testing.T) {
	f := newServiceFixture(&fakeClassifier{analysis: dlpAnalysis()})

	email := &Email{MessageID: "msg-1", Subject: "hi", Sender: "a@b.com", Body: "hello"}
	first, err := f.service.ProcessEmail(context.Background(), email, "")
	require.NoError(t, err)

	again := &Email{MessageID: "msg-1", Subject: "hi", Sender: "a@b.com", Body: "hello"}
	second, err := f.service.ProcessEmail(context.Background(), again, "")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, f.repo.createEmailCalls, "same message id must not be re-ingested")
	assert.Equal(t, 1, f.classifier.calls, "same message id must not be re-analyzed")
}

func TestProcessEmailRequiresMessageID(t *testing.T) {
	f := newServiceFixture(&fakeClassifier{analysis: dlpAnalysis()})
	_, err := f.service.ProcessEmail(context.Background(), &Email{Subject: "no id"}, "")
	assert.ErrorIs(t, err, ErrInvalidRule)
}

func TestProcessEmailUsesAnalysisCache(t *testing.T) {
	f := newServiceFixture(&fakeClassifier{analysis: dlpAnalysis()})

	cached := &EmailAnalysis{Classification: ClassificationSafe, Confidence: 0.9, RiskScore: 5}
	require.NoError(t, f.cache.Set(context.Background(), "msg-1", cached, time.Hour))

	email := &Email{MessageID: "msg-1", Subject: "hi", Sender: "a@company.com", Body: "hello"}
	stored, err := f.service.ProcessEmail(context.Background(), email, "")
	require.NoError(t, err)

	assert.Equal(t, ClassificationSafe, stored.Classification)
	assert.Equal(t, 0, f.classifier.calls, "cache hit must bypass the classifier")
}

func TestProcessEmailSurvivesClassifierFailure(t *testing.T) {
	f := newServiceFixture(&fakeClassifier{err: errors.New("backend down")})

	email := &Email{MessageID: "msg-1", Subject: "hi", Sender: "a@elsewhere.com", Body: "hello"}
	stored, err := f.service.ProcessEmail(context.Background(), email, "")
	require.NoError(t, err)
	assert.Nil(t, stored.Analysis)

	// The always-on external sender check still runs without a verdict.
	threats, err := f.repo.GetActiveThreats(context.Background())
	require.NoError(t, err)
	require.Len(t, threats, 1)
	assert.Equal(t, ThreatSuspiciousSender, threats[0].Type)
}

func TestSyncEmailsRefreshesExpiredToken(t *testing.T) {
	f := newServiceFixture(&fakeClassifier{analysis: dlpAnalysis()})
	f.repo.accounts = []EmailAccount{{
		ID:           1,
		UserID:       42,
		Email:        "inbox@company.com",
		AccessToken:  "stale",
		RefreshToken: "refresh-token",
		IsActive:     true,
	}}
	f.provider.listErr = errors.New("401 unauthorized")
	f.provider.refreshed = "fresh"
	f.provider.messages = []Email{
		{MessageID: "m1", Subject: "one", Sender: "x@elsewhere.com", Body: "b"},
		{MessageID: "m2", Subject: "two", Sender: "y@elsewhere.com", Body: "b"},
	}

	processed, err := f.service.SyncEmails(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, 2, processed)
	assert.Equal(t, 2, f.provider.listCalls, "list is retried once after refresh")
	assert.Equal(t, "fresh", f.repo.accounts[0].AccessToken)
	assert.Equal(t, 1, f.broadcaster.count(EventMetricsUpdate))
}

func TestSyncEmailsSkipsInactiveAccounts(t *testing.T) {
	f := newServiceFixture(&fakeClassifier{analysis: dlpAnalysis()})
	f.repo.accounts = []EmailAccount{{ID: 1, UserID: 42, AccessToken: "t", IsActive: false}}
	f.provider.messages = []Email{{MessageID: "m1", Subject: "one", Sender: "x@b.com", Body: "b"}}

	processed, err := f.service.SyncEmails(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, 0, processed)
	assert.Equal(t, 0, f.provider.listCalls)
}

func TestScanContentDefaultRules(t *testing.T) {
	f := newServiceFixture(&fakeClassifier{analysis: dlpAnalysis()})

	stored, err := f.repo.CreateEmail(context.Background(), &Email{
		MessageID: "msg-1",
		Subject:   "numbers",
		Body:      "our bank account and credit card 4111111111111111 for payment",
	})
	require.NoError(t, err)

	report, err := f.service.ScanContent(context.Background(), stored.ID, 42, nil)
	require.NoError(t, err)
	assert.Equal(t, stored.ID, report.EmailID)
	assert.Greater(t, report.TotalMatches, 0)
	assert.Greater(t, report.HighestRiskScore, 0.0)
}

func TestScanContentFetchesProviderAttachments(t *testing.T) {
	f := newServiceFixture(&fakeClassifier{analysis: dlpAnalysis()})
	f.repo.accounts = []EmailAccount{{ID: 1, UserID: 42, AccessToken: "tok", IsActive: true}}
	f.provider.attachments = []AttachmentInfo{{ID: "a1", Name: "accounts.txt", Size: 64}}
	f.provider.extractText = "password list for every customer data record"

	stored, err := f.repo.CreateEmail(context.Background(), &Email{
		MessageID:      "msg-att",
		Subject:        "list attached",
		HasAttachments: true,
	})
	require.NoError(t, err)

	rules := []ContentScanRule{{
		Name:         "Credential Leak",
		Locations:    ScanLocations{Attachments: true},
		KeywordRules: []KeywordRule{{Keywords: []string{"password"}, MatchType: MatchAny}},
	}}
	report, err := f.service.ScanContent(context.Background(), stored.ID, 42, rules)
	require.NoError(t, err)

	assert.Equal(t, 1, f.provider.getAttachmentCalls, "attachment list is fetched live from the provider")
	assert.Greater(t, report.TotalMatches, 0)
	require.Len(t, report.Results, 1)
	require.Len(t, report.Results[0].AttachmentResults, 1)
	assert.Equal(t, "accounts.txt", report.Results[0].AttachmentResults[0].FileName)
}

func TestProcessEmailLoadsProviderAttachments(t *testing.T) {
	f := newServiceFixture(&fakeClassifier{analysis: dlpAnalysis()})
	f.provider.attachments = []AttachmentInfo{{ID: "a1", Name: "report.txt", Size: 32}}

	stored, err := f.service.ProcessEmail(context.Background(), &Email{
		MessageID:      "msg-att-2",
		Subject:        "report",
		Body:           "see attachment",
		HasAttachments: true,
	}, "tok")
	require.NoError(t, err)

	require.Len(t, stored.Attachments, 1)
	assert.Equal(t, "report.txt", stored.Attachments[0].Name)
}

func TestScanContentUnknownEmail(t *testing.T) {
	f := newServiceFixture(&fakeClassifier{analysis: dlpAnalysis()})
	_, err := f.service.ScanContent(context.Background(), 999, 42, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGenerateRecommendationsPersists(t *testing.T) {
	f := newServiceFixture(&fakeClassifier{analysis: dlpAnalysis()})
	for i := 0; i < 5; i++ {
		f.repo.recentEmails = append(f.repo.recentEmails, Email{
			Sender:    "spam@phish.biz",
			RiskScore: 90,
		})
	}

	count, err := f.service.GenerateRecommendations(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	recs, err := f.repo.GetPolicyRecommendations(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, RecommendationPending, recs[0].Status)
}

func TestReviewRecommendationAcceptMaterializesPolicy(t *testing.T) {
	f := newServiceFixture(&fakeClassifier{analysis: dlpAnalysis()})
	rec, err := f.repo.CreatePolicyRecommendation(context.Background(), &PolicyRecommendation{
		Title:       "Block Suspicious Domain: phish.biz",
		Description: "High volume of suspicious emails",
		SuggestedPolicy: SuggestedPolicy{
			Name: "Block phish.biz",
			Type: ThreatPhishing,
			Rules: PolicyRules{
				Dialect: DialectLegacy,
				Legacy:  &LegacyRules{SenderPattern: ".*@phish.biz"},
			},
			Severity: SeverityHigh,
			Actions:  []string{"block", "alert"},
		},
		Status: RecommendationPending,
	})
	require.NoError(t, err)

	policy, err := f.service.ReviewRecommendation(context.Background(), rec.ID, RecommendationAccepted, 7)
	require.NoError(t, err)
	require.NotNil(t, policy)
	assert.Equal(t, "Block phish.biz", policy.Name)
	assert.True(t, policy.IsActive)
	require.NotNil(t, policy.CreatedBy)
	assert.Equal(t, int64(7), *policy.CreatedBy)
	assert.Equal(t, 1, f.broadcaster.count(EventPolicyUpdate))

	// A second review of any kind is refused.
	_, err = f.service.ReviewRecommendation(context.Background(), rec.ID, RecommendationRejected, 7)
	assert.ErrorIs(t, err, ErrAlreadyReviewed)
}

func TestReviewRecommendationRejectCreatesNoPolicy(t *testing.T) {
	f := newServiceFixture(&fakeClassifier{analysis: dlpAnalysis()})
	rec, err := f.repo.CreatePolicyRecommendation(context.Background(), &PolicyRecommendation{
		Title:  "Restrict exe Attachments",
		Status: RecommendationPending,
		SuggestedPolicy: SuggestedPolicy{
			Name: "Restrict exe",
			Type: ThreatMalware,
			Rules: PolicyRules{
				Dialect: DialectLegacy,
				Legacy:  &LegacyRules{AttachmentTypes: []string{"exe"}},
			},
		},
	})
	require.NoError(t, err)

	policy, err := f.service.ReviewRecommendation(context.Background(), rec.ID, RecommendationRejected, 7)
	require.NoError(t, err)
	assert.Nil(t, policy)

	policies, err := f.repo.GetAllPolicies(context.Background())
	require.NoError(t, err)
	assert.Empty(t, policies)
	assert.Equal(t, 0, f.broadcaster.count(EventPolicyUpdate))
}

func TestReviewRecommendationInvalidStatus(t *testing.T) {
	f := newServiceFixture(&fakeClassifier{analysis: dlpAnalysis()})
	_, err := f.service.ReviewRecommendation(context.Background(), 1, "maybe", 7)
	assert.ErrorIs(t, err, ErrInvalidRule)
}

func TestResolveThreat(t *testing.T) {
	f := newServiceFixture(&fakeClassifier{analysis: dlpAnalysis()})
	threat, err := f.repo.CreateThreat(context.Background(), &Threat{EmailID: 1, Type: ThreatPhishing})
	require.NoError(t, err)

	require.NoError(t, f.service.ResolveThreat(context.Background(), threat.ID, 7))

	active, err := f.repo.GetActiveThreats(context.Background())
	require.NoError(t, err)
	assert.Empty(t, active)
	assert.Equal(t, 1, f.broadcaster.count(EventThreatAlert))
}
