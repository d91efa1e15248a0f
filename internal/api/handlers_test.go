package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mailsentinel/mailsentinel/internal/adapters/classifier"
	"github.com/mailsentinel/mailsentinel/internal/adapters/mime"
	"github.com/mailsentinel/mailsentinel/internal/adapters/push"
	"github.com/mailsentinel/mailsentinel/internal/core"
)

// stubRepo overrides only the methods a test exercises; anything else
// panics through the embedded nil interface.
type stubRepo struct {
	core.Repository

	metrics      *core.DashboardMetrics
	emails       []core.Email
	threats      []core.Threat
	policies     map[int64]*core.Policy
	recs         map[int64]*core.PolicyRecommendation
	nextPolicyID int64
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		policies: make(map[int64]*core.Policy),
		recs:     make(map[int64]*core.PolicyRecommendation),
	}
}

func (r *stubRepo) DashboardMetrics(ctx context.Context) (*core.DashboardMetrics, error) {
	return r.metrics, nil
}

func (r *stubRepo) GetRecentEmails(ctx context.Context, limit int) ([]core.Email, error) {
	if limit < len(r.emails) {
		return r.emails[:limit], nil
	}
	return r.emails, nil
}

func (r *stubRepo) GetEmailsByStatus(ctx context.Context, status string, limit int) ([]core.Email, error) {
	var out []core.Email
	for _, e := range r.emails {
		if e.Status == status {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *stubRepo) GetEmailByMessageID(ctx context.Context, messageID string) (*core.Email, error) {
	for i := range r.emails {
		if r.emails[i].MessageID == messageID {
			return &r.emails[i], nil
		}
	}
	return nil, core.ErrNotFound
}

func (r *stubRepo) CreateEmail(ctx context.Context, email *core.Email) (*core.Email, error) {
	stored := *email
	stored.ID = int64(len(r.emails) + 1)
	r.emails = append(r.emails, stored)
	return &stored, nil
}

func (r *stubRepo) UpdateEmailAnalysis(ctx context.Context, emailID int64, analysis *core.EmailAnalysis) error {
	return nil
}

func (r *stubRepo) GetActiveThreats(ctx context.Context) ([]core.Threat, error) {
	return r.threats, nil
}

func (r *stubRepo) CreateThreat(ctx context.Context, threat *core.Threat) (*core.Threat, error) {
	stored := *threat
	stored.ID = int64(len(r.threats) + 1)
	r.threats = append(r.threats, stored)
	return &stored, nil
}

func (r *stubRepo) GetActivePolicies(ctx context.Context) ([]core.Policy, error) {
	var out []core.Policy
	for _, p := range r.policies {
		if p.IsActive {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (r *stubRepo) GetAllPolicies(ctx context.Context) ([]core.Policy, error) {
	var out []core.Policy
	for _, p := range r.policies {
		out = append(out, *p)
	}
	return out, nil
}

func (r *stubRepo) GetPolicyByID(ctx context.Context, id int64) (*core.Policy, error) {
	if p, ok := r.policies[id]; ok {
		return p, nil
	}
	return nil, core.ErrNotFound
}

func (r *stubRepo) CreatePolicy(ctx context.Context, policy *core.Policy) (*core.Policy, error) {
	r.nextPolicyID++
	stored := *policy
	stored.ID = r.nextPolicyID
	r.policies[stored.ID] = &stored
	return &stored, nil
}

func (r *stubRepo) DeletePolicy(ctx context.Context, id int64) error {
	if _, ok := r.policies[id]; !ok {
		return core.ErrNotFound
	}
	delete(r.policies, id)
	return nil
}

func (r *stubRepo) GetPolicyRecommendationByID(ctx context.Context, id int64) (*core.PolicyRecommendation, error) {
	if rec, ok := r.recs[id]; ok {
		return rec, nil
	}
	return nil, core.ErrNotFound
}

func (r *stubRepo) ReviewPolicyRecommendation(ctx context.Context, id int64, status string, reviewedBy int64) error {
	rec, ok := r.recs[id]
	if !ok {
		return core.ErrNotFound
	}
	rec.Status = status
	return nil
}

type stubCache struct{}

func (stubCache) Get(ctx context.Context, messageID string) (*core.EmailAnalysis, error) {
	return nil, nil
}
func (stubCache) Set(ctx context.Context, messageID string, analysis *core.EmailAnalysis, ttl time.Duration) error {
	return nil
}
func (stubCache) Delete(ctx context.Context, messageID string) error { return nil }
func (stubCache) Cleanup(ctx context.Context) error                  { return nil }

type stubProvider struct {
	core.MailboxProvider
}

func (stubProvider) AuthURL() string { return "https://login.example/authorize" }

type noopBroadcaster struct{}

func (noopBroadcaster) Broadcast(eventType string, data any) {}

func testServer(t *testing.T, repo *stubRepo) *Server {
	t.Helper()
	logger := zap.NewNop()
	service := core.NewMonitorService(
		repo,
		classifier.NewFallbackClassifier(logger),
		nil,
		core.NewPolicyEngine("company.com", logger),
		core.NewRecommendationGenerator("company.com", logger),
		noopBroadcaster{},
		stubCache{},
		logger,
		false,
		time.Hour,
		20,
	)
	return NewServer(service, repo, stubProvider{}, push.NewHub(logger),
		mime.NewImporter(logger), logger, ":0", nil)
}

func doRequest(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Engine().ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	w := doRequest(t, testServer(t, newStubRepo()), http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestDashboardMetrics(t *testing.T) {
	repo := newStubRepo()
	repo.metrics = &core.DashboardMetrics{
		EmailsScanned: core.MetricTrend{Today: 12, Yesterday: 10, Trend: 20},
		ActiveThreats: 3,
	}

	w := doRequest(t, testServer(t, repo), http.MethodGet, "/api/dashboard/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var m core.DashboardMetrics
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m))
	assert.Equal(t, 12, m.EmailsScanned.Today)
	assert.Equal(t, 3, m.ActiveThreats)
}

func TestListEmailsByStatus(t *testing.T) {
	repo := newStubRepo()
	repo.emails = []core.Email{
		{ID: 1, MessageID: "a", Status: core.StatusAnalyzed},
		{ID: 2, MessageID: "b", Status: core.StatusPending},
	}

	w := doRequest(t, testServer(t, repo), http.MethodGet, "/api/emails?status=analyzed", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var emails []core.Email
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &emails))
	require.Len(t, emails, 1)
	assert.Equal(t, "a", emails[0].MessageID)
}

func TestCreatePolicyValidatesRules(t *testing.T) {
	s := testServer(t, newStubRepo())

	// Unknown dialect is refused by the rules parser at bind time.
	w := doRequest(t, s, http.MethodPost, "/api/policies", map[string]any{
		"name":  "bad",
		"type":  "dlp",
		"rules": map[string]any{"dialect": "futuristic"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "error")
}

func TestCreateAndDeletePolicy(t *testing.T) {
	repo := newStubRepo()
	s := testServer(t, repo)

	w := doRequest(t, s, http.MethodPost, "/api/policies", map[string]any{
		"name": "Block phish.biz",
		"type": "phishing",
		"rules": map[string]any{
			"senderPattern": ".*@phish\\.biz",
		},
		"severity": "high",
		"actions":  []string{"block"},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var created core.Policy
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.True(t, created.IsActive, "policies default to active")
	assert.Equal(t, core.DialectLegacy, created.Rules.Dialect)

	w = doRequest(t, s, http.MethodDelete, "/api/policies/1", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doRequest(t, s, http.MethodDelete, "/api/policies/1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTestPolicyEndpoint(t *testing.T) {
	repo := newStubRepo()
	repo.policies[5] = &core.Policy{
		ID:      5,
		Actions: []string{"quarantine"},
		Rules: core.PolicyRules{
			Dialect: core.DialectLegacy,
			Legacy:  &core.LegacyRules{Keywords: []string{"wire transfer"}},
		},
	}

	w := doRequest(t, testServer(t, repo), http.MethodPost, "/api/policies/5/test", map[string]any{
		"subject": "payment",
		"body":    "urgent wire transfer needed",
		"sender":  "x@phish.biz",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var result core.PolicyTestResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.True(t, result.Matches)
	assert.Equal(t, 20.0, result.Confidence)
}

func TestReviewRecommendationConflict(t *testing.T) {
	repo := newStubRepo()
	repo.recs[9] = &core.PolicyRecommendation{
		ID:     9,
		Status: core.RecommendationRejected,
	}

	w := doRequest(t, testServer(t, repo), http.MethodPost, "/api/policies/recommendations/9/review",
		map[string]any{"status": "accepted"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestImportEmailRunsPipeline(t *testing.T) {
	repo := newStubRepo()
	s := testServer(t, repo)

	eml := "From: scammer@phish.biz\r\n" +
		"To: victim@company.com\r\n" +
		"Subject: urgent wire transfer\r\n" +
		"Content-Type: text/plain\r\n\r\n" +
		"Congratulations winner, claim your lottery prize now.\r\n"

	req := httptest.NewRequest(http.MethodPost, "/api/emails/import", strings.NewReader(eml))
	req.Header.Set("Content-Type", "message/rfc822")
	w := httptest.NewRecorder()
	s.Engine().ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)

	var stored core.Email
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stored))
	assert.Equal(t, "scammer@phish.biz", stored.Sender)
	assert.Equal(t, core.ClassificationMalicious, stored.Classification)
	assert.NotEmpty(t, repo.threats, "pipeline records threats for imported mail")
}

func TestImportEmailEmptyBody(t *testing.T) {
	w := doRequest(t, testServer(t, newStubRepo()), http.MethodPost, "/api/emails/import", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthURLEndpoint(t *testing.T) {
	w := doRequest(t, testServer(t, newStubRepo()), http.MethodGet, "/api/auth/graph/url", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "login.example")
}
