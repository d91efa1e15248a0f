package api

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mailsentinel/mailsentinel/internal/core"
	"github.com/mailsentinel/mailsentinel/internal/metrics"
)

const (
	defaultEmailLimit           = 20
	defaultRecommendationWindow = 100
	maxImportSize               = 10 << 20
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleDashboardMetrics(c *gin.Context) {
	m, err := s.repo.DashboardMetrics(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (s *Server) handleListEmails(c *gin.Context) {
	limit := intQuery(c, "limit", defaultEmailLimit)

	var (
		emails []core.Email
		err    error
	)
	if status := c.Query("status"); status != "" {
		emails, err = s.repo.GetEmailsByStatus(c.Request.Context(), status, limit)
	} else {
		emails, err = s.repo.GetRecentEmails(c.Request.Context(), limit)
	}
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, emails)
}

func (s *Server) handleRecentEmails(c *gin.Context) {
	emails, err := s.repo.GetRecentEmails(c.Request.Context(), intQuery(c, "limit", defaultEmailLimit))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, emails)
}

type syncRequest struct {
	UserID int64 `json:"userId"`
}

func (s *Server) handleSyncEmails(c *gin.Context) {
	var req syncRequest
	if err := c.ShouldBindJSON(&req); err != nil && err != io.EOF {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.UserID == 0 {
		req.UserID = 1
	}

	start := time.Now()
	processed, err := s.service.SyncEmails(c.Request.Context(), req.UserID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	metrics.SyncDuration.Observe(time.Since(start).Seconds())

	c.JSON(http.StatusOK, gin.H{"processed": processed})
}

type scanContentRequest struct {
	EmailID int64                  `json:"emailId" binding:"required"`
	UserID  int64                  `json:"userId"`
	Rules   []core.ContentScanRule `json:"rules"`
}

func (s *Server) handleScanContent(c *gin.Context) {
	var req scanContentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "emailId is required"})
		return
	}
	if req.UserID == 0 {
		req.UserID = 1
	}

	report, err := s.service.ScanContent(c.Request.Context(), req.EmailID, req.UserID, req.Rules)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// handleImportEmail ingests a raw RFC 5322 message posted as the request
// body and runs it through the full analysis pipeline.
func (s *Server) handleImportEmail(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxImportSize))
	if err != nil || len(raw) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message body is required"})
		return
	}

	email, extract, err := s.importer.ParseEML(raw)
	if err != nil {
		s.respondError(c, err)
		return
	}

	stored, err := s.service.ImportEmail(c.Request.Context(), email, extract)
	if err != nil {
		s.respondError(c, err)
		return
	}
	classification := stored.Classification
	if classification == "" {
		classification = "unclassified"
	}
	metrics.EmailsProcessed.WithLabelValues(classification).Inc()

	c.JSON(http.StatusCreated, stored)
}

func (s *Server) handleActiveThreats(c *gin.Context) {
	threats, err := s.repo.GetActiveThreats(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, threats)
}

type resolveThreatRequest struct {
	ResolvedBy int64 `json:"resolvedBy"`
}

func (s *Server) handleResolveThreat(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid threat id"})
		return
	}

	var req resolveThreatRequest
	if err := c.ShouldBindJSON(&req); err != nil && err != io.EOF {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.ResolvedBy == 0 {
		req.ResolvedBy = 1
	}

	if err := s.service.ResolveThreat(c.Request.Context(), id, req.ResolvedBy); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"resolved": true})
}

func (s *Server) handleListPolicies(c *gin.Context) {
	policies, err := s.repo.GetAllPolicies(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, policies)
}

type policyRequest struct {
	Name        string           `json:"name" binding:"required"`
	Description string           `json:"description"`
	Type        string           `json:"type" binding:"required"`
	Rules       core.PolicyRules `json:"rules"`
	IsActive    *bool            `json:"isActive"`
	Severity    string           `json:"severity"`
	Actions     []string         `json:"actions"`
	CreatedBy   *int64           `json:"createdBy"`
}

func (r *policyRequest) toPolicy() *core.Policy {
	active := true
	if r.IsActive != nil {
		active = *r.IsActive
	}
	severity := r.Severity
	if severity == "" {
		severity = core.SeverityMedium
	}
	return &core.Policy{
		Name:        r.Name,
		Description: r.Description,
		Type:        r.Type,
		Rules:       r.Rules,
		IsActive:    active,
		Severity:    severity,
		Actions:     r.Actions,
		CreatedBy:   r.CreatedBy,
	}
}

func (s *Server) handleCreatePolicy(c *gin.Context) {
	var req policyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	created, err := s.repo.CreatePolicy(c.Request.Context(), req.toPolicy())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) handleUpdatePolicy(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid policy id"})
		return
	}

	var req policyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	policy := req.toPolicy()
	policy.ID = id
	updated, err := s.repo.UpdatePolicy(c.Request.Context(), policy)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *Server) handleDeletePolicy(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid policy id"})
		return
	}
	if err := s.repo.DeletePolicy(c.Request.Context(), id); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleTestPolicy(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid policy id"})
		return
	}

	var sample core.TestEmailData
	if err := c.ShouldBindJSON(&sample); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid sample email"})
		return
	}

	result, err := s.service.TestPolicy(c.Request.Context(), id, sample)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleListRecommendations(c *gin.Context) {
	recs, err := s.repo.GetPolicyRecommendations(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, recs)
}

type reviewRequest struct {
	Status     string `json:"status" binding:"required"`
	ReviewedBy int64  `json:"reviewedBy"`
}

func (s *Server) handleReviewRecommendation(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid recommendation id"})
		return
	}

	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status is required"})
		return
	}
	if req.ReviewedBy == 0 {
		req.ReviewedBy = 1
	}

	policy, err := s.service.ReviewRecommendation(c.Request.Context(), id, req.Status, req.ReviewedBy)
	if err != nil {
		s.respondError(c, err)
		return
	}

	resp := gin.H{"status": req.Status}
	if policy != nil {
		resp["policy"] = policy
	}
	c.JSON(http.StatusOK, resp)
}

type generateRequest struct {
	Window int `json:"window"`
}

func (s *Server) handleGenerateRecommendations(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil && err != io.EOF {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Window <= 0 {
		req.Window = defaultRecommendationWindow
	}

	count, err := s.service.GenerateRecommendations(c.Request.Context(), req.Window)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"generated": count})
}

func (s *Server) handleAuthURL(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"url": s.provider.AuthURL()})
}

type authCallbackRequest struct {
	Code   string `json:"code" binding:"required"`
	UserID int64  `json:"userId"`
	Email  string `json:"email"`
}

func (s *Server) handleAuthCallback(c *gin.Context) {
	var req authCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code is required"})
		return
	}
	if req.UserID == 0 {
		req.UserID = 1
	}

	accessToken, refreshToken, err := s.provider.ExchangeCode(c.Request.Context(), req.Code)
	if err != nil {
		s.logger.Warn("Token exchange failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "token exchange failed"})
		return
	}

	account, err := s.repo.CreateEmailAccount(c.Request.Context(), &core.EmailAccount{
		UserID:       req.UserID,
		Email:        req.Email,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		IsActive:     true,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func pathID(c *gin.Context) (int64, error) {
	return strconv.ParseInt(c.Param("id"), 10, 64)
}
