// Package postgres provides the Postgres-backed repository for emails,
// policies, threats, recommendations, and mailbox accounts.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/mailsentinel/mailsentinel/internal/core"
)

// Store implements core.Repository on a pgx connection pool.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewStore creates a repository backed by the given Postgres pool. It
// ensures the schema exists on creation.
func NewStore(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) (*Store, error) {
	s := &Store{pool: pool, logger: logger}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}
	logger.Info("Postgres store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS emails (
			id              BIGSERIAL PRIMARY KEY,
			message_id      TEXT NOT NULL UNIQUE,
			account_id      BIGINT,
			subject         TEXT NOT NULL DEFAULT '',
			sender          TEXT NOT NULL DEFAULT '',
			recipients      JSONB NOT NULL DEFAULT '[]',
			body            TEXT NOT NULL DEFAULT '',
			body_preview    TEXT NOT NULL DEFAULT '',
			has_attachments BOOLEAN NOT NULL DEFAULT FALSE,
			attachments     JSONB NOT NULL DEFAULT '[]',
			received_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			direction       TEXT NOT NULL DEFAULT 'inbound',
			status          TEXT NOT NULL DEFAULT 'pending',
			risk_score      DOUBLE PRECISION NOT NULL DEFAULT 0,
			classification  TEXT NOT NULL DEFAULT '',
			analysis        JSONB,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_emails_status ON emails(status);
		CREATE INDEX IF NOT EXISTS idx_emails_created ON emails(created_at);

		CREATE TABLE IF NOT EXISTS policies (
			id          BIGSERIAL PRIMARY KEY,
			name        TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			type        TEXT NOT NULL,
			rules       JSONB NOT NULL,
			is_active   BOOLEAN NOT NULL DEFAULT TRUE,
			severity    TEXT NOT NULL DEFAULT 'medium',
			actions     JSONB NOT NULL DEFAULT '[]',
			created_by  BIGINT,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS threats (
			id               BIGSERIAL PRIMARY KEY,
			email_id         BIGINT NOT NULL REFERENCES emails(id),
			policy_id        BIGINT,
			type             TEXT NOT NULL,
			severity         TEXT NOT NULL,
			description      TEXT NOT NULL DEFAULT '',
			detection_method TEXT NOT NULL,
			is_resolved      BOOLEAN NOT NULL DEFAULT FALSE,
			resolved_by      BIGINT,
			resolved_at      TIMESTAMPTZ,
			metadata         JSONB,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_threats_resolved ON threats(is_resolved);
		CREATE INDEX IF NOT EXISTS idx_threats_created ON threats(created_at);

		CREATE TABLE IF NOT EXISTS policy_recommendations (
			id               BIGSERIAL PRIMARY KEY,
			title            TEXT NOT NULL,
			description      TEXT NOT NULL DEFAULT '',
			suggested_policy JSONB NOT NULL,
			reasoning        TEXT NOT NULL DEFAULT '',
			priority         TEXT NOT NULL DEFAULT 'medium',
			status           TEXT NOT NULL DEFAULT 'pending',
			based_on_pattern TEXT NOT NULL DEFAULT '',
			confidence       DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			reviewed_at      TIMESTAMPTZ,
			reviewed_by      BIGINT
		);

		CREATE TABLE IF NOT EXISTS email_accounts (
			id            BIGSERIAL PRIMARY KEY,
			user_id       BIGINT NOT NULL,
			email         TEXT NOT NULL,
			tenant_id     TEXT NOT NULL DEFAULT '',
			access_token  TEXT NOT NULL DEFAULT '',
			refresh_token TEXT NOT NULL DEFAULT '',
			is_active     BOOLEAN NOT NULL DEFAULT TRUE,
			last_sync_at  TIMESTAMPTZ,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE(user_id, email)
		);
	`)
	return err
}

const emailColumns = `id, message_id, account_id, subject, sender, recipients, body,
	body_preview, has_attachments, attachments, received_at, direction,
	status, risk_score, classification, analysis, created_at`

// CreateEmail inserts an email. The message ID carries a unique constraint,
// so concurrent ingestion of the same message resolves to the stored row.
func (s *Store) CreateEmail(ctx context.Context, email *core.Email) (*core.Email, error) {
	recipients, err := json.Marshal(email.Recipients)
	if err != nil {
		return nil, fmt.Errorf("failed to encode recipients: %w", err)
	}
	attachments, err := json.Marshal(email.Attachments)
	if err != nil {
		return nil, fmt.Errorf("failed to encode attachments: %w", err)
	}

	receivedAt := email.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO emails
			(message_id, account_id, subject, sender, recipients, body, body_preview,
			 has_attachments, attachments, received_at, direction, status, risk_score, classification)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (message_id) DO NOTHING
	`, email.MessageID, email.AccountID, email.Subject, email.Sender, recipients,
		email.Body, email.BodyPreview, email.HasAttachments, attachments,
		receivedAt, email.Direction, email.Status, email.RiskScore, email.Classification)
	if err != nil {
		return nil, fmt.Errorf("failed to insert email: %w", err)
	}
	if tag.RowsAffected() == 0 {
		s.logger.Debug("Email already stored", zap.String("message_id", email.MessageID))
	}
	return s.GetEmailByMessageID(ctx, email.MessageID)
}

// GetEmailByMessageID fetches an email by its provider message ID.
func (s *Store) GetEmailByMessageID(ctx context.Context, messageID string) (*core.Email, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+emailColumns+` FROM emails WHERE message_id = $1`, messageID)
	return scanEmail(row)
}

// GetEmailByID fetches an email by primary key.
func (s *Store) GetEmailByID(ctx context.Context, id int64) (*core.Email, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+emailColumns+` FROM emails WHERE id = $1`, id)
	return scanEmail(row)
}

// GetRecentEmails returns the newest emails, most recent first.
func (s *Store) GetRecentEmails(ctx context.Context, limit int) ([]core.Email, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+emailColumns+` FROM emails ORDER BY received_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEmails(rows)
}

// GetEmailsByStatus returns emails in one lifecycle status.
func (s *Store) GetEmailsByStatus(ctx context.Context, status string, limit int) ([]core.Email, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+emailColumns+` FROM emails WHERE status = $1 ORDER BY received_at DESC LIMIT $2`,
		status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEmails(rows)
}

// UpdateEmailAnalysis stores the classifier verdict on an email and marks
// it analyzed.
func (s *Store) UpdateEmailAnalysis(ctx context.Context, emailID int64, analysis *core.EmailAnalysis) error {
	payload, err := json.Marshal(analysis)
	if err != nil {
		return fmt.Errorf("failed to encode analysis: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE emails
		SET analysis = $1, classification = $2, risk_score = $3, status = $4
		WHERE id = $5
	`, payload, analysis.Classification, analysis.RiskScore, core.StatusAnalyzed, emailID)
	if err != nil {
		return fmt.Errorf("failed to update analysis: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

const policyColumns = `id, name, description, type, rules, is_active, severity, actions,
	created_by, created_at, updated_at`

// GetAllPolicies returns every policy, newest first.
func (s *Store) GetAllPolicies(ctx context.Context) ([]core.Policy, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+policyColumns+` FROM policies ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPolicies(rows)
}

// GetActivePolicies returns only active policies.
func (s *Store) GetActivePolicies(ctx context.Context) ([]core.Policy, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+policyColumns+` FROM policies WHERE is_active ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPolicies(rows)
}

// GetPolicyByID fetches one policy.
func (s *Store) GetPolicyByID(ctx context.Context, id int64) (*core.Policy, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+policyColumns+` FROM policies WHERE id = $1`, id)
	return scanPolicy(row)
}

// CreatePolicy inserts a policy.
func (s *Store) CreatePolicy(ctx context.Context, policy *core.Policy) (*core.Policy, error) {
	rules, err := json.Marshal(policy.Rules)
	if err != nil {
		return nil, fmt.Errorf("failed to encode rules: %w", err)
	}
	actions, err := json.Marshal(policy.Actions)
	if err != nil {
		return nil, fmt.Errorf("failed to encode actions: %w", err)
	}

	var id int64
	err = s.pool.QueryRow(ctx, `
		INSERT INTO policies (name, description, type, rules, is_active, severity, actions, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, policy.Name, policy.Description, policy.Type, rules, policy.IsActive,
		policy.Severity, actions, policy.CreatedBy).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("failed to insert policy: %w", err)
	}
	return s.GetPolicyByID(ctx, id)
}

// UpdatePolicy replaces a policy's mutable fields.
func (s *Store) UpdatePolicy(ctx context.Context, policy *core.Policy) (*core.Policy, error) {
	rules, err := json.Marshal(policy.Rules)
	if err != nil {
		return nil, fmt.Errorf("failed to encode rules: %w", err)
	}
	actions, err := json.Marshal(policy.Actions)
	if err != nil {
		return nil, fmt.Errorf("failed to encode actions: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE policies
		SET name = $1, description = $2, type = $3, rules = $4, is_active = $5,
		    severity = $6, actions = $7, updated_at = NOW()
		WHERE id = $8
	`, policy.Name, policy.Description, policy.Type, rules, policy.IsActive,
		policy.Severity, actions, policy.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to update policy: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, core.ErrNotFound
	}
	return s.GetPolicyByID(ctx, policy.ID)
}

// DeletePolicy removes a policy.
func (s *Store) DeletePolicy(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM policies WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

const threatColumns = `id, email_id, policy_id, type, severity, description,
	detection_method, is_resolved, resolved_by, resolved_at, metadata, created_at`

// GetActiveThreats returns unresolved threats, newest first.
func (s *Store) GetActiveThreats(ctx context.Context) ([]core.Threat, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+threatColumns+` FROM threats WHERE NOT is_resolved ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var threats []core.Threat
	for rows.Next() {
		threat, err := scanThreatValues(rows)
		if err != nil {
			return nil, err
		}
		threats = append(threats, *threat)
	}
	return threats, rows.Err()
}

// CreateThreat inserts a threat record.
func (s *Store) CreateThreat(ctx context.Context, threat *core.Threat) (*core.Threat, error) {
	metadata, err := json.Marshal(threat.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO threats (email_id, policy_id, type, severity, description, detection_method, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+threatColumns,
		threat.EmailID, threat.PolicyID, threat.Type, threat.Severity,
		threat.Description, threat.DetectionMethod, metadata)
	return scanThreatValues(row)
}

// ResolveThreat marks a threat resolved exactly once; resolving an already
// resolved threat is refused.
func (s *Store) ResolveThreat(ctx context.Context, threatID, resolvedBy int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE threats
		SET is_resolved = TRUE, resolved_by = $1, resolved_at = NOW()
		WHERE id = $2 AND NOT is_resolved
	`, resolvedBy, threatID)
	if err != nil {
		return fmt.Errorf("failed to resolve threat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

const recommendationColumns = `id, title, description, suggested_policy, reasoning,
	priority, status, based_on_pattern, confidence, created_at, reviewed_at, reviewed_by`

// GetPolicyRecommendations returns all recommendations, newest first.
func (s *Store) GetPolicyRecommendations(ctx context.Context) ([]core.PolicyRecommendation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+recommendationColumns+` FROM policy_recommendations ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []core.PolicyRecommendation
	for rows.Next() {
		rec, err := scanRecommendationValues(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}

// GetPolicyRecommendationByID fetches one recommendation.
func (s *Store) GetPolicyRecommendationByID(ctx context.Context, id int64) (*core.PolicyRecommendation, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+recommendationColumns+` FROM policy_recommendations WHERE id = $1`, id)
	return scanRecommendationValues(row)
}

// CreatePolicyRecommendation inserts a recommendation.
func (s *Store) CreatePolicyRecommendation(ctx context.Context, rec *core.PolicyRecommendation) (*core.PolicyRecommendation, error) {
	suggested, err := json.Marshal(rec.SuggestedPolicy)
	if err != nil {
		return nil, fmt.Errorf("failed to encode suggested policy: %w", err)
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO policy_recommendations
			(title, description, suggested_policy, reasoning, priority, status, based_on_pattern, confidence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+recommendationColumns,
		rec.Title, rec.Description, suggested, rec.Reasoning, rec.Priority,
		rec.Status, rec.BasedOnPattern, rec.Confidence)
	return scanRecommendationValues(row)
}

// ReviewPolicyRecommendation transitions a pending recommendation. The
// status guard in the WHERE clause makes the transition exactly-once even
// under concurrent reviews.
func (s *Store) ReviewPolicyRecommendation(ctx context.Context, id int64, status string, reviewedBy int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE policy_recommendations
		SET status = $1, reviewed_at = NOW(), reviewed_by = $2
		WHERE id = $3 AND status = $4
	`, status, reviewedBy, id, core.RecommendationPending)
	if err != nil {
		return fmt.Errorf("failed to review recommendation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrAlreadyReviewed
	}
	return nil
}

// GetEmailAccountsByUser returns all accounts for one user.
func (s *Store) GetEmailAccountsByUser(ctx context.Context, userID int64) ([]core.EmailAccount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, email, tenant_id, access_token, refresh_token, is_active, last_sync_at, created_at
		FROM email_accounts
		WHERE user_id = $1
		ORDER BY email
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []core.EmailAccount
	for rows.Next() {
		var a core.EmailAccount
		if err := rows.Scan(&a.ID, &a.UserID, &a.Email, &a.TenantID, &a.AccessToken,
			&a.RefreshToken, &a.IsActive, &a.LastSyncAt, &a.CreatedAt); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// CreateEmailAccount inserts or refreshes a monitored mailbox keyed on
// (user_id, email).
func (s *Store) CreateEmailAccount(ctx context.Context, account *core.EmailAccount) (*core.EmailAccount, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO email_accounts (user_id, email, tenant_id, access_token, refresh_token, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, email) DO UPDATE SET
			tenant_id     = EXCLUDED.tenant_id,
			access_token  = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			is_active     = EXCLUDED.is_active
		RETURNING id, user_id, email, tenant_id, access_token, refresh_token, is_active, last_sync_at, created_at
	`, account.UserID, account.Email, account.TenantID, account.AccessToken,
		account.RefreshToken, account.IsActive)

	var a core.EmailAccount
	if err := row.Scan(&a.ID, &a.UserID, &a.Email, &a.TenantID, &a.AccessToken,
		&a.RefreshToken, &a.IsActive, &a.LastSyncAt, &a.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to upsert account: %w", err)
	}
	return &a, nil
}

// UpdateEmailAccountTokens replaces the provider tokens for all of a
// user's accounts and stamps the sync time.
func (s *Store) UpdateEmailAccountTokens(ctx context.Context, userID int64, accessToken, refreshToken string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE email_accounts
		SET access_token = $1, refresh_token = $2, last_sync_at = NOW()
		WHERE user_id = $3
	`, accessToken, refreshToken, userID)
	return err
}

// DashboardMetrics computes the today/yesterday counters in one round trip
// per table pair.
func (s *Store) DashboardMetrics(ctx context.Context) (*core.DashboardMetrics, error) {
	metrics := &core.DashboardMetrics{}

	row := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE created_at >= CURRENT_DATE),
			COUNT(*) FILTER (WHERE created_at >= CURRENT_DATE - INTERVAL '1 day' AND created_at < CURRENT_DATE),
			COUNT(*) FILTER (WHERE classification = 'dlp_violation' AND created_at >= CURRENT_DATE),
			COUNT(*) FILTER (WHERE classification = 'dlp_violation' AND created_at >= CURRENT_DATE - INTERVAL '1 day' AND created_at < CURRENT_DATE)
		FROM emails
	`)
	var dlpToday, dlpYesterday int
	if err := row.Scan(&metrics.EmailsScanned.Today, &metrics.EmailsScanned.Yesterday,
		&dlpToday, &dlpYesterday); err != nil {
		return nil, fmt.Errorf("failed to count emails: %w", err)
	}
	metrics.DLPViolations.Today = dlpToday
	metrics.DLPViolations.Yesterday = dlpYesterday

	row = s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE created_at >= CURRENT_DATE),
			COUNT(*) FILTER (WHERE created_at >= CURRENT_DATE - INTERVAL '1 day' AND created_at < CURRENT_DATE),
			COUNT(*) FILTER (WHERE NOT is_resolved)
		FROM threats
	`)
	if err := row.Scan(&metrics.Threats.Today, &metrics.Threats.Yesterday,
		&metrics.ActiveThreats); err != nil {
		return nil, fmt.Errorf("failed to count threats: %w", err)
	}

	metrics.EmailsScanned.Trend = trend(metrics.EmailsScanned.Today, metrics.EmailsScanned.Yesterday)
	metrics.Threats.Trend = trend(metrics.Threats.Today, metrics.Threats.Yesterday)
	metrics.DLPViolations.Trend = trend(metrics.DLPViolations.Today, metrics.DLPViolations.Yesterday)

	return metrics, nil
}

// trend is the day-over-day percentage change. A count appearing from
// nothing reads as +100%.
func trend(today, yesterday int) float64 {
	if yesterday == 0 {
		if today == 0 {
			return 0
		}
		return 100
	}
	return float64(today-yesterday) / float64(yesterday) * 100
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func scanEmail(row pgx.Row) (*core.Email, error) {
	var (
		e           core.Email
		recipients  []byte
		attachments []byte
		analysis    []byte
	)
	err := row.Scan(&e.ID, &e.MessageID, &e.AccountID, &e.Subject, &e.Sender,
		&recipients, &e.Body, &e.BodyPreview, &e.HasAttachments, &attachments,
		&e.ReceivedAt, &e.Direction, &e.Status, &e.RiskScore, &e.Classification,
		&analysis, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(recipients, &e.Recipients); err != nil {
		return nil, fmt.Errorf("failed to decode recipients: %w", err)
	}
	if err := json.Unmarshal(attachments, &e.Attachments); err != nil {
		return nil, fmt.Errorf("failed to decode attachments: %w", err)
	}
	if len(analysis) > 0 {
		e.Analysis = &core.EmailAnalysis{}
		if err := json.Unmarshal(analysis, e.Analysis); err != nil {
			return nil, fmt.Errorf("failed to decode analysis: %w", err)
		}
	}
	return &e, nil
}

func collectEmails(rows pgx.Rows) ([]core.Email, error) {
	var emails []core.Email
	for rows.Next() {
		email, err := scanEmail(rows)
		if err != nil {
			return nil, err
		}
		emails = append(emails, *email)
	}
	return emails, rows.Err()
}

func scanPolicy(row pgx.Row) (*core.Policy, error) {
	var (
		p       core.Policy
		rules   []byte
		actions []byte
	)
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Type, &rules, &p.IsActive,
		&p.Severity, &actions, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(rules, &p.Rules); err != nil {
		return nil, fmt.Errorf("failed to decode rules: %w", err)
	}
	if err := json.Unmarshal(actions, &p.Actions); err != nil {
		return nil, fmt.Errorf("failed to decode actions: %w", err)
	}
	return &p, nil
}

func collectPolicies(rows pgx.Rows) ([]core.Policy, error) {
	var policies []core.Policy
	for rows.Next() {
		policy, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		policies = append(policies, *policy)
	}
	return policies, rows.Err()
}

func scanThreatValues(row pgx.Row) (*core.Threat, error) {
	var (
		t        core.Threat
		metadata []byte
	)
	err := row.Scan(&t.ID, &t.EmailID, &t.PolicyID, &t.Type, &t.Severity,
		&t.Description, &t.DetectionMethod, &t.IsResolved, &t.ResolvedBy,
		&t.ResolvedAt, &metadata, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &t.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
	}
	return &t, nil
}

func scanRecommendationValues(row pgx.Row) (*core.PolicyRecommendation, error) {
	var (
		r         core.PolicyRecommendation
		suggested []byte
	)
	err := row.Scan(&r.ID, &r.Title, &r.Description, &suggested, &r.Reasoning,
		&r.Priority, &r.Status, &r.BasedOnPattern, &r.Confidence, &r.CreatedAt,
		&r.ReviewedAt, &r.ReviewedBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(suggested, &r.SuggestedPolicy); err != nil {
		return nil, fmt.Errorf("failed to decode suggested policy: %w", err)
	}
	return &r, nil
}
