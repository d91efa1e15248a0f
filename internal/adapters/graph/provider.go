// Package graph implements the mailbox provider against the Microsoft
// Graph REST API, with OAuth flows handled by golang.org/x/oauth2.
package graph

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/mailsentinel/mailsentinel/internal/core"
)

const graphBaseURL = "https://graph.microsoft.com/v1.0"

var scopes = []string{
	"https://graph.microsoft.com/Mail.Read",
	"https://graph.microsoft.com/Mail.ReadBasic",
	"https://graph.microsoft.com/User.Read",
	"offline_access",
}

// Text can be pulled straight out of these attachment types; Office and
// PDF formats would need a dedicated extraction library.
var plainTextTypes = []string{"txt", "csv", "json", "xml", "html"}

// Provider implements core.MailboxProvider against Microsoft Graph.
type Provider struct {
	oauth   *oauth2.Config
	client  *http.Client
	logger  *zap.Logger
	baseURL string
}

// NewProvider creates a Graph provider for one app registration. tenantID
// may be "common" for multi-tenant registrations.
func NewProvider(clientID, clientSecret, tenantID, redirectURI string, logger *zap.Logger) *Provider {
	return &Provider{
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURI,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/authorize", tenantID),
				TokenURL: fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", tenantID),
			},
		},
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
		baseURL: graphBaseURL,
	}
}

// AuthURL returns the consent URL to start the authorization code flow.
func (p *Provider) AuthURL() string {
	return p.oauth.AuthCodeURL("", oauth2.SetAuthURLParam("response_mode", "query"))
}

// ExchangeCode trades an authorization code for tokens.
func (p *Provider) ExchangeCode(ctx context.Context, code string) (string, string, error) {
	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return "", "", fmt.Errorf("token exchange failed: %w", err)
	}
	return token.AccessToken, token.RefreshToken, nil
}

// RefreshToken trades a refresh token for a fresh access token.
func (p *Provider) RefreshToken(ctx context.Context, refreshToken string) (string, error) {
	source := p.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return "", fmt.Errorf("token refresh failed: %w", err)
	}
	return token.AccessToken, nil
}

type graphMessage struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	Sender  struct {
		EmailAddress struct {
			Address string `json:"address"`
		} `json:"emailAddress"`
	} `json:"sender"`
	ToRecipients []struct {
		EmailAddress struct {
			Address string `json:"address"`
		} `json:"emailAddress"`
	} `json:"toRecipients"`
	Body struct {
		Content string `json:"content"`
	} `json:"body"`
	BodyPreview      string    `json:"bodyPreview"`
	HasAttachments   bool      `json:"hasAttachments"`
	ReceivedDateTime time.Time `json:"receivedDateTime"`
}

// ListRecentMessages fetches the newest messages in the mailbox.
func (p *Provider) ListRecentMessages(ctx context.Context, accessToken string, count int) ([]core.Email, error) {
	query := url.Values{}
	query.Set("$top", fmt.Sprintf("%d", count))
	query.Set("$select", "id,subject,sender,toRecipients,body,bodyPreview,hasAttachments,receivedDateTime")
	query.Set("$orderby", "receivedDateTime desc")

	var payload struct {
		Value []graphMessage `json:"value"`
	}
	if err := p.get(ctx, accessToken, "/me/messages?"+query.Encode(), &payload); err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	emails := make([]core.Email, 0, len(payload.Value))
	for _, msg := range payload.Value {
		recipients := make([]string, 0, len(msg.ToRecipients))
		for _, r := range msg.ToRecipients {
			recipients = append(recipients, r.EmailAddress.Address)
		}
		emails = append(emails, core.Email{
			MessageID:      msg.ID,
			Subject:        msg.Subject,
			Sender:         msg.Sender.EmailAddress.Address,
			Recipients:     recipients,
			Body:           msg.Body.Content,
			BodyPreview:    msg.BodyPreview,
			HasAttachments: msg.HasAttachments,
			ReceivedAt:     msg.ReceivedDateTime,
			Direction:      "inbound",
		})
	}
	return emails, nil
}

type graphAttachment struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Size         int64  `json:"size"`
	ContentBytes string `json:"contentBytes"`
}

// GetAttachments lists attachment metadata for one message.
func (p *Provider) GetAttachments(ctx context.Context, accessToken, messageID string) ([]core.AttachmentInfo, error) {
	var payload struct {
		Value []graphAttachment `json:"value"`
	}
	path := fmt.Sprintf("/me/messages/%s/attachments", url.PathEscape(messageID))
	if err := p.get(ctx, accessToken, path, &payload); err != nil {
		return nil, fmt.Errorf("failed to fetch attachments: %w", err)
	}

	infos := make([]core.AttachmentInfo, 0, len(payload.Value))
	for _, att := range payload.Value {
		infos = append(infos, core.AttachmentInfo{ID: att.ID, Name: att.Name, Size: att.Size})
	}
	return infos, nil
}

// ExtractText downloads one attachment and decodes its content when the
// file type carries plain text. Office and PDF formats are reported as
// unextractable rather than failing the scan.
func (p *Provider) ExtractText(ctx context.Context, accessToken, messageID string, att core.AttachmentInfo) (string, bool, error) {
	if !isPlainTextName(att.Name) {
		return "", false, nil
	}

	var payload graphAttachment
	path := fmt.Sprintf("/me/messages/%s/attachments/%s",
		url.PathEscape(messageID), url.PathEscape(att.ID))
	if err := p.get(ctx, accessToken, path, &payload); err != nil {
		return "", false, fmt.Errorf("failed to download attachment: %w", err)
	}
	if payload.ContentBytes == "" {
		return "", false, nil
	}

	content, err := base64.StdEncoding.DecodeString(payload.ContentBytes)
	if err != nil {
		return "", false, fmt.Errorf("failed to decode attachment content: %w", err)
	}
	return string(content), true, nil
}

func isPlainTextName(name string) bool {
	idx := strings.LastIndex(name, ".")
	if idx < 0 || idx == len(name)-1 {
		return false
	}
	ext := strings.ToLower(name[idx+1:])
	for _, t := range plainTextTypes {
		if ext == t {
			return true
		}
	}
	return false
}

func (p *Provider) get(ctx context.Context, accessToken, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("graph request %s returned %d: %s", path, resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
