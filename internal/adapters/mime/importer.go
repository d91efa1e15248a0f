// Package mime parses raw RFC 5322 messages uploaded for offline
// analysis.
package mime

import (
	"bytes"
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jhillyerd/enmime"
	"go.uber.org/zap"

	"github.com/mailsentinel/mailsentinel/internal/core"
)

const previewLength = 200

// Importer converts uploaded EML files into emails ready for the analysis
// pipeline.
type Importer struct {
	logger *zap.Logger
}

// NewImporter creates an EML importer.
func NewImporter(logger *zap.Logger) *Importer {
	return &Importer{logger: logger}
}

// ParseEML parses one raw message. Messages without a Message-ID header
// get a generated one so ingestion stays idempotent per upload. The
// returned extractor serves the decoded content of textual attachments so
// they can be content-scanned without a mailbox provider.
func (i *Importer) ParseEML(raw []byte) (*core.Email, core.TextExtractor, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: failed to parse MIME message: %v", core.ErrInvalidRule, err)
	}

	messageID := strings.Trim(env.GetHeader("Message-ID"), "<>")
	if messageID == "" {
		messageID = "import-" + uuid.NewString()
		i.logger.Debug("Imported message has no Message-ID, generated one",
			zap.String("message_id", messageID))
	}

	sender := env.GetHeader("From")
	if addr, err := mail.ParseAddress(sender); err == nil {
		sender = addr.Address
	}

	var recipients []string
	if addrs, err := env.AddressList("To"); err == nil {
		for _, a := range addrs {
			recipients = append(recipients, a.Address)
		}
	}

	body := env.Text
	if body == "" {
		body = env.HTML
	}

	receivedAt := time.Now()
	if date, err := mail.ParseDate(env.GetHeader("Date")); err == nil {
		receivedAt = date
	}

	var attachments []core.AttachmentInfo
	texts := make(map[string]string, len(env.Attachments))
	for idx, att := range env.Attachments {
		id := fmt.Sprintf("%s-att-%d", messageID, idx)
		attachments = append(attachments, core.AttachmentInfo{
			ID:   id,
			Name: att.FileName,
			Size: int64(len(att.Content)),
		})
		if isTextual(att.FileName, att.ContentType) {
			texts[id] = string(att.Content)
		}
	}
	extract := func(ctx context.Context, att core.AttachmentInfo) (string, bool, error) {
		text, ok := texts[att.ID]
		return text, ok, nil
	}

	return &core.Email{
		MessageID:      messageID,
		Subject:        env.GetHeader("Subject"),
		Sender:         sender,
		Recipients:     recipients,
		Body:           body,
		BodyPreview:    preview(body),
		HasAttachments: len(attachments) > 0,
		Attachments:    attachments,
		ReceivedAt:     receivedAt,
		Direction:      "inbound",
		Status:         core.StatusPending,
	}, extract, nil
}

var textualExtensions = []string{".txt", ".csv", ".json", ".xml", ".html"}

func isTextual(name, contentType string) bool {
	if strings.HasPrefix(contentType, "text/") {
		return true
	}
	lower := strings.ToLower(name)
	for _, ext := range textualExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

func preview(body string) string {
	body = strings.Join(strings.Fields(body), " ")
	if len(body) <= previewLength {
		return body
	}
	return body[:previewLength]
}
