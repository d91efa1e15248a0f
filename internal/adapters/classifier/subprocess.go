package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/mailsentinel/mailsentinel/internal/core"
	"github.com/mailsentinel/mailsentinel/internal/utils"
)

// SubprocessClassifier invokes an external model process for each email.
// The payload is passed as a single JSON argument and the verdict is read
// from stdout. Any failure, timeout, or undecodable output degrades to the
// rule-based fallback, so Analyze never returns an error.
type SubprocessClassifier struct {
	command       string
	scriptPath    string
	timeout       time.Duration
	maxBodySize   int
	fallback      *FallbackClassifier
	textProcessor *utils.TextProcessor
	logger        *zap.Logger
}

// NewSubprocessClassifier creates a classifier backed by an external
// process.
func NewSubprocessClassifier(
	command string,
	scriptPath string,
	timeout time.Duration,
	maxBodySize int,
	fallback *FallbackClassifier,
	textProcessor *utils.TextProcessor,
	logger *zap.Logger,
) *SubprocessClassifier {
	return &SubprocessClassifier{
		command:       command,
		scriptPath:    scriptPath,
		timeout:       timeout,
		maxBodySize:   maxBodySize,
		fallback:      fallback,
		textProcessor: textProcessor,
		logger:        logger,
	}
}

type classifierRequest struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Analyze runs the model subprocess and parses its verdict.
func (c *SubprocessClassifier) Analyze(ctx context.Context, subject, body string) (*core.EmailAnalysis, error) {
	analysis, err := c.invoke(ctx, subject, body)
	if err != nil {
		c.logger.Warn("Model subprocess failed, using rule-based fallback", zap.Error(err))
		return c.fallback.Analyze(ctx, subject, body)
	}
	return analysis, nil
}

func (c *SubprocessClassifier) invoke(ctx context.Context, subject, body string) (*core.EmailAnalysis, error) {
	payload, err := json.Marshal(classifierRequest{
		Subject: subject,
		Body:    c.textProcessor.ProcessText(body, c.maxBodySize),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal classifier request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.command, c.scriptPath, string(payload))
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("classifier process failed: %w (stderr: %s)", err, stderr.String())
	}

	var analysis core.EmailAnalysis
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &analysis); err != nil {
		return nil, fmt.Errorf("failed to parse classifier output: %w", err)
	}
	if !validClassification(analysis.Classification) {
		return nil, fmt.Errorf("classifier returned unknown classification %q", analysis.Classification)
	}

	return &analysis, nil
}

func validClassification(classification string) bool {
	switch classification {
	case core.ClassificationSafe, core.ClassificationSuspicious,
		core.ClassificationMalicious, core.ClassificationDLPViolation:
		return true
	}
	return false
}
