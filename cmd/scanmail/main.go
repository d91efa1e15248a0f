package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mailsentinel/mailsentinel/internal/adapters/mime"
	"github.com/mailsentinel/mailsentinel/internal/core"
	"github.com/mailsentinel/mailsentinel/internal/di"
)

func main() {
	flags := di.ParseFlags()

	// Build the dependency injection container
	container, err := di.BuildCLIContainer(flags)
	if err != nil {
		fmt.Printf("Failed to build dependency container: %v\n", err)
		os.Exit(1)
	}

	// Run the scanner
	if err := container.Invoke(run); err != nil {
		fmt.Printf("Application error: %v\n", err)
		os.Exit(1)
	}
}

// run is the scanner entry point that gets all dependencies injected
func run(
	flags *di.CLIFlags,
	logger *zap.Logger,
	importer *mime.Importer,
	classifier core.Classifier,
	engine *core.PolicyEngine,
) error {
	defer logger.Sync()

	// Read email from file or stdin
	var emailReader io.Reader
	if flags.InputFile != "" {
		file, err := os.Open(flags.InputFile)
		if err != nil {
			logger.Fatal("Failed to open input file", zap.Error(err), zap.String("file", flags.InputFile))
		}
		defer file.Close()
		emailReader = file
		logger.Info("Reading email from file", zap.String("file", flags.InputFile))
	} else {
		emailReader = os.Stdin
		logger.Info("Reading email from stdin")
	}

	raw, err := io.ReadAll(emailReader)
	if err != nil {
		logger.Fatal("Failed to read email", zap.Error(err))
	}

	email, extract, err := importer.ParseEML(raw)
	if err != nil {
		logger.Fatal("Failed to parse email", zap.Error(err))
	}

	// Print email summary
	fmt.Printf("\n=== Email Summary ===\n")
	fmt.Printf("From: %s\n", email.Sender)
	fmt.Printf("To: %s\n", strings.Join(email.Recipients, ", "))
	fmt.Printf("Subject: %s\n", email.Subject)
	fmt.Printf("Body length: %d bytes\n", len(email.Body))
	fmt.Printf("\n")

	ctx := context.Background()
	startTime := time.Now()

	analysis, err := classifier.Analyze(ctx, email.Subject, email.Body)
	if err != nil {
		logger.Fatal("Failed to analyze email", zap.Error(err))
	}
	email.Analysis = analysis
	email.Classification = analysis.Classification
	email.RiskScore = analysis.RiskScore

	threats := engine.CheckPolicies(email, analysis)
	scanResults := engine.ScanEmailContent(ctx, email, core.DefaultContentScanRules(), extract)
	duration := time.Since(startTime)

	// Print results
	fmt.Printf("=== Results ===\n")
	fmt.Printf("Classification: %s\n", analysis.Classification)
	fmt.Printf("Risk score: %.1f\n", analysis.RiskScore)
	fmt.Printf("Confidence: %.2f\n", analysis.Confidence)
	for _, reason := range analysis.Reasons {
		fmt.Printf("Reason: %s\n", reason)
	}

	fmt.Printf("\n=== Threats ===\n")
	if len(threats) == 0 {
		fmt.Printf("None\n")
	}
	for _, threat := range threats {
		fmt.Printf("[%s] %s: %s\n", threat.Severity, threat.Type, threat.Description)
	}

	fmt.Printf("\n=== Content Scan ===\n")
	for _, result := range scanResults {
		fmt.Printf("Rule %q: %d match(es), risk %.1f\n",
			result.RuleName, len(result.Matches), result.OverallRiskScore)
		for _, match := range result.Matches {
			fmt.Printf("  %s: keywords %v (confidence %.2f)\n",
				match.Location, match.MatchedKeywords, match.Confidence)
		}
	}
	fmt.Printf("\nProcessing time: %v\n", duration)

	return nil
}
