package di

import (
	"flag"

	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mailsentinel/mailsentinel/internal/adapters/classifier"
	"github.com/mailsentinel/mailsentinel/internal/adapters/mime"
	"github.com/mailsentinel/mailsentinel/internal/core"
	"github.com/mailsentinel/mailsentinel/internal/logging"
)

// CLIFlags contains all command line flags for the offline scanner
type CLIFlags struct {
	InputFile string
	OrgDomain string
	Verbose   bool
	JSONLog   bool
}

// ParseFlags parses command line flags and returns a CLIFlags struct
func ParseFlags() *CLIFlags {
	flags := &CLIFlags{}

	flag.StringVar(&flags.InputFile, "file", "", "Input email file (use stdin if not specified)")
	flag.StringVar(&flags.OrgDomain, "org-domain", "company.com", "Organization domain treated as internal")
	flag.BoolVar(&flags.Verbose, "verbose", false, "Enable verbose logging")
	flag.BoolVar(&flags.JSONLog, "json-log", false, "Output logs in JSON format")

	flag.Parse()
	return flags
}

// BuildCLIContainer creates and configures a dependency injection container
// for the offline scanner
func BuildCLIContainer(flags *CLIFlags) (*dig.Container, error) {
	container := dig.New()

	// Register flags
	if err := container.Provide(func() *CLIFlags { return flags }); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(func(flags *CLIFlags) (*zap.Logger, error) {
		return logging.InitConsoleLogger(flags.Verbose, flags.JSONLog)
	}); err != nil {
		return nil, err
	}

	// Register EML importer
	if err := container.Provide(mime.NewImporter); err != nil {
		return nil, err
	}

	// Register classifier; the scanner works offline so only the heuristic
	// classifier is available
	if err := container.Provide(func(logger *zap.Logger) core.Classifier {
		return classifier.NewFallbackClassifier(logger)
	}); err != nil {
		return nil, err
	}

	// Register policy engine
	if err := container.Provide(func(flags *CLIFlags, logger *zap.Logger) *core.PolicyEngine {
		return core.NewPolicyEngine(flags.OrgDomain, logger)
	}); err != nil {
		return nil, err
	}

	return container, nil
}
