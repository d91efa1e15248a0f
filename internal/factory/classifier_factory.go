package factory

import (
	"fmt"

	"github.com/mailsentinel/mailsentinel/internal/adapters/classifier"
	"github.com/mailsentinel/mailsentinel/internal/config"
	"github.com/mailsentinel/mailsentinel/internal/core"
	"github.com/mailsentinel/mailsentinel/internal/utils"
	"go.uber.org/zap"
)

// ClassifierFactory creates email classifiers
type ClassifierFactory struct {
	cfg           *config.Config
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// NewClassifierFactory creates a new classifier factory
func NewClassifierFactory(cfg *config.Config, logger *zap.Logger, textProcessor *utils.TextProcessor) *ClassifierFactory {
	return &ClassifierFactory{
		cfg:           cfg,
		logger:        logger,
		textProcessor: textProcessor,
	}
}

// CreateClassifier creates a classifier based on the configuration
func (f *ClassifierFactory) CreateClassifier() (core.Classifier, error) {
	clsConfig := f.cfg.GetClassifier()
	fallback := classifier.NewFallbackClassifier(f.logger)

	switch clsConfig.Type {
	case "subprocess":
		timeout, err := f.cfg.GetDuration("classifier.timeout")
		if err != nil {
			return nil, fmt.Errorf("invalid classifier timeout: %w", err)
		}
		return classifier.NewSubprocessClassifier(
			clsConfig.Command,
			clsConfig.ScriptPath,
			timeout,
			clsConfig.MaxBodySize,
			fallback,
			f.textProcessor,
			f.logger,
		), nil
	case "fallback":
		return fallback, nil
	default:
		return nil, fmt.Errorf("unsupported classifier type: %s", clsConfig.Type)
	}
}
