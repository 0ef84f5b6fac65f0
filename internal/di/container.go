package di

import (
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/emailguardian/email-guardian/internal/cases"
	"github.com/emailguardian/email-guardian/internal/classifier"
	"github.com/emailguardian/email-guardian/internal/config"
	"github.com/emailguardian/email-guardian/internal/core"
	"github.com/emailguardian/email-guardian/internal/factory"
	"github.com/emailguardian/email-guardian/internal/ingest"
	"github.com/emailguardian/email-guardian/internal/logging"
	"github.com/emailguardian/email-guardian/internal/pipeline"
	"github.com/emailguardian/email-guardian/internal/registry"
	"github.com/emailguardian/email-guardian/internal/rules"
	"github.com/emailguardian/email-guardian/internal/stats"
	"github.com/emailguardian/email-guardian/internal/utils"
)

// BuildContainer creates and configures a dependency injection container
func BuildContainer() (*dig.Container, error) {
	container := dig.New()

	// Register configuration
	if err := container.Provide(config.New); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(logging.InitLogger); err != nil {
		return nil, err
	}

	// Register store factory and store
	if err := container.Provide(factory.NewStoreFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(func(f *factory.StoreFactory) (core.Store, error) {
		return f.CreateStore()
	}); err != nil {
		return nil, err
	}

	// Register text processor
	if err := container.Provide(utils.NewTextProcessor); err != nil {
		return nil, err
	}

	// Register normalizer
	if err := container.Provide(func(cfg *config.Config, logger *zap.Logger, tp *utils.TextProcessor) *ingest.Normalizer {
		return ingest.NewNormalizer(logger, tp, cfg.GetIngest().MaxBodySize)
	}); err != nil {
		return nil, err
	}

	// Register sender registry
	if err := container.Provide(func(store core.Store, logger *zap.Logger) *registry.Registry {
		return registry.NewRegistry(store, logger)
	}); err != nil {
		return nil, err
	}

	// Register classifier
	if err := container.Provide(func(cfg *config.Config, senders *registry.Registry, logger *zap.Logger) *classifier.Classifier {
		return classifier.NewClassifier(senders, logger, cfg.GetClassifier().FlaggedSenderFloor)
	}); err != nil {
		return nil, err
	}

	// Register snapshot provider
	if err := container.Provide(classifier.NewSnapshotProvider); err != nil {
		return nil, err
	}

	// Register trainer
	if err := container.Provide(func(cfg *config.Config, store core.Store, logger *zap.Logger) *classifier.Trainer {
		c := cfg.GetClassifier()
		return classifier.NewTrainer(store, store, logger, c.MinTrainingSamples, c.MinVocabulary)
	}); err != nil {
		return nil, err
	}

	// Register rule engine
	if err := container.Provide(rules.NewEngine); err != nil {
		return nil, err
	}

	// Register case lifecycle manager
	if err := container.Provide(func(store core.Store, logger *zap.Logger) *cases.Manager {
		return cases.NewManager(store, store, logger)
	}); err != nil {
		return nil, err
	}

	// Register orchestrator
	if err := container.Provide(func(
		cfg *config.Config,
		store core.Store,
		normalizer *ingest.Normalizer,
		clf *classifier.Classifier,
		snapshots *classifier.SnapshotProvider,
		trainer *classifier.Trainer,
		engine *rules.Engine,
		caseMgr *cases.Manager,
		senders *registry.Registry,
		logger *zap.Logger,
	) *pipeline.Orchestrator {
		return pipeline.NewOrchestrator(
			store, normalizer, clf, snapshots, trainer, engine, caseMgr, senders, logger,
			cfg.GetClassifier().EscalationThreshold,
			cfg.GetPipeline().Workers,
		)
	}); err != nil {
		return nil, err
	}

	// Register statistics service
	if err := container.Provide(stats.NewService); err != nil {
		return nil, err
	}

	return container, nil
}
