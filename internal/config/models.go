package config

// StorageConfig represents the configuration for the durable store
type StorageConfig struct {
	Type       string
	SQLitePath string
	MySQLDSN   string
}

// ClassifierConfig represents the configuration for the risk classifier
type ClassifierConfig struct {
	EscalationThreshold float64
	FlaggedSenderFloor  float64
	MinTrainingSamples  int
	MinVocabulary       int
}

// PipelineConfig represents the configuration for the batch pipeline
type PipelineConfig struct {
	Workers int
}

// IngestConfig represents the configuration for the ingestion normalizer
type IngestConfig struct {
	MaxBodySize int
}

// GetStorage returns the storage configuration
func (c *Config) GetStorage() StorageConfig {
	return StorageConfig{
		Type:       c.GetString("storage.type"),
		SQLitePath: c.GetString("storage.sqlite_path"),
		MySQLDSN:   c.GetString("storage.mysql_dsn"),
	}
}

// GetClassifier returns the classifier configuration
func (c *Config) GetClassifier() ClassifierConfig {
	return ClassifierConfig{
		EscalationThreshold: c.GetFloat64("classifier.escalation_threshold"),
		FlaggedSenderFloor:  c.GetFloat64("classifier.flagged_sender_floor"),
		MinTrainingSamples:  c.GetInt("classifier.min_training_samples"),
		MinVocabulary:       c.GetInt("classifier.min_vocabulary"),
	}
}

// GetPipeline returns the pipeline configuration
func (c *Config) GetPipeline() PipelineConfig {
	workers := c.GetInt("pipeline.workers")
	if workers < 1 {
		workers = 1
	}
	return PipelineConfig{Workers: workers}
}

// GetIngest returns the ingestion configuration
func (c *Config) GetIngest() IngestConfig {
	return IngestConfig{
		MaxBodySize: c.GetInt("ingest.max_body_size"),
	}
}
