// Package config provides configuration loading for mendd.
package config

import (
	"fmt"
	"math"
	"time"
)

// Config is the complete daemon configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Observability ObservabilityConfig `koanf:"observability"`
	Budget        BudgetConfig        `koanf:"budget"`
	Router        RouterConfig        `koanf:"router"`
	Repair        RepairConfig        `koanf:"repair"`
	Escalation    EscalationConfig    `koanf:"escalation"`
	Patterns      PatternsConfig      `koanf:"patterns"`
	NATS          NATSConfig          `koanf:"nats"`
	Orchestrator  OrchestratorConfig  `koanf:"orchestrator"`
	Collaborators CollaboratorsConfig `koanf:"collaborators"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// ObservabilityConfig configures logging, tracing, and metrics.
type ObservabilityConfig struct {
	ServiceName    string `koanf:"service_name"`
	LogLevel       string `koanf:"log_level"`
	LogFormat      string `koanf:"log_format"`
	OTLPEndpoint   string `koanf:"otlp_endpoint"`
	TracesEnabled  bool   `koanf:"traces_enabled"`
	MetricsEnabled bool   `koanf:"metrics_enabled"`
}

// BudgetConfig configures the spend ledger, in currency units.
type BudgetConfig struct {
	SessionLimit         float64  `koanf:"session_limit"`
	DailyLimit           float64  `koanf:"daily_limit"`
	FeatureLimit         float64  `koanf:"feature_limit"`
	CriticalFeatureLimit float64  `koanf:"critical_feature_limit"`
	CriticalFeatures     []string `koanf:"critical_features"`
	WarnFraction         float64  `koanf:"warn_fraction"`
}

// RouterConfig configures tier routing.
type RouterConfig struct {
	HardThreshold int     `koanf:"hard_threshold"`
	DefaultCap    float64 `koanf:"default_cap"`
	CriticalCap   float64 `koanf:"critical_cap"`
}

// RepairConfig configures the repair loop.
type RepairConfig struct {
	ConfidenceThreshold  float64  `koanf:"confidence_threshold"`
	MaxAttempts          int      `koanf:"max_attempts"`
	SimilarFixLimit      int      `koanf:"similar_fix_limit"`
	RetryMaxTries        int      `koanf:"retry_max_tries"`
	RetryInitialInterval Duration `koanf:"retry_initial_interval"`
	RetryMaxInterval     Duration `koanf:"retry_max_interval"`
}

// EscalationConfig configures the HITL queue priority formula.
type EscalationConfig struct {
	WeightAttempts        float64  `koanf:"weight_attempts"`
	WeightCost            float64  `koanf:"weight_cost"`
	WeightCritical        float64  `koanf:"weight_critical"`
	WeightAge             float64  `koanf:"weight_age"`
	AgingWindow           Duration `koanf:"aging_window"`
	HighPriorityThreshold float64  `koanf:"high_priority_threshold"`
}

// PatternsConfig configures the fix-pattern vector store.
type PatternsConfig struct {
	Path                  string           `koanf:"path"`
	AttemptsCollection    string           `koanf:"attempts_collection"`
	AnnotationsCollection string           `koanf:"annotations_collection"`
	ReinforceDelta        float64          `koanf:"reinforce_delta"`
	Embeddings            EmbeddingsConfig `koanf:"embeddings"`
}

// EmbeddingsConfig configures the embedding service (OpenAI-compatible
// API, e.g. a local TEI instance).
type EmbeddingsConfig struct {
	BaseURL string `koanf:"base_url"`
	Model   string `koanf:"model"`
	APIKey  Secret `koanf:"api_key"`
}

// NATSConfig configures the state store connection.
type NATSConfig struct {
	URL              string   `koanf:"url"`
	Embedded         bool     `koanf:"embedded"`
	StoreDir         string   `koanf:"store_dir"`
	TaskBucket       string   `koanf:"task_bucket"`
	EscalationBucket string   `koanf:"escalation_bucket"`
	TaskTTL          Duration `koanf:"task_ttl"`
}

// OrchestratorConfig configures the worker pool and lifecycle knobs.
type OrchestratorConfig struct {
	Workers               int     `koanf:"workers"`
	QueueSize             int     `koanf:"queue_size"`
	RubricCeilingMS       int     `koanf:"rubric_ceiling_ms"`
	GateMaxRetries        int     `koanf:"gate_max_retries"`
	ContextPatternLimit   int     `koanf:"context_pattern_limit"`
	GenerateRatePerSecond float64 `koanf:"generate_rate_per_second"`
	GenerateBurst         int     `koanf:"generate_burst"`
}

// CollaboratorsConfig points at the external services the engine
// drives: the generation service, the sandbox executor, the browser
// validator, the static gate, and the regression suite runner.
type CollaboratorsConfig struct {
	GeneratorURL string   `koanf:"generator_url"`
	ExecutorURL  string   `koanf:"executor_url"`
	ValidatorURL string   `koanf:"validator_url"`
	GateURL      string   `koanf:"gate_url"`
	SuiteURL     string   `koanf:"suite_url"`
	Timeout      Duration `koanf:"timeout"`
	APIKey       Secret   `koanf:"api_key"`
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8087
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "mendd"
	}
	if cfg.Observability.LogLevel == "" {
		cfg.Observability.LogLevel = "info"
	}
	if cfg.Observability.LogFormat == "" {
		cfg.Observability.LogFormat = "json"
	}

	if cfg.Budget.SessionLimit == 0 {
		cfg.Budget.SessionLimit = 5.00
	}
	if cfg.Budget.DailyLimit == 0 {
		cfg.Budget.DailyLimit = 25.00
	}
	if cfg.Budget.FeatureLimit == 0 {
		cfg.Budget.FeatureLimit = 2.00
	}
	if cfg.Budget.CriticalFeatureLimit == 0 {
		cfg.Budget.CriticalFeatureLimit = 4.00
	}
	if cfg.Budget.WarnFraction == 0 {
		cfg.Budget.WarnFraction = 0.8
	}

	if cfg.Router.HardThreshold == 0 {
		cfg.Router.HardThreshold = 5
	}
	if cfg.Router.DefaultCap == 0 {
		cfg.Router.DefaultCap = 0.50
	}
	if cfg.Router.CriticalCap == 0 {
		cfg.Router.CriticalCap = 1.00
	}

	if cfg.Repair.ConfidenceThreshold == 0 {
		cfg.Repair.ConfidenceThreshold = 0.7
	}
	if cfg.Repair.MaxAttempts == 0 {
		cfg.Repair.MaxAttempts = 3
	}
	if cfg.Repair.SimilarFixLimit == 0 {
		cfg.Repair.SimilarFixLimit = 3
	}
	if cfg.Repair.RetryMaxTries == 0 {
		cfg.Repair.RetryMaxTries = 3
	}
	if cfg.Repair.RetryInitialInterval == 0 {
		cfg.Repair.RetryInitialInterval = Duration(500 * time.Millisecond)
	}
	if cfg.Repair.RetryMaxInterval == 0 {
		cfg.Repair.RetryMaxInterval = Duration(5 * time.Second)
	}

	if cfg.Escalation.WeightAttempts == 0 &&
		cfg.Escalation.WeightCost == 0 &&
		cfg.Escalation.WeightCritical == 0 &&
		cfg.Escalation.WeightAge == 0 {
		cfg.Escalation.WeightAttempts = 0.3
		cfg.Escalation.WeightCost = 0.2
		cfg.Escalation.WeightCritical = 0.3
		cfg.Escalation.WeightAge = 0.2
	}
	if cfg.Escalation.AgingWindow == 0 {
		cfg.Escalation.AgingWindow = Duration(time.Hour)
	}
	if cfg.Escalation.HighPriorityThreshold == 0 {
		cfg.Escalation.HighPriorityThreshold = 0.7
	}

	if cfg.Patterns.Path == "" {
		cfg.Patterns.Path = "~/.local/share/mendd/patterns"
	}
	if cfg.Patterns.AttemptsCollection == "" {
		cfg.Patterns.AttemptsCollection = "fix_attempts"
	}
	if cfg.Patterns.AnnotationsCollection == "" {
		cfg.Patterns.AnnotationsCollection = "annotations"
	}
	if cfg.Patterns.ReinforceDelta == 0 {
		cfg.Patterns.ReinforceDelta = 0.1
	}
	if cfg.Patterns.Embeddings.BaseURL == "" {
		cfg.Patterns.Embeddings.BaseURL = "http://localhost:8080/v1"
	}
	if cfg.Patterns.Embeddings.Model == "" {
		cfg.Patterns.Embeddings.Model = "BAAI/bge-small-en-v1.5"
	}

	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://localhost:4222"
	}
	if cfg.NATS.TaskBucket == "" {
		cfg.NATS.TaskBucket = "mendd_tasks"
	}
	if cfg.NATS.EscalationBucket == "" {
		cfg.NATS.EscalationBucket = "mendd_escalations"
	}
	if cfg.NATS.TaskTTL == 0 {
		cfg.NATS.TaskTTL = Duration(time.Hour)
	}

	if cfg.Orchestrator.Workers == 0 {
		cfg.Orchestrator.Workers = 4
	}
	if cfg.Orchestrator.QueueSize == 0 {
		cfg.Orchestrator.QueueSize = 64
	}
	if cfg.Orchestrator.RubricCeilingMS == 0 {
		cfg.Orchestrator.RubricCeilingMS = 45000
	}
	if cfg.Orchestrator.GateMaxRetries == 0 {
		cfg.Orchestrator.GateMaxRetries = 2
	}
	if cfg.Orchestrator.ContextPatternLimit == 0 {
		cfg.Orchestrator.ContextPatternLimit = 3
	}
	if cfg.Orchestrator.GenerateRatePerSecond == 0 {
		cfg.Orchestrator.GenerateRatePerSecond = 1
	}
	if cfg.Orchestrator.GenerateBurst == 0 {
		cfg.Orchestrator.GenerateBurst = 2
	}

	if cfg.Collaborators.Timeout == 0 {
		cfg.Collaborators.Timeout = Duration(60 * time.Second)
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}

	switch c.Observability.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("observability.log_format must be json or console, got %q", c.Observability.LogFormat)
	}

	if c.Budget.SessionLimit <= 0 || c.Budget.DailyLimit <= 0 ||
		c.Budget.FeatureLimit <= 0 || c.Budget.CriticalFeatureLimit <= 0 {
		return fmt.Errorf("budget limits must be positive")
	}
	if c.Budget.WarnFraction <= 0 || c.Budget.WarnFraction > 1 {
		return fmt.Errorf("budget.warn_fraction must be in (0,1], got %g", c.Budget.WarnFraction)
	}

	if c.Router.HardThreshold < 1 {
		return fmt.Errorf("router.hard_threshold must be at least 1")
	}
	if c.Router.DefaultCap <= 0 || c.Router.CriticalCap <= 0 {
		return fmt.Errorf("router caps must be positive")
	}
	if c.Router.CriticalCap < c.Router.DefaultCap {
		return fmt.Errorf("router.critical_cap %g below default_cap %g", c.Router.CriticalCap, c.Router.DefaultCap)
	}

	if c.Repair.ConfidenceThreshold <= 0 || c.Repair.ConfidenceThreshold > 1 {
		return fmt.Errorf("repair.confidence_threshold must be in (0,1], got %g", c.Repair.ConfidenceThreshold)
	}
	if c.Repair.MaxAttempts < 1 {
		return fmt.Errorf("repair.max_attempts must be at least 1")
	}

	weightSum := c.Escalation.WeightAttempts + c.Escalation.WeightCost +
		c.Escalation.WeightCritical + c.Escalation.WeightAge
	if math.Abs(weightSum-1.0) > 1e-9 {
		return fmt.Errorf("escalation weights must sum to 1, got %g", weightSum)
	}

	if c.Orchestrator.Workers < 1 {
		return fmt.Errorf("orchestrator.workers must be at least 1")
	}
	if c.Orchestrator.RubricCeilingMS < 1 {
		return fmt.Errorf("orchestrator.rubric_ceiling_ms must be positive")
	}

	return nil
}
