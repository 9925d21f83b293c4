package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Load loads configuration from various sources with priority order:
// 1. Environment variables
// 2. Configuration file (config.yaml)
// 3. Default values
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/sentinel/")
	v.AddConfigPath("./configs/")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("SENTINEL")

	setDefaults(v)

	// Config file is optional; env vars and defaults carry a bare deployment.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	overrideWithEnvVars(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets reasonable default values
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("data_dir", "./data")

	// Cache (Valkey)
	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.node", "localhost:6379")
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.ttl", 300)

	// Correlator
	v.SetDefault("correlate.collector_timeout_ms", DefaultCollectorTimeoutMS)
	v.SetDefault("correlate.total_timeout_ms", DefaultCorrelateTimeoutMS)
	v.SetDefault("correlate.retry_backoff_ms", DefaultRetryBackoffMS)
	v.SetDefault("correlate.dedup_window_seconds", DefaultDedupWindowSeconds)
	v.SetDefault("correlate.lookback_minutes", DefaultLookbackMinutes)
	v.SetDefault("correlate.fixtures_dir", "./configs/fixtures")

	// DetectAgent
	v.SetDefault("detect.ttl_seconds", DefaultDetectTTLSeconds)
	v.SetDefault("detect.coalesce_window_ms", DefaultCoalesceWindowMS)
	v.SetDefault("detect.persist_snapshots", true)
	v.SetDefault("detect.mirror_to_cache", false)

	// Catalogs
	v.SetDefault("rules.path", "./configs/rules")
	v.SetDefault("rules.watch", true)
	v.SetDefault("sops.path", "./configs/sops")

	// Knowledge store
	v.SetDefault("knowledge.quality_threshold", DefaultQualityThreshold)
	v.SetDefault("knowledge.embed_max_chars", DefaultEmbedMaxChars)

	// Weaviate vector index
	v.SetDefault("weaviate.enabled", false)
	v.SetDefault("weaviate.scheme", "http")
	v.SetDefault("weaviate.host", "localhost:8080")
	v.SetDefault("weaviate.class", "OpsPattern")
	v.SetDefault("weaviate.timeout_ms", DefaultVectorTimeoutMS)

	// Search service
	v.SetDefault("search.keyword_threshold", DefaultKeywordThreshold)
	v.SetDefault("search.vector_threshold", DefaultVectorThreshold)
	v.SetDefault("search.embed_timeout_ms", DefaultEmbedTimeoutMS)
	v.SetDefault("search.vector_timeout_ms", DefaultVectorTimeoutMS)
	v.SetDefault("search.deep_timeout_ms", DefaultDeepTimeoutMS)
	v.SetDefault("search.default_strategy", "auto")
	v.SetDefault("search.default_limit", 5)

	// Models
	v.SetDefault("models.provider", "bedrock")
	v.SetDefault("models.region", "us-east-1")
	v.SetDefault("models.embed_model", "amazon.titan-embed-text-v2:0")
	v.SetDefault("models.mid_model", "anthropic.claude-3-5-sonnet-20241022-v2:0")
	v.SetDefault("models.high_model", "anthropic.claude-3-opus-20240229-v1:0")
	v.SetDefault("models.mid_timeout_ms", DefaultMidModelTimeoutMS)
	v.SetDefault("models.high_timeout_ms", DefaultHighModelTimeoutMS)
	v.SetDefault("models.max_retries", DefaultModelMaxRetries)
	v.SetDefault("models.max_tokens", DefaultModelMaxTokens)

	// Safety
	v.SetDefault("safety.confidence_floor", DefaultConfidenceFloor)
	v.SetDefault("safety.read_only_floor", DefaultReadOnlyFloor)
	v.SetDefault("safety.cooldown_seconds", DefaultCooldownSeconds)
	v.SetDefault("safety.global_window_seconds", DefaultGlobalWindowSeconds)
	v.SetDefault("safety.global_max_executions", DefaultGlobalMaxExecutions)
	v.SetDefault("safety.approval_ttl_seconds", DefaultApprovalTTLSeconds)
	v.SetDefault("safety.notify_grace_seconds", DefaultNotifyGraceSeconds)
	v.SetDefault("safety.notify_timeout_ms", DefaultNotifyTimeoutMS)
	v.SetDefault("safety.dry_run_first", true)

	// Pipeline
	v.SetDefault("pipeline.deadline_seconds", DefaultIncidentDeadlineSeconds)
	v.SetDefault("pipeline.max_sop_candidates", 5)

	// Integrations
	v.SetDefault("integrations.slack.enabled", false)
	v.SetDefault("integrations.ms_teams.enabled", false)
	v.SetDefault("integrations.email.enabled", false)
	v.SetDefault("integrations.email.smtp_port", 587)

	// Monitoring
	v.SetDefault("monitoring.enabled", true)
	v.SetDefault("monitoring.metrics_path", "/metrics")
	v.SetDefault("monitoring.prometheus_enabled", true)
	v.SetDefault("monitoring.tracing_enabled", false)
}

// overrideWithEnvVars explicitly handles environment variable overrides
func overrideWithEnvVars(v *viper.Viper) {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			v.Set("port", p)
		}
	}

	if env := os.Getenv("ENVIRONMENT"); env != "" {
		v.Set("environment", env)
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		v.Set("log_level", logLevel)
	}

	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		v.Set("data_dir", dataDir)
	}

	if cacheNode := os.Getenv("VALKEY_NODE"); cacheNode != "" {
		v.Set("cache.node", strings.TrimSpace(cacheNode))
		v.Set("cache.enabled", true)
	}

	if cacheTTL := os.Getenv("CACHE_TTL"); cacheTTL != "" {
		if ttl, err := strconv.Atoi(cacheTTL); err == nil {
			v.Set("cache.ttl", ttl)
		}
	}

	if host := os.Getenv("WEAVIATE_HOST"); host != "" {
		v.Set("weaviate.host", strings.TrimSpace(host))
		v.Set("weaviate.enabled", true)
	}

	if region := os.Getenv("AWS_REGION"); region != "" {
		v.Set("models.region", region)
	}

	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		v.Set("models.api_key", apiKey)
		v.Set("models.provider", "anthropic")
	}

	if kbID := os.Getenv("KNOWLEDGE_BASE_ID"); kbID != "" {
		v.Set("search.knowledge_base_id", kbID)
	}

	if slackWebhook := os.Getenv("SLACK_WEBHOOK_URL"); slackWebhook != "" {
		v.Set("integrations.slack.webhook_url", slackWebhook)
		v.Set("integrations.slack.enabled", true)
	}

	if teamsWebhook := os.Getenv("TEAMS_WEBHOOK_URL"); teamsWebhook != "" {
		v.Set("integrations.ms_teams.webhook_url", teamsWebhook)
		v.Set("integrations.ms_teams.enabled", true)
	}

	if smtpHost := os.Getenv("SMTP_HOST"); smtpHost != "" {
		v.Set("integrations.email.smtp_host", smtpHost)
		v.Set("integrations.email.enabled", true)
	}

	if rulesPath := os.Getenv("RULES_PATH"); rulesPath != "" {
		v.Set("rules.path", rulesPath)
	}

	if sopsPath := os.Getenv("SOPS_PATH"); sopsPath != "" {
		v.Set("sops.path", sopsPath)
	}
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	if config.Port < 1 || config.Port > 65535 {
		return fmt.Errorf("invalid port number: %d", config.Port)
	}

	validLogLevels := []string{"debug", "info", "warn", "error", "fatal"}
	if !contains(validLogLevels, config.LogLevel) {
		return fmt.Errorf("invalid log level: %s", config.LogLevel)
	}

	validEnvironments := []string{"development", "staging", "production", "test"}
	if !contains(validEnvironments, config.Environment) {
		return fmt.Errorf("invalid environment: %s", config.Environment)
	}

	if config.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	if config.Cache.Enabled && config.Cache.Node == "" {
		return fmt.Errorf("cache.node is required when the cache is enabled")
	}

	if config.Cache.TTL < 1 {
		return fmt.Errorf("cache TTL must be at least 1 second")
	}

	if config.Weaviate.Enabled && config.Weaviate.Host == "" {
		return fmt.Errorf("weaviate.host is required when the vector index is enabled")
	}

	if t := config.Search.KeywordThreshold; t < 0 || t > 1 {
		return fmt.Errorf("search keyword threshold must be between 0 and 1")
	}

	if t := config.Search.VectorThreshold; t < 0 || t > 1 {
		return fmt.Errorf("search vector threshold must be between 0 and 1")
	}

	if t := config.Knowledge.QualityThreshold; t < 0 || t > 1 {
		return fmt.Errorf("knowledge quality threshold must be between 0 and 1")
	}

	switch config.Models.Provider {
	case "bedrock":
		if config.Models.Region == "" {
			return fmt.Errorf("models.region is required for the bedrock provider")
		}
	case "anthropic":
		if config.Models.APIKey == "" {
			return fmt.Errorf("models.api_key is required for the anthropic provider")
		}
	case "none":
		// model-free deployment: rule matching and keyword search only
	default:
		return fmt.Errorf("unknown models.provider: %s", config.Models.Provider)
	}

	if config.Safety.ReadOnlyFloor > config.Safety.ConfidenceFloor {
		return fmt.Errorf("safety.read_only_floor cannot exceed safety.confidence_floor")
	}

	if config.Safety.GlobalMaxExecutions < 1 {
		return fmt.Errorf("safety.global_max_executions must be at least 1")
	}

	return nil
}

// contains checks if a string slice contains a specific value
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
