package config

import "time"

type Config struct {
	Environment string `mapstructure:"environment" yaml:"environment"`
	Port        int    `mapstructure:"port" yaml:"port"`
	LogLevel    string `mapstructure:"log_level" yaml:"log_level"`
	DataDir     string `mapstructure:"data_dir" yaml:"data_dir"`

	Cache        CacheConfig        `mapstructure:"cache" yaml:"cache"`
	Correlate    CorrelateConfig    `mapstructure:"correlate" yaml:"correlate"`
	Detect       DetectConfig       `mapstructure:"detect" yaml:"detect"`
	Rules        RulesConfig        `mapstructure:"rules" yaml:"rules"`
	SOPs         SOPConfig          `mapstructure:"sops" yaml:"sops"`
	Knowledge    KnowledgeConfig    `mapstructure:"knowledge" yaml:"knowledge"`
	Weaviate     WeaviateConfig     `mapstructure:"weaviate" yaml:"weaviate"`
	Search       SearchConfig       `mapstructure:"search" yaml:"search"`
	Models       ModelsConfig       `mapstructure:"models" yaml:"models"`
	Safety       SafetyConfig       `mapstructure:"safety" yaml:"safety"`
	Pipeline     PipelineConfig     `mapstructure:"pipeline" yaml:"pipeline"`
	Integrations IntegrationsConfig `mapstructure:"integrations" yaml:"integrations"`
	Monitoring   MonitoringConfig   `mapstructure:"monitoring" yaml:"monitoring"`
}

// CacheConfig points at the Valkey node that mirrors detection snapshots
// and dedupes alarm webhooks. Disabled falls back to the in-process store.
type CacheConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Node     string `mapstructure:"node" yaml:"node"`
	DB       int    `mapstructure:"db" yaml:"db"`
	Password string `mapstructure:"password" yaml:"password"`
	TTL      int    `mapstructure:"ttl" yaml:"ttl"` // seconds
}

type CorrelateConfig struct {
	CollectorTimeoutMS int `mapstructure:"collector_timeout_ms" yaml:"collector_timeout_ms"`
	TotalTimeoutMS     int `mapstructure:"total_timeout_ms" yaml:"total_timeout_ms"`
	RetryBackoffMS     int `mapstructure:"retry_backoff_ms" yaml:"retry_backoff_ms"`
	DedupWindowSeconds int `mapstructure:"dedup_window_seconds" yaml:"dedup_window_seconds"`
	LookbackMinutes    int `mapstructure:"lookback_minutes" yaml:"lookback_minutes"`
	// FixturesDir holds replay recordings served as collectors; one
	// collector per *.json file.
	FixturesDir string `mapstructure:"fixtures_dir" yaml:"fixtures_dir"`
}

type DetectConfig struct {
	TTLSeconds       int  `mapstructure:"ttl_seconds" yaml:"ttl_seconds"`
	CoalesceWindowMS int  `mapstructure:"coalesce_window_ms" yaml:"coalesce_window_ms"`
	PersistSnapshots bool `mapstructure:"persist_snapshots" yaml:"persist_snapshots"`
	MirrorToCache    bool `mapstructure:"mirror_to_cache" yaml:"mirror_to_cache"`
}

type RulesConfig struct {
	Path  string `mapstructure:"path" yaml:"path"`
	Watch bool   `mapstructure:"watch" yaml:"watch"`
}

type SOPConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

type KnowledgeConfig struct {
	QualityThreshold float64 `mapstructure:"quality_threshold" yaml:"quality_threshold"`
	EmbedMaxChars    int     `mapstructure:"embed_max_chars" yaml:"embed_max_chars"`
}

type WeaviateConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Scheme    string `mapstructure:"scheme" yaml:"scheme"`
	Host      string `mapstructure:"host" yaml:"host"`
	Class     string `mapstructure:"class" yaml:"class"`
	TimeoutMS int    `mapstructure:"timeout_ms" yaml:"timeout_ms"`
}

type SearchConfig struct {
	KeywordThreshold float64 `mapstructure:"keyword_threshold" yaml:"keyword_threshold"`
	VectorThreshold  float64 `mapstructure:"vector_threshold" yaml:"vector_threshold"`
	EmbedTimeoutMS   int     `mapstructure:"embed_timeout_ms" yaml:"embed_timeout_ms"`
	VectorTimeoutMS  int     `mapstructure:"vector_timeout_ms" yaml:"vector_timeout_ms"`
	DeepTimeoutMS    int     `mapstructure:"deep_timeout_ms" yaml:"deep_timeout_ms"`
	DefaultStrategy  string  `mapstructure:"default_strategy" yaml:"default_strategy"`
	DefaultLimit     int     `mapstructure:"default_limit" yaml:"default_limit"`
	// KnowledgeBaseID enables the managed deep-retrieval layer when set.
	KnowledgeBaseID string `mapstructure:"knowledge_base_id" yaml:"knowledge_base_id"`
}

type ModelsConfig struct {
	Provider      string `mapstructure:"provider" yaml:"provider"` // bedrock | anthropic
	Region        string `mapstructure:"region" yaml:"region"`
	EmbedModel    string `mapstructure:"embed_model" yaml:"embed_model"`
	MidModel      string `mapstructure:"mid_model" yaml:"mid_model"`
	HighModel     string `mapstructure:"high_model" yaml:"high_model"`
	MidTimeoutMS  int    `mapstructure:"mid_timeout_ms" yaml:"mid_timeout_ms"`
	HighTimeoutMS int    `mapstructure:"high_timeout_ms" yaml:"high_timeout_ms"`
	MaxRetries    int    `mapstructure:"max_retries" yaml:"max_retries"`
	MaxTokens     int    `mapstructure:"max_tokens" yaml:"max_tokens"`
	APIKey        string `mapstructure:"api_key" yaml:"api_key"`
}

type SafetyConfig struct {
	ConfidenceFloor     float64 `mapstructure:"confidence_floor" yaml:"confidence_floor"`
	ReadOnlyFloor       float64 `mapstructure:"read_only_floor" yaml:"read_only_floor"`
	CooldownSeconds     int     `mapstructure:"cooldown_seconds" yaml:"cooldown_seconds"`
	GlobalWindowSeconds int     `mapstructure:"global_window_seconds" yaml:"global_window_seconds"`
	GlobalMaxExecutions int     `mapstructure:"global_max_executions" yaml:"global_max_executions"`
	ApprovalTTLSeconds  int     `mapstructure:"approval_ttl_seconds" yaml:"approval_ttl_seconds"`
	NotifyGraceSeconds  int     `mapstructure:"notify_grace_seconds" yaml:"notify_grace_seconds"`
	NotifyTimeoutMS     int     `mapstructure:"notify_timeout_ms" yaml:"notify_timeout_ms"`
	DryRunFirst         bool    `mapstructure:"dry_run_first" yaml:"dry_run_first"`
}

type PipelineConfig struct {
	DeadlineSeconds  int `mapstructure:"deadline_seconds" yaml:"deadline_seconds"`
	MaxSOPCandidates int `mapstructure:"max_sop_candidates" yaml:"max_sop_candidates"`
}

type IntegrationsConfig struct {
	Slack   SlackConfig   `mapstructure:"slack" yaml:"slack"`
	MSTeams MSTeamsConfig `mapstructure:"ms_teams" yaml:"ms_teams"`
	Email   EmailConfig   `mapstructure:"email" yaml:"email"`
}

type SlackConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	WebhookURL string `mapstructure:"webhook_url" yaml:"webhook_url"`
	Channel    string `mapstructure:"channel" yaml:"channel"`
}

type MSTeamsConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	WebhookURL string `mapstructure:"webhook_url" yaml:"webhook_url"`
}

type EmailConfig struct {
	Enabled    bool     `mapstructure:"enabled" yaml:"enabled"`
	SMTPHost   string   `mapstructure:"smtp_host" yaml:"smtp_host"`
	SMTPPort   int      `mapstructure:"smtp_port" yaml:"smtp_port"`
	From       string   `mapstructure:"from" yaml:"from"`
	Recipients []string `mapstructure:"recipients" yaml:"recipients"`
	Username   string   `mapstructure:"username" yaml:"username"`
	Password   string   `mapstructure:"password" yaml:"password"`
}

type MonitoringConfig struct {
	Enabled           bool   `mapstructure:"enabled" yaml:"enabled"`
	MetricsPath       string `mapstructure:"metrics_path" yaml:"metrics_path"`
	PrometheusEnabled bool   `mapstructure:"prometheus_enabled" yaml:"prometheus_enabled"`
	TracingEnabled    bool   `mapstructure:"tracing_enabled" yaml:"tracing_enabled"`
	OTLPEndpoint      string `mapstructure:"otlp_endpoint" yaml:"otlp_endpoint"`
}

/* ------------------------------ duration views ------------------------------ */

func (c CorrelateConfig) CollectorTimeout() time.Duration {
	return msOrDefault(c.CollectorTimeoutMS, DefaultCollectorTimeoutMS)
}

func (c CorrelateConfig) TotalTimeout() time.Duration {
	return msOrDefault(c.TotalTimeoutMS, DefaultCorrelateTimeoutMS)
}

func (c CorrelateConfig) RetryBackoff() time.Duration {
	return msOrDefault(c.RetryBackoffMS, DefaultRetryBackoffMS)
}

func (c CorrelateConfig) DedupWindow() time.Duration {
	return secOrDefault(c.DedupWindowSeconds, DefaultDedupWindowSeconds)
}

func (c CorrelateConfig) Lookback() time.Duration {
	if c.LookbackMinutes <= 0 {
		return time.Duration(DefaultLookbackMinutes) * time.Minute
	}
	return time.Duration(c.LookbackMinutes) * time.Minute
}

func (c DetectConfig) TTL() time.Duration {
	return secOrDefault(c.TTLSeconds, DefaultDetectTTLSeconds)
}

func (c DetectConfig) CoalesceWindow() time.Duration {
	return msOrDefault(c.CoalesceWindowMS, DefaultCoalesceWindowMS)
}

func (c WeaviateConfig) Timeout() time.Duration {
	return msOrDefault(c.TimeoutMS, DefaultVectorTimeoutMS)
}

func (c SearchConfig) EmbedTimeout() time.Duration {
	return msOrDefault(c.EmbedTimeoutMS, DefaultEmbedTimeoutMS)
}

func (c SearchConfig) VectorTimeout() time.Duration {
	return msOrDefault(c.VectorTimeoutMS, DefaultVectorTimeoutMS)
}

func (c SearchConfig) DeepTimeout() time.Duration {
	return msOrDefault(c.DeepTimeoutMS, DefaultDeepTimeoutMS)
}

func (c ModelsConfig) MidTimeout() time.Duration {
	return msOrDefault(c.MidTimeoutMS, DefaultMidModelTimeoutMS)
}

func (c ModelsConfig) HighTimeout() time.Duration {
	return msOrDefault(c.HighTimeoutMS, DefaultHighModelTimeoutMS)
}

func (c SafetyConfig) Cooldown() time.Duration {
	return secOrDefault(c.CooldownSeconds, DefaultCooldownSeconds)
}

func (c SafetyConfig) GlobalWindow() time.Duration {
	return secOrDefault(c.GlobalWindowSeconds, DefaultGlobalWindowSeconds)
}

func (c SafetyConfig) ApprovalTTL() time.Duration {
	return secOrDefault(c.ApprovalTTLSeconds, DefaultApprovalTTLSeconds)
}

func (c SafetyConfig) NotifyGrace() time.Duration {
	return secOrDefault(c.NotifyGraceSeconds, DefaultNotifyGraceSeconds)
}

func (c SafetyConfig) NotifyTimeout() time.Duration {
	return msOrDefault(c.NotifyTimeoutMS, DefaultNotifyTimeoutMS)
}

func (c PipelineConfig) Deadline() time.Duration {
	return secOrDefault(c.DeadlineSeconds, DefaultIncidentDeadlineSeconds)
}

func msOrDefault(ms, def int) time.Duration {
	if ms <= 0 {
		ms = def
	}
	return time.Duration(ms) * time.Millisecond
}

func secOrDefault(sec, def int) time.Duration {
	if sec <= 0 {
		sec = def
	}
	return time.Duration(sec) * time.Second
}
