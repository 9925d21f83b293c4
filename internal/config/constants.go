package config

const (
	// Service information
	ServiceName    = "sentinel-core"
	ServiceVersion = "v1.4.2"
	APIVersion     = "v1"

	// Collection budgets (milliseconds)
	DefaultCollectorTimeoutMS = 10000
	DefaultCorrelateTimeoutMS = 30000
	DefaultRetryBackoffMS     = 250

	// Signal windows (seconds / minutes)
	DefaultDedupWindowSeconds = 60
	DefaultLookbackMinutes    = 30

	// Detection cache
	DefaultDetectTTLSeconds = 300
	DefaultCoalesceWindowMS = 500
	FreshAgeSeconds         = 60 // fresh/warm boundary, not configurable

	// Search layer budgets (milliseconds)
	DefaultEmbedTimeoutMS  = 3000
	DefaultVectorTimeoutMS = 2000
	DefaultDeepTimeoutMS   = 5000

	// Search layer stop thresholds
	DefaultKeywordThreshold = 0.85
	DefaultVectorThreshold  = 0.70
	DefaultSearchLimit      = 10

	// Model budgets (milliseconds)
	DefaultMidModelTimeoutMS  = 20000
	DefaultHighModelTimeoutMS = 40000
	DefaultModelMaxRetries    = 2
	DefaultModelMaxTokens     = 1024

	// Rule and knowledge thresholds
	DefaultRuleShortCircuit  = 0.85
	DefaultEscalationFloor   = 0.70 // mid-model confidence below this retries on the high model
	DefaultQualityThreshold  = 0.70
	DefaultEmbedMaxChars     = 2048
	DefaultConfidenceFloor   = 0.60
	DefaultReadOnlyFloor     = 0.40

	// Safety budgets (seconds)
	DefaultCooldownSeconds         = 1800
	DefaultGlobalWindowSeconds     = 300
	DefaultGlobalMaxExecutions     = 3
	DefaultApprovalTTLSeconds      = 900
	DefaultNotifyGraceSeconds      = 10
	DefaultNotifyTimeoutMS         = 5000
	DefaultIncidentDeadlineSeconds = 90

	// Shutdown
	DefaultShutdownTimeoutMS = 30000
)
