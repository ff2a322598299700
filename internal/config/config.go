package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Redis          RedisConfig          `mapstructure:"redis"`
	Neo4j          Neo4jConfig          `mapstructure:"neo4j"`
	Kafka          KafkaConfig          `mapstructure:"kafka"`
	Auth           AuthConfig           `mapstructure:"auth"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	Recommendation RecommendationConfig `mapstructure:"recommendation"`
	Monitoring     MonitoringConfig     `mapstructure:"monitoring"`
	Security       SecurityConfig       `mapstructure:"security"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	URL            string        `mapstructure:"url"`
	MaxConnections int           `mapstructure:"max_connections"`
	MaxIdleTime    time.Duration `mapstructure:"max_idle_time"`
	MaxLifetime    time.Duration `mapstructure:"max_lifetime"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type RedisConfig struct {
	Hot  RedisInstanceConfig `mapstructure:"hot"`
	Warm RedisInstanceConfig `mapstructure:"warm"`
	Cold RedisInstanceConfig `mapstructure:"cold"`
}

type RedisInstanceConfig struct {
	URL        string        `mapstructure:"url"`
	MaxRetries int           `mapstructure:"max_retries"`
	PoolSize   int           `mapstructure:"pool_size"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type Neo4jConfig struct {
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topics  struct {
		UserInteractions string `mapstructure:"user_interactions"`
	} `mapstructure:"topics"`
	ConsumerGroup string `mapstructure:"consumer_group"`
}

type AuthConfig struct {
	JWTSecret string          `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration   `mapstructure:"token_ttl"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type RateLimitConfig struct {
	Default int           `mapstructure:"default"`
	Window  time.Duration `mapstructure:"window"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// RecommendationConfig is the runtime-reloadable knob bundle for the
// recommendation core. Every load and reload goes through Validate.
type RecommendationConfig struct {
	Weights     ScoringWeights        `mapstructure:"weights" json:"weights"`
	Factors     FactorConfig          `mapstructure:"factors" json:"factors"`
	Thresholds  ThresholdConfig       `mapstructure:"thresholds" json:"thresholds"`
	Decay       DecayConfig           `mapstructure:"decay" json:"decay"`
	TTL         ExpiryConfig          `mapstructure:"ttl" json:"ttl"`
	Caps        CapsConfig            `mapstructure:"caps" json:"caps"`
	Scheduling  SchedulingConfig      `mapstructure:"scheduling" json:"scheduling"`
	Features    FeatureFlags          `mapstructure:"features" json:"features"`
	CacheTTL    CacheTTLConfig        `mapstructure:"cache_ttl" json:"cache_ttl"`
	Realtime    RealtimeConfig        `mapstructure:"realtime" json:"realtime"`
	GroupMatch  GroupScoringConfig    `mapstructure:"group_match" json:"group_match"`
	Personality PersonalityThresholds `mapstructure:"personality" json:"personality"`
}

// ScoringWeights are the four terms of the content scoring function. They
// must sum to 1.
type ScoringWeights struct {
	Genre    float64 `mapstructure:"genre" json:"genre"`
	Rating   float64 `mapstructure:"rating" json:"rating"`
	Platform float64 `mapstructure:"platform" json:"platform"`
	Era      float64 `mapstructure:"era" json:"era"`
}

type FactorConfig struct {
	Personalization float64 `mapstructure:"personalization" json:"personalization"`
	Diversity       float64 `mapstructure:"diversity" json:"diversity"`
	Exploration     float64 `mapstructure:"exploration" json:"exploration"`
}

type ThresholdConfig struct {
	MinInteractionsForConfidence int     `mapstructure:"min_interactions_for_confidence" json:"min_interactions_for_confidence"`
	MinConfidenceToPersonalize   float64 `mapstructure:"min_confidence_to_personalize" json:"min_confidence_to_personalize"`
}

type DecayConfig struct {
	PerDay float64 `mapstructure:"per_day" json:"per_day"`
}

type ExpiryConfig struct {
	ContentDays int `mapstructure:"content_days" json:"content_days"`
	GroupDays   int `mapstructure:"group_days" json:"group_days"`
}

type CapsConfig struct {
	MaxActivePerUser  int `mapstructure:"max_active_per_user" json:"max_active_per_user"`
	GenerationWorkers int `mapstructure:"generation_workers" json:"generation_workers"`
	CandidatePool     int `mapstructure:"candidate_pool" json:"candidate_pool"`
}

type SchedulingConfig struct {
	Enabled                bool   `mapstructure:"enabled" json:"enabled"`
	DailyGenerationCron    string `mapstructure:"daily_generation_cron" json:"daily_generation_cron"`
	ActiveUsersRefreshCron string `mapstructure:"active_users_refresh_cron" json:"active_users_refresh_cron"`
	EvictionSweepCron      string `mapstructure:"eviction_sweep_cron" json:"eviction_sweep_cron"`
	ActiveUsersHoursBack   int    `mapstructure:"active_users_hours_back" json:"active_users_hours_back"`
}

type FeatureFlags struct {
	Collaborative bool `mapstructure:"collaborative" json:"collaborative"`
	ContentBased  bool `mapstructure:"content_based" json:"content_based"`
	Trending      bool `mapstructure:"trending" json:"trending"`
	Seasonal      bool `mapstructure:"seasonal" json:"seasonal"`
	Experimental  bool `mapstructure:"experimental" json:"experimental"`
}

type CacheTTLConfig struct {
	Trending       time.Duration `mapstructure:"trending" json:"trending"`
	Analytics      time.Duration `mapstructure:"analytics" json:"analytics"`
	Insights       time.Duration `mapstructure:"insights" json:"insights"`
	Compatibility  time.Duration `mapstructure:"compatibility" json:"compatibility"`
	PreferenceMaps time.Duration `mapstructure:"preference_maps" json:"preference_maps"`
	ReadCache      time.Duration `mapstructure:"read_cache" json:"read_cache"`
}

// RealtimeConfig fixes the blend between collaborative and trending results
// on the realtime endpoint.
type RealtimeConfig struct {
	CollaborativeShare float64 `mapstructure:"collaborative_share" json:"collaborative_share"`
}

// GroupScoringConfig weights the group-suggestion score terms.
type GroupScoringConfig struct {
	Compatibility float64 `mapstructure:"compatibility" json:"compatibility"`
	Activity      float64 `mapstructure:"activity" json:"activity"`
	SizeFit       float64 `mapstructure:"size_fit" json:"size_fit"`
	Genre         float64 `mapstructure:"genre" json:"genre"`
	IdealSize     int     `mapstructure:"ideal_size" json:"ideal_size"`
}

// PersonalityThresholds drives the viewing-personality classifier. The exact
// cutoffs are configuration, not code; defaults live in setDefaults.
type PersonalityThresholds struct {
	CasualMaxInteractions   int     `mapstructure:"casual_max_interactions" json:"casual_max_interactions"`
	CriticMinVariance       float64 `mapstructure:"critic_min_variance" json:"critic_min_variance"`
	CriticMaxAvgRating      float64 `mapstructure:"critic_max_avg_rating" json:"critic_max_avg_rating"`
	BingeMinCompletionRate  float64 `mapstructure:"binge_min_completion_rate" json:"binge_min_completion_rate"`
	BingeMinInteractions    int     `mapstructure:"binge_min_interactions" json:"binge_min_interactions"`
	ExplorerMinDiversity    float64 `mapstructure:"explorer_min_diversity" json:"explorer_min_diversity"`
	ComfortMinFavoriteShare float64 `mapstructure:"comfort_min_favorite_share" json:"comfort_min_favorite_share"`
	ComfortMaxDiversity     float64 `mapstructure:"comfort_max_diversity" json:"comfort_max_diversity"`
	SocialMinGroupShare     float64 `mapstructure:"social_min_group_share" json:"social_min_group_share"`
	TrendyMinOverlap        float64 `mapstructure:"trendy_min_overlap" json:"trendy_min_overlap"`
	NicheMaxOverlap         float64 `mapstructure:"niche_max_overlap" json:"niche_max_overlap"`
	NicheMaxDiversity       float64 `mapstructure:"niche_max_diversity" json:"niche_max_diversity"`
	CompletionistMinRate    float64 `mapstructure:"completionist_min_rate" json:"completionist_min_rate"`
	SamplerMaxRate          float64 `mapstructure:"sampler_max_rate" json:"sampler_max_rate"`
}

type MonitoringConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	MetricsPath string `mapstructure:"metrics_path"`
}

type SecurityConfig struct {
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

func Load() (*Config, error) {
	viper.SetConfigName("app")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		// Config file is optional, continue with env vars and defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.Recommendation.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate fails fast on an inconsistent knob bundle. Violations here are
// deployment bugs and are never silently corrected.
func (c *RecommendationConfig) Validate() error {
	sum := c.Weights.Genre + c.Weights.Rating + c.Weights.Platform + c.Weights.Era
	if math.Abs(sum-1.0) > 1e-6 {
		return fmt.Errorf("scoring weights must sum to 1.0, got %.6f", sum)
	}
	if c.Weights.Genre < 0 || c.Weights.Rating < 0 || c.Weights.Platform < 0 || c.Weights.Era < 0 {
		return fmt.Errorf("scoring weights must be non-negative")
	}

	if c.Factors.Personalization < 0 || c.Factors.Personalization > 1 {
		return fmt.Errorf("personalization factor must be in [0,1], got %f", c.Factors.Personalization)
	}
	if c.Factors.Diversity < 0 || c.Factors.Diversity > 1 {
		return fmt.Errorf("diversity factor must be in [0,1], got %f", c.Factors.Diversity)
	}
	if c.Factors.Exploration < 0 || c.Factors.Exploration > 1 {
		return fmt.Errorf("exploration factor must be in [0,1], got %f", c.Factors.Exploration)
	}

	if c.Decay.PerDay <= 0 || c.Decay.PerDay > 1 {
		return fmt.Errorf("decay per day must be in (0,1], got %f", c.Decay.PerDay)
	}

	if c.TTL.ContentDays <= 0 || c.TTL.GroupDays <= 0 {
		return fmt.Errorf("recommendation expiries must be positive")
	}

	if c.Caps.MaxActivePerUser <= 0 {
		return fmt.Errorf("max active recommendations per user must be positive")
	}
	if c.Caps.GenerationWorkers <= 0 {
		return fmt.Errorf("generation worker count must be positive")
	}
	if c.Caps.CandidatePool <= 0 {
		return fmt.Errorf("candidate pool size must be positive")
	}

	if c.Realtime.CollaborativeShare < 0 || c.Realtime.CollaborativeShare > 1 {
		return fmt.Errorf("realtime collaborative share must be in [0,1], got %f", c.Realtime.CollaborativeShare)
	}

	return nil
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.mode", "development")

	// Database defaults
	viper.SetDefault("database.max_connections", 25)
	viper.SetDefault("database.max_idle_time", "15m")
	viper.SetDefault("database.max_lifetime", "1h")
	viper.SetDefault("database.connect_timeout", "10s")

	// Redis defaults
	viper.SetDefault("redis.hot.max_retries", 3)
	viper.SetDefault("redis.hot.pool_size", 10)
	viper.SetDefault("redis.hot.timeout", "5s")
	viper.SetDefault("redis.warm.max_retries", 3)
	viper.SetDefault("redis.warm.pool_size", 5)
	viper.SetDefault("redis.warm.timeout", "10s")
	viper.SetDefault("redis.cold.max_retries", 3)
	viper.SetDefault("redis.cold.pool_size", 5)
	viper.SetDefault("redis.cold.timeout", "15s")

	// Kafka defaults
	viper.SetDefault("kafka.topics.user_interactions", "user-interactions")
	viper.SetDefault("kafka.consumer_group", "recommendation-core")

	// Auth defaults
	viper.SetDefault("auth.token_ttl", "24h")
	viper.SetDefault("auth.rate_limit.default", 1000)
	viper.SetDefault("auth.rate_limit.window", "1h")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")

	// Scoring weights, must sum to 1.0
	viper.SetDefault("recommendation.weights.genre", 0.4)
	viper.SetDefault("recommendation.weights.rating", 0.3)
	viper.SetDefault("recommendation.weights.platform", 0.15)
	viper.SetDefault("recommendation.weights.era", 0.15)

	// Post-scoring factors
	viper.SetDefault("recommendation.factors.personalization", 0.3)
	viper.SetDefault("recommendation.factors.diversity", 0.3)
	viper.SetDefault("recommendation.factors.exploration", 0.1)

	// Personalization gates
	viper.SetDefault("recommendation.thresholds.min_interactions_for_confidence", 5)
	viper.SetDefault("recommendation.thresholds.min_confidence_to_personalize", 0.3)

	// Time decay: recent interactions dominate the profile
	viper.SetDefault("recommendation.decay.per_day", 0.995)

	// Recommendation expiries
	viper.SetDefault("recommendation.ttl.content_days", 14)
	viper.SetDefault("recommendation.ttl.group_days", 7)

	// Caps
	viper.SetDefault("recommendation.caps.max_active_per_user", 50)
	viper.SetDefault("recommendation.caps.generation_workers", 8)
	viper.SetDefault("recommendation.caps.candidate_pool", 500)

	// Scheduling
	viper.SetDefault("recommendation.scheduling.enabled", true)
	viper.SetDefault("recommendation.scheduling.daily_generation_cron", "15 3 * * *")
	viper.SetDefault("recommendation.scheduling.active_users_refresh_cron", "10 * * * *")
	viper.SetDefault("recommendation.scheduling.eviction_sweep_cron", "0 */6 * * *")
	viper.SetDefault("recommendation.scheduling.active_users_hours_back", 24)

	// Feature flags
	viper.SetDefault("recommendation.features.collaborative", true)
	viper.SetDefault("recommendation.features.content_based", true)
	viper.SetDefault("recommendation.features.trending", true)
	viper.SetDefault("recommendation.features.seasonal", false)
	viper.SetDefault("recommendation.features.experimental", false)

	// Cache TTLs
	viper.SetDefault("recommendation.cache_ttl.trending", "6h")
	viper.SetDefault("recommendation.cache_ttl.analytics", "6h")
	viper.SetDefault("recommendation.cache_ttl.insights", "1h")
	viper.SetDefault("recommendation.cache_ttl.compatibility", "12h")
	viper.SetDefault("recommendation.cache_ttl.preference_maps", "6h")
	viper.SetDefault("recommendation.cache_ttl.read_cache", "60s")

	// Realtime blend between collaborative and trending
	viper.SetDefault("recommendation.realtime.collaborative_share", 0.7)

	// Group suggestion scoring
	viper.SetDefault("recommendation.group_match.compatibility", 0.4)
	viper.SetDefault("recommendation.group_match.activity", 0.25)
	viper.SetDefault("recommendation.group_match.size_fit", 0.15)
	viper.SetDefault("recommendation.group_match.genre", 0.2)
	viper.SetDefault("recommendation.group_match.ideal_size", 25)

	// Personality classifier cutoffs. Evaluated in enum declaration order,
	// first match wins, CASUAL is the fallback.
	viper.SetDefault("recommendation.personality.casual_max_interactions", 10)
	viper.SetDefault("recommendation.personality.critic_min_variance", 3.0)
	viper.SetDefault("recommendation.personality.critic_max_avg_rating", 6.5)
	viper.SetDefault("recommendation.personality.binge_min_completion_rate", 0.8)
	viper.SetDefault("recommendation.personality.binge_min_interactions", 20)
	viper.SetDefault("recommendation.personality.explorer_min_diversity", 0.75)
	viper.SetDefault("recommendation.personality.comfort_min_favorite_share", 0.35)
	viper.SetDefault("recommendation.personality.comfort_max_diversity", 0.5)
	viper.SetDefault("recommendation.personality.social_min_group_share", 0.4)
	viper.SetDefault("recommendation.personality.trendy_min_overlap", 0.5)
	viper.SetDefault("recommendation.personality.niche_max_overlap", 0.1)
	viper.SetDefault("recommendation.personality.niche_max_diversity", 0.4)
	viper.SetDefault("recommendation.personality.completionist_min_rate", 0.95)
	viper.SetDefault("recommendation.personality.sampler_max_rate", 0.2)

	// Monitoring defaults
	viper.SetDefault("monitoring.enabled", true)
	viper.SetDefault("monitoring.metrics_path", "/metrics")

	// Security defaults
	viper.SetDefault("security.cors.allowed_origins", []string{"*"})
	viper.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	viper.SetDefault("security.cors.allowed_headers", []string{"*"})
}
