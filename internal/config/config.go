// XPFeed - Taste-profile driven artwork discovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/xpfeed

// Package config loads and validates XPFeed configuration.
//
// Sources are layered with koanf: struct defaults, then an optional YAML file
// (XPFEED_CONFIG or the default search paths), then environment variables.
// Invalid values are rejected with a descriptive error; nothing is clamped.
package config

import (
	"time"

	"github.com/tomtom215/xpfeed/internal/models"
)

// Config is the root configuration.
type Config struct {
	Profile    ProfileConfig    `koanf:"profile"`
	Discovery  DiscoveryConfig  `koanf:"discovery"`
	Filter     FilterConfig     `koanf:"filter"`
	Feedback   FeedbackConfig   `koanf:"feedback"`
	Source     SourceConfig     `koanf:"source"`
	Normalizer NormalizerConfig `koanf:"normalizer"`
	Danbooru   DanbooruConfig   `koanf:"danbooru"`
	Store      StoreConfig      `koanf:"store"`
	Delivery   DeliveryConfig   `koanf:"delivery"`
	Scheduler  SchedulerConfig  `koanf:"scheduler"`
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
}

// ProfileConfig drives the weight model.
type ProfileConfig struct {
	// ScanLimit is how many of the most recent bookmarks feed the histogram.
	ScanLimit int `koanf:"scan_limit"`

	// TopN is how many profile tags the tag-search strategy samples from.
	TopN int `koanf:"top_n"`

	// Normalization is raw, relative, or tfidf.
	Normalization string `koanf:"normalization"`

	// IPWeightDiscount multiplies the weight of copyright tags. Must be in [0,1].
	IPWeightDiscount float64 `koanf:"ip_weight_discount"`

	// IPTags is merged with the tag set synced from Danbooru.
	IPTags []string `koanf:"ip_tags"`

	// BoostTags maps tag -> multiplier (>= 0). Runtime overrides from the API
	// are layered on top at build time.
	BoostTags map[string]float64 `koanf:"boost_tags"`

	StopWords      []string `koanf:"stop_words"`
	IncludePrivate bool     `koanf:"include_private"`
}

// QuotaLimits bounds a strategy's share of the daily budget.
type QuotaLimits struct {
	MinQuota float64 `koanf:"min_quota"`
	MaxQuota float64 `koanf:"max_quota"`
}

// StrategyConfig toggles one strategy. When MaxQuota is 0 the strategy
// inherits discovery.mab_limits.
type StrategyConfig struct {
	Enabled  bool    `koanf:"enabled"`
	MinQuota float64 `koanf:"min_quota"`
	MaxQuota float64 `koanf:"max_quota"`
}

// StrategiesConfig has one entry per strategy variant.
type StrategiesConfig struct {
	TagSearch    StrategyConfig `koanf:"tag_search"`
	Subscription StrategyConfig `koanf:"subscription"`
	Ranking      StrategyConfig `koanf:"ranking"`
	Social       StrategyConfig `koanf:"social"`
	Related      StrategyConfig `koanf:"related"`
	Explore      StrategyConfig `koanf:"explore"`
}

// ByID returns the per-strategy settings keyed by strategy id.
func (s StrategiesConfig) ByID() map[models.StrategyID]StrategyConfig {
	return map[models.StrategyID]StrategyConfig{
		models.StrategyTagSearch:    s.TagSearch,
		models.StrategySubscription: s.Subscription,
		models.StrategyRanking:      s.Ranking,
		models.StrategySocial:       s.Social,
		models.StrategyRelated:      s.Related,
		models.StrategyExplore:      s.Explore,
	}
}

// DiscoveryConfig drives the allocator and the strategy runner.
type DiscoveryConfig struct {
	// DailyLimit is the per-run delivery budget split across strategies.
	DailyLimit int `koanf:"daily_limit"`

	// DiscoveryRate is the exploration floor blended into allocation shares.
	DiscoveryRate float64 `koanf:"discovery_rate"`

	// NeutralPrior is the success rate assumed for a strategy with no attempts.
	NeutralPrior float64 `koanf:"neutral_prior"`

	MABLimits  QuotaLimits      `koanf:"mab_limits"`
	Strategies StrategiesConfig `koanf:"strategies"`

	SubscribedArtists []int64 `koanf:"subscribed_artists"`
	RankingModes      []string `koanf:"ranking_modes"`
	DateRangeDays     int      `koanf:"date_range_days"`

	// PairShare is the fraction of the tag-search budget spent on tag pairs.
	PairShare float64 `koanf:"pair_share"`

	// Overfetch multiplies each strategy's slot count when querying upstream,
	// since the filter discards a share of every pool.
	Overfetch int `koanf:"overfetch"`

	MaxConcurrency  int           `koanf:"max_concurrency"`
	StrategyTimeout time.Duration `koanf:"strategy_timeout"`
	SoftDeadline    time.Duration `koanf:"soft_deadline"`

	// SearchAliases extends the built-in query expansion table.
	SearchAliases map[string][]string `koanf:"search_aliases"`
}

// EnabledStrategies returns enabled strategies with their effective bounds,
// in the stable order of models.AllStrategies.
func (d DiscoveryConfig) EnabledStrategies() []models.StrategyStat {
	byID := d.Strategies.ByID()
	out := make([]models.StrategyStat, 0, len(byID))
	for _, id := range models.AllStrategies {
		sc := byID[id]
		if !sc.Enabled {
			continue
		}
		minQ, maxQ := d.MABLimits.MinQuota, d.MABLimits.MaxQuota
		if sc.MaxQuota != 0 {
			minQ, maxQ = sc.MinQuota, sc.MaxQuota
		}
		out = append(out, models.StrategyStat{ID: id, MinQuota: minQ, MaxQuota: maxQ})
	}
	return out
}

// ThresholdConfig holds per-strategy bookmark threshold bases.
type ThresholdConfig struct {
	Search       int `koanf:"search"`
	Subscription int `koanf:"subscription"`
	Ranking      int `koanf:"ranking"`
	Social       int `koanf:"social"`
	Related      int `koanf:"related"`
	Explore      int `koanf:"explore"`

	// Floor is the lowest bar any non-zero base can be scaled down to.
	Floor int `koanf:"floor"`
}

// Base returns the threshold base for a strategy.
func (t ThresholdConfig) Base(id models.StrategyID) int {
	switch id {
	case models.StrategyTagSearch:
		return t.Search
	case models.StrategySubscription:
		return t.Subscription
	case models.StrategyRanking:
		return t.Ranking
	case models.StrategySocial:
		return t.Social
	case models.StrategyRelated:
		return t.Related
	case models.StrategyExplore:
		return t.Explore
	default:
		return t.Search
	}
}

// FilterConfig drives the candidate filter.
type FilterConfig struct {
	BookmarkThreshold ThresholdConfig `koanf:"bookmark_threshold"`

	ExcludeAI  bool     `koanf:"exclude_ai"`
	AIKeywords []string `koanf:"ai_keywords"`

	BlacklistTags []string `koanf:"blacklist_tags"`

	// R18Mode is exclude, allow, or mixed.
	R18Mode string `koanf:"r18_mode"`

	// R18Ratio caps the share of R-18 works in mixed mode.
	R18Ratio float64 `koanf:"r18_ratio"`

	// DedupWindow is how long a delivered id/fingerprint suppresses repeats.
	DedupWindow time.Duration `koanf:"dedup_window"`

	MaxPerArtist int `koanf:"max_per_artist"`

	RecencyHalfLife      time.Duration `koanf:"recency_half_life"`
	MatchFloor           float64       `koanf:"match_floor"`
	ArtistAffinityWeight float64       `koanf:"artist_affinity_weight"`
	SubscribedBoost      float64       `koanf:"subscribed_boost"`
}

// FeedbackConfig drives the feedback processor.
type FeedbackConfig struct {
	ChainDepth             int     `koanf:"chain_depth"`
	BlockThreshold         float64 `koanf:"block_threshold"`
	ArtistEMAAlpha         float64 `koanf:"artist_ema_alpha"`
	DislikeTagIncrement    float64 `koanf:"dislike_tag_increment"`
	DislikeArtistIncrement float64 `koanf:"dislike_artist_increment"`
	SyncBookmark           bool    `koanf:"sync_bookmark"`
	RelatedLimit           int     `koanf:"related_limit"`
}

// SourceConfig configures the content source HTTP client.
type SourceConfig struct {
	BaseURL           string        `koanf:"base_url"`
	Token             string        `koanf:"token"`
	UserID            int64         `koanf:"user_id"`
	Timeout           time.Duration `koanf:"timeout"`
	RequestsPerMinute int           `koanf:"requests_per_minute"`
	Burst             int           `koanf:"burst"`
	RetryAttempts     int           `koanf:"retry_attempts"`
	RetryDelay        time.Duration `koanf:"retry_delay"`
	RetryMultiplier   float64       `koanf:"retry_multiplier"`
}

// NormalizerConfig configures the AI tag normalizer. When disabled, raw tags
// are used unchanged.
type NormalizerConfig struct {
	Enabled        bool          `koanf:"enabled"`
	URL            string        `koanf:"url"`
	APIKey         string        `koanf:"api_key"`
	BatchSize      int           `koanf:"batch_size"`
	MaxConcurrency int           `koanf:"max_concurrency"`
	Timeout        time.Duration `koanf:"timeout"`
}

// DanbooruConfig configures the copyright tag sync.
type DanbooruConfig struct {
	URL          string        `koanf:"url"`
	Login        string        `koanf:"login"`
	APIKey       string        `koanf:"api_key"`
	MinPostCount int           `koanf:"min_post_count"`
	Limit        int           `koanf:"limit"`
	Timeout      time.Duration `koanf:"timeout"`
}

// StoreConfig configures the Badger store.
type StoreConfig struct {
	Path            string `koanf:"path"`
	InMemory        bool   `koanf:"in_memory"`
	SyncWrites      bool   `koanf:"sync_writes"`
	ConflictRetries int    `koanf:"conflict_retries"`
	QueueSize       int    `koanf:"queue_size"`

	// GCInterval is how often the value log is compacted. 0 disables it.
	GCInterval time.Duration `koanf:"gc_interval"`
}

// DeliveryConfig selects and configures delivery channels.
type DeliveryConfig struct {
	// Channels lists enabled channels: telegram, onebot.
	Channels []string       `koanf:"channels"`
	Telegram TelegramConfig `koanf:"telegram"`
	OneBot   OneBotConfig   `koanf:"onebot"`

	// ReportStats sends the per-run report to channels after each run.
	ReportStats bool `koanf:"report_stats"`
}

// TelegramConfig configures the Telegram Bot API channel.
type TelegramConfig struct {
	BotToken     string        `koanf:"bot_token"`
	ChatIDs      []int64       `koanf:"chat_ids"`
	AllowedUsers []int64       `koanf:"allowed_users"`
	APIURL       string        `koanf:"api_url"`
	PollTimeout  time.Duration `koanf:"poll_timeout"`
}

// OneBotConfig configures the OneBot v11 forward WebSocket channel.
type OneBotConfig struct {
	WSURL         string `koanf:"ws_url"`
	AccessToken   string `koanf:"access_token"`
	PrivateID     int64  `koanf:"private_id"`
	GroupID       int64  `koanf:"group_id"`
	PushToPrivate bool   `koanf:"push_to_private"`
	PushToGroup   bool   `koanf:"push_to_group"`
	MasterID      int64  `koanf:"master_id"`
}

// SchedulerConfig configures the periodic run.
type SchedulerConfig struct {
	Interval   time.Duration `koanf:"interval"`
	RunOnStart bool          `koanf:"run_on_start"`
	RunTimeout time.Duration `koanf:"run_timeout"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Enabled         bool          `koanf:"enabled"`
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	Timeout         time.Duration `koanf:"timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}
