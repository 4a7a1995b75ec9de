// XPFeed - Taste-profile driven artwork discovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/xpfeed

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths searched for a config file, in order.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/xpfeed/config.yaml",
	"/etc/xpfeed/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "XPFEED_CONFIG"

// DefaultAIKeywords covers English, Chinese, and Japanese AI-generation markers.
var DefaultAIKeywords = []string{
	"ai", "ai-generated", "ai_generated", "aiart", "ai art", "aiartwork",
	"novelai", "nai", "stable diffusion", "stablediffusion", "midjourney", "niji",
	"ai生成", "ai绘画", "ai绘图", "ai作画", "人工智能",
	"aiイラスト", "ai生成イラスト", "ai作品", "ai画像", "aiグラビア",
}

// defaultStopWords are tags that say nothing about taste.
var defaultStopWords = []string{
	"original", "オリジナル", "原创", "illustration", "イラスト", "girl", "女の子",
	"r-18", "r-18g", "bookmark", "users入り",
}

func defaultConfig() *Config {
	return &Config{
		Profile: ProfileConfig{
			ScanLimit:        500,
			TopN:             20,
			Normalization:    "relative",
			IPWeightDiscount: 0.3,
			IPTags:           []string{},
			BoostTags:        map[string]float64{},
			StopWords:        defaultStopWords,
			IncludePrivate:   true,
		},
		Discovery: DiscoveryConfig{
			DailyLimit:    20,
			DiscoveryRate: 0.1,
			NeutralPrior:  0.5,
			MABLimits: QuotaLimits{
				MinQuota: 0.05,
				MaxQuota: 0.5,
			},
			Strategies: StrategiesConfig{
				TagSearch:    StrategyConfig{Enabled: true},
				Subscription: StrategyConfig{Enabled: true},
				Ranking:      StrategyConfig{Enabled: true},
				Social:       StrategyConfig{Enabled: true},
				Related:      StrategyConfig{Enabled: true},
				Explore:      StrategyConfig{Enabled: true},
			},
			SubscribedArtists: []int64{},
			RankingModes:      []string{"day"},
			DateRangeDays:     7,
			PairShare:         0.6,
			Overfetch:         3,
			MaxConcurrency:    4,
			StrategyTimeout:   90 * time.Second,
			SoftDeadline:      5 * time.Minute,
			SearchAliases:     map[string][]string{},
		},
		Filter: FilterConfig{
			BookmarkThreshold: ThresholdConfig{
				Search:       1000,
				Subscription: 0,
				Ranking:      0,
				Social:       300,
				Related:      300,
				Explore:      500,
				Floor:        100,
			},
			ExcludeAI:            true,
			AIKeywords:           DefaultAIKeywords,
			BlacklistTags:        []string{},
			R18Mode:              "exclude",
			R18Ratio:             0.2,
			DedupWindow:          30 * 24 * time.Hour,
			MaxPerArtist:         3,
			RecencyHalfLife:      72 * time.Hour,
			MatchFloor:           0.05,
			ArtistAffinityWeight: 0.3,
			SubscribedBoost:      0.3,
		},
		Feedback: FeedbackConfig{
			ChainDepth:             3,
			BlockThreshold:         3,
			ArtistEMAAlpha:         0.3,
			DislikeTagIncrement:    1,
			DislikeArtistIncrement: 1,
			SyncBookmark:           true,
			RelatedLimit:           30,
		},
		Source: SourceConfig{
			BaseURL:           "",
			Timeout:           30 * time.Second,
			RequestsPerMinute: 60,
			Burst:             5,
			RetryAttempts:     3,
			RetryDelay:        time.Second,
			RetryMultiplier:   2,
		},
		Normalizer: NormalizerConfig{
			Enabled:        false,
			BatchSize:      50,
			MaxConcurrency: 2,
			Timeout:        60 * time.Second,
		},
		Danbooru: DanbooruConfig{
			URL:          "https://danbooru.donmai.us",
			MinPostCount: 1000,
			Limit:        2000,
			Timeout:      30 * time.Second,
		},
		Store: StoreConfig{
			Path:            "/data/xpfeed",
			InMemory:        false,
			SyncWrites:      true,
			ConflictRetries: 5,
			QueueSize:       256,
			GCInterval:      10 * time.Minute,
		},
		Delivery: DeliveryConfig{
			Channels: []string{},
			Telegram: TelegramConfig{
				APIURL:      "https://api.telegram.org",
				PollTimeout: 30 * time.Second,
			},
			OneBot: OneBotConfig{
				PushToPrivate: true,
			},
			ReportStats: true,
		},
		Scheduler: SchedulerConfig{
			Interval:   24 * time.Hour,
			RunOnStart: false,
			RunTimeout: 15 * time.Minute,
		},
		Server: ServerConfig{
			Enabled:         true,
			Host:            "127.0.0.1",
			Port:            8686,
			Timeout:         30 * time.Second,
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Default returns the built-in defaults. Useful for tests and for tools that
// do not read a config file.
func Default() *Config {
	return defaultConfig()
}

// LoadWithKoanf loads configuration with layered sources:
//  1. Defaults: built-in values from defaultConfig
//  2. Config file: optional YAML file (XPFEED_CONFIG or DefaultConfigPaths)
//  3. Environment variables: XPFEED_* overrides
//
// The result is validated before it is returned.
func LoadWithKoanf() (*Config, error) {
	return LoadFile(findConfigFile())
}

// LoadFile is LoadWithKoanf with an explicit file path ("" skips the file layer).
func LoadFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("XPFEED_", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths are parsed from comma-separated env values.
var sliceConfigPaths = []string{
	"profile.ip_tags",
	"profile.stop_words",
	"discovery.subscribed_artists",
	"discovery.ranking_modes",
	"filter.blacklist_tags",
	"filter.ai_keywords",
	"delivery.channels",
	"delivery.telegram.chat_ids",
	"delivery.telegram.allowed_users",
	"server.cors_origins",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envTransformFunc maps XPFEED_* variables onto koanf paths. Unmapped
// variables are dropped so unrelated environment cannot leak into config.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, "XPFEED_"))

	envMappings := map[string]string{
		"scan_limit":         "profile.scan_limit",
		"normalization":      "profile.normalization",
		"ip_weight_discount": "profile.ip_weight_discount",
		"ip_tags":            "profile.ip_tags",

		"daily_limit":      "discovery.daily_limit",
		"discovery_rate":   "discovery.discovery_rate",
		"min_quota":        "discovery.mab_limits.min_quota",
		"max_quota":        "discovery.mab_limits.max_quota",
		"subscribed":       "discovery.subscribed_artists",
		"ranking_modes":    "discovery.ranking_modes",
		"max_concurrency":  "discovery.max_concurrency",
		"strategy_timeout": "discovery.strategy_timeout",
		"soft_deadline":    "discovery.soft_deadline",

		"bookmark_threshold": "filter.bookmark_threshold.search",
		"exclude_ai":         "filter.exclude_ai",
		"blacklist_tags":     "filter.blacklist_tags",
		"r18_mode":           "filter.r18_mode",
		"r18_ratio":          "filter.r18_ratio",
		"dedup_window":       "filter.dedup_window",
		"max_per_artist":     "filter.max_per_artist",

		"chain_depth":     "feedback.chain_depth",
		"block_threshold": "feedback.block_threshold",
		"sync_bookmark":   "feedback.sync_bookmark",

		"source_url":     "source.base_url",
		"source_token":   "source.token",
		"source_user_id": "source.user_id",
		"source_rpm":     "source.requests_per_minute",

		"normalizer_enabled": "normalizer.enabled",
		"normalizer_url":     "normalizer.url",
		"normalizer_api_key": "normalizer.api_key",

		"danbooru_login":   "danbooru.login",
		"danbooru_api_key": "danbooru.api_key",

		"store_path":      "store.path",
		"store_in_memory": "store.in_memory",

		"channels":               "delivery.channels",
		"telegram_bot_token":     "delivery.telegram.bot_token",
		"telegram_chat_ids":      "delivery.telegram.chat_ids",
		"telegram_allowed_users": "delivery.telegram.allowed_users",
		"onebot_ws_url":          "delivery.onebot.ws_url",
		"onebot_access_token":    "delivery.onebot.access_token",
		"onebot_master_id":       "delivery.onebot.master_id",

		"schedule_interval": "scheduler.interval",
		"run_on_start":      "scheduler.run_on_start",

		"http_enabled": "server.enabled",
		"http_host":    "server.host",
		"http_port":    "server.port",
		"cors_origins": "server.cors_origins",

		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}
