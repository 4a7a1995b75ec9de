// XPFeed - Taste-profile driven artwork discovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/xpfeed

package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/tomtom215/xpfeed/internal/logging"
)

// Validate checks the whole configuration. Out-of-range values are reported,
// never clamped.
func (c *Config) Validate() error {
	validators := []func() error{
		c.validateProfile,
		c.validateDiscovery,
		c.validateFilter,
		c.validateFeedback,
		c.validateSource,
		c.validateNormalizer,
		c.validateStore,
		c.validateDelivery,
		c.validateScheduler,
		c.validateServer,
		c.validateLogging,
	}
	for _, v := range validators {
		if err := v(); err != nil {
			return err
		}
	}
	return nil
}

var validNormalizations = map[string]bool{"raw": true, "relative": true, "tfidf": true}

func (c *Config) validateProfile() error {
	p := c.Profile
	if p.ScanLimit <= 0 {
		return fmt.Errorf("profile.scan_limit must be positive, got %d", p.ScanLimit)
	}
	if p.TopN <= 0 {
		return fmt.Errorf("profile.top_n must be positive, got %d", p.TopN)
	}
	if !validNormalizations[p.Normalization] {
		return fmt.Errorf("profile.normalization must be raw, relative, or tfidf, got %q", p.Normalization)
	}
	if p.IPWeightDiscount < 0 || p.IPWeightDiscount > 1 {
		return fmt.Errorf("profile.ip_weight_discount must be in [0,1], got %g", p.IPWeightDiscount)
	}
	for tag, m := range p.BoostTags {
		if strings.TrimSpace(tag) == "" {
			return fmt.Errorf("profile.boost_tags contains an empty tag")
		}
		if m < 0 {
			return fmt.Errorf("profile.boost_tags[%s] must be >= 0, got %g", tag, m)
		}
	}
	return nil
}

func (c *Config) validateDiscovery() error {
	d := c.Discovery
	if d.DailyLimit <= 0 {
		return fmt.Errorf("discovery.daily_limit must be positive, got %d", d.DailyLimit)
	}
	if d.DiscoveryRate < 0 || d.DiscoveryRate > 1 {
		return fmt.Errorf("discovery.discovery_rate must be in [0,1], got %g", d.DiscoveryRate)
	}
	if d.NeutralPrior < 0 || d.NeutralPrior > 1 {
		return fmt.Errorf("discovery.neutral_prior must be in [0,1], got %g", d.NeutralPrior)
	}
	if err := validateQuota("discovery.mab_limits", d.MABLimits.MinQuota, d.MABLimits.MaxQuota); err != nil {
		return err
	}
	for id, sc := range d.Strategies.ByID() {
		if sc.MinQuota == 0 && sc.MaxQuota == 0 {
			continue
		}
		if err := validateQuota("discovery.strategies."+string(id), sc.MinQuota, sc.MaxQuota); err != nil {
			return err
		}
	}

	enabled := d.EnabledStrategies()
	if len(enabled) == 0 {
		return fmt.Errorf("discovery.strategies: at least one strategy must be enabled")
	}
	var sumMin, sumMax float64
	for _, s := range enabled {
		sumMin += s.MinQuota
		sumMax += s.MaxQuota
	}
	if sumMin > 1 {
		return fmt.Errorf("discovery quota bounds infeasible: sum of min_quota over enabled strategies is %g (> 1)", sumMin)
	}
	if sumMax < 1 {
		return fmt.Errorf("discovery quota bounds infeasible: sum of max_quota over enabled strategies is %g (< 1)", sumMax)
	}

	for _, mode := range d.RankingModes {
		if !validRankingModes[mode] {
			return fmt.Errorf("discovery.ranking_modes: unknown mode %q", mode)
		}
	}
	if d.DateRangeDays < 0 {
		return fmt.Errorf("discovery.date_range_days must be >= 0, got %d", d.DateRangeDays)
	}
	if d.PairShare < 0 || d.PairShare > 1 {
		return fmt.Errorf("discovery.pair_share must be in [0,1], got %g", d.PairShare)
	}
	if d.Overfetch < 1 {
		return fmt.Errorf("discovery.overfetch must be >= 1, got %d", d.Overfetch)
	}
	if d.MaxConcurrency < 1 {
		return fmt.Errorf("discovery.max_concurrency must be >= 1, got %d", d.MaxConcurrency)
	}
	if d.StrategyTimeout <= 0 {
		return fmt.Errorf("discovery.strategy_timeout must be positive, got %v", d.StrategyTimeout)
	}
	if d.SoftDeadline <= 0 {
		return fmt.Errorf("discovery.soft_deadline must be positive, got %v", d.SoftDeadline)
	}
	for _, id := range d.SubscribedArtists {
		if id <= 0 {
			return fmt.Errorf("discovery.subscribed_artists: invalid artist id %d", id)
		}
	}
	return nil
}

var validRankingModes = map[string]bool{
	"day": true, "week": true, "month": true, "day_male": true, "day_female": true,
	"week_original": true, "week_rookie": true, "day_r18": true, "week_r18": true,
}

func validateQuota(field string, minQ, maxQ float64) error {
	if minQ < 0 || minQ > 1 {
		return fmt.Errorf("%s.min_quota must be in [0,1], got %g", field, minQ)
	}
	if maxQ < 0 || maxQ > 1 {
		return fmt.Errorf("%s.max_quota must be in [0,1], got %g", field, maxQ)
	}
	if minQ > maxQ {
		return fmt.Errorf("%s: min_quota (%g) must not exceed max_quota (%g)", field, minQ, maxQ)
	}
	return nil
}

var validR18Modes = map[string]bool{"exclude": true, "allow": true, "mixed": true}

func (c *Config) validateFilter() error {
	f := c.Filter
	t := f.BookmarkThreshold
	for name, v := range map[string]int{
		"search": t.Search, "subscription": t.Subscription, "ranking": t.Ranking,
		"social": t.Social, "related": t.Related, "explore": t.Explore, "floor": t.Floor,
	} {
		if v < 0 {
			return fmt.Errorf("filter.bookmark_threshold.%s must be >= 0, got %d", name, v)
		}
	}
	if !validR18Modes[f.R18Mode] {
		return fmt.Errorf("filter.r18_mode must be exclude, allow, or mixed, got %q", f.R18Mode)
	}
	if f.R18Ratio < 0 || f.R18Ratio > 1 {
		return fmt.Errorf("filter.r18_ratio must be in [0,1], got %g", f.R18Ratio)
	}
	if f.DedupWindow <= 0 {
		return fmt.Errorf("filter.dedup_window must be positive, got %v", f.DedupWindow)
	}
	if f.MaxPerArtist < 0 {
		return fmt.Errorf("filter.max_per_artist must be >= 0 (0 disables the cap), got %d", f.MaxPerArtist)
	}
	if f.RecencyHalfLife <= 0 {
		return fmt.Errorf("filter.recency_half_life must be positive, got %v", f.RecencyHalfLife)
	}
	if f.MatchFloor < 0 || f.MatchFloor > 1 {
		return fmt.Errorf("filter.match_floor must be in [0,1], got %g", f.MatchFloor)
	}
	if f.ArtistAffinityWeight < 0 || f.ArtistAffinityWeight >= 1 {
		return fmt.Errorf("filter.artist_affinity_weight must be in [0,1), got %g", f.ArtistAffinityWeight)
	}
	if f.SubscribedBoost < 0 {
		return fmt.Errorf("filter.subscribed_boost must be >= 0, got %g", f.SubscribedBoost)
	}
	return nil
}

func (c *Config) validateFeedback() error {
	f := c.Feedback
	if f.ChainDepth < 0 {
		return fmt.Errorf("feedback.chain_depth must be >= 0, got %d", f.ChainDepth)
	}
	if f.BlockThreshold <= 0 {
		return fmt.Errorf("feedback.block_threshold must be positive, got %g", f.BlockThreshold)
	}
	if f.ArtistEMAAlpha <= 0 || f.ArtistEMAAlpha > 1 {
		return fmt.Errorf("feedback.artist_ema_alpha must be in (0,1], got %g", f.ArtistEMAAlpha)
	}
	if f.DislikeTagIncrement < 0 || f.DislikeArtistIncrement < 0 {
		return fmt.Errorf("feedback dislike increments must be >= 0")
	}
	if f.RelatedLimit <= 0 {
		return fmt.Errorf("feedback.related_limit must be positive, got %d", f.RelatedLimit)
	}
	return nil
}

func (c *Config) validateSource() error {
	s := c.Source
	if s.BaseURL != "" {
		if err := validateHTTPURL(s.BaseURL, "source.base_url"); err != nil {
			return err
		}
	}
	if s.Timeout <= 0 {
		return fmt.Errorf("source.timeout must be positive, got %v", s.Timeout)
	}
	if s.RequestsPerMinute <= 0 {
		return fmt.Errorf("source.requests_per_minute must be positive, got %d", s.RequestsPerMinute)
	}
	if s.Burst <= 0 {
		return fmt.Errorf("source.burst must be positive, got %d", s.Burst)
	}
	if s.RetryAttempts < 1 {
		return fmt.Errorf("source.retry_attempts must be >= 1, got %d", s.RetryAttempts)
	}
	if s.RetryDelay < 0 {
		return fmt.Errorf("source.retry_delay must be >= 0, got %v", s.RetryDelay)
	}
	if s.RetryMultiplier < 1 {
		return fmt.Errorf("source.retry_multiplier must be >= 1, got %g", s.RetryMultiplier)
	}
	return nil
}

func (c *Config) validateNormalizer() error {
	n := c.Normalizer
	if !n.Enabled {
		return nil
	}
	if n.URL == "" {
		return fmt.Errorf("normalizer.url is required when normalizer.enabled=true")
	}
	if err := validateHTTPURL(n.URL, "normalizer.url"); err != nil {
		return err
	}
	if n.BatchSize <= 0 {
		return fmt.Errorf("normalizer.batch_size must be positive, got %d", n.BatchSize)
	}
	if n.MaxConcurrency <= 0 {
		return fmt.Errorf("normalizer.max_concurrency must be positive, got %d", n.MaxConcurrency)
	}
	return nil
}

func (c *Config) validateStore() error {
	s := c.Store
	if !s.InMemory && s.Path == "" {
		return fmt.Errorf("store.path is required unless store.in_memory=true")
	}
	if s.ConflictRetries < 0 {
		return fmt.Errorf("store.conflict_retries must be >= 0, got %d", s.ConflictRetries)
	}
	if s.QueueSize <= 0 {
		return fmt.Errorf("store.queue_size must be positive, got %d", s.QueueSize)
	}
	if s.GCInterval < 0 {
		return fmt.Errorf("store.gc_interval must be >= 0, got %v", s.GCInterval)
	}
	return nil
}

func (c *Config) validateDelivery() error {
	d := c.Delivery
	for _, ch := range d.Channels {
		switch ch {
		case "telegram":
			if d.Telegram.BotToken == "" {
				return fmt.Errorf("delivery.telegram.bot_token is required when telegram is enabled")
			}
			if len(d.Telegram.ChatIDs) == 0 {
				return fmt.Errorf("delivery.telegram.chat_ids must not be empty when telegram is enabled")
			}
			if err := validateHTTPURL(d.Telegram.APIURL, "delivery.telegram.api_url"); err != nil {
				return err
			}
		case "onebot":
			if d.OneBot.WSURL == "" {
				return fmt.Errorf("delivery.onebot.ws_url is required when onebot is enabled")
			}
			u, err := url.Parse(d.OneBot.WSURL)
			if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
				return fmt.Errorf("delivery.onebot.ws_url must be a ws:// or wss:// URL, got %q", d.OneBot.WSURL)
			}
			if !d.OneBot.PushToPrivate && !d.OneBot.PushToGroup {
				return fmt.Errorf("delivery.onebot: enable push_to_private or push_to_group")
			}
			if d.OneBot.PushToPrivate && d.OneBot.PrivateID == 0 {
				return fmt.Errorf("delivery.onebot.private_id is required when push_to_private=true")
			}
			if d.OneBot.PushToGroup && d.OneBot.GroupID == 0 {
				return fmt.Errorf("delivery.onebot.group_id is required when push_to_group=true")
			}
		default:
			return fmt.Errorf("delivery.channels: unknown channel %q (want telegram or onebot)", ch)
		}
	}
	return nil
}

func (c *Config) validateScheduler() error {
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be positive, got %v", c.Scheduler.Interval)
	}
	if c.Scheduler.RunTimeout <= 0 {
		return fmt.Errorf("scheduler.run_timeout must be positive, got %v", c.Scheduler.RunTimeout)
	}
	return nil
}

func (c *Config) validateServer() error {
	s := c.Server
	if !s.Enabled {
		return nil
	}
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", s.Port)
	}
	if s.Timeout <= 0 {
		return fmt.Errorf("server.timeout must be positive, got %v", s.Timeout)
	}
	if s.RateLimitReqs <= 0 || s.RateLimitWindow <= 0 {
		return fmt.Errorf("server rate limit must be positive, got %d per %v", s.RateLimitReqs, s.RateLimitWindow)
	}
	return nil
}

func (c *Config) validateLogging() error {
	if !logging.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("logging.level must be one of trace, debug, info, warn, error, got %q", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	return nil
}

// validateHTTPURL checks for an http(s) URL with a host.
func validateHTTPURL(rawURL, field string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%s failed to parse URL: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s scheme must be http or https, got: %q", field, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%s host is required", field)
	}
	return nil
}
