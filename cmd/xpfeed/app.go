// XPFeed - Taste-profile driven artwork discovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/xpfeed

package main

import (
	"errors"
	"fmt"

	"github.com/tomtom215/xpfeed/internal/api"
	"github.com/tomtom215/xpfeed/internal/config"
	"github.com/tomtom215/xpfeed/internal/delivery"
	"github.com/tomtom215/xpfeed/internal/eventbus"
	"github.com/tomtom215/xpfeed/internal/feedback"
	"github.com/tomtom215/xpfeed/internal/filter"
	"github.com/tomtom215/xpfeed/internal/logging"
	"github.com/tomtom215/xpfeed/internal/pipeline"
	"github.com/tomtom215/xpfeed/internal/profile"
	"github.com/tomtom215/xpfeed/internal/source"
	"github.com/tomtom215/xpfeed/internal/store"
)

// app holds the wired components shared by every command.
type app struct {
	cfg       *config.Config
	store     *store.Store
	source    *source.Client
	builder   *profile.Builder
	fanout    *delivery.Fanout
	processor *feedback.Processor
	pipeline  *pipeline.Pipeline
	bus       *eventbus.Bus
}

// newApp opens the store and builds the component graph. The event bus is
// only created when withBus is set, since one-shot commands never consume.
func newApp(cfg *config.Config, withBus bool) (*app, error) {
	st, err := store.Open(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	client := source.NewClient(cfg.Source)

	var canon *profile.Canonicalizer
	if cfg.Normalizer.Enabled {
		canon = profile.NewCanonicalizer(source.NewNormalizerClient(cfg.Normalizer), st, cfg.Normalizer)
	}
	builder := profile.NewBuilder(client, canon, st, cfg.Profile)

	channels := make([]delivery.Channel, 0, len(cfg.Delivery.Channels))
	for _, name := range cfg.Delivery.Channels {
		switch name {
		case "telegram":
			channels = append(channels, delivery.NewTelegramChannel(cfg.Delivery.Telegram))
		case "onebot":
			channels = append(channels, delivery.NewOneBotChannel(cfg.Delivery.OneBot))
		}
	}
	if len(channels) == 0 {
		logging.Warn().Msg("No delivery channels configured, running headless")
	}
	fanout := delivery.NewFanout(channels...)

	flt := filter.New(cfg.Filter)
	processor := feedback.NewProcessor(st, client, fanout, feedback.Options{
		Feedback:    cfg.Feedback,
		Filter:      flt,
		DedupWindow: cfg.Filter.DedupWindow,
		Strategies:  cfg.Discovery.EnabledStrategies(),
		Subscribed:  cfg.Discovery.SubscribedArtists,
	})

	deps := pipeline.Deps{
		Store:     st,
		Builder:   builder,
		Source:    client,
		Following: client,
		Filter:    flt,
		Deliverer: fanout,
	}
	if cfg.Danbooru.URL != "" {
		deps.IPTags = source.NewDanbooruClient(cfg.Danbooru)
	}

	a := &app{
		cfg:       cfg,
		store:     st,
		source:    client,
		builder:   builder,
		fanout:    fanout,
		processor: processor,
		pipeline:  pipeline.New(cfg, deps),
	}

	if withBus {
		bus, err := eventbus.New(processor, fanout, eventbus.DefaultConfig())
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("create event bus: %w", err)
		}
		a.bus = bus
	}
	return a, nil
}

// apiHandler builds the HTTP handler over the app's components.
func (a *app) apiHandler() *api.Handler {
	return api.NewHandler(api.Deps{
		Pipeline:         a.pipeline,
		Publisher:        a.bus,
		Blocks:           a.processor,
		Profile:          a.builder,
		Store:            a.store,
		ConfiguredBoosts: a.cfg.Profile.BoostTags,
		RunTimeout:       a.cfg.Scheduler.RunTimeout,
	})
}

// Close releases the bus and the store.
func (a *app) Close() error {
	var errs []error
	if a.bus != nil {
		if err := a.bus.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close event bus: %w", err))
		}
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	return errors.Join(errs...)
}
