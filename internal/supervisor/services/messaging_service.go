// XPFeed - Taste-profile driven artwork discovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/xpfeed

package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/xpfeed/internal/delivery"
	"github.com/tomtom215/xpfeed/internal/logging"
)

// Router is the blocking lifecycle of the event bus. Satisfied by
// *eventbus.Bus.
type Router interface {
	Run(ctx context.Context) error
}

// EventBusService runs the event bus router.
//
// A watermill router cannot be restarted once closed, so an unexpected stop
// terminates the tree instead of looping on a dead router.
type EventBusService struct {
	router Router
	name   string
}

// NewEventBusService wraps router.
func NewEventBusService(router Router) *EventBusService {
	return &EventBusService{router: router, name: "event-bus"}
}

// Serve implements suture.Service.
func (s *EventBusService) Serve(ctx context.Context) error {
	err := s.router.Run(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err == nil {
		err = errors.New("router stopped")
	}
	return fmt.Errorf("%w: event bus: %w", suture.ErrTerminateSupervisorTree, err)
}

// String implements fmt.Stringer for suture's logs.
func (s *EventBusService) String() string {
	return s.name
}

// ListenerService forwards user actions from one delivery channel to the
// sink. Connection failures surface as errors so suture restarts the
// listener with backoff.
type ListenerService struct {
	channel delivery.Channel
	sink    delivery.Sink
	name    string
}

// NewListenerService wraps ch.
func NewListenerService(ch delivery.Channel, sink delivery.Sink) *ListenerService {
	return &ListenerService{channel: ch, sink: sink, name: ch.Name() + "-listener"}
}

// Serve implements suture.Service.
func (s *ListenerService) Serve(ctx context.Context) error {
	logger := logging.WithComponent(s.name)
	logger.Info().Msg("Listening for user actions")

	err := s.channel.Listen(ctx, s.sink)
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case err != nil:
		return fmt.Errorf("%s: %w", s.name, err)
	default:
		logger.Info().Msg("Channel has nothing to listen to")
		return suture.ErrDoNotRestart
	}
}

// String implements fmt.Stringer for suture's logs.
func (s *ListenerService) String() string {
	return s.name
}
