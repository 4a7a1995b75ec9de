// XPFeed - Taste-profile driven artwork discovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/xpfeed

// Package delivery presents candidates to the user and turns their reactions
// back into feedback events.
//
// Two channels are implemented:
//   - Telegram: Bot API over HTTPS, inline keyboard callbacks, long polling
//   - OneBot v11: WebSocket, plain-text commands from the configured master
//
// Both implement Channel. Fanout spreads one delivery over every enabled
// channel and satisfies the feedback processor's Deliverer.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/xpfeed/internal/logging"
	"github.com/tomtom215/xpfeed/internal/metrics"
	"github.com/tomtom215/xpfeed/internal/models"
)

// Channel is one delivery surface.
type Channel interface {
	// Name returns the channel identifier (telegram, onebot).
	Name() string

	// Send presents candidates to the user. It returns the ids of the works
	// that reached at least one recipient, even when err is non-nil.
	Send(ctx context.Context, cands []models.Candidate) (delivered []int64, err error)

	// SendText sends a plain notice with optional buttons. Channels without
	// buttons render them as command hints.
	SendText(ctx context.Context, text string, buttons [][]Button) error

	// Listen blocks, forwarding user actions to sink until ctx is done.
	Listen(ctx context.Context, sink Sink) error
}

// Button is an inline action. Data is a callback payload built with
// FeedbackData or BlockData.
type Button struct {
	Label string
	Data  string
}

// Sink receives user actions from a channel.
type Sink interface {
	PublishFeedback(ctx context.Context, ev models.FeedbackEvent) error
	PublishBlock(ctx context.Context, cmd models.BlockCommand) error
}

// ErrNoChannelDelivered is returned when every channel failed.
var ErrNoChannelDelivered = errors.New("no channel delivered")

// Fanout delivers to every configured channel.
type Fanout struct {
	channels []Channel
	logger   zerolog.Logger
}

// NewFanout wraps channels. With none, deliveries are only logged.
func NewFanout(channels ...Channel) *Fanout {
	return &Fanout{channels: channels, logger: logging.WithComponent("delivery")}
}

// Channels returns the wrapped channels.
func (f *Fanout) Channels() []Channel { return f.channels }

// Deliver sends cands to every channel and returns the ids shown on at least
// one of them. It fails only when every channel failed, so one broken bot
// does not hold back the others. The returned ids are valid on error too:
// a channel that stopped halfway still showed part of the batch.
func (f *Fanout) Deliver(ctx context.Context, cands []models.Candidate) ([]int64, error) {
	if len(cands) == 0 {
		return nil, nil
	}
	if len(f.channels) == 0 {
		ids := make([]int64, len(cands))
		for i, c := range cands {
			f.logger.Info().Int64("work_id", c.WorkID).Str("strategy", string(c.Strategy)).
				Msg("No delivery channel configured, candidate recorded only")
			ids[i] = c.WorkID
		}
		return ids, nil
	}

	shown := make(map[int64]bool, len(cands))
	var errs []error
	for _, ch := range f.channels {
		ids, err := ch.Send(ctx, cands)
		recordAttempt(ch.Name(), err)
		for _, id := range ids {
			shown[id] = true
		}
		if err != nil {
			f.logger.Warn().Err(err).Str("channel", ch.Name()).
				Int("candidates", len(cands)).Int("shown", len(ids)).Msg("Delivery failed")
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name(), err))
		}
	}

	// Keep the candidate order.
	delivered := make([]int64, 0, len(shown))
	for _, c := range cands {
		if shown[c.WorkID] {
			delivered = append(delivered, c.WorkID)
			delete(shown, c.WorkID)
		}
	}
	if len(errs) == len(f.channels) {
		return delivered, fmt.Errorf("%w: %w", ErrNoChannelDelivered, errors.Join(errs...))
	}
	return delivered, nil
}

// Shown filters cands down to the delivered ids, keeping order.
func Shown(cands []models.Candidate, delivered []int64) []models.Candidate {
	ids := make(map[int64]bool, len(delivered))
	for _, id := range delivered {
		ids[id] = true
	}
	out := make([]models.Candidate, 0, len(delivered))
	for _, c := range cands {
		if ids[c.WorkID] {
			out = append(out, c)
			delete(ids, c.WorkID)
		}
	}
	return out
}

// Announce sends a text notice to every channel. Failures are logged.
func (f *Fanout) Announce(ctx context.Context, text string, buttons [][]Button) {
	for _, ch := range f.channels {
		err := ch.SendText(ctx, text, buttons)
		recordAttempt(ch.Name(), err)
		if err != nil {
			f.logger.Warn().Err(err).Str("channel", ch.Name()).Msg("Announcement failed")
		}
	}
}

// AnnounceBlocks asks the user to confirm or dismiss newly pending blocks.
func (f *Fanout) AnnounceBlocks(ctx context.Context, entries []models.BlockEntry) {
	for _, e := range entries {
		if e.State != models.BlockPendingConfirmation {
			continue
		}
		text := fmt.Sprintf("Block %s %q? Dislike score %.1f.", e.Kind, e.Subject, e.Score)
		f.Announce(ctx, text, [][]Button{BlockButtons(e.Kind, e.Subject)})
	}
}

func recordAttempt(channel string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	metrics.DeliveryAttempts.WithLabelValues(channel, result).Inc()
}

// Callback payloads. Telegram limits callback data to 64 bytes.
const (
	maxCallbackData = 64
	feedbackPrefix  = "fb"
	blockPrefix     = "blk"
)

// FeedbackData encodes a feedback callback: fb:<action>:<work id>.
func FeedbackData(action models.FeedbackAction, workID int64) string {
	return feedbackPrefix + ":" + string(action) + ":" + strconv.FormatInt(workID, 10)
}

// BlockData encodes a block decision: blk:<confirm|dismiss>:<kind>:<subject>.
// It returns "" when the subject does not fit in a callback.
func BlockData(confirm bool, kind models.SubjectKind, subject string) string {
	verb := "dismiss"
	if confirm {
		verb = "confirm"
	}
	data := blockPrefix + ":" + verb + ":" + string(kind) + ":" + subject
	if len(data) > maxCallbackData {
		return ""
	}
	return data
}

// FeedbackButtons is the keyboard attached to each delivered work.
func FeedbackButtons(workID int64) []Button {
	return []Button{
		{Label: "❤️ Like", Data: FeedbackData(models.ActionLike, workID)},
		{Label: "👎 Dislike", Data: FeedbackData(models.ActionDislike, workID)},
		{Label: "🚫 Block artist", Data: FeedbackData(models.ActionBlock, workID)},
	}
}

// BlockButtons is the keyboard attached to a pending block notice.
func BlockButtons(kind models.SubjectKind, subject string) []Button {
	confirm := BlockData(true, kind, subject)
	dismiss := BlockData(false, kind, subject)
	if confirm == "" || dismiss == "" {
		return nil
	}
	return []Button{
		{Label: "✅ Block", Data: confirm},
		{Label: "↩️ Keep", Data: dismiss},
	}
}

// Action is a parsed user action: exactly one of Feedback or Block is set.
type Action struct {
	Feedback *models.FeedbackEvent
	Block    *models.BlockCommand
}

// ParseCallback decodes a callback payload built by FeedbackData or BlockData.
func ParseCallback(data, eventID, channel string, at time.Time) (Action, error) {
	parts := strings.SplitN(data, ":", 4)
	switch {
	case len(parts) == 3 && parts[0] == feedbackPrefix:
		return parseFeedback(parts[1], parts[2], eventID, channel, at)
	case len(parts) == 4 && parts[0] == blockPrefix:
		return parseBlock(parts[1], parts[2], parts[3], channel)
	default:
		return Action{}, fmt.Errorf("unrecognized callback %q", data)
	}
}

// ParseCommand decodes a text command:
//
//	<work id> <1|2|3>          like, dislike, block
//	/like <work id>            also /dislike and /block
//	/confirm <tag|artist> <subject>
//	/dismiss <tag|artist> <subject>
//
// ok is false when text is not a command at all.
func ParseCommand(text, eventID, channel string, at time.Time) (act Action, ok bool, err error) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) < 2 {
		return Action{}, false, nil
	}

	cmd := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}

	switch {
	case len(fields) == 2 && isDigits(fields[0]):
		act, err = parseFeedback(fields[1], fields[0], eventID, channel, at)
		return act, true, err
	case strings.HasPrefix(fields[0], "/") && (cmd == "like" || cmd == "dislike" || cmd == "block") && len(fields) == 2:
		act, err = parseFeedback(cmd, fields[1], eventID, channel, at)
		return act, true, err
	case strings.HasPrefix(fields[0], "/") && (cmd == "confirm" || cmd == "dismiss") && len(fields) >= 3:
		act, err = parseBlock(cmd, fields[1], strings.Join(fields[2:], " "), channel)
		return act, true, err
	default:
		return Action{}, false, nil
	}
}

func parseFeedback(action, id, eventID, channel string, at time.Time) (Action, error) {
	a, err := models.ParseFeedbackAction(action)
	if err != nil {
		return Action{}, err
	}
	workID, err := strconv.ParseInt(id, 10, 64)
	if err != nil || workID <= 0 {
		return Action{}, fmt.Errorf("invalid work id %q", id)
	}
	return Action{Feedback: &models.FeedbackEvent{
		ID:      eventID,
		WorkID:  workID,
		Action:  a,
		Channel: channel,
		At:      at,
	}}, nil
}

func parseBlock(verb, kind, subject, channel string) (Action, error) {
	k := models.SubjectKind(strings.ToLower(kind))
	if !k.Valid() {
		return Action{}, fmt.Errorf("invalid subject kind %q", kind)
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return Action{}, fmt.Errorf("empty block subject")
	}
	var confirm bool
	switch verb {
	case "confirm":
		confirm = true
	case "dismiss":
	default:
		return Action{}, fmt.Errorf("invalid block decision %q", verb)
	}
	return Action{Block: &models.BlockCommand{Kind: k, Subject: subject, Confirm: confirm, Channel: channel}}, nil
}

// Dispatch forwards a parsed action to sink.
func Dispatch(ctx context.Context, sink Sink, act Action) error {
	switch {
	case act.Feedback != nil:
		return sink.PublishFeedback(ctx, *act.Feedback)
	case act.Block != nil:
		return sink.PublishBlock(ctx, *act.Block)
	default:
		return nil
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Acknowledgement renders the reply sent after an action was accepted.
func Acknowledgement(act Action) string {
	switch {
	case act.Feedback != nil:
		switch act.Feedback.Action {
		case models.ActionLike:
			return fmt.Sprintf("❤️ Liked %d", act.Feedback.WorkID)
		case models.ActionDislike:
			return fmt.Sprintf("👎 Disliked %d", act.Feedback.WorkID)
		default:
			return fmt.Sprintf("🚫 Block requested for the artist of %d", act.Feedback.WorkID)
		}
	case act.Block != nil:
		if act.Block.Confirm {
			return fmt.Sprintf("✅ Blocked %s %s", act.Block.Kind, act.Block.Subject)
		}
		return fmt.Sprintf("↩️ Kept %s %s", act.Block.Kind, act.Block.Subject)
	default:
		return ""
	}
}
