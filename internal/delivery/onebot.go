// XPFeed - Taste-profile driven artwork discovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/xpfeed

package delivery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tomtom215/xpfeed/internal/config"
	"github.com/tomtom215/xpfeed/internal/logging"
	"github.com/tomtom215/xpfeed/internal/models"
)

const (
	onebotNodeName    = "XPFeed"
	onebotNodeUIN     = "10000"
	onebotCallTimeout = 30 * time.Second
	onebotShortLink   = "https://pixiv.net/i/%d"
)

// OneBotChannel talks to a OneBot v11 implementation over a forward
// WebSocket. Works are pushed as merged forward messages; the master user
// answers with "<id> 1|2|3" text replies.
type OneBotChannel struct {
	wsURL       string
	token       string
	privateID   int64
	groupID     int64
	pushPrivate bool
	pushGroup   bool
	masterID    int64
	dialer      websocket.Dialer
	seq         atomic.Uint64
	logger      zerolog.Logger
	now         func() time.Time

	reconnectDelay    time.Duration
	maxReconnectDelay time.Duration
}

// NewOneBotChannel builds a OneBot channel.
func NewOneBotChannel(cfg config.OneBotConfig) *OneBotChannel {
	return &OneBotChannel{
		wsURL:       cfg.WSURL,
		token:       cfg.AccessToken,
		privateID:   cfg.PrivateID,
		groupID:     cfg.GroupID,
		pushPrivate: cfg.PushToPrivate,
		pushGroup:   cfg.PushToGroup,
		masterID:    cfg.MasterID,
		dialer: websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		logger:            logging.WithComponent("onebot"),
		now:               time.Now,
		reconnectDelay:    time.Second,
		maxReconnectDelay: 32 * time.Second,
	}
}

// Name returns the channel identifier.
func (c *OneBotChannel) Name() string { return "onebot" }

type onebotAction struct {
	Action string      `json:"action"`
	Params interface{} `json:"params"`
	Echo   string      `json:"echo"`
}

type onebotResponse struct {
	Status  string `json:"status"`
	RetCode int    `json:"retcode"`
	Msg     string `json:"msg,omitempty"`
	Wording string `json:"wording,omitempty"`
	Echo    string `json:"echo"`
}

type onebotEvent struct {
	PostType    string `json:"post_type"`
	MessageType string `json:"message_type"`
	MessageID   int64  `json:"message_id"`
	UserID      int64  `json:"user_id"`
	GroupID     int64  `json:"group_id"`
	RawMessage  string `json:"raw_message"`
}

type onebotNode struct {
	Type string         `json:"type"`
	Data onebotNodeData `json:"data"`
}

type onebotNodeData struct {
	Name    string `json:"name"`
	UIN     string `json:"uin"`
	Content string `json:"content"`
}

type onebotTarget struct {
	kind string // private or group
	id   int64
}

func (t onebotTarget) params(extra map[string]interface{}) map[string]interface{} {
	key := "user_id"
	if t.kind == "group" {
		key = "group_id"
	}
	extra[key] = t.id
	return extra
}

// targets lists where pushes go.
func (c *OneBotChannel) targets() []onebotTarget {
	var out []onebotTarget
	if c.pushPrivate && c.privateID != 0 {
		out = append(out, onebotTarget{kind: "private", id: c.privateID})
	}
	if c.pushGroup && c.groupID != 0 {
		out = append(out, onebotTarget{kind: "group", id: c.groupID})
	}
	return out
}

// dial opens a connection, authenticating with the access token.
func (c *OneBotChannel) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, resp, err := c.dialer.DialContext(ctx, c.wsURL, header)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("onebot dial failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("onebot dial: %w", err)
	}
	return conn, nil
}

// write sends an action without waiting for its response.
func (c *OneBotChannel) write(conn *websocket.Conn, action string, params interface{}) (string, error) {
	echo := "xpfeed-" + strconv.FormatUint(c.seq.Add(1), 10)
	payload, err := json.Marshal(onebotAction{Action: action, Params: params, Echo: echo})
	if err != nil {
		return "", fmt.Errorf("onebot %s: encode: %w", action, err)
	}
	if err := conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return "", err
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return "", fmt.Errorf("onebot %s: write: %w", action, err)
	}
	return echo, nil
}

// request sends an action and waits for the matching response. Events that
// arrive in between are discarded.
func (c *OneBotChannel) request(ctx context.Context, conn *websocket.Conn, action string, params interface{}) error {
	echo, err := c.write(conn, action, params)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(onebotCallTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return err
	}
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("onebot %s: read: %w", action, err)
		}
		var resp onebotResponse
		if err := json.Unmarshal(raw, &resp); err != nil || resp.Echo != echo {
			continue
		}
		if resp.Status == "failed" || resp.RetCode != 0 {
			msg := resp.Wording
			if msg == "" {
				msg = resp.Msg
			}
			return fmt.Errorf("onebot %s: retcode %d: %s", action, resp.RetCode, msg)
		}
		return nil
	}
}

// Send pushes cands to every target as one merged forward message. When the
// implementation refuses forwards, each work is sent on its own.
func (c *OneBotChannel) Send(ctx context.Context, cands []models.Candidate) ([]int64, error) {
	targets := c.targets()
	if len(targets) == 0 || len(cands) == 0 {
		return nil, nil
	}
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	messages := make([]string, len(cands))
	nodes := make([]onebotNode, len(cands))
	for i, cand := range cands {
		messages[i] = Message(cand)
		nodes[i] = onebotNode{Type: "node", Data: onebotNodeData{Name: onebotNodeName, UIN: onebotNodeUIN, Content: messages[i]}}
	}

	shown := make([]bool, len(cands))
	var errs []error
	for _, t := range targets {
		err := c.request(ctx, conn, "send_"+t.kind+"_forward_msg", t.params(map[string]interface{}{"messages": nodes}))
		if err == nil {
			for i := range shown {
				shown[i] = true
			}
			continue
		}
		c.logger.Warn().Err(err).Str("target", t.kind).Msg("Forward message refused, sending individually")
		for i, msg := range messages {
			if err := c.request(ctx, conn, "send_"+t.kind+"_msg", t.params(map[string]interface{}{"message": msg})); err != nil {
				errs = append(errs, fmt.Errorf("%s %d: work %d: %w", t.kind, t.id, cands[i].WorkID, err))
				continue
			}
			shown[i] = true
		}
	}

	var delivered []int64
	for i, ok := range shown {
		if ok {
			delivered = append(delivered, cands[i].WorkID)
		}
	}
	return delivered, errors.Join(errs...)
}

// SendText sends a notice. Buttons become command hints.
func (c *OneBotChannel) SendText(ctx context.Context, text string, buttons [][]Button) error {
	targets := c.targets()
	if len(targets) == 0 {
		return nil
	}
	var b strings.Builder
	b.WriteString(cqEscape(text))
	for _, row := range buttons {
		for _, btn := range row {
			if hint := commandHint(btn.Data); hint != "" {
				fmt.Fprintf(&b, "\n%s: %s", btn.Label, cqEscape(hint))
			}
		}
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	var errs []error
	for _, t := range targets {
		if err := c.request(ctx, conn, "send_"+t.kind+"_msg", t.params(map[string]interface{}{"message": b.String()})); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Message renders one work as a OneBot message with a CQ image code.
func Message(cand models.Candidate) string {
	var b strings.Builder
	if cand.ImageURL != "" {
		fmt.Fprintf(&b, "[CQ:image,file=%s]\n", cqEscapeParam(proxyImage(cand.ImageURL)))
	}
	if cand.R18 {
		b.WriteString("🔞 ")
	}
	b.WriteString("🎨 " + cqEscape(cand.Title))
	if cand.PageCount > 1 {
		fmt.Fprintf(&b, " (%dP)", cand.PageCount)
	}
	b.WriteByte('\n')
	fmt.Fprintf(&b, "👤 %s\n", cqEscape(cand.ArtistName))
	fmt.Fprintf(&b, "❤️ %d", cand.Bookmarks)
	if cand.MatchScore > 0 {
		fmt.Fprintf(&b, " · 🎯 %.0f%%", cand.MatchScore*100)
	}
	b.WriteByte('\n')
	tags := cand.Tags
	if len(tags) > 5 {
		tags = tags[:5]
	}
	for i, t := range tags {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString("#" + cqEscape(t))
	}
	if len(tags) > 0 {
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "🔗 "+onebotShortLink+"\n", cand.WorkID)
	fmt.Fprintf(&b, "Reply \"%d 1\" like, \"%d 2\" dislike, \"%d 3\" block artist", cand.WorkID, cand.WorkID, cand.WorkID)
	return b.String()
}

var (
	cqTextEscaper  = strings.NewReplacer("&", "&amp;", "[", "&#91;", "]", "&#93;")
	cqParamEscaper = strings.NewReplacer("&", "&amp;", "[", "&#91;", "]", "&#93;", ",", "&#44;")
)

func cqEscape(s string) string      { return cqTextEscaper.Replace(s) }
func cqEscapeParam(s string) string { return cqParamEscaper.Replace(s) }

// commandHint turns a callback payload into the equivalent text command.
func commandHint(data string) string {
	parts := strings.SplitN(data, ":", 4)
	switch {
	case len(parts) == 3 && parts[0] == feedbackPrefix:
		return "/" + parts[1] + " " + parts[2]
	case len(parts) == 4 && parts[0] == blockPrefix:
		return "/" + parts[1] + " " + parts[2] + " " + parts[3]
	default:
		return ""
	}
}

// Listen keeps a connection open and forwards the master's commands to sink.
// Lost connections are re-dialed with exponential backoff.
func (c *OneBotChannel) Listen(ctx context.Context, sink Sink) error {
	if c.masterID == 0 {
		c.logger.Warn().Msg("No master_id configured, OneBot replies are ignored")
	}
	delay := c.reconnectDelay

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, err := c.dial(ctx)
		if err == nil {
			c.logger.Info().Msg("OneBot connected")
			delay = c.reconnectDelay
			err = c.serve(ctx, conn, sink)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn().Err(err).Dur("retry_in", delay).Msg("OneBot connection lost, reconnecting")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay = min(delay*2, c.maxReconnectDelay)
	}
}

// serve reads events from conn until it fails or ctx is done.
func (c *OneBotChannel) serve(ctx context.Context, conn *websocket.Conn, sink Sink) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	defer conn.Close()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var ev onebotEvent
		if err := json.Unmarshal(raw, &ev); err != nil || ev.PostType != "message" {
			continue
		}
		if c.masterID == 0 || ev.UserID != c.masterID {
			continue
		}
		c.handleMessage(ctx, conn, sink, &ev)
	}
}

func (c *OneBotChannel) handleMessage(ctx context.Context, conn *websocket.Conn, sink Sink, ev *onebotEvent) {
	eventID := "ob:" + strconv.FormatInt(ev.MessageID, 10)
	act, ok, err := ParseCommand(ev.RawMessage, eventID, c.Name(), c.now())
	if !ok {
		return
	}

	reply := ""
	switch {
	case err != nil:
		reply = "⚠️ " + err.Error()
	default:
		if err := Dispatch(ctx, sink, act); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to forward user action")
			reply = "⚠️ Temporarily unavailable, try again"
		} else {
			reply = Acknowledgement(act)
		}
	}

	target := onebotTarget{kind: "private", id: ev.UserID}
	if ev.MessageType == "group" {
		target = onebotTarget{kind: "group", id: ev.GroupID}
	}
	if _, err := c.write(conn, "send_"+target.kind+"_msg", target.params(map[string]interface{}{"message": cqEscape(reply)})); err != nil {
		c.logger.Warn().Err(err).Msg("Reply failed")
	}
}
