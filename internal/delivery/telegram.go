// XPFeed - Taste-profile driven artwork discovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/xpfeed

package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"

	"github.com/tomtom215/xpfeed/internal/config"
	"github.com/tomtom215/xpfeed/internal/logging"
	"github.com/tomtom215/xpfeed/internal/models"
)

const (
	telegramCaptionLimit = 1024
	telegramMessageLimit = 4096
	telegramMaxRetries   = 3
	telegramSendGap      = 300 * time.Millisecond
	imageProxyHost       = "i.pixiv.cat"
)

// WorkURL and ArtistURL link back to the content source.
const (
	WorkURL   = "https://www.pixiv.net/artworks/%d"
	ArtistURL = "https://www.pixiv.net/users/%d"
)

// TelegramChannel delivers through the Telegram Bot API.
type TelegramChannel struct {
	client       *http.Client
	baseURL      string
	token        string
	chatIDs      []int64
	allowedUsers map[int64]bool
	pollTimeout  time.Duration
	sendGap      time.Duration
	policy       *bluemonday.Policy
	logger       zerolog.Logger
	now          func() time.Time
}

// NewTelegramChannel builds a Telegram channel. An empty allowed_users list
// accepts actions from anyone in the configured chats.
func NewTelegramChannel(cfg config.TelegramConfig) *TelegramChannel {
	allowed := make(map[int64]bool, len(cfg.AllowedUsers))
	for _, u := range cfg.AllowedUsers {
		allowed[u] = true
	}
	poll := cfg.PollTimeout
	if poll <= 0 {
		poll = 30 * time.Second
	}
	return &TelegramChannel{
		// Long polls hold the request open for pollTimeout.
		client:       &http.Client{Timeout: poll + 15*time.Second},
		baseURL:      strings.TrimRight(cfg.APIURL, "/"),
		token:        cfg.BotToken,
		chatIDs:      cfg.ChatIDs,
		allowedUsers: allowed,
		pollTimeout:  poll,
		sendGap:      telegramSendGap,
		policy:       bluemonday.StrictPolicy(),
		logger:       logging.WithComponent("telegram"),
		now:          time.Now,
	}
}

// Name returns the channel identifier.
func (c *TelegramChannel) Name() string { return "telegram" }

type inlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

type inlineKeyboard struct {
	InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
}

type sendPhotoRequest struct {
	ChatID      int64           `json:"chat_id"`
	Photo       string          `json:"photo"`
	Caption     string          `json:"caption,omitempty"`
	ParseMode   string          `json:"parse_mode,omitempty"`
	ReplyMarkup *inlineKeyboard `json:"reply_markup,omitempty"`
}

type sendMessageRequest struct {
	ChatID                int64           `json:"chat_id"`
	Text                  string          `json:"text"`
	ParseMode             string          `json:"parse_mode,omitempty"`
	DisableWebPagePreview bool            `json:"disable_web_page_preview,omitempty"`
	ReplyMarkup           *inlineKeyboard `json:"reply_markup,omitempty"`
}

type answerCallbackRequest struct {
	CallbackQueryID string `json:"callback_query_id"`
	Text            string `json:"text,omitempty"`
}

type getUpdatesRequest struct {
	Offset         int64    `json:"offset,omitempty"`
	Timeout        int      `json:"timeout"`
	AllowedUpdates []string `json:"allowed_updates"`
}

type telegramResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after,omitempty"`
	} `json:"parameters,omitempty"`
}

type telegramUser struct {
	ID int64 `json:"id"`
}

type telegramChat struct {
	ID int64 `json:"id"`
}

type telegramMessage struct {
	MessageID int64         `json:"message_id"`
	From      *telegramUser `json:"from,omitempty"`
	Chat      telegramChat  `json:"chat"`
	Text      string        `json:"text,omitempty"`
}

type telegramUpdate struct {
	UpdateID      int64            `json:"update_id"`
	Message       *telegramMessage `json:"message,omitempty"`
	CallbackQuery *struct {
		ID      string           `json:"id"`
		From    telegramUser     `json:"from"`
		Message *telegramMessage `json:"message,omitempty"`
		Data    string           `json:"data"`
	} `json:"callback_query,omitempty"`
}

// APIError is a Telegram API error response.
type APIError struct {
	Method      string
	Code        int
	Description string
	RetryAfter  time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s: %d %s", e.Method, e.Code, e.Description)
}

// call invokes a Bot API method, waiting out flood control up to
// telegramMaxRetries times.
func (c *TelegramChannel) call(ctx context.Context, method string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telegram %s: encode: %w", method, err)
	}

	for attempt := 0; ; attempt++ {
		err = c.callOnce(ctx, method, body, out)
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.Code != http.StatusTooManyRequests || attempt >= telegramMaxRetries {
			return err
		}
		wait := apiErr.RetryAfter + time.Second
		c.logger.Info().Dur("wait", wait).Str("method", method).Msg("Flood control, waiting")
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *TelegramChannel) callOnce(ctx context.Context, method string, body []byte, out interface{}) error {
	reqURL := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram %s: create request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		// The URL carries the bot token; keep it out of the error.
		var urlErr interface{ Unwrap() error }
		if errors.As(err, &urlErr) {
			err = urlErr.Unwrap()
		}
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("telegram %s: read response: %w", method, err)
	}
	var apiResp telegramResponse
	if err := json.Unmarshal(raw, &apiResp); err != nil {
		return fmt.Errorf("telegram %s: parse response (HTTP %d): %w", method, resp.StatusCode, err)
	}
	if !apiResp.OK {
		apiErr := &APIError{Method: method, Code: apiResp.ErrorCode, Description: apiResp.Description}
		if apiResp.Parameters != nil {
			apiErr.RetryAfter = time.Duration(apiResp.Parameters.RetryAfter) * time.Second
		}
		return apiErr
	}
	if out != nil && len(apiResp.Result) > 0 {
		if err := json.Unmarshal(apiResp.Result, out); err != nil {
			return fmt.Errorf("telegram %s: decode result: %w", method, err)
		}
	}
	return nil
}

// Send posts one photo per candidate to every chat. A photo the API refuses
// falls back to a text message with the link. A work counts as delivered
// once any chat received it.
func (c *TelegramChannel) Send(ctx context.Context, cands []models.Candidate) ([]int64, error) {
	var (
		delivered []int64
		errs      []error
	)
	for i, cand := range cands {
		if i > 0 && c.sendGap > 0 {
			select {
			case <-time.After(c.sendGap):
			case <-ctx.Done():
				return delivered, errors.Join(append(errs, ctx.Err())...)
			}
		}
		caption := c.Caption(cand)
		keyboard := keyboardFor([][]Button{FeedbackButtons(cand.WorkID)})
		shown := false
		for _, chat := range c.chatIDs {
			if err := c.sendWork(ctx, chat, cand, caption, keyboard); err != nil {
				errs = append(errs, fmt.Errorf("work %d to chat %d: %w", cand.WorkID, chat, err))
				continue
			}
			shown = true
		}
		if shown {
			delivered = append(delivered, cand.WorkID)
		}
	}
	return delivered, errors.Join(errs...)
}

func (c *TelegramChannel) sendWork(ctx context.Context, chat int64, cand models.Candidate, caption string, kb *inlineKeyboard) error {
	if cand.ImageURL != "" {
		err := c.call(ctx, "sendPhoto", sendPhotoRequest{
			ChatID:      chat,
			Photo:       proxyImage(cand.ImageURL),
			Caption:     truncate(caption, telegramCaptionLimit),
			ParseMode:   "HTML",
			ReplyMarkup: kb,
		}, nil)
		var apiErr *APIError
		if err == nil || !errors.As(err, &apiErr) || apiErr.Code != http.StatusBadRequest {
			return err
		}
		c.logger.Debug().Err(err).Int64("work_id", cand.WorkID).Msg("Photo refused, sending text")
	}
	return c.call(ctx, "sendMessage", sendMessageRequest{
		ChatID:      chat,
		Text:        truncate(caption, telegramMessageLimit),
		ParseMode:   "HTML",
		ReplyMarkup: kb,
	}, nil)
}

// SendText posts a notice to every chat.
func (c *TelegramChannel) SendText(ctx context.Context, text string, buttons [][]Button) error {
	var errs []error
	for _, chat := range c.chatIDs {
		err := c.call(ctx, "sendMessage", sendMessageRequest{
			ChatID:                chat,
			Text:                  truncate(c.policy.Sanitize(text), telegramMessageLimit),
			ParseMode:             "HTML",
			DisableWebPagePreview: true,
			ReplyMarkup:           keyboardFor(buttons),
		}, nil)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Caption renders a work as Telegram HTML. Upstream text is sanitized with a
// strict policy, so titles and tags cannot inject markup.
func (c *TelegramChannel) Caption(cand models.Candidate) string {
	var b strings.Builder
	if cand.R18 {
		b.WriteString("🔞 ")
	}
	fmt.Fprintf(&b, "🎨 <b>%s</b>", c.policy.Sanitize(cand.Title))
	if cand.PageCount > 1 {
		fmt.Fprintf(&b, " (%dP)", cand.PageCount)
	}
	b.WriteByte('\n')
	fmt.Fprintf(&b, "👤 <a href=\"%s\">%s</a>\n", fmt.Sprintf(ArtistURL, cand.ArtistID), c.policy.Sanitize(cand.ArtistName))
	fmt.Fprintf(&b, "❤️ %d", cand.Bookmarks)
	if cand.MatchScore > 0 {
		fmt.Fprintf(&b, " · 🎯 %.0f%%", cand.MatchScore*100)
	}
	if cand.Strategy != "" {
		fmt.Fprintf(&b, " · %s", cand.Strategy)
	}
	b.WriteByte('\n')
	if len(cand.Tags) > 0 {
		tags := cand.Tags
		if len(tags) > 6 {
			tags = tags[:6]
		}
		for i, t := range tags {
			if i > 0 {
				b.WriteByte(' ')
			}
			b.WriteString("#" + c.policy.Sanitize(strings.ReplaceAll(t, " ", "_")))
		}
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, WorkURL, cand.WorkID)
	return b.String()
}

func keyboardFor(rows [][]Button) *inlineKeyboard {
	var kb [][]inlineButton
	for _, row := range rows {
		var r []inlineButton
		for _, btn := range row {
			if btn.Data == "" {
				continue
			}
			r = append(r, inlineButton{Text: btn.Label, CallbackData: btn.Data})
		}
		if len(r) > 0 {
			kb = append(kb, r)
		}
	}
	if len(kb) == 0 {
		return nil
	}
	return &inlineKeyboard{InlineKeyboard: kb}
}

// proxyImage rewrites the source image host to a public mirror. The source
// refuses hotlinks without its referer, so Telegram cannot fetch it directly.
func proxyImage(u string) string {
	return strings.Replace(u, "i.pximg.net", imageProxyHost, 1)
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// Listen long-polls for updates and forwards callbacks and commands to sink.
func (c *TelegramChannel) Listen(ctx context.Context, sink Sink) error {
	var offset int64
	backoff := time.Second

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var updates []telegramUpdate
		err := c.call(ctx, "getUpdates", getUpdatesRequest{
			Offset:         offset,
			Timeout:        int(c.pollTimeout / time.Second),
			AllowedUpdates: []string{"message", "callback_query"},
		}, &updates)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn().Err(err).Dur("retry_in", backoff).Msg("Polling failed")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff = min(backoff*2, time.Minute)
			continue
		}
		backoff = time.Second

		for i := range updates {
			u := &updates[i]
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			c.handleUpdate(ctx, sink, u)
		}
	}
}

func (c *TelegramChannel) allowed(user int64) bool {
	return len(c.allowedUsers) == 0 || c.allowedUsers[user]
}

func (c *TelegramChannel) handleUpdate(ctx context.Context, sink Sink, u *telegramUpdate) {
	eventID := "tg:" + strconv.FormatInt(u.UpdateID, 10)
	at := c.now()

	switch {
	case u.CallbackQuery != nil:
		q := u.CallbackQuery
		if !c.allowed(q.From.ID) {
			c.answer(ctx, q.ID, "Not allowed")
			return
		}
		act, err := ParseCallback(q.Data, eventID, c.Name(), at)
		if err != nil {
			c.logger.Debug().Err(err).Msg("Ignoring callback")
			c.answer(ctx, q.ID, "")
			return
		}
		c.answer(ctx, q.ID, c.dispatch(ctx, sink, act))

	case u.Message != nil && u.Message.Text != "":
		m := u.Message
		if m.From == nil || !c.allowed(m.From.ID) {
			return
		}
		act, ok, err := ParseCommand(m.Text, eventID, c.Name(), at)
		if !ok {
			return
		}
		reply := ""
		if err != nil {
			reply = "⚠️ " + err.Error()
		} else {
			reply = c.dispatch(ctx, sink, act)
		}
		if err := c.call(ctx, "sendMessage", sendMessageRequest{
			ChatID: m.Chat.ID,
			Text:   c.policy.Sanitize(reply),
		}, nil); err != nil {
			c.logger.Warn().Err(err).Msg("Reply failed")
		}
	}
}

func (c *TelegramChannel) dispatch(ctx context.Context, sink Sink, act Action) string {
	if err := Dispatch(ctx, sink, act); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to forward user action")
		return "⚠️ Temporarily unavailable, try again"
	}
	return Acknowledgement(act)
}

func (c *TelegramChannel) answer(ctx context.Context, id, text string) {
	if err := c.call(ctx, "answerCallbackQuery", answerCallbackRequest{CallbackQueryID: id, Text: text}, nil); err != nil {
		c.logger.Debug().Err(err).Msg("answerCallbackQuery failed")
	}
}
