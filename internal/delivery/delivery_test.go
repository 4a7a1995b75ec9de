// XPFeed - Taste-profile driven artwork discovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/xpfeed

package delivery

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tomtom215/xpfeed/internal/config"
	"github.com/tomtom215/xpfeed/internal/metrics"
	"github.com/tomtom215/xpfeed/internal/models"
)

var testTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type recordingSink struct {
	feedback chan models.FeedbackEvent
	blocks   chan models.BlockCommand
	err      error
}

func newRecordingSink() *recordingSink {
	return &recordingSink{
		feedback: make(chan models.FeedbackEvent, 16),
		blocks:   make(chan models.BlockCommand, 16),
	}
}

func (s *recordingSink) PublishFeedback(_ context.Context, ev models.FeedbackEvent) error {
	if s.err != nil {
		return s.err
	}
	s.feedback <- ev
	return nil
}

func (s *recordingSink) PublishBlock(_ context.Context, cmd models.BlockCommand) error {
	if s.err != nil {
		return s.err
	}
	s.blocks <- cmd
	return nil
}

type fakeChannel struct {
	name string
	err  error
	// failFrom is the first work id that fails when err is set; zero fails
	// everything.
	failFrom int64

	mu    sync.Mutex
	sent  []models.Candidate
	texts []string
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Send(_ context.Context, cands []models.Candidate) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []int64
	for _, c := range cands {
		if f.err != nil && c.WorkID >= f.failFrom {
			continue
		}
		f.sent = append(f.sent, c)
		ids = append(ids, c.WorkID)
	}
	return ids, f.err
}

func (f *fakeChannel) SendText(_ context.Context, text string, _ [][]Button) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return f.err
}

func (f *fakeChannel) Listen(ctx context.Context, _ Sink) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestParseCallback(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		data        string
		wantErr     bool
		wantAction  models.FeedbackAction
		wantWork    int64
		wantBlock   bool
		wantConfirm bool
		wantSubject string
	}{
		{name: "like", data: FeedbackData(models.ActionLike, 123), wantAction: models.ActionLike, wantWork: 123},
		{name: "dislike", data: "fb:dislike:9", wantAction: models.ActionDislike, wantWork: 9},
		{name: "block artist", data: "fb:block:77", wantAction: models.ActionBlock, wantWork: 77},
		{name: "confirm tag", data: BlockData(true, models.SubjectTag, "guro"), wantBlock: true, wantConfirm: true, wantSubject: "guro"},
		{name: "dismiss subject with colon", data: "blk:dismiss:tag:re:zero", wantBlock: true, wantSubject: "re:zero"},
		{name: "unknown action", data: "fb:love:1", wantErr: true},
		{name: "bad id", data: "fb:like:abc", wantErr: true},
		{name: "zero id", data: "fb:like:0", wantErr: true},
		{name: "bad kind", data: "blk:confirm:user:x", wantErr: true},
		{name: "bad verb", data: "blk:maybe:tag:x", wantErr: true},
		{name: "garbage", data: "hello", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			act, err := ParseCallback(tt.data, "tg:1", "telegram", testTime)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseCallback(%q) expected error", tt.data)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseCallback(%q): %v", tt.data, err)
			}
			if tt.wantBlock {
				if act.Block == nil {
					t.Fatalf("expected block command, got %+v", act)
				}
				if act.Block.Confirm != tt.wantConfirm || act.Block.Subject != tt.wantSubject {
					t.Errorf("block = %+v", *act.Block)
				}
				return
			}
			if act.Feedback == nil {
				t.Fatalf("expected feedback event, got %+v", act)
			}
			ev := act.Feedback
			if ev.Action != tt.wantAction || ev.WorkID != tt.wantWork {
				t.Errorf("feedback = %+v, want %s %d", *ev, tt.wantAction, tt.wantWork)
			}
			if ev.ID != "tg:1" || ev.Channel != "telegram" || !ev.At.Equal(testTime) {
				t.Errorf("event metadata = %+v", *ev)
			}
		})
	}
}

func TestParseCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		text       string
		wantOK     bool
		wantErr    bool
		wantAction models.FeedbackAction
		wantWork   int64
		wantBlock  *models.BlockCommand
	}{
		{name: "numeric like", text: "123 1", wantOK: true, wantAction: models.ActionLike, wantWork: 123},
		{name: "numeric dislike", text: " 123  2 ", wantOK: true, wantAction: models.ActionDislike, wantWork: 123},
		{name: "numeric block", text: "55 3", wantOK: true, wantAction: models.ActionBlock, wantWork: 55},
		{name: "numeric unknown", text: "55 4", wantOK: true, wantErr: true},
		{name: "slash like", text: "/like 88", wantOK: true, wantAction: models.ActionLike, wantWork: 88},
		{name: "slash with bot name", text: "/dislike@xpfeed_bot 88", wantOK: true, wantAction: models.ActionDislike, wantWork: 88},
		{name: "slash bad id", text: "/like abc", wantOK: true, wantErr: true},
		{
			name:      "confirm multiword",
			text:      "/confirm tag blue archive",
			wantOK:    true,
			wantBlock: &models.BlockCommand{Kind: models.SubjectTag, Subject: "blue archive", Confirm: true, Channel: "onebot"},
		},
		{
			name:      "dismiss artist",
			text:      "/dismiss artist 4242",
			wantOK:    true,
			wantBlock: &models.BlockCommand{Kind: models.SubjectArtist, Subject: "4242", Channel: "onebot"},
		},
		{name: "confirm bad kind", text: "/confirm user x", wantOK: true, wantErr: true},
		{name: "chatter", text: "nice picture", wantOK: false},
		{name: "single word", text: "/like", wantOK: false},
		{name: "unknown command", text: "/start now", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			act, ok, err := ParseCommand(tt.text, "ob:1", "onebot", testTime)
			if ok != tt.wantOK {
				t.Fatalf("ParseCommand(%q) ok = %v, want %v", tt.text, ok, tt.wantOK)
			}
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseCommand(%q) err = %v, wantErr %v", tt.text, err, tt.wantErr)
			}
			if !ok || err != nil {
				return
			}
			if tt.wantBlock != nil {
				if act.Block == nil || *act.Block != *tt.wantBlock {
					t.Errorf("block = %+v, want %+v", act.Block, *tt.wantBlock)
				}
				return
			}
			if act.Feedback == nil || act.Feedback.Action != tt.wantAction || act.Feedback.WorkID != tt.wantWork {
				t.Errorf("feedback = %+v, want %s %d", act.Feedback, tt.wantAction, tt.wantWork)
			}
		})
	}
}

func TestBlockButtonsTooLong(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", 60)
	if got := BlockData(true, models.SubjectTag, long); got != "" {
		t.Errorf("BlockData() = %q, want empty for oversized payload", got)
	}
	if got := BlockButtons(models.SubjectTag, long); got != nil {
		t.Errorf("BlockButtons() = %v, want nil", got)
	}
	if got := BlockButtons(models.SubjectTag, "guro"); len(got) != 2 {
		t.Errorf("BlockButtons() returned %d buttons, want 2", len(got))
	}
}

func TestCommandHint(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"fb:like:12":            "/like 12",
		"blk:confirm:tag:guro":  "/confirm tag guro",
		"blk:dismiss:artist:77": "/dismiss artist 77",
		"other":                 "",
	}
	for data, want := range tests {
		if got := commandHint(data); got != want {
			t.Errorf("commandHint(%q) = %q, want %q", data, got, want)
		}
	}
}

func TestFanoutDeliver(t *testing.T) {
	// Not parallel: asserts on shared counters.
	cands := []models.Candidate{{WorkID: 1}, {WorkID: 2}}

	t.Run("partial failure succeeds", func(t *testing.T) {
		ok := &fakeChannel{name: "fanout-ok"}
		bad := &fakeChannel{name: "fanout-bad", err: errors.New("down")}
		before := testutil.ToFloat64(metrics.DeliveryAttempts.WithLabelValues("fanout-bad", "failure"))

		ids, err := NewFanout(ok, bad).Deliver(context.Background(), cands)
		if err != nil {
			t.Fatalf("Deliver() = %v, want nil with one healthy channel", err)
		}
		if len(ids) != 2 {
			t.Errorf("delivered = %v, want both works", ids)
		}
		if len(ok.sent) != 2 {
			t.Errorf("healthy channel got %d candidates, want 2", len(ok.sent))
		}
		after := testutil.ToFloat64(metrics.DeliveryAttempts.WithLabelValues("fanout-bad", "failure"))
		if after-before != 1 {
			t.Errorf("failure counter delta = %v, want 1", after-before)
		}
	})

	t.Run("all fail", func(t *testing.T) {
		bad := &fakeChannel{name: "fanout-bad", err: errors.New("down")}
		ids, err := NewFanout(bad).Deliver(context.Background(), cands)
		if !errors.Is(err, ErrNoChannelDelivered) {
			t.Fatalf("Deliver() = %v, want ErrNoChannelDelivered", err)
		}
		if len(ids) != 0 {
			t.Errorf("delivered = %v, want none", ids)
		}
	})

	t.Run("channel stops halfway", func(t *testing.T) {
		half := &fakeChannel{name: "fanout-half", err: errors.New("timeout"), failFrom: 3}
		batch := []models.Candidate{{WorkID: 1}, {WorkID: 2}, {WorkID: 3}}
		ids, err := NewFanout(half).Deliver(context.Background(), batch)
		if !errors.Is(err, ErrNoChannelDelivered) {
			t.Fatalf("Deliver() = %v, want ErrNoChannelDelivered", err)
		}
		if len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
			t.Errorf("delivered = %v, want [1 2]", ids)
		}
		if got := Shown(batch, ids); len(got) != 2 || got[1].WorkID != 2 {
			t.Errorf("Shown() = %v", got)
		}
	})

	t.Run("no channels", func(t *testing.T) {
		ids, err := NewFanout().Deliver(context.Background(), cands)
		if err != nil {
			t.Fatalf("Deliver() = %v, want nil", err)
		}
		if len(ids) != 2 {
			t.Errorf("delivered = %v, want every candidate recorded", ids)
		}
	})
}

func TestTelegramSendReportsShownWorks(t *testing.T) {
	t.Parallel()

	_, srv := newTelegramServer(t, func(method string, body map[string]interface{}) string {
		if caption, _ := body["caption"].(string); strings.Contains(caption, "artworks/3") {
			return `{"ok":false,"error_code":500,"description":"Internal Server Error"}`
		}
		return ""
	})
	ch := newTestTelegram(srv.URL)

	cands := []models.Candidate{
		{WorkID: 1, ImageURL: "https://i.pximg.net/1.jpg"},
		{WorkID: 2, ImageURL: "https://i.pximg.net/2.jpg"},
		{WorkID: 3, ImageURL: "https://i.pximg.net/3.jpg"},
	}
	ids, err := ch.Send(context.Background(), cands)
	if err == nil || !strings.Contains(err.Error(), "work 3") {
		t.Fatalf("Send() = %v, want error for work 3", err)
	}
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Errorf("delivered = %v, want [1 2]", ids)
	}
}

func TestFanoutAnnounceBlocks(t *testing.T) {
	t.Parallel()

	ch := &fakeChannel{name: "announce"}
	NewFanout(ch).AnnounceBlocks(context.Background(), []models.BlockEntry{
		{Kind: models.SubjectTag, Subject: "guro", Score: 5, State: models.BlockPendingConfirmation},
		{Kind: models.SubjectTag, Subject: "done", State: models.BlockBlocked},
	})
	if len(ch.texts) != 1 || !strings.Contains(ch.texts[0], "guro") {
		t.Errorf("announcements = %v, want one for the pending entry", ch.texts)
	}
}

// telegramServer fakes the Bot API, recording every call.
type telegramServer struct {
	t       *testing.T
	mu      sync.Mutex
	calls   []string
	bodies  map[string][]map[string]interface{}
	handler func(method string, body map[string]interface{}) string
}

func newTelegramServer(t *testing.T, handler func(method string, body map[string]interface{}) string) (*telegramServer, *httptest.Server) {
	ts := &telegramServer{t: t, bodies: map[string][]map[string]interface{}{}, handler: handler}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/botTOKEN/") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		method := strings.TrimPrefix(r.URL.Path, "/botTOKEN/")
		raw, _ := io.ReadAll(r.Body)
		var body map[string]interface{}
		_ = json.Unmarshal(raw, &body)

		ts.mu.Lock()
		ts.calls = append(ts.calls, method)
		ts.bodies[method] = append(ts.bodies[method], body)
		ts.mu.Unlock()

		resp := ts.handler(method, body)
		if resp == "" {
			resp = `{"ok":true,"result":{}}`
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, resp)
	}))
	t.Cleanup(srv.Close)
	return ts, srv
}

func (ts *telegramServer) count(method string) int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.bodies[method])
}

func newTestTelegram(url string) *TelegramChannel {
	ch := NewTelegramChannel(config.TelegramConfig{
		BotToken:     "TOKEN",
		ChatIDs:      []int64{42},
		AllowedUsers: []int64{7},
		APIURL:       url,
		PollTimeout:  time.Second,
	})
	ch.sendGap = 0
	ch.now = func() time.Time { return testTime }
	return ch
}

func TestTelegramSend(t *testing.T) {
	t.Parallel()

	ts, srv := newTelegramServer(t, func(string, map[string]interface{}) string { return "" })
	ch := newTestTelegram(srv.URL)

	cand := models.Candidate{
		WorkID:     100,
		ArtistID:   5,
		ArtistName: "artist",
		Title:      "<script>x</script>Sunset",
		Tags:       []string{"landscape", "blue sky"},
		Bookmarks:  1500,
		ImageURL:   "https://i.pximg.net/img-master/100.jpg",
		MatchScore: 0.5,
	}
	ids, err := ch.Send(context.Background(), []models.Candidate{cand})
	if err != nil {
		t.Fatalf("Send() = %v", err)
	}
	if len(ids) != 1 || ids[0] != 100 {
		t.Errorf("delivered = %v, want [100]", ids)
	}
	if ts.count("sendPhoto") != 1 {
		t.Fatalf("sendPhoto calls = %d, want 1", ts.count("sendPhoto"))
	}
	ts.mu.Lock()
	body := ts.bodies["sendPhoto"][0]
	ts.mu.Unlock()
	if body["photo"] != "https://i.pixiv.cat/img-master/100.jpg" {
		t.Errorf("photo = %v, want proxied URL", body["photo"])
	}
	caption, _ := body["caption"].(string)
	if strings.Contains(caption, "<script>") {
		t.Errorf("caption not sanitized: %q", caption)
	}
	for _, want := range []string{"Sunset", "#blue_sky", "50%", "artworks/100"} {
		if !strings.Contains(caption, want) {
			t.Errorf("caption missing %q: %q", want, caption)
		}
	}
	markup, _ := body["reply_markup"].(map[string]interface{})
	rows, _ := markup["inline_keyboard"].([]interface{})
	if len(rows) != 1 {
		t.Fatalf("inline keyboard rows = %d, want 1", len(rows))
	}
	if n := len(rows[0].([]interface{})); n != 3 {
		t.Errorf("buttons = %d, want 3", n)
	}
}

func TestTelegramPhotoFallback(t *testing.T) {
	t.Parallel()

	ts, srv := newTelegramServer(t, func(method string, _ map[string]interface{}) string {
		if method == "sendPhoto" {
			return `{"ok":false,"error_code":400,"description":"Bad Request: wrong file identifier"}`
		}
		return ""
	})
	ch := newTestTelegram(srv.URL)

	_, err := ch.Send(context.Background(), []models.Candidate{{WorkID: 1, ImageURL: "https://i.pximg.net/1.jpg"}})
	if err != nil {
		t.Fatalf("Send() = %v", err)
	}
	if ts.count("sendMessage") != 1 {
		t.Errorf("sendMessage calls = %d, want 1 fallback", ts.count("sendMessage"))
	}
}

func TestTelegramFloodControl(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	hits := 0
	ts, srv := newTelegramServer(t, func(method string, _ map[string]interface{}) string {
		mu.Lock()
		defer mu.Unlock()
		hits++
		if hits == 1 {
			return `{"ok":false,"error_code":429,"description":"Too Many Requests","parameters":{"retry_after":0}}`
		}
		return ""
	})
	ch := newTestTelegram(srv.URL)

	if err := ch.SendText(context.Background(), "report", nil); err != nil {
		t.Fatalf("SendText() = %v", err)
	}
	if ts.count("sendMessage") != 2 {
		t.Errorf("sendMessage calls = %d, want 2", ts.count("sendMessage"))
	}
}

func TestTelegramListen(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	served := false
	ts, srv := newTelegramServer(t, func(method string, _ map[string]interface{}) string {
		if method != "getUpdates" {
			return ""
		}
		mu.Lock()
		defer mu.Unlock()
		if served {
			return `{"ok":true,"result":[]}`
		}
		served = true
		return `{"ok":true,"result":[
			{"update_id":10,"callback_query":{"id":"q1","from":{"id":7},"data":"fb:like:123"}},
			{"update_id":11,"callback_query":{"id":"q2","from":{"id":99},"data":"fb:like:456"}},
			{"update_id":12,"message":{"message_id":3,"from":{"id":7},"chat":{"id":42},"text":"/confirm tag guro"}}
		]}`
	})
	ch := newTestTelegram(srv.URL)
	sink := newRecordingSink()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ch.Listen(ctx, sink) }()

	select {
	case ev := <-sink.feedback:
		if ev.WorkID != 123 || ev.Action != models.ActionLike || ev.ID != "tg:10" {
			t.Errorf("feedback = %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no feedback received")
	}
	select {
	case cmd := <-sink.blocks:
		if !cmd.Confirm || cmd.Subject != "guro" {
			t.Errorf("block = %+v", cmd)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no block command received")
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Listen() = %v, want context.Canceled", err)
	}

	select {
	case ev := <-sink.feedback:
		t.Errorf("feedback from disallowed user forwarded: %+v", ev)
	default:
	}
	if ts.count("answerCallbackQuery") != 2 {
		t.Errorf("answerCallbackQuery calls = %d, want 2", ts.count("answerCallbackQuery"))
	}
}

// onebotServer fakes a OneBot v11 forward WebSocket.
type onebotServer struct {
	mu      sync.Mutex
	actions []map[string]interface{}
	fail    map[string]bool
	events  []string
	auth    string
}

func (s *onebotServer) handler(t *testing.T) http.HandlerFunc {
	upgrader := websocket.Upgrader{}
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.auth = r.Header.Get("Authorization")
		events := s.events
		s.events = nil
		s.mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		for _, ev := range events {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(ev)); err != nil {
				return
			}
		}
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var act map[string]interface{}
			if err := json.Unmarshal(raw, &act); err != nil {
				continue
			}
			name, _ := act["action"].(string)
			s.mu.Lock()
			s.actions = append(s.actions, act)
			failed := s.fail[name]
			s.mu.Unlock()

			resp := map[string]interface{}{"status": "ok", "retcode": 0, "echo": act["echo"]}
			if failed {
				resp = map[string]interface{}{"status": "failed", "retcode": 1404, "msg": "unsupported", "echo": act["echo"]}
			}
			out, _ := json.Marshal(resp)
			if err := conn.WriteMessage(websocket.TextMessage, out); err != nil {
				return
			}
		}
	}
}

func (s *onebotServer) actionNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.actions))
	for i, a := range s.actions {
		names[i], _ = a["action"].(string)
	}
	return names
}

func newTestOneBot(t *testing.T, s *onebotServer) *OneBotChannel {
	srv := httptest.NewServer(s.handler(t))
	t.Cleanup(srv.Close)
	ch := NewOneBotChannel(config.OneBotConfig{
		WSURL:         "ws" + strings.TrimPrefix(srv.URL, "http"),
		AccessToken:   "secret",
		PrivateID:     1001,
		PushToPrivate: true,
		MasterID:      1001,
	})
	ch.now = func() time.Time { return testTime }
	ch.reconnectDelay = 10 * time.Millisecond
	return ch
}

func TestOneBotSendForward(t *testing.T) {
	t.Parallel()

	s := &onebotServer{}
	ch := newTestOneBot(t, s)

	cands := []models.Candidate{{WorkID: 1, Title: "a"}, {WorkID: 2, Title: "b"}}
	ids, err := ch.Send(context.Background(), cands)
	if err != nil {
		t.Fatalf("Send() = %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("delivered = %v, want both works", ids)
	}
	names := s.actionNames()
	if len(names) != 1 || names[0] != "send_private_forward_msg" {
		t.Fatalf("actions = %v, want one forward message", names)
	}
	s.mu.Lock()
	auth := s.auth
	params, _ := s.actions[0]["params"].(map[string]interface{})
	s.mu.Unlock()
	if auth != "Bearer secret" {
		t.Errorf("Authorization = %q", auth)
	}
	if params["user_id"] != float64(1001) {
		t.Errorf("user_id = %v", params["user_id"])
	}
	if nodes, _ := params["messages"].([]interface{}); len(nodes) != 2 {
		t.Errorf("forward nodes = %d, want 2", len(nodes))
	}
}

func TestOneBotSendFallsBackToSingleMessages(t *testing.T) {
	t.Parallel()

	s := &onebotServer{fail: map[string]bool{"send_private_forward_msg": true}}
	ch := newTestOneBot(t, s)

	cands := []models.Candidate{{WorkID: 1}, {WorkID: 2}}
	if _, err := ch.Send(context.Background(), cands); err != nil {
		t.Fatalf("Send() = %v", err)
	}
	want := []string{"send_private_forward_msg", "send_private_msg", "send_private_msg"}
	got := s.actionNames()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("actions = %v, want %v", got, want)
	}
}

func TestOneBotListen(t *testing.T) {
	t.Parallel()

	s := &onebotServer{events: []string{
		`{"post_type":"message","message_type":"private","message_id":5,"user_id":2002,"raw_message":"123 1"}`,
		`{"post_type":"meta_event","meta_event_type":"heartbeat"}`,
		`{"post_type":"message","message_type":"private","message_id":6,"user_id":1001,"raw_message":"123 2"}`,
	}}
	ch := newTestOneBot(t, s)
	sink := newRecordingSink()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = ch.Listen(ctx, sink) }()

	select {
	case ev := <-sink.feedback:
		if ev.WorkID != 123 || ev.Action != models.ActionDislike || ev.ID != "ob:6" || ev.Channel != "onebot" {
			t.Errorf("feedback = %+v, want dislike from master only", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no feedback received")
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if names := s.actionNames(); len(names) > 0 {
			if names[0] != "send_private_msg" {
				t.Errorf("reply action = %s, want send_private_msg", names[0])
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("no acknowledgement sent")
}

func TestOneBotMessage(t *testing.T) {
	t.Parallel()

	msg := Message(models.Candidate{
		WorkID:    42,
		Title:     "[x]&y",
		Tags:      []string{"a", "b", "c", "d", "e", "f"},
		PageCount: 3,
		ImageURL:  "https://i.pximg.net/42.jpg",
	})
	for _, want := range []string{"[CQ:image,file=https://i.pixiv.cat/42.jpg]", "&#91;x&#93;&amp;y", "(3P)", "pixiv.net/i/42", "\"42 1\""} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
	if strings.Contains(msg, "#f") {
		t.Errorf("message should carry at most 5 tags:\n%s", msg)
	}
}
