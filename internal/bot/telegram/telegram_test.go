package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/zulandar/callsheet/internal/bot"
)

// --- Mock Bot API ---

type mockAPI struct {
	mu        sync.Mutex
	sent      []tgbotapi.Chattable
	requests  []tgbotapi.Chattable
	sendErr   error
	batches   chan []tgbotapi.Update
	offsets   []int
	updateErr error
	fileURL   string
}

func newMockAPI() *mockAPI {
	return &mockAPI{batches: make(chan []tgbotapi.Update, 10)}
}

func (m *mockAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return tgbotapi.Message{}, m.sendErr
	}
	m.sent = append(m.sent, c)
	return tgbotapi.Message{MessageID: len(m.sent)}, nil
}

func (m *mockAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (m *mockAPI) GetUpdates(cfg tgbotapi.UpdateConfig) ([]tgbotapi.Update, error) {
	m.mu.Lock()
	m.offsets = append(m.offsets, cfg.Offset)
	err := m.updateErr
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	select {
	case b := <-m.batches:
		return b, nil
	case <-time.After(10 * time.Millisecond):
		return nil, nil
	}
}

func (m *mockAPI) GetFileDirectURL(fileID string) (string, error) {
	if m.fileURL == "" {
		return "", fmt.Errorf("file %s not found", fileID)
	}
	return m.fileURL + "/" + fileID, nil
}

func (m *mockAPI) HandleUpdate(r *http.Request) (*tgbotapi.Update, error) {
	if r.Method != http.MethodPost {
		return nil, fmt.Errorf("wrong HTTP method required POST")
	}
	var u tgbotapi.Update
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (m *mockAPI) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *mockAPI) lastSent() tgbotapi.Chattable {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent[len(m.sent)-1]
}

func (m *mockAPI) lastRequest() tgbotapi.Chattable {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[len(m.requests)-1]
}

// --- Helpers ---

func newTestAdapter(t *testing.T, opts AdapterOpts) (*Adapter, *mockAPI) {
	t.Helper()
	api := newMockAPI()
	opts.API = api
	a, err := New(opts)
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	a.baseBackoff = time.Millisecond
	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a, api
}

func receive(t *testing.T, ch <-chan bot.Event) bot.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for inbound event")
	}
	return bot.Event{}
}

func alice() *tgbotapi.User {
	return &tgbotapi.User{ID: 100, FirstName: "Alice", UserName: "alice"}
}

func textUpdate(id int, text string) tgbotapi.Update {
	return tgbotapi.Update{
		UpdateID: id,
		Message: &tgbotapi.Message{
			MessageID: id,
			From:      alice(),
			Chat:      &tgbotapi.Chat{ID: 100},
			Date:      1700000000,
			Text:      text,
		},
	}
}

// --- New / Connect tests ---

func TestNew_RequiresToken(t *testing.T) {
	_, err := New(AdapterOpts{})
	if err == nil || !strings.Contains(err.Error(), "token") {
		t.Fatalf("expected token error, got %v", err)
	}
}

func TestConnect_PollingDeletesWebhook(t *testing.T) {
	_, api := newTestAdapter(t, AdapterOpts{})
	if _, ok := api.lastRequest().(tgbotapi.DeleteWebhookConfig); !ok {
		t.Errorf("last request = %T, want DeleteWebhookConfig", api.lastRequest())
	}
}

func TestConnect_SetsWebhook(t *testing.T) {
	_, api := newTestAdapter(t, AdapterOpts{WebhookURL: "https://bot.example.com/telegram"})
	wh, ok := api.lastRequest().(tgbotapi.WebhookConfig)
	if !ok {
		t.Fatalf("last request = %T, want WebhookConfig", api.lastRequest())
	}
	if wh.URL.String() != "https://bot.example.com/telegram" {
		t.Errorf("webhook url = %s", wh.URL)
	}
}

func TestConnect_AlreadyClosed(t *testing.T) {
	a, err := New(AdapterOpts{API: newMockAPI()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	a.Close()
	if err := a.Connect(context.Background()); err == nil {
		t.Fatal("expected error connecting closed adapter")
	}
}

// --- Polling tests ---

func TestListen_NotConnected(t *testing.T) {
	a, err := New(AdapterOpts{API: newMockAPI()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := a.Listen(context.Background()); err == nil {
		t.Fatal("expected error when not connected")
	}
}

func TestPoll_DeliversAndAdvancesOffset(t *testing.T) {
	a, api := newTestAdapter(t, AdapterOpts{})
	ch, err := a.Listen(context.Background())
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	api.batches <- []tgbotapi.Update{textUpdate(7, "hello"), textUpdate(8, "/drivers@callsheet_bot")}

	ev := receive(t, ch)
	if ev.Kind != bot.KindText || ev.Text != "hello" || ev.SenderID != "100" || ev.ChatID != "100" {
		t.Errorf("first event = %+v", ev)
	}
	if ev.UserName != "alice" || ev.Timestamp.Unix() != 1700000000 {
		t.Errorf("name/time = %q/%v", ev.UserName, ev.Timestamp)
	}
	ev = receive(t, ch)
	if ev.Kind != bot.KindCommand || ev.Command != "drivers" {
		t.Errorf("second event = %+v, want drivers command", ev)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		api.mu.Lock()
		last := api.offsets[len(api.offsets)-1]
		api.mu.Unlock()
		if last == 9 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("offset never advanced to 9")
}

func TestPoll_RetriesAfterError(t *testing.T) {
	a, api := newTestAdapter(t, AdapterOpts{})
	api.updateErr = fmt.Errorf("bad gateway")
	ch, err := a.Listen(context.Background())
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	api.mu.Lock()
	api.updateErr = nil
	api.mu.Unlock()
	api.batches <- []tgbotapi.Update{textUpdate(1, "after outage")}

	if ev := receive(t, ch); ev.Text != "after outage" {
		t.Errorf("text = %q", ev.Text)
	}
}

func TestClose_ClosesInbound(t *testing.T) {
	a, _ := newTestAdapter(t, AdapterOpts{})
	ch, err := a.Listen(context.Background())
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("inbound not closed")
	}
}

// --- Conversion tests ---

func TestConvert_Voice(t *testing.T) {
	a, _ := newTestAdapter(t, AdapterOpts{})
	ev, ok := a.convert(tgbotapi.Update{Message: &tgbotapi.Message{
		From:  alice(),
		Chat:  &tgbotapi.Chat{ID: 100},
		Voice: &tgbotapi.Voice{FileID: "voice-1", FileUniqueID: "u1", MimeType: "audio/ogg", FileSize: 4096},
	}})
	if !ok || ev.Kind != bot.KindAudio {
		t.Fatalf("event = %+v, want audio", ev)
	}
	if ev.Attachment.ID != "voice-1" || !ev.Attachment.Voice || ev.Attachment.Size != 4096 {
		t.Errorf("attachment = %+v", ev.Attachment)
	}
}

func TestConvert_AudioDocument(t *testing.T) {
	a, _ := newTestAdapter(t, AdapterOpts{})
	ev, _ := a.convert(tgbotapi.Update{Message: &tgbotapi.Message{
		From:     alice(),
		Chat:     &tgbotapi.Chat{ID: 100},
		Caption:  "call with Bob",
		Document: &tgbotapi.Document{FileID: "doc-1", FileName: "call.mp3", MimeType: "application/octet-stream", FileSize: 10},
	}})
	if ev.Kind != bot.KindAudio || ev.Text != "call with Bob" {
		t.Errorf("event = %+v, want audio with caption", ev)
	}
}

func TestConvert_PlainDocument(t *testing.T) {
	a, _ := newTestAdapter(t, AdapterOpts{})
	ev, _ := a.convert(tgbotapi.Update{Message: &tgbotapi.Message{
		From:     alice(),
		Chat:     &tgbotapi.Chat{ID: 100},
		Document: &tgbotapi.Document{FileID: "doc-2", FileName: "cv.pdf", MimeType: "application/pdf"},
	}})
	if ev.Kind != bot.KindDocument || ev.Attachment == nil || ev.Attachment.ID != "doc-2" {
		t.Errorf("event = %+v, want document", ev)
	}
}

func TestConvert_Photo(t *testing.T) {
	a, _ := newTestAdapter(t, AdapterOpts{})
	ev, ok := a.convert(tgbotapi.Update{Message: &tgbotapi.Message{
		From:  alice(),
		Chat:  &tgbotapi.Chat{ID: 100},
		Photo: []tgbotapi.PhotoSize{{FileID: "p"}},
	}})
	if !ok || ev.Kind != bot.KindDocument || ev.Attachment != nil {
		t.Errorf("event = %+v, want attachment-less document", ev)
	}
}

func TestConvert_Callback(t *testing.T) {
	a, _ := newTestAdapter(t, AdapterOpts{})
	ev, ok := a.convert(tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cq-1",
		From:    alice(),
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: -5}},
		Data:    "select:d1",
	}})
	if !ok || ev.Kind != bot.KindCallback {
		t.Fatalf("event = %+v, want callback", ev)
	}
	if ev.CallbackID != "cq-1" || ev.CallbackData != "select:d1" || ev.ChatID != "-5" {
		t.Errorf("event = %+v", ev)
	}
}

func TestConvert_IgnoresBotsAndEdits(t *testing.T) {
	a, _ := newTestAdapter(t, AdapterOpts{})
	if _, ok := a.convert(tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: 1, IsBot: true},
		Chat: &tgbotapi.Chat{ID: 1},
		Text: "hi",
	}}); ok {
		t.Error("bot message should be ignored")
	}
	if _, ok := a.convert(tgbotapi.Update{EditedMessage: &tgbotapi.Message{From: alice(), Text: "x"}}); ok {
		t.Error("edited message should be ignored")
	}
}

func TestDisplayName(t *testing.T) {
	tests := []struct {
		user tgbotapi.User
		want string
	}{
		{tgbotapi.User{ID: 1, UserName: "nick", FirstName: "A"}, "nick"},
		{tgbotapi.User{ID: 1, FirstName: "Ann", LastName: "Lee"}, "Ann Lee"},
		{tgbotapi.User{ID: 42}, "42"},
	}
	for _, tt := range tests {
		if got := displayName(&tt.user); got != tt.want {
			t.Errorf("displayName(%+v) = %q, want %q", tt.user, got, tt.want)
		}
	}
}

// --- Send tests ---

func TestSend_TextWithButtons(t *testing.T) {
	a, api := newTestAdapter(t, AdapterOpts{})

	err := a.Send(context.Background(), bot.Reply{
		ChatID:  "100",
		Kind:    bot.ReplyButtons,
		Text:    "pick",
		Buttons: [][]bot.Button{{{Label: "Alice", Data: "select:d1"}}, {{Label: "❌ Cancel", Data: "cancel"}}},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	msg, ok := api.lastSent().(tgbotapi.MessageConfig)
	if !ok {
		t.Fatalf("sent %T, want MessageConfig", api.lastSent())
	}
	if msg.ChatID != 100 || msg.Text != "pick" {
		t.Errorf("message = %+v", msg)
	}
	kb, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	if !ok || len(kb.InlineKeyboard) != 2 {
		t.Fatalf("markup = %#v", msg.ReplyMarkup)
	}
	if *kb.InlineKeyboard[0][0].CallbackData != "select:d1" {
		t.Errorf("callback data = %q", *kb.InlineKeyboard[0][0].CallbackData)
	}
}

func TestSend_Document(t *testing.T) {
	a, api := newTestAdapter(t, AdapterOpts{})

	err := a.Send(context.Background(), bot.Reply{
		ChatID:   "100",
		Kind:     bot.ReplyDocument,
		Text:     strings.Repeat("c", 2000),
		Document: &bot.Document{Name: "result.txt", Data: []byte("report")},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	doc, ok := api.lastSent().(tgbotapi.DocumentConfig)
	if !ok {
		t.Fatalf("sent %T, want DocumentConfig", api.lastSent())
	}
	fb, ok := doc.File.(tgbotapi.FileBytes)
	if !ok || fb.Name != "result.txt" || string(fb.Bytes) != "report" {
		t.Errorf("file = %#v", doc.File)
	}
	if len([]rune(doc.Caption)) != maxCaption {
		t.Errorf("caption length = %d, want %d", len([]rune(doc.Caption)), maxCaption)
	}
}

func TestSend_InvalidChatID(t *testing.T) {
	a, _ := newTestAdapter(t, AdapterOpts{})
	if err := a.Send(context.Background(), bot.Reply{ChatID: "D1", Text: "x"}); err == nil {
		t.Fatal("expected invalid chat id error")
	}
}

func TestSend_Error(t *testing.T) {
	a, api := newTestAdapter(t, AdapterOpts{})
	api.sendErr = &tgbotapi.Error{Code: 403, Message: "Forbidden: bot was blocked by the user"}
	err := a.Send(context.Background(), bot.Reply{ChatID: "100", Text: "x"})
	if err == nil || !strings.Contains(err.Error(), "blocked") {
		t.Fatalf("expected blocked error, got %v", err)
	}
	if api.sentCount() != 0 {
		t.Error("nothing should be recorded")
	}
}

func TestAckCallback(t *testing.T) {
	a, api := newTestAdapter(t, AdapterOpts{})
	if err := a.AckCallback(context.Background(), bot.Event{CallbackID: "cq-9"}, "denied"); err != nil {
		t.Fatalf("ack: %v", err)
	}
	cb, ok := api.lastRequest().(tgbotapi.CallbackConfig)
	if !ok || cb.CallbackQueryID != "cq-9" || cb.Text != "denied" {
		t.Errorf("request = %#v", api.lastRequest())
	}
}

// --- Download tests ---

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/voice-1" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("ogg-bytes"))
	}))
	defer srv.Close()

	a, api := newTestAdapter(t, AdapterOpts{HTTPClient: srv.Client()})
	api.fileURL = srv.URL

	var buf bytes.Buffer
	if err := a.Download(context.Background(), "voice-1", &buf); err != nil {
		t.Fatalf("download: %v", err)
	}
	if buf.String() != "ogg-bytes" {
		t.Errorf("downloaded = %q", buf.String())
	}

	err := a.Download(context.Background(), "missing", &buf)
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("expected status error, got %v", err)
	}
}

// --- Webhook tests ---

func TestWebhookHandler(t *testing.T) {
	a, _ := newTestAdapter(t, AdapterOpts{WebhookURL: "https://bot.example.com/telegram"})
	ch, err := a.Listen(context.Background())
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	body, _ := json.Marshal(textUpdate(3, "via webhook"))
	rec := httptest.NewRecorder()
	a.WebhookHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/telegram", bytes.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ev := receive(t, ch); ev.Text != "via webhook" {
		t.Errorf("text = %q", ev.Text)
	}

	rec = httptest.NewRecorder()
	a.WebhookHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/telegram", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("GET status = %d, want 400", rec.Code)
	}
}

func TestWebhookHandler_NotConnected(t *testing.T) {
	a, err := New(AdapterOpts{API: newMockAPI()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	rec := httptest.NewRecorder()
	a.WebhookHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/telegram", strings.NewReader("{}")))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

// --- Rate limit tests ---

func TestRetryOnRateLimit_NonRateLimitError(t *testing.T) {
	calls := 0
	err := retryOnRateLimit(context.Background(), func() error {
		calls++
		return &tgbotapi.Error{Code: 400, Message: "Bad Request"}
	})
	if err == nil || calls != 1 {
		t.Errorf("err = %v, calls = %d; want error after 1 call", err, calls)
	}
}

func TestRetryOnRateLimit_RespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := retryOnRateLimit(ctx, func() error {
		calls++
		e := &tgbotapi.Error{Code: http.StatusTooManyRequests, Message: "Too Many Requests"}
		e.RetryAfter = 5
		return e
	})
	if err != context.Canceled || calls != 1 {
		t.Errorf("err = %v, calls = %d", err, calls)
	}
}
