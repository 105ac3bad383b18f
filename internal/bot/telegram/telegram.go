// Package telegram implements the bot Adapter for the Telegram Bot API,
// receiving updates by long polling or through a webhook handler.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/zulandar/callsheet/internal/bot"
	"github.com/zulandar/callsheet/internal/logging"
	"github.com/zulandar/callsheet/internal/media"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial wait after a failed poll.
	baseBackoff = time.Second
	// maxBackoff caps the poll retry backoff.
	maxBackoff = time.Minute
	// defaultPollTimeout is the long polling timeout in seconds.
	defaultPollTimeout = 30
	// maxMessageText is the Bot API limit for message text.
	maxMessageText = 4096
	// maxCaption is the Bot API limit for document captions.
	maxCaption = 1024
)

// botAPI abstracts the Bot API methods we use, enabling test mocks.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdates(config tgbotapi.UpdateConfig) ([]tgbotapi.Update, error)
	GetFileDirectURL(fileID string) (string, error)
	HandleUpdate(r *http.Request) (*tgbotapi.Update, error)
}

// Adapter implements bot.Adapter for Telegram.
type Adapter struct {
	api         botAPI
	token       string
	endpoint    string
	webhookURL  string
	debug       bool
	pollTimeout int
	httpClient  *http.Client
	log         zerolog.Logger

	mu          sync.RWMutex
	connected   bool
	closed      bool
	listening   bool
	inbound     chan bot.Event
	done        chan struct{}
	closeOnce   sync.Once
	cancelFunc  context.CancelFunc
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

// AdapterOpts holds parameters for creating a Telegram Adapter.
type AdapterOpts struct {
	Token       string
	APIEndpoint string // defaults to tgbotapi.APIEndpoint
	WebhookURL  string // when set, updates arrive through WebhookHandler
	Debug       bool
	PollTimeout int          // long polling timeout in seconds
	HTTPClient  *http.Client // used for API calls and downloads
	Logger      *zerolog.Logger
	// For testing: inject a mock API instead of the real Bot API.
	API botAPI
}

// New creates a Telegram Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.API == nil && opts.Token == "" {
		return nil, fmt.Errorf("telegram: bot token is required")
	}
	endpoint := opts.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	timeout := opts.PollTimeout
	if timeout <= 0 {
		timeout = defaultPollTimeout
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: time.Duration(timeout+10) * time.Second}
	}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = opts.Logger.With().Str(logging.FieldComponent, "telegram").Logger()
	}

	return &Adapter{
		api:         opts.API,
		token:       opts.Token,
		endpoint:    endpoint,
		webhookURL:  opts.WebhookURL,
		debug:       opts.Debug,
		pollTimeout: timeout,
		httpClient:  client,
		log:         log,
		inbound:     make(chan bot.Event, 100),
		done:        make(chan struct{}),
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
	}, nil
}

// Connect verifies the token and registers or removes the webhook.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("telegram: adapter already closed")
	}
	if a.connected {
		return nil
	}

	if a.api == nil {
		api, err := tgbotapi.NewBotAPIWithClient(a.token, a.endpoint, a.httpClient)
		if err != nil {
			return fmt.Errorf("telegram: get me: %w", err)
		}
		api.Debug = a.debug
		a.api = api
		a.log.Info().Str("bot", api.Self.UserName).Msg("authorized")
	}

	if a.webhookURL != "" {
		wh, err := tgbotapi.NewWebhook(a.webhookURL)
		if err != nil {
			return fmt.Errorf("telegram: webhook url: %w", err)
		}
		wh.AllowedUpdates = allowedUpdates()
		if _, err := a.api.Request(wh); err != nil {
			return fmt.Errorf("telegram: set webhook: %w", err)
		}
	} else {
		// getUpdates is refused while a webhook is registered.
		if _, err := a.api.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
			return fmt.Errorf("telegram: delete webhook: %w", err)
		}
	}

	a.connected = true
	return nil
}

// Listen returns the inbound channel and, in polling mode, starts the
// update loop. Must be called after Connect.
func (a *Adapter) Listen(ctx context.Context) (<-chan bot.Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil, fmt.Errorf("telegram: not connected")
	}
	if a.listening {
		return a.inbound, nil
	}
	a.listening = true

	if a.webhookURL == "" {
		pollCtx, cancel := context.WithCancel(ctx)
		a.cancelFunc = cancel
		go a.poll(pollCtx)
	}
	return a.inbound, nil
}

// WebhookHandler returns the HTTP handler that receives webhook updates.
func (a *Adapter) WebhookHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.mu.RLock()
		ready := a.connected
		api := a.api
		a.mu.RUnlock()
		if !ready {
			http.Error(w, "not connected", http.StatusServiceUnavailable)
			return
		}
		update, err := api.HandleUpdate(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if ev, ok := a.convert(*update); ok {
			a.emit(r.Context(), ev)
		}
		w.WriteHeader(http.StatusOK)
	})
}

// Send delivers a reply. Buttons become an inline keyboard and documents
// are uploaded from memory.
func (a *Adapter) Send(ctx context.Context, reply bot.Reply) error {
	api, err := a.ready()
	if err != nil {
		return err
	}
	chatID, err := strconv.ParseInt(reply.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat id %q", reply.ChatID)
	}

	var c tgbotapi.Chattable
	if reply.Kind == bot.ReplyDocument && reply.Document != nil {
		doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: reply.Document.Name, Bytes: reply.Document.Data})
		doc.Caption = truncateRunes(reply.Text, maxCaption)
		if len(reply.Buttons) > 0 {
			doc.ReplyMarkup = keyboard(reply.Buttons)
		}
		c = doc
	} else {
		msg := tgbotapi.NewMessage(chatID, reply.Text)
		msg.DisableWebPagePreview = true
		if len(reply.Buttons) > 0 {
			msg.ReplyMarkup = keyboard(reply.Buttons)
		}
		c = msg
	}

	err = retryOnRateLimit(ctx, func() error {
		_, sendErr := api.Send(c)
		return sendErr
	})
	if err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	return nil
}

// AckCallback answers a callback query so the client stops its spinner.
func (a *Adapter) AckCallback(ctx context.Context, ev bot.Event, text string) error {
	api, err := a.ready()
	if err != nil {
		return err
	}
	if _, err := api.Request(tgbotapi.NewCallback(ev.CallbackID, text)); err != nil {
		return fmt.Errorf("telegram: answer callback: %w", err)
	}
	return nil
}

// Download resolves the file path through getFile and streams the content.
func (a *Adapter) Download(ctx context.Context, fileID string, w io.Writer) error {
	api, err := a.ready()
	if err != nil {
		return err
	}
	link, err := api.GetFileDirectURL(fileID)
	if err != nil {
		return fmt.Errorf("telegram: get file: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return fmt.Errorf("telegram: download request: %w", err)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram: download: status %d", resp.StatusCode)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("telegram: download: %w", err)
	}
	return nil
}

// MaxTextLength returns the Bot API message text limit.
func (a *Adapter) MaxTextLength() int { return maxMessageText }

// Close stops the update loop and closes the inbound channel.
func (a *Adapter) Close() error {
	a.closeOnce.Do(func() { close(a.done) })

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.connected = false
	if a.cancelFunc != nil {
		a.cancelFunc()
	}
	close(a.inbound)
	return nil
}

func (a *Adapter) ready() (botAPI, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.connected {
		return nil, fmt.Errorf("telegram: not connected")
	}
	return a.api, nil
}

// emit delivers ev unless the adapter is closing. The read lock keeps
// Close from closing inbound mid-send; done unblocks a full channel.
func (a *Adapter) emit(ctx context.Context, ev bot.Event) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.inbound <- ev:
	case <-a.done:
	case <-ctx.Done():
	}
}

// poll runs the getUpdates loop with exponential backoff on failures.
func (a *Adapter) poll(ctx context.Context) {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = a.pollTimeout
	cfg.AllowedUpdates = allowedUpdates()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.done:
			return
		default:
		}

		updates, err := a.api.GetUpdates(cfg)
		if err != nil {
			wait := time.Duration(math.Pow(2, float64(failures))) * a.baseBackoff
			if wait > a.maxBackoff {
				wait = a.maxBackoff
			}
			failures++
			a.log.Warn().Err(err).Int("failures", failures).Dur("retry_in", wait).Msg("get updates")
			select {
			case <-ctx.Done():
				return
			case <-a.done:
				return
			case <-time.After(wait):
			}
			continue
		}
		failures = 0

		for _, u := range updates {
			if u.UpdateID < cfg.Offset {
				continue
			}
			cfg.Offset = u.UpdateID + 1
			if ev, ok := a.convert(u); ok {
				a.emit(ctx, ev)
			}
		}
	}
}

// convert maps an update to a bot event. Edits, channel posts and messages
// from bots are ignored.
func (a *Adapter) convert(u tgbotapi.Update) (bot.Event, bool) {
	if cq := u.CallbackQuery; cq != nil {
		if cq.From == nil {
			return bot.Event{}, false
		}
		chatID := cq.From.ID
		ts := time.Now()
		if cq.Message != nil && cq.Message.Chat != nil {
			chatID = cq.Message.Chat.ID
		}
		return bot.Event{
			Platform:     "telegram",
			Kind:         bot.KindCallback,
			SenderID:     strconv.FormatInt(cq.From.ID, 10),
			ChatID:       strconv.FormatInt(chatID, 10),
			UserName:     displayName(cq.From),
			CallbackID:   cq.ID,
			CallbackData: cq.Data,
			Timestamp:    ts,
		}, true
	}

	m := u.Message
	if m == nil || m.From == nil || m.From.IsBot || m.Chat == nil {
		return bot.Event{}, false
	}
	ev := bot.Event{
		Platform:  "telegram",
		Kind:      bot.KindText,
		SenderID:  strconv.FormatInt(m.From.ID, 10),
		ChatID:    strconv.FormatInt(m.Chat.ID, 10),
		UserName:  displayName(m.From),
		Text:      m.Text,
		Timestamp: time.Unix(int64(m.Date), 0),
	}

	if att, ok := messageAttachment(m); ok {
		ev.Attachment = &att
		ev.Text = m.Caption
		ev.Kind = bot.KindDocument
		if att.IsAudio() {
			ev.Kind = bot.KindAudio
		}
		return ev, true
	}
	if m.Text == "" {
		// Photos, stickers and the like carry no usable content.
		ev.Kind = bot.KindDocument
		return ev, true
	}
	if name, args, ok := bot.ParseCommand(m.Text); ok {
		ev.Kind = bot.KindCommand
		ev.Command = name
		ev.Args = args
	}
	return ev, true
}

// messageAttachment extracts the voice note, audio file or document.
func messageAttachment(m *tgbotapi.Message) (media.Attachment, bool) {
	switch {
	case m.Voice != nil:
		return media.Attachment{
			ID:    m.Voice.FileID,
			Name:  m.Voice.FileUniqueID + ".ogg",
			MIME:  m.Voice.MimeType,
			Size:  int64(m.Voice.FileSize),
			Voice: true,
		}, true
	case m.Audio != nil:
		return media.Attachment{
			ID:   m.Audio.FileID,
			Name: m.Audio.FileName,
			MIME: m.Audio.MimeType,
			Size: int64(m.Audio.FileSize),
		}, true
	case m.Document != nil:
		return media.Attachment{
			ID:   m.Document.FileID,
			Name: m.Document.FileName,
			MIME: m.Document.MimeType,
			Size: int64(m.Document.FileSize),
		}, true
	}
	return media.Attachment{}, false
}

func displayName(u *tgbotapi.User) string {
	if u.UserName != "" {
		return u.UserName
	}
	name := u.FirstName
	if u.LastName != "" {
		name += " " + u.LastName
	}
	if name == "" {
		name = strconv.FormatInt(u.ID, 10)
	}
	return name
}

func keyboard(rows [][]bot.Button) tgbotapi.InlineKeyboardMarkup {
	var kb [][]tgbotapi.InlineKeyboardButton
	for _, row := range rows {
		var buttons []tgbotapi.InlineKeyboardButton
		for _, b := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Label, b.Data))
		}
		if len(buttons) > 0 {
			kb = append(kb, tgbotapi.NewInlineKeyboardRow(buttons...))
		}
	}
	return tgbotapi.NewInlineKeyboardMarkup(kb...)
}

func allowedUpdates() []string {
	return []string{"message", "callback_query"}
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// retryOnRateLimit calls fn and retries on 429 responses, honouring the
// retry_after the Bot API returns.
func retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var apiErr *tgbotapi.Error
		if !errors.As(err, &apiErr) || apiErr.Code != http.StatusTooManyRequests {
			return err
		}
		if attempt == maxRetries {
			return err
		}

		wait := time.Duration(apiErr.RetryAfter) * time.Second
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil // unreachable
}
