// Package slack implements the bot Adapter for Slack using Socket Mode.
package slack

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"github.com/zulandar/callsheet/internal/bot"
	"github.com/zulandar/callsheet/internal/logging"
	"github.com/zulandar/callsheet/internal/media"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff duration for reconnection.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff for reconnection.
	maxBackoff = 2 * time.Minute
	// maxReconnectAttempts limits reconnection retries before giving up.
	maxReconnectAttempts = 10
	// maxSectionText is the longest text a section block accepts.
	maxSectionText = 3000
	// maxButtonLabel is the longest plain_text a button accepts.
	maxButtonLabel = 75
)

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	AuthTestContext(ctx context.Context) (*slackapi.AuthTestResponse, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
	GetUserInfoContext(ctx context.Context, userID string) (*slackapi.User, error)
	GetFileContext(ctx context.Context, downloadURL string, w io.Writer) error
	UploadFileV2Context(ctx context.Context, params slackapi.UploadFileV2Parameters) (*slackapi.FileSummary, error)
	OpenConversationContext(ctx context.Context, params *slackapi.OpenConversationParameters) (*slackapi.Channel, bool, bool, error)
}

// socketClient abstracts the Socket Mode client methods we use.
type socketClient interface {
	RunContext(ctx context.Context) error
	EventsChan() chan socketmode.Event
	Ack(req socketmode.Request, payload ...interface{})
}

// realSocketClient wraps *socketmode.Client to implement socketClient.
type realSocketClient struct {
	client *socketmode.Client
}

func (r *realSocketClient) RunContext(ctx context.Context) error { return r.client.RunContext(ctx) }
func (r *realSocketClient) EventsChan() chan socketmode.Event    { return r.client.Events }
func (r *realSocketClient) Ack(req socketmode.Request, payload ...interface{}) {
	r.client.Ack(req, payload...)
}

// Adapter implements bot.Adapter for Slack Socket Mode. Attachment IDs are
// the files' private download URLs.
type Adapter struct {
	client       slackClient
	socket       socketClient
	botUserID    string
	appToken     string
	botToken     string
	log          zerolog.Logger
	mu           sync.Mutex
	connected    bool
	closed       bool
	listening    bool
	inbound      chan bot.Event
	cancelFunc   context.CancelFunc
	names        map[string]string
	baseBackoff  time.Duration // reconnection base backoff (default: baseBackoff const)
	maxBackoff   time.Duration // reconnection max backoff (default: maxBackoff const)
	maxReconnect int           // max reconnection attempts (default: maxReconnectAttempts)
}

// AdapterOpts holds parameters for creating a Slack Adapter.
type AdapterOpts struct {
	AppToken string // xapp-... Slack app-level token for Socket Mode
	BotToken string // xoxb-... Slack bot token
	Logger   *zerolog.Logger
	// For testing: inject mock clients instead of real Slack API.
	Client slackClient
	Socket socketClient
}

// New creates a Slack Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	if opts.Socket == nil && opts.AppToken == "" {
		return nil, fmt.Errorf("slack: app token is required for socket mode")
	}

	log := zerolog.Nop()
	if opts.Logger != nil {
		log = opts.Logger.With().Str(logging.FieldComponent, "slack").Logger()
	}

	return &Adapter{
		client:       opts.Client,
		socket:       opts.Socket,
		appToken:     opts.AppToken,
		botToken:     opts.BotToken,
		log:          log,
		inbound:      make(chan bot.Event, 100),
		names:        make(map[string]string),
		baseBackoff:  baseBackoff,
		maxBackoff:   maxBackoff,
		maxReconnect: maxReconnectAttempts,
	}, nil
}

// Connect creates the API clients and verifies the bot token.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("slack: adapter already closed")
	}
	if a.connected {
		return nil
	}

	if a.client == nil {
		api := slackapi.New(a.botToken, slackapi.OptionAppLevelToken(a.appToken))
		a.client = api
		a.socket = &realSocketClient{client: socketmode.New(api)}
	}

	// Bot user ID is needed for self-message filtering.
	auth, err := a.client.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack: auth test: %w", err)
	}
	a.botUserID = auth.UserID

	a.connected = true
	return nil
}

// Listen starts the Socket Mode event pump and returns the inbound channel.
// The channel is closed when the pump stops.
func (a *Adapter) Listen(ctx context.Context) (<-chan bot.Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil, fmt.Errorf("slack: not connected")
	}
	if a.listening {
		return a.inbound, nil
	}
	a.listening = true

	listenCtx, cancel := context.WithCancel(ctx)
	a.cancelFunc = cancel

	go a.runWithReconnect(listenCtx)
	go a.pumpEvents(listenCtx)

	return a.inbound, nil
}

// Send delivers a reply to Slack. Buttons are rendered as Block Kit action
// rows and documents are uploaded as files.
func (a *Adapter) Send(ctx context.Context, reply bot.Reply) error {
	if err := a.ready(); err != nil {
		return err
	}
	if reply.ChatID == "" {
		return fmt.Errorf("slack: no channel specified")
	}

	if reply.Kind == bot.ReplyDocument && reply.Document != nil {
		err := retryOnRateLimit(ctx, func() error {
			_, upErr := a.client.UploadFileV2Context(ctx, slackapi.UploadFileV2Parameters{
				Reader:         bytes.NewReader(reply.Document.Data),
				FileSize:       len(reply.Document.Data),
				Filename:       reply.Document.Name,
				Title:          reply.Document.Name,
				InitialComment: reply.Text,
				Channel:        reply.ChatID,
			})
			return upErr
		})
		if err != nil {
			return fmt.Errorf("slack: upload file: %w", err)
		}
		return nil
	}

	options := buildMessageOptions(reply)
	err := retryOnRateLimit(ctx, func() error {
		_, _, postErr := a.client.PostMessageContext(ctx, reply.ChatID, options...)
		return postErr
	})
	if err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	return nil
}

// SendDirect opens (or reuses) the IM channel with userID and sends reply there.
func (a *Adapter) SendDirect(ctx context.Context, userID string, reply bot.Reply) error {
	if err := a.ready(); err != nil {
		return err
	}
	var ch *slackapi.Channel
	err := retryOnRateLimit(ctx, func() error {
		var apiErr error
		ch, _, _, apiErr = a.client.OpenConversationContext(ctx, &slackapi.OpenConversationParameters{
			Users:    []string{userID},
			ReturnIM: true,
		})
		return apiErr
	})
	if err != nil {
		return fmt.Errorf("slack: open conversation with %s: %w", userID, err)
	}
	reply.ChatID = ch.ID
	return a.Send(ctx, reply)
}

// Download streams a file by its private download URL.
func (a *Adapter) Download(ctx context.Context, fileID string, w io.Writer) error {
	if err := a.ready(); err != nil {
		return err
	}
	if err := a.client.GetFileContext(ctx, fileID, w); err != nil {
		return fmt.Errorf("slack: download file: %w", err)
	}
	return nil
}

// MaxTextLength returns the section block text limit.
func (a *Adapter) MaxTextLength() int { return maxSectionText }

// Close shuts down the adapter. The inbound channel is closed by the pump
// once it stops, or here if Listen was never called.
func (a *Adapter) Close() error {
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
	if !a.listening {
		close(a.inbound)
	}
	return nil
}

// BotUserID returns the bot's Slack user ID (available after Connect).
func (a *Adapter) BotUserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botUserID
}

func (a *Adapter) ready() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return fmt.Errorf("slack: not connected")
	}
	return nil
}

// runWithReconnect runs the Socket Mode client and retries with exponential
// backoff when it returns an error.
func (a *Adapter) runWithReconnect(ctx context.Context) {
	for attempt := 0; attempt < a.maxReconnect; attempt++ {
		err := a.socket.RunContext(ctx)
		if err == nil || ctx.Err() != nil {
			return
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * a.baseBackoff
		if wait > a.maxBackoff {
			wait = a.maxBackoff
		}

		a.log.Warn().Err(err).
			Int("attempt", attempt+1).
			Int("max_attempts", a.maxReconnect).
			Dur("retry_in", wait).
			Msg("socket mode disconnected")

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
	a.log.Error().Int("attempts", a.maxReconnect).Msg("socket mode reconnection attempts exhausted")
}

// pumpEvents reads Socket Mode events and converts them to bot events.
func (a *Adapter) pumpEvents(ctx context.Context) {
	defer close(a.inbound)
	events := a.socket.EventsChan()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			a.handleSocketEvent(ctx, evt)
		}
	}
}

// handleSocketEvent processes a single Socket Mode event.
func (a *Adapter) handleSocketEvent(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		a.ack(evt)
		a.handleEventsAPI(ctx, eventsAPIEvent)

	case socketmode.EventTypeInteractive:
		callback, ok := evt.Data.(slackapi.InteractionCallback)
		if !ok {
			return
		}
		a.ack(evt)
		a.handleInteraction(ctx, callback)

	case socketmode.EventTypeSlashCommand:
		cmd, ok := evt.Data.(slackapi.SlashCommand)
		if !ok {
			return
		}
		a.ack(evt)
		a.handleSlashCommand(ctx, cmd)

	case socketmode.EventTypeConnecting:
		a.log.Debug().Msg("connecting to socket mode")

	case socketmode.EventTypeConnected:
		a.log.Info().Msg("connected to socket mode")

	case socketmode.EventTypeConnectionError:
		a.log.Warn().Interface("data", evt.Data).Msg("connection error")

	case socketmode.EventTypeDisconnect:
		a.log.Info().Msg("server requested disconnect, will reconnect")
	}
}

func (a *Adapter) ack(evt socketmode.Event) {
	if evt.Request != nil {
		a.socket.Ack(*evt.Request)
	}
}

// handleEventsAPI processes Events API callbacks.
func (a *Adapter) handleEventsAPI(ctx context.Context, event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}
	if ev, ok := event.InnerEvent.Data.(*slackevents.MessageEvent); ok {
		a.handleMessage(ctx, ev)
	}
}

// handleMessage converts a Slack message event to a bot event. File shares
// become audio or document events; everything else is a command or text.
func (a *Adapter) handleMessage(ctx context.Context, ev *slackevents.MessageEvent) {
	if ev.User == "" || ev.User == a.BotUserID() || ev.BotID != "" {
		return
	}
	// Edits, deletes, joins and the like carry a subtype.
	if ev.SubType != "" && ev.SubType != "file_share" {
		return
	}

	out := bot.Event{
		Platform:  "slack",
		Kind:      bot.KindText,
		SenderID:  ev.User,
		ChatID:    ev.Channel,
		UserName:  a.resolveUserName(ctx, ev.User),
		Text:      ev.Text,
		Timestamp: parseSlackTimestamp(ev.TimeStamp),
	}

	if ev.Message != nil && len(ev.Message.Files) > 0 {
		att := fileAttachment(ev.Message.Files[0])
		out.Attachment = &att
		out.Kind = bot.KindDocument
		if att.IsAudio() {
			out.Kind = bot.KindAudio
		}
	} else if name, args, ok := bot.ParseCommand(ev.Text); ok {
		out.Kind = bot.KindCommand
		out.Command = name
		out.Args = args
	}

	a.emit(ctx, out)
}

// handleInteraction converts a block_actions payload to a callback event.
func (a *Adapter) handleInteraction(ctx context.Context, cb slackapi.InteractionCallback) {
	if cb.Type != slackapi.InteractionTypeBlockActions || len(cb.ActionCallback.BlockActions) == 0 {
		return
	}
	action := cb.ActionCallback.BlockActions[0]
	name := cb.User.Name
	if name == "" {
		name = a.resolveUserName(ctx, cb.User.ID)
	}
	a.emit(ctx, bot.Event{
		Platform:     "slack",
		Kind:         bot.KindCallback,
		SenderID:     cb.User.ID,
		ChatID:       cb.Channel.ID,
		UserName:     name,
		CallbackID:   cb.TriggerID,
		CallbackData: action.Value,
		Timestamp:    parseSlackTimestamp(action.ActionTs),
	})
}

// handleSlashCommand converts a registered slash command to a command event.
func (a *Adapter) handleSlashCommand(ctx context.Context, cmd slackapi.SlashCommand) {
	name := strings.ToLower(strings.TrimPrefix(cmd.Command, "/"))
	if name == "" {
		return
	}
	a.emit(ctx, bot.Event{
		Platform:  "slack",
		Kind:      bot.KindCommand,
		SenderID:  cmd.UserID,
		ChatID:    cmd.ChannelID,
		UserName:  cmd.UserName,
		Text:      strings.TrimSpace(cmd.Command + " " + cmd.Text),
		Command:   name,
		Args:      strings.TrimSpace(cmd.Text),
		Timestamp: time.Now(),
	})
}

func (a *Adapter) emit(ctx context.Context, ev bot.Event) {
	select {
	case a.inbound <- ev:
	case <-ctx.Done():
	}
}

// resolveUserName looks up a user's display name. Falls back to user ID.
func (a *Adapter) resolveUserName(ctx context.Context, userID string) string {
	if userID == "" {
		return ""
	}
	a.mu.Lock()
	name, ok := a.names[userID]
	a.mu.Unlock()
	if ok {
		return name
	}

	user, err := a.client.GetUserInfoContext(ctx, userID)
	if err != nil {
		return userID
	}
	name = user.Profile.DisplayName
	if name == "" {
		name = user.RealName
	}
	if name == "" {
		name = userID
	}
	a.mu.Lock()
	a.names[userID] = name
	a.mu.Unlock()
	return name
}

// fileAttachment maps a shared Slack file to a media attachment.
func fileAttachment(f slackapi.File) media.Attachment {
	src := f.URLPrivateDownload
	if src == "" {
		src = f.URLPrivate
	}
	return media.Attachment{
		ID:     f.ID,
		Source: src,
		Name:   f.Name,
		MIME:   f.Mimetype,
		Size:   int64(f.Size),
	}
}

// buildMessageOptions translates a Reply into Slack MsgOptions.
func buildMessageOptions(reply bot.Reply) []slackapi.MsgOption {
	options := []slackapi.MsgOption{slackapi.MsgOptionText(reply.Text, false)}
	if len(reply.Buttons) == 0 {
		return options
	}

	blocks := []slackapi.Block{
		slackapi.NewSectionBlock(slackapi.NewTextBlockObject(slackapi.PlainTextType, sectionText(reply.Text), true, false), nil, nil),
	}
	for i, row := range reply.Buttons {
		var elements []slackapi.BlockElement
		for j, b := range row {
			label := slackapi.NewTextBlockObject(slackapi.PlainTextType, truncateRunes(b.Label, maxButtonLabel), true, false)
			elements = append(elements, slackapi.NewButtonBlockElement(fmt.Sprintf("cs_%d_%d", i, j), b.Data, label))
		}
		if len(elements) > 0 {
			blocks = append(blocks, slackapi.NewActionBlock(fmt.Sprintf("row_%d", i), elements...))
		}
	}
	return append(options, slackapi.MsgOptionBlocks(blocks...))
}

// sectionText keeps a section block valid; Slack rejects empty text.
func sectionText(text string) string {
	if strings.TrimSpace(text) == "" {
		return " "
	}
	return truncateRunes(text, maxSectionText)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// retryOnRateLimit calls fn and retries with backoff on Slack rate limit errors.
// It respects context cancellation and the RetryAfter duration from Slack.
func retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) {
			return err
		}

		if attempt == maxRetries {
			return err
		}

		wait := rle.RetryAfter
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

// parseSlackTimestamp converts a Slack timestamp (e.g., "1234567890.123456")
// to a time.Time.
func parseSlackTimestamp(ts string) time.Time {
	parts := strings.SplitN(ts, ".", 2)
	sec, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}
