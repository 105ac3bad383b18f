// Package discord implements the bot Adapter for Discord using the Gateway WebSocket.
package discord

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
	"github.com/zulandar/callsheet/internal/bot"
	"github.com/zulandar/callsheet/internal/logging"
	"github.com/zulandar/callsheet/internal/media"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff duration for rate limit retries.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff.
	maxBackoff = 2 * time.Minute
	// maxContent is the Discord message content limit.
	maxContent = 2000
	// maxRowButtons and maxRows are the component limits per message.
	maxRowButtons = 5
	maxRows       = 5
	// maxButtonLabel is the longest button label Discord accepts.
	maxButtonLabel = 80
	// continuedContent heads overflow messages that carry extra button rows.
	continuedContent = "⬇️"
)

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	Open() error
	Close() error
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	AddHandler(handler interface{}) func()
}

// Adapter implements bot.Adapter for Discord via the Gateway WebSocket.
// Attachment IDs are CDN URLs and callback IDs are interaction IDs.
type Adapter struct {
	sess          session
	botToken      string
	botUserID     string
	httpClient    *http.Client
	log           zerolog.Logger
	mu            sync.RWMutex
	connected     bool
	closed        bool
	inbound       chan bot.Event
	done          chan struct{}
	closeOnce     sync.Once
	removeHandler []func()
	pending       map[string]*discordgo.Interaction
	baseBackoff   time.Duration
	maxBackoff    time.Duration
}

// AdapterOpts holds parameters for creating a Discord Adapter.
type AdapterOpts struct {
	BotToken   string       // Discord bot token
	HTTPClient *http.Client // used for attachment downloads
	Logger     *zerolog.Logger
	// For testing: inject a mock session instead of real Discord API.
	Session session
}

// New creates a Discord Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Minute}
	}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = opts.Logger.With().Str(logging.FieldComponent, "discord").Logger()
	}

	return &Adapter{
		sess:        opts.Session,
		botToken:    opts.BotToken,
		httpClient:  client,
		log:         log,
		inbound:     make(chan bot.Event, 100),
		done:        make(chan struct{}),
		pending:     make(map[string]*discordgo.Interaction),
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
	}, nil
}

// Connect establishes the Discord Gateway WebSocket connection.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("discord: adapter already closed")
	}
	if a.connected {
		return nil
	}

	if a.sess == nil {
		dg, err := discordgo.New("Bot " + a.botToken)
		if err != nil {
			return fmt.Errorf("discord: create session: %w", err)
		}
		dg.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent
		a.sess = dg
	}

	// Ready fires on connect and reconnect; it carries the bot user ID.
	a.sess.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		a.mu.Lock()
		a.botUserID = r.User.ID
		a.mu.Unlock()
		a.log.Info().Str("user", r.User.Username).Str("id", r.User.ID).Msg("connected")
	})
	a.sess.AddHandler(func(_ *discordgo.Session, d *discordgo.Disconnect) {
		a.log.Warn().Msg("gateway disconnected, discordgo will auto-reconnect")
	})
	a.sess.AddHandler(func(_ *discordgo.Session, r *discordgo.Resumed) {
		a.log.Info().Msg("gateway session resumed")
	})

	if err := a.sess.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}

	a.connected = true
	return nil
}

// Listen registers the message and interaction handlers and returns the
// inbound channel. Must be called after Connect.
func (a *Adapter) Listen(ctx context.Context) (<-chan bot.Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil, fmt.Errorf("discord: not connected")
	}
	if len(a.removeHandler) > 0 {
		return a.inbound, nil
	}

	a.removeHandler = append(a.removeHandler,
		a.sess.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
			a.handleMessage(ctx, m)
		}),
		a.sess.AddHandler(func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
			a.handleInteraction(ctx, i)
		}),
	)

	return a.inbound, nil
}

// Send delivers a reply. Button rows beyond the per-message component limit
// continue in follow-up messages.
func (a *Adapter) Send(ctx context.Context, reply bot.Reply) error {
	if err := a.ready(); err != nil {
		return err
	}
	if reply.ChatID == "" {
		return fmt.Errorf("discord: no channel specified")
	}

	for _, data := range buildMessages(reply) {
		err := a.retryOnRateLimit(ctx, func() error {
			_, sendErr := a.sess.ChannelMessageSendComplex(reply.ChatID, data)
			return sendErr
		})
		if err != nil {
			return fmt.Errorf("discord: send message: %w", err)
		}
	}
	return nil
}

// SendDirect opens the DM channel with userID and sends reply there.
func (a *Adapter) SendDirect(ctx context.Context, userID string, reply bot.Reply) error {
	if err := a.ready(); err != nil {
		return err
	}
	var ch *discordgo.Channel
	err := a.retryOnRateLimit(ctx, func() error {
		var apiErr error
		ch, apiErr = a.sess.UserChannelCreate(userID)
		return apiErr
	})
	if err != nil {
		return fmt.Errorf("discord: open dm with %s: %w", userID, err)
	}
	reply.ChatID = ch.ID
	return a.Send(ctx, reply)
}

// AckCallback responds to the button interaction. An empty text defers a
// message update; otherwise text is shown to the presser only.
func (a *Adapter) AckCallback(ctx context.Context, ev bot.Event, text string) error {
	if err := a.ready(); err != nil {
		return err
	}
	a.mu.Lock()
	in, ok := a.pending[ev.CallbackID]
	delete(a.pending, ev.CallbackID)
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("discord: unknown interaction %s", ev.CallbackID)
	}

	resp := &discordgo.InteractionResponse{Type: discordgo.InteractionResponseDeferredMessageUpdate}
	if text != "" {
		resp = &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: truncateRunes(text, maxContent),
				Flags:   discordgo.MessageFlagsEphemeral,
			},
		}
	}
	if err := a.sess.InteractionRespond(in, resp); err != nil {
		return fmt.Errorf("discord: interaction respond: %w", err)
	}
	return nil
}

// Download fetches an attachment from its CDN URL.
func (a *Adapter) Download(ctx context.Context, fileID string, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileID, nil)
	if err != nil {
		return fmt.Errorf("discord: download request: %w", err)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("discord: download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("discord: download: status %d", resp.StatusCode)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("discord: download: %w", err)
	}
	return nil
}

// MaxTextLength returns the Discord message content limit.
func (a *Adapter) MaxTextLength() int { return maxContent }

// Close gracefully shuts down the adapter connection.
func (a *Adapter) Close() error {
	a.closeOnce.Do(func() { close(a.done) })

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.connected = false
	for _, remove := range a.removeHandler {
		remove()
	}
	close(a.inbound)
	if a.sess != nil {
		return a.sess.Close()
	}
	return nil
}

// BotUserID returns the bot's Discord user ID (available after Ready).
func (a *Adapter) BotUserID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.botUserID
}

// SetBotUserID sets the bot user ID (used for self-message filtering).
func (a *Adapter) SetBotUserID(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.botUserID = id
}

func (a *Adapter) ready() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.connected {
		return fmt.Errorf("discord: not connected")
	}
	return nil
}

// emit delivers ev unless the adapter is closing.
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

// handleMessage converts a Discord message to a bot event.
func (a *Adapter) handleMessage(ctx context.Context, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.Author.ID == a.BotUserID() {
		return
	}

	ts, _ := discordgo.SnowflakeTimestamp(m.ID)
	ev := bot.Event{
		Platform:  "discord",
		Kind:      bot.KindText,
		SenderID:  m.Author.ID,
		ChatID:    m.ChannelID,
		UserName:  m.Author.Username,
		Text:      m.Content,
		Timestamp: ts,
	}

	if len(m.Attachments) > 0 {
		att := fileAttachment(m.Attachments[0])
		ev.Attachment = &att
		ev.Kind = bot.KindDocument
		if att.IsAudio() {
			ev.Kind = bot.KindAudio
		}
	} else if name, args, ok := bot.ParseCommand(m.Content); ok {
		ev.Kind = bot.KindCommand
		ev.Command = name
		ev.Args = args
	}

	a.emit(ctx, ev)
}

// handleInteraction converts a button press to a callback event and keeps
// the interaction until it is acknowledged.
func (a *Adapter) handleInteraction(ctx context.Context, i *discordgo.InteractionCreate) {
	if i.Interaction == nil || i.Type != discordgo.InteractionMessageComponent {
		return
	}
	user := i.User
	if i.Member != nil && i.Member.User != nil {
		user = i.Member.User
	}
	if user == nil {
		return
	}

	a.mu.Lock()
	a.pending[i.ID] = i.Interaction
	a.mu.Unlock()

	ts, _ := discordgo.SnowflakeTimestamp(i.ID)
	a.emit(ctx, bot.Event{
		Platform:     "discord",
		Kind:         bot.KindCallback,
		SenderID:     user.ID,
		ChatID:       i.ChannelID,
		UserName:     user.Username,
		CallbackID:   i.ID,
		CallbackData: i.MessageComponentData().CustomID,
		Timestamp:    ts,
	})
}

// fileAttachment maps a Discord attachment to a media attachment.
func fileAttachment(f *discordgo.MessageAttachment) media.Attachment {
	return media.Attachment{
		ID:     f.ID,
		Source: f.URL,
		Name:   f.Filename,
		MIME:   f.ContentType,
		Size:   int64(f.Size),
		Voice:  f.DurationSecs > 0 && f.Waveform != "",
	}
}

// buildMessages translates a Reply into one or more Discord messages.
func buildMessages(reply bot.Reply) []*discordgo.MessageSend {
	first := &discordgo.MessageSend{Content: truncateRunes(reply.Text, maxContent)}
	if reply.Kind == bot.ReplyDocument && reply.Document != nil {
		first.Files = []*discordgo.File{{
			Name:        reply.Document.Name,
			ContentType: "text/plain",
			Reader:      bytes.NewReader(reply.Document.Data),
		}}
	}

	rows := components(reply.Buttons)
	msgs := []*discordgo.MessageSend{first}
	for start := 0; start < len(rows); start += maxRows {
		end := min(start+maxRows, len(rows))
		if start == 0 {
			first.Components = rows[start:end]
			continue
		}
		msgs = append(msgs, &discordgo.MessageSend{Content: continuedContent, Components: rows[start:end]})
	}
	return msgs
}

// components lays out button rows. Consecutive single-button rows share an
// action row; the last row always stands alone.
func components(rows [][]bot.Button) []discordgo.MessageComponent {
	var out []discordgo.ActionsRow
	packing := false
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		last := i == len(rows)-1
		if len(row) == 1 && packing && !last && len(out[len(out)-1].Components) < maxRowButtons {
			out[len(out)-1].Components = append(out[len(out)-1].Components, button(row[0]))
			continue
		}
		for start := 0; start < len(row); start += maxRowButtons {
			end := min(start+maxRowButtons, len(row))
			var ar discordgo.ActionsRow
			for _, b := range row[start:end] {
				ar.Components = append(ar.Components, button(b))
			}
			out = append(out, ar)
		}
		packing = len(row) == 1 && !last
	}

	comps := make([]discordgo.MessageComponent, len(out))
	for i, ar := range out {
		comps[i] = ar
	}
	return comps
}

func button(b bot.Button) discordgo.Button {
	return discordgo.Button{
		Label:    truncateRunes(b.Label, maxButtonLabel),
		Style:    discordgo.PrimaryButton,
		CustomID: b.Data,
	}
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// retryOnRateLimit calls fn and retries with exponential backoff on Discord
// rate limit errors. It respects context cancellation.
func (a *Adapter) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var restErr *discordgo.RESTError
		if !errors.As(err, &restErr) || restErr.Response == nil || restErr.Response.StatusCode != http.StatusTooManyRequests {
			return err
		}
		if attempt == maxRetries {
			return err
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * a.baseBackoff
		if wait > a.maxBackoff {
			wait = a.maxBackoff
		}
		a.log.Warn().Int("attempt", attempt+1).Dur("retry_in", wait).Msg("rate limited")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil // unreachable
}
