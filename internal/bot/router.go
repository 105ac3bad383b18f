package bot

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/zulandar/callsheet/internal/ai"
	"github.com/zulandar/callsheet/internal/events"
	"github.com/zulandar/callsheet/internal/failure"
	"github.com/zulandar/callsheet/internal/logging"
	"github.com/zulandar/callsheet/internal/media"
	"github.com/zulandar/callsheet/internal/prompts"
	"github.com/zulandar/callsheet/internal/store"
)

// DefaultStoreTimeout bounds each record store call.
const DefaultStoreTimeout = 60 * time.Second

// PromptSource is the part of prompts.Store the router uses.
type PromptSource interface {
	Get(p prompts.Profile) prompts.Pair
	Effective(p prompts.Profile) string
	Save(p prompts.Profile, f prompts.Field, content string) bool
}

// Stager stages attachments into scratch files. Implemented by media.Cache.
type Stager interface {
	Stage(ctx context.Context, a media.Attachment) (string, error)
	Release(path string)
	MaxBytes() int64
}

// Analyzer runs the transcribe-then-analyze pipeline. Implemented by
// ai.Pipeline.
type Analyzer interface {
	TranscribeThenAnalyze(ctx context.Context, path, instruction string, opts ...ai.CallOption) (string, error)
}

// CommentCounter reports how many comments were stored since a point in
// time. Implemented by events.DBLog.
type CommentCounter interface {
	CountSince(ctx context.Context, t time.Time) (int64, error)
}

// Router maps inbound events to handlers based on the sender's session
// state. All handling for one session happens under that session's lock.
type Router struct {
	sessions  *SessionManager
	access    *Access
	adapter   Adapter
	prompts   PromptSource
	media     Stager
	pipeline  Analyzer
	store     store.RecordStore
	publisher events.Publisher
	counter   CommentCounter
	ring      *logging.Ring

	storeTimeout      time.Duration
	speakersModel     string
	speakersMaxTokens int

	started  time.Time
	comments atomic.Int64
	log      zerolog.Logger
	out      io.Writer
}

// RouterOpts holds parameters for creating a Router.
type RouterOpts struct {
	Sessions  *SessionManager // defaults to a new manager
	Access    *Access
	Adapter   Adapter
	Prompts   PromptSource
	Media     Stager
	Pipeline  Analyzer
	Store     store.RecordStore
	Publisher events.Publisher // defaults to events.Noop
	Counter   CommentCounter   // optional; stats fall back to an in-memory count
	Ring      *logging.Ring    // optional; backs the admin Logs view

	StoreTimeout      time.Duration // defaults to DefaultStoreTimeout
	SpeakersModel     string        // model override for /transcribe
	SpeakersMaxTokens int

	Logger *zerolog.Logger
	Out    io.Writer // defaults to os.Stdout
}

// NewRouter creates a Router.
func NewRouter(opts RouterOpts) (*Router, error) {
	if opts.Access == nil {
		return nil, fmt.Errorf("bot: router: access is required")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("bot: router: adapter is required")
	}
	if opts.Prompts == nil {
		return nil, fmt.Errorf("bot: router: prompts is required")
	}
	if opts.Media == nil {
		return nil, fmt.Errorf("bot: router: media is required")
	}
	if opts.Pipeline == nil {
		return nil, fmt.Errorf("bot: router: pipeline is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("bot: router: store is required")
	}
	sessions := opts.Sessions
	if sessions == nil {
		sessions = NewSessionManager()
	}
	pub := opts.Publisher
	if pub == nil {
		pub = events.Noop{}
	}
	storeTimeout := opts.StoreTimeout
	if storeTimeout <= 0 {
		storeTimeout = DefaultStoreTimeout
	}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = opts.Logger.With().Str(logging.FieldComponent, "router").Logger()
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Router{
		sessions:          sessions,
		access:            opts.Access,
		adapter:           opts.Adapter,
		prompts:           opts.Prompts,
		media:             opts.Media,
		pipeline:          opts.Pipeline,
		store:             opts.Store,
		publisher:         pub,
		counter:           opts.Counter,
		ring:              opts.Ring,
		storeTimeout:      storeTimeout,
		speakersModel:     opts.SpeakersModel,
		speakersMaxTokens: opts.SpeakersMaxTokens,
		started:           time.Now(),
		log:               log,
		out:               out,
	}, nil
}

// Sessions returns the session manager.
func (r *Router) Sessions() *SessionManager {
	return r.sessions
}

// turn is the context of handling one event.
type turn struct {
	ev   Event
	s    *Session
	sink ReplySink
	log  zerolog.Logger
}

// Handle processes one inbound event. It never returns an error: every
// failure is logged and turned into a reply.
func (r *Router) Handle(ctx context.Context, ev Event) {
	sink := chatSink{adapter: r.adapter, chatID: ev.ChatID}

	if !r.access.IsOperator(ev.SenderID) {
		r.log.Warn().Str("platform", ev.Platform).Str("sender", ev.SenderID).Str("user", ev.UserName).Msg("access denied")
		if ev.Kind == KindCallback {
			r.ack(ctx, ev, AccessDenied)
		}
		if err := sink.Reply(ctx, Reply{Text: AccessDenied}); err != nil {
			r.log.Warn().Err(err).Msg("send access denied")
		}
		return
	}

	key := SessionKey(ev)
	s, release := r.sessions.Acquire(key)
	defer release()

	t := &turn{
		ev:   ev,
		s:    s,
		sink: sink,
		log: r.log.With().
			Str(logging.FieldSession, key).
			Str(logging.FieldEventID, uuid.NewString()).
			Logger(),
	}

	// A cancel received after this event voids it.
	if !IsCancel(ev) && r.sessions.Interrupted(key) {
		t.log.Debug().Str("kind", string(ev.Kind)).Msg("skipped, cancel pending")
		if ev.Kind == KindCallback {
			r.ack(ctx, ev, "")
		}
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			t.log.Error().Interface("panic", rec).Str("state", string(s.State)).Msg("handler panic")
			s.Clear()
			r.say(ctx, t, "❌ Something went wrong. Please start again.")
		}
	}()

	fmt.Fprintf(r.out, "bot: recv [%s user=%s state=%s] %s %q\n",
		ev.Platform, ev.UserName, s.State, ev.Kind, truncate(eventText(ev), 80))

	switch ev.Kind {
	case KindCommand:
		r.handleCommand(ctx, t)
	case KindCallback:
		r.ack(ctx, ev, "")
		r.handleCallback(ctx, t)
	default:
		r.handleInput(ctx, t)
	}
}

// Interrupt is called by the Daemon for every event as it arrives, before
// it is queued. A cancel from an operator aborts the session's in-flight
// remote work so its result is discarded.
func (r *Router) Interrupt(ev Event) {
	if !IsCancel(ev) || !r.access.IsOperator(ev.SenderID) {
		return
	}
	if r.sessions.Interrupt(SessionKey(ev)) {
		r.log.Info().Str(logging.FieldSession, SessionKey(ev)).Msg("in-flight work interrupted")
	}
}

func eventText(ev Event) string {
	switch {
	case ev.Kind == KindCallback:
		return ev.CallbackData
	case ev.Attachment != nil:
		return ev.Attachment.Name
	}
	return ev.Text
}

// ack acknowledges a button press on platforms that require it.
func (r *Router) ack(ctx context.Context, ev Event, text string) {
	acker, ok := r.adapter.(CallbackAcker)
	if !ok || ev.CallbackID == "" {
		return
	}
	if err := acker.AckCallback(ctx, ev, text); err != nil {
		r.log.Debug().Err(err).Msg("ack callback")
	}
}

// say sends a text reply, with optional button rows.
func (r *Router) say(ctx context.Context, t *turn, text string, buttons ...[]Button) {
	if err := t.sink.Reply(ctx, Reply{Text: text, Buttons: buttons}); err != nil {
		t.log.Warn().Err(err).Msg("send reply")
	}
}

// sendResult sends text that may exceed the platform limit. Oversized
// results are sent whole as a text document.
func (r *Router) sendResult(ctx context.Context, t *turn, text string, buttons ...[]Button) {
	limit := 0
	if tl, ok := r.adapter.(TextLimiter); ok {
		limit = tl.MaxTextLength()
	}
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		r.say(ctx, t, text, buttons...)
		return
	}
	err := t.sink.Reply(ctx, Reply{
		Kind:     ReplyDocument,
		Text:     "📄 The result is too long for a message, sent as a file.",
		Document: &Document{Name: resultDocTxt, Data: []byte(text)},
	})
	if err != nil {
		t.log.Warn().Err(err).Msg("send result document")
		return
	}
	if len(buttons) > 0 {
		r.say(ctx, t, "⬆️", buttons...)
	}
}

// fail logs a failure at the handler boundary, replies with msg and
// returns the session to idle.
func (r *Router) fail(ctx context.Context, t *turn, op string, err error, msg string) {
	logFailure(t, op, err)
	t.s.Clear()
	r.say(ctx, t, msg)
}

func logFailure(t *turn, op string, err error) {
	t.log.Error().
		Str(logging.FieldOp, op).
		Str("error", truncate(err.Error(), errorLogLimit)).
		Str("kind", failure.KindOf(err).String()).
		Msg("handler failure")
}

// storeCtx bounds a record store call.
func (r *Router) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.storeTimeout)
}

// handleInput dispatches free text and attachments on the session state.
func (r *Router) handleInput(ctx context.Context, t *turn) {
	switch t.s.State {
	case StateAwaitingContent:
		r.handleContent(ctx, t)
	case StateAwaitingAudio:
		r.handleStandaloneAudio(ctx, t)
	case StateAwaitingBroadcastText:
		r.handleBroadcast(ctx, t)
	case StateAwaitingPromptEdit:
		r.handlePromptEdit(ctx, t)
	case StateAwaitingTargetSelection:
		r.say(ctx, t, "👆 Pick a driver from the list above, or press Cancel.")
	default:
		r.say(ctx, t, "Send /drivers to add a comment, or /help for the list of commands.")
	}
}

// audioAttachment returns the event's attachment when it can be processed
// as a recording.
func audioAttachment(ev Event) (media.Attachment, bool) {
	if ev.Attachment == nil {
		return media.Attachment{}, false
	}
	if ev.Kind == KindAudio || ev.Attachment.IsAudio() {
		return *ev.Attachment, true
	}
	return media.Attachment{}, false
}
