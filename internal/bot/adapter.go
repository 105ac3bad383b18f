// Package bot is the conversational front end: it receives platform events
// through an Adapter, tracks a per-operator Session, and drives the driver
// comment, call analysis and admin flows.
package bot

import (
	"context"
	"io"
	"time"

	"github.com/zulandar/callsheet/internal/media"
)

// Adapter is the interface that platform-specific implementations must satisfy.
// Each adapter handles connection management, event delivery, replies and
// attachment downloads for a single chat platform.
type Adapter interface {
	// Connect establishes a connection to the chat platform.
	Connect(ctx context.Context) error

	// Listen returns a channel of inbound events from the platform.
	// The channel is closed when the context is cancelled or the adapter
	// is closed. Listen must only be called after Connect.
	Listen(ctx context.Context) (<-chan Event, error)

	// Send delivers a reply to the platform.
	Send(ctx context.Context, reply Reply) error

	// Download streams the attachment identified by fileID into w.
	Download(ctx context.Context, fileID string, w io.Writer) error

	// Close gracefully shuts down the adapter connection.
	Close() error
}

// EventKind classifies an inbound event.
type EventKind string

const (
	KindCommand  EventKind = "command"
	KindCallback EventKind = "callback"
	KindText     EventKind = "text"
	KindAudio    EventKind = "audio"
	KindDocument EventKind = "document"
)

// Event is a single inbound interaction from the chat platform.
type Event struct {
	Platform     string    // e.g. "telegram", "slack", "discord"
	Kind         EventKind // what the operator did
	SenderID     string    // platform user identifier, matched against the access lists
	ChatID       string    // where replies go
	UserName     string    // human-readable name, for logs and greetings
	Text         string    // message text or caption
	Command      string    // command name without prefix, lowercased (KindCommand)
	Args         string    // text after the command (KindCommand)
	CallbackID   string    // platform handle for acknowledging a button press
	CallbackData string    // button payload (KindCallback)
	Attachment   *media.Attachment
	Timestamp    time.Time
}

// ReplyKind selects how a Reply is rendered.
type ReplyKind string

const (
	ReplyText     ReplyKind = "text"
	ReplyButtons  ReplyKind = "buttons"
	ReplyDocument ReplyKind = "document"
)

// Button is one inline button. Data comes back as Event.CallbackData.
type Button struct {
	Label string
	Data  string
}

// Document is a file attachment sent to the chat.
type Document struct {
	Name string
	Data []byte
}

// Reply is an outbound message.
type Reply struct {
	ChatID   string
	Kind     ReplyKind
	Text     string     // message body, or caption for documents
	Buttons  [][]Button // rows of buttons (ReplyButtons)
	Document *Document  // ReplyDocument
}

// ReplySink renders replies into one conversation.
type ReplySink interface {
	Reply(ctx context.Context, reply Reply) error
}

// CallbackAcker is an optional interface for platforms that require button
// presses to be acknowledged. Text, when non-empty, is shown as a toast.
type CallbackAcker interface {
	AckCallback(ctx context.Context, ev Event, text string) error
}

// TextLimiter is an optional interface reporting the longest text message
// the platform accepts, in characters. Longer results are sent as documents.
type TextLimiter interface {
	MaxTextLength() int
}

// DirectMessenger is an optional interface for platforms where a user ID is
// not directly addressable as a chat. It is used for broadcasts.
type DirectMessenger interface {
	SendDirect(ctx context.Context, userID string, reply Reply) error
}

// chatSink binds an Adapter to one chat.
type chatSink struct {
	adapter Adapter
	chatID  string
}

// Reply implements ReplySink.
func (s chatSink) Reply(ctx context.Context, reply Reply) error {
	reply.ChatID = s.chatID
	if reply.Kind == "" {
		reply.Kind = ReplyText
		if len(reply.Buttons) > 0 {
			reply.Kind = ReplyButtons
		}
	}
	return s.adapter.Send(ctx, reply)
}

