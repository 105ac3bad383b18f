package bot

import (
	"context"
	"fmt"
	"strings"
)

// Command names understood by the router.
const (
	CmdStart       = "start"
	CmdHelp        = "help"
	CmdCancel      = "cancel"
	CmdDrivers     = "drivers"
	CmdDriverInfo  = "driver_info"
	CmdTranscribe  = "transcribe"
	CmdCallSummary = "call_summary"
	CmdAdmin       = "admin"
)

// ParseCommand splits "/name args" or "!name args" into a lowercased name
// and the trimmed remainder. A "@botname" suffix on the name is dropped,
// as Telegram adds it in group chats.
func ParseCommand(text string) (name, args string, ok bool) {
	text = strings.TrimSpace(text)
	if len(text) < 2 || (text[0] != '/' && text[0] != '!') {
		return "", "", false
	}
	text = text[1:]
	name, args, _ = strings.Cut(text, " ")
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return "", "", false
	}
	return name, strings.TrimSpace(args), true
}

// IsCancel reports whether ev is a /cancel command or a Cancel button press.
func IsCancel(ev Event) bool {
	switch ev.Kind {
	case KindCommand:
		return ev.Command == CmdCancel
	case KindCallback:
		return ev.CallbackData == cbCancel
	}
	return false
}

// helpText lists the commands available to an operator.
func helpText(admin bool) string {
	var b strings.Builder
	b.WriteString("👋 Driver recruiting assistant\n\n")
	b.WriteString("/drivers - add a comment to a driver (text or call recording)\n")
	b.WriteString("/driver_info - browse driver details and comments\n")
	b.WriteString("/transcribe - speaker-split transcript of a call recording\n")
	b.WriteString("/call_summary - analysis report for a call recording\n")
	b.WriteString("/cancel - cancel the current action\n")
	b.WriteString("/help - show this message")
	if admin {
		b.WriteString("\n/admin - admin panel")
	}
	return b.String()
}

// handleCommand runs a typed command. Commands that start a flow reset the
// session first, so a stale flow never leaks into a new one.
func (r *Router) handleCommand(ctx context.Context, t *turn) {
	admin := r.access.IsAdmin(t.ev.SenderID)
	switch t.ev.Command {
	case CmdCancel:
		r.cancel(ctx, t)
	case CmdStart, CmdHelp:
		r.say(ctx, t, helpText(admin))
	case CmdDrivers:
		t.s.Clear()
		r.listForComment(ctx, t)
	case CmdDriverInfo:
		r.listForInfo(ctx, t)
	case CmdTranscribe:
		t.s.Clear()
		t.s.AwaitAudio(OpTranscribe)
		r.say(ctx, t, "🎙️ Send the call recording to transcribe by speaker.\nSupported formats: mp3, wav, ogg, m4a", cancelRow())
	case CmdCallSummary:
		t.s.Clear()
		t.s.AwaitAudio(OpSummary)
		r.say(ctx, t, "📞 Send the call recording to analyze and summarize.\nSupported formats: mp3, wav, ogg, m4a", cancelRow())
	case CmdAdmin:
		if !admin {
			r.say(ctx, t, "❌ You do not have access to the admin panel.")
			return
		}
		t.s.Clear()
		r.adminMenu(ctx, t)
	default:
		r.say(ctx, t, fmt.Sprintf("Unknown command /%s. Send /help for the list of commands.", t.ev.Command))
	}
}

// cancel clears the session from any state.
func (r *Router) cancel(ctx context.Context, t *turn) {
	r.sessions.consumeInterrupt(t.s.Key)
	if t.s.IsIdle() {
		r.say(ctx, t, "Nothing to cancel.")
		return
	}
	t.log.Debug().Str("from", string(t.s.State)).Msg("cancelled")
	t.s.Clear()
	r.say(ctx, t, "❌ Action cancelled.")
}

// handleCallback runs a button press.
func (r *Router) handleCallback(ctx context.Context, t *turn) {
	data := t.ev.CallbackData
	switch {
	case data == cbCancel:
		r.cancel(ctx, t)
	case strings.HasPrefix(data, cbSelect):
		r.selectTarget(ctx, t, strings.TrimPrefix(data, cbSelect))
	case data == cbInfoList:
		r.listForInfo(ctx, t)
	case data == cbInfoClose:
		r.say(ctx, t, "Closed.")
	case strings.HasPrefix(data, cbInfo):
		r.showInfo(ctx, t, strings.TrimPrefix(data, cbInfo))
	case strings.HasPrefix(data, cbComments):
		r.showComments(ctx, t, strings.TrimPrefix(data, cbComments))
	case strings.HasPrefix(data, cbAdmin):
		if !r.access.IsAdmin(t.ev.SenderID) {
			r.say(ctx, t, "❌ You do not have access to the admin panel.")
			return
		}
		r.handleAdmin(ctx, t, strings.TrimPrefix(data, cbAdmin))
	default:
		t.log.Debug().Str("data", data).Msg("unknown callback")
		r.say(ctx, t, "This button is no longer active.")
	}
}
