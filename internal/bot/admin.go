package bot

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/zulandar/callsheet/internal/prompts"
)

const logTailLines = 20

func adminMenuRows() [][]Button {
	return [][]Button{
		{{Label: "📊 Stats", Data: "admin:stats"}, {Label: "🖥️ System", Data: "admin:system"}},
		{{Label: "📝 Prompts", Data: "admin:prompts"}, {Label: "📢 Broadcast", Data: "admin:broadcast"}},
		{{Label: "📜 Logs", Data: "admin:logs"}},
		{{Label: "❌ Close", Data: "admin:close"}},
	}
}

func backRow(data string) []Button {
	return []Button{{Label: "🔙 Back", Data: cbAdmin + data}}
}

func (r *Router) adminMenu(ctx context.Context, t *turn) {
	name := t.ev.UserName
	if name == "" {
		name = t.ev.SenderID
	}
	r.say(ctx, t, fmt.Sprintf("🔧 Admin panel\n\nWelcome, %s!", name), adminMenuRows()...)
}

// handleAdmin runs an admin panel action. action is the callback data
// without the "admin:" prefix.
func (r *Router) handleAdmin(ctx context.Context, t *turn, action string) {
	parts := strings.Split(action, ":")
	switch parts[0] {
	case "main":
		t.s.Clear()
		r.adminMenu(ctx, t)
	case "stats":
		r.say(ctx, t, r.statsText(ctx), backRow("main"))
	case "system":
		r.say(ctx, t, r.systemText(), backRow("main"))
	case "logs":
		r.sendResult(ctx, t, r.logsText(), backRow("main"))
	case "prompts":
		r.promptsMenu(ctx, t)
	case "profile":
		if p, ok := parseProfile(parts); ok {
			r.profileMenu(ctx, t, p)
			return
		}
		r.promptsMenu(ctx, t)
	case "view":
		p, f, ok := parseProfileField(parts)
		if !ok {
			r.promptsMenu(ctx, t)
			return
		}
		text := r.prompts.Get(p)
		body := text.Instruction
		if f == prompts.Template {
			body = text.Template
		}
		r.sendResult(ctx, t, fmt.Sprintf("👁️ Current %s for %s:\n\n%s", f, p, body), backRow("profile:"+string(p)))
	case "edit":
		p, f, ok := parseProfileField(parts)
		if !ok {
			r.promptsMenu(ctx, t)
			return
		}
		t.s.AwaitPromptEdit(p, f)
		r.say(ctx, t, fmt.Sprintf("✏️ Send the new %s for %s:", f, p), cancelRow())
	case "broadcast":
		t.s.AwaitBroadcast()
		r.say(ctx, t, "📢 Send the message to broadcast to every operator:", cancelRow())
	case "close":
		t.s.Clear()
		r.say(ctx, t, "Admin panel closed.")
	default:
		r.adminMenu(ctx, t)
	}
}

func parseProfile(parts []string) (prompts.Profile, bool) {
	if len(parts) < 2 {
		return "", false
	}
	p := prompts.Profile(parts[1])
	return p, prompts.IsKnown(p)
}

func parseProfileField(parts []string) (prompts.Profile, prompts.Field, bool) {
	p, ok := parseProfile(parts)
	if !ok || len(parts) < 3 {
		return "", "", false
	}
	f, ok := prompts.ParseField(parts[2])
	return p, f, ok
}

func (r *Router) promptsMenu(ctx context.Context, t *turn) {
	var rows [][]Button
	for _, p := range prompts.Profiles() {
		rows = append(rows, []Button{{Label: "📝 " + string(p), Data: "admin:profile:" + string(p)}})
	}
	rows = append(rows, backRow("main"))
	r.say(ctx, t, "📝 Prompt profiles:", rows...)
}

func (r *Router) profileMenu(ctx context.Context, t *turn, p prompts.Profile) {
	base := cbAdmin + "%s:" + string(p) + ":%s"
	r.say(ctx, t, fmt.Sprintf("📝 Profile: %s", p),
		[]Button{
			{Label: "👁️ Instruction", Data: fmt.Sprintf(base, "view", prompts.Instruction)},
			{Label: "👁️ Template", Data: fmt.Sprintf(base, "view", prompts.Template)},
		},
		[]Button{
			{Label: "✏️ Instruction", Data: fmt.Sprintf(base, "edit", prompts.Instruction)},
			{Label: "✏️ Template", Data: fmt.Sprintf(base, "edit", prompts.Template)},
		},
		backRow("prompts"),
	)
}

// handlePromptEdit saves the text sent in awaiting_prompt_edit.
func (r *Router) handlePromptEdit(ctx context.Context, t *turn) {
	if t.ev.Kind != KindText || strings.TrimSpace(t.ev.Text) == "" {
		r.say(ctx, t, "❌ Send the new text as a message, or press Cancel.", cancelRow())
		return
	}
	p, f := t.s.Profile, t.s.Field
	t.s.Clear()
	back := backRow("profile:" + string(p))
	if !r.prompts.Save(p, f, t.ev.Text) {
		t.log.Error().Str("profile", string(p)).Str("field", string(f)).Msg("save prompt")
		r.say(ctx, t, "❌ Error saving the prompt. Please try again.", back)
		return
	}
	t.log.Info().Str("profile", string(p)).Str("field", string(f)).Msg("prompt updated")
	r.say(ctx, t, fmt.Sprintf("✅ The %s for %s was updated!", f, p), back)
}

// handleBroadcast sends the text in awaiting_broadcast_text to every
// operator and admin.
func (r *Router) handleBroadcast(ctx context.Context, t *turn) {
	text := strings.TrimSpace(t.ev.Text)
	if t.ev.Kind != KindText || text == "" {
		r.say(ctx, t, "❌ Send the broadcast text as a message, or press Cancel.", cancelRow())
		return
	}
	t.s.Clear()

	dm, direct := r.adapter.(DirectMessenger)
	recipients := r.access.Recipients()
	sent := 0
	for _, id := range recipients {
		reply := Reply{Kind: ReplyText, Text: "📢 " + text}
		var err error
		if direct {
			err = dm.SendDirect(ctx, id, reply)
		} else {
			reply.ChatID = id
			err = r.adapter.Send(ctx, reply)
		}
		if err != nil {
			t.log.Warn().Err(err).Str("recipient", id).Msg("broadcast")
			continue
		}
		sent++
	}
	r.say(ctx, t, fmt.Sprintf("✅ Broadcast sent to %d of %d operators.", sent, len(recipients)))
}

func (r *Router) statsText(ctx context.Context) string {
	operators, admins := r.access.Counts()
	comments := r.comments.Load()
	if r.counter != nil {
		sctx, cancel := r.storeCtx(ctx)
		n, err := r.counter.CountSince(sctx, r.started)
		cancel()
		if err == nil {
			comments = n
		} else {
			r.log.Warn().Err(err).Msg("count comments")
		}
	}
	return fmt.Sprintf("📊 Stats\n\nUptime: %s\nOperators: %d\nAdmins: %d\nActive sessions: %d\nComments since start: %d",
		time.Since(r.started).Round(time.Second), operators, admins, r.sessions.ActiveCount(), comments)
}

func (r *Router) systemText() string {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return fmt.Sprintf("🖥️ System\n\nGo: %s\nGoroutines: %d\nHeap in use: %s\nSystem memory: %s\nGC cycles: %d",
		runtime.Version(), runtime.NumGoroutine(), formatMB(int64(m.HeapInuse)), formatMB(int64(m.Sys)), m.NumGC)
}

func (r *Router) logsText() string {
	if r.ring == nil {
		return "📜 The log buffer is disabled."
	}
	lines := r.ring.Tail(logTailLines)
	if len(lines) == 0 {
		return "📜 No log lines yet."
	}
	return fmt.Sprintf("📜 Last %d log lines:\n\n%s", len(lines), strings.Join(lines, "\n"))
}
