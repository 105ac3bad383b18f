package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/zulandar/callsheet/internal/ai"
	"github.com/zulandar/callsheet/internal/events"
	"github.com/zulandar/callsheet/internal/failure"
	"github.com/zulandar/callsheet/internal/prompts"
	"github.com/zulandar/callsheet/internal/store"
)

// listTargets loads the driver list. It replies and returns false when
// the list cannot be shown.
func (r *Router) listTargets(ctx context.Context, t *turn) ([]store.Target, bool) {
	sctx, cancel := r.storeCtx(ctx)
	defer cancel()
	targets, err := r.store.ListTargets(sctx)
	if err != nil {
		r.fail(ctx, t, "list_targets", err, "❌ Could not load the driver list. Please try again later.")
		return nil, false
	}
	if len(targets) == 0 {
		r.say(ctx, t, "❌ No drivers found in the database.")
		return nil, false
	}
	return targets, true
}

// listForComment starts the comment flow.
func (r *Router) listForComment(ctx context.Context, t *turn) {
	targets, ok := r.listTargets(ctx, t)
	if !ok {
		return
	}
	t.s.AwaitTargetSelection()
	r.say(ctx, t, "👥 Select a driver to add a comment:", targetButtons(targets, cbSelect, cancelRow())...)
}

// selectTarget handles a driver button from the comment flow.
func (r *Router) selectTarget(ctx context.Context, t *turn, id string) {
	if t.s.State != StateAwaitingTargetSelection {
		r.say(ctx, t, "This list is no longer active. Send /drivers to start again.")
		return
	}
	sctx, cancel := r.storeCtx(ctx)
	defer cancel()
	d, err := r.store.GetTarget(sctx, id)
	if err != nil {
		r.fail(ctx, t, "get_target", err, "❌ Could not load the driver. Please try again later.")
		return
	}
	if d == nil {
		t.s.Clear()
		r.say(ctx, t, "❌ Driver not found. Send /drivers to pick again.")
		return
	}
	name := d.Name
	if name == "" {
		name = store.UntitledName
	}
	t.s.AwaitContent(d.ID, name)
	r.say(ctx, t, driverBrief(d), cancelRow())
}

// handleContent accepts the comment for the selected driver, either as
// text or as a recording that is analyzed first.
func (r *Router) handleContent(ctx context.Context, t *turn) {
	if t.ev.Kind == KindText {
		r.commit(ctx, t, t.ev.Text, events.SourceText)
		return
	}
	a, ok := audioAttachment(t.ev)
	if !ok {
		r.say(ctx, t, "❌ Send an audio recording or a text comment:", cancelRow())
		return
	}

	r.say(ctx, t, "🎙️ Processing the recording...")
	result, discarded, err := r.runAudio(ctx, t, a, prompts.Analysis)
	if discarded {
		return
	}
	if err != nil {
		r.audioFailure(ctx, t, "comment_audio", err, "Please send a text comment instead.")
		return
	}
	if result == ai.Sentinel {
		r.say(ctx, t, "❌ "+ai.Sentinel+". Send another recording or a text comment:", cancelRow())
		return
	}
	r.commit(ctx, t, result, events.SourceAudio)
}

// commit appends content to the selected driver. Blank content keeps the
// session waiting; any other outcome returns it to idle.
func (r *Router) commit(ctx context.Context, t *turn, content, source string) {
	content = strings.TrimSpace(content)
	if content == "" {
		t.log.Debug().Str("kind", failure.EmptyContent.String()).Msg("rejected blank comment")
		r.say(ctx, t, "❌ Comment cannot be empty. Try again:", cancelRow())
		return
	}

	id, name := t.s.TargetID, t.s.TargetName
	sctx, cancel := r.storeCtx(ctx)
	defer cancel()
	if err := r.store.AppendComment(sctx, id, content); err != nil {
		r.fail(ctx, t, "append_comment", failure.New(failure.PersistenceFailure, "append_comment", err),
			"❌ Could not save the comment. Please send /drivers and try again.")
		return
	}
	t.s.Clear()
	r.comments.Add(1)

	ev := events.NewCommentEvent(id, name, t.ev.SenderID, t.ev.Platform, source, len(content))
	if err := r.publisher.Publish(ctx, ev); err != nil {
		t.log.Warn().Err(err).Str("comment_event", ev.ID).Msg("publish comment event")
	}
	t.log.Info().Str("target", id).Str("source", source).Int("length", len(content)).Msg("comment added")

	r.sendResult(ctx, t, commentConfirmation(name, content))
}

// listForInfo shows the browse list. Browsing never changes the session.
func (r *Router) listForInfo(ctx context.Context, t *turn) {
	targets, ok := r.listTargets(ctx, t)
	if !ok {
		return
	}
	r.say(ctx, t, "👥 Select a driver to view:",
		targetButtons(targets, cbInfo, []Button{{Label: "❌ Close", Data: cbInfoClose}})...)
}

// loadDetail fetches a driver and its comments for the browse views.
func (r *Router) loadDetail(ctx context.Context, t *turn, id string) (*store.TargetDetail, []store.Comment, bool) {
	sctx, cancel := r.storeCtx(ctx)
	defer cancel()
	d, err := r.store.GetTarget(sctx, id)
	if err != nil {
		logFailure(t, "get_target", err)
		r.say(ctx, t, "❌ Could not load the driver. Please try again later.")
		return nil, nil, false
	}
	if d == nil {
		r.say(ctx, t, "❌ Driver not found.", []Button{{Label: "🔙 Back to list", Data: cbInfoList}})
		return nil, nil, false
	}
	comments, err := r.store.ListComments(sctx, id)
	if err != nil {
		t.log.Warn().Err(err).Str("target", id).Msg("list comments")
		comments = nil
	}
	return d, comments, true
}

func (r *Router) showInfo(ctx context.Context, t *turn, id string) {
	d, comments, ok := r.loadDetail(ctx, t, id)
	if !ok {
		return
	}
	var rows [][]Button
	if len(comments) > 0 {
		rows = append(rows, []Button{{Label: "💬 All comments", Data: cbComments + d.ID}})
	}
	rows = append(rows,
		[]Button{{Label: "🔙 Back to list", Data: cbInfoList}},
		[]Button{{Label: "❌ Close", Data: cbInfoClose}},
	)
	r.sendResult(ctx, t, driverFull(d, comments), rows...)
}

func (r *Router) showComments(ctx context.Context, t *turn, id string) {
	d, comments, ok := r.loadDetail(ctx, t, id)
	if !ok {
		return
	}
	r.sendResult(ctx, t, commentList(d.Name, comments),
		[]Button{{Label: "🔙 Back to driver", Data: cbInfo + d.ID}},
		[]Button{{Label: "❌ Close", Data: cbInfoClose}},
	)
}

// formatMB renders a byte count as whole megabytes.
func formatMB(n int64) string {
	return fmt.Sprintf("%d MB", n>>20)
}
