package bot

import (
	"context"
	"fmt"

	"github.com/zulandar/callsheet/internal/ai"
	"github.com/zulandar/callsheet/internal/failure"
	"github.com/zulandar/callsheet/internal/logging"
	"github.com/zulandar/callsheet/internal/media"
	"github.com/zulandar/callsheet/internal/prompts"
)

// speakersPrefix introduces the transcript for the speaker-split profile.
const speakersPrefix = "Split this call transcript by speaker:\n\n"

// processAudio stages the attachment, runs the pipeline with the given
// profile and releases the scratch file on every path.
func (r *Router) processAudio(ctx context.Context, a media.Attachment, profile prompts.Profile, opts ...ai.CallOption) (string, error) {
	path, err := r.media.Stage(ctx, a)
	if err != nil {
		return "", err
	}
	defer r.media.Release(path)
	return r.pipeline.TranscribeThenAnalyze(ctx, path, r.prompts.Effective(profile), opts...)
}

// runAudio runs processAudio so that a cancel received meanwhile aborts it.
// discarded is true when that happened; the result must then be dropped
// and the queued cancel left to clear the session.
func (r *Router) runAudio(ctx context.Context, t *turn, a media.Attachment, profile prompts.Profile, opts ...ai.CallOption) (result string, discarded bool, err error) {
	actx, end := r.sessions.Begin(ctx, t.s.Key)
	result, err = r.processAudio(actx, a, profile, opts...)
	if end() {
		t.log.Info().Str("profile", string(profile)).Msg("audio result discarded after cancel")
		return "", true, nil
	}
	return result, false, err
}

// audioFailure reports a staging or transcription failure. An oversized
// attachment keeps the session so the operator can retry with a smaller
// file; every other failure returns it to idle.
func (r *Router) audioFailure(ctx context.Context, t *turn, op string, err error, suggestion string) {
	switch failure.KindOf(err) {
	case failure.AttachmentTooLarge:
		t.log.Info().Str(logging.FieldOp, op).Msg("attachment too large")
		r.say(ctx, t, fmt.Sprintf("❌ The file is too large (limit %s). Send a smaller recording. %s",
			formatMB(r.media.MaxBytes()), suggestion), cancelRow())
	case failure.DownloadFailure:
		r.fail(ctx, t, op, err, "❌ Sorry, the file could not be downloaded. "+suggestion)
	case failure.TranscriptionError:
		r.fail(ctx, t, op, err, "❌ Sorry, the recording could not be transcribed. "+suggestion)
	default:
		r.fail(ctx, t, op, err, "❌ Sorry, something went wrong while processing the audio. "+suggestion)
	}
}

// handleStandaloneAudio runs /transcribe or /call_summary on a recording.
// Nothing is stored.
func (r *Router) handleStandaloneAudio(ctx context.Context, t *turn) {
	a, ok := audioAttachment(t.ev)
	if !ok {
		r.say(ctx, t, "❌ Please send an audio file.", cancelRow())
		return
	}

	profile, title, progress := prompts.Analysis, "✅ Call summary:", "📞 Analyzing the call..."
	var opts []ai.CallOption
	if t.s.Op == OpTranscribe {
		profile, title, progress = prompts.Speakers, "✅ Transcript ready:", "🎙️ Transcribing the recording..."
		opts = append(opts,
			ai.WithModel(r.speakersModel, r.speakersMaxTokens),
			ai.WithUserPrefix(speakersPrefix))
	}

	r.say(ctx, t, progress)
	result, discarded, err := r.runAudio(ctx, t, a, profile, opts...)
	if discarded {
		return
	}
	if err != nil {
		r.audioFailure(ctx, t, string(t.s.Op), err, "Please try another recording.")
		return
	}
	t.s.Clear()
	if result == ai.Sentinel {
		r.say(ctx, t, "❌ "+ai.Sentinel)
		return
	}
	r.sendResult(ctx, t, title+"\n\n"+result)
}
