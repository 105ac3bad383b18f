package bot

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/zulandar/callsheet/internal/prompts"
)

// State is the position of a session in the conversation.
type State string

const (
	StateIdle                    State = "idle"
	StateAwaitingTargetSelection State = "awaiting_target_selection"
	StateAwaitingContent         State = "awaiting_content"
	StateAwaitingAudio           State = "awaiting_audio"
	StateAwaitingBroadcastText   State = "awaiting_broadcast_text"
	StateAwaitingPromptEdit      State = "awaiting_prompt_edit"
)

// Operation is the pending work kind carried in the session payload.
type Operation string

const (
	OpNone       Operation = ""
	OpComment    Operation = "comment"    // append a comment to the selected driver
	OpSummary    Operation = "summary"    // standalone call analysis
	OpTranscribe Operation = "transcribe" // standalone speaker-split transcript
)

// Session is the conversation state of one operator in one chat. The zero
// value is idle. Fields are only mutated through the transition methods
// while the session is held via SessionManager.Acquire.
type Session struct {
	mu sync.Mutex

	Key        string
	State      State
	Op         Operation
	TargetID   string
	TargetName string
	Profile    prompts.Profile // awaiting_prompt_edit only
	Field      prompts.Field   // awaiting_prompt_edit only
	UpdatedAt  time.Time
}

// Clear returns the session to idle and empties the payload.
func (s *Session) Clear() {
	s.set(StateIdle, OpNone, "", "", "", "")
}

// AwaitTargetSelection enters awaiting_target_selection for a comment.
func (s *Session) AwaitTargetSelection() {
	s.set(StateAwaitingTargetSelection, OpComment, "", "", "", "")
}

// AwaitContent enters awaiting_content for the chosen driver.
func (s *Session) AwaitContent(targetID, targetName string) {
	s.set(StateAwaitingContent, OpComment, targetID, targetName, "", "")
}

// AwaitAudio enters awaiting_audio for a standalone audio operation.
func (s *Session) AwaitAudio(op Operation) {
	s.set(StateAwaitingAudio, op, "", "", "", "")
}

// AwaitBroadcast enters awaiting_broadcast_text.
func (s *Session) AwaitBroadcast() {
	s.set(StateAwaitingBroadcastText, OpNone, "", "", "", "")
}

// AwaitPromptEdit enters awaiting_prompt_edit for one profile field.
func (s *Session) AwaitPromptEdit(p prompts.Profile, f prompts.Field) {
	s.set(StateAwaitingPromptEdit, OpNone, "", "", p, f)
}

func (s *Session) set(st State, op Operation, targetID, targetName string, p prompts.Profile, f prompts.Field) {
	s.State = st
	s.Op = op
	s.TargetID = targetID
	s.TargetName = targetName
	s.Profile = p
	s.Field = f
	s.UpdatedAt = time.Now()
}

// IsIdle reports whether the session is idle.
func (s *Session) IsIdle() bool {
	return s.State == StateIdle || s.State == ""
}

// SessionSnapshot is a read-only copy of a session for status views.
type SessionSnapshot struct {
	Key        string          `json:"key"`
	State      State           `json:"state"`
	Op         Operation       `json:"op,omitempty"`
	TargetID   string          `json:"target_id,omitempty"`
	TargetName string          `json:"target_name,omitempty"`
	Profile    prompts.Profile `json:"profile,omitempty"`
	Field      prompts.Field   `json:"field,omitempty"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// SessionManager owns every Session, keyed by platform, chat and user.
// Sessions are only created for allow-listed operators, so the map is
// bounded by the size of the access lists.
type SessionManager struct {
	mu        sync.Mutex
	sessions  map[string]*Session
	snapshots map[string]SessionSnapshot // state as of the last release
	cancels   map[string]*interrupts
}

// interrupts tracks cancels that were received for a session but not yet
// handled, and the in-flight remote work they abort.
type interrupts struct {
	pending int
	cancel  context.CancelFunc
}

// NewSessionManager creates an empty SessionManager.
func NewSessionManager() *SessionManager {
	return &SessionManager{
		sessions:  make(map[string]*Session),
		snapshots: make(map[string]SessionSnapshot),
		cancels:   make(map[string]*interrupts),
	}
}

// SessionKey builds the key for an event's session.
func SessionKey(ev Event) string {
	return ev.Platform + ":" + ev.ChatID + ":" + ev.SenderID
}

// Acquire returns the session for key with its lock held, creating it
// lazily. The caller must call the returned release func exactly once;
// release records the session state for Snapshot and unlocks it.
func (sm *SessionManager) Acquire(key string) (*Session, func()) {
	sm.mu.Lock()
	s, ok := sm.sessions[key]
	if !ok {
		s = &Session{Key: key, State: StateIdle, UpdatedAt: time.Now()}
		sm.sessions[key] = s
	}
	sm.mu.Unlock()

	s.mu.Lock()
	var once sync.Once
	return s, func() {
		once.Do(func() {
			snap := s.snapshot()
			sm.mu.Lock()
			if s.IsIdle() {
				delete(sm.snapshots, key)
			} else {
				sm.snapshots[key] = snap
			}
			sm.mu.Unlock()
			s.mu.Unlock()
		})
	}
}

func (s *Session) snapshot() SessionSnapshot {
	return SessionSnapshot{
		Key:        s.Key,
		State:      s.State,
		Op:         s.Op,
		TargetID:   s.TargetID,
		TargetName: s.TargetName,
		Profile:    s.Profile,
		Field:      s.Field,
		UpdatedAt:  s.UpdatedAt,
	}
}

// Snapshot returns copies of all non-idle sessions, most recent first. It
// never blocks on a session that is being handled; such sessions are
// reported as of their last release.
func (sm *SessionManager) Snapshot() []SessionSnapshot {
	sm.mu.Lock()
	out := make([]SessionSnapshot, 0, len(sm.snapshots))
	for _, snap := range sm.snapshots {
		out = append(out, snap)
	}
	sm.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out
}

// ActiveCount returns the number of non-idle sessions.
func (sm *SessionManager) ActiveCount() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.snapshots)
}

// Interrupt records a cancel for key as soon as it is received, before it
// is handled in order. Remote work started with Begin is aborted. It
// reports whether such work was in flight.
func (sm *SessionManager) Interrupt(key string) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	in, ok := sm.cancels[key]
	if !ok {
		in = &interrupts{}
		sm.cancels[key] = in
	}
	in.pending++
	if in.cancel != nil {
		in.cancel()
		return true
	}
	return false
}

// Interrupted reports whether a cancel for key was received and has not
// been handled yet.
func (sm *SessionManager) Interrupted(key string) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	in, ok := sm.cancels[key]
	return ok && in.pending > 0
}

// Begin derives a context for remote work on key that Interrupt cancels.
// The returned end func must be called once the work returns; it reports
// whether a cancel arrived, in which case the result must be discarded.
func (sm *SessionManager) Begin(ctx context.Context, key string) (context.Context, func() bool) {
	ctx, cancel := context.WithCancel(ctx)

	sm.mu.Lock()
	in, ok := sm.cancels[key]
	if !ok {
		in = &interrupts{}
		sm.cancels[key] = in
	}
	if in.pending > 0 {
		cancel()
	}
	in.cancel = cancel
	sm.mu.Unlock()

	return ctx, func() bool {
		sm.mu.Lock()
		in.cancel = nil
		interrupted := in.pending > 0
		if !interrupted && sm.cancels[key] == in {
			delete(sm.cancels, key)
		}
		sm.mu.Unlock()
		cancel()
		return interrupted
	}
}

// consumeInterrupt marks one received cancel for key as handled.
func (sm *SessionManager) consumeInterrupt(key string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	in, ok := sm.cancels[key]
	if !ok {
		return
	}
	if in.pending > 0 {
		in.pending--
	}
	if in.pending == 0 && in.cancel == nil {
		delete(sm.cancels, key)
	}
}
