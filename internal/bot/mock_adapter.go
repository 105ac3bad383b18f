package bot

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// MockAdapter implements Adapter, CallbackAcker and TextLimiter for testing.
// It records sent replies, serves downloads from preset content and allows
// simulating inbound events via SimulateInbound.
type MockAdapter struct {
	mu        sync.Mutex
	connected bool
	closed    bool
	inbound   chan Event
	sent      []Reply
	acks      []string
	files     map[string][]byte
	maxText   int
	sendErr   error
}

// NewMockAdapter creates a MockAdapter with a buffered inbound channel.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{
		inbound: make(chan Event, 100),
		files:   make(map[string][]byte),
	}
}

// Connect marks the adapter as connected.
func (m *MockAdapter) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("mock adapter: already closed")
	}
	m.connected = true
	return nil
}

// Listen returns the inbound event channel. Must be called after Connect.
func (m *MockAdapter) Listen(ctx context.Context) (<-chan Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil, fmt.Errorf("mock adapter: not connected")
	}
	return m.inbound, nil
}

// Send records the reply. Replies are accepted before Connect so that the
// router can be tested without a daemon.
func (m *MockAdapter) Send(ctx context.Context, reply Reply) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("mock adapter: closed")
	}
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, reply)
	return nil
}

// Download writes the preset content for fileID.
func (m *MockAdapter) Download(ctx context.Context, fileID string, w io.Writer) error {
	m.mu.Lock()
	data, ok := m.files[fileID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("mock adapter: file %s not found", fileID)
	}
	_, err := w.Write(data)
	return err
}

// AckCallback records the acknowledged callback ID.
func (m *MockAdapter) AckCallback(ctx context.Context, ev Event, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acks = append(m.acks, ev.CallbackID)
	return nil
}

// MaxTextLength returns the configured text limit; 0 means unlimited.
func (m *MockAdapter) MaxTextLength() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxText
}

// Close shuts down the mock adapter and closes the inbound channel.
func (m *MockAdapter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.connected = false
	close(m.inbound)
	return nil
}

// --- Test helpers ---

// SimulateInbound sends an event into the inbound channel as if it came
// from the chat platform. Safe to call from any goroutine.
func (m *MockAdapter) SimulateInbound(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	m.inbound <- ev
}

// SetFile registers content served by Download for fileID.
func (m *MockAdapter) SetFile(fileID string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[fileID] = data
}

// SetMaxTextLength sets the value reported by MaxTextLength.
func (m *MockAdapter) SetMaxTextLength(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxText = n
}

// SetSendError makes every subsequent Send fail with err.
func (m *MockAdapter) SetSendError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

// LastSent returns the most recently sent reply.
// Returns zero value and false if nothing has been sent.
func (m *MockAdapter) LastSent() (Reply, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return Reply{}, false
	}
	return m.sent[len(m.sent)-1], true
}

// SentCount returns the number of replies sent.
func (m *MockAdapter) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// AllSent returns a copy of all sent replies.
func (m *MockAdapter) AllSent() []Reply {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Reply, len(m.sent))
	copy(out, m.sent)
	return out
}

// Acks returns the acknowledged callback IDs.
func (m *MockAdapter) Acks() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.acks))
	copy(out, m.acks)
	return out
}

// Reset clears recorded replies and acks.
func (m *MockAdapter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
	m.acks = nil
}
