package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/digestchat/internal/history"
	"github.com/Tyrowin/digestchat/internal/retrieval"
	"github.com/Tyrowin/digestchat/internal/summarizer"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockConn struct {
	id       string
	mu       sync.Mutex
	received [][]byte
	sendErr  error
	closed   bool
}

func (m *mockConn) ID() string { return m.id }

func (m *mockConn) Send(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	if m.closed {
		return ErrConnClosed
	}
	m.received = append(m.received, data)
	return nil
}

func (m *mockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockConn) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mockConn) getReceived() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.received...)
}

func (m *mockConn) frames(t *testing.T) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, raw := range m.getReceived() {
		var frame map[string]any
		require.NoError(t, json.Unmarshal(raw, &frame))
		out = append(out, frame)
	}
	return out
}

// mockPeer is a mockConn whose inbound side is fed by the test.
type mockPeer struct {
	mockConn
	inbox    chan Received
	done     chan struct{}
	doneOnce sync.Once
}

func newMockPeer(id string) *mockPeer {
	return &mockPeer{
		mockConn: mockConn{id: id},
		inbox:    make(chan Received, 16),
		done:     make(chan struct{}),
	}
}

func (p *mockPeer) Close() error {
	_ = p.mockConn.Close()
	p.doneOnce.Do(func() { close(p.done) })
	return nil
}

func (p *mockPeer) Receive() Received {
	select {
	case rcv := <-p.inbox:
		return rcv
	case <-p.done:
		return Received{Kind: ReceivedDisconnect}
	}
}

func (p *mockPeer) say(t *testing.T, text string) {
	t.Helper()
	raw, err := json.Marshal(ChatMessage{Message: text})
	require.NoError(t, err)
	p.inbox <- Received{Kind: ReceivedMessage, Raw: raw}
}

func (p *mockPeer) disconnect() {
	p.inbox <- Received{Kind: ReceivedDisconnect}
}

type fakeSummarizer struct {
	mu     sync.Mutex
	calls  []string
	answer string
	err    error
}

func (f *fakeSummarizer) Summarize(_ context.Context, text string) (summarizer.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, text)
	if f.err != nil {
		return nil, f.err
	}
	return summarizer.Summary{"answer": f.answer, "text": text}, nil
}

func (f *fakeSummarizer) getCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeRetriever struct {
	mu      sync.Mutex
	queries []string
	topK    int
	docs    []retrieval.Document
	err     error
}

func (f *fakeRetriever) Retrieve(_ context.Context, query string, topK int) ([]retrieval.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	f.topK = topK
	if f.err != nil {
		return nil, f.err
	}
	return f.docs, nil
}

func (f *fakeRetriever) getQueries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

// pumpPeer is a mockPeer with a write pump that runs until the peer closes.
type pumpPeer struct {
	*mockPeer
	pumped atomic.Bool
}

func (p *pumpPeer) writePump() {
	p.pumped.Store(true)
	<-p.done
}

// recordingStore wraps a MemoryStore and can be told to fail appends.
type recordingStore struct {
	*history.MemoryStore
	mu        sync.Mutex
	appendErr error
	appended  []history.Record
}

func newRecordingStore() *recordingStore {
	return &recordingStore{MemoryStore: history.NewMemoryStore(0)}
}

func (s *recordingStore) Append(ctx context.Context, rec history.Record) error {
	s.mu.Lock()
	s.appended = append(s.appended, rec)
	err := s.appendErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.MemoryStore.Append(ctx, rec)
}

func (s *recordingStore) getAppended() []history.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]history.Record(nil), s.appended...)
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func eventually(t *testing.T, cond func() bool, msgAndArgs ...any) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msgAndArgs...)
}
