package serialtelnet

import (
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/lmittmann/tint"
)

// fakePeer is an in-memory client. send queues bytes as if the client
// typed them; everything the bridge writes is recorded.
type fakePeer struct {
	mu        sync.Mutex
	queue     []byte
	writes    [][]byte
	connected bool
	closed    bool
	writeErr  error
}

func newFakePeer() *fakePeer {
	return &fakePeer{connected: true}
}

func (p *fakePeer) send(b ...byte) {
	p.mu.Lock()
	p.queue = append(p.queue, b...)
	p.mu.Unlock()
}

func (p *fakePeer) hangUp() {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
}

func (p *fakePeer) received() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var s []byte
	for _, w := range p.writes {
		s = append(s, w...)
	}
	return string(s)
}

func (p *fakePeer) writeSizes() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	sizes := make([]int, len(p.writes))
	for i, w := range p.writes {
		sizes[i] = len(w)
	}
	return sizes
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePeer) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *fakePeer) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	if !p.connected {
		return 0, ErrClosed
	}
	p.writes = append(p.writes, append([]byte(nil), b...))
	return len(b), nil
}

func (p *fakePeer) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0
	}
	return len(p.queue)
}

func (p *fakePeer) ReadByte() (byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || len(p.queue) == 0 {
		return 0, ErrEmpty
	}
	c := p.queue[0]
	p.queue = p.queue[1:]
	return c, nil
}

func (p *fakePeer) PeekByte() (byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || len(p.queue) == 0 {
		return 0, ErrEmpty
	}
	return p.queue[0], nil
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	p.connected = false
	p.closed = true
	p.mu.Unlock()
	return nil
}

// fakeTransport hands out fakePeers queued by dial.
type fakeTransport struct {
	mu        sync.Mutex
	listening bool
	port      int
	listens   int
	closes    int
	listenErr error
	waiting   []*fakePeer
}

func (t *fakeTransport) dial() *fakePeer {
	p := newFakePeer()
	t.mu.Lock()
	t.waiting = append(t.waiting, p)
	t.mu.Unlock()
	return p
}

func (t *fakeTransport) Listen(port int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listenErr != nil {
		return t.listenErr
	}
	t.listening = true
	t.port = port
	t.listens++
	return nil
}

func (t *fakeTransport) PeerWaiting() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.listening && len(t.waiting) > 0
}

func (t *fakeTransport) Accept() (Peer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.waiting) == 0 {
		return nil, ErrEmpty
	}
	p := t.waiting[0]
	t.waiting = t.waiting[1:]
	return p, nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	t.listening = false
	t.closes++
	t.mu.Unlock()
	return nil
}

// fakeLocal records what the bridge echoes and serves queued input.
type fakeLocal struct {
	echoed []byte
	rx     []byte
	closed bool
}

func (l *fakeLocal) WriteByte(c byte) error {
	l.echoed = append(l.echoed, c)
	return nil
}

func (l *fakeLocal) Available() int { return len(l.rx) }

func (l *fakeLocal) ReadByte() (byte, error) {
	if len(l.rx) == 0 {
		return 0, ErrEmpty
	}
	c := l.rx[0]
	l.rx = l.rx[1:]
	return c, nil
}

func (l *fakeLocal) PeekByte() (byte, error) {
	if len(l.rx) == 0 {
		return 0, ErrEmpty
	}
	return l.rx[0], nil
}

func (l *fakeLocal) Close() error {
	l.closed = true
	return nil
}

type testWriter struct{ t testing.TB }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))
	return len(p), nil
}

func testLogger(t testing.TB) *slog.Logger {
	return slog.New(tint.NewHandler(io.Writer(testWriter{t}), &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: "15:04:05",
		NoColor:    true,
	}))
}

// newTestBridge returns a started bridge on a fake transport and mock clock.
// Debug capture is off unless a test turns it on.
func newTestBridge(t *testing.T, mutate func(*Config)) (*Bridge, *fakeTransport, *clock.Mock) {
	t.Helper()
	tr := &fakeTransport{}
	mock := clock.NewMock()
	cfg := DefaultConfig()
	cfg.Transport = tr
	cfg.Clock = mock
	cfg.Logger = testLogger(t)
	cfg.CaptureDebug = false
	cfg.Restart = func() error { return nil }
	if mutate != nil {
		mutate(&cfg)
	}
	b := New(cfg)
	b.Start()
	t.Cleanup(func() { b.Close() })
	return b, tr, mock
}
