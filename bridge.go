package serialtelnet

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
)

// Bridge mirrors a byte stream between a local serial side and a single
// telnet client. Output is buffered while no client is attached (if
// StoreOffline is set) so a client connecting later still sees it.
//
// Handle, Run, Close, the read side (Available, ReadByte, PeekByte) and the
// setters belong to one goroutine. Write, WriteByte and DebugWrite may be called
// from any goroutine.
type Bridge struct {
	log     *slog.Logger
	clock   clock.Clock
	epoch   time.Time
	local   Local
	restart func() error

	out          *RingBuffer
	in           *RingBuffer
	storeOffline atomic.Bool

	// flushMu serialises block writes and guards sched and block.
	flushMu sync.Mutex
	sched   *Scheduler
	block   []byte

	conn *connManager
	dec  *Decoder

	started      bool
	captureDebug bool
}

// New creates a bridge from cfg. Call Start, then Handle periodically (or Run).
func New(cfg Config) *Bridge {
	cfg = cfg.normalized()
	b := &Bridge{
		log:          cfg.Logger,
		clock:        cfg.Clock,
		epoch:        cfg.Clock.Now(),
		local:        cfg.Local,
		restart:      cfg.Restart,
		out:          &RingBuffer{},
		in:           &RingBuffer{},
		sched:        NewScheduler(cfg.MinBlockSize, cfg.MaxBlockSize, cfg.CollectingTime, cfg.PingTime),
		captureDebug: cfg.CaptureDebug,
	}
	b.storeOffline.Store(cfg.StoreOffline)

	if cfg.BufferSize > 0 {
		size := max(cfg.BufferSize, cfg.MinBlockSize)
		got, err := b.out.resizeHalving(size, cfg.MinBlockSize)
		switch {
		case err != nil:
			b.log.Warn("transmit buffer disabled", "size", size, "err", err)
		case got != size:
			b.log.Info("transmit buffer reduced", "requested", size, "size", got)
		}
	}
	if err := b.in.Resize(cfg.RecBufferSize); err != nil {
		b.log.Warn("receive buffer disabled", "size", cfg.RecBufferSize, "err", err)
	}

	b.dec = newDecoder(b.in, decoderHooks{
		keepalive: b.peerAlive,
		interrupt: b.interrupt,
		abort:     b.DisconnectClient,
	}, b.log)
	b.conn = &connManager{
		transport: cfg.Transport,
		linkUp:    cfg.LinkUp,
		log:       b.log,
		port:      cfg.Port,
		welcome:   cfg.WelcomeMsg,
		reject:    cfg.RejectMsg,
		hooks: connHooks{
			connected:    b.clientConnected,
			draining:     b.drain,
			disconnected: b.clientDisconnected,
		},
	}
	return b
}

// Start enables Handle and, if configured, claims DebugOutput.
func (b *Bridge) Start() {
	if b.captureDebug {
		claimDebugOutput(b)
	}
	b.started = true
}

// Handle does one round of work: connection upkeep, block flushing,
// keepalives and decoding of client input. It never blocks on the network.
func (b *Bridge) Handle() {
	if !b.started {
		return
	}
	b.conn.poll()
	p := b.conn.active()
	if p == nil {
		return
	}

	now := b.now()
	b.flushMu.Lock()
	n := b.sched.Poll(now, b.out.Len())
	b.flushMu.Unlock()
	if n > 0 {
		b.sendBlock(p, n)
	}

	b.flushMu.Lock()
	due := b.sched.PingDue(now)
	b.flushMu.Unlock()
	if due {
		b.keepalive(p)
	}

	if b.conn.active() == p {
		b.dec.Decode(p)
	}
}

// Run calls Handle every interval until ctx is done.
func (b *Bridge) Run(ctx context.Context, interval time.Duration) error {
	ticker := b.clock.Ticker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			b.Handle()
		}
	}
}

// Write queues p for the client and echoes it to the local side.
func (b *Bridge) Write(p []byte) (int, error) {
	for i, c := range p {
		if err := b.WriteByte(c); err != nil {
			return i, err
		}
	}
	return len(p), nil
}

// WriteByte queues c for the client and echoes it to the local side.
// When the transmit buffer is full a block is sent first if a client is
// attached; if that does not make room, buffered data up to and including
// the oldest line end is dropped.
func (b *Bridge) WriteByte(c byte) error {
	p := b.conn.active()
	switch {
	case b.out.Cap() == 0:
		if p != nil {
			_, _ = p.Write([]byte{c})
		}
	case p != nil || b.storeOffline.Load():
		if b.out.Full() && p != nil {
			b.sendBlock(p, 0)
		}
		b.makeRoom()
		b.out.Push(c)
	}
	if b.local != nil {
		return b.local.WriteByte(c)
	}
	return nil
}

// DebugWrite queues c like WriteByte but never touches the network or the
// local side. It is what DebugOutput feeds.
func (b *Bridge) DebugWrite(c byte) {
	if b.out.Cap() == 0 {
		return
	}
	if b.conn.active() == nil && !b.storeOffline.Load() {
		return
	}
	b.makeRoom()
	b.out.Push(c)
}

// makeRoom applies the overflow policy to a full transmit buffer: drop
// bytes up to and including the first '\n' (everything if there is none)
// and a '\r' directly after it.
func (b *Bridge) makeRoom() {
	if !b.out.Full() {
		return
	}
	for {
		c, err := b.out.Pop()
		if err != nil || c == '\n' {
			break
		}
	}
	if c, err := b.out.Peek(); err == nil && c == '\r' {
		_, _ = b.out.Pop()
	}
}

// Available returns how many bytes can be read, local input first.
func (b *Bridge) Available() int {
	if b.local != nil {
		if n := b.local.Available(); n > 0 {
			return n
		}
	}
	return b.netAvailable()
}

// ReadByte returns the next input byte, preferring local input. It returns
// ErrEmpty when nothing is waiting.
func (b *Bridge) ReadByte() (byte, error) {
	if b.local != nil {
		if c, err := b.local.ReadByte(); err == nil {
			return c, nil
		}
	}
	if b.netAvailable() == 0 {
		return 0, ErrEmpty
	}
	if b.in.Cap() > 0 {
		return b.in.Pop()
	}
	if p := b.conn.active(); p != nil {
		return p.ReadByte()
	}
	return 0, ErrEmpty
}

// PeekByte returns the next input byte without consuming it.
func (b *Bridge) PeekByte() (byte, error) {
	if b.local != nil {
		if c, err := b.local.PeekByte(); err == nil {
			return c, nil
		}
	}
	if b.netAvailable() == 0 {
		return 0, ErrEmpty
	}
	if b.in.Cap() > 0 {
		return b.in.Peek()
	}
	if p := b.conn.active(); p != nil {
		return p.PeekByte()
	}
	return 0, ErrEmpty
}

func (b *Bridge) netAvailable() int {
	p := b.conn.active()
	if p != nil {
		b.dec.Decode(p)
	}
	if b.in.Cap() > 0 {
		return b.in.Len()
	}
	if p = b.conn.active(); p != nil {
		return p.Available()
	}
	return 0
}

// Flush sends everything buffered to the attached client.
func (b *Bridge) Flush() {
	if p := b.conn.active(); p != nil {
		b.drain(p)
	}
}

// AvailableForWrite returns the free space in the transmit buffer.
func (b *Bridge) AvailableForWrite() int {
	return b.out.Free()
}

// ClearBuffer discards everything waiting in the transmit buffer.
func (b *Bridge) ClearBuffer() {
	b.flushMu.Lock()
	b.out.Reset()
	b.sched.Cleared()
	b.flushMu.Unlock()
}

// IsClientConnected reports whether a client is attached.
func (b *Bridge) IsClientConnected() bool {
	return b.conn.active() != nil
}

// State returns the state of the client slot.
func (b *Bridge) State() ConnState {
	return b.conn.State()
}

// DisconnectClient flushes and drops the attached client. Without one it
// does nothing.
func (b *Bridge) DisconnectClient() {
	b.conn.disconnect()
}

// Close releases DebugOutput, drops the client, stops listening and closes
// the local side if it is an io.Closer.
func (b *Bridge) Close() error {
	releaseDebugOutput(b)
	b.started = false
	err := b.conn.stop()
	if c, ok := b.local.(io.Closer); ok {
		err = multierr.Append(err, c.Close())
	}
	return err
}

// sendBlock writes up to limit buffered bytes (MaxBlockSize when limit is
// not positive) to p. It reports whether anything was written.
func (b *Bridge) sendBlock(p Peer, limit int) bool {
	b.flushMu.Lock()
	if limit <= 0 || limit > b.sched.MaxBlockSize() {
		limit = b.sched.MaxBlockSize()
	}
	if cap(b.block) < limit {
		b.block = make([]byte, limit)
	}
	n := b.out.Read(b.block[:limit])
	if n == 0 {
		b.flushMu.Unlock()
		return false
	}
	_, err := p.Write(b.block[:n])
	if err == nil {
		b.sched.Flushed(b.now())
	}
	b.flushMu.Unlock()

	if err != nil {
		b.log.Debug("telnet block write failed", "bytes", n, "err", err)
		return false
	}
	return true
}

// drain sends blocks until the buffer is empty or the client stops taking them.
func (b *Bridge) drain(p Peer) {
	for b.out.Len() > 0 && p.Connected() {
		if !b.sendBlock(p, 0) {
			return
		}
	}
}

// keepalive sends IAC NOP to clients that speak NVT and a NUL otherwise.
func (b *Bridge) keepalive(p Peer) {
	unit := []byte{0}
	if b.dec.NVTSeen() {
		unit = []byte{IAC, byte(NOP)}
	}
	if b.out.Cap() > 0 {
		for _, c := range unit {
			b.makeRoom()
			b.out.Push(c)
		}
		b.sendBlock(p, 0)
		return
	}
	_, err := p.Write(unit)
	b.flushMu.Lock()
	if err == nil {
		b.sched.Flushed(b.now())
	} else {
		b.sched.PeerAlive(b.now())
	}
	b.flushMu.Unlock()
}

func (b *Bridge) now() uint32 {
	return Ticks(b.clock, b.epoch)
}

func (b *Bridge) clientConnected() {
	b.flushMu.Lock()
	b.sched.Connect(b.now())
	b.flushMu.Unlock()
	b.dec.Reset()
}

func (b *Bridge) clientDisconnected() {
	b.flushMu.Lock()
	b.sched.Disconnect()
	b.flushMu.Unlock()
}

func (b *Bridge) peerAlive() {
	b.flushMu.Lock()
	b.sched.PeerAlive(b.now())
	b.flushMu.Unlock()
}

func (b *Bridge) interrupt() {
	b.log.Warn("interrupt process received, restarting")
	if err := b.restart(); err != nil {
		b.log.Error("restart failed", "err", err)
	}
}
