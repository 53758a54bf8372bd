package serialtelnet

import (
	"time"
)

// SetPort changes the listening port. An attached client is flushed and
// dropped and the next Handle listens on the new port.
func (b *Bridge) SetPort(port int) {
	b.conn.port = port
	if err := b.conn.stop(); err != nil {
		b.log.Warn("closing telnet listener", "err", err)
	}
}

// Port returns the configured listening port.
func (b *Bridge) Port() int { return b.conn.port }

// SetWelcomeMsg sets the message sent to each accepted client, empty for none.
func (b *Bridge) SetWelcomeMsg(msg string) { b.conn.welcome = msg }

// SetRejectMsg sets the message sent to clients turned away, empty for none.
func (b *Bridge) SetRejectMsg(msg string) { b.conn.reject = msg }

// SetMinBlockSize sets the flush threshold, clamped to [1, MaxBlockSize].
func (b *Bridge) SetMinBlockSize(n int) {
	b.flushMu.Lock()
	b.sched.SetMinBlockSize(n)
	b.flushMu.Unlock()
}

// SetMaxBlockSize sets the largest block, raised to MinBlockSize if needed.
func (b *Bridge) SetMaxBlockSize(n int) {
	b.flushMu.Lock()
	b.sched.SetMaxBlockSize(n)
	b.flushMu.Unlock()
}

// SetCollectingTime sets how long bytes below MinBlockSize may wait.
func (b *Bridge) SetCollectingTime(d time.Duration) {
	b.flushMu.Lock()
	b.sched.SetCollectingTime(d)
	b.flushMu.Unlock()
}

// SetPingTime sets the keepalive interval; 0 disables keepalives.
func (b *Bridge) SetPingTime(d time.Duration) {
	b.flushMu.Lock()
	b.sched.SetPingTime(d, b.now())
	b.flushMu.Unlock()
}

// SetBufferSize resizes the transmit buffer, keeping the newest data that
// fits. 0 disables buffering; other sizes are raised to MinBlockSize. On
// error the buffer is unchanged.
func (b *Bridge) SetBufferSize(n int) error {
	if n > 0 {
		b.flushMu.Lock()
		n = max(n, b.sched.MinBlockSize())
		b.flushMu.Unlock()
	}
	return b.out.Resize(max(n, 0))
}

// BufferSize returns the transmit buffer capacity, 0 when disabled.
func (b *Bridge) BufferSize() int { return b.out.Cap() }

// SetRecBufferSize resizes the receive buffer; 0 leaves client input queued
// at the client, where the filter and NVT handling only see it when the
// application reads. On error the buffer is unchanged.
func (b *Bridge) SetRecBufferSize(n int) error {
	return b.in.Resize(max(n, 0))
}

// RecBufferSize returns the receive buffer capacity, 0 when disabled.
func (b *Bridge) RecBufferSize() int { return b.in.Cap() }

// SetStoreOffline controls whether output is buffered while no client is attached.
func (b *Bridge) SetStoreOffline(store bool) { b.storeOffline.Store(store) }

// StoreOffline reports whether output is buffered while no client is attached.
func (b *Bridge) StoreOffline() bool { return b.storeOffline.Load() }

// SetLocal replaces the local side; nil runs network only.
func (b *Bridge) SetLocal(l Local) { b.local = l }

// OnConnect sets fn to run after a client is accepted and welcomed.
func (b *Bridge) OnConnect(fn func()) { b.conn.onConnect = fn }

// OnDisconnect sets fn to run after the attached client is dropped.
func (b *Bridge) OnDisconnect(fn func()) { b.conn.onDisconnect = fn }

// SetFilter removes ch from client input. On a match msg (if not empty) is
// sent back to the client and fn (if not nil) is called. The last call wins.
func (b *Bridge) SetFilter(ch byte, msg string, fn func()) {
	b.dec.filter = FilterRule{Char: ch, Msg: msg, Callback: fn, active: true}
}

// ClearFilter removes the filter.
func (b *Bridge) ClearFilter() {
	b.dec.filter = FilterRule{}
}

// Filter returns the filtered character and whether a filter is set.
func (b *Bridge) Filter() (byte, bool) {
	return b.dec.filter.Char, b.dec.filter.active
}

// SetNvtHandler sets what happens on BRK, IP, AO, AYT, EC, EL or GA.
func (b *Bridge) SetNvtHandler(cmd Command, h Handler) error {
	return b.dec.handlers.set(cmd, h)
}

// OnNegotiation installs fn for WILL, WONT, DO and DONT; nil removes it.
func (b *Bridge) OnNegotiation(fn NegotiationFunc) {
	b.dec.negotiate = fn
}

// SetDebugOutput claims or releases DebugOutput for this bridge. Releasing
// is a no-op if another bridge has claimed it since.
func (b *Bridge) SetDebugOutput(enable bool) {
	b.captureDebug = enable
	if enable {
		claimDebugOutput(b)
		return
	}
	releaseDebugOutput(b)
}

// DebugOutputClaimed reports whether this bridge receives DebugOutput.
func (b *Bridge) DebugOutputClaimed() bool {
	return debugOwner(b)
}
