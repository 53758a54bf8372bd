package serialtelnet

import (
	"errors"
	"log/slog"
	"sync"
)

// ConnState is the state of the single client slot.
type ConnState uint8

const (
	// Idle: not listening, waiting for the link to come up.
	Idle ConnState = iota
	// Listening: waiting for a client.
	Listening
	// Connected: one client attached.
	Connected
)

func (s ConnState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Connected:
		return "connected"
	}
	return "unknown"
}

// connHooks let the bridge react to slot changes before the user callbacks run.
type connHooks struct {
	connected func()
	// draining runs while the leaving client can still be written to.
	draining     func(Peer)
	disconnected func()
}

// connManager enforces a single attached client. Extra clients get the
// reject message and are closed straight away.
type connManager struct {
	transport Transport
	linkUp    func() bool
	hooks     connHooks
	log       *slog.Logger

	port         int
	welcome      string
	reject       string
	onConnect    func()
	onDisconnect func()

	mu    sync.RWMutex
	state ConnState
	peer  Peer
}

func (m *connManager) State() ConnState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// active returns the attached client, nil if there is none.
func (m *connManager) active() Peer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.peer
}

// poll advances the slot: start listening once the link is up, accept or
// reject waiting clients and notice a client that went away.
func (m *connManager) poll() {
	if m.State() == Idle {
		if m.linkUp != nil && !m.linkUp() {
			return
		}
		if err := m.transport.Listen(m.port); err != nil {
			m.log.Warn("telnet listen failed", "port", m.port, "err", err)
			return
		}
		m.setState(Listening, nil)
		m.log.Info("telnet listening", "port", m.port)
	}

	for m.transport.PeerWaiting() {
		p, err := m.transport.Accept()
		if err != nil {
			if !errors.Is(err, ErrEmpty) {
				m.log.Warn("telnet accept failed", "err", err)
			}
			break
		}
		if cur := m.active(); cur != nil {
			if cur.Connected() {
				m.turnAway(p)
				continue
			}
			m.drop("client gone")
		}
		m.admit(p)
	}

	if cur := m.active(); cur != nil && !cur.Connected() {
		m.drop("client gone")
	}
}

func (m *connManager) admit(p Peer) {
	if m.welcome != "" {
		if _, err := p.Write([]byte(m.welcome)); err != nil {
			m.log.Debug("welcome message not sent", "err", err)
		}
	}
	m.setState(Connected, p)
	m.log.Info("telnet client connected")
	if m.hooks.connected != nil {
		m.hooks.connected()
	}
	if m.onConnect != nil {
		m.onConnect()
	}
}

func (m *connManager) turnAway(p Peer) {
	if m.reject != "" {
		_, _ = p.Write([]byte(m.reject))
	}
	if err := p.Close(); err != nil {
		m.log.Debug("closing rejected client", "err", err)
	}
	m.log.Info("telnet client rejected, slot busy")
}

// disconnect drops the attached client. It is a no-op without one.
func (m *connManager) disconnect() {
	if m.active() == nil {
		return
	}
	m.drop("disconnect requested")
}

func (m *connManager) drop(reason string) {
	p := m.active()
	if p == nil {
		return
	}
	if m.hooks.draining != nil && p.Connected() {
		m.hooks.draining(p)
	}
	if err := p.Close(); err != nil {
		m.log.Debug("closing client", "err", err)
	}
	m.setState(Listening, nil)
	m.log.Info("telnet client disconnected", "reason", reason)
	if m.hooks.disconnected != nil {
		m.hooks.disconnected()
	}
	if m.onDisconnect != nil {
		m.onDisconnect()
	}
}

// stop drops the client and closes the listener; the next poll listens again.
func (m *connManager) stop() error {
	m.disconnect()
	if m.State() == Idle {
		return nil
	}
	m.setState(Idle, nil)
	return m.transport.Close()
}

func (m *connManager) setState(s ConnState, p Peer) {
	m.mu.Lock()
	m.state = s
	m.peer = p
	m.mu.Unlock()
}
