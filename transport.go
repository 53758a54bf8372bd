package serialtelnet

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
)

// Transport hands out telnet clients. Every method must return promptly;
// the bridge calls them from its periodic Handle.
//
// Peer.Write is the one call allowed to wait, and only for a bounded time
// (NetTransport gives up after 500ms). A producer whose WriteByte finds the
// transmit buffer full sends a block first and can stall that long.
type Transport interface {
	// Listen starts accepting clients on port.
	Listen(port int) error
	// PeerWaiting reports whether Accept has a client ready.
	PeerWaiting() bool
	// Accept returns a waiting client, or ErrEmpty if there is none.
	Accept() (Peer, error)
	// Close stops listening. Clients already accepted are not affected.
	Close() error
}

// Peer is one accepted client. Every method must return promptly.
type Peer interface {
	Connected() bool
	Write(p []byte) (int, error)
	// Available returns the number of received bytes queued for reading.
	Available() int
	ReadByte() (byte, error)
	PeekByte() (byte, error)
	Close() error
}

const (
	peerQueueSize   = 2048
	pendingPeers    = 4
	netWriteTimeout = 500 * time.Millisecond
)

// NetTransport is a TCP Transport. A background goroutine accepts
// connections into a small queue and every accepted connection gets a
// reader goroutine, so none of the Transport or Peer calls block on the
// network.
type NetTransport struct {
	host string
	log  *slog.Logger

	mu      sync.Mutex
	ln      net.Listener
	pending chan net.Conn
	done    chan struct{}
}

// NewNetTransport returns a transport listening on host ("" for all
// interfaces) once Listen is called.
func NewNetTransport(host string, log *slog.Logger) *NetTransport {
	if log == nil {
		log = slog.Default()
	}
	return &NetTransport{host: host, log: log}
}

// Listen starts the accept goroutine on host:port. Port 0 picks a free port.
func (t *NetTransport) Listen(port int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ln != nil {
		return fmt.Errorf("already listening on %s", t.ln.Addr())
	}
	ln, err := net.Listen("tcp", net.JoinHostPort(t.host, strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", port, err)
	}
	t.ln = ln
	t.pending = make(chan net.Conn, pendingPeers)
	t.done = make(chan struct{})
	go t.acceptLoop(ln, t.pending, t.done)
	return nil
}

// Addr returns the listening address, nil when not listening.
func (t *NetTransport) Addr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ln == nil {
		return nil
	}
	return t.ln.Addr()
}

func (t *NetTransport) acceptLoop(ln net.Listener, pending chan<- net.Conn, done <-chan struct{}) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-done:
			default:
				t.log.Warn("accept failed", "err", err)
			}
			return
		}
		select {
		case pending <- conn:
		case <-done:
			conn.Close()
			return
		}
	}
}

// PeerWaiting reports whether an accepted connection is queued.
func (t *NetTransport) PeerWaiting() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending != nil && len(t.pending) > 0
}

// Accept returns a queued connection, ErrEmpty if none is waiting and
// ErrClosed when not listening.
func (t *NetTransport) Accept() (Peer, error) {
	t.mu.Lock()
	pending := t.pending
	t.mu.Unlock()
	if pending == nil {
		return nil, ErrClosed
	}
	select {
	case conn := <-pending:
		return newNetPeer(conn), nil
	default:
		return nil, ErrEmpty
	}
}

// Close stops listening and closes connections not yet handed out.
func (t *NetTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ln == nil {
		return nil
	}
	close(t.done)
	err := t.ln.Close()
drain:
	for {
		select {
		case conn := <-t.pending:
			err = multierr.Append(err, conn.Close())
		default:
			break drain
		}
	}
	t.ln, t.pending, t.done = nil, nil, nil
	return err
}

type netPeer struct {
	conn  net.Conn
	alive atomic.Bool
	once  sync.Once

	mu    sync.Mutex
	space *sync.Cond
	queue []byte
}

func newNetPeer(conn net.Conn) *netPeer {
	p := &netPeer{conn: conn}
	p.space = sync.NewCond(&p.mu)
	p.alive.Store(true)
	go p.readLoop()
	return p
}

func (p *netPeer) readLoop() {
	buf := make([]byte, 512)
	for {
		p.mu.Lock()
		for len(p.queue) >= peerQueueSize && p.alive.Load() {
			p.space.Wait()
		}
		free := peerQueueSize - len(p.queue)
		p.mu.Unlock()
		if !p.alive.Load() {
			return
		}

		n, err := p.conn.Read(buf[:min(len(buf), free)])
		if n > 0 {
			p.mu.Lock()
			if p.alive.Load() {
				p.queue = append(p.queue, buf[:n]...)
			}
			p.mu.Unlock()
		}
		if err != nil {
			p.alive.Store(false)
			return
		}
	}
}

func (p *netPeer) Connected() bool {
	return p.alive.Load()
}

func (p *netPeer) Write(b []byte) (int, error) {
	if !p.alive.Load() {
		return 0, ErrClosed
	}
	if err := p.conn.SetWriteDeadline(time.Now().Add(netWriteTimeout)); err != nil {
		return 0, err
	}
	n, err := p.conn.Write(b)
	if err != nil {
		p.alive.Store(false)
	}
	return n, err
}

func (p *netPeer) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

func (p *netPeer) ReadByte() (byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return 0, ErrEmpty
	}
	c := p.queue[0]
	p.queue = p.queue[1:]
	if len(p.queue) == 0 {
		p.queue = nil
	}
	p.space.Signal()
	return c, nil
}

func (p *netPeer) PeekByte() (byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return 0, ErrEmpty
	}
	return p.queue[0], nil
}

func (p *netPeer) Close() error {
	var err error
	p.once.Do(func() {
		p.alive.Store(false)
		err = p.conn.Close()
		p.mu.Lock()
		p.queue = nil
		p.space.Broadcast()
		p.mu.Unlock()
	})
	return err
}
