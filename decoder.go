package serialtelnet

import (
	"log/slog"
)

type decodeState uint8

const (
	stateData decodeState = iota
	stateSubneg
	stateSubnegIAC
	stateOption
)

// decoderHooks are the built-in behaviours the decoder triggers on the
// bridge. Any of them may be nil.
type decoderHooks struct {
	keepalive func() // NOP received
	interrupt func() // default IP behaviour
	abort     func() // default AO behaviour
}

// Decoder strips telnet NVT control sequences and the filter character from
// a client's input and forwards the remaining bytes to the inbound buffer.
//
// Decode only consumes what it can interpret: a trailing IAC is left in the
// client's queue until its command byte arrives, and without an inbound
// buffer application bytes stay queued at the client for direct reads.
// Subnegotiation blocks and a pending negotiation option may span calls.
type Decoder struct {
	state   decodeState
	pending Command
	nvtSeen bool

	inbound   *RingBuffer
	filter    FilterRule
	handlers  handlerTable
	negotiate NegotiationFunc
	hooks     decoderHooks
	log       *slog.Logger
}

func newDecoder(inbound *RingBuffer, hooks decoderHooks, log *slog.Logger) *Decoder {
	return &Decoder{
		inbound:  inbound,
		handlers: defaultHandlerTable(),
		hooks:    hooks,
		log:      log,
	}
}

// NVTSeen reports whether the client has sent a WILL, WONT, DO or DONT
// since the last Reset.
func (d *Decoder) NVTSeen() bool { return d.nvtSeen }

// Reset prepares the decoder for a new client.
func (d *Decoder) Reset() {
	d.state = stateData
	d.pending = 0
	d.nvtSeen = false
}

func (d *Decoder) buffered() bool {
	return d.inbound != nil && d.inbound.Cap() > 0
}

// Decode processes the bytes currently queued at p. It stops as soon as p
// is no longer connected, so nothing queued by a dropped client reaches a
// callback.
func (d *Decoder) Decode(p Peer) {
	for p.Connected() && p.Available() > 0 {
		switch d.state {
		case stateSubneg:
			if c, err := p.ReadByte(); err == nil && c == IAC {
				d.state = stateSubnegIAC
			}
			continue
		case stateSubnegIAC:
			c, err := p.ReadByte()
			if err != nil {
				return
			}
			if Command(c) == SE {
				d.log.Debug("subnegotiation skipped")
				d.state = stateData
			} else {
				d.state = stateSubneg
			}
			continue
		case stateOption:
			opt, err := p.ReadByte()
			if err != nil {
				return
			}
			d.state = stateData
			d.log.Debug("nvt negotiation", "cmd", d.pending, "option", opt)
			if d.negotiate != nil {
				d.negotiate(d.pending, opt)
			}
			continue
		}

		c, err := p.PeekByte()
		if err != nil {
			return
		}
		if d.filter.matches(c) {
			_, _ = p.ReadByte()
			d.log.Debug("filter character received", "char", c)
			if d.filter.Msg != "" {
				_, _ = p.Write([]byte(d.filter.Msg))
			}
			if d.filter.Callback != nil {
				d.filter.Callback()
			}
			continue
		}
		if c == IAC {
			if p.Available() < 2 {
				return
			}
			_, _ = p.ReadByte()
			cmd, err := p.ReadByte()
			if err != nil {
				return
			}
			d.command(Command(cmd))
			continue
		}
		if !d.buffered() {
			return
		}
		_, _ = p.ReadByte()
		if !d.inbound.TryPush(c) {
			d.log.Debug("receive buffer full, byte dropped")
		}
	}
}

func (d *Decoder) command(cmd Command) {
	switch {
	case cmd == NOP:
		if d.hooks.keepalive != nil {
			d.hooks.keepalive()
		}
	case cmd == DM:
	case cmd >= BRK && cmd <= GA:
		d.log.Debug("nvt command", "cmd", cmd)
		d.dispatch(cmd)
	case cmd == SB:
		d.state = stateSubneg
	case cmd.negotiation():
		d.nvtSeen = true
		d.pending = cmd
		d.state = stateOption
	case cmd == IAC:
		if !d.buffered() {
			d.log.Debug("escaped 0xff dropped without receive buffer")
			return
		}
		d.inbound.TryPush(IAC)
	}
}

func (d *Decoder) dispatch(cmd Command) {
	h := d.handlers.get(cmd)
	switch h.kind {
	case handlerCustom:
		h.fn()
	case handlerDefault:
		switch {
		case cmd == IP && d.hooks.interrupt != nil:
			d.hooks.interrupt()
		case cmd == AO && d.hooks.abort != nil:
			d.hooks.abort()
		}
	}
}
