package serialtelnet

import "fmt"

// IAC (interpret as command) starts every telnet control sequence.
const IAC = 255

// Command is a telnet NVT command code (RFC 854).
type Command byte

const (
	SE   Command = 240 // end of subnegotiation
	NOP  Command = 241
	DM   Command = 242 // data mark
	BRK  Command = 243 // break
	IP   Command = 244 // interrupt process
	AO   Command = 245 // abort output
	AYT  Command = 246 // are you there
	EC   Command = 247 // erase character
	EL   Command = 248 // erase line
	GA   Command = 249 // go ahead
	SB   Command = 250 // start of subnegotiation
	WILL Command = 251
	WONT Command = 252
	DO   Command = 253
	DONT Command = 254
)

var commandNames = map[Command]string{
	SE: "SE", NOP: "NOP", DM: "DM", BRK: "BRK", IP: "IP", AO: "AO", AYT: "AYT",
	EC: "EC", EL: "EL", GA: "GA", SB: "SB", WILL: "WILL", WONT: "WONT", DO: "DO", DONT: "DONT",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Command(%d)", byte(c))
}

// negotiation reports whether c is WILL, WONT, DO or DONT.
func (c Command) negotiation() bool {
	return c >= WILL && c <= DONT
}

type handlerKind uint8

const (
	handlerNone handlerKind = iota
	handlerDefault
	handlerCustom
)

// Handler is what happens when a simple NVT command arrives: nothing, the
// built-in behaviour, or a custom function. Only IP (restart the process)
// and AO (drop the client) have a built-in behaviour.
type Handler struct {
	kind handlerKind
	fn   func()
}

var (
	// NoHandler ignores the command.
	NoHandler = Handler{}
	// DefaultHandler selects the built-in behaviour, if the command has one.
	DefaultHandler = Handler{kind: handlerDefault}
)

// HandlerFunc wraps fn as a Handler. A nil fn yields NoHandler.
func HandlerFunc(fn func()) Handler {
	if fn == nil {
		return NoHandler
	}
	return Handler{kind: handlerCustom, fn: fn}
}

// NegotiationFunc receives WILL/WONT/DO/DONT commands with their option byte.
type NegotiationFunc func(cmd Command, option byte)

// handlerTable holds the handlers for BRK through GA.
type handlerTable [GA - BRK + 1]Handler

func defaultHandlerTable() handlerTable {
	var t handlerTable
	t[IP-BRK] = DefaultHandler
	t[AO-BRK] = DefaultHandler
	return t
}

func (t *handlerTable) set(cmd Command, h Handler) error {
	if cmd < BRK || cmd > GA {
		return fmt.Errorf("no handler slot for %v", cmd)
	}
	t[cmd-BRK] = h
	return nil
}

func (t *handlerTable) get(cmd Command) Handler {
	if cmd < BRK || cmd > GA {
		return NoHandler
	}
	return t[cmd-BRK]
}

// FilterRule removes one byte value from the client's input. A match may
// answer the client with Msg and invoke Callback.
type FilterRule struct {
	Char     byte
	Msg      string
	Callback func()
	active   bool
}

func (f *FilterRule) matches(c byte) bool {
	return f != nil && f.active && f.Char == c
}
