package serialtelnet

import (
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
)

const (
	DefaultPort           = 23
	DefaultBufferSize     = 3000
	DefaultRecBufferSize  = 64
	DefaultMinBlockSize   = 64
	DefaultMaxBlockSize   = 512
	DefaultCollectingTime = 100 * time.Millisecond
	DefaultPingTime       = 1500 * time.Millisecond
	DefaultWelcomeMsg     = "Connection established via telnet mirror.\r\n"
	DefaultRejectMsg      = "Only one connection possible.\r\n"
)

// Config holds the settings of a Bridge. Start from DefaultConfig; every
// field can also be changed at runtime through the Bridge setters.
type Config struct {
	Port       int
	WelcomeMsg string // sent to every accepted client, empty for none
	RejectMsg  string // sent to clients turned away, empty for none

	// A block is sent once MinBlockSize bytes are waiting or CollectingTime
	// after the first waiting byte, whichever comes first, and never holds
	// more than MaxBlockSize bytes.
	MinBlockSize   int
	MaxBlockSize   int
	CollectingTime time.Duration
	// PingTime is the idle time after which a keepalive is sent, 0 disables.
	PingTime time.Duration

	BufferSize    int  // outbound capacity, 0 writes straight through
	RecBufferSize int  // inbound capacity, 0 leaves input queued at the client
	StoreOffline  bool // buffer output while no client is attached
	CaptureDebug  bool // claim DebugOutput on Start

	// Local is the serial side. Nil runs the bridge network only.
	Local Local
	// Transport accepts clients. Nil uses a NetTransport on all interfaces.
	Transport Transport
	// LinkUp gates listening until the network is ready. Nil means always up.
	LinkUp func() bool
	// Restart is the built-in reaction to an IP command. Nil re-executes the process.
	Restart func() error

	Logger *slog.Logger
	Clock  clock.Clock
}

// DefaultConfig returns the default settings.
func DefaultConfig() Config {
	return Config{
		Port:           DefaultPort,
		WelcomeMsg:     DefaultWelcomeMsg,
		RejectMsg:      DefaultRejectMsg,
		MinBlockSize:   DefaultMinBlockSize,
		MaxBlockSize:   DefaultMaxBlockSize,
		CollectingTime: DefaultCollectingTime,
		PingTime:       DefaultPingTime,
		BufferSize:     DefaultBufferSize,
		RecBufferSize:  DefaultRecBufferSize,
		StoreOffline:   true,
		CaptureDebug:   true,
	}
}

func (c Config) normalized() Config {
	cfg := c
	if cfg.Port < 0 {
		cfg.Port = DefaultPort
	}
	if cfg.MaxBlockSize < 1 {
		cfg.MaxBlockSize = 1
	}
	cfg.MinBlockSize = min(max(cfg.MinBlockSize, 1), cfg.MaxBlockSize)
	cfg.CollectingTime = max(cfg.CollectingTime, 0)
	cfg.PingTime = max(cfg.PingTime, 0)
	cfg.BufferSize = max(cfg.BufferSize, 0)
	cfg.RecBufferSize = max(cfg.RecBufferSize, 0)
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Transport == nil {
		cfg.Transport = NewNetTransport("", cfg.Logger)
	}
	if cfg.Restart == nil {
		cfg.Restart = restartProcess
	}
	return cfg
}
