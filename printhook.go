package serialtelnet

import (
	"io"
	"os"
	"sync/atomic"
)

// debugClaim is the bridge currently receiving DebugOutput, if any.
var debugClaim atomic.Pointer[Bridge]

// DebugOutput is the process-wide low-level print hook. Everything written
// to it goes to os.Stderr and, while a bridge holds the claim (see
// Bridge.SetDebugOutput), is queued for that bridge's telnet client. Point
// a logger at it to mirror log lines to the client.
var DebugOutput io.Writer = debugWriter{echo: os.Stderr}

type debugWriter struct {
	echo io.Writer
}

func (w debugWriter) Write(p []byte) (int, error) {
	if b := debugClaim.Load(); b != nil {
		for _, c := range p {
			b.DebugWrite(c)
		}
	}
	return w.echo.Write(p)
}

// claimDebugOutput makes b the receiver of DebugOutput; the last claim wins.
func claimDebugOutput(b *Bridge) {
	debugClaim.Store(b)
}

// releaseDebugOutput gives up the claim, but only if b still holds it.
func releaseDebugOutput(b *Bridge) bool {
	return debugClaim.CompareAndSwap(b, nil)
}

// debugOwner reports whether b currently holds the claim.
func debugOwner(b *Bridge) bool {
	return debugClaim.Load() == b
}
