package serialtelnet

import (
	"time"

	"github.com/benbjohnson/clock"
)

// TickModulus is where the millisecond tick counter wraps back to zero.
const TickModulus = 1 << 31

// Ticks returns the milliseconds elapsed between epoch and c.Now(), reduced
// into the wrapping tick domain.
func Ticks(c clock.Clock, epoch time.Time) uint32 {
	return uint32(uint64(c.Since(epoch).Milliseconds()) % TickModulus)
}

// tickAdd returns t+d in the wrapping tick domain.
func tickAdd(t, d uint32) uint32 {
	return uint32((uint64(t) + uint64(d)) % TickModulus)
}

// isPast reports whether now has reached deadline. Both values live in the
// wrapping tick domain: a deadline is reached once now is at most half the
// modulus ahead of it, which keeps the comparison correct after now wraps
// past zero.
func isPast(deadline, now uint32) bool {
	return (uint64(now)+TickModulus-uint64(deadline))%TickModulus < TickModulus/2
}

// deadline is a tick value that may be unset.
type deadline struct {
	at  uint32
	set bool
}

func (d *deadline) arm(now, after uint32) {
	d.at = tickAdd(now, after)
	d.set = true
}

func (d *deadline) clear() {
	*d = deadline{}
}

func (d deadline) expired(now uint32) bool {
	return d.set && isPast(d.at, now)
}

func durationTicks(d time.Duration) uint32 {
	if d <= 0 {
		return 0
	}
	return uint32(min(d.Milliseconds(), TickModulus/2-1))
}
