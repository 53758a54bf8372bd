package serialtelnet

import "time"

// Scheduler decides when buffered outbound bytes are written to the client.
// It trades latency against per-write overhead: a block is sent as soon as
// MinBlockSize bytes are waiting, smaller amounts are held back for at most
// the collecting time, and an idle connection gets a keepalive every ping
// time. Scheduler does no I/O and is not safe for concurrent use.
type Scheduler struct {
	minBlock   int
	maxBlock   int
	collecting uint32
	ping       uint32

	active  bool
	flushAt deadline
	pingAt  deadline
}

// NewScheduler returns a scheduler with the given knobs. minBlock is clamped
// to [1, maxBlock].
func NewScheduler(minBlock, maxBlock int, collecting, ping time.Duration) *Scheduler {
	s := &Scheduler{
		maxBlock:   max(maxBlock, 1),
		collecting: durationTicks(collecting),
		ping:       durationTicks(ping),
	}
	s.SetMinBlockSize(minBlock)
	return s
}

// MinBlockSize returns the number of bytes that triggers an immediate flush.
func (s *Scheduler) MinBlockSize() int { return s.minBlock }

// MaxBlockSize returns the largest number of bytes sent in one write.
func (s *Scheduler) MaxBlockSize() int { return s.maxBlock }

// SetMinBlockSize sets the flush threshold, clamped to [1, MaxBlockSize].
func (s *Scheduler) SetMinBlockSize(n int) {
	s.minBlock = min(max(n, 1), s.maxBlock)
}

// SetMaxBlockSize sets the largest block size, raised to MinBlockSize if needed.
func (s *Scheduler) SetMaxBlockSize(n int) {
	s.maxBlock = max(n, s.minBlock, 1)
}

// SetCollectingTime sets how long bytes below MinBlockSize may wait.
func (s *Scheduler) SetCollectingTime(d time.Duration) {
	s.collecting = durationTicks(d)
}

// SetPingTime changes the keepalive interval; 0 disables keepalives.
func (s *Scheduler) SetPingTime(d time.Duration, now uint32) {
	s.ping = durationTicks(d)
	if s.ping == 0 {
		s.pingAt.clear()
		return
	}
	if s.active {
		s.pingAt.arm(now, s.ping)
	}
}

// Connect arms the scheduler for a newly attached client.
func (s *Scheduler) Connect(now uint32) {
	s.active = true
	s.flushAt.clear()
	s.pingAt.clear()
	if s.ping != 0 {
		s.pingAt.arm(now, s.ping)
	}
}

// Disconnect clears both deadlines.
func (s *Scheduler) Disconnect() {
	s.active = false
	s.flushAt.clear()
	s.pingAt.clear()
}

// Poll returns how many of the used buffered bytes should be flushed now,
// 0 meaning none. It never returns more than MaxBlockSize.
func (s *Scheduler) Poll(now uint32, used int) int {
	if used <= 0 {
		s.Cleared()
		return 0
	}
	if !s.active {
		return 0
	}
	if used >= s.minBlock {
		return min(used, s.maxBlock)
	}
	if !s.flushAt.set {
		s.flushAt.arm(now, s.collecting)
		return 0
	}
	if s.flushAt.expired(now) {
		return min(used, s.maxBlock)
	}
	return 0
}

// Cleared records that the buffer was emptied without a flush. The next
// byte buffered opens a new collecting window.
func (s *Scheduler) Cleared() {
	s.flushAt.clear()
}

// PingDue reports whether the connection has been idle for the ping time.
func (s *Scheduler) PingDue(now uint32) bool {
	return s.active && s.pingAt.expired(now)
}

// Flushed records a successful flush: the collecting window closes and the
// keepalive timer restarts.
func (s *Scheduler) Flushed(now uint32) {
	s.flushAt.clear()
	s.rearmPing(now)
}

// PeerAlive restarts the keepalive timer after traffic that proves the
// client is still there.
func (s *Scheduler) PeerAlive(now uint32) {
	s.rearmPing(now)
}

func (s *Scheduler) rearmPing(now uint32) {
	if s.active && s.ping != 0 {
		s.pingAt.arm(now, s.ping)
	}
}
