package serialtelnet

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

func TestIsPast(t *testing.T) {
	tests := []struct {
		name     string
		deadline uint32
		now      uint32
		want     bool
	}{
		{"equal", 1000, 1000, true},
		{"before", 1000, 999, false},
		{"after", 1000, 1001, true},
		{"deadline near top, now just below", TickModulus - 10, TickModulus - 11, false},
		{"deadline near top, now wrapped", TickModulus - 10, 5, true},
		{"deadline wrapped, now near top", 5, TickModulus - 10, false},
		{"half modulus behind counts as future", 0, TickModulus / 2, false},
		{"just under half modulus ahead", 0, TickModulus/2 - 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, isPast(tt.deadline, tt.now))
		})
	}
}

func TestTicksWrap(t *testing.T) {
	mock := clock.NewMock()
	epoch := mock.Now()
	require.Equal(t, uint32(0), Ticks(mock, epoch))

	mock.Add(1500 * time.Millisecond)
	require.Equal(t, uint32(1500), Ticks(mock, epoch))

	mock.Add(time.Duration(TickModulus) * time.Millisecond)
	require.Equal(t, uint32(1500), Ticks(mock, epoch))
	require.Equal(t, uint32(0), tickAdd(TickModulus-1, 1))
}

func TestScheduler_CollectingWindow(t *testing.T) {
	s := NewScheduler(4, 10, 100*time.Millisecond, 0)
	s.Connect(0)

	require.Equal(t, 0, s.Poll(10, 3))
	require.True(t, s.flushAt.set)
	require.Equal(t, 0, s.Poll(50, 3))
	require.Equal(t, 0, s.Poll(109, 3))
	require.Equal(t, 3, s.Poll(110, 3))

	s.Flushed(110)
	require.False(t, s.flushAt.set)
}

func TestScheduler_FlushBoundedByMaxBlock(t *testing.T) {
	s := NewScheduler(4, 10, 100*time.Millisecond, 0)
	s.Connect(0)

	require.Equal(t, 4, s.Poll(0, 4))
	require.Equal(t, 10, s.Poll(0, 25))
	require.Equal(t, 10, s.Poll(0, 10))
}

func TestScheduler_InactiveNeverFlushes(t *testing.T) {
	s := NewScheduler(1, 10, 0, time.Second)
	require.Equal(t, 0, s.Poll(0, 5))
	require.False(t, s.PingDue(5000))

	s.Connect(0)
	s.Disconnect()
	require.Equal(t, 0, s.Poll(0, 5))
	require.False(t, s.PingDue(5000))
}

func TestScheduler_BlockSizeClamping(t *testing.T) {
	s := NewScheduler(0, 0, 0, 0)
	require.Equal(t, 1, s.MinBlockSize())
	require.Equal(t, 1, s.MaxBlockSize())

	s.SetMaxBlockSize(512)
	s.SetMinBlockSize(1000)
	require.Equal(t, 512, s.MinBlockSize())

	s.SetMaxBlockSize(100)
	require.Equal(t, 512, s.MaxBlockSize())
	require.LessOrEqual(t, s.MinBlockSize(), s.MaxBlockSize())
}

func TestScheduler_Ping(t *testing.T) {
	s := NewScheduler(64, 512, 100*time.Millisecond, 1500*time.Millisecond)
	s.Connect(1000)

	require.False(t, s.PingDue(2499))
	require.True(t, s.PingDue(2500))

	s.Flushed(2500)
	require.False(t, s.PingDue(2501))
	require.True(t, s.PingDue(4000))

	s.PeerAlive(3900)
	require.False(t, s.PingDue(4000))
	require.True(t, s.PingDue(5400))

	s.SetPingTime(0, 5400)
	require.False(t, s.PingDue(100000))
}

func TestScheduler_PingAcrossWrap(t *testing.T) {
	const ping = 1500
	for _, gap := range []uint32{1, 100, 0x1000, 0xFFFF} {
		target := uint32(TickModulus) - gap
		start := target - ping

		// Sparse polling: the first poll after the deadline already wrapped.
		s := NewScheduler(64, 512, 0, ping*time.Millisecond)
		s.Connect(start)
		require.False(t, s.PingDue(target-1), "gap %#x", gap)
		for _, now := range []uint32{0, 1, ping - 1} {
			require.True(t, s.PingDue(now), "gap %#x now %d", gap, now)
		}
		s.Flushed(ping - 1)
		require.False(t, s.PingDue(ping), "gap %#x", gap)

		// Dense polling: fires exactly at each deadline, the second of
		// which lies past the wrap for small gaps.
		s = NewScheduler(64, 512, 0, ping*time.Millisecond)
		s.Connect(start)
		var firedAt []uint32
		for step := uint32(0); step < 3*ping-1; step++ {
			now := tickAdd(start, step)
			if s.PingDue(now) {
				firedAt = append(firedAt, now)
				s.Flushed(now)
			}
		}
		require.Equal(t, []uint32{target, tickAdd(target, ping)}, firedAt, "gap %#x", gap)
	}
}

func TestScheduler_ClearedOpensNewWindow(t *testing.T) {
	s := NewScheduler(4, 10, 100*time.Millisecond, 0)
	s.Connect(0)

	require.Equal(t, 0, s.Poll(0, 1))
	require.True(t, s.flushAt.set)

	// Buffer emptied behind the scheduler's back.
	require.Equal(t, 0, s.Poll(200, 0))
	require.False(t, s.flushAt.set)

	require.Equal(t, 0, s.Poll(200, 1))
	require.Equal(t, 0, s.Poll(299, 1))
	require.Equal(t, 1, s.Poll(300, 1))

	s.Poll(300, 1)
	s.Cleared()
	require.False(t, s.flushAt.set)
}
