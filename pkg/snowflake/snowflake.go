// Package snowflake issues the time-ordered sequence numbers the gateway
// stamps on every fanned-out event. History is clustered by these numbers.
package snowflake

import (
	"fmt"
	"sync"
	"time"
)

const (
	nodeBits        = 10
	stepBits        = 12
	nodeMax         = -1 ^ (-1 << nodeBits)
	stepMask        = -1 ^ (-1 << stepBits)
	timeShift       = nodeBits + stepBits
	nodeShift       = stepBits
	epoch     int64 = 1704067200000 // 2024-01-01 00:00:00 UTC
)

type Sequencer struct {
	mu   sync.Mutex
	last int64
	node int64
	step int64
	now  func() int64
}

func NewSequencer(node int64) (*Sequencer, error) {
	if node < 0 || node > nodeMax {
		return nil, fmt.Errorf("node number must be between 0 and %d, got %d", nodeMax, node)
	}
	return &Sequencer{
		node: node,
		now:  func() int64 { return time.Now().UnixMilli() },
	}, nil
}

// Next returns a value strictly greater than every value previously returned
// by this sequencer.
func (s *Sequencer) Next() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now < s.last {
		// clock moved backwards; stay on the last issued millisecond
		now = s.last
	}

	if now == s.last {
		s.step = (s.step + 1) & stepMask
		if s.step == 0 {
			for now <= s.last {
				now = s.now()
			}
		}
	} else {
		s.step = 0
	}
	s.last = now

	return ((now - epoch) << timeShift) | (s.node << nodeShift) | s.step
}

// Time recovers the wall-clock millisecond a sequence number was issued in.
func Time(seq int64) time.Time {
	return time.UnixMilli((seq >> timeShift) + epoch)
}
