// Package pdtimer implements the monotonic, per-port named timer service
// the policy engine arms and polls. Timers are absolute microsecond
// deadlines, not countdowns: once enabled, a slot stays expired until
// explicitly disabled or re-enabled, matching the "ANY state" polling model
// of the policy engine's event loop.
package pdtimer

import (
	"sync"
	"time"
)

// Slot identifies one of a port's named timers.
type Slot int

// The full set of timer slots a policy engine port may arm. Unused slots
// for a given build still exist so PE code can refer to them uniformly;
// they are simply never enabled.
const (
	SenderResponse Slot = iota
	PSTransition
	PSSource
	SrcTransition
	SinkRequest
	SinkEPRKeepAlive
	SinkEPREnter
	DiscoverIdentity
	WaitAndAddJitter
	ChunkingNotSupported
	BISTContMode
	PRSwapWait
	Timeout

	numSlots
)

// unreachable is the sentinel deadline for a disabled slot: a time so far in
// the future that IsExpired never observes it true until explicitly armed.
var unreachable = time.Unix(1<<63-62135596801, 999999999)

// Service owns the timer slots for a fixed number of ports. It is safe for
// concurrent use: Enable/Disable may be called from a hardware alert path
// while the event loop concurrently polls IsExpired.
type Service struct {
	mu      sync.Mutex
	ports   int
	deadline [][]time.Time
}

// New creates a timer service for the given number of ports, all slots
// initially disabled.
func New(ports int) *Service {
	s := &Service{ports: ports, deadline: make([][]time.Time, ports)}
	for p := range s.deadline {
		s.deadline[p] = make([]time.Time, numSlots)
		for i := range s.deadline[p] {
			s.deadline[p][i] = unreachable
		}
	}
	return s
}

// Enable arms a timer slot to expire after d has elapsed from now.
func (s *Service) Enable(port int, slot Slot, d time.Duration) {
	s.mu.Lock()
	s.deadline[port][slot] = time.Now().Add(d)
	s.mu.Unlock()
}

// EnableAt arms a timer slot to expire at the given absolute deadline. Used
// by the sender-response facility to compensate for TX latency by
// subtracting an offset from the nominal duration before calling Enable;
// EnableAt lets a caller that already computed the deadline skip the
// subtraction step.
func (s *Service) EnableAt(port int, slot Slot, deadline time.Time) {
	s.mu.Lock()
	s.deadline[port][slot] = deadline
	s.mu.Unlock()
}

// Disable disarms a single timer slot.
func (s *Service) Disable(port int, slot Slot) {
	s.mu.Lock()
	s.deadline[port][slot] = unreachable
	s.mu.Unlock()
}

// DisableRange disarms every slot in [first, last], inclusive.
func (s *Service) DisableRange(port int, first, last Slot) {
	s.mu.Lock()
	for sl := first; sl <= last; sl++ {
		s.deadline[port][sl] = unreachable
	}
	s.mu.Unlock()
}

// DisableAll disarms every timer slot for a port.
func (s *Service) DisableAll(port int) {
	s.DisableRange(port, 0, numSlots-1)
}

// IsExpired returns true if the slot is armed and its deadline has passed.
func (s *Service) IsExpired(port int, slot Slot) bool {
	s.mu.Lock()
	d := s.deadline[port][slot]
	s.mu.Unlock()
	return d != unreachable && !time.Now().Before(d)
}

// IsDisabled returns true if the slot currently holds no deadline.
func (s *Service) IsDisabled(port int, slot Slot) bool {
	s.mu.Lock()
	d := s.deadline[port][slot]
	s.mu.Unlock()
	return d == unreachable
}

// Remaining returns the time left until the slot expires, or 0 if it is
// disabled or already expired.
func (s *Service) Remaining(port int, slot Slot) time.Duration {
	s.mu.Lock()
	d := s.deadline[port][slot]
	s.mu.Unlock()
	if d == unreachable {
		return 0
	}
	if r := time.Until(d); r > 0 {
		return r
	}
	return 0
}
