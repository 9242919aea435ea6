// Package ploop implements the per-port event loop that ties a TCPM
// driver, a Protocol Layer port, and a Policy Engine together into one
// cooperative tick. It is the Go counterpart of pd_loop/pd_run: the PE
// itself never touches the driver or a goroutine, it only ever sees one
// Step call per tick.
package ploop

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/puzrin/pdsink/pe"
	"github.com/puzrin/pdsink/prl"
	"github.com/puzrin/pdsink/tcpm"
)

// tickInterval is how often Run nudges the loop even with no alert or
// explicit wake, so timer-driven transitions (SENDER_RESPONSE, PS_TRANSITION,
// ...) are observed promptly. The reference loop recommends 1-5ms; this
// build uses the middle of that range.
const tickInterval = 3 * time.Millisecond

// Loop is the per-port event loop. It drains driver alerts into the
// Protocol Layer, then steps the Policy Engine once, coalescing concurrent
// wake-ups (hardware alert, timer tick, explicit wake) the same way
// pd_loop does: one invocation runs at a time, and wake-ups that arrive
// while it is running are folded into a single deferred replay rather than
// queued or dropped.
type Loop struct {
	port int

	pe  *pe.PolicyEngine
	prl prl.EventPort
	drv tcpm.Driver
	log *zap.SugaredLogger

	enabled atomic.Bool

	mailbox mailbox
}

// New creates a Loop for the given port. drv may be nil for a port whose
// PE is driven entirely by a test harness feeding prl directly; log may be
// nil.
func New(port int, p *pe.PolicyEngine, prlPort prl.EventPort, drv tcpm.Driver, log *zap.SugaredLogger) *Loop {
	l := &Loop{port: port, pe: p, prl: prlPort, drv: drv, log: log}
	l.enabled.Store(true)
	return l
}

// SetEnabled mirrors tc_get_pd_enabled(port): disabling makes the next
// Wake exit the PE's current state without entering another ("pause"),
// and a later re-enable re-initializes it.
func (l *Loop) SetEnabled(v bool) { l.enabled.Store(v) }

func (l *Loop) debugf(format string, args ...any) {
	if l.log != nil {
		l.log.Debugf(format, args...)
	}
}

// Wake runs one coalesced pass of the event loop: drain the driver alert (if
// any), advance the Protocol Layer, and step the Policy Engine. Call it from
// a hardware alert handler, a periodic tick, or any code path that needs to
// nudge the port (pd_loop_set_event / timer interrupt / pd_loop_wake all
// collapse into this one entry point). Safe to call concurrently: a caller
// that arrives while another Wake is in progress never runs step
// concurrently with it, it only guarantees step runs at least once more
// after the in-progress call observes its own work is done.
func (l *Loop) Wake() {
	if !l.mailbox.claim() {
		return
	}
	for {
		l.step()
		if !l.mailbox.releaseOrReplay() {
			return
		}
	}
}

// Run starts a ticker that calls Wake every tickInterval, so timer-armed
// transitions fire even with no driver alert pending. It blocks until ctx
// is done. Only one call to Run should be in flight per Loop.
func (l *Loop) Run(ctx context.Context) {
	t := time.NewTicker(tickInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.Wake()
		}
	}
}

func (l *Loop) step() {
	if l.drv != nil {
		ev, err := l.drv.Alert()
		if err != nil {
			l.debugf("ploop[%d]: alert error: %v", l.port, err)
		} else {
			l.handleEvents(ev)
		}
	}
	l.pe.Step(l.enabled.Load())
}

// handleEvents drains every bit Alert reported, in the driver's declared
// priority order, and feeds the Protocol Layer (or the Policy Engine
// directly, for the hard-reset BMC signal) accordingly.
func (l *Loop) handleEvents(ev tcpm.Event) {
	for e := ev.Pop(); e != tcpm.EventNone; e = ev.Pop() {
		switch e {
		case tcpm.EventHardResetRecv:
			l.pe.NotifyHardResetSignal()

		case tcpm.EventTxSuccess, tcpm.EventTxFailed:
			// The FUSB302 (and most TCPCs) only ever has one physical
			// transmission in flight, so whichever SOP the Protocol Layer
			// is still waiting on is the one this alert belongs to.
			if sop, ok := l.prl.PendingTxSOP(); ok {
				_ = l.prl.NotifyTxResult(sop, e == tcpm.EventTxSuccess, time.Now())
			}

		case tcpm.EventRx:
			l.drainRx()

		// EventSoftResetRecv, EventResetRecv, EventPower*, EventVBUS*, and
		// EventBISTModeEntered carry no event-loop-level action of their
		// own: the soft reset (and any other control message) is also
		// delivered as a framed message through EventRx, and VBUS/current
		// state is read directly from tc.Port by the states that care.
		default:
		}
	}
}

func (l *Loop) drainRx() {
	for {
		m, ok := l.drv.GetMessage()
		if !ok {
			return
		}
		// This build's reference driver never distinguishes SOP/SOP'/SOP''
		// on receive (see tcpm/fusb302), so every inbound message is
		// attributed to the port partner.
		l.prl.NotifyRx(prl.SOPPartner, m)
	}
}

// mailbox is the one-shot coalescing guard pd_loop implements with two
// atomic_flags. A bool pair under one mutex expresses the same state
// machine more plainly in Go: at most one Wake runs step at a time, and at
// most one more pending wake-up is remembered while it does.
type mailbox struct {
	mu       sync.Mutex
	running  bool
	deferred bool
}

// claim reports whether the caller won the right to run step now. A
// caller that loses only leaves a note (deferred) for the winner to pick
// up.
func (m *mailbox) claim() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		m.deferred = true
		return false
	}
	m.running = true
	return true
}

// releaseOrReplay reports whether the caller must run step again before
// giving up the claim: true if a wake-up was deferred while step ran.
func (m *mailbox) releaseOrReplay() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deferred {
		m.deferred = false
		return true
	}
	m.running = false
	return false
}
