// Package pe implements the sink-role USB Power Delivery Policy Engine: a
// hierarchical state machine that negotiates a power contract over a
// Protocol Layer port, driven one tick at a time by an outer event loop.
package pe

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/puzrin/pdsink/dpm"
	"github.com/puzrin/pdsink/pdmsg"
	"github.com/puzrin/pdsink/pdtimer"
	"github.com/puzrin/pdsink/prl"
	"github.com/puzrin/pdsink/tc"
	"github.com/puzrin/pdsink/tcpm"
)

// Retry/timing constants. Ranges quote the PD spec; this build uses the
// value the teacher's reference PE used where one exists, and the spec's
// stated default otherwise.
const (
	// NHardResetCount bounds hard_reset_counter; exceeding it declares the
	// source non-responsive.
	NHardResetCount = 2

	// NSnkSrcPRSwapCount is the retry bound for a sink-initiated power role
	// swap answered with Wait. No state reads it: PE_PRS_SNK_SRC_Send_Swap
	// ends the attempt on the first Wait without retrying.
	NSnkSrcPRSwapCount = 5

	timerSenderResponse   = 30 * time.Millisecond
	timerPSTransition     = 550 * time.Millisecond
	timerSrcTransition    = 35 * time.Millisecond
	timerSinkWaitCap      = 620 * time.Millisecond
	timerSinkRequest      = 100 * time.Millisecond
	timerBISTContMode     = 50 * time.Millisecond
	timerSinkEPREnter     = 500 * time.Millisecond
	timerSinkEPRKeepAlive = 500 * time.Millisecond
	timerPRSwapWait       = 100 * time.Millisecond
	timerPSSourceOff      = 835 * time.Millisecond
	timerPowerSupplyOn    = 435 * time.Millisecond

	// srcSnkReadyHoldOffUS is the PD 2.0 jitter base added in
	// PE_SNK_READY before the post-startup request retry, to avoid both
	// ends of the link transmitting at the same instant.
	srcSnkReadyHoldOffUS = 200 * time.Millisecond
)

// waitAndAddJitter implements WAIT_AND_ADD_JITTER = 200ms + (clock_low4 *
// 23ms). The reference implementation reads the low 4 bits of a
// free-running hardware counter register; lacking that register, this
// build uses the low 4 bits of the monotonic clock's nanosecond count,
// which is just as unpredictable between ports for the purpose of
// collision avoidance.
func waitAndAddJitter() time.Duration {
	low4 := time.Now().UnixNano() & 0xf
	return srcSnkReadyHoldOffUS + time.Duration(low4)*23*time.Millisecond
}

// state represents one node of the policy engine's hierarchical state
// machine.
type state struct {
	Name string

	// Enter runs once on entry. A non-nil returned state causes an
	// immediate exit/entry into that state, without ever calling Run.
	Enter func(*PolicyEngine) (*state, error)

	// Run is called once per tick while the PE remains in this state,
	// after PolicyEngine has refreshed the rx/timeout/event view for this
	// tick. A nil state together with nil error means stay.
	Run func(*PolicyEngine) (*state, error)

	// Exit runs once when Enter or Run returns a different state.
	Exit func(*PolicyEngine) error

	// Parent is non-nil only for states nested inside the PRS/FRS shared
	// super-state. Parent.Enter fires on the first entry into the
	// subtree, Parent.Exit on leaving it.
	Parent *state
}

// smPhase tracks the event-loop-visible run state of a port, mirroring
// pe_run's SM_INIT/SM_PAUSED/SM_RUN distinction.
type smPhase uint8

const (
	smInit smPhase = iota
	smPaused
	smRun
)

// PolicyEngine is the per-port policy engine record.
type PolicyEngine struct {
	Port int

	PRL   prl.Port
	DPM   dpm.Port
	TC    tc.Port
	Timer *pdtimer.Service

	// TCPM is used only by the BIST states, which per spec.md §4.5 call
	// directly into the TCPM driver contract (carrier-mode transmission,
	// receiver test mode) rather than through the PRL's message framing.
	// May be nil, in which case a BIST Carrier Mode request returns straight
	// to PE_SNK_Ready and BIST Test Data leaves the TCPC's test mode off.
	TCPM tcpm.Driver

	Log *zap.SugaredLogger

	sm  smPhase
	cur *state
	previous *state

	powerRole pdmsg.PowerRole
	dataRole  pdmsg.DataRole
	flags     Flags

	dpmCurrRequest dpm.Request

	softResetSOP prl.SOP

	requestedIdx  uint8
	currLimit     uint16
	supplyVoltage uint16

	srcCaps     []pdmsg.PDO
	srcCapCount int // -1 denotes a failed retrieval
	snkCaps     []pdmsg.PDO

	hardResetCounter        int
	capsCounter             int
	discoverIdentityCounter int
	drSwapAttemptCounter    int
	srcSnkPRSwapCounter     int
	vconnSwapCounter        int
	requestedVconnRole      int

	pendingRDO pdmsg.RequestDO

	partnerRevision pdmsg.Revision

	adoMu sync.Mutex
	ado   uint32

	// Per-tick rx view, refreshed by Step before invoking the current
	// state. rxSOP/rxMsg are only meaningful while flags.Has(FlagMsgReceived).
	rxSOP prl.SOP
	rxMsg pdmsg.Message
}

// New creates a PolicyEngine for the given port, wired to its collaborator
// ports. drv and log may be nil.
func New(port int, p prl.Port, d dpm.Port, t tc.Port, timer *pdtimer.Service, drv tcpm.Driver, log *zap.SugaredLogger) *PolicyEngine {
	return &PolicyEngine{
		Port: port, PRL: p, DPM: d, TC: t, Timer: timer, TCPM: drv, Log: log,
	}
}

func (pe *PolicyEngine) debugf(format string, args ...any) {
	if pe.Log != nil {
		pe.Log.Debugf(format, args...)
	}
}

// Step advances the policy engine by one tick. enable mirrors pe_run's
// third argument: false pauses the port (exits the current state without
// entering another), true runs or resumes it. Callers (the event loop)
// must call Step exactly once per wake-up.
func (pe *PolicyEngine) Step(enable bool) {
	switch pe.sm {
	case smInit:
		pe.init()
		pe.sm = smRun
	case smPaused:
		if !enable {
			return
		}
		pe.init()
		pe.sm = smRun
	case smRun:
		if !enable {
			if pe.cur != nil && pe.cur.Exit != nil {
				_ = pe.cur.Exit(pe)
			}
			pe.cur = nil
			pe.sm = smPaused
			return
		}
	}

	pe.refreshRxView()

	// "ANY state" checks, evaluated before the current state's run.
	if pe.DPM.Pending()&requestHardResetSend != 0 {
		pe.DPM.ClearRequest(requestHardResetSend)
		if pe.flags.Has(FlagFRSPath) {
			pe.transitionTo(stateWaitForErrorRecovery)
			return
		}
		pe.transitionTo(stateSnkHardReset)
		return
	}
	if pe.flags.Has(FlagFastRoleSwapSignaled) {
		pe.flags.Clear(FlagFastRoleSwapSignaled)
		pe.transitionTo(stateFRSSnkSrcStartAMS)
		return
	}

	if pe.cur == nil {
		return
	}
	next, err := pe.cur.Run(pe)
	pe.handleResult(next, err)
}

// NotifyHardResetSignal is called by the event loop when the TCPM driver
// reports the hard-reset BMC signal on the wire — distinct from a framed
// message and from a DPM-requested hard reset, but handled identically
// once observed.
func (pe *PolicyEngine) NotifyHardResetSignal() {
	if pe.flags.Has(FlagFRSPath) {
		pe.transitionTo(stateWaitForErrorRecovery)
		return
	}
	pe.transitionTo(stateSnkHardReset)
}

// requestHardResetSend is a dpm.Request bit meaning "send a hard reset",
// distinct from the capability-negotiation request bits dpm exports; it is
// PE-internal because only the PE decides when a hard reset is warranted,
// the DPM only asks for one via SetPEReady(false) style hooks in a fuller
// build. Declared as its own bit here so the "ANY state" check has a
// uniform place to look.
const requestHardResetSend dpm.Request = 1 << 30

func (pe *PolicyEngine) init() {
	pe.flags.ClearAll()
	pe.dpmCurrRequest = 0
	pe.powerRole = pdmsg.PowerRoleSink
	if pe.TC != nil {
		pe.powerRole = pe.TC.GetPowerRole()
		pe.dataRole = pe.TC.GetDataRole()
	}
	pe.DPM.Init()
	pe.cur = nil
	pe.transitionTo(stateSnkStartup)
}

// refreshRxView pulls one pending message off the PRL, if any, and
// populates the per-tick view the current state's Run observes.
func (pe *PolicyEngine) refreshRxView() {
	sop, msg, ok, err := pe.PRL.Poll()
	if err != nil {
		pe.flags.Set(FlagProtocolError)
		return
	}
	if ok {
		pe.rxSOP, pe.rxMsg = sop, msg
		pe.flags.Set(FlagMsgReceived)
	}
}

// consumeRx clears FlagMsgReceived, handing buffer ownership back to the
// PRL per the data model's ordering guarantee.
func (pe *PolicyEngine) consumeRx() {
	pe.flags.Clear(FlagMsgReceived)
}

func (pe *PolicyEngine) handleResult(next *state, err error) {
	if err != nil {
		next = pe.convertError(err)
	}
	if next != nil {
		pe.transitionTo(next)
	}
}

// convertError implements the default error propagation path: outside
// the power-transitioning state group (which converts PROTOCOL_ERROR
// itself, inline in each state's Run), TxError or ProtocolError issues a
// Soft_Reset toward the offending SOP, unless the current AMS is
// non-interruptible, in which case it escalates to hard reset. This
// simplified build treats every AMS as interruptible except the explicit
// sender-response phases already embedded inside each state, so a returned
// error here always routes to soft reset first; PE_SEND_SOFT_RESET itself
// escalates a repeat failure to hard reset per its own Run.
func (pe *PolicyEngine) convertError(err error) *state {
	pe.debugf("pe[%d]: error in state %s: %v", pe.Port, pe.cur.Name, err)
	pe.softResetSOP = pe.rxSOP
	return stateSendSoftReset
}

func (pe *PolicyEngine) transitionTo(next *state) {
	cur := pe.cur
	if cur != nil {
		if cur.Exit != nil {
			_ = cur.Exit(pe)
		}
		if cur.Parent != nil && (next == nil || next.Parent != cur.Parent) {
			if cur.Parent.Exit != nil {
				_ = cur.Parent.Exit(pe)
			}
		}
	}
	pe.previous = cur

	if next != nil && next.Parent != nil && (cur == nil || cur.Parent != next.Parent) {
		if next.Parent.Enter != nil {
			_, _ = next.Parent.Enter(pe)
		}
	}

	pe.cur = next
	if next == nil {
		return
	}
	pe.debugf("pe[%d]: -> %s", pe.Port, next.Name)
	if next.Enter != nil {
		n, err := next.Enter(pe)
		if err != nil {
			pe.handleResult(nil, err)
			return
		}
		if n != nil {
			pe.transitionTo(n)
		}
	}
}

// sendCtrl is a small helper most states use to send a control message
// toward the port partner. The sender-response timer is armed later, once
// awaitResponse observes the send actually complete.
func (pe *PolicyEngine) sendCtrl(t pdmsg.Type) error {
	return pe.PRL.SendCtrlMsg(prl.SOPPartner, t)
}

func (pe *PolicyEngine) senderResponseExpired() bool {
	return pe.Timer.IsExpired(pe.Port, pdtimer.SenderResponse)
}

// CurrentStateName returns the human-readable name of the current state,
// or the empty string if the port is paused.
func (pe *PolicyEngine) CurrentStateName() string {
	if pe.cur == nil {
		return ""
	}
	return pe.cur.Name
}

// ExplicitContract reports whether a PD power contract is currently in
// force. It becomes true on Accept; CurrLimit/SupplyVoltage take the newly
// contracted values only once PS_RDY arrives, and are zero whenever no
// contract has been in force since the last reset.
func (pe *PolicyEngine) ExplicitContract() bool { return pe.flags.Has(FlagExplicitContract) }

// InEPR reports whether the port currently holds an EPR contract.
func (pe *PolicyEngine) InEPR() bool { return pe.flags.Has(FlagInEPR) }

// CurrLimit returns the contracted current limit in milliamps.
func (pe *PolicyEngine) CurrLimit() uint16 { return pe.currLimit }

// SupplyVoltage returns the contracted voltage in millivolts.
func (pe *PolicyEngine) SupplyVoltage() uint16 { return pe.supplyVoltage }

// SetADO sets the alert data object from outside the port's own event
// loop (e.g. a host command path), guarded by its own mutex per the
// concurrency model's note that ado is the one PE datum written
// cross-goroutine.
func (pe *PolicyEngine) SetADO(v uint32) {
	pe.adoMu.Lock()
	pe.ado = v
	pe.adoMu.Unlock()
}

func (pe *PolicyEngine) getADO() uint32 {
	pe.adoMu.Lock()
	defer pe.adoMu.Unlock()
	return pe.ado
}
