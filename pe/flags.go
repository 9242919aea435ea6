package pe

import "sync/atomic"

// Flags is the policy engine's bit set of condition flags. Producers
// outside the port's own event loop (a hardware alert handler calling into
// Wake) can race with the loop reading flags on the next tick, so the
// underlying storage is atomic rather than a plain bit field.
type Flags struct {
	bits atomic.Uint32
}

// Flag identifies a single bit in a Flags set.
type Flag uint32

// Policy engine condition flags.
const (
	// FlagExplicitContract is set once Accept has been received for a
	// Request/EPR_Request and cleared on PE_SNK_TRANSITION_TO_DEFAULT.
	FlagExplicitContract Flag = 1 << iota

	// FlagInEPR is set once EPR_Mode[Enter_Success] has been received and
	// only ever set alongside an EPR-permitting PDO.
	FlagInEPR

	// FlagLocallyInitiatedAMS marks an AMS the port itself started, as
	// opposed to one started by the partner; set by the DPM request
	// dispatcher and cleared on message completion.
	FlagLocallyInitiatedAMS

	// FlagMsgReceived is set by the protocol layer liaison when it
	// deposits a message for the PE to inspect, and cleared by the PE
	// immediately after inspection (ownership handoff per the data
	// model's ordering guarantee).
	FlagMsgReceived

	// FlagTxComplete is set once a send's GoodCRC has been confirmed.
	FlagTxComplete

	// FlagMsgDiscarded is set when an outgoing send was aborted by an
	// unrelated incoming message.
	FlagMsgDiscarded

	// FlagDPMDiscarded is set alongside FlagMsgDiscarded when the
	// discarded send was servicing a DPM-initiated request; awaitResponse
	// then reports sendDPMDiscarded and the servicing state re-pends
	// dpmCurrRequest.
	FlagDPMDiscarded

	// FlagWaitCapTimeout is set when PE_SNK_WAIT_FOR_CAPABILITIES times
	// out without a Source_Capabilities.
	FlagWaitCapTimeout

	// FlagPSTransitionTimeout is set when PE_SNK_TRANSITION_SINK times out
	// without PS_RDY, so the hard reset path knows to re-apply the last
	// contracted limits once electrical defaults are restored.
	FlagPSTransitionTimeout

	// FlagFastRoleSwapSignaled is set by the TCPM driver liaison when the
	// port controller reports an FRS signal; checked before the current
	// state's run on every tick, ahead of the current state's own run.
	FlagFastRoleSwapSignaled

	// FlagProtocolError is set by message-handling code that detects a
	// framing or ordering fault; the owning state's run converts it per
	// the owning state's propagation policy.
	FlagProtocolError

	// FlagFRSPath is cleared on entry to the PE_PRS_FRS_SHARED parent
	// state so its children inherit a known starting condition,
	// distinguishing a normal sink-initiated swap from an FRS-triggered
	// one.
	FlagFRSPath

	// FlagWait is set when a Request was answered with Wait, so
	// PE_SNK_READY's entry knows to arm the SinkRequest retry timer.
	FlagWait

	// FlagFirstMsg marks the PD 2.0 post-startup jitter window in
	// PE_SNK_READY, cleared once WaitAndAddJitter has been consulted once.
	FlagFirstMsg

	// FlagModalOperation would be set while an alternate mode is active;
	// this build never enters one, so the flag is always clear, but the
	// DR_Swap-receipt check that reads it stays in place for parity with
	// a fuller build.
	FlagModalOperation

	// FlagEnteringEPR marks an in-flight EPR mode entry attempt; cleared
	// on soft reset per PE_SEND_SOFT_RESET's entry.
	FlagEnteringEPR

	// FlagEPRExplicitExit distinguishes a sink-initiated EPR exit from a
	// source-initiated one, for PE_SNK_EPR_MODE_EXIT_RECEIVED.
	FlagEPRExplicitExit

	// FlagPRSwapComplete marks a power role swap that reached PS_RDY
	// transmission, read by PE_PRS_SNK_SRC_Source_On's exit to tell TC
	// whether the swap actually completed.
	FlagPRSwapComplete

	// FlagAccept marks a swap request the port decided to accept, read
	// once the Accept message's GoodCRC confirms transmission.
	FlagAccept
)

// Set raises f.
func (s *Flags) Set(f Flag) { s.bits.Or(uint32(f)) }

// Clear lowers f.
func (s *Flags) Clear(f Flag) { s.bits.And(^uint32(f)) }

// Has reports whether f is raised.
func (s *Flags) Has(f Flag) bool { return s.bits.Load()&uint32(f) != 0 }

// ClearAll lowers every flag, used on hard reset and port re-init.
func (s *Flags) ClearAll() { s.bits.Store(0) }
