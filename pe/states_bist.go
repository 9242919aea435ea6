package pe

import (
	"github.com/puzrin/pdsink/pdtimer"
	"github.com/puzrin/pdsink/tcpm"
)

// BIST Data Object mode field, bits 31:28 of the single data object carried
// by a BIST message (PD 3.1 Table 6-62).
const (
	bistModeReceiverMode = 0
	bistModeCarrier2     = 3
	bistModeTestData     = 5
	bistModeSharedEntry  = 6
	bistModeSharedExit   = 7
)

func bistMode(do uint32) uint32 { return do >> 28 }

// stateBISTTxSend is entered on a received BIST data message in
// PE_SNK_Ready. It dispatches on the BIST Data Object's mode field and is
// refused outright unless VBUS is known to be at vSafe5V; this sink build
// tracks no finer-grained voltage state than TC attachment, so "attached as
// sink" stands in for vSafe5V present.
var stateBISTTxSend = &state{
	Name:  "PE_BIST_TX",
	Enter: bistTxSendEnter,
	Run:   bistTxSendRun,
}

func bistTxSendEnter(pe *PolicyEngine) (*state, error) {
	if pe.TC == nil || !pe.TC.IsAttachedSnk() {
		pe.finishDPMRequest()
		return stateSnkReady, nil
	}
	if !pe.flags.Has(FlagMsgReceived) {
		pe.finishDPMRequest()
		return stateSnkReady, nil
	}
	m := pe.rxMsg
	pe.consumeRx()
	if m.DataObjectCount() == 0 {
		pe.finishDPMRequest()
		return stateSnkReady, nil
	}

	switch bistMode(m.Data[0]) {
	case bistModeCarrier2:
		if pe.TCPM == nil {
			pe.finishDPMRequest()
			return stateSnkReady, nil
		}
		if err := pe.TCPM.Transmit(tcpm.TxBISTCarrierMode2, m); err != nil {
			pe.finishDPMRequest()
			return stateSnkReady, err
		}
		pe.Timer.Enable(pe.Port, pdtimer.BISTContMode, timerBISTContMode)
		return nil, nil

	case bistModeTestData:
		if pe.TCPM != nil {
			_ = pe.TCPM.SetBISTTestMode(tcpm.BISTTestModeOn)
		}
		// Remains quiescent (no Run transition) until a hard reset.
		return nil, nil

	case bistModeSharedEntry:
		pe.finishDPMRequest()
		if err := pe.DPM.BISTSharedModeEnter(); err != nil {
			return stateSnkReady, nil
		}
		return stateSnkReady, nil

	case bistModeSharedExit:
		pe.finishDPMRequest()
		pe.DPM.BISTSharedModeExit()
		return stateSnkReady, nil

	default:
		pe.finishDPMRequest()
		return stateSnkReady, nil
	}
}

func bistTxSendRun(pe *PolicyEngine) (*state, error) {
	if pe.Timer.IsExpired(pe.Port, pdtimer.BISTContMode) {
		pe.Timer.Disable(pe.Port, pdtimer.BISTContMode)
		pe.finishDPMRequest()
		return stateSnkTransitionToDefault, nil
	}
	return nil, nil
}
