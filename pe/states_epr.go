package pe

import (
	"github.com/puzrin/pdsink/pdmsg"
	"github.com/puzrin/pdsink/pdtimer"
	"github.com/puzrin/pdsink/prl"
)

// EPR_Mode data object action codes (PD 3.1 Table 6-50). pdmsg only frames
// the generic data-message envelope, so the EPR-specific payload is unpacked
// here rather than in that package.
const (
	eprActionEnter        = 1
	eprActionEnterAck     = 2
	eprActionEnterSuccess = 3
	eprActionEnterFailed  = 4
	eprActionExit         = 5
)

func eprModeDO(action, data uint32) uint32 {
	return action&0xff | (data&0xff)<<8
}

func eprModeAction(v uint32) uint32 { return v & 0xff }

// stateEPRModeEntry sends EPR_Mode[Enter] and waits for the acknowledge that
// precedes the partner's own capability re-announcement.
var stateEPRModeEntry = &state{
	Name:  "PE_SNK_Send_EPR_Mode_Entry",
	Enter: eprModeEntryEnter,
	Run:   eprModeEntryRun,
	Exit:  eprModeEntryExit,
}

func eprModeEntryEnter(pe *PolicyEngine) (*state, error) {
	pe.flags.Set(FlagEnteringEPR)
	pe.Timer.Enable(pe.Port, pdtimer.SinkEPREnter, timerSinkEPREnter)
	return nil, pe.PRL.SendDataMsg(prl.SOPPartner, pdmsg.TypeEPRMode, []uint32{eprModeDO(eprActionEnter, 0)})
}

func eprModeEntryRun(pe *PolicyEngine) (*state, error) {
	switch pe.awaitResponse(prl.SOPPartner) {
	case sendDiscarded:
		pe.flags.Clear(FlagEnteringEPR)
		pe.finishDPMRequest()
		return stateSnkReady, nil
	case sendDPMDiscarded:
		pe.flags.Clear(FlagEnteringEPR)
		pe.rependDPMRequest()
		return stateSnkReady, nil
	case sendFailed:
		pe.flags.Clear(FlagEnteringEPR)
		pe.softResetSOP = prl.SOPPartner
		return stateSendSoftReset, nil
	case sendReplyReceived:
		m := pe.rxMsg
		pe.consumeRx()
		if !m.IsExtended() && m.DataObjectCount() > 0 && m.Type() == pdmsg.TypeEPRMode {
			if eprModeAction(m.Data[0]) == eprActionEnterAck {
				return stateEPRModeEntryWaitForResponse, nil
			}
		}
		pe.flags.Clear(FlagEnteringEPR)
		pe.softResetSOP = prl.SOPPartner
		return stateSendSoftReset, nil
	}
	if pe.Timer.IsExpired(pe.Port, pdtimer.SinkEPREnter) || pe.senderResponseExpired() {
		pe.softResetSOP = prl.SOPPartner
		return stateSendSoftReset, nil
	}
	return nil, nil
}

func eprModeEntryExit(pe *PolicyEngine) error {
	return nil
}

// stateEPRModeEntryWaitForResponse waits out the partner's preparation
// window for ENTER_SUCCESS before the sink re-enters capability negotiation
// under EPR.
var stateEPRModeEntryWaitForResponse = &state{
	Name: "PE_SNK_EPR_Mode_Entry_Wait_For_Response",
	Run:  eprModeEntryWaitForResponseRun,
	Exit: eprModeEntryWaitForResponseExit,
}

func eprModeEntryWaitForResponseRun(pe *PolicyEngine) (*state, error) {
	if pe.flags.Has(FlagMsgReceived) {
		m := pe.rxMsg
		pe.consumeRx()
		if !m.IsExtended() && m.DataObjectCount() > 0 && m.Type() == pdmsg.TypeEPRMode {
			switch eprModeAction(m.Data[0]) {
			case eprActionEnterSuccess:
				pe.flags.Clear(FlagEnteringEPR)
				pe.flags.Set(FlagInEPR)
				pe.finishDPMRequest()
				return stateSnkWaitForCapabilities, nil
			case eprActionEnterFailed:
				pe.flags.Clear(FlagEnteringEPR)
			}
		} else if !m.IsExtended() && m.DataObjectCount() == 0 && m.Type() == pdmsg.TypeVCONNSwap {
			return stateVCONNSwapNotSupported, nil
		}
		pe.softResetSOP = prl.SOPPartner
		return stateSendSoftReset, nil
	}
	if pe.Timer.IsExpired(pe.Port, pdtimer.SinkEPREnter) {
		pe.flags.Set(FlagWaitCapTimeout)
		pe.softResetSOP = prl.SOPPartner
		return stateSendSoftReset, nil
	}
	return nil, nil
}

func eprModeEntryWaitForResponseExit(pe *PolicyEngine) error {
	pe.Timer.Disable(pe.Port, pdtimer.SinkEPREnter)
	return nil
}

// stateEPRModeExit sends EPR_Mode[Exit], a sink-initiated explicit exit back
// to SPR capability negotiation.
var stateEPRModeExit = &state{
	Name:  "PE_SNK_Send_EPR_Mode_Exit",
	Enter: eprModeExitEnter,
	Run:   eprModeExitRun,
}

func eprModeExitEnter(pe *PolicyEngine) (*state, error) {
	pe.flags.Set(FlagEPRExplicitExit)
	return nil, pe.PRL.SendDataMsg(prl.SOPPartner, pdmsg.TypeEPRMode, []uint32{eprModeDO(eprActionExit, 0)})
}

func eprModeExitRun(pe *PolicyEngine) (*state, error) {
	switch pe.awaitResponse(prl.SOPPartner) {
	case sendDiscarded:
		pe.finishDPMRequest()
		return stateSnkReady, nil
	case sendDPMDiscarded:
		pe.rependDPMRequest()
		return stateSnkReady, nil
	case sendTimedOut, sendFailed:
		pe.flags.Clear(FlagInEPR)
		pe.finishDPMRequest()
		return stateSnkWaitForCapabilities, nil
	}
	if pe.flags.Has(FlagTxComplete) {
		pe.flags.Clear(FlagTxComplete)
		pe.flags.Clear(FlagInEPR)
		pe.finishDPMRequest()
		return stateSnkWaitForCapabilities, nil
	}
	return nil, nil
}

// stateEPRModeExitReceived handles a source-initiated EPR_Mode[Exit].
var stateEPRModeExitReceived = &state{
	Name:  "PE_SNK_EPR_Mode_Exit_Received",
	Enter: eprModeExitReceivedEnter,
}

func eprModeExitReceivedEnter(pe *PolicyEngine) (*state, error) {
	pe.flags.Clear(FlagEPRExplicitExit)
	pe.flags.Clear(FlagInEPR)
	return stateSnkWaitForCapabilities, nil
}

// stateSnkEPRKeepAlive sends a periodic EPR_KeepAlive while an EPR contract
// is in force, holding the source's EPR-mode timer open.
var stateSnkEPRKeepAlive = &state{
	Name:  "PE_SNK_EPR_Keep_Alive",
	Enter: snkEPRKeepAliveEnter,
	Run:   snkEPRKeepAliveRun,
}

func snkEPRKeepAliveEnter(pe *PolicyEngine) (*state, error) {
	return nil, pe.sendCtrl(pdmsg.TypeEPRKeepAlive)
}

func snkEPRKeepAliveRun(pe *PolicyEngine) (*state, error) {
	switch pe.awaitResponse(prl.SOPPartner) {
	case sendDiscarded:
		pe.finishDPMRequest()
		return stateSnkReady, nil
	case sendDPMDiscarded:
		pe.rependDPMRequest()
		return stateSnkReady, nil
	case sendTimedOut, sendFailed:
		pe.finishDPMRequest()
		return stateSnkHardReset, nil
	case sendReplyReceived:
		m := pe.rxMsg
		pe.consumeRx()
		if !m.IsExtended() && m.DataObjectCount() == 0 && m.Type() == pdmsg.TypeEPRKeepAlive {
			pe.finishDPMRequest()
			return stateSnkReady, nil
		}
		pe.softResetSOP = pe.rxSOP
		return stateSendSoftReset, nil
	}
	return nil, nil
}
