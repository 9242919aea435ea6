package pe

import (
	"github.com/puzrin/pdsink/pdmsg"
	"github.com/puzrin/pdsink/pdtimer"
	"github.com/puzrin/pdsink/prl"
)

// statePRSFRSShared is the parent of the power-role-swap and fast-role-swap
// family. Its Enter assumes the plain PRS path; stateFRSSnkSrcStartAMS sets
// FlagFRSPath right after, once the FRS path is known. Every child below
// shares action code between PRS and FRS, matching the source.
var statePRSFRSShared = &state{
	Name:  "PE_PRS_FRS_SHARED",
	Enter: prsFRSSharedEnter,
}

func prsFRSSharedEnter(pe *PolicyEngine) (*state, error) {
	pe.flags.Clear(FlagFRSPath)
	return nil, nil
}

// stateFRSSnkSrcStartAMS is entered directly from the "ANY state" check in
// Step when the TCPC signals a fast role swap. This build does not carry a
// port through to a running source role; it drives the shared PRS/FRS swap
// machinery through to PE_PRS_SNK_SRC_Source_On and then idles in
// PE_SRC_Disabled, since sourcing as an ongoing role is out of scope.
var stateFRSSnkSrcStartAMS = &state{
	Name:   "PE_FRS_SNK_SRC_Start_AMS",
	Enter:  frsSnkSrcStartAMSEnter,
	Parent: statePRSFRSShared,
}

func frsSnkSrcStartAMSEnter(pe *PolicyEngine) (*state, error) {
	pe.flags.Set(FlagLocallyInitiatedAMS)
	pe.flags.Set(FlagFRSPath)
	pe.invalidateExplicitContract()
	return statePRSwapSnkSrcSendSwap, nil
}

func prsInFRS(pe *PolicyEngine) bool { return pe.flags.Has(FlagFRSPath) }

// statePRSSnkSrcEvaluateSwap handles a partner-initiated PR_Swap.
var statePRSSnkSrcEvaluateSwap = &state{
	Name:   "PE_PRS_SNK_SRC_Evaluate_Swap",
	Enter:  prsSnkSrcEvaluateSwapEnter,
	Run:    prsSnkSrcEvaluateSwapRun,
	Parent: statePRSFRSShared,
}

func prsSnkSrcEvaluateSwapEnter(pe *PolicyEngine) (*state, error) {
	pe.srcSnkPRSwapCounter = 0

	accept := pe.requestPowerSwap()
	if !accept {
		return nil, pe.sendCtrl(pdmsg.TypeReject)
	}
	pe.flags.Set(FlagAccept)
	return nil, pe.sendCtrl(pdmsg.TypeAccept)
}

// requestPowerSwap asks the TC layer whether a power role swap to source is
// currently workable; lacking a dedicated DPM policy hook for this, the TC
// attach state answers the question the capability evaluator would.
func (pe *PolicyEngine) requestPowerSwap() bool {
	if pe.TC == nil {
		return false
	}
	return pe.TC.IsAttachedSnk()
}

func prsSnkSrcEvaluateSwapRun(pe *PolicyEngine) (*state, error) {
	if pe.flags.Has(FlagTxComplete) {
		pe.flags.Clear(FlagTxComplete)
		if pe.flags.Has(FlagAccept) {
			pe.flags.Clear(FlagAccept)
			if pe.TC != nil {
				pe.TC.RequestPowerSwap()
			}
			return statePRSSnkSrcTransitionToOff, nil
		}
		return stateSnkReady, nil
	}
	if pe.flags.Has(FlagProtocolError) {
		pe.flags.Clear(FlagProtocolError)
		if pe.TC != nil {
			pe.TC.PRSwapComplete(false)
		}
	}
	return nil, nil
}

// statePRSwapSnkSrcSendSwap is the locally-initiated counterpart, reached
// either from the DPM dispatcher (a real power role swap request) or from
// stateFRSSnkSrcStartAMS (a fast role swap, distinguished by FlagFRSPath).
// This build's pdmsg codec carries no distinct FR_Swap control type, so the
// FRS path sends the same PR_Swap wire message the normal swap does; the two
// only differ in where a rejection routes to.
var statePRSwapSnkSrcSendSwap = &state{
	Name:   "PE_PRS_SNK_SRC_Send_Swap",
	Enter:  prsSnkSrcSendSwapEnter,
	Run:    prsSnkSrcSendSwapRun,
	Exit:   prsSnkSrcSendSwapExit,
	Parent: statePRSFRSShared,
}

func prsSnkSrcSendSwapEnter(pe *PolicyEngine) (*state, error) {
	return nil, pe.sendCtrl(pdmsg.TypePRSwap)
}

func prsSnkSrcSendSwapRun(pe *PolicyEngine) (*state, error) {
	rejectTarget := func() *state {
		if prsInFRS(pe) {
			return stateWaitForErrorRecovery
		}
		pe.finishDPMRequest()
		return stateSnkReady
	}

	switch pe.awaitResponse(prl.SOPPartner) {
	case sendDiscarded:
		return rejectTarget(), nil
	case sendDPMDiscarded:
		pe.rependDPMRequest()
		return rejectTarget(), nil
	case sendReplyReceived:
		m := pe.rxMsg
		pe.consumeRx()
		if m.DataObjectCount() != 0 || m.IsExtended() {
			return nil, nil
		}
		switch m.Type() {
		case pdmsg.TypeAccept:
			if pe.TC != nil {
				pe.TC.RequestPowerSwap()
			}
			return statePRSSnkSrcTransitionToOff, nil
		case pdmsg.TypeReject, pdmsg.TypeWait:
			return rejectTarget(), nil
		}
	case sendTimedOut, sendFailed:
		return rejectTarget(), nil
	}
	if prsInFRS(pe) && pe.flags.Has(FlagProtocolError) {
		pe.flags.Clear(FlagProtocolError)
		return stateWaitForErrorRecovery, nil
	}
	return nil, nil
}

func prsSnkSrcSendSwapExit(pe *PolicyEngine) error {
	return nil
}

// statePRSSnkSrcTransitionToOff waits for the partner to stop driving VBUS
// before the port asserts Rp and starts sourcing.
var statePRSSnkSrcTransitionToOff = &state{
	Name:   "PE_PRS_SNK_SRC_Transition_To_Off",
	Enter:  prsSnkSrcTransitionToOffEnter,
	Run:    prsSnkSrcTransitionToOffRun,
	Exit:   prsSnkSrcTransitionToOffExit,
	Parent: statePRSFRSShared,
}

func prsSnkSrcTransitionToOffEnter(pe *PolicyEngine) (*state, error) {
	if !prsInFRS(pe) && pe.TC != nil {
		pe.TC.SrcPowerOff()
	}
	pe.Timer.Enable(pe.Port, pdtimer.PSSource, timerPSSourceOff)
	return nil, nil
}

func prsSnkSrcTransitionToOffRun(pe *PolicyEngine) (*state, error) {
	if pe.Timer.IsExpired(pe.Port, pdtimer.PSSource) {
		return stateWaitForErrorRecovery, nil
	}
	if pe.flags.Has(FlagMsgReceived) {
		m := pe.rxMsg
		pe.consumeRx()
		if !m.IsExtended() && m.DataObjectCount() == 0 && m.Type() == pdmsg.TypePSReady {
			return statePRSSnkSrcAssertRp, nil
		}
	}
	return nil, nil
}

func prsSnkSrcTransitionToOffExit(pe *PolicyEngine) error {
	pe.Timer.Disable(pe.Port, pdtimer.PSSource)
	return nil
}

// statePRSSnkSrcAssertRp hands the Type-C layer the swap, and waits for it
// to report the port has actually reattached as a source.
var statePRSSnkSrcAssertRp = &state{
	Name:   "PE_PRS_SNK_SRC_Assert_Rp",
	Enter:  prsSnkSrcAssertRpEnter,
	Run:    prsSnkSrcAssertRpRun,
	Parent: statePRSFRSShared,
}

func prsSnkSrcAssertRpEnter(pe *PolicyEngine) (*state, error) {
	if pe.TC != nil {
		pe.TC.PRSSnkSrcAssertRp()
	}
	return nil, nil
}

func prsSnkSrcAssertRpRun(pe *PolicyEngine) (*state, error) {
	if pe.TC == nil || !pe.TC.IsAttachedSrc() {
		return nil, nil
	}
	if !prsInFRS(pe) {
		pe.invalidateExplicitContract()
	}
	return statePRSSnkSrcSourceOn, nil
}

// statePRSSnkSrcSourceOn waits out the power supply's turn-on delay, then
// tells the partner PS_RDY and completes the swap. This build idles in
// PE_SRC_Disabled afterward rather than running a source-role PE.
var statePRSSnkSrcSourceOn = &state{
	Name:   "PE_PRS_SNK_SRC_Source_On",
	Enter:  prsSnkSrcSourceOnEnter,
	Run:    prsSnkSrcSourceOnRun,
	Exit:   prsSnkSrcSourceOnExit,
	Parent: statePRSFRSShared,
}

func prsSnkSrcSourceOnEnter(pe *PolicyEngine) (*state, error) {
	pe.Timer.Enable(pe.Port, pdtimer.PSSource, timerPowerSupplyOn)
	return nil, nil
}

func prsSnkSrcSourceOnRun(pe *PolicyEngine) (*state, error) {
	if !pe.Timer.IsDisabled(pe.Port, pdtimer.PSSource) {
		if !pe.Timer.IsExpired(pe.Port, pdtimer.PSSource) {
			return nil, nil
		}
		if pe.TC != nil {
			pe.powerRole = pe.TC.GetPowerRole()
		}
		pe.Timer.Disable(pe.Port, pdtimer.PSSource)
		return nil, pe.sendCtrl(pdmsg.TypePSReady)
	}
	if pe.flags.Has(FlagProtocolError) {
		pe.flags.Clear(FlagProtocolError)
		return stateWaitForErrorRecovery, nil
	}
	if pe.flags.Has(FlagTxComplete) {
		pe.flags.Clear(FlagTxComplete)
		pe.flags.Set(FlagPRSwapComplete)
		return stateSrcDisabled, nil
	}
	return nil, nil
}

func prsSnkSrcSourceOnExit(pe *PolicyEngine) error {
	pe.Timer.Disable(pe.Port, pdtimer.PSSource)
	if pe.TC != nil {
		pe.TC.PRSwapComplete(pe.flags.Has(FlagPRSwapComplete))
	}
	pe.flags.Clear(FlagPRSwapComplete)
	pe.finishDPMRequest()
	return nil
}

// stateVCONNSwapNotSupported answers a VCONN_Swap request with Not_Supported;
// this build never sources VCONN.
var stateVCONNSwapNotSupported = &state{
	Name:  "PE_VCS_Send_Not_Supported",
	Enter: vconnSwapNotSupportedEnter,
	Run:   vconnSwapNotSupportedRun,
}

func vconnSwapNotSupportedEnter(pe *PolicyEngine) (*state, error) {
	return nil, pe.sendCtrl(pdmsg.TypeNotSupported)
}

func vconnSwapNotSupportedRun(pe *PolicyEngine) (*state, error) {
	if pe.flags.Has(FlagTxComplete) || pe.flags.Has(FlagMsgDiscarded) {
		pe.flags.Clear(FlagTxComplete)
		pe.flags.Clear(FlagMsgDiscarded)
		pe.finishDPMRequest()
		return stateSnkReady, nil
	}
	return nil, nil
}

// stateDRSEvaluateSwap handles a partner-initiated DR_Swap.
var stateDRSEvaluateSwap = &state{
	Name:  "PE_DRS_Evaluate_Swap",
	Enter: drsEvaluateSwapEnter,
	Run:   drsEvaluateSwapRun,
}

// checkDataSwap reports whether the port can honor a DR_Swap right now;
// modal operation (an active alternate mode) is the only condition this
// build tracks that forbids one.
func (pe *PolicyEngine) checkDataSwap() bool {
	return !pe.flags.Has(FlagModalOperation)
}

func drsEvaluateSwapEnter(pe *PolicyEngine) (*state, error) {
	if !pe.checkDataSwap() {
		return nil, pe.sendCtrl(pdmsg.TypeReject)
	}
	pe.flags.Set(FlagAccept)
	return nil, pe.sendCtrl(pdmsg.TypeAccept)
}

func drsEvaluateSwapRun(pe *PolicyEngine) (*state, error) {
	if pe.flags.Has(FlagTxComplete) {
		pe.flags.Clear(FlagTxComplete)
		if pe.flags.Has(FlagAccept) {
			pe.flags.Clear(FlagAccept)
			return stateDRSChange, nil
		}
		return stateSnkReady, nil
	}
	return nil, nil
}

// stateDRSChange flips the PE's locally tracked data role; the tc.Port
// contract exposes no setter for it, so unlike power role there is nothing
// further to hand off.
var stateDRSChange = &state{
	Name:  "PE_DRS_Change",
	Enter: drsChangeEnter,
}

func drsChangeEnter(pe *PolicyEngine) (*state, error) {
	if pe.dataRole == pdmsg.DataRoleUFP {
		pe.dataRole = pdmsg.DataRoleDFP
	} else {
		pe.dataRole = pdmsg.DataRoleUFP
	}
	pe.finishDPMRequest()
	return stateSnkReady, nil
}

// stateDRSwap is the locally-initiated counterpart, reached from the DPM
// dispatcher's dpm.RequestDRSwap entry.
var stateDRSwap = &state{
	Name:  "PE_DRS_Send_Swap",
	Enter: drSwapEnter,
	Run:   drSwapRun,
}

func drSwapEnter(pe *PolicyEngine) (*state, error) {
	return nil, pe.sendCtrl(pdmsg.TypeDRSwap)
}

func drSwapRun(pe *PolicyEngine) (*state, error) {
	switch pe.awaitResponse(prl.SOPPartner) {
	case sendDPMDiscarded:
		pe.rependDPMRequest()
		return stateSnkReady, nil
	case sendDiscarded, sendTimedOut, sendFailed:
		pe.finishDPMRequest()
		return stateSnkReady, nil
	case sendReplyReceived:
		m := pe.rxMsg
		pe.consumeRx()
		if m.DataObjectCount() != 0 || m.IsExtended() {
			pe.finishDPMRequest()
			return stateSnkReady, nil
		}
		switch m.Type() {
		case pdmsg.TypeAccept:
			return stateDRSChange, nil
		case pdmsg.TypeReject, pdmsg.TypeWait, pdmsg.TypeNotSupported:
			pe.finishDPMRequest()
			return stateSnkReady, nil
		}
	}
	return nil, nil
}
