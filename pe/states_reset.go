package pe

import (
	"github.com/puzrin/pdsink/pdmsg"
	"github.com/puzrin/pdsink/pdtimer"
)

var stateSnkHardReset = &state{
	Name:  "PE_SNK_Hard_Reset",
	Enter: snkHardResetEnter,
	Run:   snkHardResetRun,
}

func snkHardResetEnter(pe *PolicyEngine) (*state, error) {
	if pe.flags.Has(FlagWaitCapTimeout) && pe.hardResetCounter > NHardResetCount {
		return stateSrcDisabled, nil
	}

	pe.flags.Clear(FlagWaitCapTimeout)
	pe.flags.Clear(FlagProtocolError)

	if err := pe.PRL.ExecuteHardReset(); err != nil {
		return nil, err
	}
	pe.hardResetCounter++

	if pe.flags.Has(FlagPSTransitionTimeout) {
		pe.flags.Clear(FlagPSTransitionTimeout)
		// curr_limit/supply_voltage already hold the last contracted
		// values; TC re-applies them once it restores vSafe5V.
	}
	return nil, nil
}

func snkHardResetRun(pe *PolicyEngine) (*state, error) {
	return stateSnkTransitionToDefault, nil
}

var stateSnkTransitionToDefault = &state{
	Name:  "PE_SNK_Transition_to_Default",
	Enter: snkTransitionToDefaultEnter,
	Run:   snkTransitionToDefaultRun,
}

func snkTransitionToDefaultEnter(pe *PolicyEngine) (*state, error) {
	pe.flags.ClearAll()
	pe.dpmCurrRequest = 0
	if pe.TC != nil {
		pe.TC.HardResetRequest()
	}
	return nil, nil
}

func snkTransitionToDefaultRun(pe *PolicyEngine) (*state, error) {
	pe.PRL.HardResetComplete()
	return stateSnkStartup, nil
}

var stateSendSoftReset = &state{
	Name:  "PE_Send_Soft_Reset",
	Enter: sendSoftResetEnter,
	Run:   sendSoftResetRun,
	Exit:  sendSoftResetExit,
}

func sendSoftResetEnter(pe *PolicyEngine) (*state, error) {
	pe.flags.Clear(FlagEnteringEPR)
	pe.flags.Clear(FlagEPRExplicitExit)
	pe.PRL.ResetSoft(pe.softResetSOP)
	// PE_TIMER_TIMEOUT doubles as a one-shot guard limiting this state to
	// a single Soft_Reset send; armed-expired (duration 0) means "send
	// once, then fall through to awaiting the reply."
	pe.Timer.Enable(pe.Port, pdtimer.Timeout, 0)
	return nil, nil
}

func sendSoftResetRun(pe *PolicyEngine) (*state, error) {
	if !pe.PRL.IsRunning() {
		return nil, nil
	}
	if !pe.Timer.IsDisabled(pe.Port, pdtimer.Timeout) {
		pe.Timer.Disable(pe.Port, pdtimer.Timeout)
		return nil, pe.PRL.SendCtrlMsg(pe.softResetSOP, pdmsg.TypeSoftReset)
	}

	switch pe.awaitResponse(pe.softResetSOP) {
	case sendDiscarded:
		pe.finishDPMRequest()
		return stateSnkReady, nil
	case sendDPMDiscarded:
		pe.rependDPMRequest()
		return stateSnkReady, nil
	case sendReplyReceived:
		m := pe.rxMsg
		pe.consumeRx()
		if !m.IsExtended() && m.DataObjectCount() == 0 && m.Type() == pdmsg.TypeAccept {
			pe.finishDPMRequest()
			return stateSnkWaitForCapabilities, nil
		}
	case sendTimedOut, sendFailed:
		return stateSnkHardReset, nil
	}
	if pe.flags.Has(FlagProtocolError) {
		pe.flags.Clear(FlagProtocolError)
		return stateSnkHardReset, nil
	}
	return nil, nil
}

func sendSoftResetExit(pe *PolicyEngine) error {
	pe.Timer.Disable(pe.Port, pdtimer.Timeout)
	return nil
}

var stateSoftReset = &state{
	Name:  "PE_Soft_Reset",
	Enter: softResetEnter,
	Run:   softResetRun,
}

func softResetEnter(pe *PolicyEngine) (*state, error) {
	return nil, pe.sendCtrl(pdmsg.TypeAccept)
}

func softResetRun(pe *PolicyEngine) (*state, error) {
	if pe.flags.Has(FlagTxComplete) {
		pe.flags.Clear(FlagTxComplete)
		return stateSnkWaitForCapabilities, nil
	}
	if pe.flags.Has(FlagProtocolError) {
		pe.flags.Clear(FlagProtocolError)
		return stateSnkHardReset, nil
	}
	return nil, nil
}

var stateWaitForErrorRecovery = &state{
	Name:  "PE_WAIT_FOR_ERROR_RECOVERY",
	Enter: waitForErrorRecoveryEnter,
}

func waitForErrorRecoveryEnter(pe *PolicyEngine) (*state, error) {
	pe.finishDPMRequest()
	if pe.TC != nil {
		pe.TC.StartErrorRecovery()
	}
	return nil, nil
}

var stateSrcDisabled = &state{
	Name: "PE_SRC_Disabled",
}

var stateDRSGetSourceCap = &state{
	Name:  "PE_SNK_Get_Source_Cap",
	Enter: snkGetSourceCapEnter,
	Run:   snkGetSourceCapRun,
}

func snkGetSourceCapEnter(pe *PolicyEngine) (*state, error) {
	return nil, pe.sendCtrl(pdmsg.TypeGetSourceCap)
}

func snkGetSourceCapRun(pe *PolicyEngine) (*state, error) {
	if pe.flags.Has(FlagTxComplete) {
		pe.flags.Clear(FlagTxComplete)
		pe.finishDPMRequest()
		return stateSnkReady, nil
	}
	return nil, nil
}

// stateSnkSendSourceCap services DPM_REQUEST_SOURCE_CAP_CHANGE, a request
// to refresh the cached source capabilities outside of a renegotiation;
// it reuses PE_SNK_Get_Source_Cap's name and handlers since the wire
// exchange is identical.
var stateSnkSendSourceCap = &state{
	Name:  "PE_SNK_Get_Source_Cap",
	Enter: snkGetSourceCapEnter,
	Run:   snkGetSourceCapRun,
}
