package pe

import (
	"github.com/puzrin/pdsink/dpm"
	"github.com/puzrin/pdsink/pdmsg"
	"github.com/puzrin/pdsink/pdtimer"
	"github.com/puzrin/pdsink/prl"
)

var stateSnkStartup = &state{
	Name:  "PE_SNK_Startup",
	Enter: snkStartupEnter,
	Run:   snkStartupRun,
}

func snkStartupEnter(pe *PolicyEngine) (*state, error) {
	pe.PRL.ResetSoft(prl.SOPPartner)
	if pe.TC != nil {
		pe.dataRole = pe.TC.GetDataRole()
	}
	pe.powerRole = pdmsg.PowerRoleSink
	pe.invalidateExplicitContract()
	pe.ado = 0

	pe.Timer.Enable(pe.Port, pdtimer.DiscoverIdentity, 0)
	pe.discoverIdentityCounter = 0
	pe.drSwapAttemptCounter = 0
	pe.vconnSwapCounter = 0

	pe.DPM.Init()
	return nil, nil
}

func snkStartupRun(pe *PolicyEngine) (*state, error) {
	if !pe.PRL.IsRunning() {
		return nil, nil
	}
	return stateSnkDiscovery, nil
}

var stateSnkDiscovery = &state{
	Name: "PE_SNK_Discovery",
	Run:  snkDiscoveryRun,
}

func snkDiscoveryRun(pe *PolicyEngine) (*state, error) {
	if pe.TC == nil || pe.TC.PDConnection() || pe.TC.IsAttachedSnk() {
		return stateSnkWaitForCapabilities, nil
	}
	return nil, nil
}

var stateSnkWaitForCapabilities = &state{
	Name:  "PE_SNK_Wait_For_Capabilities",
	Enter: snkWaitForCapabilitiesEnter,
	Run:   snkWaitForCapabilitiesRun,
	Exit:  snkWaitForCapabilitiesExit,
}

func snkWaitForCapabilitiesEnter(pe *PolicyEngine) (*state, error) {
	pe.Timer.Enable(pe.Port, pdtimer.Timeout, timerSinkWaitCap)
	return nil, nil
}

func snkWaitForCapabilitiesRun(pe *PolicyEngine) (*state, error) {
	if pe.flags.Has(FlagMsgReceived) {
		m := pe.rxMsg
		if !m.IsExtended() && m.DataObjectCount() > 0 && m.Type() == pdmsg.TypeSourceCap {
			pe.consumeRx()
			pe.parseSrcCaps(m)
			return stateSnkEvaluateCapability, nil
		}
		if m.IsExtended() {
			pe.consumeRx()
			if m.Type() == pdmsg.TypeEPRSourceCap && pe.InEPR() {
				pe.parseSrcCaps(m)
				return stateSnkEvaluateCapability, nil
			}
			return stateSendNotSupported, nil
		}
		pe.consumeRx()
	}
	if pe.Timer.IsExpired(pe.Port, pdtimer.Timeout) {
		pe.flags.Set(FlagWaitCapTimeout)
		return stateSnkHardReset, nil
	}
	return nil, nil
}

func snkWaitForCapabilitiesExit(pe *PolicyEngine) error {
	pe.Timer.Disable(pe.Port, pdtimer.Timeout)
	return nil
}

var stateSnkEvaluateCapability = &state{
	Name:  "PE_SNK_Evaluate_Capability",
	Enter: snkEvaluateCapabilityEnter,
}

func snkEvaluateCapabilityEnter(pe *PolicyEngine) (*state, error) {
	pe.hardResetCounter = 0
	pe.PRL.SetRev(prl.SOPPartner, pdmsg.Min(pdmsg.Revision30, pe.rxMsg.Revision()))
	return stateSnkSelectCapability, nil
}

var stateSnkSelectCapability = &state{
	Name:  "PE_SNK_Select_Capability",
	Enter: snkSelectCapabilityEnter,
	Run:   snkSelectCapabilityRun,
}

func snkSelectCapabilityEnter(pe *PolicyEngine) (*state, error) {
	rdo, pdo, ok := pe.buildRequest()
	if !ok {
		return stateSnkHardReset, nil
	}
	return nil, pe.sendRequest(rdo, pdo)
}

func snkSelectCapabilityRun(pe *PolicyEngine) (*state, error) {
	switch pe.awaitResponse(prl.SOPPartner) {
	case sendDiscarded, sendDPMDiscarded:
		if pe.previous == stateSnkEvaluateCapability {
			pe.softResetSOP = prl.SOPPartner
			return stateSendSoftReset, nil
		}
		return stateSnkReady, nil
	case sendTimedOut, sendFailed:
		return stateSnkHardReset, nil
	case sendReplyReceived:
		m := pe.rxMsg
		pe.consumeRx()
		if m.DataObjectCount() != 0 || m.IsExtended() {
			pe.softResetSOP = pe.rxSOP
			return stateSendSoftReset, nil
		}
		switch m.Type() {
		case pdmsg.TypeAccept:
			pe.setExplicitContract()
			return stateSnkTransitionSink, nil
		case pdmsg.TypeReject, pdmsg.TypeWait:
			if m.Type() == pdmsg.TypeWait {
				pe.flags.Set(FlagWait)
			}
			pe.Timer.Disable(pe.Port, pdtimer.SinkRequest)
			if pe.ExplicitContract() {
				return stateSnkReady, nil
			}
			return stateSnkWaitForCapabilities, nil
		default:
			pe.softResetSOP = pe.rxSOP
			return stateSendSoftReset, nil
		}
	}
	return nil, nil
}

var stateSnkTransitionSink = &state{
	Name:  "PE_SNK_Transition_Sink",
	Enter: snkTransitionSinkEnter,
	Run:   snkTransitionSinkRun,
	Exit:  snkTransitionSinkExit,
}

func snkTransitionSinkEnter(pe *PolicyEngine) (*state, error) {
	pe.Timer.Enable(pe.Port, pdtimer.PSTransition, timerPSTransition)
	return nil, nil
}

func snkTransitionSinkRun(pe *PolicyEngine) (*state, error) {
	if pe.flags.Has(FlagMsgReceived) {
		m := pe.rxMsg
		pe.consumeRx()
		if m.DataObjectCount() == 0 && !m.IsExtended() && m.Type() == pdmsg.TypePSReady {
			pe.currLimit, pe.supplyVoltage = requestedLimits(pe.srcCaps[pe.requestedIdx-1], pe.pendingRDO)
			pe.flags.Set(FlagFirstMsg)
			pe.Timer.Disable(pe.Port, pdtimer.WaitAndAddJitter)
			return stateSnkReady, nil
		}
		return stateSnkHardReset, nil
	}
	if pe.Timer.IsExpired(pe.Port, pdtimer.PSTransition) && pe.hardResetCounter <= NHardResetCount {
		pe.flags.Set(FlagPSTransitionTimeout)
		return stateSnkHardReset, nil
	}
	return nil, nil
}

func snkTransitionSinkExit(pe *PolicyEngine) error {
	pe.Timer.Disable(pe.Port, pdtimer.PSTransition)
	return nil
}

var stateSnkReady = &state{
	Name:  "PE_SNK_Ready",
	Enter: snkReadyEnter,
	Run:   snkReadyRun,
	Exit:  snkReadyExit,
}

func snkReadyEnter(pe *PolicyEngine) (*state, error) {
	pe.dpmCurrRequest = 0

	if pe.flags.Has(FlagWait) {
		pe.flags.Clear(FlagWait)
		pe.Timer.Enable(pe.Port, pdtimer.SinkRequest, timerSinkRequest)
	}

	updateWaitAndAddJitterTimer(pe)

	if pe.InEPR() {
		pe.Timer.Enable(pe.Port, pdtimer.SinkEPRKeepAlive, timerSinkEPRKeepAlive)
	} else if !pe.flags.Has(FlagEPRExplicitExit) {
		pe.DPM.Raise(dpm.RequestEPRModeEntry)
	}
	return nil, nil
}

// updateWaitAndAddJitterTimer arms WaitAndAddJitter the first time PE_SNK_READY
// is entered after a PD 2.0 negotiation, to avoid colliding with the
// partner's own first post-contract message.
func updateWaitAndAddJitterTimer(pe *PolicyEngine) {
	if pe.PRL.GetRev(prl.SOPPartner) == pdmsg.Revision20 &&
		pe.flags.Has(FlagFirstMsg) &&
		pe.Timer.IsDisabled(pe.Port, pdtimer.WaitAndAddJitter) {
		pe.Timer.Enable(pe.Port, pdtimer.WaitAndAddJitter, waitAndAddJitter())
	}
}

func snkReadyRun(pe *PolicyEngine) (*state, error) {
	if pe.flags.Has(FlagMsgReceived) {
		m := pe.rxMsg
		pe.consumeRx()

		if m.IsExtended() {
			return stateSendNotSupported, nil
		}
		if m.DataObjectCount() > 0 {
			switch m.Type() {
			case pdmsg.TypeSourceCap:
				pe.parseSrcCaps(m)
				return stateSnkEvaluateCapability, nil
			case pdmsg.TypeVDM:
				return stateSendNotSupported, nil
			case pdmsg.TypeBIST:
				return stateBISTTxSend, nil
			case pdmsg.TypeAlert:
				pe.SetADO(m.Data[0])
				return stateAlertReceived, nil
			case pdmsg.TypeEPRMode:
				if eprModeAction(m.Data[0]) == eprActionExit {
					return stateEPRModeExitReceived, nil
				}
				return stateSendNotSupported, nil
			default:
				return stateSendNotSupported, nil
			}
		}
		switch m.Type() {
		case pdmsg.TypeGoodCRC, pdmsg.TypePing, pdmsg.TypeNotSupported:
		case pdmsg.TypeGetSourceCap:
			return stateDRSGetSourceCap, nil
		case pdmsg.TypeGetSinkCap:
			return stateSnkGiveSinkCap, nil
		case pdmsg.TypePRSwap:
			return statePRSSnkSrcEvaluateSwap, nil
		case pdmsg.TypeDRSwap:
			if pe.flags.Has(FlagModalOperation) {
				return stateSnkHardReset, nil
			}
			return stateDRSEvaluateSwap, nil
		case pdmsg.TypeVCONNSwap:
			return stateVCONNSwapNotSupported, nil
		case pdmsg.TypeSoftReset:
			return stateSoftReset, nil
		case pdmsg.TypeAccept, pdmsg.TypeReject, pdmsg.TypeWait, pdmsg.TypePSReady:
			pe.softResetSOP = pe.rxSOP
			return stateSendSoftReset, nil
		default:
			return stateSendNotSupported, nil
		}
		return nil, nil
	}

	if pe.PRL.IsBusy(prl.SOPPartner) {
		return nil, nil
	}

	if pe.Timer.IsDisabled(pe.Port, pdtimer.WaitAndAddJitter) || pe.Timer.IsExpired(pe.Port, pdtimer.WaitAndAddJitter) {
		pe.flags.Clear(FlagFirstMsg)
		pe.Timer.Disable(pe.Port, pdtimer.WaitAndAddJitter)

		if pe.Timer.IsExpired(pe.Port, pdtimer.SinkRequest) {
			pe.Timer.Disable(pe.Port, pdtimer.SinkRequest)
			return stateSnkSelectCapability, nil
		}

		if next := pe.dispatchDPMRequest(); next != nil {
			return next, nil
		}

		pe.DPM.SetPEReady(true)

		if pe.InEPR() && pe.Timer.IsExpired(pe.Port, pdtimer.SinkEPRKeepAlive) {
			return stateSnkEPRKeepAlive, nil
		}
	}
	return nil, nil
}

func snkReadyExit(pe *PolicyEngine) error {
	pe.DPM.SetPEReady(false)
	return nil
}
