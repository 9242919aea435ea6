package pe

import (
	"github.com/puzrin/pdsink/pdmsg"
	"github.com/puzrin/pdsink/prl"
)

// stateSendNotSupported answers an unrecognized or unsupported message
// received in PE_SNK_Ready with Not_Supported (or Reject, against a PD 2.0
// partner that predates the Not_Supported control message) rather than a
// soft reset, per the ready-state exception to the usual error path.
var stateSendNotSupported = &state{
	Name:  "PE_Send_Not_Supported",
	Enter: sendNotSupportedEnter,
	Run:   sendNotSupportedRun,
}

func sendNotSupportedEnter(pe *PolicyEngine) (*state, error) {
	if pe.PRL.GetRev(prl.SOPPartner) > pdmsg.Revision20 {
		return nil, pe.sendCtrl(pdmsg.TypeNotSupported)
	}
	return nil, pe.sendCtrl(pdmsg.TypeReject)
}

func sendNotSupportedRun(pe *PolicyEngine) (*state, error) {
	if pe.flags.Has(FlagTxComplete) {
		pe.flags.Clear(FlagTxComplete)
		return stateSnkReady, nil
	}
	return nil, nil
}

// stateSendAlert services a locally initiated DPM_REQUEST_SEND_ALERT. This
// build never constructs an ADO to send, so it shares Send_Not_Supported's
// wire behavior rather than a real Alert transmission.
var stateSendAlert = &state{
	Name:  "PE_Send_Alert",
	Enter: sendNotSupportedEnter,
	Run:   sendAlertRun,
}

func sendAlertRun(pe *PolicyEngine) (*state, error) {
	if pe.flags.Has(FlagTxComplete) {
		pe.flags.Clear(FlagTxComplete)
		pe.finishDPMRequest()
		return stateSnkReady, nil
	}
	return nil, nil
}

// stateEnterUSBNotSupported answers any DPM_REQUEST_ENTER_USB by returning
// straight to ready; USB4/alternate-mode entry is out of scope.
var stateEnterUSBNotSupported = &state{
	Name:  "PE_DEU_Send_Enter_USB",
	Enter: enterUSBNotSupportedEnter,
}

func enterUSBNotSupportedEnter(pe *PolicyEngine) (*state, error) {
	pe.finishDPMRequest()
	return stateSnkReady, nil
}

// stateSnkGiveSinkCap answers a Get_Sink_Cap with the port's own
// Sink_Capabilities.
var stateSnkGiveSinkCap = &state{
	Name:  "PE_SNK_Give_Sink_Cap",
	Enter: snkGiveSinkCapEnter,
	Run:   snkGiveSinkCapRun,
}

func snkGiveSinkCapEnter(pe *PolicyEngine) (*state, error) {
	data := make([]uint32, len(pe.snkCaps))
	for i, pdo := range pe.snkCaps {
		data[i] = uint32(pdo)
	}
	return nil, pe.PRL.SendDataMsg(prl.SOPPartner, pdmsg.TypeSinkCap, data)
}

func snkGiveSinkCapRun(pe *PolicyEngine) (*state, error) {
	if pe.flags.Has(FlagTxComplete) {
		pe.flags.Clear(FlagTxComplete)
		return stateSnkReady, nil
	}
	if pe.flags.Has(FlagMsgDiscarded) {
		pe.flags.Clear(FlagMsgDiscarded)
		return stateSnkReady, nil
	}
	return nil, nil
}

// stateDRSGetSinkCap services a locally-initiated DPM_REQUEST_GET_SINK_CAP,
// asking the partner for its Sink_Capabilities.
var stateDRSGetSinkCap = &state{
	Name:  "PE_DR_SNK_Get_Sink_Cap",
	Enter: drGetSinkCapEnter,
	Run:   drGetSinkCapRun,
}

func drGetSinkCapEnter(pe *PolicyEngine) (*state, error) {
	return nil, pe.sendCtrl(pdmsg.TypeGetSinkCap)
}

func drGetSinkCapRun(pe *PolicyEngine) (*state, error) {
	switch pe.awaitResponse(prl.SOPPartner) {
	case sendDiscarded:
		return stateSnkReady, nil
	case sendDPMDiscarded:
		pe.rependDPMRequest()
		return stateSnkReady, nil
	case sendTimedOut, sendFailed:
		pe.finishDPMRequest()
		return stateSnkReady, nil
	case sendReplyReceived:
		m := pe.rxMsg
		pe.consumeRx()
		if m.IsExtended() {
			pe.softResetSOP = pe.rxSOP
			return stateSendSoftReset, nil
		}
		switch {
		case m.DataObjectCount() > 0 && m.Type() == pdmsg.TypeSinkCap:
			pe.DPM.EvaluateSinkFixedPDO(pdmsg.FixedSupplyPDO(pdmsg.PDO(m.Data[0])))
			pe.finishDPMRequest()
			return stateSnkReady, nil
		case m.DataObjectCount() == 0 && (m.Type() == pdmsg.TypeReject || m.Type() == pdmsg.TypeNotSupported):
			pe.finishDPMRequest()
			return stateSnkReady, nil
		default:
			pe.softResetSOP = pe.rxSOP
			return stateSendSoftReset, nil
		}
	}
	return nil, nil
}

// stateGetRevision services a locally-initiated DPM_REQUEST_GET_REVISION.
// Get_Revision is an interruptible AMS: the port returns to ready on any
// response, or on the partner's own unrelated message arriving instead.
var stateGetRevision = &state{
	Name:  "PE_Get_Revision",
	Enter: getRevisionEnter,
	Run:   getRevisionRun,
}

func getRevisionEnter(pe *PolicyEngine) (*state, error) {
	return nil, pe.sendCtrl(pdmsg.TypeGetRevision)
}

func getRevisionRun(pe *PolicyEngine) (*state, error) {
	switch pe.awaitResponse(prl.SOPPartner) {
	case sendDiscarded:
		return stateSnkReady, nil
	case sendDPMDiscarded:
		pe.rependDPMRequest()
		return stateSnkReady, nil
	case sendTimedOut, sendFailed:
		pe.finishDPMRequest()
		return stateSnkReady, nil
	case sendReplyReceived:
		m := pe.rxMsg
		pe.consumeRx()
		if !m.IsExtended() && m.DataObjectCount() == 1 && m.Type() == pdmsg.TypeRevision {
			pe.partnerRevision = m.Revision()
		}
		pe.finishDPMRequest()
		return stateSnkReady, nil
	}
	return nil, nil
}

// stateAlertReceived accepts a partner Alert; this build has no subsystem
// to route the ADO to beyond the accessor SetADO/getADO already expose.
var stateAlertReceived = &state{
	Name:  "PE_Alert_Received",
	Enter: alertReceivedEnter,
}

func alertReceivedEnter(pe *PolicyEngine) (*state, error) {
	return stateSnkReady, nil
}
