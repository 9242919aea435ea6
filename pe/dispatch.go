package pe

import (
	"github.com/puzrin/pdsink/dpm"
	"github.com/puzrin/pdsink/prl"
)

// dispatchOrder is the fixed precedence PE_SNK_READY's Run consults each
// tick: the first set bit wins and every lower-priority bit stays pending
// for a later pass. The VCONN-swap bit is listed even though this build
// always answers it with Not_Supported, so the dispatcher's behavior is
// uniform across builds that do and don't support it.
var dispatchOrder = []struct {
	bit  dpm.Request
	next *state
}{
	{dpm.RequestSoftResetSend, stateSendSoftReset},
	{dpm.RequestSOPPrimeSoftResetSend, stateSendSoftReset},
	{dpm.RequestEPRModeExit, stateEPRModeExit},
	{dpm.RequestEPRKeepAlive, stateSnkEPRKeepAlive},
	{dpm.RequestSourceCapChange, stateSnkSendSourceCap},
	{dpm.RequestBISTTxFlag, stateBISTTxSend},
	{dpm.RequestDRSwap, stateDRSwap},
	{dpm.RequestPRSwap, statePRSwapSnkSrcSendSwap},
	{dpm.RequestVCONNSwap, stateVCONNSwapNotSupported},
	{dpm.RequestGetSourceCap, stateDRSGetSourceCap},
	{dpm.RequestGetSinkCap, stateDRSGetSinkCap},
	{dpm.RequestGetRevision, stateGetRevision},
	{dpm.RequestEnterUSB, stateEnterUSBNotSupported},
	{dpm.RequestEPRModeEntry, stateEPRModeEntry},
	{dpm.RequestSendAlert, stateSendAlert},
}

// dispatchDPMRequest consumes the highest-priority pending DPM request, if
// any, latching it into dpmCurrRequest and marking the AMS as locally
// initiated. Returns nil if nothing is pending.
func (pe *PolicyEngine) dispatchDPMRequest() *state {
	pending := pe.DPM.Pending()
	for _, d := range dispatchOrder {
		if pending&d.bit == 0 {
			continue
		}
		pe.dpmCurrRequest = d.bit
		pe.DPM.ClearRequest(d.bit)
		pe.flags.Set(FlagLocallyInitiatedAMS)
		switch d.bit {
		case dpm.RequestSoftResetSend:
			pe.softResetSOP = prl.SOPPartner
		case dpm.RequestSOPPrimeSoftResetSend:
			pe.softResetSOP = prl.SOPPrime
		}
		return d.next
	}
	return nil
}

// finishDPMRequest clears the latched request and the locally-initiated AMS
// flag, called once the state servicing dpmCurrRequest reaches a terminal
// outcome (accepted, rejected, discarded, or not supported).
func (pe *PolicyEngine) finishDPMRequest() {
	pe.dpmCurrRequest = 0
	pe.flags.Clear(FlagLocallyInitiatedAMS)
}

// rependDPMRequest is called on a DPM-discarded send: the request that was
// in flight must be tried again on a later pass rather than dropped.
func (pe *PolicyEngine) rependDPMRequest() {
	if pe.dpmCurrRequest == 0 {
		return
	}
	pe.DPM.Raise(pe.dpmCurrRequest)
	pe.finishDPMRequest()
}
