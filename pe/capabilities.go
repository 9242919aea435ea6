package pe

import (
	"github.com/puzrin/pdsink/pdmsg"
	"github.com/puzrin/pdsink/prl"
)

// parseSrcCaps copies the PDOs out of a just-received Source_Capabilities
// (or EPR_Source_Cap) message into srcCaps, replacing whatever was cached
// from an earlier negotiation.
func (pe *PolicyEngine) parseSrcCaps(m pdmsg.Message) {
	n := int(m.DataObjectCount())
	if cap(pe.srcCaps) < n {
		pe.srcCaps = make([]pdmsg.PDO, n)
	} else {
		pe.srcCaps = pe.srcCaps[:n]
	}
	for i := 0; i < n; i++ {
		pe.srcCaps[i] = pdmsg.PDO(m.Data[i])
	}
	pe.srcCapCount = n
}

// requestedLimits derives the contracted current/voltage pair from the PDO
// the RDO selected, for the two PDO families a DPM CapabilityEvaluator may
// pick (fixed supply or PPS). Battery/variable/EPR-AVS PDOs are not offered
// by the policies this build ships, so they are not handled here.
func requestedLimits(pdo pdmsg.PDO, rdo pdmsg.RequestDO) (curr, voltage uint16) {
	if pdo.Type() == pdmsg.PDOTypePPS {
		return rdo.PPSOutputCurrent(), rdo.PPSOutputVoltage()
	}
	fs := pdmsg.FixedSupplyPDO(pdo)
	return rdo.FixedOperatingCurrent(), fs.Voltage()
}

// setExplicitContract records a freshly accepted contract.
func (pe *PolicyEngine) setExplicitContract() {
	pe.flags.Set(FlagExplicitContract)
}

// invalidateExplicitContract clears a contract, e.g. on hard reset.
func (pe *PolicyEngine) invalidateExplicitContract() {
	pe.flags.Clear(FlagExplicitContract)
	pe.flags.Clear(FlagInEPR)
	pe.currLimit = 0
	pe.supplyVoltage = 0
}

// buildRequest asks the DPM to pick a PDO and packs the resulting RDO plus
// the bookkeeping (requestedIdx, pendingRDO) from which a later PS_RDY
// applies the contracted current/voltage.
// ok is false if the DPM accepted nothing, in which case the caller must
// not send a Request.
func (pe *PolicyEngine) buildRequest() (rdo pdmsg.RequestDO, pdo pdmsg.PDO, ok bool) {
	rdo = pe.DPM.EvaluateCapabilities(pe.srcCaps)
	idx := rdo.SelectedObjectPosition()
	if idx == 0 || int(idx) > len(pe.srcCaps) {
		return pdmsg.EmptyRequestDO, 0, false
	}
	pdo = pe.srcCaps[idx-1]
	pe.requestedIdx = idx
	pe.pendingRDO = rdo
	return rdo, pdo, true
}

// sendRequest sends the Request (or EPR_Request, carrying the selected PDO
// as a second data object per PD 3.1 §6.4.3.2) built by buildRequest.
func (pe *PolicyEngine) sendRequest(rdo pdmsg.RequestDO, pdo pdmsg.PDO) error {
	if pe.InEPR() {
		return pe.PRL.SendDataMsg(prl.SOPPartner, pdmsg.TypeEPRRequest, []uint32{uint32(rdo), uint32(pdo)})
	}
	return pe.PRL.SendDataMsg(prl.SOPPartner, pdmsg.TypeRequest, []uint32{uint32(rdo)})
}
