package pe

import (
	"github.com/puzrin/pdsink/pdtimer"
	"github.com/puzrin/pdsink/prl"
)

// sendOutcome is the result a sender-response state observes on a given
// tick after handing a message to the Protocol Layer. States that send a
// message and then wait for a reply call awaitResponse once per tick until
// it returns something other than sendPending.
type sendOutcome uint8

const (
	// sendPending means the message is still being transmitted, or has
	// been transmitted and the port is still waiting on either a reply
	// or the SENDER_RESPONSE deadline.
	sendPending sendOutcome = iota

	// sendReplyReceived means a message arrived from the SOP the send
	// targeted while awaiting a response. The caller inspects pe.rxMsg
	// and is responsible for calling pe.consumeRx once it has.
	sendReplyReceived

	// sendTimedOut means SENDER_RESPONSE elapsed with no reply.
	sendTimedOut

	// sendDiscarded means an unrelated incoming message aborted the
	// send before it completed, and no DPM request was in flight.
	sendDiscarded

	// sendDPMDiscarded is sendDiscarded's counterpart for a send that
	// was servicing a DPM-initiated request; the state re-pends
	// dpmCurrRequest (rependDPMRequest) so the dispatcher retries it once
	// the current AMS is abandoned.
	sendDPMDiscarded

	// sendFailed means retransmission was exhausted without a GoodCRC.
	sendFailed
)

// awaitResponse drives the sender-response facility for a message already
// in flight toward sop. On the tick the underlying send completes
// successfully it arms the SENDER_RESPONSE timer against the measured TX
// completion time (rather than the tick's own wall-clock time), so retry
// latency never eats into the partner's allotted response window.
func (pe *PolicyEngine) awaitResponse(sop prl.SOP) sendOutcome {
	switch pe.PRL.ConsumeResult(sop) {
	case prl.SendResultFailed:
		return sendFailed
	case prl.SendResultDiscarded:
		pe.flags.Set(FlagMsgDiscarded)
		if pe.dpmCurrRequest != 0 {
			pe.flags.Set(FlagDPMDiscarded)
			return sendDPMDiscarded
		}
		return sendDiscarded
	case prl.SendResultSent:
		pe.flags.Set(FlagTxComplete)
		deadline := pe.PRL.GetTCPCTxSuccessTS().Add(timerSenderResponse)
		pe.Timer.EnableAt(pe.Port, pdtimer.SenderResponse, deadline)
		return sendPending
	}

	if pe.flags.Has(FlagMsgReceived) && pe.rxSOP == sop {
		return sendReplyReceived
	}
	if pe.senderResponseExpired() {
		return sendTimedOut
	}
	return sendPending
}
