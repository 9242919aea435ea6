// Package prl implements the Protocol Layer port: message ID sequencing,
// retry-driven transmission, single-chunk extended-message framing, and
// soft/hard reset handshaking on top of a tcpm.Driver. The policy engine
// never talks to a tcpm.Driver directly; it only ever calls a Port.
package prl

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/puzrin/pdsink/pdmsg"
	"github.com/puzrin/pdsink/tcpm"
)

// Errors returned by Port methods, matching the design-level taxonomy of
// the error handling section: ProtocolError and TxError.
var (
	ErrProtocol = errors.New("prl: protocol error")
	ErrTx       = errors.New("prl: transmit failed")
)

// MaxExtendedChunkLen is the largest extended-message payload this build
// accepts in a single chunk; SendExtDataMsg rejects anything bigger with
// ErrProtocol instead of chunking it across multiple transmissions.
const MaxExtendedChunkLen = pdmsg.MaxExtendedChunkLen

// Port is the Protocol Layer contract the policy engine depends on.
// All methods are synchronous and non-blocking; completion of an in-flight
// send is observed by polling IsBusy/IsRunning on a later tick, never by
// blocking inside a call.
type Port interface {
	// SendDataMsg queues a data message (>=1 data object) of type t with
	// the given payload for transmission toward sop.
	SendDataMsg(sop SOP, t pdmsg.Type, data []uint32) error

	// SendExtDataMsg queues a single-chunk extended message.
	SendExtDataMsg(sop SOP, t pdmsg.Type, payload []byte) error

	// SendCtrlMsg queues a control message (no data objects).
	SendCtrlMsg(sop SOP, t pdmsg.Type) error

	// ResetSoft resets message IDs and retry state for sop without
	// touching the physical layer's CC/polarity configuration.
	ResetSoft(sop SOP)

	// ExecuteHardReset resets message IDs for every SOP and tells the
	// driver to signal a hard reset on the wire.
	ExecuteHardReset() error

	// HardResetComplete is called once the PE has finished its hard
	// reset recovery sequence and the PRL may resume normal operation.
	HardResetComplete()

	// GetRev/SetRev track the negotiated spec revision per SOP, used to
	// stamp outgoing message headers and to gate EPR/revision-dependent
	// behavior.
	GetRev(sop SOP) pdmsg.Revision
	SetRev(sop SOP, rev pdmsg.Revision)

	// GetTCPCTxSuccessTS returns the timestamp of the most recent
	// TxSuccess alert, used by the sender-response facility to
	// compensate SENDER_RESPONSE for measured TX latency.
	GetTCPCTxSuccessTS() time.Time

	// SetDataRoleCheck enables or disables the GoodCRC data-role field
	// check, relaxed for the chunk-received/not-supported combined
	// response states.
	SetDataRoleCheck(enable bool)

	// IsRunning reports whether the port is accepting new sends: set by
	// ResetSoft and HardResetComplete, cleared by ExecuteHardReset.
	IsRunning() bool

	// IsBusy reports whether a send is still in flight for sop.
	IsBusy(sop SOP) bool

	// Poll returns the oldest queued received message along with its SOP,
	// checking SOP, SOP' and SOP'' in that order. It must be called once
	// per event loop tick, after pending driver alerts have been delivered.
	Poll() (sop SOP, msg pdmsg.Message, ok bool, err error)

	// ConsumeResult returns the outcome of the most recently completed
	// send for sop and resets it to SendResultNone, giving the
	// sender-response facility the one-shot check value it needs
	// each tick: pending, sent, discarded, or failed.
	ConsumeResult(sop SOP) SendResult
}

// EventPort extends Port with the driver-alert-facing methods the per-port
// event loop uses to advance retry and receive state; the PE only ever
// sees the narrower Port. Keeping them apart means PE-level tests can mock
// Port alone without also faking alert delivery.
type EventPort interface {
	Port
	// NotifyTxResult is called by the event loop after a TxSuccess or
	// TxFailed tcpm.Event is observed, advancing the retry state machine.
	NotifyTxResult(sop SOP, success bool, at time.Time) error

	// NotifyRx is called by the event loop with a message the driver
	// reported via GetMessage. It handles duplicate-ID suppression and
	// queues the message for a later Poll to return; it does not
	// reassemble chunked extended messages.
	NotifyRx(sop SOP, m pdmsg.Message)

	// PendingTxSOP reports the SOP of the send currently awaiting a
	// TxSuccess/TxFailed alert from the driver, if any. The FUSB302 (and
	// most TCPCs) can only have one physical transmission in flight at a
	// time, so this is enough for the event loop to route a driver alert
	// to the right SOP's retry state without the alert itself carrying
	// one.
	PendingTxSOP() (SOP, bool)
}

// SendResult is the outcome of an in-flight or just-completed send,
// consumed by the sender-response facility.
type SendResult uint8

// Send results.
const (
	SendResultNone SendResult = iota
	SendResultPending
	SendResultSent
	SendResultDiscarded
	SendResultFailed
)

// SOP identifies which of the three possible partners a message targets:
// the port partner itself, or one of the two optional cable plugs.
type SOP uint8

// SOP values.
const (
	SOPPartner SOP = iota
	SOPPrime
	SOPDoublePrime
	numSOP
)

func (s SOP) txType() tcpm.TxType {
	switch s {
	case SOPPrime:
		return tcpm.TxSOPPrime
	case SOPDoublePrime:
		return tcpm.TxSOPDoublePrime
	default:
		return tcpm.TxSOP
	}
}

type sendState uint8

const (
	sendIdle sendState = iota
	sendPending
	sendWaitTxSuccess
)

type port struct {
	drv tcpm.Driver
	log *zap.SugaredLogger

	running bool

	nextTxID [numSOP]uint8
	lastRxID [numSOP]uint8
	rev      [numSOP]pdmsg.Revision

	state      [numSOP]sendState
	pending    [numSOP]pdmsg.Message
	retries    [numSOP]uint8
	lastResult [numSOP]SendResult

	dataRoleCheck bool
	txSuccessTS   time.Time

	inbox [numSOP][]pdmsg.Message
}

// PDRetryCount is the number of retransmissions attempted per outgoing
// message before TxError is reported (PD_RETRY_COUNT, 0..3).
const PDRetryCount = 3

// New creates an EventPort wrapping drv. log may be nil.
func New(drv tcpm.Driver, log *zap.SugaredLogger) EventPort {
	p := &port{
		drv:           drv,
		log:           log,
		dataRoleCheck: true,
	}
	for i := range p.rev {
		p.rev[i] = pdmsg.Revision30
		p.lastRxID[i] = 8 // impossible message ID, so the first real rx is never a dup
	}
	return p
}

func (p *port) debugf(format string, args ...any) {
	if p.log != nil {
		p.log.Debugf(format, args...)
	}
}

func (p *port) ResetSoft(sop SOP) {
	p.nextTxID[sop] = 0
	p.lastRxID[sop] = 8
	p.state[sop] = sendIdle
	p.retries[sop] = 0
	p.running = true
}

func (p *port) ExecuteHardReset() error {
	for s := SOP(0); s < numSOP; s++ {
		p.ResetSoft(s)
	}
	p.running = false
	return p.drv.Transmit(tcpm.TxHardReset, pdmsg.Message{})
}

func (p *port) HardResetComplete() {
	p.running = true
}

func (p *port) GetRev(sop SOP) pdmsg.Revision { return p.rev[sop] }
func (p *port) SetRev(sop SOP, rev pdmsg.Revision) {
	p.rev[sop] = rev
	_ = p.drv.SetMsgHeader(pdmsg.PowerRoleSink, pdmsg.DataRoleUFP, rev)
}

func (p *port) GetTCPCTxSuccessTS() time.Time { return p.txSuccessTS }

func (p *port) SetDataRoleCheck(enable bool) { p.dataRoleCheck = enable }

func (p *port) IsRunning() bool { return p.running }

func (p *port) IsBusy(sop SOP) bool { return p.state[sop] != sendIdle }

func (p *port) SendCtrlMsg(sop SOP, t pdmsg.Type) error {
	var m pdmsg.Message
	m.SetType(t)
	m.SetDataObjectCount(0)
	m.SetExtended(false)
	return p.send(sop, m)
}

func (p *port) SendDataMsg(sop SOP, t pdmsg.Type, data []uint32) error {
	if len(data) > pdmsg.MaxDataObjects {
		return ErrProtocol
	}
	var m pdmsg.Message
	m.SetType(t)
	m.SetDataObjectCount(uint8(len(data)))
	m.SetExtended(false)
	copy(m.Data[:], data)
	return p.send(sop, m)
}

func (p *port) SendExtDataMsg(sop SOP, t pdmsg.Type, payload []byte) error {
	if len(payload) > MaxExtendedChunkLen {
		return ErrProtocol
	}
	var m pdmsg.Message
	m.SetType(t)
	m.SetDataObjectCount(0)
	m.SetExtended(true)
	m.ExtLen = uint8(len(payload))
	copy(m.ExtData[:], payload)
	return p.send(sop, m)
}

func (p *port) send(sop SOP, m pdmsg.Message) error {
	if p.state[sop] != sendIdle {
		return ErrTx
	}
	m.SetID(p.nextTxID[sop])
	m.SetPowerRole(pdmsg.PowerRoleSink)
	m.SetDataRole(pdmsg.DataRoleUFP)
	m.SetRevision(p.rev[sop])
	p.pending[sop] = m
	p.retries[sop] = 0
	p.state[sop] = sendPending
	p.lastResult[sop] = SendResultPending
	return p.transmit(sop)
}

func (p *port) transmit(sop SOP) error {
	m := p.pending[sop]
	if err := p.drv.Transmit(sop.txType(), m); err != nil {
		return err
	}
	p.state[sop] = sendWaitTxSuccess
	return nil
}

// Poll implements Port. It must be called once per event loop tick after
// the caller has delivered any pending driver alert.
func (p *port) Poll() (sop SOP, msg pdmsg.Message, ok bool, err error) {
	for s := SOP(0); s < numSOP; s++ {
		if msg, ok := p.drainOne(s); ok {
			return s, msg, true, nil
		}
	}
	return 0, pdmsg.Message{}, false, nil
}

// NotifyTxResult implements EventPort.
func (p *port) NotifyTxResult(sop SOP, success bool, at time.Time) error {
	if p.state[sop] != sendWaitTxSuccess {
		return nil
	}
	if success {
		p.txSuccessTS = at
		p.state[sop] = sendIdle
		p.lastResult[sop] = SendResultSent
		p.nextTxID[sop] = (p.nextTxID[sop] + 1) % 8
		p.debugf("prl: sop=%d tx success id=%d", sop, p.pending[sop].ID())
		return nil
	}
	p.retries[sop]++
	if p.retries[sop] > PDRetryCount {
		p.state[sop] = sendIdle
		p.lastResult[sop] = SendResultFailed
		return ErrTx
	}
	return p.transmit(sop)
}

// PendingTxSOP implements EventPort.
func (p *port) PendingTxSOP() (SOP, bool) {
	for s := SOP(0); s < numSOP; s++ {
		if p.state[s] == sendWaitTxSuccess {
			return s, true
		}
	}
	return 0, false
}

// ConsumeResult implements Port.
func (p *port) ConsumeResult(sop SOP) SendResult {
	r := p.lastResult[sop]
	p.lastResult[sop] = SendResultNone
	return r
}

// NotifyRx implements EventPort.
func (p *port) NotifyRx(sop SOP, m pdmsg.Message) {
	if m.ID() == p.lastRxID[sop] {
		return
	}
	p.lastRxID[sop] = m.ID()

	// Discard: an inbound message while a send is in flight aborts that
	// send. The caller (sender-response facility) distinguishes a plain
	// discard from a DPM-discard by whether a DPM request was in flight.
	if p.state[sop] != sendIdle {
		p.state[sop] = sendIdle
		p.lastResult[sop] = SendResultDiscarded
	}

	p.inbox[sop] = append(p.inbox[sop], m)
}

// drainOne pops the oldest queued inbound message for sop, if any.
func (p *port) drainOne(sop SOP) (pdmsg.Message, bool) {
	q := p.inbox[sop]
	if len(q) == 0 {
		return pdmsg.Message{}, false
	}
	m := q[0]
	p.inbox[sop] = q[1:]
	return m, true
}
