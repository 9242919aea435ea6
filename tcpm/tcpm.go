// Package tcpm defines the Type-C Port Controller Manager driver contract:
// the uniform, non-blocking operations the policy engine uses to reach the
// wire. Concrete register-bang
// drivers (FUSB302, STM32G4 UCPD) live in subpackages and implement Driver;
// the PE never depends on them directly.
package tcpm

import (
	"errors"

	"github.com/puzrin/pdsink/pdmsg"
)

// Event can store multiple alert events and return them in priority order,
// highest first.
type Event uint16

// Events are listed in priority order, highest first, so Pop always
// returns the most urgent pending event.
const (
	EventNone          Event = 0
	EventHardResetRecv Event = 1 << iota // Hard reset signaling received.
	EventResetRecv
	EventSoftResetRecv
	EventPower0A5 // 5V@0.5A non-PD host current detected.
	EventPower1A5 // 5V@1.5A non-PD host current detected.
	EventPower3A0 // 5V@3A non-PD host current detected.
	EventVBUSAttached
	EventVBUSRemoved
	EventRx
	EventTxSuccess
	EventTxFailed
	EventBISTModeEntered
)

// Pop returns the next highest-priority pending event and clears it.
func (e *Event) Pop() Event {
	if *e == 0 {
		return EventNone
	}
	for r := Event(1); r <= 1<<15; r <<= 1 {
		if *e&r != 0 {
			*e &= ^r
			return r
		}
	}
	return EventNone
}

// Add adds the events v to the set.
func (e *Event) Add(v Event) { *e |= v }

// Has returns true if event v is set without clearing it.
func (e Event) Has(v Event) bool { return e&v != 0 }

// CCPull is the pull applied to a CC line.
type CCPull uint8

// CC pull values. A sink-only build only ever requests CCPullRd.
const (
	CCPullNone CCPull = iota
	CCPullRd
	CCPullRp
)

// Polarity selects which CC line carries the Type-C/PD signaling.
type Polarity uint8

// Polarity values.
const (
	PolarityCC1 Polarity = iota
	PolarityCC2
)

// TxType selects the address/signaling a Transmit call targets.
type TxType uint8

// Transmit targets.
const (
	TxSOP TxType = iota
	TxSOPPrime
	TxSOPDoublePrime
	TxHardReset
	TxCableReset
	TxBISTCarrierMode2
)

// BISTTestMode selects the TCPC receiver test mode used while PE_BIST_TX
// (BIST_TEST_DATA variant) holds the port quiescent.
type BISTTestMode uint8

// BIST test modes.
const (
	BISTTestModeOff BISTTestMode = iota
	BISTTestModeOn
)

// Driver is the uniform, non-blocking interface the policy engine uses to
// reach a Type-C port controller. Every method must return promptly;
// asynchronous completion (GoodCRC, retries, interrupts) is surfaced
// through Alert and GetMessage, never by blocking inside a call.
type Driver interface {
	// Init (re-)initializes the controller to its default sink-mode
	// configuration. Must be called before any other method and may be
	// called again to recover from a hard reset.
	Init() error

	// SetCC requests the given pull on the port's CC lines.
	SetCC(pull CCPull) error

	// SetPolarity fixes which CC line carries signaling after attach.
	SetPolarity(pol Polarity) error

	// SetRxEnable enables or disables PD message reception.
	SetRxEnable(enable bool) error

	// Transmit queues a message (or a reset signal, for TxHardReset and
	// TxCableReset, in which case m is ignored) for the given target.
	// Completion (success or failure) is reported via Alert.
	Transmit(t TxType, m pdmsg.Message) error

	// GetMessage returns the oldest received message not yet consumed, or
	// ok == false if the receive queue is empty. GoodCRC messages are
	// never returned; the driver consumes them internally.
	GetMessage() (m pdmsg.Message, ok bool)

	// SetMsgHeader updates the power/data role and revision fields the
	// driver stamps on its own auto-generated GoodCRC replies.
	SetMsgHeader(role pdmsg.PowerRole, data pdmsg.DataRole, rev pdmsg.Revision) error

	// Alert drains pending hardware interrupt/status state and returns the
	// resulting events. Must be called after Init, Transmit, SetCC and
	// SetRxEnable, and whenever the port's alert line (if any) fires.
	Alert() (Event, error)

	// SetBISTTestMode toggles the TCPC receiver test mode used for
	// BIST_TEST_DATA.
	SetBISTTestMode(mode BISTTestMode) error
}

var (
	// ErrTxFailed is returned by Transmit/Alert when retries are exhausted
	// without a GoodCRC.
	ErrTxFailed = errors.New("tcpm: failed to send pd message")

	// ErrRxEmpty is returned internally by drivers when no more messages are
	// queued; exported so driver implementations share one sentinel.
	ErrRxEmpty = errors.New("tcpm: no more messages to read")
)
