package ploop

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/puzrin/pdsink/dpm"
	"github.com/puzrin/pdsink/pdmsg"
	"github.com/puzrin/pdsink/pdtimer"
	"github.com/puzrin/pdsink/pe"
	"github.com/puzrin/pdsink/prl"
	"github.com/puzrin/pdsink/tc"
	"github.com/puzrin/pdsink/tcpm"
)

// fakeDriver is a minimal tcpm.Driver double: Transmit records calls,
// Alert/GetMessage replay a scripted queue so a test can stage exactly the
// events one step() should observe.
type fakeDriver struct {
	mu       sync.Mutex
	alerts   []tcpm.Event
	messages []pdmsg.Message
	txCalls  []tcpm.TxType
}

func (f *fakeDriver) Init() error                        { return nil }
func (f *fakeDriver) SetCC(tcpm.CCPull) error             { return nil }
func (f *fakeDriver) SetPolarity(tcpm.Polarity) error     { return nil }
func (f *fakeDriver) SetRxEnable(bool) error              { return nil }
func (f *fakeDriver) SetBISTTestMode(tcpm.BISTTestMode) error { return nil }
func (f *fakeDriver) SetMsgHeader(pdmsg.PowerRole, pdmsg.DataRole, pdmsg.Revision) error {
	return nil
}

func (f *fakeDriver) Transmit(t tcpm.TxType, m pdmsg.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txCalls = append(f.txCalls, t)
	return nil
}

func (f *fakeDriver) Alert() (tcpm.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.alerts) == 0 {
		return tcpm.EventNone, nil
	}
	ev := f.alerts[0]
	f.alerts = f.alerts[1:]
	return ev, nil
}

func (f *fakeDriver) GetMessage() (pdmsg.Message, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.messages) == 0 {
		return pdmsg.Message{}, false
	}
	m := f.messages[0]
	f.messages = f.messages[1:]
	return m, true
}

func (f *fakeDriver) queueAlert(e tcpm.Event)        { f.alerts = append(f.alerts, e) }
func (f *fakeDriver) queueMessage(m pdmsg.Message)   { f.messages = append(f.messages, m) }

func newTestLoop(t *testing.T) (*Loop, *fakeDriver, prl.EventPort) {
	t.Helper()
	drv := &fakeDriver{}
	prlPort := prl.New(drv, nil)
	dpmPort := dpm.NewBasicPort(&dpm.CVPolicy{MinVoltage: 5000, MaxVoltage: 5000, Current: 2000})
	tcPort := tc.NewBasicPort()
	timer := pdtimer.New(1)
	engine := pe.New(0, prlPort, dpmPort, tcPort, timer, drv, nil)
	return New(0, engine, prlPort, drv, nil), drv, prlPort
}

// TestWakeDrainsRxAndStepsEngine checks that a single Wake call pulls a
// queued EventRx alert, drains the message through NotifyRx, and still
// steps the engine exactly once.
func TestWakeDrainsRxAndStepsEngine(t *testing.T) {
	l, drv, _ := newTestLoop(t)

	l.Wake() // SM_INIT -> startup -> discovery

	var m pdmsg.Message
	m.SetType(pdmsg.TypeSourceCap)
	m.SetDataObjectCount(0)
	drv.queueAlert(tcpm.EventRx)
	drv.queueMessage(m)

	l.Wake() // discovery -> wait for capabilities, and drains the queued rx
	require.Equal(t, "PE_SNK_Wait_For_Capabilities", l.pe.CurrentStateName())
}

// TestWakeRoutesHardResetSignal checks EventHardResetRecv reaches the
// engine via NotifyHardResetSignal rather than through the PRL.
func TestWakeRoutesHardResetSignal(t *testing.T) {
	l, drv, _ := newTestLoop(t)
	l.Wake() // -> discovery

	drv.queueAlert(tcpm.EventHardResetRecv)
	l.Wake()
	// NotifyHardResetSignal transitions into PE_SNK_Hard_Reset synchronously
	// from handleEvents, before the same Wake's pe.Step call runs that
	// state's Run once more, so by the time Wake returns the engine has
	// already advanced one tick further.
	require.Equal(t, "PE_SNK_Transition_to_Default", l.pe.CurrentStateName())
}

// TestWakeRoutesTxResultToPendingSOP checks a TxSuccess alert reaches the
// Protocol Layer's retry state machine via PendingTxSOP, unblocking a send
// in flight.
func TestWakeRoutesTxResultToPendingSOP(t *testing.T) {
	l, drv, prlPort := newTestLoop(t)
	require.NoError(t, prlPort.SendCtrlMsg(prl.SOPPartner, pdmsg.TypeGetSourceCap))
	require.True(t, prlPort.IsBusy(prl.SOPPartner))

	drv.queueAlert(tcpm.EventTxSuccess)
	l.Wake()
	require.False(t, prlPort.IsBusy(prl.SOPPartner))
}

// TestMailboxCoalescesConcurrentWakes drives the mailbox directly: a second
// claim attempt while the first is still "running" must be deferred rather
// than granted, and releasing with a deferred wake must report a replay is
// owed.
func TestMailboxCoalescesConcurrentWakes(t *testing.T) {
	var m mailbox

	require.True(t, m.claim())
	require.False(t, m.claim()) // second caller loses, leaves a note

	require.True(t, m.releaseOrReplay()) // first caller must run again
	require.False(t, m.releaseOrReplay()) // no further wake pending, release fully

	require.True(t, m.claim()) // mailbox is idle again, a fresh claim succeeds
}

// TestRunStopsOnContextDone checks Run's ticker loop exits promptly once
// its context is canceled, without requiring a real driver tick to have
// fired.
func TestRunStopsOnContextDone(t *testing.T) {
	l, _, _ := newTestLoop(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Run did not return after context cancellation")
	}
}
