package pe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/puzrin/pdsink/dpm"
	"github.com/puzrin/pdsink/pdmsg"
	"github.com/puzrin/pdsink/pdtimer"
	"github.com/puzrin/pdsink/prl"
	"github.com/puzrin/pdsink/tc"
	"github.com/puzrin/pdsink/tcpm"
)

// fakeDriver stands in for a tcpm.Driver; the policy engine only ever talks
// to it through the prl.EventPort this test drives directly, so every
// method beyond Transmit/SetMsgHeader is unused and left to the embedded
// nil interface to panic if that assumption is ever wrong.
type fakeDriver struct {
	tcpm.Driver
	txCalls []tcpm.TxType
}

func (f *fakeDriver) Transmit(t tcpm.TxType, m pdmsg.Message) error {
	f.txCalls = append(f.txCalls, t)
	return nil
}
func (f *fakeDriver) SetMsgHeader(pdmsg.PowerRole, pdmsg.DataRole, pdmsg.Revision) error { return nil }

// fixedPDO builds a single Fixed Supply source PDO advertising voltage
// (mV) and current (mA).
func fixedPDO(voltage, current uint16) pdmsg.PDO {
	var fs pdmsg.FixedSupplyPDO
	fs.SetVoltage(voltage)
	fs.SetMaxCurrent(current)
	return pdmsg.PDO(fs)
}

func newHarness(t *testing.T) (*PolicyEngine, prl.EventPort, *fakeDriver, *dpm.BasicPort) {
	t.Helper()
	drv := &fakeDriver{}
	prlPort := prl.New(drv, nil)
	dpmPort := dpm.NewBasicPort(&dpm.CVPolicy{MinVoltage: 5000, MaxVoltage: 5000, Current: 2000})
	tcPort := tc.NewBasicPort()
	timer := pdtimer.New(1)
	engine := New(0, prlPort, dpmPort, tcPort, timer, nil, nil)
	return engine, prlPort, drv, dpmPort
}

// sourceCapMsg builds a single-PDO Source_Capabilities message at the given
// revision, matching what a real source would send as the first message of
// a negotiation.
func sourceCapMsg(rev pdmsg.Revision, pdos ...pdmsg.PDO) pdmsg.Message {
	var m pdmsg.Message
	m.SetType(pdmsg.TypeSourceCap)
	m.SetDataObjectCount(uint8(len(pdos)))
	m.SetRevision(rev)
	m.SetPowerRole(pdmsg.PowerRoleSource)
	for i, p := range pdos {
		m.Data[i] = uint32(p)
	}
	return m
}

func ctrlMsg(t pdmsg.Type, rev pdmsg.Revision, id uint8) pdmsg.Message {
	var m pdmsg.Message
	m.SetType(t)
	m.SetDataObjectCount(0)
	m.SetRevision(rev)
	m.SetPowerRole(pdmsg.PowerRoleSource)
	m.SetID(id)
	return m
}

// TestHappyPathNegotiation drives a full sink negotiation: startup,
// discovery, wait-for-capabilities, evaluate/select, transition, ready.
func TestHappyPathNegotiation(t *testing.T) {
	engine, prlPort, drv, _ := newHarness(t)

	engine.Step(true) // SM_INIT -> startup -> discovery
	require.Equal(t, "PE_SNK_Discovery", engine.CurrentStateName())

	engine.Step(true) // discovery -> wait for capabilities
	require.Equal(t, "PE_SNK_Wait_For_Capabilities", engine.CurrentStateName())

	pdo := fixedPDO(5000, 3000)
	prlPort.NotifyRx(prl.SOPPartner, sourceCapMsg(pdmsg.Revision30, pdo))
	engine.Step(true) // wait-for-caps -> evaluate -> select (Request sent)
	require.Equal(t, "PE_SNK_Select_Capability", engine.CurrentStateName())
	require.NotEmpty(t, drv.txCalls)

	require.NoError(t, prlPort.NotifyTxResult(prl.SOPPartner, true, time.Now()))
	engine.Step(true) // Request transmitted, awaiting reply
	require.Equal(t, "PE_SNK_Select_Capability", engine.CurrentStateName())

	prlPort.NotifyRx(prl.SOPPartner, ctrlMsg(pdmsg.TypeAccept, pdmsg.Revision30, 1))
	engine.Step(true) // Accept -> transition sink
	require.Equal(t, "PE_SNK_Transition_Sink", engine.CurrentStateName())
	require.True(t, engine.ExplicitContract())

	prlPort.NotifyRx(prl.SOPPartner, ctrlMsg(pdmsg.TypePSReady, pdmsg.Revision30, 2))
	engine.Step(true) // PS_RDY -> ready, new limits applied
	require.Equal(t, "PE_SNK_Ready", engine.CurrentStateName())
	require.Equal(t, uint16(2000), engine.CurrLimit())
	require.Equal(t, uint16(5000), engine.SupplyVoltage())
}

// TestWaitForCapabilitiesTimeoutTriggersHardReset exercises the no-source
// path: no Source_Capabilities arrives before the wait timer expires.
func TestWaitForCapabilitiesTimeoutTriggersHardReset(t *testing.T) {
	engine, _, drv, _ := newHarness(t)

	engine.Step(true) // startup -> discovery
	engine.Step(true) // discovery -> wait for capabilities
	require.Equal(t, "PE_SNK_Wait_For_Capabilities", engine.CurrentStateName())

	// Force the wait timer to have already elapsed rather than sleeping in
	// the test: arm it with a zero/negative duration.
	engine.Timer.Enable(engine.Port, pdtimer.Timeout, -time.Millisecond)
	engine.Step(true)
	require.Equal(t, "PE_SNK_Hard_Reset", engine.CurrentStateName())
	require.NotEmpty(t, drv.txCalls)
}

// TestRejectKeepsNoContractAndReturnsToWaitForCapabilities checks the
// Reject-before-any-contract branch routes back to capability discovery
// rather than to Ready.
func TestRejectKeepsNoContractAndReturnsToWaitForCapabilities(t *testing.T) {
	engine, prlPort, _, _ := newHarness(t)

	engine.Step(true) // discovery
	engine.Step(true) // wait for capabilities

	pdo := fixedPDO(5000, 3000)
	prlPort.NotifyRx(prl.SOPPartner, sourceCapMsg(pdmsg.Revision30, pdo))
	engine.Step(true) // -> select capability, Request sent

	require.NoError(t, prlPort.NotifyTxResult(prl.SOPPartner, true, time.Now()))
	engine.Step(true)

	prlPort.NotifyRx(prl.SOPPartner, ctrlMsg(pdmsg.TypeReject, pdmsg.Revision30, 1))
	engine.Step(true)
	require.Equal(t, "PE_SNK_Wait_For_Capabilities", engine.CurrentStateName())
	require.False(t, engine.ExplicitContract())
}

// TestSoftResetFromPartnerIsAcknowledged exercises the fix that routes a
// partner-initiated Soft_Reset to PE_Soft_Reset rather than Not_Supported.
func TestSoftResetFromPartnerIsAcknowledged(t *testing.T) {
	engine, prlPort, _, _ := newHarness(t)

	engine.Step(true)
	engine.Step(true)
	pdo := fixedPDO(5000, 3000)
	prlPort.NotifyRx(prl.SOPPartner, sourceCapMsg(pdmsg.Revision30, pdo))
	engine.Step(true)
	require.NoError(t, prlPort.NotifyTxResult(prl.SOPPartner, true, time.Now()))
	engine.Step(true)
	prlPort.NotifyRx(prl.SOPPartner, ctrlMsg(pdmsg.TypeAccept, pdmsg.Revision30, 1))
	engine.Step(true)
	prlPort.NotifyRx(prl.SOPPartner, ctrlMsg(pdmsg.TypePSReady, pdmsg.Revision30, 2))
	engine.Step(true)
	require.Equal(t, "PE_SNK_Ready", engine.CurrentStateName())

	prlPort.NotifyRx(prl.SOPPartner, ctrlMsg(pdmsg.TypeSoftReset, pdmsg.Revision30, 3))
	engine.Step(true)
	require.Equal(t, "PE_Soft_Reset", engine.CurrentStateName())
}

// TestDriverHardResetSignalForcesHardReset exercises the ANY-state hard
// reset path the event loop takes via NotifyHardResetSignal when the driver
// reports a received Hard_Reset.
func TestDriverHardResetSignalForcesHardReset(t *testing.T) {
	engine, _, _, _ := newHarness(t)

	engine.Step(true) // discovery
	engine.NotifyHardResetSignal()
	require.Equal(t, "PE_SNK_Hard_Reset", engine.CurrentStateName())
}

// TestTxErrorDuringSelectCapabilityForcesHardReset exercises a PRL-reported
// TxError (retries exhausted without a GoodCRC) arriving while the sink
// awaits a reply to its own Request: awaitResponse reports sendFailed
// without arming SENDER_RESPONSE, so the state must handle it directly
// rather than relying on the timer to eventually expire.
func TestTxErrorDuringSelectCapabilityForcesHardReset(t *testing.T) {
	engine, prlPort, drv, _ := newHarness(t)

	engine.Step(true) // startup -> discovery
	engine.Step(true) // discovery -> wait for capabilities

	pdo := fixedPDO(5000, 3000)
	prlPort.NotifyRx(prl.SOPPartner, sourceCapMsg(pdmsg.Revision30, pdo))
	engine.Step(true) // wait-for-caps -> evaluate -> select (Request sent)
	require.Equal(t, "PE_SNK_Select_Capability", engine.CurrentStateName())

	for i := 0; i < prl.PDRetryCount; i++ {
		require.NoError(t, prlPort.NotifyTxResult(prl.SOPPartner, false, time.Now()))
	}
	require.Error(t, prlPort.NotifyTxResult(prl.SOPPartner, false, time.Now())) // retries exhausted: TxError
	engine.Step(true) // TxError exhausts retries -> sendFailed -> hard reset
	require.Equal(t, "PE_SNK_Hard_Reset", engine.CurrentStateName())
	require.NotEmpty(t, drv.txCalls)
}

// TestPauseAndResume exercises Step's enable/disable plumbing (SM_RUN <->
// SM_PAUSED), mirroring pe_run's third argument.
func TestPauseAndResume(t *testing.T) {
	engine, _, _, _ := newHarness(t)

	engine.Step(true)
	require.Equal(t, "PE_SNK_Discovery", engine.CurrentStateName())

	engine.Step(false) // pause: exits current state, enters none
	require.Equal(t, "", engine.CurrentStateName())

	engine.Step(true) // resume: re-runs init from PE_SNK_Startup
	require.Equal(t, "PE_SNK_Discovery", engine.CurrentStateName())
}
