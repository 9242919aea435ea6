package prl

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/puzrin/pdsink/pdmsg"
	"github.com/puzrin/pdsink/tcpm"
)

type fakeDriver struct {
	tcpm.Driver
	txCalls []tcpm.TxType
	txErr   error
}

func (f *fakeDriver) Transmit(t tcpm.TxType, m pdmsg.Message) error {
	f.txCalls = append(f.txCalls, t)
	return f.txErr
}
func (f *fakeDriver) SetMsgHeader(pdmsg.PowerRole, pdmsg.DataRole, pdmsg.Revision) error { return nil }

func TestSendCtrlMsgTransmitsOnce(t *testing.T) {
	d := &fakeDriver{}
	p := New(d, nil)
	p.ResetSoft(SOPPartner)

	require.NoError(t, p.SendCtrlMsg(SOPPartner, pdmsg.TypeGetSourceCap))
	require.True(t, p.IsBusy(SOPPartner))
	require.Len(t, d.txCalls, 1)
	require.Equal(t, tcpm.TxSOP, d.txCalls[0])
}

func TestSendWhileBusyIsRejected(t *testing.T) {
	d := &fakeDriver{}
	p := New(d, nil)
	p.ResetSoft(SOPPartner)

	require.NoError(t, p.SendCtrlMsg(SOPPartner, pdmsg.TypeGetSourceCap))
	require.ErrorIs(t, p.SendCtrlMsg(SOPPartner, pdmsg.TypeGetSourceCap), ErrTx)
}

func TestRetryExhaustionReportsTxError(t *testing.T) {
	pp := New(&fakeDriver{}, nil)
	p := pp.(*port)
	p.ResetSoft(SOPPartner)
	require.NoError(t, p.SendCtrlMsg(SOPPartner, pdmsg.TypeGetSourceCap))

	var err error
	for i := 0; i <= PDRetryCount; i++ {
		err = p.NotifyTxResult(SOPPartner, false, time.Time{})
	}
	require.True(t, errors.Is(err, ErrTx))
	require.False(t, p.IsBusy(SOPPartner))
}

func TestDuplicateRxIDIgnored(t *testing.T) {
	pp := New(&fakeDriver{}, nil)
	p := pp.(*port)
	p.ResetSoft(SOPPartner)

	var m pdmsg.Message
	m.SetID(0)
	m.SetType(pdmsg.TypeSourceCap)
	p.NotifyRx(SOPPartner, m)
	p.NotifyRx(SOPPartner, m)

	_, _, ok, _ := p.Poll()
	require.True(t, ok)
	_, _, ok, _ = p.Poll()
	require.False(t, ok)
}

func TestExtendedMessageOverLengthRejected(t *testing.T) {
	p := New(&fakeDriver{}, nil)
	p.ResetSoft(SOPPartner)
	big := make([]byte, MaxExtendedChunkLen+1)
	require.ErrorIs(t, p.SendExtDataMsg(SOPPartner, pdmsg.TypeEPRSourceCap, big), ErrProtocol)
}

func TestConsumeResultReportsSent(t *testing.T) {
	pp := New(&fakeDriver{}, nil)
	p := pp.(*port)
	p.ResetSoft(SOPPartner)

	require.Equal(t, SendResultNone, p.ConsumeResult(SOPPartner))
	require.NoError(t, p.SendCtrlMsg(SOPPartner, pdmsg.TypeGetSourceCap))
	require.NoError(t, p.NotifyTxResult(SOPPartner, true, time.Time{}))
	require.Equal(t, SendResultSent, p.ConsumeResult(SOPPartner))
	// One-shot: a second read sees it already consumed.
	require.Equal(t, SendResultNone, p.ConsumeResult(SOPPartner))
}

func TestConsumeResultReportsFailedAfterRetryExhaustion(t *testing.T) {
	pp := New(&fakeDriver{}, nil)
	p := pp.(*port)
	p.ResetSoft(SOPPartner)
	require.NoError(t, p.SendCtrlMsg(SOPPartner, pdmsg.TypeGetSourceCap))

	for i := 0; i <= PDRetryCount; i++ {
		_ = p.NotifyTxResult(SOPPartner, false, time.Time{})
	}
	require.Equal(t, SendResultFailed, p.ConsumeResult(SOPPartner))
}

func TestPendingTxSOPReportsInFlightSend(t *testing.T) {
	pp := New(&fakeDriver{}, nil)
	p := pp.(*port)
	p.ResetSoft(SOPPartner)

	_, ok := p.PendingTxSOP()
	require.False(t, ok)

	require.NoError(t, p.SendCtrlMsg(SOPPartner, pdmsg.TypeGetSourceCap))
	sop, ok := p.PendingTxSOP()
	require.True(t, ok)
	require.Equal(t, SOPPartner, sop)

	require.NoError(t, p.NotifyTxResult(SOPPartner, true, time.Time{}))
	_, ok = p.PendingTxSOP()
	require.False(t, ok)
}

func TestConsumeResultReportsDiscardedOnUnrelatedRx(t *testing.T) {
	pp := New(&fakeDriver{}, nil)
	p := pp.(*port)
	p.ResetSoft(SOPPartner)
	require.NoError(t, p.SendCtrlMsg(SOPPartner, pdmsg.TypeGetSourceCap))

	var m pdmsg.Message
	m.SetID(0)
	m.SetType(pdmsg.TypeSourceCap)
	p.NotifyRx(SOPPartner, m)

	require.False(t, p.IsBusy(SOPPartner))
	require.Equal(t, SendResultDiscarded, p.ConsumeResult(SOPPartner))
}
