package dpm

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/puzrin/pdsink/pdmsg"
)

func fixedPDO(mV, mA uint16) pdmsg.PDO {
	p := pdmsg.NewFixedSupplyPDO()
	p.SetVoltage(mV)
	p.SetMaxCurrent(mA)
	return pdmsg.PDO(p)
}

func ppsPDO(minV, maxV, maxA uint16) pdmsg.PDO {
	p := pdmsg.NewPPSPDO()
	p.SetMinVoltage(minV)
	p.SetMaxVoltage(maxV)
	p.SetMaxCurrent(maxA)
	return pdmsg.PDO(p)
}

func TestCCPolicyValidate(t *testing.T) {
	require.NoError(t, CCPolicy{MinVoltage: 3300, MaxVoltage: 20000, MinCurrent: 1000, MaxCurrent: 3000}.Validate())
	require.Error(t, CCPolicy{MinVoltage: 3300, MaxVoltage: 20000, MinCurrent: 100, MaxCurrent: 3000}.Validate())
	require.Error(t, CCPolicy{MinVoltage: 3300, MaxVoltage: 20000, MinCurrent: 3000, MaxCurrent: 1000}.Validate())
}

func TestCCPolicyPicksPPSOnly(t *testing.T) {
	policy := CCPolicy{MinVoltage: 3300, MaxVoltage: 11000, MinCurrent: 1000, MaxCurrent: 3000}
	pdos := []pdmsg.PDO{
		fixedPDO(5000, 3000),
		ppsPDO(3300, 11000, 3000),
	}
	rdo := policy.EvaluateCapabilities(pdos)
	require.EqualValues(t, 2, rdo.SelectedObjectPosition())
}

func TestCVPolicyPrefersFixedOverPPS(t *testing.T) {
	policy := &CVPolicy{MinVoltage: 5000, MaxVoltage: 5000, Current: 2000}
	pdos := []pdmsg.PDO{
		fixedPDO(5000, 3000),
		ppsPDO(3300, 11000, 3000),
	}
	rdo := policy.EvaluateCapabilities(pdos)
	require.EqualValues(t, 1, rdo.SelectedObjectPosition())
	require.EqualValues(t, 2000, rdo.FixedOperatingCurrent())
}

func TestCPPolicyDerivesCurrentFromPower(t *testing.T) {
	policy := &CPPolicy{MinVoltage: 5000, MaxVoltage: 5000, Power: 10000}
	pdos := []pdmsg.PDO{fixedPDO(5000, 3000)}
	rdo := policy.EvaluateCapabilities(pdos)
	require.EqualValues(t, 1, rdo.SelectedObjectPosition())
	require.EqualValues(t, 2000, rdo.FixedOperatingCurrent())
}

func TestLoggerDelegatesAndWrites(t *testing.T) {
	var buf bytes.Buffer
	policy := &CVPolicy{MinVoltage: 5000, MaxVoltage: 5000, Current: 1000}
	l := NewLogger(&buf, "\n", policy)
	rdo := l.EvaluateCapabilities([]pdmsg.PDO{fixedPDO(5000, 3000)})
	require.EqualValues(t, 1, rdo.SelectedObjectPosition())
	require.Contains(t, buf.String(), "fixed 5.0V")
}

func TestBasicPortRequestLifecycle(t *testing.T) {
	p := NewBasicPort(nil)
	p.Init()
	require.Zero(t, p.Pending())

	p.Raise(RequestGetSourceCap | RequestSendAlert)
	require.Equal(t, RequestGetSourceCap|RequestSendAlert, p.Pending())

	p.ClearRequest(RequestGetSourceCap)
	require.Equal(t, RequestSendAlert, p.Pending())
}

func TestBasicPortBISTGuardsReentry(t *testing.T) {
	p := NewBasicPort(nil)
	require.NoError(t, p.BISTSharedModeEnter())
	require.ErrorIs(t, p.BISTSharedModeEnter(), ErrBISTAlreadyActive)
	p.BISTSharedModeExit()
	require.NoError(t, p.BISTSharedModeEnter())
}

var _ Port = (*BasicPort)(nil)
