package tc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/puzrin/pdsink/pdmsg"
)

func TestBasicPortDefaults(t *testing.T) {
	p := NewBasicPort()
	require.Equal(t, pdmsg.PowerRoleSink, p.GetPowerRole())
	require.Equal(t, pdmsg.DataRoleUFP, p.GetDataRole())
	require.True(t, p.IsAttachedSnk())
	require.False(t, p.IsAttachedSrc())
	require.False(t, p.PDConnection())
}

func TestBasicPortDetachClearsPDConnection(t *testing.T) {
	p := NewBasicPort()
	p.SetPDConnection(true)
	p.SetAttached(false)
	require.False(t, p.PDConnection())
	require.False(t, p.IsAttachedSnk())
}

func TestBasicPortHooksFire(t *testing.T) {
	p := NewBasicPort()
	called := false
	p.OnRequestPowerSwap = func() { called = true }
	p.RequestPowerSwap()
	require.True(t, called)
}

func TestBasicPortNilHooksAreNoop(t *testing.T) {
	p := NewBasicPort()
	require.NotPanics(t, func() {
		p.HardResetRequest()
		p.StartErrorRecovery()
		p.SrcPowerOff()
		p.PRSwapComplete(true)
		p.PRSSrcSnkAssertRd()
		p.PRSSnkSrcAssertRp()
	})
}
