package pdmsg

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMessageHeaderRoundTrip(t *testing.T) {
	var m Message
	m.SetID(5)
	m.SetDataObjectCount(3)
	m.SetType(TypeRequest)
	m.SetRevision(Revision30)
	m.SetPowerRole(PowerRoleSink)
	m.SetDataRole(DataRoleUFP)
	m.SetExtended(false)

	require.Equal(t, uint8(5), m.ID())
	require.Equal(t, uint8(3), m.DataObjectCount())
	require.Equal(t, TypeRequest, m.Type())
	require.Equal(t, Revision30, m.Revision())
	require.Equal(t, PowerRoleSink, m.PowerRole())
	require.Equal(t, DataRoleUFP, m.DataRole())
	require.True(t, m.IsData())
	require.False(t, m.IsExtended())
}

func TestMessageToBytes(t *testing.T) {
	var m Message
	m.SetDataObjectCount(2)
	m.SetType(TypeSourceCap)
	m.Data[0] = 0x11223344
	m.Data[1] = 0xaabbccdd

	buf := make([]byte, MaxMessageBytes)
	n := m.ToBytes(buf)
	require.EqualValues(t, 2+2*4, n)
	require.Equal(t, byte(0x44), buf[2])
	require.Equal(t, byte(0x11), buf[5])
	require.Equal(t, byte(0xdd), buf[6])
}

func TestFixedSupplyPDORounding(t *testing.T) {
	p := NewFixedSupplyPDO()
	p.SetVoltage(5000)
	p.SetMaxCurrent(3000)
	p.SetEPRCapable(true)

	require.EqualValues(t, 5000, p.Voltage())
	require.EqualValues(t, 3000, p.MaxCurrent())
	require.True(t, p.EPRCapable())
	require.True(t, PDO(p).IsEPRCapable())
	require.Equal(t, PDOTypeFixedSupply, PDO(p).Type())
}

func TestPPSPDOFields(t *testing.T) {
	p := NewPPSPDO()
	p.SetMinVoltage(3300)
	p.SetMaxVoltage(11000)
	p.SetMaxCurrent(3000)

	require.EqualValues(t, 3300, p.MinVoltage())
	require.EqualValues(t, 11000, p.MaxVoltage())
	require.EqualValues(t, 3000, p.MaxCurrent())
	require.Equal(t, PDOTypePPS, PDO(p).Type())
	require.False(t, p.IsPowerLimited())
}

func TestRequestDOFixed(t *testing.T) {
	var rdo RequestDO
	rdo.SetSelectedObjectPosition(1)
	rdo.SetFixedOperatingCurrent(3000)
	rdo.SetFixedMaxOperatingCurrent(3000)
	rdo.SetCapabilityMismatch(false)

	require.EqualValues(t, 1, rdo.SelectedObjectPosition())
	require.EqualValues(t, 3000, rdo.FixedOperatingCurrent())
	require.EqualValues(t, 3000, rdo.FixedMaxOperatingCurrent())
	require.False(t, rdo.CapabilityMismatch())
	require.NotEqual(t, EmptyRequestDO, rdo)
}

func TestRequestDOPPS(t *testing.T) {
	var rdo RequestDO
	rdo.SetSelectedObjectPosition(2)
	rdo.SetPPSOutputVoltage(9000)
	rdo.SetPPSOutputCurrent(2000)

	require.EqualValues(t, 2, rdo.SelectedObjectPosition())
	require.EqualValues(t, 9000, rdo.PPSOutputVoltage())
	require.EqualValues(t, 2000, rdo.PPSOutputCurrent())
}

func TestRevisionMin(t *testing.T) {
	require.Equal(t, Revision20, Min(Revision20, Revision30))
	require.Equal(t, Revision20, Min(Revision30, Revision20))
}

func TestMessageIsDataExcludesExtended(t *testing.T) {
	var m Message
	m.SetDataObjectCount(1)
	m.SetExtended(true)
	require.False(t, m.IsData())
	require.True(t, m.IsExtended())
}
