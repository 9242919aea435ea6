package pdtimer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEnableDisable(t *testing.T) {
	s := New(1)
	require.True(t, s.IsDisabled(0, SenderResponse))
	require.False(t, s.IsExpired(0, SenderResponse))

	s.Enable(0, SenderResponse, time.Millisecond)
	require.False(t, s.IsDisabled(0, SenderResponse))
	require.False(t, s.IsExpired(0, SenderResponse))

	time.Sleep(2 * time.Millisecond)
	require.True(t, s.IsExpired(0, SenderResponse))

	s.Disable(0, SenderResponse)
	require.True(t, s.IsDisabled(0, SenderResponse))
	require.False(t, s.IsExpired(0, SenderResponse))
}

func TestDisableRange(t *testing.T) {
	s := New(2)
	s.Enable(1, PSTransition, time.Hour)
	s.Enable(1, SinkRequest, time.Hour)
	s.DisableRange(1, PSTransition, SinkRequest)
	require.True(t, s.IsDisabled(1, PSTransition))
	require.True(t, s.IsDisabled(1, SinkRequest))
}

func TestDisableAllIsolatedPerPort(t *testing.T) {
	s := New(2)
	s.Enable(0, SenderResponse, time.Hour)
	s.Enable(1, SenderResponse, time.Hour)
	s.DisableAll(0)
	require.True(t, s.IsDisabled(0, SenderResponse))
	require.False(t, s.IsDisabled(1, SenderResponse))
}

func TestRemaining(t *testing.T) {
	s := New(1)
	require.Zero(t, s.Remaining(0, PSSource))
	s.Enable(0, PSSource, 50*time.Millisecond)
	r := s.Remaining(0, PSSource)
	require.Greater(t, r, time.Duration(0))
	require.LessOrEqual(t, r, 50*time.Millisecond)
}
