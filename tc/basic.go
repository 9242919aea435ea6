package tc

import "github.com/puzrin/pdsink/pdmsg"

// BasicPort is a reference tc.Port for a sink-only build. A real Type-C
// state machine drives attach detection and VBUS/CC electrical sequencing;
// BasicPort only tracks the facts the policy engine needs and forwards its
// swap/recovery requests to caller-supplied hooks, so a host program can
// wire in whatever Type-C layer (or fixed sink-only stub) it actually has.
type BasicPort struct {
	powerRole pdmsg.PowerRole
	dataRole  pdmsg.DataRole
	attachedSnk bool
	pdConn      bool

	OnHardResetRequest    func()
	OnStartErrorRecovery  func()
	OnRequestPowerSwap    func()
	OnSrcPowerOff         func()
	OnPRSwapComplete      func(success bool)
	OnPRSSrcSnkAssertRd   func()
	OnPRSSnkSrcAssertRp   func()
}

// NewBasicPort creates a BasicPort starting in the sink/UFP role, attached.
func NewBasicPort() *BasicPort {
	return &BasicPort{
		powerRole:   pdmsg.PowerRoleSink,
		dataRole:    pdmsg.DataRoleUFP,
		attachedSnk: true,
	}
}

// SetAttached updates the attach state reported by IsAttachedSnk and, when
// attached becomes false, clears the PD-connection flag too.
func (p *BasicPort) SetAttached(attached bool) {
	p.attachedSnk = attached
	if !attached {
		p.pdConn = false
	}
}

// SetPDConnection updates the flag reported by PDConnection.
func (p *BasicPort) SetPDConnection(v bool) { p.pdConn = v }

// SetPowerRole updates the role reported by GetPowerRole.
func (p *BasicPort) SetPowerRole(r pdmsg.PowerRole) { p.powerRole = r }

// SetDataRole updates the role reported by GetDataRole.
func (p *BasicPort) SetDataRole(r pdmsg.DataRole) { p.dataRole = r }

// GetPowerRole implements Port.
func (p *BasicPort) GetPowerRole() pdmsg.PowerRole { return p.powerRole }

// GetDataRole implements Port.
func (p *BasicPort) GetDataRole() pdmsg.DataRole { return p.dataRole }

// IsAttachedSrc implements Port. A sink-only build never attaches as
// source.
func (p *BasicPort) IsAttachedSrc() bool { return false }

// IsAttachedSnk implements Port.
func (p *BasicPort) IsAttachedSnk() bool { return p.attachedSnk }

// PDConnection implements Port.
func (p *BasicPort) PDConnection() bool { return p.pdConn }

func call(f func()) {
	if f != nil {
		f()
	}
}

// HardResetRequest implements Port.
func (p *BasicPort) HardResetRequest() { call(p.OnHardResetRequest) }

// StartErrorRecovery implements Port.
func (p *BasicPort) StartErrorRecovery() { call(p.OnStartErrorRecovery) }

// RequestPowerSwap implements Port.
func (p *BasicPort) RequestPowerSwap() { call(p.OnRequestPowerSwap) }

// SrcPowerOff implements Port.
func (p *BasicPort) SrcPowerOff() { call(p.OnSrcPowerOff) }

// PRSwapComplete implements Port.
func (p *BasicPort) PRSwapComplete(success bool) {
	if p.OnPRSwapComplete != nil {
		p.OnPRSwapComplete(success)
	}
}

// PRSSrcSnkAssertRd implements Port.
func (p *BasicPort) PRSSrcSnkAssertRd() { call(p.OnPRSSrcSnkAssertRd) }

// PRSSnkSrcAssertRp implements Port.
func (p *BasicPort) PRSSnkSrcAssertRp() { call(p.OnPRSSnkSrcAssertRp) }

var _ Port = (*BasicPort)(nil)
