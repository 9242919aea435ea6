// Package tc defines the Type-C layer contract: the minimal set of
// connection/role facts and swap-sequencing hooks the policy engine reads
// and drives, independent of the PD protocol itself.
package tc

import "github.com/puzrin/pdsink/pdmsg"

// Port is the Type-C contract the policy engine depends on.
type Port interface {
	// GetPowerRole returns the port's current power role.
	GetPowerRole() pdmsg.PowerRole

	// GetDataRole returns the port's current data role.
	GetDataRole() pdmsg.DataRole

	// IsAttachedSrc/IsAttachedSnk report the port's current Type-C attach
	// state; at most one is ever true at a time.
	IsAttachedSrc() bool
	IsAttachedSnk() bool

	// PDConnection reports whether a PD-capable partner has been detected
	// on this connection (distinct from Type-C attach, which only implies
	// a legal CC termination).
	PDConnection() bool

	// HardResetRequest asks the Type-C layer to perform the electrical
	// side of a hard reset (toggling VBUS/CC per role).
	HardResetRequest()

	// StartErrorRecovery asks the Type-C layer to detach and restart
	// connection detection after an unrecoverable protocol failure.
	StartErrorRecovery()

	// RequestPowerSwap asks the Type-C layer to begin a power role swap.
	RequestPowerSwap()

	// SrcPowerOff asks the Type-C layer to remove VBUS while this port is
	// acting as source (used mid power-role-swap).
	SrcPowerOff()

	// PRSwapComplete notifies the Type-C layer the PE has finished its
	// side of a power role swap, reporting whether the swap actually
	// reached PS_RDY (false means the attempt was abandoned).
	PRSwapComplete(success bool)

	// PRSSrcSnkAssertRd asserts Rd as the first step of a source-to-sink
	// power role swap.
	PRSSrcSnkAssertRd()

	// PRSSnkSrcAssertRp asserts Rp as the first step of a sink-to-source
	// power role swap.
	PRSSnkSrcAssertRp()
}
