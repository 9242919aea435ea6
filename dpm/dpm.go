// Package dpm implements the Device Policy Manager contract the policy
// engine calls into for capability evaluation and role decisions, plus a
// set of ready-made sink capability policies (constant current, constant
// voltage, constant power) adapted from a single-port reference DPM.
package dpm

import (
	"errors"
	"fmt"
	"io"

	"github.com/puzrin/pdsink/pdmsg"
)

// CapabilityEvaluator decides which PDO (if any) to request out of a
// source's advertised capabilities.
type CapabilityEvaluator interface {
	// EvaluateCapabilities is called every time the policy engine receives
	// a new Source_Capabilities (or EPR_Source_Cap) message. If no PDO is
	// acceptable, it must return pdmsg.EmptyRequestDO. The policy engine
	// expects a prompt answer; this must never block.
	EvaluateCapabilities(pdos []pdmsg.PDO) pdmsg.RequestDO
}

// CapabilityEvaluatorFunc adapts an ordinary function to a
// CapabilityEvaluator.
type CapabilityEvaluatorFunc func([]pdmsg.PDO) pdmsg.RequestDO

// EvaluateCapabilities implements CapabilityEvaluator.
func (f CapabilityEvaluatorFunc) EvaluateCapabilities(pdos []pdmsg.PDO) pdmsg.RequestDO {
	return f(pdos)
}

// Request is a bitmask of pending DPM-initiated actions, consumed by the
// policy engine's request dispatcher in priority order (highest bit first
// in the dispatcher's fixed precedence list, not bit position).
type Request uint32

// DPM request bits, named after the collaborator contract's request
// vocabulary. Not every bit is meaningful in a sink-only build (a VCONN-swap
// request is always legal to set but the PE answers it with Not_Supported),
// but all exist so callers can refer to them uniformly.
const (
	RequestGetSourceCap Request = 1 << iota
	RequestGetSinkCap
	RequestSendAlert
	RequestGetRevision
	RequestDRSwap
	RequestPRSwap
	RequestVCONNSwap
	RequestSoftResetSend
	RequestSOPPrimeSoftResetSend
	RequestBISTTxFlag
	RequestEnterUSB
	RequestEPRModeEntry
	RequestEPRModeExit
	RequestEPRKeepAlive
	RequestSourceCapChange
)

// Port is the Device Policy Manager contract the policy engine depends on.
type Port interface {
	CapabilityEvaluator

	// EvaluateSinkFixedPDO decides whether a single fixed PDO is acceptable
	// on its own. The PE calls it with the first PDO of the partner's
	// Sink_Capabilities reply to Get_Sink_Cap and does not act on the result.
	EvaluateSinkFixedPDO(pdo pdmsg.FixedSupplyPDO) pdmsg.RequestDO

	// GetSourcePDO returns this port's own advertised source capability,
	// used only if/when the port later takes on the source role after a
	// power-role swap; a sink-only build returns an empty slice.
	GetSourcePDO() []pdmsg.PDO

	// DataResetComplete notifies the DPM that a USB data reset finished.
	DataResetComplete()

	// SetModeExitRequest is set by the DPM to ask the PE to exit any
	// active alternate/USB4 mode before a detach or mode change.
	SetModeExitRequest(requested bool)

	// SetPEReady notifies the DPM that PE_SNK_READY (or PE_SRC_READY) has
	// been entered, i.e. the explicit contract is in force.
	SetPEReady(ready bool)

	// BISTSharedModeEnter/Exit bracket BIST Shared Test Mode (called on a
	// received BIST Shared Test Mode Entry/Exit), during which the DPM must
	// not issue new requests.
	BISTSharedModeEnter() error
	BISTSharedModeExit()

	// RemoveSink/RemoveSource notify the DPM that the port is no longer
	// consuming/providing power, called on detach or role swap.
	RemoveSink()
	RemoveSource()

	// Init (re-)initializes DPM state for the port; called from
	// PE_SNK_STARTUP.
	Init()

	// Pending returns the bits of pending DPM-initiated requests the
	// dispatcher has not yet consumed. Each bit stays set until a
	// matching ClearRequest call.
	Pending() Request

	// ClearRequest clears a single request bit, used once the dispatcher
	// has latched onto it.
	ClearRequest(r Request)

	// Raise sets a DPM-initiated request bit, used by the PE itself to
	// self-raise a request (e.g. the unconditional EPR_MODE_ENTRY raised
	// from PE_SNK_READY) and to re-pend a request the PRL discarded.
	Raise(r Request)
}

// Errors returned by Port methods.
var (
	errCCBadCurrent          = errors.New("dpm: current must be >= 1000mA & <= 5000mA")
	errBadVoltage            = errors.New("dpm: voltage must be >= 3300mV & <= 21000mV")
	errCVBadCurrent          = errors.New("dpm: current must be >= 0mA & <= 5000mA")
	errMaxCurrentLessThanMin = errors.New("dpm: max current must be >= min current")
	errMaxVoltageLessThanMin = errors.New("dpm: max voltage must be >= min voltage")

	// ErrBISTAlreadyActive is returned by BISTSharedModeEnter if BIST mode
	// is already active for the port.
	ErrBISTAlreadyActive = errors.New("dpm: bist shared mode already active")
)

// Policy is a CapabilityEvaluator that can also validate its own
// parameters; satisfied by CCPolicy, CVPolicy and CPPolicy.
type Policy interface {
	Validate() error
	CapabilityEvaluator
}

// CCPolicy requests a constant-current profile from a PPS-capable source:
// the source is expected to drop voltage to hold current at the negotiated
// ceiling and raise it again as load falls, up to MaxVoltage. Useful for
// driving LEDs or charging Li-ion cells directly.
type CCPolicy struct {
	MinVoltage         uint16
	MaxVoltage         uint16
	MinCurrent         uint16
	MaxCurrent         uint16
	PreferLowerVoltage bool
}

// Validate returns an error if the policy parameters are invalid.
func (c CCPolicy) Validate() error {
	if c.MinCurrent < 1000 || c.MaxCurrent < 1000 || c.MinCurrent > 5000 || c.MaxCurrent > 5000 {
		return errCCBadCurrent
	}
	if c.MinVoltage < 3300 || c.MaxVoltage < 3300 || c.MinVoltage > 21000 || c.MaxVoltage > 21000 {
		return errBadVoltage
	}
	if c.MinCurrent > c.MaxCurrent {
		return errMaxCurrentLessThanMin
	}
	if c.MinVoltage > c.MaxVoltage {
		return errMaxVoltageLessThanMin
	}
	return nil
}

// EvaluateCapabilities implements CapabilityEvaluator.
func (c CCPolicy) EvaluateCapabilities(pdos []pdmsg.PDO) pdmsg.RequestDO {
	var bestVoltage uint16
	if c.PreferLowerVoltage {
		bestVoltage = ^uint16(0)
	}
	rdo := pdmsg.EmptyRequestDO
	for i, p := range pdos {
		if p.Type() != pdmsg.PDOTypePPS {
			continue
		}
		pps := pdmsg.PPSPDO(p)
		minV, maxV := c.MinVoltage, c.MaxVoltage
		if minV < pps.MinVoltage() {
			minV = pps.MinVoltage()
		}
		if maxV > pps.MaxVoltage() {
			maxV = pps.MaxVoltage()
		}
		if minV > maxV || pps.MaxCurrent() < c.MinCurrent {
			continue
		}
		cur := pps.MaxCurrent()
		if cur > c.MaxCurrent {
			cur = c.MaxCurrent
		}
		if c.PreferLowerVoltage && minV < bestVoltage {
			rdo.SetSelectedObjectPosition(uint8(i) + 1)
			rdo.SetPPSOutputVoltage(minV)
			rdo.SetPPSOutputCurrent(cur)
			bestVoltage = minV
		} else if !c.PreferLowerVoltage && maxV > bestVoltage {
			rdo.SetSelectedObjectPosition(uint8(i) + 1)
			rdo.SetPPSOutputVoltage(maxV)
			rdo.SetPPSOutputCurrent(cur)
			bestVoltage = maxV
		}
	}
	return rdo
}

// CVPolicy requests a fixed voltage at or above a minimum current,
// preferring a fixed PDO and falling back to PPS (with a current margin)
// when no fixed PDO qualifies.
type CVPolicy struct {
	MinVoltage         uint16
	MaxVoltage         uint16
	Current            uint16
	PreferLowerVoltage bool
	PreferPPS          bool
}

const cvCurrentMargin = 150 // mA

// Validate returns an error if the policy parameters are invalid.
func (c CVPolicy) Validate() error {
	if c.Current > 5000 {
		return errCVBadCurrent
	}
	if c.MinVoltage < 3300 || c.MaxVoltage < 3300 || c.MinVoltage > 21000 || c.MaxVoltage > 21000 {
		return errBadVoltage
	}
	if c.MinVoltage > c.MaxVoltage {
		return errMaxVoltageLessThanMin
	}
	return nil
}

// EvaluateCapabilities implements CapabilityEvaluator.
func (c *CVPolicy) EvaluateCapabilities(pdos []pdmsg.PDO) pdmsg.RequestDO {
	ppsMaxCurrent := c.Current + cvCurrentMargin

	var bestFixedVoltage, bestPPSVoltage uint16
	if c.PreferLowerVoltage {
		bestFixedVoltage = ^uint16(0)
		bestPPSVoltage = ^uint16(0)
	}
	bestFixedRDO, bestPPSRDO := pdmsg.EmptyRequestDO, pdmsg.EmptyRequestDO
	for i, p := range pdos {
		switch p.Type() {
		case pdmsg.PDOTypeFixedSupply:
			fs := pdmsg.FixedSupplyPDO(p)
			v := fs.Voltage()
			if v < c.MinVoltage || v > c.MaxVoltage || fs.MaxCurrent() < c.Current {
				continue
			}
			if (c.PreferLowerVoltage && v < bestFixedVoltage) || (!c.PreferLowerVoltage && v > bestFixedVoltage) {
				bestFixedRDO.SetSelectedObjectPosition(uint8(i) + 1)
				bestFixedRDO.SetFixedMaxOperatingCurrent(c.Current)
				bestFixedRDO.SetFixedOperatingCurrent(c.Current)
				bestFixedVoltage = v
			}
		case pdmsg.PDOTypePPS:
			pps := pdmsg.PPSPDO(p)
			minV, maxV := c.MinVoltage, c.MaxVoltage
			if minV < pps.MinVoltage() {
				minV = pps.MinVoltage()
			}
			if maxV > pps.MaxVoltage() {
				maxV = pps.MaxVoltage()
			}
			if minV > maxV || ppsMaxCurrent > pps.MaxCurrent() {
				continue
			}
			if c.PreferLowerVoltage && minV < bestPPSVoltage {
				bestPPSRDO.SetSelectedObjectPosition(uint8(i) + 1)
				bestPPSRDO.SetPPSOutputVoltage(minV)
				bestPPSRDO.SetPPSOutputCurrent(c.Current)
				bestPPSVoltage = minV
			} else if !c.PreferLowerVoltage && maxV > bestPPSVoltage {
				bestPPSRDO.SetSelectedObjectPosition(uint8(i) + 1)
				bestPPSRDO.SetPPSOutputVoltage(maxV)
				bestPPSRDO.SetPPSOutputCurrent(c.Current)
				bestPPSVoltage = maxV
			}
		}
	}
	if bestFixedRDO == pdmsg.EmptyRequestDO {
		return bestPPSRDO
	}
	if bestPPSRDO == pdmsg.EmptyRequestDO {
		return bestFixedRDO
	}
	if c.PreferPPS {
		return bestPPSRDO
	}
	return bestFixedRDO
}

// CPPolicy requests a fixed power envelope, a special case of CVPolicy
// where the current is derived from the power and the candidate voltage.
type CPPolicy struct {
	MinVoltage         uint16
	MaxVoltage         uint16
	Power              uint16
	PreferLowerVoltage bool
	PreferPPS          bool
}

// EvaluateCapabilities implements CapabilityEvaluator.
func (c *CPPolicy) EvaluateCapabilities(pdos []pdmsg.PDO) pdmsg.RequestDO {
	var bestFixedVoltage, bestPPSVoltage uint16
	if c.PreferLowerVoltage {
		bestFixedVoltage = ^uint16(0)
		bestPPSVoltage = ^uint16(0)
	}
	bestFixedRDO, bestPPSRDO := pdmsg.EmptyRequestDO, pdmsg.EmptyRequestDO
	for i, p := range pdos {
		switch p.Type() {
		case pdmsg.PDOTypeFixedSupply:
			fs := pdmsg.FixedSupplyPDO(p)
			v := fs.Voltage()
			if v == 0 {
				continue
			}
			maxCur := uint16(uint32(c.Power) * 1000 / uint32(v))
			if v < c.MinVoltage || v > c.MaxVoltage || fs.MaxCurrent() < maxCur {
				continue
			}
			if (c.PreferLowerVoltage && v < bestFixedVoltage) || (!c.PreferLowerVoltage && v > bestFixedVoltage) {
				bestFixedRDO.SetSelectedObjectPosition(uint8(i) + 1)
				bestFixedRDO.SetFixedMaxOperatingCurrent(maxCur)
				bestFixedRDO.SetFixedOperatingCurrent(maxCur)
				bestFixedVoltage = v
			}
		case pdmsg.PDOTypePPS:
			pps := pdmsg.PPSPDO(p)
			minV, maxV := c.MinVoltage, c.MaxVoltage
			if minV < pps.MinVoltage() {
				minV = pps.MinVoltage()
			}
			if maxV > pps.MaxVoltage() {
				maxV = pps.MaxVoltage()
			}
			if minV > maxV || pps.MaxCurrent() <= cvCurrentMargin {
				continue
			}
			maxC := uint16(uint32(c.Power)*1000/uint32(maxV)) + cvCurrentMargin
			minPV := uint16(uint32(c.Power) * 1000 / uint32(pps.MaxCurrent()-cvCurrentMargin))
			if minPV < minV {
				minPV = minV
			}
			if c.PreferLowerVoltage && minPV < bestPPSVoltage && minPV <= maxV {
				bestPPSRDO.SetSelectedObjectPosition(uint8(i) + 1)
				bestPPSRDO.SetPPSOutputVoltage(minPV)
				bestPPSRDO.SetPPSOutputCurrent(uint16(uint32(c.Power) * 1000 / uint32(minPV)))
				bestPPSVoltage = minPV
			} else if !c.PreferLowerVoltage && maxV > bestPPSVoltage && maxC <= pps.MaxCurrent() {
				bestPPSRDO.SetSelectedObjectPosition(uint8(i) + 1)
				bestPPSRDO.SetPPSOutputVoltage(maxV)
				bestPPSRDO.SetPPSOutputCurrent(maxC)
				bestPPSVoltage = maxV
			}
		}
	}
	if bestFixedRDO == pdmsg.EmptyRequestDO {
		return bestPPSRDO
	}
	if bestPPSRDO == pdmsg.EmptyRequestDO {
		return bestFixedRDO
	}
	if c.PreferPPS {
		return bestPPSRDO
	}
	return bestFixedRDO
}

// Logger is a passthrough CapabilityEvaluator that writes a textual
// description of advertised source capabilities to w before delegating to
// base (or returning pdmsg.EmptyRequestDO if base is nil).
type Logger struct {
	w    io.Writer
	sep  string
	base CapabilityEvaluator
}

// NewLogger creates a Logger writing to w, separating lines with sep and
// delegating EvaluateCapabilities calls to base (may be nil).
func NewLogger(w io.Writer, sep string, base CapabilityEvaluator) *Logger {
	return &Logger{w: w, sep: sep, base: base}
}

// EvaluateCapabilities implements CapabilityEvaluator.
func (l *Logger) EvaluateCapabilities(pdos []pdmsg.PDO) pdmsg.RequestDO {
	fmt.Fprintf(l.w, "received %d profiles:%s", len(pdos), l.sep)
	for i, p := range pdos {
		fmt.Fprintf(l.w, "  %d) ", i+1)
		switch p.Type() {
		case pdmsg.PDOTypeFixedSupply:
			fs := pdmsg.FixedSupplyPDO(p)
			epr := ""
			if fs.EPRCapable() {
				epr = " (epr capable)"
			}
			fmt.Fprintf(l.w, "fixed %.1fV @ max. %.1fA%s", float32(fs.Voltage())/1000, float32(fs.MaxCurrent())/1000, epr)
		case pdmsg.PDOTypeVariableSupply:
			fmt.Fprint(l.w, "variable (not supported)")
		case pdmsg.PDOTypePPS:
			pps := pdmsg.PPSPDO(p)
			limited := ""
			if pps.IsPowerLimited() {
				limited = " (power limited)"
			}
			fmt.Fprintf(l.w, "programmable %.1f-%.1fV @ max. %.1fA%s",
				float32(pps.MinVoltage())/1000, float32(pps.MaxVoltage())/1000, float32(pps.MaxCurrent())/1000, limited)
		case pdmsg.PDOTypeBattery:
			fmt.Fprint(l.w, "battery (not supported)")
		case pdmsg.PDOTypeEPRAVS:
			fmt.Fprint(l.w, "epr avs (not supported)")
		default:
			fmt.Fprint(l.w, "invalid!")
		}
		fmt.Fprint(l.w, l.sep)
	}
	if l.base != nil {
		return l.base.EvaluateCapabilities(pdos)
	}
	return pdmsg.EmptyRequestDO
}

// Validate implements Policy by delegating to base if it is itself a
// Policy, so a Logger can wrap a CCPolicy/CVPolicy/CPPolicy and still be
// passed directly to NewBasicPort.
func (l *Logger) Validate() error {
	if p, ok := l.base.(Policy); ok {
		return p.Validate()
	}
	return nil
}
