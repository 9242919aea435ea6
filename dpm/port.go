package dpm

import "github.com/puzrin/pdsink/pdmsg"

// BasicPort is a reference dpm.Port for a sink-only build: it delegates
// capability evaluation to a Policy and tracks DPM-initiated request bits
// with plain field state, matching the single-writer, cooperative
// scheduling model the policy engine assumes.
type BasicPort struct {
	Policy Policy

	pending   Request
	bistShown bool
	peReady   bool
}

// NewBasicPort creates a BasicPort delegating to the given policy.
func NewBasicPort(policy Policy) *BasicPort {
	return &BasicPort{Policy: policy}
}

// EvaluateCapabilities implements CapabilityEvaluator.
func (p *BasicPort) EvaluateCapabilities(pdos []pdmsg.PDO) pdmsg.RequestDO {
	if p.Policy == nil {
		return pdmsg.EmptyRequestDO
	}
	return p.Policy.EvaluateCapabilities(pdos)
}

// EvaluateSinkFixedPDO implements Port by wrapping the single PDO in a
// one-element slice and delegating to EvaluateCapabilities.
func (p *BasicPort) EvaluateSinkFixedPDO(pdo pdmsg.FixedSupplyPDO) pdmsg.RequestDO {
	return p.EvaluateCapabilities([]pdmsg.PDO{pdmsg.PDO(pdo)})
}

// GetSourcePDO implements Port. A sink-only build never offers source
// capability.
func (p *BasicPort) GetSourcePDO() []pdmsg.PDO { return nil }

// DataResetComplete implements Port.
func (p *BasicPort) DataResetComplete() {}

// SetModeExitRequest implements Port.
func (p *BasicPort) SetModeExitRequest(bool) {}

// SetPEReady implements Port.
func (p *BasicPort) SetPEReady(ready bool) { p.peReady = ready }

// BISTSharedModeEnter implements Port.
func (p *BasicPort) BISTSharedModeEnter() error {
	if p.bistShown {
		return ErrBISTAlreadyActive
	}
	p.bistShown = true
	return nil
}

// BISTSharedModeExit implements Port.
func (p *BasicPort) BISTSharedModeExit() { p.bistShown = false }

// RemoveSink implements Port.
func (p *BasicPort) RemoveSink() { p.peReady = false }

// RemoveSource implements Port.
func (p *BasicPort) RemoveSource() {}

// Init implements Port.
func (p *BasicPort) Init() {
	p.pending = 0
	p.bistShown = false
	p.peReady = false
}

// Raise sets request bits for the dispatcher to pick up on its next pass.
// Safe to call from outside the event loop goroutine only if the embedder
// adds its own synchronization; BasicPort itself assumes single-writer use
// from the port's own event loop, per the concurrency model.
func (p *BasicPort) Raise(r Request) { p.pending |= r }

// Pending implements Port.
func (p *BasicPort) Pending() Request { return p.pending }

// ClearRequest implements Port.
func (p *BasicPort) ClearRequest(r Request) { p.pending &^= r }
