package model

import "time"

// NewFlowFunc runs once, on the first packet of a new flow, to seed
// feature-specific fields on the context.
type NewFlowFunc func(fc *FlowContext, pkt *PacketInfo) bool

// ChainFunc processes one packet against a flow context. rev is true when
// the packet travels from the remote endpoint toward the measurement host.
// Returning false stops tracking: the remaining chain is skipped and the
// flow is finalized and emitted.
type ChainFunc func(fc *FlowContext, pkt *PacketInfo, rev bool) bool

// Chains is the ordered handler set a plugin registers with the observer.
// Within each slice, functions run in registration order.
type Chains struct {
	NewFlow []NewFlowFunc
	IP4     []ChainFunc
	IP6     []ChainFunc
	TCP     []ChainFunc
}

// Plugin is the extension surface for a single measurement feature. A
// plugin supplies the active side (connect and protocol exchange), the
// passive side (observer chains), and the merge mapping between the two.
type Plugin interface {
	Name() string
	WorkerCount() int
	ConnTimeout() time.Duration

	// Configure applies the environment setup for the given phase. An
	// error is fatal to the phase: an unapplied configuration invalidates
	// that phase's results.
	Configure(phase int) error

	// Connect performs one connection attempt. The outcome is always one
	// of ConnOK, ConnFailed or ConnTimeout; no error escapes this call.
	Connect(job Job, phase int) Connection

	// PostConnect performs the protocol exchange on an open connection
	// and releases the connection resource on every exit path.
	PostConnect(job Job, conn Connection, phase int) ActiveRecord

	// Chains returns the observer handler set for this feature.
	Chains() Chains

	// Merge maps a flow record (nil when the flow went unobserved) and an
	// active record to the final merged output record.
	Merge(flow *FlowRecord, rec ActiveRecord) MergedRecord
}
