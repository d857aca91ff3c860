package model

import (
	"net"
	"time"

	"github.com/google/gopacket/layers"
)

// ConnState classifies the outcome of a single connection attempt.
type ConnState int

const (
	ConnOK ConnState = iota
	ConnFailed
	ConnTimeout
)

func (s ConnState) String() string {
	switch s {
	case ConnOK:
		return "ok"
	case ConnFailed:
		return "failed"
	case ConnTimeout:
		return "timeout"
	}
	return "unknown"
}

// Job is a single target to probe under both configuration phases.
// Jobs are immutable once enqueued.
type Job struct {
	Addr string
	Port uint16
	Host string
	Rank int
}

// Connection is the result of a connect attempt. Client is non-nil only
// when State is ConnOK; Port is the local ephemeral port chosen by the
// transport stack.
type Connection struct {
	Client net.Conn
	Port   uint16
	State  ConnState
}

// ActiveRecord is the result of one connection attempt and protocol
// exchange. Exactly one is produced per (job, phase).
type ActiveRecord struct {
	IP     string
	RPort  uint16
	LPort  uint16
	Host   string
	Rank   int
	Config int
	State  ConnState
	Status int
}

// Key returns the correlation key for this record. The local port is part
// of the key because two phases probing the same remote endpoint are told
// apart only by the ephemeral port chosen at connect time.
func (r ActiveRecord) Key() FlowKey {
	return FlowKey{LPort: r.LPort, RIP: r.IP, RPort: r.RPort}
}

// FlowKey identifies a flow from the measurement host's point of view.
type FlowKey struct {
	LPort uint16
	RIP   string
	RPort uint16
}

// PacketInfo holds the metadata extracted from a single captured packet.
// TCP is nil for non-TCP traffic.
type PacketInfo struct {
	Timestamp  time.Time
	SrcIP      net.IP
	DstIP      net.IP
	SrcPort    uint16
	DstPort    uint16
	IPVersion  uint8
	Length     int
	TCP        *layers.TCP
	PayloadLen int
}

// FlowContext is the mutable per-flow accumulator maintained by the
// observer. It is created on the first packet of a new flow and mutated by
// every subsequent packet; only the observer writes to it.
type FlowContext struct {
	LocalIP    net.IP
	LocalPort  uint16
	RemoteIP   net.IP
	RemotePort uint16
	IPVersion  uint8

	StartTime time.Time
	LastTime  time.Time

	// Touched is the wall-clock time of the last packet, used for idle
	// eviction. It is kept separate from LastTime so replayed traces with
	// historical timestamps are not evicted mid-flow.
	Touched time.Time

	PktFwd uint64
	PktRev uint64
	OctFwd uint64
	OctRev uint64

	InitFlagsFwd uint8
	InitFlagsRev uint8
	FlagsFwd     uint8
	FlagsRev     uint8
	SawInitFwd   bool
	SawInitRev   bool

	// Values holds feature-specific state seeded by a plugin's new-flow
	// chain and updated by its transport chain.
	Values map[string]int64
}

// Key returns the correlation key for this flow.
func (fc *FlowContext) Key() FlowKey {
	return FlowKey{LPort: fc.LocalPort, RIP: fc.RemoteIP.String(), RPort: fc.RemotePort}
}

// Record takes an immutable snapshot of the context, suitable for handing
// to the correlator after the flow is finalized.
func (fc *FlowContext) Record() *FlowRecord {
	values := make(map[string]int64, len(fc.Values))
	for k, v := range fc.Values {
		values[k] = v
	}
	return &FlowRecord{
		Key:          fc.Key(),
		StartTime:    fc.StartTime,
		EndTime:      fc.LastTime,
		PktFwd:       fc.PktFwd,
		PktRev:       fc.PktRev,
		OctFwd:       fc.OctFwd,
		OctRev:       fc.OctRev,
		InitFlagsFwd: fc.InitFlagsFwd,
		InitFlagsRev: fc.InitFlagsRev,
		FlagsFwd:     fc.FlagsFwd,
		FlagsRev:     fc.FlagsRev,
		Values:       values,
	}
}

// FlowRecord is the finalized, immutable passive observation of a flow.
type FlowRecord struct {
	Key       FlowKey
	StartTime time.Time
	EndTime   time.Time

	PktFwd uint64 `json:"pkt_fwd"`
	PktRev uint64 `json:"pkt_rev"`
	OctFwd uint64 `json:"oct_fwd"`
	OctRev uint64 `json:"oct_rev"`

	InitFlagsFwd uint8 `json:"fif"`
	InitFlagsRev uint8 `json:"fir"`
	FlagsFwd     uint8 `json:"fuf"`
	FlagsRev     uint8 `json:"fur"`

	Values map[string]int64 `json:"values,omitempty"`
}

// MergedRecord is the terminal artifact combining an active record with
// its passive observation. Flow is nil and Observed false when no matching
// flow was captured; this is distinct from an observed, all-zero flow.
type MergedRecord struct {
	IP        string      `json:"dip"`
	RPort     uint16      `json:"dp"`
	LPort     uint16      `json:"sp"`
	Host      string      `json:"host,omitempty"`
	Rank      int         `json:"rank,omitempty"`
	Config    int         `json:"config"`
	Connected bool        `json:"connstate"`
	Status    int         `json:"httpstatus,omitempty"`
	Observed  bool        `json:"observed"`
	Flow      *FlowRecord `json:"flow,omitempty"`
}
