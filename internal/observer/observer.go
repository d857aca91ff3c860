package observer

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"pathprobe/internal/model"
	"pathprobe/pkg/pcap"

	"github.com/google/gopacket"
	gpcap "github.com/google/gopacket/pcap"
)

// Observer owns a capture source and drives the flow handler pipeline. It
// demultiplexes captured packets onto per-flow contexts, invokes the
// registered chains in fixed order, and emits finalized flow records on its
// output channel. The observer is the only writer of any flow context.
type Observer struct {
	handle *gpcap.Handle
	chains model.Chains
	table  *flowTable
	out    chan *model.FlowRecord

	flushInterval time.Duration
	idleTimeout   time.Duration

	done      chan struct{}
	closed    chan struct{}
	flusherWg sync.WaitGroup

	flowsSeen    atomic.Uint64
	flowsEmitted atomic.Uint64
}

// New opens the capture source identified by the locator and prepares an
// observer with the given handler chains. Failure to open the source is
// fatal to the whole run: correlation is impossible without the observer.
func New(source string, chains model.Chains, flushInterval, idleTimeout time.Duration) (*Observer, error) {
	handle, err := pcap.Open(source)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture source %q: %w", source, err)
	}
	return &Observer{
		handle:        handle,
		chains:        chains,
		table:         newFlowTable(),
		out:           make(chan *model.FlowRecord, 100),
		flushInterval: flushInterval,
		idleTimeout:   idleTimeout,
		done:          make(chan struct{}),
		closed:        make(chan struct{}),
	}, nil
}

// Flows returns the stream of finalized flow records. The channel is
// closed once the capture source is exhausted or Stop is called and all
// remaining flows have been flushed.
func (o *Observer) Flows() <-chan *model.FlowRecord {
	return o.out
}

// Start launches the capture loop and the idle-flow flusher.
func (o *Observer) Start() {
	o.flusherWg.Add(1)
	go o.flusher()
	go o.captureLoop()
	go func() {
		// Once capture ends, stop the flusher, flush everything that is
		// still tracked and signal downstream that no more records come.
		<-o.done
		o.flusherWg.Wait()
		o.flushIdle(0)
		close(o.out)
		close(o.closed)
	}()
}

// Stop closes the capture handle and blocks until every remaining flow has
// been flushed and the output channel closed.
func (o *Observer) Stop() {
	o.handle.Close()
	<-o.closed
}

// FlowsTracked returns the number of live flow contexts.
func (o *Observer) FlowsTracked() int {
	return o.table.count()
}

// FlowsEmitted returns the number of finalized flow records so far.
func (o *Observer) FlowsEmitted() uint64 {
	return o.flowsEmitted.Load()
}

func (o *Observer) captureLoop() {
	defer close(o.done)
	source := gopacket.NewPacketSource(o.handle, o.handle.LinkType())
	for packet := range source.Packets() {
		info, err := ParsePacket(packet)
		if err != nil {
			// Not the measurement's transport; discard.
			continue
		}
		o.ProcessPacket(info)
	}
}

// ProcessPacket classifies one packet onto its flow context and runs the
// handler chains. A handler returning false short-circuits the rest of the
// chain and finalizes the flow.
func (o *Observer) ProcessPacket(info *model.PacketInfo) {
	key := canonicalKey(info)
	sh := o.table.getShard(key)

	sh.mu.Lock()
	fc, ok := sh.flows[key]
	if !ok {
		fc = newContext(info)
		for _, fn := range o.chains.NewFlow {
			if !fn(fc, info) {
				sh.mu.Unlock()
				o.emit(fc)
				return
			}
		}
		sh.flows[key] = fc
		o.flowsSeen.Add(1)
	}

	rev := !(info.SrcIP.Equal(fc.LocalIP) && info.SrcPort == fc.LocalPort)
	fc.LastTime = info.Timestamp
	fc.Touched = time.Now()

	keep := true
	ipChain := o.chains.IP4
	if info.IPVersion == 6 {
		ipChain = o.chains.IP6
	}
	for _, fn := range ipChain {
		if !fn(fc, info, rev) {
			keep = false
			break
		}
	}
	if keep && info.TCP != nil {
		for _, fn := range o.chains.TCP {
			if !fn(fc, info, rev) {
				keep = false
				break
			}
		}
	}

	if !keep {
		delete(sh.flows, key)
		sh.mu.Unlock()
		o.emit(fc)
		return
	}
	sh.mu.Unlock()
}

func (o *Observer) emit(fc *model.FlowContext) {
	o.out <- fc.Record()
	o.flowsEmitted.Add(1)
}

// flusher periodically evicts flows that have been idle past the bound, so
// the table cannot grow without limit when remote endpoints go silent.
func (o *Observer) flusher() {
	defer o.flusherWg.Done()
	ticker := time.NewTicker(o.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			o.flushIdle(o.idleTimeout)
		case <-o.done:
			return
		}
	}
}

func (o *Observer) flushIdle(timeout time.Duration) {
	for _, fc := range o.table.evictIdle(timeout) {
		o.emit(fc)
	}
}

// newContext seeds a flow context from the first packet of a flow. The
// measurement host initiates every connection of interest, so the first
// packet's source is taken as the local endpoint.
func newContext(info *model.PacketInfo) *model.FlowContext {
	return &model.FlowContext{
		LocalIP:    info.SrcIP,
		LocalPort:  info.SrcPort,
		RemoteIP:   info.DstIP,
		RemotePort: info.DstPort,
		IPVersion:  info.IPVersion,
		StartTime:  info.Timestamp,
		LastTime:   info.Timestamp,
		Touched:    time.Now(),
		Values:     make(map[string]int64),
	}
}
