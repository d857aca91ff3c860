package observer

import (
	"net"
	"testing"
	"time"

	"pathprobe/internal/model"

	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestObserver builds an observer without a capture handle; tests feed
// packets through ProcessPacket directly.
func newTestObserver(chains model.Chains) *Observer {
	return &Observer{
		chains: chains,
		table:  newFlowTable(),
		out:    make(chan *model.FlowRecord, 100),
	}
}

func testPacket(src, dst string, sp, dp uint16, length int, tcp *layers.TCP) *model.PacketInfo {
	return &model.PacketInfo{
		Timestamp: time.Now(),
		SrcIP:     net.ParseIP(src),
		DstIP:     net.ParseIP(dst),
		SrcPort:   sp,
		DstPort:   dp,
		IPVersion: 4,
		Length:    length,
		TCP:       tcp,
	}
}

func TestDirectionalCountersAndFinalize(t *testing.T) {
	o := newTestObserver(model.Chains{
		IP4: []model.ChainFunc{CountPackets},
		TCP: []model.ChainFunc{TCPCompleted},
	})

	o.ProcessPacket(testPacket("10.0.0.1", "192.0.2.1", 40001, 80, 100, &layers.TCP{SYN: true}))
	o.ProcessPacket(testPacket("192.0.2.1", "10.0.0.1", 80, 40001, 60, &layers.TCP{SYN: true, ACK: true}))
	assert.Equal(t, 1, o.FlowsTracked(), "forward and reverse packets share one flow")

	o.ProcessPacket(testPacket("10.0.0.1", "192.0.2.1", 40001, 80, 52, &layers.TCP{FIN: true, ACK: true}))

	assert.Equal(t, 0, o.FlowsTracked())
	require.Equal(t, uint64(1), o.FlowsEmitted())

	rec := <-o.out
	assert.Equal(t, model.FlowKey{LPort: 40001, RIP: "192.0.2.1", RPort: 80}, rec.Key)
	assert.Equal(t, uint64(2), rec.PktFwd)
	assert.Equal(t, uint64(1), rec.PktRev)
	assert.Equal(t, uint64(152), rec.OctFwd)
	assert.Equal(t, uint64(60), rec.OctRev)
}

func TestNewFlowRejectionEmitsImmediately(t *testing.T) {
	reject := func(fc *model.FlowContext, pkt *model.PacketInfo) bool { return false }
	o := newTestObserver(model.Chains{NewFlow: []model.NewFlowFunc{reject}})

	o.ProcessPacket(testPacket("10.0.0.1", "192.0.2.1", 40001, 80, 100, nil))

	assert.Equal(t, 0, o.FlowsTracked())
	assert.Equal(t, uint64(1), o.FlowsEmitted())
}

func TestIdleEviction(t *testing.T) {
	o := newTestObserver(model.Chains{IP4: []model.ChainFunc{CountPackets}})

	pkt := testPacket("10.0.0.1", "192.0.2.1", 40001, 80, 100, nil)
	o.ProcessPacket(pkt)
	require.Equal(t, 1, o.FlowsTracked())

	// Fresh flows survive the sweep.
	o.flushIdle(30 * time.Second)
	assert.Equal(t, 1, o.FlowsTracked())

	// Age the flow past the bound, then sweep again.
	key := canonicalKey(pkt)
	sh := o.table.getShard(key)
	sh.mu.Lock()
	sh.flows[key].Touched = time.Now().Add(-time.Minute)
	sh.mu.Unlock()

	o.flushIdle(30 * time.Second)
	assert.Equal(t, 0, o.FlowsTracked())
	assert.Equal(t, uint64(1), o.FlowsEmitted())
}

func TestFinalFlushEvictsEverything(t *testing.T) {
	o := newTestObserver(model.Chains{IP4: []model.ChainFunc{CountPackets}})

	o.ProcessPacket(testPacket("10.0.0.1", "192.0.2.1", 40001, 80, 100, nil))
	o.ProcessPacket(testPacket("10.0.0.1", "192.0.2.2", 40002, 80, 100, nil))
	require.Equal(t, 2, o.FlowsTracked())

	o.flushIdle(0)
	assert.Equal(t, 0, o.FlowsTracked())
	assert.Equal(t, uint64(2), o.FlowsEmitted())
}

func TestCanonicalKeyIsDirectionIndependent(t *testing.T) {
	fwd := testPacket("10.0.0.1", "192.0.2.1", 40001, 80, 0, nil)
	rev := testPacket("192.0.2.1", "10.0.0.1", 80, 40001, 0, nil)
	assert.Equal(t, canonicalKey(fwd), canonicalKey(rev))

	other := testPacket("10.0.0.1", "192.0.2.1", 40002, 80, 0, nil)
	assert.NotEqual(t, canonicalKey(fwd), canonicalKey(other))
}

func TestMergeTCPFlags(t *testing.T) {
	fc := &model.FlowContext{Values: map[string]int64{}}

	syn := testPacket("10.0.0.1", "192.0.2.1", 40001, 80, 0, &layers.TCP{SYN: true})
	synAck := testPacket("192.0.2.1", "10.0.0.1", 80, 40001, 0, &layers.TCP{SYN: true, ACK: true, ECE: true})
	ack := testPacket("10.0.0.1", "192.0.2.1", 40001, 80, 0, &layers.TCP{ACK: true})

	assert.True(t, MergeTCPFlags(fc, syn, false))
	assert.True(t, MergeTCPFlags(fc, synAck, true))
	assert.True(t, MergeTCPFlags(fc, ack, false))

	assert.Equal(t, uint8(0x02), fc.InitFlagsFwd)
	assert.Equal(t, uint8(0x52), fc.InitFlagsRev)
	assert.Equal(t, uint8(0x12), fc.FlagsFwd)
	assert.Equal(t, uint8(0x52), fc.FlagsRev)
}

func TestFlagsByte(t *testing.T) {
	all := &layers.TCP{FIN: true, SYN: true, RST: true, PSH: true, ACK: true, URG: true, ECE: true, CWR: true}
	assert.Equal(t, uint8(0xFF), FlagsByte(all))
	assert.Equal(t, uint8(0x00), FlagsByte(&layers.TCP{}))
	assert.Equal(t, uint8(0x11), FlagsByte(&layers.TCP{FIN: true, ACK: true}))
}
