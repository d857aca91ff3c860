package observer

import (
	"pathprobe/internal/model"

	"github.com/google/gopacket/layers"
)

// CountPackets is a network-layer chain function updating the forward and
// reverse byte and packet counters. Plugins register it on both the IPv4
// and IPv6 chains.
func CountPackets(fc *model.FlowContext, pkt *model.PacketInfo, rev bool) bool {
	if rev {
		fc.PktRev++
		fc.OctRev += uint64(pkt.Length)
	} else {
		fc.PktFwd++
		fc.OctFwd += uint64(pkt.Length)
	}
	return true
}

// MergeTCPFlags is a transport-layer chain function recording the initial
// TCP flags of each direction and the running union of all flags seen.
func MergeTCPFlags(fc *model.FlowContext, pkt *model.PacketInfo, rev bool) bool {
	if pkt.TCP == nil {
		return true
	}
	flags := FlagsByte(pkt.TCP)
	if rev {
		if !fc.SawInitRev {
			fc.InitFlagsRev = flags
			fc.SawInitRev = true
		}
		fc.FlagsRev |= flags
	} else {
		if !fc.SawInitFwd {
			fc.InitFlagsFwd = flags
			fc.SawInitFwd = true
		}
		fc.FlagsFwd |= flags
	}
	return true
}

// TCPCompleted is a transport-layer chain function that stops tracking a
// flow on any segment carrying a FIN, regardless of feature state.
func TCPCompleted(fc *model.FlowContext, pkt *model.PacketInfo, rev bool) bool {
	return pkt.TCP == nil || !pkt.TCP.FIN
}

// FlagsByte packs a decoded TCP header's flag bits into the classic
// single-byte wire layout.
func FlagsByte(tcp *layers.TCP) uint8 {
	var f uint8
	if tcp.FIN {
		f |= 0x01
	}
	if tcp.SYN {
		f |= 0x02
	}
	if tcp.RST {
		f |= 0x04
	}
	if tcp.PSH {
		f |= 0x08
	}
	if tcp.ACK {
		f |= 0x10
	}
	if tcp.URG {
		f |= 0x20
	}
	if tcp.ECE {
		f |= 0x40
	}
	if tcp.CWR {
		f |= 0x80
	}
	return f
}
