package observer

import (
	"fmt"
	"time"

	"pathprobe/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// ParsePacket decodes a captured packet and extracts the fields the flow
// pipeline needs. Traffic that is not IP-over-TCP is rejected; the caller
// discards it.
func ParsePacket(packet gopacket.Packet) (*model.PacketInfo, error) {
	info := &model.PacketInfo{Timestamp: time.Now()}
	if meta := packet.Metadata(); meta != nil && !meta.Timestamp.IsZero() {
		info.Timestamp = meta.Timestamp
	}

	if l := packet.Layer(layers.LayerTypeIPv4); l != nil {
		ip := l.(*layers.IPv4)
		info.SrcIP = ip.SrcIP
		info.DstIP = ip.DstIP
		info.IPVersion = 4
		info.Length = int(ip.Length)
	} else if l := packet.Layer(layers.LayerTypeIPv6); l != nil {
		ip := l.(*layers.IPv6)
		info.SrcIP = ip.SrcIP
		info.DstIP = ip.DstIP
		info.IPVersion = 6
		// Payload length plus the fixed IPv6 header.
		info.Length = int(ip.Length) + 40
	} else {
		return nil, fmt.Errorf("not an IP packet")
	}

	l := packet.Layer(layers.LayerTypeTCP)
	if l == nil {
		return nil, fmt.Errorf("not a TCP packet")
	}
	tcp := l.(*layers.TCP)
	info.TCP = tcp
	info.SrcPort = uint16(tcp.SrcPort)
	info.DstPort = uint16(tcp.DstPort)
	info.PayloadLen = len(tcp.Payload)

	return info, nil
}
