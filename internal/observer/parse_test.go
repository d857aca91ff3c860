package observer

import (
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildPacket(t *testing.T, netLayer gopacket.SerializableLayer, transport gopacket.SerializableLayer, payload []byte) gopacket.Packet {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC: net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
		DstMAC: net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02},
	}
	switch netLayer.(type) {
	case *layers.IPv4:
		eth.EthernetType = layers.EthernetTypeIPv4
	case *layers.IPv6:
		eth.EthernetType = layers.EthernetTypeIPv6
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: false}
	err := gopacket.SerializeLayers(buf, opts, eth, netLayer, transport, gopacket.Payload(payload))
	require.NoError(t, err)
	return gopacket.NewPacket(buf.Bytes(), layers.LayerTypeEthernet, gopacket.Default)
}

func TestParsePacketIPv4TCP(t *testing.T) {
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.ParseIP("10.0.0.1").To4(),
		DstIP:    net.ParseIP("192.0.2.1").To4(),
	}
	tcp := &layers.TCP{SrcPort: 40001, DstPort: 80, SYN: true, Window: 65535}

	info, err := ParsePacket(buildPacket(t, ip, tcp, []byte("abcd")))
	require.NoError(t, err)

	assert.Equal(t, uint8(4), info.IPVersion)
	assert.True(t, info.SrcIP.Equal(net.ParseIP("10.0.0.1")))
	assert.True(t, info.DstIP.Equal(net.ParseIP("192.0.2.1")))
	assert.Equal(t, uint16(40001), info.SrcPort)
	assert.Equal(t, uint16(80), info.DstPort)
	assert.Equal(t, 4, info.PayloadLen)
	// IPv4 total length: 20 header + 20 TCP + 4 payload.
	assert.Equal(t, 44, info.Length)
	require.NotNil(t, info.TCP)
	assert.True(t, info.TCP.SYN)
}

func TestParsePacketIPv6TCP(t *testing.T) {
	ip := &layers.IPv6{
		Version:    6,
		HopLimit:   64,
		NextHeader: layers.IPProtocolTCP,
		SrcIP:      net.ParseIP("2001:db8::1"),
		DstIP:      net.ParseIP("2001:db8::2"),
	}
	tcp := &layers.TCP{SrcPort: 40001, DstPort: 443, Window: 65535}

	info, err := ParsePacket(buildPacket(t, ip, tcp, nil))
	require.NoError(t, err)

	assert.Equal(t, uint8(6), info.IPVersion)
	// IPv6 payload length plus the fixed header: 20 TCP + 40.
	assert.Equal(t, 60, info.Length)
}

func TestParsePacketRejectsNonTCP(t *testing.T) {
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.ParseIP("10.0.0.1").To4(),
		DstIP:    net.ParseIP("192.0.2.1").To4(),
	}
	udp := &layers.UDP{SrcPort: 53, DstPort: 53}
	udp.SetNetworkLayerForChecksum(ip)

	_, err := ParsePacket(buildPacket(t, ip, udp, nil))
	assert.Error(t, err)
}

func TestParsePacketRejectsNonIP(t *testing.T) {
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   make([]byte, 6),
		SourceProtAddress: make([]byte, 4),
		DstHwAddress:      make([]byte, 6),
		DstProtAddress:    make([]byte, 4),
	}
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
		DstMAC:       net.HardwareAddr{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF},
		EthernetType: layers.EthernetTypeARP,
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, arp))

	_, err := ParsePacket(gopacket.NewPacket(buf.Bytes(), layers.LayerTypeEthernet, gopacket.Default))
	assert.Error(t, err)
}
