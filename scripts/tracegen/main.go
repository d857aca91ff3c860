package main

import (
	"flag"
	"log"
	"math/rand"
	"net"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// tracegen writes a synthetic pcap of Fast Open probe flows, so
// trace-analyzer can be exercised without a live measurement. Each flow is
// a SYN carrying a cookie and payload, the server's acknowledging SYN-ACK,
// and a FIN teardown.
func main() {
	outputFile := flag.String("o", "trace.pcap", "Output pcap file path")
	flowCount := flag.Int("c", 100, "Number of flows to generate")
	flag.Parse()

	f, err := os.Create(*outputFile)
	if err != nil {
		log.Fatalf("Failed to create output file: %v", err)
	}
	defer f.Close()

	pcapWriter := pcapgo.NewWriter(f)
	if err := pcapWriter.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		log.Fatalf("Failed to write pcap header: %v", err)
	}

	log.Printf("Generating %d flows into %s...", *flowCount, *outputFile)

	ts := time.Now()
	localIP := net.IP{10, 0, 0, 1}
	payload := []byte("GET / HTTP/1.1\r\nHost: example.com\r\n\r\n")
	cookie := layers.TCPOption{
		OptionType:   layers.TCPOptionKind(34),
		OptionLength: 8,
		OptionData:   []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x01, 0x02},
	}

	for i := 0; i < *flowCount; i++ {
		remoteIP := net.IP{192, 0, 2, byte(rand.Intn(254) + 1)}
		localPort := layers.TCPPort(rand.Intn(65535-1024) + 1024)
		seq := rand.Uint32()
		rseq := rand.Uint32()

		segments := []*layers.TCP{
			{SrcPort: localPort, DstPort: 443, Seq: seq, SYN: true, Window: 14600, Options: []layers.TCPOption{cookie}},
			{SrcPort: 443, DstPort: localPort, Seq: rseq, Ack: seq + uint32(len(payload)) + 1, SYN: true, ACK: true, Window: 14600},
			{SrcPort: localPort, DstPort: 443, Seq: seq + uint32(len(payload)) + 1, Ack: rseq + 1, FIN: true, ACK: true, Window: 14600},
			{SrcPort: 443, DstPort: localPort, Seq: rseq + 1, Ack: seq + uint32(len(payload)) + 2, FIN: true, ACK: true, Window: 14600},
		}

		for j, tcp := range segments {
			src, dst := localIP, remoteIP
			if tcp.SrcPort == 443 {
				src, dst = remoteIP, localIP
			}
			var data []byte
			if tcp.SYN && !tcp.ACK {
				data = payload
			}
			if err := writeSegment(pcapWriter, ts, src, dst, tcp, data); err != nil {
				log.Fatalf("Failed to write packet: %v", err)
			}
			ts = ts.Add(time.Duration(j+1) * time.Millisecond)
		}
	}

	log.Printf("Successfully generated %d flows into %s.", *flowCount, *outputFile)
}

func writeSegment(w *pcapgo.Writer, ts time.Time, src, dst net.IP, tcp *layers.TCP, payload []byte) error {
	ethLayer := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		DstMAC:       net.HardwareAddr{0x00, 0x66, 0x77, 0x88, 0x99, 0xAA},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ipLayer := &layers.IPv4{
		SrcIP:    src,
		DstIP:    dst,
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
	}
	tcp.SetNetworkLayerForChecksum(ipLayer)

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{
		ComputeChecksums: true,
		FixLengths:       true,
	}
	if err := gopacket.SerializeLayers(buf, opts, ethLayer, ipLayer, tcp, gopacket.Payload(payload)); err != nil {
		return err
	}

	ci := gopacket.CaptureInfo{
		Timestamp:     ts,
		CaptureLength: len(buf.Bytes()),
		Length:        len(buf.Bytes()),
	}
	return w.WritePacket(ci, buf.Bytes())
}
