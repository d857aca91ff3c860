// Package pcap resolves capture-source locators. A locator is either a
// live interface ("int:eth0", or a bare interface name) or a recorded
// trace ("pcapfile:/path/to/trace.pcap").
package pcap

import (
	"strings"

	gpcap "github.com/google/gopacket/pcap"
)

const (
	snapshotLen int32 = 1600
	promiscuous       = true
	timeout           = gpcap.BlockForever
)

// Open resolves a locator to a pcap handle. The caller owns the handle and
// must close it.
func Open(locator string) (*gpcap.Handle, error) {
	switch {
	case strings.HasPrefix(locator, "pcapfile:"):
		return gpcap.OpenOffline(strings.TrimPrefix(locator, "pcapfile:"))
	case strings.HasPrefix(locator, "int:"):
		return gpcap.OpenLive(strings.TrimPrefix(locator, "int:"), snapshotLen, promiscuous, timeout)
	default:
		return gpcap.OpenLive(locator, snapshotLen, promiscuous, timeout)
	}
}
