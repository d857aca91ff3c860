// Package tcpopt decodes the TCP options region as an ordered sequence of
// (kind, length, value) entries. Input comes straight off the wire, so every
// branch checks that the bytes it is about to read lie inside the declared
// region; truncated or malformed options yield a negative result instead of
// an out-of-range read.
package tcpopt

import "github.com/google/gopacket/layers"

const (
	kindEndOfOptions = 0
	kindNOP          = 1

	// KindFastOpen is the IANA-registered TCP Fast Open option.
	KindFastOpen = 34

	// Pre-allocation experimental encodings of the Fast Open option,
	// identified by a reserved two-byte magic tag.
	kindExperimentA = 253
	kindExperimentB = 254
)

var fastOpenMagic = [2]byte{0xF9, 0x89}

// Region returns the raw options region of a decoded TCP header, or nil if
// the header is truncated.
func Region(tcp *layers.TCP) []byte {
	if tcp == nil {
		return nil
	}
	hdrLen := int(tcp.DataOffset) * 4
	if hdrLen < 20 || hdrLen > len(tcp.Contents) {
		return nil
	}
	return tcp.Contents[20:hdrLen]
}

// Result is the outcome of scanning an options region for the Fast Open
// option.
type Result int

const (
	// None means no Fast Open option was found, or the region was
	// malformed.
	None Result = iota
	// Request means the option was present in its cookie-less request
	// form.
	Request
	// Present means the option carried a cookie.
	Present
)

// Cookie reports whether the options region carries a Fast Open cookie. A
// registered option of length exactly 2 is a cookie request, not a cookie.
func Cookie(opts []byte) bool {
	return Scan(opts) == Present
}

// Scan walks the options region and classifies its Fast Open content.
func Scan(opts []byte) Result {
	result := None
	i := 0
	for i < len(opts) {
		switch opts[i] {
		case kindEndOfOptions:
			return result
		case kindNOP:
			i++
		case KindFastOpen:
			length, ok := optionLength(opts, i)
			if !ok {
				return result
			}
			if length == 2 {
				// Cookie request only.
				result = Request
				i += length
				continue
			}
			return Present
		case kindExperimentA, kindExperimentB:
			length, ok := optionLength(opts, i)
			if !ok {
				return result
			}
			if length >= 4 && i+3 < len(opts) &&
				opts[i+2] == fastOpenMagic[0] && opts[i+3] == fastOpenMagic[1] {
				// Kind + length + magic with no trailing bytes is a
				// cookie request, same as the registered short form.
				if length <= 4 {
					result = Request
					i += length
					continue
				}
				return Present
			}
			i += length
		default:
			length, ok := optionLength(opts, i)
			if !ok {
				return result
			}
			i += length
		}
	}
	return result
}

// optionLength reads the declared length of the option starting at i and
// verifies that the whole option fits inside opts.
func optionLength(opts []byte, i int) (int, bool) {
	if i+1 >= len(opts) {
		return 0, false
	}
	length := int(opts[i+1])
	if length < 2 || i+length > len(opts) {
		return 0, false
	}
	return length, true
}
