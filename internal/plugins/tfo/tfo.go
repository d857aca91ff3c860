// Package tfo measures TCP Fast Open path transparency. Phase 0 connects
// with a regular three-way handshake; phase 1 sends the request payload on
// the SYN via MSG_FASTOPEN. The observer side tracks Fast Open progress
// per flow so the wire behavior can be compared with the socket outcome.
package tfo

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"pathprobe/internal/config"
	"pathprobe/internal/factory"
	"pathprobe/internal/model"
	"pathprobe/internal/observer"
	"pathprobe/internal/observer/tcpopt"

	"golang.org/x/sys/unix"
)

const userAgent = "pathprobe"

// Fast Open progress states, kept in the flow context's value map.
const (
	StateInit int64 = iota
	StateCookieRequested
	StateDataSent
	StateAcked
	StateFallback
)

// Value map keys.
const (
	KeyState = "tfo_state"
	KeySeq   = "tfo_seq"
	KeyLen   = "tfo_len"
)

// Sentinels for the recorded sequence/length. The fallback sentinel is
// distinct from the unset one so the output tells "never sent Fast Open
// data" apart from "sent it and fell back".
const (
	seqUnset    int64 = -1000
	seqFallback int64 = -500
)

func init() {
	factory.Register("tfo", func(cfg *config.Config) (model.Plugin, error) {
		timeout, err := time.ParseDuration(cfg.Spider.ConnTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid conn_timeout: %w", err)
		}
		return &Plugin{
			workerCount: cfg.Spider.WorkerCount,
			connTimeout: timeout,
		}, nil
	})
}

// Plugin implements the Fast Open measurement.
type Plugin struct {
	workerCount int
	connTimeout time.Duration
}

func (p *Plugin) Name() string               { return "tfo" }
func (p *Plugin) WorkerCount() int           { return p.workerCount }
func (p *Plugin) ConnTimeout() time.Duration { return p.connTimeout }

// Configure is a no-op for both phases: the phases differ in how the
// worker connects, not in kernel state.
func (p *Plugin) Configure(phase int) error { return nil }

// Connect performs the phase-appropriate connection attempt.
func (p *Plugin) Connect(job model.Job, phase int) model.Connection {
	if phase == 0 {
		return dialTCP(job, p.connTimeout)
	}
	return p.fastOpenConnect(job)
}

// PostConnect builds the active record and releases the connection on
// every exit path. The Fast Open exchange already carried the request in
// the SYN, so there is nothing further to send here.
func (p *Plugin) PostConnect(job model.Job, conn model.Connection, phase int) model.ActiveRecord {
	if conn.Client != nil {
		conn.Client.Close()
	}
	return model.ActiveRecord{
		IP:     job.Addr,
		RPort:  job.Port,
		LPort:  conn.Port,
		Host:   job.Host,
		Rank:   job.Rank,
		Config: phase,
		State:  conn.State,
	}
}

// Chains registers the Fast Open flow pipeline: counters on both network
// layers, the progress state machine, and FIN-based completion.
func (p *Plugin) Chains() model.Chains {
	return model.Chains{
		NewFlow: []model.NewFlowFunc{SetupFlow},
		IP4:     []model.ChainFunc{observer.CountPackets},
		IP6:     []model.ChainFunc{observer.CountPackets},
		TCP:     []model.ChainFunc{Progress, observer.TCPCompleted},
	}
}

// Merge combines the passive observation (nil when unobserved) with the
// active record.
func (p *Plugin) Merge(flow *model.FlowRecord, rec model.ActiveRecord) model.MergedRecord {
	return model.MergedRecord{
		IP:        rec.IP,
		RPort:     rec.RPort,
		LPort:     rec.LPort,
		Host:      rec.Host,
		Rank:      rec.Rank,
		Config:    rec.Config,
		Connected: rec.State == model.ConnOK,
		Observed:  flow != nil,
		Flow:      flow,
	}
}

// SetupFlow seeds the Fast Open fields on a new flow context.
func SetupFlow(fc *model.FlowContext, pkt *model.PacketInfo) bool {
	fc.Values[KeySeq] = seqUnset
	fc.Values[KeyLen] = seqUnset
	fc.Values[KeyState] = StateInit
	return true
}

// Progress advances the Fast Open state machine for one segment.
// Returning false stops tracking once the Fast Open data is acknowledged.
func Progress(fc *model.FlowContext, pkt *model.PacketInfo, rev bool) bool {
	tcp := pkt.TCP
	if tcp == nil {
		return true
	}
	outgoing := !rev
	opt := tcpopt.Scan(tcpopt.Region(tcp))
	hasCookie := opt == tcpopt.Present
	hasData := pkt.PayloadLen > 0

	state := fc.Values[KeyState]
	seq := fc.Values[KeySeq]
	length := fc.Values[KeyLen]

	switch {
	case outgoing && hasCookie && hasData:
		fc.Values[KeySeq] = int64(tcp.Seq)
		fc.Values[KeyLen] = int64(pkt.PayloadLen)
		fc.Values[KeyState] = StateDataSent

	case !outgoing && state == StateDataSent && int64(tcp.Ack) == seq+length+1:
		fc.Values[KeyState] = StateAcked
		return false

	case outgoing && hasData && !hasCookie && state == StateDataSent && int64(tcp.Seq) == seq:
		// Retransmission of the Fast Open segment without its cookie:
		// the stack fell back to a regular handshake. Only the
		// data-bearing retransmission counts; a bare SYN retry at the
		// same sequence is an ordinary loss signal, not a fallback.
		// Keep tracking so the handshake's counters still land in the
		// flow record.
		fc.Values[KeySeq] = seqFallback
		fc.Values[KeyLen] = seqFallback
		fc.Values[KeyState] = StateFallback

	case outgoing && opt == tcpopt.Request && !hasData && state == StateInit:
		fc.Values[KeyState] = StateCookieRequested
	}
	return true
}

// dialTCP is the regular connect path, with the outcome classified as
// exactly one of OK, FAILED or TIMEOUT.
func dialTCP(job model.Job, timeout time.Duration) model.Connection {
	addr := net.JoinHostPort(job.Addr, strconv.Itoa(int(job.Port)))
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return model.Connection{State: classify(err)}
	}
	var lport uint16
	if tcpAddr, ok := conn.LocalAddr().(*net.TCPAddr); ok {
		lport = uint16(tcpAddr.Port)
	}
	return model.Connection{Client: conn, Port: lport, State: model.ConnOK}
}

// fastOpenConnect performs the two-step Fast Open attempt: one connection
// to request a cookie (the kernel caches it per destination), then a
// second that should carry the cookie plus the request payload on its SYN.
func (p *Plugin) fastOpenConnect(job model.Job) model.Connection {
	payload := []byte("GET / HTTP/1.1\r\nHost: " + job.Host +
		"\r\nUser-Agent: " + userAgent + "\r\n\r\n")

	// Step one: request a cookie.
	if fd, _, _ := fastOpenSendto(job, payload, p.connTimeout); fd >= 0 {
		unix.Close(fd)
	}

	// Step two: use the cookie.
	fd, lport, err := fastOpenSendto(job, payload, p.connTimeout)
	if err != nil {
		if fd >= 0 {
			unix.Close(fd)
		}
		return model.Connection{State: classify(err)}
	}

	file := os.NewFile(uintptr(fd), "tfo")
	conn, err := net.FileConn(file)
	file.Close()
	if err != nil {
		return model.Connection{Port: lport, State: model.ConnOK}
	}
	return model.Connection{Client: conn, Port: lport, State: model.ConnOK}
}

// fastOpenSendto opens a socket and sends the payload with MSG_FASTOPEN,
// returning the socket and the local port the stack picked. The caller
// owns the returned fd even on error.
func fastOpenSendto(job model.Job, payload []byte, timeout time.Duration) (int, uint16, error) {
	ip := net.ParseIP(job.Addr)
	if ip == nil {
		return -1, 0, fmt.Errorf("invalid address %q", job.Addr)
	}

	var domain int
	var sa unix.Sockaddr
	if ip4 := ip.To4(); ip4 != nil {
		domain = unix.AF_INET
		sa4 := &unix.SockaddrInet4{Port: int(job.Port)}
		copy(sa4.Addr[:], ip4)
		sa = sa4
	} else {
		domain = unix.AF_INET6
		sa6 := &unix.SockaddrInet6{Port: int(job.Port)}
		copy(sa6.Addr[:], ip.To16())
		sa = sa6
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, 0, err
	}
	tv := unix.NsecToTimeval(timeout.Nanoseconds())
	unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_SNDTIMEO, &tv)

	if err := unix.Sendto(fd, payload, unix.MSG_FASTOPEN, sa); err != nil {
		return fd, 0, err
	}

	var lport uint16
	if name, err := unix.Getsockname(fd); err == nil {
		switch a := name.(type) {
		case *unix.SockaddrInet4:
			lport = uint16(a.Port)
		case *unix.SockaddrInet6:
			lport = uint16(a.Port)
		}
	}
	return fd, lport, nil
}

// classify maps a connect error onto the three-way outcome enumeration.
func classify(err error) model.ConnState {
	if err == nil {
		return model.ConnOK
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return model.ConnTimeout
	}
	if errors.Is(err, unix.ETIMEDOUT) || errors.Is(err, unix.EAGAIN) {
		return model.ConnTimeout
	}
	return model.ConnFailed
}
