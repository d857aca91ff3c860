// Package ecn measures ECN-linked connectivity. Phase 0 disables ECN
// negotiation on outgoing connections and phase 1 enables it, via sysctl;
// the worker performs an HTTP GET against each target and the observer
// merges the TCP flag unions of both directions for comparison.
package ecn

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"pathprobe/internal/config"
	"pathprobe/internal/factory"
	"pathprobe/internal/model"
	"pathprobe/internal/netconfig"
	"pathprobe/internal/observer"
)

const userAgent = "pathprobe"

func init() {
	factory.Register("ecn", func(cfg *config.Config) (model.Plugin, error) {
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

// Plugin implements the ECN measurement.
type Plugin struct {
	workerCount int
	connTimeout time.Duration
}

func (p *Plugin) Name() string               { return "ecn" }
func (p *Plugin) WorkerCount() int           { return p.workerCount }
func (p *Plugin) ConnTimeout() time.Duration { return p.connTimeout }

// Configure toggles the kernel's ECN negotiation mode: off for phase 0,
// on for phase 1. Failure is fatal to the phase.
func (p *Plugin) Configure(phase int) error {
	value := "2"
	if phase == 1 {
		value = "1"
	}
	return netconfig.Set("net.ipv4.tcp_ecn", value)
}

// Connect dials the target with a plain TCP handshake.
func (p *Plugin) Connect(job model.Job, phase int) model.Connection {
	addr := net.JoinHostPort(job.Addr, strconv.Itoa(int(job.Port)))
	conn, err := net.DialTimeout("tcp", addr, p.connTimeout)
	if err != nil {
		state := model.ConnFailed
		if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
			state = model.ConnTimeout
		}
		return model.Connection{State: state}
	}
	var lport uint16
	if tcpAddr, ok := conn.LocalAddr().(*net.TCPAddr); ok {
		lport = uint16(tcpAddr.Port)
	}
	return model.Connection{Client: conn, Port: lport, State: model.ConnOK}
}

// PostConnect performs the HTTP exchange and records the response status.
// Protocol errors are downgraded to a zero status, never propagated, and
// the connection is released on every exit path.
func (p *Plugin) PostConnect(job model.Job, conn model.Connection, phase int) model.ActiveRecord {
	rec := model.ActiveRecord{
		IP:     job.Addr,
		RPort:  job.Port,
		LPort:  conn.Port,
		Host:   job.Host,
		Rank:   job.Rank,
		Config: phase,
		State:  conn.State,
	}
	if conn.State != model.ConnOK || conn.Client == nil {
		return rec
	}
	defer conn.Client.Close()

	conn.Client.SetDeadline(time.Now().Add(p.connTimeout))
	req := "GET / HTTP/1.1\r\nHost: " + job.Host +
		"\r\nUser-Agent: " + userAgent + "\r\nConnection: close\r\n\r\n"
	if _, err := conn.Client.Write([]byte(req)); err != nil {
		return rec
	}
	resp, err := http.ReadResponse(bufio.NewReader(conn.Client), nil)
	if err != nil {
		return rec
	}
	resp.Body.Close()
	rec.Status = resp.StatusCode
	return rec
}

// Chains registers counters and TCP flag merging; tracking stops when the
// connection tears down.
func (p *Plugin) Chains() model.Chains {
	return model.Chains{
		IP4: []model.ChainFunc{observer.CountPackets},
		IP6: []model.ChainFunc{observer.CountPackets},
		TCP: []model.ChainFunc{observer.MergeTCPFlags, tcpDone},
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
		Status:    rec.Status,
		Observed:  flow != nil,
		Flow:      flow,
	}
}

// tcpDone stops tracking on connection teardown, FIN or RST.
func tcpDone(fc *model.FlowContext, pkt *model.PacketInfo, rev bool) bool {
	return pkt.TCP == nil || !(pkt.TCP.FIN || pkt.TCP.RST)
}
