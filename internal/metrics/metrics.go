// Package metrics polls one remote host for system statistics and publishes
// them as push events.
//
// The poller has a single target slot. Starting it against a new connection
// first tears the previous loop down completely, so at most one channel is
// ever held and samples from the old target can never interleave with the
// new one.
package metrics

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/ricardoborges/nautilus/pkg/remote"
)

// DefaultInterval is the poll cadence when none is configured.
const DefaultInterval = 2 * time.Second

// Publisher is where samples go. Satisfied by *hub.Hub.
type Publisher interface {
	Publish(channel string, payload interface{})
}

// DialFunc opens an authenticated channel to a registered connection.
type DialFunc func(connectionID string) (remote.Conn, error)

// Sample is the payload published on metrics:update.
type Sample struct {
	ConnectionID string  `json:"connectionId"`
	Status       string  `json:"status"` // "ok" or "error"
	Error        string  `json:"error,omitempty"`
	Timestamp    int64   `json:"timestamp"`
	Hostname     string  `json:"hostname,omitempty"`
	OS           string  `json:"os,omitempty"`
	Kernel       string  `json:"kernel,omitempty"`
	Arch         string  `json:"arch,omitempty"`
	UptimeSec    float64 `json:"uptimeSeconds,omitempty"`
	Load1        float64 `json:"load1"`
	Load5        float64 `json:"load5"`
	Load15       float64 `json:"load15"`
	CPUPercent   float64 `json:"cpuPercent"`
	MemTotalKB   uint64  `json:"memTotalKb"`
	MemUsedKB    uint64  `json:"memUsedKb"`
	DiskTotalKB  uint64  `json:"diskTotalKb"`
	DiskUsedKB   uint64  `json:"diskUsedKb"`
	NetRxPerSec  float64 `json:"netRxBytesPerSec"`
	NetTxPerSec  float64 `json:"netTxBytesPerSec"`

	// Services maps configured unit names to systemd states
	// ("active", "inactive", "failed", ...).
	Services map[string]string `json:"services,omitempty"`
}

// StoppedEvent is the payload published on metrics:stopped.
type StoppedEvent struct {
	ConnectionID string `json:"connectionId"`
}

// Poller drives the metrics loop for the current target.
type Poller struct {
	dial     DialFunc
	pub      Publisher
	interval time.Duration
	services []string
	log      zerolog.Logger

	// guarded by ops; all slot mutation is serialized through Start/Stop.
	ops    chan struct{} // size-1 semaphore
	target string
	cancel chan struct{}
	done   chan struct{}
}

// NewPoller creates a poller. services lists systemd units whose state is
// reported with every sample.
func NewPoller(dial DialFunc, pub Publisher, interval time.Duration, services []string, log zerolog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	p := &Poller{
		dial:     dial,
		pub:      pub,
		interval: interval,
		services: services,
		log:      log.With().Str("component", "metrics").Logger(),
		ops:      make(chan struct{}, 1),
	}
	p.ops <- struct{}{}
	return p
}

// Start points the poller at a connection. Any previous target is stopped
// first: its loop is joined and its channel closed before the new dial, so
// no stale sample can be published after Start returns. interval overrides
// the configured cadence for this target; zero keeps the default.
func (p *Poller) Start(connectionID string, interval time.Duration) error {
	<-p.ops
	defer func() { p.ops <- struct{}{} }()

	if interval <= 0 {
		interval = p.interval
	}

	p.stopCurrent()

	conn, err := p.dial(connectionID)
	if err != nil {
		return err
	}

	cancel := make(chan struct{})
	done := make(chan struct{})
	p.target = connectionID
	p.cancel = cancel
	p.done = done

	p.log.Info().
		Str("connection", connectionID).
		Str("host", conn.Host()).
		Dur("interval", interval).
		Msg("metrics polling started")
	go p.loop(connectionID, conn, interval, cancel, done)
	return nil
}

// Stop ends polling and publishes metrics:stopped for the current target.
// Stopping an idle poller is a no-op.
func (p *Poller) Stop() {
	<-p.ops
	defer func() { p.ops <- struct{}{} }()
	p.stopCurrent()
}

// Target returns the connection ID currently being polled, or "".
func (p *Poller) Target() string {
	<-p.ops
	defer func() { p.ops <- struct{}{} }()
	return p.target
}

func (p *Poller) stopCurrent() {
	if p.cancel == nil {
		return
	}
	close(p.cancel)
	<-p.done

	stopped := p.target
	p.target = ""
	p.cancel = nil
	p.done = nil

	p.log.Info().Str("connection", stopped).Msg("metrics polling stopped")
	p.pub.Publish("metrics:stopped", StoppedEvent{ConnectionID: stopped})
}

// loop polls until cancelled. A failed cycle publishes a degraded sample
// and the loop keeps going; transient hiccups surface to the UI without
// killing the stream.
func (p *Poller) loop(connectionID string, conn remote.Conn, interval time.Duration, cancel <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer conn.Close()

	var prev *cpuCounters
	var prevNet *netCounters
	var prevAt time.Time

	collect := func() {
		out, _, _, err := conn.Exec(batchCommand(p.services))
		now := time.Now()
		if err != nil {
			p.log.Warn().Err(err).Str("connection", connectionID).Msg("metrics cycle failed")
			p.pub.Publish("metrics:update", Sample{
				ConnectionID: connectionID,
				Status:       "error",
				Error:        err.Error(),
				Timestamp:    now.UnixMilli(),
			})
			return
		}

		sample, cpu, net, perr := parseBatch(out, p.services)
		if perr != nil {
			p.log.Warn().Err(perr).Str("connection", connectionID).Msg("metrics parse failed")
			p.pub.Publish("metrics:update", Sample{
				ConnectionID: connectionID,
				Status:       "error",
				Error:        perr.Error(),
				Timestamp:    now.UnixMilli(),
			})
			return
		}

		sample.ConnectionID = connectionID
		sample.Status = "ok"
		sample.Timestamp = now.UnixMilli()
		sample.CPUPercent = cpuPercent(prev, cpu)
		sample.NetRxPerSec, sample.NetTxPerSec = netRates(prevNet, net, prevAt, now)
		prev, prevNet, prevAt = cpu, net, now

		p.pub.Publish("metrics:update", sample)
	}

	collect()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-cancel:
			return
		case <-ticker.C:
			collect()
		}
	}
}

// cpuPercent derives utilization from the jiffies delta between two reads.
// The first sample has no baseline and reports 0.
func cpuPercent(prev, cur *cpuCounters) float64 {
	if prev == nil || cur == nil {
		return 0
	}
	total := cur.total - prev.total
	if total <= 0 {
		return 0
	}
	idle := cur.idle - prev.idle
	pct := 100 * float64(total-idle) / float64(total)
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// netRates converts cumulative byte counters into per-second rates.
func netRates(prev, cur *netCounters, prevAt, now time.Time) (rx, tx float64) {
	if prev == nil || cur == nil {
		return 0, 0
	}
	elapsed := now.Sub(prevAt).Seconds()
	if elapsed <= 0 {
		return 0, 0
	}
	if cur.rx >= prev.rx {
		rx = float64(cur.rx-prev.rx) / elapsed
	}
	if cur.tx >= prev.tx {
		tx = float64(cur.tx-prev.tx) / elapsed
	}
	return rx, tx
}
