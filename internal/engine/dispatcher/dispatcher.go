// Package dispatcher owns the NetFlow listening socket. It reads one
// datagram at a time, decodes it and hands the result to the manager for
// fan-out to every analysis module.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"NetflowAnalyzer/internal/engine/manager"
	"NetflowAnalyzer/internal/engine/protocol"
	"NetflowAnalyzer/internal/metrics"
	"NetflowAnalyzer/internal/model"
)

const DefaultPollInterval = time.Second

// Fanout is what the dispatcher needs from the module manager.
type Fanout interface {
	Dispatch(pkt model.FlowPacket) int
	ShutdownAll() manager.ShutdownResult
}

// Options configures a Dispatcher.
type Options struct {
	// PollInterval bounds each socket wait so shutdown is noticed without traffic.
	PollInterval time.Duration
	// ReadBuffer sets the OS receive buffer; 0 leaves the system default.
	ReadBuffer int
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
}

// counters are the process-wide ingestion totals. The dispatch goroutine is
// the only writer; atomics make concurrent reads from the status API safe.
type counters struct {
	received     atomic.Uint64
	processed    atomic.Uint64
	decodeErrors atomic.Uint64
}

// Stats is a snapshot of the dispatcher counters.
type Stats struct {
	Received     uint64        `json:"received"`
	Processed    uint64        `json:"processed"`
	DecodeErrors uint64        `json:"decode_errors"`
	Started      time.Time     `json:"started"`
	Uptime       time.Duration `json:"uptime_ns"`
}

// Summary is emitted once when the dispatcher stops.
type Summary struct {
	Received  uint64
	Processed uint64
	Elapsed   time.Duration
	Abandoned []string
}

// Dispatcher is the single-goroutine ingestion loop.
type Dispatcher struct {
	fanout       Fanout
	pollInterval time.Duration
	readBuffer   int
	logger       *slog.Logger
	metrics      *metrics.Metrics

	conn     *net.UDPConn
	started  time.Time
	counters counters
	closing  atomic.Bool
	serving  atomic.Bool
}

// New creates a Dispatcher that fans decoded packets out through fanout.
func New(fanout Fanout, opts Options) *Dispatcher {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Dispatcher{
		fanout:       fanout,
		pollInterval: opts.PollInterval,
		readBuffer:   opts.ReadBuffer,
		logger:       opts.Logger.With("component", "dispatcher"),
		metrics:      opts.Metrics,
		started:      time.Now(),
	}
}

// Listen binds the UDP socket. A failure here is fatal for the process.
func (d *Dispatcher) Listen(addr string) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	if d.readBuffer > 0 {
		if err := conn.SetReadBuffer(d.readBuffer); err != nil {
			d.logger.Warn("Could not set UDP read buffer", "buffer_size", d.readBuffer, "error", err)
		}
	}
	d.conn = conn
	d.logger.Info("Listening for netflow", "addr", conn.LocalAddr().String())
	return nil
}

// LocalAddr returns the bound socket address, or nil before Listen.
func (d *Dispatcher) LocalAddr() net.Addr {
	if d.conn == nil {
		return nil
	}
	return d.conn.LocalAddr()
}

// Serving reports whether the receive loop is running.
func (d *Dispatcher) Serving() bool { return d.serving.Load() }

// Run services the socket until ctx is cancelled, then closes the socket,
// stops every module and returns the final summary.
func (d *Dispatcher) Run(ctx context.Context) (Summary, error) {
	if d.conn == nil {
		return Summary{}, errors.New("dispatcher: Run called before Listen")
	}

	d.serving.Store(true)
	buf := make([]byte, protocol.MaxDatagramLen)
	for ctx.Err() == nil {
		if err := d.conn.SetReadDeadline(time.Now().Add(d.pollInterval)); err != nil {
			d.logger.Error("Failed to set read deadline", "error", err)
		}
		n, from, err := d.conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				break
			}
			d.logger.Error("Socket read failed", "error", err)
			continue
		}
		d.HandleDatagram(buf[:n], from)
	}
	d.serving.Store(false)

	if err := d.conn.Close(); err != nil {
		d.logger.Warn("Failed to close socket", "error", err)
	}
	return d.Shutdown(), nil
}

// HandleDatagram services one received datagram: count, decode, fan out.
// It is safe against panics in decoding or dispatch and becomes a no-op once
// shutdown has begun, so the counters stay frozen.
func (d *Dispatcher) HandleDatagram(data []byte, from net.Addr) {
	if d.closing.Load() {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Recovered while handling datagram", "from", addrString(from), "panic", r)
		}
	}()

	d.counters.received.Add(1)
	d.metrics.Received()

	pkt, err := protocol.Decode(data)
	if err != nil {
		d.counters.decodeErrors.Add(1)
		reason := "unknown"
		var decErr *protocol.DecodeError
		if errors.As(err, &decErr) {
			reason = decErr.Reason()
		}
		d.metrics.DecodeError(reason)
		d.logger.Warn("Dropping datagram", "from", addrString(from), "error", err)
		return
	}

	d.counters.processed.Add(1)
	d.metrics.Processed(len(pkt.Records))
	d.fanout.Dispatch(pkt)
}

// Shutdown freezes the counters, stops every module and logs the summary.
// Run calls it; offline callers that only use HandleDatagram call it
// directly. Calling it more than once returns the same counters.
func (d *Dispatcher) Shutdown() Summary {
	first := d.closing.CompareAndSwap(false, true)

	summary := Summary{
		Received:  d.counters.received.Load(),
		Processed: d.counters.processed.Load(),
		Elapsed:   time.Since(d.started),
	}
	if !first {
		return summary
	}

	res := d.fanout.ShutdownAll()
	summary.Abandoned = res.Abandoned
	summary.Elapsed = time.Since(d.started)

	d.logger.Info("Exiting",
		"processed", summary.Processed,
		"received", summary.Received,
		"elapsed", summary.Elapsed.Round(time.Second).String())
	return summary
}

// Stats returns a snapshot of the counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Received:     d.counters.received.Load(),
		Processed:    d.counters.processed.Load(),
		DecodeErrors: d.counters.decodeErrors.Load(),
		Started:      d.started,
		Uptime:       time.Since(d.started),
	}
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}
