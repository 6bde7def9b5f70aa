// Package chwriter implements the clickhouse_writer module, which stores
// every flow record in a ClickHouse table.
package chwriter

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"NetflowAnalyzer/internal/engine/consumer"
	"NetflowAnalyzer/internal/factory"
	"NetflowAnalyzer/internal/model"
)

const (
	ModuleType           = "clickhouse_writer"
	DefaultBatchSize     = 1000
	DefaultFlushInterval = 10 * time.Second
	DefaultTable         = "netflow_records"

	connectTimeout = 10 * time.Second
	flushTimeout   = 30 * time.Second
)

func init() {
	factory.RegisterModule(ModuleType, func(desc model.ModuleDescriptor, env factory.Env) (model.Module, error) {
		cfg, err := parseOptions(desc.Options)
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		sink, err := NewClickHouseSink(ctx, cfg.ClickHouse)
		if err != nil {
			return nil, err
		}
		if env.Logger != nil {
			env.Logger.Info("Connected to ClickHouse", "host", cfg.ClickHouse.Host, "table", cfg.ClickHouse.Table)
		}
		return New(desc.Name, sink, cfg.BatchSize, cfg.FlushInterval, env.Logger), nil
	})
}

type options struct {
	ClickHouse    ClickHouseConfig
	BatchSize     int
	FlushInterval time.Duration
}

func parseOptions(opts model.Options) (options, error) {
	var (
		o   options
		err error
	)
	ch := &o.ClickHouse
	if ch.Host, err = opts.String("host", "localhost"); err != nil {
		return o, err
	}
	if ch.Port, err = opts.Int("port", 9000); err != nil {
		return o, err
	}
	if ch.Database, err = opts.String("database", "default"); err != nil {
		return o, err
	}
	if ch.Username, err = opts.String("username", "default"); err != nil {
		return o, err
	}
	if ch.Password, err = opts.String("password", ""); err != nil {
		return o, err
	}
	if ch.Table, err = opts.String("table", DefaultTable); err != nil {
		return o, err
	}
	if o.BatchSize, err = opts.Int("batch_size", DefaultBatchSize); err != nil {
		return o, err
	}
	if o.FlushInterval, err = opts.Duration("flush_interval", DefaultFlushInterval); err != nil {
		return o, err
	}
	if o.BatchSize <= 0 {
		return o, fmt.Errorf("batch_size must be positive, got %d", o.BatchSize)
	}
	if o.FlushInterval <= 0 {
		return o, fmt.Errorf("flush_interval must be positive, got %s", o.FlushInterval)
	}
	return o, nil
}

// Row is one flow record as stored.
type Row struct {
	ExportTime time.Time
	FlowStart  time.Time
	FlowEnd    time.Time
	Sequence   uint32
	SrcAddr    net.IP
	DstAddr    net.IP
	NextHop    net.IP
	InputIf    uint16
	OutputIf   uint16
	Packets    uint32
	Bytes      uint32
	SrcPort    uint16
	DstPort    uint16
	TCPFlags   uint8
	Protocol   uint8
	ToS        uint8
	SrcAS      uint16
	DstAS      uint16
	SrcMask    uint8
	DstMask    uint8
}

// Sink persists batches of rows.
type Sink interface {
	Insert(ctx context.Context, rows []Row) error
	Close() error
}

// Writer buffers rows and flushes them to the sink by size or interval.
type Writer struct {
	name          string
	sink          Sink
	batchSize     int
	flushInterval time.Duration
	logger        *slog.Logger

	buf       []Row
	lastFlush time.Time
	written   uint64
	discarded uint64
}

// New creates a Writer.
func New(name string, sink Sink, batchSize int, flushInterval time.Duration, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		name:          name,
		sink:          sink,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        logger,
		buf:           make([]Row, 0, batchSize),
	}
}

func (w *Writer) Name() string { return w.name }

// Run buffers the records of every packet until ctx is cancelled, then
// flushes what is left and closes the sink.
func (w *Writer) Run(ctx context.Context, in <-chan model.FlowPacket) error {
	w.lastFlush = time.Now()
	consumer.Poll(ctx, in, consumer.DefaultPollInterval, consumer.Handler{
		OnPacket: w.Add,
		OnTick: func(now time.Time) {
			if now.Sub(w.lastFlush) >= w.flushInterval {
				w.Flush()
			}
		},
	})

	w.Flush()
	if err := w.sink.Close(); err != nil {
		w.logger.Warn("Failed to close ClickHouse connection", "error", err)
	}
	w.logger.Info("ClickHouse writer stopped", "written", w.written, "discarded", w.discarded)
	return nil
}

// Add converts the records of pkt to rows and flushes once the batch is full.
func (w *Writer) Add(pkt model.FlowPacket) {
	for _, r := range pkt.Records {
		w.buf = append(w.buf, rowFrom(pkt, r))
		if len(w.buf) >= w.batchSize {
			w.Flush()
		}
	}
}

// Flush sends the buffered rows. A failed batch is logged and discarded.
func (w *Writer) Flush() {
	w.lastFlush = time.Now()
	if len(w.buf) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	n := len(w.buf)
	if err := w.sink.Insert(ctx, w.buf); err != nil {
		w.discarded += uint64(n)
		w.logger.Error("Failed to write flows to ClickHouse, discarding batch", "rows", n, "error", err)
	} else {
		w.written += uint64(n)
		w.logger.Debug("Wrote flows to ClickHouse", "rows", n)
	}
	w.buf = make([]Row, 0, w.batchSize)
}

func rowFrom(pkt model.FlowPacket, r model.FlowRecord) Row {
	export := pkt.ExportTime()
	return Row{
		ExportTime: export,
		FlowStart:  uptimeToTime(pkt, export, r.First),
		FlowEnd:    uptimeToTime(pkt, export, r.Last),
		Sequence:   pkt.Sequence,
		SrcAddr:    net.IP(r.SrcIP().AsSlice()),
		DstAddr:    net.IP(r.DstIP().AsSlice()),
		NextHop:    net.IP(model.AddrFromUint32(r.NextHop).AsSlice()),
		InputIf:    r.Input,
		OutputIf:   r.Output,
		Packets:    r.Packets,
		Bytes:      r.Bytes,
		SrcPort:    r.SrcPort,
		DstPort:    r.DstPort,
		TCPFlags:   r.TCPFlags,
		Protocol:   r.Protocol,
		ToS:        r.ToS,
		SrcAS:      r.SrcAS,
		DstAS:      r.DstAS,
		SrcMask:    r.SrcMask,
		DstMask:    r.DstMask,
	}
}

// uptimeToTime converts a router sysuptime (ms) to wall-clock time using the
// header's export time and uptime.
func uptimeToTime(pkt model.FlowPacket, export time.Time, uptimeMs uint32) time.Time {
	delta := int64(pkt.SysUptime) - int64(uptimeMs)
	return export.Add(-time.Duration(delta) * time.Millisecond)
}
