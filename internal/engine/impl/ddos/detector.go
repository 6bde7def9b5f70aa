// Package ddos implements the simple_ddos_detector module: a windowed
// threshold detector for many-sources-to-one-destination floods of small
// packets.
package ddos

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"NetflowAnalyzer/internal/engine/consumer"
	"NetflowAnalyzer/internal/factory"
	"NetflowAnalyzer/internal/metrics"
	"NetflowAnalyzer/internal/model"

	"github.com/google/uuid"
)

// ModuleType is the registry key of the detector.
const ModuleType = "simple_ddos_detector"

func init() {
	factory.RegisterModule(ModuleType, func(desc model.ModuleDescriptor, env factory.Env) (model.Module, error) {
		cfg, err := ParseConfig(desc.Options)
		if err != nil {
			return nil, err
		}
		return New(desc.Name, cfg, env), nil
	})
}

// Config holds the detector thresholds.
type Config struct {
	// AnalysisInterval is the window length.
	AnalysisInterval time.Duration
	// IPsThreshold is the number of distinct sources a destination must
	// exceed to be considered.
	IPsThreshold int
	// MaxAvgPacketSize: only flows whose bytes/packets is strictly below this
	// are counted.
	MaxAvgPacketSize float64
	// MinPacketsPerSource must be reached by every source of a target.
	MinPacketsPerSource uint64
	// ReportEmpty sends a notification even when no target was found.
	ReportEmpty bool
	// PollInterval bounds each queue wait.
	PollInterval time.Duration
}

// DefaultConfig returns the thresholds used for absent options.
func DefaultConfig() Config {
	return Config{
		AnalysisInterval:    60 * time.Second,
		IPsThreshold:        100,
		MaxAvgPacketSize:    100,
		MinPacketsPerSource: 10,
		PollInterval:        consumer.DefaultPollInterval,
	}
}

// ParseConfig reads the detector options.
func ParseConfig(opts model.Options) (Config, error) {
	cfg := DefaultConfig()
	var err error

	if cfg.AnalysisInterval, err = opts.Duration("analysis_interval", cfg.AnalysisInterval); err != nil {
		return Config{}, err
	}
	if cfg.IPsThreshold, err = opts.Int("ips_threshold", cfg.IPsThreshold); err != nil {
		return Config{}, err
	}
	if cfg.MaxAvgPacketSize, err = opts.Float("max_avg_packet_size", cfg.MaxAvgPacketSize); err != nil {
		return Config{}, err
	}
	minPackets, err := opts.Int("min_packets_per_source", int(cfg.MinPacketsPerSource))
	if err != nil {
		return Config{}, err
	}
	if cfg.ReportEmpty, err = opts.Bool("report_empty", cfg.ReportEmpty); err != nil {
		return Config{}, err
	}
	if cfg.PollInterval, err = opts.Duration("poll_interval", cfg.PollInterval); err != nil {
		return Config{}, err
	}

	switch {
	case cfg.AnalysisInterval <= 0:
		return Config{}, fmt.Errorf("analysis_interval must be positive, got %s", cfg.AnalysisInterval)
	case cfg.IPsThreshold < 0:
		return Config{}, fmt.Errorf("ips_threshold must not be negative, got %d", cfg.IPsThreshold)
	case cfg.MaxAvgPacketSize <= 0:
		return Config{}, fmt.Errorf("max_avg_packet_size must be positive, got %v", cfg.MaxAvgPacketSize)
	case minPackets < 0:
		return Config{}, fmt.Errorf("min_packets_per_source must not be negative, got %d", minPackets)
	}
	cfg.MinPacketsPerSource = uint64(minPackets)
	return cfg, nil
}

// window maps destination -> source -> packets accrued.
type window map[uint32]map[uint32]uint64

// Detector accumulates small-packet flows per destination and source and
// evaluates them once per analysis interval. All state is owned by the
// module goroutine.
type Detector struct {
	name     string
	cfg      Config
	logger   *slog.Logger
	notifier model.Notifier
	metrics  *metrics.Metrics
	now      func() time.Time

	state       window
	windowStart time.Time
}

// New creates a detector. env.Notifier and env.Metrics may be nil.
func New(name string, cfg Config, env factory.Env) *Detector {
	logger := env.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		name:     name,
		cfg:      cfg,
		logger:   logger,
		notifier: env.Notifier,
		metrics:  env.Metrics,
		now:      time.Now,
		state:    make(window),
	}
}

func (d *Detector) Name() string { return d.name }

// Run consumes packets until ctx is cancelled.
func (d *Detector) Run(ctx context.Context, in <-chan model.FlowPacket) error {
	d.windowStart = d.now()
	d.logger.Info("DDoS detector started",
		"analysis_interval", d.cfg.AnalysisInterval,
		"ips_threshold", d.cfg.IPsThreshold,
		"max_avg_packet_size", d.cfg.MaxAvgPacketSize,
		"min_packets_per_source", d.cfg.MinPacketsPerSource)

	consumer.Poll(ctx, in, d.cfg.PollInterval, consumer.Handler{
		OnPacket: d.Observe,
		OnTick:   func(time.Time) { d.Tick() },
	})
	return nil
}

// Observe accrues the packets of every small-packet flow in pkt.
func (d *Detector) Observe(pkt model.FlowPacket) {
	for _, r := range pkt.Records {
		if r.Packets == 0 {
			continue
		}
		if float64(r.Bytes)/float64(r.Packets) >= d.cfg.MaxAvgPacketSize {
			continue
		}
		sources, ok := d.state[r.DstAddr]
		if !ok {
			sources = make(map[uint32]uint64)
			d.state[r.DstAddr] = sources
		}
		sources[r.SrcAddr] += uint64(r.Packets)
	}
}

// Tick evaluates and resets the window once the analysis interval has
// elapsed. It returns the report when an evaluation happened.
func (d *Detector) Tick() (*model.Report, bool) {
	now := d.now()
	if now.Sub(d.windowStart) <= d.cfg.AnalysisInterval {
		return nil, false
	}

	report := &model.Report{
		ID:          uuid.NewString(),
		Module:      d.name,
		WindowStart: d.windowStart,
		WindowEnd:   now,
		Targets:     d.Evaluate(),
	}

	d.state = make(window)
	d.windowStart = now

	d.publish(report)
	return report, true
}

// Evaluate returns the destinations of the current window that have more
// than IPsThreshold distinct sources, each having sent at least
// MinPacketsPerSource packets. Targets are ordered by address.
func (d *Detector) Evaluate() []model.Target {
	var targets []model.Target
	for dst, sources := range d.state {
		if len(sources) <= d.cfg.IPsThreshold {
			continue
		}
		var total uint64
		qualified := true
		for _, n := range sources {
			if n < d.cfg.MinPacketsPerSource {
				qualified = false
				break
			}
			total += n
		}
		if !qualified {
			continue
		}
		targets = append(targets, model.Target{
			Addr:    model.AddrFromUint32(dst),
			Sources: len(sources),
			Packets: total,
		})
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].Addr.Less(targets[j].Addr) })
	return targets
}

func (d *Detector) publish(report *model.Report) {
	for _, t := range report.Targets {
		d.logger.Info("Detected DDoS target", "target", t.Addr.String(), "sources", t.Sources, "packets", t.Packets)
	}
	d.metrics.TargetReported(d.name, len(report.Targets))

	if d.notifier == nil || (len(report.Targets) == 0 && !d.cfg.ReportEmpty) {
		return
	}
	if err := d.notifier.Send(subject(report), body(report)); err != nil {
		d.logger.Error("Failed to send DDoS report", "report_id", report.ID, "error", err)
		return
	}
	d.logger.Info("DDoS report sent", "report_id", report.ID, "targets", len(report.Targets))
}
