// Package topports implements the top_ports module, which counts how often
// each TCP and UDP port appears in flow records.
package topports

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"NetflowAnalyzer/internal/engine/consumer"
	"NetflowAnalyzer/internal/factory"
	"NetflowAnalyzer/internal/model"
)

const (
	ModuleType      = "top_ports"
	DefaultTopCount = 10
)

func init() {
	factory.RegisterModule(ModuleType, func(desc model.ModuleDescriptor, env factory.Env) (model.Module, error) {
		topCount, err := desc.Options.Int("top_count", DefaultTopCount)
		if err != nil {
			return nil, err
		}
		if topCount <= 0 {
			return nil, fmt.Errorf("top_count must be positive, got %d", topCount)
		}
		interval, err := desc.Options.Duration("report_interval", 0)
		if err != nil {
			return nil, err
		}
		return New(desc.Name, topCount, interval, env.Logger), nil
	})
}

// PortCount is one entry of the ranking.
type PortCount struct {
	Port  uint16 `json:"port"`
	Flows uint64 `json:"flows"`
}

// Counter tracks port frequencies. It is owned by the module goroutine.
type Counter struct {
	name           string
	topCount       int
	reportInterval time.Duration
	logger         *slog.Logger

	freq       map[uint16]uint64
	lastReport time.Time
}

// New creates a Counter. A zero reportInterval logs the ranking only on exit.
func New(name string, topCount int, reportInterval time.Duration, logger *slog.Logger) *Counter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Counter{
		name:           name,
		topCount:       topCount,
		reportInterval: reportInterval,
		logger:         logger,
		freq:           make(map[uint16]uint64),
	}
}

func (c *Counter) Name() string { return c.name }

// Run counts ports until ctx is cancelled, then logs the final ranking.
func (c *Counter) Run(ctx context.Context, in <-chan model.FlowPacket) error {
	c.lastReport = time.Now()
	consumer.Poll(ctx, in, consumer.DefaultPollInterval, consumer.Handler{
		OnPacket: c.Observe,
		OnTick:   c.tick,
	})
	c.report()
	return nil
}

// Observe counts the source and destination port of every TCP or UDP flow.
func (c *Counter) Observe(pkt model.FlowPacket) {
	for _, r := range pkt.Records {
		if r.Protocol != model.ProtoTCP && r.Protocol != model.ProtoUDP {
			continue
		}
		c.freq[r.SrcPort]++
		c.freq[r.DstPort]++
	}
}

func (c *Counter) tick(now time.Time) {
	if c.reportInterval <= 0 || now.Sub(c.lastReport) < c.reportInterval {
		return
	}
	c.lastReport = now
	c.report()
}

// Top returns the n most frequent ports, ties broken by lower port first.
func (c *Counter) Top(n int) []PortCount {
	ranking := make([]PortCount, 0, len(c.freq))
	for port, flows := range c.freq {
		ranking = append(ranking, PortCount{Port: port, Flows: flows})
	}
	sort.Slice(ranking, func(i, j int) bool {
		if ranking[i].Flows != ranking[j].Flows {
			return ranking[i].Flows > ranking[j].Flows
		}
		return ranking[i].Port < ranking[j].Port
	})
	if len(ranking) > n {
		ranking = ranking[:n]
	}
	return ranking
}

func (c *Counter) report() {
	top := c.Top(c.topCount)
	ports := make([]string, len(top))
	for i, pc := range top {
		ports[i] = strconv.Itoa(int(pc.Port))
	}
	c.logger.Info(fmt.Sprintf("Top %d most frequently used ports: %s", c.topCount, strings.Join(ports, ", ")),
		"distinct_ports", len(c.freq))
}
