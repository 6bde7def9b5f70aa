// Package natspub implements the nats_publisher module. It republishes every
// decoded packet to a NATS subject so analysis can also happen off-box.
package natspub

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"

	"NetflowAnalyzer/internal/engine/consumer"
	"NetflowAnalyzer/internal/factory"
	"NetflowAnalyzer/internal/model"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const (
	ModuleType     = "nats_publisher"
	DefaultSubject = "netflow.packets"
)

func init() {
	factory.RegisterModule(ModuleType, func(desc model.ModuleDescriptor, env factory.Env) (model.Module, error) {
		url, err := desc.Options.String("url", nats.DefaultURL)
		if err != nil {
			return nil, err
		}
		subject, err := desc.Options.String("subject", DefaultSubject)
		if err != nil {
			return nil, err
		}
		nc, err := nats.Connect(url, nats.Name("netflow-analyzer/"+desc.Name))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
		}
		if env.Logger != nil {
			env.Logger.Info("Connected to NATS server", "url", url, "subject", subject)
		}
		return New(desc.Name, nc, subject, env.Logger), nil
	})
}

// Conn is the part of *nats.Conn the publisher uses.
type Conn interface {
	PublishMsg(msg *nats.Msg) error
	Drain() error
}

// Publisher is responsible for publishing flow packets to a NATS subject.
type Publisher struct {
	name    string
	nc      Conn
	subject string
	logger  *slog.Logger

	published atomic.Uint64
	failed    atomic.Uint64
}

// New creates a Publisher on an established connection.
func New(name string, nc Conn, subject string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{name: name, nc: nc, subject: subject, logger: logger}
}

func (p *Publisher) Name() string { return p.name }

// Run publishes packets until ctx is cancelled, then drains the connection.
func (p *Publisher) Run(ctx context.Context, in <-chan model.FlowPacket) error {
	consumer.Poll(ctx, in, consumer.DefaultPollInterval, consumer.Handler{
		OnPacket: func(pkt model.FlowPacket) {
			if err := p.Publish(pkt); err != nil {
				p.failed.Add(1)
				p.logger.Warn("Failed to publish packet", "subject", p.subject, "sequence", pkt.Sequence, "error", err)
			}
		},
	})

	if err := p.nc.Drain(); err != nil {
		p.logger.Warn("Failed to drain NATS connection", "error", err)
	}
	p.logger.Info("NATS connection drained and closed",
		"published", p.published.Load(), "failed", p.failed.Load())
	return nil
}

// Publish serializes pkt and publishes it with a unique message ID so
// JetStream-enabled subjects can deduplicate redeliveries.
func (p *Publisher) Publish(pkt model.FlowPacket) error {
	msg := nats.NewMsg(p.subject)
	msg.Header.Set(nats.MsgIdHdr, uuid.NewString())
	msg.Header.Set("Netflow-Sequence", strconv.FormatUint(uint64(pkt.Sequence), 10))
	msg.Data = MarshalPacket(pkt)

	if err := p.nc.PublishMsg(msg); err != nil {
		return err
	}
	p.published.Add(1)
	return nil
}
