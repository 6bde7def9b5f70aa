package topports

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"NetflowAnalyzer/internal/factory"
	"NetflowAnalyzer/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePacket() model.FlowPacket {
	return model.FlowPacket{
		Version: 5,
		Count:   3,
		Records: []model.FlowRecord{
			{SrcAddr: 0x0a000001, DstAddr: 0x0a000002, SrcPort: 1234, DstPort: 80, Packets: 100, Bytes: 6000, Protocol: model.ProtoTCP},
			{SrcAddr: 0x0a000003, DstAddr: 0x0a000002, SrcPort: 5555, DstPort: 80, Packets: 50, Bytes: 3000, Protocol: model.ProtoTCP},
			{SrcAddr: 0x0a000003, DstAddr: 0x0a000002, SrcPort: 0, DstPort: 0, Packets: 1, Bytes: 84, Protocol: model.ProtoICMP},
		},
	}
}

func TestObserve_CountsTCPAndUDPPorts(t *testing.T) {
	c := New("ports", 10, 0, nil)
	c.Observe(samplePacket())

	assert.Equal(t, []PortCount{
		{Port: 80, Flows: 2},
		{Port: 1234, Flows: 1},
		{Port: 5555, Flows: 1},
	}, c.Top(10))
	assert.NotContains(t, c.freq, uint16(0), "ICMP records carry no ports")
}

func TestTop_Truncates(t *testing.T) {
	c := New("ports", 2, 0, nil)
	c.Observe(samplePacket())
	c.Observe(model.FlowPacket{Records: []model.FlowRecord{
		{SrcPort: 53, DstPort: 5555, Protocol: model.ProtoUDP},
	}})

	assert.Equal(t, []PortCount{{Port: 80, Flows: 2}, {Port: 5555, Flows: 2}}, c.Top(2))
}

func TestRun_LogsRankingOnExit(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	c := New("ports", 10, 0, logger)

	in := make(chan model.FlowPacket, 1)
	in <- samplePacket()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, in) }()

	assert.Eventually(t, func() bool { return len(in) == 0 }, time.Second, 5*time.Millisecond)
	// let the packet be counted before cancelling
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("module did not stop")
	}
	assert.Contains(t, buf.String(), "Top 10 most frequently used ports: 80, 1234, 5555")
}

func TestFactory(t *testing.T) {
	mod, err := factory.Create(model.ModuleDescriptor{Name: ModuleType, Enabled: true}, factory.Env{})
	require.NoError(t, err)
	assert.Equal(t, ModuleType, mod.Name())

	_, err = factory.Create(model.ModuleDescriptor{
		Name:    "bad",
		Type:    ModuleType,
		Options: model.Options{"top_count": 0},
	}, factory.Env{})
	assert.Error(t, err)
}
