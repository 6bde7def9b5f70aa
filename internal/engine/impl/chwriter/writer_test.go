package chwriter

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"NetflowAnalyzer/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	mu      sync.Mutex
	batches [][]Row
	err     error
	closed  bool
}

func (s *fakeSink) Insert(_ context.Context, rows []Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.batches = append(s.batches, append([]Row(nil), rows...))
	return nil
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSink) rows() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func packetWith(n int) model.FlowPacket {
	pkt := model.FlowPacket{Version: 5, SysUptime: 10000, UnixSecs: 1714564800, Sequence: 9}
	for i := 0; i < n; i++ {
		pkt.Records = append(pkt.Records, model.FlowRecord{
			SrcAddr: 0x0a000001, DstAddr: 0x0a000002, Packets: 10, Bytes: 500,
			First: 4000, Last: 9000, SrcPort: 1234, DstPort: 80, Protocol: model.ProtoTCP,
		})
	}
	pkt.Count = uint16(n)
	return pkt
}

func TestAdd_FlushesOnBatchSize(t *testing.T) {
	sink := &fakeSink{}
	w := New("ch", sink, 3, time.Hour, quietLogger())

	w.Add(packetWith(2))
	assert.Empty(t, sink.batches)
	w.Add(packetWith(2))
	require.Len(t, sink.batches, 1)
	assert.Len(t, sink.batches[0], 3)
	assert.Len(t, w.buf, 1)

	w.Flush()
	require.Len(t, sink.batches, 2)
	assert.Len(t, sink.batches[1], 1)
	assert.Equal(t, uint64(4), w.written)
}

func TestFlush_DiscardsFailedBatch(t *testing.T) {
	sink := &fakeSink{err: errors.New("code: 60, table does not exist")}
	w := New("ch", sink, 10, time.Hour, quietLogger())

	w.Add(packetWith(4))
	w.Flush()
	assert.Empty(t, w.buf)
	assert.Equal(t, uint64(4), w.discarded)
	assert.Zero(t, w.written)
}

func TestRowFrom(t *testing.T) {
	pkt := packetWith(1)
	row := rowFrom(pkt, pkt.Records[0])

	export := time.Unix(1714564800, 0).UTC()
	assert.Equal(t, export, row.ExportTime)
	assert.Equal(t, export.Add(-6*time.Second), row.FlowStart)
	assert.Equal(t, export.Add(-time.Second), row.FlowEnd)
	assert.Equal(t, "10.0.0.1", row.SrcAddr.String())
	assert.Equal(t, "10.0.0.2", row.DstAddr.String())
	assert.Equal(t, "0.0.0.0", row.NextHop.String())
	assert.Equal(t, uint32(9), row.Sequence)
	assert.Equal(t, model.ProtoTCP, row.Protocol)
}

func TestRun_FlushesOnIntervalAndExit(t *testing.T) {
	sink := &fakeSink{}
	w := New("ch", sink, 1000, 50*time.Millisecond, quietLogger())

	in := make(chan model.FlowPacket, 2)
	in <- packetWith(2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, in) }()

	// The poll loop ticks at least once per second, so the interval
	// flush happens well before the deadline.
	assert.Eventually(t, func() bool { return sink.rows() == 2 }, 3*time.Second, 10*time.Millisecond)

	in <- packetWith(3)
	assert.Eventually(t, func() bool { return len(in) == 0 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("writer did not stop")
	}
	assert.Equal(t, 5, sink.rows())
	assert.True(t, sink.closed)
}

func TestParseOptions(t *testing.T) {
	o, err := parseOptions(model.Options{"host": "ch.internal", "batch_size": 500, "flush_interval": "2s"})
	require.NoError(t, err)
	assert.Equal(t, "ch.internal", o.ClickHouse.Host)
	assert.Equal(t, 9000, o.ClickHouse.Port)
	assert.Equal(t, DefaultTable, o.ClickHouse.Table)
	assert.Equal(t, 500, o.BatchSize)
	assert.Equal(t, 2*time.Second, o.FlushInterval)

	_, err = parseOptions(model.Options{"batch_size": 0})
	assert.Error(t, err)
}
