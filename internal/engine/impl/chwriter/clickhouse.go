package chwriter

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const createFlowsTableStatement = `
CREATE TABLE IF NOT EXISTS %s (
    ExportTime  DateTime,
    FlowStart   DateTime64(3),
    FlowEnd     DateTime64(3),
    Sequence    UInt32,
    SrcAddr     IPv4,
    DstAddr     IPv4,
    NextHop     IPv4,
    InputIf     UInt16,
    OutputIf    UInt16,
    Packets     UInt32,
    Bytes       UInt32,
    SrcPort     UInt16,
    DstPort     UInt16,
    TCPFlags    UInt8,
    Protocol    UInt8,
    ToS         UInt8,
    SrcAS       UInt16,
    DstAS       UInt16,
    SrcMask     UInt8,
    DstMask     UInt8
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(ExportTime)
ORDER BY (DstAddr, ExportTime);
`

// ClickHouseConfig holds the connection settings of the writer.
type ClickHouseConfig struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
	Table    string
}

// clickHouseSink inserts rows into a ClickHouse table.
type clickHouseSink struct {
	conn  driver.Conn
	table string
}

// NewClickHouseSink connects, pings and makes sure the flow table exists.
func NewClickHouseSink(ctx context.Context, cfg ClickHouseConfig) (Sink, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	if err := conn.Exec(ctx, fmt.Sprintf(createFlowsTableStatement, cfg.Table)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create %s table: %w", cfg.Table, err)
	}
	return &clickHouseSink{conn: conn, table: cfg.Table}, nil
}

func (s *clickHouseSink) Insert(ctx context.Context, rows []Row) error {
	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO "+s.table)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	for _, r := range rows {
		if err := batch.Append(
			r.ExportTime, r.FlowStart, r.FlowEnd, r.Sequence,
			r.SrcAddr, r.DstAddr, r.NextHop,
			r.InputIf, r.OutputIf, r.Packets, r.Bytes,
			r.SrcPort, r.DstPort, r.TCPFlags, r.Protocol, r.ToS,
			r.SrcAS, r.DstAS, r.SrcMask, r.DstMask,
		); err != nil {
			batch.Abort()
			return fmt.Errorf("failed to append flow to batch: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

func (s *clickHouseSink) Close() error {
	return s.conn.Close()
}
