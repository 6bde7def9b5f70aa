package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"NetflowAnalyzer/internal/model"
)

// NetFlow v5 layout. See https://netflow.caligare.com/netflow_v5.htm.
const (
	Version5       = 5
	HeaderSize     = 24
	RecordSize     = 48
	MaxV5Records   = 30 // what exporters put in one datagram; not enforced on decode
	MaxDatagramLen = 65535
)

var (
	// ErrShortPacket is returned when the datagram cannot hold a header.
	ErrShortPacket = errors.New("packet shorter than netflow v5 header")
	// ErrUnsupportedVersion is returned for any version other than 5.
	ErrUnsupportedVersion = errors.New("unsupported netflow version")
	// ErrMalformedPacket is returned when the declared flow count does not
	// match the datagram length.
	ErrMalformedPacket = errors.New("malformed netflow packet")
)

// DecodeError carries the header values that made a datagram invalid.
type DecodeError struct {
	Err     error
	Version uint16
	Count   uint16
	Length  int
}

func (e *DecodeError) Error() string {
	switch e.Err {
	case ErrUnsupportedVersion:
		return fmt.Sprintf("%v: %d", e.Err, e.Version)
	case ErrMalformedPacket:
		return fmt.Sprintf("%v: header declares %d flows (%d bytes), datagram has %d bytes",
			e.Err, e.Count, HeaderSize+int(e.Count)*RecordSize, e.Length)
	default:
		return fmt.Sprintf("%v: %d bytes", e.Err, e.Length)
	}
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Reason returns a short label suitable for metrics.
func (e *DecodeError) Reason() string {
	switch e.Err {
	case ErrShortPacket:
		return "short"
	case ErrUnsupportedVersion:
		return "version"
	case ErrMalformedPacket:
		return "length"
	default:
		return "unknown"
	}
}

// Decode parses one NetFlow v5 datagram. A datagram whose length does not
// equal header + count*record is rejected as a whole; no partial prefix is
// returned. Decode does not retain data.
func Decode(data []byte) (model.FlowPacket, error) {
	if len(data) < HeaderSize {
		return model.FlowPacket{}, &DecodeError{Err: ErrShortPacket, Length: len(data)}
	}

	be := binary.BigEndian
	version := be.Uint16(data[0:2])
	if version != Version5 {
		return model.FlowPacket{}, &DecodeError{Err: ErrUnsupportedVersion, Version: version, Length: len(data)}
	}

	count := be.Uint16(data[2:4])
	if len(data) != HeaderSize+int(count)*RecordSize {
		return model.FlowPacket{}, &DecodeError{Err: ErrMalformedPacket, Version: version, Count: count, Length: len(data)}
	}

	pkt := model.FlowPacket{
		Version:   version,
		Count:     count,
		SysUptime: be.Uint32(data[4:8]),
		UnixSecs:  be.Uint32(data[8:12]),
		UnixNsecs: be.Uint32(data[12:16]),
		Sequence:  be.Uint32(data[16:20]),
		Records:   make([]model.FlowRecord, count),
	}

	for i := range pkt.Records {
		decodeRecord(data[HeaderSize+i*RecordSize:HeaderSize+(i+1)*RecordSize], &pkt.Records[i])
	}
	return pkt, nil
}

func decodeRecord(b []byte, r *model.FlowRecord) {
	be := binary.BigEndian
	r.SrcAddr = be.Uint32(b[0:4])
	r.DstAddr = be.Uint32(b[4:8])
	r.NextHop = be.Uint32(b[8:12])
	r.Input = be.Uint16(b[12:14])
	r.Output = be.Uint16(b[14:16])
	r.Packets = be.Uint32(b[16:20])
	r.Bytes = be.Uint32(b[20:24])
	r.First = be.Uint32(b[24:28])
	r.Last = be.Uint32(b[28:32])
	r.SrcPort = be.Uint16(b[32:34])
	r.DstPort = be.Uint16(b[34:36])
	// b[36] pad1
	r.TCPFlags = b[37]
	r.Protocol = b[38]
	r.ToS = b[39]
	r.SrcAS = be.Uint16(b[40:42])
	r.DstAS = be.Uint16(b[42:44])
	r.SrcMask = b[44]
	r.DstMask = b[45]
	// b[46:48] pad2
}

// Encode serializes pkt as a NetFlow v5 datagram. The header count is taken
// from len(pkt.Records) and the version is always 5.
func Encode(pkt model.FlowPacket) ([]byte, error) {
	if len(pkt.Records) > math.MaxUint16 {
		return nil, fmt.Errorf("too many records for one datagram: %d", len(pkt.Records))
	}
	buf := make([]byte, HeaderSize+len(pkt.Records)*RecordSize)

	be := binary.BigEndian
	be.PutUint16(buf[0:2], Version5)
	be.PutUint16(buf[2:4], uint16(len(pkt.Records)))
	be.PutUint32(buf[4:8], pkt.SysUptime)
	be.PutUint32(buf[8:12], pkt.UnixSecs)
	be.PutUint32(buf[12:16], pkt.UnixNsecs)
	be.PutUint32(buf[16:20], pkt.Sequence)

	for i, r := range pkt.Records {
		b := buf[HeaderSize+i*RecordSize : HeaderSize+(i+1)*RecordSize]
		be.PutUint32(b[0:4], r.SrcAddr)
		be.PutUint32(b[4:8], r.DstAddr)
		be.PutUint32(b[8:12], r.NextHop)
		be.PutUint16(b[12:14], r.Input)
		be.PutUint16(b[14:16], r.Output)
		be.PutUint32(b[16:20], r.Packets)
		be.PutUint32(b[20:24], r.Bytes)
		be.PutUint32(b[24:28], r.First)
		be.PutUint32(b[28:32], r.Last)
		be.PutUint16(b[32:34], r.SrcPort)
		be.PutUint16(b[34:36], r.DstPort)
		b[37] = r.TCPFlags
		b[38] = r.Protocol
		b[39] = r.ToS
		be.PutUint16(b[40:42], r.SrcAS)
		be.PutUint16(b[42:44], r.DstAS)
		b[44] = r.SrcMask
		b[45] = r.DstMask
	}
	return buf, nil
}
