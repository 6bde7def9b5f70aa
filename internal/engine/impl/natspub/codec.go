package natspub

import (
	"fmt"

	"NetflowAnalyzer/internal/model"

	"google.golang.org/protobuf/encoding/protowire"
)

// Wire schema of a published packet, in proto3 terms:
//
//	message FlowPacket {
//	  uint32 version = 1;  uint32 count = 2;     uint32 sys_uptime = 3;
//	  uint32 unix_secs = 4; uint32 unix_nsecs = 5; uint32 sequence = 6;
//	  repeated FlowRecord records = 7;
//	}
//	message FlowRecord {
//	  fixed32 src_addr = 1; fixed32 dst_addr = 2; fixed32 next_hop = 3;
//	  uint32 input = 4;     uint32 output = 5;    uint32 packets = 6;
//	  uint32 bytes = 7;     uint32 first = 8;     uint32 last = 9;
//	  uint32 src_port = 10; uint32 dst_port = 11; uint32 tcp_flags = 12;
//	  uint32 protocol = 13; uint32 tos = 14;      uint32 src_as = 15;
//	  uint32 dst_as = 16;   uint32 src_mask = 17; uint32 dst_mask = 18;
//	}
const (
	fieldVersion   protowire.Number = 1
	fieldCount     protowire.Number = 2
	fieldSysUptime protowire.Number = 3
	fieldUnixSecs  protowire.Number = 4
	fieldUnixNsecs protowire.Number = 5
	fieldSequence  protowire.Number = 6
	fieldRecords   protowire.Number = 7
)

// MarshalPacket encodes pkt in the protobuf wire format above.
func MarshalPacket(pkt model.FlowPacket) []byte {
	b := make([]byte, 0, 32+len(pkt.Records)*64)
	b = appendUint(b, fieldVersion, uint64(pkt.Version))
	b = appendUint(b, fieldCount, uint64(pkt.Count))
	b = appendUint(b, fieldSysUptime, uint64(pkt.SysUptime))
	b = appendUint(b, fieldUnixSecs, uint64(pkt.UnixSecs))
	b = appendUint(b, fieldUnixNsecs, uint64(pkt.UnixNsecs))
	b = appendUint(b, fieldSequence, uint64(pkt.Sequence))

	var rec []byte
	for _, r := range pkt.Records {
		rec = marshalRecord(rec[:0], r)
		b = protowire.AppendTag(b, fieldRecords, protowire.BytesType)
		b = protowire.AppendBytes(b, rec)
	}
	return b
}

func marshalRecord(b []byte, r model.FlowRecord) []byte {
	b = appendFixed(b, 1, r.SrcAddr)
	b = appendFixed(b, 2, r.DstAddr)
	b = appendFixed(b, 3, r.NextHop)
	b = appendUint(b, 4, uint64(r.Input))
	b = appendUint(b, 5, uint64(r.Output))
	b = appendUint(b, 6, uint64(r.Packets))
	b = appendUint(b, 7, uint64(r.Bytes))
	b = appendUint(b, 8, uint64(r.First))
	b = appendUint(b, 9, uint64(r.Last))
	b = appendUint(b, 10, uint64(r.SrcPort))
	b = appendUint(b, 11, uint64(r.DstPort))
	b = appendUint(b, 12, uint64(r.TCPFlags))
	b = appendUint(b, 13, uint64(r.Protocol))
	b = appendUint(b, 14, uint64(r.ToS))
	b = appendUint(b, 15, uint64(r.SrcAS))
	b = appendUint(b, 16, uint64(r.DstAS))
	b = appendUint(b, 17, uint64(r.SrcMask))
	b = appendUint(b, 18, uint64(r.DstMask))
	return b
}

// proto3 omits zero scalars.
func appendUint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendFixed(b []byte, num protowire.Number, v uint32) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed32Type)
	return protowire.AppendFixed32(b, v)
}

// UnmarshalPacket decodes a payload produced by MarshalPacket. Unknown
// fields are skipped.
func UnmarshalPacket(b []byte) (model.FlowPacket, error) {
	var pkt model.FlowPacket
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return model.FlowPacket{}, fmt.Errorf("packet tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		if num == fieldRecords && typ == protowire.BytesType {
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return model.FlowPacket{}, fmt.Errorf("record %d: %w", len(pkt.Records), protowire.ParseError(n))
			}
			r, err := unmarshalRecord(raw)
			if err != nil {
				return model.FlowPacket{}, fmt.Errorf("record %d: %w", len(pkt.Records), err)
			}
			pkt.Records = append(pkt.Records, r)
			b = b[n:]
			continue
		}

		if typ != protowire.VarintType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return model.FlowPacket{}, fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return model.FlowPacket{}, fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]

		switch num {
		case fieldVersion:
			pkt.Version = uint16(v)
		case fieldCount:
			pkt.Count = uint16(v)
		case fieldSysUptime:
			pkt.SysUptime = uint32(v)
		case fieldUnixSecs:
			pkt.UnixSecs = uint32(v)
		case fieldUnixNsecs:
			pkt.UnixNsecs = uint32(v)
		case fieldSequence:
			pkt.Sequence = uint32(v)
		}
	}
	return pkt, nil
}

func unmarshalRecord(b []byte) (model.FlowRecord, error) {
	var r model.FlowRecord
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return r, protowire.ParseError(n)
		}
		b = b[n:]

		switch typ {
		case protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return r, protowire.ParseError(n)
			}
			b = b[n:]
			switch num {
			case 1:
				r.SrcAddr = v
			case 2:
				r.DstAddr = v
			case 3:
				r.NextHop = v
			}
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return r, protowire.ParseError(n)
			}
			b = b[n:]
			setRecordField(&r, num, v)
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return r, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return r, nil
}

func setRecordField(r *model.FlowRecord, num protowire.Number, v uint64) {
	switch num {
	case 4:
		r.Input = uint16(v)
	case 5:
		r.Output = uint16(v)
	case 6:
		r.Packets = uint32(v)
	case 7:
		r.Bytes = uint32(v)
	case 8:
		r.First = uint32(v)
	case 9:
		r.Last = uint32(v)
	case 10:
		r.SrcPort = uint16(v)
	case 11:
		r.DstPort = uint16(v)
	case 12:
		r.TCPFlags = uint8(v)
	case 13:
		r.Protocol = uint8(v)
	case 14:
		r.ToS = uint8(v)
	case 15:
		r.SrcAS = uint16(v)
	case 16:
		r.DstAS = uint16(v)
	case 17:
		r.SrcMask = uint8(v)
	case 18:
		r.DstMask = uint8(v)
	}
}
