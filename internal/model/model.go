package model

import (
	"fmt"
	"net/netip"
	"time"
)

// IP protocol numbers the analysis modules care about.
const (
	ProtoICMP uint8 = 1
	ProtoTCP  uint8 = 6
	ProtoUDP  uint8 = 17
)

// FlowRecord is one NetFlow v5 flow observation. Addresses are kept as the
// 32-bit values read from the wire (network byte order decoded to host integers).
type FlowRecord struct {
	SrcAddr  uint32
	DstAddr  uint32
	NextHop  uint32
	Input    uint16
	Output   uint16
	Packets  uint32
	Bytes    uint32
	First    uint32 // sysuptime at flow start, ms
	Last     uint32 // sysuptime at flow end, ms
	SrcPort  uint16
	DstPort  uint16
	TCPFlags uint8
	Protocol uint8
	ToS      uint8
	SrcAS    uint16
	DstAS    uint16
	SrcMask  uint8
	DstMask  uint8
}

// SrcIP returns the source address as a netip.Addr.
func (r FlowRecord) SrcIP() netip.Addr { return AddrFromUint32(r.SrcAddr) }

// DstIP returns the destination address as a netip.Addr.
func (r FlowRecord) DstIP() netip.Addr { return AddrFromUint32(r.DstAddr) }

// String renders the record as a one-line 5-tuple summary.
func (r FlowRecord) String() string {
	return fmt.Sprintf("%s:%d -> %s:%d proto=%d packets=%d bytes=%d",
		r.SrcIP(), r.SrcPort, r.DstIP(), r.DstPort, r.Protocol, r.Packets, r.Bytes)
}

// FlowPacket holds one decoded export datagram. Records are kept in wire order.
type FlowPacket struct {
	Version   uint16
	Count     uint16
	SysUptime uint32
	UnixSecs  uint32
	UnixNsecs uint32
	Sequence  uint32
	Records   []FlowRecord
}

// ExportTime returns the exporter's wall-clock timestamp from the header.
func (p FlowPacket) ExportTime() time.Time {
	return time.Unix(int64(p.UnixSecs), int64(p.UnixNsecs)).UTC()
}

// Clone returns a copy that shares no memory with p. Every module receives
// its own clone so no module can observe another's mutation.
func (p FlowPacket) Clone() FlowPacket {
	c := p
	if p.Records != nil {
		c.Records = make([]FlowRecord, len(p.Records))
		copy(c.Records, p.Records)
	}
	return c
}

// AddrFromUint32 converts a host-order IPv4 value to a netip.Addr.
func AddrFromUint32(v uint32) netip.Addr {
	return netip.AddrFrom4([4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
}

// AddrToUint32 converts an IPv4 netip.Addr to its host-order value.
// Non-IPv4 addresses yield 0.
func AddrToUint32(a netip.Addr) uint32 {
	if !a.Is4() {
		return 0
	}
	b := a.As4()
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
