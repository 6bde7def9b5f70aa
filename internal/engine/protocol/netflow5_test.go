package protocol

import (
	"encoding/binary"
	"errors"
	"net/netip"
	"testing"

	"NetflowAnalyzer/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ip(s string) uint32 {
	return model.AddrToUint32(netip.MustParseAddr(s))
}

// rawRecord lays out a 48-byte record by hand so the decoder is checked
// against byte offsets rather than against Encode.
func rawRecord(src, dst string, sport, dport uint16, packets, bytes uint32, proto, flags uint8) []byte {
	b := make([]byte, RecordSize)
	binary.BigEndian.PutUint32(b[0:], ip(src))
	binary.BigEndian.PutUint32(b[4:], ip(dst))
	binary.BigEndian.PutUint32(b[8:], ip("192.0.2.254"))
	binary.BigEndian.PutUint16(b[12:], 3)
	binary.BigEndian.PutUint16(b[14:], 4)
	binary.BigEndian.PutUint32(b[16:], packets)
	binary.BigEndian.PutUint32(b[20:], bytes)
	binary.BigEndian.PutUint32(b[24:], 1000)
	binary.BigEndian.PutUint32(b[28:], 2000)
	binary.BigEndian.PutUint16(b[32:], sport)
	binary.BigEndian.PutUint16(b[34:], dport)
	b[36] = 0xff // pad, must be ignored
	b[37] = flags
	b[38] = proto
	b[39] = 0x10
	binary.BigEndian.PutUint16(b[40:], 64512)
	binary.BigEndian.PutUint16(b[42:], 64513)
	b[44] = 24
	b[45] = 16
	return b
}

func rawHeader(version, count uint16) []byte {
	h := make([]byte, HeaderSize)
	binary.BigEndian.PutUint16(h[0:], version)
	binary.BigEndian.PutUint16(h[2:], count)
	binary.BigEndian.PutUint32(h[4:], 123456)
	binary.BigEndian.PutUint32(h[8:], 1700000000)
	binary.BigEndian.PutUint32(h[12:], 500)
	binary.BigEndian.PutUint32(h[16:], 42)
	return h
}

func samplePacket() []byte {
	data := rawHeader(5, 2)
	data = append(data, rawRecord("10.0.0.1", "10.0.0.2", 1234, 80, 100, 6000, 6, 0x1b)...)
	data = append(data, rawRecord("10.0.0.3", "10.0.0.2", 5555, 80, 50, 3000, 6, 0x02)...)
	return data
}

func TestDecode_SampleScenario(t *testing.T) {
	pkt, err := Decode(samplePacket())
	require.NoError(t, err)

	assert.Equal(t, uint16(5), pkt.Version)
	assert.Equal(t, uint16(2), pkt.Count)
	assert.Equal(t, uint32(123456), pkt.SysUptime)
	assert.Equal(t, uint32(1700000000), pkt.UnixSecs)
	assert.Equal(t, uint32(500), pkt.UnixNsecs)
	assert.Equal(t, uint32(42), pkt.Sequence)
	require.Len(t, pkt.Records, 2)

	first := pkt.Records[0]
	assert.Equal(t, "10.0.0.1", first.SrcIP().String())
	assert.Equal(t, "10.0.0.2", first.DstIP().String())
	assert.Equal(t, "192.0.2.254", model.AddrFromUint32(first.NextHop).String())
	assert.Equal(t, uint16(3), first.Input)
	assert.Equal(t, uint16(4), first.Output)
	assert.Equal(t, uint32(100), first.Packets)
	assert.Equal(t, uint32(6000), first.Bytes)
	assert.Equal(t, uint32(1000), first.First)
	assert.Equal(t, uint32(2000), first.Last)
	assert.Equal(t, uint16(1234), first.SrcPort)
	assert.Equal(t, uint16(80), first.DstPort)
	assert.Equal(t, uint8(0x1b), first.TCPFlags)
	assert.Equal(t, model.ProtoTCP, first.Protocol)
	assert.Equal(t, uint8(0x10), first.ToS)
	assert.Equal(t, uint16(64512), first.SrcAS)
	assert.Equal(t, uint16(64513), first.DstAS)
	assert.Equal(t, uint8(24), first.SrcMask)
	assert.Equal(t, uint8(16), first.DstMask)

	second := pkt.Records[1]
	assert.Equal(t, "10.0.0.3", second.SrcIP().String())
	assert.Equal(t, uint16(5555), second.SrcPort)
	assert.Equal(t, uint32(50), second.Packets)
	assert.Equal(t, uint32(3000), second.Bytes)
	assert.Equal(t, model.ProtoTCP, second.Protocol)
}

func TestDecode_PreservesWireOrder(t *testing.T) {
	data := rawHeader(5, 30)
	for i := 0; i < 30; i++ {
		data = append(data, rawRecord("10.0.0.1", "10.0.0.2", uint16(i), 80, 1, 1, 17, 0)...)
	}

	pkt, err := Decode(data)
	require.NoError(t, err)
	require.Len(t, pkt.Records, 30)
	for i, r := range pkt.Records {
		assert.Equal(t, uint16(i), r.SrcPort)
	}
}

func TestDecode_ZeroFlows(t *testing.T) {
	pkt, err := Decode(rawHeader(5, 0))
	require.NoError(t, err)
	assert.Empty(t, pkt.Records)
}

func TestDecode_Errors(t *testing.T) {
	valid := samplePacket()

	tests := []struct {
		name   string
		data   []byte
		want   error
		reason string
	}{
		{"empty", nil, ErrShortPacket, "short"},
		{"truncated header", valid[:HeaderSize-1], ErrShortPacket, "short"},
		{"version 9", append(rawHeader(9, 2), valid[HeaderSize:]...), ErrUnsupportedVersion, "version"},
		{"version 1", rawHeader(1, 0), ErrUnsupportedVersion, "version"},
		{"missing record", valid[:HeaderSize+RecordSize], ErrMalformedPacket, "length"},
		{"partial record", valid[:len(valid)-1], ErrMalformedPacket, "length"},
		{"trailing bytes", append(append([]byte{}, valid...), 0), ErrMalformedPacket, "length"},
		{"count larger than payload", append(rawHeader(5, 3), valid[HeaderSize:]...), ErrMalformedPacket, "length"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pkt, err := Decode(tt.data)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, pkt.Records, "no partial prefix may be returned")

			var decErr *DecodeError
			require.True(t, errors.As(err, &decErr))
			assert.Equal(t, tt.reason, decErr.Reason())
		})
	}
}

func TestEncode_DecodeMatchesInput(t *testing.T) {
	want := model.FlowPacket{
		SysUptime: 9,
		UnixSecs:  1700000001,
		UnixNsecs: 7,
		Sequence:  1,
		Records: []model.FlowRecord{
			{SrcAddr: ip("172.16.0.1"), DstAddr: ip("172.16.0.2"), SrcPort: 53, DstPort: 40000, Packets: 2, Bytes: 180, Protocol: model.ProtoUDP, SrcMask: 12},
		},
	}

	data, err := Encode(want)
	require.NoError(t, err)
	assert.Len(t, data, HeaderSize+RecordSize)

	got, err := Decode(data)
	require.NoError(t, err)
	want.Version = Version5
	want.Count = 1
	assert.Equal(t, want, got)
}

func TestEncode_MatchesHandLayout(t *testing.T) {
	pkt, err := Decode(samplePacket())
	require.NoError(t, err)

	data, err := Encode(pkt)
	require.NoError(t, err)

	expected := samplePacket()
	// pad bytes are not carried through decode
	expected[HeaderSize+36] = 0
	expected[HeaderSize+RecordSize+36] = 0
	assert.Equal(t, expected, data)
}
