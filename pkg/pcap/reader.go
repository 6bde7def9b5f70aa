// Package pcap reads and writes captures of NetFlow export traffic.
package pcap

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// Datagram is one UDP payload found in a capture.
type Datagram struct {
	Timestamp time.Time
	Src       *net.UDPAddr
	Dst       *net.UDPAddr
	Payload   []byte
}

// Reader reads UDP datagrams from a pcap file.
type Reader struct {
	file    io.Closer
	source  *gopacket.PacketSource
	dstPort uint16
}

// NewReader creates a new pcap reader for the given file path. A non-zero
// dstPort keeps only datagrams sent to that port.
func NewReader(filePath string, dstPort uint16) (*Reader, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	r, err := newReader(f, dstPort)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read pcap header of %s: %w", filePath, err)
	}
	r.file = f
	return r, nil
}

func newReader(in io.Reader, dstPort uint16) (*Reader, error) {
	pr, err := pcapgo.NewReader(in)
	if err != nil {
		return nil, err
	}
	source := gopacket.NewPacketSource(pr, pr.LinkType())
	source.DecodeOptions = gopacket.DecodeOptions{Lazy: true}
	return &Reader{source: source, dstPort: dstPort}, nil
}

// Close closes the underlying file.
func (r *Reader) Close() {
	if r.file != nil {
		r.file.Close()
	}
}

// Next returns the next matching datagram, or io.EOF at the end of the capture.
// Frames that are not UDP are skipped.
func (r *Reader) Next() (Datagram, error) {
	for {
		packet, err := r.source.NextPacket()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return Datagram{}, io.EOF
			}
			return Datagram{}, err
		}

		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp := udpLayer.(*layers.UDP)
		if r.dstPort != 0 && uint16(udp.DstPort) != r.dstPort {
			continue
		}

		var srcIP, dstIP net.IP
		switch ip := packet.NetworkLayer().(type) {
		case *layers.IPv4:
			srcIP, dstIP = ip.SrcIP, ip.DstIP
		case *layers.IPv6:
			srcIP, dstIP = ip.SrcIP, ip.DstIP
		}

		payload := make([]byte, len(udp.Payload))
		copy(payload, udp.Payload)
		return Datagram{
			Timestamp: packet.Metadata().Timestamp,
			Src:       &net.UDPAddr{IP: srcIP, Port: int(udp.SrcPort)},
			Dst:       &net.UDPAddr{IP: dstIP, Port: int(udp.DstPort)},
			Payload:   payload,
		}, nil
	}
}

// ReadDatagrams reads all matching datagrams and sends them to out. It
// closes out when done and returns the first read error other than EOF.
func (r *Reader) ReadDatagrams(out chan<- Datagram) error {
	defer close(out)
	for {
		d, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		out <- d
	}
}
