// nfgen generates synthetic NetFlow v5 export traffic, either sent over UDP
// to a running analyzer or written into a pcap file for nf-replay.
package main

import (
	"flag"
	"log"
	"math/rand"
	"net"
	"net/netip"
	"os"
	"time"

	"NetflowAnalyzer/internal/engine/protocol"
	"NetflowAnalyzer/internal/model"
	"NetflowAnalyzer/pkg/pcap"
)

func main() {
	target := flag.String("target", "127.0.0.1:9996", "Collector address")
	outputFile := flag.String("o", "", "Write a pcap file instead of sending")
	packetCount := flag.Int("c", 1000, "Number of export packets to generate")
	flood := flag.String("flood", "", "Destination address to flood with small flows from many sources")
	floodSources := flag.Int("sources", 200, "Distinct sources used by -flood")
	rate := flag.Duration("interval", time.Millisecond, "Delay between datagrams when sending")
	flag.Parse()

	dst, err := net.ResolveUDPAddr("udp", *target)
	if err != nil {
		log.Fatalf("Invalid target: %v", err)
	}

	var floodAddr uint32
	if *flood != "" {
		addr, err := netip.ParseAddr(*flood)
		if err != nil || !addr.Is4() {
			log.Fatalf("Invalid -flood address %q", *flood)
		}
		floodAddr = model.AddrToUint32(addr)
	}

	emit, closeFn := sender(dst, *outputFile)
	defer closeFn()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	start := time.Now()
	log.Printf("Generating %d export packets...", *packetCount)

	for seq := 0; seq < *packetCount; seq++ {
		now := time.Now()
		pkt := model.FlowPacket{
			SysUptime: uint32(now.Sub(start).Milliseconds()) + 3600000,
			UnixSecs:  uint32(now.Unix()),
			UnixNsecs: uint32(now.Nanosecond()),
			Sequence:  uint32(seq * protocol.MaxV5Records),
		}
		for i := 0; i < protocol.MaxV5Records; i++ {
			if floodAddr != 0 {
				pkt.Records = append(pkt.Records, floodRecord(rng, floodAddr, *floodSources, pkt.SysUptime))
			} else {
				pkt.Records = append(pkt.Records, randomRecord(rng, pkt.SysUptime))
			}
		}

		data, err := protocol.Encode(pkt)
		if err != nil {
			log.Fatalf("Failed to encode packet: %v", err)
		}
		if err := emit(now, data); err != nil {
			log.Fatalf("Failed to emit packet %d: %v", seq, err)
		}
		if *outputFile == "" && *rate > 0 {
			time.Sleep(*rate)
		}
	}
	log.Printf("Done: %d packets, %d flows", *packetCount, *packetCount*protocol.MaxV5Records)
}

// sender returns the function that emits one datagram and the cleanup func.
func sender(dst *net.UDPAddr, outputFile string) (func(time.Time, []byte) error, func()) {
	if outputFile == "" {
		conn, err := net.DialUDP("udp", nil, dst)
		if err != nil {
			log.Fatalf("Failed to dial %s: %v", dst, err)
		}
		return func(_ time.Time, data []byte) error {
			_, err := conn.Write(data)
			return err
		}, func() { conn.Close() }
	}

	f, err := os.Create(outputFile)
	if err != nil {
		log.Fatalf("Failed to create output file: %v", err)
	}
	w, err := pcap.NewWriter(f)
	if err != nil {
		log.Fatalf("Failed to create pcap writer: %v", err)
	}
	exporter := &net.UDPAddr{IP: net.IPv4(192, 0, 2, 1), Port: 40000}
	return func(ts time.Time, data []byte) error {
		return w.WriteDatagram(ts, exporter, dst, data)
	}, func() { f.Close() }
}

func randomRecord(rng *rand.Rand, uptime uint32) model.FlowRecord {
	packets := uint32(rng.Intn(1000) + 1)
	proto := model.ProtoTCP
	if rng.Intn(3) == 0 {
		proto = model.ProtoUDP
	}
	wellKnown := []uint16{22, 53, 80, 123, 443, 8080}
	return model.FlowRecord{
		SrcAddr:  0x0a000000 | uint32(rng.Intn(1<<16)),
		DstAddr:  0xc0a80000 | uint32(rng.Intn(1<<8)),
		Packets:  packets,
		Bytes:    packets * uint32(rng.Intn(1400)+40),
		First:    uptime - uint32(rng.Intn(60000)),
		Last:     uptime,
		SrcPort:  uint16(rng.Intn(65535-1024) + 1024),
		DstPort:  wellKnown[rng.Intn(len(wellKnown))],
		Protocol: proto,
		SrcMask:  16,
		DstMask:  24,
	}
}

func floodRecord(rng *rand.Rand, dst uint32, sources int, uptime uint32) model.FlowRecord {
	packets := uint32(rng.Intn(50) + 20)
	return model.FlowRecord{
		SrcAddr:  0x64400000 | uint32(rng.Intn(sources)),
		DstAddr:  dst,
		Packets:  packets,
		Bytes:    packets * 60,
		First:    uptime - 1000,
		Last:     uptime,
		SrcPort:  uint16(rng.Intn(65535-1024) + 1024),
		DstPort:  80,
		TCPFlags: 0x02,
		Protocol: model.ProtoTCP,
	}
}
