package capture

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcapgo"
)

// PacketStats summarizes a finished capture file.
type PacketStats struct {
	TotalPackets   uint64
	TotalBytes     uint64
	ProtocolCounts map[string]uint64
	First          time.Time
	Last           time.Time
}

func (s PacketStats) String() string {
	protos := make([]string, 0, len(s.ProtocolCounts))
	for name, n := range s.ProtocolCounts {
		protos = append(protos, fmt.Sprintf("%s=%d", name, n))
	}
	sort.Strings(protos)
	return fmt.Sprintf("packets=%d bytes=%d span=%s protocols=[%s]",
		s.TotalPackets, s.TotalBytes, s.Last.Sub(s.First), strings.Join(protos, " "))
}

// Summarize reads a pcap or pcapng file and counts packets, bytes and the
// layer types seen.
func Summarize(path string) (*PacketStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open capture file: %w", err)
	}
	defer f.Close()

	var source *gopacket.PacketSource
	if ng, err := pcapgo.NewNgReader(f, pcapgo.DefaultNgReaderOptions); err == nil {
		source = gopacket.NewPacketSource(ng, ng.LinkType())
	} else {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("rewind capture file: %w", err)
		}
		r, err := pcapgo.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("read pcap header: %w", err)
		}
		source = gopacket.NewPacketSource(r, r.LinkType())
	}

	stats := &PacketStats{ProtocolCounts: make(map[string]uint64)}
	for packet := range source.Packets() {
		stats.TotalPackets++
		stats.TotalBytes += uint64(len(packet.Data()))
		ts := packet.Metadata().Timestamp
		if stats.First.IsZero() || ts.Before(stats.First) {
			stats.First = ts
		}
		if ts.After(stats.Last) {
			stats.Last = ts
		}
		for _, layer := range packet.Layers() {
			stats.ProtocolCounts[layer.LayerType().String()]++
		}
	}
	return stats, nil
}
