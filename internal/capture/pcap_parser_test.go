package capture

import (
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// writeTestPcap writes n Ethernet/IPv4/UDP packets to a new pcap file.
func writeTestPcap(t *testing.T, n int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "s1_s1-eth0_20250101_000000.pcap")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(65535, layers.LinkTypeEthernet); err != nil {
		t.Fatal(err)
	}
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		eth := &layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0, 0, 0, 0, 0, 1},
			DstMAC:       net.HardwareAddr{0, 0, 0, 0, 0, 2},
			EthernetType: layers.EthernetTypeIPv4,
		}
		ip := &layers.IPv4{
			Version:  4,
			TTL:      64,
			Protocol: layers.IPProtocolUDP,
			SrcIP:    net.IPv4(10, 0, 0, 1),
			DstIP:    net.IPv4(10, 0, 0, 2),
		}
		udp := &layers.UDP{SrcPort: 40000, DstPort: 4222}
		if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
			t.Fatal(err)
		}
		buf := gopacket.NewSerializeBuffer()
		opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
		payload := gopacket.Payload([]byte("ecg_monitor:72.50bpm:Class=1"))
		if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, payload); err != nil {
			t.Fatal(err)
		}
		data := buf.Bytes()
		ci := gopacket.CaptureInfo{
			Timestamp:     start.Add(time.Duration(i) * time.Second),
			CaptureLength: len(data),
			Length:        len(data),
		}
		if err := w.WritePacket(ci, data); err != nil {
			t.Fatal(err)
		}
	}
	return path
}

func TestSummarize(t *testing.T) {
	path := writeTestPcap(t, 5)

	stats, err := Summarize(path)
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}
	if stats.TotalPackets != 5 {
		t.Errorf("TotalPackets = %d, want 5", stats.TotalPackets)
	}
	if stats.TotalBytes == 0 {
		t.Error("expected non-zero byte count")
	}
	for _, proto := range []string{"Ethernet", "IPv4", "UDP"} {
		if stats.ProtocolCounts[proto] != 5 {
			t.Errorf("ProtocolCounts[%s] = %d, want 5", proto, stats.ProtocolCounts[proto])
		}
	}
	if got := stats.Last.Sub(stats.First); got != 4*time.Second {
		t.Errorf("span = %s, want 4s", got)
	}
	if s := stats.String(); !strings.Contains(s, "packets=5") {
		t.Errorf("String() = %q", s)
	}
}

func TestSummarize_Errors(t *testing.T) {
	if _, err := Summarize(filepath.Join(t.TempDir(), "missing.pcap")); err == nil {
		t.Error("expected error for missing file")
	}

	garbage := filepath.Join(t.TempDir(), "garbage.pcap")
	if err := os.WriteFile(garbage, []byte("not a capture file at all"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Summarize(garbage); err == nil {
		t.Error("expected error for non-pcap file")
	}
}
