// Package metadata describes the host an experiment ran on.
package metadata

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"os"
	"os/exec"
	"runtime"
	"sort"
	"strings"

	"github.com/google/uuid"

	"EnigmaNetz/Enigma-Traffic-Lab/internal/version"
)

// maxHostIPs caps the addresses recorded per host.
const maxHostIPs = 10

// Host identifies the machine that generated a run.
type Host struct {
	MachineID    string   `json:"machine_id"`
	Hostname     string   `json:"hostname,omitempty"`
	OSName       string   `json:"os_name"`
	OSVersion    string   `json:"os_version"`
	Architecture string   `json:"architecture"`
	ToolVersion  string   `json:"tool_version"`
	HostIPs      []string `json:"host_ips,omitempty"`
}

// NewRunID returns a fresh identifier for one experiment run.
func NewRunID() string {
	return uuid.New().String()
}

// CollectHost gathers facts about the local host. The addresses of
// preferredIface are listed first when it exists.
func CollectHost(preferredIface string) Host {
	h := Host{
		MachineID:    machineID(),
		OSName:       runtime.GOOS,
		OSVersion:    osVersion(),
		Architecture: runtime.GOARCH,
		ToolVersion:  version.Version,
		HostIPs:      hostIPAddresses(preferredIface),
	}
	if hn, err := os.Hostname(); err == nil {
		h.Hostname = hn
	}
	return h
}

// hostIPAddresses returns private IPv4 addresses of up, non-loopback
// interfaces, those of preferredIface first.
func hostIPAddresses(preferredIface string) []string {
	interfaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	sort.SliceStable(interfaces, func(i, j int) bool {
		return interfaces[i].Name == preferredIface && interfaces[j].Name != preferredIface
	})

	var ips []string
	seen := make(map[string]bool)
	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, _ := iface.Addrs()
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip := ipnet.IP.To4()
			if ip == nil || !ip.IsPrivate() || seen[ip.String()] {
				continue
			}
			seen[ip.String()] = true
			ips = append(ips, ip.String())
			if len(ips) >= maxHostIPs {
				return ips
			}
		}
	}
	return ips
}

// machineID is the SHA-256 of the primary MAC address.
func machineID() string {
	mac := primaryMACAddress()
	if mac == "" {
		mac = "unknown-device"
	}
	sum := sha256.Sum256([]byte(mac))
	return hex.EncodeToString(sum[:])
}

func primaryMACAddress() string {
	interfaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	sort.Slice(interfaces, func(i, j int) bool {
		return interfaces[i].Name < interfaces[j].Name
	})

	// physical ethernet, then wifi, then anything with a MAC
	for _, prefix := range []string{"eth", "en", "wlan", "wl", ""} {
		for _, iface := range interfaces {
			if strings.HasPrefix(iface.Name, prefix) &&
				iface.Flags&net.FlagLoopback == 0 &&
				len(iface.HardwareAddr) > 0 {
				return iface.HardwareAddr.String()
			}
		}
	}
	return ""
}

func osVersion() string {
	switch runtime.GOOS {
	case "linux":
		return linuxVersion("/etc/os-release")
	case "darwin":
		out, err := exec.Command("sw_vers", "-productVersion").Output()
		if err != nil {
			return "macOS"
		}
		return "macOS " + strings.TrimSpace(string(out))
	default:
		return runtime.GOOS
	}
}

// linuxVersion reads NAME and VERSION from an os-release file.
func linuxVersion(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return "Linux"
	}
	defer f.Close()

	var name, ver string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if v, ok := strings.CutPrefix(line, "NAME="); ok {
			name = strings.Trim(v, `"`)
		} else if v, ok := strings.CutPrefix(line, "VERSION="); ok {
			ver = strings.Trim(v, `"`)
		}
	}
	switch {
	case name != "" && ver != "":
		return name + " " + ver
	case name != "":
		return name
	default:
		return "Linux"
	}
}
