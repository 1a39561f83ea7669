package capture

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
)

// hostInterfaces lists the non-loopback interfaces of the local host.
func hostInterfaces() ([]string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}
	var names []string
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		names = append(names, iface.Name)
	}
	return names, nil
}

// namespaceInterfaces lists the non-loopback interfaces inside a network
// namespace using `ip -o link show`.
func namespaceInterfaces(ctx context.Context, ns string) ([]string, error) {
	out, err := commandContext(ctx, "ip", "netns", "exec", ns, "ip", "-o", "link", "show").Output()
	if err != nil {
		return nil, fmt.Errorf("list interfaces in netns %s: %w", ns, err)
	}
	return parseLinkShow(string(out)), nil
}

// parseLinkShow extracts interface names from `ip -o link show` output, e.g.
// "2: s1-eth0@if5: <BROADCAST,MULTICAST,UP> mtu 1500 ...".
func parseLinkShow(out string) []string {
	var names []string
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		fields := strings.SplitN(sc.Text(), ":", 3)
		if len(fields) < 3 {
			continue
		}
		name := strings.TrimSpace(fields[1])
		name, _, _ = strings.Cut(name, "@")
		if name == "" || name == "lo" {
			continue
		}
		if strings.Contains(fields[2], "LOOPBACK") {
			continue
		}
		names = append(names, name)
	}
	return names
}
