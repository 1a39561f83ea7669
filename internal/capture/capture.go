// Package capture manages tcpdump processes recording traffic on the
// interfaces of emulated nodes. At most one process runs per node/interface
// pair and every process lives in its own process group so that stopping it
// also stops anything it spawned.
package capture

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	// DefaultTool is the capture program.
	DefaultTool = "tcpdump"
	// DefaultStopGrace is how long a capture may take to exit after SIGTERM.
	DefaultStopGrace = 3 * time.Second
	// FileTimestamp is the layout of the timestamp in capture file names.
	FileTimestamp = "20060102_150405"

	maxInterfaceNameLen = 255
)

// ErrInvalidInterface is returned for interface names that are not safe to
// pass to the capture command.
var ErrInvalidInterface = errors.New("invalid interface")

var interfaceNamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// ValidateInterfaceName rejects empty, overlong and shell-unsafe names.
func ValidateInterfaceName(name string) error {
	if name == "" {
		return fmt.Errorf("interface name cannot be empty")
	}
	if len(name) > maxInterfaceNameLen {
		return fmt.Errorf("interface name too long: %d characters", len(name))
	}
	if !interfaceNamePattern.MatchString(name) {
		return fmt.Errorf("interface name contains invalid characters")
	}
	return nil
}

// Config holds the settings shared by every capture of a Manager.
type Config struct {
	// OutputDir receives the capture files
	OutputDir string
	// Tool is the capture executable, tcpdump by default
	Tool string
	// Filter is an optional BPF expression appended to the command
	Filter string
	// SnapLen limits captured bytes per packet; 0 keeps the tool default
	SnapLen   int
	StopGrace time.Duration
	// Summarize logs packet statistics of each file after its capture stops
	Summarize bool
}

// Node is an emulated host whose interfaces can be captured. Nodes with a
// Namespace run the capture inside that network namespace.
type Node struct {
	Name       string
	Namespace  string
	Interfaces []string
}

func (n Node) String() string {
	if n.Namespace != "" {
		return n.Name + "@" + n.Namespace
	}
	return n.Name
}

// ParseNode parses "name[@netns][:iface,iface...]".
func ParseNode(spec string) (Node, error) {
	spec = strings.TrimSpace(spec)
	head, ifaces, hasIfaces := strings.Cut(spec, ":")
	name, ns, _ := strings.Cut(head, "@")
	n := Node{Name: strings.TrimSpace(name), Namespace: strings.TrimSpace(ns)}
	if n.Name == "" {
		return Node{}, fmt.Errorf("node spec %q: empty node name", spec)
	}
	if err := ValidateInterfaceName(n.Name); err != nil {
		return Node{}, fmt.Errorf("node spec %q: node name: %w", spec, err)
	}
	if n.Namespace != "" {
		if err := ValidateInterfaceName(n.Namespace); err != nil {
			return Node{}, fmt.Errorf("node spec %q: namespace: %w", spec, err)
		}
	}
	if hasIfaces {
		for _, iface := range strings.Split(ifaces, ",") {
			iface = strings.TrimSpace(iface)
			if iface == "" {
				continue
			}
			if err := ValidateInterfaceName(iface); err != nil {
				return Node{}, fmt.Errorf("%w '%s': %v", ErrInvalidInterface, iface, err)
			}
			n.Interfaces = append(n.Interfaces, iface)
		}
	}
	return n, nil
}

// Key identifies one capture session.
type Key struct {
	Node      string
	Interface string
}

// SessionInfo is a snapshot of a running capture.
type SessionInfo struct {
	Node      string
	Interface string
	File      string
	PID       int
	Started   time.Time
}
