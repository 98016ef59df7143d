package trigger

import (
	"context"
	"fmt"
	"net"
	"path"
	"sort"
	"strings"
	"time"
)

// DefaultMeteredPatterns match interface names that are usually cellular
// or tethered links
var DefaultMeteredPatterns = []string{"wwan*", "rmnet*", "usb*", "ppp*", "enx*"}

// Interface is the subset of an OS network interface the poller compares
type Interface struct {
	Name  string
	Addrs []string
}

// InterfaceLister returns the interfaces that are up with addresses
type InterfaceLister func() ([]Interface, error)

// InterfacePoller emits a network change whenever the set of usable
// interfaces or their addresses differs from the previous poll
type InterfacePoller struct {
	Interval time.Duration
	Metered  []string
	List     InterfaceLister
}

// NewInterfacePoller creates a poller over the host's interfaces
func NewInterfacePoller(interval time.Duration) *InterfacePoller {
	return &InterfacePoller{
		Interval: interval,
		Metered:  DefaultMeteredPatterns,
		List:     SystemInterfaces,
	}
}

// Name implements Source
func (p *InterfacePoller) Name() string {
	return "interfaces"
}

// Run implements Source. The first poll only records the baseline.
func (p *InterfacePoller) Run(ctx context.Context, emit func(Change)) error {
	interval := p.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	previous, err := p.snapshot()
	if err != nil {
		return fmt.Errorf("list interfaces: %w", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			current, err := p.snapshot()
			if err != nil {
				continue
			}
			if changed, ok := diffInterfaces(previous, current); ok {
				emit(Change{
					Kind:      ChangeNetwork,
					Interface: changed,
					Metered:   p.isMetered(changed),
					At:        time.Now(),
				})
			}
			previous = current
		}
	}
}

func (p *InterfacePoller) snapshot() (map[string]string, error) {
	list := p.List
	if list == nil {
		list = SystemInterfaces
	}
	ifaces, err := list()
	if err != nil {
		return nil, err
	}
	snap := make(map[string]string, len(ifaces))
	for _, iface := range ifaces {
		addrs := append([]string(nil), iface.Addrs...)
		sort.Strings(addrs)
		snap[iface.Name] = strings.Join(addrs, ",")
	}
	return snap, nil
}

func (p *InterfacePoller) isMetered(name string) bool {
	for _, pattern := range p.Metered {
		if ok, _ := path.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// diffInterfaces returns the name of a changed interface, preferring one that
// appeared or changed address over one that went away
func diffInterfaces(before, after map[string]string) (string, bool) {
	var appeared, gone []string
	for name, addrs := range after {
		if prev, ok := before[name]; !ok || prev != addrs {
			appeared = append(appeared, name)
		}
	}
	for name := range before {
		if _, ok := after[name]; !ok {
			gone = append(gone, name)
		}
	}
	sort.Strings(appeared)
	sort.Strings(gone)

	if len(appeared) > 0 {
		return appeared[0], true
	}
	if len(gone) > 0 {
		return gone[0], true
	}
	return "", false
}

// Container and VM bridges come and go without affecting the uplink
var virtualPrefixes = []string{"veth", "docker", "br-", "virbr", "cni", "flannel"}

func isVirtual(name string) bool {
	for _, prefix := range virtualPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// SystemInterfaces lists up, non-loopback, non-virtual interfaces that have
// an address
func SystemInterfaces() ([]Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var result []Interface
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if isVirtual(iface.Name) {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil || len(addrs) == 0 {
			continue
		}
		entry := Interface{Name: iface.Name}
		for _, addr := range addrs {
			entry.Addrs = append(entry.Addrs, addr.String())
		}
		result = append(result, entry)
	}
	return result, nil
}
