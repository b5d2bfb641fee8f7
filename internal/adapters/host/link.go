package host

import (
	"fmt"
	"net"
	"os"
	"slices"
	"strings"

	psnet "github.com/shirou/gopsutil/v3/net"

	"github.com/LeonardoBeccarini/sdcc_node/internal/ports"
)

// InterfaceLink reports a host network interface as the station link. The OS
// owns association, so Connect only checks the interface exists; Activate and
// Deactivate gate whether the node treats the link as usable.
type InterfaceLink struct {
	Name       string
	ResolvConf string

	list   func() (psnet.InterfaceStatList, error)
	active bool
}

func NewInterfaceLink(name string) *InterfaceLink {
	return &InterfaceLink{Name: name, ResolvConf: "/etc/resolv.conf", list: psnet.Interfaces}
}

func (l *InterfaceLink) find() (psnet.InterfaceStat, error) {
	ifs, err := l.list()
	if err != nil {
		return psnet.InterfaceStat{}, fmt.Errorf("list interfaces: %w", err)
	}
	for _, i := range ifs {
		if i.Name == l.Name {
			return i, nil
		}
	}
	return psnet.InterfaceStat{}, fmt.Errorf("interface %s not found", l.Name)
}

func (l *InterfaceLink) Activate() error   { l.active = true; return nil }
func (l *InterfaceLink) Deactivate() error { l.active = false; return nil }
func (l *InterfaceLink) Disconnect() error { return nil }

func (l *InterfaceLink) Connect(_, _ string) error {
	_, err := l.find()
	return err
}

func (l *InterfaceLink) IsConnected() bool {
	if !l.active {
		return false
	}
	i, err := l.find()
	if err != nil {
		return false
	}
	return slices.Contains(i.Flags, "up") && len(i.Addrs) > 0
}

func (l *InterfaceLink) IfConfig() (ports.IfConfig, error) {
	i, err := l.find()
	if err != nil {
		return ports.IfConfig{}, err
	}
	for _, a := range i.Addrs {
		ip, ipnet, err := net.ParseCIDR(a.Addr)
		if err != nil || ip.To4() == nil {
			continue
		}
		return ports.IfConfig{
			IP:      ip.String(),
			Netmask: net.IP(ipnet.Mask).String(),
			DNS:     l.nameserver(),
		}, nil
	}
	return ports.IfConfig{}, fmt.Errorf("interface %s has no IPv4 address", l.Name)
}

func (l *InterfaceLink) nameserver() string {
	raw, err := os.ReadFile(l.ResolvConf)
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(raw), "\n") {
		f := strings.Fields(line)
		if len(f) >= 2 && f[0] == "nameserver" {
			return f[1]
		}
	}
	return ""
}
