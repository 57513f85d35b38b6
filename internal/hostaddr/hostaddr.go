// Package hostaddr lists the local IPv4 addresses a sender can target.
package hostaddr

import (
	"fmt"
	"net"
	"sort"
)

// Addr is one IPv4 address bound to a local interface.
type Addr struct {
	Interface string `json:"interface"`
	IP        string `json:"ip"`
	Loopback  bool   `json:"loopback"`
}

// LocalIPv4 returns the IPv4 addresses of all interfaces that are up,
// non-loopback addresses first.
func LocalIPv4() ([]Addr, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("listing interfaces: %w", err)
	}

	var out []Addr
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		out = append(out, ipv4Of(iface.Name, addrs)...)
	}
	sortAddrs(out)
	return out, nil
}

func ipv4Of(name string, addrs []net.Addr) []Addr {
	var out []Addr
	for _, a := range addrs {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		ip4 := ip.To4()
		if ip4 == nil {
			continue
		}
		out = append(out, Addr{Interface: name, IP: ip4.String(), Loopback: ip4.IsLoopback()})
	}
	return out
}

func sortAddrs(addrs []Addr) {
	sort.SliceStable(addrs, func(i, j int) bool {
		if addrs[i].Loopback != addrs[j].Loopback {
			return !addrs[i].Loopback
		}
		if addrs[i].Interface != addrs[j].Interface {
			return addrs[i].Interface < addrs[j].Interface
		}
		return addrs[i].IP < addrs[j].IP
	})
}
