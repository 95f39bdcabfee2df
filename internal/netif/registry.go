// Package netif enumerates local network interfaces and reads their byte counters.
package netif

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"

	psnet "github.com/shirou/gopsutil/v4/net"
)

// Address is one IPv4 address bound to an interface.
type Address struct {
	IP      string `json:"ip"`
	Netmask string `json:"netmask"`
}

// InterfaceInfo describes a usable interface.
type InterfaceInfo struct {
	Name      string    `json:"name"`
	Addresses []Address `json:"addresses"`
}

// ListFunc enumerates raw interfaces. Defaults to gopsutil.
type ListFunc func(ctx context.Context) (psnet.InterfaceStatList, error)

// Registry answers which interfaces exist and whether one is up.
type Registry struct {
	list ListFunc

	mu      sync.RWMutex
	exclude []string
}

type RegistryOption func(*Registry)

// WithLister replaces the interface source (tests, containers).
func WithLister(fn ListFunc) RegistryOption {
	return func(r *Registry) {
		if fn != nil {
			r.list = fn
		}
	}
}

// NewRegistry builds a registry that hides interfaces whose names start with
// any of excludePrefixes.
func NewRegistry(excludePrefixes []string, opts ...RegistryOption) *Registry {
	r := &Registry{list: psnet.InterfacesWithContext}
	r.SetExcludePrefixes(excludePrefixes)
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Registry) SetExcludePrefixes(prefixes []string) {
	cp := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		if p = strings.TrimSpace(p); p != "" {
			cp = append(cp, p)
		}
	}
	r.mu.Lock()
	r.exclude = cp
	r.mu.Unlock()
}

func (r *Registry) excluded(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.exclude {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// List returns non-excluded interfaces that carry at least one IPv4 address,
// in the order the OS reports them.
func (r *Registry) List(ctx context.Context) ([]InterfaceInfo, error) {
	raw, err := r.list(ctx)
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}
	out := make([]InterfaceInfo, 0, len(raw))
	for _, it := range raw {
		if r.excluded(it.Name) {
			continue
		}
		addrs := ipv4Addresses(it.Addrs)
		if len(addrs) == 0 {
			continue
		}
		out = append(out, InterfaceInfo{Name: it.Name, Addresses: addrs})
	}
	return out, nil
}

// Exists reports whether name is among List's results.
func (r *Registry) Exists(ctx context.Context, name string) (bool, error) {
	list, err := r.List(ctx)
	if err != nil {
		return false, err
	}
	for _, it := range list {
		if it.Name == name {
			return true, nil
		}
	}
	return false, nil
}

// IsUp reports whether name exists and has an IPv4 address other than
// 127.0.0.1, with a human-readable reason. The exclusion list does not apply.
func (r *Registry) IsUp(ctx context.Context, name string) (bool, string) {
	raw, err := r.list(ctx)
	if err != nil {
		return false, fmt.Sprintf("Error checking interface: %v", err)
	}
	for _, it := range raw {
		if it.Name != name {
			continue
		}
		for _, a := range ipv4Addresses(it.Addrs) {
			if a.IP != "127.0.0.1" {
				return true, fmt.Sprintf("Interface %s is up with IP %s", name, a.IP)
			}
		}
		return false, fmt.Sprintf("Interface %s has no IP address", name)
	}
	return false, "Interface not found"
}

func ipv4Addresses(list psnet.InterfaceAddrList) []Address {
	var out []Address
	for _, a := range list {
		if addr, ok := parseIPv4(a.Addr); ok {
			out = append(out, addr)
		}
	}
	return out
}

// parseIPv4 accepts "a.b.c.d/nn" (gopsutil's form) or a bare address.
func parseIPv4(s string) (Address, bool) {
	s = strings.TrimSpace(s)
	if ip, ipnet, err := net.ParseCIDR(s); err == nil {
		v4 := ip.To4()
		if v4 == nil {
			return Address{}, false
		}
		mask := ipnet.Mask
		if len(mask) == net.IPv6len {
			mask = mask[12:]
		}
		return Address{IP: v4.String(), Netmask: net.IP(mask).String()}, true
	}
	ip := net.ParseIP(s)
	if ip == nil || ip.To4() == nil {
		return Address{}, false
	}
	return Address{IP: ip.To4().String(), Netmask: "255.255.255.255"}, true
}
