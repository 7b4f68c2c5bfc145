// Package identity decides when two contributor names refer to the same
// contributor for revert purposes.
package identity

import (
	"net/netip"
	"strings"
)

// Same reports whether a and b should be treated as one contributor.
//
// An empty name is a redacted identity and never matches anything,
// including another redacted identity. IPv6 addresses inside the same
// /64 block match each other; everything else must be identical after
// address canonicalisation.
func Same(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	blockA, okA := Block64(a)
	blockB, okB := Block64(b)
	if okA && okB {
		return blockA == blockB
	}
	addrA, okA := parseAddr(a)
	addrB, okB := parseAddr(b)
	return okA && okB && addrA == addrB
}

// SameBlockOnly reports whether a and b are different addresses that
// only match through the /64 rule.
func SameBlockOnly(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	blockA, okA := Block64(a)
	blockB, okB := Block64(b)
	if !okA || !okB || blockA != blockB {
		return false
	}
	addrA, _ := parseAddr(a)
	addrB, _ := parseAddr(b)
	return addrA != addrB
}

// Block64 returns the canonical /64 prefix of an IPv6 address. The second
// result is false for anything that is not an IPv6 address, including
// IPv4-mapped forms.
func Block64(name string) (netip.Prefix, bool) {
	addr, ok := parseAddr(name)
	if !ok || !addr.Is6() || addr.Is4In6() {
		return netip.Prefix{}, false
	}
	prefix, err := addr.Prefix(64)
	if err != nil {
		return netip.Prefix{}, false
	}
	return prefix, true
}

// IsAddress reports whether name is an anonymous (IP address) identity.
func IsAddress(name string) bool {
	_, ok := parseAddr(name)
	return ok
}

func parseAddr(name string) (netip.Addr, bool) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return netip.Addr{}, false
	}
	addr, err := netip.ParseAddr(trimmed)
	if err != nil || addr.Zone() != "" {
		return netip.Addr{}, false
	}
	return addr, true
}
