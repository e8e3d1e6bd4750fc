package scrape

import "net/netip"

// IsRoutable reports whether a candidate points at a publicly routable IPv4
// address. Loopback, private, link-local, multicast, class E and 0.0.0.0/8
// addresses are spam in proxy lists, not proxies.
func IsRoutable(candidate string) bool {
	ap, err := netip.ParseAddrPort(candidate)
	if err != nil {
		return false
	}
	addr := ap.Addr()
	if !addr.Is4() {
		return false
	}
	if addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() ||
		addr.IsMulticast() || addr.IsUnspecified() {
		return false
	}
	octets := addr.As4()
	if octets[0] == 0 || octets[0] >= 240 {
		return false
	}
	return true
}
