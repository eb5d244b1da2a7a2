package proto

import (
	"net/netip"
	"strings"
)

// EncodeAddrList packs a peer's candidate address list into a single
// comma-separated "ip:port" string argument, carried as one OSC
// string rather than a repeated address tuple.
func EncodeAddrList(addrs []Addr) string {
	parts := make([]string, len(addrs))
	for i, a := range addrs {
		parts[i] = a.String()
	}
	return strings.Join(parts, ",")
}

// DecodeAddrList reverses EncodeAddrList, skipping any entry that
// fails to parse.
func DecodeAddrList(s string) []Addr {
	if s == "" {
		return nil
	}
	var out []Addr
	for _, part := range strings.Split(s, ",") {
		ap, err := netip.ParseAddrPort(part)
		if err != nil {
			continue
		}
		fam := FamilyIPv6
		if ap.Addr().Is4() {
			fam = FamilyIPv4
		}
		out = append(out, Addr{IP: ap.Addr(), Port: ap.Port(), Family: fam})
	}
	return out
}
