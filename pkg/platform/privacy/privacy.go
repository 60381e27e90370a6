// Package privacy reduces personal data before it reaches logs.
package privacy

import (
	"net"
	"strings"
)

// AnonymizeIP truncates an address so logs keep network-level context without
// identifying a single client: IPv4 keeps the /24, IPv6 keeps the /48.
func AnonymizeIP(ip string) string {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return ""
	}
	if v4 := parsed.To4(); v4 != nil {
		return v4.Mask(net.CIDRMask(24, 32)).String()
	}
	return parsed.Mask(net.CIDRMask(48, 128)).String()
}
