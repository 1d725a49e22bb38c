package siteguard

import (
	"net"
	"strings"

	"github.com/gofiber/fiber/v2"
)

func parseCIDRs(cidrs []string) []*net.IPNet {
	var nets []*net.IPNet
	for _, c := range cidrs {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, n, err := net.ParseCIDR(c); err == nil && n != nil {
			nets = append(nets, n)
			continue
		}
		// Single IPs get a host mask
		if ip := net.ParseIP(c); ip != nil {
			mask := net.CIDRMask(len(ip)*8, len(ip)*8)
			nets = append(nets, &net.IPNet{IP: ip, Mask: mask})
		}
	}
	return nets
}

func ipInNets(ipStr string, nets []*net.IPNet) bool {
	if ipStr == "" {
		return false
	}
	addr := net.ParseIP(ipStr)
	if addr == nil {
		return false
	}
	for _, n := range nets {
		if n.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientIPResolver extracts the real client address from a request.
// Forwarding headers are honored only when the immediate peer is inside a
// trusted proxy network, otherwise spoofed headers would defeat every
// per-IP control in the engine. With no trusted networks configured the
// headers are never trusted, regardless of the proxy flag.
type ClientIPResolver struct {
	trustProxy  bool
	trustedNets []*net.IPNet
}

func NewClientIPResolver(cfg *Config) *ClientIPResolver {
	return &ClientIPResolver{
		trustProxy:  cfg.TrustProxy,
		trustedNets: parseCIDRs(cfg.TrustedProxyCIDRs),
	}
}

func (r *ClientIPResolver) ClientIP(c *fiber.Ctx) string {
	peer := c.IP()
	if !r.trustProxy {
		return peer
	}
	if len(r.trustedNets) == 0 || !ipInNets(peer, r.trustedNets) {
		return peer
	}
	if ip := strings.TrimSpace(c.Get("X-Real-IP")); ip != "" && net.ParseIP(ip) != nil {
		return ip
	}
	if fwd := c.Get("X-Forwarded-For"); fwd != "" {
		first := strings.TrimSpace(strings.Split(fwd, ",")[0])
		if net.ParseIP(first) != nil {
			return first
		}
	}
	return peer
}
