package httpprobe

import (
	"context"
	"fmt"
	"net"
	"strings"
	"syscall"
	"time"
)

// Guard blocks requests to private and internal addresses unless the host is
// explicitly allowed.
type Guard struct {
	Block        bool
	AllowedHosts []string
	Resolver     interface {
		LookupHost(ctx context.Context, host string) ([]string, error)
	}
}

// Check resolves host and rejects it when any address is private.
func (g Guard) Check(ctx context.Context, host string) error {
	if !g.Block || IsHostAllowed(host, g.AllowedHosts) {
		return nil
	}
	var ips []string
	if ip := net.ParseIP(host); ip != nil {
		ips = []string{host}
	} else {
		r := g.Resolver
		if r == nil {
			r = net.DefaultResolver
		}
		var err error
		ips, err = r.LookupHost(ctx, host)
		if err != nil {
			return fmt.Errorf("DNS resolution failed for %q: %w", host, err)
		}
	}
	for _, s := range ips {
		ip := net.ParseIP(s)
		if ip == nil {
			return fmt.Errorf("invalid IP %q for host %q", s, host)
		}
		if IsPrivateIP(ip) {
			return fmt.Errorf("SSRF blocked: host %q resolves to private IP %s", host, s)
		}
	}
	return nil
}

// DialContext dials addr and enforces the guard on the address actually
// connected to, so a host that re-resolves to a private IP after Check is
// still refused. Allowed hosts are dialed without the check.
func (g Guard) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	d := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	if g.Block && !IsHostAllowed(host, g.AllowedHosts) {
		d.Control = func(_, address string, _ syscall.RawConn) error {
			return checkDialed(host, address)
		}
	}
	return d.DialContext(ctx, network, addr)
}

func checkDialed(host, address string) error {
	ipStr, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return fmt.Errorf("invalid IP %q for host %q", ipStr, host)
	}
	if IsPrivateIP(ip) {
		return fmt.Errorf("SSRF blocked: host %q connects to private IP %s", host, ipStr)
	}
	return nil
}

var privateRanges = func() []*net.IPNet {
	var out []*net.IPNet
	for _, cidr := range []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16", "169.254.0.0/16", "100.64.0.0/10"} {
		_, n, _ := net.ParseCIDR(cidr)
		out = append(out, n)
	}
	return out
}()

// IsPrivateIP reports whether ip is loopback, link-local, unspecified or in
// a private range.
func IsPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return true
	}
	for _, n := range privateRanges {
		if n.Contains(ip) {
			return true
		}
	}
	// fc00::/7
	return len(ip) == net.IPv6len && ip.To4() == nil && ip[0]&0xfe == 0xfc
}

// IsHostAllowed reports whether host is in the allowlist, ignoring case.
func IsHostAllowed(host string, allowed []string) bool {
	for _, h := range allowed {
		if strings.EqualFold(h, host) {
			return true
		}
	}
	return false
}
