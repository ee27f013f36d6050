package security

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"
)

// EndpointPolicy restricts the hosts remote capability providers may call.
type EndpointPolicy struct {
	// AllowedHosts, when non-empty, is the exhaustive host allowlist.
	AllowedHosts []string
	// BlockPrivate rejects RFC 1918 and unique local addresses. Capability
	// agents usually run in-cluster, so this is off by default.
	BlockPrivate bool
}

// EndpointValidator validates outbound URLs. Cloud metadata, link-local
// and multicast addresses are always rejected.
type EndpointValidator struct {
	policy   EndpointPolicy
	resolver *net.Resolver
}

// NewEndpointValidator creates a validator.
func NewEndpointValidator(policy EndpointPolicy) *EndpointValidator {
	for i, h := range policy.AllowedHosts {
		policy.AllowedHosts[i] = strings.ToLower(h)
	}
	return &EndpointValidator{policy: policy, resolver: net.DefaultResolver}
}

// ValidateURL checks scheme and host of raw.
func (v *EndpointValidator) ValidateURL(ctx context.Context, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid URL scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("URL %q has no host", raw)
	}
	return v.ValidateHost(ctx, u.Hostname())
}

// ValidateHost checks host against the allowlist and its resolved addresses
// against the blocked ranges.
func (v *EndpointValidator) ValidateHost(ctx context.Context, host string) error {
	host = strings.ToLower(host)
	if len(v.policy.AllowedHosts) > 0 && !slices.Contains(v.policy.AllowedHosts, host) {
		return fmt.Errorf("host not in allowlist: %s", host)
	}
	if ip := net.ParseIP(host); ip != nil {
		return v.ValidateIP(ip)
	}
	addrs, err := v.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", host, err)
	}
	for _, a := range addrs {
		if err := v.ValidateIP(a.IP); err != nil {
			return err
		}
	}
	return nil
}

// ValidateIP rejects addresses in blocked ranges.
func (v *EndpointValidator) ValidateIP(ip net.IP) error {
	switch {
	case ip.Equal(net.ParseIP("169.254.169.254")) || ip.Equal(net.ParseIP("fd00:ec2::254")):
		return fmt.Errorf("metadata service address blocked: %s", ip)
	case ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast():
		return fmt.Errorf("link-local addresses not allowed: %s", ip)
	case ip.IsMulticast():
		return fmt.Errorf("multicast addresses not allowed: %s", ip)
	case ip.IsUnspecified():
		return fmt.Errorf("unspecified address not allowed: %s", ip)
	case v.policy.BlockPrivate && ip.IsPrivate():
		return fmt.Errorf("private addresses not allowed: %s", ip)
	}
	return nil
}

// Client returns an HTTP client that re-validates every dialed address,
// which also covers DNS rebinding.
func (v *EndpointValidator) Client(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, _, err := net.SplitHostPort(addr)
			if err != nil {
				host = addr
			}
			if err := v.ValidateHost(ctx, host); err != nil {
				return nil, fmt.Errorf("connection blocked: %w", err)
			}
			return dialer.DialContext(ctx, network, addr)
		},
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	return &http.Client{Transport: transport, Timeout: timeout}
}
