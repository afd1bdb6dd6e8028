// Package urlguard performs the authoritative SSRF check on target URLs
// after admission and before any fetch.
package urlguard

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
	"syscall"

	"github.com/use-agent/pluck/models"
)

// Rejection reasons, stored in the error context under "reason".
const (
	ReasonScheme       = "unsupported_scheme"
	ReasonTooLong      = "url_too_long"
	ReasonHost         = "invalid_host"
	ReasonPrivate      = "private_address"
	ReasonDenied       = "denied_host"
	ReasonUnresolvable = "unresolvable_host"
)

// DefaultMaxURLLength is used when Options.MaxURLLength is zero.
const DefaultMaxURLLength = 2048

// Resolver looks up host addresses. *net.Resolver satisfies it.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Options configures a Validator.
type Options struct {
	MaxURLLength int
	DeniedHosts  []string
	// Resolver is used to check what a hostname points at. Nil disables
	// resolution; only literal IPs are then checked.
	Resolver Resolver
	// RequireResolvable rejects hosts whose lookup fails.
	RequireResolvable bool
}

// Validator checks candidate URLs. It is safe for concurrent use.
type Validator struct {
	maxLen            int
	denied            []string
	resolver          Resolver
	requireResolvable bool
}

// New creates a Validator.
func New(opts Options) *Validator {
	maxLen := opts.MaxURLLength
	if maxLen <= 0 {
		maxLen = DefaultMaxURLLength
	}
	denied := make([]string, 0, len(opts.DeniedHosts))
	for _, h := range opts.DeniedHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			denied = append(denied, strings.TrimSuffix(h, "."))
		}
	}
	return &Validator{
		maxLen:            maxLen,
		denied:            denied,
		resolver:          opts.Resolver,
		requireResolvable: opts.RequireResolvable,
	}
}

// Validate returns raw unchanged when it is safe to fetch. Every rejection
// is a security error; a missing scheme is rejected, not repaired.
func (v *Validator) Validate(ctx context.Context, raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", reject(raw, ReasonHost, "malformed URL", err)
	}

	// 1. scheme
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", reject(raw, ReasonScheme, "only http and https URLs are allowed", nil)
	}

	// 2. length
	if len(raw) > v.maxLen {
		return "", reject(raw, ReasonTooLong, fmt.Sprintf("URL exceeds %d characters", v.maxLen), nil)
	}

	// 3. host
	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" || u.User != nil {
		return "", reject(raw, ReasonHost, "URL must contain a host and no credentials", nil)
	}

	// 4. private ranges, textual or resolved
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return "", reject(raw, ReasonPrivate, "URL points to a local address", nil)
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		if IsDisallowedAddr(addr) {
			return "", reject(raw, ReasonPrivate, "URL points to a private address", nil)
		}
	} else if v.resolver != nil {
		addrs, err := v.resolver.LookupIPAddr(ctx, host)
		if err != nil {
			if v.requireResolvable {
				return "", reject(raw, ReasonUnresolvable, "host could not be resolved", err)
			}
		}
		for _, a := range addrs {
			ip, ok := netip.AddrFromSlice(a.IP)
			if ok && IsDisallowedAddr(ip) {
				return "", reject(raw, ReasonPrivate, "host resolves to a private address", nil)
			}
		}
	}

	// 5. denylist
	for _, d := range v.denied {
		if host == d || strings.HasSuffix(host, "."+d) {
			return "", reject(raw, ReasonDenied, "host is not allowed", nil)
		}
	}

	return raw, nil
}

// DialControl is a net.Dialer Control hook that refuses connections to
// disallowed addresses, catching names that re-resolve after validation.
func (v *Validator) DialControl(_, address string, _ syscall.RawConn) error {
	ap, err := netip.ParseAddrPort(address)
	if err != nil {
		return models.NewSecurityError("refusing to dial unparseable address", err).With("address", address)
	}
	if IsDisallowedAddr(ap.Addr()) {
		return models.NewSecurityError("refusing to dial private address", nil).
			With("address", address).
			With("reason", ReasonPrivate)
	}
	return nil
}

var disallowedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("198.18.0.0/15"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
}

// IsDisallowedAddr reports whether addr is loopback, link-local, private,
// unspecified, multicast or otherwise not publicly routable.
func IsDisallowedAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	if !addr.IsValid() || addr.IsUnspecified() || addr.IsLoopback() ||
		addr.IsPrivate() || addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() ||
		addr.IsMulticast() || addr.IsInterfaceLocalMulticast() {
		return true
	}
	for _, p := range disallowedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func reject(raw, reason, message string, err error) *models.ScraperError {
	return models.NewSecurityError(message, err).
		With("url", raw).
		With("reason", reason)
}
