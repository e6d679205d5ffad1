// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package dial contains methods and types for dialing XMPP connections.
package dial // import "mellium.im/xmppcore/dial"

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sort"
	"strconv"

	"mellium.im/xmppcore/internal/discover"
	"mellium.im/xmppcore/jid"
)

// ErrNoService is returned when no address could be found for a domain.
var ErrNoService = errors.New("dial: no xmpp service found")

// Resolver looks up the records needed to connect to an XMPP service.
// It is satisfied by *net.Resolver and by *DNSResolver.
type Resolver interface {
	LookupSRV(ctx context.Context, service, proto, name string) (cname string, addrs []*net.SRV, err error)
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Client discovers and connects to the address on the named network with a
// client-to-server (c2s) connection.
//
// For more information see the Dialer type.
func Client(ctx context.Context, network string, addr jid.JID) (net.Conn, error) {
	var d Dialer
	return d.Dial(ctx, network, addr.Domainpart())
}

// Server discovers and connects to the address on the named network with a
// server-to-server (s2s) connection.
// Components connecting to a server also use s2s discovery.
func Server(ctx context.Context, network string, addr jid.JID) (net.Conn, error) {
	d := Dialer{
		S2S: true,
	}
	return d.Dial(ctx, network, addr.Domainpart())
}

// A Dialer contains options for connecting to an XMPP address.
// After a connection is established the Dial method does not attempt to create
// an XMPP session on the connection.
//
// The zero value for each field is equivalent to dialing without that option.
type Dialer struct {
	net.Dialer

	// DNS is used for SRV and address lookups.
	// If nil, the embedded dialers resolver (or net.DefaultResolver) is used.
	DNS Resolver

	// S2S causes the dialer to look up server-to-server records.
	S2S bool

	// DirectTLS looks up xmpps- records and negotiates TLS immediately after
	// the TCP connection is established (XEP-0368).
	DirectTLS bool

	// DisableIPv6 drops IPv6 addresses from the candidate list.
	// When unset, IPv6 addresses are tried before IPv4 addresses.
	DisableIPv6 bool

	// The configuration to use when dialing with direct TLS.
	// The default value is interpreted as a tls.Config with the expected host set
	// to the domain being dialed.
	TLSConfig *tls.Config

	// Logger receives a debug record for every connection attempt.
	Logger *slog.Logger
}

// Candidate is a single address that may be dialed to reach a service.
type Candidate struct {
	// Target is the host name from the SRV record (or the domain itself).
	Target string

	// Addr is an IP address and port suitable for net.Dial.
	Addr string

	// TLS is set if TLS should be negotiated as soon as the connection is
	// established.
	TLS bool
}

func (d *Dialer) resolver() Resolver {
	if d.DNS != nil {
		return d.DNS
	}
	if d.Dialer.Resolver != nil {
		return d.Dialer.Resolver
	}
	return net.DefaultResolver
}

func (d *Dialer) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.New(slog.DiscardHandler)
}

// Candidates returns the ordered list of addresses to try for domain.
// SRV records are returned in RFC 2782 order and every target is expanded to
// its IP addresses.
func (d *Dialer) Candidates(ctx context.Context, domain string) ([]Candidate, error) {
	service := connType(d.DirectTLS, d.S2S)
	srvs, err := discover.LookupService(ctx, d.resolver(), service, domain)
	if err != nil {
		return nil, err
	}
	if len(srvs) == 0 {
		return nil, fmt.Errorf("%w at address %s", ErrNoService, domain)
	}

	var out []Candidate
	var lastErr error
	for _, srv := range srvs {
		c, err := d.expand(ctx, srv.Target, srv.Port)
		if err != nil {
			d.logger().Debug("address lookup failed",
				slog.String("target", srv.Target),
				slog.Any("err", err),
			)
			lastErr = err
			continue
		}
		out = append(out, c...)
	}
	if len(out) == 0 {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, fmt.Errorf("%w at address %s", ErrNoService, domain)
	}
	return out, nil
}

func (d *Dialer) expand(ctx context.Context, target string, port uint16) ([]Candidate, error) {
	host := trimDot(target)
	var ips []netip.Addr
	if ip, err := netip.ParseAddr(host); err == nil {
		ips = append(ips, ip)
	} else {
		addrs, err := d.resolver().LookupIPAddr(ctx, host)
		if err != nil {
			return nil, err
		}
		for _, a := range addrs {
			ip, ok := netip.AddrFromSlice(a.IP)
			if !ok {
				continue
			}
			ips = append(ips, ip.Unmap())
		}
	}
	ips = d.orderIPs(ips)
	if len(ips) == 0 {
		return nil, &net.DNSError{Err: "no suitable address found", Name: host, IsNotFound: true}
	}

	p := strconv.FormatUint(uint64(port), 10)
	out := make([]Candidate, 0, len(ips))
	for _, ip := range ips {
		out = append(out, Candidate{
			Target: host,
			Addr:   net.JoinHostPort(ip.String(), p),
			TLS:    d.DirectTLS,
		})
	}
	return out, nil
}

func (d *Dialer) orderIPs(ips []netip.Addr) []netip.Addr {
	if d.DisableIPv6 {
		out := ips[:0]
		for _, ip := range ips {
			if ip.Is4() {
				out = append(out, ip)
			}
		}
		return out
	}
	sort.SliceStable(ips, func(i, j int) bool {
		return ips[i].Is6() && !ips[j].Is6()
	})
	return ips
}

func trimDot(s string) string {
	if len(s) > 1 && s[len(s)-1] == '.' {
		return s[:len(s)-1]
	}
	return s
}

// Dial discovers and connects to the domain on the named network.
// If the context expires before the connection is complete, an error is
// returned. Once successfully connected, any expiration of the context will not
// affect the connection.
//
// Network may be any of the network types supported by net.Dial, but you most
// likely want to use one of the tcp connection types ("tcp", "tcp4", or
// "tcp6").
func (d *Dialer) Dial(ctx context.Context, network, domain string) (net.Conn, error) {
	candidates, err := d.Candidates(ctx, domain)
	if err != nil {
		return nil, err
	}
	return d.DialCandidates(ctx, network, domain, candidates)
}

// DialHost connects to an explicit host without performing SRV lookups.
// If port is zero the default port for the service is used.
// Domain is the XMPP domain and is used to verify the TLS certificate.
func (d *Dialer) DialHost(ctx context.Context, network, domain, host string, port uint16) (net.Conn, error) {
	if port == 0 {
		port = discover.DefaultPort(connType(d.DirectTLS, d.S2S))
	}
	candidates, err := d.expand(ctx, host, port)
	if err != nil {
		return nil, err
	}
	return d.DialCandidates(ctx, network, domain, candidates)
}

// DialCandidates tries each candidate in order and returns the first
// connection that succeeds.
// If every candidate fails, the last error is returned.
func (d *Dialer) DialCandidates(ctx context.Context, network, domain string, candidates []Candidate) (net.Conn, error) {
	err := fmt.Errorf("%w at address %s", ErrNoService, domain)
	for _, c := range candidates {
		conn, e := d.dialOne(ctx, network, domain, c)
		d.logger().Debug("dial",
			slog.String("domain", domain),
			slog.String("addr", c.Addr),
			slog.Bool("tls", c.TLS),
			slog.Any("err", e),
		)
		if e != nil {
			err = e
			if ctx.Err() != nil {
				return nil, err
			}
			continue
		}
		return conn, nil
	}
	return nil, err
}

func (d *Dialer) dialOne(ctx context.Context, network, domain string, c Candidate) (net.Conn, error) {
	if !c.TLS {
		return d.Dialer.DialContext(ctx, network, c.Addr)
	}
	tlsDialer := &tls.Dialer{
		NetDialer: &d.Dialer,
		Config:    d.tlsConfig(domain),
	}
	return tlsDialer.DialContext(ctx, network, c.Addr)
}

func (d *Dialer) tlsConfig(domain string) *tls.Config {
	if d.TLSConfig != nil {
		return d.TLSConfig
	}
	cfg := &tls.Config{
		ServerName: domain,
		MinVersion: tls.VersionTLS12,
	}
	// XEP-0368
	if d.S2S {
		cfg.NextProtos = []string{"xmpp-server"}
	} else {
		cfg.NextProtos = []string{"xmpp-client"}
	}
	return cfg
}

func connType(useTLS, s2s bool) string {
	switch {
	case useTLS && s2s:
		return "xmpps-server"
	case !useTLS && s2s:
		return "xmpp-server"
	case useTLS && !s2s:
		return "xmpps-client"
	}
	return "xmpp-client"
}
