// Copyright 2020 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package dial

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/miekg/dns"
)

// DNSResolver is a Resolver that sends queries directly to a single DNS server
// instead of using the system resolver.
type DNSResolver struct {
	// Server is the address of the DNS server as host:port.
	Server string

	// Net is the transport used for queries: "udp" (the default), "tcp" or
	// "tcp-tls".
	Net string

	// Timeout bounds each exchange. The default is 5 seconds.
	Timeout time.Duration

	// Logger receives a debug record for every exchange.
	Logger *slog.Logger
}

// NewDNSResolver returns a resolver that queries server over UDP.
func NewDNSResolver(server string) *DNSResolver {
	return &DNSResolver{Server: server}
}

func (r *DNSResolver) client() *dns.Client {
	timeout := r.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &dns.Client{
		Net:     r.Net,
		Timeout: timeout,
	}
}

func (r *DNSResolver) exchange(ctx context.Context, name string, qtype uint16) ([]dns.RR, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), qtype)
	m.RecursionDesired = true

	in, rtt, err := r.client().ExchangeContext(ctx, m, r.Server)
	if r.Logger != nil {
		r.Logger.Debug("dns exchange",
			slog.String("server", r.Server),
			slog.String("name", name),
			slog.String("type", dns.TypeToString[qtype]),
			slog.Duration("rtt", rtt),
			slog.Any("err", err),
		)
	}
	if err != nil {
		return nil, &net.DNSError{Err: err.Error(), Name: name, Server: r.Server, IsTimeout: isTimeout(err)}
	}
	switch in.Rcode {
	case dns.RcodeSuccess:
	case dns.RcodeNameError:
		return nil, &net.DNSError{Err: "no such host", Name: name, Server: r.Server, IsNotFound: true}
	default:
		return nil, &net.DNSError{Err: dns.RcodeToString[in.Rcode], Name: name, Server: r.Server}
	}
	return in.Answer, nil
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

// LookupSRV queries the SRV records for _service._proto.name.
// Records are returned in the order the server sent them.
func (r *DNSResolver) LookupSRV(ctx context.Context, service, proto, name string) (string, []*net.SRV, error) {
	target := "_" + service + "._" + proto + "." + name
	answer, err := r.exchange(ctx, target, dns.TypeSRV)
	if err != nil {
		return "", nil, err
	}
	cname := dns.Fqdn(target)
	var addrs []*net.SRV
	for _, rr := range answer {
		switch v := rr.(type) {
		case *dns.SRV:
			addrs = append(addrs, &net.SRV{
				Target:   v.Target,
				Port:     v.Port,
				Priority: v.Priority,
				Weight:   v.Weight,
			})
		case *dns.CNAME:
			cname = v.Target
		}
	}
	if len(addrs) == 0 {
		return cname, nil, &net.DNSError{Err: "no such host", Name: target, Server: r.Server, IsNotFound: true}
	}
	return cname, addrs, nil
}

// LookupIPAddr queries the AAAA and A records for host.
// IPv6 addresses are returned first.
func (r *DNSResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IPAddr{{IP: ip}}, nil
	}
	var out []net.IPAddr
	var firstErr error
	for _, qtype := range []uint16{dns.TypeAAAA, dns.TypeA} {
		answer, err := r.exchange(ctx, host, qtype)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		for _, rr := range answer {
			switch v := rr.(type) {
			case *dns.AAAA:
				out = append(out, net.IPAddr{IP: v.AAAA})
			case *dns.A:
				out = append(out, net.IPAddr{IP: v.A})
			}
		}
	}
	if len(out) == 0 {
		if firstErr != nil {
			return nil, firstErr
		}
		return nil, &net.DNSError{Err: "no such host", Name: host, Server: r.Server, IsNotFound: true}
	}
	return out, nil
}
