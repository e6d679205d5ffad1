// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package discover is used to look up information about XMPP-based services.
package discover // import "mellium.im/xmppcore/internal/discover"

import (
	"context"
	"errors"
	"math/rand/v2"
	"net"
	"sort"
)

// Errors returned by this package.
var (
	ErrInvalidService = errors.New("service must be one of xmpp[s]-client or xmpp[s]-server")
)

// SRVResolver looks up SRV records.
// It is satisfied by *net.Resolver.
type SRVResolver interface {
	LookupSRV(ctx context.Context, service, proto, name string) (cname string, addrs []*net.SRV, err error)
}

func isNotFound(err error) bool {
	var dnsErr *net.DNSError
	ok := errors.As(err, &dnsErr)
	return ok && dnsErr.IsNotFound
}

// DefaultPort returns the port used for the service when no SRV records exist.
func DefaultPort(service string) uint16 {
	switch service {
	case "xmpp-client":
		return 5222
	case "xmpps-client":
		return 5223
	case "xmpp-server":
		return 5269
	case "xmpps-server":
		return 5270
	}
	return 0
}

// FallbackRecords returns fake SRV records based on the service that can be
// used if no actual SRV records can be found but we believe that an XMPP
// service exists at the given domain.
func FallbackRecords(service, domain string) []*net.SRV {
	port := DefaultPort(service)
	if port == 0 {
		return nil
	}
	return []*net.SRV{{
		Target: domain,
		Port:   port,
	}}
}

// LookupService looks for an XMPP service hosted by the given domain.
// It returns addresses from SRV records in RFC 2782 order and if none are
// found returns a fallback record for the domain on the default port of the
// service.
// If the result is a single record with target "." the service is decidedly
// not available and an empty list is returned.
// Service should be one of "xmpp[s]-client" or "xmpp[s]-server".
func LookupService(ctx context.Context, resolver SRVResolver, service, domain string) (addrs []*net.SRV, err error) {
	switch service {
	case "xmpp-client", "xmpp-server", "xmpps-client", "xmpps-server":
	default:
		return nil, ErrInvalidService
	}
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	_, addrs, err = resolver.LookupSRV(ctx, service, "tcp", domain)
	if err != nil {
		if !isNotFound(err) {
			return nil, err
		}
		return FallbackRecords(service, domain), nil
	}
	if len(addrs) == 0 {
		return FallbackRecords(service, domain), nil
	}

	// RFC 6120 §3.2.1
	//    if the result of the SRV lookup is a single resource record with a
	//    Target of ".", i.e., the root domain, then the initiating entity MUST
	//    abort SRV processing at this point
	if len(addrs) == 1 && (addrs[0].Target == "." || addrs[0].Target == "") {
		return nil, nil
	}
	return OrderSRV(addrs), nil
}

// OrderSRV sorts SRV records by ascending priority and, within records of equal
// priority, performs the weighted random selection of RFC 2782.
// The input slice is reordered in place and returned.
func OrderSRV(addrs []*net.SRV) []*net.SRV {
	return orderSRV(addrs, rand.IntN)
}

func orderSRV(addrs []*net.SRV, intn func(int) int) []*net.SRV {
	sort.SliceStable(addrs, func(i, j int) bool {
		return addrs[i].Priority < addrs[j].Priority
	})
	for start := 0; start < len(addrs); {
		end := start + 1
		for end < len(addrs) && addrs[end].Priority == addrs[start].Priority {
			end++
		}
		shuffleByWeight(addrs[start:end], intn)
		start = end
	}
	return addrs
}

func shuffleByWeight(group []*net.SRV, intn func(int) int) {
	for i := range group {
		rest := group[i:]
		sum := 0
		for _, srv := range rest {
			sum += int(srv.Weight)
		}
		pick := 0
		if sum == 0 {
			pick = intn(len(rest))
		} else {
			n := intn(sum) + 1
			running := 0
			for j, srv := range rest {
				running += int(srv.Weight)
				if running >= n {
					pick = j
					break
				}
			}
		}
		rest[0], rest[pick] = rest[pick], rest[0]
	}
}
