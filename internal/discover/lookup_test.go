// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package discover

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"net"
	"reflect"
	"testing"
)

type fakeResolver struct {
	addrs []*net.SRV
	err   error
	query string
}

func (r *fakeResolver) LookupSRV(_ context.Context, service, proto, name string) (string, []*net.SRV, error) {
	r.query = "_" + service + "._" + proto + "." + name
	return "", r.addrs, r.err
}

var errServFail = errors.New("servfail")

func TestLookupService(t *testing.T) {
	for i, tc := range [...]struct {
		service string
		addrs   []*net.SRV
		err     error
		want    []*net.SRV
		wantErr error
	}{
		0: {service: "xmpp", wantErr: ErrInvalidService},
		1: {
			service: "xmpp-client",
			err:     &net.DNSError{IsNotFound: true},
			want:    []*net.SRV{{Target: "example.net", Port: 5222}},
		},
		2: {
			service: "xmpp-server",
			err:     &net.DNSError{IsNotFound: true},
			want:    []*net.SRV{{Target: "example.net", Port: 5269}},
		},
		3: {
			service: "xmpps-client",
			err:     &net.DNSError{IsNotFound: true},
			want:    []*net.SRV{{Target: "example.net", Port: 5223}},
		},
		4: {service: "xmpp-client", err: errServFail, wantErr: errServFail},
		5: {service: "xmpp-client", addrs: []*net.SRV{{Target: ".", Port: 0}}},
		6: {
			service: "xmpp-client",
			addrs: []*net.SRV{
				{Target: "b.example.net.", Port: 5222, Priority: 20},
				{Target: "a.example.net.", Port: 5222, Priority: 10},
			},
			want: []*net.SRV{
				{Target: "a.example.net.", Port: 5222, Priority: 10},
				{Target: "b.example.net.", Port: 5222, Priority: 20},
			},
		},
		7: {
			service: "xmpp-client",
			want:    []*net.SRV{{Target: "example.net", Port: 5222}},
		},
	} {
		t.Run(fmt.Sprintf("%d", i), func(t *testing.T) {
			r := &fakeResolver{addrs: tc.addrs, err: tc.err}
			addrs, err := LookupService(context.Background(), r, tc.service, "example.net")
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("wrong error: want=%v, got=%v", tc.wantErr, err)
			}
			if !reflect.DeepEqual(addrs, tc.want) {
				t.Errorf("wrong records: want=%v, got=%v", tc.want, addrs)
			}
			if tc.wantErr == nil && r.query != "_"+tc.service+"._tcp.example.net" {
				t.Errorf("wrong query: %s", r.query)
			}
		})
	}
}

func TestOrderSRVPriority(t *testing.T) {
	addrs := []*net.SRV{
		{Target: "c", Priority: 30, Weight: 10},
		{Target: "a", Priority: 10, Weight: 0},
		{Target: "b1", Priority: 20, Weight: 5},
		{Target: "b2", Priority: 20, Weight: 5},
	}
	OrderSRV(addrs)
	if addrs[0].Target != "a" || addrs[3].Target != "c" {
		t.Errorf("records not ordered by priority: %v %v", addrs[0], addrs[3])
	}
	if addrs[1].Priority != 20 || addrs[2].Priority != 20 {
		t.Errorf("equal priority records split")
	}
}

func TestOrderSRVWeights(t *testing.T) {
	const runs = 20000
	r := rand.New(rand.NewPCG(1, 2))
	counts := map[string]int{}
	for i := 0; i < runs; i++ {
		addrs := []*net.SRV{
			{Target: "light", Weight: 1},
			{Target: "heavy", Weight: 3},
			{Target: "none", Weight: 0},
		}
		orderSRV(addrs, r.IntN)
		counts[addrs[0].Target]++
		if addrs[2].Target != "none" {
			t.Fatalf("zero weight record selected before weighted records: %v", addrs)
		}
	}
	if got := float64(counts["heavy"]) / runs; math.Abs(got-0.75) > 0.02 {
		t.Errorf("heavy record chosen first with frequency %f, want≈0.75", got)
	}
	if got := float64(counts["light"]) / runs; math.Abs(got-0.25) > 0.02 {
		t.Errorf("light record chosen first with frequency %f, want≈0.25", got)
	}
}

func TestOrderSRVZeroWeights(t *testing.T) {
	r := rand.New(rand.NewPCG(3, 4))
	first := map[string]int{}
	for i := 0; i < 1000; i++ {
		addrs := []*net.SRV{{Target: "a"}, {Target: "b"}}
		orderSRV(addrs, r.IntN)
		first[addrs[0].Target]++
	}
	if first["a"] == 0 || first["b"] == 0 {
		t.Errorf("zero weight records should be chosen uniformly: %v", first)
	}
}
