/*
Copyright 2024 The Defguard Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package rangeset

import (
	"net/netip"
	"reflect"
	"testing"
)

func TestMergeRangesFusesOverlapAndAdjacent(t *testing.T) {
	in := []Range[uint16]{
		{Start: 10, End: 20},
		{Start: 21, End: 25}, // adjacent to prior
		{Start: 5, End: 9},   // adjacent below
		{Start: 100, End: 200},
		{Start: 150, End: 160}, // fully contained, overlapping
	}
	got := MergeRanges(in)
	want := []Range[uint16]{
		{Start: 5, End: 25},
		{Start: 100, End: 200},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("MergeRanges() = %+v, want %+v", got, want)
	}
}

func TestMergeRangesIdempotent(t *testing.T) {
	in := []Range[uint16]{
		{Start: 443, End: 443},
		{Start: 80, End: 80},
		{Start: 8000, End: 9000},
		{Start: 1, End: 1023},
	}
	once := MergeRanges(in)
	twice := MergeRanges(once)
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("merge is not idempotent: once=%+v twice=%+v", once, twice)
	}
}

func TestMergeRangesSortedAndNonOverlapping(t *testing.T) {
	in := []Range[uint16]{{Start: 500, End: 600}, {Start: 1, End: 10}, {Start: 50, End: 55}}
	got := MergeRanges(in)
	for i := 1; i < len(got); i++ {
		if got[i-1].End >= got[i].Start {
			t.Fatalf("ranges overlap or unsorted at %d: %+v", i, got)
		}
	}
}

func TestSinglePort(t *testing.T) {
	if p, ok := SinglePort(Range[uint16]{Start: 443, End: 443}); !ok || p != 443 {
		t.Fatalf("SinglePort single-value range: got %d,%v", p, ok)
	}
	if _, ok := SinglePort(Range[uint16]{Start: 1, End: 2}); ok {
		t.Fatalf("SinglePort should reject multi-value range")
	}
}

func TestLargestSubnetInRange(t *testing.T) {
	start := netip.MustParseAddr("10.0.0.0")
	end := netip.MustParseAddr("10.0.0.255")
	p, ok := LargestSubnetInRange(start, end)
	if !ok {
		t.Fatalf("expected a subnet to be found")
	}
	want := netip.MustParsePrefix("10.0.0.0/24")
	if p != want {
		t.Fatalf("got %s, want %s", p, want)
	}
}

func TestExtractAllSubnetsCoversExactlyWithNoOverlap(t *testing.T) {
	start := netip.MustParseAddr("10.0.0.5")
	end := netip.MustParseAddr("10.0.0.20")
	lits := ExtractAllSubnets(start, end)
	if len(lits) == 0 {
		t.Fatalf("expected at least one literal")
	}

	seen := map[string]bool{}
	addr := start
	for {
		seen[addr.String()] = false
		if addr == end {
			break
		}
		addr = nextAddr(addr)
	}

	for _, l := range lits {
		switch {
		case l.Host != nil:
			markCovered(t, seen, *l.Host, *l.Host)
		case l.Subnet != nil:
			markCovered(t, seen, l.Subnet.Addr(), lastAddrOf(*l.Subnet))
		case l.Range != nil:
			markCovered(t, seen, l.Range.Start, l.Range.End)
		}
	}
	for addrStr, covered := range seen {
		if !covered {
			t.Fatalf("address %s not covered by extracted literals: %+v", addrStr, lits)
		}
	}
}

func markCovered(t *testing.T, seen map[string]bool, from, to netip.Addr) {
	t.Helper()
	a := from
	for {
		key := a.String()
		if v, ok := seen[key]; ok {
			if v {
				t.Fatalf("address %s covered twice", key)
			}
			seen[key] = true
		}
		if a == to {
			break
		}
		a = nextAddr(a)
	}
}

func TestExtractAllSubnetsSingleHost(t *testing.T) {
	a := netip.MustParseAddr("192.168.1.1")
	lits := ExtractAllSubnets(a, a)
	if len(lits) != 1 || lits[0].Host == nil || *lits[0].Host != a {
		t.Fatalf("expected single host literal, got %+v", lits)
	}
}

func TestMergeAddrSetFusesConsecutiveAndDedups(t *testing.T) {
	addrs := []netip.Addr{
		netip.MustParseAddr("10.0.0.5"),
		netip.MustParseAddr("10.0.0.6"),
		netip.MustParseAddr("10.0.0.5"), // duplicate
		netip.MustParseAddr("10.0.1.1"),
	}
	lits := MergeAddrSet(addrs)
	if len(lits) != 2 {
		t.Fatalf("expected 2 literals (one covering .5-.6, one host .1.1), got %d: %+v", len(lits), lits)
	}
}
