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
	"fmt"
	"math/big"
	"net/netip"
	"sort"
)

// AddrLiteral is one element of an extracted address range: either a
// single host, a CIDR subnet, or (only when no subnet can be formed) a
// raw start-end range.
type AddrLiteral struct {
	Host   *netip.Addr
	Subnet *netip.Prefix
	Range  *AddrRange
}

// AddrRange is an inclusive [Start,End] address range. netip.Addr is
// not an Ordered scalar, so it does not use the generic Range[T].
type AddrRange struct {
	Start netip.Addr
	End   netip.Addr
}

func (l AddrLiteral) String() string {
	switch {
	case l.Host != nil:
		return l.Host.String()
	case l.Subnet != nil:
		return l.Subnet.String()
	case l.Range != nil:
		return fmt.Sprintf("%s-%s", l.Range.Start, l.Range.End)
	default:
		return ""
	}
}

func bitLen(a netip.Addr) int {
	if a.Is4() {
		return 32
	}
	return 128
}

func addrToInt(a netip.Addr) *big.Int {
	b := a.AsSlice()
	return new(big.Int).SetBytes(b)
}

func intToAddr(i *big.Int, v6 bool) netip.Addr {
	buf := make([]byte, 16)
	if !v6 {
		buf = make([]byte, 4)
	}
	bs := i.Bytes()
	copy(buf[len(buf)-len(bs):], bs)
	a, _ := netip.AddrFromSlice(buf)
	if !v6 {
		a = netip.AddrFrom4([4]byte(buf))
	}
	return a
}

// LargestSubnetInRange finds the CIDR with the lowest prefix length,
// i.e. the largest block (excluding /0 and the single-host /32 or
// /128), that fits entirely
// within [start,end], with its network address >= start. It walks
// prefix lengths from 1 up to the narrowest host-adjacent length,
// aligning the candidate network address upward to the next boundary
// of that length and checking its broadcast address against end; the
// first fit is the largest block, since shorter prefixes are tried
// first.
func LargestSubnetInRange(start, end netip.Addr) (netip.Prefix, bool) {
	if !start.Is4() && !start.Is6() {
		return netip.Prefix{}, false
	}
	v6 := start.Is6() && !start.Is4In6()
	total := bitLen(start)
	maxHostLen := total - 1 // exclude /32,/128

	s := addrToInt(start)
	e := addrToInt(end)
	if s.Cmp(e) > 0 {
		return netip.Prefix{}, false
	}

	one := big.NewInt(1)
	for prefixLen := 1; prefixLen <= maxHostLen; prefixLen++ {
		hostBits := total - prefixLen
		blockSize := new(big.Int).Lsh(one, uint(hostBits))

		// Align s upward to the next multiple of blockSize.
		rem := new(big.Int).Mod(s, blockSize)
		aligned := new(big.Int).Set(s)
		if rem.Sign() != 0 {
			aligned.Add(s, new(big.Int).Sub(blockSize, rem))
		}

		broadcast := new(big.Int).Add(aligned, new(big.Int).Sub(blockSize, one))
		if broadcast.Cmp(e) > 0 {
			continue // overflow past end, try a narrower (longer-prefix) block
		}
		netAddr := intToAddr(aligned, v6)
		return netip.PrefixFrom(netAddr, prefixLen), true
	}
	return netip.Prefix{}, false
}

// ExtractAllSubnets recursively decomposes [start,end] into the fewest
// CIDR subnets (plus host/range literals for parts that admit none)
// whose concatenation covers exactly [start,end] with no overlap.
func ExtractAllSubnets(start, end netip.Addr) []AddrLiteral {
	if start == end {
		h := start
		return []AddrLiteral{{Host: &h}}
	}
	if start.Compare(end) > 0 {
		return nil
	}

	prefix, ok := LargestSubnetInRange(start, end)
	if !ok {
		r := AddrRange{Start: start, End: end}
		return []AddrLiteral{{Range: &r}}
	}

	var out []AddrLiteral

	// Leftover before the subnet.
	if netStart := prefix.Addr(); netStart != start {
		before := prevAddr(netStart)
		out = append(out, ExtractAllSubnets(start, before)...)
	}

	p := prefix
	out = append(out, AddrLiteral{Subnet: &p})

	// Leftover after the subnet.
	last := lastAddrOf(prefix)
	if last != end {
		after := nextAddr(last)
		out = append(out, ExtractAllSubnets(after, end)...)
	}

	return out
}

// MergeAddrSet sorts and dedups addrs, fuses runs of consecutive
// addresses into contiguous ranges, and decomposes each range via
// ExtractAllSubnets. This is the address-list instantiation of the
// merge step used by the firewall compiler (§4.3 step 4) to turn a set
// of individual device IPs into a compact literal list.
func MergeAddrSet(addrs []netip.Addr) []AddrLiteral {
	if len(addrs) == 0 {
		return nil
	}
	sorted := make([]netip.Addr, len(addrs))
	copy(sorted, addrs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Compare(sorted[j]) < 0 })

	dedup := sorted[:1]
	for _, a := range sorted[1:] {
		if a != dedup[len(dedup)-1] {
			dedup = append(dedup, a)
		}
	}

	var out []AddrLiteral
	start, end := dedup[0], dedup[0]
	for _, a := range dedup[1:] {
		if a == nextAddr(end) {
			end = a
			continue
		}
		out = append(out, ExtractAllSubnets(start, end)...)
		start, end = a, a
	}
	out = append(out, ExtractAllSubnets(start, end)...)
	return out
}

func lastAddrOf(p netip.Prefix) netip.Addr {
	v6 := p.Addr().Is6() && !p.Addr().Is4In6()
	total := 32
	if v6 {
		total = 128
	}
	hostBits := total - p.Bits()
	base := addrToInt(p.Addr())
	mask := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), uint(hostBits)), big.NewInt(1))
	last := new(big.Int).Or(base, mask)
	return intToAddr(last, v6)
}

func nextAddr(a netip.Addr) netip.Addr {
	v6 := a.Is6() && !a.Is4In6()
	i := addrToInt(a)
	i.Add(i, big.NewInt(1))
	return intToAddr(i, v6)
}

func prevAddr(a netip.Addr) netip.Addr {
	v6 := a.Is6() && !a.Is4In6()
	i := addrToInt(a)
	i.Sub(i, big.NewInt(1))
	return intToAddr(i, v6)
}
