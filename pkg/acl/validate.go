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

package acl

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"github.com/defguard/core/pkg/rangeset"
)

// ErrUnprocessable is returned by the §4.2 validators on any malformed
// input; callers surface it as the "unprocessable" error kind (§7).
type ErrUnprocessable struct{ Reason string }

func (e ErrUnprocessable) Error() string { return "unprocessable: " + e.Reason }

// ParsePorts parses a comma-separated list of "n" or "n-m" port
// expressions, 1 <= n <= m <= 65535, per §4.2.
func ParsePorts(input string) ([]rangeset.Range[uint16], error) {
	if strings.TrimSpace(input) == "" {
		return nil, nil
	}
	var out []rangeset.Range[uint16]
	for _, part := range strings.Split(input, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, ErrUnprocessable{"empty port entry"}
		}
		var lo, hi uint64
		var err error
		if idx := strings.IndexByte(part, '-'); idx >= 0 {
			lo, err = strconv.ParseUint(part[:idx], 10, 16)
			if err != nil {
				return nil, ErrUnprocessable{fmt.Sprintf("invalid port %q", part)}
			}
			hi, err = strconv.ParseUint(part[idx+1:], 10, 16)
			if err != nil {
				return nil, ErrUnprocessable{fmt.Sprintf("invalid port %q", part)}
			}
		} else {
			lo, err = strconv.ParseUint(part, 10, 16)
			if err != nil {
				return nil, ErrUnprocessable{fmt.Sprintf("invalid port %q", part)}
			}
			hi = lo
		}
		if lo < 1 || hi > 65535 || lo > hi {
			return nil, ErrUnprocessable{fmt.Sprintf("port range %q out of bounds", part)}
		}
		out = append(out, rangeset.Range[uint16]{Start: uint16(lo), End: uint16(hi)})
	}
	return rangeset.MergePorts(out), nil
}

// ParseDestinations parses a comma-separated list of "ip", "cidr", or
// "ip-ip" entries. Ranges must be non-empty and same-family.
func ParseDestinations(input string) ([]string, error) {
	if strings.TrimSpace(input) == "" {
		return nil, nil
	}
	var out []string
	for _, part := range strings.Split(input, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, ErrUnprocessable{"empty destination entry"}
		}
		if idx := strings.IndexByte(part, '/'); idx >= 0 {
			if _, err := netip.ParsePrefix(part); err != nil {
				return nil, ErrUnprocessable{fmt.Sprintf("invalid cidr %q", part)}
			}
			out = append(out, part)
			continue
		}
		if idx := strings.IndexByte(part, '-'); idx >= 0 {
			startStr, endStr := part[:idx], part[idx+1:]
			start, err := netip.ParseAddr(startStr)
			if err != nil {
				return nil, ErrUnprocessable{fmt.Sprintf("invalid range start %q", startStr)}
			}
			end, err := netip.ParseAddr(endStr)
			if err != nil {
				return nil, ErrUnprocessable{fmt.Sprintf("invalid range end %q", endStr)}
			}
			if start.Is4() != end.Is4() {
				return nil, ErrUnprocessable{fmt.Sprintf("range %q mixes address families", part)}
			}
			if start.Compare(end) > 0 {
				return nil, ErrUnprocessable{fmt.Sprintf("range %q is empty (start > end)", part)}
			}
			out = append(out, part)
			continue
		}
		if _, err := netip.ParseAddr(part); err != nil {
			return nil, ErrUnprocessable{fmt.Sprintf("invalid ip %q", part)}
		}
		out = append(out, part)
	}
	return out, nil
}

// knownIANAProtocols is the subset of IANA assigned protocol numbers
// this module accepts; it covers the protocols gateways can actually
// filter on.
var knownIANAProtocols = map[int]bool{
	1:  true, // ICMP
	6:  true, // TCP
	17: true, // UDP
	41: true, // IPv6 encapsulation
	47: true, // GRE
	50: true, // ESP
	58: true, // ICMPv6
}

// ValidateProtocols rejects any protocol number not in the known IANA
// set.
func ValidateProtocols(protocols []int) error {
	for _, p := range protocols {
		if !knownIANAProtocols[p] {
			return ErrUnprocessable{fmt.Sprintf("unknown protocol number %d", p)}
		}
	}
	return nil
}
