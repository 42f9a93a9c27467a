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

// Package rangeset implements the pure address/port range algebra the
// firewall compiler builds on: merging overlapping or adjacent ranges
// and decomposing an arbitrary range into the smallest set of CIDR
// blocks (plus leftover host/range literals) that covers it exactly.
package rangeset

import (
	"sort"
)

// Ordered is any totally-ordered scalar a range can be built over.
type Ordered interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64 | ~int | ~int64
}

// Range is an inclusive [Start,End] range over T.
type Range[T Ordered] struct {
	Start T
	End   T
}

// MergeRanges sorts ranges by lower bound and fuses any that overlap or
// sit directly adjacent to one another. The result is sorted and
// pairwise non-overlapping; its union equals the union of the input.
// Calling MergeRanges on an already-merged set returns it unchanged.
func MergeRanges[T Ordered](ranges []Range[T]) []Range[T] {
	if len(ranges) == 0 {
		return nil
	}
	sorted := make([]Range[T], len(ranges))
	copy(sorted, ranges)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Start != sorted[j].Start {
			return sorted[i].Start < sorted[j].Start
		}
		return sorted[i].End < sorted[j].End
	})

	merged := make([]Range[T], 0, len(sorted))
	cur := sorted[0]
	for _, r := range sorted[1:] {
		// Adjacent means r.Start == cur.End+1, but T may be unsigned and
		// at its max value, so compare via overlap or a non-overflowing
		// adjacency check.
		if r.Start <= cur.End || (cur.End != maxOf[T]() && r.Start == cur.End+1) {
			if r.End > cur.End {
				cur.End = r.End
			}
			continue
		}
		merged = append(merged, cur)
		cur = r
	}
	merged = append(merged, cur)
	return merged
}

func maxOf[T Ordered]() T {
	var zero T
	// Flip all bits of the zero value. For signed int/int64 this isn't a
	// true max, but adjacency fusing on signed ranges isn't exercised by
	// this package's callers (IPs and ports are unsigned).
	return zero - 1
}

// SinglePort reports whether r spans exactly one value, and returns it.
func SinglePort(r Range[uint16]) (uint16, bool) {
	if r.Start == r.End {
		return r.Start, true
	}
	return 0, false
}

// MergePorts merges port ranges and is the u16 instantiation of
// MergeRanges used throughout the firewall compiler (§4.1).
func MergePorts(ranges []Range[uint16]) []Range[uint16] {
	return MergeRanges(ranges)
}
