// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigcomm

import (
	"fmt"

	"github.com/grailbio/base/errors"
)

// A Range is a half-open interval [Start, End) of record indices
// assigned to a single participant.
type Range struct {
	Start, End int
}

// Len returns the number of records in the range.
func (r Range) Len() int { return r.End - r.Start }

// String returns the range in interval notation.
func (r Range) String() string { return fmt.Sprintf("[%d,%d)", r.Start, r.End) }

// A Policy determines how a dataset is split into per-rank ranges.
// Both policies tile the full index range exactly once, with no gaps
// or overlaps, in rank order: rank i's range never starts after rank
// i+1's.
type Policy int

const (
	// Strict assigns each rank exactly total/width records. It is
	// valid only when total is evenly divisible by width; otherwise
	// the plan is rejected before any work is distributed.
	Strict Policy = iota
	// Tolerant assigns each rank ceil(total/width) records; the last
	// rank's range may be shorter than the others, or empty.
	Tolerant
)

// String returns the policy's name.
func (p Policy) String() string {
	switch p {
	case Strict:
		return "strict"
	case Tolerant:
		return "tolerant"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// Plan computes the ordered per-rank ranges splitting a dataset of
// total records across width participants. Rank i receives the i'th
// returned range.
func (p Policy) Plan(total, width int) ([]Range, error) {
	if total < 0 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("negative record count %d", total))
	}
	if width < 1 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("participant count %d is not positive", width))
	}
	var chunk int
	switch p {
	case Strict:
		if total%width != 0 {
			return nil, errors.E(errors.Invalid,
				fmt.Sprintf("%d records do not divide evenly across %d participants", total, width))
		}
		chunk = total / width
	case Tolerant:
		chunk = (total + width - 1) / width
	default:
		return nil, errors.E(errors.Invalid, fmt.Sprintf("unknown partition policy %d", int(p)))
	}
	ranges := make([]Range, width)
	for i := range ranges {
		start, end := i*chunk, (i+1)*chunk
		if start > total {
			start = total
		}
		if end > total {
			end = total
		}
		ranges[i] = Range{start, end}
	}
	return ranges, nil
}
