// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigcomm

import (
	"fmt"

	"github.com/grailbio/base/errors"
)

// A Group identifies a participant within a fixed set of cooperating
// processes. Groups are established once at process start and are
// immutable for the lifetime of the run: the size never changes and
// ranks are never reassigned. Rank 0 is the coordinator by
// convention.
type Group struct {
	rank, size int
}

// NewGroup returns the group for a participant with the given rank in
// a group of the given size. NewGroup returns an error if size is
// not positive or if rank is outside of [0, size).
func NewGroup(rank, size int) (Group, error) {
	if size < 1 {
		return Group{}, errors.E(errors.Invalid, fmt.Sprintf("group size %d is not positive", size))
	}
	if rank < 0 || rank >= size {
		return Group{}, errors.E(errors.Invalid, fmt.Sprintf("rank %d outside of group [0,%d)", rank, size))
	}
	return Group{rank: rank, size: size}, nil
}

// Rank returns this participant's ordinal within the group.
// 0 <= Rank() < Size().
func (g Group) Rank() int { return g.rank }

// Size returns the total number of participants in the group.
func (g Group) Size() int { return g.size }

// IsCoordinator tells whether this participant is the group's
// coordinator (rank 0).
func (g Group) IsCoordinator() bool { return g.rank == 0 }

// String returns a textual description of the participant's position
// within its group.
func (g Group) String() string {
	return fmt.Sprintf("rank %d of %d", g.rank, g.size)
}
