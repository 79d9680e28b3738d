// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigcomm

import (
	"context"

	"github.com/grailbio/base/must"
)

// A Transport moves framed payloads between the participants of a
// group. A logical channel is identified by the triple (sender,
// receiver, tag); the triple names a conversation, not a physical
// address. Transports guarantee that payloads sent on the same
// channel arrive in send order; no ordering is guaranteed across
// distinct channels.
//
// Both operations block until the transfer completes, or until the
// context is done. Calls must be issued in matching pairs by the two
// participants: a send without a matching receive (or vice versa)
// blocks its caller indefinitely. This is a protocol-design
// responsibility; transports perform no runtime detection of
// mismatched pairs.
type Transport interface {
	// Send delivers the payload to the participant with rank dst on
	// the channel named by tag. The payload must not be modified by
	// the caller after Send returns.
	Send(ctx context.Context, dst, tag int, payload []byte) error

	// Recv returns the next payload sent by the participant with rank
	// src on the channel named by tag. The receiver need not know the
	// payload's size in advance.
	Recv(ctx context.Context, src, tag int) ([]byte, error)
}

// Comm binds a Group to a Transport, providing point-to-point framed
// transfers and the collective operations Broadcast, Scatter, Gather,
// and Barrier. A Comm is constructed once at process start and passed
// to every component that communicates; it carries the one legitimate
// piece of process-wide state, the participant's group identity.
//
// User protocols should use tags >= 0. Negative tags are reserved for
// the collectives.
type Comm struct {
	group     Group
	transport Transport
}

// New returns a Comm for the participant identified by group,
// communicating over the provided transport.
func New(group Group, transport Transport) *Comm {
	must.True(transport != nil, "nil transport")
	return &Comm{group: group, transport: transport}
}

// Group returns the participant's group identity.
func (c *Comm) Group() Group { return c.group }

// Rank returns the participant's rank within its group.
func (c *Comm) Rank() int { return c.group.Rank() }

// Size returns the number of participants in the group.
func (c *Comm) Size() int { return c.group.Size() }

// Send transmits a framed payload to rank dst on the channel named by
// tag. Send blocks until the transfer completes.
func (c *Comm) Send(ctx context.Context, dst, tag int, payload []byte) error {
	c.checkRank(dst)
	return c.transport.Send(ctx, dst, tag, payload)
}

// Recv blocks for the next framed payload from rank src on the
// channel named by tag, allocating a buffer of exactly the
// transferred size.
func (c *Comm) Recv(ctx context.Context, src, tag int) ([]byte, error) {
	c.checkRank(src)
	return c.transport.Recv(ctx, src, tag)
}

func (c *Comm) checkRank(rank int) {
	must.Truef(0 <= rank && rank < c.group.Size(), "rank %d outside of group [0,%d)", rank, c.group.Size())
}
