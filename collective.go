// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigcomm

import (
	"context"

	"github.com/grailbio/base/must"
	"github.com/grailbio/bigcomm/commio"
	"golang.org/x/sync/errgroup"
)

// Tags below the user tag space, reserved for collective operations.
const (
	tagBroadcast = -1 - iota
	tagScatter
	tagGather
	tagBarrier
	tagBarrierRelease
)

// Broadcast replicates a value from rank src to every participant in
// the group. On rank src, value is the value to be distributed; on
// every other rank, value must be a pointer into which the received
// value is decoded. Values are encoded with encoding/gob. Every
// participant blocks until it holds the value.
func (c *Comm) Broadcast(ctx context.Context, src int, value interface{}) error {
	c.checkRank(src)
	if c.Rank() != src {
		p, err := c.Recv(ctx, src, tagBroadcast)
		if err != nil {
			return err
		}
		return commio.DecodeValue(p, value)
	}
	p, err := commio.EncodeValue(value)
	if err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	for rank := 0; rank < c.Size(); rank++ {
		if rank == src {
			continue
		}
		rank := rank
		g.Go(func() error {
			return c.Send(ctx, rank, tagBroadcast, p)
		})
	}
	return g.Wait()
}

// Scatter distributes a logically contiguous buffer of equal-sized
// blocks, one block per rank, from rank src. On rank src, buf holds
// the full buffer and width is the byte width of a single element:
// the buffer must divide into Size() equal blocks, each a whole
// number of elements. On every other rank, buf and width are ignored.
// Scatter returns the block belonging to the calling rank; the source
// keeps its own block without a self-transfer.
//
// Scatter requires a uniform, statically known element width.
// Variable-length records should be distributed with per-rank framed
// Sends instead.
func (c *Comm) Scatter(ctx context.Context, src int, buf []byte, width int) ([]byte, error) {
	c.checkRank(src)
	if c.Rank() != src {
		return c.Recv(ctx, src, tagScatter)
	}
	size := c.Size()
	must.Truef(len(buf)%size == 0, "scatter: buffer of %d bytes does not divide into %d blocks", len(buf), size)
	block := len(buf) / size
	must.Truef(width > 0, "scatter: element width %d", width)
	must.Truef(block%width == 0, "scatter: block of %d bytes splits elements of width %d", block, width)
	g, ctx := errgroup.WithContext(ctx)
	for rank := 0; rank < size; rank++ {
		if rank == src {
			continue
		}
		rank := rank
		g.Go(func() error {
			return c.Send(ctx, rank, tagScatter, buf[rank*block:(rank+1)*block])
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return buf[src*block : (src+1)*block], nil
}

// Gather is the inverse of Scatter: rank dst reassembles the full
// result by concatenating each rank's contribution in rank order.
// Contributions may vary in length; framing carries each
// contribution's size. Gather returns the assembled buffer on rank
// dst and nil on every other rank. The destination's own contribution
// is copied in place without a self-transfer.
func (c *Comm) Gather(ctx context.Context, dst int, local []byte) ([]byte, error) {
	c.checkRank(dst)
	if c.Rank() != dst {
		return nil, c.Send(ctx, dst, tagGather, local)
	}
	var out []byte
	// Receive in rank order so that concatenation preserves the
	// dataset's original index order.
	for rank := 0; rank < c.Size(); rank++ {
		p := local
		if rank != dst {
			var err error
			p, err = c.Recv(ctx, rank, tagGather)
			if err != nil {
				return nil, err
			}
		}
		out = append(out, p...)
	}
	return out, nil
}

// Barrier blocks until every participant in the group has called it.
// No values are exchanged; Barrier is used to align phase boundaries,
// for example before timing measurement. The coordinator acts as the
// hub: it collects one arrival from each worker, then releases them
// all.
func (c *Comm) Barrier(ctx context.Context) error {
	if c.Size() == 1 {
		return nil
	}
	if !c.group.IsCoordinator() {
		if err := c.Send(ctx, 0, tagBarrier, nil); err != nil {
			return err
		}
		_, err := c.Recv(ctx, 0, tagBarrierRelease)
		return err
	}
	for rank := 1; rank < c.Size(); rank++ {
		if _, err := c.Recv(ctx, rank, tagBarrier); err != nil {
			return err
		}
	}
	g, ctx := errgroup.WithContext(ctx)
	for rank := 1; rank < c.Size(); rank++ {
		rank := rank
		g.Go(func() error {
			return c.Send(ctx, rank, tagBarrierRelease, nil)
		})
	}
	return g.Wait()
}
