// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package exec drives the end-to-end coordinator/worker sequence of a
// bigcomm run. The state machine has the same shape on every
// participant, specialized by rank:
//
//	Start → ValidateConfig → (abort) → Distribute → Compute → Collect → Emit/Finish
//
// The coordinator validates the run and broadcasts its verdict before
// any distribution, so a rejected run is observed by every rank
// rather than leaving workers blocked on a distribution that will
// never arrive. Distribution uses the Scatter collective for
// fixed-width records and per-rank framed sends otherwise; collection
// always gathers in rank order. Every participant, the coordinator
// included, computes its own partition locally and reports its own
// elapsed compute time independently.
package exec

import (
	"context"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/must"
	"github.com/grailbio/bigcomm"
	"github.com/grailbio/bigcomm/commio"
	"github.com/grailbio/bigcomm/stats"
)

// tagPartition carries partition payloads from the coordinator to
// workers when records are not fixed-width.
const tagPartition = 0

// A Job describes one batch computation over a group. The zero Job
// is not runnable: Comm and Kernel are required on every rank, and
// Setup and Partition are required on the coordinator.
type Job struct {
	// Comm is the participant's communicator.
	Comm *bigcomm.Comm

	// Policy splits the dataset into per-rank ranges.
	Policy bigcomm.Policy

	// Kernel returns the run's compute kernel. It is invoked after
	// the configuration exchange, so kernels may depend on the
	// broadcast configuration.
	Kernel func() bigcomm.Kernel

	// Config, if non-nil, is exchanged during validation: on the
	// coordinator it holds the run configuration to broadcast; on
	// workers it must be a pointer into which the configuration is
	// decoded.
	Config interface{}

	// Setup is called on the coordinator before the verdict
	// broadcast. It loads or produces the authoritative dataset and
	// returns its total record count. A Setup error aborts the run on
	// every rank.
	Setup func() (records int, err error)

	// Partition encodes the records of the given range for transfer.
	// Called only on the coordinator. Under Uniform distribution it
	// is called once with the full dataset range; otherwise once per
	// rank.
	Partition func(r bigcomm.Range) []byte

	// Emit, if non-nil, writes the assembled result. Called only on
	// the coordinator, after all contributions are collected.
	Emit func(result []byte) error

	// Uniform declares that records have a fixed byte width, enabling
	// Scatter/Gather distribution of contiguous equal-sized blocks.
	// Uniform jobs require the Strict policy.
	Uniform bool

	// AlignReports inserts a Barrier before the timing report so that
	// per-rank reports measure a completed group computation.
	AlignReports bool

	// Stats, if non-nil, accrues the participant's run counters.
	Stats *stats.Map
}

// A verdict is the coordinator's validation decision, broadcast to
// the group before any distribution. A non-empty Abort rejects the
// run on every rank.
type verdict struct {
	Abort  string
	Total  int
	Config []byte
}

// Run executes the job on the calling participant, blocking until the
// participant's part in the run is complete. All ranks of the group
// must call Run with compatible jobs; mismatched protocols block
// indefinitely, as with all group operations.
//
// Run returns an error of kind errors.Invalid when the run is
// rejected during validation, on the coordinator and workers alike.
func Run(ctx context.Context, job *Job) error {
	must.True(job.Comm != nil, "exec: nil comm")
	must.True(job.Kernel != nil, "exec: nil kernel")
	c := job.Comm
	group := c.Group()
	size := group.Size()

	// ValidateConfig. The coordinator alone decides; the decision is
	// broadcast so that a rejection is observed by every rank.
	var (
		v    verdict
		plan []bigcomm.Range
	)
	if group.IsCoordinator() {
		var (
			total int
			err   error
		)
		if job.Setup != nil {
			total, err = job.Setup()
		}
		if err == nil && job.Uniform && job.Policy != bigcomm.Strict {
			err = errors.E(errors.Invalid, "uniform distribution requires the strict policy")
		}
		if err == nil {
			plan, err = job.Policy.Plan(total, size)
		}
		if err == nil && job.Config != nil {
			v.Config, err = commio.EncodeValue(job.Config)
		}
		if err != nil {
			v.Abort = err.Error()
		}
		v.Total = total
		if berr := c.Broadcast(ctx, 0, v); berr != nil {
			return berr
		}
	} else {
		if err := c.Broadcast(ctx, 0, &v); err != nil {
			return err
		}
	}
	if v.Abort != "" {
		return errors.E(errors.Invalid, v.Abort)
	}
	if !group.IsCoordinator() && job.Config != nil {
		if err := commio.DecodeValue(v.Config, job.Config); err != nil {
			return err
		}
	}

	// Distribute. The coordinator pushes each rank's partition
	// outward and keeps its own without a self-transfer.
	var (
		local []byte
		err   error
	)
	switch {
	case job.Uniform:
		var buf []byte
		width := 1
		if group.IsCoordinator() {
			buf = job.Partition(bigcomm.Range{Start: 0, End: v.Total})
			if v.Total > 0 {
				width = len(buf) / v.Total
			}
		}
		local, err = c.Scatter(ctx, 0, buf, width)
	case group.IsCoordinator():
		for rank := 1; rank < size; rank++ {
			if err = c.Send(ctx, rank, tagPartition, job.Partition(plan[rank])); err != nil {
				return err
			}
		}
		local = job.Partition(plan[0])
	default:
		local, err = c.Recv(ctx, 0, tagPartition)
	}
	if err != nil {
		return err
	}
	job.Stats.Int("partition.bytes").Set(int64(len(local)))

	// Compute. Purely local; each participant times its own kernel.
	kernel := job.Kernel()
	begin := time.Now()
	out, err := kernel.Compute(ctx, local)
	elapsed := time.Since(begin)
	if err != nil {
		return err
	}
	job.Stats.Int("compute.ns").Set(int64(elapsed))
	job.Stats.Int("result.bytes").Set(int64(len(out)))

	// Collect. Contributions are reassembled on the coordinator in
	// rank order; workers are done once their contribution is sent.
	result, err := c.Gather(ctx, 0, out)
	if err != nil {
		return err
	}

	// Emit/Finish.
	if group.IsCoordinator() && job.Emit != nil {
		if err := job.Emit(result); err != nil {
			return err
		}
	}
	if job.AlignReports {
		if err := c.Barrier(ctx); err != nil {
			return err
		}
	}
	// Each participant reports its own measured compute time;
	// reports are not ordered across ranks.
	log.Printf("%s: computed %d byte partition in %s", group, len(local), elapsed)
	if job.Stats != nil {
		log.Printf("%s: %s", group, job.Stats.Snapshot())
	}
	return nil
}
