// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

/*
	Package bigcomm implements message-passing batch computation over a
	fixed group of cooperating participants. A computation comprises a
	set of single-threaded processes, fixed at launch, each identified
	by an integer rank; rank 0 acts as the coordinator. The coordinator
	holds the authoritative dataset, pushes partitions outward, each
	participant computes independently over its own partition, and
	results flow back to the coordinator for final assembly.

	Participants exchange data through a Transport, which moves framed
	payloads between (sender, receiver, tag) triples in send order. On
	top of point-to-point transfers, Comm provides the usual collective
	operations: Broadcast, Scatter, Gather, and Barrier. All operations
	are blocking: an unmatched send or receive blocks its participant
	indefinitely. Protocols must therefore be constructed so that every
	send is paired with exactly one receive; there is no runtime
	detection of mismatches.

	Datasets are split by a partition Policy into per-rank index
	ranges. Local computation is expressed as a Kernel, invoked once
	per partition with no access to data outside of it. Package exec
	drives the end-to-end coordinator/worker sequence; packages matmul
	and phonebook provide example kernels; packages commtcp and
	commtest provide TCP and in-process transports.

	Group membership is fixed for the lifetime of a run: there is no
	dynamic membership, no fault tolerance, and no retry. A crashed or
	hung participant stalls its peers indefinitely.
*/
package bigcomm
