// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Bigmatmul runs the batched modular matrix multiply kernel over a
// fixed participant group. The coordinator generates K random matrix
// pairs, broadcasts the dimensions, scatters equal blocks of pairs to
// the group, and gathers the multiplied results; every participant
// reports its own compute time after a closing barrier.
//
// The group runs either in-process:
//
//	bigmatmul -local 4
//
// or distributed, one process per rank with a shared address list:
//
//	bigmatmul -rank 0 -addrs host0:7000,host1:7000
//	bigmatmul -rank 1 -addrs host0:7000,host1:7000
//
// The number of matrix pairs must divide evenly across the group;
// bigmatmul exits with code 1 otherwise, before any work is
// distributed.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strings"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/must"
	"github.com/grailbio/bigcomm"
	"github.com/grailbio/bigcomm/commtcp"
	"github.com/grailbio/bigcomm/exec"
	"github.com/grailbio/bigcomm/matmul"
	"github.com/grailbio/bigcomm/stats"
	"golang.org/x/sync/errgroup"
)

func main() {
	log.AddFlags()
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `usage:
	bigmatmul -local participants [flags]
	bigmatmul -rank rank -addrs addr0,addr1,... [flags]
`)
		flag.PrintDefaults()
		os.Exit(1)
	}
	var (
		local = flag.Int("local", 0, "run the whole group in-process with this many participants")
		rank  = flag.Int("rank", 0, "this process's rank within the group")
		addrs = flag.String("addrs", "", "comma-separated listen addresses, in rank order")
		k     = flag.Int("k", 100, "number of matrix pairs")
		m     = flag.Int("m", 50, "rows of each A matrix")
		n     = flag.Int("n", 50, "columns of each A matrix and rows of each B matrix")
		p     = flag.Int("p", 50, "columns of each B matrix")
		seed  = flag.Int64("seed", 1, "seed for the random dataset")
	)
	flag.Parse()
	dims := matmul.Dims{K: *k, M: *m, N: *n, P: *p}

	ctx := context.Background()
	var err error
	switch {
	case *local > 0:
		err = runLocal(ctx, *local, dims, *seed)
	case *addrs != "":
		err = runTCP(ctx, *rank, strings.Split(*addrs, ","), dims, *seed)
	default:
		flag.Usage()
	}
	if err != nil {
		log.Error.Printf("bigmatmul: %v", err)
		os.Exit(1)
	}
}

func runLocal(ctx context.Context, size int, dims matmul.Dims, seed int64) error {
	transports := bigcomm.Local(size)
	g, ctx := errgroup.WithContext(ctx)
	for rank := 0; rank < size; rank++ {
		rank := rank
		g.Go(func() error {
			group, err := bigcomm.NewGroup(rank, size)
			if err != nil {
				return err
			}
			c := bigcomm.New(group, transports[rank])
			return exec.Run(ctx, newJob(c, dims, seed, stats.NewMap()))
		})
	}
	return g.Wait()
}

func runTCP(ctx context.Context, rank int, addrs []string, dims matmul.Dims, seed int64) error {
	group, err := bigcomm.NewGroup(rank, len(addrs))
	if err != nil {
		return err
	}
	m := stats.NewMap()
	transport, err := commtcp.Listen(group, addrs, m)
	if err != nil {
		return err
	}
	defer transport.Close()
	c := bigcomm.New(group, transport)
	return exec.Run(ctx, newJob(c, dims, seed, m))
}

// newJob builds the per-rank job. Dimensions are broadcast from the
// coordinator during validation, as in the original batch program;
// each rank keeps its own copy to receive into.
func newJob(c *bigcomm.Comm, dims matmul.Dims, seed int64, m *stats.Map) *exec.Job {
	d := dims
	job := &exec.Job{
		Comm:         c,
		Policy:       bigcomm.Strict,
		Uniform:      true,
		AlignReports: true,
		Stats:        m,
		Config:       &d,
		Kernel:       func() bigcomm.Kernel { return matmul.Kernel{Dims: d} },
	}
	if c.Group().IsCoordinator() {
		var dataset []byte
		job.Setup = func() (int, error) {
			if err := d.Validate(); err != nil {
				return 0, err
			}
			dataset = matmul.Random(d, rand.New(rand.NewSource(seed)))
			return d.K, nil
		}
		job.Partition = func(r bigcomm.Range) []byte {
			must.True(dataset != nil, "partition before setup")
			return dataset[r.Start*d.RecordWidth() : r.End*d.RecordWidth()]
		}
	}
	return job
}
