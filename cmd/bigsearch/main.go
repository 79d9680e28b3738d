// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Bigsearch searches one or more phonebook files for contacts whose
// name contains a query string, distributing the records across a
// fixed participant group. The coordinator reads the phonebooks,
// sends each rank its share of the records as framed messages,
// gathers the matches in rank order, and writes them to the output
// file, one "name phone" line per match. Every participant reports
// its own compute time independently.
//
// The group runs either in-process:
//
//	bigsearch -local 4 phonebook.txt Bob
//
// or distributed, one process per rank with a shared address list:
//
//	bigsearch -rank 0 -addrs host0:7000,host1:7000 phonebook.txt Bob
//	bigsearch -rank 1 -addrs host0:7000,host1:7000 phonebook.txt Bob
//
// Bigsearch exits with code 1 when given insufficient arguments or
// when the phonebooks cannot be read.
package main

import (
	"context"
	"flag"
	"fmt"
	"io/ioutil"
	"os"
	"strings"

	"github.com/grailbio/base/log"
	"github.com/grailbio/bigcomm"
	"github.com/grailbio/bigcomm/commtcp"
	"github.com/grailbio/bigcomm/exec"
	"github.com/grailbio/bigcomm/phonebook"
	"github.com/grailbio/bigcomm/stats"
	"golang.org/x/sync/errgroup"
)

func main() {
	log.AddFlags()
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `usage:
	bigsearch -local participants [flags] file... query
	bigsearch -rank rank -addrs addr0,addr1,... [flags] file... query
`)
		flag.PrintDefaults()
		os.Exit(1)
	}
	var (
		local = flag.Int("local", 0, "run the whole group in-process with this many participants")
		rank  = flag.Int("rank", 0, "this process's rank within the group")
		addrs = flag.String("addrs", "", "comma-separated listen addresses, in rank order")
		out   = flag.String("o", "output.txt", "file to which the coordinator writes the matches")
	)
	flag.Parse()
	if flag.NArg() < 2 {
		flag.Usage()
	}
	var (
		files = flag.Args()[:flag.NArg()-1]
		query = flag.Arg(flag.NArg() - 1)
	)

	ctx := context.Background()
	var err error
	switch {
	case *local > 0:
		err = runLocal(ctx, *local, files, query, *out)
	case *addrs != "":
		err = runTCP(ctx, *rank, strings.Split(*addrs, ","), files, query, *out)
	default:
		flag.Usage()
	}
	if err != nil {
		log.Error.Printf("bigsearch: %v", err)
		os.Exit(1)
	}
}

func runLocal(ctx context.Context, size int, files []string, query, out string) error {
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
			return exec.Run(ctx, newJob(c, files, query, out, stats.NewMap()))
		})
	}
	return g.Wait()
}

func runTCP(ctx context.Context, rank int, addrs []string, files []string, query, out string) error {
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
	return exec.Run(ctx, newJob(c, files, query, out, m))
}

func newJob(c *bigcomm.Comm, files []string, query, out string, m *stats.Map) *exec.Job {
	job := &exec.Job{
		Comm:   c,
		Policy: bigcomm.Tolerant,
		Stats:  m,
		Kernel: func() bigcomm.Kernel { return phonebook.Kernel{Query: query} },
	}
	if c.Group().IsCoordinator() {
		var contacts []phonebook.Contact
		job.Setup = func() (int, error) {
			var err error
			contacts, err = phonebook.ReadFiles(files...)
			return len(contacts), err
		}
		job.Partition = func(r bigcomm.Range) []byte {
			return phonebook.Marshal(contacts[r.Start:r.End])
		}
		job.Emit = func(result []byte) error {
			return ioutil.WriteFile(out, result, 0666)
		}
	}
	return job
}
