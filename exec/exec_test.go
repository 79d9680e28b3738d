// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec_test

import (
	"bytes"
	"context"
	"math/rand"
	"sort"
	"strings"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/bigcomm"
	"github.com/grailbio/bigcomm/commtest"
	"github.com/grailbio/bigcomm/exec"
	"github.com/grailbio/bigcomm/matmul"
	"github.com/grailbio/bigcomm/phonebook"
	"github.com/grailbio/bigcomm/stats"
)

var book = []phonebook.Contact{
	{Name: "Bob Marley", Phone: "555-1212"},
	{Name: "Ann Droid", Phone: "555-0001"},
	{Name: "Bobby Brown", Phone: "555-0002"},
	{Name: "Carl Sagan", Phone: "555-0003"},
	{Name: "Zed Zeppelin", Phone: "555-0004"},
	{Name: "Bob Ross", Phone: "555-0005"},
	{Name: "Dee Dee", Phone: "555-0006"},
}

func searchJob(c *bigcomm.Comm, contacts []phonebook.Contact, query string, emit func([]byte) error) *exec.Job {
	job := &exec.Job{
		Comm:   c,
		Policy: bigcomm.Tolerant,
		Kernel: func() bigcomm.Kernel { return phonebook.Kernel{Query: query} },
		Stats:  stats.NewMap(),
	}
	if c.Group().IsCoordinator() {
		job.Setup = func() (int, error) { return len(contacts), nil }
		job.Partition = func(r bigcomm.Range) []byte { return phonebook.Marshal(contacts[r.Start:r.End]) }
		job.Emit = emit
	}
	return job
}

func TestRunSearch(t *testing.T) {
	ctx := context.Background()
	for _, size := range []int{1, 2, 3, 7, 9} {
		var result []byte
		commtest.Run(t, size, func(c *bigcomm.Comm) {
			job := searchJob(c, book, "Bob", func(p []byte) error {
				result = p
				return nil
			})
			if err := exec.Run(ctx, job); err != nil {
				t.Errorf("size %d rank %d: %v", size, c.Rank(), err)
			}
		})
		want := "Bob Marley 555-1212\nBobby Brown 555-0002\nBob Ross 555-0005\n"
		if got := string(result); got != want {
			t.Errorf("size %d: got %q, want %q", size, got, want)
		}
	}
}

func TestRunSearchNoMatches(t *testing.T) {
	ctx := context.Background()
	var result []byte
	emitted := false
	commtest.Run(t, 3, func(c *bigcomm.Comm) {
		job := searchJob(c, book, "Xylo", func(p []byte) error {
			emitted, result = true, p
			return nil
		})
		if err := exec.Run(ctx, job); err != nil {
			t.Errorf("rank %d: %v", c.Rank(), err)
		}
	})
	if !emitted {
		t.Fatal("coordinator did not emit")
	}
	if len(result) != 0 {
		t.Errorf("got %q, want empty", result)
	}
}

func TestRunMatmul(t *testing.T) {
	ctx := context.Background()
	d := matmul.Dims{K: 12, M: 2, N: 3, P: 2}
	dataset := matmul.Random(d, rand.New(rand.NewSource(7)))
	kernel := matmul.Kernel{Dims: d}
	// Partition-invariance: the gathered result must equal the result
	// of one kernel invocation over the whole, unsplit dataset.
	want, err := kernel.Compute(ctx, dataset)
	if err != nil {
		t.Fatal(err)
	}
	for _, size := range []int{1, 2, 3, 4, 6} {
		var result []byte
		commtest.Run(t, size, func(c *bigcomm.Comm) {
			dims := d
			job := &exec.Job{
				Comm:         c,
				Policy:       bigcomm.Strict,
				Uniform:      true,
				AlignReports: true,
				Config:       &dims,
				Kernel:       func() bigcomm.Kernel { return matmul.Kernel{Dims: dims} },
				Stats:        stats.NewMap(),
			}
			if c.Group().IsCoordinator() {
				job.Setup = func() (int, error) { return d.K, nil }
				job.Partition = func(r bigcomm.Range) []byte {
					return dataset[r.Start*d.RecordWidth() : r.End*d.RecordWidth()]
				}
				job.Emit = func(p []byte) error {
					result = p
					return nil
				}
			}
			if err := exec.Run(ctx, job); err != nil {
				t.Errorf("size %d rank %d: %v", size, c.Rank(), err)
			}
		})
		if !bytes.Equal(result, want) {
			t.Errorf("size %d: gathered result differs from unsplit computation", size)
		}
	}
}

func TestRunStrictIndivisible(t *testing.T) {
	// A non-divisible record count under the strict policy is
	// rejected before any distribution, and every rank observes the
	// rejection.
	ctx := context.Background()
	const size = 3
	var (
		computed    bool
		distributed bool
	)
	errs := make([]error, size)
	commtest.Run(t, size, func(c *bigcomm.Comm) {
		job := &exec.Job{
			Comm:   c,
			Policy: bigcomm.Strict,
			Kernel: func() bigcomm.Kernel {
				return bigcomm.KernelFunc(func(ctx context.Context, p []byte) ([]byte, error) {
					computed = true
					return nil, nil
				})
			},
		}
		if c.Group().IsCoordinator() {
			job.Setup = func() (int, error) { return 7, nil } // 7 % 3 != 0
			job.Partition = func(r bigcomm.Range) []byte {
				distributed = true
				return nil
			}
		}
		errs[c.Rank()] = exec.Run(ctx, job)
	})
	for rank, err := range errs {
		if err == nil {
			t.Errorf("rank %d: expected error", rank)
			continue
		}
		if !errors.Is(errors.Invalid, err) {
			t.Errorf("rank %d: error %v is not Invalid", rank, err)
		}
	}
	if computed {
		t.Error("compute phase ran after a rejected validation")
	}
	if distributed {
		t.Error("distribution ran after a rejected validation")
	}
}

func TestRunSetupError(t *testing.T) {
	// A coordinator-side setup failure (e.g. an unreadable input
	// file) aborts the run on every rank.
	ctx := context.Background()
	const size = 4
	errs := make([]error, size)
	commtest.Run(t, size, func(c *bigcomm.Comm) {
		job := searchJob(c, nil, "Bob", nil)
		if c.Group().IsCoordinator() {
			job.Setup = func() (int, error) {
				return 0, errors.E(errors.Invalid, "no such phonebook")
			}
		}
		errs[c.Rank()] = exec.Run(ctx, job)
	})
	for rank, err := range errs {
		if err == nil || !strings.Contains(err.Error(), "no such phonebook") {
			t.Errorf("rank %d: got %v", rank, err)
		}
	}
}

func TestRunUniformRequiresStrict(t *testing.T) {
	ctx := context.Background()
	errs := make([]error, 2)
	commtest.Run(t, 2, func(c *bigcomm.Comm) {
		job := searchJob(c, book, "Bob", nil)
		job.Uniform = true
		errs[c.Rank()] = exec.Run(ctx, job)
	})
	for rank, err := range errs {
		if !errors.Is(errors.Invalid, err) {
			t.Errorf("rank %d: got %v, want Invalid", rank, err)
		}
	}
}

func TestRunEmptyDataset(t *testing.T) {
	ctx := context.Background()
	var result []byte
	commtest.Run(t, 3, func(c *bigcomm.Comm) {
		job := searchJob(c, nil, "Bob", func(p []byte) error {
			result = p
			return nil
		})
		if err := exec.Run(ctx, job); err != nil {
			t.Errorf("rank %d: %v", c.Rank(), err)
		}
	})
	if len(result) != 0 {
		t.Errorf("got %q, want empty", result)
	}
}

func TestRunConfigBroadcast(t *testing.T) {
	// Worker configuration comes from the coordinator's broadcast,
	// not from worker-local state.
	ctx := context.Background()
	type config struct{ Query string }
	const size = 3
	queries := make([]string, size)
	commtest.Run(t, size, func(c *bigcomm.Comm) {
		var cfg config
		if c.Group().IsCoordinator() {
			cfg.Query = "Marley"
		}
		job := &exec.Job{
			Comm:   c,
			Policy: bigcomm.Tolerant,
			Config: &cfg,
			Kernel: func() bigcomm.Kernel {
				queries[c.Rank()] = cfg.Query
				return phonebook.Kernel{Query: cfg.Query}
			},
		}
		if c.Group().IsCoordinator() {
			job.Setup = func() (int, error) { return len(book), nil }
			job.Partition = func(r bigcomm.Range) []byte { return phonebook.Marshal(book[r.Start:r.End]) }
		}
		if err := exec.Run(ctx, job); err != nil {
			t.Errorf("rank %d: %v", c.Rank(), err)
		}
	})
	sorted := append([]string{}, queries...)
	sort.Strings(sorted)
	for _, q := range queries {
		if q != "Marley" {
			t.Fatalf("got queries %v, want all %q", sorted, "Marley")
		}
	}
}
