// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package commtest provides utilities for testing group computations.
// Groups run in-process over a Local transport mesh, one goroutine
// per rank, with the same blocking and ordering semantics as a
// distributed run.
package commtest

import (
	"sync"
	"testing"
	"time"

	"github.com/grailbio/base/must"
	"github.com/grailbio/bigcomm"
)

// Timeout bounds a test group's run. A blocking protocol mismatch
// would otherwise hang the test binary.
const Timeout = 30 * time.Second

// Run spawns an in-process group of the given size and invokes fn
// once per rank, each on its own goroutine with its own Comm. Run
// returns once every rank's fn has returned, and fails the test if
// the group is still running after Timeout.
func Run(t *testing.T, size int, fn func(c *bigcomm.Comm)) {
	t.Helper()
	transports := bigcomm.Local(size)
	var wg sync.WaitGroup
	wg.Add(size)
	for rank := 0; rank < size; rank++ {
		group, err := bigcomm.NewGroup(rank, size)
		must.Nil(err)
		c := bigcomm.New(group, transports[rank])
		go func() {
			defer wg.Done()
			fn(c)
		}()
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(Timeout):
		t.Fatalf("group of %d did not complete within %s", size, Timeout)
	}
}

// Results collects one value per rank, written concurrently by group
// goroutines and read after the run completes.
type Results struct {
	mu   sync.Mutex
	vals map[int]interface{}
}

// Set records rank's value.
func (r *Results) Set(rank int, val interface{}) {
	r.mu.Lock()
	if r.vals == nil {
		r.vals = make(map[int]interface{})
	}
	r.vals[rank] = val
	r.mu.Unlock()
}

// Get returns rank's value, or nil if none was recorded.
func (r *Results) Get(rank int) interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.vals[rank]
}
