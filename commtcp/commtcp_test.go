// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package commtcp

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/grailbio/bigcomm"
	"github.com/grailbio/bigcomm/stats"
)

// freeAddrs reserves n distinct loopback addresses. The listeners are
// closed before returning, so a transport can bind them immediately
// afterwards.
func freeAddrs(t *testing.T, n int) []string {
	t.Helper()
	addrs := make([]string, n)
	listeners := make([]net.Listener, n)
	for i := range addrs {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatal(err)
		}
		listeners[i] = l
		addrs[i] = l.Addr().String()
	}
	for _, l := range listeners {
		l.Close()
	}
	return addrs
}

// mesh starts one transport per rank.
func mesh(t *testing.T, size int) []*Transport {
	t.Helper()
	addrs := freeAddrs(t, size)
	transports := make([]*Transport, size)
	for rank := range transports {
		group, err := bigcomm.NewGroup(rank, size)
		if err != nil {
			t.Fatal(err)
		}
		tr, err := Listen(group, addrs, stats.NewMap())
		if err != nil {
			t.Fatal(err)
		}
		transports[rank] = tr
		t.Cleanup(func() { tr.Close() })
	}
	return transports
}

func TestSendRecv(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	transports := mesh(t, 2)
	if err := transports[0].Send(ctx, 1, 3, []byte("over the wire")); err != nil {
		t.Fatal(err)
	}
	p, err := transports[1].Recv(ctx, 0, 3)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(p), "over the wire"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestSendOrder(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	transports := mesh(t, 2)
	const n = 50
	for i := 0; i < n; i++ {
		if err := transports[0].Send(ctx, 1, 1, []byte(fmt.Sprintf("m%03d", i))); err != nil {
			t.Fatal(err)
		}
	}
	// Messages on a fixed (sender, tag) channel arrive in send order.
	for i := 0; i < n; i++ {
		p, err := transports[1].Recv(ctx, 0, 1)
		if err != nil {
			t.Fatal(err)
		}
		if got, want := string(p), fmt.Sprintf("m%03d", i); got != want {
			t.Fatalf("message %d: got %q, want %q", i, got, want)
		}
	}
}

func TestEmptyPayload(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	transports := mesh(t, 2)
	if err := transports[1].Send(ctx, 0, 0, nil); err != nil {
		t.Fatal(err)
	}
	p, err := transports[0].Recv(ctx, 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if p != nil {
		t.Errorf("got %v, want nil", p)
	}
}

func TestSelfSend(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	transports := mesh(t, 2)
	go func() {
		transports[0].Send(ctx, 0, 5, []byte("loopback"))
	}()
	p, err := transports[0].Recv(ctx, 0, 5)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(p), "loopback"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestGroupOverTCP(t *testing.T) {
	// Run the collectives over a real TCP mesh.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	const size = 3
	transports := mesh(t, size)
	var (
		wg      sync.WaitGroup
		results = make([][]byte, size)
		errs    = make([]error, size)
	)
	wg.Add(size)
	for rank := 0; rank < size; rank++ {
		rank := rank
		go func() {
			defer wg.Done()
			group, err := bigcomm.NewGroup(rank, size)
			if err != nil {
				errs[rank] = err
				return
			}
			c := bigcomm.New(group, transports[rank])
			var total int
			if rank == 0 {
				total = 6
				err = c.Broadcast(ctx, 0, total)
			} else {
				err = c.Broadcast(ctx, 0, &total)
			}
			if err != nil {
				errs[rank] = err
				return
			}
			local := bytes.Repeat([]byte{byte('0' + rank)}, total/size)
			if err := c.Barrier(ctx); err != nil {
				errs[rank] = err
				return
			}
			results[rank], errs[rank] = c.Gather(ctx, 0, local)
		}()
	}
	wg.Wait()
	for rank, err := range errs {
		if err != nil {
			t.Fatalf("rank %d: %v", rank, err)
		}
	}
	if got, want := string(results[0]), "001122"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestStatsCounters(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	transports := mesh(t, 2)
	if err := transports[0].Send(ctx, 1, 0, []byte("count me")); err != nil {
		t.Fatal(err)
	}
	if _, err := transports[1].Recv(ctx, 0, 0); err != nil {
		t.Fatal(err)
	}
	if got := transports[0].stats.Int("write.bytes").Get(); got == 0 {
		t.Error("sender recorded no written bytes")
	}
	if got := transports[1].stats.Int("read.bytes").Get(); got == 0 {
		t.Error("receiver recorded no read bytes")
	}
}
