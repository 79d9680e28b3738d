// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package commtcp implements a bigcomm.Transport over TCP for
// distributed runs. Every participant listens on its own address;
// connections are dialed lazily, one per (sender, receiver) pair and
// direction, and dialing retries with backoff so that participants
// may start in any order.
//
// Each message travels as a single framed payload (see commio)
// carrying a fixed envelope: the sender's tag, a murmur3 checksum of
// the body, and the body itself. A connection's first frame instead
// announces the dialing participant's rank. Messages from a fixed
// sender on a fixed tag are delivered in send order; ordering across
// distinct senders or tags is unspecified.
package commtcp

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/retry"
	"github.com/grailbio/bigcomm"
	"github.com/grailbio/bigcomm/commio"
	"github.com/grailbio/bigcomm/stats"
	"github.com/spaolacci/murmur3"
)

// envelopeSize is the fixed preamble of every message frame: a 4-byte
// tag followed by a 4-byte body checksum.
const envelopeSize = 8

// queueDepth is the per-channel buffer between the demultiplexer and
// Recv. Once a queue fills, TCP backpressure stalls the sender.
const queueDepth = 128

var dialPolicy = retry.Backoff(100*time.Millisecond, 5*time.Second, 1.5)

type queueKey struct{ src, tag int }

// Transport is a TCP-backed bigcomm.Transport. It must be closed
// after the run to release its listener and connections.
type Transport struct {
	group bigcomm.Group
	addrs []string
	stats *stats.Map

	listener net.Listener

	mu     sync.Mutex
	peers  map[int]*peer
	queues map[queueKey]chan []byte
	err    error

	done chan struct{}
}

// A peer is an outgoing connection to a single rank. Frame writes are
// serialized so that concurrent sends to the same rank interleave on
// whole-message boundaries.
type peer struct {
	mu   sync.Mutex
	conn net.Conn
}

// Listen creates a transport for the participant identified by group.
// addrs holds one listen address per rank, in rank order; the
// transport listens on addrs[group.Rank()] and dials the others on
// demand. The stats map, if non-nil, accrues read.bytes and
// write.bytes counters.
func Listen(group bigcomm.Group, addrs []string, stats *stats.Map) (*Transport, error) {
	if len(addrs) != group.Size() {
		return nil, errors.E(errors.Invalid,
			fmt.Sprintf("commtcp: %d addresses for a group of %d", len(addrs), group.Size()))
	}
	l, err := net.Listen("tcp", addrs[group.Rank()])
	if err != nil {
		return nil, errors.E(err, fmt.Sprintf("commtcp: listen %s", addrs[group.Rank()]))
	}
	t := &Transport{
		group:    group,
		addrs:    addrs,
		stats:    stats,
		listener: l,
		peers:    make(map[int]*peer),
		queues:   make(map[queueKey]chan []byte),
		done:     make(chan struct{}),
	}
	go t.accept()
	return t, nil
}

// Addr returns the address on which the transport is listening.
func (t *Transport) Addr() net.Addr { return t.listener.Addr() }

// Close shuts down the transport's listener and connections. Pending
// operations are unblocked with an error.
func (t *Transport) Close() error {
	t.setErr(errors.New("transport closed"))
	return nil
}

// Send implements bigcomm.Transport. The payload is written as a
// single frame on the (possibly freshly dialed) connection to dst;
// Send returns once the frame has been handed to the network. A
// payload sent to the sender's own rank is delivered locally without
// touching a socket.
func (t *Transport) Send(ctx context.Context, dst, tag int, payload []byte) error {
	if dst == t.group.Rank() {
		return t.deliver(ctx, dst, tag, payload)
	}
	p, err := t.peer(ctx, dst)
	if err != nil {
		return err
	}
	msg := make([]byte, envelopeSize+len(payload))
	binary.BigEndian.PutUint32(msg[0:4], uint32(int32(tag)))
	binary.BigEndian.PutUint32(msg[4:8], murmur3.Sum32(payload))
	copy(msg[envelopeSize:], payload)
	p.mu.Lock()
	err = commio.WriteFrame(p.conn, msg)
	p.mu.Unlock()
	if err != nil {
		return errors.E(err, fmt.Sprintf("commtcp: send to rank %d", dst))
	}
	t.stats.Int("write.bytes").Add(int64(len(msg)))
	return nil
}

// Recv implements bigcomm.Transport, blocking for the next message
// from rank src on the given tag.
func (t *Transport) Recv(ctx context.Context, src, tag int) ([]byte, error) {
	ch := t.queue(src, tag)
	select {
	case p := <-ch:
		return p, nil
	case <-t.done:
		return nil, t.loadErr()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// peer returns the outgoing connection to dst, dialing it if
// necessary. Dialing retries with backoff until the peer's listener
// is up or the context is done.
func (t *Transport) peer(ctx context.Context, dst int) (*peer, error) {
	t.mu.Lock()
	p, ok := t.peers[dst]
	if !ok {
		p = new(peer)
		t.peers[dst] = p
	}
	t.mu.Unlock()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		return p, nil
	}
	var dialer net.Dialer
	for retries := 0; ; retries++ {
		conn, err := dialer.DialContext(ctx, "tcp", t.addrs[dst])
		if err == nil {
			// Announce our rank so the accepting side can attribute
			// subsequent frames.
			var hello [4]byte
			binary.BigEndian.PutUint32(hello[:], uint32(t.group.Rank()))
			if err = commio.WriteFrame(conn, hello[:]); err != nil {
				conn.Close()
				return nil, errors.E(err, fmt.Sprintf("commtcp: hello to rank %d", dst))
			}
			p.conn = conn
			return p, nil
		}
		if err := retry.Wait(ctx, dialPolicy, retries); err != nil {
			return nil, errors.E(err, fmt.Sprintf("commtcp: dial rank %d at %s", dst, t.addrs[dst]))
		}
	}
}

func (t *Transport) accept() {
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.done:
			default:
				t.setErr(errors.E(err, "commtcp: accept"))
			}
			return
		}
		go t.demux(conn)
	}
}

// demux reads frames from an accepted connection and routes each
// message to its (sender, tag) queue. The first frame names the
// sender's rank.
func (t *Transport) demux(conn net.Conn) {
	defer conn.Close()
	hello, err := commio.ReadFrame(conn)
	if err != nil || len(hello) != 4 {
		log.Error.Printf("commtcp: rank %d: bad hello from %s: %v", t.group.Rank(), conn.RemoteAddr(), err)
		return
	}
	src := int(binary.BigEndian.Uint32(hello))
	if src < 0 || src >= t.group.Size() {
		log.Error.Printf("commtcp: rank %d: hello names rank %d outside of group", t.group.Rank(), src)
		return
	}
	for {
		msg, err := commio.ReadFrame(conn)
		if err != nil {
			select {
			case <-t.done:
			default:
				// A cleanly closed connection at end of run is not an
				// error worth surfacing.
				log.Debug.Printf("commtcp: rank %d: connection from rank %d closed: %v", t.group.Rank(), src, err)
			}
			return
		}
		if len(msg) < envelopeSize {
			t.setErr(errors.E(errors.Integrity, fmt.Sprintf("commtcp: truncated envelope from rank %d", src)))
			return
		}
		tag := int(int32(binary.BigEndian.Uint32(msg[0:4])))
		sum := binary.BigEndian.Uint32(msg[4:8])
		body := msg[envelopeSize:]
		if murmur3.Sum32(body) != sum {
			t.setErr(errors.E(errors.Integrity, fmt.Sprintf("commtcp: checksum mismatch from rank %d tag %d", src, tag)))
			return
		}
		t.stats.Int("read.bytes").Add(int64(len(msg)))
		if len(body) == 0 {
			body = nil
		}
		select {
		case t.queue(src, tag) <- body:
		case <-t.done:
			return
		}
	}
}

// deliver routes a self-addressed payload to the local queue.
func (t *Transport) deliver(ctx context.Context, src, tag int, payload []byte) error {
	select {
	case t.queue(src, tag) <- payload:
		return nil
	case <-t.done:
		return t.loadErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Transport) queue(src, tag int) chan []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := queueKey{src, tag}
	ch, ok := t.queues[key]
	if !ok {
		ch = make(chan []byte, queueDepth)
		t.queues[key] = ch
	}
	return ch
}

func (t *Transport) setErr(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-t.done:
		return
	default:
	}
	t.err = err
	close(t.done)
	t.listener.Close()
	for _, p := range t.peers {
		p.mu.Lock()
		if p.conn != nil {
			p.conn.Close()
		}
		p.mu.Unlock()
	}
}

func (t *Transport) loadErr() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}
