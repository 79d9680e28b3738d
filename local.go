// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigcomm

import (
	"context"
	"sync"

	"github.com/grailbio/base/must"
)

// Local returns an in-process transport mesh for a group of the given
// size: the i'th transport belongs to rank i. Transfers rendezvous on
// unbuffered channels, so a send blocks until its matching receive is
// issued and vice versa. Local meshes are used for single-process
// runs and for testing; they carry the same ordering and blocking
// semantics as a distributed transport.
func Local(size int) []Transport {
	must.Truef(size > 0, "local mesh size %d", size)
	mesh := &localMesh{chans: make(map[localKey]chan []byte)}
	transports := make([]Transport, size)
	for rank := range transports {
		transports[rank] = &localTransport{rank: rank, size: size, mesh: mesh}
	}
	return transports
}

type localKey struct{ src, dst, tag int }

// A localMesh holds the rendezvous channels shared by a Local group.
// Channels are created lazily, one per (sender, receiver, tag)
// triple, and are unbuffered: payload hand-off is synchronous.
type localMesh struct {
	mu    sync.Mutex
	chans map[localKey]chan []byte
}

func (m *localMesh) channel(key localKey) chan []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.chans[key]
	if !ok {
		ch = make(chan []byte)
		m.chans[key] = ch
	}
	return ch
}

type localTransport struct {
	rank, size int
	mesh       *localMesh
}

func (t *localTransport) Send(ctx context.Context, dst, tag int, payload []byte) error {
	must.Truef(0 <= dst && dst < t.size, "send to rank %d outside of group [0,%d)", dst, t.size)
	ch := t.mesh.channel(localKey{src: t.rank, dst: dst, tag: tag})
	select {
	case ch <- payload:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *localTransport) Recv(ctx context.Context, src, tag int) ([]byte, error) {
	must.Truef(0 <= src && src < t.size, "receive from rank %d outside of group [0,%d)", src, t.size)
	ch := t.mesh.channel(localKey{src: src, dst: t.rank, tag: tag})
	select {
	case p := <-ch:
		return p, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
