// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package stats provides per-participant counters for a bigcomm run:
// records processed, bytes moved by the transport, and the like. Each
// participant owns its counters exclusively; values are never
// aggregated across participants.
package stats

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// Values is a snapshot of a participant's counters.
type Values map[string]int64

// String returns the snapshot's values sorted by counter name.
func (v Values) String() string {
	keys := make([]string, 0, len(v))
	for key := range v {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for i, key := range keys {
		keys[i] = fmt.Sprintf("%s:%d", key, v[key])
	}
	return strings.Join(keys, " ")
}

// A Map is a set of counters keyed by name. The zero Map is not
// valid; use NewMap. A nil *Map discards all updates, so components
// may treat their stats handle as optional.
type Map struct {
	mu     sync.Mutex
	names  []string
	values map[string]*Int
}

// NewMap returns a fresh Map.
func NewMap() *Map {
	return &Map{values: make(map[string]*Int)}
}

// Int returns the counter with the provided name, creating it if it
// does not already exist. Int on a nil Map returns a nil counter,
// which discards updates.
func (m *Map) Int(name string) *Int {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	v := m.values[name]
	if v == nil {
		v = new(Int)
		m.values[name] = v
		m.names = append(m.names, name)
	}
	m.mu.Unlock()
	return v
}

// Snapshot returns the current value of every counter in the map.
func (m *Map) Snapshot() Values {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	vals := make(Values, len(m.values))
	for _, name := range m.names {
		vals[name] = m.values[name].Get()
	}
	m.mu.Unlock()
	return vals
}

// An Int is an integer counter that can be atomically incremented
// and set. The nil *Int discards updates and reads as zero.
type Int struct {
	val int64
}

// Add increments the counter by delta.
func (v *Int) Add(delta int64) {
	if v == nil {
		return
	}
	atomic.AddInt64(&v.val, delta)
}

// Set sets the counter's value to val.
func (v *Int) Set(val int64) {
	if v == nil {
		return
	}
	atomic.StoreInt64(&v.val, val)
}

// Get returns the counter's current value.
func (v *Int) Get() int64 {
	if v == nil {
		return 0
	}
	return atomic.LoadInt64(&v.val)
}
