// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package matmul implements the batched modular matrix multiply
// kernel. A dataset comprises K records; record k holds a pair of
// matrices A_k (M×N) and B_k (N×P), stored row-major as fixed-width
// little-endian elements. The kernel computes R_k = A_k·B_k where
// each product term is reduced modulo 100 before summation and the
// final sum is again reduced modulo 100, so result elements always
// lie in [0, 99].
//
// Records are fixed-width, so matmul jobs distribute with the
// Scatter/Gather collectives under the strict partition policy.
package matmul

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/rand"

	"github.com/grailbio/base/errors"
)

// mod is the modulus applied to each product term and to the final
// sum of every result element.
const mod = 100

// elemWidth is the encoded byte width of a single matrix element.
const elemWidth = 8

// Dims holds the dimensions of a batched multiply: K matrix pairs of
// shapes M×N and N×P.
type Dims struct {
	K, M, N, P int
}

// Validate returns an error unless all four dimensions are positive.
func (d Dims) Validate() error {
	if d.K < 1 || d.M < 1 || d.N < 1 || d.P < 1 {
		return errors.E(errors.Invalid, fmt.Sprintf("dimensions %v must be positive", d))
	}
	return nil
}

// String returns the dimensions as KxMxNxP.
func (d Dims) String() string {
	return fmt.Sprintf("%dx%dx%dx%d", d.K, d.M, d.N, d.P)
}

// RecordWidth returns the encoded byte width of one record: the
// elements of one A matrix followed by the elements of one B matrix.
func (d Dims) RecordWidth() int {
	return (d.M*d.N + d.N*d.P) * elemWidth
}

// ResultWidth returns the encoded byte width of one result matrix.
func (d Dims) ResultWidth() int {
	return d.M * d.P * elemWidth
}

// PutElems encodes the elements into p, which must hold
// len(elems)*8 bytes.
func PutElems(p []byte, elems []int) {
	for i, e := range elems {
		binary.LittleEndian.PutUint64(p[i*elemWidth:], uint64(e))
	}
}

// Elems decodes the elements encoded in p.
func Elems(p []byte) []int {
	elems := make([]int, len(p)/elemWidth)
	for i := range elems {
		elems[i] = int(binary.LittleEndian.Uint64(p[i*elemWidth:]))
	}
	return elems
}

// Random returns an encoded dataset of d.K records whose elements are
// drawn uniformly from [0, 100), as the original batch program
// initializes its inputs.
func Random(d Dims, r *rand.Rand) []byte {
	buf := make([]byte, d.K*d.RecordWidth())
	for i := 0; i < len(buf); i += elemWidth {
		binary.LittleEndian.PutUint64(buf[i:], uint64(r.Intn(mod)))
	}
	return buf
}

// Kernel multiplies the matrix pairs of its partition. It implements
// bigcomm.Kernel.
type Kernel struct {
	Dims Dims
}

// Compute multiplies each record's matrix pair, returning the
// concatenated encoded result matrices. The input must be a whole
// number of records.
func (k Kernel) Compute(ctx context.Context, partition []byte) ([]byte, error) {
	if err := k.Dims.Validate(); err != nil {
		return nil, err
	}
	var (
		d     = k.Dims
		width = d.RecordWidth()
	)
	if len(partition)%width != 0 {
		return nil, errors.E(errors.Invalid,
			fmt.Sprintf("partition of %d bytes is not a whole number of %d byte records", len(partition), width))
	}
	records := len(partition) / width
	out := make([]byte, records*d.ResultWidth())
	for rec := 0; rec < records; rec++ {
		var (
			a = Elems(partition[rec*width : rec*width+d.M*d.N*elemWidth])
			b = Elems(partition[rec*width+d.M*d.N*elemWidth : (rec+1)*width])
			r = make([]int, d.M*d.P)
		)
		for i := 0; i < d.M; i++ {
			for j := 0; j < d.P; j++ {
				sum := 0
				for l := 0; l < d.N; l++ {
					sum += (a[i*d.N+l] * b[l*d.P+j]) % mod
				}
				r[i*d.P+j] = sum % mod
			}
		}
		PutElems(out[rec*d.ResultWidth():(rec+1)*d.ResultWidth()], r)
	}
	return out, nil
}
