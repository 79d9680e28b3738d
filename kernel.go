// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigcomm

import "context"

// A Kernel is a pluggable unit of local computation, invoked once per
// partition. Compute receives the encoded records of the calling
// participant's partition and produces a result buffer of
// corresponding shape. Kernels must not communicate and see no data
// outside of their partition; how records and results are encoded is
// a private contract between the kernel and the job that feeds it.
type Kernel interface {
	Compute(ctx context.Context, partition []byte) (result []byte, err error)
}

// KernelFunc adapts a function to the Kernel interface.
type KernelFunc func(ctx context.Context, partition []byte) ([]byte, error)

// Compute implements Kernel.
func (k KernelFunc) Compute(ctx context.Context, partition []byte) ([]byte, error) {
	return k(ctx, partition)
}
