// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package flows

import (
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
)

// Identity is the do-nothing flow: y = x with a zero log-determinant, and it
// is its own inverse. It has no parameters.
//
// It serves as a neutral element when composing flows and as the invertible
// base case for Sequential's inverse path in tests.
type Identity struct {
	eventRank int
}

// Compile-time check that Identity implements Flow.
var _ Flow = (*Identity)(nil)

// NewIdentity creates an identity flow over events of the given rank, which
// must be non-negative or it panics with ErrInvalidArgument.
func NewIdentity(eventRank int) *Identity {
	if eventRank < 0 {
		panicf(ErrInvalidArgument, "NewIdentity requires eventRank >= 0, got %d", eventRank)
	}
	return &Identity{eventRank: eventRank}
}

// EventRank implements Flow.
func (f *Identity) EventRank() int { return f.eventRank }

// ExplicitlyInvertible implements Flow: the identity is its own inverse.
func (f *Identity) ExplicitlyInvertible() bool { return true }

// Transform implements Flow: y = x, logDet = 0 per batch element.
func (f *Identity) Transform(_ *context.Context, x *graph.Node, want Outputs) (y, logDet *graph.Node) {
	want.validate()
	shape := x.Shape()
	if shape.Rank() < f.eventRank {
		panicf(ErrShape, "identity flow with eventRank=%d requires inputs of rank >= %d, got %s",
			f.eventRank, f.eventRank, shape)
	}
	if want.wantY() {
		y = x
	}
	if want.wantLogDet() {
		batchDims := shape.Dimensions[:shape.Rank()-f.eventRank]
		logDet = graph.Zeros(x.Graph(), shapes.Make(shape.DType, batchDims...))
	}
	return
}

// InverseTransform implements Flow: the identity is its own inverse.
func (f *Identity) InverseTransform(ctx *context.Context, y *graph.Node, want Outputs) (x, logDet *graph.Node) {
	return f.Transform(ctx, y, want)
}
