// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package flows implements invertible transformations ("normalizing flows")
// for building flexible probability distributions on top of GoMLX computation
// graphs.
//
// A flow maps a batched input x to y = f(x), together with the
// log-determinant of the Jacobian of f, so that probability densities can be
// tracked through the change-of-variables formula. Flows compose: the
// log-determinant of a chain is the sum of the per-layer log-determinants.
// See Sequential for composition and Planar for the planar flow of
// "Variational Inference with Normalizing Flows" (Rezende & Mohamed, 2015),
// the one parameterized flow implemented here.
//
// All computation is expressed as graph nodes. Flow parameters are
// context.Context variables, created lazily on the first application -- when
// the feature dimension of the input becomes known -- and updated externally
// by the optimizers in ml/train. A Flow object itself holds only the shape
// contract fixed at that first application, so the same object can be applied
// in any number of graphs (training, evaluation, inference) sharing the same
// context.
//
// Precondition violations panic with stack-carrying errors, following the
// GoMLX convention -- use exceptions.TryCatch to convert them to returned
// errors. The panics wrap the sentinel errors ErrShape, ErrInvalidArgument,
// ErrNotInvertible and ErrNotBuilt, so the kind of violation can be tested
// with errors.Is.
package flows

import (
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
)

// Outputs selects which outputs a Flow.Transform (or Flow.InverseTransform)
// call must produce. Skipping an output skips the corresponding part of the
// computation graph. At least one output must be requested.
type Outputs int

const (
	// ComputeY requests the transformed tensor.
	ComputeY Outputs = 1 << iota

	// ComputeLogDet requests the log-determinant of the Jacobian of the
	// transformation, one value per batch element.
	ComputeLogDet
)

// ComputeAll requests both the transformed tensor and the log-determinant.
const ComputeAll = ComputeY | ComputeLogDet

func (o Outputs) wantY() bool      { return o&ComputeY != 0 }
func (o Outputs) wantLogDet() bool { return o&ComputeLogDet != 0 }

func (o Outputs) validate() {
	if o&ComputeAll == 0 {
		panicf(ErrInvalidArgument, "at least one of ComputeY or ComputeLogDet must be requested, got Outputs(%d)", o)
	}
}

// Flow is an invertible transformation y = f(x) over batched inputs, together
// with the log-determinant of its Jacobian.
//
// Inputs are shaped [<batch dimensions...>, <event dimensions...>], with
// EventRank trailing event axes. The transformed output has the same shape as
// the input; the log-determinant has the batch dimensions only.
//
// Not every flow has an analytically computable inverse: check
// ExplicitlyInvertible before calling InverseTransform.
type Flow interface {
	// Transform builds the graph nodes computing y = f(x) and the
	// log-determinant of df/dx, according to want. Outputs not requested are
	// returned nil.
	//
	// The first call on a fresh flow fixes its shape contract from x; later
	// calls must present compatible inputs or the call panics with ErrShape.
	Transform(ctx *context.Context, x *graph.Node, want Outputs) (y, logDet *graph.Node)

	// InverseTransform builds the graph nodes computing x = f⁻¹(y) and the
	// log-determinant of df⁻¹/dy, according to want.
	//
	// Flows for which ExplicitlyInvertible is false panic with
	// ErrNotInvertible.
	InverseTransform(ctx *context.Context, y *graph.Node, want Outputs) (x, logDet *graph.Node)

	// ExplicitlyInvertible reports whether InverseTransform is available.
	// It is a static property of the flow type and configuration, valid
	// before the flow is built.
	ExplicitlyInvertible() bool

	// EventRank returns the number of trailing axes of the input that make up
	// one transformed value; the leading axes are batch axes.
	EventRank() int
}
