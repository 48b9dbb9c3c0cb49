// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package flows

import (
	"slices"

	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
)

// Sequential chains an ordered list of flows into one Flow: each flow
// consumes the previous flow's output, and the log-determinants accumulate by
// summation -- the determinant of a composed map is the product of the
// member determinants, and the log turns the product into a sum.
//
// The sequence is fixed at construction (see NewSequential); there is no
// runtime mutation.
type Sequential struct {
	flows      []Flow
	eventRank  int
	invertible bool
}

// Compile-time check that Sequential implements Flow.
var _ Flow = (*Sequential)(nil)

// NewSequential creates a Sequential from the given flows, applied in order.
//
// At least one flow must be given and all flows must declare the same event
// rank, otherwise it panics with ErrInvalidArgument. Whether the composite
// supports analytic inversion -- every member must -- is determined here,
// not deferred to the InverseTransform call.
func NewSequential(flows ...Flow) *Sequential {
	if len(flows) == 0 {
		panicf(ErrInvalidArgument, "NewSequential requires at least one flow")
	}
	eventRank := flows[0].EventRank()
	invertible := true
	for ii, flow := range flows {
		if flow.EventRank() != eventRank {
			panicf(ErrInvalidArgument, "flows composed in a Sequential must share the same event rank: flow #0 has %d, flow #%d has %d",
				eventRank, ii, flow.EventRank())
		}
		invertible = invertible && flow.ExplicitlyInvertible()
	}
	return &Sequential{
		flows:      slices.Clone(flows),
		eventRank:  eventRank,
		invertible: invertible,
	}
}

// NumFlows returns the number of composed flows.
func (s *Sequential) NumFlows() int { return len(s.flows) }

// EventRank implements Flow: the event rank shared by all composed flows.
func (s *Sequential) EventRank() int { return s.eventRank }

// ExplicitlyInvertible implements Flow: true only if every composed flow
// supports analytic inversion.
func (s *Sequential) ExplicitlyInvertible() bool { return s.invertible }

// Transform implements Flow, feeding each flow's output to the next.
//
// Every flow but the last is always asked for its transformed value, whatever
// want says, since the following flow needs it as input; the last flow is
// asked exactly for what the caller requested.
func (s *Sequential) Transform(ctx *context.Context, x *graph.Node, want Outputs) (y, logDet *graph.Node) {
	want.validate()
	out := x
	for ii, flow := range s.flows {
		layerWant := want
		if ii < len(s.flows)-1 {
			layerWant |= ComputeY
		}
		var layerLogDet *graph.Node
		out, layerLogDet = flow.Transform(ctx, out, layerWant)
		if want.wantLogDet() {
			if logDet == nil {
				logDet = layerLogDet
			} else {
				logDet = graph.Add(logDet, layerLogDet)
			}
		}
	}
	if want.wantY() {
		y = out
	}
	return
}

// InverseTransform implements Flow, applying the member inverses in reverse
// order. It panics with ErrNotInvertible unless every composed flow supports
// analytic inversion.
func (s *Sequential) InverseTransform(ctx *context.Context, y *graph.Node, want Outputs) (x, logDet *graph.Node) {
	if !s.invertible {
		panicf(ErrNotInvertible, "Sequential contains flows without analytic inverse")
	}
	want.validate()
	out := y
	for ii := len(s.flows) - 1; ii >= 0; ii-- {
		layerWant := want
		if ii > 0 {
			layerWant |= ComputeY
		}
		var layerLogDet *graph.Node
		out, layerLogDet = s.flows[ii].InverseTransform(ctx, out, layerWant)
		if want.wantLogDet() {
			if logDet == nil {
				logDet = layerLogDet
			} else {
				logDet = graph.Add(logDet, layerLogDet)
			}
		}
	}
	if want.wantY() {
		x = out
	}
	return
}
