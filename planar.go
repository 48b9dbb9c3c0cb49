// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package flows

import (
	"fmt"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/initializers"
	"github.com/gomlx/gomlx/pkg/ml/layers/regularizers"
)

// DefaultInitializerStddev is the standard deviation of the random normal
// initializer used for the w and u parameters when no initializer is
// configured. The b parameter defaults to zeros.
const DefaultInitializerStddev = 0.01

// Planar is a single-layer planar normalizing flow with tanh activation:
//
//	y = x + û·tanh(wᵀx + b)
//	û = u + (softplus(wᵀu) − 1 − wᵀu) · w/‖w‖₂²
//
// The û correction is the "invertible trick" of Rezende & Mohamed (2015): it
// keeps wᵀû > −1, so the Jacobian determinant 1 + û·φ(x) never vanishes and
// the map is provably invertible. The inverse has no analytic form, though,
// so only the forward direction and its log-determinant are implemented and
// ExplicitlyInvertible reports false.
//
// x and y are batched rank-1 events: inputs are shaped
// [<batch dimensions...>, numUnits] with at least one batch axis.
//
// Create it with NewPlanar and optionally configure it with the chained
// With* methods before the first application. The parameters w [1, numUnits],
// b [1] and u [1, numUnits] are context variables created in the flow's scope
// on the first Transform, with numUnits taken from the trailing axis of the
// first input. û is derived from the current w and u inside every built
// graph, never cached, so it always reflects the latest parameter values.
type Planar struct {
	scopeName           string
	wInit, bInit, uInit context.VariableInitializer
	regularizer         regularizers.Regularizer
	trainable           bool

	built    bool
	numUnits int
	dtype    dtypes.DType
}

// Compile-time check that Planar implements Flow.
var _ Flow = (*Planar)(nil)

// NewPlanar creates a new planar normalizing flow with default configuration:
// scope "planar_flow", random normal initializers (stddev
// DefaultInitializerStddev) for w and u, zeros for b, no regularizer,
// trainable parameters.
func NewPlanar() *Planar {
	return &Planar{
		scopeName: "planar_flow",
		trainable: true,
	}
}

// WithScope sets the context scope under which the flow's parameters are
// created. Flows sharing a context must use distinct scopes to have distinct
// parameters. It defaults to "planar_flow".
func (p *Planar) WithScope(name string) *Planar {
	p.assertConfigurable()
	p.scopeName = name
	return p
}

// WithWInitializer sets the initializer for the w parameter. It defaults to a
// random normal with stddev DefaultInitializerStddev.
func (p *Planar) WithWInitializer(init context.VariableInitializer) *Planar {
	p.assertConfigurable()
	p.wInit = init
	return p
}

// WithBInitializer sets the initializer for the b parameter. It defaults to
// zeros.
func (p *Planar) WithBInitializer(init context.VariableInitializer) *Planar {
	p.assertConfigurable()
	p.bInit = init
	return p
}

// WithUInitializer sets the initializer for the u parameter. It defaults to a
// random normal with stddev DefaultInitializerStddev.
func (p *Planar) WithUInitializer(init context.VariableInitializer) *Planar {
	p.assertConfigurable()
	p.uInit = init
	return p
}

// WithRegularizer sets a regularizer applied to the w and u parameters (not
// to b). It defaults to none.
func (p *Planar) WithRegularizer(reg regularizers.Regularizer) *Planar {
	p.assertConfigurable()
	p.regularizer = reg
	return p
}

// WithTrainable sets whether the flow's parameters are marked trainable and
// hence updated by optimizers. It defaults to true.
func (p *Planar) WithTrainable(trainable bool) *Planar {
	p.assertConfigurable()
	p.trainable = trainable
	return p
}

func (p *Planar) assertConfigurable() {
	if p.built {
		panicf(ErrInvalidArgument, "planar flow %q cannot be reconfigured after it was built", p.scopeName)
	}
}

// EventRank implements Flow: planar flows transform rank-1 events (vectors).
func (p *Planar) EventRank() int { return 1 }

// ExplicitlyInvertible implements Flow. The planar flow is invertible by
// construction, but its inverse has no analytic form, so it reports false.
func (p *Planar) ExplicitlyInvertible() bool { return false }

// Built reports whether the flow has already been applied to a concrete
// input, fixing its shape contract and creating its parameters.
func (p *Planar) Built() bool { return p.built }

// NumUnits returns the feature dimension fixed when the flow was built.
// It panics with ErrNotBuilt on a fresh flow.
func (p *Planar) NumUnits() int {
	if !p.built {
		panicf(ErrNotBuilt, "planar flow %q: NumUnits is only known after the first Transform", p.scopeName)
	}
	return p.numUnits
}

// DType returns the parameters dtype fixed when the flow was built.
// It panics with ErrNotBuilt on a fresh flow.
func (p *Planar) DType() dtypes.DType {
	if !p.built {
		panicf(ErrNotBuilt, "planar flow %q: DType is only known after the first Transform", p.scopeName)
	}
	return p.dtype
}

// validateInput checks x against the shape contract. On the first call it
// also fixes the contract (numUnits and dtype), transitioning the flow to
// built.
func (p *Planar) validateInput(x *graph.Node) {
	shape := x.Shape()
	if shape.Rank() < 2 {
		panicf(ErrShape, "planar flow %q requires inputs shaped [<batch dims...>, numUnits] with at least one batch axis, got %s",
			p.scopeName, shape)
	}
	if !p.built {
		if !shape.DType.IsFloat() {
			panicf(ErrInvalidArgument, "planar flow %q parameters require a float dtype, got input %s", p.scopeName, shape)
		}
		p.numUnits = shape.Dim(-1)
		p.dtype = shape.DType
		p.built = true
		return
	}
	if shape.Dim(-1) != p.numUnits {
		panicf(ErrShape, "planar flow %q was built with numUnits=%d, got input %s", p.scopeName, p.numUnits, shape)
	}
	if shape.DType != p.dtype {
		panicf(ErrShape, "planar flow %q was built with dtype %s, got input %s", p.scopeName, p.dtype, shape)
	}
}

// parameters creates-or-reuses the w, b and u variables in the flow's scope
// and returns their values in graph g. The regularizer, if any, is attached
// to w and u in each graph being built.
func (p *Planar) parameters(ctx *context.Context, g *graph.Graph) (w, b, u *graph.Node) {
	wInit, bInit, uInit := p.wInit, p.bInit, p.uInit
	if wInit == nil {
		wInit = initializers.RandomNormalFn(ctx, DefaultInitializerStddev)
	}
	if bInit == nil {
		bInit = initializers.Zero
	}
	if uInit == nil {
		uInit = initializers.RandomNormalFn(ctx, DefaultInitializerStddev)
	}
	wVar := ctx.WithInitializer(wInit).
		VariableWithShape("w", shapes.Make(p.dtype, 1, p.numUnits)).
		SetTrainable(p.trainable)
	bVar := ctx.WithInitializer(bInit).
		VariableWithShape("b", shapes.Make(p.dtype, 1)).
		SetTrainable(p.trainable)
	uVar := ctx.WithInitializer(uInit).
		VariableWithShape("u", shapes.Make(p.dtype, 1, p.numUnits)).
		SetTrainable(p.trainable)
	if p.regularizer != nil {
		p.regularizer(ctx, g, wVar, uVar)
	}
	return wVar.ValueGraph(g), bVar.ValueGraph(g), uVar.ValueGraph(g)
}

// uHat derives û from the current w and u:
//
//	û = u + (softplus(wᵀu) − 1 − wᵀu) · w/‖w‖₂²
//
// This keeps wᵀû > −1 for any finite w and u, so 1 + û·φ(x) stays away from
// zero and the flow remains invertible whatever values the optimizer drives
// the parameters to.
func uHat(w, u *graph.Node) *graph.Node {
	wu := graph.MatMul(w, graph.Transpose(u, 0, 1))        // [1, 1]
	scale := graph.Sub(graph.MinusOne(graph.Softplus(wu)), wu)   // softplus(wᵀu) − 1 − wᵀu
	return graph.Add(u, graph.Div(graph.Mul(scale, w), graph.L2NormSquare(w)))
}

// Transform implements Flow.
//
// The leading batch axes of x are collapsed into one for the core matrix
// products and restored on the outputs; this does not change numeric results.
// logDet is log|1 + û·φ(x)| with φ(x) = (1 − tanh²(wᵀx+b))·w -- the absolute
// value discards the sign of the determinant on purpose, since only the
// volume-change magnitude enters the flow's density accounting.
func (p *Planar) Transform(ctx *context.Context, x *graph.Node, want Outputs) (y, logDet *graph.Node) {
	want.validate()
	p.validateInput(x)
	ctx = ctx.In(p.scopeName).Checked(false)
	g := x.Graph()
	w, b, u := p.parameters(ctx, g)

	dims := x.Shape().Dimensions
	batchDims := dims[:len(dims)-1]
	flatBatch := 1
	for _, dim := range batchDims {
		flatBatch *= dim
	}
	flat := graph.Reshape(x, flatBatch, p.numUnits)

	wxb := graph.Add(graph.MatMul(flat, graph.Transpose(w, 0, 1)), graph.ExpandLeftToRank(b, 2)) // [flatBatch, 1]
	tanhWxb := graph.Tanh(wxb)
	u = uHat(w, u)

	if want.wantY() {
		y = graph.Add(flat, graph.Mul(u, tanhWxb))
		y = graph.Reshape(y, dims...)
	}
	if want.wantLogDet() {
		grad := graph.OneMinus(graph.Square(tanhWxb))       // d tanh(a)/da = 1 − tanh²(a)
		phi := graph.Mul(grad, w)                     // [flatBatch, numUnits]
		uPhi := graph.MatMul(phi, graph.Transpose(u, 0, 1)) // [flatBatch, 1]
		detJac := graph.AddScalar(uPhi, 1)
		logDet = graph.Log(graph.Abs(detJac))
		logDet = graph.Reshape(graph.Squeeze(logDet, -1), batchDims...)
	}
	return
}

// InverseTransform implements Flow. The planar flow's inverse has no analytic
// form: it always panics with ErrNotInvertible.
func (p *Planar) InverseTransform(_ *context.Context, _ *graph.Node, _ Outputs) (x, logDet *graph.Node) {
	panicf(ErrNotInvertible, "planar flow %q implements only the forward direction", p.scopeName)
	return
}

// PlanarStack creates numLayers planar flows and chains them into one Flow:
// a single Planar when numLayers is 1, a Sequential of independently
// parameterized layers otherwise.
//
// configure, if not nil, is applied to every layer before its scope is made
// unique, so all layers share the same initializers, regularizer and
// trainable flag but get distinct parameter storage (scopes
// "<scope>_0" ... "<scope>_<numLayers-1>").
//
// numLayers < 1 panics with ErrInvalidArgument.
func PlanarStack(numLayers int, configure func(layer *Planar)) Flow {
	if numLayers < 1 {
		panicf(ErrInvalidArgument, "PlanarStack requires numLayers >= 1, got %d", numLayers)
	}
	if numLayers == 1 {
		layer := NewPlanar()
		if configure != nil {
			configure(layer)
		}
		return layer
	}
	layers := make([]Flow, numLayers)
	for ii := range layers {
		layer := NewPlanar()
		if configure != nil {
			configure(layer)
		}
		layer.scopeName = fmt.Sprintf("%s_%d", layer.scopeName, ii)
		layers[ii] = layer
	}
	return NewSequential(layers...)
}
