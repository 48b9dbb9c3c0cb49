// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package flows

import "github.com/pkg/errors"

// Sentinel errors wrapped by the panics raised on precondition violations.
// Catch the panic with exceptions.TryCatch[error] and match the kind with
// errors.Is.
var (
	// ErrShape indicates an input whose rank or trailing dimension is
	// incompatible with the shape contract fixed when the flow was built.
	ErrShape = errors.New("input incompatible with the flow's shape contract")

	// ErrInvalidArgument indicates an invalid configuration or call argument,
	// e.g. a non-positive number of layers or an empty Outputs set.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotInvertible indicates an inverse transform was requested from a
	// flow that does not support analytic inversion.
	ErrNotInvertible = errors.New("flow does not support analytic inversion")

	// ErrNotBuilt indicates an operation that requires a built flow -- one
	// that has already been applied to a concrete input -- was called on a
	// fresh one.
	ErrNotBuilt = errors.New("flow has not been built yet")
)

// panicf panics with a stack-annotated error wrapping kind. Same error idiom
// as gomlx's exceptions.Panicf, with the added sentinel for errors.Is.
func panicf(kind error, format string, args ...any) {
	panic(errors.WithStack(errors.WithMessagef(kind, format, args...)))
}
