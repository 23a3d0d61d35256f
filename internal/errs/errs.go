// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package errs defines the error kinds surfaced by the adjustment engine and
// maps them to process exit codes.
package errs

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a failure for propagation and exit code purposes
type Kind int

const (
	Other              Kind = iota
	Input                   // malformed configuration, missing keywords, contradictory options, missing files
	Geometry                // no surface intersection, projection outside detector, kernel coverage
	NetworkConsistency      // duplicate serials, reference on ignored measure, held image missing
	Numerical               // rank deficiency, non positive definite factorization
	Convergence             // iteration limit reached
	Cancellation            // cooperative cancellation
	Resource                // failure to open or read an image, kernel or network
	Unsupported             // unknown instrument
)

var kindNames = []string{"Other", "Input", "Geometry", "NetworkConsistency", "Numerical",
	"Convergence", "Cancellation", "Resource", "Unsupported"}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// Process exit code for each kind
func (k Kind) ExitCode() int {
	switch k {
	case Input:
		return 2
	case Resource:
		return 3
	case Convergence:
		return 4
	case Unsupported:
		return 5
	case Numerical:
		return 6
	case NetworkConsistency:
		return 7
	case Geometry:
		return 8
	case Cancellation:
		return 9
	}
	return 1
}

// An error with a kind
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }
func (e *Error) Cause() error  { return e.Err }

// Creates a new error of the given kind with a stack trace
func New(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Err: errors.Errorf(format, args...)}
}

// Wraps err with a message and the given kind. Returns nil if err is nil
func Wrap(kind Kind, err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: errors.Wrapf(err, format, args...)}
}

// Returns the kind of the first classified error in the chain.
// Context cancellation and deadline errors classify as Cancellation
func KindOf(err error) Kind {
	if err == nil {
		return Other
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var ne *NumericalError
	if errors.As(err, &ne) {
		return Numerical
	}
	var ce *ConvergenceError
	if errors.As(err, &ce) {
		return Convergence
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Cancellation
	}
	return Other
}

func Is(err error, kind Kind) bool { return err != nil && KindOf(err) == kind }

// Exit code for err, 0 if err is nil
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return KindOf(err).ExitCode()
}

// Raised when the normal matrix is singular or not positive definite.
// ZeroColumn is the offending column, or -1 if it is not known
type NumericalError struct {
	Msg         string
	ZeroColumn  int
	ImageColumn bool
}

func (e *NumericalError) Error() string {
	if e.ZeroColumn < 0 {
		return e.Msg
	}
	what := "point"
	if e.ImageColumn {
		what = "image"
	}
	return fmt.Sprintf("%s: zero column %d (%s parameter)", e.Msg, e.ZeroColumn, what)
}

// Raised when the iteration limit is reached without meeting tolerance
type ConvergenceError struct {
	Iterations  int
	Sigma0      float64
	MaxResidual float64
}

func (e *ConvergenceError) Error() string {
	return fmt.Sprintf("no convergence after %d iterations: sigma0=%.6g max residual=%.6g",
		e.Iterations, e.Sigma0, e.MaxResidual)
}

// Converts a context error into a Cancellation error, or returns nil
func FromContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return Wrap(Cancellation, err, "cancelled")
	}
	return nil
}
