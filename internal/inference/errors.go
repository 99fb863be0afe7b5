package inference

import "errors"

// ShapeMessage is returned to clients whose input is not a 28x28 matrix.
const ShapeMessage = "Invalid input shape. Expected a 28x28 matrix."

// ShapeError signals a request whose array shape is not (28,28). It is the
// only client fault the service reports.
type ShapeError struct {
	Shape []int
}

func (e ShapeError) Error() string { return ShapeMessage }

// IsInvalidShape reports whether err is (or wraps) a ShapeError.
func IsInvalidShape(err error) bool {
	var se ShapeError
	return errors.As(err, &se)
}

// dependencyUnavailableError signals a runtime that is not compiled in or
// could not be initialized.
type dependencyUnavailableError struct{ msg string }

func (e dependencyUnavailableError) Error() string { return e.msg }

// ErrDependencyUnavailable constructs a dependencyUnavailableError.
func ErrDependencyUnavailable(msg string) error { return dependencyUnavailableError{msg: msg} }

// IsDependencyUnavailable reports whether err indicates a missing runtime.
func IsDependencyUnavailable(err error) bool {
	var de dependencyUnavailableError
	return errors.As(err, &de)
}

// errNotLoaded is returned by Predict on an engine without a backend.
var errNotLoaded = errors.New("model not loaded")
