package inference

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"mnistd/internal/mnist"
)

// DecodeImage parses a JSON nested array into 784 float32 pixels in row-major
// order. The array shape is inferred the way a numeric array library does:
// nested arrays whose children all share one shape extend it, anything else
// stops at the outer length. A shape other than (28,28) yields a ShapeError;
// invalid JSON or cells that are not convertible to numbers yield a plain error.
func DecodeImage(body []byte) ([]float32, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("invalid JSON body: trailing data after value")
	}

	shape := inferShape(v)
	if len(shape) != 2 || shape[0] != mnist.ImgSize || shape[1] != mnist.ImgSize {
		return nil, ShapeError{Shape: shape}
	}

	out := make([]float32, 0, mnist.ImgSize*mnist.ImgSize)
	for r, row := range v.([]any) {
		for c, cell := range row.([]any) {
			f, err := toFloat(cell)
			if err != nil {
				return nil, fmt.Errorf("element [%d][%d]: %w", r, c, err)
			}
			out = append(out, float32(f))
		}
	}
	return out, nil
}

// inferShape returns the dimensions of v. Scalars and objects have shape ().
func inferShape(v any) []int {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	shape := []int{len(arr)}
	if len(arr) == 0 {
		return shape
	}
	if _, ok := arr[0].([]any); !ok {
		return shape
	}
	inner := inferShape(arr[0])
	for _, child := range arr[1:] {
		if _, ok := child.([]any); !ok || !sameShape(inner, inferShape(child)) {
			return shape
		}
	}
	return append(shape, inner...)
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// toFloat converts one cell. Numbers, booleans and numeric strings convert;
// null, objects and other strings do not. Magnitudes beyond float64 become
// ±Inf.
func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case json.Number:
		return parseFloat(x.String())
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case string:
		f, err := parseFloat(strings.TrimSpace(x))
		if err != nil {
			return 0, fmt.Errorf("cannot convert string %q to a number", x)
		}
		return f, nil
	case nil:
		return 0, errors.New("cannot convert null to a number")
	default:
		return 0, fmt.Errorf("cannot convert %T to a number", v)
	}
}

func parseFloat(s string) (float64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if errors.Is(err, strconv.ErrRange) {
		return f, nil
	}
	return f, err
}
