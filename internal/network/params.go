package network

import (
	"bytes"
	"compress/gzip"
	"encoding/gob"
	"io"
	"math"
	"math/rand"
	"os"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"mnistd/internal/common/fsutil"
	"mnistd/internal/mnist"
)

// Params maps parameter names (w0..w3, b0..b3) to their values.
type Params map[string]*tensor.Dense

// Check verifies that p holds exactly the parameters of the topology.
func (p Params) Check() error {
	if len(p) != len(paramSpecs) {
		return errors.Errorf("expected %d parameters, got %d", len(paramSpecs), len(p))
	}
	for _, spec := range paramSpecs {
		v, ok := p[spec.name]
		if !ok || v == nil {
			return errors.Errorf("missing parameter %s", spec.name)
		}
		if !v.Shape().Eq(spec.shape) {
			return errors.Errorf("parameter %s has shape %v, want %v", spec.name, v.Shape(), spec.shape)
		}
		if v.Dtype() != Dtype {
			return errors.Errorf("parameter %s has dtype %v, want %v", spec.name, v.Dtype(), Dtype)
		}
	}
	return nil
}

// InitParams draws Glorot-normal weights from rng. Biases start at zero.
func InitParams(rng *rand.Rand) Params {
	p := make(Params, len(paramSpecs))
	for _, spec := range paramSpecs {
		if spec.shape.Dims() == 1 {
			p[spec.name] = tensor.New(tensor.WithShape(spec.shape...), tensor.WithBacking(make([]float32, spec.shape.TotalSize())))
			continue
		}
		fanIn, fanOut := fans(spec.shape)
		std := math.Sqrt(2 / float64(fanIn+fanOut))
		data := make([]float32, spec.shape.TotalSize())
		for i := range data {
			data[i] = float32(rng.NormFloat64() * std)
		}
		p[spec.name] = tensor.New(tensor.WithShape(spec.shape...), tensor.WithBacking(data))
	}
	return p
}

// fans computes fan-in/fan-out for (out,in,kh,kw) kernels and (in,out) matrices.
func fans(s tensor.Shape) (in, out int) {
	if s.Dims() == 4 {
		receptive := s[2] * s[3]
		return s[1] * receptive, s[0] * receptive
	}
	return s[0], s[1]
}

const artifactMagic = "MNISTD-ARTIFACT"

type artifact struct {
	Magic   string
	Version int
	Arch    string
	// Input is the per-sample input shape (height, width, channels).
	Input   []int
	Classes int
	Params  []encodedParam
}

// encodedParam holds one tensor in numpy .npy encoding.
type encodedParam struct {
	Name string
	Npy  []byte
}

// SaveArtifact writes p to path, replacing any existing file atomically.
func SaveArtifact(path string, p Params) error {
	if err := p.Check(); err != nil {
		return err
	}
	a := artifact{
		Magic:   artifactMagic,
		Version: 1,
		Arch:    Arch,
		Input:   []int{mnist.ImgSize, mnist.ImgSize, 1},
		Classes: mnist.NumClasses,
	}
	for _, spec := range paramSpecs {
		var buf bytes.Buffer
		if err := p[spec.name].WriteNpy(&buf); err != nil {
			return errors.Wrapf(err, "encode %s", spec.name)
		}
		a.Params = append(a.Params, encodedParam{Name: spec.name, Npy: buf.Bytes()})
	}
	return fsutil.WriteFileAtomic(path, 0o644, func(w io.Writer) error {
		zw := gzip.NewWriter(w)
		if err := gob.NewEncoder(zw).Encode(a); err != nil {
			return errors.Wrap(err, "encode artifact")
		}
		return zw.Close()
	})
}

// LoadArtifact reads parameters written by SaveArtifact.
func LoadArtifact(path string) (Params, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, errors.Wrapf(err, "%s is not a model artifact", path)
	}
	defer zr.Close()
	var a artifact
	if err := gob.NewDecoder(zr).Decode(&a); err != nil {
		return nil, errors.Wrap(err, "decode artifact")
	}
	if a.Magic != artifactMagic {
		return nil, errors.Errorf("%s is not a model artifact", path)
	}
	if a.Arch != Arch {
		return nil, errors.Errorf("artifact architecture %q, want %q", a.Arch, Arch)
	}
	if a.Classes != mnist.NumClasses {
		return nil, errors.Errorf("artifact has %d classes, want %d", a.Classes, mnist.NumClasses)
	}
	p := make(Params, len(a.Params))
	for _, ep := range a.Params {
		d := new(tensor.Dense)
		if err := d.ReadNpy(bytes.NewReader(ep.Npy)); err != nil {
			return nil, errors.Wrapf(err, "decode %s", ep.Name)
		}
		p[ep.Name] = d
	}
	if err := p.Check(); err != nil {
		return nil, err
	}
	return p, nil
}
