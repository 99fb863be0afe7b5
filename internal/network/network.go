// Package network builds the fixed digit-classification convnet on a gorgonia
// expression graph and stores its parameters.
//
// Topology:
//
//	x (N,1,28,28)
//	conv 32@3x3 -> relu -> maxpool 2x2      (N,32,13,13)
//	conv 64@3x3 -> relu -> maxpool 2x2      (N,64,5,5)
//	flatten                                 (N,1600)
//	dense 128 -> relu
//	dense 10 -> softmax                     (N,10)
//
// Convolutions are unpadded with stride 1, pooling has stride 2. Every conv
// and dense layer adds a per-unit bias before its activation.
package network

import (
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"mnistd/internal/mnist"
)

// Dtype is the element type of every tensor in the network.
var Dtype = tensor.Float32

// Arch names the topology built by Build. Artifacts record it.
const Arch = "mnist-convnet-v2"

// flatSize is the feature count entering the first dense layer.
const flatSize = 64 * 5 * 5

type paramSpec struct {
	name  string
	shape tensor.Shape
}

var paramSpecs = []paramSpec{
	{"w0", tensor.Shape{32, 1, 3, 3}},
	{"b0", tensor.Shape{32}},
	{"w1", tensor.Shape{64, 32, 3, 3}},
	{"b1", tensor.Shape{64}},
	{"w2", tensor.Shape{flatSize, 128}},
	{"b2", tensor.Shape{128}},
	{"w3", tensor.Shape{128, mnist.NumClasses}},
	{"b3", tensor.Shape{mnist.NumClasses}},
}

// Broadcast axes for biases: channels of NCHW maps, columns of (N,units).
var (
	convBiasAxes  = []byte{0, 2, 3}
	denseBiasAxes = []byte{0}
)

// Network is the convnet bound to one graph and one batch size.
type Network struct {
	g      *G.ExprGraph
	batch  int
	x      *G.Node
	ws     G.Nodes
	byName map[string]*G.Node
	out    *G.Node
	outVal G.Value
}

// Build adds the network to g for a fixed batch size. Every parameter named by
// the topology must be present in params with the expected shape; the graph
// nodes share the given tensors.
func Build(g *G.ExprGraph, batch int, params Params) (*Network, error) {
	if batch <= 0 {
		return nil, errors.Errorf("batch size must be positive, got %d", batch)
	}
	if err := params.Check(); err != nil {
		return nil, err
	}
	n := &Network{g: g, batch: batch, byName: make(map[string]*G.Node, len(paramSpecs))}
	n.x = G.NewTensor(g, Dtype, 4, G.WithShape(batch, 1, mnist.ImgSize, mnist.ImgSize), G.WithName("x"))
	for _, spec := range paramSpecs {
		w := G.NewTensor(g, Dtype, spec.shape.Dims(),
			G.WithShape(spec.shape...),
			G.WithName(spec.name),
			G.WithValue(params[spec.name]))
		n.ws = append(n.ws, w)
		n.byName[spec.name] = w
	}
	if err := n.fwd(); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *Network) fwd() (err error) {
	var c0, z0, a0, p0 *G.Node
	var c1, z1, a1, p1 *G.Node
	var r1, fc, z2, a2, mm, logits *G.Node

	// layer 0
	if c0, err = G.Conv2d(n.x, n.byName["w0"], tensor.Shape{3, 3}, []int{0, 0}, []int{1, 1}, []int{1, 1}); err != nil {
		return errors.Wrap(err, "layer 0 convolution failed")
	}
	if z0, err = G.BroadcastAdd(c0, n.byName["b0"], nil, convBiasAxes); err != nil {
		return errors.Wrap(err, "layer 0 bias failed")
	}
	if a0, err = G.Rectify(z0); err != nil {
		return errors.Wrap(err, "layer 0 activation failed")
	}
	if p0, err = G.MaxPool2D(a0, tensor.Shape{2, 2}, []int{0, 0}, []int{2, 2}); err != nil {
		return errors.Wrap(err, "layer 0 maxpooling failed")
	}

	// layer 1
	if c1, err = G.Conv2d(p0, n.byName["w1"], tensor.Shape{3, 3}, []int{0, 0}, []int{1, 1}, []int{1, 1}); err != nil {
		return errors.Wrap(err, "layer 1 convolution failed")
	}
	if z1, err = G.BroadcastAdd(c1, n.byName["b1"], nil, convBiasAxes); err != nil {
		return errors.Wrap(err, "layer 1 bias failed")
	}
	if a1, err = G.Rectify(z1); err != nil {
		return errors.Wrap(err, "layer 1 activation failed")
	}
	if p1, err = G.MaxPool2D(a1, tensor.Shape{2, 2}, []int{0, 0}, []int{2, 2}); err != nil {
		return errors.Wrap(err, "layer 1 maxpooling failed")
	}

	// layer 2
	s := p1.Shape()
	if feats := s[1] * s[2] * s[3]; feats != flatSize {
		return errors.Errorf("flattened feature size %d, want %d", feats, flatSize)
	}
	if r1, err = G.Reshape(p1, tensor.Shape{s[0], flatSize}); err != nil {
		return errors.Wrap(err, "unable to flatten layer 1 output")
	}
	if fc, err = G.Mul(r1, n.byName["w2"]); err != nil {
		return errors.Wrap(err, "layer 2 matmul failed")
	}
	if z2, err = G.BroadcastAdd(fc, n.byName["b2"], nil, denseBiasAxes); err != nil {
		return errors.Wrap(err, "layer 2 bias failed")
	}
	if a2, err = G.Rectify(z2); err != nil {
		return errors.Wrap(err, "layer 2 activation failed")
	}

	// output
	if mm, err = G.Mul(a2, n.byName["w3"]); err != nil {
		return errors.Wrap(err, "output matmul failed")
	}
	if logits, err = G.BroadcastAdd(mm, n.byName["b3"], nil, denseBiasAxes); err != nil {
		return errors.Wrap(err, "output bias failed")
	}
	if n.out, err = G.SoftMax(logits); err != nil {
		return errors.Wrap(err, "softmax failed")
	}
	G.Read(n.out, &n.outVal)
	return nil
}

// CrossEntropy returns the mean negative log-likelihood of the one-hot
// targets y (N,10) under the softmax output. This is sparse categorical
// cross-entropy once labels are one-hot encoded.
func (n *Network) CrossEntropy(y *G.Node) (*G.Node, error) {
	eps := G.NewConstant(float32(1e-7), G.WithName("eps"))
	p, err := G.Add(n.out, eps)
	if err != nil {
		return nil, errors.Wrap(err, "clamp probabilities")
	}
	logp, err := G.Log(p)
	if err != nil {
		return nil, errors.Wrap(err, "log probabilities")
	}
	picked, err := G.HadamardProd(logp, y)
	if err != nil {
		return nil, errors.Wrap(err, "select target log-probabilities")
	}
	perSample, err := G.Sum(picked, 1)
	if err != nil {
		return nil, errors.Wrap(err, "sum over classes")
	}
	mean, err := G.Mean(perSample)
	if err != nil {
		return nil, errors.Wrap(err, "mean over batch")
	}
	return G.Neg(mean)
}

// Graph returns the graph the network was built on.
func (n *Network) Graph() *G.ExprGraph { return n.g }

// BatchSize returns the fixed batch size of the input node.
func (n *Network) BatchSize() int { return n.batch }

// X is the input node, shape (N,1,28,28).
func (n *Network) X() *G.Node { return n.x }

// Out is the softmax output node, shape (N,10).
func (n *Network) Out() *G.Node { return n.out }

// Learnables returns the weight and bias nodes in topology order.
func (n *Network) Learnables() G.Nodes { return n.ws }

// Probabilities copies the output of the last run, N*10 values row-major.
// It returns nil before the first run.
func (n *Network) Probabilities() []float32 {
	if n.outVal == nil {
		return nil
	}
	data, ok := n.outVal.Data().([]float32)
	if !ok {
		return nil
	}
	return append([]float32(nil), data...)
}

// Params snapshots the current parameter values.
func (n *Network) Params() Params {
	out := make(Params, len(n.ws))
	for i, w := range n.ws {
		d := w.Value().(*tensor.Dense)
		out[paramSpecs[i].name] = d.Clone().(*tensor.Dense)
	}
	return out
}

// ArgMax returns the index of the largest value; the first one wins ties.
// It returns -1 for an empty slice.
func ArgMax(v []float32) int {
	if len(v) == 0 {
		return -1
	}
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}
