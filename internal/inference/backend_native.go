package inference

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"mnistd/internal/mnist"
	"mnistd/internal/network"
)

// nativeBackend evaluates a trainer artifact on a batch-1 gorgonia graph.
type nativeBackend struct {
	net *network.Network
	vm  G.VM
	buf []float32
	x   *tensor.Dense
}

func newNativeBackend(path string) (*nativeBackend, error) {
	params, err := network.LoadArtifact(path)
	if err != nil {
		return nil, err
	}
	g := G.NewGraph()
	net, err := network.Build(g, 1, params)
	if err != nil {
		return nil, fmt.Errorf("build network: %w", err)
	}
	b := &nativeBackend{
		net: net,
		vm:  G.NewTapeMachine(g),
		buf: make([]float32, mnist.ImgSize*mnist.ImgSize),
	}
	// (1,28,28,1) and (1,1,28,28) share one memory layout for a single channel.
	b.x = tensor.New(tensor.WithShape(1, 1, mnist.ImgSize, mnist.ImgSize), tensor.WithBacking(b.buf))
	return b, nil
}

func (b *nativeBackend) Forward(pixels []float32) ([]float32, error) {
	if len(pixels) != len(b.buf) {
		return nil, fmt.Errorf("expected %d pixels, got %d", len(b.buf), len(pixels))
	}
	copy(b.buf, pixels)
	defer b.vm.Reset()
	if err := G.Let(b.net.X(), b.x); err != nil {
		return nil, err
	}
	if err := b.vm.RunAll(); err != nil {
		return nil, fmt.Errorf("forward pass: %w", err)
	}
	return b.net.Probabilities(), nil
}

func (b *nativeBackend) Name() string { return BackendNative }

func (b *nativeBackend) Close() error { return b.vm.Close() }
