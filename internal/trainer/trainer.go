// Package trainer fits the digit convnet on the MNIST train split and writes
// the model artifact served by mnistd.
package trainer

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"mnistd/internal/mnist"
	"mnistd/internal/network"
)

const pixels = mnist.ImgSize * mnist.ImgSize

// Config is the training policy.
type Config struct {
	Epochs          int
	BatchSize       int
	ValidationSplit float64
	LearningRate    float64
	Seed            int64
}

// EpochStats summarizes one epoch. Loss and Accuracy cover the training
// batches; the Val fields are zero when no validation samples exist.
type EpochStats struct {
	Epoch       int
	Loss        float64
	Accuracy    float64
	ValLoss     float64
	ValAccuracy float64
	Duration    time.Duration
}

// Trainer runs the fitting loop.
type Trainer struct {
	cfg Config
	log zerolog.Logger
}

// New returns a Trainer. A zero logger discards output.
func New(cfg Config, log zerolog.Logger) *Trainer {
	return &Trainer{cfg: cfg, log: log}
}

// Fit trains freshly initialized weights on split. The trailing
// ValidationSplit fraction is held out and evaluated after every epoch.
func (t *Trainer) Fit(ctx context.Context, split mnist.Split) (network.Params, []EpochStats, error) {
	cfg := t.cfg
	bs := cfg.BatchSize
	fitSet, valSet := split.Holdout(cfg.ValidationSplit)
	if fitSet.Len() < bs {
		return nil, nil, fmt.Errorf("need at least %d training samples for one batch, have %d", bs, fitSet.Len())
	}
	rng := rand.New(rand.NewSource(cfg.Seed))

	g := G.NewGraph()
	net, err := network.Build(g, bs, network.InitParams(rng))
	if err != nil {
		return nil, nil, err
	}
	y := G.NewMatrix(g, network.Dtype, G.WithShape(bs, mnist.NumClasses), G.WithName("y"))
	cost, err := net.CrossEntropy(y)
	if err != nil {
		return nil, nil, err
	}
	var costVal G.Value
	G.Read(cost, &costVal)
	if _, err := G.Grad(cost, net.Learnables()...); err != nil {
		return nil, nil, fmt.Errorf("symbolic differentiation: %w", err)
	}
	vm := G.NewTapeMachine(g, G.BindDualValues(net.Learnables()...))
	defer vm.Close()
	solver := G.NewAdamSolver(G.WithLearnRate(cfg.LearningRate))

	b := newBatch(bs)
	order := make([]int, fitSet.Len())
	for i := range order {
		order[i] = i
	}
	batches := fitSet.Len() / bs

	t.log.Info().
		Int("train_samples", fitSet.Len()).
		Int("val_samples", valSet.Len()).
		Int("batches", batches).
		Int("epochs", cfg.Epochs).
		Msg("training start")

	var history []EpochStats
	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		start := time.Now()
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		var lossSum float64
		var correct int
		for bi := 0; bi < batches; bi++ {
			if err := ctx.Err(); err != nil {
				return nil, history, err
			}
			labels := b.fill(fitSet, order[bi*bs:(bi+1)*bs])
			if err := G.Let(net.X(), b.x); err != nil {
				return nil, history, err
			}
			if err := G.Let(y, b.y); err != nil {
				return nil, history, err
			}
			if err := vm.RunAll(); err != nil {
				return nil, history, fmt.Errorf("epoch %d batch %d: %w", epoch, bi, err)
			}
			lossSum += float64(costVal.Data().(float32))
			correct += countCorrect(net.Probabilities(), labels)
			if err := solver.Step(G.NodesToValueGrads(net.Learnables())); err != nil {
				return nil, history, fmt.Errorf("epoch %d batch %d: optimizer step: %w", epoch, bi, err)
			}
			vm.Reset()
		}
		st := EpochStats{
			Epoch:    epoch,
			Loss:     lossSum / float64(batches),
			Accuracy: float64(correct) / float64(batches*bs),
		}
		if math.IsNaN(st.Loss) {
			return nil, history, fmt.Errorf("epoch %d: loss diverged", epoch)
		}
		if valSet.Len() > 0 {
			if st.ValLoss, st.ValAccuracy, err = Evaluate(net.Params(), valSet, bs); err != nil {
				return nil, history, fmt.Errorf("epoch %d validation: %w", epoch, err)
			}
		}
		st.Duration = time.Since(start)
		history = append(history, st)
		t.log.Info().
			Int("epoch", epoch).
			Float64("loss", st.Loss).
			Float64("accuracy", st.Accuracy).
			Float64("val_loss", st.ValLoss).
			Float64("val_accuracy", st.ValAccuracy).
			Dur("dur", st.Duration).
			Msg("epoch done")
	}
	return net.Params(), history, nil
}

// Evaluate runs params over split in batches of batchSize and returns the
// mean cross-entropy and the accuracy. The last batch is zero-padded; padded
// rows are not counted.
func Evaluate(params network.Params, split mnist.Split, batchSize int) (loss, accuracy float64, err error) {
	if split.Len() == 0 {
		return 0, 0, fmt.Errorf("empty split")
	}
	g := G.NewGraph()
	net, err := network.Build(g, batchSize, params)
	if err != nil {
		return 0, 0, err
	}
	vm := G.NewTapeMachine(g)
	defer vm.Close()

	b := newBatch(batchSize)
	idx := make([]int, 0, batchSize)
	var correct int
	var nll float64
	for start := 0; start < split.Len(); start += batchSize {
		idx = idx[:0]
		for i := start; i < start+batchSize && i < split.Len(); i++ {
			idx = append(idx, i)
		}
		labels := b.fill(split, idx)
		if err := G.Let(net.X(), b.x); err != nil {
			return 0, 0, err
		}
		if err := vm.RunAll(); err != nil {
			return 0, 0, err
		}
		probs := net.Probabilities()
		correct += countCorrect(probs, labels)
		for row, l := range labels {
			nll -= math.Log(float64(probs[row*mnist.NumClasses+int(l)]) + 1e-7)
		}
		vm.Reset()
	}
	n := float64(split.Len())
	return nll / n, float64(correct) / n, nil
}

// batch owns the reusable input buffers bound to the graph.
type batch struct {
	size   int
	xData  []float32
	yData  []float32
	x, y   *tensor.Dense
	labels []byte
}

func newBatch(size int) *batch {
	b := &batch{
		size:  size,
		xData: make([]float32, size*pixels),
		yData: make([]float32, size*mnist.NumClasses),
	}
	b.x = tensor.New(tensor.WithShape(size, 1, mnist.ImgSize, mnist.ImgSize), tensor.WithBacking(b.xData))
	b.y = tensor.New(tensor.WithShape(size, mnist.NumClasses), tensor.WithBacking(b.yData))
	return b
}

// fill copies the samples at idx into the buffers, normalizing pixels and
// one-hot encoding labels. Rows past len(idx) are zeroed. It returns the
// labels of the filled rows.
func (b *batch) fill(s mnist.Split, idx []int) []byte {
	for i := range b.xData {
		b.xData[i] = 0
	}
	for i := range b.yData {
		b.yData[i] = 0
	}
	b.labels = b.labels[:0]
	for row, i := range idx {
		mnist.Normalize(b.xData[row*pixels:(row+1)*pixels], s.Images[i])
		l := s.Labels[i]
		b.yData[row*mnist.NumClasses+int(l)] = 1
		b.labels = append(b.labels, l)
	}
	return b.labels
}

// countCorrect compares the arg-max of each probability row with labels.
func countCorrect(probs []float32, labels []byte) int {
	n := 0
	for row, l := range labels {
		if network.ArgMax(probs[row*mnist.NumClasses:(row+1)*mnist.NumClasses]) == int(l) {
			n++
		}
	}
	return n
}
