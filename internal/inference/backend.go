package inference

// Backend runs one forward pass over a single image.
type Backend interface {
	// Forward takes 784 float32 pixels laid out (1,28,28,1) and returns the
	// 10 class probabilities (or scores).
	Forward(pixels []float32) ([]float32, error)
	Name() string
	Close() error
}
