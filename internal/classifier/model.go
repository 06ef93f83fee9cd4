package classifier

import "context"

// NumClasses is the width of the distribution the lesion model emits.
const NumClasses = 7

// Tensor is a CHW float32 image ready for the model.
type Tensor struct {
	Shape [3]int
	Data  []float32
}

// Model is the opaque 7-class lesion model. Implementations must be safe for
// concurrent use and must not mutate shared state per call.
type Model interface {
	Predict(ctx context.Context, input Tensor) ([]float64, error)
}

// ModelFunc adapts a plain function to Model.
type ModelFunc func(ctx context.Context, input Tensor) ([]float64, error)

func (f ModelFunc) Predict(ctx context.Context, input Tensor) ([]float64, error) {
	return f(ctx, input)
}
