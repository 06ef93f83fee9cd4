// Package classifier reduces the 7-class lesion model output to a binary
// benign/malignant verdict.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/example/lesion-intake/internal/validator"
)

// ErrClassifierUnavailable means the model could not produce a usable
// distribution. It is server-side and safe to retry later.
var ErrClassifierUnavailable = errors.New("classifier unavailable")

type Verdict string

const (
	Benign    Verdict = "benign"
	Malignant Verdict = "malignant"
)

// Clinical grouping of the model's class indices. This is policy and must not
// be derived from the labels. Together the groups cover all NumClasses
// indices.
var (
	benignIndices    = [...]int{0, 3, 4, 6}
	malignantIndices = [...]int{1, 2, 5}
)

// Result is the binary verdict for one image.
// BenignProbability + MalignantProbability == 1 and Confidence is the larger
// of the two. Only the winning mass is rounded from the model output; the
// other is 1 minus it, so it can differ from its own rounding by 1e-4.
type Result struct {
	Verdict              Verdict   `json:"verdict"`
	Confidence           float64   `json:"confidence"`
	BenignProbability    float64   `json:"benign_probability"`
	MalignantProbability float64   `json:"malignant_probability"`
	ClassProbabilities   []float64 `json:"class_probabilities"`
}

// Classifier wraps the shared model. It keeps no per-call state.
type Classifier struct {
	model  Model
	logger *zap.Logger
}

// New returns a Classifier backed by model. A nil model yields a classifier
// whose every call fails with ErrClassifierUnavailable.
func New(model Model, logger *zap.Logger) *Classifier {
	return &Classifier{model: model, logger: logger.Named("classifier")}
}

// Classify runs the model over img and aggregates its output.
func (c *Classifier) Classify(ctx context.Context, img *validator.Image) (Result, error) {
	if c == nil || c.model == nil {
		return Result{}, fmt.Errorf("%w: model not loaded", ErrClassifierUnavailable)
	}

	probs, err := c.model.Predict(ctx, Preprocess(img.Decoded))
	if err != nil {
		return Result{}, fmt.Errorf("%w: predict: %w", ErrClassifierUnavailable, err)
	}

	result, err := Aggregate(probs)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrClassifierUnavailable, err)
	}

	c.logger.Debug("image classified",
		zap.String("verdict", string(result.Verdict)),
		zap.Float64("confidence", result.Confidence))
	return result, nil
}

// Aggregate collapses a NumClasses distribution into a binary Result.
// Ties go to Malignant.
func Aggregate(probs []float64) (Result, error) {
	if len(probs) != NumClasses {
		return Result{}, fmt.Errorf("model returned %d probabilities, want %d", len(probs), NumClasses)
	}
	for i, p := range probs {
		if p < 0 || math.IsNaN(p) || math.IsInf(p, 0) {
			return Result{}, fmt.Errorf("model returned invalid probability %v at index %d", p, i)
		}
	}

	var benign, malignant float64
	for _, i := range benignIndices {
		benign += probs[i]
	}
	for _, i := range malignantIndices {
		malignant += probs[i]
	}

	if total := benign + malignant; total > 0 {
		benign /= total
		malignant /= total
	} else {
		benign, malignant = 0.5, 0.5
	}

	result := Result{ClassProbabilities: make([]float64, NumClasses)}
	for i, p := range probs {
		result.ClassProbabilities[i] = round4(p)
	}

	// Round the winner and derive the loser so the pair still sums to one.
	if benign > malignant {
		result.Verdict = Benign
		result.BenignProbability = round4(benign)
		result.MalignantProbability = round4(1 - result.BenignProbability)
		result.Confidence = result.BenignProbability
	} else {
		result.Verdict = Malignant
		result.MalignantProbability = round4(malignant)
		result.BenignProbability = round4(1 - result.MalignantProbability)
		result.Confidence = result.MalignantProbability
	}
	return result, nil
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
