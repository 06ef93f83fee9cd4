package classifier

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"math/rand"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/example/lesion-intake/internal/validator"
)

func fixedModel(probs ...float64) Model {
	return ModelFunc(func(ctx context.Context, input Tensor) ([]float64, error) {
		out := make([]float64, len(probs))
		copy(out, probs)
		return out, nil
	})
}

func testImage() *validator.Image {
	img := image.NewRGBA(image.Rect(0, 0, 300, 200))
	for x := 0; x < 300; x++ {
		img.Set(x, x%200, color.RGBA{R: 200, G: 90, B: 60, A: 255})
	}
	return &validator.Image{Decoded: img, Width: 300, Height: 200, Filename: "a.png", ContentType: "image/png", Format: "png"}
}

func TestAggregateInvariantsOnRandomDistributions(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 2000; i++ {
		probs := make([]float64, NumClasses)
		var sum float64
		for j := range probs {
			probs[j] = rng.Float64()
			sum += probs[j]
		}
		for j := range probs {
			probs[j] /= sum
		}

		res, err := Aggregate(probs)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if diff := math.Abs(res.BenignProbability + res.MalignantProbability - 1); diff > 1e-6 {
			t.Fatalf("probabilities sum off by %g: %+v", diff, res)
		}
		if res.Confidence != math.Max(res.BenignProbability, res.MalignantProbability) {
			t.Fatalf("confidence %v is not the max of %+v", res.Confidence, res)
		}
		if res.Confidence <= 0 || res.Confidence > 1 {
			t.Fatalf("confidence out of range: %v", res.Confidence)
		}
	}
}

func TestAggregateUsesFixedPartition(t *testing.T) {
	// All mass on malignant indices 1, 2 and 5.
	res, err := Aggregate([]float64{0, 0.3, 0.3, 0, 0, 0.4, 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Verdict != Malignant || res.MalignantProbability != 1 || res.BenignProbability != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}

	// All mass on benign indices 0, 3, 4 and 6.
	res, err = Aggregate([]float64{0.1, 0, 0, 0.2, 0.3, 0, 0.4})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Verdict != Benign || res.Confidence != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestAggregateTieIsMalignant(t *testing.T) {
	res, err := Aggregate([]float64{0.25, 0.25, 0.25, 0.25, 0, 0, 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Verdict != Malignant {
		t.Fatalf("expected tie to resolve to malignant, got %s", res.Verdict)
	}
	if res.Confidence != 0.5 {
		t.Fatalf("expected confidence 0.5, got %v", res.Confidence)
	}
}

func TestAggregateRenormalizes(t *testing.T) {
	// Masses 0.3 benign and 0.1 malignant renormalize to 0.75 / 0.25.
	res, err := Aggregate([]float64{0.3, 0.1, 0, 0, 0, 0, 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.BenignProbability != 0.75 || res.MalignantProbability != 0.25 {
		t.Fatalf("unexpected masses: %+v", res)
	}
}

func TestAggregateRoundsToFourDigits(t *testing.T) {
	res, err := Aggregate([]float64{0.123456, 0.876544, 0, 0, 0, 0, 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.MalignantProbability != 0.8765 || res.Confidence != 0.8765 {
		t.Fatalf("unexpected rounding: %+v", res)
	}
	if res.ClassProbabilities[0] != 0.1235 {
		t.Fatalf("unexpected class rounding: %v", res.ClassProbabilities)
	}
}

func TestAggregateDerivesLoserFromRoundedWinner(t *testing.T) {
	// Both halves sit on a rounding boundary, so rounding each one alone
	// could give a pair summing to 1.0001.
	res, err := Aggregate([]float64{0.44445, 0.55555, 0, 0, 0, 0, 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Verdict != Malignant {
		t.Fatalf("expected malignant, got %+v", res)
	}
	if res.BenignProbability != round4(1-res.MalignantProbability) {
		t.Fatalf("loser not derived from winner: %+v", res)
	}
	if sum := res.BenignProbability + res.MalignantProbability; math.Abs(sum-1) > 1e-9 {
		t.Fatalf("masses sum to %v", sum)
	}
}

func TestAggregateAllZeroIsEvenSplit(t *testing.T) {
	res, err := Aggregate(make([]float64, NumClasses))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Verdict != Malignant || res.Confidence != 0.5 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestAggregateRejectsMalformedOutput(t *testing.T) {
	for name, probs := range map[string][]float64{
		"short":    {0.5, 0.5},
		"negative": {-0.1, 0.5, 0.6, 0, 0, 0, 0},
		"nan":      {math.NaN(), 0, 0, 0, 0, 0, 1},
	} {
		if _, err := Aggregate(probs); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestClassifyUnavailable(t *testing.T) {
	c := New(nil, zap.NewNop())
	if _, err := c.Classify(context.Background(), testImage()); !errors.Is(err, ErrClassifierUnavailable) {
		t.Fatalf("expected ErrClassifierUnavailable, got %v", err)
	}

	boom := errors.New("connection refused")
	c = New(ModelFunc(func(ctx context.Context, input Tensor) ([]float64, error) {
		return nil, boom
	}), zap.NewNop())
	_, err := c.Classify(context.Background(), testImage())
	if !errors.Is(err, ErrClassifierUnavailable) || !errors.Is(err, boom) {
		t.Fatalf("expected wrapped model error, got %v", err)
	}

	c = New(fixedModel(1, 0), zap.NewNop())
	if _, err := c.Classify(context.Background(), testImage()); !errors.Is(err, ErrClassifierUnavailable) {
		t.Fatalf("expected malformed output to be unavailable, got %v", err)
	}
}

func TestClassifyPassesPreprocessedTensor(t *testing.T) {
	var got Tensor
	c := New(ModelFunc(func(ctx context.Context, input Tensor) ([]float64, error) {
		got = input
		return []float64{0.9, 0.1, 0, 0, 0, 0, 0}, nil
	}), zap.NewNop())

	res, err := c.Classify(context.Background(), testImage())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Verdict != Benign || res.Confidence != 0.9 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got.Shape != [3]int{3, InputSize, InputSize} || len(got.Data) != 3*InputSize*InputSize {
		t.Fatalf("unexpected tensor shape %v with %d values", got.Shape, len(got.Data))
	}
}

func TestPreprocessNormalizesChannels(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 150, 150))
	for y := 0; y < 150; y++ {
		for x := 0; x < 150; x++ {
			img.Set(x, y, color.RGBA{R: 255, A: 255})
		}
	}
	tensor := Preprocess(img)
	plane := InputSize * InputSize

	wantRed := (1 - channelMean[0]) / channelStd[0]
	wantGreen := (0 - channelMean[1]) / channelStd[1]
	if math.Abs(float64(tensor.Data[0]-wantRed)) > 1e-5 {
		t.Fatalf("expected red %v, got %v", wantRed, tensor.Data[0])
	}
	if math.Abs(float64(tensor.Data[plane]-wantGreen)) > 1e-5 {
		t.Fatalf("expected green %v, got %v", wantGreen, tensor.Data[plane])
	}
}

func TestClassifyIsSafeForConcurrentUse(t *testing.T) {
	c := New(fixedModel(0.1, 0.2, 0.2, 0.1, 0.1, 0.2, 0.1), zap.NewNop())
	img := testImage()

	var wg sync.WaitGroup
	results := make([]Result, 16)
	errs := make([]error, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Classify(context.Background(), img)
		}(i)
	}
	wg.Wait()

	for i := range results {
		if errs[i] != nil {
			t.Fatalf("call %d failed: %v", i, errs[i])
		}
		if results[i].Verdict != results[0].Verdict || results[i].Confidence != results[0].Confidence {
			t.Fatalf("call %d diverged: %+v vs %+v", i, results[i], results[0])
		}
	}
}
