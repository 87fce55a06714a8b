package nn

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// NLLLoss is the mean negative log-likelihood of the target class, given
// log-probabilities as produced by LogSoftmax.
type NLLLoss struct{}

// Forward returns the mean loss over the batch.
func (NLLLoss) Forward(logProbs *mat.Dense, labels []int) float64 {
	n, c := logProbs.Dims()
	if n != len(labels) {
		panic(fmt.Sprintf("nn: nll got %d rows and %d labels", n, len(labels)))
	}
	total := 0.0
	for i, y := range labels {
		if y < 0 || y >= c {
			panic(fmt.Sprintf("nn: label %d out of range [0, %d)", y, c))
		}
		total -= logProbs.At(i, y)
	}
	return total / float64(n)
}

// Backward returns dLoss/dLogProbs.
func (NLLLoss) Backward(logProbs *mat.Dense, labels []int) *mat.Dense {
	n, c := logProbs.Dims()
	grad := mat.NewDense(n, c, nil)
	scale := -1 / float64(n)
	for i, y := range labels {
		grad.Set(i, y, scale)
	}
	return grad
}

// Accuracy returns the fraction of rows whose argmax equals the label.
func Accuracy(scores *mat.Dense, labels []int) float64 {
	n, _ := scores.Dims()
	if n == 0 {
		return 0
	}
	return float64(Correct(scores, labels)) / float64(n)
}

// Correct counts rows whose argmax equals the label.
func Correct(scores *mat.Dense, labels []int) int {
	correct := 0
	for i, y := range labels {
		if floats.MaxIdx(scores.RawRowView(i)) == y {
			correct++
		}
	}
	return correct
}

// Predict returns the argmax class per row.
func Predict(scores *mat.Dense) []int {
	n, _ := scores.Dims()
	out := make([]int, n)
	for i := range out {
		out[i] = floats.MaxIdx(scores.RawRowView(i))
	}
	return out
}

func expClamp(v float64) float64 {
	if v < -700 {
		return 0
	}
	return math.Exp(v)
}
