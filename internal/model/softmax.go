package model

import (
	"math"
	"sort"
)

// Softmax converts logits into probabilities summing to 1.
func Softmax(logits []float32) []float64 {
	if len(logits) == 0 {
		return nil
	}

	maxVal := float64(logits[0])
	for _, v := range logits[1:] {
		if float64(v) > maxVal {
			maxVal = float64(v)
		}
	}

	probs := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		probs[i] = math.Exp(float64(v) - maxVal)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

// Argmax returns the first index holding the largest value.
func Argmax(probs []float64) int {
	best := 0
	for i, p := range probs {
		if p > probs[best] {
			best = i
		}
	}
	return best
}

// TopK returns the k highest scores, best first. Equal scores keep index order.
func TopK(probs []float64, k int) []Score {
	scores := make([]Score, len(probs))
	for i, p := range probs {
		scores[i] = Score{Index: i, Score: p}
	}
	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].Score > scores[j].Score
	})
	if k < 0 {
		k = 0
	}
	if k < len(scores) {
		scores = scores[:k]
	}
	return scores
}
