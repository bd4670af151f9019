// Package sampler turns a logits vector into a token id using temperature
// scaling and nucleus (top-p) filtering. It holds no shared state beyond the
// caller-owned RNG, so a Sampler is safe to use from its owning goroutine
// and the package functions are safe from any.
package sampler

import (
	"math"
	"math/rand"
	"sort"
)

// Sampler draws tokens from logit distributions with a seeded RNG.
// Results are reproducible for a fixed seed.
type Sampler struct {
	rng *rand.Rand
}

// New creates a sampler seeded for reproducible draws.
func New(seed int64) *Sampler {
	return &Sampler{rng: rand.New(rand.NewSource(seed))}
}

// Sample selects the next token id from logits.
// temperature == 0 is greedy argmax. topP < 1 restricts sampling to the
// smallest prefix of the probability-sorted vocabulary whose cumulative mass
// reaches topP; the top-1 token is always kept.
func (s *Sampler) Sample(logits []float32, temperature, topP float32) int {
	if temperature == 0 {
		return Greedy(logits)
	}

	scaled := make([]float32, len(logits))
	copy(scaled, logits)
	applyTemperature(scaled, temperature)

	if topP < 1.0 {
		applyTopP(scaled, topP)
	}

	return s.multinomial(scaled)
}

// Greedy returns the index of the largest logit. Ties keep the lowest index.
func Greedy(logits []float32) int {
	maxIdx := 0
	maxVal := logits[0]
	for i := 1; i < len(logits); i++ {
		if logits[i] > maxVal {
			maxVal = logits[i]
			maxIdx = i
		}
	}
	return maxIdx
}

func applyTemperature(logits []float32, temperature float32) {
	if temperature == 1.0 {
		return
	}
	for i, v := range logits {
		logits[i] = float32(float64(v) / float64(temperature))
	}
}

// applyTopP masks to -Inf every token outside the minimal sufficient prefix:
// a token survives while the cumulative mass strictly before it is below
// topP. Ties in probability break by vocabulary index (stable sort).
func applyTopP(logits []float32, topP float32) {
	probs := Softmax(logits)

	indices := make([]int, len(probs))
	for i := range indices {
		indices[i] = i
	}
	sort.SliceStable(indices, func(a, b int) bool {
		return probs[indices[a]] > probs[indices[b]]
	})

	cumBefore := float32(0)
	keep := 0
	for _, idx := range indices {
		if keep > 0 && cumBefore > topP {
			break
		}
		cumBefore += probs[idx]
		keep++
		if cumBefore >= topP {
			break
		}
	}

	kept := make(map[int]struct{}, keep)
	for _, idx := range indices[:keep] {
		kept[idx] = struct{}{}
	}
	negInf := float32(math.Inf(-1))
	for i := range logits {
		if _, ok := kept[i]; !ok {
			logits[i] = negInf
		}
	}
}

// Softmax converts logits to probabilities with max-subtraction for
// numerical stability. Masked (-Inf) entries map to zero probability.
func Softmax(logits []float32) []float32 {
	probs := make([]float32, len(logits))

	maxVal := float32(math.Inf(-1))
	for _, v := range logits {
		if !math.IsInf(float64(v), -1) && v > maxVal {
			maxVal = v
		}
	}

	sum := float32(0)
	for i, v := range logits {
		if math.IsInf(float64(v), -1) {
			probs[i] = 0
		} else {
			probs[i] = float32(math.Exp(float64(v - maxVal)))
		}
		sum += probs[i]
	}

	if sum > 0 {
		for i := range probs {
			probs[i] /= sum
		}
	} else {
		uniform := 1.0 / float32(len(probs))
		for i := range probs {
			probs[i] = uniform
		}
	}
	return probs
}

// multinomial samples an index from the categorical distribution over logits.
func (s *Sampler) multinomial(logits []float32) int {
	probs := Softmax(logits)
	r := s.rng.Float32()
	cum := float32(0)
	for i, p := range probs {
		cum += p
		if r <= cum {
			return i
		}
	}
	return len(probs) - 1
}
