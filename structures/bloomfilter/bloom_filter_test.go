package bloomfilter

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNoFalseNegatives(t *testing.T) {
	f := New(1000, 0.01)
	keys := make([]int32, 1000)
	for i := range keys {
		keys[i] = int32(i * 7)
		f.Add(keys[i])
	}
	for _, k := range keys {
		require.True(t, f.PossiblyContains(k), "key %d must never be a false negative", k)
	}
}

func TestFalsePositiveRateWithinStatisticalBounds(t *testing.T) {
	const n = 10000
	const fpRate = 0.01
	f := New(n, fpRate)

	for i := 0; i < n; i++ {
		f.Add(int32(i))
	}

	falsePositives := 0
	const trials = 10000
	for i := 0; i < trials; i++ {
		// Keys disjoint from the inserted range.
		candidate := int32(n + i)
		if f.PossiblyContains(candidate) {
			falsePositives++
		}
	}

	observedRate := float64(falsePositives) / float64(trials)
	require.Less(t, observedRate, fpRate*5, "observed false positive rate %f far exceeds configured rate %f", observedRate, fpRate)
}

func TestSmallFilterDoesNotPanic(t *testing.T) {
	f := New(1, 0.5)
	f.Add(42)
	require.True(t, f.PossiblyContains(42))
}
