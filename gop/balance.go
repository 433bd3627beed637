package gop

import (
	"math"
	"math/rand"
	"sort"
)

// Bucket returns the score bucket a label falls in: the nearest integer.
func Bucket(score float64) int {
	return int(math.Round(score))
}

// BucketCounts returns the number of samples in each score bucket.
func BucketCounts(samples []Sample) map[int]int {
	counts := make(map[int]int)
	for _, s := range samples {
		counts[Bucket(s.Score)]++
	}
	return counts
}

// Balance oversamples minority score buckets so every bucket ends up with as
// many samples as the largest one. Buckets are visited in ascending order;
// each keeps all of its original samples, then is topped up by drawing from
// itself with replacement. The draws come from a generator seeded with seed,
// so the result is reproducible.
func Balance(samples []Sample, seed int64) []Sample {
	buckets := make(map[int][]Sample)
	for _, s := range samples {
		b := Bucket(s.Score)
		buckets[b] = append(buckets[b], s)
	}

	keys := make([]int, 0, len(buckets))
	largest := 0
	for b, members := range buckets {
		keys = append(keys, b)
		largest = max(largest, len(members))
	}
	sort.Ints(keys)

	rng := rand.New(rand.NewSource(seed))
	out := make([]Sample, 0, largest*len(keys))
	for _, b := range keys {
		members := buckets[b]
		out = append(out, members...)
		for i := len(members); i < largest; i++ {
			out = append(out, members[rng.Intn(len(members))])
		}
	}
	return out
}
