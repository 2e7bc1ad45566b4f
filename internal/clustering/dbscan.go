package clustering

import (
	"github.com/pressgraph/evc/internal/embedding"
)

// dbscan runs density-based clustering over cosine distance. eps is the
// neighborhood radius; minPoints is the density threshold. With minPoints=1
// every point lands in a cluster and nothing is discarded as noise, which is
// what event consolidation wants: a unique event is still an event.
//
// Returns a cluster label per input vector (labels are 0-based and dense)
// and a parallel noise flag (true when the point formed a cluster only
// because minPoints permitted a singleton core).
func dbscan(vectors [][]float32, eps float64, minPoints int) ([]int, []bool) {
	const (
		unvisited = -2
		noise     = -1
	)

	n := len(vectors)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = unvisited
	}

	neighbors := func(i int) []int {
		var out []int
		for j := 0; j < n; j++ {
			if embedding.CosineDistance(vectors[i], vectors[j]) <= eps {
				out = append(out, j)
			}
		}
		return out
	}

	next := 0
	for i := 0; i < n; i++ {
		if labels[i] != unvisited {
			continue
		}
		seeds := neighbors(i)
		if len(seeds) < minPoints {
			labels[i] = noise
			continue
		}

		c := next
		next++
		labels[i] = c

		// Expand the cluster over density-reachable points.
		for k := 0; k < len(seeds); k++ {
			j := seeds[k]
			if labels[j] == noise {
				labels[j] = c
			}
			if labels[j] != unvisited {
				continue
			}
			labels[j] = c
			jn := neighbors(j)
			if len(jn) >= minPoints {
				seeds = append(seeds, jn...)
			}
		}
	}

	// With minPoints <= 1 the noise branch is unreachable, but keep the
	// algorithm general: promote leftover noise points to singleton
	// clusters so no mention is dropped.
	isNoise := make([]bool, n)
	for i := range labels {
		if labels[i] == noise {
			labels[i] = next
			next++
			isNoise[i] = true
		}
	}
	return labels, isNoise
}
