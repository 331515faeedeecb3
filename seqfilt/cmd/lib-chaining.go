// Copyright © 2025-2026 Bonsai Bio <dev@bonsai.bio>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

package cmd

import (
	"math"
	"sort"
)

// Chainer scores colinear groups of seed hits of a read against the
// references of a partition. A chainer is owned by one searcher and
// not safe for concurrent use.
type Chainer struct {
	opt *SearchOptions

	scores        []float64
	maxscores     []float64
	maxscoresIdxs []int

	// references already accepted in the current orientation, so a
	// later pass does not count the same alignment twice
	accepted map[uint32]bool
}

// NewChainer creates a new chainer.
func NewChainer(opt *SearchOptions) *Chainer {
	return &Chainer{
		opt: opt,

		scores:        make([]float64, 0, 128),
		maxscores:     make([]float64, 0, 128),
		maxscoresIdxs: make([]int, 0, 128),

		accepted: make(map[uint32]bool, 8),
	}
}

// reset prepares the chainer for a fresh orientation.
func (ce *Chainer) reset() {
	for ref := range ce.accepted {
		delete(ce.accepted, ref)
	}
}

// Chain groups the read's seed hits by reference, scores each group
// and folds accepted alignments into the read state. It reports
// whether scanning should continue, false once the alignment budget
// is used up.
func (ce *Chainer) Chain(r *Read, p *Partition) bool {
	if r.Budget == 0 {
		return false
	}
	if len(r.Hits) == 0 {
		return true
	}

	// seeds were found, whether anything aligns or not
	r.HitDenovo = true

	hits := r.Hits
	sort.Slice(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Ref != b.Ref {
			return a.Ref < b.Ref
		}
		if a.QPos != b.QPos {
			return a.QPos < b.QPos
		}
		return a.TPos < b.TPos
	})

	weight := seedWeight(float64(p.WindowLen))

	var start int
	for i := 1; i <= len(hits); i++ {
		if i < len(hits) && hits[i].Ref == hits[start].Ref {
			continue
		}
		group := hits[start:i]
		start = i

		ref := group[0].Ref
		if len(group) < ce.opt.MinSeedHits || ce.accepted[ref] {
			continue
		}

		score := ce.chainOne(group, weight)
		if score < ce.opt.MinChainScore {
			continue
		}

		ce.accepted[ref] = true
		r.Hit = true
		if score > r.MaxScore {
			r.MaxScore = score
		}
		if r.Budget > 0 {
			r.Budget--
			if r.Budget == 0 {
				return false
			}
		}
	}

	return true
}

// chainOne computes the best chain score of the seed hits of one
// reference with a triangular score matrix over all seed pairs.
func (ce *Chainer) chainOne(hits []SeedHit, weight float64) float64 {
	n := len(hits)
	if n == 1 {
		return weight
	}

	var i, j, j0, k, mj int

	// a list for storing triangular score matrix, the size is n*(n+1)>>1
	scores := ce.scores[:0]
	for k = 0; k < n*(n+1)>>1; k++ {
		scores = append(scores, 0)
	}
	// the maximum score ending at each seed, the size is n
	maxscores := ce.maxscores[:0]
	// index of previous seed, the size is n
	maxscoresIdxs := ce.maxscoresIdxs[:0]
	for i = 0; i < n; i++ {
		maxscores = append(maxscores, 0)
		maxscoresIdxs = append(maxscoresIdxs, 0)
	}
	for i = range hits { // j == i, means a chain starting from this seed
		j0 = i * (i + 1) >> 1
		scores[j0+i] = weight
	}
	maxscores[0] = scores[0]
	maxscoresIdxs[0] = 0

	var s, m, d, g float64
	var a, b SeedHit
	maxGap := ce.opt.MaxGap
	best := maxscores[0]
	for i = 1; i < n; i++ {
		j0 = i * (i + 1) >> 1

		// just initialize the max score, which comes from the current seed
		m = scores[j0+i]
		mj = i

		for j = 0; j < i; j++ { // try all previous seeds, no bound
			k = j0 + j
			a, b = hits[i], hits[j]

			d = seedDistance(a, b)
			g = seedGap(a, b)
			if g > maxGap {
				continue
			}

			s = maxscores[j] + weight - distanceScore(d) - gapScore(g)
			scores[k] = s

			if s >= m { // update the max score
				m = s
				mj = j
			}
		}
		maxscores[i] = m
		maxscoresIdxs[i] = mj
		if m > best {
			best = m
		}
	}

	ce.scores = scores
	ce.maxscores = maxscores
	ce.maxscoresIdxs = maxscoresIdxs
	return best
}

func seedWeight(l float64) float64 {
	return 0.1 * l * l
}

func seedDistance(a, b SeedHit) float64 {
	return math.Max(math.Abs(float64(a.QPos-b.QPos)), math.Abs(float64(a.TPos-b.TPos)))
}

func distanceScore(d float64) float64 {
	return 0.01 * d
}

func seedGap(a, b SeedHit) float64 {
	return math.Abs(math.Abs(float64(a.QPos-b.QPos)) - math.Abs(float64(a.TPos-b.TPos)))
}

func gapScore(gap float64) float64 {
	if gap == 0 {
		return 0
	}
	return 0.1*gap + 0.5*math.Log2(gap)
}
