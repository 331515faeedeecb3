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

import "testing"

func chainTestOptions() *SearchOptions {
	return &SearchOptions{
		SkipLengths:   [3]int{8, 4, 3},
		MinSeedHits:   2,
		NumAlignments: -1,
		MinChainScore: 10,
		MaxGap:        5000,
	}
}

func testPartition(w int) *Partition {
	return &Partition{
		DBName:        "testdb",
		WindowLen:     w,
		HalfWindowLen: w >> 1,
	}
}

func TestChainColinearHits(t *testing.T) {
	opt := chainTestOptions()
	ce := NewChainer(opt)
	p := testPartition(8)

	r := NewRead("r1", []byte("ACGTACGTACGTACGTACGTACGT"))
	defer RecycleRead(r)
	r.Budget = -1
	r.Hits = append(r.Hits,
		SeedHit{Ref: 0, QPos: 0, TPos: 100},
		SeedHit{Ref: 0, QPos: 8, TPos: 108},
		SeedHit{Ref: 0, QPos: 16, TPos: 116},
	)

	if !ce.Chain(r, p) {
		t.Error("unlimited budget stopped the search")
	}
	if !r.Hit {
		t.Error("colinear hits not accepted")
	}
	if !r.HitDenovo {
		t.Error("seed hits not flagged")
	}
	if r.MaxScore < opt.MinChainScore {
		t.Errorf("score too low: %f", r.MaxScore)
	}
}

func TestChainMinSeedHits(t *testing.T) {
	opt := chainTestOptions()
	ce := NewChainer(opt)
	p := testPartition(8)

	r := NewRead("r1", []byte("ACGTACGTACGT"))
	defer RecycleRead(r)
	r.Budget = -1
	r.Hits = append(r.Hits, SeedHit{Ref: 0, QPos: 0, TPos: 100})

	ce.Chain(r, p)
	if r.Hit {
		t.Error("a single seed hit accepted")
	}
	if !r.HitDenovo {
		t.Error("seed hit not flagged")
	}
}

func TestChainBudget(t *testing.T) {
	opt := chainTestOptions()
	ce := NewChainer(opt)
	p := testPartition(8)

	r := NewRead("r1", []byte("ACGTACGTACGTACGT"))
	defer RecycleRead(r)
	r.Budget = 1
	r.Hits = append(r.Hits,
		SeedHit{Ref: 0, QPos: 0, TPos: 100},
		SeedHit{Ref: 0, QPos: 8, TPos: 108},
		SeedHit{Ref: 1, QPos: 0, TPos: 50},
		SeedHit{Ref: 1, QPos: 8, TPos: 58},
	)

	if ce.Chain(r, p) {
		t.Error("search continued with an exhausted budget")
	}
	if r.Budget != 0 {
		t.Errorf("budget: %d, expected 0", r.Budget)
	}
}

func TestChainAcceptedOnce(t *testing.T) {
	opt := chainTestOptions()
	opt.NumAlignments = 2
	ce := NewChainer(opt)
	p := testPartition(8)

	r := NewRead("r1", []byte("ACGTACGTACGTACGT"))
	defer RecycleRead(r)
	r.Budget = 2
	r.Hits = append(r.Hits,
		SeedHit{Ref: 0, QPos: 0, TPos: 100},
		SeedHit{Ref: 0, QPos: 8, TPos: 108},
	)

	// a later pass re-chains the accumulated hits of the same
	// reference, the alignment must not be counted again
	ce.Chain(r, p)
	ce.Chain(r, p)
	if r.Budget != 1 {
		t.Errorf("alignment counted twice, budget: %d", r.Budget)
	}

	// a fresh orientation counts again
	ce.reset()
	ce.Chain(r, p)
	if r.Budget != 0 {
		t.Errorf("budget after reset: %d, expected 0", r.Budget)
	}
}

func TestChainOneScores(t *testing.T) {
	opt := chainTestOptions()
	opt.MaxGap = 100
	ce := NewChainer(opt)

	weight := seedWeight(8)

	colinear := []SeedHit{
		{Ref: 0, QPos: 0, TPos: 0},
		{Ref: 0, QPos: 8, TPos: 8},
	}
	scattered := []SeedHit{
		{Ref: 0, QPos: 0, TPos: 0},
		{Ref: 0, QPos: 8, TPos: 800}, // gap beyond MaxGap
	}

	sc := ce.chainOne(colinear, weight)
	ss := ce.chainOne(scattered, weight)
	if sc <= ss {
		t.Errorf("colinear %f <= scattered %f", sc, ss)
	}
	if ss != weight { // two unchainable seeds score like one
		t.Errorf("scattered score: %f, expected %f", ss, weight)
	}
}
