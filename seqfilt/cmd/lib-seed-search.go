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
	"fmt"

	"github.com/bonsai-bio/seqfilt/seqfilt/cmd/trie"
)

// SearchOptions controls seed searching and chaining.
type SearchOptions struct {
	// window shifts of the up-to-three scanning passes over a read.
	// Consecutive equal values collapse into a single pass.
	SkipLengths [3]int

	// half-window codes occurring fewer times than this in a
	// partition are not looked up. 0 disables the filter.
	MinSeedOccurrences int

	// the minimum number of seed hits on one reference before
	// chaining is attempted
	MinSeedHits int

	// the maximum number of accepted alignments per read, <0 for
	// unlimited
	NumAlignments int

	// only track the best-scoring alignment instead of counting
	// accepted ones
	Best bool

	// the minimum chain score for accepting an alignment
	MinChainScore float64

	// the maximum gap between chained seeds
	MaxGap float64

	// flag reads with seed hits but no accepted alignment
	Denovo bool
}

// CheckSearchOptions check the options
func CheckSearchOptions(opt *SearchOptions) error {
	for _, s := range opt.SkipLengths {
		if s < 1 {
			return fmt.Errorf("invalid skip length: %d, should be >= 1", s)
		}
	}
	if opt.MinSeedHits < 1 {
		return fmt.Errorf("invalid minimum seed hits: %d, should be >= 1", opt.MinSeedHits)
	}
	if opt.MinChainScore < 0 {
		return fmt.Errorf("invalid minimum chain score: %f, should be >= 0", opt.MinChainScore)
	}
	if opt.MaxGap <= 0 {
		return fmt.Errorf("invalid maximum gap: %f, should be > 0", opt.MaxGap)
	}
	return nil
}

// ScanOutcome summarizes one read scanned against one partition.
type ScanOutcome struct {
	Valid    bool // long enough to hold a window
	Passes   int  // scanning passes actually run, over both orientations
	Lookups  int  // half-window lookups performed
	Accepted bool // at least one alignment accepted, now or earlier
	Denovo   bool // seed hits found but nothing accepted
}

// SeedSearcher scans reads against one partition of a reference
// database. A searcher is not safe for concurrent use, each worker
// owns one.
type SeedSearcher struct {
	opt     *SearchOptions
	chainer *Chainer

	vals []uint64 // reusable buffer for trie traversal results
}

// NewSeedSearcher creates a searcher.
func NewSeedSearcher(opt *SearchOptions) *SeedSearcher {
	return &SeedSearcher{
		opt:     opt,
		chainer: NewChainer(opt),
		vals:    make([]uint64, 0, 128),
	}
}

// Scan runs the multi-pass windowed seed search of one read against
// one partition, forward orientation first, then the reverse
// complement unless the alignment budget is already exhausted or, in
// best-hit mode, the score target has been reached.
// The read's accumulated state (Hit, MaxScore, Budget) must be set
// before calling.
func (s *SeedSearcher) Scan(r *Read, p *Partition) ScanOutcome {
	var out ScanOutcome

	if len(r.ISeq) < p.WindowLen {
		log.Warningf("read too short for a window of %d: %s (%d bp)",
			p.WindowLen, r.ID, len(r.ISeq))
		r.Valid = false
		return out
	}
	out.Valid = true

	lookups0 := r.NumLookups
	out.Passes = s.scanOrientation(r, r.ISeq, p)

	// in best-hit mode the reverse complement is skipped once the
	// score target is reached
	if r.Budget != 0 && !(s.opt.Best && r.MaxScore >= s.opt.MinChainScore) {
		out.Passes += s.scanOrientation(r, r.ISeqRC(), p)
	}

	out.Lookups = r.NumLookups - lookups0
	out.Accepted = r.Hit
	out.Denovo = r.HitDenovo && !r.Hit
	return out
}

// scanOrientation runs the pass loop over one orientation of a read.
// Returns the number of passes run.
func (s *SeedSearcher) scanOrientation(r *Read, iseq []byte, p *Partition) int {
	r.resetScan()
	s.chainer.reset()

	L := len(iseq)
	w := p.WindowLen
	last := L - w

	search := true
	pass := 0
	passes := 0
	for search {
		shift := s.opt.SkipLengths[pass]
		numwin := last/shift + 1

		for win := 0; win < numwin; win++ {
			pos := win * shift
			if !r.scanned[pos] {
				r.scanned[pos] = true
				s.matchWindow(r, iseq, p, pos)
			}
		}
		passes++

		search = s.chainer.Chain(r, p)

		// a pass with the same shift would rescan the same positions
		for pass < 2 && s.opt.SkipLengths[pass] == s.opt.SkipLengths[pass+1] {
			pass++
		}
		pass++
		if pass > 2 {
			search = false
		}
	}

	for _, h := range r.Hits {
		r.Packed = append(r.Packed, h.Pack())
	}
	return passes
}

// matchWindow looks up the window starting at pos: first the exact
// first half anchors a traversal of the second-half trie, and only if
// no exact second half was found there, the exact second half anchors
// a traversal of the reversed-first-half trie. So every reported
// window matches one half exactly and the other with at most one
// edit.
func (s *SeedSearcher) matchWindow(r *Read, iseq []byte, p *Partition, pos int) {
	h := p.HalfWindowLen
	minOcc := uint32(s.opt.MinSeedOccurrences)

	var foundExact bool

	codeF, okF := hashKmer(iseq, pos, h)
	if okF {
		e := &p.Lookup[codeF]
		if e.TrieF != nil && e.Count >= minOcc {
			s.vals = s.vals[:0]
			wb := trie.EncodeWindow(iseq[pos+h:], uint8(h))
			foundExact = e.TrieF.TraverseAlign(wb, &s.vals)
			trie.RecycleWindowBits(wb)
			r.NumLookups++
			s.appendHits(r, pos)
		}
	}

	if foundExact {
		return
	}

	codeS, okS := hashKmer(iseq, pos+h, h)
	if okS {
		e := &p.Lookup[codeS]
		if e.TrieR != nil && e.Count >= minOcc {
			s.vals = s.vals[:0]
			wb := trie.EncodeWindowRev(iseq, pos, uint8(h))
			e.TrieR.TraverseAlign(wb, &s.vals)
			trie.RecycleWindowBits(wb)
			r.NumLookups++
			s.appendHits(r, pos)
		}
	}
}

// appendHits converts traversal results into seed hits.
func (s *SeedSearcher) appendHits(r *Read, pos int) {
	for _, v := range s.vals {
		r.Hits = append(r.Hits, SeedHit{
			Ref:  uint32(v >> 32),
			QPos: int32(pos),
			TPos: int32(uint32(v)),
		})
	}
}
