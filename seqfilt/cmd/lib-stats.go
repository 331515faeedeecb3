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
	"sync"
	"sync/atomic"

	"gonum.org/v1/gonum/stat"
)

// the length histogram covers [0, maxHistLen), longer reads fall into
// the last bin
const maxHistLen = 1 << 14

// ReadStats accumulates run statistics. All counters are safe for
// concurrent use.
type ReadStats struct {
	NumReads   uint64
	NumBases   uint64
	NumShort   uint64 // reads too short for a single window
	NumLookups uint64
	NumMatched uint64 // reads with at least one accepted alignment
	NumDenovo  uint64 // reads with seeds but no accepted alignment

	minLen int64
	maxLen int64

	hist []uint64 // read length histogram

	mu    sync.Mutex
	perDB map[string]uint64 // matched reads per database
}

// NewReadStats creates an empty statistics collector.
func NewReadStats() *ReadStats {
	return &ReadStats{
		minLen: math.MaxInt64,
		maxLen: -1,
		hist:   make([]uint64, maxHistLen),
		perDB:  make(map[string]uint64, 4),
	}
}

// CountRead records one read. Called once per read, on the first
// partition of the first database only.
func (st *ReadStats) CountRead(length int, valid bool) {
	atomic.AddUint64(&st.NumReads, 1)
	atomic.AddUint64(&st.NumBases, uint64(length))
	if !valid {
		atomic.AddUint64(&st.NumShort, 1)
	}

	// the histogram is clamped, min/max track the true length
	bin := length
	if bin >= maxHistLen {
		bin = maxHistLen - 1
	}
	atomic.AddUint64(&st.hist[bin], 1)

	l := int64(length)
	for {
		old := atomic.LoadInt64(&st.minLen)
		if l >= old || atomic.CompareAndSwapInt64(&st.minLen, old, l) {
			break
		}
	}
	for {
		old := atomic.LoadInt64(&st.maxLen)
		if l <= old || atomic.CompareAndSwapInt64(&st.maxLen, old, l) {
			break
		}
	}
}

// AddLookups records half-window lookups of one scan.
func (st *ReadStats) AddLookups(n int) {
	atomic.AddUint64(&st.NumLookups, uint64(n))
}

// MarkMatched records one read newly matched against a database.
func (st *ReadStats) MarkMatched(db string) {
	atomic.AddUint64(&st.NumMatched, 1)
	st.mu.Lock()
	st.perDB[db]++
	st.mu.Unlock()
}

// MarkDenovo records one read that had seed hits but no accepted
// alignment anywhere. Called once per read, after the last database.
func (st *ReadStats) MarkDenovo() {
	atomic.AddUint64(&st.NumDenovo, 1)
}

// lengthMeanStdDev computes mean and standard deviation of read
// lengths from the histogram.
func (st *ReadStats) lengthMeanStdDev() (float64, float64) {
	xs := make([]float64, 0, 128)
	ws := make([]float64, 0, 128)
	for l, n := range st.hist {
		if n > 0 {
			xs = append(xs, float64(l))
			ws = append(ws, float64(n))
		}
	}
	if len(xs) == 0 {
		return 0, 0
	}
	return stat.Mean(xs, ws), stat.StdDev(xs, ws)
}

// Report writes the run summary to the log.
func (st *ReadStats) Report(dbs []string) {
	n := atomic.LoadUint64(&st.NumReads)
	if n == 0 {
		log.Info("no reads processed")
		return
	}

	mean, stdev := st.lengthMeanStdDev()

	log.Infof("reads: %d, bases: %d", n, atomic.LoadUint64(&st.NumBases))
	log.Infof("read length: min: %d, max: %d, mean: %.2f, stdev: %.2f",
		atomic.LoadInt64(&st.minLen), atomic.LoadInt64(&st.maxLen), mean, stdev)
	if short := atomic.LoadUint64(&st.NumShort); short > 0 {
		log.Warningf("reads too short to search: %d", short)
	}
	log.Infof("half-window lookups: %d", atomic.LoadUint64(&st.NumLookups))

	matched := atomic.LoadUint64(&st.NumMatched)
	log.Infof("%.4f%% (%d/%d) reads matched", float64(matched)/float64(n)*100, matched, n)
	st.mu.Lock()
	for _, db := range dbs {
		m := st.perDB[db]
		log.Infof("    %.4f%% (%d/%d) matched database: %s", float64(m)/float64(n)*100, m, n, db)
	}
	st.mu.Unlock()
	if denovo := atomic.LoadUint64(&st.NumDenovo); denovo > 0 {
		log.Infof("%.4f%% (%d/%d) reads with seeds but no alignment", float64(denovo)/float64(n)*100, denovo, n)
	}
}
