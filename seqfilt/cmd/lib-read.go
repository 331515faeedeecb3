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
	"sync"
)

// nt2int maps a base to the integer alphabet. A/a=0, C/c=1, G/g=2,
// T/t/U/u=3, everything else (including N) is 4 and never matches.
var nt2int [256]byte

// int2ntRC maps an integer base to its complement, still in the
// integer alphabet.
var int2ntRC = [5]byte{3, 2, 1, 0, 4}

func init() {
	for i := range nt2int {
		nt2int[i] = 4
	}
	nt2int['A'], nt2int['a'] = 0, 0
	nt2int['C'], nt2int['c'] = 1, 1
	nt2int['G'], nt2int['g'] = 2, 2
	nt2int['T'], nt2int['t'] = 3, 3
	nt2int['U'], nt2int['u'] = 3, 3
}

// SeedHit is one matched half-window pair: a query window position
// and a matching position on a reference sequence.
type SeedHit struct {
	Ref  uint32 // reference sequence index within the partition
	QPos int32  // window start on the read
	TPos int32  // window start on the reference
}

// Pack encodes the reference and target position for the read-state
// store. The query position is not needed for cross-partition
// deduplication.
func (h SeedHit) Pack() uint64 {
	return uint64(h.Ref)<<32 | uint64(uint32(h.TPos))
}

// Read is one query sequence and its search state while scanning a
// partition.
type Read struct {
	ID  string
	Seq []byte // raw sequence as read from the input

	ISeq   []byte // sequence in the integer alphabet
	iseqRC []byte // lazy reverse complement

	Valid bool // false for reads too short to hold a single window

	// scanned[pos] marks window starts already looked up in previous
	// passes of the current orientation, so no position is scanned
	// twice.
	scanned []bool

	Hits   []SeedHit // seed hits of the current orientation
	Packed []uint64  // packed hits of all orientations, for the state store

	// accumulated over orientations and partitions
	Hit        bool
	HitDenovo  bool
	MaxScore   float64
	Budget     int32 // remaining alignment slots, <0 means unlimited
	NumLookups int   // half-window lookups performed, for statistics
}

var poolRead = &sync.Pool{New: func() interface{} {
	return &Read{
		Seq:     make([]byte, 0, 256),
		ISeq:    make([]byte, 0, 256),
		iseqRC:  make([]byte, 0, 256),
		scanned: make([]bool, 0, 256),
		Hits:    make([]SeedHit, 0, 32),
		Packed:  make([]uint64, 0, 32),
	}
}}

// RecycleRead recycles a read object.
func RecycleRead(r *Read) {
	poolRead.Put(r)
}

// NewRead wraps a raw record into a reusable Read. The sequence is
// converted to the integer alphabet, trailing CR/LF bytes are dropped.
func NewRead(id string, seq []byte) *Read {
	r := poolRead.Get().(*Read)
	r.ID = id

	for len(seq) > 0 && (seq[len(seq)-1] == '\n' || seq[len(seq)-1] == '\r') {
		seq = seq[:len(seq)-1]
	}

	r.Seq = append(r.Seq[:0], seq...)
	r.ISeq = r.ISeq[:0]
	for _, c := range seq {
		r.ISeq = append(r.ISeq, nt2int[c])
	}
	r.iseqRC = r.iseqRC[:0]

	r.Valid = true
	r.scanned = r.scanned[:0]
	r.Hits = r.Hits[:0]
	r.Packed = r.Packed[:0]
	r.Hit = false
	r.HitDenovo = false
	r.MaxScore = 0
	r.Budget = -1
	r.NumLookups = 0
	return r
}

// ISeqRC returns the reverse complement in the integer alphabet,
// computed once on first use.
func (r *Read) ISeqRC() []byte {
	if len(r.iseqRC) == len(r.ISeq) {
		return r.iseqRC
	}
	r.iseqRC = r.iseqRC[:0]
	for i := len(r.ISeq) - 1; i >= 0; i-- {
		r.iseqRC = append(r.iseqRC, int2ntRC[r.ISeq[i]])
	}
	return r.iseqRC
}

// resetScan prepares the scanned mask and hit list for a fresh
// orientation.
func (r *Read) resetScan() {
	if cap(r.scanned) < len(r.ISeq) {
		r.scanned = make([]bool, len(r.ISeq))
	}
	r.scanned = r.scanned[:len(r.ISeq)]
	for i := range r.scanned {
		r.scanned[i] = false
	}
	r.Hits = r.Hits[:0]
}

// hashKmer folds k bases starting at offset into a 2-bit-packed code.
// ok is false if the stretch contains an ambiguous base.
func hashKmer(iseq []byte, offset, k int) (code uint64, ok bool) {
	for _, c := range iseq[offset : offset+k] {
		if c > 3 {
			return 0, false
		}
		code = code<<2 | uint64(c)
	}
	return code, true
}
