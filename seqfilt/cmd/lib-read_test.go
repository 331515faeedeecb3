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
	"bytes"
	"testing"
)

func toInts(s string) []byte {
	r := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		r[i] = nt2int[s[i]]
	}
	return r
}

func TestNewRead(t *testing.T) {
	r := NewRead("r1", []byte("ACGTUacgtuN\r\n"))
	defer RecycleRead(r)

	if len(r.ISeq) != 11 {
		t.Fatalf("line endings not trimmed: %d bases", len(r.ISeq))
	}
	want := []byte{0, 1, 2, 3, 3, 0, 1, 2, 3, 3, 4}
	if !bytes.Equal(r.ISeq, want) {
		t.Errorf("wrong integer sequence: %v", r.ISeq)
	}
}

func TestReadReuse(t *testing.T) {
	r := NewRead("r1", []byte("ACGTACGT"))
	r.Hit = true
	r.Hits = append(r.Hits, SeedHit{Ref: 1})
	r.Packed = append(r.Packed, 42)
	RecycleRead(r)

	r = NewRead("r2", []byte("TTTT"))
	defer RecycleRead(r)
	if r.Hit || len(r.Hits) != 0 || len(r.Packed) != 0 || len(r.ISeq) != 4 {
		t.Errorf("recycled read not reset: %+v", r)
	}
}

func TestISeqRC(t *testing.T) {
	r := NewRead("r1", []byte("AACGT"))
	defer RecycleRead(r)

	rc := r.ISeqRC()
	if !bytes.Equal(rc, toInts("ACGTT")) {
		t.Errorf("wrong reverse complement: %v", rc)
	}

	// an ambiguous base stays ambiguous
	r2 := NewRead("r2", []byte("ANT"))
	defer RecycleRead(r2)
	if !bytes.Equal(r2.ISeqRC(), []byte{0, 4, 3}) {
		t.Errorf("wrong reverse complement: %v", r2.ISeqRC())
	}
}

func TestHashKmer(t *testing.T) {
	iseq := toInts("ACGT")
	code, ok := hashKmer(iseq, 0, 4)
	if !ok || code != 0b00011011 {
		t.Errorf("wrong code: %b", code)
	}

	if _, ok = hashKmer(toInts("ACNT"), 0, 4); ok {
		t.Error("ambiguous stretch hashed")
	}

	// same stretch, same code
	iseq = toInts("GGACGTGG")
	code2, _ := hashKmer(iseq, 2, 4)
	if code2 != code {
		t.Errorf("codes differ: %b != %b", code2, code)
	}
}

func TestSeedHitPack(t *testing.T) {
	h := SeedHit{Ref: 7, QPos: 3, TPos: 1000}
	packed := h.Pack()
	if packed>>32 != 7 || uint32(packed) != 1000 {
		t.Errorf("wrong packing: %x", packed)
	}
}
