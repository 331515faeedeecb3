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

package trie

import "testing"

func TestEncodeWindow(t *testing.T) {
	tail := seq2ints("ACGT")
	wb := EncodeWindow(tail, 4)
	defer RecycleWindowBits(wb)

	if wb.Extended || wb.Len != 4 {
		t.Errorf("unexpected extension: len=%d", wb.Len)
	}
	if wb.B[0] != 0b0001 || wb.B[1] != 0b0010 || wb.B[2] != 0b0100 || wb.B[3] != 0b1000 {
		t.Errorf("wrong bit vectors: %v", wb.B)
	}
	if wb.BK != wb.B {
		t.Errorf("BK differs from B for a non-extended pattern")
	}
}

func TestEncodeWindowExtended(t *testing.T) {
	tail := seq2ints("ACGTA")
	wb := EncodeWindow(tail, 4)
	defer RecycleWindowBits(wb)

	if !wb.Extended || wb.Len != 5 {
		t.Fatalf("extension not detected: len=%d", wb.Len)
	}
	if wb.B[0] != 0b10001 {
		t.Errorf("extra base not encoded: %b", wb.B[0])
	}
	if wb.BK[0] != 0b0001 { // BK is limited to the first 4 bases
		t.Errorf("BK includes the extra base: %b", wb.BK[0])
	}
}

func TestEncodeWindowAmbiguous(t *testing.T) {
	tail := seq2ints("ANGT")
	wb := EncodeWindow(tail, 4)
	defer RecycleWindowBits(wb)

	var all uint64
	for _, b := range wb.B {
		all |= b
	}
	if all&0b0010 > 0 {
		t.Errorf("ambiguous base set a bit: %v", wb.B)
	}
}

func TestEncodeWindowRev(t *testing.T) {
	// pattern is the first half read right to left
	iseq := seq2ints("ACGTTTTT")
	wb := EncodeWindowRev(iseq, 0, 4)

	if wb.Extended {
		t.Error("unexpected extension at offset 0")
	}
	// reversed first half is TGCA
	if wb.B[3] != 0b0001 || wb.B[2] != 0b0010 || wb.B[1] != 0b0100 || wb.B[0] != 0b1000 {
		t.Errorf("wrong bit vectors: %v", wb.B)
	}
	RecycleWindowBits(wb)

	// one base left of the window extends the pattern
	wb = EncodeWindowRev(iseq, 1, 4)
	if !wb.Extended || wb.Len != 5 {
		t.Fatalf("extension not detected: len=%d", wb.Len)
	}
	// window is CGTT, reversed TTGC, extended by iseq[0] = A
	if wb.B[0] != 0b10000 {
		t.Errorf("extra base not encoded: %b", wb.B[0])
	}
	RecycleWindowBits(wb)
}

func TestMustReverseKmer(t *testing.T) {
	// ACGT reversed is TGCA
	var code uint64 = 0b00011011
	if r := MustReverseKmer(code, 4); r != 0b11100100 {
		t.Errorf("wrong reversal: %b", r)
	}
}
