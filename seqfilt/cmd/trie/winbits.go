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

import "sync"

// WindowBits is the bit-vector encoding of a half-window pattern,
// consumed by Tree.TraverseAlign. Bit i of B[c] is set if pattern
// base i equals c. BK is the variant restricted to the first K bases,
// B covers the full pattern (K+1 bases when one extra base beyond the
// window is available, for the insertion case).
type WindowBits struct {
	B  [4]uint64
	BK [4]uint64

	K        uint8 // half-window length
	Len      uint8 // pattern length: K, or K+1 when extended
	Extended bool
}

var poolWindowBits = &sync.Pool{New: func() interface{} {
	return &WindowBits{}
}}

// RecycleWindowBits recycles a WindowBits object.
func RecycleWindowBits(wb *WindowBits) {
	poolWindowBits.Put(wb)
}

func (wb *WindowBits) reset(k uint8) {
	wb.B = [4]uint64{}
	wb.BK = [4]uint64{}
	wb.K = k
	wb.Len = k
	wb.Extended = false
}

// EncodeWindow builds the forward encoding for the second half of a
// window. tail is the read in integer alphabet starting at the second
// half; bases >3 (ambiguous) simply set no bit and can never match.
func EncodeWindow(tail []byte, k uint8) *WindowBits {
	wb := poolWindowBits.Get().(*WindowBits)
	wb.reset(k)

	var i uint8
	for i = 0; i < k; i++ {
		if c := tail[i]; c < 4 {
			wb.B[c] |= 1 << i
		}
	}
	for c := 0; c < 4; c++ {
		wb.BK[c] = wb.B[c]
	}
	if int(k) < len(tail) {
		if c := tail[k]; c < 4 {
			wb.B[c] |= 1 << k
		}
		wb.Len = k + 1
		wb.Extended = true
	}
	return wb
}

// EncodeWindowRev builds the reverse encoding for the first half of a
// window starting at offset: the pattern is the first half read from
// right to left, extended by the base left of the window when present.
func EncodeWindowRev(iseq []byte, offset int, k uint8) *WindowBits {
	wb := poolWindowBits.Get().(*WindowBits)
	wb.reset(k)

	var i uint8
	for i = 0; i < k; i++ {
		if c := iseq[offset+int(k)-1-int(i)]; c < 4 {
			wb.B[c] |= 1 << i
		}
	}
	for c := 0; c < 4; c++ {
		wb.BK[c] = wb.B[c]
	}
	if offset > 0 {
		if c := iseq[offset-1]; c < 4 {
			wb.B[c] |= 1 << k
		}
		wb.Len = k + 1
		wb.Extended = true
	}
	return wb
}
