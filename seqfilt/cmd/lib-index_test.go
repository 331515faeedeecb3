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
	"math/rand"
	"os"
	"path/filepath"
	"testing"
)

func randomSeq(rng *rand.Rand, n int) []byte {
	s := make([]byte, n)
	for i := range s {
		s[i] = "ACGT"[rng.Intn(4)]
	}
	return s
}

func writeFasta(t *testing.T, file string, seqs map[string][]byte) {
	fh, err := os.Create(file)
	if err != nil {
		t.Fatal(err)
	}
	for id, seq := range seqs {
		fmt.Fprintf(fh, ">%s\n%s\n", id, seq)
	}
	if err = fh.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestAddRef(t *testing.T) {
	opt := &DatabaseOptions{WindowLen: 8, BatchSize: 16}
	p := newPartition("testdb", 0, opt)

	p.addRef("ref1", toInts("ACGTACGTACGTACGTACGT")) // 20 bp
	if len(p.Refs) != 1 || p.Refs[0].Len != 20 {
		t.Fatalf("wrong refs: %+v", p.Refs)
	}
	if p.NumWindows != 13 { // 20 - 8 + 1
		t.Errorf("windows: %d, expected 13", p.NumWindows)
	}

	// every window bumps the count of both its half-window codes
	var total uint32
	for i := range p.Lookup {
		total += p.Lookup[i].Count
	}
	if total != uint32(2*p.NumWindows) {
		t.Errorf("total counts: %d, expected %d", total, 2*p.NumWindows)
	}

	// the first window: first half ACGT, second half ACGT
	code, _ := hashKmer(toInts("ACGT"), 0, 4)
	e := &p.Lookup[code]
	if e.TrieF == nil || e.TrieR == nil {
		t.Fatal("tries not built")
	}
	vals, ok := e.TrieF.Get(code) // second half is ACGT too
	if !ok {
		t.Fatal("window not indexed")
	}
	if vals[0]>>32 != 0 || uint32(vals[0]) != 0 {
		t.Errorf("wrong value of first window: %x", vals[0])
	}
}

func TestAddRefAmbiguousBases(t *testing.T) {
	opt := &DatabaseOptions{WindowLen: 8, BatchSize: 16}
	p := newPartition("testdb", 0, opt)

	// windows overlapping the N are skipped
	p.addRef("ref1", toInts("ACGNACGTACGTACGTACGT"))
	if p.NumWindows != 9 { // starts 4..12
		t.Errorf("windows: %d, expected 9", p.NumWindows)
	}
}

func TestBuildDatabase(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	seqs := make(map[string][]byte, 5)
	for i := 0; i < 5; i++ {
		seqs[fmt.Sprintf("seq%d", i)] = randomSeq(rng, 100)
	}
	file := filepath.Join(t.TempDir(), "refs.fasta")
	writeFasta(t, file, seqs)

	opt := &DatabaseOptions{
		NumCPUs:   1,
		WindowLen: 8,
		BatchSize: 2,
	}
	db, err := BuildDatabase("testdb", []string{file}, opt)
	if err != nil {
		t.Fatal(err)
	}

	if db.NumRefs != 5 || db.NumBases != 500 {
		t.Errorf("refs: %d, bases: %d", db.NumRefs, db.NumBases)
	}
	if len(db.Partitions) != 3 { // 2 + 2 + 1
		t.Fatalf("partitions: %d, expected 3", len(db.Partitions))
	}
	if len(db.Partitions[2].Refs) != 1 {
		t.Errorf("last partition refs: %d, expected 1", len(db.Partitions[2].Refs))
	}
	for i, p := range db.Partitions {
		if p.Index != i {
			t.Errorf("partition index: %d, expected %d", p.Index, i)
		}
		if p.NumWindows == 0 {
			t.Errorf("partition %d has no windows", i)
		}
	}
}

func TestCheckDatabaseOptions(t *testing.T) {
	for _, c := range []struct {
		opt DatabaseOptions
		ok  bool
	}{
		{DatabaseOptions{WindowLen: 18, BatchSize: 1024}, true},
		{DatabaseOptions{WindowLen: 8, BatchSize: 1}, true},
		{DatabaseOptions{WindowLen: 9, BatchSize: 1024}, false}, // odd
		{DatabaseOptions{WindowLen: 6, BatchSize: 1024}, false}, // too small
		{DatabaseOptions{WindowLen: 22, BatchSize: 1024}, false},
		{DatabaseOptions{WindowLen: 18, BatchSize: 0}, false},
	} {
		err := CheckDatabaseOptions(&c.opt)
		if c.ok && err != nil {
			t.Errorf("%+v: unexpected error: %s", c.opt, err)
		}
		if !c.ok && err == nil {
			t.Errorf("%+v: error expected", c.opt)
		}
	}
}
