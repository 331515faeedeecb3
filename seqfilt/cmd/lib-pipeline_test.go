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
	"bufio"
	"bytes"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/bonsai-bio/seqfilt/seqfilt/cmd/kv"
)

// pipelineTestData builds one reference, one partition and a read
// file with 10 exact fragments and 10 random reads.
func pipelineTestData(t *testing.T, dir string) (*Partition, string) {
	rng := rand.New(rand.NewSource(42))
	ref := randomSeq(rng, 500)

	dbOpt := &DatabaseOptions{WindowLen: 8, BatchSize: 16}
	p := newPartition("testdb", 0, dbOpt)
	iseq := make([]byte, len(ref))
	for i, c := range ref {
		iseq[i] = nt2int[c]
	}
	p.addRef("ref1", iseq)

	readFile := filepath.Join(dir, "reads.fasta")
	fh, err := os.Create(readFile)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		start := rng.Intn(len(ref) - 40)
		fmt.Fprintf(fh, ">match%d\n%s\n", i, ref[start:start+40])
	}
	for i := 0; i < 10; i++ {
		fmt.Fprintf(fh, ">rand%d\n%s\n", i, randomSeq(rng, 40))
	}
	if err = fh.Close(); err != nil {
		t.Fatal(err)
	}
	return p, readFile
}

// runPipeline scans the read file against the partition and returns
// the state store and statistics.
func runPipeline(t *testing.T, p *Partition, readFile string, nCPUs, ioWorkers int) (*kv.Store, *ReadStats, *bytes.Buffer) {
	store, err := kv.New(filepath.Join(t.TempDir(), "state.bin"))
	if err != nil {
		t.Fatal(err)
	}

	searchOpt := &SearchOptions{
		SkipLengths:   [3]int{8, 4, 3},
		MinSeedHits:   2,
		NumAlignments: -1,
		MinChainScore: 25,
		MaxGap:        5000,
	}
	plOpt := &PipelineOptions{
		NumCPUs:   nCPUs,
		IOWorkers: ioWorkers,
		QueueSize: 8,
	}

	var buf bytes.Buffer
	outfh := bufio.NewWriter(&buf)
	stats := NewReadStats()
	pipeline := NewPipeline(plOpt, searchOpt, store, stats, outfh)

	if err = pipeline.RunPartition([]string{readFile}, p, true); err != nil {
		t.Fatal(err)
	}
	outfh.Flush()
	return store, stats, &buf
}

func TestPipeline(t *testing.T) {
	p, readFile := pipelineTestData(t, t.TempDir())
	store, stats, buf := runPipeline(t, p, readFile, 1, 1)
	defer store.Close()

	if stats.NumReads != 20 {
		t.Fatalf("reads: %d, expected 20", stats.NumReads)
	}
	if store.Size() != 20 {
		t.Fatalf("stored states: %d, expected 20", store.Size())
	}

	var matched int
	store.Each(func(id string, state *kv.ReadState) {
		if state.Hit {
			matched++
			if len(id) < 5 || id[:5] != "match" {
				t.Errorf("random read matched: %s", id)
			}
		}
	})
	if matched != 10 {
		t.Errorf("matched reads: %d, expected 10", matched)
	}
	if stats.NumMatched != 10 {
		t.Errorf("matched counter: %d, expected 10", stats.NumMatched)
	}

	// one output line per newly matched read
	lines := bytes.Count(buf.Bytes(), []byte{'\n'})
	if lines != 10 {
		t.Errorf("output lines: %d, expected 10", lines)
	}
}

func TestPipelineConcurrencyIndependence(t *testing.T) {
	dir := t.TempDir()
	p, readFile := pipelineTestData(t, dir)

	s1, _, _ := runPipeline(t, p, readFile, 1, 1)
	defer s1.Close()
	s4, _, _ := runPipeline(t, p, readFile, 4, 2)
	defer s4.Close()

	if s1.Size() != s4.Size() {
		t.Fatalf("state sizes differ: %d != %d", s1.Size(), s4.Size())
	}
	s1.Each(func(id string, a *kv.ReadState) {
		b := s4.Get(id)
		if b == nil {
			t.Errorf("read %s missing with 4 processors", id)
			return
		}
		if a.Hit != b.Hit || a.MaxScore != b.MaxScore {
			t.Errorf("read %s: states differ: %+v != %+v", id, a, b)
		}
	})
}

func TestPipelineResume(t *testing.T) {
	dir := t.TempDir()
	p, readFile := pipelineTestData(t, dir)

	stateFile := filepath.Join(dir, "state.bin")
	store, err := kv.New(stateFile)
	if err != nil {
		t.Fatal(err)
	}

	searchOpt := &SearchOptions{
		SkipLengths:   [3]int{8, 4, 3},
		MinSeedHits:   2,
		NumAlignments: -1,
		MinChainScore: 25,
		MaxGap:        5000,
	}
	plOpt := &PipelineOptions{NumCPUs: 1, IOWorkers: 1, QueueSize: 8}

	var buf bytes.Buffer
	outfh := bufio.NewWriter(&buf)
	stats := NewReadStats()
	pipeline := NewPipeline(plOpt, searchOpt, store, stats, outfh)
	if err = pipeline.RunPartition([]string{readFile}, p, true); err != nil {
		t.Fatal(err)
	}
	outfh.Flush()
	firstRun := buf.Len()
	if err = store.Close(); err != nil {
		t.Fatal(err)
	}

	// a second run over the same partition reports nothing new
	store, err = kv.Open(stateFile)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	buf.Reset()
	outfh = bufio.NewWriter(&buf)
	stats = NewReadStats()
	pipeline = NewPipeline(plOpt, searchOpt, store, stats, outfh)
	if err = pipeline.RunPartition([]string{readFile}, p, false); err != nil {
		t.Fatal(err)
	}
	outfh.Flush()

	if firstRun == 0 {
		t.Fatal("first run reported nothing")
	}
	if buf.Len() != 0 {
		t.Errorf("rerun reported already matched reads: %q", buf.String())
	}
}
