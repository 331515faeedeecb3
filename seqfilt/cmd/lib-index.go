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
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/shenwei356/bio/seqio/fastx"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/bonsai-bio/seqfilt/seqfilt/cmd/trie"
)

// DatabaseOptions controls how a reference database is loaded and
// split into partitions.
type DatabaseOptions struct {
	NumCPUs int
	Verbose bool

	WindowLen int // window size, even, in range [8, 20]
	BatchSize int // the maximum number of reference sequences per partition
}

// CheckDatabaseOptions check the options
func CheckDatabaseOptions(opt *DatabaseOptions) error {
	if opt.WindowLen < 8 || opt.WindowLen > 20 {
		return fmt.Errorf("invalid window length: %d, valid range: [8, 20]", opt.WindowLen)
	}
	if opt.WindowLen&1 == 1 {
		return fmt.Errorf("invalid window length: %d, should be even", opt.WindowLen)
	}
	if opt.BatchSize < 1 || opt.BatchSize > 1<<20 {
		return fmt.Errorf("invalid batch size: %d, valid range: [1, 1048576]", opt.BatchSize)
	}
	return nil
}

// RefSeq is one reference sequence of a partition.
type RefSeq struct {
	ID  string
	Len int
}

// LookupEntry is one slot of the half-window lookup table.
// Tries are nil until the first window lands in the slot.
type LookupEntry struct {
	Count uint32 // occurrences of this half-window code in the partition

	// TrieF stores second-half codes of windows whose first half
	// hashes to this slot. TrieR stores reversed first-half codes of
	// windows whose second half hashes to this slot.
	TrieF *trie.Tree
	TrieR *trie.Tree
}

// Partition is one searchable chunk of a reference database: a
// lookup table over all half-window codes plus two tries per slot.
// Values stored in the tries encode refIdx<<32|pos.
type Partition struct {
	DBName string
	Index  int // partition index within the database

	WindowLen     int
	HalfWindowLen int

	Refs   []RefSeq
	Lookup []LookupEntry

	NumWindows int // the number of indexed windows
}

// Database is a reference database split into partitions which are
// searched one after another.
type Database struct {
	Name       string
	Partitions []*Partition

	NumRefs  int
	NumBases int
}

// addWindow indexes one window starting at pos of reference refIdx.
func (p *Partition) addWindow(iseq []byte, refIdx, pos int) {
	h := p.HalfWindowLen
	codeF, ok := hashKmer(iseq, pos, h)
	if !ok {
		return
	}
	codeS, ok := hashKmer(iseq, pos+h, h)
	if !ok {
		return
	}

	v := uint64(refIdx)<<32 | uint64(uint32(pos))

	e := &p.Lookup[codeF]
	if e.TrieF == nil {
		e.TrieF = trie.New(uint8(h))
	}
	e.TrieF.Insert(codeS, v)
	e.Count++

	e = &p.Lookup[codeS]
	if e.TrieR == nil {
		e.TrieR = trie.New(uint8(h))
	}
	e.TrieR.Insert(trie.MustReverseKmer(codeF, uint8(h)), v)
	e.Count++

	p.NumWindows++
}

// addRef indexes all windows of one reference sequence.
func (p *Partition) addRef(id string, iseq []byte) {
	refIdx := len(p.Refs)
	p.Refs = append(p.Refs, RefSeq{ID: id, Len: len(iseq)})

	end := len(iseq) - p.WindowLen
	for pos := 0; pos <= end; pos++ {
		p.addWindow(iseq, refIdx, pos)
	}
}

func newPartition(dbName string, index int, opt *DatabaseOptions) *Partition {
	h := opt.WindowLen >> 1
	return &Partition{
		DBName:        dbName,
		Index:         index,
		WindowLen:     opt.WindowLen,
		HalfWindowLen: h,
		Refs:          make([]RefSeq, 0, opt.BatchSize),
		Lookup:        make([]LookupEntry, 1<<(h<<1)),
	}
}

// BuildDatabase loads reference sequences from FASTA files and builds
// the in-memory partitions.
func BuildDatabase(name string, files []string, opt *DatabaseOptions) (*Database, error) {
	if err := CheckDatabaseOptions(opt); err != nil {
		return nil, err
	}

	db := &Database{Name: name}

	// process bar
	var pbs *mpb.Progress
	var bar *mpb.Bar
	var chDuration chan time.Duration
	var doneDuration chan int
	if opt.Verbose {
		pbs = mpb.New(mpb.WithWidth(40), mpb.WithOutput(os.Stderr))
		bar = pbs.AddBar(int64(len(files)),
			mpb.PrependDecorators(
				decor.Name("processing files: ", decor.WC{W: len("processing files: "), C: decor.DindentRight}),
				decor.Name("", decor.WCSyncSpaceR),
				decor.CountersNoUnit("%d / %d", decor.WCSyncWidth),
			),
			mpb.AppendDecorators(
				decor.EwmaETA(decor.ET_STYLE_GO, 10),
				decor.OnComplete(decor.Name(""), ". done"),
			),
		)

		chDuration = make(chan time.Duration, opt.NumCPUs)
		doneDuration = make(chan int)
		go func() {
			for t := range chDuration {
				bar.EwmaIncrBy(1, t)
			}
			doneDuration <- 1
		}()
	}

	p := newPartition(name, 0, opt)
	var record *fastx.Record
	for _, file := range files {
		startTime := time.Now()

		fastxReader, err := fastx.NewReader(nil, file, "")
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read reference file: %s", file)
		}
		for {
			record, err = fastxReader.Read()
			if err != nil {
				if err == io.EOF {
					break
				}
				fastxReader.Close()
				return nil, errors.Wrapf(err, "failed to read reference file: %s", file)
			}

			if len(p.Refs) == opt.BatchSize {
				db.Partitions = append(db.Partitions, p)
				p = newPartition(name, len(db.Partitions), opt)
			}

			iseq := make([]byte, len(record.Seq.Seq))
			for i, c := range record.Seq.Seq {
				iseq[i] = nt2int[c]
			}
			p.addRef(string(record.ID), iseq)

			db.NumRefs++
			db.NumBases += len(iseq)
		}
		fastxReader.Close()

		if opt.Verbose {
			chDuration <- time.Since(startTime)
		}
	}
	if len(p.Refs) > 0 || len(db.Partitions) == 0 {
		db.Partitions = append(db.Partitions, p)
	}

	if opt.Verbose {
		close(chDuration)
		<-doneDuration
		pbs.Wait()
	}

	if db.NumRefs == 0 {
		return nil, fmt.Errorf("no reference sequences found in database: %s", name)
	}
	return db, nil
}
