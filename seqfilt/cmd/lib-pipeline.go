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
	"context"
	"fmt"
	"io"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	"github.com/shenwei356/bio/seqio/fastx"
	"golang.org/x/sync/errgroup"

	"github.com/bonsai-bio/seqfilt/seqfilt/cmd/kv"
)

// PipelineOptions controls the reader/processor/writer pipeline that
// streams reads through one partition.
type PipelineOptions struct {
	NumCPUs   int
	IOWorkers int // readers and writers, each
	QueueSize int // capacity of the queues between stages
}

// CheckPipelineOptions check the options
func CheckPipelineOptions(opt *PipelineOptions) error {
	if opt.IOWorkers < 1 {
		return fmt.Errorf("invalid io workers: %d, should be >= 1", opt.IOWorkers)
	}
	if opt.QueueSize < 1 {
		return fmt.Errorf("invalid queue size: %d, should be >= 1", opt.QueueSize)
	}
	return nil
}

// Pipeline streams reads from input files through seed searching
// against one partition and merges results into the read-state store.
type Pipeline struct {
	opt       *PipelineOptions
	searchOpt *SearchOptions

	store *kv.Store
	stats *ReadStats

	outfh *bufio.Writer
	outMu sync.Mutex

	warned bool
}

// NewPipeline creates a pipeline. Accepted reads are reported to
// outfh as they are first accepted, one TSV line per read.
func NewPipeline(opt *PipelineOptions, searchOpt *SearchOptions,
	store *kv.Store, stats *ReadStats, outfh *bufio.Writer) *Pipeline {
	return &Pipeline{
		opt:       opt,
		searchOpt: searchOpt,
		store:     store,
		stats:     stats,
		outfh:     outfh,
	}
}

// initialBudget is the alignment budget of a read never seen before.
func (pl *Pipeline) initialBudget() int32 {
	if pl.searchOpt.Best || pl.searchOpt.NumAlignments < 0 {
		return -1
	}
	return int32(pl.searchOpt.NumAlignments)
}

// RunPartition streams all reads against one partition. countReads
// marks the one round that feeds the global read statistics.
func (pl *Pipeline) RunPartition(files []string, p *Partition, countReads bool) error {
	nProc := pl.opt.NumCPUs
	if !pl.warned && 2*pl.opt.IOWorkers+nProc > runtime.NumCPU() {
		log.Warningf("%d io workers and %d processors exceed %d available CPUs",
			2*pl.opt.IOWorkers, nProc, runtime.NumCPU())
		pl.warned = true
	}

	g, ctx := errgroup.WithContext(context.Background())

	fileCh := make(chan string)
	readQueue := make(chan *Read, pl.opt.QueueSize)
	writeQueue := make(chan *Read, pl.opt.QueueSize)

	g.Go(func() error {
		defer close(fileCh)
		for _, file := range files {
			select {
			case fileCh <- file:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	// readers
	var wgRead sync.WaitGroup
	for i := 0; i < pl.opt.IOWorkers; i++ {
		wgRead.Add(1)
		g.Go(func() error {
			defer wgRead.Done()
			for file := range fileCh {
				if err := pl.readFile(ctx, file, readQueue); err != nil {
					return err
				}
			}
			return nil
		})
	}
	go func() {
		wgRead.Wait()
		close(readQueue)
	}()

	// processors
	var wgProc sync.WaitGroup
	for i := 0; i < nProc; i++ {
		wgProc.Add(1)
		g.Go(func() error {
			defer wgProc.Done()
			searcher := NewSeedSearcher(pl.searchOpt)
			for r := range readQueue {
				pl.process(searcher, r, p, countReads)
				select {
				case writeQueue <- r:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return nil
		})
	}
	go func() {
		wgProc.Wait()
		close(writeQueue)
	}()

	// writers
	for i := 0; i < pl.opt.IOWorkers; i++ {
		g.Go(func() error {
			for r := range writeQueue {
				if err := pl.write(r, p); err != nil {
					return err
				}
			}
			return nil
		})
	}

	return g.Wait()
}

// readFile feeds all reads of one FASTA/FASTQ file into the queue.
func (pl *Pipeline) readFile(ctx context.Context, file string, out chan<- *Read) error {
	fastxReader, err := fastx.NewReader(nil, file, "")
	if err != nil {
		return errors.Wrapf(err, "failed to read input file: %s", file)
	}
	defer fastxReader.Close()

	var record *fastx.Record
	for {
		record, err = fastxReader.Read()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return errors.Wrapf(err, "failed to read input file: %s", file)
		}

		r := NewRead(string(record.ID), record.Seq.Seq)
		select {
		case out <- r:
		case <-ctx.Done():
			RecycleRead(r)
			return ctx.Err()
		}
	}
}

// process restores the read's accumulated state and scans it.
func (pl *Pipeline) process(searcher *SeedSearcher, r *Read, p *Partition, countReads bool) {
	if prior := pl.store.Get(r.ID); prior != nil {
		r.Hit = prior.Hit
		r.HitDenovo = prior.HitDenovo
		r.MaxScore = prior.MaxScore
		r.Budget = prior.Budget
	} else {
		r.Budget = pl.initialBudget()
	}

	out := searcher.Scan(r, p)
	if countReads {
		pl.stats.CountRead(len(r.ISeq), out.Valid)
	}
	pl.stats.AddLookups(out.Lookups)
}

// write merges the scan result into the store and reports a read the
// first time it is accepted.
func (pl *Pipeline) write(r *Read, p *Partition) error {
	defer RecycleRead(r)

	if !r.Valid {
		return nil
	}

	incoming := &kv.ReadState{
		Hit:       r.Hit,
		HitDenovo: r.HitDenovo,
		MaxScore:  r.MaxScore,
		Budget:    r.Budget,
		Hits:      r.Packed,
	}
	merged, newlyHit, err := pl.store.Merge(r.ID, incoming)
	if err != nil {
		return err
	}

	if newlyHit {
		pl.stats.MarkMatched(p.DBName)
		pl.outMu.Lock()
		fmt.Fprintf(pl.outfh, "%s\t%s\t%.2f\n", r.ID, p.DBName, merged.MaxScore)
		pl.outMu.Unlock()
	}
	return nil
}
