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

// Package kv provides a persistent store for per-read search state,
// so results accumulated against one database partition survive into
// the next one. The store is an append-only log replayed into memory
// on open, the last record of a read wins.
package kv

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"os"
	"sync"

	"github.com/pkg/errors"
	"github.com/twotwotwo/sorts/sortutil"
	"github.com/zeebo/wyhash"
)

var be = binary.BigEndian

// Magic number for checking file format
var Magic = [8]byte{'.', 'r', 'd', '-', 's', 't', 'a', 't'}

// MainVersion is use for checking compatibility
var MainVersion uint8 = 0

// MinorVersion is less important
var MinorVersion uint8 = 1

// ErrInvalidFileFormat means invalid file format.
var ErrInvalidFileFormat = errors.New("read-state data: invalid binary format")

// ErrBrokenFile means the file is not complete.
var ErrBrokenFile = errors.New("read-state data: broken file")

// ErrVersionMismatch means version mismatch between files and program
var ErrVersionMismatch = errors.New("read-state data: version mismatch")

// flags of a serialized read state
const (
	flagHit uint8 = 1 << iota
	flagHitDenovo
)

// ReadState is the accumulated search state of one read.
// Seed hits are stored in packed form, the packing is up to the caller,
// the store only needs equality for deduplication.
type ReadState struct {
	Hit       bool // at least one accepted alignment so far
	HitDenovo bool // seeds found but no alignment passed the score threshold

	MaxScore float64 // the best alignment score seen so far
	Budget   int32   // remaining alignment slots, <0 means unlimited

	Hits []uint64 // packed seed hits, sorted and unique
}

// Clone returns a deep copy.
func (s *ReadState) Clone() *ReadState {
	c := *s
	c.Hits = make([]uint64, len(s.Hits))
	copy(c.Hits, s.Hits)
	return &c
}

// merge folds o into s. The operation is commutative and idempotent,
// so replaying records in any order or more than once gives the same
// final state.
func (s *ReadState) merge(o *ReadState) {
	s.Hit = s.Hit || o.Hit
	s.HitDenovo = s.HitDenovo || o.HitDenovo
	if o.MaxScore > s.MaxScore {
		s.MaxScore = o.MaxScore
	}
	// budgets are min-merged, a negative budget means unlimited and
	// never wins over a finite one
	if s.Budget < 0 {
		s.Budget = o.Budget
	} else if o.Budget >= 0 && o.Budget < s.Budget {
		s.Budget = o.Budget
	}
	if len(o.Hits) > 0 {
		s.Hits = append(s.Hits, o.Hits...)
		sortutil.Uint64s(s.Hits)
		s.Hits = uniqueUint64s(s.Hits)
	}
}

// uniqueUint64s removes duplicates from a sorted slice, in place.
func uniqueUint64s(a []uint64) []uint64 {
	if len(a) < 2 {
		return a
	}
	j := 0
	for i := 1; i < len(a); i++ {
		if a[i] != a[j] {
			j++
			a[j] = a[i]
		}
	}
	return a[:j+1]
}

const nShards = 64

type shard struct {
	sync.Mutex
	m map[string]*ReadState
}

// Store is a persistent read-state store. All methods are safe for
// concurrent use.
type Store struct {
	path string

	shards [nShards]shard

	writeMu sync.Mutex
	fh      *os.File
	w       *bufio.Writer
	buf     []byte
}

// New creates a new store at the given path, truncating any existing
// file.
//
// Header (16 bytes):
//
//	Magic number, 8 bytes, ".rd-stat".
//	Main and minor versions, 2 bytes.
//	Blank, 6 bytes.
//
// Records:
//
//	Record length (excluding this field), 4 bytes.
//	Read ID length, 2 bytes.
//	Read ID, variable.
//	Flags, 1 byte.
//	Max score, 8 bytes, float64 bits.
//	Budget, 4 bytes.
//	Number of seed hits, 4 bytes.
//	Seed hits, 8 bytes each.
func New(file string) (*Store, error) {
	fh, err := os.Create(file)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create read-state file: %s", file)
	}

	w := bufio.NewWriterSize(fh, 65536)
	if _, err = w.Write(Magic[:]); err != nil {
		return nil, err
	}
	if _, err = w.Write([]byte{MainVersion, MinorVersion, 0, 0, 0, 0, 0, 0}); err != nil {
		return nil, err
	}

	s := &Store{path: file, fh: fh, w: w, buf: make([]byte, 0, 1024)}
	for i := range s.shards {
		s.shards[i].m = make(map[string]*ReadState, 1024)
	}
	return s, nil
}

// Open opens an existing store and replays all records into memory.
// The file is then reopened for appending.
func Open(file string) (*Store, error) {
	fh, err := os.Open(file)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open read-state file: %s", file)
	}

	r := bufio.NewReaderSize(fh, 65536)

	buf := make([]byte, 16)
	if _, err = io.ReadFull(r, buf); err != nil {
		fh.Close()
		return nil, ErrInvalidFileFormat
	}
	var magic [8]byte
	copy(magic[:], buf[:8])
	if magic != Magic {
		fh.Close()
		return nil, ErrInvalidFileFormat
	}
	if buf[8] != MainVersion {
		fh.Close()
		return nil, ErrVersionMismatch
	}

	s := &Store{path: file, buf: make([]byte, 0, 1024)}
	for i := range s.shards {
		s.shards[i].m = make(map[string]*ReadState, 1024)
	}

	rec := make([]byte, 0, 1024)
	for {
		if _, err = io.ReadFull(r, buf[:4]); err != nil {
			if err == io.EOF {
				break
			}
			fh.Close()
			return nil, ErrBrokenFile
		}
		n := int(be.Uint32(buf[:4]))
		if cap(rec) < n {
			rec = make([]byte, n)
		}
		rec = rec[:n]
		if _, err = io.ReadFull(r, rec); err != nil {
			fh.Close()
			return nil, ErrBrokenFile
		}

		id, state, err := decodeRecord(rec)
		if err != nil {
			fh.Close()
			return nil, err
		}
		sh := &s.shards[wyhash.HashString(id, 0)&(nShards-1)]
		sh.m[id] = state // the last record wins
	}
	if err = fh.Close(); err != nil {
		return nil, err
	}

	s.fh, err = os.OpenFile(file, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to reopen read-state file: %s", file)
	}
	s.w = bufio.NewWriterSize(s.fh, 65536)
	return s, nil
}

func decodeRecord(rec []byte) (string, *ReadState, error) {
	if len(rec) < 2 {
		return "", nil, ErrBrokenFile
	}
	nID := int(be.Uint16(rec[:2]))
	if len(rec) < 2+nID+17 {
		return "", nil, ErrBrokenFile
	}
	id := string(rec[2 : 2+nID])
	p := rec[2+nID:]

	state := &ReadState{
		Hit:       p[0]&flagHit > 0,
		HitDenovo: p[0]&flagHitDenovo > 0,
		MaxScore:  math.Float64frombits(be.Uint64(p[1:9])),
		Budget:    int32(be.Uint32(p[9:13])),
	}
	nHits := int(be.Uint32(p[13:17]))
	p = p[17:]
	if len(p) != nHits<<3 {
		return "", nil, ErrBrokenFile
	}
	state.Hits = make([]uint64, nHits)
	for i := 0; i < nHits; i++ {
		state.Hits[i] = be.Uint64(p[i<<3:])
	}
	return id, state, nil
}

// append writes a record for one read. Callers hold writeMu.
func (s *Store) append(id string, state *ReadState) error {
	n := 2 + len(id) + 17 + len(state.Hits)<<3
	if cap(s.buf) < n+4 {
		s.buf = make([]byte, 0, n+4)
	}
	buf := s.buf[:n+4]

	be.PutUint32(buf, uint32(n))
	be.PutUint16(buf[4:], uint16(len(id)))
	copy(buf[6:], id)
	p := buf[6+len(id):]

	var flags uint8
	if state.Hit {
		flags |= flagHit
	}
	if state.HitDenovo {
		flags |= flagHitDenovo
	}
	p[0] = flags
	be.PutUint64(p[1:], math.Float64bits(state.MaxScore))
	be.PutUint32(p[9:], uint32(state.Budget))
	be.PutUint32(p[13:], uint32(len(state.Hits)))
	p = p[17:]
	for i, h := range state.Hits {
		be.PutUint64(p[i<<3:], h)
	}

	_, err := s.w.Write(buf)
	return err
}

// Get returns a copy of the stored state of a read, or nil if the
// read was never seen.
func (s *Store) Get(id string) *ReadState {
	sh := &s.shards[wyhash.HashString(id, 0)&(nShards-1)]
	sh.Lock()
	state := sh.m[id]
	sh.Unlock()
	if state == nil {
		return nil
	}
	return state.Clone()
}

// Put overwrites the state of a read and persists it.
func (s *Store) Put(id string, state *ReadState) error {
	state = state.Clone()
	sh := &s.shards[wyhash.HashString(id, 0)&(nShards-1)]
	sh.Lock()
	sh.m[id] = state
	sh.Unlock()

	s.writeMu.Lock()
	err := s.append(id, state)
	s.writeMu.Unlock()
	return err
}

// Merge folds the incoming state of a read into the stored one,
// persists the result and returns a copy of it. newlyHit reports
// whether this merge turned the read into a hit for the first time,
// which lets a writer report each read at most once.
func (s *Store) Merge(id string, incoming *ReadState) (merged *ReadState, newlyHit bool, err error) {
	sh := &s.shards[wyhash.HashString(id, 0)&(nShards-1)]
	sh.Lock()
	state := sh.m[id]
	if state == nil {
		state = incoming.Clone()
		sortutil.Uint64s(state.Hits)
		state.Hits = uniqueUint64s(state.Hits)
		newlyHit = state.Hit
	} else {
		wasHit := state.Hit
		state.merge(incoming)
		newlyHit = state.Hit && !wasHit
	}
	sh.m[id] = state
	merged = state.Clone()
	sh.Unlock()

	s.writeMu.Lock()
	err = s.append(id, merged)
	s.writeMu.Unlock()
	return merged, newlyHit, err
}

// Each calls fn for every stored read state, in no particular order.
// The state must not be modified.
func (s *Store) Each(fn func(id string, state *ReadState)) {
	for i := range s.shards {
		sh := &s.shards[i]
		sh.Lock()
		for id, state := range sh.m {
			fn(id, state)
		}
		sh.Unlock()
	}
}

// Size returns the number of reads with stored state.
func (s *Store) Size() int {
	var n int
	for i := range s.shards {
		sh := &s.shards[i]
		sh.Lock()
		n += len(sh.m)
		sh.Unlock()
	}
	return n
}

// Close flushes and closes the underlying file.
func (s *Store) Close() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.w.Flush(); err != nil {
		return err
	}
	return s.fh.Close()
}
