// Copyright 2013 Richard Lehane. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cfb

import (
	"encoding/binary"

	"github.com/boljen/go-bitmap"
)

// fatTable owns the sector-to-sector linkage array: entries[i] is the next
// sector in whatever chain sector i belongs to, or one of the reserved
// sentinels in const.go. The MiniFAT has the same shape over mini-sectors
// but is a separate type (miniFATTable in minifat.go).
//
// A bitmap.Bitmap mirrors which slots are free, scanned lowest-index-first
// on every allocation so that layout stays stable and reproducible, the way
// dargueta-disko's Allocator scans its own free-block bitmap.
type fatTable struct {
	version Version
	grid    *sectorGrid
	dfat    *difatTable // wired in by the container after both tables exist
	entries []uint32
	free    bitmap.Bitmap
	dirty   map[uint32]bool // dirty physical FAT-sector indices
}

func newFATTable(version Version, grid *sectorGrid, dfat *difatTable) *fatTable {
	return &fatTable{version: version, grid: grid, dfat: dfat, dirty: map[uint32]bool{}}
}

func (f *fatTable) entriesPerSector() int {
	return f.version.FATEntriesPerSector()
}

// loadFromSectors populates the logical FAT array by reading each physical
// sector in sectors, in order.
func (f *fatTable) loadFromSectors(sectors []uint32) error {
	eps := f.entriesPerSector()
	f.entries = make([]uint32, 0, len(sectors)*eps)
	buf := make([]byte, f.version.SectorLen())
	for _, sect := range sectors {
		if err := f.grid.readSector(sect, buf); err != nil {
			return err
		}
		for j := 0; j < eps; j++ {
			f.entries = append(f.entries, binary.LittleEndian.Uint32(buf[j*4:j*4+4]))
		}
	}
	for len(f.entries) > 0 && f.entries[len(f.entries)-1] == freeSect {
		f.entries = f.entries[:len(f.entries)-1]
	}
	f.rebuildFreeBitmap()
	return nil
}

func (f *fatTable) rebuildFreeBitmap() {
	f.free = bitmap.New(len(f.entries))
	for i, v := range f.entries {
		if v == freeSect {
			f.free.Set(i, true)
		}
	}
}

func (f *fatTable) markDirty(sectorIndex uint32) {
	f.dirty[sectorIndex/uint32(f.entriesPerSector())] = true
}

// next returns the recorded link for sector i.
func (f *fatTable) next(i uint32) (uint32, error) {
	if !isRegular(i) {
		return 0, errBadFormat("fat", "sector %#x is a reserved sentinel, not a real index", i)
	}
	if int(i) >= len(f.entries) {
		return 0, errBadFormat("fat", "sector index %d out of range (fat has %d entries)", i, len(f.entries))
	}
	return f.entries[i], nil
}

func (f *fatTable) setLink(i, v uint32) {
	f.entries[i] = v
	f.free.Set(int(i), v == freeSect)
	f.markDirty(i)
}

func (f *fatTable) freeCount() int {
	n := 0
	for i := 0; i < len(f.entries); i++ {
		if f.free.Get(i) {
			n++
		}
	}
	return n
}

// ensureCapacity grows the logical FAT array, one physical FAT sector's
// worth of entries at a time, until at least need slots are free.
//
// Growing the FAT may need a new FAT sector, which enlarges the DIFAT,
// which may itself need a new DIFAT sector allocated through this same
// FAT. The recursion is broken by reserving the new FAT sector's own slot
// (marking it fatSect) before registering it with the DIFAT, exactly as
// spec.md §9 prescribes.
func (f *fatTable) ensureCapacity(need int) error {
	for f.freeCount() < need {
		if err := f.growByOneSector(); err != nil {
			return err
		}
	}
	return nil
}

func (f *fatTable) growByOneSector() error {
	eps := f.entriesPerSector()
	oldLen := len(f.entries)
	grown := make([]uint32, oldLen+eps)
	copy(grown, f.entries)
	for i := oldLen; i < oldLen+eps; i++ {
		grown[i] = freeSect
	}
	f.entries = grown
	f.rebuildFreeBitmap()

	newSector := uint32(oldLen)
	f.setLink(newSector, fatSect)
	if f.dfat != nil {
		if err := f.dfat.registerFATSector(newSector); err != nil {
			return err
		}
	}
	return nil
}

// allocateRaw reserves n free sector indices (lowest index first) without
// committing any particular link value; callers overwrite the placeholder
// endOfChain links they get back.
func (f *fatTable) allocateRaw(n int) ([]uint32, error) {
	if n <= 0 {
		return nil, nil
	}
	if err := f.ensureCapacity(n); err != nil {
		return nil, err
	}
	out := make([]uint32, 0, n)
	for i := 0; i < len(f.entries) && len(out) < n; i++ {
		if f.free.Get(i) {
			out = append(out, uint32(i))
		}
	}
	if len(out) < n {
		return nil, errBadFormat("fat", "internal error: could not find %d free sectors after growth", n)
	}
	for _, s := range out {
		f.setLink(s, endOfChain)
	}
	return out, nil
}

// allocateChain returns a freshly allocated chain of n sectors, linked in
// order and terminated with endOfChain.
func (f *fatTable) allocateChain(n int) ([]uint32, error) {
	if n <= 0 {
		return nil, nil
	}
	chain, err := f.allocateRaw(n)
	if err != nil {
		return nil, err
	}
	for i := 0; i < len(chain)-1; i++ {
		f.setLink(chain[i], chain[i+1])
	}
	f.setLink(chain[len(chain)-1], endOfChain)
	return chain, nil
}

// extendChain splices n freshly allocated sectors onto the chain whose
// current last sector is tail.
func (f *fatTable) extendChain(tail uint32, n int) ([]uint32, error) {
	if n <= 0 {
		return nil, nil
	}
	chain, err := f.allocateChain(n)
	if err != nil {
		return nil, err
	}
	f.setLink(tail, chain[0])
	return chain, nil
}

// truncateAfter cuts the chain immediately after sector, returning the head
// of the now-detached remainder (endOfChain if there was none).
func (f *fatTable) truncateAfter(sector uint32) (uint32, error) {
	next, err := f.next(sector)
	if err != nil {
		return 0, err
	}
	f.setLink(sector, endOfChain)
	return next, nil
}

// freeChain walks from head to endOfChain, marking every visited sector
// free.
func (f *fatTable) freeChain(head uint32) error {
	if head == endOfChain {
		return nil
	}
	sn := head
	steps := 0
	limit := len(f.entries) + 1
	for sn != endOfChain {
		if !isRegular(sn) {
			return errBadFormat("fat", "chain contains unexpected sentinel %#x", sn)
		}
		if int(sn) >= len(f.entries) {
			return errBadFormat("fat", "chain references out-of-range sector %d", sn)
		}
		next := f.entries[sn]
		f.setLink(sn, freeSect)
		sn = next
		steps++
		if steps > limit {
			return errBadFormat("fat", "cycle detected while freeing chain at sector %d", head)
		}
	}
	return nil
}

// sectorChainIter is a finite, non-restartable lazy sequence of the sectors
// in a chain, in order. It mirrors the channel-based traversal idiom the
// teacher reader uses for its directory walk, generalized here to sector
// chains. Callers must drain the channel fully (or to the first error)
// before calling Err.
type sectorChainIter struct {
	ch     <-chan uint32
	errPtr *error
}

func (it *sectorChainIter) Chan() <-chan uint32 { return it.ch }
func (it *sectorChainIter) Err() error          { return *it.errPtr }

func (f *fatTable) iterChain(head uint32) *sectorChainIter {
	ch := make(chan uint32)
	var iterErr error
	go func() {
		defer close(ch)
		sn := head
		steps := 0
		limit := len(f.entries) + 1
		for sn != endOfChain {
			if !isRegular(sn) {
				iterErr = errBadFormat("fat", "chain contains unexpected sentinel %#x", sn)
				return
			}
			if int(sn) >= len(f.entries) {
				iterErr = errBadFormat("fat", "chain references out-of-range sector %d", sn)
				return
			}
			ch <- sn
			steps++
			if steps > limit {
				iterErr = errBadFormat("fat", "cycle detected while iterating chain at sector %d", head)
				return
			}
			sn = f.entries[sn]
		}
	}()
	return &sectorChainIter{ch: ch, errPtr: &iterErr}
}

// chainSectors drains an iterChain into a plain slice; convenient when the
// whole chain is needed at once (e.g. to compute a chain's sector count for
// invariant checking).
func (f *fatTable) chainSectors(head uint32) ([]uint32, error) {
	it := f.iterChain(head)
	var out []uint32
	for sn := range it.Chan() {
		out = append(out, sn)
	}
	return out, it.Err()
}

// flush writes every dirty physical FAT sector back through the grid.
func (f *fatTable) flush() error {
	eps := f.entriesPerSector()
	for idx := range f.dirty {
		sect, err := f.dfat.locateFATSector(int(idx))
		if err != nil {
			return err
		}
		buf := make([]byte, f.version.SectorLen())
		base := int(idx) * eps
		for j := 0; j < eps; j++ {
			v := freeSect
			if base+j < len(f.entries) {
				v = f.entries[base+j]
			}
			binary.LittleEndian.PutUint32(buf[j*4:], v)
		}
		if err := f.grid.writeSector(sect, buf); err != nil {
			return err
		}
	}
	f.dirty = map[uint32]bool{}
	return nil
}
