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

// miniFATTable is shaped just like fatTable but indexes mini-sectors
// instead of sectors. Its own backing storage, however, is a perfectly
// ordinary chain of regular sectors tracked through the main FAT — only
// the mini-stream's data (see ministream.go) is addressed in mini-sector
// units.
type miniFATTable struct {
	version Version
	grid    *sectorGrid
	mainFAT *fatTable

	entries []uint32
	free    bitmap.Bitmap
	sectors []uint32 // physical sectors holding this table, main-FAT order
	dirty   map[int]bool

	// onGrow is invoked after allocateRaw marks new mini-sectors in use, so
	// the container can grow the mini-stream's physical backing to cover
	// every mini-sector now in use. Wired by the container after
	// construction.
	onGrow func() error
}

func newMiniFATTable(version Version, grid *sectorGrid, mainFAT *fatTable) *miniFATTable {
	return &miniFATTable{version: version, grid: grid, mainFAT: mainFAT, dirty: map[int]bool{}}
}

func (m *miniFATTable) load(firstSector, numSectors uint32) error {
	if firstSector == endOfChain || numSectors == 0 {
		m.sectors = nil
		m.entries = nil
		m.free = bitmap.New(0)
		return nil
	}
	chain, err := m.mainFAT.chainSectors(firstSector)
	if err != nil {
		return err
	}
	if uint32(len(chain)) != numSectors {
		return errBadFormat("minifat", "MiniFAT chain has %d sectors, header declares %d", len(chain), numSectors)
	}
	m.sectors = chain
	eps := m.version.FATEntriesPerSector()
	m.entries = make([]uint32, 0, len(chain)*eps)
	buf := make([]byte, m.version.SectorLen())
	for _, sect := range chain {
		if err := m.grid.readSector(sect, buf); err != nil {
			return err
		}
		for j := 0; j < eps; j++ {
			m.entries = append(m.entries, binary.LittleEndian.Uint32(buf[j*4:j*4+4]))
		}
	}
	for len(m.entries) > 0 && m.entries[len(m.entries)-1] == freeSect {
		m.entries = m.entries[:len(m.entries)-1]
	}
	m.rebuildFreeBitmap()
	return nil
}

func (m *miniFATTable) rebuildFreeBitmap() {
	m.free = bitmap.New(len(m.entries))
	for i, v := range m.entries {
		if v == freeSect {
			m.free.Set(i, true)
		}
	}
}

func (m *miniFATTable) markDirty(i uint32) {
	eps := uint32(m.version.FATEntriesPerSector())
	m.dirty[int(i/eps)] = true
}

func (m *miniFATTable) next(i uint32) (uint32, error) {
	if !isRegular(i) {
		return 0, errBadFormat("minifat", "mini-sector %#x is a reserved sentinel, not a real index", i)
	}
	if int(i) >= len(m.entries) {
		return 0, errBadFormat("minifat", "mini-sector index %d out of range (minifat has %d entries)", i, len(m.entries))
	}
	return m.entries[i], nil
}

func (m *miniFATTable) setLink(i, v uint32) {
	m.entries[i] = v
	m.free.Set(int(i), v == freeSect)
	m.markDirty(i)
}

func (m *miniFATTable) freeCount() int {
	n := 0
	for i := 0; i < len(m.entries); i++ {
		if m.free.Get(i) {
			n++
		}
	}
	return n
}

func (m *miniFATTable) ensureCapacity(need int) error {
	for m.freeCount() < need {
		if err := m.growByOneSector(); err != nil {
			return err
		}
	}
	return nil
}

// growByOneSector grows the MiniFAT array by one physical sector's worth
// of entries, allocating the backing sector through the main FAT: MiniFAT
// sectors are ordinary FAT-tracked sectors, unlike the mini-sectors they
// describe.
func (m *miniFATTable) growByOneSector() error {
	var newSector uint32
	if len(m.sectors) == 0 {
		chain, err := m.mainFAT.allocateChain(1)
		if err != nil {
			return err
		}
		newSector = chain[0]
	} else {
		chain, err := m.mainFAT.extendChain(m.sectors[len(m.sectors)-1], 1)
		if err != nil {
			return err
		}
		newSector = chain[0]
	}
	m.sectors = append(m.sectors, newSector)

	eps := m.version.FATEntriesPerSector()
	grown := make([]uint32, len(m.entries)+eps)
	copy(grown, m.entries)
	for i := len(m.entries); i < len(grown); i++ {
		grown[i] = freeSect
	}
	m.entries = grown
	m.rebuildFreeBitmap()
	m.dirty[len(m.sectors)-1] = true
	return nil
}

// usedCount returns the number of mini-sectors spanned by the lowest
// contiguous range covering every allocated mini-sector: one plus the
// highest index not currently free, or zero if none are in use.
func (m *miniFATTable) usedCount() int {
	for i := len(m.entries) - 1; i >= 0; i-- {
		if !m.free.Get(i) {
			return i + 1
		}
	}
	return 0
}

// truncateAfter cuts the chain immediately after sector, returning the
// head of the now-detached remainder (endOfChain if there was none).
func (m *miniFATTable) truncateAfter(sector uint32) (uint32, error) {
	next, err := m.next(sector)
	if err != nil {
		return 0, err
	}
	m.setLink(sector, endOfChain)
	return next, nil
}

func (m *miniFATTable) allocateRaw(n int) ([]uint32, error) {
	if n <= 0 {
		return nil, nil
	}
	if err := m.ensureCapacity(n); err != nil {
		return nil, err
	}
	out := make([]uint32, 0, n)
	for i := 0; i < len(m.entries) && len(out) < n; i++ {
		if m.free.Get(i) {
			out = append(out, uint32(i))
		}
	}
	if len(out) < n {
		return nil, errBadFormat("minifat", "internal error: could not find %d free mini-sectors after growth", n)
	}
	for _, s := range out {
		m.setLink(s, endOfChain)
	}
	if m.onGrow != nil {
		if err := m.onGrow(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (m *miniFATTable) allocateChain(n int) ([]uint32, error) {
	if n <= 0 {
		return nil, nil
	}
	chain, err := m.allocateRaw(n)
	if err != nil {
		return nil, err
	}
	for i := 0; i < len(chain)-1; i++ {
		m.setLink(chain[i], chain[i+1])
	}
	m.setLink(chain[len(chain)-1], endOfChain)
	return chain, nil
}

func (m *miniFATTable) extendChain(tail uint32, n int) ([]uint32, error) {
	if n <= 0 {
		return nil, nil
	}
	chain, err := m.allocateChain(n)
	if err != nil {
		return nil, err
	}
	m.setLink(tail, chain[0])
	return chain, nil
}

func (m *miniFATTable) freeChain(head uint32) error {
	if head == endOfChain {
		return nil
	}
	sn := head
	steps := 0
	limit := len(m.entries) + 1
	for sn != endOfChain {
		if !isRegular(sn) {
			return errBadFormat("minifat", "chain contains unexpected sentinel %#x", sn)
		}
		if int(sn) >= len(m.entries) {
			return errBadFormat("minifat", "chain references out-of-range mini-sector %d", sn)
		}
		next := m.entries[sn]
		m.setLink(sn, freeSect)
		sn = next
		steps++
		if steps > limit {
			return errBadFormat("minifat", "cycle detected while freeing chain at mini-sector %d", head)
		}
	}
	return nil
}

func (m *miniFATTable) chainSectors(head uint32) ([]uint32, error) {
	var out []uint32
	sn := head
	steps := 0
	limit := len(m.entries) + 1
	for sn != endOfChain {
		if !isRegular(sn) {
			return nil, errBadFormat("minifat", "chain contains unexpected sentinel %#x", sn)
		}
		if int(sn) >= len(m.entries) {
			return nil, errBadFormat("minifat", "chain references out-of-range mini-sector %d", sn)
		}
		out = append(out, sn)
		steps++
		if steps > limit {
			return nil, errBadFormat("minifat", "cycle detected while iterating chain at mini-sector %d", head)
		}
		sn = m.entries[sn]
	}
	return out, nil
}

func (m *miniFATTable) firstSector() uint32 {
	if len(m.sectors) == 0 {
		return endOfChain
	}
	return m.sectors[0]
}

func (m *miniFATTable) numSectors() uint32 { return uint32(len(m.sectors)) }

func (m *miniFATTable) flush() error {
	eps := m.version.FATEntriesPerSector()
	for idx := range m.dirty {
		buf := make([]byte, m.version.SectorLen())
		base := idx * eps
		for j := 0; j < eps; j++ {
			v := freeSect
			if base+j < len(m.entries) {
				v = m.entries[base+j]
			}
			binary.LittleEndian.PutUint32(buf[j*4:], v)
		}
		if err := m.grid.writeSector(m.sectors[idx], buf); err != nil {
			return err
		}
	}
	m.dirty = map[int]bool{}
	return nil
}
