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

import "encoding/binary"

// difatTable is the double-indirect FAT: it maps a logical FAT-sector
// number to the physical sector that holds it. The first 109 entries live inline in
// the header; any more spill into a chain of dedicated DIFAT sectors, each
// holding (entriesPerSector-1) slots plus a trailing next-pointer.
type difatTable struct {
	version Version
	grid    *sectorGrid
	fat     *fatTable // wired in by the container after both tables exist

	sectors      []uint32 // FAT-sector index -> physical sector, in order
	spillSectors []uint32 // physical sectors holding the DIFAT's own spill chain
	dirtySpill   map[int]bool
}

func newDifatTable(version Version, grid *sectorGrid) *difatTable {
	return &difatTable{version: version, grid: grid, dirtySpill: map[int]bool{}}
}

func (d *difatTable) spillEntriesPerSector() int {
	return d.version.FATEntriesPerSector() - 1
}

// load reconstructs the full FAT-sector list from the header's inline
// array plus the DIFAT spill chain, validating the declared counts.
func (d *difatTable) load(inline [inlineDifatCount]uint32, firstSpillSector, numSpillSectors, numFATSectors uint32) error {
	d.sectors = make([]uint32, 0, numFATSectors)
	for _, v := range inline {
		if uint32(len(d.sectors)) >= numFATSectors {
			break
		}
		if v == freeSect {
			break
		}
		d.sectors = append(d.sectors, v)
	}

	d.spillSectors = nil
	perSector := d.spillEntriesPerSector()
	sect := firstSpillSector
	buf := make([]byte, d.version.SectorLen())
	for sect != endOfChain {
		if uint32(len(d.spillSectors)) >= numSpillSectors {
			return errBadFormat("difat", "spill chain longer than declared num_difat_sectors %d", numSpillSectors)
		}
		if err := d.grid.readSector(sect, buf); err != nil {
			return err
		}
		d.spillSectors = append(d.spillSectors, sect)
		for j := 0; j < perSector && uint32(len(d.sectors)) < numFATSectors; j++ {
			v := binary.LittleEndian.Uint32(buf[j*4 : j*4+4])
			if v == freeSect {
				continue
			}
			d.sectors = append(d.sectors, v)
		}
		sect = binary.LittleEndian.Uint32(buf[perSector*4 : perSector*4+4])
	}
	if uint32(len(d.spillSectors)) != numSpillSectors {
		return errBadFormat("difat", "spill chain has %d sectors, header declares %d", len(d.spillSectors), numSpillSectors)
	}
	if uint32(len(d.sectors)) != numFATSectors {
		return errBadFormat("difat", "collected %d FAT sectors, header declares %d", len(d.sectors), numFATSectors)
	}
	return nil
}

// locateFATSector returns the physical sector holding logical FAT sector k.
func (d *difatTable) locateFATSector(k int) (uint32, error) {
	if k < 0 || k >= len(d.sectors) {
		return 0, errBadFormat("difat", "FAT sector index %d out of range (have %d)", k, len(d.sectors))
	}
	return d.sectors[k], nil
}

func (d *difatTable) numFATSectors() uint32 { return uint32(len(d.sectors)) }

// registerFATSector appends a freshly allocated FAT sector to the DIFAT,
// growing the spill chain through the main FAT allocator when the inline
// 109-entry array is exhausted.
//
// Spill-sector growth allocates directly through fat.allocateRaw rather
// than fat.allocateChain: a DIFAT spill sector's "next" pointer is a plain
// field inside the sector itself, not a FAT chain link, so there is no FAT
// entry to set for it beyond reserving the sector as difSect.
func (d *difatTable) registerFATSector(s uint32) error {
	idx := len(d.sectors)
	d.sectors = append(d.sectors, s)
	if idx < inlineDifatCount {
		return nil
	}

	spillIdx := idx - inlineDifatCount
	perSector := d.spillEntriesPerSector()
	neededSpillSectors := spillIdx/perSector + 1
	for len(d.spillSectors) < neededSpillSectors {
		newSpill, err := d.fat.allocateRaw(1)
		if err != nil {
			return err
		}
		d.fat.setLink(newSpill[0], difSect)
		if len(d.spillSectors) > 0 {
			d.dirtySpill[len(d.spillSectors)-1] = true
		}
		d.spillSectors = append(d.spillSectors, newSpill[0])
	}
	d.dirtySpill[neededSpillSectors-1] = true
	return nil
}

// flush writes every dirty DIFAT spill sector back through the grid.
func (d *difatTable) flush() error {
	perSector := d.spillEntriesPerSector()
	for pos := range d.dirtySpill {
		buf := make([]byte, d.version.SectorLen())
		base := inlineDifatCount + pos*perSector
		for j := 0; j < perSector; j++ {
			v := freeSect
			if base+j < len(d.sectors) {
				v = d.sectors[base+j]
			}
			binary.LittleEndian.PutUint32(buf[j*4:], v)
		}
		next := endOfChain
		if pos+1 < len(d.spillSectors) {
			next = d.spillSectors[pos+1]
		}
		binary.LittleEndian.PutUint32(buf[perSector*4:perSector*4+4], next)
		if err := d.grid.writeSector(d.spillSectors[pos], buf); err != nil {
			return err
		}
	}
	d.dirtySpill = map[int]bool{}
	return nil
}

func (d *difatTable) firstSpillSector() uint32 {
	if len(d.spillSectors) == 0 {
		return endOfChain
	}
	return d.spillSectors[0]
}

func (d *difatTable) numSpillSectors() uint32 { return uint32(len(d.spillSectors)) }

// inlineArray returns the header's 109-slot inline DIFAT array.
func (d *difatTable) inlineArray() [inlineDifatCount]uint32 {
	var out [inlineDifatCount]uint32
	for i := range out {
		out[i] = freeSect
	}
	for i := 0; i < len(d.sectors) && i < inlineDifatCount; i++ {
		out[i] = d.sectors[i]
	}
	return out
}
