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

// miniStream holds the bytes addressed by mini-sector number: the root
// entry's own stream, an ordinary FAT-backed stream that every small
// stream's data is packed into. Growth rides the main FAT like any other
// stream, and the mini-stream never shrinks; only the translation from
// mini-sector number to physical (sector, offset) is specific to this type.
type miniStream struct {
	grid    *sectorGrid
	mainFAT *fatTable
	sectors []uint32 // main-grid sectors comprising the mini-stream, in order
}

func newMiniStream(grid *sectorGrid, mainFAT *fatTable) *miniStream {
	return &miniStream{grid: grid, mainFAT: mainFAT}
}

func (ms *miniStream) load(headSector uint32) error {
	if headSector == endOfChain {
		ms.sectors = nil
		return nil
	}
	chain, err := ms.mainFAT.chainSectors(headSector)
	if err != nil {
		return err
	}
	ms.sectors = chain
	return nil
}

func (ms *miniStream) miniSectorsPerMain() int {
	return ms.grid.version.SectorLen() / MiniSectorLen
}

func (ms *miniStream) capacity() uint32 {
	return uint32(len(ms.sectors) * ms.miniSectorsPerMain())
}

func (ms *miniStream) locate(miniSector uint32) (uint32, int, error) {
	perMain := uint32(ms.miniSectorsPerMain())
	idx := miniSector / perMain
	off := int((miniSector % perMain) * MiniSectorLen)
	if int(idx) >= len(ms.sectors) {
		return 0, 0, errBadFormat("ministream", "mini-sector %d out of range (mini-stream holds %d)", miniSector, ms.capacity())
	}
	return ms.sectors[idx], off, nil
}

func (ms *miniStream) readMiniSector(miniSector uint32, buf []byte) error {
	phys, off, err := ms.locate(miniSector)
	if err != nil {
		return err
	}
	return ms.grid.readAt(phys, off, buf)
}

func (ms *miniStream) writeMiniSector(miniSector uint32, buf []byte) error {
	phys, off, err := ms.locate(miniSector)
	if err != nil {
		return err
	}
	return ms.grid.writeAt(phys, off, buf)
}

// growToCapacity grows the mini-stream, in whole main-grid sectors, until
// it can hold at least miniSectorCount mini-sectors. It returns the head
// sector the caller should persist onto the root entry (unchanged unless
// the mini-stream was previously empty).
func (ms *miniStream) growToCapacity(miniSectorCount int, currentHead uint32) (uint32, error) {
	perMain := ms.miniSectorsPerMain()
	need := 0
	for int(ms.capacity())+need*perMain < miniSectorCount {
		need++
	}
	if need == 0 {
		return currentHead, nil
	}
	if len(ms.sectors) == 0 {
		chain, err := ms.mainFAT.allocateChain(need)
		if err != nil {
			return currentHead, err
		}
		ms.sectors = chain
		return chain[0], nil
	}
	chain, err := ms.mainFAT.extendChain(ms.sectors[len(ms.sectors)-1], need)
	if err != nil {
		return currentHead, err
	}
	ms.sectors = append(ms.sectors, chain...)
	return currentHead, nil
}
