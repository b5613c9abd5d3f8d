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

// sectorGrid maps sector indices to byte offsets in the backing medium and
// performs raw sector I/O. Sector 0 is the first sector after the header.
type sectorGrid struct {
	medium  Medium
	version Version
}

// offsetOf returns the byte offset of the start of sector i.
func (g *sectorGrid) offsetOf(i uint32) int64 {
	return int64(g.version.SectorLen()) * (1 + int64(i))
}

func (g *sectorGrid) readAt(i uint32, offInSector int, buf []byte) error {
	if offInSector < 0 || offInSector+len(buf) > g.version.SectorLen() {
		return errInvalidArgument("read-sector", "offset %d+%d exceeds sector size %d", offInSector, len(buf), g.version.SectorLen())
	}
	n, err := g.medium.ReadAt(buf, g.offsetOf(i)+int64(offInSector))
	if err != nil {
		return errMedium("read-sector", err)
	}
	if n != len(buf) {
		return errMedium("read-sector", errShortIO)
	}
	return nil
}

func (g *sectorGrid) writeAt(i uint32, offInSector int, buf []byte) error {
	if offInSector < 0 || offInSector+len(buf) > g.version.SectorLen() {
		return errInvalidArgument("write-sector", "offset %d+%d exceeds sector size %d", offInSector, len(buf), g.version.SectorLen())
	}
	n, err := g.medium.WriteAt(buf, g.offsetOf(i)+int64(offInSector))
	if err != nil {
		return errMedium("write-sector", err)
	}
	if n != len(buf) {
		return errMedium("write-sector", errShortIO)
	}
	return nil
}

func (g *sectorGrid) readSector(i uint32, buf []byte) error {
	return g.readAt(i, 0, buf)
}

func (g *sectorGrid) writeSector(i uint32, buf []byte) error {
	return g.writeAt(i, 0, buf)
}

// zeroSector writes a full sector of zero bytes at index i, growing the
// medium first if necessary.
func (g *sectorGrid) zeroSector(i uint32) error {
	return g.writeSector(i, make([]byte, g.version.SectorLen()))
}
