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

// header is the decoded form of the fixed 512-byte MS-CFB header that
// always occupies the first HeaderSectorLen bytes of the medium.
type header struct {
	version           Version
	numDirSectors     uint32 // always 0 for V3
	numFATSectors     uint32
	firstDirSector    uint32
	miniCutoff        uint32
	firstMiniFATSect  uint32
	numMiniFATSectors uint32
	firstDIFATSect    uint32
	numDIFATSectors   uint32
	difatInline       [inlineDifatCount]uint32
}

func decodeHeader(buf []byte) (*header, error) {
	if len(buf) < headerLen {
		return nil, errBadFormat("open", "header is %d bytes, want at least %d", len(buf), headerLen)
	}
	sig := binary.LittleEndian.Uint64(buf[0:8])
	if sig != signature {
		return nil, errBadFormat("open", "bad magic number %#x", sig)
	}
	major := binary.LittleEndian.Uint16(buf[26:28])
	version, err := versionFromUint16(major)
	if err != nil {
		return nil, err
	}
	byteOrder := binary.LittleEndian.Uint16(buf[28:30])
	if byteOrder != byteOrderLE {
		return nil, errBadFormat("open", "unsupported byte order marker %#x", byteOrder)
	}
	sectorShift := binary.LittleEndian.Uint16(buf[30:32])
	if uint(sectorShift) != version.SectorShift() {
		return nil, errBadFormat("open", "sector shift %d does not match version %d", sectorShift, version)
	}
	miniShift := binary.LittleEndian.Uint16(buf[32:34])
	if miniShift != MiniSectorShift {
		return nil, errBadFormat("open", "unsupported mini sector shift %d", miniShift)
	}

	h := &header{version: version}
	h.numDirSectors = binary.LittleEndian.Uint32(buf[40:44])
	h.numFATSectors = binary.LittleEndian.Uint32(buf[44:48])
	h.firstDirSector = binary.LittleEndian.Uint32(buf[48:52])
	h.miniCutoff = binary.LittleEndian.Uint32(buf[56:60])
	h.firstMiniFATSect = binary.LittleEndian.Uint32(buf[60:64])
	h.numMiniFATSectors = binary.LittleEndian.Uint32(buf[64:68])
	h.firstDIFATSect = binary.LittleEndian.Uint32(buf[68:72])
	h.numDIFATSectors = binary.LittleEndian.Uint32(buf[72:76])
	for i := 0; i < inlineDifatCount; i++ {
		h.difatInline[i] = binary.LittleEndian.Uint32(buf[76+i*4 : 76+i*4+4])
	}

	if version == V3 && h.numDirSectors != 0 {
		return nil, errBadFormat("open", "V3 header declares %d directory sectors, must be 0", h.numDirSectors)
	}
	return h, nil
}

func encodeHeader(h *header) []byte {
	buf := make([]byte, headerLen)
	binary.LittleEndian.PutUint64(buf[0:8], signature)
	binary.LittleEndian.PutUint16(buf[24:26], minorVersion)
	binary.LittleEndian.PutUint16(buf[26:28], uint16(h.version))
	binary.LittleEndian.PutUint16(buf[28:30], byteOrderLE)
	binary.LittleEndian.PutUint16(buf[30:32], uint16(h.version.SectorShift()))
	binary.LittleEndian.PutUint16(buf[32:34], MiniSectorShift)
	// buf[34:40] reserved, stays zero.
	binary.LittleEndian.PutUint32(buf[40:44], h.numDirSectors)
	binary.LittleEndian.PutUint32(buf[44:48], h.numFATSectors)
	binary.LittleEndian.PutUint32(buf[48:52], h.firstDirSector)
	// buf[52:56] transaction signature, always left at zero.
	binary.LittleEndian.PutUint32(buf[56:60], h.miniCutoff)
	binary.LittleEndian.PutUint32(buf[60:64], h.firstMiniFATSect)
	binary.LittleEndian.PutUint32(buf[64:68], h.numMiniFATSectors)
	binary.LittleEndian.PutUint32(buf[68:72], h.firstDIFATSect)
	binary.LittleEndian.PutUint32(buf[72:76], h.numDIFATSectors)
	for i, v := range h.difatInline {
		binary.LittleEndian.PutUint32(buf[76+i*4:76+i*4+4], v)
	}
	return buf
}
