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
	"unicode/utf16"
)

// objType is a directory entry's on-disk object type.
type objType uint8

const (
	typeUnallocated objType = 0x0
	typeStorage     objType = 0x1
	typeStream      objType = 0x2
	typeRoot        objType = 0x5
)

// nodeColor is a red-black tree node's color bit.
type nodeColor uint8

const (
	colorRed   nodeColor = 0x0
	colorBlack nodeColor = 0x1
)

const (
	maxNameCodeUnits = 31
	rootEntryName    = "Root Entry"
)

// dirEntry is the in-memory form of a 128-byte on-disk directory entry.
type dirEntry struct {
	name         string
	objType      objType
	color        nodeColor
	left         uint32
	right        uint32
	child        uint32
	clsid        [16]byte
	stateBits    uint32
	creationTime uint64
	modifiedTime uint64
	startSector  uint32
	streamLen    uint64
}

func unallocatedEntry() *dirEntry {
	return &dirEntry{objType: typeUnallocated, left: noStream, right: noStream, child: noStream}
}

// decodeDirEntry parses a 128-byte on-disk directory entry. v controls
// whether the high 32 bits of streamLen are required to be zero (V3).
func decodeDirEntry(buf []byte, v Version) (*dirEntry, error) {
	if len(buf) != dirEntryLen {
		return nil, errBadFormat("directory", "entry buffer is %d bytes, want %d", len(buf), dirEntryLen)
	}
	e := new(dirEntry)

	nameLenBytes := binary.LittleEndian.Uint16(buf[64:66])
	if nameLenBytes%2 != 0 || nameLenBytes > 64 {
		return nil, errBadFormat("directory", "invalid name_len_bytes %d", nameLenBytes)
	}
	if nameLenBytes > 0 {
		nameUnits := int(nameLenBytes/2 - 1)
		raw := make([]uint16, nameUnits)
		for i := 0; i < nameUnits; i++ {
			raw[i] = binary.LittleEndian.Uint16(buf[i*2 : i*2+2])
		}
		e.name = string(utf16.Decode(raw))
	}

	e.objType = objType(buf[66])
	e.color = nodeColor(buf[67])
	e.left = binary.LittleEndian.Uint32(buf[68:72])
	e.right = binary.LittleEndian.Uint32(buf[72:76])
	e.child = binary.LittleEndian.Uint32(buf[76:80])
	copy(e.clsid[:], buf[80:96])
	e.stateBits = binary.LittleEndian.Uint32(buf[96:100])
	e.creationTime = binary.LittleEndian.Uint64(buf[100:108])
	e.modifiedTime = binary.LittleEndian.Uint64(buf[108:116])
	e.startSector = binary.LittleEndian.Uint32(buf[116:120])
	e.streamLen = binary.LittleEndian.Uint64(buf[120:128])

	if v == V3 && e.streamLen>>32 != 0 {
		return nil, errBadFormat("directory", "V3 entry %q has non-zero high stream_len bits", e.name)
	}
	return e, nil
}

// encodeDirEntry serializes e into a 128-byte on-disk buffer.
func encodeDirEntry(e *dirEntry) []byte {
	buf := make([]byte, dirEntryLen)
	units := utf16.Encode([]rune(e.name))
	if len(units) > maxNameCodeUnits {
		units = units[:maxNameCodeUnits]
	}
	for i, u := range units {
		binary.LittleEndian.PutUint16(buf[i*2:i*2+2], u)
	}
	var nameLenBytes uint16
	if len(units) > 0 {
		nameLenBytes = uint16(len(units)+1) * 2
	}
	binary.LittleEndian.PutUint16(buf[64:66], nameLenBytes)
	buf[66] = byte(e.objType)
	buf[67] = byte(e.color)
	binary.LittleEndian.PutUint32(buf[68:72], e.left)
	binary.LittleEndian.PutUint32(buf[72:76], e.right)
	binary.LittleEndian.PutUint32(buf[76:80], e.child)
	copy(buf[80:96], e.clsid[:])
	binary.LittleEndian.PutUint32(buf[96:100], e.stateBits)
	binary.LittleEndian.PutUint64(buf[100:108], e.creationTime)
	binary.LittleEndian.PutUint64(buf[108:116], e.modifiedTime)
	binary.LittleEndian.PutUint32(buf[116:120], e.startSector)
	binary.LittleEndian.PutUint64(buf[120:128], e.streamLen)
	return buf
}

// nameUnitsUpper upper-cases the ASCII range of a UTF-16 code unit slice by
// the simple ASCII rule, leaving anything >= 128 untouched. This is the
// "ordinal" case-folding MS-CFB mandates for sibling comparisons — not
// linguistic collation.
func nameUnitsUpper(units []uint16) []uint16 {
	out := make([]uint16, len(units))
	for i, u := range units {
		if u >= 'a' && u <= 'z' {
			u -= 'a' - 'A'
		}
		out[i] = u
	}
	return out
}

// compareNames orders two sibling names the way MS-CFB requires: first by
// UTF-16 code-unit length, then by ASCII-only case-insensitive ordinal
// comparison.
func compareNames(a, b string) int {
	au := nameUnitsUpper(utf16.Encode([]rune(a)))
	bu := nameUnitsUpper(utf16.Encode([]rune(b)))
	if len(au) != len(bu) {
		if len(au) < len(bu) {
			return -1
		}
		return 1
	}
	for i := range au {
		if au[i] != bu[i] {
			if au[i] < bu[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// directory is the chain of directory sectors, decoded into a flat array of
// entries indexed by entry id, plus the red-black sibling trees threaded
// through their left/right/child fields.
type directory struct {
	version    Version
	grid       *sectorGrid
	mainFAT    *fatTable
	headSector uint32
	dirSectors []uint32
	entries    []*dirEntry
	dirty      map[uint32]bool
}

func newDirectory(version Version, grid *sectorGrid, mainFAT *fatTable) *directory {
	return &directory{version: version, grid: grid, mainFAT: mainFAT, dirty: map[uint32]bool{}}
}

func (d *directory) entriesPerSector() int {
	return d.version.DirEntriesPerSector()
}

func (d *directory) load(headSector uint32) error {
	d.headSector = headSector
	sectors, err := d.mainFAT.chainSectors(headSector)
	if err != nil {
		return err
	}
	d.dirSectors = sectors
	eps := d.entriesPerSector()
	d.entries = make([]*dirEntry, 0, len(sectors)*eps)
	buf := make([]byte, dirEntryLen)
	for _, sect := range sectors {
		for slot := 0; slot < eps; slot++ {
			if err := d.grid.readAt(sect, slot*dirEntryLen, buf); err != nil {
				return err
			}
			e, err := decodeDirEntry(buf, d.version)
			if err != nil {
				return err
			}
			d.entries = append(d.entries, e)
		}
	}
	if len(d.entries) == 0 {
		return errBadFormat("directory", "directory chain is empty, no root entry")
	}
	if d.entries[0].objType != typeRoot || d.entries[0].name != rootEntryName {
		return errBadFormat("directory", "entry 0 is not a valid root entry")
	}
	return nil
}

func (d *directory) get(id uint32) (*dirEntry, error) {
	if id == noStream || int(id) >= len(d.entries) {
		return nil, errBadFormat("directory", "entry id %d out of range", id)
	}
	return d.entries[id], nil
}

func (d *directory) markDirty(id uint32) {
	d.dirty[id] = true
}

// allocateSlot returns the id of an unallocated entry, extending the
// directory's sector chain by one sector if none is free.
func (d *directory) allocateSlot() (uint32, error) {
	for i, e := range d.entries {
		if e.objType == typeUnallocated {
			return uint32(i), nil
		}
	}
	eps := d.entriesPerSector()
	var newSector uint32
	if len(d.dirSectors) == 0 {
		chain, err := d.mainFAT.allocateChain(1)
		if err != nil {
			return 0, err
		}
		newSector = chain[0]
		d.headSector = newSector
	} else {
		chain, err := d.mainFAT.extendChain(d.dirSectors[len(d.dirSectors)-1], 1)
		if err != nil {
			return 0, err
		}
		newSector = chain[0]
	}
	d.dirSectors = append(d.dirSectors, newSector)
	firstNewID := uint32(len(d.entries))
	for i := 0; i < eps; i++ {
		d.entries = append(d.entries, unallocatedEntry())
		d.markDirty(firstNewID + uint32(i))
	}
	if err := d.grid.zeroSector(newSector); err != nil {
		return 0, err
	}
	return firstNewID, nil
}

func (d *directory) persist(id uint32) error {
	e, err := d.get(id)
	if err != nil {
		return err
	}
	eps := d.entriesPerSector()
	sectorPos := int(id) / eps
	if sectorPos >= len(d.dirSectors) {
		return errBadFormat("directory", "entry id %d has no backing directory sector", id)
	}
	offset := (int(id) % eps) * dirEntryLen
	return d.grid.writeAt(d.dirSectors[sectorPos], offset, encodeDirEntry(e))
}

func (d *directory) flush() error {
	for id := range d.dirty {
		if err := d.persist(id); err != nil {
			return err
		}
	}
	d.dirty = map[uint32]bool{}
	return nil
}

// ----------------------------------------------------------------------
// Sibling tree (red-black, keyed by the name ordering of compareNames).
//
// The on-disk format has no parent field, so insertion is implemented as
// Okasaki's purely functional red-black balance (no parent pointers
// needed: rebalancing is entirely local to a node and its children, and
// any residual red-red violation is caught one level up by the next
// recursive call). Deletion reconstructs a transient, never-persisted
// parent map by walking the tree once, then follows CLRS's RB-DELETE
// algorithm.

func (d *directory) treeRoot(ownerID uint32) (uint32, error) {
	owner, err := d.get(ownerID)
	if err != nil {
		return 0, err
	}
	return owner.child, nil
}

func (d *directory) setTreeRoot(ownerID, newRoot uint32) error {
	owner, err := d.get(ownerID)
	if err != nil {
		return err
	}
	owner.child = newRoot
	d.markDirty(ownerID)
	return nil
}

func (d *directory) colorOf(id uint32) (nodeColor, error) {
	if id == noStream {
		return colorBlack, nil
	}
	e, err := d.get(id)
	if err != nil {
		return colorBlack, err
	}
	return e.color, nil
}

// findInTree looks up name within the sibling tree rooted at root.
func (d *directory) findInTree(root uint32, name string) (uint32, bool, error) {
	cur := root
	for cur != noStream {
		e, err := d.get(cur)
		if err != nil {
			return 0, false, err
		}
		c := compareNames(name, e.name)
		switch {
		case c == 0:
			return cur, true, nil
		case c < 0:
			cur = e.left
		default:
			cur = e.right
		}
	}
	return 0, false, nil
}

// find looks up name among ownerID's direct children.
func (d *directory) find(ownerID uint32, name string) (uint32, bool, error) {
	root, err := d.treeRoot(ownerID)
	if err != nil {
		return 0, false, err
	}
	return d.findInTree(root, name)
}

// insert links the already-allocated entry newID into ownerID's sibling
// tree under its current name, failing if a sibling with that name exists.
func (d *directory) insert(ownerID, newID uint32) error {
	z, err := d.get(newID)
	if err != nil {
		return err
	}
	z.left, z.right, z.color = noStream, noStream, colorRed
	d.markDirty(newID)

	root, err := d.treeRoot(ownerID)
	if err != nil {
		return err
	}
	newRoot, err := d.insertInto(root, newID)
	if err != nil {
		return err
	}
	if err := d.setColorID(newRoot, colorBlack); err != nil {
		return err
	}
	return d.setTreeRoot(ownerID, newRoot)
}

func (d *directory) setColorID(id uint32, c nodeColor) error {
	if id == noStream {
		return nil
	}
	e, err := d.get(id)
	if err != nil {
		return err
	}
	e.color = c
	d.markDirty(id)
	return nil
}

func (d *directory) insertInto(root, z uint32) (uint32, error) {
	if root == noStream {
		return z, nil
	}
	re, err := d.get(root)
	if err != nil {
		return 0, err
	}
	ze, err := d.get(z)
	if err != nil {
		return 0, err
	}
	c := compareNames(ze.name, re.name)
	switch {
	case c == 0:
		return 0, errInvalidArgument("insert", "a sibling named %q already exists", ze.name)
	case c < 0:
		newLeft, err := d.insertInto(re.left, z)
		if err != nil {
			return 0, err
		}
		re.left = newLeft
	default:
		newRight, err := d.insertInto(re.right, z)
		if err != nil {
			return 0, err
		}
		re.right = newRight
	}
	d.markDirty(root)
	return d.balance(root)
}

func (d *directory) isRed(id uint32) (bool, error) {
	if id == noStream {
		return false, nil
	}
	e, err := d.get(id)
	if err != nil {
		return false, err
	}
	return e.color == colorRed, nil
}

// balance restores the red-black shape at a black node zID that may have a
// red child with a red grandchild — at most one such violation can exist
// immediately after a single insertion. See Okasaki, "Purely Functional
// Data Structures", §3.3.
func (d *directory) balance(zID uint32) (uint32, error) {
	z, err := d.get(zID)
	if err != nil {
		return 0, err
	}
	if z.color != colorBlack {
		return zID, nil
	}

	if redY, err := d.isRed(z.left); err != nil {
		return 0, err
	} else if redY {
		yID := z.left
		y, err := d.get(yID)
		if err != nil {
			return 0, err
		}
		if redX, err := d.isRed(y.left); err != nil {
			return 0, err
		} else if redX {
			xID := y.left
			x, err := d.get(xID)
			if err != nil {
				return 0, err
			}
			return d.rebuildBalanced(xID, x.left, x.right, yID, y.right, zID, z.right)
		}
		if redX, err := d.isRed(y.right); err != nil {
			return 0, err
		} else if redX {
			xID := y.right
			x, err := d.get(xID)
			if err != nil {
				return 0, err
			}
			return d.rebuildBalanced(yID, y.left, x.left, xID, x.right, zID, z.right)
		}
	}
	if redY, err := d.isRed(z.right); err != nil {
		return 0, err
	} else if redY {
		yID := z.right
		y, err := d.get(yID)
		if err != nil {
			return 0, err
		}
		if redX, err := d.isRed(y.left); err != nil {
			return 0, err
		} else if redX {
			xID := y.left
			x, err := d.get(xID)
			if err != nil {
				return 0, err
			}
			return d.rebuildBalanced(zID, z.left, x.left, xID, x.right, yID, y.right)
		}
		if redX, err := d.isRed(y.right); err != nil {
			return 0, err
		} else if redX {
			xID := y.right
			x, err := d.get(xID)
			if err != nil {
				return 0, err
			}
			return d.rebuildBalanced(zID, z.left, y.left, yID, x.left, xID, x.right)
		}
	}
	return zID, nil
}

// rebuildBalanced assembles the canonical result of the balance transform:
// a red node yID with two black children xID and zID, covering subtrees
// a,b (under xID) and c,dd (under zID).
func (d *directory) rebuildBalanced(xID, a, b, yID, c, zID, dd uint32) (uint32, error) {
	x, err := d.get(xID)
	if err != nil {
		return 0, err
	}
	y, err := d.get(yID)
	if err != nil {
		return 0, err
	}
	z, err := d.get(zID)
	if err != nil {
		return 0, err
	}

	x.left, x.right, x.color = a, b, colorBlack
	y.left, y.right, y.color = xID, zID, colorRed
	z.left, z.right, z.color = c, dd, colorBlack

	d.markDirty(xID)
	d.markDirty(yID)
	d.markDirty(zID)
	return yID, nil
}

// parentMap walks the sibling tree rooted at root and returns a transient,
// never-persisted map from entry id to its rb-tree parent (noStream for
// the root itself). Used only to drive remove's CLRS-style fixup.
func (d *directory) parentMap(root uint32) (map[uint32]uint32, error) {
	parents := map[uint32]uint32{}
	if root == noStream {
		return parents, nil
	}
	parents[root] = noStream
	var walk func(id uint32) error
	walk = func(id uint32) error {
		e, err := d.get(id)
		if err != nil {
			return err
		}
		if e.left != noStream {
			parents[e.left] = id
			if err := walk(e.left); err != nil {
				return err
			}
		}
		if e.right != noStream {
			parents[e.right] = id
			if err := walk(e.right); err != nil {
				return err
			}
		}
		return nil
	}
	return parents, walk(root)
}

func (d *directory) setChild(ownerID, parentID, oldChild, newChild uint32, parents map[uint32]uint32) error {
	if parentID == noStream {
		return d.setTreeRoot(ownerID, newChild)
	}
	p, err := d.get(parentID)
	if err != nil {
		return err
	}
	if p.left == oldChild {
		p.left = newChild
	} else {
		p.right = newChild
	}
	d.markDirty(parentID)
	if newChild != noStream {
		parents[newChild] = parentID
	}
	return nil
}

// remove unlinks the sibling named name from ownerID's tree, rebalancing
// per CLRS's RB-DELETE. It does not free the entry's stream chain or mark
// its slot unallocated; callers do that afterward.
func (d *directory) remove(ownerID uint32, name string) (uint32, error) {
	root, err := d.treeRoot(ownerID)
	if err != nil {
		return 0, err
	}
	zID, found, err := d.findInTree(root, name)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, errNotFound("remove", "no sibling named %q", name)
	}

	parents, err := d.parentMap(root)
	if err != nil {
		return 0, err
	}

	transplant := func(uID, vID uint32) error {
		return d.setChild(ownerID, parents[uID], uID, vID, parents)
	}

	z, err := d.get(zID)
	if err != nil {
		return 0, err
	}
	y := zID
	yOriginalColor, err := d.colorOf(y)
	if err != nil {
		return 0, err
	}

	var x, xParent uint32

	switch {
	case z.left == noStream:
		x = z.right
		xParent = parents[zID]
		if err := transplant(zID, z.right); err != nil {
			return 0, err
		}
	case z.right == noStream:
		x = z.left
		xParent = parents[zID]
		if err := transplant(zID, z.left); err != nil {
			return 0, err
		}
	default:
		y = z.right
		for {
			ye, err := d.get(y)
			if err != nil {
				return 0, err
			}
			if ye.left == noStream {
				break
			}
			y = ye.left
		}
		ye, err := d.get(y)
		if err != nil {
			return 0, err
		}
		yOriginalColor, err = d.colorOf(y)
		if err != nil {
			return 0, err
		}
		x = ye.right
		if parents[y] == zID {
			xParent = y
		} else {
			xParent = parents[y]
			if err := transplant(y, ye.right); err != nil {
				return 0, err
			}
			ye.right = z.right
			if z.right != noStream {
				parents[z.right] = y
			}
			d.markDirty(y)
		}
		if err := transplant(zID, y); err != nil {
			return 0, err
		}
		ye.left = z.left
		if z.left != noStream {
			parents[z.left] = y
		}
		ye.color = z.color
		d.markDirty(y)
	}

	if yOriginalColor == colorBlack {
		if err := d.deleteFixup(ownerID, parents, x, xParent); err != nil {
			return 0, err
		}
	}
	return zID, nil
}

// deleteFixup is CLRS's RB-DELETE-FIXUP, adapted to use the transient
// parent map built by remove instead of a persisted parent field.
func (d *directory) deleteFixup(ownerID uint32, parents map[uint32]uint32, x, xParent uint32) error {
	rotateLeft := func(pID, xID uint32) error {
		xe, err := d.get(xID)
		if err != nil {
			return err
		}
		yID := xe.right
		ye, err := d.get(yID)
		if err != nil {
			return err
		}
		xe.right = ye.left
		if ye.left != noStream {
			parents[ye.left] = xID
		}
		ye.left = xID
		parents[xID] = yID
		if err := d.setChild(ownerID, pID, xID, yID, parents); err != nil {
			return err
		}
		d.markDirty(xID)
		d.markDirty(yID)
		return nil
	}
	rotateRight := func(pID, xID uint32) error {
		xe, err := d.get(xID)
		if err != nil {
			return err
		}
		yID := xe.left
		ye, err := d.get(yID)
		if err != nil {
			return err
		}
		xe.left = ye.right
		if ye.right != noStream {
			parents[ye.right] = xID
		}
		ye.right = xID
		parents[xID] = yID
		if err := d.setChild(ownerID, pID, xID, yID, parents); err != nil {
			return err
		}
		d.markDirty(xID)
		d.markDirty(yID)
		return nil
	}

	for {
		root, err := d.treeRoot(ownerID)
		if err != nil {
			return err
		}
		black, err := d.colorOf(x)
		if err != nil {
			return err
		}
		isBlack := black == colorBlack
		if x == root || !isBlack || xParent == noStream {
			break
		}

		pe, err := d.get(xParent)
		if err != nil {
			return err
		}
		if pe.left == x {
			w := pe.right
			if wc, err := d.colorOf(w); err != nil {
				return err
			} else if wc == colorRed {
				if err := d.setColorID(w, colorBlack); err != nil {
					return err
				}
				if err := d.setColorID(xParent, colorRed); err != nil {
					return err
				}
				if err := rotateLeft(parents[xParent], xParent); err != nil {
					return err
				}
				pe, err = d.get(xParent)
				if err != nil {
					return err
				}
				w = pe.right
			}
			we, err := d.get(w)
			if err != nil {
				return err
			}
			wlBlack, err := d.colorOf(we.left)
			if err != nil {
				return err
			}
			wrBlack, err := d.colorOf(we.right)
			if err != nil {
				return err
			}
			if wlBlack == colorBlack && wrBlack == colorBlack {
				if err := d.setColorID(w, colorRed); err != nil {
					return err
				}
				x = xParent
				xParent = parents[x]
				continue
			}
			if wrBlack == colorBlack {
				if err := d.setColorID(we.left, colorBlack); err != nil {
					return err
				}
				if err := d.setColorID(w, colorRed); err != nil {
					return err
				}
				if err := rotateRight(xParent, w); err != nil {
					return err
				}
				pe, err = d.get(xParent)
				if err != nil {
					return err
				}
				w = pe.right
				we, err = d.get(w)
				if err != nil {
					return err
				}
			}
			pColor, err := d.colorOf(xParent)
			if err != nil {
				return err
			}
			if err := d.setColorID(w, pColor); err != nil {
				return err
			}
			if err := d.setColorID(xParent, colorBlack); err != nil {
				return err
			}
			if err := d.setColorID(we.right, colorBlack); err != nil {
				return err
			}
			if err := rotateLeft(parents[xParent], xParent); err != nil {
				return err
			}
			x, err = d.treeRoot(ownerID)
			if err != nil {
				return err
			}
			break
		}

		w := pe.left
		if wc, err := d.colorOf(w); err != nil {
			return err
		} else if wc == colorRed {
			if err := d.setColorID(w, colorBlack); err != nil {
				return err
			}
			if err := d.setColorID(xParent, colorRed); err != nil {
				return err
			}
			if err := rotateRight(parents[xParent], xParent); err != nil {
				return err
			}
			pe, err = d.get(xParent)
			if err != nil {
				return err
			}
			w = pe.left
		}
		we, err := d.get(w)
		if err != nil {
			return err
		}
		wlBlack, err := d.colorOf(we.left)
		if err != nil {
			return err
		}
		wrBlack, err := d.colorOf(we.right)
		if err != nil {
			return err
		}
		if wlBlack == colorBlack && wrBlack == colorBlack {
			if err := d.setColorID(w, colorRed); err != nil {
				return err
			}
			x = xParent
			xParent = parents[x]
			continue
		}
		if wlBlack == colorBlack {
			if err := d.setColorID(we.right, colorBlack); err != nil {
				return err
			}
			if err := d.setColorID(w, colorRed); err != nil {
				return err
			}
			if err := rotateLeft(xParent, w); err != nil {
				return err
			}
			pe, err = d.get(xParent)
			if err != nil {
				return err
			}
			w = pe.left
			we, err = d.get(w)
			if err != nil {
				return err
			}
		}
		pColor, err := d.colorOf(xParent)
		if err != nil {
			return err
		}
		if err := d.setColorID(w, pColor); err != nil {
			return err
		}
		if err := d.setColorID(xParent, colorBlack); err != nil {
			return err
		}
		if err := d.setColorID(we.left, colorBlack); err != nil {
			return err
		}
		if err := rotateRight(parents[xParent], xParent); err != nil {
			return err
		}
		x, err = d.treeRoot(ownerID)
		if err != nil {
			return err
		}
		break
	}
	return d.setColorID(x, colorBlack)
}

// children yields the entry ids of ownerID's direct children in sibling
// order, via a channel-based generator in the spirit of the teacher's own
// traversal idiom (mscfb.Reader iterates its directory through a channel).
func (d *directory) children(ownerID uint32) (<-chan uint32, func() error) {
	ch := make(chan uint32)
	var iterErr error
	go func() {
		defer close(ch)
		root, err := d.treeRoot(ownerID)
		if err != nil {
			iterErr = err
			return
		}
		var walk func(id uint32) bool
		walk = func(id uint32) bool {
			if id == noStream {
				return true
			}
			e, err := d.get(id)
			if err != nil {
				iterErr = err
				return false
			}
			if !walk(e.left) {
				return false
			}
			ch <- id
			if !walk(e.right) {
				return false
			}
			return true
		}
		walk(root)
	}()
	return ch, func() error { return iterErr }
}
