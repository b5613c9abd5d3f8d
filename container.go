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

// Package cfb reads and writes Compound File Binary containers (the OLE2
// structured storage format that underlies legacy .doc/.xls/.ppt files,
// .msi installers and .msg mail items): a FAT-addressed sector grid
// carrying a directory of storages and streams, with a MiniFAT-backed
// mini-stream for small streams.
package cfb

import (
	"strings"
	"unicode/utf16"

	"github.com/hashicorp/go-multierror"
)

// Container is an open compound file. It owns every structure needed to
// navigate and mutate the file: the sector grid, the FAT and DIFAT, the
// MiniFAT and mini-stream, and the directory.
type Container struct {
	medium  Medium
	version Version
	grid    *sectorGrid

	mainFAT    *fatTable
	difat      *difatTable
	miniFAT    *miniFATTable
	miniStream *miniStream
	dir        *directory

	miniCutoff uint32

	// parentOf and removed are transient bookkeeping, rebuilt from the
	// directory tree on Open and kept current by every mutation; neither
	// is persisted to the medium.
	parentOf map[uint32]uint32
	removed  map[uint32]bool
}

// Open parses an existing compound file from medium.
func Open(medium Medium) (*Container, error) {
	probe := make([]byte, headerLen)
	if _, err := medium.ReadAt(probe, 0); err != nil {
		return nil, errMedium("open", err)
	}
	h, err := decodeHeader(probe)
	if err != nil {
		return nil, err
	}

	grid := &sectorGrid{medium: medium, version: h.version}
	mainFAT := newFATTable(h.version, grid, nil)
	difat := newDifatTable(h.version, grid)
	difat.fat = mainFAT
	mainFAT.dfat = difat

	if err := difat.load(h.difatInline, h.firstDIFATSect, h.numDIFATSectors, h.numFATSectors); err != nil {
		return nil, err
	}
	if err := mainFAT.loadFromSectors(difat.sectors); err != nil {
		return nil, err
	}

	dir := newDirectory(h.version, grid, mainFAT)
	if err := dir.load(h.firstDirSector); err != nil {
		return nil, err
	}

	miniFAT := newMiniFATTable(h.version, grid, mainFAT)
	if err := miniFAT.load(h.firstMiniFATSect, h.numMiniFATSectors); err != nil {
		return nil, err
	}
	ms := newMiniStream(grid, mainFAT)
	root, err := dir.get(0)
	if err != nil {
		return nil, err
	}
	if err := ms.load(root.startSector); err != nil {
		return nil, err
	}

	c := &Container{
		medium: medium, version: h.version, grid: grid,
		mainFAT: mainFAT, difat: difat, miniFAT: miniFAT, miniStream: ms,
		dir: dir, miniCutoff: h.miniCutoff, removed: map[uint32]bool{},
	}
	miniFAT.onGrow = c.syncMiniStream
	if err := c.buildParentIndex(); err != nil {
		return nil, err
	}
	return c, nil
}

// Create initializes a brand-new, empty compound file of the given
// version on medium, which is assumed to start out empty.
func Create(medium Medium, version Version) (*Container, error) {
	grid := &sectorGrid{medium: medium, version: version}
	mainFAT := newFATTable(version, grid, nil)
	difat := newDifatTable(version, grid)
	difat.fat = mainFAT
	mainFAT.dfat = difat

	dir := newDirectory(version, grid, mainFAT)
	rootID, err := dir.allocateSlot()
	if err != nil {
		return nil, err
	}
	if rootID != 0 {
		return nil, errBadFormat("create", "internal error: root entry did not land at id 0")
	}
	root, err := dir.get(rootID)
	if err != nil {
		return nil, err
	}
	root.name = rootEntryName
	root.objType = typeRoot
	root.color = colorBlack
	root.left, root.right, root.child = noStream, noStream, noStream
	root.startSector = endOfChain
	root.streamLen = 0
	dir.markDirty(rootID)

	miniFAT := newMiniFATTable(version, grid, mainFAT)
	ms := newMiniStream(grid, mainFAT)

	c := &Container{
		medium: medium, version: version, grid: grid,
		mainFAT: mainFAT, difat: difat, miniFAT: miniFAT, miniStream: ms,
		dir: dir, miniCutoff: defaultMiniCutoff,
		parentOf: map[uint32]uint32{}, removed: map[uint32]bool{},
	}
	miniFAT.onGrow = c.syncMiniStream
	if err := c.Flush(); err != nil {
		return nil, err
	}
	return c, nil
}

// syncMiniStream keeps the mini-stream's physical backing at least as large
// as the highest mini-sector index currently in use, rounded up to whole
// main-grid sectors. It must size to actual usage, not to the MiniFAT's
// logical entries array: that array is over-allocated a whole FAT-sector's
// worth of entries (128 for V3, 1024 for V4) on every growth, and sizing the
// mini-stream to match would bloat the root entry's stream far past what the
// mini-sectors in use require.
func (c *Container) syncMiniStream() error {
	root, err := c.dir.get(0)
	if err != nil {
		return err
	}
	newHead, err := c.miniStream.growToCapacity(c.miniFAT.usedCount(), root.startSector)
	if err != nil {
		return err
	}
	root.startSector = newHead
	root.streamLen = uint64(len(c.miniStream.sectors)) * uint64(c.version.SectorLen())
	c.dir.markDirty(0)
	return nil
}

func (c *Container) buildParentIndex() error {
	c.parentOf = map[uint32]uint32{}
	var walkStorage func(ownerID uint32) error
	var walkSiblings func(ownerID, id uint32) error
	walkSiblings = func(ownerID, id uint32) error {
		if id == noStream {
			return nil
		}
		e, err := c.dir.get(id)
		if err != nil {
			return err
		}
		if err := walkSiblings(ownerID, e.left); err != nil {
			return err
		}
		c.parentOf[id] = ownerID
		if e.objType == typeStorage {
			if err := walkStorage(id); err != nil {
				return err
			}
		}
		return walkSiblings(ownerID, e.right)
	}
	walkStorage = func(ownerID uint32) error {
		owner, err := c.dir.get(ownerID)
		if err != nil {
			return err
		}
		return walkSiblings(ownerID, owner.child)
	}
	return walkStorage(0)
}

// Flush writes every pending change to the medium: dirty FAT, DIFAT,
// MiniFAT and directory sectors, then the header unconditionally (it's a
// single sector, so there's no benefit to tracking its own dirty bit).
func (c *Container) Flush() error {
	if err := c.mainFAT.flush(); err != nil {
		return err
	}
	if err := c.difat.flush(); err != nil {
		return err
	}
	if err := c.miniFAT.flush(); err != nil {
		return err
	}
	if err := c.dir.flush(); err != nil {
		return err
	}

	h := &header{
		version:           c.version,
		numFATSectors:     c.difat.numFATSectors(),
		firstDirSector:    c.dir.headSector,
		miniCutoff:        c.miniCutoff,
		firstMiniFATSect:  c.miniFAT.firstSector(),
		numMiniFATSectors: c.miniFAT.numSectors(),
		firstDIFATSect:    c.difat.firstSpillSector(),
		numDIFATSectors:   c.difat.numSpillSectors(),
		difatInline:       c.difat.inlineArray(),
	}
	if c.version == V4 {
		h.numDirSectors = uint32(len(c.dir.dirSectors))
	}
	buf := encodeHeader(h)
	full := make([]byte, c.version.HeaderSectorLen())
	copy(full, buf)
	if _, err := c.medium.WriteAt(full, 0); err != nil {
		return errMedium("flush", err)
	}
	return nil
}

// Version reports the container's MS-CFB major version.
func (c *Container) Version() Version { return c.version }

// RootStorage returns a handle to the container's root storage.
func (c *Container) RootStorage() *Storage { return &Storage{c: c, id: 0} }

// IntoInner consumes the container and returns the underlying medium. The
// caller takes over responsibility for it; c must not be used afterward.
func (c *Container) IntoInner() Medium { return c.medium }

func (c *Container) isRemoved(id uint32) bool { return c.removed[id] }

func validateName(op, name string) error {
	if name == "" {
		return errInvalidArgument(op, "name must not be empty")
	}
	if len(utf16.Encode([]rune(name))) > maxNameCodeUnits {
		return errInvalidArgument(op, "name %q exceeds %d UTF-16 code units", name, maxNameCodeUnits)
	}
	return nil
}

func (c *Container) removeEntry(ownerID uint32, name string, wantID uint32) error {
	removedID, err := c.dir.remove(ownerID, name)
	if err != nil {
		return err
	}
	if removedID != wantID {
		return errBadFormat("remove", "internal error: removed entry id mismatch")
	}
	e, err := c.dir.get(wantID)
	if err != nil {
		return err
	}
	e.objType = typeUnallocated
	e.name = ""
	e.left, e.right, e.child = noStream, noStream, noStream
	e.startSector = noStream
	e.streamLen = 0
	c.dir.markDirty(wantID)
	delete(c.parentOf, wantID)
	c.removed[wantID] = true
	return nil
}

func (c *Container) renameEntry(ownerID, id uint32, newName string) error {
	if err := validateName("rename", newName); err != nil {
		return err
	}
	e, err := c.dir.get(id)
	if err != nil {
		return err
	}
	if compareNames(e.name, newName) == 0 {
		if e.name != newName {
			e.name = newName
			c.dir.markDirty(id)
		}
		return nil
	}
	if _, ok, err := c.dir.find(ownerID, newName); err != nil {
		return err
	} else if ok {
		return errInvalidArgument("rename", "a sibling named %q already exists", newName)
	}
	oldName := e.name
	if _, err := c.dir.remove(ownerID, oldName); err != nil {
		return err
	}
	e.name = newName
	c.dir.markDirty(id)
	return c.dir.insert(ownerID, id)
}

// Storage is a handle to one storage (directory-like) entry.
type Storage struct {
	c  *Container
	id uint32
}

func (s *Storage) entry() (*dirEntry, error) {
	if s.c.isRemoved(s.id) {
		return nil, errStale("storage")
	}
	e, err := s.c.dir.get(s.id)
	if err != nil {
		return nil, err
	}
	if e.objType != typeStorage && e.objType != typeRoot {
		return nil, errWrongKind("storage", "entry is not a storage")
	}
	return e, nil
}

// Name returns the storage's name ("Root Entry" for the root storage).
func (s *Storage) Name() (string, error) {
	e, err := s.entry()
	if err != nil {
		return "", err
	}
	return e.name, nil
}

// IsRoot reports whether s is the container's root storage.
func (s *Storage) IsRoot() bool { return s.id == 0 }

// Path returns s's path from the root storage, with components joined by
// "/". The root storage's path is "/".
func (s *Storage) Path() (string, error) {
	if s.c.isRemoved(s.id) {
		return "", errStale("path")
	}
	if s.IsRoot() {
		return "/", nil
	}
	var parts []string
	for id := s.id; id != 0; {
		e, err := s.c.dir.get(id)
		if err != nil {
			return "", err
		}
		parts = append(parts, e.name)
		pid, ok := s.c.parentOf[id]
		if !ok {
			return "", errStale("path")
		}
		id = pid
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return "/" + strings.Join(parts, "/"), nil
}

// Parent returns s's owning storage. The root storage has none.
func (s *Storage) Parent() (*Storage, error) {
	if s.IsRoot() {
		return nil, errInvalidArgument("parent", "the root storage has no parent")
	}
	if s.c.isRemoved(s.id) {
		return nil, errStale("parent")
	}
	pid, ok := s.c.parentOf[s.id]
	if !ok {
		return nil, errStale("parent")
	}
	return &Storage{c: s.c, id: pid}, nil
}

// IterChildren lazily yields the names of s's direct children in sibling
// order. Drain the channel fully (or to the first error) before calling
// the returned error func.
func (s *Storage) IterChildren() (<-chan string, func() error) {
	if _, err := s.entry(); err != nil {
		out := make(chan string)
		close(out)
		return out, func() error { return err }
	}
	ids, errFn := s.c.dir.children(s.id)
	out := make(chan string)
	go func() {
		defer close(out)
		for id := range ids {
			e, err := s.c.dir.get(id)
			if err != nil {
				return
			}
			out <- e.name
		}
	}()
	return out, errFn
}

func (s *Storage) find(name string) (uint32, bool, error) {
	if _, err := s.entry(); err != nil {
		return 0, false, err
	}
	return s.c.dir.find(s.id, name)
}

// OpenStorage looks up a direct child storage by name.
func (s *Storage) OpenStorage(name string) (*Storage, error) {
	id, ok, err := s.find(name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errNotFound("open-storage", "no entry named %q", name)
	}
	e, err := s.c.dir.get(id)
	if err != nil {
		return nil, err
	}
	if e.objType != typeStorage {
		return nil, errWrongKind("open-storage", "%q is not a storage", name)
	}
	return &Storage{c: s.c, id: id}, nil
}

// OpenStream looks up a direct child stream by name.
func (s *Storage) OpenStream(name string) (*Stream, error) {
	id, ok, err := s.find(name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errNotFound("open-stream", "no entry named %q", name)
	}
	e, err := s.c.dir.get(id)
	if err != nil {
		return nil, err
	}
	if e.objType != typeStream {
		return nil, errWrongKind("open-stream", "%q is not a stream", name)
	}
	return &Stream{c: s.c, entryID: id}, nil
}

// CreateStorage creates a new, empty child storage named name.
func (s *Storage) CreateStorage(name string) (*Storage, error) {
	if err := validateName("create-storage", name); err != nil {
		return nil, err
	}
	if _, ok, err := s.find(name); err != nil {
		return nil, err
	} else if ok {
		return nil, errInvalidArgument("create-storage", "a sibling named %q already exists", name)
	}
	id, err := s.c.dir.allocateSlot()
	if err != nil {
		return nil, err
	}
	e, err := s.c.dir.get(id)
	if err != nil {
		return nil, err
	}
	e.name = name
	e.objType = typeStorage
	e.left, e.right, e.child = noStream, noStream, noStream
	e.startSector = endOfChain
	e.streamLen = 0
	s.c.dir.markDirty(id)
	if err := s.c.dir.insert(s.id, id); err != nil {
		return nil, err
	}
	s.c.parentOf[id] = s.id
	delete(s.c.removed, id)
	return &Storage{c: s.c, id: id}, nil
}

// CreateStream creates a new, empty child stream named name.
func (s *Storage) CreateStream(name string) (*Stream, error) {
	if err := validateName("create-stream", name); err != nil {
		return nil, err
	}
	if _, ok, err := s.find(name); err != nil {
		return nil, err
	} else if ok {
		return nil, errInvalidArgument("create-stream", "a sibling named %q already exists", name)
	}
	id, err := s.c.dir.allocateSlot()
	if err != nil {
		return nil, err
	}
	e, err := s.c.dir.get(id)
	if err != nil {
		return nil, err
	}
	e.name = name
	e.objType = typeStream
	e.left, e.right, e.child = noStream, noStream, noStream
	e.startSector = endOfChain
	e.streamLen = 0
	s.c.dir.markDirty(id)
	if err := s.c.dir.insert(s.id, id); err != nil {
		return nil, err
	}
	s.c.parentOf[id] = s.id
	delete(s.c.removed, id)
	return &Stream{c: s.c, entryID: id}, nil
}

// RemoveStorage removes a direct child storage, which must be empty.
func (s *Storage) RemoveStorage(name string) error {
	id, ok, err := s.find(name)
	if err != nil {
		return err
	}
	if !ok {
		return errNotFound("remove-storage", "no entry named %q", name)
	}
	e, err := s.c.dir.get(id)
	if err != nil {
		return err
	}
	if e.objType != typeStorage {
		return errWrongKind("remove-storage", "%q is not a storage", name)
	}
	if e.child != noStream {
		return errInvalidArgument("remove-storage", "storage %q is not empty", name)
	}
	return s.c.removeEntry(s.id, name, id)
}

// RemoveStream removes a direct child stream, freeing its content.
func (s *Storage) RemoveStream(name string) error {
	id, ok, err := s.find(name)
	if err != nil {
		return err
	}
	if !ok {
		return errNotFound("remove-stream", "no entry named %q", name)
	}
	e, err := s.c.dir.get(id)
	if err != nil {
		return err
	}
	if e.objType != typeStream {
		return errWrongKind("remove-stream", "%q is not a stream", name)
	}
	strm := &Stream{c: s.c, entryID: id}
	if err := strm.SetLen(0); err != nil {
		return err
	}
	return s.c.removeEntry(s.id, name, id)
}

// Rename changes s's own name among its siblings.
func (s *Storage) Rename(newName string) error {
	if s.IsRoot() {
		return errInvalidArgument("rename", "cannot rename the root storage")
	}
	if s.c.isRemoved(s.id) {
		return errStale("rename")
	}
	parent, ok := s.c.parentOf[s.id]
	if !ok {
		return errStale("rename")
	}
	return s.c.renameEntry(parent, s.id, newName)
}

// Rename changes the stream's own name among its siblings.
func (strm *Stream) Rename(newName string) error {
	if strm.c.isRemoved(strm.entryID) {
		return errStale("rename")
	}
	parent, ok := strm.c.parentOf[strm.entryID]
	if !ok {
		return errStale("rename")
	}
	return strm.c.renameEntry(parent, strm.entryID, newName)
}

// Parent returns the stream's owning storage.
func (strm *Stream) Parent() (*Storage, error) {
	if strm.c.isRemoved(strm.entryID) {
		return nil, errStale("parent")
	}
	pid, ok := strm.c.parentOf[strm.entryID]
	if !ok {
		return nil, errStale("parent")
	}
	return &Storage{c: strm.c, id: pid}, nil
}

// CheckInvariants walks every storage's sibling tree and every stream's
// chain and reports every inconsistency it finds there (sibling ordering,
// red-black shape, chain length against declared stream length), aggregated
// via multierror rather than stopping at the first one — useful as a
// diagnostic over a file of uncertain provenance, not part of the normal
// read/write path. It does not cross-check the FAT, DIFAT and MiniFAT
// against each other or the allocation role of each sector.
func (c *Container) CheckInvariants() error {
	var result *multierror.Error

	var walkTree func(ownerID, id uint32, min, max string, hasMin, hasMax bool) (int, error)
	walkTree = func(ownerID, id uint32, min, max string, hasMin, hasMax bool) (int, error) {
		if id == noStream {
			return 1, nil
		}
		e, err := c.dir.get(id)
		if err != nil {
			return 0, err
		}
		if hasMin && compareNames(e.name, min) <= 0 {
			result = multierror.Append(result, errBadFormat("check", "entry %q violates sibling ordering", e.name))
		}
		if hasMax && compareNames(e.name, max) >= 0 {
			result = multierror.Append(result, errBadFormat("check", "entry %q violates sibling ordering", e.name))
		}
		if e.color == colorRed {
			if lc, _ := c.dir.colorOf(e.left); lc == colorRed {
				result = multierror.Append(result, errBadFormat("check", "entry %q has two consecutive red nodes", e.name))
			}
			if rc, _ := c.dir.colorOf(e.right); rc == colorRed {
				result = multierror.Append(result, errBadFormat("check", "entry %q has two consecutive red nodes", e.name))
			}
		}
		lh, err := walkTree(ownerID, e.left, min, e.name, hasMin, true)
		if err != nil {
			return 0, err
		}
		rh, err := walkTree(ownerID, e.right, e.name, max, true, hasMax)
		if err != nil {
			return 0, err
		}
		if lh != rh {
			result = multierror.Append(result, errBadFormat("check", "entry %q has unequal left/right black-heights", e.name))
		}
		h := lh
		if e.color == colorBlack {
			h++
		}
		return h, nil
	}

	var walkStorage func(ownerID uint32) error
	walkStorage = func(ownerID uint32) error {
		owner, err := c.dir.get(ownerID)
		if err != nil {
			return err
		}
		if owner.child != noStream {
			if rc, _ := c.dir.colorOf(owner.child); rc != colorBlack {
				result = multierror.Append(result, errBadFormat("check", "storage %q's sibling tree root is not black", owner.name))
			}
		}
		if _, err := walkTree(ownerID, owner.child, "", "", false, false); err != nil {
			return err
		}
		ids, errFn := c.dir.children(ownerID)
		for id := range ids {
			e, err := c.dir.get(id)
			if err != nil {
				return err
			}
			if e.objType == typeStream {
				if err := c.checkStreamChain(e); err != nil {
					result = multierror.Append(result, err)
				}
			}
			if e.objType == typeStorage {
				if err := walkStorage(id); err != nil {
					return err
				}
			}
		}
		return errFn()
	}
	if err := walkStorage(0); err != nil {
		return err
	}

	return result.ErrorOrNil()
}

func (c *Container) checkStreamChain(e *dirEntry) error {
	if uint64(e.streamLen) < uint64(c.miniCutoff) {
		count, err := c.chainLen(e.startSector, c.miniFAT.next)
		if err != nil {
			return err
		}
		want := miniSectorCount(int64(e.streamLen))
		if count != want {
			return errBadFormat("check", "stream %q has %d mini-sectors, expected %d", e.name, count, want)
		}
		return nil
	}
	count, err := c.chainLen(e.startSector, c.mainFAT.next)
	if err != nil {
		return err
	}
	want := mainSectorCount(int64(e.streamLen), c.version.SectorLen())
	if count != want {
		return errBadFormat("check", "stream %q has %d sectors, expected %d", e.name, count, want)
	}
	return nil
}

func (c *Container) chainLen(head uint32, next func(uint32) (uint32, error)) (int, error) {
	if head == endOfChain {
		return 0, nil
	}
	n := 0
	sn := head
	for sn != endOfChain {
		nx, err := next(sn)
		if err != nil {
			return 0, err
		}
		sn = nx
		n++
	}
	return n, nil
}
