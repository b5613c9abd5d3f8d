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

import "io"

// Stream is a cursor over one directory entry's byte content. It
// transparently dispatches between the main FAT-backed sector chain and
// the MiniFAT-backed mini-stream depending on the stream's current length
// relative to the container's mini-stream cutoff, migrating storage
// across that boundary as writes cross it.
//
// A Stream borrows its owning container: once the entry it addresses is
// removed through any handle, every operation on this cursor fails with
// KindStale rather than silently operating on a reused slot.
type Stream struct {
	c       *Container
	entryID uint32
	pos     int64
}

func (s *Stream) entry() (*dirEntry, error) {
	if s.c.isRemoved(s.entryID) {
		return nil, errStale("stream")
	}
	e, err := s.c.dir.get(s.entryID)
	if err != nil {
		return nil, err
	}
	if e.objType != typeStream {
		return nil, errWrongKind("stream", "entry is not a stream")
	}
	return e, nil
}

// Len returns the stream's current length in bytes.
func (s *Stream) Len() (int64, error) {
	e, err := s.entry()
	if err != nil {
		return 0, err
	}
	return int64(e.streamLen), nil
}

// Seek implements io.Seeker. Seeking past the end of the stream is legal;
// a subsequent Write there will grow the stream, a Read there returns EOF.
func (s *Stream) Seek(offset int64, whence int) (int64, error) {
	e, err := s.entry()
	if err != nil {
		return 0, err
	}
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = s.pos + offset
	case io.SeekEnd:
		newPos = int64(e.streamLen) + offset
	default:
		return 0, errInvalidArgument("seek", "invalid whence %d", whence)
	}
	if newPos < 0 {
		return 0, errInvalidArgument("seek", "negative resulting offset %d", newPos)
	}
	s.pos = newPos
	return s.pos, nil
}

// chainIOLoop walks a chain of fixed-size units starting from head,
// beginning at byte offset startPos, and runs ioFn over each contiguous
// run of buf that falls within a single unit.
func chainIOLoop(head uint32, startPos int64, buf []byte, unitSize int, next func(uint32) (uint32, error), ioFn func(unit uint32, offInUnit int, chunk []byte) error) error {
	if len(buf) == 0 {
		return nil
	}
	skip := startPos / int64(unitSize)
	offInUnit := int(startPos % int64(unitSize))
	sn := head
	for i := int64(0); i < skip; i++ {
		n, err := next(sn)
		if err != nil {
			return err
		}
		sn = n
	}
	remaining := buf
	for len(remaining) > 0 {
		if sn == endOfChain || !isRegular(sn) {
			return errBadFormat("stream", "chain ended before the declared stream length")
		}
		chunkLen := unitSize - offInUnit
		if chunkLen > len(remaining) {
			chunkLen = len(remaining)
		}
		if err := ioFn(sn, offInUnit, remaining[:chunkLen]); err != nil {
			return err
		}
		remaining = remaining[chunkLen:]
		offInUnit = 0
		if len(remaining) > 0 {
			n, err := next(sn)
			if err != nil {
				return err
			}
			sn = n
		}
	}
	return nil
}

func (s *Stream) miniIOFn(read bool) func(unit uint32, offInUnit int, chunk []byte) error {
	return func(unit uint32, offInUnit int, chunk []byte) error {
		phys, off, err := s.c.miniStream.locate(unit)
		if err != nil {
			return err
		}
		if read {
			return s.c.grid.readAt(phys, off+offInUnit, chunk)
		}
		return s.c.grid.writeAt(phys, off+offInUnit, chunk)
	}
}

func (s *Stream) mainIOFn(read bool) func(unit uint32, offInUnit int, chunk []byte) error {
	return func(unit uint32, offInUnit int, chunk []byte) error {
		if read {
			return s.c.grid.readAt(unit, offInUnit, chunk)
		}
		return s.c.grid.writeAt(unit, offInUnit, chunk)
	}
}

func (s *Stream) isMini(e *dirEntry) bool {
	return e.streamLen < uint64(s.c.miniCutoff)
}

// Read implements io.Reader.
func (s *Stream) Read(p []byte) (int, error) {
	e, err := s.entry()
	if err != nil {
		return 0, err
	}
	if s.pos >= int64(e.streamLen) {
		return 0, io.EOF
	}
	n := len(p)
	if remaining := int64(e.streamLen) - s.pos; int64(n) > remaining {
		n = int(remaining)
	}
	buf := p[:n]
	if s.isMini(e) {
		err = chainIOLoop(e.startSector, s.pos, buf, MiniSectorLen, s.c.miniFAT.next, s.miniIOFn(true))
	} else {
		err = chainIOLoop(e.startSector, s.pos, buf, s.c.version.SectorLen(), s.c.mainFAT.next, s.mainIOFn(true))
	}
	if err != nil {
		return 0, err
	}
	s.pos += int64(n)
	return n, nil
}

// Write implements io.Writer, growing the stream (and migrating between
// the mini-stream and the main FAT as the cutoff is crossed) as needed.
func (s *Stream) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	e, err := s.entry()
	if err != nil {
		return 0, err
	}
	end := s.pos + int64(len(p))
	if end > int64(e.streamLen) {
		if err := s.setLen(e, end); err != nil {
			return 0, err
		}
	}
	if s.isMini(e) {
		err = chainIOLoop(e.startSector, s.pos, p, MiniSectorLen, s.c.miniFAT.next, s.miniIOFn(false))
	} else {
		err = chainIOLoop(e.startSector, s.pos, p, s.c.version.SectorLen(), s.c.mainFAT.next, s.mainIOFn(false))
	}
	if err != nil {
		return 0, err
	}
	s.pos += int64(len(p))
	return len(p), nil
}

// SetLen truncates or grows the stream to exactly newLen bytes, zero-
// filling any newly exposed bytes. It does not move the cursor.
func (s *Stream) SetLen(newLen int64) error {
	if newLen < 0 {
		return errInvalidArgument("set-len", "negative length %d", newLen)
	}
	e, err := s.entry()
	if err != nil {
		return err
	}
	oldLen := int64(e.streamLen)
	if err := s.setLen(e, newLen); err != nil {
		return err
	}
	if newLen <= oldLen {
		return nil
	}
	zeros := make([]byte, newLen-oldLen)
	if s.isMini(e) {
		return chainIOLoop(e.startSector, oldLen, zeros, MiniSectorLen, s.c.miniFAT.next, s.miniIOFn(false))
	}
	return chainIOLoop(e.startSector, oldLen, zeros, s.c.version.SectorLen(), s.c.mainFAT.next, s.mainIOFn(false))
}

func miniSectorCount(length int64) int {
	return int((length + MiniSectorLen - 1) / MiniSectorLen)
}

func mainSectorCount(length int64, sectorLen int) int {
	return int((length + int64(sectorLen) - 1) / int64(sectorLen))
}

func lastInChain(head uint32, next func(uint32) (uint32, error)) (uint32, error) {
	if head == endOfChain {
		return head, nil
	}
	sn := head
	for {
		n, err := next(sn)
		if err != nil {
			return 0, err
		}
		if n == endOfChain {
			return sn, nil
		}
		sn = n
	}
}

func nthInChain(head uint32, n int, next func(uint32) (uint32, error)) (uint32, error) {
	sn := head
	for i := 0; i < n; i++ {
		nx, err := next(sn)
		if err != nil {
			return 0, err
		}
		sn = nx
	}
	return sn, nil
}

func (s *Stream) setLen(e *dirEntry, newLen int64) error {
	oldLen := int64(e.streamLen)
	cutoff := int64(s.c.miniCutoff)
	wasMini := oldLen < cutoff
	willBeMini := newLen < cutoff

	var err error
	switch {
	case wasMini && willBeMini:
		err = s.resizeMini(e, newLen)
	case !wasMini && !willBeMini:
		err = s.resizeMain(e, newLen)
	case wasMini && !willBeMini:
		err = s.migrate(e, newLen, true)
	default:
		err = s.migrate(e, newLen, false)
	}
	if err != nil {
		return err
	}
	e.streamLen = uint64(newLen)
	s.c.dir.markDirty(s.entryID)
	return nil
}

func (s *Stream) resizeMini(e *dirEntry, newLen int64) error {
	oldCount := miniSectorCount(int64(e.streamLen))
	newCount := miniSectorCount(newLen)
	switch {
	case newCount > oldCount:
		add := newCount - oldCount
		if oldCount == 0 {
			chain, err := s.c.miniFAT.allocateChain(add)
			if err != nil {
				return err
			}
			e.startSector = chain[0]
		} else {
			tail, err := lastInChain(e.startSector, s.c.miniFAT.next)
			if err != nil {
				return err
			}
			if _, err := s.c.miniFAT.extendChain(tail, add); err != nil {
				return err
			}
		}
	case newCount < oldCount:
		if newCount == 0 {
			if err := s.c.miniFAT.freeChain(e.startSector); err != nil {
				return err
			}
			e.startSector = endOfChain
		} else {
			tail, err := nthInChain(e.startSector, newCount-1, s.c.miniFAT.next)
			if err != nil {
				return err
			}
			orphan, err := s.c.miniFAT.truncateAfter(tail)
			if err != nil {
				return err
			}
			if err := s.c.miniFAT.freeChain(orphan); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Stream) resizeMain(e *dirEntry, newLen int64) error {
	sectorLen := s.c.version.SectorLen()
	oldCount := mainSectorCount(int64(e.streamLen), sectorLen)
	newCount := mainSectorCount(newLen, sectorLen)
	switch {
	case newCount > oldCount:
		add := newCount - oldCount
		if oldCount == 0 {
			chain, err := s.c.mainFAT.allocateChain(add)
			if err != nil {
				return err
			}
			e.startSector = chain[0]
		} else {
			tail, err := lastInChain(e.startSector, s.c.mainFAT.next)
			if err != nil {
				return err
			}
			if _, err := s.c.mainFAT.extendChain(tail, add); err != nil {
				return err
			}
		}
	case newCount < oldCount:
		if newCount == 0 {
			if err := s.c.mainFAT.freeChain(e.startSector); err != nil {
				return err
			}
			e.startSector = endOfChain
		} else {
			tail, err := nthInChain(e.startSector, newCount-1, s.c.mainFAT.next)
			if err != nil {
				return err
			}
			orphan, err := s.c.mainFAT.truncateAfter(tail)
			if err != nil {
				return err
			}
			if err := s.c.mainFAT.freeChain(orphan); err != nil {
				return err
			}
		}
	}
	return nil
}

// migrate moves a stream's bytes across the mini/main cutoff. fromMini
// selects the direction: true migrates an existing mini-stream chain into
// a freshly sized main-FAT chain, false the reverse.
func (s *Stream) migrate(e *dirEntry, newLen int64, fromMini bool) error {
	oldLen := int64(e.streamLen)
	keep := oldLen
	if newLen < keep {
		keep = newLen
	}
	buf := make([]byte, newLen)
	if keep > 0 {
		old := buf[:keep]
		var err error
		if fromMini {
			err = chainIOLoop(e.startSector, 0, old, MiniSectorLen, s.c.miniFAT.next, s.miniIOFn(true))
		} else {
			err = chainIOLoop(e.startSector, 0, old, s.c.version.SectorLen(), s.c.mainFAT.next, s.mainIOFn(true))
		}
		if err != nil {
			return err
		}
	}

	oldHead := e.startSector
	if fromMini {
		if oldLen > 0 {
			if err := s.c.miniFAT.freeChain(oldHead); err != nil {
				return err
			}
		}
		e.startSector = endOfChain
		e.streamLen = 0
		if newLen > 0 {
			if err := s.resizeMain(e, newLen); err != nil {
				return err
			}
			if err := chainIOLoop(e.startSector, 0, buf, s.c.version.SectorLen(), s.c.mainFAT.next, s.mainIOFn(false)); err != nil {
				return err
			}
		}
		return nil
	}

	if oldLen > 0 {
		if err := s.c.mainFAT.freeChain(oldHead); err != nil {
			return err
		}
	}
	e.startSector = endOfChain
	e.streamLen = 0
	if newLen > 0 {
		if err := s.resizeMini(e, newLen); err != nil {
			return err
		}
		if err := chainIOLoop(e.startSector, 0, buf, MiniSectorLen, s.c.miniFAT.next, s.miniIOFn(false)); err != nil {
			return err
		}
	}
	return nil
}
