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
	"io"
	"os"

	"github.com/xaionaro-go/bytesextra"
)

// Medium is the random-access byte capability the container core consumes.
// It is the only external collaborator the core depends on; logging, CLI
// drivers, and the choice of concrete backing store all live outside it.
type Medium interface {
	io.ReaderAt
	io.WriterAt
	// Len returns the current size of the medium, in bytes.
	Len() (int64, error)
	// Truncate grows or shrinks the medium to exactly size bytes. Growing
	// pads with zeroes.
	Truncate(size int64) error
}

// fileMedium adapts an *os.File (or anything with the same surface) to
// Medium.
type fileMedium struct {
	f *os.File
}

// NewFileMedium wraps an open file as a Medium. The caller retains ownership
// of f and is responsible for closing it.
func NewFileMedium(f *os.File) Medium {
	return &fileMedium{f: f}
}

func (m *fileMedium) ReadAt(p []byte, off int64) (int, error) {
	return m.f.ReadAt(p, off)
}

func (m *fileMedium) WriteAt(p []byte, off int64) (int, error) {
	return m.f.WriteAt(p, off)
}

func (m *fileMedium) Len() (int64, error) {
	info, err := m.f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (m *fileMedium) Truncate(size int64) error {
	return m.f.Truncate(size)
}

// memoryMedium is an in-memory Medium backed by a growable []byte. Random
// access is delegated to a bytesextra.ReadWriteSeeker; a fresh wrapper is
// built over the current buffer on every ReadAt and WriteAt, so it always
// sees the array Truncate last left in place.
type memoryMedium struct {
	buf []byte
}

// NewMemoryMedium creates an in-memory Medium. The initial contents are
// copied out of initial, so the caller's slice is never mutated.
func NewMemoryMedium(initial []byte) Medium {
	buf := make([]byte, len(initial))
	copy(buf, initial)
	return &memoryMedium{buf: buf}
}

func (m *memoryMedium) readWriteSeeker() io.ReadWriteSeeker {
	return bytesextra.NewReadWriteSeeker(m.buf)
}

func (m *memoryMedium) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(m.buf)) {
		return 0, io.EOF
	}
	rws := m.readWriteSeeker()
	if _, err := rws.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}
	return io.ReadFull(rws, p)
}

func (m *memoryMedium) WriteAt(p []byte, off int64) (int, error) {
	end := off + int64(len(p))
	if end > int64(len(m.buf)) {
		if err := m.Truncate(end); err != nil {
			return 0, err
		}
	}
	rws := m.readWriteSeeker()
	if _, err := rws.Seek(off, io.SeekStart); err != nil {
		return 0, err
	}
	n, err := rws.Write(p)
	return n, err
}

func (m *memoryMedium) Len() (int64, error) {
	return int64(len(m.buf)), nil
}

func (m *memoryMedium) Truncate(size int64) error {
	switch {
	case size == int64(len(m.buf)):
		return nil
	case size < int64(len(m.buf)):
		m.buf = m.buf[:size]
	default:
		grown := make([]byte, size)
		copy(grown, m.buf)
		m.buf = grown
	}
	return nil
}

// Bytes returns the current contents of an in-memory medium. It is meant for
// tests and for callers that created the medium with NewMemoryMedium and
// want to persist or inspect the final image.
func Bytes(m Medium) ([]byte, bool) {
	mm, ok := m.(*memoryMedium)
	if !ok {
		return nil, false
	}
	out := make([]byte, len(mm.buf))
	copy(out, mm.buf)
	return out, true
}
