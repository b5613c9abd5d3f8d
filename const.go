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

// Reserved sector-index encodings (MS-CFB §2.1).
const (
	maxRegSect uint32 = 0xFFFFFFFA // largest real sector index
	difSect    uint32 = 0xFFFFFFFC // marks a DIFAT sector in the FAT
	fatSect    uint32 = 0xFFFFFFFD // marks a FAT sector in the FAT
	endOfChain uint32 = 0xFFFFFFFE // chain terminator
	freeSect   uint32 = 0xFFFFFFFF // unallocated sector

	// noStream is the directory-entry sibling/child absence sentinel. It
	// has the same bit pattern as freeSect but a distinct meaning.
	noStream uint32 = 0xFFFFFFFF
)

// isRegular reports whether sn addresses a real sector rather than one of
// the reserved encodings above.
func isRegular(sn uint32) bool {
	return sn <= maxRegSect
}
