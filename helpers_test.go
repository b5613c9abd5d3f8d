package cfb

import "testing"

// newTestGrid builds a sectorGrid over an in-memory medium, pre-sized for
// the version's header sector so offset math never undershoots sector 0.
func newTestGrid(t *testing.T, v Version) *sectorGrid {
	t.Helper()
	m := NewMemoryMedium(make([]byte, v.HeaderSectorLen()))
	return &sectorGrid{medium: m, version: v}
}

// newWiredFAT returns a fatTable and difatTable cross-wired the way
// Open/Create wire them, ready to allocate.
func newWiredFAT(t *testing.T, v Version) (*fatTable, *difatTable) {
	t.Helper()
	grid := newTestGrid(t, v)
	fat := newFATTable(v, grid, nil)
	dfat := newDifatTable(v, grid)
	dfat.fat = fat
	fat.dfat = dfat
	return fat, dfat
}

// newWiredMiniFAT returns a mainFAT and a miniFATTable backed by it.
func newWiredMiniFAT(t *testing.T, v Version) (*fatTable, *miniFATTable) {
	t.Helper()
	fat, _ := newWiredFAT(t, v)
	mini := newMiniFATTable(v, fat.grid, fat)
	return fat, mini
}

// newTestDirectory returns an empty directory (no root entry allocated
// yet) backed by a fresh wired FAT.
func newTestDirectory(t *testing.T, v Version) *directory {
	t.Helper()
	fat, _ := newWiredFAT(t, v)
	return newDirectory(v, fat.grid, fat)
}

// insertNamed allocates a fresh directory slot, names it, and inserts it
// into ownerID's sibling tree.
func insertNamed(t *testing.T, d *directory, ownerID uint32, name string) uint32 {
	t.Helper()
	id, err := d.allocateSlot()
	if err != nil {
		t.Fatalf("allocateSlot: %v", err)
	}
	e, err := d.get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	e.name = name
	e.objType = typeStream
	if err := d.insert(ownerID, id); err != nil {
		t.Fatalf("insert %q: %v", name, err)
	}
	return id
}

// checkRBInvariants walks ownerID's sibling tree and fails t if the
// red-black shape or the name ordering is violated anywhere in it.
func checkRBInvariants(t *testing.T, d *directory, ownerID uint32) {
	t.Helper()
	owner, err := d.get(ownerID)
	if err != nil {
		t.Fatalf("get owner: %v", err)
	}
	if owner.child != noStream {
		c, err := d.colorOf(owner.child)
		if err != nil {
			t.Fatalf("colorOf root: %v", err)
		}
		if c != colorBlack {
			t.Fatalf("sibling tree root is not black")
		}
	}

	var walk func(id uint32, min, max string, hasMin, hasMax bool) int
	walk = func(id uint32, min, max string, hasMin, hasMax bool) int {
		if id == noStream {
			return 1
		}
		e, err := d.get(id)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if hasMin && compareNames(min, e.name) >= 0 {
			t.Fatalf("sibling ordering violated: %q should sort after %q", e.name, min)
		}
		if hasMax && compareNames(e.name, max) >= 0 {
			t.Fatalf("sibling ordering violated: %q should sort before %q", e.name, max)
		}
		if e.color == colorRed {
			lc, _ := d.colorOf(e.left)
			rc, _ := d.colorOf(e.right)
			if lc == colorRed || rc == colorRed {
				t.Fatalf("two consecutive red nodes at %q", e.name)
			}
		}
		lh := walk(e.left, min, e.name, hasMin, true)
		rh := walk(e.right, e.name, max, true, hasMax)
		if lh != rh {
			t.Fatalf("unequal black-heights at %q: left=%d right=%d", e.name, lh, rh)
		}
		if e.color == colorBlack {
			return lh + 1
		}
		return lh
	}
	walk(owner.child, "", "", false, false)
}

// newTestContainer creates a brand-new, empty container over an in-memory
// medium.
func newTestContainer(t *testing.T, v Version) *Container {
	t.Helper()
	c, err := Create(NewMemoryMedium(nil), v)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return c
}
