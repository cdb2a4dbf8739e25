package store

import "github.com/dbcourse/recordstore/pkg/bitwise"

// Frame is the buffer pool's in-memory mirror of one on-disk page.
type Frame struct {
	data          Page
	dirty         bool
	pinCount      int
	transactional bool

	// occupied is a bitmap hint: bit k is set when slot k currently
	// holds a non-empty record. It is maintained incrementally and
	// only ever used to skip ahead during a linear "first empty slot"
	// scan - the all-zero convention on the slot bytes themselves
	// remains the source of truth (see isEmptySlot).
	occupied uint64
}

func newFrame(data Page) *Frame {
	f := &Frame{data: data}
	f.occupied = occupancyBitmap(data)
	return f
}

// occupancyBitmap scans a page once and returns a bit-per-slot map of
// which slots are non-empty.
func occupancyBitmap(data Page) uint64 {
	var bm uint64
	for s := 0; s < RecordsPerPage; s++ {
		if !isEmptySlot(data, s) {
			bm = bitwise.Set(bm, s)
		}
	}
	return bm
}

func (f *Frame) markOccupied(slot int) {
	f.occupied = bitwise.Set(f.occupied, slot)
}

// firstEmptySlot returns the lowest-indexed empty slot in the frame,
// or -1 if the page is full. It trusts the occupancy bitmap rather
// than re-scanning slot bytes, which is the whole point of keeping it.
func (f *Frame) firstEmptySlot() int {
	for s := 0; s < RecordsPerPage; s++ {
		if !bitwise.IsSet(f.occupied, s) {
			return s
		}
	}
	return -1
}

// slotBytes returns the RecordSize window for slot s.
func (f *Frame) slotBytes(slot int) [RecordSize]byte {
	return slotBytesFromPage(f.data, slot)
}

// setSlotBytes overwrites slot s with buf and updates the occupancy bitmap.
func (f *Frame) setSlotBytes(slot int, buf [RecordSize]byte) {
	copy(f.data[slot*RecordSize:(slot+1)*RecordSize], buf[:])
	if isAllZero(buf[:]) {
		f.occupied = bitwise.Unset(f.occupied, slot)
	} else {
		f.markOccupied(slot)
	}
}
