package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrame_FirstEmptySlotTracksOccupancy(t *testing.T) {
	t.Parallel()

	f := newFrame(Page{})
	require.Equal(t, 0, f.firstEmptySlot())

	f.setSlotBytes(0, EncodeRecord("a"))
	require.Equal(t, 1, f.firstEmptySlot())

	f.setSlotBytes(2, EncodeRecord("c"))
	require.Equal(t, 1, f.firstEmptySlot())

	f.setSlotBytes(1, EncodeRecord("b"))
	require.Equal(t, 3, f.firstEmptySlot())
}

func TestFrame_SetSlotBytesToZeroClearsOccupancy(t *testing.T) {
	t.Parallel()

	f := newFrame(Page{})
	f.setSlotBytes(0, EncodeRecord("a"))
	require.Equal(t, 1, f.firstEmptySlot())

	f.setSlotBytes(0, EncodeRecord(""))
	require.Equal(t, 0, f.firstEmptySlot())
}

func TestFrame_FirstEmptySlotReturnsMinusOneWhenFull(t *testing.T) {
	t.Parallel()

	f := newFrame(Page{})
	for s := 0; s < RecordsPerPage; s++ {
		f.setSlotBytes(s, EncodeRecord("x"))
	}
	require.Equal(t, -1, f.firstEmptySlot())
}

func TestNewFrame_SeedsOccupancyFromExistingData(t *testing.T) {
	t.Parallel()

	var data Page
	copy(data[2*RecordSize:3*RecordSize], EncodeRecord("preloaded")[:])

	f := newFrame(data)
	require.Equal(t, 0, f.firstEmptySlot())
	f.setSlotBytes(0, EncodeRecord("a"))
	f.setSlotBytes(1, EncodeRecord("b"))
	require.Equal(t, 3, f.firstEmptySlot())
}
